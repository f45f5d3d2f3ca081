package flow

import (
	"testing"

	"github.com/carein/triageflow/internal/evaluation"
	"github.com/carein/triageflow/internal/models"
	"github.com/carein/triageflow/internal/session"
)

func TestStateDerivedValues(t *testing.T) {
	q := []models.Question{{ID: "q1"}, {ID: "q2"}}
	a := []models.Answer{{QuestionID: "q1", Display: "x"}}

	s := State{QuestionHistory: q, Answers: a, Hydrated: true, Mounted: true}
	if cur := s.CurrentQuestion(); cur == nil || cur.ID != "q2" {
		t.Fatalf("expected current question q2, got %+v", cur)
	}
	if got := s.Progress(); got != 0.5 {
		t.Errorf("expected progress 0.5, got %v", got)
	}
	if got := s.EditableAnswerIndex(); got != 0 {
		t.Errorf("expected editable index 0, got %d", got)
	}
	if got := s.Phase(); got != PhaseActive {
		t.Errorf("expected active phase, got %s", got)
	}

	s.IsTyping = true
	if got := s.EditableAnswerIndex(); got != -1 {
		t.Errorf("expected no editable answer while typing, got %d", got)
	}

	s.IsComplete = true
	if s.CurrentQuestion() != nil {
		t.Error("completed flow should have no current question")
	}
	if s.Progress() != 1 {
		t.Errorf("expected progress 1 when complete, got %v", s.Progress())
	}
}

func TestStatePhase(t *testing.T) {
	tests := []struct {
		name  string
		state State
		want  Phase
	}{
		{"idle", State{}, PhaseIdle},
		{"hydrating", State{Mounted: true}, PhaseHydrating},
		{"active", State{Mounted: true, Hydrated: true}, PhaseActive},
		{"completed", State{Mounted: true, Hydrated: true, IsComplete: true}, PhaseCompleted},
		{"referral", State{Mounted: true, Hydrated: true, Referral: &evaluation.ReferralConflict{}}, PhaseReferralBlocked},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.state.Phase(); got != tt.want {
				t.Errorf("Phase() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestStateStored(t *testing.T) {
	s := State{SessionIDs: session.IDs{Internal: "42", Public: "p"}, OwnerID: "o", CompletionMessage: "fin"}
	stored := s.Stored()
	if stored.Version != models.StoredFlowVersion {
		t.Errorf("expected version %d, got %d", models.StoredFlowVersion, stored.Version)
	}
	if stored.SessionID != "42" || stored.SessionInternalID != "42" || stored.SessionPublicID != "p" {
		t.Errorf("unexpected ids: %+v", stored)
	}
	if stored.Answers == nil || stored.Messages == nil || stored.QuestionHistory == nil {
		t.Error("stored slices must be non-nil so they encode as arrays")
	}
	if stored.OwnerID != "o" {
		t.Errorf("expected owner o, got %s", stored.OwnerID)
	}
}
