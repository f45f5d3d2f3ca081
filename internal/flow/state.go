// Package flow reconciles a guided evaluation between the local transcript and
// the remote evaluation service.
package flow

import (
	"context"
	"io"

	"github.com/carein/triageflow/internal/evaluation"
	"github.com/carein/triageflow/internal/models"
	"github.com/carein/triageflow/internal/session"
)

// EvaluationTypeThematic requires at least one bloc key.
const EvaluationTypeThematic = "thematic"

// User-facing error messages.
const (
	MsgBlocKeysRequired   = "bloc_keys requis pour une evaluation thematique."
	MsgInvalidSession     = "Session invalide."
	MsgReloadSession      = "Session invalide. Merci de recharger la page."
	MsgFirstQuestionError = "Impossible de charger la premiere question."
	MsgNextQuestionError  = "Impossible de charger la prochaine question."
	MsgUploadIncomplete   = "Upload incomplet."
)

// Gateway is the subset of the evaluation service the engine talks to.
type Gateway interface {
	StartEvaluation(ctx context.Context, req evaluation.StartRequest, idempotencyKey string) (*evaluation.Response, error)
	AdvanceEvaluation(ctx context.Context, sessionID string, req evaluation.AdvanceRequest, idempotencyKey string) (*evaluation.Response, error)
	GetEvaluationState(ctx context.Context, sessionID, idempotencyKey string) (*evaluation.Response, error)
	GetCurrentEvaluation(ctx context.Context) (*evaluation.Response, error)
	ListAnswers(ctx context.Context, sessionID string) ([]models.Answer, error)
	UploadFile(ctx context.Context, filename string, content io.Reader) (*evaluation.UploadResult, error)
}

// TranscriptStore persists the local transcript blob.
type TranscriptStore interface {
	Load(ctx context.Context) *models.StoredFlowState
	Save(ctx context.Context, state models.StoredFlowState) (bool, error)
	Clear(ctx context.Context, reason string) error
	BackfillOwner(ctx context.Context, ownerID string) error
}

// IdentityResolver returns the signed-in identity id, or "" when unknown.
type IdentityResolver interface {
	CurrentIdentityID(ctx context.Context) (string, error)
}

// ReferralSource returns the pending referral code, or "".
type ReferralSource interface {
	ReferralCode(ctx context.Context) string
}

// Settings selects which evaluation a new session starts.
type Settings struct {
	Type     string
	BlocKeys []string
	Context  map[string]interface{}
}

// Phase is the coarse lifecycle of the engine.
type Phase string

const (
	PhaseIdle            Phase = "idle"
	PhaseHydrating       Phase = "hydrating"
	PhaseActive          Phase = "active"
	PhaseCompleted       Phase = "completed"
	PhaseReferralBlocked Phase = "referral_blocked"
)

// State is a snapshot of the reconciled flow.
type State struct {
	Answers           []models.Answer
	Messages          []models.ChatMessage
	QuestionHistory   []models.Question
	IsComplete        bool
	IsTyping          bool
	SessionIDs        session.IDs
	CompletionMessage string
	ErrorMessage      string
	Referral          *evaluation.ReferralConflict
	Hydrated          bool
	Mounted           bool

	// PriorAnswers holds answers recovered from the server for a session that
	// was resumed without a local transcript. They are shown as a recap only.
	PriorAnswers []models.Answer

	OwnerID string
}

// CurrentQuestion returns the question awaiting an answer, or nil.
func (s State) CurrentQuestion() *models.Question {
	if s.IsComplete || len(s.Answers) >= len(s.QuestionHistory) {
		return nil
	}
	q := s.QuestionHistory[len(s.Answers)]
	return &q
}

// Progress returns the completed fraction in [0, 1].
func (s State) Progress() float64 {
	if s.IsComplete {
		return 1
	}
	total := len(s.Answers)
	if s.CurrentQuestion() != nil {
		total++
	}
	if total == 0 {
		return 0
	}
	return float64(len(s.Answers)) / float64(total)
}

// EditableAnswerIndex returns the index of the answer the user may revise, or -1.
func (s State) EditableAnswerIndex() int {
	if s.IsTyping || len(s.Answers) == 0 {
		return -1
	}
	return len(s.Answers) - 1
}

// Phase derives the lifecycle phase from the snapshot.
func (s State) Phase() Phase {
	switch {
	case s.Referral != nil:
		return PhaseReferralBlocked
	case !s.Hydrated && !s.Mounted:
		return PhaseIdle
	case !s.Hydrated:
		return PhaseHydrating
	case s.IsComplete:
		return PhaseCompleted
	default:
		return PhaseActive
	}
}

// Stored converts the snapshot into its persisted form.
func (s State) Stored() models.StoredFlowState {
	return models.StoredFlowState{
		Version:           models.StoredFlowVersion,
		Answers:           append([]models.Answer{}, s.Answers...),
		Messages:          append([]models.ChatMessage{}, s.Messages...),
		QuestionHistory:   append([]models.Question{}, s.QuestionHistory...),
		IsComplete:        s.IsComplete,
		SessionID:         models.FlexString(s.SessionIDs.Internal),
		SessionInternalID: models.FlexString(s.SessionIDs.Internal),
		SessionPublicID:   models.FlexString(s.SessionIDs.Public),
		CompletionMessage: s.CompletionMessage,
		OwnerID:           models.FlexString(s.OwnerID),
	}
}

func (s State) clone() State {
	out := s
	out.Answers = append([]models.Answer(nil), s.Answers...)
	out.Messages = append([]models.ChatMessage(nil), s.Messages...)
	out.QuestionHistory = append([]models.Question(nil), s.QuestionHistory...)
	out.PriorAnswers = append([]models.Answer(nil), s.PriorAnswers...)
	if s.Referral != nil {
		ref := *s.Referral
		out.Referral = &ref
	}
	return out
}
