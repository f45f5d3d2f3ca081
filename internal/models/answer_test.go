package models

import (
	"encoding/json"
	"testing"
	"time"
)

func TestAnswerValueJSON(t *testing.T) {
	tests := []struct {
		raw      string
		wantList bool
		wantStr  string
	}{
		{`"yes"`, false, "yes"},
		{`["a","b"]`, true, "a, b"},
		{`[1,2]`, true, "1, 2"},
		{`null`, false, ""},
		{`42`, false, "42"},
		{`true`, false, "true"},
	}

	for _, tt := range tests {
		var v AnswerValue
		if err := json.Unmarshal([]byte(tt.raw), &v); err != nil {
			t.Fatalf("unmarshal %s: %v", tt.raw, err)
		}
		if v.IsList() != tt.wantList || v.String() != tt.wantStr {
			t.Errorf("%s decoded to list=%v %q", tt.raw, v.IsList(), v.String())
		}
	}
}

func TestAnswerValueMarshal(t *testing.T) {
	data, err := json.Marshal(ListValue(nil))
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(data) != "[]" {
		t.Errorf("empty list marshaled to %s", data)
	}

	data, err = json.Marshal(Answer{QuestionID: "q1", QuestionKey: "q1", Value: TextValue("yes"), Display: "Oui"})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	want := `{"questionId":"q1","questionKey":"q1","value":"yes","display":"Oui"}`
	if string(data) != want {
		t.Errorf("got %s, want %s", data, want)
	}
}

func TestAnswerDisplay(t *testing.T) {
	if got := AnswerDisplay(ListValue([]string{"a", "b"}), "  "); got != "a, b" {
		t.Errorf("got %q", got)
	}
	if got := AnswerDisplay(TextValue("y"), "Oui"); got != "Oui" {
		t.Errorf("got %q", got)
	}
}

func TestFlexStringUnmarshal(t *testing.T) {
	var v struct {
		ID FlexString `json:"id"`
	}
	for raw, want := range map[string]FlexString{`{"id":12}`: "12", `{"id":"ab"}`: "ab", `{"id":null}`: ""} {
		v.ID = "unset"
		if err := json.Unmarshal([]byte(raw), &v); err != nil {
			t.Fatalf("unmarshal %s: %v", raw, err)
		}
		if v.ID != want {
			t.Errorf("%s decoded to %q, want %q", raw, v.ID, want)
		}
	}
	if err := json.Unmarshal([]byte(`{"id":{"x":1}}`), &v); err == nil {
		t.Error("expected object id to fail")
	}
}

func TestBuildMessages(t *testing.T) {
	questions := []Question{{ID: "q1", Text: "Age?"}, {ID: "q2", Prompt: "Fumez-vous?"}}
	answers := []Answer{{QuestionID: "q1", Display: "42"}}
	at := time.UnixMilli(1700000000000)

	msgs := BuildMessages(questions, answers, false, "done", at)
	if len(msgs) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(msgs))
	}
	if msgs[0].Role != RoleBot || msgs[0].Text != "Age?" || *msgs[0].StepIndex != 0 {
		t.Errorf("unexpected first message: %+v", msgs[0])
	}
	if msgs[1].Role != RoleUser || msgs[1].Text != "42" {
		t.Errorf("unexpected second message: %+v", msgs[1])
	}
	if msgs[2].Text != "Fumez-vous?" || msgs[2].Timestamp != at.UnixMilli() {
		t.Errorf("unexpected third message: %+v", msgs[2])
	}

	completed := BuildMessages(nil, nil, true, "done", at)
	if len(completed) != 1 || completed[0].Text != "done" || completed[0].StepIndex != nil {
		t.Errorf("unexpected completion transcript: %+v", completed)
	}
}

func TestHasMeaningfulState(t *testing.T) {
	if (StoredFlowState{Version: StoredFlowVersion}).HasMeaningfulState() {
		t.Error("empty state should not be meaningful")
	}
	if !(StoredFlowState{SessionPublicID: "x"}).HasMeaningfulState() {
		t.Error("state with public id should be meaningful")
	}
	if !(StoredFlowState{IsComplete: true}).HasMeaningfulState() {
		t.Error("completed state should be meaningful")
	}
	if (StoredFlowState{Version: 2}).SupportedVersion() {
		t.Error("version 2 should not be supported")
	}
}
