package models

import (
	"encoding/json"
	"testing"
)

func TestNormalizeQuestionType(t *testing.T) {
	tests := []struct {
		raw  string
		want QuestionType
	}{
		{"select", QuestionTypeSelectOne},
		{"single", QuestionTypeSelectOne},
		{"multi_select", QuestionTypeSelectMultiple},
		{"multiple", QuestionTypeSelectMultiple},
		{"yes_no", QuestionTypeBoolean},
		{" Boolean ", QuestionTypeBoolean},
		{"numeric", QuestionTypeNumber},
		{"image", QuestionTypeImage},
		{"valide", QuestionTypeValide},
		{"signature", QuestionTypeText},
		{"", QuestionTypeText},
	}

	for _, tt := range tests {
		if got := NormalizeQuestionType(tt.raw); got != tt.want {
			t.Errorf("NormalizeQuestionType(%q) = %q, want %q", tt.raw, got, tt.want)
		}
	}
}

func TestNormalizeQuestionJSON(t *testing.T) {
	q, ok := NormalizeQuestionJSON(json.RawMessage(`{"key":"age","label":"Quel est votre age?","type":"numeric","min":0,"max":120}`))
	if !ok {
		t.Fatal("expected question to normalize")
	}
	if q.ID != "age" || q.Key != "age" {
		t.Errorf("unexpected id/key: %q/%q", q.ID, q.Key)
	}
	if q.Text != "Quel est votre age?" {
		t.Errorf("expected text from label, got %q", q.Text)
	}
	if q.Type != QuestionTypeNumber {
		t.Errorf("expected number type, got %q", q.Type)
	}
	if q.Min == nil || *q.Min != 0 || q.Max == nil || *q.Max != 120 {
		t.Errorf("unexpected bounds: %v %v", q.Min, q.Max)
	}
	if q.Step != nil {
		t.Errorf("expected no step, got %v", *q.Step)
	}
}

func TestNormalizeQuestionNumericID(t *testing.T) {
	q, ok := NormalizeQuestionJSON(json.RawMessage(`{"id":7,"text":"Fumez-vous?"}`))
	if !ok {
		t.Fatal("expected question to normalize")
	}
	if q.ID != "7" || q.Key != "7" {
		t.Errorf("unexpected id/key: %q/%q", q.ID, q.Key)
	}
	if q.Type != QuestionTypeText {
		t.Errorf("expected text type for missing type, got %q", q.Type)
	}
}

func TestNormalizeQuestionRejectsNonObject(t *testing.T) {
	for _, raw := range []string{`null`, `"q1"`, `[]`, `{`} {
		if _, ok := NormalizeQuestionJSON(json.RawMessage(raw)); ok {
			t.Errorf("expected %s to be rejected", raw)
		}
	}
}

func TestNormalizeOptionsShapes(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want QuestionOptions
	}{
		{"strings", `{"options":["a","b"]}`, QuestionOptions{{"a", "a"}, {"b", "b"}}},
		{"objects", `{"options":[{"value":"y","label":"Oui"}]}`, QuestionOptions{{"y", "Oui"}}},
		{"encoded", `{"options":"[{\"value\":1,\"label\":\"Un\"}]"}`, QuestionOptions{{"1", "Un"}}},
		{"bad encoding", `{"options":"not json"}`, nil},
		{"missing", `{}`, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var q Question
			if err := json.Unmarshal([]byte(tt.raw), &q); err != nil {
				t.Fatalf("unmarshal failed: %v", err)
			}
			if len(q.Options) != len(tt.want) {
				t.Fatalf("got %d options, want %d", len(q.Options), len(tt.want))
			}
			for i := range tt.want {
				if q.Options[i] != tt.want[i] {
					t.Errorf("option %d = %+v, want %+v", i, q.Options[i], tt.want[i])
				}
			}
		})
	}
}

func TestQuestionOptionsLabel(t *testing.T) {
	opts := QuestionOptions{{Value: "1", Label: "Leger"}}
	if got := opts.Label("1"); got != "Leger" {
		t.Errorf("Label(1) = %q", got)
	}
	if got := opts.Label("2"); got != "2" {
		t.Errorf("Label(2) = %q, want fallback to value", got)
	}
}

func TestQuestionNormalized(t *testing.T) {
	q := Question{Key: "k", Type: "yes_no"}.Normalized()
	if q.ID != "k" || q.Key != "k" || q.Type != QuestionTypeBoolean {
		t.Errorf("unexpected normalized question: %+v", q)
	}
	if empty := (Question{}).Normalized(); empty.ID != "question" || empty.Key != "question" {
		t.Errorf("unexpected defaults: %+v", empty)
	}
}
