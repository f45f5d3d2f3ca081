package models

import (
	"time"

	"github.com/carein/triageflow/internal/util"
)

// Role identifies who authored a transcript message.
type Role string

const (
	RoleBot  Role = "bot"
	RoleUser Role = "user"
)

// ChatMessage is one bubble of the conversational transcript.
type ChatMessage struct {
	ID        string `json:"id"`
	Role      Role   `json:"role"`
	Text      string `json:"text"`
	StepIndex *int   `json:"stepIndex,omitempty"`
	Timestamp int64  `json:"timestamp"`
}

// NewChatMessage creates a message stamped with at. stepIndex < 0 means no step.
func NewChatMessage(role Role, text string, stepIndex int, at time.Time) ChatMessage {
	msg := ChatMessage{
		ID:        util.NewMessageID(string(role), at),
		Role:      role,
		Text:      text,
		Timestamp: at.UnixMilli(),
	}
	if stepIndex >= 0 {
		step := stepIndex
		msg.StepIndex = &step
	}
	return msg
}

// BuildMessages rebuilds a transcript purely from questions and answers: each
// question's bot message is followed by its answer's user message, and a final
// completion message is appended when complete.
func BuildMessages(questions []Question, answers []Answer, complete bool, completionText string, at time.Time) []ChatMessage {
	result := make([]ChatMessage, 0, len(questions)+len(answers)+1)
	for i, q := range questions {
		result = append(result, NewChatMessage(RoleBot, q.DisplayText(), i, at))
		if i < len(answers) {
			result = append(result, NewChatMessage(RoleUser, answers[i].Display, i, at))
		}
	}
	if complete {
		result = append(result, NewChatMessage(RoleBot, completionText, -1, at))
	}
	return result
}
