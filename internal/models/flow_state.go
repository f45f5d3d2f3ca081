package models

// Persisted transcript versions. Only these are trusted on load.
const (
	StoredFlowVersionLegacy = 3
	StoredFlowVersion       = 4
)

// StoredFlowState is the persisted local transcript blob.
type StoredFlowState struct {
	Version           int           `json:"version"`
	Answers           []Answer      `json:"answers"`
	Messages          []ChatMessage `json:"messages"`
	QuestionHistory   []Question    `json:"questionHistory"`
	IsComplete        bool          `json:"isComplete"`
	SessionID         FlexString    `json:"sessionId,omitempty"`
	SessionInternalID FlexString    `json:"sessionInternalId,omitempty"`
	SessionPublicID   FlexString    `json:"sessionPublicId,omitempty"`
	CompletionMessage string        `json:"completionMessage,omitempty"`
	OwnerID           FlexString    `json:"ownerId,omitempty"`
}

// SupportedVersion reports whether the blob version can be trusted.
func (s StoredFlowState) SupportedVersion() bool {
	return s.Version == StoredFlowVersionLegacy || s.Version == StoredFlowVersion
}

// HasMeaningfulState reports whether the state carries anything worth persisting.
func (s StoredFlowState) HasMeaningfulState() bool {
	return s.SessionID != "" ||
		s.SessionInternalID != "" ||
		s.SessionPublicID != "" ||
		s.IsComplete ||
		len(s.Answers) > 0 ||
		len(s.QuestionHistory) > 0 ||
		len(s.Messages) > 0
}

// DefaultCompletionPrompt is shown when the server ends an evaluation without a message.
const DefaultCompletionPrompt = "Merci. Je prepare une orientation claire et rassurante."
