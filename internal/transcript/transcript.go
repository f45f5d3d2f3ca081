// Package transcript persists the in-progress evaluation transcript.
//
// Load never fails: unreadable or unsupported blobs are treated as absent.
// Save skips states that carry nothing worth resuming.
package transcript

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/carein/triageflow/internal/models"
	"github.com/carein/triageflow/internal/store"
)

// Store reads and writes the transcript blob in a key/value store.
type Store struct {
	kv  store.KV
	key string
}

// NewStore creates a transcript Store under store.KeyTranscript.
func NewStore(kv store.KV) *Store {
	return &Store{kv: kv, key: store.KeyTranscript}
}

// Load returns the stored transcript, or nil when absent, unreadable or of an
// unsupported version. Stored questions are re-normalized.
func (s *Store) Load(ctx context.Context) *models.StoredFlowState {
	raw, err := store.GetOptional(ctx, s.kv, s.key)
	if err != nil {
		slog.Warn("TranscriptStore Load failed", "error", err)
		return nil
	}
	if raw == "" {
		return nil
	}

	var state models.StoredFlowState
	if err := json.Unmarshal([]byte(raw), &state); err != nil {
		slog.Debug("TranscriptStore Load ignored malformed payload", "error", err)
		return nil
	}
	if !state.SupportedVersion() {
		slog.Debug("TranscriptStore Load ignored unsupported version", "version", state.Version)
		return nil
	}

	questions := make([]models.Question, 0, len(state.QuestionHistory))
	for _, q := range state.QuestionHistory {
		questions = append(questions, q.Normalized())
	}
	state.QuestionHistory = questions

	slog.Debug("TranscriptStore Load succeeded",
		"version", state.Version,
		"has_internal_id", state.SessionInternalID != "",
		"has_public_id", state.SessionPublicID != "",
		"is_complete", state.IsComplete,
		"answers", len(state.Answers),
		"messages", len(state.Messages),
		"questions", len(state.QuestionHistory))
	return &state
}

// Save writes state unless it is empty. It reports whether a write happened.
func (s *Store) Save(ctx context.Context, state models.StoredFlowState) (bool, error) {
	if !state.HasMeaningfulState() {
		slog.Debug("TranscriptStore Save skipped (empty state)")
		return false, nil
	}
	if state.Version == 0 {
		state.Version = models.StoredFlowVersion
	}
	data, err := json.Marshal(state)
	if err != nil {
		return false, fmt.Errorf("failed to encode transcript: %w", err)
	}
	if err := s.kv.Set(ctx, s.key, string(data)); err != nil {
		slog.Warn("TranscriptStore Save failed", "error", err)
		return false, err
	}
	slog.Debug("TranscriptStore Save succeeded",
		"internal_id", state.SessionInternalID,
		"public_id", state.SessionPublicID,
		"is_complete", state.IsComplete,
		"answers", len(state.Answers),
		"messages", len(state.Messages))
	return true, nil
}

// Clear deletes the stored transcript. reason is logged only.
func (s *Store) Clear(ctx context.Context, reason string) error {
	slog.Info("TranscriptStore Clear", "reason", reason)
	return s.kv.Delete(ctx, s.key)
}

// BackfillOwner records ownerID on a stored transcript that has none, leaving
// every other field untouched.
func (s *Store) BackfillOwner(ctx context.Context, ownerID string) error {
	raw, err := store.GetOptional(ctx, s.kv, s.key)
	if err != nil || raw == "" {
		return err
	}
	var blob map[string]json.RawMessage
	if err := json.Unmarshal([]byte(raw), &blob); err != nil {
		return nil
	}
	if existing, ok := blob["ownerId"]; ok && string(existing) != "null" && string(existing) != `""` {
		return nil
	}
	encoded, err := json.Marshal(ownerID)
	if err != nil {
		return err
	}
	blob["ownerId"] = encoded
	data, err := json.Marshal(blob)
	if err != nil {
		return fmt.Errorf("failed to encode transcript: %w", err)
	}
	slog.Debug("TranscriptStore BackfillOwner", "owner_id", ownerID)
	return s.kv.Set(ctx, s.key, string(data))
}
