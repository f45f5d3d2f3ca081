// Package session resolves evaluation session identifiers from server payloads
// and stored transcripts.
//
// Backends report the same session under several field names and in two id
// formats: an internal (often numeric) id used for advance/state calls, and a
// UUID public id used for answer listing and referral links. Resolve is the
// single place where those shapes are interpreted.
package session

import (
	"log/slog"
	"regexp"

	"github.com/tidwall/gjson"

	"github.com/carein/triageflow/internal/models"
)

var uuidPattern = regexp.MustCompile(`(?i)^[0-9a-f]{8}-[0-9a-f]{4}-[1-5][0-9a-f]{3}-[89ab][0-9a-f]{3}-[0-9a-f]{12}$`)

// IDs is a normalized pair of session identifiers. An empty string means absent.
type IDs struct {
	Internal string
	Public   string
}

// IsZero reports whether neither id is known.
func (ids IDs) IsZero() bool {
	return ids.Internal == "" && ids.Public == ""
}

// LooksLikeUUID reports whether value is a canonical v1-v5 UUID.
func LooksLikeUUID(value string) bool {
	return uuidPattern.MatchString(value)
}

var (
	internalPaths = []string{
		"session.evaluation_session_id",
		"session.evaluationSessionId",
		"evaluation_session_id",
		"evaluationSessionId",
		"session_id",
		"sessionId",
	}
	publicPaths = []string{
		"session.public_id",
		"session.publicId",
		"public_id",
		"publicId",
	}
)

// Resolve extracts session ids from a raw server payload. Non-object payloads
// resolve to zero IDs.
func Resolve(payload []byte) IDs {
	if !gjson.ValidBytes(payload) {
		return IDs{}
	}
	return ResolveResult(gjson.ParseBytes(payload))
}

// ResolveResult is Resolve over an already parsed payload.
func ResolveResult(root gjson.Result) IDs {
	if !root.IsObject() {
		return IDs{}
	}

	rawInternal := firstID(root, internalPaths...)
	rawSessionID := ""
	if session := root.Get("session"); session.IsObject() {
		rawSessionID = coerceID(session.Get("id"))
	}
	rawPublic := firstID(root, publicPaths...)

	internal := rawInternal
	if internal == "" {
		internal = rawSessionID
	}

	var ids IDs
	switch {
	case internal != "" && LooksLikeUUID(internal) && rawPublic == "":
		ids = IDs{Public: internal}
	case rawPublic != "" && LooksLikeUUID(rawPublic):
		ids = IDs{Internal: internal, Public: rawPublic}
	case rawSessionID != "" && LooksLikeUUID(rawSessionID):
		ids = IDs{Internal: rawInternal, Public: rawSessionID}
	default:
		ids = IDs{Internal: internal, Public: rawPublic}
	}

	slog.Debug("Session Resolve", "internal_id", ids.Internal, "public_id", ids.Public)
	return ids
}

// FromStored returns the ids of a persisted transcript. When neither explicit
// field is set, the legacy sessionId is classified by the UUID test.
func FromStored(stored *models.StoredFlowState) IDs {
	if stored == nil {
		return IDs{}
	}
	ids := IDs{Internal: stored.SessionInternalID.String(), Public: stored.SessionPublicID.String()}
	if !ids.IsZero() {
		return ids
	}
	return Classify(stored.SessionID.String())
}

// Classify places a single id in the public slot if it is a UUID, otherwise in
// the internal slot.
func Classify(id string) IDs {
	if id == "" {
		return IDs{}
	}
	if LooksLikeUUID(id) {
		return IDs{Public: id}
	}
	return IDs{Internal: id}
}

// PickInternal returns the id used for advance and state calls.
func PickInternal(ids IDs) string {
	return ids.Internal
}

// PickPublic returns the id used for answer listing: the public id, or the
// internal id when no public id is known.
func PickPublic(ids IDs) string {
	if ids.Public != "" {
		return ids.Public
	}
	return ids.Internal
}

func firstID(root gjson.Result, paths ...string) string {
	for _, path := range paths {
		if id := coerceID(root.Get(path)); id != "" {
			return id
		}
	}
	return ""
}

// coerceID converts a scalar JSON value to its string form. Null, missing and
// structured values yield "".
func coerceID(r gjson.Result) string {
	switch r.Type {
	case gjson.String:
		return r.Str
	case gjson.Number:
		return r.Raw
	case gjson.True, gjson.False:
		return r.Raw
	}
	return ""
}
