package evaluation

import (
	"errors"
	"fmt"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/carein/triageflow/internal/client"
)

// ReferralCode classifies why a referral link cannot start a fresh evaluation.
type ReferralCode string

const (
	ReferralAlreadyCompleted  ReferralCode = "ALREADY_COMPLETED"
	ReferralSessionInProgress ReferralCode = "SESSION_IN_PROGRESS"
)

// ReferralConflict is returned by StartEvaluation when the referral link was
// already used or has an evaluation in progress. It is routable, not fatal.
type ReferralConflict struct {
	Code        ReferralCode
	RedirectURL string
	SessionID   string
	Message     string
	Status      int
}

func (e *ReferralConflict) Error() string {
	if e.SessionID != "" {
		return fmt.Sprintf("referral conflict %s (session %s)", e.Code, e.SessionID)
	}
	return fmt.Sprintf("referral conflict %s", e.Code)
}

// Resumable reports whether the conflict carries a session the user can resume.
func (e *ReferralConflict) Resumable() bool {
	return e.Code == ReferralSessionInProgress && e.SessionID != ""
}

// Description is the user-facing explanation of the conflict.
func (e *ReferralConflict) Description() string {
	if e.Message != "" {
		return e.Message
	}
	if e.Code == ReferralAlreadyCompleted {
		return "Ce lien d'invitation a deja ete utilise sur cet appareil."
	}
	return "Une evaluation est deja en cours pour ce lien."
}

// Title is the heading shown above the description.
func (e *ReferralConflict) Title() string {
	if e.Code == ReferralAlreadyCompleted {
		return "Lien deja utilise"
	}
	return "Evaluation en cours"
}

// ExtractReferralConflict inspects an API error body for a referral conflict.
// It returns nil for any other error.
func ExtractReferralConflict(err error) *ReferralConflict {
	var conflict *ReferralConflict
	if errors.As(err, &conflict) {
		return conflict
	}
	apiErr, ok := client.AsAPIError(err)
	if !ok {
		return nil
	}
	data := apiErr.Data()
	if !data.IsObject() {
		return nil
	}

	var rawCode gjson.Result
	for _, path := range []string{"error_code", "errorCode", "code", "status_code", "statusCode"} {
		if r := data.Get(path); r.Exists() && r.Type != gjson.Null {
			rawCode = r
			break
		}
	}
	if rawCode.Type != gjson.String {
		return nil
	}
	code := ReferralCode(strings.ToUpper(strings.TrimSpace(rawCode.Str)))
	if code != ReferralAlreadyCompleted && code != ReferralSessionInProgress {
		return nil
	}

	conflict = &ReferralConflict{Code: code, Status: apiErr.Status}
	for _, path := range []string{"redirect_url", "redirectUrl"} {
		if r := data.Get(path); r.Type == gjson.String {
			conflict.RedirectURL = r.Str
			break
		}
	}
	for _, path := range []string{"session_id", "sessionId", "session"} {
		if r := data.Get(path); r.Exists() && r.Type != gjson.Null {
			conflict.SessionID = r.String()
			break
		}
	}
	if r := data.Get("message"); r.Type == gjson.String {
		conflict.Message = r.Str
	}
	return conflict
}
