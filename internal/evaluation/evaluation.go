// Package evaluation is the gateway to the remote evaluation API.
//
// Every mutating call carries an Idempotency-Key header; a fresh key is
// generated when the caller does not supply one. Responses are normalized into
// Response so that callers never read the wire format directly.
package evaluation

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/tidwall/gjson"

	"github.com/carein/triageflow/internal/client"
	"github.com/carein/triageflow/internal/models"
	"github.com/carein/triageflow/internal/session"
	"github.com/carein/triageflow/internal/util"
)

// IdempotencyHeader is the header carrying the idempotency key.
const IdempotencyHeader = "Idempotency-Key"

// StatusCompleted is the session status reported once an evaluation is done.
const StatusCompleted = "completed"

// ErrMissingSessionID is returned when a call requiring a session id gets none.
var ErrMissingSessionID = errors.New("evaluation: session id is required")

// StartRequest is the body of POST /evaluations/start.
type StartRequest struct {
	Type         string                 `json:"type"`
	BlocKeys     []string               `json:"bloc_keys"`
	Context      map[string]interface{} `json:"context,omitempty"`
	Ref          string                 `json:"ref,omitempty"`
	ReferralCode string                 `json:"referral_code,omitempty"`
}

// AdvanceRequest is the body of POST /evaluations/{id}/advance.
type AdvanceRequest struct {
	QuestionID string             `json:"question_id"`
	Value      models.AnswerValue `json:"value"`
	FileIDs    []string           `json:"file_ids,omitempty"`
}

// Response is a normalized evaluation payload.
type Response struct {
	Raw           []byte
	IDs           session.IDs
	SessionStatus string
	Question      *models.Question
	IsComplete    bool
	Message       string
	HasMessage    bool
	Insight       gjson.Result
}

// Done reports whether the payload marks the evaluation as finished.
func (r *Response) Done() bool {
	return r.IsComplete || r.SessionStatus == StatusCompleted
}

// MessageOr returns the server message, or fallback when none was sent.
func (r *Response) MessageOr(fallback string) string {
	if r.HasMessage {
		return r.Message
	}
	return fallback
}

// ParseResponse normalizes a raw evaluation payload.
func ParseResponse(raw []byte) *Response {
	resp := &Response{Raw: raw}
	if !gjson.ValidBytes(raw) {
		return resp
	}
	root := gjson.ParseBytes(raw)
	resp.IDs = session.ResolveResult(root)
	resp.SessionStatus = root.Get("session.status").String()
	resp.IsComplete = root.Get("isComplete").Type == gjson.True
	if message := root.Get("message"); message.Exists() && message.Type != gjson.Null {
		resp.Message = message.String()
		resp.HasMessage = true
	}
	resp.Insight = root.Get("insight")
	for _, path := range []string{"question", "currentQuestion", "session.current_question", "session.currentQuestion"} {
		candidate := root.Get(path)
		if !candidate.Exists() || candidate.Type == gjson.Null {
			continue
		}
		if q, ok := models.NormalizeQuestion(candidate); ok {
			resp.Question = &q
		}
		break
	}
	return resp
}

// UploadResult is the response of POST /uploads.
type UploadResult struct {
	FileID string
	Raw    []byte
}

// Gateway wraps a client with the evaluation endpoints.
type Gateway struct {
	client *client.Client
}

// NewGateway creates a Gateway.
func NewGateway(c *client.Client) *Gateway {
	return &Gateway{client: c}
}

func withIdempotency(key string) http.Header {
	if key == "" {
		key = util.NewIdempotencyKey()
	}
	h := http.Header{}
	h.Set(IdempotencyHeader, key)
	return h
}

func sessionPath(id, suffix string) string {
	return "/evaluations/" + url.PathEscape(id) + suffix
}

func (g *Gateway) call(ctx context.Context, req client.Request) (*Response, error) {
	resp, err := g.client.Do(ctx, req)
	if err != nil {
		return nil, err
	}
	return ParseResponse(resp.Body), nil
}

// StartEvaluation starts a new evaluation. A referral conflict is returned as
// *ReferralConflict.
func (g *Gateway) StartEvaluation(ctx context.Context, req StartRequest, idempotencyKey string) (*Response, error) {
	if req.BlocKeys == nil {
		req.BlocKeys = []string{}
	}
	slog.Debug("Gateway StartEvaluation", "type", req.Type, "bloc_keys", req.BlocKeys, "has_context", req.Context != nil, "has_referral", req.ReferralCode != "")
	resp, err := g.call(ctx, client.Request{
		Method: http.MethodPost,
		Path:   "/evaluations/start",
		Body:   req,
		Header: withIdempotency(idempotencyKey),
	})
	if err != nil {
		if conflict := ExtractReferralConflict(err); conflict != nil {
			return nil, conflict
		}
		return nil, err
	}
	return resp, nil
}

// AdvanceEvaluation submits an answer for the current question.
func (g *Gateway) AdvanceEvaluation(ctx context.Context, sessionID string, req AdvanceRequest, idempotencyKey string) (*Response, error) {
	if sessionID == "" {
		return nil, ErrMissingSessionID
	}
	path := sessionPath(sessionID, "/advance")
	slog.Debug("Gateway AdvanceEvaluation", "session_id", sessionID, "path", path, "question_id", req.QuestionID)
	return g.call(ctx, client.Request{
		Method: http.MethodPost,
		Path:   path,
		Body:   req,
		Header: withIdempotency(idempotencyKey),
	})
}

// GetEvaluationState fetches the current question or completion of a session.
// The idempotency header is only sent when a key is supplied.
func (g *Gateway) GetEvaluationState(ctx context.Context, sessionID, idempotencyKey string) (*Response, error) {
	if sessionID == "" {
		return nil, ErrMissingSessionID
	}
	path := sessionPath(sessionID, "/state")
	slog.Debug("Gateway GetEvaluationState", "session_id", sessionID, "path", path)
	req := client.Request{Path: path}
	if idempotencyKey != "" {
		req.Header = withIdempotency(idempotencyKey)
	}
	return g.call(ctx, req)
}

// GetCurrentEvaluation fetches the caller's active session, if any.
func (g *Gateway) GetCurrentEvaluation(ctx context.Context) (*Response, error) {
	slog.Debug("Gateway GetCurrentEvaluation")
	return g.call(ctx, client.Request{Path: "/evaluations/current"})
}

// CompleteEvaluation marks a session as finished.
func (g *Gateway) CompleteEvaluation(ctx context.Context, sessionID, idempotencyKey string) (*Response, error) {
	if sessionID == "" {
		return nil, ErrMissingSessionID
	}
	path := sessionPath(sessionID, "/complete")
	slog.Debug("Gateway CompleteEvaluation", "session_id", sessionID, "path", path)
	return g.call(ctx, client.Request{
		Method: http.MethodPost,
		Path:   path,
		Header: withIdempotency(idempotencyKey),
	})
}

// GetEvaluation fetches a session summary.
func (g *Gateway) GetEvaluation(ctx context.Context, sessionID string) (*Response, error) {
	if sessionID == "" {
		return nil, ErrMissingSessionID
	}
	path := sessionPath(sessionID, "")
	slog.Debug("Gateway GetEvaluation", "session_id", sessionID, "path", path)
	return g.call(ctx, client.Request{Path: path})
}

// ListAnswers fetches answers recorded for a session. Items without a question
// id are dropped.
func (g *Gateway) ListAnswers(ctx context.Context, sessionID string) ([]models.Answer, error) {
	if sessionID == "" {
		return nil, ErrMissingSessionID
	}
	resp, err := g.client.Do(ctx, client.Request{Path: "/answers/session/" + url.PathEscape(sessionID)})
	if err != nil {
		return nil, err
	}
	answers := ParseAnswers(resp.Body)
	slog.Debug("Gateway ListAnswers", "session_id", sessionID, "count", len(answers))
	return answers, nil
}

// ParseAnswers normalizes an answers listing payload.
func ParseAnswers(raw []byte) []models.Answer {
	if !gjson.ValidBytes(raw) {
		return nil
	}
	list := gjson.ParseBytes(raw)
	if !list.IsArray() {
		return nil
	}
	var answers []models.Answer
	list.ForEach(func(_, item gjson.Result) bool {
		if !item.IsObject() {
			return true
		}
		var rawID gjson.Result
		for _, path := range []string{"questionId", "question_id", "question"} {
			if r := item.Get(path); r.Exists() && r.Type != gjson.Null {
				rawID = r
				break
			}
		}
		if !truthy(rawID) {
			return true
		}
		questionID := rawID.String()
		value := models.AnswerValueFrom(item.Get("value"))
		display := ""
		if d := item.Get("display"); d.Type == gjson.String {
			display = d.Str
		}
		answers = append(answers, models.Answer{
			QuestionID:  questionID,
			QuestionKey: questionID,
			Value:       value,
			Display:     models.AnswerDisplay(value, display),
		})
		return true
	})
	return answers
}

// truthy reports whether r holds a usable, non-empty scalar.
func truthy(r gjson.Result) bool {
	switch r.Type {
	case gjson.String:
		return r.Str != ""
	case gjson.Number:
		return r.Num != 0
	case gjson.True, gjson.JSON:
		return true
	}
	return false
}

// UploadFile sends a file answer and returns its file id.
func (g *Gateway) UploadFile(ctx context.Context, filename string, content io.Reader) (*UploadResult, error) {
	resp, err := g.client.Upload(ctx, "/uploads", "file", filename, content)
	if err != nil {
		return nil, err
	}
	result := &UploadResult{Raw: resp.Body}
	root := gjson.ParseBytes(resp.Body)
	for _, path := range []string{"file_id", "upload.file_id"} {
		if id := root.Get(path).String(); id != "" {
			result.FileID = id
			break
		}
	}
	slog.Debug("Gateway UploadFile", "filename", filename, "file_id", result.FileID)
	return result, nil
}

// String implements fmt.Stringer for debug logs.
func (r *Response) String() string {
	q := ""
	if r.Question != nil {
		q = r.Question.ID
	}
	return fmt.Sprintf("evaluation response internal=%q public=%q status=%q question=%q complete=%v",
		r.IDs.Internal, r.IDs.Public, r.SessionStatus, q, r.IsComplete)
}
