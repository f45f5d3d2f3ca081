package evaluation

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carein/triageflow/internal/client"
	"github.com/carein/triageflow/internal/models"
)

type recorded struct {
	method string
	path   string
	header http.Header
	body   string
}

func newGateway(t *testing.T, status int, body string) (*Gateway, *[]recorded) {
	t.Helper()
	var calls []recorded
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		calls = append(calls, recorded{method: r.Method, path: r.URL.EscapedPath(), header: r.Header.Clone(), body: string(b)})
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		w.Write([]byte(body))
	}))
	t.Cleanup(server.Close)
	return NewGateway(client.New(client.WithBaseURL(server.URL))), &calls
}

func TestStartEvaluation(t *testing.T) {
	g, calls := newGateway(t, http.StatusOK, `{"session":{"id":"42"},"question":{"id":"q1","text":"Quel est votre age?","type":"number"}}`)

	resp, err := g.StartEvaluation(context.Background(), StartRequest{Type: "complete"}, "")
	require.NoError(t, err)

	require.Len(t, *calls, 1)
	call := (*calls)[0]
	assert.Equal(t, http.MethodPost, call.method)
	assert.Equal(t, "/evaluations/start", call.path)
	assert.NotEmpty(t, call.header.Get(IdempotencyHeader))
	assert.JSONEq(t, `{"type":"complete","bloc_keys":[]}`, call.body)

	assert.Equal(t, "42", resp.IDs.Internal)
	require.NotNil(t, resp.Question)
	assert.Equal(t, "q1", resp.Question.ID)
	assert.Equal(t, models.QuestionTypeNumber, resp.Question.Type)
	assert.False(t, resp.Done())
}

func TestStartEvaluationFreshKeyPerCall(t *testing.T) {
	g, calls := newGateway(t, http.StatusOK, `{"session":{"id":1}}`)
	ctx := context.Background()
	_, err := g.StartEvaluation(ctx, StartRequest{Type: "complete"}, "")
	require.NoError(t, err)
	_, err = g.StartEvaluation(ctx, StartRequest{Type: "complete"}, "")
	require.NoError(t, err)
	_, err = g.StartEvaluation(ctx, StartRequest{Type: "complete"}, "fixed-key")
	require.NoError(t, err)

	keys := []string{}
	for _, c := range *calls {
		keys = append(keys, c.header.Get(IdempotencyHeader))
	}
	assert.NotEqual(t, keys[0], keys[1])
	assert.Equal(t, "fixed-key", keys[2])
}

func TestStartEvaluationReferralConflict(t *testing.T) {
	g, _ := newGateway(t, http.StatusConflict, `{"error_code":" session_in_progress ","session_id":"abc-123-uuid","redirect_url":"/flow"}`)

	_, err := g.StartEvaluation(context.Background(), StartRequest{Type: "complete"}, "")
	var conflict *ReferralConflict
	require.True(t, errors.As(err, &conflict))
	assert.Equal(t, ReferralSessionInProgress, conflict.Code)
	assert.Equal(t, "abc-123-uuid", conflict.SessionID)
	assert.Equal(t, "/flow", conflict.RedirectURL)
	assert.True(t, conflict.Resumable())
	assert.Equal(t, "Une evaluation est deja en cours pour ce lien.", conflict.Description())
}

func TestExtractReferralConflictIgnoresOtherCodes(t *testing.T) {
	err := &client.APIError{Status: 409, JSON: true, Body: []byte(`{"code":"EXPIRED"}`)}
	assert.Nil(t, ExtractReferralConflict(err))

	numeric := &client.APIError{Status: 409, JSON: true, Body: []byte(`{"status_code":409}`)}
	assert.Nil(t, ExtractReferralConflict(numeric))

	completed := &client.APIError{Status: 409, JSON: true, Body: []byte(`{"statusCode":"ALREADY_COMPLETED","session":77,"message":"Deja fait."}`)}
	conflict := ExtractReferralConflict(completed)
	require.NotNil(t, conflict)
	assert.Equal(t, "77", conflict.SessionID)
	assert.Equal(t, "Deja fait.", conflict.Description())
	assert.False(t, conflict.Resumable())
}

func TestAdvanceEvaluation(t *testing.T) {
	g, calls := newGateway(t, http.StatusOK, `{"session":{"id":"42","status":"in_progress"},"currentQuestion":{"id":"q2","label":"Fumez-vous?"}}`)

	resp, err := g.AdvanceEvaluation(context.Background(), "42", AdvanceRequest{QuestionID: "q1", Value: models.TextValue("yes")}, "key-1")
	require.NoError(t, err)

	call := (*calls)[0]
	assert.Equal(t, "/evaluations/42/advance", call.path)
	assert.Equal(t, "key-1", call.header.Get(IdempotencyHeader))
	assert.JSONEq(t, `{"question_id":"q1","value":"yes"}`, call.body)
	require.NotNil(t, resp.Question)
	assert.Equal(t, "Fumez-vous?", resp.Question.Text)
}

func TestAdvanceEvaluationRequiresSession(t *testing.T) {
	g, calls := newGateway(t, http.StatusOK, `{}`)
	_, err := g.AdvanceEvaluation(context.Background(), "", AdvanceRequest{QuestionID: "q1"}, "")
	assert.ErrorIs(t, err, ErrMissingSessionID)
	assert.Empty(t, *calls)
}

func TestGetEvaluationStateHeaderOnlyWithKey(t *testing.T) {
	g, calls := newGateway(t, http.StatusOK, `{"session":{"id":"42","status":"completed"},"message":"Fini."}`)
	ctx := context.Background()

	resp, err := g.GetEvaluationState(ctx, "42", "")
	require.NoError(t, err)
	assert.True(t, resp.Done())
	assert.Equal(t, "Fini.", resp.MessageOr("default"))

	_, err = g.GetEvaluationState(ctx, "42", "k")
	require.NoError(t, err)

	assert.Empty(t, (*calls)[0].header.Get(IdempotencyHeader))
	assert.Equal(t, "k", (*calls)[1].header.Get(IdempotencyHeader))
	assert.Equal(t, "/evaluations/42/state", (*calls)[0].path)
}

func TestEndpointsPaths(t *testing.T) {
	g, calls := newGateway(t, http.StatusOK, `{}`)
	ctx := context.Background()

	_, err := g.GetCurrentEvaluation(ctx)
	require.NoError(t, err)
	_, err = g.CompleteEvaluation(ctx, "a/b", "")
	require.NoError(t, err)
	_, err = g.GetEvaluation(ctx, "42")
	require.NoError(t, err)

	assert.Equal(t, "/evaluations/current", (*calls)[0].path)
	assert.Equal(t, "/evaluations/a%2Fb/complete", (*calls)[1].path)
	assert.NotEmpty(t, (*calls)[1].header.Get(IdempotencyHeader))
	assert.Equal(t, "/evaluations/42", (*calls)[2].path)
}

func TestParseResponseQuestionPaths(t *testing.T) {
	payloads := []string{
		`{"question":{"id":"q"}}`,
		`{"question":null,"currentQuestion":{"id":"q"}}`,
		`{"session":{"current_question":{"id":"q"}}}`,
		`{"session":{"currentQuestion":{"id":"q"}}}`,
	}
	for _, p := range payloads {
		resp := ParseResponse([]byte(p))
		require.NotNil(t, resp.Question, p)
		assert.Equal(t, "q", resp.Question.ID, p)
	}

	empty := ParseResponse([]byte(`{"message":""}`))
	assert.Nil(t, empty.Question)
	assert.Equal(t, "", empty.MessageOr("default"))
	assert.Equal(t, "default", ParseResponse([]byte(`{}`)).MessageOr("default"))
}

func TestListAnswers(t *testing.T) {
	g, calls := newGateway(t, http.StatusOK, `[
		{"questionId":"q1","value":"yes","display":"Oui"},
		{"question_id":2,"value":["a","b"],"display":"  "},
		{"question":"q3","value":null},
		{"value":"orphan"},
		{"question_id":0,"value":"zero"},
		"garbage"
	]`)

	answers, err := g.ListAnswers(context.Background(), "3f2b8c1e-7a4d-4e9b-a1c2-5d6e7f8a9b0c")
	require.NoError(t, err)
	assert.Equal(t, "/answers/session/3f2b8c1e-7a4d-4e9b-a1c2-5d6e7f8a9b0c", (*calls)[0].path)

	require.Len(t, answers, 3)
	assert.Equal(t, "Oui", answers[0].Display)
	assert.Equal(t, "2", answers[1].QuestionID)
	assert.Equal(t, "2", answers[1].QuestionKey)
	assert.Equal(t, "a, b", answers[1].Display)
	assert.True(t, answers[1].Value.IsList())
	assert.Equal(t, "", answers[2].Display)
}

func TestListAnswersMalformed(t *testing.T) {
	assert.Empty(t, ParseAnswers([]byte(`{"data":[]}`)))
	assert.Empty(t, ParseAnswers([]byte(`not json`)))
}

func TestUploadFile(t *testing.T) {
	g, _ := newGateway(t, http.StatusOK, `{"upload":{"file_id":"f-9"}}`)
	result, err := g.UploadFile(context.Background(), "scan.pdf", strings.NewReader("%PDF"))
	require.NoError(t, err)
	assert.Equal(t, "f-9", result.FileID)
}

func TestStartRequestContextOmitted(t *testing.T) {
	data, err := json.Marshal(StartRequest{Type: "complete", BlocKeys: []string{}})
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"complete","bloc_keys":[]}`, string(data))

	data, err = json.Marshal(StartRequest{Type: "thematic", BlocKeys: []string{"sleep"}, Context: map[string]interface{}{"source": "app"}, Ref: "R1", ReferralCode: "R1"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"thematic","bloc_keys":["sleep"],"context":{"source":"app"},"ref":"R1","referral_code":"R1"}`, string(data))
}
