package flow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/carein/triageflow/internal/client"
	"github.com/carein/triageflow/internal/evaluation"
	"github.com/carein/triageflow/internal/models"
	"github.com/carein/triageflow/internal/session"
	"github.com/carein/triageflow/internal/util"
)

// ErrIncompleteUpload is reported when a file upload did not yield a file id.
var ErrIncompleteUpload = errors.New("flow: upload incomplete")

// Opts holds optional collaborators of the Engine.
type Opts struct {
	Timer    Timer
	Identity IdentityResolver
	Referral ReferralSource
	Now      func() time.Time
}

// Option mutates Opts.
type Option func(*Opts)

// WithTimer sets the timer used for delayed bot replies.
func WithTimer(t Timer) Option {
	return func(o *Opts) {
		o.Timer = t
	}
}

// WithIdentity sets the resolver used to scope the transcript to an owner.
func WithIdentity(r IdentityResolver) Option {
	return func(o *Opts) {
		o.Identity = r
	}
}

// WithReferralSource sets where pending referral codes are read from.
func WithReferralSource(r ReferralSource) Option {
	return func(o *Opts) {
		o.Referral = r
	}
}

// WithClock overrides the clock used to stamp messages.
func WithClock(now func() time.Time) Option {
	return func(o *Opts) {
		o.Now = now
	}
}

// Engine drives one evaluation flow. Every async result is tagged with a
// request generation and dropped if a newer request was issued meanwhile.
type Engine struct {
	gw         Gateway
	transcript TranscriptStore
	settings   Settings
	timer      Timer
	identity   IdentityResolver
	referral   ReferralSource
	now        func() time.Time
	guard      Guard

	mu           sync.Mutex
	state        State
	pendingReply string
	rev          uint64
	observers    map[int]func(State)
	nextObserver int

	persistMu    sync.Mutex
	persistedRev uint64
}

// NewEngine creates an engine over the given gateway and transcript store.
func NewEngine(gw Gateway, transcript TranscriptStore, settings Settings, opts ...Option) *Engine {
	var o Opts
	for _, opt := range opts {
		opt(&o)
	}
	if o.Timer == nil {
		o.Timer = NewSimpleTimer()
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return &Engine{
		gw:         gw,
		transcript: transcript,
		settings:   settings,
		timer:      o.Timer,
		identity:   o.Identity,
		referral:   o.Referral,
		now:        o.Now,
		observers:  make(map[int]func(State)),
	}
}

// Snapshot returns a copy of the current state.
func (e *Engine) Snapshot() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state.clone()
}

// OnChange registers fn to receive a snapshot after every state change. The
// returned function unregisters it.
func (e *Engine) OnChange(fn func(State)) func() {
	e.mu.Lock()
	defer e.mu.Unlock()
	id := e.nextObserver
	e.nextObserver++
	e.observers[id] = fn
	return func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		delete(e.observers, id)
	}
}

// Close cancels the pending reply and invalidates in-flight requests.
func (e *Engine) Close() {
	e.mu.Lock()
	pending := e.pendingReply
	e.pendingReply = ""
	e.mu.Unlock()
	e.guard.Next()
	if pending != "" {
		_ = e.timer.Cancel(pending)
	}
}

// Mount restores the flow from the local transcript, or from the server when
// the transcript is absent, foreign or unusable.
func (e *Engine) Mount(ctx context.Context) {
	owner := e.resolveOwner(ctx)
	e.update(ctx, 0, func(s *State) {
		s.Mounted = true
		s.OwnerID = owner
	})

	stored := e.transcript.Load(ctx)
	if stored == nil {
		slog.Debug("FlowEngine Mount: no stored transcript")
		e.hydrateCurrent(ctx)
		return
	}

	storedOwner := stored.OwnerID.String()
	if owner != "" && storedOwner != "" && storedOwner != owner {
		slog.Info("FlowEngine Mount discarding transcript of another identity", "owner_id", owner)
		e.clearTranscript(ctx, "owner-mismatch")
		e.hydrateCurrent(ctx)
		return
	}
	if owner != "" && storedOwner == "" {
		if err := e.transcript.BackfillOwner(ctx, owner); err != nil {
			slog.Warn("FlowEngine Mount owner backfill failed", "error", err)
		}
	}

	ids := session.FromStored(stored)
	completion := stored.CompletionMessage
	if completion == "" {
		completion = models.DefaultCompletionPrompt
	}
	messages := stored.Messages
	if len(messages) == 0 {
		messages = models.BuildMessages(stored.QuestionHistory, stored.Answers, stored.IsComplete, completion, e.now())
	}
	e.update(ctx, 0, func(s *State) {
		s.Answers = append([]models.Answer(nil), stored.Answers...)
		s.QuestionHistory = append([]models.Question(nil), stored.QuestionHistory...)
		s.Messages = append([]models.ChatMessage(nil), messages...)
		s.IsComplete = stored.IsComplete
		s.SessionIDs = ids
		s.CompletionMessage = completion
		s.PriorAnswers = nil
		s.ErrorMessage = ""
		s.IsTyping = false
		s.Hydrated = true
	})
	slog.Info("FlowEngine Mount adopted stored transcript",
		"internal_id", ids.Internal,
		"public_id", ids.Public,
		"answers", len(stored.Answers),
		"questions", len(stored.QuestionHistory),
		"is_complete", stored.IsComplete)

	if id := session.PickPublic(ids); id != "" && len(stored.Answers) == 0 && len(stored.QuestionHistory) > 0 {
		e.backfillAnswers(ctx, id)
	}

	if stored.IsComplete {
		return
	}
	if len(stored.QuestionHistory) > 0 {
		if ids.Internal != "" && len(stored.Answers) >= len(stored.QuestionHistory) {
			e.resumePending(ctx, ids.Internal)
		}
		return
	}
	if ids.Internal != "" {
		e.hydrateStoredSession(ctx, ids.Internal)
		return
	}
	// A public id alone cannot be advanced; ask the server which session is live.
	e.hydrateCurrent(ctx)
}

// Submit sends the user's answer to the current question. The answer is shown
// immediately; the bot reply is committed after a short delay.
func (e *Engine) Submit(ctx context.Context, in Input) {
	var (
		question    models.Question
		value       models.AnswerValue
		internal    string
		answerIndex int
		rejected    bool
	)
	accepted := e.mutate(ctx, 0, func(s *State) bool {
		q := s.CurrentQuestion()
		if s.IsTyping || s.IsComplete || q == nil {
			return false
		}
		display := strings.TrimSpace(FormatDisplay(*q, in))
		if display == "" {
			return false
		}
		if s.SessionIDs.Internal == "" {
			s.ErrorMessage = MsgReloadSession
			rejected = true
			return true
		}

		question = *q
		internal = s.SessionIDs.Internal
		answerIndex = len(s.Answers)
		value = in.Value
		if in.File != nil {
			value = models.TextValue(fileName(in.File))
		}
		questionID, questionKey := question.ID, question.Key
		if questionID == "" {
			questionID = questionKey
		}
		if questionKey == "" {
			questionKey = questionID
		}
		question.ID = questionID

		s.Messages = append(s.Messages, models.NewChatMessage(models.RoleUser, display, answerIndex, e.now()))
		s.Answers = append(s.Answers, models.Answer{
			QuestionID:  questionID,
			QuestionKey: questionKey,
			Value:       value,
			Display:     display,
		})
		s.IsTyping = true
		s.ErrorMessage = ""
		return true
	})
	if !accepted || rejected {
		return
	}

	gen := e.guard.Next()
	req := evaluation.AdvanceRequest{QuestionID: question.ID, Value: value}
	if in.File != nil {
		upload, err := e.gw.UploadFile(ctx, fileName(in.File), in.File.Content)
		if err == nil && upload.FileID == "" {
			err = ErrIncompleteUpload
		}
		if _, isAPI := client.AsAPIError(err); err != nil && !isAPI && !errors.Is(err, ErrIncompleteUpload) {
			err = fmt.Errorf("%w: %v", ErrIncompleteUpload, err)
		}
		if err != nil {
			e.failSubmit(ctx, gen, err)
			return
		}
		req.FileIDs = []string{upload.FileID}
	}

	slog.Debug("FlowEngine Submit advancing", "session_id", internal, "question_id", req.QuestionID)
	resp, err := e.gw.AdvanceEvaluation(ctx, internal, req, util.NewIdempotencyKey())
	if err != nil {
		e.failSubmit(ctx, gen, err)
		return
	}

	next := resp.Question
	var (
		nextText string
		done     bool
	)
	applied := e.update(ctx, gen, func(s *State) {
		adoptIDs(s, resp.IDs)
		s.CompletionMessage = resp.MessageOr(s.CompletionMessage)
		nextText = s.CompletionMessage
		if next != nil {
			nextText = next.DisplayText()
		}
		done = resp.Done() || next == nil
	})
	if !applied {
		return
	}

	replyCtx := context.WithoutCancel(ctx)
	step := answerIndex + 1
	id, err := e.timer.ScheduleAfter(ReplyDelay(nextText), func() {
		e.commitReply(replyCtx, gen, next, done, nextText, step)
	})
	if err != nil {
		slog.Warn("FlowEngine Submit could not schedule reply, committing now", "error", err)
		e.commitReply(replyCtx, gen, next, done, nextText, step)
		return
	}
	e.mu.Lock()
	if e.guard.IsCurrent(gen) && e.state.IsTyping {
		e.pendingReply = id
	}
	e.mu.Unlock()
}

// Edit rewinds the flow so answer i can be given again. It reports whether
// the edit was applied.
func (e *Engine) Edit(ctx context.Context, i int) bool {
	var pending string
	ok := e.mutate(ctx, 0, func(s *State) bool {
		if i < 0 || i != s.EditableAnswerIndex() {
			return false
		}
		pending = e.pendingReply
		e.pendingReply = ""
		e.guard.Next()

		s.Answers = append([]models.Answer(nil), s.Answers[:i]...)
		keep := i + 1
		if keep > len(s.QuestionHistory) {
			keep = len(s.QuestionHistory)
		}
		s.QuestionHistory = append([]models.Question(nil), s.QuestionHistory[:keep]...)
		s.Messages = models.BuildMessages(s.QuestionHistory, s.Answers, false, s.CompletionMessage, e.now())
		s.IsComplete = false
		s.IsTyping = false
		s.ErrorMessage = ""
		return true
	})
	if pending != "" {
		_ = e.timer.Cancel(pending)
	}
	if ok {
		slog.Debug("FlowEngine Edit rewound", "index", i)
	}
	return ok
}

// ResumeReferral continues the session named by a referral conflict. It
// reports false when there is no session to resume.
func (e *Engine) ResumeReferral(ctx context.Context) bool {
	var seed models.StoredFlowState
	ok := e.mutate(ctx, 0, func(s *State) bool {
		if s.Referral == nil || s.Referral.SessionID == "" {
			return false
		}
		sessionID := s.Referral.SessionID
		ids := session.Classify(sessionID)
		seed = models.StoredFlowState{
			Version:           models.StoredFlowVersion,
			Answers:           []models.Answer{},
			Messages:          []models.ChatMessage{},
			QuestionHistory:   []models.Question{},
			SessionID:         models.FlexString(sessionID),
			SessionInternalID: models.FlexString(ids.Internal),
			SessionPublicID:   models.FlexString(ids.Public),
			CompletionMessage: models.DefaultCompletionPrompt,
			OwnerID:           models.FlexString(s.OwnerID),
		}
		*s = State{Mounted: true, OwnerID: s.OwnerID}
		return true
	})
	if !ok {
		return false
	}

	e.Close()
	slog.Info("FlowEngine ResumeReferral", "session_id", seed.SessionID)
	if _, err := e.transcript.Save(ctx, seed); err != nil {
		slog.Warn("FlowEngine ResumeReferral could not seed transcript", "error", err)
	}
	e.Mount(ctx)
	return true
}

func (e *Engine) hydrateCurrent(ctx context.Context) {
	gen := e.guard.Next()
	resp, err := e.gw.GetCurrentEvaluation(ctx)
	if err != nil {
		if !e.guard.IsCurrent(gen) {
			return
		}
		if client.IsUnauthenticated(err) {
			slog.Warn("FlowEngine hydrateCurrent unauthenticated, not starting a session")
			e.update(ctx, gen, func(s *State) {
				s.IsTyping = false
				s.Hydrated = true
			})
			return
		}
		if client.IsStatus(err, 404) {
			slog.Debug("FlowEngine hydrateCurrent: no current session")
		} else {
			slog.Warn("FlowEngine hydrateCurrent failed, starting a new session", "error", err)
		}
		e.startNew(ctx)
		return
	}

	done := resp.Done()
	var question *models.Question
	if !done {
		question = resp.Question
	}
	applied := e.update(ctx, gen, func(s *State) {
		adoptIDs(s, resp.IDs)
		s.CompletionMessage = resp.MessageOr(models.DefaultCompletionPrompt)
		switch {
		case question != nil:
			s.Answers = nil
			s.QuestionHistory = []models.Question{*question}
			s.Messages = []models.ChatMessage{models.NewChatMessage(models.RoleBot, question.DisplayText(), 0, e.now())}
			s.IsComplete = false
		case done:
			s.Answers = nil
			s.QuestionHistory = nil
			s.Messages = []models.ChatMessage{models.NewChatMessage(models.RoleBot, s.CompletionMessage, -1, e.now())}
			s.IsComplete = true
		default:
			return
		}
		s.PriorAnswers = nil
		s.IsTyping = false
		s.Hydrated = true
	})
	if !applied {
		return
	}
	if question == nil && !done {
		slog.Info("FlowEngine hydrateCurrent: session has no question, starting a new one")
		e.startNew(ctx)
		return
	}
	if id := session.PickPublic(resp.IDs); question != nil && id != "" {
		e.backfillPrior(ctx, gen, id)
	}
}

func (e *Engine) startNew(ctx context.Context) {
	e.update(ctx, 0, func(s *State) {
		s.ErrorMessage = ""
		s.Referral = nil
		s.IsTyping = true
	})
	gen := e.guard.Next()

	thematic := e.settings.Type == EvaluationTypeThematic
	if thematic && len(e.settings.BlocKeys) == 0 {
		slog.Warn("FlowEngine startNew: thematic evaluation without bloc keys")
		e.update(ctx, gen, func(s *State) {
			s.ErrorMessage = MsgBlocKeysRequired
			s.IsTyping = false
			s.Hydrated = true
		})
		return
	}

	req := evaluation.StartRequest{Type: e.settings.Type, BlocKeys: e.settings.BlocKeys}
	if thematic && len(e.settings.Context) > 0 {
		req.Context = e.settings.Context
	}
	if e.referral != nil {
		if code := e.referral.ReferralCode(ctx); code != "" {
			req.Ref = code
			req.ReferralCode = code
		}
	}

	resp, err := e.gw.StartEvaluation(ctx, req, util.NewIdempotencyKey())
	if err != nil {
		if conflict := evaluation.ExtractReferralConflict(err); conflict != nil {
			slog.Info("FlowEngine startNew blocked by referral", "code", conflict.Code, "session_id", conflict.SessionID)
			e.update(ctx, gen, func(s *State) {
				s.Referral = conflict
				s.ErrorMessage = ""
				s.IsTyping = false
				s.Hydrated = true
			})
			return
		}
		slog.Error("FlowEngine startNew failed", "error", err)
		e.update(ctx, gen, func(s *State) {
			s.ErrorMessage = errorMessage(err, MsgFirstQuestionError)
			s.IsTyping = false
			s.Hydrated = true
		})
		return
	}

	if session.PickInternal(resp.IDs) == "" {
		slog.Error("FlowEngine startNew: response carried no internal session id")
		e.update(ctx, gen, func(s *State) {
			s.ErrorMessage = MsgInvalidSession
			s.IsTyping = false
			s.Hydrated = true
		})
		return
	}

	question := resp.Question
	e.update(ctx, gen, func(s *State) {
		s.SessionIDs = resp.IDs
		s.CompletionMessage = resp.MessageOr(models.DefaultCompletionPrompt)
		s.Answers = nil
		s.PriorAnswers = nil
		if question != nil {
			s.QuestionHistory = []models.Question{*question}
			s.Messages = []models.ChatMessage{models.NewChatMessage(models.RoleBot, question.DisplayText(), 0, e.now())}
			s.IsComplete = false
		} else {
			s.QuestionHistory = nil
			s.Messages = []models.ChatMessage{models.NewChatMessage(models.RoleBot, s.CompletionMessage, -1, e.now())}
			s.IsComplete = true
		}
		s.IsTyping = false
		s.Hydrated = true
	})
	slog.Info("FlowEngine startNew succeeded", "internal_id", resp.IDs.Internal, "public_id", resp.IDs.Public)
}

func (e *Engine) hydrateStoredSession(ctx context.Context, internalID string) {
	e.update(ctx, 0, func(s *State) {
		s.ErrorMessage = ""
		s.IsTyping = true
	})
	gen := e.guard.Next()

	resp, err := e.gw.GetEvaluationState(ctx, internalID, util.NewIdempotencyKey())
	if err != nil {
		if !e.guard.IsCurrent(gen) {
			return
		}
		if client.IsStatus(err, 404, 410) {
			slog.Info("FlowEngine hydrateStoredSession: session gone", "session_id", internalID)
			e.clearTranscript(ctx, "hydrate:not-found-or-expired")
			e.hydrateCurrent(ctx)
			return
		}
		if client.IsUnauthenticated(err) {
			e.update(ctx, gen, func(s *State) {
				s.ErrorMessage = errorMessage(err, MsgFirstQuestionError)
				s.IsTyping = false
				s.Hydrated = true
			})
			return
		}
		slog.Warn("FlowEngine hydrateStoredSession failed", "session_id", internalID, "error", err)
		e.update(ctx, gen, func(s *State) {
			s.ErrorMessage = errorMessage(err, MsgFirstQuestionError)
		})
		e.clearTranscript(ctx, "hydrate:error")
		e.hydrateCurrent(ctx)
		return
	}
	if !e.guard.IsCurrent(gen) {
		return
	}

	done := resp.Done()
	var question *models.Question
	if !done {
		question = resp.Question
	}
	if question == nil && !done {
		slog.Warn("FlowEngine hydrateStoredSession: no question, restarting", "session_id", internalID)
		e.clearTranscript(ctx, "hydrate:missing-question")
		e.update(ctx, gen, func(s *State) {
			s.SessionIDs = session.IDs{}
			s.Answers = nil
			s.QuestionHistory = nil
			s.Messages = nil
			s.IsComplete = false
		})
		e.startNew(ctx)
		return
	}

	e.update(ctx, gen, func(s *State) {
		adoptIDs(s, resp.IDs)
		s.CompletionMessage = resp.MessageOr(models.DefaultCompletionPrompt)
		if len(s.Answers) > 0 && len(s.PriorAnswers) == 0 {
			s.PriorAnswers = s.Answers
		}
		s.Answers = nil
		if question != nil {
			s.QuestionHistory = []models.Question{*question}
			s.Messages = []models.ChatMessage{models.NewChatMessage(models.RoleBot, question.DisplayText(), 0, e.now())}
			s.IsComplete = false
		} else {
			s.QuestionHistory = nil
			s.Messages = []models.ChatMessage{models.NewChatMessage(models.RoleBot, s.CompletionMessage, -1, e.now())}
			s.IsComplete = true
		}
		s.IsTyping = false
		s.Hydrated = true
	})
}

// resumePending asks the server where the session stands when the last answer
// was recorded locally but no reply to it was committed.
func (e *Engine) resumePending(ctx context.Context, internalID string) {
	e.update(ctx, 0, func(s *State) {
		s.IsTyping = true
	})
	gen := e.guard.Next()

	resp, err := e.gw.GetEvaluationState(ctx, internalID, util.NewIdempotencyKey())
	if err != nil {
		if !e.guard.IsCurrent(gen) {
			return
		}
		if client.IsStatus(err, 404, 410) {
			slog.Info("FlowEngine resumePending: session gone", "session_id", internalID)
			e.clearTranscript(ctx, "resume:not-found-or-expired")
			e.update(ctx, gen, func(s *State) {
				*s = State{Mounted: true, OwnerID: s.OwnerID}
			})
			e.hydrateCurrent(ctx)
			return
		}
		slog.Warn("FlowEngine resumePending failed", "session_id", internalID, "error", err)
		e.update(ctx, gen, func(s *State) {
			s.ErrorMessage = errorMessage(err, MsgNextQuestionError)
			s.IsTyping = false
		})
		return
	}

	done := resp.Done()
	next := resp.Question
	e.update(ctx, gen, func(s *State) {
		adoptIDs(s, resp.IDs)
		s.IsTyping = false
		if len(s.QuestionHistory) == 0 || len(s.Answers) < len(s.QuestionHistory) {
			return
		}
		last := s.QuestionHistory[len(s.QuestionHistory)-1]
		step := len(s.Answers)
		switch {
		case done:
			s.CompletionMessage = resp.MessageOr(s.CompletionMessage)
			s.Messages = append(s.Messages, models.NewChatMessage(models.RoleBot, s.CompletionMessage, step, e.now()))
			s.IsComplete = true
		case next != nil && next.ID != last.ID:
			s.QuestionHistory = append(s.QuestionHistory, *next)
			s.Messages = append(s.Messages, models.NewChatMessage(models.RoleBot, next.DisplayText(), step, e.now()))
		default:
			// The server is still waiting on the answered question.
			s.ErrorMessage = MsgNextQuestionError
		}
	})
	slog.Info("FlowEngine resumePending reconciled", "session_id", internalID, "done", done, "has_question", next != nil)
}

// backfillAnswers fills an answer-less stored transcript from the server.
func (e *Engine) backfillAnswers(ctx context.Context, sessionID string) {
	gen := e.guard.Next()
	answers, err := e.gw.ListAnswers(ctx, sessionID)
	if err != nil {
		slog.Warn("FlowEngine backfillAnswers failed", "session_id", sessionID, "error", err)
		return
	}
	if len(answers) == 0 {
		return
	}
	e.mutate(ctx, gen, func(s *State) bool {
		if len(s.Answers) > 0 {
			return false
		}
		s.Answers = answers
		s.Messages = models.BuildMessages(s.QuestionHistory, answers, s.IsComplete, s.CompletionMessage, e.now())
		return true
	})
}

// backfillPrior records the answers already given in a session resumed from
// the server.
func (e *Engine) backfillPrior(ctx context.Context, gen int64, sessionID string) {
	answers, err := e.gw.ListAnswers(ctx, sessionID)
	if err != nil {
		slog.Warn("FlowEngine backfillPrior failed", "session_id", sessionID, "error", err)
		return
	}
	if len(answers) == 0 {
		return
	}
	e.mutate(ctx, gen, func(s *State) bool {
		if len(s.PriorAnswers) > 0 {
			return false
		}
		s.PriorAnswers = answers
		return true
	})
}

func (e *Engine) commitReply(ctx context.Context, gen int64, next *models.Question, done bool, text string, step int) {
	e.update(ctx, gen, func(s *State) {
		if next != nil {
			s.QuestionHistory = append(s.QuestionHistory, *next)
		}
		s.IsComplete = done
		s.Messages = append(s.Messages, models.NewChatMessage(models.RoleBot, text, step, e.now()))
		s.IsTyping = false
		e.pendingReply = ""
	})
}

func (e *Engine) failSubmit(ctx context.Context, gen int64, err error) {
	slog.Warn("FlowEngine Submit failed", "error", err)
	msg := errorMessage(err, MsgNextQuestionError)
	if errors.Is(err, ErrIncompleteUpload) {
		msg = MsgUploadIncomplete
	}
	e.update(ctx, gen, func(s *State) {
		s.ErrorMessage = msg
		s.IsTyping = false
	})
}

func (e *Engine) resolveOwner(ctx context.Context) string {
	if e.identity == nil {
		return ""
	}
	id, err := e.identity.CurrentIdentityID(ctx)
	if err != nil {
		slog.Debug("FlowEngine could not resolve identity", "error", err)
		return ""
	}
	return id
}

func (e *Engine) clearTranscript(ctx context.Context, reason string) {
	if err := e.transcript.Clear(ctx, reason); err != nil {
		slog.Warn("FlowEngine could not clear transcript", "reason", reason, "error", err)
	}
}

// update applies fn when gen is still current (0 skips the check) and
// reports whether it ran.
func (e *Engine) update(ctx context.Context, gen int64, fn func(s *State)) bool {
	return e.mutate(ctx, gen, func(s *State) bool {
		fn(s)
		return true
	})
}

// mutate is update for functions that may decline to change anything.
func (e *Engine) mutate(ctx context.Context, gen int64, fn func(s *State) bool) bool {
	e.mu.Lock()
	if gen != 0 && !e.guard.IsCurrent(gen) {
		e.mu.Unlock()
		slog.Debug("FlowEngine dropped stale result", "generation", gen, "current", e.guard.Current())
		return false
	}
	if !fn(&e.state) {
		e.mu.Unlock()
		return false
	}
	e.rev++
	rev := e.rev
	snap := e.state.clone()
	observers := make([]func(State), 0, len(e.observers))
	for _, obs := range e.observers {
		observers = append(observers, obs)
	}
	e.mu.Unlock()

	e.publish(ctx, rev, snap, observers)
	return true
}

// publish persists and broadcasts snap unless a newer revision already went out.
func (e *Engine) publish(ctx context.Context, rev uint64, snap State, observers []func(State)) {
	e.persistMu.Lock()
	if rev <= e.persistedRev {
		e.persistMu.Unlock()
		return
	}
	e.persistedRev = rev
	if snap.Hydrated {
		if _, err := e.transcript.Save(ctx, snap.Stored()); err != nil {
			slog.Warn("FlowEngine could not persist transcript", "error", err)
		}
	}
	e.persistMu.Unlock()

	for _, obs := range observers {
		obs(snap)
	}
}

func adoptIDs(s *State, ids session.IDs) {
	if ids.Internal != "" {
		s.SessionIDs.Internal = ids.Internal
	}
	if ids.Public != "" {
		s.SessionIDs.Public = ids.Public
	}
}

func errorMessage(err error, fallback string) string {
	if apiErr, ok := client.AsAPIError(err); ok {
		return client.FormatAPIError(apiErr)
	}
	return fallback
}
