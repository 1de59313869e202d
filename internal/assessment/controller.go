// Package assessment runs adaptive assessment sessions on top of the level
// engine: it opens questions, grades answers exactly once per question,
// persists every step and completes the session when the quota is reached.
package assessment

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/brightpath/assessor/internal/engine"
	"github.com/brightpath/assessor/internal/model"
)

// QuestionStore supplies questions by difficulty band.
type QuestionStore interface {
	FetchQuestion(ctx context.Context, band model.Difficulty, excludeIDs []int64) (model.Question, error)
	GetQuestion(ctx context.Context, id int64) (model.Question, error)
}

// SessionStore persists assessment state and the answer log.
type SessionStore interface {
	CreateSession(ctx context.Context, learnerID string) (model.AssessmentState, error)
	GetSession(ctx context.Context, id string) (model.AssessmentState, error)
	UpdateSession(ctx context.Context, st model.AssessmentState) (int64, error)
	CompleteSession(ctx context.Context, id string, completedAt time.Time) error
	FindAnswer(ctx context.Context, eventID string) (*model.AnswerEvent, error)
	AppendAnswer(ctx context.Context, ev model.AnswerEvent) (model.AnswerEvent, bool, error)
	AnswerAt(ctx context.Context, sessionID string, ordinal int) (*model.AnswerEvent, error)
	AnsweredQuestionIDs(ctx context.Context, sessionID string) ([]int64, error)
}

// View is what a caller sees of a session.
type View struct {
	State    model.AssessmentState
	Question *model.Question // open question, nil when none
	Deadline *time.Time      // when the open question times out
	// FetchErr is set when the next question could not be loaded. The
	// session stays in progress; NextQuestion retries the fetch.
	FetchErr error
}

// Status reports the lifecycle phase of the session.
func (v View) Status() model.SessionStatus {
	return v.State.Status()
}

// Outcome is the result of resolving the open question.
type Outcome struct {
	View
	Answer    model.AnswerEvent
	IsCorrect bool
	// Duplicate is set when the event id had already been recorded.
	Duplicate bool
}

// AnswerRequest is a learner's submission for the open question.
type AnswerRequest struct {
	EventID          string
	QuestionID       int64
	SelectedIndex    int
	TimeTakenSeconds int
	// Ordinal, when set, pins the submission to the question shown after
	// that many answers. A submission for an earlier ordinal is rejected
	// with model.ErrAlreadyResolved even if the same question reopened.
	Ordinal *int
}

// Controller serializes work per session and keeps open sessions in memory.
type Controller struct {
	questions QuestionStore
	sessions  SessionStore
	cfg       model.AssessmentConfig

	now       func() time.Time
	newID     func() string
	afterFunc func(time.Duration, func()) (stop func() bool)
	sleep     func(context.Context, time.Duration) error

	mu     sync.Mutex
	active map[string]*entry
	closed bool

	// inflight counts armed timers and running timer callbacks.
	inflight sync.WaitGroup
}

type entry struct {
	mu           sync.Mutex
	loaded       bool
	state        model.AssessmentState
	question     *model.Question
	asked        []int64
	lastResolved int64
	stopTimer    func() bool
}

// New creates a Controller.
func New(questions QuestionStore, sessions SessionStore, cfg model.AssessmentConfig) *Controller {
	if cfg.Quota <= 0 {
		cfg.Quota = engine.DefaultQuota
	}
	if cfg.WriteRetries <= 0 {
		cfg.WriteRetries = 1
	}
	if cfg.ReadRetries <= 0 {
		cfg.ReadRetries = 1
	}
	return &Controller{
		questions: questions,
		sessions:  sessions,
		cfg:       cfg,
		now:       time.Now,
		newID:     uuid.NewString,
		afterFunc: func(d time.Duration, f func()) func() bool {
			return time.AfterFunc(d, f).Stop
		},
		sleep:  sleepCtx,
		active: make(map[string]*entry),
	}
}

// Quota is the number of questions per session.
func (c *Controller) Quota() int {
	return c.cfg.Quota
}

// Start creates a session for learnerID and opens its first question.
func (c *Controller) Start(ctx context.Context, learnerID string) (*View, error) {
	if learnerID == "" {
		return nil, model.NewValidationError("missing_learner", "learner id is required")
	}
	st, err := c.sessions.CreateSession(ctx, learnerID)
	if err != nil {
		return nil, err
	}

	e := &entry{loaded: true, state: st}
	e.mu.Lock()
	defer e.mu.Unlock()
	c.mu.Lock()
	c.active[st.ID] = e
	c.mu.Unlock()

	if err := c.openNext(ctx, e); err != nil {
		slog.Warn("first question unavailable", "session_id", st.ID, "error", err)
		view := c.view(e)
		view.FetchErr = err
		return &view, nil
	}
	view := c.view(e)
	return &view, nil
}

// Get returns the current view of a session.
func (c *Controller) Get(ctx context.Context, sessionID string) (*View, error) {
	e, err := c.lock(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	defer e.mu.Unlock()
	view := c.view(e)
	return &view, nil
}

// NextQuestion returns the open question, fetching one if the previous
// fetch failed.
func (c *Controller) NextQuestion(ctx context.Context, sessionID string) (*View, error) {
	e, err := c.lock(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	defer e.mu.Unlock()

	if err := c.finishIfDue(ctx, e); err != nil {
		return nil, err
	}
	if e.state.Completed {
		return nil, model.NewValidationError("session_completed", "session %s is completed", sessionID)
	}
	if e.question == nil {
		if err := c.openNext(ctx, e); err != nil {
			return nil, err
		}
	}
	view := c.view(e)
	return &view, nil
}

// Answer grades the learner's selection for the open question.
func (c *Controller) Answer(ctx context.Context, sessionID string, req AnswerRequest) (*Outcome, error) {
	return c.submit(ctx, sessionID, req, req.SelectedIndex == engine.NoAnswer)
}

// Timeout resolves questionID as unanswered. Whichever of Timeout and Answer
// reaches the open question first wins; the other gets model.ErrAlreadyResolved.
func (c *Controller) Timeout(ctx context.Context, sessionID string, questionID int64) (*Outcome, error) {
	return c.submit(ctx, sessionID, AnswerRequest{QuestionID: questionID, SelectedIndex: engine.NoAnswer}, true)
}

func (c *Controller) submit(ctx context.Context, sessionID string, req AnswerRequest, timedOut bool) (*Outcome, error) {
	e, err := c.lock(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	defer e.mu.Unlock()
	return c.resolve(ctx, e, req, timedOut)
}

// Abandon terminates a session early. Abandoning a completed session
// returns its view unchanged.
func (c *Controller) Abandon(ctx context.Context, sessionID string) (*View, error) {
	e, err := c.lock(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	defer e.mu.Unlock()

	if !e.state.Completed {
		if err := c.complete(ctx, e); err != nil {
			return nil, err
		}
		slog.Info("assessment abandoned", "session_id", sessionID, "answered", e.state.TotalQuestions)
	}
	view := c.view(e)
	return &view, nil
}

// Close stops every pending question timer and waits for callbacks that
// already started. No timers are armed afterwards.
func (c *Controller) Close() {
	c.mu.Lock()
	c.closed = true
	entries := make([]*entry, 0, len(c.active))
	for id, e := range c.active {
		entries = append(entries, e)
		delete(c.active, id)
	}
	c.mu.Unlock()

	for _, e := range entries {
		e.mu.Lock()
		c.disarm(e)
		e.mu.Unlock()
	}
	c.inflight.Wait()
}

func (c *Controller) resolve(ctx context.Context, e *entry, req AnswerRequest, timedOut bool) (*Outcome, error) {
	if req.EventID != "" {
		prior, err := c.findAnswer(ctx, req.EventID)
		if err != nil {
			return nil, err
		}
		if prior != nil {
			if prior.SessionID != e.state.ID {
				return nil, model.NewValidationError("event_reused", "event %s belongs to another session", req.EventID)
			}
			return c.reconcile(ctx, e, *prior)
		}
	} else {
		req.EventID = c.newID()
	}

	if err := c.finishIfDue(ctx, e); err != nil {
		return nil, err
	}
	if e.state.Completed {
		return nil, model.NewValidationError("session_completed", "session %s is completed", e.state.ID)
	}
	if req.Ordinal != nil && *req.Ordinal != e.state.TotalQuestions {
		if *req.Ordinal < e.state.TotalQuestions {
			return nil, model.ErrAlreadyResolved
		}
		return nil, model.NewValidationError("question_not_open", "question %d is not open in session %s", req.QuestionID, e.state.ID)
	}
	if e.question == nil || e.question.ID != req.QuestionID {
		if req.QuestionID != 0 && req.QuestionID == e.lastResolved {
			return nil, model.ErrAlreadyResolved
		}
		return nil, model.NewValidationError("question_not_open", "question %d is not open in session %s", req.QuestionID, e.state.ID)
	}
	if err := engine.ValidateSelection(*e.question, req.SelectedIndex); err != nil {
		return nil, err
	}

	q := *e.question
	_, correct := engine.GradeAnswer(e.state, q, req.SelectedIndex, 0)
	ev := model.AnswerEvent{
		EventID:          req.EventID,
		SessionID:        e.state.ID,
		QuestionID:       q.ID,
		Ordinal:          e.state.TotalQuestions,
		SelectedIndex:    req.SelectedIndex,
		IsCorrect:        correct,
		TimeTakenSeconds: c.timeTaken(e, req.TimeTakenSeconds, timedOut),
		TimedOut:         timedOut,
		CreatedAt:        c.now(),
	}

	recorded, dup, err := c.appendAnswer(ctx, ev)
	if errors.Is(err, model.ErrAlreadyResolved) {
		// An earlier submission was recorded but its session update failed.
		pending, ferr := c.answerAt(ctx, e.state.ID, ev.Ordinal)
		if ferr != nil {
			return nil, ferr
		}
		if pending != nil {
			slog.Info("applying answer recorded earlier", "session_id", ev.SessionID, "event_id", pending.EventID, "ordinal", pending.Ordinal)
			return c.reconcile(ctx, e, *pending)
		}
	}
	if err != nil {
		slog.Error("answer not recorded", "session_id", ev.SessionID, "question_id", q.ID, "event_id", ev.EventID, "error", err)
		return nil, err
	}
	out, err := c.apply(ctx, e, recorded)
	if err != nil {
		return nil, err
	}
	out.Duplicate = dup
	return out, nil
}

// reconcile handles a replayed event id: if the earlier attempt recorded
// the answer but never updated the session, the update is applied now;
// otherwise the recorded outcome is returned as is.
func (c *Controller) reconcile(ctx context.Context, e *entry, prior model.AnswerEvent) (*Outcome, error) {
	switch {
	case e.state.TotalQuestions > prior.Ordinal:
		return &Outcome{View: c.view(e), Answer: prior, IsCorrect: prior.IsCorrect, Duplicate: true}, nil
	case e.state.TotalQuestions == prior.Ordinal && e.question != nil && e.question.ID == prior.QuestionID:
		out, err := c.apply(ctx, e, prior)
		if err != nil {
			return nil, err
		}
		out.Duplicate = true
		return out, nil
	default:
		return nil, model.ErrConflict
	}
}

// apply folds a recorded answer into the session. The in-memory state only
// changes once the store accepted the update.
func (c *Controller) apply(ctx context.Context, e *entry, ev model.AnswerEvent) (*Outcome, error) {
	q := *e.question
	next, correct := engine.GradeAnswer(e.state, q, ev.SelectedIndex, ev.TimeTakenSeconds)
	next.CurrentQuestionID = 0
	next.QuestionOpenedAt = nil

	v, err := c.update(ctx, e, next)
	if err != nil {
		return nil, err
	}
	next.Version = v

	c.disarm(e)
	e.state = next
	e.question = nil
	e.lastResolved = q.ID
	e.asked = append(e.asked, q.ID)

	slog.Info("answer graded",
		"session_id", next.ID,
		"question_id", q.ID,
		"event_id", ev.EventID,
		"correct", correct,
		"timed_out", ev.TimedOut,
		"level", next.CurrentLevel,
		"answered", next.TotalQuestions,
	)

	out := &Outcome{Answer: ev, IsCorrect: correct}
	if engine.IsSessionComplete(next, c.cfg.Quota) {
		if err := c.complete(ctx, e); err != nil {
			return nil, err
		}
		out.View = c.view(e)
		return out, nil
	}

	if err := c.openNext(ctx, e); err != nil {
		slog.Warn("next question unavailable", "session_id", next.ID, "error", err)
		out.View = c.view(e)
		out.FetchErr = err
		return out, nil
	}
	out.View = c.view(e)
	return out, nil
}

// openNext fetches a question for the current level and records it as open.
func (c *Controller) openNext(ctx context.Context, e *entry) error {
	band := engine.SelectNextDifficulty(e.state.CurrentLevel)
	q, err := c.fetchWithFallback(ctx, band, e.asked, e.lastResolved)
	if err != nil {
		return err
	}

	next := e.state
	opened := c.now()
	next.CurrentQuestionID = q.ID
	next.QuestionOpenedAt = &opened
	v, err := c.update(ctx, e, next)
	if err != nil {
		return err
	}
	next.Version = v
	e.state = next
	e.question = &q
	c.arm(e, c.cfg.QuestionTimeLimit)
	return nil
}

// fetchWithFallback tries band, then its neighbours. When every band is
// exhausted for this session it allows repeats rather than stalling,
// avoiding the question just resolved while another one exists.
func (c *Controller) fetchWithFallback(ctx context.Context, band model.Difficulty, asked []int64, last int64) (model.Question, error) {
	bands := append([]model.Difficulty{band}, engine.AdjacentBands(band)...)
	passes := [][]int64{asked}
	if len(asked) > 0 {
		if last != 0 {
			passes = append(passes, []int64{last})
		}
		passes = append(passes, nil)
	}
	for i, exclude := range passes {
		if i == 1 {
			slog.Warn("question bank exhausted for session, allowing repeats", "band", band, "asked", len(asked))
		}
		for _, b := range bands {
			q, err := c.fetch(ctx, b, exclude)
			if err == nil {
				if b != band {
					slog.Info("fell back to adjacent band", "wanted", band, "got", b)
				}
				return q, nil
			}
			if !errors.Is(err, model.ErrNotFound) {
				return q, err
			}
		}
	}
	return model.Question{}, model.ErrNotFound
}

func (c *Controller) complete(ctx context.Context, e *entry) error {
	at := c.now()
	err := c.retryWrite(ctx, func() error {
		return c.sessions.CompleteSession(ctx, e.state.ID, at)
	})
	if err != nil {
		return err
	}
	c.disarm(e)
	e.state.Completed = true
	e.state.CompletedAt = &at
	e.state.CurrentQuestionID = 0
	e.state.QuestionOpenedAt = nil
	e.state.Version++
	e.question = nil

	c.mu.Lock()
	if c.active[e.state.ID] == e {
		delete(c.active, e.state.ID)
	}
	c.mu.Unlock()

	slog.Info("assessment completed",
		"session_id", e.state.ID,
		"correct", e.state.CorrectAnswers,
		"total", e.state.TotalQuestions,
		"level", e.state.CurrentLevel,
	)
	return nil
}

// finishIfDue completes a session whose quota was reached but whose
// completion write failed earlier.
func (c *Controller) finishIfDue(ctx context.Context, e *entry) error {
	if e.state.Completed || !engine.IsSessionComplete(e.state, c.cfg.Quota) {
		return nil
	}
	return c.complete(ctx, e)
}

func (c *Controller) update(ctx context.Context, e *entry, st model.AssessmentState) (int64, error) {
	var v int64
	err := c.retryWrite(ctx, func() error {
		var err error
		v, err = c.sessions.UpdateSession(ctx, st)
		return err
	})
	if errors.Is(err, model.ErrConflict) {
		// Reload from the store on next access.
		e.loaded = false
	}
	return v, err
}

func (c *Controller) appendAnswer(ctx context.Context, ev model.AnswerEvent) (model.AnswerEvent, bool, error) {
	var recorded model.AnswerEvent
	var dup bool
	err := c.retryWrite(ctx, func() error {
		var err error
		recorded, dup, err = c.sessions.AppendAnswer(ctx, ev)
		return err
	})
	return recorded, dup, err
}

func (c *Controller) fetch(ctx context.Context, band model.Difficulty, exclude []int64) (model.Question, error) {
	var q model.Question
	err := c.retryRead(ctx, func() error {
		var err error
		q, err = c.questions.FetchQuestion(ctx, band, exclude)
		return err
	})
	return q, err
}

func (c *Controller) answerAt(ctx context.Context, sessionID string, ordinal int) (*model.AnswerEvent, error) {
	var ev *model.AnswerEvent
	err := c.retryRead(ctx, func() error {
		var err error
		ev, err = c.sessions.AnswerAt(ctx, sessionID, ordinal)
		return err
	})
	return ev, err
}

func (c *Controller) findAnswer(ctx context.Context, eventID string) (*model.AnswerEvent, error) {
	var prior *model.AnswerEvent
	err := c.retryRead(ctx, func() error {
		var err error
		prior, err = c.sessions.FindAnswer(ctx, eventID)
		return err
	})
	return prior, err
}

func (c *Controller) timeTaken(e *entry, reported int, timedOut bool) int {
	limit := int(c.cfg.QuestionTimeLimit / time.Second)
	if timedOut && limit > 0 {
		return limit
	}
	taken := reported
	if taken <= 0 && e.state.QuestionOpenedAt != nil {
		taken = int(c.now().Sub(*e.state.QuestionOpenedAt) / time.Second)
	}
	if limit > 0 && taken > limit {
		taken = limit
	}
	return max(taken, 0)
}

func (c *Controller) view(e *entry) View {
	v := View{State: e.state}
	if e.question != nil {
		q := *e.question
		v.Question = &q
		if c.cfg.QuestionTimeLimit > 0 && e.state.QuestionOpenedAt != nil {
			d := e.state.QuestionOpenedAt.Add(c.cfg.QuestionTimeLimit)
			v.Deadline = &d
		}
	}
	return v
}
