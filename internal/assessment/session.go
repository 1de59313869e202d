package assessment

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/brightpath/assessor/internal/engine"
	"github.com/brightpath/assessor/internal/model"
)

// lock returns the session entry with its mutex held, loading it from the
// store when it is not cached. Callers must unlock e.mu.
func (c *Controller) lock(ctx context.Context, sessionID string) (*entry, error) {
	c.mu.Lock()
	e, ok := c.active[sessionID]
	if !ok {
		e = &entry{}
		c.active[sessionID] = e
	}
	c.mu.Unlock()

	e.mu.Lock()
	if e.loaded {
		return e, nil
	}
	if err := c.load(ctx, sessionID, e); err != nil {
		c.disarm(e)
		e.mu.Unlock()
		c.mu.Lock()
		if c.active[sessionID] == e {
			delete(c.active, sessionID)
		}
		c.mu.Unlock()
		return nil, err
	}
	return e, nil
}

func (c *Controller) load(ctx context.Context, sessionID string, e *entry) error {
	var st model.AssessmentState
	err := c.retryRead(ctx, func() error {
		var err error
		st, err = c.sessions.GetSession(ctx, sessionID)
		return err
	})
	if err != nil {
		return err
	}

	var asked []int64
	err = c.retryRead(ctx, func() error {
		var err error
		asked, err = c.sessions.AnsweredQuestionIDs(ctx, sessionID)
		return err
	})
	if err != nil {
		return err
	}

	var question *model.Question
	if st.CurrentQuestionID != 0 && !st.Completed {
		var q model.Question
		err = c.retryRead(ctx, func() error {
			var err error
			q, err = c.questions.GetQuestion(ctx, st.CurrentQuestionID)
			return err
		})
		switch {
		case err == nil:
			question = &q
		case errors.Is(err, model.ErrNotFound):
			// The question was removed from the bank; a fresh one is
			// fetched on the next NextQuestion call.
			slog.Warn("open question no longer exists", "session_id", sessionID, "question_id", st.CurrentQuestionID)
		default:
			return err
		}
	}

	c.disarm(e)
	e.state = st
	e.question = question
	e.asked = asked
	if len(asked) > 0 {
		e.lastResolved = asked[len(asked)-1]
	}
	e.loaded = true

	if question != nil && st.QuestionOpenedAt != nil && c.cfg.QuestionTimeLimit > 0 {
		remaining := st.QuestionOpenedAt.Add(c.cfg.QuestionTimeLimit).Sub(c.now())
		c.arm(e, max(remaining, 0))
	}
	c.recoverPending(ctx, e)
	return nil
}

// recoverPending applies an answer that was recorded for the open question
// while the matching session update never landed.
func (c *Controller) recoverPending(ctx context.Context, e *entry) {
	if e.state.Completed || e.question == nil || len(e.asked) <= e.state.TotalQuestions {
		return
	}
	pending, err := c.answerAt(ctx, e.state.ID, e.state.TotalQuestions)
	if err != nil || pending == nil || pending.QuestionID != e.question.ID {
		if err != nil {
			slog.Warn("pending answer lookup failed", "session_id", e.state.ID, "error", err)
		}
		return
	}
	if _, err := c.apply(ctx, e, *pending); err != nil {
		// Retried on the next submission for this question.
		slog.Warn("pending answer not applied", "session_id", e.state.ID, "event_id", pending.EventID, "error", err)
		return
	}
	slog.Info("applied answer recorded earlier", "session_id", e.state.ID, "event_id", pending.EventID, "ordinal", pending.Ordinal)
}

// arm starts the timer for the open question. When it fires with the
// question still open, a no-answer resolution is submitted through the
// same path as a learner's answer.
func (c *Controller) arm(e *entry, d time.Duration) {
	c.disarm(e)
	if c.cfg.QuestionTimeLimit <= 0 || e.question == nil {
		return
	}
	c.mu.Lock()
	closed := c.closed
	if !closed {
		c.inflight.Add(1)
	}
	c.mu.Unlock()
	if closed {
		return
	}
	sessionID, questionID, ordinal := e.state.ID, e.question.ID, e.state.TotalQuestions
	e.stopTimer = c.afterFunc(d, func() {
		defer c.inflight.Done()
		c.expire(sessionID, questionID, ordinal)
	})
}

func (c *Controller) disarm(e *entry) {
	if e.stopTimer != nil {
		if e.stopTimer() {
			c.inflight.Done()
		}
		e.stopTimer = nil
	}
}

// expire resolves the question opened at ordinal as unanswered, unless it
// was resolved in the meantime.
func (c *Controller) expire(sessionID string, questionID int64, ordinal int) {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	req := AnswerRequest{QuestionID: questionID, SelectedIndex: engine.NoAnswer, Ordinal: &ordinal}
	out, err := c.submit(ctx, sessionID, req, true)
	switch {
	case err == nil && out.Duplicate:
		slog.Info("timer applied a pending answer", "session_id", sessionID, "question_id", questionID)
	case err == nil:
		slog.Info("question timed out", "session_id", sessionID, "question_id", questionID, "answered", out.State.TotalQuestions)
	case errors.Is(err, model.ErrAlreadyResolved), model.IsValidation(err):
		slog.Debug("timer fired after resolution", "session_id", sessionID, "question_id", questionID, "error", err)
	default:
		slog.Error("timeout not recorded", "session_id", sessionID, "question_id", questionID, "error", err)
	}
}
