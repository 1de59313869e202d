package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/brightpath/assessor/internal/engine"
	"github.com/brightpath/assessor/internal/model"
)

const assessmentColumns = `id, learner_id, current_level, total_questions, correct_answers, total_time,
	skill_scores, is_completed, completed_at, started_at, current_question_id, question_opened_at, version`

func scanAssessment(row rowScanner) (model.AssessmentState, error) {
	var st model.AssessmentState
	var scores string
	var questionID sql.NullInt64
	err := row.Scan(&st.ID, &st.LearnerID, &st.CurrentLevel, &st.TotalQuestions, &st.CorrectAnswers, &st.TotalTime,
		&scores, &st.Completed, &st.CompletedAt, &st.StartedAt, &questionID, &st.QuestionOpenedAt, &st.Version)
	if err != nil {
		return st, err
	}
	st.CurrentQuestionID = questionID.Int64
	st.SkillScores = engine.NewSkillScores()
	if err := json.Unmarshal([]byte(scores), &st.SkillScores); err != nil {
		return st, fmt.Errorf("decode skill scores of %s: %w", st.ID, err)
	}
	return st, nil
}

// CreateSession initializes a new adaptive assessment for learnerID.
func (s *Store) CreateSession(ctx context.Context, learnerID string) (model.AssessmentState, error) {
	st := engine.NewState()
	st.ID = uuid.NewString()
	st.LearnerID = learnerID
	st.StartedAt = s.now()

	scores, err := json.Marshal(st.SkillScores)
	if err != nil {
		return st, err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO assessments (id, learner_id, current_level, skill_scores, started_at, version)
		 VALUES (?, ?, ?, ?, ?, 0)`,
		st.ID, st.LearnerID, st.CurrentLevel, string(scores), st.StartedAt,
	)
	if err != nil {
		return st, &model.WriteError{Op: "create session", Err: err}
	}
	slog.Info("created assessment", "session_id", st.ID, "learner_id", learnerID)
	return st, nil
}

// GetSession returns an assessment by ID.
func (s *Store) GetSession(ctx context.Context, id string) (model.AssessmentState, error) {
	st, err := scanAssessment(s.db.QueryRowContext(ctx,
		`SELECT `+assessmentColumns+` FROM assessments WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return st, model.ErrSessionNotFound
	}
	if err != nil {
		return st, &model.ReadError{Op: "get session", Err: err}
	}
	return st, nil
}

// UpdateSession persists st if the stored version still equals st.Version
// and the session is not completed. It returns the new version.
func (s *Store) UpdateSession(ctx context.Context, st model.AssessmentState) (int64, error) {
	scores, err := json.Marshal(st.SkillScores)
	if err != nil {
		return 0, err
	}
	var questionID any
	if st.CurrentQuestionID != 0 {
		questionID = st.CurrentQuestionID
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE assessments SET current_level = ?, total_questions = ?, correct_answers = ?, total_time = ?,
			skill_scores = ?, current_question_id = ?, question_opened_at = ?, version = version + 1
		 WHERE id = ? AND version = ? AND is_completed = 0`,
		st.CurrentLevel, st.TotalQuestions, st.CorrectAnswers, st.TotalTime,
		string(scores), questionID, st.QuestionOpenedAt, st.ID, st.Version,
	)
	if err != nil {
		return 0, &model.WriteError{Op: "update session", Err: err}
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, &model.WriteError{Op: "update session", Err: err}
	}
	if n == 0 {
		return 0, s.missOrConflict(ctx, st.ID)
	}
	return st.Version + 1, nil
}

// CompleteSession marks the session completed. Completing an already
// completed session is a no-op.
func (s *Store) CompleteSession(ctx context.Context, id string, completedAt time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE assessments SET is_completed = 1, completed_at = ?, current_question_id = NULL,
			question_opened_at = NULL, version = version + 1
		 WHERE id = ? AND is_completed = 0`,
		completedAt, id,
	)
	if err != nil {
		return &model.WriteError{Op: "complete session", Err: err}
	}
	n, err := res.RowsAffected()
	if err != nil {
		return &model.WriteError{Op: "complete session", Err: err}
	}
	if n == 0 {
		if _, err := s.GetSession(ctx, id); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) missOrConflict(ctx context.Context, id string) error {
	if _, err := s.GetSession(ctx, id); err != nil {
		return err
	}
	return model.ErrConflict
}

// FindAnswer returns the answer recorded under eventID, or nil.
func (s *Store) FindAnswer(ctx context.Context, eventID string) (*model.AnswerEvent, error) {
	ev, err := scanAnswer(s.db.QueryRowContext(ctx,
		`SELECT `+answerColumns+` FROM assessment_responses WHERE event_id = ?`, eventID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, &model.ReadError{Op: "find answer", Err: err}
	}
	return &ev, nil
}

// AnswerAt returns the answer recorded for the question at ordinal in a
// session, or nil.
func (s *Store) AnswerAt(ctx context.Context, sessionID string, ordinal int) (*model.AnswerEvent, error) {
	ev, err := scanAnswer(s.db.QueryRowContext(ctx,
		`SELECT `+answerColumns+` FROM assessment_responses WHERE assessment_id = ? AND ordinal = ?`,
		sessionID, ordinal))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, &model.ReadError{Op: "answer at ordinal", Err: err}
	}
	return &ev, nil
}

// AppendAnswer records ev. Replaying an already recorded event id returns
// the stored event with duplicate set; a different event for an ordinal
// that is already answered returns model.ErrAlreadyResolved.
func (s *Store) AppendAnswer(ctx context.Context, ev model.AnswerEvent) (model.AnswerEvent, bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return ev, false, &model.WriteError{Op: "append answer", Err: err}
	}
	defer tx.Rollback()

	existing, err := scanAnswer(tx.QueryRowContext(ctx,
		`SELECT `+answerColumns+` FROM assessment_responses WHERE event_id = ?`, ev.EventID))
	switch {
	case err == nil:
		return existing, true, nil
	case err != sql.ErrNoRows:
		return ev, false, &model.WriteError{Op: "append answer", Err: err}
	}

	var taken int
	err = tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM assessment_responses WHERE assessment_id = ? AND ordinal = ?`,
		ev.SessionID, ev.Ordinal,
	).Scan(&taken)
	if err != nil {
		return ev, false, &model.WriteError{Op: "append answer", Err: err}
	}
	if taken > 0 {
		return ev, false, model.ErrAlreadyResolved
	}

	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = s.now()
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO assessment_responses
			(event_id, assessment_id, question_id, ordinal, selected_answer, is_correct, time_taken, timed_out, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ev.EventID, ev.SessionID, ev.QuestionID, ev.Ordinal, ev.SelectedIndex, ev.IsCorrect,
		ev.TimeTakenSeconds, ev.TimedOut, ev.CreatedAt,
	)
	if err != nil {
		return ev, false, &model.WriteError{Op: "append answer", Err: err}
	}
	if err := tx.Commit(); err != nil {
		return ev, false, &model.WriteError{Op: "append answer", Err: err}
	}
	return ev, false, nil
}

const answerColumns = `event_id, assessment_id, question_id, ordinal, selected_answer, is_correct, time_taken, timed_out, created_at`

func scanAnswer(row rowScanner) (model.AnswerEvent, error) {
	var ev model.AnswerEvent
	err := row.Scan(&ev.EventID, &ev.SessionID, &ev.QuestionID, &ev.Ordinal, &ev.SelectedIndex,
		&ev.IsCorrect, &ev.TimeTakenSeconds, &ev.TimedOut, &ev.CreatedAt)
	return ev, err
}

// AnsweredQuestionIDs returns the ids of questions already answered in a session.
func (s *Store) AnsweredQuestionIDs(ctx context.Context, sessionID string) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT question_id FROM assessment_responses WHERE assessment_id = ? ORDER BY ordinal`, sessionID)
	if err != nil {
		return nil, &model.ReadError{Op: "answered questions", Err: err}
	}
	defer rows.Close()
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// ListResponses returns a session's answers joined with question metadata.
func (s *Store) ListResponses(ctx context.Context, sessionID string) ([]model.ResponseRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT r.event_id, r.assessment_id, r.question_id, r.ordinal, r.selected_answer, r.is_correct,
			r.time_taken, r.timed_out, r.created_at, q.skill, q.difficulty, q.subject
		 FROM assessment_responses r JOIN questions q ON q.id = r.question_id
		 WHERE r.assessment_id = ? ORDER BY r.ordinal`, sessionID)
	if err != nil {
		return nil, &model.ReadError{Op: "list responses", Err: err}
	}
	defer rows.Close()
	var out []model.ResponseRecord
	for rows.Next() {
		var r model.ResponseRecord
		if err := rows.Scan(&r.EventID, &r.SessionID, &r.QuestionID, &r.Ordinal, &r.SelectedIndex, &r.IsCorrect,
			&r.TimeTakenSeconds, &r.TimedOut, &r.CreatedAt, &r.Skill, &r.Difficulty, &r.Subject); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// ListSessions returns sessions newest first. An empty learnerID lists all.
func (s *Store) ListSessions(ctx context.Context, learnerID string) ([]model.AssessmentState, error) {
	query := `SELECT ` + assessmentColumns + ` FROM assessments`
	var args []any
	if learnerID != "" {
		query += ` WHERE learner_id = ?`
		args = append(args, learnerID)
	}
	query += ` ORDER BY started_at DESC, id`
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, &model.ReadError{Op: "list sessions", Err: err}
	}
	defer rows.Close()
	var sessions []model.AssessmentState
	for rows.Next() {
		st, err := scanAssessment(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, st)
	}
	return sessions, rows.Err()
}
