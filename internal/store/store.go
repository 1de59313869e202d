package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/brightpath/assessor/internal/model"

	_ "modernc.org/sqlite"
)

// Store is the SQLite-backed question bank and assessment store.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(ON)")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// One writer; also keeps ":memory:" databases on a single connection.
	db.SetMaxOpenConns(1)
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	s := &Store{db: db, now: time.Now}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS questions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		text TEXT NOT NULL,
		options TEXT NOT NULL,
		correct_answer INTEGER NOT NULL,
		difficulty TEXT NOT NULL,
		skill TEXT NOT NULL,
		subject TEXT NOT NULL DEFAULT '',
		created_at DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_questions_difficulty ON questions(difficulty, created_at);

	CREATE TABLE IF NOT EXISTS assessments (
		id TEXT PRIMARY KEY,
		learner_id TEXT NOT NULL,
		assessment_type TEXT NOT NULL DEFAULT 'adaptive',
		current_level INTEGER NOT NULL DEFAULT 1,
		total_questions INTEGER NOT NULL DEFAULT 0,
		correct_answers INTEGER NOT NULL DEFAULT 0,
		total_time INTEGER NOT NULL DEFAULT 0,
		skill_scores TEXT NOT NULL DEFAULT '{}',
		is_completed INTEGER NOT NULL DEFAULT 0,
		completed_at DATETIME,
		started_at DATETIME NOT NULL,
		current_question_id INTEGER,
		question_opened_at DATETIME,
		version INTEGER NOT NULL DEFAULT 0
	);

	CREATE INDEX IF NOT EXISTS idx_assessments_learner ON assessments(learner_id, started_at);

	CREATE TABLE IF NOT EXISTS assessment_responses (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		event_id TEXT NOT NULL UNIQUE,
		assessment_id TEXT NOT NULL,
		question_id INTEGER NOT NULL,
		ordinal INTEGER NOT NULL,
		selected_answer INTEGER NOT NULL,
		is_correct INTEGER NOT NULL,
		time_taken INTEGER NOT NULL DEFAULT 0,
		timed_out INTEGER NOT NULL DEFAULT 0,
		created_at DATETIME NOT NULL,
		UNIQUE (assessment_id, ordinal),
		FOREIGN KEY (assessment_id) REFERENCES assessments(id),
		FOREIGN KEY (question_id) REFERENCES questions(id)
	);

	CREATE TABLE IF NOT EXISTS app_metadata (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

const questionColumns = `id, text, options, correct_answer, difficulty, skill, subject, created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

// execer is satisfied by both *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func scanQuestion(row rowScanner) (model.Question, error) {
	var q model.Question
	var options string
	if err := row.Scan(&q.ID, &q.Text, &options, &q.CorrectAnswer, &q.Difficulty, &q.Skill, &q.Subject, &q.CreatedAt); err != nil {
		return q, err
	}
	if err := json.Unmarshal([]byte(options), &q.Options); err != nil {
		return q, fmt.Errorf("decode options of question %d: %w", q.ID, err)
	}
	return q, nil
}

// InsertQuestion stores a question.
func (s *Store) InsertQuestion(ctx context.Context, q model.Question) (int64, error) {
	return s.insertQuestion(ctx, s.db, q)
}

func (s *Store) insertQuestion(ctx context.Context, ex execer, q model.Question) (int64, error) {
	options, err := json.Marshal(q.Options)
	if err != nil {
		return 0, err
	}
	createdAt := q.CreatedAt
	if createdAt.IsZero() {
		createdAt = s.now()
	}
	res, err := ex.ExecContext(ctx,
		`INSERT INTO questions (text, options, correct_answer, difficulty, skill, subject, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		q.Text, string(options), q.CorrectAnswer, q.Difficulty, q.Skill, q.Subject, createdAt,
	)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// GetQuestion returns a question by ID.
func (s *Store) GetQuestion(ctx context.Context, id int64) (model.Question, error) {
	q, err := scanQuestion(s.db.QueryRowContext(ctx,
		`SELECT `+questionColumns+` FROM questions WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return q, model.ErrNotFound
	}
	if err != nil {
		return q, &model.ReadError{Op: "get question", Err: err}
	}
	return q, nil
}

// ListQuestionsFiltered returns questions matching the given filters.
// Empty strings mean no filtering on that field.
func (s *Store) ListQuestionsFiltered(ctx context.Context, difficulty model.Difficulty, skill model.Skill) ([]model.Question, error) {
	query := `SELECT ` + questionColumns + ` FROM questions WHERE 1=1`
	var args []any
	if difficulty != "" {
		query += ` AND difficulty = ?`
		args = append(args, difficulty)
	}
	if skill != "" {
		query += ` AND skill = ?`
		args = append(args, skill)
	}
	query += ` ORDER BY id`
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, &model.ReadError{Op: "list questions", Err: err}
	}
	defer rows.Close()
	var questions []model.Question
	for rows.Next() {
		q, err := scanQuestion(rows)
		if err != nil {
			return nil, err
		}
		questions = append(questions, q)
	}
	return questions, rows.Err()
}

// FetchQuestion returns the newest question in band that is not in excludeIDs.
// It returns model.ErrNotFound when the band has nothing left.
func (s *Store) FetchQuestion(ctx context.Context, band model.Difficulty, excludeIDs []int64) (model.Question, error) {
	query := `SELECT ` + questionColumns + ` FROM questions WHERE difficulty = ?`
	args := []any{band}
	if len(excludeIDs) > 0 {
		query += ` AND id NOT IN (` + placeholders(len(excludeIDs)) + `)`
		for _, id := range excludeIDs {
			args = append(args, id)
		}
	}
	query += ` ORDER BY created_at DESC, id DESC LIMIT 1`

	q, err := scanQuestion(s.db.QueryRowContext(ctx, query, args...))
	if err == sql.ErrNoRows {
		return q, model.ErrNotFound
	}
	if err != nil {
		return q, &model.ReadError{Op: "fetch question", Err: err}
	}
	return q, nil
}

// QuestionCount returns the number of questions in the database.
func (s *Store) QuestionCount(ctx context.Context) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM questions`).Scan(&count)
	return count, err
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}
