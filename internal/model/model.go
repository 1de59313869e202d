package model

import (
	"context"
	"time"
)

// Skill is one of the four tracked learning-competency dimensions.
type Skill string

const (
	SkillListening   Skill = "listening"
	SkillGrasping    Skill = "grasping"
	SkillRetention   Skill = "retention"
	SkillApplication Skill = "application"
)

// Skills lists every recognized skill in display order.
var Skills = []Skill{SkillListening, SkillGrasping, SkillRetention, SkillApplication}

// Valid reports whether s is a recognized skill.
func (s Skill) Valid() bool {
	for _, k := range Skills {
		if s == k {
			return true
		}
	}
	return false
}

// Difficulty represents a question difficulty band.
type Difficulty string

const (
	DifficultyEasy   Difficulty = "easy"
	DifficultyMedium Difficulty = "medium"
	DifficultyHard   Difficulty = "hard"
)

// Valid reports whether d is a known band.
func (d Difficulty) Valid() bool {
	switch d {
	case DifficultyEasy, DifficultyMedium, DifficultyHard:
		return true
	}
	return false
}

// SessionStatus is the lifecycle phase of an assessment session.
type SessionStatus string

const (
	StatusNotStarted SessionStatus = "not_started"
	StatusInProgress SessionStatus = "in_progress"
	StatusCompleted  SessionStatus = "completed"
)

// OptionCount is the number of answer options every question carries.
const OptionCount = 4

// Question is a multiple-choice question from the bank.
type Question struct {
	ID            int64      `json:"id"`
	Text          string     `json:"text"`
	Options       []string   `json:"options"`
	CorrectAnswer int        `json:"correct_answer"`
	Difficulty    Difficulty `json:"difficulty"`
	Skill         Skill      `json:"skill"`
	Subject       string     `json:"subject"`
	CreatedAt     time.Time  `json:"created_at"`
}

// QuestionView is a question as shown to the learner, without the answer key.
type QuestionView struct {
	ID         int64      `json:"id"`
	Text       string     `json:"text"`
	Options    []string   `json:"options"`
	Difficulty Difficulty `json:"difficulty"`
	Skill      Skill      `json:"skill"`
	Subject    string     `json:"subject"`
}

// View strips the answer key.
func (q Question) View() QuestionView {
	return QuestionView{
		ID:         q.ID,
		Text:       q.Text,
		Options:    q.Options,
		Difficulty: q.Difficulty,
		Skill:      q.Skill,
		Subject:    q.Subject,
	}
}

// AssessmentState is the mutable state of one adaptive assessment session.
type AssessmentState struct {
	ID             string        `json:"id"`
	LearnerID      string        `json:"learner_id"`
	CurrentLevel   int           `json:"current_level"`
	TotalQuestions int           `json:"total_questions"`
	CorrectAnswers int           `json:"correct_answers"`
	TotalTime      int           `json:"total_time_seconds"`
	SkillScores    map[Skill]int `json:"skill_scores"`
	Completed      bool          `json:"completed"`
	CompletedAt    *time.Time    `json:"completed_at,omitempty"`
	StartedAt      time.Time     `json:"started_at"`

	// CurrentQuestionID is the open question, 0 when none is open.
	CurrentQuestionID int64      `json:"current_question_id,omitempty"`
	QuestionOpenedAt  *time.Time `json:"question_opened_at,omitempty"`

	// Version increments on every persisted update.
	Version int64 `json:"version"`
}

// Status derives the lifecycle phase.
func (s AssessmentState) Status() SessionStatus {
	switch {
	case s.ID == "":
		return StatusNotStarted
	case s.Completed:
		return StatusCompleted
	default:
		return StatusInProgress
	}
}

// AnswerEvent is one graded answer. EventID makes the append idempotent;
// Ordinal is the zero-based position of the question within the session.
type AnswerEvent struct {
	EventID          string    `json:"event_id"`
	SessionID        string    `json:"session_id"`
	QuestionID       int64     `json:"question_id"`
	Ordinal          int       `json:"ordinal"`
	SelectedIndex    int       `json:"selected_index"`
	IsCorrect        bool      `json:"is_correct"`
	TimeTakenSeconds int       `json:"time_taken_seconds"`
	TimedOut         bool      `json:"timed_out"`
	CreatedAt        time.Time `json:"created_at"`
}

// ResponseRecord joins an answer with the question it answered.
type ResponseRecord struct {
	AnswerEvent
	Skill      Skill      `json:"skill"`
	Difficulty Difficulty `json:"difficulty"`
	Subject    string     `json:"subject"`
}

// AssessmentConfig holds runtime assessment parameters set via CLI flags.
type AssessmentConfig struct {
	Quota             int           // questions per session
	QuestionTimeLimit time.Duration // 0 disables the server-side timer
	WriteRetries      int
	ReadRetries       int
	RetryWait         time.Duration
}

// QuestionImport is used for loading questions from JSON.
type QuestionImport struct {
	Text          string     `json:"text"`
	Options       []string   `json:"options"`
	CorrectAnswer int        `json:"correct_answer"`
	Difficulty    Difficulty `json:"difficulty"`
	Skill         Skill      `json:"skill"`
	Subject       string     `json:"subject"`
}

type learnerCtxKey struct{}

// ContextWithLearnerID stores the caller's learner id, as asserted by the
// upstream auth provider, in the request context.
func ContextWithLearnerID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, learnerCtxKey{}, id)
}

// LearnerIDFromContext returns the learner id, or "".
func LearnerIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(learnerCtxKey{}).(string)
	return id
}

type basePathCtxKey struct{}

// ContextWithBasePath stores the base path prefix in context.
func ContextWithBasePath(ctx context.Context, basePath string) context.Context {
	return context.WithValue(ctx, basePathCtxKey{}, basePath)
}

// BasePathFromContext retrieves the base path from context (empty string if not set).
func BasePathFromContext(ctx context.Context) string {
	bp, _ := ctx.Value(basePathCtxKey{}).(string)
	return bp
}
