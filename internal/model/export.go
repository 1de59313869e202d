package model

import "time"

// SkillStatus buckets a skill's accuracy for the diagnostic report.
type SkillStatus string

const (
	SkillExcellent        SkillStatus = "excellent"
	SkillGood             SkillStatus = "good"
	SkillNeedsImprovement SkillStatus = "needs-improvement"
	SkillCritical         SkillStatus = "critical"
)

// Report is the diagnostic report for one assessment.
type Report struct {
	AssessmentID      string          `json:"assessment_id"`
	LearnerID         string          `json:"learner_id"`
	Status            SessionStatus   `json:"status"`
	StartedAt         time.Time       `json:"started_at"`
	CompletedAt       *time.Time      `json:"completed_at,omitempty"`
	FinalLevel        int             `json:"final_level"`
	TotalQuestions    int             `json:"total_questions"`
	CorrectAnswers    int             `json:"correct_answers"`
	OverallScore      int             `json:"overall_score"`
	AvgTimeSeconds    float64         `json:"avg_time_seconds"`
	Timeouts          int             `json:"timeouts"`
	Skills            []SkillReport   `json:"skills"`
	Subjects          []SubjectReport `json:"subjects"`
	Strengths         []Skill         `json:"strengths"`
	Weaknesses        []Skill         `json:"weaknesses"`
	HardestDifficulty Difficulty      `json:"hardest_difficulty,omitempty"`
}

// SkillReport is the per-skill breakdown.
type SkillReport struct {
	Skill    Skill       `json:"skill"`
	Answered int         `json:"answered"`
	Correct  int         `json:"correct"`
	Accuracy int         `json:"accuracy"`
	Score    int         `json:"score"`
	Status   SkillStatus `json:"status,omitempty"`
}

// SubjectReport is the per-subject breakdown.
type SubjectReport struct {
	Subject  string `json:"subject"`
	Answered int    `json:"answered"`
	Correct  int    `json:"correct"`
	Accuracy int    `json:"accuracy"`
}

// LearnerExport is the top-level JSON structure for a learner data export.
type LearnerExport struct {
	LearnerID   string             `json:"learner_id,omitempty"`
	GeneratedAt time.Time          `json:"generated_at"`
	Assessments []AssessmentExport `json:"assessments"`
}

// AssessmentExport holds one assessment with its responses.
type AssessmentExport struct {
	State     AssessmentState  `json:"assessment"`
	Responses []ResponseRecord `json:"responses"`
}
