package report

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brightpath/assessor/internal/model"
)

func resp(skill model.Skill, d model.Difficulty, subject string, correct, timedOut bool) model.ResponseRecord {
	return model.ResponseRecord{
		AnswerEvent: model.AnswerEvent{IsCorrect: correct, TimedOut: timedOut},
		Skill:       skill,
		Difficulty:  d,
		Subject:     subject,
	}
}

func TestBuild(t *testing.T) {
	done := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	st := model.AssessmentState{
		ID:             "s1",
		LearnerID:      "learner-1",
		CurrentLevel:   4,
		TotalQuestions: 6,
		CorrectAnswers: 4,
		TotalTime:      100,
		SkillScores: map[model.Skill]int{
			model.SkillListening: 20,
			model.SkillGrasping:  5,
		},
		Completed:   true,
		CompletedAt: &done,
	}
	responses := []model.ResponseRecord{
		resp(model.SkillListening, model.DifficultyEasy, "math", true, false),
		resp(model.SkillListening, model.DifficultyMedium, "math", true, false),
		resp(model.SkillGrasping, model.DifficultyMedium, "science", true, false),
		resp(model.SkillGrasping, model.DifficultyHard, "science", false, true),
		resp(model.SkillRetention, model.DifficultyMedium, "", false, false),
		resp(model.SkillGrasping, model.DifficultyMedium, "math", true, false),
	}

	r := Build(st, responses)
	assert.Equal(t, model.StatusCompleted, r.Status)
	assert.Equal(t, 67, r.OverallScore)
	assert.Equal(t, 16.7, r.AvgTimeSeconds)
	assert.Equal(t, 1, r.Timeouts)
	assert.Equal(t, 4, r.FinalLevel)
	assert.Equal(t, model.DifficultyMedium, r.HardestDifficulty)

	require.Len(t, r.Skills, len(model.Skills))
	listening := r.Skills[0]
	assert.Equal(t, model.SkillListening, listening.Skill)
	assert.Equal(t, 2, listening.Answered)
	assert.Equal(t, 100, listening.Accuracy)
	assert.Equal(t, 20, listening.Score)
	assert.Equal(t, model.SkillExcellent, listening.Status)

	grasping := r.Skills[1]
	assert.Equal(t, 67, grasping.Accuracy)
	assert.Equal(t, model.SkillNeedsImprovement, grasping.Status)

	assert.Equal(t, model.SkillCritical, r.Skills[2].Status)
	assert.Empty(t, r.Skills[3].Status)

	assert.Equal(t, []model.Skill{model.SkillListening}, r.Strengths)
	assert.Equal(t, []model.Skill{model.SkillGrasping, model.SkillRetention}, r.Weaknesses)

	require.Len(t, r.Subjects, 2)
	assert.Equal(t, model.SubjectReport{Subject: "math", Answered: 3, Correct: 3, Accuracy: 100}, r.Subjects[0])
	assert.Equal(t, model.SubjectReport{Subject: "science", Answered: 2, Correct: 1, Accuracy: 50}, r.Subjects[1])
}

func TestBuildEmpty(t *testing.T) {
	r := Build(model.AssessmentState{ID: "s1", CurrentLevel: 1}, nil)
	assert.Equal(t, model.StatusInProgress, r.Status)
	assert.Zero(t, r.OverallScore)
	assert.Zero(t, r.AvgTimeSeconds)
	assert.Empty(t, r.Strengths)
	assert.NotNil(t, r.Subjects)
	assert.Len(t, r.Skills, 4)
}

func TestStatus(t *testing.T) {
	tests := []struct {
		accuracy int
		want     model.SkillStatus
	}{
		{100, model.SkillExcellent},
		{85, model.SkillExcellent},
		{84, model.SkillGood},
		{70, model.SkillGood},
		{69, model.SkillNeedsImprovement},
		{50, model.SkillNeedsImprovement},
		{49, model.SkillCritical},
		{0, model.SkillCritical},
	}
	for _, tt := range tests {
		if got := Status(tt.accuracy); got != tt.want {
			t.Errorf("Status(%d) = %q, want %q", tt.accuracy, got, tt.want)
		}
	}
}
