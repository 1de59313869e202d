// Package engine decides how one graded answer changes an assessment and
// which difficulty band the next question should come from.
//
// Everything here is pure: inputs are never mutated and no I/O happens.
package engine

import (
	"github.com/brightpath/assessor/internal/model"
)

const (
	// MinLevel and MaxLevel bound the integer level.
	MinLevel = 1
	MaxLevel = 10
	// DefaultLevel is the level a new session starts at.
	DefaultLevel = 1

	// DefaultQuota is the number of questions in a session.
	DefaultQuota = 10

	// CorrectSkillDelta is added to a skill score on a correct answer.
	CorrectSkillDelta = 10
	// IncorrectSkillPenalty is subtracted on an incorrect answer, floored at 0.
	IncorrectSkillPenalty = 5

	// NoAnswer is the selection recorded when the question timer expires.
	// It never equals a valid option index.
	NoAnswer = -1
)

// NewSkillScores returns a score map with every recognized skill at 0.
func NewSkillScores() map[model.Skill]int {
	scores := make(map[model.Skill]int, len(model.Skills))
	for _, s := range model.Skills {
		scores[s] = 0
	}
	return scores
}

// NewState returns the default state of a freshly started session.
func NewState() model.AssessmentState {
	return model.AssessmentState{
		CurrentLevel: DefaultLevel,
		SkillScores:  NewSkillScores(),
	}
}

// GradeAnswer grades selectedIndex against q and returns the updated state.
// Callers validate the selection first (see ValidateSelection).
func GradeAnswer(state model.AssessmentState, q model.Question, selectedIndex, timeTakenSeconds int) (model.AssessmentState, bool) {
	correct := selectedIndex != NoAnswer && selectedIndex == q.CorrectAnswer

	next := state
	next.SkillScores = copyScores(state.SkillScores)
	next.TotalQuestions = state.TotalQuestions + 1
	if timeTakenSeconds > 0 {
		next.TotalTime = state.TotalTime + timeTakenSeconds
	}

	if correct {
		next.CurrentLevel = min(state.CurrentLevel+1, MaxLevel)
		next.CorrectAnswers = state.CorrectAnswers + 1
		next.SkillScores[q.Skill] += CorrectSkillDelta
	} else {
		next.CurrentLevel = max(state.CurrentLevel-1, MinLevel)
		next.SkillScores[q.Skill] = max(next.SkillScores[q.Skill]-IncorrectSkillPenalty, 0)
	}
	return next, correct
}

// SelectNextDifficulty maps a level to the band of the next question.
func SelectNextDifficulty(level int) model.Difficulty {
	switch {
	case level <= 3:
		return model.DifficultyEasy
	case level <= 6:
		return model.DifficultyMedium
	default:
		return model.DifficultyHard
	}
}

// AdjacentBands lists the bands to try, in order, when band has no question left.
func AdjacentBands(band model.Difficulty) []model.Difficulty {
	switch band {
	case model.DifficultyEasy:
		return []model.Difficulty{model.DifficultyMedium, model.DifficultyHard}
	case model.DifficultyHard:
		return []model.Difficulty{model.DifficultyMedium, model.DifficultyEasy}
	default:
		return []model.Difficulty{model.DifficultyEasy, model.DifficultyHard}
	}
}

// IsSessionComplete reports whether the quota has been reached.
func IsSessionComplete(state model.AssessmentState, quota int) bool {
	if quota <= 0 {
		quota = DefaultQuota
	}
	return state.TotalQuestions >= quota
}

// ValidateSelection checks that selectedIndex is NoAnswer or a valid option of q.
func ValidateSelection(q model.Question, selectedIndex int) error {
	if selectedIndex == NoAnswer {
		return nil
	}
	if selectedIndex < 0 || selectedIndex >= len(q.Options) {
		return model.NewValidationError("invalid_option", "option %d out of range for question %d", selectedIndex, q.ID)
	}
	return nil
}

func copyScores(in map[model.Skill]int) map[model.Skill]int {
	out := make(map[model.Skill]int, len(in)+1)
	for k, v := range in {
		out[k] = v
	}
	return out
}
