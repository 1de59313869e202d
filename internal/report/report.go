// Package report derives the diagnostic report of an assessment from its
// state and answer log.
package report

import (
	"math"
	"sort"

	"github.com/brightpath/assessor/internal/model"
)

// Accuracy thresholds (percent) for the skill status buckets.
const (
	ExcellentAt = 85
	GoodAt      = 70
	NeedsWorkAt = 50
)

// Build summarizes st and its responses. It works on in-progress sessions too.
func Build(st model.AssessmentState, responses []model.ResponseRecord) model.Report {
	r := model.Report{
		AssessmentID:   st.ID,
		LearnerID:      st.LearnerID,
		Status:         st.Status(),
		StartedAt:      st.StartedAt,
		CompletedAt:    st.CompletedAt,
		FinalLevel:     st.CurrentLevel,
		TotalQuestions: st.TotalQuestions,
		CorrectAnswers: st.CorrectAnswers,
		OverallScore:   percent(st.CorrectAnswers, st.TotalQuestions),
		Strengths:      []model.Skill{},
		Weaknesses:     []model.Skill{},
	}
	if st.TotalQuestions > 0 {
		r.AvgTimeSeconds = math.Round(float64(st.TotalTime)/float64(st.TotalQuestions)*10) / 10
	}

	type tally struct{ answered, correct int }
	bySkill := make(map[model.Skill]*tally)
	bySubject := make(map[string]*tally)
	for _, resp := range responses {
		if resp.TimedOut {
			r.Timeouts++
		}
		if resp.IsCorrect && rank(resp.Difficulty) > rank(r.HardestDifficulty) {
			r.HardestDifficulty = resp.Difficulty
		}
		sk := bySkill[resp.Skill]
		if sk == nil {
			sk = &tally{}
			bySkill[resp.Skill] = sk
		}
		sk.answered++
		if resp.IsCorrect {
			sk.correct++
		}
		if resp.Subject != "" {
			sub := bySubject[resp.Subject]
			if sub == nil {
				sub = &tally{}
				bySubject[resp.Subject] = sub
			}
			sub.answered++
			if resp.IsCorrect {
				sub.correct++
			}
		}
	}

	for _, skill := range model.Skills {
		sr := model.SkillReport{Skill: skill, Score: st.SkillScores[skill]}
		if t := bySkill[skill]; t != nil {
			sr.Answered, sr.Correct = t.answered, t.correct
			sr.Accuracy = percent(t.correct, t.answered)
			sr.Status = Status(sr.Accuracy)
			switch sr.Status {
			case model.SkillExcellent, model.SkillGood:
				r.Strengths = append(r.Strengths, skill)
			default:
				r.Weaknesses = append(r.Weaknesses, skill)
			}
		}
		r.Skills = append(r.Skills, sr)
	}

	subjects := make([]string, 0, len(bySubject))
	for s := range bySubject {
		subjects = append(subjects, s)
	}
	sort.Strings(subjects)
	r.Subjects = make([]model.SubjectReport, 0, len(subjects))
	for _, s := range subjects {
		t := bySubject[s]
		r.Subjects = append(r.Subjects, model.SubjectReport{
			Subject:  s,
			Answered: t.answered,
			Correct:  t.correct,
			Accuracy: percent(t.correct, t.answered),
		})
	}
	return r
}

// Status buckets an accuracy percentage.
func Status(accuracy int) model.SkillStatus {
	switch {
	case accuracy >= ExcellentAt:
		return model.SkillExcellent
	case accuracy >= GoodAt:
		return model.SkillGood
	case accuracy >= NeedsWorkAt:
		return model.SkillNeedsImprovement
	default:
		return model.SkillCritical
	}
}

func percent(part, total int) int {
	if total == 0 {
		return 0
	}
	return int(math.Round(float64(part) * 100 / float64(total)))
}

func rank(d model.Difficulty) int {
	switch d {
	case model.DifficultyEasy:
		return 1
	case model.DifficultyMedium:
		return 2
	case model.DifficultyHard:
		return 3
	}
	return 0
}
