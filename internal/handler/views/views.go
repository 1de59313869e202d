// Package views renders the HTML pages. Components are written in .templ
// files; run `templ generate` after editing them.
package views

import (
	"context"

	"github.com/brightpath/assessor/internal/model"
)

var skillLabels = map[model.Skill]string{
	model.SkillListening:   "SkillListening",
	model.SkillGrasping:    "SkillGrasping",
	model.SkillRetention:   "SkillRetention",
	model.SkillApplication: "SkillApplication",
}

var statusLabels = map[model.SkillStatus]string{
	model.SkillExcellent:        "StatusExcellent",
	model.SkillGood:             "StatusGood",
	model.SkillNeedsImprovement: "StatusNeedsImprovement",
	model.SkillCritical:         "StatusCritical",
}

func progressLabel(s model.SessionStatus) string {
	if s == model.StatusCompleted {
		return "StatusCompleted"
	}
	return "StatusInProgress"
}

func jsonReportURL(ctx context.Context, assessmentID string) string {
	return model.BasePathFromContext(ctx) + "/assessments/" + assessmentID + "/report"
}
