package views

import (
	"context"
	"strings"
	"testing"

	appI18n "github.com/brightpath/assessor/internal/i18n"
	"github.com/brightpath/assessor/internal/model"
)

func TestReportPage(t *testing.T) {
	if err := appI18n.Init("en"); err != nil {
		t.Fatalf("Init: %v", err)
	}
	rep := model.Report{
		AssessmentID:   "abc",
		LearnerID:      "<learner>",
		Status:         model.StatusCompleted,
		FinalLevel:     6,
		TotalQuestions: 10,
		CorrectAnswers: 7,
		OverallScore:   70,
		AvgTimeSeconds: 12.5,
		Skills: []model.SkillReport{
			{Skill: model.SkillListening, Answered: 4, Correct: 4, Accuracy: 100, Score: 40, Status: model.SkillExcellent},
			{Skill: model.SkillGrasping},
		},
		Subjects:   []model.SubjectReport{{Subject: "math & <b>logic</b>", Answered: 10, Correct: 7, Accuracy: 70}},
		Strengths:  []model.Skill{model.SkillListening},
		Weaknesses: []model.Skill{},
	}

	var sb strings.Builder
	ctx := model.ContextWithBasePath(appI18n.WithLang(context.Background(), "en"), "/assess")
	if err := ReportPage(rep).Render(ctx, &sb); err != nil {
		t.Fatalf("Render: %v", err)
	}
	html := sb.String()

	for _, want := range []string{
		`<html lang="en">`,
		"<h1>Diagnostic Report</h1>",
		"Learner &lt;learner&gt;",
		"70% (7/10)",
		"12.5s",
		`<span data-status="excellent">Excellent</span>`,
		"math &amp; &lt;b&gt;logic&lt;/b&gt;",
		"<li>Listening</li>",
		"None yet",
		`<a href="/assess/assessments/abc/report">`,
		"<td>&ndash;</td>",
	} {
		if !strings.Contains(html, want) {
			t.Errorf("rendered page missing %q", want)
		}
	}
	if strings.Contains(html, "<learner>") {
		t.Error("learner id was not escaped")
	}
}

func TestReportPageHindi(t *testing.T) {
	if err := appI18n.Init("en"); err != nil {
		t.Fatalf("Init: %v", err)
	}
	var sb strings.Builder
	err := ReportPage(model.Report{Status: model.StatusInProgress}).Render(appI18n.WithLang(context.Background(), "hi"), &sb)
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if !strings.Contains(sb.String(), "नैदानिक रिपोर्ट") {
		t.Error("page title not localized")
	}
	if !strings.Contains(sb.String(), `lang="hi"`) {
		t.Error("html lang attribute not set")
	}
}
