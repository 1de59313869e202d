package i18n

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

func initLang(t *testing.T, lang string) context.Context {
	t.Helper()
	if err := Init("en"); err != nil {
		t.Fatalf("Init: %v", err)
	}
	return WithLang(context.Background(), lang)
}

func TestTranslateEnglish(t *testing.T) {
	ctx := initLang(t, "en")

	if got := T(ctx, "AppTitle"); got != "Assessor" {
		t.Errorf("T(AppTitle) = %q, want 'Assessor'", got)
	}
	if got := T(ctx, "ErrSessionNotFound"); got != "Assessment not found." {
		t.Errorf("T(ErrSessionNotFound) = %q, want 'Assessment not found.'", got)
	}
}

func TestTranslateHindi(t *testing.T) {
	ctx := initLang(t, "hi")

	if got := T(ctx, "ReportTitle"); got != "नैदानिक रिपोर्ट" {
		t.Errorf("T(ReportTitle) = %q, want 'नैदानिक रिपोर्ट'", got)
	}
	if got := T(ctx, "SkillListening"); got != "सुनना" {
		t.Errorf("T(SkillListening) = %q, want 'सुनना'", got)
	}
}

func TestPluralTranslation(t *testing.T) {
	ctx := initLang(t, "en")

	if got := Tp(ctx, "QuestionsRemaining", 1); got != "1 question remaining." {
		t.Errorf("Tp(QuestionsRemaining, 1) = %q", got)
	}
	if got := Tp(ctx, "QuestionsRemaining", 5); got != "5 questions remaining." {
		t.Errorf("Tp(QuestionsRemaining, 5) = %q", got)
	}
}

func TestTemplateDataTranslation(t *testing.T) {
	ctx := initLang(t, "en")

	got := Td(ctx, "AssessmentCompleted", map[string]any{"Correct": 7, "Total": 10})
	if got != "Assessment complete! You answered 7 of 10 correctly." {
		t.Errorf("Td(AssessmentCompleted) = %q", got)
	}
}

func TestMissingKey(t *testing.T) {
	ctx := initLang(t, "en")

	if got := T(ctx, "NonExistentKey"); got != "NonExistentKey" {
		t.Errorf("T(NonExistentKey) = %q, want 'NonExistentKey'", got)
	}
}

func TestMatch(t *testing.T) {
	if err := Init("en"); err != nil {
		t.Fatalf("Init: %v", err)
	}
	tests := []struct {
		name  string
		prefs []string
		want  string
	}{
		{"none", nil, "en"},
		{"query", []string{"hi", "en-US"}, "hi"},
		{"header", []string{"", "hi-IN,hi;q=0.9,en;q=0.8"}, "hi"},
		{"regional english", []string{"", "en-GB"}, "en"},
		{"unsupported", []string{"fr", "de-DE"}, "en"},
		{"unsupported query falls to header", []string{"fr", "hi"}, "hi"},
		{"garbage", []string{"!!", ""}, "en"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Match(tt.prefs...); got != tt.want {
				t.Errorf("Match(%q) = %q, want %q", tt.prefs, got, tt.want)
			}
		})
	}
}

func TestLanguageName(t *testing.T) {
	if got := LanguageName("hi"); got != "Hindi" {
		t.Errorf("LanguageName(hi) = %q, want 'Hindi'", got)
	}
}

func TestMiddleware(t *testing.T) {
	if err := Init("en"); err != nil {
		t.Fatalf("Init: %v", err)
	}
	var got string
	h := Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = T(r.Context(), "ErrInternal")
	}))

	req := httptest.NewRequest(http.MethodGet, "/?lang=hi", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if got != "कुछ गलत हो गया।" {
		t.Errorf("localized message = %q", got)
	}
	if cl := rec.Header().Get("Content-Language"); cl != "hi" {
		t.Errorf("Content-Language = %q, want 'hi'", cl)
	}

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Accept-Language", "de")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if got != "Something went wrong." {
		t.Errorf("fallback message = %q", got)
	}
}
