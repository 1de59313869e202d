package chat

import (
	"bytes"
	_ "embed"
	"regexp"
	"strings"
	"text/template"
	"unicode/utf8"
)

//go:embed prompts/edubot.txt
var systemPromptText string

var systemPrompt = template.Must(template.New("edubot").Funcs(template.FuncMap{
	"join": joinSubjects,
}).Parse(systemPromptText))

var roleTagRegex = regexp.MustCompile(`(?i)</?\s*(system|assistant|system-instructions)\b[^>]*>`)

// MaxMessageRunes bounds the learner message forwarded upstream.
const MaxMessageRunes = 10000

// DefaultImagePrompt is sent when a request carries only an image.
const DefaultImagePrompt = "Please analyze this image and help me solve any problems or answer any questions you can see."

// PromptData fills the tutor system prompt.
type PromptData struct {
	Name     string
	Subjects []string
	Language string
}

// BuildSystemPrompt renders the tutor system prompt.
func BuildSystemPrompt(data PromptData) (string, error) {
	if data.Name == "" {
		data.Name = "EduBot"
	}
	if len(data.Subjects) == 0 {
		data.Subjects = DefaultSubjects
	}
	var buf bytes.Buffer
	if err := systemPrompt.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// joinSubjects renders ["a", "b", "c"] as "a, b, and c".
func joinSubjects(subjects []string) string {
	switch len(subjects) {
	case 0:
		return ""
	case 1:
		return subjects[0]
	case 2:
		return subjects[0] + " and " + subjects[1]
	}
	return strings.Join(subjects[:len(subjects)-1], ", ") + ", and " + subjects[len(subjects)-1]
}

// sanitizeMessage strips role markup and bounds the length.
func sanitizeMessage(msg string) string {
	msg = roleTagRegex.ReplaceAllString(msg, "")
	msg = strings.TrimSpace(msg)
	if utf8.RuneCountInString(msg) > MaxMessageRunes {
		msg = string([]rune(msg)[:MaxMessageRunes]) + "\n\n[Message truncated due to length]"
	}
	return msg
}
