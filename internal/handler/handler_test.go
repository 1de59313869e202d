package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/brightpath/assessor/internal/assessment"
	"github.com/brightpath/assessor/internal/chat"
	appI18n "github.com/brightpath/assessor/internal/i18n"
	"github.com/brightpath/assessor/internal/model"
	"github.com/brightpath/assessor/internal/store"
)

func TestMain(m *testing.M) {
	if err := appI18n.Init("en"); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	os.Exit(m.Run())
}

const bankJSON = `[
  {"text": "2 + 2 = ?", "options": ["3", "4", "5", "6"], "correct_answer": 1, "difficulty": "easy", "skill": "application", "subject": "math"},
  {"text": "Plants make food by?", "options": ["Osmosis", "Photosynthesis", "Digestion", "Respiration"], "correct_answer": 1, "difficulty": "easy", "skill": "grasping", "subject": "science"},
  {"text": "Capital of India?", "options": ["Mumbai", "New Delhi", "Kolkata", "Chennai"], "correct_answer": 1, "difficulty": "easy", "skill": "retention", "subject": "social studies"},
  {"text": "12 x 12 = ?", "options": ["124", "144", "132", "154"], "correct_answer": 1, "difficulty": "medium", "skill": "application", "subject": "math"},
  {"text": "H2O is?", "options": ["Salt", "Water", "Oxygen", "Hydrogen"], "correct_answer": 1, "difficulty": "hard", "skill": "listening", "subject": "science"}
]`

type testEnv struct {
	srv   *httptest.Server
	store *store.Store
}

func newTestEnv(t *testing.T, cfg Config, bot *chat.Client) *testEnv {
	t.Helper()
	s, err := store.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	_, err = s.ImportQuestions(context.Background(), "bank.json", []byte(bankJSON))
	require.NoError(t, err)

	ctrl := assessment.New(s, s, model.AssessmentConfig{Quota: 3})
	t.Cleanup(ctrl.Close)
	if bot == nil {
		bot = chat.New(chat.Config{})
	}
	h := New(s, ctrl, bot, cfg)

	r := chi.NewRouter()
	r.Use(CORS(nil))
	r.Use(appI18n.Middleware)
	r.Use(h.BasePathMiddleware)
	h.Routes(r)

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return &testEnv{srv: srv, store: s}
}

func (e *testEnv) do(t *testing.T, method, path string, body any, header map[string]string) (*http.Response, []byte) {
	t.Helper()
	var rd io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		rd = strings.NewReader(b)
	default:
		data, err := json.Marshal(b)
		require.NoError(t, err)
		rd = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, e.srv.URL+path, rd)
	require.NoError(t, err)
	if rd != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range header {
		req.Header.Set(k, v)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, data
}

func decode[T any](t *testing.T, data []byte) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(data, &v), string(data))
	return v
}

func (e *testEnv) start(t *testing.T, learnerID string) sessionResponse {
	t.Helper()
	resp, data := e.do(t, http.MethodPost, "/assessments", map[string]string{"learner_id": learnerID}, nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(data))
	return decode[sessionResponse](t, data)
}

func answerBody(questionID int64, sel int) map[string]any {
	return map[string]any{"question_id": questionID, "selected_index": sel, "time_taken_seconds": 5}
}

func TestAssessmentFlow(t *testing.T) {
	env := newTestEnv(t, Config{}, nil)

	resp, data := env.do(t, http.MethodPost, "/assessments", map[string]string{"learner_id": "learner-1"}, nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(data))
	assert.NotContains(t, string(data), "correct_answer")
	started := decode[sessionResponse](t, data)
	assert.Equal(t, "/assessments/"+started.Session.ID, resp.Header.Get("Location"))
	assert.Equal(t, model.StatusInProgress, started.Status)
	assert.Equal(t, 3, started.Remaining)
	assert.Equal(t, "3 questions remaining.", started.Notice)
	require.NotNil(t, started.Question)
	assert.Equal(t, model.DifficultyEasy, started.Question.Difficulty)

	base := "/assessments/" + started.Session.ID
	q := started.Question
	var last answerResponse
	for i := range 3 {
		require.NotNil(t, q, "question %d", i)
		resp, data = env.do(t, http.MethodPost, base+"/answers", answerBody(q.ID, 1), nil)
		require.Equal(t, http.StatusOK, resp.StatusCode, string(data))
		last = decode[answerResponse](t, data)
		assert.True(t, last.IsCorrect)
		assert.NotEmpty(t, last.Answer.EventID)
		q = last.Question
	}
	assert.Equal(t, model.StatusCompleted, last.Status)
	assert.Equal(t, 4, last.Session.CurrentLevel)
	assert.Equal(t, "Assessment complete! You answered 3 of 3 correctly.", last.Notice)

	resp, data = env.do(t, http.MethodPost, base+"/answers", answerBody(1, 1), nil)
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	assert.Equal(t, "session_completed", decode[errorResponse](t, data).Code)

	resp, data = env.do(t, http.MethodGet, base+"/report", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(data))
	rep := decode[model.Report](t, data)
	assert.Equal(t, 100, rep.OverallScore)
	assert.Equal(t, 3, rep.TotalQuestions)
	assert.Equal(t, float64(5), rep.AvgTimeSeconds)
	assert.Len(t, rep.Subjects, 3)

	resp, data = env.do(t, http.MethodGet, base+"/report.html", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Type"), "text/html")
	assert.Contains(t, string(data), "Diagnostic Report")
	assert.Contains(t, string(data), "social studies")

	resp, data = env.do(t, http.MethodGet, "/learners/learner-1/assessments", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	history := decode[[]historyEntry](t, data)
	require.Len(t, history, 1)
	assert.Equal(t, model.StatusCompleted, history[0].Status)
	assert.Equal(t, 100, history[0].Score)
}

func TestStartLearnerIdentity(t *testing.T) {
	env := newTestEnv(t, Config{}, nil)

	resp, data := env.do(t, http.MethodPost, "/assessments", nil, map[string]string{LearnerHeader: "learner-7"})
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(data))
	assert.Equal(t, "learner-7", decode[sessionResponse](t, data).Session.LearnerID)

	resp, data = env.do(t, http.MethodPost, "/assessments", map[string]string{}, nil)
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	body := decode[errorResponse](t, data)
	assert.Equal(t, "missing_learner", body.Code)
	assert.Equal(t, "A learner id is required.", body.Error)

	resp, data = env.do(t, http.MethodPost, "/assessments?lang=hi", map[string]string{}, nil)
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	assert.Equal(t, "शिक्षार्थी आईडी आवश्यक है।", decode[errorResponse](t, data).Error)
	assert.Equal(t, "hi", resp.Header.Get("Content-Language"))
}

func TestAnswerErrors(t *testing.T) {
	env := newTestEnv(t, Config{}, nil)
	started := env.start(t, "learner-1")
	base := "/assessments/" + started.Session.ID
	qid := started.Question.ID

	tests := []struct {
		name   string
		path   string
		body   any
		status int
		code   string
	}{
		{"unknown session", "/assessments/nope/answers", answerBody(qid, 1), http.StatusNotFound, "session_not_found"},
		{"bad json", base + "/answers", "{", http.StatusUnprocessableEntity, "bad_request"},
		{"missing selection", base + "/answers", map[string]any{"question_id": qid}, http.StatusUnprocessableEntity, "invalid_option"},
		{"option out of range", base + "/answers", answerBody(qid, 7), http.StatusUnprocessableEntity, "invalid_option"},
		{"wrong question", base + "/answers", answerBody(qid+100, 1), http.StatusUnprocessableEntity, "question_not_open"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, data := env.do(t, http.MethodPost, tt.path, tt.body, nil)
			assert.Equal(t, tt.status, resp.StatusCode, string(data))
			assert.Equal(t, tt.code, decode[errorResponse](t, data).Code)
		})
	}

	body := answerBody(qid, 0)
	body["event_id"] = "evt-1"
	resp, data := env.do(t, http.MethodPost, base+"/answers", body, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(data))
	first := decode[answerResponse](t, data)
	assert.False(t, first.IsCorrect)
	assert.Equal(t, "Not quite. Level is now 1.", first.Notice)

	resp, data = env.do(t, http.MethodPost, base+"/answers", body, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(data))
	replay := decode[answerResponse](t, data)
	assert.True(t, replay.Duplicate)
	assert.Equal(t, 1, replay.Session.TotalQuestions)

	resp, data = env.do(t, http.MethodPost, base+"/timeout", map[string]any{"question_id": qid}, nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, "already_resolved", decode[errorResponse](t, data).Code)
}

func TestTimeoutEndpoint(t *testing.T) {
	env := newTestEnv(t, Config{}, nil)
	started := env.start(t, "learner-1")

	resp, data := env.do(t, http.MethodPost, "/assessments/"+started.Session.ID+"/timeout",
		map[string]any{"question_id": started.Question.ID}, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(data))
	out := decode[answerResponse](t, data)
	assert.True(t, out.Answer.TimedOut)
	assert.Equal(t, -1, out.Answer.SelectedIndex)
	assert.False(t, out.IsCorrect)
	assert.Equal(t, "Time is up for this question.", out.Notice)
	assert.Equal(t, 2, out.Remaining)
}

func TestQuestionAndAbandon(t *testing.T) {
	env := newTestEnv(t, Config{}, nil)
	started := env.start(t, "learner-1")
	base := "/assessments/" + started.Session.ID

	resp, data := env.do(t, http.MethodGet, base+"/question", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(data))
	assert.Equal(t, started.Question.ID, decode[sessionResponse](t, data).Question.ID)

	resp, data = env.do(t, http.MethodPost, base+"/abandon", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(data))
	done := decode[sessionResponse](t, data)
	assert.Equal(t, model.StatusCompleted, done.Status)
	assert.Nil(t, done.Question)

	resp, _ = env.do(t, http.MethodGet, base+"/question", nil, nil)
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)

	resp, _ = env.do(t, http.MethodGet, "/assessments/nope/report.html", nil, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestAdminUpload(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("s3cret"), bcrypt.MinCost)
	require.NoError(t, err)
	env := newTestEnv(t, Config{AdminTokenHash: hash}, nil)
	extra := `[{"text": "5 - 3 = ?", "options": ["1", "2", "3", "4"], "correct_answer": 1, "difficulty": "easy", "skill": "application", "subject": "math"}]`
	auth := map[string]string{"Authorization": "Bearer s3cret"}

	resp, _ := env.do(t, http.MethodPost, "/admin/questions?name=extra.json", extra, nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	resp, _ = env.do(t, http.MethodPost, "/admin/questions?name=extra.json", extra, map[string]string{"Authorization": "Bearer wrong"})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, data := env.do(t, http.MethodPost, "/admin/questions?name=extra.json", extra, auth)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(data))
	res := decode[importResponse](t, data)
	assert.Equal(t, 1, res.Imported)
	assert.Equal(t, "1 question imported.", res.Message)

	resp, data = env.do(t, http.MethodPost, "/admin/questions?name=extra.json", extra, auth)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, decode[importResponse](t, data).Unchanged)

	count, err := env.store.QuestionCount(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 6, count)

	resp, data = env.do(t, http.MethodGet, "/admin/questions?difficulty=easy&skill=application", nil, auth)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(data))
	listed := decode[[]model.Question](t, data)
	require.Len(t, listed, 2)
	assert.Equal(t, 1, listed[0].CorrectAnswer)

	resp, _ = env.do(t, http.MethodGet, "/admin/questions?difficulty=impossible", nil, auth)
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)

	bad := `[{"text": "?", "options": ["1", "2"], "correct_answer": 0, "difficulty": "easy", "skill": "application"}]`
	resp, data = env.do(t, http.MethodPost, "/admin/questions?name=bad.json", bad, auth)
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	assert.Equal(t, "invalid_question", decode[errorResponse](t, data).Code)
}

func TestAdminDisabled(t *testing.T) {
	env := newTestEnv(t, Config{}, nil)
	resp, _ := env.do(t, http.MethodPost, "/admin/questions?name=x.json", "[]", map[string]string{"Authorization": "Bearer anything"})
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestChat(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"id":      "chatcmpl-test",
			"object":  "chat.completion",
			"model":   "gpt-4o",
			"choices": []map[string]any{{"index": 0, "message": map[string]any{"role": "assistant", "content": "Hello learner"}, "finish_reason": "stop"}},
		})
	}))
	t.Cleanup(upstream.Close)

	env := newTestEnv(t, Config{}, chat.New(chat.Config{BaseURL: upstream.URL + "/v1", APIKey: "k"}))
	resp, data := env.do(t, http.MethodPost, "/chat", map[string]string{"message": "hi"}, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(data))
	assert.Equal(t, "Hello learner", decode[chatResponse](t, data).Response)

	req, err := http.NewRequest(http.MethodOptions, env.srv.URL+"/chat", nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "https://app.example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	req.Header.Set("Access-Control-Request-Headers", "content-type")
	preflight, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	preflight.Body.Close()
	assert.Equal(t, "*", preflight.Header.Get("Access-Control-Allow-Origin"))
}

func TestChatNotConfigured(t *testing.T) {
	env := newTestEnv(t, Config{}, nil)
	resp, data := env.do(t, http.MethodPost, "/chat", map[string]string{"message": "hi"}, nil)
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	assert.Equal(t, "EduBot is not available right now.", decode[chatResponse](t, data).Error)
}

func TestClassify(t *testing.T) {
	tests := []struct {
		err    error
		status int
		code   string
	}{
		{model.NewValidationError("invalid_option", "x"), http.StatusUnprocessableEntity, "invalid_option"},
		{model.ErrSessionNotFound, http.StatusNotFound, "session_not_found"},
		{model.ErrNotFound, http.StatusNotFound, "no_question"},
		{model.ErrConflict, http.StatusConflict, "conflict"},
		{model.ErrAlreadyResolved, http.StatusConflict, "already_resolved"},
		{&model.WriteError{Op: "x", Err: io.ErrUnexpectedEOF}, http.StatusServiceUnavailable, "store_write"},
		{&model.ReadError{Op: "x", Err: io.ErrUnexpectedEOF}, http.StatusServiceUnavailable, "store_read"},
		{io.EOF, http.StatusInternalServerError, "internal"},
	}
	for _, tt := range tests {
		status, code, _ := classify(tt.err)
		assert.Equal(t, tt.status, status, tt.err.Error())
		assert.Equal(t, tt.code, code, tt.err.Error())
	}
}

func TestAnswerErrorEchoesPendingSelection(t *testing.T) {
	idx := 2
	req := answerRequest{EventID: "ev-1", QuestionID: 7, SelectedIndex: &idx, TimeTakenSeconds: 12}

	r := httptest.NewRequest(http.MethodPost, "/assessments/s/answers", nil)
	rec := httptest.NewRecorder()
	writeAnswerError(rec, r, &model.WriteError{Op: "append answer", Err: io.ErrUnexpectedEOF}, req)

	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "1", rec.Header().Get("Retry-After"))
	var body errorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "store_write", body.Code)
	require.NotNil(t, body.Pending)
	assert.Equal(t, "ev-1", body.Pending.EventID)
	require.NotNil(t, body.Pending.SelectedIndex)
	assert.Equal(t, 2, *body.Pending.SelectedIndex)

	rec = httptest.NewRecorder()
	writeAnswerError(rec, r, model.NewValidationError("invalid_option", "bad"), req)
	body = errorResponse{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Nil(t, body.Pending)
}

func TestAnswerStaleOrdinal(t *testing.T) {
	env := newTestEnv(t, Config{}, nil)
	started := env.start(t, "learner-1")
	base := "/assessments/" + started.Session.ID

	body := answerBody(started.Question.ID, 1)
	body["ordinal"] = 0
	resp, data := env.do(t, http.MethodPost, base+"/answers", body, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(data))
	next := decode[answerResponse](t, data)
	require.NotNil(t, next.Question)

	body = answerBody(next.Question.ID, 1)
	body["ordinal"] = 0
	resp, data = env.do(t, http.MethodPost, base+"/answers", body, nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, "already_resolved", decode[errorResponse](t, data).Code)
}
