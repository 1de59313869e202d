package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/crypto/bcrypt"

	"github.com/brightpath/assessor/internal/assessment"
	"github.com/brightpath/assessor/internal/chat"
	"github.com/brightpath/assessor/internal/engine"
	"github.com/brightpath/assessor/internal/handler"
	appI18n "github.com/brightpath/assessor/internal/i18n"
	"github.com/brightpath/assessor/internal/model"
	"github.com/brightpath/assessor/internal/store"
)

//go:generate templ generate -path ../../internal/handler/views

func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "assessor",
		Short: "Adaptive learning assessment service",
	}

	serve := serveCmd()
	root.AddCommand(serve, importCmd(), exportCmd())

	// Make "serve" the default when no subcommand is given.
	root.RunE = serve.RunE
	root.Flags().AddFlagSet(serve.Flags())

	return root
}

func addLogFlags(cmd *cobra.Command) {
	cmd.Flags().String("log-level", "info", "Log level (debug, info, warn, error)")
	cmd.Flags().String("log-format", "text", "Log format (text, json)")
}

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP assessment server",
		RunE:  runServe,
	}
	f := cmd.Flags()
	f.StringP("addr", "a", ":8080", "HTTP listen address")
	f.String("db", "assessor.db", "SQLite database path")
	f.StringSliceP("questions", "q", []string{"questions/sample.json"}, "Question bank JSON files to import on startup (repeatable)")
	f.StringP("lang", "l", "en", "Default language for messages (en, hi)")
	f.IntP("quota", "n", engine.DefaultQuota, "Questions per assessment")
	f.Duration("question-time-limit", 60*time.Second, "Time allowed per question (0 disables the timer)")
	f.Int("write-retries", 3, "Attempts for each store write")
	f.Int("read-retries", 3, "Attempts for each store read")
	f.Duration("retry-wait", 100*time.Millisecond, "Initial backoff between store retries")
	f.String("chat-url", "", "OpenAI-compatible API base URL for EduBot (empty for api.openai.com)")
	f.String("chat-key", "", "API key for EduBot (or set ASSESSOR_CHAT_KEY)")
	f.String("chat-model", "gpt-4o", "EduBot model name")
	f.Int("chat-max-tokens", 1500, "EduBot max tokens per reply")
	f.Float32("chat-temperature", 0.3, "EduBot sampling temperature")
	f.StringSlice("chat-subjects", chat.DefaultSubjects, "Subjects EduBot tutors")
	f.Duration("chat-timeout", 60*time.Second, "Upper bound for one EduBot reply")
	f.String("base-path", "", "URL prefix for sub-path deployments (e.g. /assess)")
	f.StringSlice("cors-origins", nil, "Allowed CORS origins (default any)")
	f.String("admin-token", "", "Bearer token for admin routes (or set ASSESSOR_ADMIN_TOKEN)")
	f.String("admin-token-hash", "", "bcrypt hash of the admin bearer token")
	f.Duration("shutdown-timeout", 10*time.Second, "Grace period for in-flight requests on shutdown")
	addLogFlags(cmd)
	return cmd
}

func importCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "import FILE...",
		Short: "Import question bank JSON files",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runImport,
	}
	cmd.Flags().String("db", "assessor.db", "SQLite database path")
	addLogFlags(cmd)
	return cmd
}

func exportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export assessments and responses as JSON",
		RunE:  runExport,
	}
	f := cmd.Flags()
	f.String("db", "assessor.db", "SQLite database path")
	f.String("learner", "", "Only export this learner's assessments")
	f.StringP("output", "o", "-", "Output file path (- for stdout)")
	addLogFlags(cmd)
	return cmd
}

func setupLogging(cmd *cobra.Command) {
	v := viperForCmd(cmd)

	var logLevel slog.Level
	switch strings.ToLower(v.GetString("log-level")) {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}
	handlerOpts := &slog.HandlerOptions{Level: logLevel}
	var logHandler slog.Handler
	switch strings.ToLower(v.GetString("log-format")) {
	case "json":
		logHandler = slog.NewJSONHandler(os.Stderr, handlerOpts)
	default:
		logHandler = slog.NewTextHandler(os.Stderr, handlerOpts)
	}
	slog.SetDefault(slog.New(logHandler))
}

// viperForCmd binds a command's flags and environment to a fresh viper instance.
func viperForCmd(cmd *cobra.Command) *viper.Viper {
	v := viper.New()
	_ = v.BindPFlags(cmd.Flags())

	v.SetEnvPrefix("ASSESSOR")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	v.SetConfigName("assessor")
	v.AddConfigPath(".")
	v.AddConfigPath("$HOME/.config/assessor")
	v.AddConfigPath("/etc/assessor")
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			slog.Warn("error reading config file", "error", err)
		}
	} else {
		slog.Debug("loaded config file", "path", v.ConfigFileUsed())
	}

	return v
}

func runServe(cmd *cobra.Command, _ []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)

	db, err := store.New(v.GetString("db"))
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	if err := importFiles(cmd.Context(), db, v.GetStringSlice("questions")); err != nil {
		return fmt.Errorf("load questions: %w", err)
	}
	count, err := db.QuestionCount(cmd.Context())
	if err != nil {
		return fmt.Errorf("count questions: %w", err)
	}
	if count == 0 {
		slog.Warn("question bank is empty; import questions before starting assessments")
	}

	lang := v.GetString("lang")
	if err := appI18n.Init(lang); err != nil {
		return fmt.Errorf("init i18n: %w", err)
	}

	adminHash, err := adminTokenHash(v.GetString("admin-token"), v.GetString("admin-token-hash"))
	if err != nil {
		return err
	}

	bot := chat.New(chat.Config{
		BaseURL:     v.GetString("chat-url"),
		APIKey:      v.GetString("chat-key"),
		Model:       v.GetString("chat-model"),
		MaxTokens:   v.GetInt("chat-max-tokens"),
		Temperature: float32(v.GetFloat64("chat-temperature")),
		Subjects:    v.GetStringSlice("chat-subjects"),
	})
	if !bot.Configured() {
		slog.Warn("chat API key not set; /chat will return errors")
	}

	assessCfg := model.AssessmentConfig{
		Quota:             v.GetInt("quota"),
		QuestionTimeLimit: v.GetDuration("question-time-limit"),
		WriteRetries:      v.GetInt("write-retries"),
		ReadRetries:       v.GetInt("read-retries"),
		RetryWait:         v.GetDuration("retry-wait"),
	}
	controller := assessment.New(db, db, assessCfg)
	defer controller.Close()

	// Normalize base path.
	basePath := strings.TrimRight(v.GetString("base-path"), "/")
	if basePath != "" && !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}

	h := handler.New(db, controller, bot, handler.Config{
		BasePath:       basePath,
		AdminTokenHash: adminHash,
		ChatTimeout:    v.GetDuration("chat-timeout"),
	})

	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(handler.CORS(v.GetStringSlice("cors-origins")))
	r.Use(appI18n.Middleware)

	if basePath != "" {
		r.Route(basePath, func(sub chi.Router) {
			sub.Use(h.BasePathMiddleware)
			h.Routes(sub)
		})
	} else {
		r.Use(h.BasePathMiddleware)
		h.Routes(r)
	}

	addr := v.GetString("addr")
	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		slog.Info("starting server",
			"addr", addr,
			"lang", lang,
			"quota", assessCfg.Quota,
			"question_time_limit", assessCfg.QuestionTimeLimit,
			"questions", count,
			"chat_model", v.GetString("chat-model"),
			"base_path", basePath,
		)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	slog.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), v.GetDuration("shutdown-timeout"))
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func adminTokenHash(token, hash string) ([]byte, error) {
	if hash != "" {
		if _, err := bcrypt.Cost([]byte(hash)); err != nil {
			return nil, fmt.Errorf("invalid admin-token-hash: %w", err)
		}
		return []byte(hash), nil
	}
	if token == "" {
		slog.Warn("no admin token configured; admin routes are disabled")
		return nil, nil
	}
	h, err := bcrypt.GenerateFromPassword([]byte(token), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hash admin token: %w", err)
	}
	return h, nil
}

func runImport(cmd *cobra.Command, args []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)

	db, err := store.New(v.GetString("db"))
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	return importFiles(cmd.Context(), db, args)
}

func importFiles(ctx context.Context, db *store.Store, paths []string) error {
	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read %s: %w", path, err)
		}
		res, err := db.ImportQuestions(ctx, filepath.Clean(path), data)
		if err != nil {
			return err
		}
		switch {
		case res.Unchanged:
			slog.Info("questions file unchanged, skipping", "path", path)
		case res.Changed:
			slog.Warn("questions file changed since last import, skipping to avoid breaking existing sessions",
				"path", path)
		}
	}
	return nil
}

func runExport(cmd *cobra.Command, _ []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)

	db, err := store.New(v.GetString("db"))
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	learnerID := v.GetString("learner")
	assessments, err := db.ExportSessions(cmd.Context(), learnerID)
	if err != nil {
		return fmt.Errorf("export sessions: %w", err)
	}

	export := model.LearnerExport{
		LearnerID:   learnerID,
		GeneratedAt: time.Now().UTC(),
		Assessments: assessments,
	}
	data, err := json.MarshalIndent(export, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal JSON: %w", err)
	}

	outPath := v.GetString("output")
	var w io.Writer
	if outPath == "" || outPath == "-" {
		w = os.Stdout
	} else {
		f, err := os.Create(outPath)
		if err != nil {
			return fmt.Errorf("create output file: %w", err)
		}
		defer f.Close()
		w = f
	}

	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("write output: %w", err)
	}
	_, _ = fmt.Fprintln(w)

	slog.Info("exported assessments", "count", len(assessments), "learner", learnerID)
	return nil
}
