package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/pavelanni/eiken/internal/assess"
	"github.com/pavelanni/eiken/internal/catalog"
	"github.com/pavelanni/eiken/internal/exam"
	"github.com/pavelanni/eiken/internal/form"
	"github.com/pavelanni/eiken/internal/handler"
	appI18n "github.com/pavelanni/eiken/internal/i18n"
	"github.com/pavelanni/eiken/internal/metrics"
	"github.com/pavelanni/eiken/internal/model"
	"github.com/pavelanni/eiken/internal/report"
	"github.com/pavelanni/eiken/internal/store"
)

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintln(os.Stderr, "warning: reading .env:", err)
	}
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "eiken",
		Short: "Front end for the Eiken writing assessment service",
	}

	serve := serveCmd()
	root.AddCommand(serve, questionsCmd(), submitCmd(), convertCmd(), exportCmd())

	// Make "serve" the default when no subcommand is given.
	root.RunE = serve.RunE

	// Register serve flags on root so bare `eiken --addr ...` still works.
	root.Flags().AddFlagSet(serve.Flags())

	return root
}

// clientFlags are shared by every command that talks to the remote API.
func clientFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.String("questions-url", "http://localhost:8000/get_eiken_questions", "Question catalog endpoint")
	f.String("assess-url", "http://localhost:8000/eiken_assessment", "Assessment endpoint")
	f.String("convert-url", "", "Handwriting conversion endpoint (empty disables upload)")
	f.String("grade-key", string(model.GradeKeyExam), "Name of the grade field in lookups and payloads (exam_grade, grade)")
	f.Duration("http-timeout", 90*time.Second, "Timeout for remote API calls (0 = none)")
	f.StringP("lang", "l", "en", "Language (en, ja)")
}

func logFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.String("log-level", "info", "Log level (debug, info, warn, error)")
	f.String("log-format", "text", "Log format (text, json)")
}

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP front end",
		RunE:  runServe,
	}
	f := cmd.Flags()
	f.StringP("addr", "a", ":8080", "HTTP listen address")
	f.String("db", "eiken.db", "SQLite database path for the submission history")
	clientFlags(cmd)
	f.String("base-path", "", "URL prefix for sub-path deployments (e.g. /eiken)")
	f.Bool("secure-cookies", true, "Set Secure flag on cookies")
	f.Bool("shuffle", false, "Pick a random catalog question instead of the first")
	f.StringSlice("cors-origins", []string{"*"}, "Allowed origins for the JSON API")
	logFlags(cmd)
	return cmd
}

func questionsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "questions",
		Short: "Look up the question catalog for a grade and type",
		RunE:  runQuestions,
	}
	f := cmd.Flags()
	f.StringP("exam-grade", "g", "", "Exam grade (1, Pre-1, 2, Pre-2-Plus, Pre-2, 3, 4, 5)")
	f.StringP("question-type", "t", "", "Question type (composition, summary, email)")
	f.Bool("json", false, "Print JSON instead of a table")
	clientFlags(cmd)
	logFlags(cmd)

	_ = cmd.MarkFlagRequired("exam-grade")
	_ = cmd.MarkFlagRequired("question-type")

	return cmd
}

func submitCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "submit",
		Short: "Submit one answer for assessment and print the report",
		RunE:  runSubmit,
	}
	f := cmd.Flags()
	f.StringP("exam-grade", "g", "", "Exam grade")
	f.StringP("question-type", "t", "", "Question type")
	f.String("question-id", "", "Catalog question id (default: automatic pick)")
	f.String("question", "", "Question text when no catalog question is used")
	f.String("min-words", "", "Minimum words for a manual question")
	f.String("max-words", "", "Maximum words for a manual question")
	f.String("underlined", "", "Underlined part or email hint")
	f.StringSlice("instruction", nil, "Additional instruction (repeatable)")
	f.String("student-name", "", "Student name")
	f.String("student-grade", "General", "Student grade")
	f.String("teacher-id", "", "Teacher id")
	f.String("answer", "", "Student answer text")
	f.String("answer-file", "", "Read the student answer from a file (- for stdin)")
	f.String("assistant", "voxa", "Assistant name")
	f.String("review-type", "practice", "Review type")
	f.Bool("manual", false, "Do not use the question catalog")
	f.Bool("json", false, "Print the raw response instead of the report")
	f.String("db", "", "Record the attempt in this SQLite database")
	clientFlags(cmd)
	logFlags(cmd)
	return cmd
}

func convertCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "convert <image>",
		Short: "Convert a handwritten answer sheet to text",
		Args:  cobra.ExactArgs(1),
		RunE:  runConvert,
	}
	clientFlags(cmd)
	logFlags(cmd)
	return cmd
}

func exportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export the submission history as JSON",
		RunE:  runExport,
	}
	f := cmd.Flags()
	f.String("db", "eiken.db", "SQLite database path")
	f.String("teacher-id", "", "Only export submissions of this teacher")
	f.StringP("output", "o", "-", "Output file path (- for stdout)")
	logFlags(cmd)
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

	v.SetEnvPrefix("EIKEN")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	v.SetConfigName("eiken")
	v.AddConfigPath(".")
	v.AddConfigPath("$HOME/.config/eiken")
	v.AddConfigPath("/etc/eiken")
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			slog.Warn("error reading config file", "error", err)
		}
	} else {
		slog.Debug("loaded config file", "path", v.ConfigFileUsed())
	}

	return v
}

// configFrom resolves the runtime parameters once.
func configFrom(v *viper.Viper) model.Config {
	gradeKey := model.GradeKey(strings.TrimSpace(v.GetString("grade-key")))
	if !gradeKey.Valid() {
		slog.Warn("invalid grade-key, using exam_grade", "grade_key", gradeKey)
		gradeKey = model.GradeKeyExam
	}

	// Normalize base path.
	basePath := strings.TrimRight(v.GetString("base-path"), "/")
	if basePath != "" && !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}

	return model.Config{
		Endpoints: model.Endpoints{
			Questions:  v.GetString("questions-url"),
			Assessment: v.GetString("assess-url"),
			Convert:    v.GetString("convert-url"),
		},
		GradeKey:      gradeKey,
		HTTPTimeout:   v.GetDuration("http-timeout"),
		Lang:          v.GetString("lang"),
		BasePath:      basePath,
		SecureCookies: v.GetBool("secure-cookies"),
		Shuffle:       v.GetBool("shuffle"),
		CORSOrigins:   v.GetStringSlice("cors-origins"),
	}
}

func clientsFor(cfg model.Config) (*catalog.Client, *assess.Client) {
	hc := &http.Client{Timeout: cfg.HTTPTimeout}
	return catalog.New(cfg.Endpoints.Questions, cfg.GradeKey, hc),
		assess.New(cfg.Endpoints.Assessment, cfg.Endpoints.Convert, hc)
}

// cliContext carries the localizer for the configured language.
func cliContext(lang string) (context.Context, error) {
	if err := appI18n.Init(lang); err != nil {
		return nil, fmt.Errorf("init i18n: %w", err)
	}
	return appI18n.WithLang(context.Background(), appI18n.Match(lang)), nil
}

func runServe(cmd *cobra.Command, _ []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)
	cfg := configFrom(v)

	db, err := store.New(v.GetString("db"))
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	if err := appI18n.Init(cfg.Lang); err != nil {
		return fmt.Errorf("init i18n: %w", err)
	}
	metrics.Register()

	cat, ac := clientsFor(cfg)
	h, err := handler.New(db, cat, ac, cfg)
	if err != nil {
		return fmt.Errorf("create handler: %w", err)
	}

	r := newRouter(cfg, h)

	addr := v.GetString("addr")
	slog.Info("starting server",
		"addr", addr,
		"questions_url", cfg.Endpoints.Questions,
		"assess_url", cfg.Endpoints.Assessment,
		"convert_url", cfg.Endpoints.Convert,
		"grade_key", cfg.GradeKey,
		"lang", cfg.Lang,
		"shuffle", cfg.Shuffle,
		"base_path", cfg.BasePath,
	)
	return http.ListenAndServe(addr, r)
}

// newRouter mounts the application, optionally under a base path, and the
// metrics endpoint. chi requires every Use before the first route.
func newRouter(cfg model.Config, h *handler.Handler) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	basePath := cfg.BasePath
	if basePath != "" {
		r.Route(basePath, func(sub chi.Router) {
			sub.Use(h.BasePathMiddleware)
			h.Routes(sub)
		})
		r.Get(basePath, func(w http.ResponseWriter, r *http.Request) {
			http.Redirect(w, r, basePath+"/", http.StatusMovedPermanently)
		})
	} else {
		r.Group(func(app chi.Router) {
			app.Use(h.BasePathMiddleware)
			h.Routes(app)
		})
	}

	r.Handle("/metrics", promhttp.Handler())
	return r
}

func runQuestions(cmd *cobra.Command, _ []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)
	cfg := configFrom(v)

	g, ok := exam.ParseGrade(v.GetString("exam-grade"))
	if !ok {
		return fmt.Errorf("unknown exam grade %q", v.GetString("exam-grade"))
	}
	qt, ok := exam.ParseQuestionType(v.GetString("question-type"))
	if !ok {
		return fmt.Errorf("unknown question type %q", v.GetString("question-type"))
	}
	if !exam.TypeAllowed(g, qt) {
		return fmt.Errorf("question type %s is not offered for grade %s", qt, g)
	}

	cat, _ := clientsFor(cfg)
	questions, err := cat.Fetch(cmd.Context(), g, qt)
	if err != nil {
		return fmt.Errorf("look up questions: %w", err)
	}

	out := cmd.OutOrStdout()
	if v.GetBool("json") {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		type row struct {
			ID string `json:"id"`
			model.Question
		}
		rows := make([]row, 0, questions.Len())
		for _, id := range questions.IDs {
			q, _ := questions.Get(id)
			rows = append(rows, row{ID: id, Question: q})
		}
		return enc.Encode(rows)
	}

	if questions.Len() == 0 {
		_, err := fmt.Fprintln(out, "no questions for this grade and type")
		return err
	}
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tWORDS\tQUESTION")
	for _, id := range questions.IDs {
		q, _ := questions.Get(id)
		fmt.Fprintf(tw, "%s\t%d-%d\t%s\n", id, q.MinWords, q.MaxWords, firstLine(q.Question))
	}
	return tw.Flush()
}

func firstLine(s string) string {
	line, _, _ := strings.Cut(strings.TrimSpace(s), "\n")
	return line
}

func runSubmit(cmd *cobra.Command, _ []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)
	cfg := configFrom(v)

	ctx, err := cliContext(cfg.Lang)
	if err != nil {
		return err
	}
	answer := v.GetString("answer")
	if path := v.GetString("answer-file"); path != "" {
		data, err := readInput(cmd, path)
		if err != nil {
			return fmt.Errorf("read answer: %w", err)
		}
		answer = string(data)
	}

	vals := submitValues(v, answer)
	cat, ac := clientsFor(cfg)

	c := form.New()
	if err := c.ApplySelection(vals); err != nil {
		return err
	}
	if !v.GetBool("manual") && c.NeedsCatalog() {
		d := c.Draft()
		questions, err := cat.Fetch(ctx, d.ExamGrade, d.QuestionType)
		if err != nil {
			c.FailCatalog(err)
			slog.Warn("catalog lookup failed, continuing with manual question", "error", err)
		} else {
			var seed uint64
			if cfg.Shuffle {
				seed = uint64(time.Now().UnixNano()) | 1
			}
			c.ApplyCatalog(d.ExamGrade, d.QuestionType, questions, seed)
		}
	}
	if err := c.ApplyValues(vals); err != nil {
		return err
	}
	if err := c.Validate(); err != nil {
		return err
	}

	var selected *model.Question
	if q, ok := c.Selected(); ok {
		selected = &q
		slog.Info("using catalog question", "question_id", q.ID)
	}
	p := assess.BuildPayload(c.Draft(), selected, cfg.GradeKey, nil)

	var db *store.Store
	if path := v.GetString("db"); path != "" {
		db, err = store.New(path)
		if err != nil {
			return fmt.Errorf("open database: %w", err)
		}
		defer db.Close()
		raw, err := json.Marshal(p)
		if err != nil {
			return fmt.Errorf("marshal payload: %w", err)
		}
		if err := db.RecordAttempt(p, raw); err != nil {
			return fmt.Errorf("record submission: %w", err)
		}
	}

	out, err := ac.Submit(ctx, p)
	if err != nil {
		if db != nil {
			code := 0
			var se *assess.StatusError
			if errors.As(err, &se) {
				code = se.Code
			}
			if serr := db.MarkFailed(p.UUID, code, err.Error()); serr != nil {
				slog.Error("failed to update submission", "uuid", p.UUID, "error", serr)
			}
		}
		return err
	}
	if db != nil {
		if serr := db.MarkSucceeded(p.UUID, http.StatusOK, out.Raw, !out.OK()); serr != nil {
			slog.Error("failed to update submission", "uuid", p.UUID, "error", serr)
		}
	}

	w := cmd.OutOrStdout()
	if v.GetBool("json") {
		_, err := fmt.Fprintln(w, string(out.Raw))
		return err
	}
	return report.WriteText(w, report.Build(ctx, out))
}

func submitValues(v *viper.Viper, answer string) url.Values {
	vals := url.Values{}
	set := func(field, key string) {
		if s := v.GetString(key); s != "" {
			vals[field] = []string{s}
		}
	}
	set(form.FieldExamGrade, "exam-grade")
	set(form.FieldQuestionType, "question-type")
	set(form.FieldQuestionID, "question-id")
	set(form.FieldQuestion, "question")
	set(form.FieldMinWords, "min-words")
	set(form.FieldMaxWords, "max-words")
	set(form.FieldUnderlined, "underlined")
	set(form.FieldStudentName, "student-name")
	set(form.FieldStudentGrade, "student-grade")
	set(form.FieldTeacherID, "teacher-id")
	set(form.FieldAssistantName, "assistant")
	set(form.FieldReviewType, "review-type")
	if answer != "" {
		vals[form.FieldStudentAnswer] = []string{answer}
	}
	if ins := v.GetStringSlice("instruction"); len(ins) > 0 {
		vals["additional_instructions"] = ins
	}
	return vals
}

func readInput(cmd *cobra.Command, path string) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(cmd.InOrStdin())
	}
	return os.ReadFile(path)
}

func runConvert(cmd *cobra.Command, args []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)
	cfg := configFrom(v)

	image, err := readInput(cmd, args[0])
	if err != nil {
		return fmt.Errorf("read image: %w", err)
	}
	_, ac := clientsFor(cfg)
	text, err := ac.Convert(cmd.Context(), image)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(cmd.OutOrStdout(), text)
	return err
}

func runExport(cmd *cobra.Command, _ []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)

	db, err := store.New(v.GetString("db"))
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	export, err := db.ExportSubmissions(v.GetString("teacher-id"))
	if err != nil {
		return fmt.Errorf("export submissions: %w", err)
	}

	data, err := json.MarshalIndent(export, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal JSON: %w", err)
	}

	outPath := v.GetString("output")
	var w io.Writer
	if outPath == "" || outPath == "-" {
		w = cmd.OutOrStdout()
	} else {
		f, err := os.Create(outPath)
		if err != nil {
			return fmt.Errorf("create output file: %w", err)
		}
		defer f.Close()
		w = f
	}

	_, err = w.Write(data)
	if err != nil {
		return fmt.Errorf("write output: %w", err)
	}
	// Ensure trailing newline.
	_, _ = fmt.Fprintln(w)

	return nil
}
