package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/pavelanni/eiken/internal/assess"
	"github.com/pavelanni/eiken/internal/catalog"
	"github.com/pavelanni/eiken/internal/exam"
	"github.com/pavelanni/eiken/internal/form"
	"github.com/pavelanni/eiken/internal/handler/views"
	"github.com/pavelanni/eiken/internal/i18n"
	"github.com/pavelanni/eiken/internal/model"
	"github.com/pavelanni/eiken/internal/report"
	"github.com/pavelanni/eiken/internal/store"
)

// Handler holds shared dependencies for HTTP handlers.
type Handler struct {
	store   *store.Store
	catalog *catalog.Client
	assess  *assess.Client
	config  model.Config
}

// New creates a new Handler.
func New(s *store.Store, c *catalog.Client, a *assess.Client, cfg model.Config) (*Handler, error) {
	if s == nil || c == nil || a == nil {
		return nil, errors.New("handler: store, catalog and assessment clients are required")
	}
	if !cfg.GradeKey.Valid() {
		cfg.GradeKey = model.GradeKeyExam
	}
	return &Handler{store: s, catalog: c, assess: a, config: cfg}, nil
}

// Routes registers all HTTP routes.
func (h *Handler) Routes(r chi.Router) {
	r.Use(i18n.Middleware(h.cookiePath(), h.config.SecureCookies))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("ok"))
	})

	r.Group(func(r chi.Router) {
		r.Use(h.csrfMiddleware)
		r.Get("/", h.handleIndex)
		r.Get("/questions", h.handleQuestions)
		r.Post("/assess", h.handleAssess)
		r.Get("/assess", func(w http.ResponseWriter, r *http.Request) {
			http.Redirect(w, r, h.path("/"), http.StatusSeeOther)
		})
		r.Get("/history", h.handleHistory)
		r.Get("/history/export", h.handleExport)
		r.Get("/history/{uuid}", h.handleSubmission)
	})

	// The size cap must wrap the body before the CSRF check parses the form.
	r.Group(func(r chi.Router) {
		r.Use(middleware.RequestSize(maxUploadBytes))
		r.Use(h.csrfMiddleware)
		r.Post("/handwriting", h.handleHandwriting)
	})

	r.Route("/api", func(r chi.Router) {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: h.config.CORSOrigins,
			AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
			AllowedHeaders: []string{"Accept", "Content-Type"},
			MaxAge:         300,
		}))
		r.Get("/questions", h.handleAPIQuestions)
		r.Post("/assessments", h.handleAPIAssess)
	})
}

// BasePathMiddleware makes the configured base path available to views.
func (h *Handler) BasePathMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := model.ContextWithBasePath(r.Context(), h.config.BasePath)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (h *Handler) path(p string) string {
	return h.config.BasePath + p
}

func (h *Handler) cookiePath() string {
	if h.config.BasePath != "" {
		return h.config.BasePath + "/"
	}
	return "/"
}

func (h *Handler) seed() uint64 {
	if !h.config.Shuffle {
		return 0
	}
	return uint64(time.Now().UnixNano()) | 1
}

// loadCatalog fetches the catalog for the draft's grade and type, if both
// are set, and hands it to the controller.
func (h *Handler) loadCatalog(ctx context.Context, c *form.Controller) {
	if !c.NeedsCatalog() {
		return
	}
	d := c.Draft()
	cat, err := h.catalog.Fetch(ctx, d.ExamGrade, d.QuestionType)
	if err != nil {
		c.FailCatalog(err)
		return
	}
	c.ApplyCatalog(d.ExamGrade, d.QuestionType, cat, h.seed())
}

func (h *Handler) handleIndex(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	c := form.New()
	if err := c.ApplySelection(q); err != nil {
		slog.Debug("ignoring invalid selection", "error", err)
	}
	h.loadCatalog(r.Context(), c)
	if err := c.ApplyValues(q); err != nil {
		slog.Debug("ignoring invalid query values", "error", err)
	}
	h.renderForm(w, r, http.StatusOK, c, nil, nil)
}

func (h *Handler) handleQuestions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	c := form.New()
	if err := c.ApplySelection(q); err != nil {
		slog.Debug("ignoring invalid selection", "error", err)
	}
	h.loadCatalog(r.Context(), c)
	if q.Has(form.FieldUnderlined) {
		_ = c.SetField(form.FieldUnderlined, q.Get(form.FieldUnderlined))
	}
	// A question id left over from a previous grade or type is not in the
	// new catalog and keeps the automatic pick.
	if id := q.Get(form.FieldQuestionID); q.Has(form.FieldQuestionID) {
		if err := c.Select(id); err != nil {
			slog.Debug("keeping automatic pick", "question_id", id, "error", err)
		}
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := views.Questions(h.questionPanel(r.Context(), c)).Render(r.Context(), w); err != nil {
		slog.Error("render error", "error", err)
	}
}

func (h *Handler) handleAssess(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "invalid form", http.StatusBadRequest)
		return
	}
	ctx := r.Context()

	c, fieldErrs := h.draftFrom(ctx, r.PostForm)
	if len(fieldErrs) > 0 {
		h.renderForm(w, r, http.StatusUnprocessableEntity, c, fieldErrs, nil)
		return
	}

	res := h.submit(ctx, c)
	status := http.StatusOK
	if res.err != nil {
		status = http.StatusBadGateway
	}
	h.renderForm(w, r, status, c, nil, res.view)
}

// draftFrom rebuilds the draft from submitted values. The catalog is
// fetched again so the fields derived from a selected question come from
// the record and not from the client.
func (h *Handler) draftFrom(ctx context.Context, vals url.Values) (*form.Controller, map[string]string) {
	c := form.New()
	fieldErrs := map[string]string{}
	if err := c.ApplySelection(vals); errors.Is(err, form.ErrTypeNotOffered) {
		fieldErrs[form.FieldQuestionType] = i18n.T(ctx, "Error.TypeNotOffered")
	}
	h.loadCatalog(ctx, c)

	if err := c.ApplyValues(vals); err != nil {
		for _, e := range unjoin(err) {
			switch {
			case errors.Is(e, form.ErrUnknownQuestion):
				fieldErrs[form.FieldQuestion] = i18n.T(ctx, "Error.UnknownQuestion")
			case errors.Is(e, form.ErrNotNumeric):
				name, _, _ := strings.Cut(e.Error(), ":")
				fieldErrs[name] = i18n.T(ctx, "Error.NotNumeric")
			case errors.Is(e, form.ErrUnknownAssistant):
				fieldErrs[form.FieldAssistantName] = i18n.T(ctx, "Error.UnknownAssistant")
			}
		}
	}

	var verr *form.ValidationError
	if err := c.Validate(); errors.As(err, &verr) {
		for _, fe := range verr.Fields {
			if _, ok := fieldErrs[fe.Field]; !ok {
				fieldErrs[fe.Field] = i18n.T(ctx, "Error.Field."+fe.Tag)
			}
		}
	}
	return c, fieldErrs
}

func unjoin(err error) []error {
	if j, ok := err.(interface{ Unwrap() []error }); ok {
		return j.Unwrap()
	}
	return []error{err}
}

type submitResult struct {
	payload model.Payload
	outcome assess.Outcome
	view    *report.View
	err     error
}

// submit posts the validated draft once and records the attempt.
func (h *Handler) submit(ctx context.Context, c *form.Controller) submitResult {
	var selected *model.Question
	if q, ok := c.Selected(); ok {
		selected = &q
	}
	c.Begin()
	p := assess.BuildPayload(c.Draft(), selected, h.config.GradeKey, nil)

	raw, err := json.Marshal(p)
	if err != nil {
		c.Fail(err.Error())
		return submitResult{payload: p, err: err}
	}
	if err := h.store.RecordAttempt(p, raw); err != nil {
		slog.Error("failed to record submission", "uuid", p.UUID, "error", err)
	}

	out, err := h.assess.Submit(ctx, p)
	if err != nil {
		code := 0
		var se *assess.StatusError
		if errors.As(err, &se) {
			code = se.Code
		}
		if serr := h.store.MarkFailed(p.UUID, code, err.Error()); serr != nil {
			slog.Error("failed to update submission", "uuid", p.UUID, "error", serr)
		}
		c.Fail(submitErrorMessage(ctx, err))
		return submitResult{payload: p, err: err}
	}

	if serr := h.store.MarkSucceeded(p.UUID, http.StatusOK, out.Raw, !out.OK()); serr != nil {
		slog.Error("failed to update submission", "uuid", p.UUID, "error", serr)
	}
	var id string
	if out.OK() {
		id = out.Result.ID()
	}
	c.Succeed(id)
	v := report.Build(ctx, out)
	return submitResult{payload: p, outcome: out, view: &v}
}

func submitErrorMessage(ctx context.Context, err error) string {
	var se *assess.StatusError
	if errors.As(err, &se) {
		return i18n.Td(ctx, "Error.SubmitStatus", map[string]any{"Status": se.Code, "Body": se.Body})
	}
	return i18n.Td(ctx, "Error.Submit", map[string]any{"Error": err.Error()})
}

func (h *Handler) questionPanel(ctx context.Context, c *form.Controller) views.QuestionPanel {
	d := c.Draft()
	p := views.QuestionPanel{
		Grade:        d.ExamGrade,
		QuestionType: d.QuestionType,
		Types:        exam.QuestionTypes(ctx, d.ExamGrade),
		QuestionID:   d.QuestionID,
		ReadOnly:     c.ReadOnly(),
		Question:     d.Question,
		MinWords:     d.MinWords,
		MaxWords:     d.MaxWords,
		Underlined:   d.Underlined,
	}
	if err := c.LookupError(); err != nil {
		p.LookupError = i18n.Td(ctx, "Error.Lookup", map[string]any{"Error": err.Error()})
	}
	cat := c.Catalog()
	p.NoQuestions = c.NeedsCatalog() && cat.Len() == 0 && c.LookupError() == nil
	for _, id := range cat.IDs {
		q, _ := cat.Get(id)
		p.Picker = append(p.Picker, views.QuestionOption{
			ID:       id,
			Label:    pickerLabel(q),
			Selected: id == d.QuestionID,
		})
	}
	if d.QuestionType != "" {
		var sel *model.Question
		if q, ok := c.Selected(); ok {
			sel = &q
		}
		p.Instructions = exam.BuildInstructions(ctx, d, sel)
	}
	return p
}

func pickerLabel(q model.Question) string {
	text := []rune(q.Question)
	if len(text) > 60 {
		text = append(text[:60], '…')
	}
	return q.ID + ": " + string(text)
}

func (h *Handler) renderForm(w http.ResponseWriter, r *http.Request, status int, c *form.Controller, fieldErrs map[string]string, result *report.View) {
	ctx := r.Context()
	d := c.Draft()
	page := views.FormPage{
		Grades:        exam.Grades(ctx),
		StudentGrades: exam.StudentGrades(ctx),
		Assistants:    exam.Assistants(ctx),
		Panel:         h.questionPanel(ctx, c),
		Draft:         d,
		Answer:        views.AnswerField{Text: d.StudentAnswer, Error: fieldErrs[form.FieldStudentAnswer]},
		FieldErrors:   fieldErrs,
		CanConvert:    h.assess.CanConvert(),
		Phase:         c.Phase().String(),
		Error:         c.LastError(),
		Result:        result,
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	if err := views.Form(page).Render(ctx, w); err != nil {
		slog.Error("render error", "error", err)
	}
}
