package handler

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/pavelanni/eiken/internal/assess"
	"github.com/pavelanni/eiken/internal/handler/views"
	"github.com/pavelanni/eiken/internal/i18n"
	"github.com/pavelanni/eiken/internal/model"
	"github.com/pavelanni/eiken/internal/report"
	"github.com/pavelanni/eiken/internal/store"
)

const historyLimit = 200

func (h *Handler) handleHistory(w http.ResponseWriter, r *http.Request) {
	teacherID := r.URL.Query().Get("teacher_id")
	subs, err := h.store.ListSubmissions(teacherID, historyLimit)
	if err != nil {
		slog.Error("failed to list submissions", "error", err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	counts, err := h.store.CountByStatus()
	if err != nil {
		slog.Error("failed to count submissions", "error", err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	page := views.HistoryPage{
		TeacherID: teacherID,
		Counts: views.HistoryCounts{
			Submitting: counts[model.StatusSubmitting],
			Succeeded:  counts[model.StatusSucceeded],
			Failed:     counts[model.StatusFailed],
		},
		Submissions: subs,
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := views.History(page).Render(r.Context(), w); err != nil {
		slog.Error("render error", "error", err)
	}
}

func (h *Handler) handleSubmission(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sub, err := h.store.GetSubmission(chi.URLParam(r, "uuid"))
	if errors.Is(err, store.ErrNotFound) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.WriteHeader(http.StatusNotFound)
		if err := views.ErrorPage(i18n.T(ctx, "Error.SubmissionNotFound")).Render(ctx, w); err != nil {
			slog.Error("render error", "error", err)
		}
		return
	}
	if err != nil {
		slog.Error("failed to get submission", "error", err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	detail := views.HistoryDetail{Submission: sub, Payload: indentJSON(sub.Payload)}
	if sub.Result != "" {
		if out, err := assess.Parse([]byte(sub.Result)); err == nil {
			v := report.Build(ctx, out)
			detail.Result = &v
		}
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := views.Submission(detail).Render(ctx, w); err != nil {
		slog.Error("render error", "error", err)
	}
}

func (h *Handler) handleExport(w http.ResponseWriter, r *http.Request) {
	exp, err := h.store.ExportSubmissions(r.URL.Query().Get("teacher_id"))
	if err != nil {
		slog.Error("failed to export submissions", "error", err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	name := fmt.Sprintf("eiken-submissions-%s.json", time.Now().UTC().Format("20060102"))
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	writeJSON(w, http.StatusOK, exp)
}

func indentJSON(s string) string {
	var buf bytes.Buffer
	if err := json.Indent(&buf, []byte(s), "", "  "); err != nil {
		return s
	}
	return buf.String()
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		slog.Error("encode response", "error", err)
	}
}
