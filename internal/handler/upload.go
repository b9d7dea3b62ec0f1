package handler

import (
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/pavelanni/eiken/internal/assess"
	"github.com/pavelanni/eiken/internal/handler/views"
	"github.com/pavelanni/eiken/internal/i18n"
)

const (
	maxImageBytes = 10 << 20
	// maxUploadBytes caps the whole multipart body: the image plus the
	// answer text and form fields.
	maxUploadBytes = maxImageBytes + 1<<20
)

// handleHandwriting converts an uploaded answer sheet and returns the answer
// field filled with the recognised text. A failed conversion clears the
// answer; a missing or oversized upload leaves it as it was.
func (h *Handler) handleHandwriting(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	// htmx only swaps 2xx responses, so failures are reported inside the
	// partial with 200.
	render := func(field views.AnswerField) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		if err := views.Answer(field).Render(ctx, w); err != nil {
			slog.Error("render error", "error", err)
		}
	}

	if err := r.ParseMultipartForm(maxImageBytes); err != nil {
		render(views.AnswerField{Error: i18n.T(ctx, "Error.NoImage")})
		return
	}
	current := r.FormValue("student_answer")

	if !h.assess.CanConvert() {
		render(views.AnswerField{Text: current, Error: i18n.T(ctx, "Error.ConvertDisabled")})
		return
	}
	file, header, err := r.FormFile("image_file")
	if err != nil {
		render(views.AnswerField{Text: current, Error: i18n.T(ctx, "Error.NoImage")})
		return
	}
	defer file.Close()
	if header.Size > maxImageBytes {
		render(views.AnswerField{Text: current, Error: i18n.T(ctx, "Error.ImageTooLarge")})
		return
	}

	data, err := io.ReadAll(io.LimitReader(file, maxImageBytes+1))
	if err != nil {
		http.Error(w, "failed to read file", http.StatusInternalServerError)
		return
	}

	text, err := h.assess.Convert(ctx, data)
	switch {
	case errors.Is(err, assess.ErrUnsupportedImage):
		render(views.AnswerField{Error: i18n.T(ctx, "Error.UnsupportedImage")})
		return
	case err != nil:
		render(views.AnswerField{Error: i18n.Td(ctx, "Error.Convert", map[string]any{"Error": err.Error()})})
		return
	}

	slog.Info("converted handwriting", "filename", header.Filename, "bytes", len(data), "chars", len(text))
	render(views.AnswerField{Text: text})
}
