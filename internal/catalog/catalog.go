// Package catalog looks up the questions available for an exam grade and
// question type.
package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/pavelanni/eiken/internal/metrics"
	"github.com/pavelanni/eiken/internal/model"
)

var (
	// ErrMissingParams is returned without any request when grade or type is empty.
	ErrMissingParams = errors.New("grade and question type are required")
	// ErrLookupFailed wraps non-2xx responses from the lookup endpoint.
	ErrLookupFailed = errors.New("question lookup failed")
	// ErrInvalidJSON wraps bodies that are not a JSON object of questions.
	ErrInvalidJSON = errors.New("invalid question catalog")
)

// maxBody caps how much of an error body is kept for display.
const maxBody = 4 << 10

// Client fetches question catalogs from the lookup endpoint.
type Client struct {
	http     *http.Client
	endpoint string
	gradeKey model.GradeKey
}

// New creates a catalog client. A nil http client means http.DefaultClient.
func New(endpoint string, gradeKey model.GradeKey, hc *http.Client) *Client {
	if hc == nil {
		hc = http.DefaultClient
	}
	if !gradeKey.Valid() {
		gradeKey = model.GradeKeyExam
	}
	return &Client{http: hc, endpoint: endpoint, gradeKey: gradeKey}
}

// Fetch returns the questions for the grade and type, in the order the
// endpoint listed them. The catalog may be empty.
func (c *Client) Fetch(ctx context.Context, grade model.Grade, qt model.QuestionType) (model.Catalog, error) {
	if grade == "" || qt == "" {
		return model.Catalog{}, ErrMissingParams
	}

	start := time.Now()
	cat, err := c.fetch(ctx, grade, qt)
	metrics.LookupLatency().Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.Lookups().WithLabelValues("error").Inc()
		slog.Warn("question lookup failed", "grade", grade, "question_type", qt, "error", err)
		return model.Catalog{}, err
	}
	outcome := "ok"
	if cat.Len() == 0 {
		outcome = "empty"
	}
	metrics.Lookups().WithLabelValues(outcome).Inc()
	slog.Debug("question lookup", "grade", grade, "question_type", qt, "count", cat.Len())
	return cat, nil
}

func (c *Client) fetch(ctx context.Context, grade model.Grade, qt model.QuestionType) (model.Catalog, error) {
	u, err := url.Parse(c.endpoint)
	if err != nil {
		return model.Catalog{}, fmt.Errorf("parse questions URL: %w", err)
	}
	q := u.Query()
	q.Set(string(c.gradeKey), string(grade))
	q.Set("question_type", strings.ToLower(string(qt)))
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return model.Catalog{}, fmt.Errorf("build lookup request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return model.Catalog{}, fmt.Errorf("lookup questions: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxBody))
		return model.Catalog{}, fmt.Errorf("%w (status: %d) %s", ErrLookupFailed, resp.StatusCode, strings.TrimSpace(string(body)))
	}

	return Decode(resp.Body)
}

// Decode reads a JSON object mapping question id to question record,
// preserving key order. A JSON null decodes to an empty catalog.
func Decode(r io.Reader) (model.Catalog, error) {
	cat := model.Catalog{Questions: make(map[string]model.Question)}
	dec := json.NewDecoder(r)

	tok, err := dec.Token()
	if err != nil {
		return model.Catalog{}, fmt.Errorf("%w: %v", ErrInvalidJSON, err)
	}
	if tok == nil {
		return cat, nil
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return model.Catalog{}, fmt.Errorf("%w: expected object, got %v", ErrInvalidJSON, tok)
	}

	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return model.Catalog{}, fmt.Errorf("%w: %v", ErrInvalidJSON, err)
		}
		id, _ := keyTok.(string)

		var q model.Question
		if err := dec.Decode(&q); err != nil {
			return model.Catalog{}, fmt.Errorf("%w: question %q: %v", ErrInvalidJSON, id, err)
		}
		q.ID = id
		if _, dup := cat.Questions[id]; !dup {
			cat.IDs = append(cat.IDs, id)
		}
		cat.Questions[id] = q
	}

	if _, err := dec.Token(); err != nil {
		return model.Catalog{}, fmt.Errorf("%w: %v", ErrInvalidJSON, err)
	}
	return cat, nil
}

// Pick chooses one id from the candidates. A zero seed returns the first
// candidate; any other seed makes a pseudo-random but repeatable choice.
func Pick(ids []string, seed uint64) string {
	if len(ids) == 0 {
		return ""
	}
	if seed == 0 {
		return ids[0]
	}
	r := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	return ids[r.IntN(len(ids))]
}
