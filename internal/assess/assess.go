// Package assess submits drafts to the scoring endpoint and converts
// handwritten answers to text.
package assess

import (
	"bytes"
	"context"
	_ "embed"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/pavelanni/eiken/internal/metrics"
	"github.com/pavelanni/eiken/internal/model"
)

var (
	// ErrInvalidJSON is returned when a 2xx body is not JSON at all.
	ErrInvalidJSON = errors.New("response is not valid JSON")
	// ErrConvertDisabled is returned when no handwriting endpoint is configured.
	ErrConvertDisabled = errors.New("handwriting conversion is not configured")
	// ErrUnsupportedImage is returned for uploads that are not PNG or JPEG.
	ErrUnsupportedImage = errors.New("unsupported image type")
	// ErrBadConversion is returned when the conversion response has no text.
	ErrBadConversion = errors.New("unexpected conversion result")
)

//go:embed schema/result.schema.json
var resultSchemaJSON string

var resultSchema = jsonschema.MustCompileString("result.schema.json", resultSchemaJSON)

// StatusError is a non-2xx response. Body is the raw response text.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("failed to get assessment (status: %d)\n%s", e.Code, e.Body)
}

// Kind tags an Outcome.
type Kind int

const (
	// KindOK carries a result that matched the response schema.
	KindOK Kind = iota
	// KindMalformed carries a JSON body that did not match the schema.
	KindMalformed
)

// Outcome is the decoded 2xx response of a submission.
type Outcome struct {
	Kind   Kind
	Result *model.AssessmentResult // set for KindOK
	Raw    json.RawMessage
	Reason error // schema violation for KindMalformed
}

// OK reports whether the outcome holds a well-formed result.
func (o Outcome) OK() bool {
	return o.Kind == KindOK && o.Result != nil
}

// Client talks to the scoring and handwriting endpoints.
type Client struct {
	http       *http.Client
	assessURL  string
	convertURL string
}

// New creates an assessment client. A nil http client means http.DefaultClient.
func New(assessURL, convertURL string, hc *http.Client) *Client {
	if hc == nil {
		hc = http.DefaultClient
	}
	return &Client{http: hc, assessURL: assessURL, convertURL: convertURL}
}

// CanConvert reports whether handwriting conversion is configured.
func (c *Client) CanConvert() bool {
	return c.convertURL != ""
}

// Submit posts the payload once. There is no retry.
func (c *Client) Submit(ctx context.Context, p model.Payload) (Outcome, error) {
	start := time.Now()
	out, err := c.submit(ctx, p)
	metrics.SubmissionLatency().Observe(time.Since(start).Seconds())

	label := "ok"
	var se *StatusError
	switch {
	case errors.As(err, &se):
		label = "status"
	case err != nil:
		label = "error"
	case out.Kind == KindMalformed:
		label = "malformed"
	}
	metrics.Submissions().WithLabelValues(label).Inc()

	if err != nil {
		slog.Error("assessment submission failed", "uuid", p.UUID, "error", err)
	} else {
		slog.Info("assessment submitted", "uuid", p.UUID, "outcome", label, "elapsed", time.Since(start))
	}
	return out, err
}

func (c *Client) submit(ctx context.Context, p model.Payload) (Outcome, error) {
	body, err := json.Marshal(p)
	if err != nil {
		return Outcome{}, fmt.Errorf("marshal payload: %w", err)
	}

	raw, err := c.postJSON(ctx, c.assessURL, body)
	if err != nil {
		return Outcome{}, err
	}
	return Parse(raw)
}

func (c *Client) postJSON(ctx context.Context, endpoint string, body []byte) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("post %s: %w", endpoint, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &StatusError{Code: resp.StatusCode, Body: string(raw)}
	}
	return raw, nil
}

// Parse decodes a 2xx response body. Bodies that are not JSON are an error;
// JSON that does not match the result schema is a KindMalformed outcome.
func Parse(raw []byte) (Outcome, error) {
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return Outcome{}, fmt.Errorf("%w: %v", ErrInvalidJSON, err)
	}

	if err := resultSchema.Validate(doc); err != nil {
		return Outcome{Kind: KindMalformed, Raw: raw, Reason: err}, nil
	}

	var res model.AssessmentResult
	if err := json.Unmarshal(raw, &res); err != nil {
		return Outcome{Kind: KindMalformed, Raw: raw, Reason: err}, nil
	}
	return Outcome{Kind: KindOK, Result: &res, Raw: raw}, nil
}

// Convert sends a PNG or JPEG image of a handwritten answer to the
// conversion endpoint and returns the recognised text.
func (c *Client) Convert(ctx context.Context, image []byte) (string, error) {
	text, err := c.convert(ctx, image)
	if err != nil {
		metrics.Conversions().WithLabelValues("error").Inc()
		slog.Warn("handwriting conversion failed", "bytes", len(image), "error", err)
		return "", err
	}
	metrics.Conversions().WithLabelValues("ok").Inc()
	return text, nil
}

func (c *Client) convert(ctx context.Context, image []byte) (string, error) {
	if !c.CanConvert() {
		return "", ErrConvertDisabled
	}

	mt := mimetype.Detect(image)
	if !mt.Is("image/png") && !mt.Is("image/jpeg") {
		return "", fmt.Errorf("%w: %s", ErrUnsupportedImage, mt.String())
	}

	body, err := json.Marshal(map[string]string{
		"image_file": base64.StdEncoding.EncodeToString(image),
	})
	if err != nil {
		return "", fmt.Errorf("marshal image: %w", err)
	}

	raw, err := c.postJSON(ctx, c.convertURL, body)
	if err != nil {
		return "", err
	}

	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return "", fmt.Errorf("%w: %v", ErrBadConversion, err)
	}
	switch t := v.(type) {
	case string:
		return t, nil
	case map[string]any:
		if s, ok := t["text"].(string); ok && s != "" {
			return s, nil
		}
	}
	return "", ErrBadConversion
}
