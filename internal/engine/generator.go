package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/rendis/orgimpact/pkg/schema"
)

const (
	defaultMaxReportBody    = 16 * 1024 * 1024 // 16MB
	defaultGeneratorTimeout = 5 * time.Minute
)

// GenerateRequest is the body posted to the report generator.
type GenerateRequest struct {
	CompanyName   string `json:"companyName"`
	CompanyDomain string `json:"companyDomain,omitempty"`
	RunID         string `json:"runId"`
}

// Generated is the generator's answer: a raw report document and the schema
// version it was written in.
type Generated struct {
	SchemaVersion string          `json:"schemaVersion"`
	Report        json.RawMessage `json:"report"`
}

// Generator produces report documents. Implementations must be safe for
// concurrent use.
type Generator interface {
	// Name identifies the generator for circuit breaking and logs.
	Name() string
	Generate(ctx context.Context, req GenerateRequest) (*Generated, error)
}

// HTTPGenerator calls an external report generator over HTTP.
type HTTPGenerator struct {
	url     string
	client  *http.Client
	maxBody int64
}

// NewHTTPGenerator creates a generator that POSTs to endpoint. A zero timeout
// selects the default.
func NewHTTPGenerator(endpoint string, timeout time.Duration) (*HTTPGenerator, error) {
	u, err := url.Parse(endpoint)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "invalid generator URL %q", endpoint)
	}
	if timeout <= 0 {
		timeout = defaultGeneratorTimeout
	}
	return &HTTPGenerator{
		url:     u.String(),
		client:  &http.Client{Timeout: timeout},
		maxBody: defaultMaxReportBody,
	}, nil
}

// Name returns the generator host.
func (g *HTTPGenerator) Name() string {
	u, _ := url.Parse(g.url)
	return u.Host
}

// Generate posts req and decodes the generator's envelope. Transport failures,
// 429 and 5xx answers are GENERATION_FAILED (retryable); other 4xx answers and
// malformed bodies are VALIDATION_ERROR.
func (g *HTTPGenerator) Generate(ctx context.Context, req GenerateRequest) (*Generated, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, schema.NewError(schema.ErrCodeValidation, "encode generator request").WithCause(err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, g.url, bytes.NewReader(body))
	if err != nil {
		return nil, schema.NewError(schema.ErrCodeValidation, "build generator request").WithCause(err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")

	resp, err := g.client.Do(httpReq)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return nil, schema.NewError(schema.ErrCodeCancelled, "generator call cancelled").WithCause(err)
		}
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, schema.NewError(schema.ErrCodeTimeout, "generator call timed out").WithCause(err)
		}
		return nil, schema.NewErrorf(schema.ErrCodeGenerationFailed, "generator request failed: %v", err).WithCause(err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, g.maxBody+1))
	if err != nil {
		return nil, schema.NewError(schema.ErrCodeGenerationFailed, "read generator response").WithCause(err)
	}
	if int64(len(data)) > g.maxBody {
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "generator response exceeds %d bytes", g.maxBody)
	}

	if resp.StatusCode >= 400 {
		code := schema.ErrCodeValidation
		if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
			code = schema.ErrCodeGenerationFailed
		}
		return nil, schema.NewErrorf(code, "generator returned %d", resp.StatusCode).
			WithDetails(map[string]any{"status_code": resp.StatusCode, "body": truncate(string(data), 512)})
	}

	var out Generated
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, schema.NewError(schema.ErrCodeValidation, "generator response is not a JSON envelope").WithCause(err)
	}
	if len(bytes.TrimSpace(out.Report)) == 0 || string(bytes.TrimSpace(out.Report)) == "null" {
		return nil, schema.NewError(schema.ErrCodeValidation, "generator response has no report")
	}
	return &out, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return fmt.Sprintf("%s... (%d bytes)", s[:n], len(s))
}

var _ Generator = (*HTTPGenerator)(nil)
