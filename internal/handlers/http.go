package handlers

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/regygeorge/nx-workflow/internal/expressions"
	"github.com/regygeorge/nx-workflow/pkg/schema"
)

// HTTPConfig configures the built-in HTTP handler.
type HTTPConfig struct {
	MaxResponseBody int64
	DefaultTimeout  time.Duration
	Client          *http.Client
}

const (
	defaultMaxResponseBody = 10 * 1024 * 1024 // 10MB
	defaultHTTPTimeout     = 30 * time.Second
	errorBodyPreview       = 512
)

// HTTPHandler calls the endpoint described by a service task's http.* properties.
//
//	http.url             target URL; blank makes the call a no-op
//	http.method          default POST
//	http.body            default {}
//	http.timeout         Go duration, default from config
//	http.header.<Name>   request header
//	http.resultVariable  variable that receives the decoded response
//	http.resultQuery     jq program applied to the response before storing it
//
// ${{ path }} references in the URL, body and header values are filled from the
// instance variables. A status of 400 or above fails the task.
type HTTPHandler struct {
	config HTTPConfig
	jq     *expressions.GoJQEngine
}

// NewHTTPHandler creates the built-in HTTP handler.
func NewHTTPHandler(cfg HTTPConfig) *HTTPHandler {
	if cfg.MaxResponseBody <= 0 {
		cfg.MaxResponseBody = defaultMaxResponseBody
	}
	if cfg.DefaultTimeout <= 0 {
		cfg.DefaultTimeout = defaultHTTPTimeout
	}
	if cfg.Client == nil {
		cfg.Client = &http.Client{Transport: http.DefaultTransport.(*http.Transport).Clone()}
	}
	return &HTTPHandler{config: cfg, jq: expressions.NewGoJQEngine()}
}

// IsHTTPTask reports whether a node's properties select the built-in HTTP call:
// type=http in any case, or any http.url property.
func IsHTTPTask(props map[string]string) bool {
	if strings.EqualFold(strings.TrimSpace(props[schema.PropType]), "http") {
		return true
	}
	_, ok := props[schema.PropHTTPURL]
	return ok
}

func (h *HTTPHandler) Execute(ctx context.Context, exec *Execution) error {
	rawURL := exec.Property(schema.PropHTTPURL)
	if rawURL == "" {
		return nil
	}

	target, err := expressions.Interpolate(rawURL, exec.Variables)
	if err != nil {
		return err
	}
	method := strings.ToUpper(exec.Property(schema.PropHTTPMethod))
	if method == "" {
		method = http.MethodPost
	}
	body := exec.Properties[schema.PropHTTPBody]
	if strings.TrimSpace(body) == "" {
		body = "{}"
	}
	body, err = expressions.Interpolate(body, exec.Variables)
	if err != nil {
		return err
	}

	timeout := h.config.DefaultTimeout
	if ts := exec.Property(schema.PropHTTPTimeout); ts != "" {
		d, err := time.ParseDuration(ts)
		if err != nil {
			return schema.NewErrorf(schema.ErrCodeValidation, "invalid %s %q", schema.PropHTTPTimeout, ts).WithCause(err)
		}
		timeout = d
	}

	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var bodyReader io.Reader
	if method != http.MethodGet && method != http.MethodHead {
		bodyReader = strings.NewReader(body)
	}
	req, err := http.NewRequestWithContext(reqCtx, method, target, bodyReader)
	if err != nil {
		return schema.NewErrorf(schema.ErrCodeHandlerFailed, "build request for %s: %v", target, err).WithCause(err)
	}
	if bodyReader != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	for key, val := range exec.Properties {
		name, ok := strings.CutPrefix(key, schema.PropHTTPHeaderPfx)
		if !ok || name == "" {
			continue
		}
		v, err := expressions.Interpolate(val, exec.Variables)
		if err != nil {
			return err
		}
		req.Header.Set(name, v)
	}

	resp, err := h.config.Client.Do(req)
	if err != nil {
		return schema.NewErrorf(schema.ErrCodeHandlerFailed, "%s %s: %v", method, target, err).WithCause(err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, h.config.MaxResponseBody))
	if err != nil {
		return schema.NewErrorf(schema.ErrCodeHandlerFailed, "read response from %s: %v", target, err).WithCause(err)
	}

	if resp.StatusCode >= 400 {
		preview := string(raw)
		if len(preview) > errorBodyPreview {
			preview = preview[:errorBodyPreview]
		}
		return schema.NewErrorf(schema.ErrCodeHandlerFailed, "%s %s returned %d", method, target, resp.StatusCode).
			WithDetails(map[string]any{"status_code": resp.StatusCode, "body": preview})
	}

	resultVar := exec.Property(schema.PropHTTPResultVar)
	if resultVar == "" {
		return nil
	}
	result := decodeBody(raw)
	if q := exec.Property(schema.PropHTTPResultQuery); q != "" {
		result, err = h.jq.Query(ctx, q, result)
		if err != nil {
			return err
		}
	}
	exec.Variables[resultVar] = result
	return nil
}

// decodeBody returns the JSON value of a response when it parses as JSON, the
// raw text otherwise, and nil for an empty body.
func decodeBody(raw []byte) any {
	if len(raw) == 0 {
		return nil
	}
	var v any
	if err := json.Unmarshal(raw, &v); err == nil {
		return v
	}
	return string(raw)
}
