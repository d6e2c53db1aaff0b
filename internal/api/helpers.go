package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/regygeorge/nx-workflow/pkg/schema"
)

// maxBody caps request bodies.
const maxBody = 4 << 20

// writeJSON writes v as a JSON response.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeFlowError maps err to a status and writes it with its code and details.
func writeFlowError(w http.ResponseWriter, err error) {
	body := map[string]any{"error": err.Error()}
	var fe *schema.FlowError
	if errors.As(err, &fe) {
		body["code"] = fe.Code
		if fe.NodeID != "" {
			body["node_id"] = fe.NodeID
		}
		if len(fe.Details) > 0 {
			body["details"] = fe.Details
		}
	}
	writeJSON(w, statusFor(err), body)
}

// statusFor maps an error code to an HTTP status.
func statusFor(err error) int {
	switch schema.CodeOf(err) {
	case schema.ErrCodeNotFound, schema.ErrCodeDefinitionNotFound:
		return http.StatusNotFound
	case schema.ErrCodeConflict, schema.ErrCodeInvalidTransition:
		return http.StatusConflict
	case schema.ErrCodeForbidden:
		return http.StatusForbidden
	case schema.ErrCodeValidation, schema.ErrCodeConfiguration, schema.ErrCodeNoMatchingFlow,
		schema.ErrCodeUnknownHandler, schema.ErrCodeInterpolation:
		return http.StatusUnprocessableEntity
	case schema.ErrCodeHandlerFailed:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// decodeJSON reads an optional JSON body into v. An empty body leaves v untouched.
func decodeJSON(r *http.Request, v any) error {
	data, err := io.ReadAll(io.LimitReader(r.Body, maxBody))
	if err != nil {
		return fmt.Errorf("read body: %w", err)
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("invalid JSON: %w", err)
	}
	return nil
}

// queryInt extracts an integer query param with a default value.
func queryInt(r *http.Request, key string, def int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

// queryList splits a comma-separated query param.
func queryList(r *http.Request, key string) []string {
	var out []string
	for _, v := range r.URL.Query()[key] {
		for _, part := range strings.Split(v, ",") {
			if p := strings.TrimSpace(part); p != "" {
				out = append(out, p)
			}
		}
	}
	return out
}
