package handlers

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/regygeorge/nx-workflow/pkg/schema"
)

func httpExec(props map[string]string, vars map[string]any) *Execution {
	if vars == nil {
		vars = map[string]any{}
	}
	return &Execution{InstanceID: "inst-1", NodeID: "call", Variables: vars, Properties: props}
}

func TestIsHTTPTask(t *testing.T) {
	assert.True(t, IsHTTPTask(map[string]string{"type": "HTTP"}))
	assert.True(t, IsHTTPTask(map[string]string{"http.url": ""}))
	assert.False(t, IsHTTPTask(map[string]string{"type": "script"}))
	assert.False(t, IsHTTPTask(nil))
}

func TestHTTPHandler_DefaultsToPostWithEmptyObject(t *testing.T) {
	var (
		method, contentType string
		body                []byte
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		method = r.Method
		contentType = r.Header.Get("Content-Type")
		body, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	h := NewHTTPHandler(HTTPConfig{})
	require.NoError(t, h.Execute(context.Background(), httpExec(map[string]string{"http.url": srv.URL}, nil)))

	assert.Equal(t, http.MethodPost, method)
	assert.Equal(t, "application/json", contentType)
	assert.Equal(t, "{}", string(body))
}

func TestHTTPHandler_InterpolatesAndStoresResult(t *testing.T) {
	var (
		path   string
		header string
		got    map[string]any
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		header = r.Header.Get("X-Order")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"data": map[string]any{"approved": true, "score": 7}})
	}))
	defer srv.Close()

	vars := map[string]any{"id": "A-7", "amount": 250}
	exec := httpExec(map[string]string{
		"http.url":            srv.URL + "/orders/${{ id }}",
		"http.method":         "put",
		"http.body":           `{"amount": ${{amount}}}`,
		"http.header.X-Order": "${{id}}",
		"http.resultVariable": "check",
		"http.resultQuery":    ".data.approved",
	}, vars)

	require.NoError(t, NewHTTPHandler(HTTPConfig{}).Execute(context.Background(), exec))
	assert.Equal(t, "/orders/A-7", path)
	assert.Equal(t, "A-7", header)
	assert.Equal(t, float64(250), got["amount"])
	assert.Equal(t, true, vars["check"])
}

func TestHTTPHandler_StoresWholeBodyWithoutQuery(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("plain text"))
	}))
	defer srv.Close()

	vars := map[string]any{}
	exec := httpExec(map[string]string{
		"http.url":            srv.URL,
		"http.method":         "GET",
		"http.resultVariable": "out",
	}, vars)
	require.NoError(t, NewHTTPHandler(HTTPConfig{}).Execute(context.Background(), exec))
	assert.Equal(t, "plain text", vars["out"])
}

func TestHTTPHandler_BlankURLIsNoop(t *testing.T) {
	h := NewHTTPHandler(HTTPConfig{})
	assert.NoError(t, h.Execute(context.Background(), httpExec(map[string]string{"type": "http"}, nil)))
	assert.NoError(t, h.Execute(context.Background(), httpExec(map[string]string{"http.url": "   "}, nil)))
}

func TestHTTPHandler_ErrorStatusFails(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusUnprocessableEntity)
	}))
	defer srv.Close()

	err := NewHTTPHandler(HTTPConfig{}).Execute(context.Background(), httpExec(map[string]string{"http.url": srv.URL}, nil))
	require.Error(t, err)
	assert.True(t, schema.IsCode(err, schema.ErrCodeHandlerFailed))

	var fe *schema.FlowError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, http.StatusUnprocessableEntity, fe.Details["status_code"])
}

func TestHTTPHandler_Timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	err := NewHTTPHandler(HTTPConfig{}).Execute(context.Background(), httpExec(map[string]string{
		"http.url":     srv.URL,
		"http.timeout": "50ms",
	}, nil))
	require.Error(t, err)
	assert.True(t, schema.IsCode(err, schema.ErrCodeHandlerFailed))
}

func TestHTTPHandler_BadTimeout(t *testing.T) {
	err := NewHTTPHandler(HTTPConfig{}).Execute(context.Background(), httpExec(map[string]string{
		"http.url":     "http://127.0.0.1:1",
		"http.timeout": "soon",
	}, nil))
	assert.True(t, schema.IsCode(err, schema.ErrCodeValidation))
}

func TestHTTPHandler_MissingVariable(t *testing.T) {
	err := NewHTTPHandler(HTTPConfig{}).Execute(context.Background(), httpExec(map[string]string{
		"http.url": "http://example.invalid/${{ missing }}",
	}, nil))
	assert.True(t, schema.IsCode(err, schema.ErrCodeInterpolation))
}
