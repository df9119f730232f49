package task_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phrazzld/sqlqueue/internal/task"
)

func callbackDescriptor(t *testing.T, params map[string]any) task.Descriptor {
	t.Helper()
	raw, err := json.Marshal(params)
	require.NoError(t, err)
	d := newDescriptor(task.TypeHTTPCallback, "callback")
	d.Params = raw
	return d
}

func TestHTTPCallback_Execute(t *testing.T) {
	type received struct {
		method string
		body   string
		header http.Header
	}
	got := make(chan received, 1)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		got <- received{method: r.Method, body: string(body), header: r.Header.Clone()}
		w.WriteHeader(http.StatusAccepted)
		_, _ = w.Write([]byte(`accepted`))
	}))
	defer srv.Close()

	cb := task.NewHTTPCallback(srv.Client())
	assert.Equal(t, task.TypeHTTPCallback, cb.Type())

	d := callbackDescriptor(t, map[string]any{
		"url":     srv.URL + "/hook",
		"headers": map[string]string{"X-Signature": "abc"},
		"data":    map[string]any{"order": 42},
	})

	report, err := cb.Execute(context.Background(), d)
	require.NoError(t, err)
	assert.JSONEq(t, `{"status":202,"body":"accepted"}`, string(report))

	r := <-got
	assert.Equal(t, http.MethodPost, r.method)
	assert.JSONEq(t, `{"order":42}`, r.body)
	assert.Equal(t, "application/json", r.header.Get("Content-Type"))
	assert.Equal(t, "abc", r.header.Get("X-Signature"))
	assert.Equal(t, d.TaskID.String(), r.header.Get("X-Task-ID"))
}

func TestHTTPCallback_ExecuteErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusBadGateway)
	}))
	defer srv.Close()
	cb := task.NewHTTPCallback(srv.Client())

	tests := []struct {
		name       string
		params     map[string]any
		wantErr    error
		wantDetail string
	}{
		{
			name:       "non-2xx response",
			params:     map[string]any{"url": srv.URL, "method": "put"},
			wantDetail: "status 502",
		},
		{
			name:    "unsupported method",
			params:  map[string]any{"url": srv.URL, "method": "TRACE"},
			wantErr: task.ErrInvalidDescriptor,
		},
		{
			name:    "missing url",
			params:  map[string]any{"method": "GET"},
			wantErr: task.ErrInvalidDescriptor,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := cb.Execute(context.Background(), callbackDescriptor(t, tc.params))
			require.Error(t, err)
			if tc.wantErr != nil {
				assert.ErrorIs(t, err, tc.wantErr)
			}
			if tc.wantDetail != "" {
				assert.Contains(t, err.Error(), tc.wantDetail)
			}
		})
	}

	t.Run("missing params", func(t *testing.T) {
		_, err := cb.Execute(context.Background(), newDescriptor(task.TypeHTTPCallback, "empty"))
		assert.ErrorIs(t, err, task.ErrInvalidDescriptor)
	})
}
