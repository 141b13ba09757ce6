package service

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/CSCfi/sd-submit/pkg/errors"
)

// fastClient shrinks the retry interval so tests do not sleep for real.
func fastClient(name, baseURL string, opts ...Option) *Client {
	c := New(name, baseURL, opts...)
	c.retryInterval = time.Millisecond
	return c
}

func TestDoDecodesJSON(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"abc"}`))
	}))
	defer srv.Close()

	c := fastClient("test", srv.URL)
	var out struct {
		ID string `json:"id"`
	}
	err := c.DoJSON(context.Background(), Request{Method: http.MethodGet, Path: "/thing"}, &out)
	require.NoError(t, err)
	assert.Equal(t, "abc", out.ID)
}

func TestDoRetriesServerErrors(t *testing.T) {
	t.Parallel()

	var attempts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		attempts.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := fastClient("datacite", srv.URL)
	_, err := c.Do(context.Background(), Request{Method: http.MethodPost, Path: "/dois"})

	require.Error(t, err)
	assert.True(t, apperrors.IsUpstreamServer(err))
	assert.Equal(t, int32(5), attempts.Load(), "expected five attempts in total")
}

func TestDoRecoversAfterTransientFailure(t *testing.T) {
	t.Parallel()

	var attempts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if attempts.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	c := fastClient("metax", srv.URL)
	resp, err := c.Do(context.Background(), Request{Method: http.MethodGet, Path: "/datasets"})
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.Status)
	assert.Equal(t, int32(3), attempts.Load())
}

func TestDoDoesNotRetryClientErrors(t *testing.T) {
	t.Parallel()

	var attempts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		attempts.Add(1)
		w.WriteHeader(http.StatusUnprocessableEntity)
	}))
	defer srv.Close()

	c := fastClient("rems", srv.URL)
	_, err := c.Do(context.Background(), Request{Method: http.MethodPost, Path: "/resources"})

	require.Error(t, err)
	assert.True(t, apperrors.IsUpstreamClient(err))
	assert.Equal(t, http.StatusUnprocessableEntity, apperrors.Status(err))
	assert.Equal(t, int32(1), attempts.Load(), "4xx responses must not retry")
}

func TestDoRejectsNonJSONOnJSONMethods(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte("<html></html>"))
	}))
	defer srv.Close()

	c := fastClient("metax", srv.URL)
	_, err := c.Do(context.Background(), Request{Method: http.MethodGet, Path: "/datasets"})

	require.Error(t, err)
	assert.True(t, apperrors.IsUpstreamServer(err))
}

func TestDoDisabledService(t *testing.T) {
	t.Parallel()

	c := fastClient("rems", "http://rems.invalid", Disabled())
	_, err := c.Do(context.Background(), Request{Method: http.MethodGet, Path: "/"})

	require.Error(t, err)
	assert.True(t, apperrors.IsConfig(err))
}

func TestHealth(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		handler  http.HandlerFunc
		classify Classifier
		want     Status
	}{
		{
			name:    "healthy default classification",
			handler: func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) },
			want:    StatusUp,
		},
		{
			name:    "server error maps to down",
			handler: func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusServiceUnavailable) },
			want:    StatusDown,
		},
		{
			name:    "custom classifier wins",
			handler: func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) },
			classify: func(*http.Response) Status {
				return StatusDegraded
			},
			want: StatusDegraded,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			srv := httptest.NewServer(tc.handler)
			defer srv.Close()

			c := fastClient("probe", srv.URL, WithHealth(srv.URL+"/health", tc.classify))
			assert.Equal(t, tc.want, c.Health(context.Background()))
		})
	}
}

func TestHealthTransportFailure(t *testing.T) {
	t.Parallel()

	c := fastClient("probe", "http://127.0.0.1:1", WithHealth("http://127.0.0.1:1/health", nil))
	assert.Equal(t, StatusError, c.Health(context.Background()))
}
