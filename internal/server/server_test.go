package server

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

type pingFunc func(ctx context.Context) error

func (f pingFunc) Ping(ctx context.Context) error { return f(ctx) }

func TestHealthHandler(t *testing.T) {
	tests := []struct {
		name       string
		checks     map[string]HealthChecker
		wantStatus int
		wantBody   string
	}{
		{
			name:       "no dependencies",
			wantStatus: http.StatusOK,
			wantBody:   `{"status":"healthy","components":{}}`,
		},
		{
			name: "all dependencies reachable",
			checks: map[string]HealthChecker{
				"storage": pingFunc(func(context.Context) error { return nil }),
			},
			wantStatus: http.StatusOK,
			wantBody:   `{"status":"healthy","components":{"storage":"ok"}}`,
		},
		{
			name: "one dependency down",
			checks: map[string]HealthChecker{
				"storage":   pingFunc(func(context.Context) error { return nil }),
				"collector": pingFunc(func(context.Context) error { return errors.New("connection refused") }),
			},
			wantStatus: http.StatusServiceUnavailable,
			wantBody:   `{"status":"unhealthy","components":{"collector":"unreachable","storage":"ok"}}`,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			s := New("127.0.0.1:0", "test")
			for name, hc := range tc.checks {
				s.AddHealthCheck(name, hc)
			}
			s.AddHealthCheck("ignored", nil)

			resp := httptest.NewRecorder()
			s.Engine.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/health", nil))

			require.Equal(t, tc.wantStatus, resp.Code)
			require.JSONEq(t, tc.wantBody, resp.Body.String())
		})
	}
}

func TestRun_StopsOnCancel(t *testing.T) {
	s := New("127.0.0.1:0", "release")
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()
	cancel()

	require.NoError(t, <-done)
}
