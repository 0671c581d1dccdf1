// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ideal-world/dew-baas/services/sdk"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newTestGateway(t *testing.T, opts ...Option) (*Server, *httptest.Server) {
	t.Helper()
	s, err := NewServer(append([]Option{WithKey("ak1", "sk1")}, opts...)...)
	require.NoError(t, err)
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)
	return s, ts
}

func newTestClient(t *testing.T, url string, opts ...sdk.ClientOption) *sdk.Client {
	t.Helper()
	base := []sdk.ClientOption{
		sdk.WithCredentials(sdk.NewCredentials("ak1", "sk1")),
		sdk.WithAppID("app1"),
	}
	c, err := sdk.NewClient(url, append(base, opts...)...)
	require.NoError(t, err)
	return c
}

func TestGateway_ShipAndExecute(t *testing.T) {
	s, ts := newTestGateway(t)
	s.Handle("todo.addItem", func(ctx context.Context, args []json.RawMessage) (any, error) {
		var content string
		if err := json.Unmarshal(args[0], &content); err != nil {
			return nil, err
		}
		return map[string]string{"added": content}, nil
	})

	tasks := sdk.NewTaskClient(newTestClient(t, ts.URL), "")
	ctx := context.Background()

	require.NoError(t, tasks.InitTasks(ctx, []byte("var JVM={};")))
	b, ok := s.Bundles().Get("app1")
	require.True(t, ok)
	assert.Equal(t, "var JVM={};", string(b.Code))

	out, err := tasks.Execute(ctx, "todo.addItem", "milk")
	require.NoError(t, err)
	assert.JSONEq(t, `{"added":"milk"}`, string(out))

	_, err = tasks.Execute(ctx, "todo.missing")
	var appErr *sdk.ApplicationError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, CodeNotFound, appErr.Code)
}

func TestGateway_HandlerError(t *testing.T) {
	s, ts := newTestGateway(t)
	s.Handle("jobs.run", func(ctx context.Context, args []json.RawMessage) (any, error) {
		return nil, errors.New("boom")
	})

	_, err := sdk.NewTaskClient(newTestClient(t, ts.URL), "").Execute(context.Background(), "jobs.run")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "[500]boom")
}

func TestGateway_Authentication(t *testing.T) {
	_, ts := newTestGateway(t, WithToken("tok1"))
	ctx := context.Background()
	call := sdk.Call{Name: "task", ResourceURI: sdk.TaskURI("app1"), Action: sdk.ActionFetch}

	tests := []struct {
		name     string
		opts     []sdk.ClientOption
		wantCode string
	}{
		{
			name:     "wrong secret",
			opts:     []sdk.ClientOption{sdk.WithCredentials(sdk.NewCredentials("ak1", "other"))},
			wantCode: CodeUnauthorized,
		},
		{
			name:     "unknown key",
			opts:     []sdk.ClientOption{sdk.WithCredentials(sdk.NewCredentials("ak9", "sk1"))},
			wantCode: CodeUnauthorized,
		},
		{
			name: "expired date",
			opts: []sdk.ClientOption{sdk.WithClock(func() time.Time {
				return time.Now().Add(-time.Hour)
			})},
			wantCode: CodeUnauthorized,
		},
		{
			name:     "no credentials",
			opts:     []sdk.ClientOption{sdk.WithCredentials(nil)},
			wantCode: CodeUnauthorized,
		},
		{
			name:     "token",
			opts:     []sdk.ClientOption{sdk.WithCredentials(nil), sdk.WithToken("tok1")},
			wantCode: CodeNotFound,
		},
		{
			name:     "legacy header",
			opts:     []sdk.ClientOption{sdk.WithAuthHeader(sdk.HeaderAuthentication)},
			wantCode: CodeNotFound,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := newTestClient(t, ts.URL, tt.opts...).Invoke(ctx, call)
			var appErr *sdk.ApplicationError
			require.ErrorAs(t, err, &appErr)
			assert.Equal(t, tt.wantCode, appErr.Code)
		})
	}
}

func TestGateway_RejectsMalformedRequests(t *testing.T) {
	_, ts := newTestGateway(t)

	tests := []struct {
		name  string
		query string
	}{
		{"unknown action", "Dew-Resource-Action=drop&Dew-Resource-Uri=task%3A%2F%2Fapp1.task.default%2Ftask"},
		{"uri without host", "Dew-Resource-Action=fetch&Dew-Resource-Uri=task"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, err := http.NewRequest(http.MethodPost, ts.URL+sdk.ExecPath+"?"+tt.query, nil)
			require.NoError(t, err)
			signer := sdk.NewSigner(sdk.NewCredentials("ak1", "sk1"), "", nil)
			require.NoError(t, signer.Apply(req))

			resp, err := http.DefaultClient.Do(req)
			require.NoError(t, err)
			defer resp.Body.Close()

			var env sdk.Envelope
			require.NoError(t, json.NewDecoder(resp.Body).Decode(&env))
			assert.Equal(t, sdk.Code(CodeBadRequest), env.Code)
		})
	}
}

func TestGateway_RateLimit(t *testing.T) {
	_, ts := newTestGateway(t, WithRateLimit(0.001, 1))
	c := newTestClient(t, ts.URL)
	call := sdk.Call{Name: "task", ResourceURI: sdk.TaskURI("app1"), Action: sdk.ActionFetch}

	_, err := c.Invoke(context.Background(), call)
	var appErr *sdk.ApplicationError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, CodeNotFound, appErr.Code)

	_, err = c.Invoke(context.Background(), call)
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, CodeRateLimited, appErr.Code)
}

func TestGateway_AnonymousWithoutKeys(t *testing.T) {
	s, err := NewServer()
	require.NoError(t, err)
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	c, err := sdk.NewClient(ts.URL)
	require.NoError(t, err)
	err = sdk.NewTaskClient(c, "local").InitTasks(context.Background(), []byte("x"))
	require.NoError(t, err)
	_, ok := s.Bundles().Get("local")
	assert.True(t, ok)
}

func TestGateway_HealthAndMetrics(t *testing.T) {
	_, ts := newTestGateway(t)
	c := newTestClient(t, ts.URL)
	_, _ = c.Invoke(context.Background(), sdk.Call{Name: "task", ResourceURI: sdk.TaskURI("app1"), Action: sdk.ActionFetch})

	resp, err := http.Get(ts.URL + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(body), "dew_gateway_requests"), "gateway counter missing from /metrics")
}

func TestServer_Run(t *testing.T) {
	s, err := NewServer()
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx, "127.0.0.1:0") }()

	time.Sleep(50 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
