// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package sdk

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recorder is a gateway stand-in that replies with a fixed envelope and
// keeps the last request.
type recorder struct {
	mu     sync.Mutex
	reply  string
	status int
	last   *http.Request
	body   []byte
}

func (r *recorder) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	body, _ := io.ReadAll(req.Body)
	r.mu.Lock()
	r.last = req
	r.body = body
	r.mu.Unlock()
	if r.status != 0 {
		w.WriteHeader(r.status)
	}
	io.WriteString(w, r.reply)
}

func newTestClient(t *testing.T, rec *recorder, opts ...ClientOption) *Client {
	t.Helper()
	srv := httptest.NewServer(rec)
	t.Cleanup(srv.Close)
	opts = append([]ClientOption{WithHTTPClient(srv.Client()), WithClock(fixedClock)}, opts...)
	c, err := NewClient(srv.URL+"/", opts...)
	require.NoError(t, err)
	return c
}

func taskCall() Call {
	return Call{Name: "task", ResourceURI: "task://app1.task.default/task", Action: ActionCreate, Body: "code"}
}

func TestInvoke_UnsignedOmitsAuthHeaders(t *testing.T) {
	rec := &recorder{reply: `{"code":"200","body":null}`}
	c := newTestClient(t, rec)

	_, err := c.Invoke(context.Background(), taskCall())
	require.NoError(t, err)

	h := rec.last.Header
	assert.Empty(t, h.Get(HeaderAuthorization))
	assert.Empty(t, h.Get(HeaderDate))
	_, hasToken := h[http.CanonicalHeaderKey(HeaderToken)]
	assert.True(t, hasToken, "Dew-Token must always be sent")
	assert.Empty(t, h.Get(HeaderAppID))
}

func TestInvoke_SignedRequest(t *testing.T) {
	rec := &recorder{reply: `{"code":"200"}`}
	c := newTestClient(t, rec,
		WithCredentials(NewCredentials("ak1", "sk1")),
		WithToken("tok"),
		WithAppID("app1"),
	)

	_, err := c.Invoke(context.Background(), taskCall())
	require.NoError(t, err)

	req := rec.last
	assert.Equal(t, http.MethodPost, req.Method)
	assert.Equal(t, ExecPath, req.URL.Path)
	assert.Equal(t, "Dew-Resource-Action=create&Dew-Resource-Uri=task%3A%2F%2Fapp1.task.default%2Ftask", req.URL.RawQuery)
	assert.Equal(t, "ak1:YWYzMjVhNTU0YTIyYTI0YTk5YmM4NzdjMjZmYzQzYzg2ZTU4MzU3MA==", req.Header.Get(HeaderAuthorization))
	assert.Equal(t, "Mon, 02 Jan 2006 15:04:05 GMT", req.Header.Get(HeaderDate))
	assert.Equal(t, "tok", req.Header.Get(HeaderToken))
	assert.Equal(t, "app1", req.Header.Get(HeaderAppID))
	assert.Equal(t, "code", string(rec.body))

	// same inputs and time sign identically
	first := req.Header.Get(HeaderAuthorization)
	_, err = c.Invoke(context.Background(), taskCall())
	require.NoError(t, err)
	assert.Equal(t, first, rec.last.Header.Get(HeaderAuthorization))
}

func TestInvoke_Envelope(t *testing.T) {
	t.Run("success body", func(t *testing.T) {
		c := newTestClient(t, &recorder{reply: `{"code":"200","body":{"v":1}}`})
		out, err := c.Invoke(context.Background(), taskCall())
		require.NoError(t, err)
		assert.JSONEq(t, `{"v":1}`, string(out))
	})

	t.Run("application error", func(t *testing.T) {
		c := newTestClient(t, &recorder{reply: `{"code":"500","message":"boom"}`})
		_, err := c.Invoke(context.Background(), taskCall())
		var appErr *ApplicationError
		require.True(t, errors.As(err, &appErr), "got %v", err)
		assert.Equal(t, "[500]boom", appErr.Error())
	})

	t.Run("numeric code", func(t *testing.T) {
		c := newTestClient(t, &recorder{reply: `{"code":200,"body":[1,2]}`})
		out, err := c.Invoke(context.Background(), taskCall())
		require.NoError(t, err)
		assert.JSONEq(t, `[1,2]`, string(out))
	})

	t.Run("raw", func(t *testing.T) {
		c := newTestClient(t, &recorder{reply: `{"code":"404","message":"x"}`})
		call := taskCall()
		call.Raw = true
		out, err := c.Invoke(context.Background(), call)
		require.NoError(t, err)
		assert.JSONEq(t, `{"code":"404","message":"x"}`, string(out))
	})

	t.Run("malformed", func(t *testing.T) {
		c := newTestClient(t, &recorder{reply: `<html>`})
		_, err := c.Invoke(context.Background(), taskCall())
		assert.ErrorIs(t, err, ErrMalformedResponse)
	})
}

func TestInvoke_TransportErrors(t *testing.T) {
	t.Run("http status", func(t *testing.T) {
		c := newTestClient(t, &recorder{status: http.StatusBadGateway})
		_, err := c.Invoke(context.Background(), taskCall())
		var tErr *TransportError
		require.True(t, errors.As(err, &tErr), "got %v", err)
		assert.Equal(t, http.StatusBadGateway, tErr.StatusCode)
	})

	t.Run("connection refused", func(t *testing.T) {
		srv := httptest.NewServer(http.NotFoundHandler())
		url := srv.URL
		srv.Close()

		c, err := NewClient(url)
		require.NoError(t, err)
		_, err = c.Invoke(context.Background(), taskCall())
		var tErr *TransportError
		require.True(t, errors.As(err, &tErr), "got %v", err)
		assert.Equal(t, "send", tErr.Op)
	})
}

func TestInvoke_InvalidAction(t *testing.T) {
	c := newTestClient(t, &recorder{reply: `{"code":"200"}`})
	call := taskCall()
	call.Action = "upsert"
	_, err := c.Invoke(context.Background(), call)
	assert.ErrorIs(t, err, ErrInvalidAction)
}

func TestInvoke_Mock(t *testing.T) {
	rec := &recorder{reply: `{"code":"500","message":"network must not be used"}`}
	mocks := NewMocks()
	var gotURI string
	mocks.Register("TASK", func(_ context.Context, action OptActionKind, uri string, body any) (json.RawMessage, error) {
		gotURI = uri
		return json.RawMessage(`"mocked"`), nil
	})
	c := newTestClient(t, rec, WithMocks(mocks))

	out, err := c.Invoke(context.Background(), taskCall())
	require.NoError(t, err)
	assert.Equal(t, `"mocked"`, string(out))
	assert.Equal(t, "task://app1.task.default/task", gotURI)
	assert.Nil(t, rec.last, "mocked call reached the server")
}

func TestNewClient_RequiresURL(t *testing.T) {
	_, err := NewClient("  ")
	assert.ErrorIs(t, err, ErrNoServerURL)
}

func TestTaskClient(t *testing.T) {
	rec := &recorder{reply: `{"code":"200","body":{"id":7}}`}
	c := newTestClient(t, rec, WithAppID("app1"))
	tasks := NewTaskClient(c, "")

	require.NoError(t, tasks.InitTasks(context.Background(), []byte("var JVM=1;")))
	assert.Equal(t, "var JVM=1;", string(rec.body))
	assert.Contains(t, rec.last.URL.RawQuery, "Dew-Resource-Uri=task%3A%2F%2Fapp1.task.default%2Ftask")

	out, err := tasks.Execute(context.Background(), "todo.addItem", "milk", 2)
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":7}`, string(out))
	assert.JSONEq(t, `["milk",2]`, string(rec.body))
	assert.Equal(t, "application/json", rec.last.Header.Get("Content-Type"))
	assert.Equal(t, "task://app1.task.default/exec?code=todo.addItem", rec.last.URL.Query().Get(QueryResourceURI))

	_, err = tasks.Execute(context.Background(), "todo.fetchItems")
	require.NoError(t, err)
	assert.Equal(t, "[]", string(rec.body))
}
