// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package sdk is the Go client of the dew gateway: signed requests,
// the {code, message, body} envelope, task shipping and invocation.
package sdk

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "dew.sdk"

// Call is one gateway request.
type Call struct {
	// Name is the resource kind used for mock lookup, e.g. "task".
	Name string

	// ResourceURI addresses the resource, e.g. task://app.task.default/task.
	ResourceURI string

	Action OptActionKind

	// Body is sent as-is when it is []byte or string, JSON-encoded
	// otherwise. Nil sends an empty body.
	Body any

	// Header carries extra request headers.
	Header http.Header

	// Raw returns the whole response instead of the envelope body.
	Raw bool
}

// Envelope is the gateway response shape.
type Envelope struct {
	Code    Code            `json:"code"`
	Message string          `json:"message,omitempty"`
	Body    json.RawMessage `json:"body,omitempty"`
}

// Code is the envelope status. The gateway sends a string; numbers are
// accepted too.
type Code string

// CodeOK is the success code.
const CodeOK Code = "200"

// UnmarshalJSON accepts "200" and 200.
func (c *Code) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*c = Code(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("envelope code: %w", err)
	}
	*c = Code(n.String())
	return nil
}

// ClientOptions configures a Client.
type ClientOptions struct {
	HTTPClient  *http.Client
	Credentials *Credentials
	Token       string
	AppID       string
	AuthHeader  string
	Timeout     time.Duration
	Now         func() time.Time
	Mocks       *Mocks
	Logger      *slog.Logger
}

// ClientOption is a functional option for configuring Client.
type ClientOption func(*ClientOptions)

// WithHTTPClient replaces the default instrumented client.
func WithHTTPClient(c *http.Client) ClientOption {
	return func(o *ClientOptions) { o.HTTPClient = c }
}

// WithCredentials signs every request with creds.
func WithCredentials(creds *Credentials) ClientOption {
	return func(o *ClientOptions) { o.Credentials = creds }
}

// WithToken sets Dew-Token.
func WithToken(token string) ClientOption {
	return func(o *ClientOptions) { o.Token = token }
}

// WithAppID sets Dew-App-Id.
func WithAppID(appID string) ClientOption {
	return func(o *ClientOptions) { o.AppID = appID }
}

// WithAuthHeader sets the signature header name, e.g. the legacy
// Authentication.
func WithAuthHeader(name string) ClientOption {
	return func(o *ClientOptions) {
		if name != "" {
			o.AuthHeader = name
		}
	}
}

// WithTimeout bounds each request.
func WithTimeout(d time.Duration) ClientOption {
	return func(o *ClientOptions) { o.Timeout = d }
}

// WithClock replaces time.Now for Dew-Date.
func WithClock(now func() time.Time) ClientOption {
	return func(o *ClientOptions) { o.Now = now }
}

// WithMocks routes matching resource names to stubs.
func WithMocks(m *Mocks) ClientOption {
	return func(o *ClientOptions) { o.Mocks = m }
}

// WithClientLogger sets the client logger.
func WithClientLogger(logger *slog.Logger) ClientOption {
	return func(o *ClientOptions) {
		if logger != nil {
			o.Logger = logger
		}
	}
}

// Client sends signed requests to the gateway exec endpoint.
//
// Description:
//
//	Every call is a POST to <server>/exec with the resource action and
//	URI in the query string. Dew-Token is always present, empty when no
//	token is configured. With credentials, Dew-Date and the signature
//	header are added. There are no retries.
//
// Thread Safety: Safe for concurrent use.
type Client struct {
	baseURL string
	http    *http.Client
	signer  *Signer
	options ClientOptions
}

// NewClient creates a client for serverURL. A trailing slash is dropped.
func NewClient(serverURL string, opts ...ClientOption) (*Client, error) {
	serverURL = strings.TrimRight(strings.TrimSpace(serverURL), "/")
	if serverURL == "" {
		return nil, ErrNoServerURL
	}
	if _, err := url.Parse(serverURL); err != nil {
		return nil, fmt.Errorf("parsing server url: %w", err)
	}

	options := ClientOptions{
		AuthHeader: HeaderAuthorization,
		Timeout:    30 * time.Second,
		Now:        time.Now,
		Logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(&options)
	}
	if options.HTTPClient == nil {
		options.HTTPClient = &http.Client{
			Timeout:   options.Timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		}
	}

	return &Client{
		baseURL: serverURL,
		http:    options.HTTPClient,
		signer:  NewSigner(options.Credentials, options.AuthHeader, options.Now),
		options: options,
	}, nil
}

// AppID returns the configured app id.
func (c *Client) AppID() string {
	return c.options.AppID
}

// ExecURL returns the full request URL for a call.
func (c *Client) ExecURL(action OptActionKind, resourceURI string) string {
	return c.baseURL + ExecPath + "?" + ExecQuery(action, resourceURI)
}

// ExecQuery renders the exec query string. The URI is escaped the way
// encodeURIComponent escapes it.
func ExecQuery(action OptActionKind, resourceURI string) string {
	return QueryResourceAction + "=" + string(action) + "&" +
		QueryResourceURI + "=" + encodeURIComponent(resourceURI)
}

// uriComponentUnescapes undoes the url.QueryEscape escapes that
// encodeURIComponent does not apply.
var uriComponentUnescapes = strings.NewReplacer(
	"+", "%20",
	"%21", "!",
	"%27", "'",
	"%28", "(",
	"%29", ")",
	"%2A", "*",
)

func encodeURIComponent(s string) string {
	return uriComponentUnescapes.Replace(url.QueryEscape(s))
}

// Invoke performs one call and returns the envelope body.
//
// Outputs:
//
//	json.RawMessage - The envelope body, or the whole response when
//	                  call.Raw is set. Nil when the body is absent.
//	error           - *ApplicationError for a non-"200" code,
//	                  *TransportError for network and HTTP failures,
//	                  ErrInvalidAction or ErrMalformedResponse.
func (c *Client) Invoke(ctx context.Context, call Call) (json.RawMessage, error) {
	if !call.Action.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidAction, call.Action)
	}

	if fn, ok := c.options.Mocks.Lookup(call.Name); ok {
		c.options.Logger.Info("mock request",
			slog.String("action", string(call.Action)),
			slog.String("resource", call.ResourceURI),
		)
		requestsTotal.WithLabelValues(string(call.Action), "mock").Inc()
		return fn(ctx, call.Action, call.ResourceURI, call.Body)
	}

	ctx, span := otel.Tracer(tracerName).Start(ctx, "sdk.Invoke",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("dew.action", string(call.Action)),
			attribute.String("dew.resource", call.ResourceURI),
		),
	)
	defer span.End()
	start := time.Now()

	out, err := c.do(ctx, call)
	requestDuration.WithLabelValues(string(call.Action)).Observe(time.Since(start).Seconds())

	outcome := "ok"
	var appErr *ApplicationError
	switch {
	case err == nil:
	case errors.As(err, &appErr):
		outcome = "application_error"
	default:
		outcome = "transport_error"
	}
	requestsTotal.WithLabelValues(string(call.Action), outcome).Inc()

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, outcome)
		c.options.Logger.Error("dew request failed",
			slog.String("action", string(call.Action)),
			slog.String("resource", call.ResourceURI),
			slog.String("error", SafeLogString(err.Error())),
		)
		return nil, err
	}
	return out, nil
}

func (c *Client) do(ctx context.Context, call Call) (json.RawMessage, error) {
	body, contentType, err := encodeBody(call.Body)
	if err != nil {
		return nil, err
	}

	target := c.ExecURL(call.Action, call.ResourceURI)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	for k, vs := range call.Header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set(HeaderToken, c.options.Token)
	if c.options.AppID != "" {
		req.Header.Set(HeaderAppID, c.options.AppID)
	}
	if err := c.signer.Apply(req); err != nil {
		return nil, fmt.Errorf("signing request: %w", err)
	}

	c.options.Logger.Debug("dew request",
		slog.String("action", string(call.Action)),
		slog.String("resource", call.ResourceURI),
		slog.String("url", target),
	)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &TransportError{Op: "send", URL: target, Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &TransportError{Op: "read", URL: target, Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &TransportError{Op: "status", URL: target, StatusCode: resp.StatusCode}
	}

	if call.Raw {
		return data, nil
	}

	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	if env.Code != CodeOK {
		return nil, &ApplicationError{Code: string(env.Code), Message: env.Message}
	}
	return env.Body, nil
}

func encodeBody(body any) ([]byte, string, error) {
	switch b := body.(type) {
	case nil:
		return nil, "text/plain; charset=utf-8", nil
	case []byte:
		return b, "text/plain; charset=utf-8", nil
	case string:
		return []byte(b), "text/plain; charset=utf-8", nil
	case json.RawMessage:
		return b, "application/json", nil
	default:
		data, err := json.Marshal(b)
		if err != nil {
			return nil, "", fmt.Errorf("encoding request body: %w", err)
		}
		return data, "application/json", nil
	}
}
