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
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/ideal-world/dew-baas/services/sdk"
)

// maxBodyBytes bounds one /exec request body.
const maxBodyBytes = 32 << 20

// TaskHandler serves one task code. args is the decoded JSON argument
// array; the returned value becomes the envelope body.
type TaskHandler func(ctx context.Context, args []json.RawMessage) (any, error)

// Options configures a Server.
type Options struct {
	// Keys maps access keys to secret keys.
	Keys map[string]string

	// Tokens are accepted Dew-Token values.
	Tokens []string

	// AllowAnonymous accepts requests with no credentials. It is forced on
	// when neither Keys nor Tokens are configured.
	AllowAnonymous bool

	// DateOffset is how old Dew-Date may be. Default: 15m.
	DateOffset time.Duration

	// RateLimit is requests per second per caller. <= 0 disables limiting.
	RateLimit float64

	// RateBurst is the per-caller burst. Default: 1.
	RateBurst int

	// Debug adds gin's request logger.
	Debug bool

	// MetricReaders receive gateway metrics besides /metrics.
	MetricReaders []sdkmetric.Reader

	Logger *slog.Logger
	Now    func() time.Time
}

// Option is a functional option for configuring Server.
type Option func(*Options)

// WithKey accepts signatures by ak/sk.
func WithKey(ak, sk string) Option {
	return func(o *Options) {
		if o.Keys == nil {
			o.Keys = make(map[string]string)
		}
		o.Keys[ak] = sk
	}
}

// WithToken accepts a Dew-Token value.
func WithToken(token string) Option {
	return func(o *Options) {
		if token != "" {
			o.Tokens = append(o.Tokens, token)
		}
	}
}

// WithDateOffset sets how old Dew-Date may be.
func WithDateOffset(d time.Duration) Option {
	return func(o *Options) {
		if d > 0 {
			o.DateOffset = d
		}
	}
}

// WithRateLimit sets the per-caller rate limit.
func WithRateLimit(perSecond float64, burst int) Option {
	return func(o *Options) {
		o.RateLimit = perSecond
		o.RateBurst = burst
	}
}

// WithDebug enables gin's request logger.
func WithDebug(debug bool) Option {
	return func(o *Options) { o.Debug = debug }
}

// WithMetricReader adds a reader for gateway metrics, e.g. a periodic
// stdout exporter.
func WithMetricReader(r sdkmetric.Reader) Option {
	return func(o *Options) {
		if r != nil {
			o.MetricReaders = append(o.MetricReaders, r)
		}
	}
}

// WithLogger sets the server logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *Options) {
		if logger != nil {
			o.Logger = logger
		}
	}
}

// WithClock sets the time source used for Dew-Date checks.
func WithClock(now func() time.Time) Option {
	return func(o *Options) {
		if now != nil {
			o.Now = now
		}
	}
}

// Server is a local dew gateway: it authenticates /exec calls, stores
// shipped task bundles and dispatches task executions to Go handlers.
//
// Description:
//
//	Routes:
//
//	  POST /exec     - the single resource endpoint
//	  GET  /healthz  - liveness
//	  GET  /metrics  - Prometheus exposition of gateway and process metrics
//
//	/exec understands task resources only:
//
//	  create task://<app>.task.default/task            - store the bundle
//	  fetch  task://<app>.task.default/task            - bundle metadata
//	  create task://<app>.task.default/exec?code=<id>  - run a handler
//
// Thread Safety: Safe for concurrent use.
type Server struct {
	options  Options
	engine   *gin.Engine
	verifier *Verifier
	limiter  *keyLimiter
	bundles  *BundleStore
	metrics  *instruments

	mu       sync.RWMutex
	handlers map[string]TaskHandler
}

// NewServer creates a gateway.
func NewServer(opts ...Option) (*Server, error) {
	options := Options{
		DateOffset: 15 * time.Minute,
		Logger:     slog.Default(),
		Now:        time.Now,
	}
	for _, opt := range opts {
		opt(&options)
	}
	if len(options.Keys) == 0 && len(options.Tokens) == 0 {
		options.AllowAnonymous = true
	}

	inst, err := newInstruments(options.MetricReaders...)
	if err != nil {
		return nil, err
	}

	tokens := make(map[string]bool, len(options.Tokens))
	for _, t := range options.Tokens {
		tokens[t] = true
	}

	s := &Server{
		options: options,
		verifier: &Verifier{
			keys:       options.Keys,
			tokens:     tokens,
			anonymous:  options.AllowAnonymous,
			dateOffset: options.DateOffset,
			now:        options.Now,
		},
		limiter:  newKeyLimiter(options.RateLimit, options.RateBurst),
		bundles:  NewBundleStore(),
		metrics:  inst,
		handlers: make(map[string]TaskHandler),
	}
	s.engine = s.routes()
	return s, nil
}

func (s *Server) routes() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware("dew-gateway"))
	if s.options.Debug {
		router.Use(gin.Logger())
	}

	router.POST(sdk.ExecPath, s.handleExec)
	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	gatherers := prometheus.Gatherers{s.metrics.registry, prometheus.DefaultGatherer}
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherers, promhttp.HandlerOpts{})))
	return router
}

// Handler returns the HTTP handler of the gateway.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Handle registers the handler of a task code. A later registration
// replaces an earlier one.
func (s *Server) Handle(taskCode string, h TaskHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[taskCode] = h
}

// Bundles returns the store of shipped bundles.
func (s *Server) Bundles() *BundleStore {
	return s.bundles
}

// Run serves on addr until ctx is canceled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", addr, err)
	}
	srv := &http.Server{
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()
	s.options.Logger.Info("gateway listening",
		slog.String("addr", ln.Addr().String()),
		slog.Bool("anonymous", s.options.AllowAnonymous),
	)

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serving gateway: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutting down gateway: %w", err)
	}
	if err := s.metrics.provider.Shutdown(shutdownCtx); err != nil {
		s.options.Logger.Warn("meter provider shutdown", slog.Any("error", err))
	}
	s.options.Logger.Info("gateway stopped")
	return nil
}

// ===== /exec =====

// reply is the response envelope.
type reply struct {
	Code    string `json:"code"`
	Message string `json:"message,omitempty"`
	Body    any    `json:"body,omitempty"`
}

// exchange is one decoded /exec request.
type exchange struct {
	action   sdk.OptActionKind
	uri      *url.URL
	appID    string
	identity Identity
	body     []byte
}

func (s *Server) handleExec(c *gin.Context) {
	ctx := c.Request.Context()
	start := s.options.Now()
	action := "invalid"

	respond := func(r reply) {
		s.metrics.requests.Add(ctx, 1, metric.WithAttributes(
			attribute.String("action", action),
			attribute.String("code", r.Code),
		))
		s.metrics.duration.Record(ctx, s.options.Now().Sub(start).Seconds())
		if r.Code != CodeOK {
			s.options.Logger.Warn("exec rejected",
				slog.String("action", action),
				slog.String("code", r.Code),
				slog.String("message", r.Message),
			)
		}
		c.JSON(http.StatusOK, r)
	}

	identity, err := s.verifier.Verify(c.Request)
	if err != nil {
		s.metrics.verifications.Add(ctx, 1, metric.WithAttributes(
			attribute.String("method", "none"),
			attribute.String("outcome", err.Error()),
		))
		respond(reply{Code: CodeUnauthorized, Message: err.Error()})
		return
	}
	s.metrics.verifications.Add(ctx, 1, metric.WithAttributes(
		attribute.String("method", identity.Method),
		attribute.String("outcome", "ok"),
	))

	limitKey := identity.Key
	if limitKey == "" {
		limitKey = c.ClientIP()
	}
	if !s.limiter.Allow(limitKey) {
		respond(reply{Code: CodeRateLimited, Message: "too many requests"})
		return
	}

	ex, msg := s.decode(c)
	if msg != "" {
		respond(reply{Code: CodeBadRequest, Message: msg})
		return
	}
	ex.identity = identity
	action = string(ex.action)

	respond(s.dispatch(ctx, ex))
}

// decode parses the query and body of an /exec request. A non-empty
// message means the request is malformed.
func (s *Server) decode(c *gin.Context) (*exchange, string) {
	action, err := sdk.ParseOptActionKind(c.Query(sdk.QueryResourceAction))
	if err != nil {
		return nil, err.Error()
	}

	rawURI := c.Query(sdk.QueryResourceURI)
	uri, err := url.Parse(rawURI)
	if err != nil || uri.Scheme == "" || uri.Host == "" {
		return nil, fmt.Sprintf("resource uri %q must have a scheme and a host", rawURI)
	}

	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxBodyBytes))
	if err != nil {
		return nil, "reading body: " + err.Error()
	}

	appID, _, _ := strings.Cut(uri.Host, ".")
	return &exchange{action: action, uri: uri, appID: appID, body: body}, ""
}

func (s *Server) dispatch(ctx context.Context, ex *exchange) reply {
	if ex.uri.Scheme != sdk.TaskResourceName {
		return reply{Code: CodeNotFound, Message: "resource kind " + ex.uri.Scheme + " is not served"}
	}

	switch {
	case ex.uri.Path == "/task" && ex.action == sdk.ActionCreate:
		b := s.bundles.Put(ex.appID, ex.body, s.options.Now())
		s.options.Logger.Info("task bundle stored",
			slog.String("app_id", ex.appID),
			slog.String("sha256", b.SHA256),
			slog.Int("bytes", b.Bytes),
		)
		return reply{Code: CodeOK}

	case ex.uri.Path == "/task" && ex.action == sdk.ActionFetch:
		b, ok := s.bundles.Get(ex.appID)
		if !ok {
			return reply{Code: CodeNotFound, Message: "no bundle for app " + ex.appID}
		}
		return reply{Code: CodeOK, Body: b}

	case ex.uri.Path == "/exec" && ex.action == sdk.ActionCreate:
		return s.execute(ctx, ex)

	default:
		return reply{Code: CodeNotFound, Message: fmt.Sprintf("%s %s is not served", ex.action, ex.uri.Path)}
	}
}

func (s *Server) execute(ctx context.Context, ex *exchange) reply {
	code := ex.uri.Query().Get("code")
	s.mu.RLock()
	h, ok := s.handlers[code]
	s.mu.RUnlock()
	if !ok {
		return reply{Code: CodeNotFound, Message: fmt.Sprintf("%v: %s", ErrNoHandler, code)}
	}

	var args []json.RawMessage
	if len(ex.body) > 0 {
		if err := json.Unmarshal(ex.body, &args); err != nil {
			return reply{Code: CodeBadRequest, Message: "task arguments must be a JSON array: " + err.Error()}
		}
	}

	out, err := h(ctx, args)
	if err != nil {
		return reply{Code: CodeInternal, Message: err.Error()}
	}
	return reply{Code: CodeOK, Body: out}
}
