// Package http exposes registered Things over HTTP: operations dispatch
// through the exchange, events stream through the tunnel, and a small
// administrative surface registers and removes Things at runtime.
package http

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/c360/thingbridge/descriptor"
	"github.com/c360/thingbridge/errors"
	"github.com/c360/thingbridge/exchange"
	"github.com/c360/thingbridge/gateway"
	"github.com/c360/thingbridge/message"
	"github.com/c360/thingbridge/pool"
	"github.com/c360/thingbridge/tunnel"
)

// getOrGenerateRequestID extracts the request ID from headers or
// generates one, so a request can be traced across the bridge and the
// broker side.
func getOrGenerateRequestID(r *http.Request) string {
	if reqID := r.Header.Get("X-Request-ID"); reqID != "" {
		return reqID
	}
	b := make([]byte, 8)
	if _, err := rand.Read(b); err != nil {
		return fmt.Sprintf("req-%d", time.Now().UnixNano())
	}
	return hex.EncodeToString(b)
}

// Dispatcher runs one operation round trip against a Thing.
type Dispatcher interface {
	Execute(ctx context.Context, env *message.RequestEnvelope) (*exchange.Result, error)
}

// Registrar manages the pool side of Thing registration.
type Registrar interface {
	Register(ctx context.Context, thingID, address string) (*pool.Handle, error)
	Unregister(ctx context.Context, thingID string) error
	Things() []string
}

// EventOpener attaches a fresh event feed for a descriptor.
type EventOpener interface {
	OpenEvent(ctx context.Context, res *descriptor.Resource) (tunnel.Source, error)
}

// Gateway is the HTTP front end of the bridge.
type Gateway struct {
	config   gateway.Config
	table    *descriptor.Table
	dispatch Dispatcher

	registrar Registrar
	events    EventOpener
	streams   *tunnel.Tunnel
	stop      func()

	logger  *slog.Logger
	running atomic.Bool
	metrics *gatewayMetrics
}

// Option configures a Gateway
type Option func(*Gateway)

// WithLogger sets the gateway's logger
func WithLogger(logger *slog.Logger) Option {
	return func(g *Gateway) {
		if logger != nil {
			g.logger = logger
		}
	}
}

// WithRegistrar wires the administrative endpoints to a pool
func WithRegistrar(r Registrar) Option {
	return func(g *Gateway) { g.registrar = r }
}

// WithEvents wires event descriptors to a tunnel and feed opener
func WithEvents(opener EventOpener, t *tunnel.Tunnel) Option {
	return func(g *Gateway) {
		g.events = opener
		g.streams = t
	}
}

// WithStopTrigger sets the shutdown hook behind the stop endpoint
func WithStopTrigger(stop func()) Option {
	return func(g *Gateway) { g.stop = stop }
}

// WithMetrics registers the gateway's request counters
func WithMetrics(reg prometheus.Registerer) Option {
	return func(g *Gateway) { g.metrics = newGatewayMetrics(reg) }
}

// NewGateway creates an HTTP gateway serving the given routing table.
func NewGateway(config gateway.Config, table *descriptor.Table, dispatch Dispatcher, opts ...Option) (*Gateway, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if table == nil || dispatch == nil {
		return nil, errors.WrapFatal(errors.ErrMissingConfig, "Gateway", "NewGateway",
			"routing table and dispatcher are required")
	}

	g := &Gateway{
		config:   config,
		table:    table,
		dispatch: dispatch,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g, nil
}

// Start begins serving
func (g *Gateway) Start(_ context.Context) error {
	if !g.running.CompareAndSwap(false, true) {
		return errors.WrapFatal(errors.ErrAlreadyStarted, "Gateway", "Start",
			"gateway already running")
	}
	return nil
}

// Stop stops accepting work
func (g *Gateway) Stop(_ time.Duration) error {
	g.running.Store(false)
	return nil
}

// RegisterHTTPHandlers mounts the gateway's routes on the mux.
func (g *Gateway) RegisterHTTPHandlers(mux *http.ServeMux) {
	prefix := g.config.Prefix
	if !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}

	mux.HandleFunc(prefix+"things", g.handleThings)
	mux.HandleFunc(prefix+"things/", g.handleThingItem)
	mux.HandleFunc(prefix+"stop", g.handleStop)
	mux.HandleFunc(prefix, g.handleResource)
}

// handleResource serves every Thing member route: the path decides the
// descriptor, the verb decides the operation.
func (g *Gateway) handleResource(w http.ResponseWriter, r *http.Request) {
	requestID := getOrGenerateRequestID(r)
	w.Header().Set("X-Request-ID", requestID)
	g.metrics.observeRequest()

	if !g.authorize(w, r) {
		return
	}

	if !g.running.Load() {
		g.writeError(w, http.StatusServiceUnavailable, "gateway is not running")
		return
	}

	res, ok := g.table.Lookup(r.URL.Path)
	if !ok {
		g.writeError(w, http.StatusNotFound, "resource not found")
		return
	}

	// OPTIONS answers from the descriptor alone, no dispatch.
	if r.Method == http.MethodOptions {
		w.Header().Set("Allow", strings.Join(res.SupportedMethods(), ", "))
		w.WriteHeader(http.StatusNoContent)
		return
	}

	// An explicit method list on the descriptor narrows the verbs past
	// what the kind alone would allow.
	if !res.AllowsMethod(r.Method) {
		w.Header().Set("Allow", strings.Join(res.SupportedMethods(), ", "))
		g.writeError(w, http.StatusMethodNotAllowed,
			fmt.Sprintf("method %s not allowed", r.Method))
		return
	}

	if res.Kind == descriptor.Event {
		g.serveEvent(w, r, res)
		return
	}

	op, err := res.OperationFor(r.Method)
	if err != nil {
		w.Header().Set("Allow", strings.Join(res.SupportedMethods(), ", "))
		g.writeError(w, http.StatusMethodNotAllowed,
			fmt.Sprintf("method %s not allowed", r.Method))
		return
	}

	g.serveOperation(w, r, requestID, res, op)
}

// serveOperation assembles arguments, dispatches and renders the reply.
func (g *Gateway) serveOperation(w http.ResponseWriter, r *http.Request, requestID string,
	res *descriptor.Resource, op message.Operation) {

	defer r.Body.Close()

	body, err := g.readBody(r)
	if err != nil {
		g.writeDispatchError(w, requestID, res, err)
		return
	}

	payload, reserved, err := gateway.AssembleArguments(body, r.URL.Query())
	if err != nil {
		g.writeDispatchError(w, requestID, res, err)
		return
	}
	if res.WantsRaw {
		payload[gateway.RawRequestKey] = gateway.RawRequest(r)
	}

	if g.config.ValidateArguments && len(res.ArgSchema) > 0 {
		if err := validateArguments(res.ArgSchema, payload); err != nil {
			g.writeDispatchError(w, requestID, res, err)
			return
		}
	}

	env := message.NewEnvelope(res.ThingID, res.Name, op, payload).
		WithExecutionLogs(reserved.FetchExecutionLogs)
	if reserved.Timeout != nil {
		env = env.WithTimeout(*reserved.Timeout)
	} else {
		env = env.WithTimeout(g.config.DefaultTimeout)
	}

	result, err := g.dispatch.Execute(r.Context(), env)
	if err != nil {
		g.writeDispatchError(w, requestID, res, err)
		return
	}

	g.writeResult(w, res, result)
}

// serveEvent attaches a feed and streams it, over a WebSocket when the
// client asked to upgrade and SSE otherwise.
func (g *Gateway) serveEvent(w http.ResponseWriter, r *http.Request, res *descriptor.Resource) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		g.writeError(w, http.StatusMethodNotAllowed,
			fmt.Sprintf("method %s not allowed", r.Method))
		return
	}
	if g.events == nil || g.streams == nil {
		g.writeError(w, http.StatusNotFound, "event streaming not enabled")
		return
	}

	source, err := g.events.OpenEvent(r.Context(), res)
	if err != nil {
		g.writeDispatchError(w, "", res, err)
		return
	}

	sub := tunnel.Open(source, res.Name, res.Media)
	if strings.EqualFold(r.Header.Get("Upgrade"), "websocket") {
		g.streams.ServeWS(w, r, sub)
		return
	}
	g.streams.ServeSSE(w, r, sub)
}

// authorize enforces the CORS allow-list. Refusal is a 401 before any
// dispatch work happens.
func (g *Gateway) authorize(w http.ResponseWriter, r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin != "" && !gateway.OriginAllowed(origin, g.config.AllowedOrigins) {
		g.writeError(w, http.StatusUnauthorized, "origin not allowed")
		return false
	}
	gateway.ApplyCORS(w, origin, g.config.AllowedOrigins)
	return true
}

func (g *Gateway) readBody(r *http.Request) ([]byte, error) {
	limited := io.LimitReader(r.Body, g.config.MaxRequestSize+1)
	data, err := io.ReadAll(limited)
	if err != nil {
		return nil, errors.WrapInvalid(err, "Gateway", "readBody", "read request body")
	}
	if int64(len(data)) > g.config.MaxRequestSize {
		return nil, errors.WrapInvalid(
			fmt.Errorf("request body exceeds maximum size of %d bytes", g.config.MaxRequestSize),
			"Gateway", "readBody", "check body size")
	}
	return data, nil
}

// writeResult renders a successful reply: the Thing's bytes verbatim with
// 200, or 204 when the reply explicitly carried no data. Image-typed
// properties are decoded from their base64 JSON string so the client gets
// actual image bytes.
func (g *Gateway) writeResult(w http.ResponseWriter, res *descriptor.Resource, result *exchange.Result) {
	g.metrics.observeOutcome(http.StatusOK)

	if len(result.ExecutionLogs) > 0 {
		if logs, err := json.Marshal(result.ExecutionLogs); err == nil {
			w.Header().Set("X-Execution-Logs", string(logs))
		}
	}

	if !result.HasData {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	if res.Media != descriptor.MediaNone {
		if raw, ok := decodeImagePayload(result.Data); ok {
			w.Header().Set("Content-Type", res.Media)
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write(raw)
			return
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(result.Data)
}

// writeDispatchError maps a dispatch failure to its status code and
// renders the client-safe body. The full error goes to the log, never to
// the client.
func (g *Gateway) writeDispatchError(w http.ResponseWriter, requestID string,
	res *descriptor.Resource, err error) {

	status := statusFor(err)
	g.logger.Error("dispatch failed",
		"requestID", requestID,
		"thing", res.ThingID,
		"member", res.Name,
		"status", status,
		"error", err)
	g.metrics.observeOutcome(status)

	if errors.IsRemoteExecution(err) {
		// The remote's structured exception is the response body.
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		if data, merr := json.Marshal(errors.Describe(err)); merr == nil {
			_, _ = w.Write(data)
		}
		return
	}

	g.writeError(w, status, errors.Sanitize(err))
}

// statusFor maps the error taxonomy to HTTP status codes.
func statusFor(err error) int {
	switch {
	case stderrors.Is(err, errors.ErrUnauthorized):
		return http.StatusUnauthorized
	case stderrors.Is(err, errors.ErrUnknownThing),
		stderrors.Is(err, errors.ErrThingRemoved),
		stderrors.Is(err, errors.ErrNotFound):
		return http.StatusNotFound
	case stderrors.Is(err, errors.ErrMethodNotAllowed):
		return http.StatusMethodNotAllowed
	case stderrors.Is(err, errors.ErrConnectionAborted),
		stderrors.Is(err, errors.ErrConnectionError),
		stderrors.Is(err, errors.ErrNoConnection),
		stderrors.Is(err, errors.ErrShuttingDown):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// writeError writes a JSON error response
func (g *Gateway) writeError(w http.ResponseWriter, statusCode int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	response := map[string]any{
		"error":  msg,
		"status": statusCode,
	}
	data, _ := json.Marshal(response)
	_, _ = w.Write(data)
}
