// Package tunnel streams Thing events to HTTP clients over SSE and
// WebSocket. Delivered events keep broker order; the tunnel never drops
// or duplicates a message it has received.
package tunnel

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/c360/thingbridge/errors"
	"github.com/c360/thingbridge/pkg/worker"
)

// DefaultPollInterval bounds one blocking receive. Every elapsed interval
// without an event produces a heartbeat so dead clients are noticed.
const DefaultPollInterval = 10 * time.Second

// Source is one attached event feed. Receive blocks up to timeout and
// returns nil data with nil error when nothing was published in time.
type Source interface {
	Receive(timeout time.Duration) ([]byte, error)
	Close() error
}

// Subscription couples a Source with the unique consumer identity the
// broker side sees, so two browser tabs on the same event never share
// a feed.
type Subscription struct {
	id     string
	event  string
	media  string
	source Source
}

// Open wraps a source as a subscription for the named event. media is the
// image media hint for image-typed events, empty otherwise.
func Open(source Source, event, media string) *Subscription {
	return &Subscription{
		id:     fmt.Sprintf("%s|HTTPEvent|%s", event, uuid.NewString()),
		event:  event,
		media:  media,
		source: source,
	}
}

// ID returns the subscription's consumer identity.
func (s *Subscription) ID() string { return s.id }

// Event returns the event name the subscription feeds from.
func (s *Subscription) Event() string { return s.event }

// Close releases the broker-side resources of the feed.
func (s *Subscription) Close() error { return s.source.Close() }

// receiveJob off-loads one blocking receive to the worker pool so the
// serving goroutine can keep watching the client connection.
type receiveJob struct {
	sub     *Subscription
	timeout time.Duration
	result  chan receiveResult
}

type receiveResult struct {
	data []byte
	err  error
}

// Tunnel serves event subscriptions to HTTP clients. Blocking receives
// run on a bounded worker pool shared by all streams.
type Tunnel struct {
	logger       *slog.Logger
	pollInterval time.Duration
	workers      *worker.Pool[receiveJob]
	metrics      *tunnelMetrics
	registry     prometheus.Registerer
}

// Option configures a Tunnel
type Option func(*Tunnel)

// WithLogger sets the tunnel's logger
func WithLogger(logger *slog.Logger) Option {
	return func(t *Tunnel) {
		if logger != nil {
			t.logger = logger
		}
	}
}

// WithPollInterval overrides the per-receive poll bound
func WithPollInterval(d time.Duration) Option {
	return func(t *Tunnel) {
		if d > 0 {
			t.pollInterval = d
		}
	}
}

// WithMetrics registers stream and worker metrics with the given registerer
func WithMetrics(reg prometheus.Registerer) Option {
	return func(t *Tunnel) {
		t.metrics = newTunnelMetrics(reg)
		t.registry = reg
	}
}

// New creates a tunnel able to serve up to maxStreams concurrent clients.
func New(maxStreams int, opts ...Option) *Tunnel {
	if maxStreams <= 0 {
		maxStreams = 64
	}

	t := &Tunnel{
		logger:       slog.Default(),
		pollInterval: DefaultPollInterval,
	}
	for _, opt := range opts {
		opt(t)
	}

	var workerOpts []worker.Option[receiveJob]
	if t.registry != nil {
		workerOpts = append(workerOpts,
			worker.WithMetrics[receiveJob](t.registry, "thingbridge_tunnel_workers"))
	}

	t.workers = worker.NewPool(maxStreams, maxStreams*2, func(_ context.Context, job receiveJob) error {
		data, rerr := job.sub.source.Receive(job.timeout)
		job.result <- receiveResult{data: data, err: rerr}
		return nil
	}, workerOpts...)

	return t
}

// Start brings up the worker pool.
func (t *Tunnel) Start(ctx context.Context) error {
	return t.workers.Start(ctx)
}

// Stop drains the worker pool. Streams already serving exit when their
// clients disconnect or their sources close.
func (t *Tunnel) Stop(timeout time.Duration) error {
	return t.workers.Stop(timeout)
}

// receive runs one bounded receive for the subscription, preferring the
// worker pool and falling back to a direct call when the pool is
// saturated or down. Returns as soon as the client context ends.
func (t *Tunnel) receive(ctx context.Context, sub *Subscription) ([]byte, error) {
	job := receiveJob{
		sub:     sub,
		timeout: t.pollInterval,
		result:  make(chan receiveResult, 1),
	}

	if err := t.workers.Submit(job); err != nil {
		data, rerr := sub.source.Receive(t.pollInterval)
		return data, rerr
	}

	select {
	case res := <-job.result:
		return res.data, res.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// exceptionFrame serializes a per-message failure the way operation
// handlers report errors, so stream consumers parse one shape everywhere.
func exceptionFrame(err error) map[string]any {
	return errors.Describe(err)
}
