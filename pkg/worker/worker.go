// Package worker provides a bounded generic worker pool. The event tunnel
// off-loads blocking broker receives here so they never occupy a
// request-serving goroutine's critical path unaccounted for.
package worker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Sentinel errors for worker pool operations
var (
	ErrPoolNotStarted     = errors.New("worker pool not started")
	ErrPoolStopped        = errors.New("worker pool stopped")
	ErrPoolAlreadyStarted = errors.New("worker pool already started")
	ErrQueueFull          = errors.New("worker pool queue full")
	ErrNilProcessor       = errors.New("processor function cannot be nil")
	ErrStopTimeout        = errors.New("timeout waiting for workers to stop")
)

// Pool is a bounded worker pool processing work items of type T
type Pool[T any] struct {
	workers   int
	queueSize int
	processor func(context.Context, T) error

	workChan chan T
	wg       *sync.WaitGroup

	lifecycleMu sync.Mutex
	started     bool
	stopped     bool

	// Statistics (atomic)
	submitted int64
	processed int64
	failed    int64
	dropped   int64

	metrics *poolMetrics
}

type poolMetrics struct {
	queueDepth prometheus.Gauge
	submitted  prometheus.Counter
	processed  prometheus.Counter
	failed     prometheus.Counter
	dropped    prometheus.Counter
	duration   prometheus.Histogram
}

// Option configures the pool
type Option[T any] func(*Pool[T])

// WithMetrics registers pool metrics under the given prefix
func WithMetrics[T any](reg prometheus.Registerer, prefix string) Option[T] {
	return func(p *Pool[T]) {
		m := &poolMetrics{
			queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
				Name: prefix + "_queue_depth",
				Help: "Current worker pool queue depth",
			}),
			submitted: prometheus.NewCounter(prometheus.CounterOpts{
				Name: prefix + "_submitted_total",
				Help: "Total work items submitted",
			}),
			processed: prometheus.NewCounter(prometheus.CounterOpts{
				Name: prefix + "_processed_total",
				Help: "Total work items processed",
			}),
			failed: prometheus.NewCounter(prometheus.CounterOpts{
				Name: prefix + "_failed_total",
				Help: "Total work items that failed processing",
			}),
			dropped: prometheus.NewCounter(prometheus.CounterOpts{
				Name: prefix + "_dropped_total",
				Help: "Total work items dropped due to full queue",
			}),
			duration: prometheus.NewHistogram(prometheus.HistogramOpts{
				Name:    prefix + "_processing_duration_seconds",
				Help:    "Time spent processing work items",
				Buckets: []float64{0.001, 0.01, 0.1, 1, 10},
			}),
		}
		reg.MustRegister(m.queueDepth, m.submitted, m.processed, m.failed, m.dropped, m.duration)
		p.metrics = m
	}
}

// NewPool creates a bounded worker pool
func NewPool[T any](workers, queueSize int, processor func(context.Context, T) error, opts ...Option[T]) *Pool[T] {
	if workers <= 0 {
		workers = 8
	}
	if queueSize <= 0 {
		queueSize = 256
	}
	if processor == nil {
		panic(ErrNilProcessor)
	}

	pool := &Pool[T]{
		workers:   workers,
		queueSize: queueSize,
		processor: processor,
		workChan:  make(chan T, queueSize),
	}
	for _, opt := range opts {
		opt(pool)
	}
	return pool
}

// Start launches the workers
func (p *Pool[T]) Start(ctx context.Context) error {
	p.lifecycleMu.Lock()
	defer p.lifecycleMu.Unlock()

	if p.started {
		return ErrPoolAlreadyStarted
	}
	p.wg = &sync.WaitGroup{}
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.worker(ctx)
	}
	p.started = true
	return nil
}

// Submit queues work without blocking. Returns ErrQueueFull at capacity.
func (p *Pool[T]) Submit(work T) error {
	p.lifecycleMu.Lock()
	started, stopped := p.started, p.stopped
	p.lifecycleMu.Unlock()

	if !started {
		return ErrPoolNotStarted
	}
	if stopped {
		return ErrPoolStopped
	}

	select {
	case p.workChan <- work:
		atomic.AddInt64(&p.submitted, 1)
		if p.metrics != nil {
			p.metrics.submitted.Inc()
			p.metrics.queueDepth.Set(float64(len(p.workChan)))
		}
		return nil
	default:
		atomic.AddInt64(&p.dropped, 1)
		if p.metrics != nil {
			p.metrics.dropped.Inc()
		}
		return ErrQueueFull
	}
}

// Stop drains the queue and waits for workers, bounded by timeout
func (p *Pool[T]) Stop(timeout time.Duration) error {
	p.lifecycleMu.Lock()
	defer p.lifecycleMu.Unlock()

	if !p.started || p.stopped {
		return nil
	}
	p.stopped = true
	close(p.workChan)

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-done:
		return nil
	case <-timer.C:
		return ErrStopTimeout
	}
}

// Stats returns current pool statistics
func (p *Pool[T]) Stats() Stats {
	return Stats{
		Workers:    p.workers,
		QueueSize:  p.queueSize,
		QueueDepth: len(p.workChan),
		Submitted:  atomic.LoadInt64(&p.submitted),
		Processed:  atomic.LoadInt64(&p.processed),
		Failed:     atomic.LoadInt64(&p.failed),
		Dropped:    atomic.LoadInt64(&p.dropped),
	}
}

// Stats represents worker pool statistics
type Stats struct {
	Workers    int   `json:"workers"`
	QueueSize  int   `json:"queue_size"`
	QueueDepth int   `json:"queue_depth"`
	Submitted  int64 `json:"submitted"`
	Processed  int64 `json:"processed"`
	Failed     int64 `json:"failed"`
	Dropped    int64 `json:"dropped"`
}

func (p *Pool[T]) worker(ctx context.Context) {
	defer p.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case work, ok := <-p.workChan:
			if !ok {
				return
			}
			start := time.Now()
			err := p.processor(ctx, work)
			atomic.AddInt64(&p.processed, 1)
			if err != nil {
				atomic.AddInt64(&p.failed, 1)
			}
			if p.metrics != nil {
				p.metrics.processed.Inc()
				if err != nil {
					p.metrics.failed.Inc()
				}
				p.metrics.duration.Observe(time.Since(start).Seconds())
				p.metrics.queueDepth.Set(float64(len(p.workChan)))
			}
		}
	}
}
