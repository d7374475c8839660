package pool

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/singleflight"

	"github.com/c360/thingbridge/errors"
)

// DefaultHandshakeTimeout bounds how long a first handshake may take.
const DefaultHandshakeTimeout = 60 * time.Second

// Registry resolves Thing IDs to broker addresses and records bindings,
// so Things registered before a bridge restart can be rediscovered.
type Registry interface {
	Put(ctx context.Context, thingID, address string) error
	Lookup(ctx context.Context, thingID string) (string, error)
	Delete(ctx context.Context, thingID string) error
}

// Pool owns one handle per registered Thing and replaces broken handles
// through rebinding. Concurrent rebinds of the same Thing collapse into
// a single reconnect.
type Pool struct {
	dial             Dialer
	registry         Registry
	logger           *slog.Logger
	handshakeTimeout time.Duration

	mu      sync.RWMutex
	handles map[string]*Handle

	rebinds singleflight.Group
	metrics *poolMetrics

	closed bool
}

// Option configures a Pool
type Option func(*Pool)

// WithLogger sets the pool's logger
func WithLogger(logger *slog.Logger) Option {
	return func(p *Pool) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// WithRegistry sets the address registry used for discovery
func WithRegistry(reg Registry) Option {
	return func(p *Pool) { p.registry = reg }
}

// WithHandshakeTimeout bounds handshake attempts
func WithHandshakeTimeout(d time.Duration) Option {
	return func(p *Pool) {
		if d > 0 {
			p.handshakeTimeout = d
		}
	}
}

// WithMetrics registers binding metrics with the given registerer
func WithMetrics(reg prometheus.Registerer) Option {
	return func(p *Pool) { p.metrics = newPoolMetrics(reg) }
}

// New creates a pool that dials Things with the given dialer.
func New(dial Dialer, opts ...Option) *Pool {
	p := &Pool{
		dial:             dial,
		logger:           slog.Default(),
		handshakeTimeout: DefaultHandshakeTimeout,
		handles:          make(map[string]*Handle),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Register binds a Thing at the given address: dial, handshake, remember.
// Re-registering an existing Thing replaces its handle.
func (p *Pool) Register(ctx context.Context, thingID, address string) (*Handle, error) {
	p.mu.RLock()
	closed := p.closed
	p.mu.RUnlock()
	if closed {
		return nil, errors.ErrShuttingDown
	}

	h, err := p.bind(ctx, thingID, address)
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	old := p.handles[thingID]
	p.handles[thingID] = h
	p.metrics.setBindings(len(p.handles))
	p.mu.Unlock()

	if old != nil {
		if cerr := old.close(); cerr != nil {
			p.logger.Warn("closing replaced handle", "thing", thingID, "error", cerr)
		}
	}

	if p.registry != nil {
		if rerr := p.registry.Put(ctx, thingID, address); rerr != nil {
			p.logger.Warn("recording thing address", "thing", thingID, "error", rerr)
		}
	}

	p.logger.Info("thing registered", "thing", thingID, "address", address, "identity", h.Identity())
	return h, nil
}

// Resolve returns the Thing's current handle, discovering the address
// through the registry when the Thing has no live binding yet. Returns
// ErrUnknownThing when the Thing is known nowhere.
func (p *Pool) Resolve(ctx context.Context, thingID string) (*Handle, error) {
	p.mu.RLock()
	h, ok := p.handles[thingID]
	closed := p.closed
	p.mu.RUnlock()

	if closed {
		return nil, errors.ErrShuttingDown
	}
	if ok {
		return h, nil
	}

	if p.registry == nil {
		return nil, errors.ErrUnknownThing
	}

	address, err := p.registry.Lookup(ctx, thingID)
	if err != nil {
		return nil, err
	}
	return p.Register(ctx, thingID, address)
}

// Rebind replaces a Thing's handle with a freshly dialed and handshaken
// one. Concurrent rebinds for the same Thing share one attempt, so a
// burst of failures triggers a single reconnect.
func (p *Pool) Rebind(ctx context.Context, thingID string) (*Handle, error) {
	v, err, _ := p.rebinds.Do(thingID, func() (any, error) {
		p.mu.RLock()
		old, ok := p.handles[thingID]
		closed := p.closed
		p.mu.RUnlock()

		if closed {
			return nil, errors.ErrShuttingDown
		}
		if !ok {
			return nil, errors.ErrUnknownThing
		}
		if old.removed.Load() {
			return nil, errors.ErrThingRemoved
		}

		address := old.Address()
		if p.registry != nil {
			if fresh, lerr := p.registry.Lookup(ctx, thingID); lerr == nil {
				address = fresh
			}
		}

		h, berr := p.bind(ctx, thingID, address)
		if berr != nil {
			return nil, berr
		}

		// Re-verify membership under the write lock: an Unregister or
		// Shutdown that landed while we were dialing must not be undone
		// by installing the fresh handle.
		p.mu.Lock()
		cur, live := p.handles[thingID]
		if p.closed || !live || cur != old || old.removed.Load() {
			shuttingDown := p.closed
			p.mu.Unlock()
			if cerr := h.close(); cerr != nil {
				p.logger.Warn("closing unneeded handle", "thing", thingID, "error", cerr)
			}
			if shuttingDown {
				return nil, errors.ErrShuttingDown
			}
			if live && cur != old {
				// Another binding replaced ours mid-rebind; use it.
				return cur, nil
			}
			return nil, errors.ErrThingRemoved
		}
		p.handles[thingID] = h
		p.metrics.setBindings(len(p.handles))
		p.mu.Unlock()

		old.markBroken()
		if cerr := old.close(); cerr != nil {
			p.logger.Warn("closing broken handle", "thing", thingID, "error", cerr)
		}

		p.metrics.observeRebind()
		p.logger.Info("thing rebound", "thing", thingID, "address", address, "identity", h.Identity())
		return h, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Handle), nil
}

// Unregister removes a Thing from the pool. In-flight operations on the
// old handle observe ErrThingRemoved rather than a retryable failure.
func (p *Pool) Unregister(ctx context.Context, thingID string) error {
	p.mu.Lock()
	h, ok := p.handles[thingID]
	delete(p.handles, thingID)
	p.metrics.setBindings(len(p.handles))
	p.mu.Unlock()

	if !ok {
		return errors.ErrUnknownThing
	}

	h.markRemoved()
	if err := h.close(); err != nil {
		p.logger.Warn("closing unregistered handle", "thing", thingID, "error", err)
	}

	if p.registry != nil {
		if err := p.registry.Delete(ctx, thingID); err != nil {
			p.logger.Warn("deleting thing address", "thing", thingID, "error", err)
		}
	}

	p.logger.Info("thing unregistered", "thing", thingID)
	return nil
}

// Things lists the Things with live bindings.
func (p *Pool) Things() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()

	out := make([]string, 0, len(p.handles))
	for id := range p.handles {
		out = append(out, id)
	}
	return out
}

// Shutdown closes every handle and refuses further work.
func (p *Pool) Shutdown(_ context.Context) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	handles := p.handles
	p.handles = make(map[string]*Handle)
	p.metrics.setBindings(0)
	p.mu.Unlock()

	var firstErr error
	for id, h := range handles {
		h.markBroken()
		if err := h.close(); err != nil && firstErr == nil {
			firstErr = errors.WrapTransient(err, "Pool", "Shutdown", "close handle "+id)
		}
	}
	return firstErr
}

// bind dials and handshakes a fresh handle without touching the map.
func (p *Pool) bind(ctx context.Context, thingID, address string) (*Handle, error) {
	conn, err := p.dial(ctx, thingID, address)
	if err != nil {
		return nil, err
	}

	h := newHandle(thingID, address, conn)

	hsCtx, cancel := context.WithTimeout(ctx, p.handshakeTimeout)
	defer cancel()

	if err := h.Handshake(hsCtx); err != nil {
		_ = conn.Close()
		return nil, err
	}
	return h, nil
}
