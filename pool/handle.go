// Package pool maintains the bridge's long-lived conduits to Things.
// Each Thing gets one handshaken handle; broken handles are replaced
// wholesale by rebinding rather than repaired in place.
package pool

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/c360/thingbridge/errors"
)

// HandleState tracks a handle's handshake lifecycle.
type HandleState int32

// Handle lifecycle states. A handle moves forward only; once Broken it
// never recovers and callers must rebind for a fresh one.
const (
	StateNotStarted HandleState = iota
	StateInProgress
	StateReady
	StateBroken
)

// String returns the string representation of HandleState
func (s HandleState) String() string {
	switch s {
	case StateNotStarted:
		return "not_started"
	case StateInProgress:
		return "in_progress"
	case StateReady:
		return "ready"
	case StateBroken:
		return "broken"
	default:
		return "unknown"
	}
}

// Conn is a conduit to a single Thing. Implementations translate
// transport failures into the connection error taxonomy.
//
// Send opens a private reply channel per request so that concurrent
// exchanges over the same conduit never see each other's replies.
type Conn interface {
	Handshake(ctx context.Context) error
	Send(ctx context.Context, data []byte) (Replies, error)
	Close() error
}

// Replies yields the replies addressed to a single sent request. Close
// releases the underlying subscription; callers must always close.
type Replies interface {
	Next(ctx context.Context) ([]byte, error)
	Close() error
}

// Dialer opens a fresh conduit to the Thing at the given address.
type Dialer func(ctx context.Context, thingID, address string) (Conn, error)

// Handle is one bound conduit to a Thing. The identity is unique per
// binding so replies meant for a stale handle are never attributed to
// its replacement.
type Handle struct {
	thingID  string
	address  string
	identity string

	conn  Conn
	state atomic.Int32

	removed atomic.Bool

	handshakeMu  sync.Mutex
	handshakeErr error
}

func newHandle(thingID, address string, conn Conn) *Handle {
	return &Handle{
		thingID:  thingID,
		address:  address,
		identity: fmt.Sprintf("%s|%s", thingID, uuid.NewString()),
		conn:     conn,
	}
}

// ThingID returns the Thing this handle is bound to.
func (h *Handle) ThingID() string { return h.thingID }

// Address returns the broker address the handle was dialed against.
func (h *Handle) Address() string { return h.address }

// Identity returns the unique binding identity.
func (h *Handle) Identity() string { return h.identity }

// State returns the handle's current lifecycle state.
func (h *Handle) State() HandleState {
	return HandleState(h.state.Load())
}

// Handshake verifies the Thing is alive before the first exchange. It is
// idempotent: concurrent and repeated calls share one handshake attempt
// and its outcome.
func (h *Handle) Handshake(ctx context.Context) error {
	if h.removed.Load() {
		return errors.ErrThingRemoved
	}

	switch h.State() {
	case StateReady:
		return nil
	case StateBroken:
		return errors.ErrHandleBroken
	}

	h.handshakeMu.Lock()
	defer h.handshakeMu.Unlock()

	// Re-check under the lock: another caller may have finished first.
	switch h.State() {
	case StateReady:
		return nil
	case StateBroken:
		return h.handshakeErr
	}

	h.state.Store(int32(StateInProgress))
	if err := h.conn.Handshake(ctx); err != nil {
		h.handshakeErr = err
		h.state.Store(int32(StateBroken))
		return err
	}

	h.state.Store(int32(StateReady))
	return nil
}

// Send forwards an encoded request over the conduit and returns the
// reply channel for that request. The handle must be Ready; callers
// handshake first through the pool.
func (h *Handle) Send(ctx context.Context, data []byte) (Replies, error) {
	if h.removed.Load() {
		return nil, errors.ErrThingRemoved
	}
	if h.State() != StateReady {
		return nil, errors.ErrHandleBroken
	}
	rx, err := h.conn.Send(ctx, data)
	if err != nil {
		return nil, err
	}
	return &handleReplies{handle: h, rx: rx}, nil
}

// handleReplies re-checks the handle's lifecycle on every receive so
// that removal or breakage surfaces to in-flight waiters immediately.
type handleReplies struct {
	handle *Handle
	rx     Replies
}

func (r *handleReplies) Next(ctx context.Context) ([]byte, error) {
	if r.handle.removed.Load() {
		return nil, errors.ErrThingRemoved
	}
	if r.handle.State() != StateReady {
		return nil, errors.ErrHandleBroken
	}
	return r.rx.Next(ctx)
}

func (r *handleReplies) Close() error { return r.rx.Close() }

// markBroken retires the handle. In-flight callers observe
// ErrHandleBroken (or ErrThingRemoved when the Thing was unregistered).
func (h *Handle) markBroken() {
	h.state.Store(int32(StateBroken))
}

func (h *Handle) markRemoved() {
	h.removed.Store(true)
	h.markBroken()
}

func (h *Handle) close() error {
	h.markBroken()
	return h.conn.Close()
}
