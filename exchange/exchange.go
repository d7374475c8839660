// Package exchange runs one request/reply round trip per HTTP request,
// matching replies by correlation id and recovering broken bindings.
package exchange

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/c360/thingbridge/errors"
	"github.com/c360/thingbridge/message"
	"github.com/c360/thingbridge/pool"
	"github.com/c360/thingbridge/serializer"
)

// DefaultTimeout bounds an exchange when the client supplies none.
const DefaultTimeout = 5 * time.Second

// Result is the useful part of a Thing's reply. HasData distinguishes a
// Thing that returned nothing from one that returned JSON null.
type Result struct {
	Data          json.RawMessage
	HasData       bool
	ExecutionLogs []string
}

// Exchange executes operations against pooled Thing bindings. One retry
// is attempted for recoverable connection failures; timeouts, removed
// Things and application errors are returned straight to the caller.
type Exchange struct {
	pool           *pool.Pool
	logger         *slog.Logger
	codec          *message.Codec
	senderID       string
	defaultTimeout time.Duration
}

// Option configures an Exchange
type Option func(*Exchange)

// WithLogger sets the exchange's logger
func WithLogger(logger *slog.Logger) Option {
	return func(e *Exchange) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithDefaultTimeout overrides the timeout used when an envelope has none
func WithDefaultTimeout(d time.Duration) Option {
	return func(e *Exchange) {
		if d > 0 {
			e.defaultTimeout = d
		}
	}
}

// WithSenderID sets the identity stamped on outgoing requests
func WithSenderID(id string) Option {
	return func(e *Exchange) {
		if id != "" {
			e.senderID = id
		}
	}
}

// WithSerializer selects the wire serializer used to frame requests and
// replies. The default is JSON.
func WithSerializer(ser serializer.Serializer) Option {
	return func(e *Exchange) {
		if ser != nil {
			e.codec = message.NewCodec(ser)
		}
	}
}

// New creates an Exchange backed by the given pool.
func New(p *pool.Pool, opts ...Option) *Exchange {
	e := &Exchange{
		pool:           p,
		logger:         slog.Default(),
		codec:          message.NewCodec(nil),
		senderID:       "bridge|" + uuid.NewString(),
		defaultTimeout: DefaultTimeout,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Execute resolves the Thing, ensures its binding is handshaken, and runs
// the round trip. On a recoverable connection error the binding is rebound
// and the request retried exactly once. When the Thing side has vanished
// outright the caller gets the failure immediately and a rebind proceeds
// in the background so the next request finds a fresh binding.
func (e *Exchange) Execute(ctx context.Context, env *message.RequestEnvelope) (*Result, error) {
	h, err := e.pool.Resolve(ctx, env.ThingID)
	if err != nil {
		return nil, err
	}

	if err := h.Handshake(ctx); err != nil {
		return nil, err
	}

	res, err := e.attempt(ctx, h, env)
	if err == nil {
		return res, nil
	}

	switch {
	case stderrors.Is(err, errors.ErrConnectionAborted):
		e.logger.Warn("thing vanished mid-exchange, rebinding in background",
			"thing", env.ThingID, "member", env.Member)
		go func() {
			rctx, cancel := context.WithTimeout(context.Background(), pool.DefaultHandshakeTimeout)
			defer cancel()
			if _, rerr := e.pool.Rebind(rctx, env.ThingID); rerr != nil {
				e.logger.Error("background rebind failed", "thing", env.ThingID, "error", rerr)
			}
		}()
		return nil, err

	case stderrors.Is(err, errors.ErrConnectionError), stderrors.Is(err, errors.ErrHandleBroken):
		e.logger.Warn("recoverable connection failure, rebinding and retrying once",
			"thing", env.ThingID, "member", env.Member, "error", err)

		fresh, rerr := e.pool.Rebind(ctx, env.ThingID)
		if rerr != nil {
			return nil, rerr
		}
		if herr := fresh.Handshake(ctx); herr != nil {
			return nil, herr
		}
		return e.attempt(ctx, fresh, env)

	default:
		// Timeouts, removed things and remote application errors are final.
		return nil, err
	}
}

// attempt runs a single round trip on one binding. Every request gets
// its own reply channel, so a mismatched correlation id can only mean a
// misbehaving responder; such replies are discarded.
func (e *Exchange) attempt(ctx context.Context, h *pool.Handle, env *message.RequestEnvelope) (*Result, error) {
	correlationID := message.NewCorrelationID()

	data, err := e.codec.EncodeRequest(e.senderID, correlationID, env)
	if err != nil {
		return nil, err
	}

	timeout := e.defaultTimeout
	if env.Timeout != nil {
		timeout = *env.Timeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	rx, err := h.Send(ctx, data)
	if err != nil {
		return nil, err
	}
	defer func() {
		if cerr := rx.Close(); cerr != nil {
			e.logger.Warn("closing reply channel failed", "thing", env.ThingID, "error", cerr)
		}
	}()

	for {
		raw, err := rx.Next(ctx)
		if err != nil {
			return nil, err
		}

		reply, err := e.codec.DecodeReply(raw)
		if err != nil {
			e.logger.Warn("discarding undecodable reply", "thing", env.ThingID, "error", err)
			continue
		}
		if reply.Header.CorrelationID != correlationID {
			e.logger.Debug("discarding mismatched reply",
				"thing", env.ThingID, "want", correlationID, "got", reply.Header.CorrelationID)
			continue
		}

		switch reply.Header.MessageType {
		case message.TypeTimeout:
			return nil, errors.ErrExchangeTimeout
		case message.TypeError:
			if rerr := reply.RemoteError(env.ThingID, env.Member); rerr != nil {
				return nil, rerr
			}
			return nil, errors.WrapInvalid(errors.ErrSerialization,
				"Exchange", "attempt", "error reply without error body")
		case message.TypeReply:
			return &Result{
				Data:          reply.Data,
				HasData:       reply.HasData,
				ExecutionLogs: reply.ExecutionLogs,
			}, nil
		default:
			e.logger.Warn("discarding reply of unexpected type",
				"thing", env.ThingID, "type", reply.Header.MessageType)
		}
	}
}
