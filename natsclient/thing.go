package natsclient

import (
	"context"
	stderrors "errors"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/c360/thingbridge/errors"
)

// Subject layout under a Thing's base address.
const (
	requestSuffix   = ".requests"
	handshakeSuffix = ".handshake"
	eventSuffix     = ".events."
)

// RequestSubject returns the operation subject for a Thing address.
func RequestSubject(address string) string { return address + requestSuffix }

// HandshakeSubject returns the handshake subject for a Thing address.
func HandshakeSubject(address string) string { return address + handshakeSuffix }

// EventSubject returns the subject a Thing publishes a named event on.
func EventSubject(address, event string) string { return address + eventSuffix + event }

// ThingConn is a conduit to a single Thing over NATS. Each request is
// published to the Thing's request subject with its own private inbox
// as the reply address, so concurrent requests over the same conduit
// never observe each other's replies.
type ThingConn struct {
	client  *Client
	address string
}

// DialThing opens a conduit to the Thing listening at address.
func (m *Client) DialThing(_ context.Context, address string) (*ThingConn, error) {
	m.mu.RLock()
	conn := m.conn
	m.mu.RUnlock()

	if conn == nil || !conn.IsConnected() {
		return nil, errors.ErrNoConnection
	}

	return &ThingConn{client: m, address: address}, nil
}

// Handshake pings the Thing's handshake subject and waits for any reply.
// A reply proves the Thing is alive and consuming from its address.
func (t *ThingConn) Handshake(ctx context.Context) error {
	conn := t.client.Conn()
	if conn == nil || !conn.IsConnected() {
		return errors.ErrNoConnection
	}

	_, err := conn.RequestWithContext(ctx, HandshakeSubject(t.address), nil)
	if err != nil {
		if stderrors.Is(err, context.DeadlineExceeded) || stderrors.Is(err, nats.ErrTimeout) {
			return errors.ErrHandshakeTimeout
		}
		return translateConnErr(err, "ThingConn", "Handshake", "ping thing")
	}
	return nil
}

// Send publishes an encoded request to the Thing with a fresh reply
// inbox and returns the subscription to that inbox.
func (t *ThingConn) Send(_ context.Context, data []byte) (*ReplyInbox, error) {
	conn := t.client.Conn()
	if conn == nil || !conn.IsConnected() {
		return nil, errors.ErrConnectionError
	}

	inbox := conn.NewRespInbox()
	sub, err := conn.SubscribeSync(inbox)
	if err != nil {
		return nil, translateConnErr(err, "ThingConn", "Send", "subscribe reply inbox")
	}

	msg := &nats.Msg{
		Subject: RequestSubject(t.address),
		Reply:   inbox,
		Data:    data,
	}
	if err := conn.PublishMsg(msg); err != nil {
		_ = sub.Unsubscribe()
		return nil, translateConnErr(err, "ThingConn", "Send", "publish request")
	}
	return &ReplyInbox{sub: sub}, nil
}

// Close releases the conduit. Reply inboxes are owned per request, so
// there is nothing to tear down here.
func (t *ThingConn) Close() error { return nil }

// ReplyInbox reads the replies addressed to a single sent request.
type ReplyInbox struct {
	sub *nats.Subscription
}

// Next blocks for the next reply on the request's inbox.
func (r *ReplyInbox) Next(ctx context.Context) ([]byte, error) {
	msg, err := r.sub.NextMsgWithContext(ctx)
	if err != nil {
		if stderrors.Is(err, context.DeadlineExceeded) {
			return nil, errors.ErrExchangeTimeout
		}
		if stderrors.Is(err, context.Canceled) {
			return nil, err
		}
		return nil, translateConnErr(err, "ReplyInbox", "Next", "read reply")
	}
	return msg.Data, nil
}

// Close unsubscribes the inbox.
func (r *ReplyInbox) Close() error {
	if err := r.sub.Unsubscribe(); err != nil && !stderrors.Is(err, nats.ErrConnectionClosed) && !stderrors.Is(err, nats.ErrBadSubscription) {
		return errors.WrapTransient(err, "ReplyInbox", "Close", "unsubscribe inbox")
	}
	return nil
}

// EventStream is a buffered subscription to a Thing's event subject.
type EventStream struct {
	sub *nats.Subscription
	ch  chan *nats.Msg

	mu     sync.Mutex
	closed bool
}

// SubscribeEvent opens a buffered subscription to the named event of the
// Thing at address. Each stream gets its own delivery channel so slow
// consumers do not stall one another.
func (m *Client) SubscribeEvent(address, event string, buffer int) (*EventStream, error) {
	m.mu.RLock()
	conn := m.conn
	m.mu.RUnlock()

	if conn == nil || !conn.IsConnected() {
		return nil, errors.ErrNoConnection
	}
	if buffer <= 0 {
		buffer = 64
	}

	ch := make(chan *nats.Msg, buffer)
	sub, err := conn.ChanSubscribe(EventSubject(address, event), ch)
	if err != nil {
		return nil, translateConnErr(err, "Client", "SubscribeEvent", "subscribe event subject")
	}

	return &EventStream{sub: sub, ch: ch}, nil
}

// Receive waits up to timeout for the next event payload. A nil payload
// with nil error means the wait elapsed with nothing published.
func (s *EventStream) Receive(timeout time.Duration) ([]byte, error) {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return nil, errors.ErrConnectionError
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case msg, ok := <-s.ch:
		if !ok {
			return nil, errors.ErrConnectionError
		}
		return msg.Data, nil
	case <-timer.C:
		return nil, nil
	}
}

// Close unsubscribes the stream.
func (s *EventStream) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	if err := s.sub.Unsubscribe(); err != nil && !stderrors.Is(err, nats.ErrConnectionClosed) {
		return errors.WrapTransient(err, "EventStream", "Close", "unsubscribe")
	}
	return nil
}

// translateConnErr maps NATS transport failures onto the bridge's
// connection error taxonomy. No responders means the Thing side vanished
// entirely; closed or draining connections are recoverable once the
// client reconnects.
func translateConnErr(err error, component, method, action string) error {
	switch {
	case stderrors.Is(err, nats.ErrNoResponders):
		return fmt.Errorf("%s.%s: %s: %w", component, method, action, errors.ErrConnectionAborted)
	case stderrors.Is(err, nats.ErrConnectionClosed),
		stderrors.Is(err, nats.ErrConnectionDraining),
		stderrors.Is(err, nats.ErrConnectionReconnecting),
		stderrors.Is(err, nats.ErrBadSubscription),
		stderrors.Is(err, nats.ErrSlowConsumer):
		return fmt.Errorf("%s.%s: %s: %w", component, method, action, errors.ErrConnectionError)
	default:
		return errors.WrapTransient(err, component, method, action)
	}
}
