package tunnel

import (
	"encoding/json"
	stderrors "errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/c360/thingbridge/errors"
)

const wsWriteTimeout = 10 * time.Second

// ServeWS streams the subscription to one client over a WebSocket. Events
// arrive as text frames in broker order; image events as binary frames.
// Quiet polls become ping control frames so dead peers are noticed. The
// origin check is the caller's: the gateway authorizes before upgrading.
func (t *Tunnel) ServeWS(w http.ResponseWriter, r *http.Request, sub *Subscription) {
	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 4096,
		CheckOrigin:     func(*http.Request) bool { return true },
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		t.logger.Warn("websocket upgrade failed", "subscription", sub.ID(), "error", err)
		_ = sub.Close()
		return
	}

	defer func() {
		_ = conn.Close()
		if cerr := sub.Close(); cerr != nil {
			t.logger.Warn("closing event subscription", "subscription", sub.ID(), "error", cerr)
		}
	}()

	t.logger.Info("websocket stream opened", "subscription", sub.ID(), "event", sub.Event())
	t.metrics.streamOpened()
	defer func() {
		t.metrics.streamClosed()
		t.logger.Info("websocket stream closed", "subscription", sub.ID())
	}()

	// Drain control frames and notice the peer closing.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, rerr := conn.ReadMessage(); rerr != nil {
				return
			}
		}
	}()

	ctx := r.Context()
	for {
		select {
		case <-done:
			return
		case <-ctx.Done():
			return
		default:
		}

		data, err := t.receive(ctx, sub)
		switch {
		case err == nil && data == nil:
			deadline := time.Now().Add(wsWriteTimeout)
			if werr := conn.WriteControl(websocket.PingMessage, nil, deadline); werr != nil {
				return
			}
			t.metrics.observeFrame("heartbeat")
			continue

		case err != nil:
			if ctx.Err() != nil || stderrors.Is(err, errors.ErrConnectionError) {
				return
			}
			frame, merr := json.Marshal(exceptionFrame(err))
			if merr != nil {
				t.logger.Error("marshaling exception frame", "subscription", sub.ID(), "error", merr)
				continue
			}
			if werr := t.writeWS(conn, websocket.TextMessage, frame); werr != nil {
				return
			}
			t.metrics.observeFrame("exception")
			continue
		}

		kind := websocket.TextMessage
		if sub.media != "" {
			kind = websocket.BinaryMessage
		}
		if werr := t.writeWS(conn, kind, data); werr != nil {
			return
		}
		t.metrics.observeFrame("data")
	}
}

func (t *Tunnel) writeWS(conn *websocket.Conn, kind int, data []byte) error {
	if err := conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout)); err != nil {
		return err
	}
	return conn.WriteMessage(kind, data)
}
