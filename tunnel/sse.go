package tunnel

import (
	"encoding/base64"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"net/http"

	"github.com/c360/thingbridge/errors"
)

// ServeSSE streams the subscription to one client as server-sent events
// until the client disconnects or the source closes. The subscription is
// closed before returning.
func (t *Tunnel) ServeSSE(w http.ResponseWriter, r *http.Request, sub *Subscription) {
	defer func() {
		if err := sub.Close(); err != nil {
			t.logger.Warn("closing event subscription", "subscription", sub.ID(), "error", err)
		}
	}()

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	t.logger.Info("event stream opened", "subscription", sub.ID(), "event", sub.Event())
	t.metrics.streamOpened()
	defer func() {
		t.metrics.streamClosed()
		t.logger.Info("event stream closed", "subscription", sub.ID())
	}()

	ctx := r.Context()
	for {
		if ctx.Err() != nil {
			return
		}

		data, err := t.receive(ctx, sub)
		switch {
		case err == nil && data == nil:
			// Poll elapsed quietly. The heartbeat flush is how a gone
			// client eventually surfaces as a write failure.
			flusher.Flush()
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
			if _, werr := fmt.Fprintf(w, "data: %s\n\n", frame); werr != nil {
				return
			}
			flusher.Flush()
			t.metrics.observeFrame("exception")
			continue
		}

		if _, werr := w.Write(sseFrame(data, sub.media)); werr != nil {
			return
		}
		flusher.Flush()
		t.metrics.observeFrame("data")
	}
}

// sseFrame renders one event payload. Image events are framed as inline
// data URIs so an <img> tag can consume the stream directly.
func sseFrame(data []byte, media string) []byte {
	if media != "" {
		encoded := base64.StdEncoding.EncodeToString(data)
		return fmt.Appendf(nil, "data:%s;base64,%s\n\n", media, encoded)
	}
	return fmt.Appendf(nil, "data: %s\n\n", data)
}
