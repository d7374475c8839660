package tunnel

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/thingbridge/errors"
)

type sourceStep struct {
	data []byte
	err  error
}

// scriptedSource plays back a fixed sequence, then reports a closed feed.
type scriptedSource struct {
	mu     sync.Mutex
	steps  []sourceStep
	closed bool
}

func (s *scriptedSource) Receive(_ time.Duration) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || len(s.steps) == 0 {
		return nil, errors.ErrConnectionError
	}
	st := s.steps[0]
	s.steps = s.steps[1:]
	return st.data, st.err
}

func (s *scriptedSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func newTestTunnel(t *testing.T) *Tunnel {
	t.Helper()
	tn := New(4, WithPollInterval(20*time.Millisecond))
	require.NoError(t, tn.Start(t.Context()))
	t.Cleanup(func() { _ = tn.Stop(time.Second) })
	return tn
}

func TestOpenAssignsUniqueIdentity(t *testing.T) {
	s1 := Open(&scriptedSource{}, "temperature", "")
	s2 := Open(&scriptedSource{}, "temperature", "")

	assert.True(t, strings.HasPrefix(s1.ID(), "temperature|HTTPEvent|"))
	assert.NotEqual(t, s1.ID(), s2.ID())
	assert.Equal(t, "temperature", s1.Event())
}

func TestServeSSEPreservesOrderAcrossHeartbeats(t *testing.T) {
	src := &scriptedSource{steps: []sourceStep{
		{data: []byte(`{"n":1}`)},
		{}, // quiet poll, heartbeat only
		{data: []byte(`{"n":2}`)},
	}}
	sub := Open(src, "readings", "")
	tn := newTestTunnel(t)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/things/oven-1/readings", nil)
	tn.ServeSSE(rec, req, sub)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	assert.Equal(t, "data: {\"n\":1}\n\ndata: {\"n\":2}\n\n", rec.Body.String())
	assert.True(t, src.closed, "stream exit must release the subscription")
}

func TestServeSSEImageFrames(t *testing.T) {
	raw := []byte{0xFF, 0xD8, 0xFF, 0xE0}
	src := &scriptedSource{steps: []sourceStep{{data: raw}}}
	sub := Open(src, "snapshot", "image/jpeg")
	tn := newTestTunnel(t)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/things/cam-1/snapshot", nil)
	tn.ServeSSE(rec, req, sub)

	want := fmt.Sprintf("data:image/jpeg;base64,%s\n\n", base64.StdEncoding.EncodeToString(raw))
	assert.Equal(t, want, rec.Body.String())
}

func TestServeSSEEmitsExceptionFrameAndContinues(t *testing.T) {
	src := &scriptedSource{steps: []sourceStep{
		{err: errors.WrapInvalid(errors.ErrSerialization, "EventStream", "Receive", "decode event")},
		{data: []byte(`"after"`)},
	}}
	sub := Open(src, "readings", "")
	tn := newTestTunnel(t)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/things/oven-1/readings", nil)
	tn.ServeSSE(rec, req, sub)

	body := rec.Body.String()
	frames := strings.Split(strings.TrimSuffix(body, "\n\n"), "\n\n")
	require.Len(t, frames, 2)
	assert.Contains(t, frames[0], `"exception"`)
	assert.Equal(t, `data: "after"`, frames[1])
}

func TestServeSSEClientGone(t *testing.T) {
	src := &scriptedSource{steps: []sourceStep{
		{data: []byte(`"never delivered"`)},
	}}
	sub := Open(src, "readings", "")
	tn := newTestTunnel(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/things/oven-1/readings", nil).WithContext(ctx)

	tn.ServeSSE(rec, req, sub)

	assert.True(t, src.closed)
}

func TestServeWSDeliversInOrder(t *testing.T) {
	src := &scriptedSource{steps: []sourceStep{
		{data: []byte(`{"n":1}`)},
		{},
		{data: []byte(`{"n":2}`)},
	}}
	sub := Open(src, "readings", "")
	tn := newTestTunnel(t)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tn.ServeWS(w, r, sub)
	}))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	defer conn.Close()

	kind, msg, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, websocket.TextMessage, kind)
	assert.Equal(t, `{"n":1}`, string(msg))

	_, msg, err = conn.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, `{"n":2}`, string(msg))

	// The scripted feed is exhausted: the server closes the stream.
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err = conn.ReadMessage()
	assert.Error(t, err)
}
