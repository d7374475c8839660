package http

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/thingbridge/descriptor"
	"github.com/c360/thingbridge/errors"
	"github.com/c360/thingbridge/pool"
	"github.com/c360/thingbridge/tunnel"
)

type fakeRegistrar struct {
	mu          sync.Mutex
	registered  map[string]string
	registerErr error
}

func newFakeRegistrar() *fakeRegistrar {
	return &fakeRegistrar{registered: make(map[string]string)}
}

func (f *fakeRegistrar) Register(_ context.Context, thingID, address string) (*pool.Handle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.registerErr != nil {
		return nil, f.registerErr
	}
	f.registered[thingID] = address
	return nil, nil
}

func (f *fakeRegistrar) Unregister(_ context.Context, thingID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.registered[thingID]; !ok {
		return errors.ErrUnknownThing
	}
	delete(f.registered, thingID)
	return nil
}

func (f *fakeRegistrar) Things() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.registered))
	for id := range f.registered {
		out = append(out, id)
	}
	return out
}

func TestRegisterThingOverHTTP(t *testing.T) {
	reg := newFakeRegistrar()
	d := &fakeDispatcher{}
	_, mux := newTestGateway(t, testConfig(), d, WithRegistrar(reg))

	body := `{
		"id": "fridge-1",
		"address": "things.fridge-1",
		"resources": [
			{"name": "temperature", "kind": "property", "path": "/fridge-1/temperature"}
		]
	}`
	rec := do(mux, http.MethodPost, "/things", body, nil)

	require.Equal(t, http.StatusCreated, rec.Code)
	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "fridge-1", resp["id"])
	assert.Equal(t, "things.fridge-1", reg.registered["fridge-1"])

	// The new route dispatches immediately.
	rec = do(mux, http.MethodGet, "/fridge-1/temperature", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRegisterThingGeneratesID(t *testing.T) {
	reg := newFakeRegistrar()
	_, mux := newTestGateway(t, testConfig(), &fakeDispatcher{}, WithRegistrar(reg))

	rec := do(mux, http.MethodPost, "/things", `{"address": "things.anon"}`, nil)
	require.Equal(t, http.StatusCreated, rec.Code)

	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp["id"])
}

func TestRegisterThingFailureIs500(t *testing.T) {
	reg := newFakeRegistrar()
	reg.registerErr = errors.ErrHandshakeTimeout
	_, mux := newTestGateway(t, testConfig(), &fakeDispatcher{}, WithRegistrar(reg))

	rec := do(mux, http.MethodPost, "/things",
		`{"id": "fridge-1", "address": "things.fridge-1"}`, nil)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestRegisterThingWithoutAddressIs500(t *testing.T) {
	reg := newFakeRegistrar()
	_, mux := newTestGateway(t, testConfig(), &fakeDispatcher{}, WithRegistrar(reg))

	rec := do(mux, http.MethodPost, "/things", `{"id": "fridge-1"}`, nil)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Empty(t, reg.registered)
}

func TestListThings(t *testing.T) {
	reg := newFakeRegistrar()
	reg.registered["oven-1"] = "things.oven-1"
	_, mux := newTestGateway(t, testConfig(), &fakeDispatcher{}, WithRegistrar(reg))

	rec := do(mux, http.MethodGet, "/things", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"things": ["oven-1"]}`, rec.Body.String())
}

func TestUnregisterThingOverHTTP(t *testing.T) {
	reg := newFakeRegistrar()
	reg.registered["oven-1"] = "things.oven-1"
	d := &fakeDispatcher{}
	_, mux := newTestGateway(t, testConfig(), d, WithRegistrar(reg))

	rec := do(mux, http.MethodDelete, "/things/oven-1", "", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Empty(t, reg.registered)

	// Its routes are gone with it.
	rec = do(mux, http.MethodGet, "/things/oven-1/properties/temperature", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestUnregisterUnknownThing(t *testing.T) {
	reg := newFakeRegistrar()
	_, mux := newTestGateway(t, testConfig(), &fakeDispatcher{}, WithRegistrar(reg))

	rec := do(mux, http.MethodDelete, "/things/ghost", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestStopEndpointTriggersShutdown(t *testing.T) {
	stopped := make(chan struct{})
	_, mux := newTestGateway(t, testConfig(), &fakeDispatcher{},
		WithStopTrigger(func() { close(stopped) }))

	rec := do(mux, http.MethodPost, "/stop", "", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatal("stop trigger never fired")
	}
}

func TestStopRefusesGet(t *testing.T) {
	_, mux := newTestGateway(t, testConfig(), &fakeDispatcher{},
		WithStopTrigger(func() {}))

	rec := do(mux, http.MethodGet, "/stop", "", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestStopHonorsOriginRules(t *testing.T) {
	cfg := testConfig()
	cfg.AllowedOrigins = []string{"https://panel.example"}
	fired := false
	_, mux := newTestGateway(t, cfg, &fakeDispatcher{},
		WithStopTrigger(func() { fired = true }))

	rec := do(mux, http.MethodPost, "/stop", "",
		map[string]string{"Origin": "https://evil.example"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.False(t, fired)
}

func TestEventRouteStreamsSSE(t *testing.T) {
	table := descriptor.NewTable()
	require.NoError(t, table.Add(&descriptor.Resource{
		ThingID: "oven-1", Name: "alerts", Kind: descriptor.Event,
		Path: "/oven-1/alerts", EventTopic: "alerts",
	}))

	src := &stubSource{frames: [][]byte{[]byte(`{"level":"high"}`)}}
	opener := &stubOpener{source: src}

	tn := tunnel.New(2, tunnel.WithPollInterval(10*time.Millisecond))
	require.NoError(t, tn.Start(t.Context()))
	t.Cleanup(func() { _ = tn.Stop(time.Second) })

	g, err := NewGateway(testConfig(), table, &fakeDispatcher{}, WithEvents(opener, tn))
	require.NoError(t, err)
	require.NoError(t, g.Start(t.Context()))
	mux := http.NewServeMux()
	g.RegisterHTTPHandlers(mux)

	rec := do(mux, http.MethodGet, "/oven-1/alerts", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	assert.Equal(t, "data: {\"level\":\"high\"}\n\n", rec.Body.String())
}

func TestEventRouteRefusesPost(t *testing.T) {
	table := descriptor.NewTable()
	require.NoError(t, table.Add(&descriptor.Resource{
		ThingID: "oven-1", Name: "alerts", Kind: descriptor.Event,
		Path: "/oven-1/alerts", EventTopic: "alerts",
	}))

	g, err := NewGateway(testConfig(), table, &fakeDispatcher{})
	require.NoError(t, err)
	require.NoError(t, g.Start(t.Context()))
	mux := http.NewServeMux()
	g.RegisterHTTPHandlers(mux)

	rec := do(mux, http.MethodPost, "/oven-1/alerts", "", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

type stubSource struct {
	mu     sync.Mutex
	frames [][]byte
}

func (s *stubSource) Receive(_ time.Duration) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.frames) == 0 {
		return nil, errors.ErrConnectionError
	}
	f := s.frames[0]
	s.frames = s.frames[1:]
	return f, nil
}

func (s *stubSource) Close() error { return nil }

type stubOpener struct {
	source tunnel.Source
}

func (o *stubOpener) OpenEvent(_ context.Context, _ *descriptor.Resource) (tunnel.Source, error) {
	return o.source, nil
}
