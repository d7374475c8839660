// Package thingbridge exposes message-broker connected Things over HTTP.
//
// A Thing is a device or service that speaks the bridge's request/reply
// envelope over NATS. The bridge gives each of its resources an HTTP
// face: properties become GET/PUT endpoints, actions become POST
// endpoints and events become SSE or WebSocket streams.
//
// # Architecture
//
//	┌─────────────────────────────────────┐
//	│           HTTP Gateway              │  Routing, CORS, argument
//	│   (gateway, gateway/http)           │  assembly, status mapping
//	└─────────────────────────────────────┘
//	           ↓ dispatches via
//	┌─────────────────────────────────────┐
//	│            Exchange                 │  Correlation, timeouts,
//	│  (exchange, message, serializer)    │  one bounded retry
//	└─────────────────────────────────────┘
//	           ↓ resolves through
//	┌─────────────────────────────────────┐
//	│          Binding Pool               │  Handshakes, rebinds,
//	│      (pool, natsclient)             │  address discovery
//	└─────────────────────────────────────┘
//	           ↓ talks to
//	┌─────────────────────────────────────┐
//	│          NATS broker                │  Things answer on their
//	│   (requests, handshake, events)     │  own subject space
//	└─────────────────────────────────────┘
//
// Event streams bypass the exchange: the tunnel package subscribes to a
// Thing's event subjects directly and relays frames to HTTP clients.
//
// # Package layout
//
//   - cmd/thingbridge: Service entry point
//   - config: YAML configuration with environment overrides
//   - descriptor: Thing resource descriptors and the routing table
//   - errors: Error classification shared by every layer
//   - exchange: Request/reply execution against bound Things
//   - gateway, gateway/http: The HTTP API
//   - health: Health checks and the /health endpoint
//   - message: The wire envelope and its codec
//   - metric: Prometheus registry and the /metrics endpoint
//   - natsclient: Managed NATS connection, Thing dialing, event feeds
//   - pkg/retry, pkg/worker: Backoff and worker-pool building blocks
//   - pool: Thing bindings, handshakes and recovery
//   - serializer: Pluggable payload serialization
//   - service: Wires everything into one runnable bridge
//   - tunnel: SSE and WebSocket event streaming
package thingbridge
