// Package message defines the request envelope and reply types exchanged
// between the HTTP gateway and the backing Thing processes over the broker.
package message

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/c360/thingbridge/errors"
)

// Operation identifies what a request envelope asks the Thing to do
type Operation string

// Thing operations carried by request envelopes
const (
	ReadProperty   Operation = "readProperty"
	WriteProperty  Operation = "writeProperty"
	DeleteProperty Operation = "deleteProperty"
	InvokeAction   Operation = "invokeAction"
)

// Valid reports whether the operation is one the broker side understands
func (op Operation) Valid() bool {
	switch op {
	case ReadProperty, WriteProperty, DeleteProperty, InvokeAction:
		return true
	default:
		return false
	}
}

// Message types on the broker wire, both directions
const (
	TypeHandshake = "HANDSHAKE"
	TypeOperation = "OPERATION"
	TypeReply     = "REPLY"
	TypeTimeout   = "TIMEOUT"
	TypeError     = "EXCEPTION"
	TypeExit      = "EXIT"
)

// ServerContext carries server-side execution flags propagated with every
// operation. Reserved HTTP argument keys feed these fields and are never
// forwarded as business arguments.
type ServerContext struct {
	FetchExecutionLogs bool `json:"fetchExecutionLogs"`
}

// RequestEnvelope is the value object the gateway produces and the broker
// client consumes: one per request, never shared across concurrent calls.
type RequestEnvelope struct {
	ThingID       string         `json:"thingID"`
	Member        string         `json:"member"`
	Operation     Operation      `json:"operation"`
	Payload       map[string]any `json:"payload,omitempty"`
	ServerContext ServerContext  `json:"serverContext"`

	// Timeout bounds the exchange; nil means the exchange default applies.
	// A negative HTTP timeout argument is treated as absent and never
	// reaches this field.
	Timeout *time.Duration `json:"-"`
}

// NewEnvelope builds a request envelope for one operation
func NewEnvelope(thingID, member string, op Operation, payload map[string]any) *RequestEnvelope {
	return &RequestEnvelope{
		ThingID:   thingID,
		Member:    member,
		Operation: op,
		Payload:   payload,
	}
}

// WithTimeout sets the exchange timeout. Non-positive values leave the
// envelope without a timeout so the exchange default applies.
func (e *RequestEnvelope) WithTimeout(d time.Duration) *RequestEnvelope {
	if d > 0 {
		e.Timeout = &d
	}
	return e
}

// WithExecutionLogs requests server-side captured log lines in the reply
func (e *RequestEnvelope) WithExecutionLogs(fetch bool) *RequestEnvelope {
	e.ServerContext.FetchExecutionLogs = fetch
	return e
}

// Header frames an envelope or reply on the broker wire. The correlation id
// pairs replies with requests across a multiplexed connection.
type Header struct {
	MessageType   string `json:"messageType"`
	CorrelationID string `json:"messageID"`
	SenderID      string `json:"senderID"`
	ReceiverID    string `json:"receiverID,omitempty"`
	TimeoutMillis int64  `json:"timeoutMillis,omitempty"`
}

// NewCorrelationID returns a fresh correlation id for one exchange
func NewCorrelationID() string {
	return uuid.NewString()
}

// Request is the framed form of an envelope put on the wire
type Request struct {
	Header   Header          `json:"header"`
	Envelope RequestEnvelope `json:"envelope"`
}

// Reply is the broker's answer to one request. Data holds the already
// serialized payload; captured execution logs ride alongside it, never
// merged into it.
type Reply struct {
	Header        Header          `json:"header"`
	Data          json.RawMessage `json:"data,omitempty"`
	HasData       bool            `json:"hasData"`
	ExecutionLogs []string        `json:"executionLogs,omitempty"`
	Error         *WireError      `json:"error,omitempty"`
}

// WireError is the structured application failure a Thing reports in a reply
type WireError struct {
	Type      string `json:"type"`
	Message   string `json:"message"`
	Traceback string `json:"traceback,omitempty"`
}

// RemoteError converts a wire error to the bridge's error taxonomy
func (r *Reply) RemoteError(thingID, member string) error {
	if r.Error == nil {
		return nil
	}
	return &errors.RemoteExecutionError{
		ThingID:   thingID,
		Member:    member,
		Type:      r.Error.Type,
		Message:   r.Error.Message,
		Traceback: r.Error.Traceback,
	}
}

// defaultCodec frames with the default JSON serializer for callers that
// have not configured one.
var defaultCodec = NewCodec(nil)

// EncodeRequest frames and serializes an envelope with the default codec
func EncodeRequest(senderID, correlationID string, env *RequestEnvelope) ([]byte, error) {
	return defaultCodec.EncodeRequest(senderID, correlationID, env)
}

// DecodeReply parses a wire reply with the default codec
func DecodeReply(data []byte) (*Reply, error) {
	return defaultCodec.DecodeReply(data)
}
