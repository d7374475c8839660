package message

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/thingbridge/errors"
)

func TestOperationValid(t *testing.T) {
	for _, op := range []Operation{ReadProperty, WriteProperty, DeleteProperty, InvokeAction} {
		assert.True(t, op.Valid(), "%s should be valid", op)
	}
	assert.False(t, Operation("observeProperty").Valid())
	assert.False(t, Operation("").Valid())
}

func TestEnvelopeTimeout(t *testing.T) {
	env := NewEnvelope("scope", "gain", WriteProperty, map[string]any{"value": 2})

	// Non-positive timeouts are treated as absent
	env.WithTimeout(-5 * time.Second)
	assert.Nil(t, env.Timeout)
	env.WithTimeout(0)
	assert.Nil(t, env.Timeout)

	env.WithTimeout(2 * time.Second)
	require.NotNil(t, env.Timeout)
	assert.Equal(t, 2*time.Second, *env.Timeout)
}

func TestEncodeRequestCarriesCorrelationAndTimeout(t *testing.T) {
	env := NewEnvelope("scope", "capture", InvokeAction, map[string]any{"frames": 10}).
		WithTimeout(1500 * time.Millisecond).
		WithExecutionLogs(true)

	data, err := EncodeRequest("gateway-1", "corr-42", env)
	require.NoError(t, err)

	var decoded Request
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, TypeOperation, decoded.Header.MessageType)
	assert.Equal(t, "corr-42", decoded.Header.CorrelationID)
	assert.Equal(t, "gateway-1", decoded.Header.SenderID)
	assert.Equal(t, "scope", decoded.Header.ReceiverID)
	assert.Equal(t, int64(1500), decoded.Header.TimeoutMillis)
	assert.Equal(t, InvokeAction, decoded.Envelope.Operation)
	assert.True(t, decoded.Envelope.ServerContext.FetchExecutionLogs)
}

func TestDecodeReplyWithError(t *testing.T) {
	wire := `{
		"header": {"messageType": "EXCEPTION", "messageID": "corr-42"},
		"hasData": false,
		"error": {"type": "ValueError", "message": "gain out of range"}
	}`

	reply, err := DecodeReply([]byte(wire))
	require.NoError(t, err)

	remoteErr := reply.RemoteError("scope", "gain")
	require.Error(t, remoteErr)
	re, ok := errors.AsRemoteExecution(remoteErr)
	require.True(t, ok)
	assert.Equal(t, "ValueError", re.Type)
	assert.Equal(t, "scope", re.ThingID)
}

func TestReplyDistinguishesEmptyBodyFromNoBody(t *testing.T) {
	// An empty-but-meaningful reply keeps HasData true; truthiness of the
	// data bytes never decides whether a body is written
	withEmpty := Reply{HasData: true, Data: json.RawMessage(`""`)}
	assert.True(t, withEmpty.HasData)

	without := Reply{HasData: false}
	assert.False(t, without.HasData)
	assert.NoError(t, without.RemoteError("scope", "gain"))
}

func TestCorrelationIDsAreUnique(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		id := NewCorrelationID()
		assert.False(t, seen[id])
		seen[id] = true
	}
}
