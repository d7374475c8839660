package message

import (
	"fmt"

	"github.com/c360/thingbridge/errors"
	"github.com/c360/thingbridge/serializer"
)

// Codec frames envelopes and replies for the broker wire. All wire bytes
// pass through the configured serializer's dumps/loads contract; nothing
// outside this type touches the encoding directly.
type Codec struct {
	ser serializer.Serializer
}

// NewCodec builds a codec over the given serializer. A nil serializer
// selects JSON with the default converter registry.
func NewCodec(ser serializer.Serializer) *Codec {
	if ser == nil {
		ser = serializer.NewJSON(serializer.DefaultRegistry())
	}
	return &Codec{ser: ser}
}

// ContentType reports the media type of the codec's wire encoding.
func (c *Codec) ContentType() string { return c.ser.ContentType() }

// EncodeRequest frames and serializes an envelope for the wire.
func (c *Codec) EncodeRequest(senderID, correlationID string, env *RequestEnvelope) ([]byte, error) {
	req := Request{
		Header: Header{
			MessageType:   TypeOperation,
			CorrelationID: correlationID,
			SenderID:      senderID,
			ReceiverID:    env.ThingID,
		},
		Envelope: *env,
	}
	if env.Timeout != nil {
		req.Header.TimeoutMillis = env.Timeout.Milliseconds()
	}
	data, err := c.ser.Dumps(req)
	if err != nil {
		return nil, errors.WrapInvalid(err, "Codec", "EncodeRequest", "serialize request")
	}
	return data, nil
}

// DecodeReply parses a wire reply.
func (c *Codec) DecodeReply(data []byte) (*Reply, error) {
	value, err := c.ser.Loads(data)
	if err != nil {
		return nil, errors.WrapInvalid(err, "Codec", "DecodeReply", "deserialize reply")
	}
	m, ok := value.(map[string]any)
	if !ok {
		return nil, errors.WrapInvalid(
			fmt.Errorf("reply is %T, want an object", value),
			"Codec", "DecodeReply", "deserialize reply")
	}

	var reply Reply
	if h, ok := m["header"].(map[string]any); ok {
		reply.Header = Header{
			MessageType:   stringField(h, "messageType"),
			CorrelationID: stringField(h, "messageID"),
			SenderID:      stringField(h, "senderID"),
			ReceiverID:    stringField(h, "receiverID"),
		}
	}
	reply.HasData, _ = m["hasData"].(bool)

	if raw, present := m["data"]; present {
		body, err := c.ser.Dumps(raw)
		if err != nil {
			return nil, errors.WrapInvalid(err, "Codec", "DecodeReply", "reserialize reply data")
		}
		reply.Data = body
	}

	if logs, ok := m["executionLogs"].([]any); ok {
		for _, line := range logs {
			if s, ok := line.(string); ok {
				reply.ExecutionLogs = append(reply.ExecutionLogs, s)
			}
		}
	}

	if werr, ok := m["error"].(map[string]any); ok {
		reply.Error = &WireError{
			Type:      stringField(werr, "type"),
			Message:   stringField(werr, "message"),
			Traceback: stringField(werr, "traceback"),
		}
	}

	return &reply, nil
}

func stringField(m map[string]any, key string) string {
	s, _ := m[key].(string)
	return s
}
