package serializer

import (
	"bytes"
	"encoding/gob"

	"github.com/c360/thingbridge/errors"
)

func init() {
	// Normalized values only contain these composite shapes
	gob.Register(map[string]any{})
	gob.Register([]any{})
}

// Gob is a self-describing binary serializer suited to bridge-internal
// traffic where both ends are Go processes. Values are normalized through
// the converter registry first, so the encoded shapes stay interchangeable
// with the JSON and YAML serializers.
type Gob struct {
	registry *ConverterRegistry
}

// NewGob creates a gob serializer backed by the given converter registry
func NewGob(registry *ConverterRegistry) *Gob {
	return &Gob{registry: registry}
}

// Dumps serializes a value to gob bytes
func (s *Gob) Dumps(value any) ([]byte, error) {
	normalized, err := s.registry.Normalize(value)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	// Wrap in a single-field struct so nil and interface values encode
	wrapper := gobValue{Value: normalized}
	if err := gob.NewEncoder(&buf).Encode(wrapper); err != nil {
		return nil, errors.WrapInvalid(err, "Gob", "Dumps", "encode value")
	}
	return buf.Bytes(), nil
}

// Loads deserializes gob bytes into a value
func (s *Gob) Loads(data []byte) (any, error) {
	if len(data) == 0 {
		return nil, nil
	}
	var wrapper gobValue
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&wrapper); err != nil {
		return nil, errors.WrapInvalid(err, "Gob", "Loads", "decode value")
	}
	return wrapper.Value, nil
}

// ContentType returns the gob MIME type
func (s *Gob) ContentType() string {
	return "application/x-gob"
}

type gobValue struct {
	Value any
}
