package serializer

import (
	"encoding/json"

	"github.com/c360/thingbridge/errors"
)

// JSON is the default serializer for HTTP clients. Values pass through the
// converter registry before encoding, so domain types serialize to their
// canonical JSON forms.
type JSON struct {
	registry *ConverterRegistry
}

// NewJSON creates a JSON serializer backed by the given converter registry
func NewJSON(registry *ConverterRegistry) *JSON {
	return &JSON{registry: registry}
}

// Dumps serializes a value to JSON bytes
func (s *JSON) Dumps(value any) ([]byte, error) {
	normalized, err := s.registry.Normalize(value)
	if err != nil {
		return nil, err
	}
	data, err := json.Marshal(normalized)
	if err != nil {
		return nil, errors.WrapInvalid(err, "JSON", "Dumps", "encode value")
	}
	return data, nil
}

// Loads deserializes JSON bytes into a value
func (s *JSON) Loads(data []byte) (any, error) {
	if len(data) == 0 {
		return nil, nil
	}
	var value any
	if err := json.Unmarshal(data, &value); err != nil {
		return nil, errors.WrapInvalid(err, "JSON", "Loads", "decode value")
	}
	return value, nil
}

// ContentType returns the JSON MIME type
func (s *JSON) ContentType() string {
	return "application/json"
}
