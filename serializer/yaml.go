package serializer

import (
	"gopkg.in/yaml.v3"

	"github.com/c360/thingbridge/errors"
)

// YAML serializes values as YAML documents. Mostly useful for operator-facing
// tooling and configuration round-trips; interchangeable with the JSON
// serializer through the shared converter registry.
type YAML struct {
	registry *ConverterRegistry
}

// NewYAML creates a YAML serializer backed by the given converter registry
func NewYAML(registry *ConverterRegistry) *YAML {
	return &YAML{registry: registry}
}

// Dumps serializes a value to YAML bytes
func (s *YAML) Dumps(value any) ([]byte, error) {
	normalized, err := s.registry.Normalize(value)
	if err != nil {
		return nil, err
	}
	data, err := yaml.Marshal(normalized)
	if err != nil {
		return nil, errors.WrapInvalid(err, "YAML", "Dumps", "encode value")
	}
	return data, nil
}

// Loads deserializes YAML bytes into a value
func (s *YAML) Loads(data []byte) (any, error) {
	if len(data) == 0 {
		return nil, nil
	}
	var value any
	if err := yaml.Unmarshal(data, &value); err != nil {
		return nil, errors.WrapInvalid(err, "YAML", "Loads", "decode value")
	}
	return value, nil
}

// ContentType returns the YAML MIME type
func (s *YAML) ContentType() string {
	return "application/yaml"
}
