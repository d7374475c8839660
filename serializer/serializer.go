// Package serializer provides the uniform dumps/loads contract used across
// the bridge's broker and HTTP layers, with a pluggable registry of fallback
// converters for domain types the wire encodings cannot represent natively.
package serializer

import (
	"fmt"
	"strings"

	"github.com/c360/thingbridge/errors"
)

// Serializer encodes values to bytes and back. Implementations must be safe
// for concurrent use: a single instance is shared by every connection handle
// and every gateway handler.
type Serializer interface {
	// Dumps serializes a value into the implementation's wire format
	Dumps(value any) ([]byte, error)

	// Loads deserializes wire bytes back into a value
	Loads(data []byte) (any, error)

	// ContentType returns the MIME content type of the wire format
	ContentType() string
}

// Known serializer names accepted by For
const (
	NameJSON = "json"
	NameGob  = "gob"
	NameYAML = "yaml"
)

// For returns a serializer by name, sharing the given converter registry.
// A nil registry selects the default converters.
func For(name string, registry *ConverterRegistry) (Serializer, error) {
	if registry == nil {
		registry = DefaultRegistry()
	}
	switch strings.ToLower(name) {
	case "", NameJSON:
		return NewJSON(registry), nil
	case NameGob:
		return NewGob(registry), nil
	case NameYAML:
		return NewYAML(registry), nil
	default:
		return nil, errors.WrapInvalid(
			fmt.Errorf("unknown serializer %q", name),
			"Serializer", "For", "select implementation")
	}
}
