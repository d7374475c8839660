package http

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"

	"github.com/c360/thingbridge/errors"
)

// validateArguments checks the assembled payload against the descriptor's
// JSON schema. A failure short-circuits the dispatch as an application
// error; the Thing never sees the payload.
func validateArguments(schema json.RawMessage, payload map[string]any) error {
	result, err := gojsonschema.Validate(
		gojsonschema.NewBytesLoader(schema),
		gojsonschema.NewGoLoader(payload),
	)
	if err != nil {
		return errors.WrapInvalid(err, "Gateway", "validateArguments", "run schema validation")
	}
	if result.Valid() {
		return nil
	}

	msgs := make([]string, 0, len(result.Errors()))
	for _, detail := range result.Errors() {
		msgs = append(msgs, detail.String())
	}
	return errors.WrapInvalid(
		fmt.Errorf("%w: %s", errors.ErrValidation, strings.Join(msgs, "; ")),
		"Gateway", "validateArguments", "check arguments")
}

// decodeImagePayload unwraps the base64 JSON string image-typed members
// reply with. Anything else is passed through as JSON by the caller.
func decodeImagePayload(data json.RawMessage) ([]byte, bool) {
	var encoded string
	if err := json.Unmarshal(data, &encoded); err != nil {
		return nil, false
	}
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, false
	}
	return raw, true
}
