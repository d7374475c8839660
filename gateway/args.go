package gateway

import (
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/c360/thingbridge/errors"
)

// Reserved argument keys. They steer the dispatch and are stripped before
// the payload reaches the Thing. Timeouts are given in milliseconds.
const (
	KeyTimeout       = "timeout"
	KeyExecutionLogs = "fetchExecutionLogs"

	// RawRequestKey is the payload key request metadata is injected
	// under when a descriptor asks for the raw request.
	RawRequestKey = "request"
)

// Reserved holds the dispatch controls extracted from the arguments.
type Reserved struct {
	// Timeout bounds the exchange; nil when absent or negative.
	Timeout            *time.Duration
	FetchExecutionLogs bool
}

// AssembleArguments merges the JSON body with the query string into one
// payload. Body keys come first; each query value is deserialized on its
// own and overrides the body, multi-valued keys becoming slices. Reserved
// keys are extracted and never forwarded.
func AssembleArguments(body []byte, query url.Values) (map[string]any, *Reserved, error) {
	payload := make(map[string]any)

	if len(body) > 0 {
		if err := json.Unmarshal(body, &payload); err != nil {
			return nil, nil, errors.WrapInvalid(err, "Gateway", "AssembleArguments", "decode body")
		}
	}

	for key, values := range query {
		switch len(values) {
		case 0:
		case 1:
			payload[key] = parseQueryValue(values[0])
		default:
			parsed := make([]any, len(values))
			for i, v := range values {
				parsed[i] = parseQueryValue(v)
			}
			payload[key] = parsed
		}
	}

	reserved, err := extractReserved(payload)
	if err != nil {
		return nil, nil, err
	}
	return payload, reserved, nil
}

// parseQueryValue deserializes one query value. Values that are not valid
// JSON pass through as plain strings, so ?name=oven needs no quoting.
func parseQueryValue(v string) any {
	var out any
	if err := json.Unmarshal([]byte(v), &out); err != nil {
		return v
	}
	return out
}

// extractReserved pulls the dispatch controls out of the payload.
func extractReserved(payload map[string]any) (*Reserved, error) {
	r := &Reserved{}

	if raw, ok := payload[KeyTimeout]; ok {
		delete(payload, KeyTimeout)
		millis, err := asMillis(raw)
		if err != nil {
			return nil, errors.WrapInvalid(err, "Gateway", "AssembleArguments", "parse timeout")
		}
		// Negative timeouts mean "no client preference", not an error.
		if millis >= 0 {
			d := time.Duration(millis * float64(time.Millisecond))
			r.Timeout = &d
		}
	}

	if raw, ok := payload[KeyExecutionLogs]; ok {
		delete(payload, KeyExecutionLogs)
		fetch, err := asBool(raw)
		if err != nil {
			return nil, errors.WrapInvalid(err, "Gateway", "AssembleArguments", "parse fetchExecutionLogs")
		}
		r.FetchExecutionLogs = fetch
	}

	return r, nil
}

// asMillis parses the reserved timeout argument, given in milliseconds.
func asMillis(v any) (float64, error) {
	switch t := v.(type) {
	case float64:
		if math.IsNaN(t) || math.IsInf(t, 0) {
			return 0, fmt.Errorf("timeout must be a finite number")
		}
		return t, nil
	case string:
		return strconv.ParseFloat(t, 64)
	default:
		return 0, fmt.Errorf("timeout must be a number, got %T", v)
	}
}

func asBool(v any) (bool, error) {
	switch t := v.(type) {
	case bool:
		return t, nil
	case string:
		return strconv.ParseBool(t)
	default:
		return false, fmt.Errorf("fetchExecutionLogs must be a boolean, got %T", v)
	}
}

// RawRequest summarizes an HTTP request for descriptors that want it
// forwarded alongside the arguments.
func RawRequest(r *http.Request) map[string]any {
	headers := make(map[string]string, len(r.Header))
	for k := range r.Header {
		headers[k] = r.Header.Get(k)
	}
	return map[string]any{
		"method":  r.Method,
		"path":    r.URL.Path,
		"query":   r.URL.RawQuery,
		"headers": headers,
	}
}
