package gateway

import (
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/thingbridge/errors"
)

func TestConfigValidateDefaults(t *testing.T) {
	var c Config
	require.NoError(t, c.Validate())

	assert.Equal(t, DefaultPrefix, c.Prefix)
	assert.Equal(t, DefaultMaxRequestSize, c.MaxRequestSize)
	assert.Equal(t, DefaultTimeout, c.DefaultTimeout)
}

func TestConfigValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
	}{
		{"negative max request size", Config{MaxRequestSize: -1}},
		{"negative timeout", Config{DefaultTimeout: -time.Second}},
		{"empty origin entry", Config{AllowedOrigins: []string{"https://a.example", ""}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			assert.Error(t, err)
			assert.True(t, errors.IsInvalid(err))
		})
	}
}

func TestOriginAllowed(t *testing.T) {
	tests := []struct {
		name    string
		origin  string
		allowed []string
		want    bool
	}{
		{"empty list authorizes everyone", "https://evil.example", nil, true},
		{"wildcard authorizes everyone", "https://a.example", []string{"*"}, true},
		{"verbatim match", "https://a.example", []string{"https://a.example"}, true},
		{"trailing slash on request origin", "https://a.example/", []string{"https://a.example"}, true},
		{"trailing slash on listed origin", "https://a.example", []string{"https://a.example/"}, true},
		{"unlisted origin refused", "https://b.example", []string{"https://a.example"}, false},
		{"scheme matters", "http://a.example", []string{"https://a.example"}, false},
		{"subdomain is a different origin", "https://sub.a.example", []string{"https://a.example"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, OriginAllowed(tt.origin, tt.allowed))
		})
	}
}

func TestApplyCORSEchoesOrigin(t *testing.T) {
	rec := httptest.NewRecorder()
	ApplyCORS(rec, "https://a.example", []string{"https://a.example"})

	assert.Equal(t, "https://a.example", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "Origin", rec.Header().Get("Vary"))
}

func TestApplyCORSWildcardForEmptyList(t *testing.T) {
	rec := httptest.NewRecorder()
	ApplyCORS(rec, "https://a.example", nil)

	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestAssembleArgumentsMergesBodyAndQuery(t *testing.T) {
	query := url.Values{}
	query.Set("b", "2")
	query.Add("c", "3")
	query.Add("c", "4")

	payload, reserved, err := AssembleArguments([]byte(`{"a": 1}`), query)
	require.NoError(t, err)

	assert.Equal(t, map[string]any{
		"a": float64(1),
		"b": float64(2),
		"c": []any{float64(3), float64(4)},
	}, payload)
	assert.Nil(t, reserved.Timeout)
	assert.False(t, reserved.FetchExecutionLogs)
}

func TestAssembleArgumentsQueryOverridesBody(t *testing.T) {
	query := url.Values{}
	query.Set("a", "99")

	payload, _, err := AssembleArguments([]byte(`{"a": 1}`), query)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"a": float64(99)}, payload)
}

func TestAssembleArgumentsPlainStringsPassThrough(t *testing.T) {
	query := url.Values{}
	query.Set("name", "oven")
	query.Set("quoted", `"oven"`)

	payload, _, err := AssembleArguments(nil, query)
	require.NoError(t, err)
	assert.Equal(t, "oven", payload["name"])
	assert.Equal(t, "oven", payload["quoted"])
}

func TestAssembleArgumentsExtractsReservedKeys(t *testing.T) {
	query := url.Values{}
	query.Set("timeout", "2500")
	query.Set("fetchExecutionLogs", "true")
	query.Set("value", "7")

	payload, reserved, err := AssembleArguments(nil, query)
	require.NoError(t, err)

	assert.Equal(t, map[string]any{"value": float64(7)}, payload)
	require.NotNil(t, reserved.Timeout)
	assert.Equal(t, 2500*time.Millisecond, *reserved.Timeout)
	assert.True(t, reserved.FetchExecutionLogs)
}

func TestAssembleArgumentsTimeoutIsMilliseconds(t *testing.T) {
	query := url.Values{}
	query.Set("timeout", "500")

	_, reserved, err := AssembleArguments(nil, query)
	require.NoError(t, err)
	require.NotNil(t, reserved.Timeout)
	assert.Equal(t, 500*time.Millisecond, *reserved.Timeout)

	query.Set("timeout", "0.5")
	_, reserved, err = AssembleArguments(nil, query)
	require.NoError(t, err)
	require.NotNil(t, reserved.Timeout)
	assert.Equal(t, 500*time.Microsecond, *reserved.Timeout)
}

func TestAssembleArgumentsNegativeTimeoutIgnored(t *testing.T) {
	query := url.Values{}
	query.Set("timeout", "-1")

	payload, reserved, err := AssembleArguments(nil, query)
	require.NoError(t, err)
	assert.Nil(t, reserved.Timeout)
	assert.NotContains(t, payload, "timeout")
}

func TestAssembleArgumentsReservedKeysInBody(t *testing.T) {
	payload, reserved, err := AssembleArguments(
		[]byte(`{"timeout": 3000, "fetchExecutionLogs": true, "value": 1}`), nil)
	require.NoError(t, err)

	assert.Equal(t, map[string]any{"value": float64(1)}, payload)
	require.NotNil(t, reserved.Timeout)
	assert.Equal(t, 3*time.Second, *reserved.Timeout)
	assert.True(t, reserved.FetchExecutionLogs)
}

func TestAssembleArgumentsMalformedBody(t *testing.T) {
	_, _, err := AssembleArguments([]byte(`[1, 2]`), nil)
	assert.Error(t, err)
	assert.True(t, errors.IsInvalid(err))

	_, _, err = AssembleArguments([]byte(`{"a": `), nil)
	assert.Error(t, err)
}

func TestAssembleArgumentsBadReservedValues(t *testing.T) {
	query := url.Values{}
	query.Set("timeout", "soon")
	_, _, err := AssembleArguments(nil, query)
	assert.Error(t, err)

	query = url.Values{}
	query.Set("fetchExecutionLogs", "42")
	_, _, err = AssembleArguments(nil, query)
	assert.Error(t, err)
}
