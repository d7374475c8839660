package descriptor

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/thingbridge/errors"
	"github.com/c360/thingbridge/message"
)

func TestOperationForProperty(t *testing.T) {
	tests := []struct {
		name      string
		resource  Resource
		verb      string
		wantOp    message.Operation
		wantError bool
	}{
		{"GET reads", Resource{Kind: Property}, http.MethodGet, message.ReadProperty, false},
		{"POST writes", Resource{Kind: Property}, http.MethodPost, message.WriteProperty, false},
		{"PUT writes", Resource{Kind: Property}, http.MethodPut, message.WriteProperty, false},
		{"DELETE deletes", Resource{Kind: Property}, http.MethodDelete, message.DeleteProperty, false},
		{"GET on write-only rejected", Resource{Kind: Property, WriteOnly: true}, http.MethodGet, "", true},
		{"POST on read-only rejected", Resource{Kind: Property, ReadOnly: true}, http.MethodPost, "", true},
		{"PUT on read-only rejected", Resource{Kind: Property, ReadOnly: true}, http.MethodPut, "", true},
		{"DELETE allowed on read-only", Resource{Kind: Property, ReadOnly: true}, http.MethodDelete, message.DeleteProperty, false},
		{"PATCH unsupported", Resource{Kind: Property}, http.MethodPatch, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			op, err := tt.resource.OperationFor(tt.verb)
			if tt.wantError {
				assert.ErrorIs(t, err, errors.ErrMethodNotAllowed)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantOp, op)
		})
	}
}

func TestOperationForAction(t *testing.T) {
	action := Resource{Kind: Action}
	for _, verb := range []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete} {
		op, err := action.OperationFor(verb)
		require.NoError(t, err, verb)
		assert.Equal(t, message.InvokeAction, op)
	}
}

func TestOperationForEventNeverDispatches(t *testing.T) {
	event := Resource{Kind: Event}
	_, err := event.OperationFor(http.MethodGet)
	assert.ErrorIs(t, err, errors.ErrMethodNotAllowed)
}

func TestSupportedMethods(t *testing.T) {
	tests := []struct {
		name     string
		resource Resource
		want     []string
	}{
		{
			"plain property",
			Resource{Kind: Property},
			[]string{"GET", "POST", "PUT", "DELETE"},
		},
		{
			"read-only property",
			Resource{Kind: Property, ReadOnly: true},
			[]string{"GET", "DELETE"},
		},
		{
			"write-only property",
			Resource{Kind: Property, WriteOnly: true},
			[]string{"POST", "PUT", "DELETE"},
		},
		{
			"event is GET only",
			Resource{Kind: Event},
			[]string{"GET"},
		},
		{
			"explicit list wins",
			Resource{Kind: Property, Methods: []string{"GET"}},
			[]string{"GET"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.resource.SupportedMethods())
		})
	}
}

func TestValidate(t *testing.T) {
	valid := Resource{ThingID: "scope", Name: "gain", Kind: Property, Path: "/scope/gain"}
	assert.NoError(t, valid.Validate())

	missingThing := Resource{Name: "gain"}
	assert.Error(t, missingThing.Validate())

	conflicting := Resource{ThingID: "scope", Name: "gain", ReadOnly: true, WriteOnly: true}
	assert.Error(t, conflicting.Validate())

	eventNoTopic := Resource{ThingID: "scope", Name: "trace", Kind: Event}
	assert.Error(t, eventNoTopic.Validate())
}

func TestTableReplaceThingIsWholesale(t *testing.T) {
	table := NewTable()
	require.NoError(t, table.Add(&Resource{
		ThingID: "scope", Name: "gain", Kind: Property, Path: "/scope/gain",
	}))
	require.NoError(t, table.Add(&Resource{
		ThingID: "scope", Name: "capture", Kind: Action, Path: "/scope/capture",
	}))
	require.NoError(t, table.Add(&Resource{
		ThingID: "laser", Name: "power", Kind: Property, Path: "/laser/power",
	}))

	require.NoError(t, table.ReplaceThing("scope", []*Resource{
		{ThingID: "scope", Name: "offset", Kind: Property, Path: "/scope/offset"},
	}))

	_, ok := table.Lookup("/scope/gain")
	assert.False(t, ok, "stale route should be gone")
	_, ok = table.Lookup("/scope/offset")
	assert.True(t, ok)
	_, ok = table.Lookup("/laser/power")
	assert.True(t, ok, "other things must be untouched")
	assert.Equal(t, 2, table.Len())
}

func TestTableRemoveThing(t *testing.T) {
	table := NewTable()
	require.NoError(t, table.Add(&Resource{
		ThingID: "scope", Name: "gain", Kind: Property, Path: "/scope/gain",
	}))
	table.RemoveThing("scope")
	assert.Equal(t, 0, table.Len())
	assert.Empty(t, table.Paths("scope"))
}
