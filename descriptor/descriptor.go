// Package descriptor models the addressable members of a Thing as the
// gateway consumes them: an opaque name, identifier, supported-method list
// and read/write-only flags, owned by the routing table and immutable once
// built. The affordance model that produces these lives outside the bridge.
package descriptor

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/c360/thingbridge/errors"
	"github.com/c360/thingbridge/message"
)

// Kind tags what sort of member a descriptor addresses
type Kind int

// Resource kinds
const (
	Property Kind = iota
	Action
	Event
)

// String returns the string representation of Kind
func (k Kind) String() string {
	switch k {
	case Property:
		return "property"
	case Action:
		return "action"
	case Event:
		return "event"
	default:
		return "unknown"
	}
}

// MarshalJSON renders the kind as its name
func (k Kind) MarshalJSON() ([]byte, error) {
	return json.Marshal(k.String())
}

// UnmarshalJSON accepts a kind by name
func (k *Kind) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return err
	}
	switch strings.ToLower(name) {
	case "property":
		*k = Property
	case "action":
		*k = Action
	case "event":
		*k = Event
	default:
		return fmt.Errorf("unknown resource kind %q", name)
	}
	return nil
}

// Media hints for image-typed members; they select the frame header used by
// the event tunnel and the content type of property replies
const (
	MediaNone = ""
	MediaJPEG = "image/jpeg"
	MediaPNG  = "image/png"
)

// Resource identifies one addressable member of a Thing. Immutable once
// built; handlers look descriptors up per request and never mutate them.
type Resource struct {
	ThingID    string   `json:"thingID"`
	Name       string   `json:"name"`
	Kind       Kind     `json:"kind"`
	Path       string   `json:"path"`
	Methods    []string `json:"methods,omitempty"`
	ReadOnly   bool     `json:"readOnly,omitempty"`
	WriteOnly  bool     `json:"writeOnly,omitempty"`
	WantsRaw   bool     `json:"requestObjectWanted,omitempty"`
	Media      string   `json:"media,omitempty"`
	EventTopic string   `json:"eventTopic,omitempty"`

	// ArgSchema, when present, is the JSON schema assembled arguments are
	// validated against before dispatch.
	ArgSchema json.RawMessage `json:"argSchema,omitempty"`
}

// Validate checks structural invariants before a descriptor enters the
// routing table
func (r *Resource) Validate() error {
	if r.ThingID == "" {
		return errors.WrapInvalid(
			fmt.Errorf("descriptor for %q has no thing id", r.Name),
			"Resource", "Validate", "check thing id")
	}
	if r.Name == "" {
		return errors.WrapInvalid(
			fmt.Errorf("descriptor for thing %q has no member name", r.ThingID),
			"Resource", "Validate", "check member name")
	}
	if r.ReadOnly && r.WriteOnly {
		return errors.WrapInvalid(
			fmt.Errorf("member %q cannot be both read-only and write-only", r.Name),
			"Resource", "Validate", "check flags")
	}
	if r.Kind == Event && r.EventTopic == "" {
		return errors.WrapInvalid(
			fmt.Errorf("event %q has no topic", r.Name),
			"Resource", "Validate", "check event topic")
	}
	return nil
}

// OperationFor maps an HTTP verb to the Thing operation this resource
// supports, honoring the read/write-only flags. Events are not dispatched
// through the exchange; the tunnel handles them.
func (r *Resource) OperationFor(verb string) (message.Operation, error) {
	switch r.Kind {
	case Action:
		// Actions invoke regardless of verb
		switch verb {
		case http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete:
			return message.InvokeAction, nil
		}
	case Property:
		switch verb {
		case http.MethodGet:
			if r.WriteOnly {
				return "", errors.ErrMethodNotAllowed
			}
			return message.ReadProperty, nil
		case http.MethodPost, http.MethodPut:
			if r.ReadOnly {
				return "", errors.ErrMethodNotAllowed
			}
			return message.WriteProperty, nil
		case http.MethodDelete:
			return message.DeleteProperty, nil
		}
	case Event:
		return "", errors.ErrMethodNotAllowed
	}
	return "", errors.ErrMethodNotAllowed
}

// SupportedMethods lists the verbs this resource answers, for OPTIONS
// preflight replies. An explicit method list on the descriptor wins;
// otherwise the list derives from kind and flags.
func (r *Resource) SupportedMethods() []string {
	if len(r.Methods) > 0 {
		return r.Methods
	}
	switch r.Kind {
	case Action:
		return []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete}
	case Event:
		return []string{http.MethodGet}
	default:
		methods := make([]string, 0, 4)
		if !r.WriteOnly {
			methods = append(methods, http.MethodGet)
		}
		if !r.ReadOnly {
			methods = append(methods, http.MethodPost, http.MethodPut)
		}
		return append(methods, http.MethodDelete)
	}
}

// AllowsMethod reports whether the verb appears in the supported-method list
func (r *Resource) AllowsMethod(verb string) bool {
	for _, m := range r.SupportedMethods() {
		if strings.EqualFold(m, verb) {
			return true
		}
	}
	return false
}
