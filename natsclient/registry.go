package natsclient

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"regexp"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/c360/thingbridge/errors"
)

// RegistryBucket is the KV bucket holding Thing address records.
const RegistryBucket = "thing-addresses"

var validKey = regexp.MustCompile(`^[-/_=\.a-zA-Z0-9]+$`)

// AddressRecord maps a Thing to the broker address it serves on.
type AddressRecord struct {
	ThingID   string    `json:"thingID"`
	Address   string    `json:"address"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// AddressRegistry resolves Thing IDs to broker addresses through a
// JetStream KV bucket, so the bridge can rediscover a Thing that moved
// after a restart.
type AddressRegistry struct {
	kv jetstream.KeyValue
}

// OpenAddressRegistry opens (creating if needed) the address bucket.
func (m *Client) OpenAddressRegistry(ctx context.Context) (*AddressRegistry, error) {
	js, err := m.JetStream()
	if err != nil {
		return nil, err
	}

	kv, err := js.KeyValue(ctx, RegistryBucket)
	if err != nil {
		if !stderrors.Is(err, jetstream.ErrBucketNotFound) {
			return nil, errors.WrapTransient(err, "Client", "OpenAddressRegistry", "open bucket")
		}
		kv, err = js.CreateKeyValue(ctx, jetstream.KeyValueConfig{
			Bucket:      RegistryBucket,
			Description: "Thing ID to broker address mapping",
			History:     1,
		})
		if err != nil {
			return nil, errors.WrapTransient(err, "Client", "OpenAddressRegistry", "create bucket")
		}
	}

	return &AddressRegistry{kv: kv}, nil
}

// Put records the address a Thing currently serves on.
func (r *AddressRegistry) Put(ctx context.Context, thingID, address string) error {
	if !validKey.MatchString(thingID) {
		return errors.WrapInvalid(errors.ErrValidation, "AddressRegistry", "Put", "thing ID not a valid key")
	}

	rec := AddressRecord{ThingID: thingID, Address: address, UpdatedAt: time.Now().UTC()}
	data, err := json.Marshal(rec)
	if err != nil {
		return errors.WrapInvalid(err, "AddressRegistry", "Put", "marshal record")
	}

	if _, err := r.kv.Put(ctx, thingID, data); err != nil {
		return errors.WrapTransient(err, "AddressRegistry", "Put", "store record")
	}
	return nil
}

// Lookup resolves a Thing's current address. Returns ErrUnknownThing
// when no record exists.
func (r *AddressRegistry) Lookup(ctx context.Context, thingID string) (string, error) {
	if !validKey.MatchString(thingID) {
		return "", errors.ErrUnknownThing
	}

	entry, err := r.kv.Get(ctx, thingID)
	if err != nil {
		if stderrors.Is(err, jetstream.ErrKeyNotFound) {
			return "", errors.ErrUnknownThing
		}
		return "", errors.WrapTransient(err, "AddressRegistry", "Lookup", "fetch record")
	}

	var rec AddressRecord
	if err := json.Unmarshal(entry.Value(), &rec); err != nil {
		return "", errors.WrapInvalid(err, "AddressRegistry", "Lookup", "decode record")
	}
	return rec.Address, nil
}

// Delete removes a Thing's address record.
func (r *AddressRegistry) Delete(ctx context.Context, thingID string) error {
	if !validKey.MatchString(thingID) {
		return nil
	}
	if err := r.kv.Delete(ctx, thingID); err != nil && !stderrors.Is(err, jetstream.ErrKeyNotFound) {
		return errors.WrapTransient(err, "AddressRegistry", "Delete", "delete record")
	}
	return nil
}
