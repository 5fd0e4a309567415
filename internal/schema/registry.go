package schema

import (
	"encoding/json"
	"fmt"
	"sort"
)

// Payload is implemented by every entity-specific payload contract.
type Payload interface {
	Validate() error
}

// EntityType binds an entity type name to its storage table and payload
// contract. The sync core iterates registered types to create record tables
// and to drive the pull phase, so registration order does not matter; Types()
// returns a stable ordering.
type EntityType struct {
	// Name is the wire-level entity type tag (e.g. "engagement").
	Name string

	// Table is the local record table for this type.
	Table string

	// New returns a zero payload value for decoding.
	New func() Payload
}

var registry = make(map[string]EntityType)

// Register adds an entity type to the registry. It panics on duplicate or
// incomplete registrations; registration happens only from init functions.
func Register(et EntityType) {
	if et.Name == "" || et.Table == "" || et.New == nil {
		panic(fmt.Sprintf("schema: incomplete entity type registration %+v", et))
	}
	if _, exists := registry[et.Name]; exists {
		panic(fmt.Sprintf("schema: duplicate entity type %q", et.Name))
	}
	registry[et.Name] = et
}

// Lookup returns the registered entity type for name.
func Lookup(name string) (EntityType, bool) {
	et, ok := registry[name]
	return et, ok
}

// Types returns all registered entity types sorted by name.
func Types() []EntityType {
	types := make([]EntityType, 0, len(registry))
	for _, et := range registry {
		types = append(types, et)
	}
	sort.Slice(types, func(i, j int) bool { return types[i].Name < types[j].Name })
	return types
}

// DecodePayload parses and validates a payload against the contract
// registered for entityType.
func DecodePayload(entityType string, data json.RawMessage) (Payload, error) {
	et, ok := Lookup(entityType)
	if !ok {
		return nil, fmt.Errorf("unknown entity type %q", entityType)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("payload is required")
	}

	payload := et.New()
	if err := json.Unmarshal(data, payload); err != nil {
		return nil, fmt.Errorf("failed to parse payload: %w", err)
	}
	if err := payload.Validate(); err != nil {
		return nil, err
	}
	return payload, nil
}
