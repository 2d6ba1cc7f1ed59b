package statestore

import (
	"context"
	"errors"
)

// ErrNotFound is returned when a state id has no object metadata yet.
var ErrNotFound = errors.New("state not found")

// ValueKind classifies the runtime kind of a stored value.
type ValueKind string

const (
	KindBoolean ValueKind = "boolean"
	KindNumber  ValueKind = "number"
	KindString  ValueKind = "string"
	// KindJSON is used for nested objects and arrays, which are stored whole
	// under a single id rather than flattened further.
	KindJSON ValueKind = "json"
)

// KindOf infers the value kind from a runtime value.
func KindOf(v any) ValueKind {
	switch v.(type) {
	case bool:
		return KindBoolean
	case float64, float32, int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return KindNumber
	case string:
		return KindString
	default:
		return KindJSON
	}
}

// ObjectMeta describes a state object. It is created at most once per id;
// later EnsureObject calls for the same id are no-ops.
type ObjectMeta struct {
	Name     string    `json:"name"`
	Kind     ValueKind `json:"kind"`
	Writable bool      `json:"writable"`
}

// State is a stored value plus its acknowledgement flag. Ack distinguishes
// externally-confirmed values (written by the sync loop) from pending user
// writes.
type State struct {
	Value any  `json:"value"`
	Ack   bool `json:"ack"`
}

// Change is a notification about a state write or deletion.
type Change struct {
	ID      string
	Value   any
	Ack     bool
	Deleted bool
}

// Store defines the interface for the local hierarchical state store. IDs are
// dotted paths ("<namespace>.<chargePointId>.status.totalPower").
type Store interface {
	// EnsureObject creates the object metadata for id if it does not exist.
	EnsureObject(ctx context.Context, id string, meta ObjectMeta) error

	// SetState overwrites the value of an existing object and notifies
	// subscribers. It returns ErrNotFound when no object exists for id.
	SetState(ctx context.Context, id string, value any, ack bool) error

	// GetState returns the stored state for id. The bool reports whether a
	// value has been written yet.
	GetState(ctx context.Context, id string) (State, bool, error)

	// DeleteState removes the object and its value, notifying subscribers
	// with a deletion change.
	DeleteState(ctx context.Context, id string) error

	// States returns a snapshot of all stored states keyed by id.
	States(ctx context.Context) (map[string]State, error)

	// Subscribe registers a callback invoked synchronously for every change.
	Subscribe(fn func(Change))

	// Close releases any resources held by the store.
	Close() error
}
