// Package mirror projects cloud API payloads into the state store. Each
// top-level field of a payload becomes one object under a dotted prefix,
// so a status document for charge point CP1 lands as CP1.status.<field>.
package mirror

import (
	"context"

	"github.com/chargebridge/chargebridge/pkg/log"
	"github.com/chargebridge/chargebridge/pkg/statestore"
)

// Mirror writes flattened payloads into a statestore.Store.
type Mirror struct {
	store statestore.Store
}

func New(store statestore.Store) *Mirror {
	return &Mirror{store: store}
}

// Mirror writes every top-level field of fields under prefix. Objects are
// created on first sight and never have their metadata overwritten. Values
// are written acknowledged since they reflect what the cloud reported.
// Nested objects and arrays are stored whole as JSON values rather than
// flattened further. A failure on one field is logged and does not stop
// the remaining fields.
func (m *Mirror) Mirror(ctx context.Context, prefix string, fields map[string]any, writable bool) error {
	var lastErr error
	for name, value := range fields {
		id := prefix + "." + name
		meta := statestore.ObjectMeta{
			Name:     name,
			Kind:     statestore.KindOf(value),
			Writable: writable,
		}
		if err := m.store.EnsureObject(ctx, id, meta); err != nil {
			log.Ctx(ctx).Error("failed to ensure state object", "id", id, "error", err)
			lastErr = err
			continue
		}
		if err := m.store.SetState(ctx, id, value, true); err != nil {
			log.Ctx(ctx).Error("failed to write state", "id", id, "error", err)
			lastErr = err
		}
	}
	return lastErr
}
