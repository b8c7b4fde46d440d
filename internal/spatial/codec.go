package spatial

import (
	"encoding/json"
	"fmt"
)

// EncodeSnapshotState captures m's opaque snapshot state and serializes it
// to JSON. The caller (internal/snapshot) stores the result alongside m's
// Variant() so a later DecodeSnapshotState call knows which concrete shape
// to parse back into.
func EncodeSnapshotState(m Model) ([]byte, error) {
	state, err := m.SnapshotState()
	if err != nil {
		return nil, err
	}
	return json.Marshal(state)
}

// DecodeSnapshotState parses a JSON blob produced by EncodeSnapshotState
// back into the concrete snapshot type for variant, suitable for passing
// straight to that variant's RestoreFromSnapshot.
func DecodeSnapshotState(variant Variant, data []byte) (any, error) {
	switch variant {
	case VariantRoomGraph:
		var snap roomGraphSnapshot
		if err := json.Unmarshal(data, &snap); err != nil {
			return nil, fmt.Errorf("spatial: decode room graph snapshot: %w", err)
		}
		return snap, nil
	case VariantGrid:
		var snap gridSnapshot
		if err := json.Unmarshal(data, &snap); err != nil {
			return nil, fmt.Errorf("spatial: decode grid snapshot: %w", err)
		}
		return snap, nil
	default:
		return nil, fmt.Errorf("spatial: unknown variant %d", variant)
	}
}

// NewModelForVariant constructs an empty Model of the given variant, for
// restore paths that don't already have a live spatial model to restore
// into (e.g. rebuilding a fresh core at startup).
func NewModelForVariant(variant Variant) (Model, error) {
	switch variant {
	case VariantRoomGraph:
		return NewRoomGraph(), nil
	case VariantGrid:
		return NewGrid(0, 0, 0, 0), nil
	default:
		return nil, fmt.Errorf("spatial: unknown variant %d", variant)
	}
}
