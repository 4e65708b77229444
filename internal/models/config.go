// Package models defines the core domain entities: trigger configurations,
// per-configuration trigger state, validation diagnostics, and the
// notification queue.
package models

import (
	"strings"

	"github.com/shopspring/decimal"
)

// ThresholdType says which side of the threshold price arms the trigger.
type ThresholdType string

const (
	ThresholdAbove ThresholdType = "above"
	ThresholdBelow ThresholdType = "below"
)

// Valid reports whether t is a recognized threshold type.
func (t ThresholdType) Valid() bool {
	return t == ThresholdAbove || t == ThresholdBelow
}

// Direction is the side of the trailing-stop order placed on trigger.
type Direction string

const (
	DirectionBuy  Direction = "buy"
	DirectionSell Direction = "sell"
)

// Valid reports whether d is a recognized order direction.
func (d Direction) Valid() bool {
	return d == DirectionBuy || d == DirectionSell
}

// EnabledState is the canonical activation state of a configuration.
// Source files historically carried "true"/"false"/"pending"/"yes"/"1";
// ParseEnabledState maps all variants onto these three values and the
// storage layer writes back only canonical strings.
type EnabledState string

const (
	Enabled  EnabledState = "true"
	Disabled EnabledState = "false"
	Pending  EnabledState = "pending"
)

// ParseEnabledState maps a raw enabled value onto the canonical enum.
// Unrecognized values degrade to Disabled: a config we cannot interpret
// must never be armed.
func ParseEnabledState(raw string) EnabledState {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "true", "yes", "1", "enabled":
		return Enabled
	case "pending":
		return Pending
	default:
		return Disabled
	}
}

// Configuration is one trailing-stop trigger definition. It is immutable
// for the lifetime of a run; the only external mutations are the explicit
// disable and chain-activation operations on the record store.
type Configuration struct {
	ID                string          `json:"id"`
	Pair              string          `json:"pair"`
	ThresholdPrice    decimal.Decimal `json:"threshold_price"`
	ThresholdType     ThresholdType   `json:"threshold_type"`
	Direction         Direction       `json:"direction"`
	Volume            decimal.Decimal `json:"volume"`
	TrailingOffsetPct decimal.Decimal `json:"trailing_offset_percent"`
	Enabled           EnabledState    `json:"enabled"`
	LinkedOrderID     string          `json:"linked_order_id,omitempty"`
}

// IsActive reports whether the configuration participates in the
// monitoring working set. Pending configs are tolerated but not active.
func (c *Configuration) IsActive() bool {
	return c.Enabled == Enabled
}
