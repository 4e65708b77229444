package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// TriggerState holds the mutable per-configuration state owned by the
// trigger engine. Created lazily on first evaluation, persisted on every
// transition.
//
// Invariant: Triggered=true implies OrderID is non-empty and TriggerPrice
// and TriggerTime are set. The trigger engine writes that combination in a
// single logical update; no intermediate form is ever persisted.
type TriggerState struct {
	ConfigID string `json:"config_id"`

	Triggered    bool            `json:"triggered"`
	TriggerPrice decimal.Decimal `json:"trigger_price"`
	TriggerTime  time.Time       `json:"trigger_time"`
	ActivatedOn  string          `json:"activated_on"`
	OrderID      string          `json:"order_id"`

	TriggerNotified bool `json:"trigger_notified"`
	FillNotified    bool `json:"fill_notified"`
	ErrorNotified   bool `json:"error_notified"`

	LastError    string          `json:"last_error"`
	LastChecked  time.Time       `json:"last_checked"`
	InitialPrice decimal.Decimal `json:"initial_price"`
}

// Order status values reported by the exchange.
const (
	OrderStatusPending  = "pending"
	OrderStatusOpen     = "open"
	OrderStatusClosed   = "closed"
	OrderStatusCanceled = "canceled"
	OrderStatusExpired  = "expired"
)

// OrderInfo is the result of querying an order on the exchange.
type OrderInfo struct {
	OrderID      string
	Status       string
	Pair         string
	Direction    Direction
	Volume       decimal.Decimal
	Price        decimal.Decimal
	AvgFillPrice decimal.Decimal
	FilledVolume decimal.Decimal
}

// IsTerminalFill reports whether the order fully filled. Only a fully
// closed order activates a chained configuration; partial fills never do.
func (o *OrderInfo) IsTerminalFill() bool {
	return o.Status == OrderStatusClosed
}
