package models

import (
	"testing"

	"github.com/shopspring/decimal"
)

func TestParseEnabledState(t *testing.T) {
	cases := []struct {
		raw  string
		want EnabledState
	}{
		{"true", Enabled},
		{"True", Enabled},
		{"  yes ", Enabled},
		{"1", Enabled},
		{"enabled", Enabled},
		{"pending", Pending},
		{"PENDING", Pending},
		{"false", Disabled},
		{"no", Disabled},
		{"0", Disabled},
		{"", Disabled},
		{"garbage", Disabled},
	}
	for _, c := range cases {
		if got := ParseEnabledState(c.raw); got != c.want {
			t.Errorf("ParseEnabledState(%q) = %q, want %q", c.raw, got, c.want)
		}
	}
}

func TestConfigurationIsActive(t *testing.T) {
	c := Configuration{ID: "c1", Enabled: Enabled}
	if !c.IsActive() {
		t.Error("enabled config should be active")
	}
	c.Enabled = Pending
	if c.IsActive() {
		t.Error("pending config should not be active")
	}
	c.Enabled = Disabled
	if c.IsActive() {
		t.Error("disabled config should not be active")
	}
}

func TestThresholdTypeAndDirectionValid(t *testing.T) {
	if !ThresholdAbove.Valid() || !ThresholdBelow.Valid() {
		t.Error("canonical threshold types should be valid")
	}
	if ThresholdType("sideways").Valid() {
		t.Error("unknown threshold type should be invalid")
	}
	if !DirectionBuy.Valid() || !DirectionSell.Valid() {
		t.Error("canonical directions should be valid")
	}
	if Direction("hold").Valid() {
		t.Error("unknown direction should be invalid")
	}
}

func TestOrderInfoIsTerminalFill(t *testing.T) {
	o := OrderInfo{OrderID: "O1", Status: OrderStatusClosed}
	if !o.IsTerminalFill() {
		t.Error("closed order should be a terminal fill")
	}
	for _, status := range []string{OrderStatusPending, OrderStatusOpen, OrderStatusCanceled, OrderStatusExpired, "partial"} {
		o.Status = status
		if o.IsTerminalFill() {
			t.Errorf("status %q should not be a terminal fill", status)
		}
	}
}

func TestValidationResultDisabledIDs(t *testing.T) {
	var r ValidationResult
	r.Add("a", "volume", SeverityError, "volume must be positive")
	r.Add("a", "pair", SeverityWarning, "unknown pair")
	r.Add("b", "threshold_price", SeverityInfo, "ok")
	r.Add("c", "direction", SeverityError, "invalid direction")
	r.Add("a", "threshold_price", SeverityError, "non-numeric")

	if !r.HasErrors() {
		t.Fatal("expected errors")
	}
	ids := r.DisabledIDs()
	if len(ids) != 2 || ids[0] != "a" || ids[1] != "c" {
		t.Errorf("DisabledIDs = %v, want [a c]", ids)
	}
	if n := len(r.ErrorsFor("a")); n != 2 {
		t.Errorf("ErrorsFor(a) = %d errors, want 2", n)
	}
	if n := len(r.ErrorsFor("b")); n != 0 {
		t.Errorf("ErrorsFor(b) = %d errors, want 0", n)
	}
}

func TestTriggeredInvariantShape(t *testing.T) {
	s := TriggerState{
		ConfigID:     "c1",
		Triggered:    true,
		OrderID:      "OABC-123",
		TriggerPrice: decimal.RequireFromString("50000"),
	}
	if s.Triggered && s.OrderID == "" {
		t.Error("triggered state must carry an order id")
	}
	if s.TriggerPrice.IsZero() {
		t.Error("triggered state must carry a trigger price")
	}
}
