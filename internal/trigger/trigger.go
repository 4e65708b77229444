// Package trigger runs the monitoring loop core: it samples prices for
// the active configurations, fires each trigger at most once when its
// threshold is crossed, places the trailing-stop order through the safety
// gate, tracks fills, and activates chained configurations.
package trigger

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/raymondclowe/ttslo-sub000/internal/kraken"
	"github.com/raymondclowe/ttslo-sub000/internal/logger"
	"github.com/raymondclowe/ttslo-sub000/internal/metrics"
	"github.com/raymondclowe/ttslo-sub000/internal/models"
	"github.com/raymondclowe/ttslo-sub000/internal/storage"
)

// Broadcaster delivers a notification to every configured recipient.
// Implementations must not lose messages: delivery failure is handled by
// queueing inside the broadcaster, so callers treat Broadcast as
// fire-and-forget.
type Broadcaster interface {
	Broadcast(text string)
}

// Options tunes engine behavior.
type Options struct {
	// DryRun short-circuits order placement with a sentinel order id
	// after input validation, touching neither the exchange nor any
	// persisted state.
	DryRun bool
}

// Engine owns the per-configuration trigger state. Not safe for
// concurrent use; the caller drives it from a single loop.
type Engine struct {
	market   kraken.Gateway
	store    *storage.Store
	notifier Broadcaster
	dryRun   bool

	state map[string]*models.TriggerState
	now   func() time.Time
}

// New builds an engine, restoring persisted trigger state so a restart
// never re-fires a trigger that already placed an order.
func New(market kraken.Gateway, store *storage.Store, notifier Broadcaster, opts Options) (*Engine, error) {
	state, err := store.LoadState()
	if err != nil {
		return nil, fmt.Errorf("restore trigger state: %w", err)
	}
	return &Engine{
		market:   market,
		store:    store,
		notifier: notifier,
		dryRun:   opts.DryRun,
		state:    state,
		now:      time.Now,
	}, nil
}

// StateFor returns the tracked state for a configuration, or nil if the
// engine has never evaluated it.
func (e *Engine) StateFor(configID string) *models.TriggerState {
	return e.state[configID]
}

// RunCycle performs one monitoring pass: reload configurations, sample
// prices, evaluate every active trigger, and poll fills for triggered
// ones. Individual failures are contained per configuration; only a
// storage failure aborts the cycle.
func (e *Engine) RunCycle(ctx context.Context) error {
	configs, _, err := e.store.LoadConfigurations()
	if err != nil {
		return fmt.Errorf("load configurations: %w", err)
	}

	var active []models.Configuration
	for i := range configs {
		if configs[i].IsActive() {
			active = append(active, configs[i])
		}
	}
	if len(active) == 0 {
		metrics.Cycles.Inc()
		return nil
	}

	prices := e.fetchPrices(ctx, active)

	for i := range active {
		c := &active[i]
		st := e.ensureState(c.ID)
		st.LastChecked = e.now()

		if st.Triggered {
			e.pollFill(ctx, c, st, configs)
			continue
		}

		price, ok := prices[c.Pair]
		if !ok || !price.IsPositive() {
			st.LastError = fmt.Sprintf("no price for %s this cycle", c.Pair)
			metrics.PriceFetchFailures.Inc()
			continue
		}
		if st.InitialPrice.IsZero() {
			st.InitialPrice = price
			if err := e.store.SaveOneState(st); err != nil {
				logger.Warn("Persisting initial price for %s failed: %v", c.ID, err)
			}
		}

		if !crossed(c, price) {
			continue
		}
		e.fire(ctx, c, st, price)
	}

	metrics.Cycles.Inc()
	return nil
}

// fetchPrices batches the ticker call and falls back to per-pair fetches
// when the batch fails, so one bad symbol cannot starve the others.
func (e *Engine) fetchPrices(ctx context.Context, active []models.Configuration) map[string]decimal.Decimal {
	var pairs []string
	dedup := make(map[string]bool)
	for i := range active {
		p := active[i].Pair
		if !dedup[p] {
			dedup[p] = true
			pairs = append(pairs, p)
		}
	}

	prices, err := e.market.GetCurrentPricesBatch(ctx, pairs)
	if err == nil {
		return prices
	}
	logger.Warn("Batch price fetch failed, falling back to per-pair: %v", err)
	metrics.APIErrors.WithLabelValues(string(kraken.Classify(err))).Inc()

	prices = make(map[string]decimal.Decimal, len(pairs))
	for _, pair := range pairs {
		price, err := e.market.GetCurrentPrice(ctx, pair)
		if err != nil {
			logger.Warn("Price fetch failed for %s: %v", pair, err)
			continue
		}
		prices[pair] = price
	}
	return prices
}

// crossed evaluates the threshold. Any uninterpretable input means no
// fire: an unknown threshold type or a non-positive threshold or price
// must not place an order.
func crossed(c *models.Configuration, price decimal.Decimal) bool {
	if !price.IsPositive() || !c.ThresholdPrice.IsPositive() {
		return false
	}
	switch c.ThresholdType {
	case models.ThresholdAbove:
		return price.GreaterThanOrEqual(c.ThresholdPrice)
	case models.ThresholdBelow:
		return price.LessThanOrEqual(c.ThresholdPrice)
	default:
		return false
	}
}

// fire announces the crossing, places the order, and records the
// triggered state. The threshold notice goes out before order creation
// so the user learns of the crossing even when the gate keeps rejecting
// the order; TriggerState is written only after the order id is known,
// so Triggered=true always carries the order that backs it.
func (e *Engine) fire(ctx context.Context, c *models.Configuration, st *models.TriggerState, price decimal.Decimal) {
	if !st.TriggerNotified {
		e.notifier.Broadcast(fmt.Sprintf(
			"🎯 Threshold reached: %s (%s)\nPrice %s crossed threshold %s %s.",
			c.ID, c.Pair, price, c.ThresholdType, c.ThresholdPrice))
		st.TriggerNotified = true
		if err := e.store.SaveOneState(st); err != nil {
			logger.Warn("Persisting notify flag for %s failed: %v", c.ID, err)
		}
	}

	orderID, err := e.CreateOrder(ctx, c, price)
	if err != nil {
		st.LastError = err.Error()
		logger.Error("Order placement failed for %s (%s): %v", c.ID, c.Pair, err)
		if !st.ErrorNotified {
			e.notifier.Broadcast(fmt.Sprintf(
				"⚠️ Order placement failed for %s (%s): %v\nWill retry next cycle.", c.ID, c.Pair, err))
			st.ErrorNotified = true
		}
		if err := e.store.SaveOneState(st); err != nil {
			logger.Warn("Persisting error state for %s failed: %v", c.ID, err)
		}
		return
	}

	now := e.now()
	st.Triggered = true
	st.TriggerPrice = price
	st.TriggerTime = now
	st.OrderID = orderID
	st.LastError = ""
	st.ErrorNotified = false

	if err := e.store.UpdateConfigOnTrigger(c.ID, orderID, now, price); err != nil {
		logger.Error("Recording trigger on configuration %s failed: %v", c.ID, err)
	}
	if err := e.store.SaveOneState(st); err != nil {
		logger.Error("Persisting triggered state for %s failed: %v", c.ID, err)
	}
	metrics.OrdersCreated.Inc()
	logger.Info("Trigger fired: %s %s crossed %s %s at %s, order %s", c.ID, c.Pair, c.ThresholdType, c.ThresholdPrice, price, orderID)

	e.notifier.Broadcast(fmt.Sprintf(
		"📈 Order placed: %s (%s)\nTrailing-stop %s %s with %s%% offset at trigger price %s, order %s.",
		c.ID, c.Pair, c.Direction, c.Volume, c.TrailingOffsetPct, price, orderID))
	_ = e.store.Log("info", "trigger fired", map[string]string{
		"config_id": c.ID, "pair": c.Pair, "price": price.String(), "order_id": orderID,
	})
}

// pollFill checks a placed order for a terminal status, notifies once,
// and activates a chained configuration on a full fill. Dry-run sentinel
// orders are treated as immediately filled so chains stay testable
// without credentials.
func (e *Engine) pollFill(ctx context.Context, c *models.Configuration, st *models.TriggerState, all []models.Configuration) {
	if st.FillNotified {
		return
	}
	if st.OrderID == "" {
		return
	}

	var info *models.OrderInfo
	if strings.HasPrefix(st.OrderID, dryRunOrderPrefix) {
		info = &models.OrderInfo{
			OrderID:      st.OrderID,
			Status:       models.OrderStatusClosed,
			Pair:         c.Pair,
			Volume:       c.Volume,
			FilledVolume: c.Volume,
			AvgFillPrice: st.TriggerPrice,
		}
	} else {
		var err error
		info, err = e.market.QueryOrderByID(ctx, st.OrderID)
		if err != nil {
			logger.Debug("Order status query failed for %s (%s): %v", st.OrderID, c.ID, err)
			return
		}
	}

	switch info.Status {
	case models.OrderStatusClosed:
		e.notifier.Broadcast(fmt.Sprintf(
			"✅ Order filled: %s (%s)\n%s %s at average price %s, order %s.",
			c.ID, c.Pair, c.Direction, info.FilledVolume, info.AvgFillPrice, st.OrderID))
		st.FillNotified = true
		if err := e.store.SaveOneState(st); err != nil {
			logger.Warn("Persisting fill flag for %s failed: %v", c.ID, err)
		}
		e.activateLinked(c, all)
	case models.OrderStatusCanceled, models.OrderStatusExpired:
		e.notifier.Broadcast(fmt.Sprintf(
			"⚠️ Order %s for %s (%s) ended %s without filling. Chained configuration not activated.",
			st.OrderID, c.ID, c.Pair, info.Status))
		st.FillNotified = true
		if err := e.store.SaveOneState(st); err != nil {
			logger.Warn("Persisting fill flag for %s failed: %v", c.ID, err)
		}
	}
}

// activateLinked enables the chained configuration. Children are
// commonly saved disabled or pending; the only no-op conditions are a
// child that is already enabled or has already triggered. Best effort:
// a missing child is logged, never fatal.
func (e *Engine) activateLinked(parent *models.Configuration, all []models.Configuration) {
	if parent.LinkedOrderID == "" {
		return
	}
	var child *models.Configuration
	for i := range all {
		if all[i].ID == parent.LinkedOrderID {
			child = &all[i]
			break
		}
	}
	if child == nil {
		logger.Warn("Chained configuration %q referenced by %s not found", parent.LinkedOrderID, parent.ID)
		return
	}
	if child.Enabled == models.Enabled {
		logger.Debug("Chained configuration %s is already enabled, skipping activation", child.ID)
		return
	}
	if cst, ok := e.state[child.ID]; ok && cst.Triggered {
		logger.Debug("Chained configuration %s has already triggered, skipping activation", child.ID)
		return
	}
	if err := e.store.UpdateConfigEnabled(child.ID, models.Enabled); err != nil {
		logger.Error("Activating chained configuration %s failed: %v", child.ID, err)
		return
	}
	cst := e.ensureState(child.ID)
	cst.ActivatedOn = e.now().UTC().Format(time.RFC3339)
	if err := e.store.SaveOneState(cst); err != nil {
		logger.Warn("Persisting activation record for %s failed: %v", child.ID, err)
	}
	metrics.ChainActivations.Inc()
	e.notifier.Broadcast(fmt.Sprintf(
		"🔗 Chain activated: %s (%s) is now live after the fill of %s (%s).",
		child.ID, child.Pair, parent.ID, parent.Pair))
	logger.Info("Chain activation: %s (%s) enabled after fill of %s", child.ID, child.Pair, parent.ID)
}

func (e *Engine) ensureState(configID string) *models.TriggerState {
	st, ok := e.state[configID]
	if !ok {
		st = &models.TriggerState{ConfigID: configID}
		e.state[configID] = st
	}
	return st
}
