package trigger

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/raymondclowe/ttslo-sub000/internal/assets"
	"github.com/raymondclowe/ttslo-sub000/internal/kraken"
	"github.com/raymondclowe/ttslo-sub000/internal/logger"
	"github.com/raymondclowe/ttslo-sub000/internal/metrics"
	"github.com/raymondclowe/ttslo-sub000/internal/models"
)

// dryRunOrderPrefix marks sentinel order ids returned without touching
// the exchange.
const dryRunOrderPrefix = "DRYRUN-"

// CreateOrder runs the safety gate and places the trailing-stop order.
// Gate order: input validation, dry-run sentinel (no network call, no
// state mutation), write-credential hard stop, exchange order minimum
// (best effort), balance coverage (best effort when the balance itself
// is unavailable, hard rejection when it is known insufficient), then
// placement.
func (e *Engine) CreateOrder(ctx context.Context, c *models.Configuration, triggerPrice decimal.Decimal) (string, error) {
	if err := validateOrderInputs(c, triggerPrice); err != nil {
		metrics.GateRejections.Inc()
		return "", err
	}

	if e.dryRun {
		id := dryRunOrderPrefix + uuid.NewString()
		logger.Info("Dry run: would place trailing-stop %s %s %s with %s%% offset, sentinel order %s",
			c.Direction, c.Volume, c.Pair, c.TrailingOffsetPct, id)
		return id, nil
	}

	if !e.market.HasWriteCredentials() {
		metrics.GateRejections.Inc()
		return "", fmt.Errorf("no trade-capable API credentials configured, cannot place order for %s", c.ID)
	}

	if info, err := e.market.GetAssetPairInfo(ctx, c.Pair); err != nil {
		logger.Warn("Pair info unavailable for %s, order-minimum check skipped: %v", c.Pair, err)
	} else if info.OrderMinimum.IsPositive() && c.Volume.LessThan(info.OrderMinimum) {
		metrics.GateRejections.Inc()
		return "", fmt.Errorf("volume %s is below the exchange minimum %s for %s", c.Volume, info.OrderMinimum, c.Pair)
	}

	if err := e.checkBalanceCoverage(ctx, c, triggerPrice); err != nil {
		metrics.GateRejections.Inc()
		return "", err
	}

	req := kraken.OrderRequest{
		Pair:      c.Pair,
		Direction: c.Direction,
		Volume:    c.Volume,
		OffsetPct: c.TrailingOffsetPct,
		Trigger:   kraken.TriggerIndex,
	}
	orderID, err := e.market.AddTrailingStopOrder(ctx, req)
	if err != nil && kraken.IsIndexUnavailable(err) {
		// Some pairs have no index price feed; the exchange rejects
		// trigger=index for them. Last-trade trigger is the documented
		// fallback.
		logger.Info("Index trigger unavailable for %s, retrying with last-trade trigger", c.Pair)
		req.Trigger = kraken.TriggerLast
		orderID, err = e.market.AddTrailingStopOrder(ctx, req)
	}
	if err != nil {
		metrics.APIErrors.WithLabelValues(string(kraken.Classify(err))).Inc()
		return "", fmt.Errorf("place trailing-stop for %s: %w", c.ID, err)
	}
	return orderID, nil
}

func validateOrderInputs(c *models.Configuration, triggerPrice decimal.Decimal) error {
	if c.ID == "" {
		return fmt.Errorf("configuration has no id")
	}
	if c.Pair == "" {
		return fmt.Errorf("configuration %s has no pair", c.ID)
	}
	if !triggerPrice.IsPositive() {
		return fmt.Errorf("configuration %s has non-positive trigger price %s", c.ID, triggerPrice)
	}
	if !c.Volume.IsPositive() {
		return fmt.Errorf("configuration %s has non-positive volume %s", c.ID, c.Volume)
	}
	if !c.TrailingOffsetPct.IsPositive() {
		return fmt.Errorf("configuration %s has non-positive trailing offset %s", c.ID, c.TrailingOffsetPct)
	}
	if !c.Direction.Valid() {
		return fmt.Errorf("configuration %s has invalid direction %q", c.ID, c.Direction)
	}
	return nil
}

// checkBalanceCoverage verifies the funds backing the order. Sells need
// the base asset to cover the volume; buys need the quote asset to cover
// volume times the trigger price. Balances are aggregated across wallet
// variants before comparison.
func (e *Engine) checkBalanceCoverage(ctx context.Context, c *models.Configuration, triggerPrice decimal.Decimal) error {
	balances, err := e.market.GetNormalizedBalances(ctx)
	if err != nil {
		logger.Warn("Balances unavailable, coverage check skipped for %s: %v", c.ID, err)
		return nil
	}
	switch c.Direction {
	case models.DirectionSell:
		base := assets.BaseAsset(c.Pair)
		if base == "" {
			return nil
		}
		available := balances[base]
		if available.LessThan(c.Volume) {
			return fmt.Errorf("insufficient %s balance for sell: need %s, have %s", base, c.Volume, available)
		}
	case models.DirectionBuy:
		quote := assets.QuoteAsset(c.Pair)
		if quote == "" || !triggerPrice.IsPositive() {
			return nil
		}
		needed := c.Volume.Mul(triggerPrice)
		available := balances[quote]
		if available.LessThan(needed) {
			return fmt.Errorf("insufficient %s balance for buy: need about %s, have %s", quote, needed, available)
		}
	}
	return nil
}
