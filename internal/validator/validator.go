// Package validator implements the startup policy check: a stateless rule
// engine that evaluates a batch of trigger configurations against live
// market data and produces per-(config, field) diagnostics. Any ERROR
// disables the configuration for the run; WARNING and INFO are advisory.
package validator

import (
	"context"
	"regexp"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/raymondclowe/ttslo-sub000/internal/assets"
	"github.com/raymondclowe/ttslo-sub000/internal/kraken"
	"github.com/raymondclowe/ttslo-sub000/internal/logger"
	"github.com/raymondclowe/ttslo-sub000/internal/models"
)

const (
	maxIDLength = 64

	// Fat-finger thresholds: a configured price this far outside the
	// reference range is probably a typo.
	fatFingerFactor = 10

	// Advisory bounds for obviously extreme numeric values.
	maxReasonablePrice  = 10_000_000
	minReasonableVolume = "0.00001"
	maxOffsetPct        = 50
	minOffsetPct        = "0.1"

	longChainHops = 5

	// ohlcDays is how much history backs the fat-finger reference range.
	ohlcDays = 7
)

var idPattern = regexp.MustCompile(`^[A-Za-z0-9._-]+$`)

// debugGapPrefix distinctly marks an already-met threshold that was
// downgraded from ERROR to WARNING because debug mode is on, so operators
// can tell it apart from ordinary gap warnings.
const debugGapPrefix = "DEBUG OVERRIDE: "

// Validator evaluates configurations. It holds no per-config state; all
// mutable inputs (prices, balances, known pairs) are fetched fresh per
// Validate call.
type Validator struct {
	market           kraken.Gateway
	debugMode        bool
	ohlcIntervalMins int
}

// New creates a validator. debugMode downgrades the already-met-threshold
// ERROR to a distinctly prefixed WARNING.
func New(market kraken.Gateway, debugMode bool) *Validator {
	return &Validator{
		market:           market,
		debugMode:        debugMode,
		ohlcIntervalMins: 1440,
	}
}

// Validate runs every rule against the batch. Ordering is per-config in
// rule order; graph diagnostics are computed over the whole batch first
// and emitted at each config's position.
func (v *Validator) Validate(ctx context.Context, configs []models.Configuration) *models.ValidationResult {
	result := &models.ValidationResult{}

	knownPairs := v.fetchKnownPairs(ctx)
	prices := v.fetchPrices(ctx, configs)
	balances := v.fetchBalances(ctx)
	chainDiags := checkChains(configs)

	seen := make(map[string]bool, len(configs))
	for i := range configs {
		c := &configs[i]
		if c.ID != "" && seen[c.ID] {
			result.Add(c.ID, "id", models.SeverityError,
				"duplicate configuration id: %q already defined earlier in the batch", c.ID)
			continue
		}
		seen[c.ID] = true

		v.checkRequiredFields(c, result)
		v.checkIDFormat(c, result)
		v.checkPair(c, knownPairs, result)
		v.checkNumericRanges(c, result)
		v.checkEnums(c, result)
		v.checkFinancialDirection(c, result)
		v.checkMarketGap(c, prices, result)
		v.checkFatFinger(ctx, c, result)
		for _, d := range chainDiags[c.ID] {
			result.Diagnostics = append(result.Diagnostics, d)
		}
		v.checkBalanceAdvisory(c, balances, result)
	}
	return result
}

func (v *Validator) fetchKnownPairs(ctx context.Context) map[string]bool {
	pairs, err := v.market.ListKnownPairs(ctx)
	if err != nil {
		logger.Warn("Known-pairs list unavailable, pair membership check degraded to advisory: %v", err)
		return nil
	}
	known := make(map[string]bool, len(pairs))
	for _, p := range pairs {
		known[strings.ToUpper(p)] = true
	}
	return known
}

func (v *Validator) fetchPrices(ctx context.Context, configs []models.Configuration) map[string]decimal.Decimal {
	var pairs []string
	dedup := make(map[string]bool)
	for i := range configs {
		p := configs[i].Pair
		if p != "" && !dedup[p] {
			dedup[p] = true
			pairs = append(pairs, p)
		}
	}
	if len(pairs) == 0 {
		return nil
	}
	prices, err := v.market.GetCurrentPricesBatch(ctx, pairs)
	if err != nil {
		logger.Warn("Live prices unavailable, market-gap checks skipped: %v", err)
		return nil
	}
	return prices
}

func (v *Validator) fetchBalances(ctx context.Context) map[string]decimal.Decimal {
	if !v.market.HasWriteCredentials() {
		return nil
	}
	balances, err := v.market.GetNormalizedBalances(ctx)
	if err != nil {
		logger.Warn("Balances unavailable, balance advisories skipped: %v", err)
		return nil
	}
	return balances
}

func (v *Validator) checkRequiredFields(c *models.Configuration, r *models.ValidationResult) {
	if c.ID == "" {
		r.Add(c.ID, "id", models.SeverityError, "id is required")
	}
	if c.Pair == "" {
		r.Add(c.ID, "pair", models.SeverityError, "pair is required")
	}
	if c.ThresholdPrice.IsZero() {
		r.Add(c.ID, "threshold_price", models.SeverityError, "threshold_price is required")
	}
	if c.ThresholdType == "" {
		r.Add(c.ID, "threshold_type", models.SeverityError, "threshold_type is required")
	}
	if c.Direction == "" {
		r.Add(c.ID, "direction", models.SeverityError, "direction is required")
	}
	if c.Volume.IsZero() {
		r.Add(c.ID, "volume", models.SeverityError, "volume is required")
	}
	if c.TrailingOffsetPct.IsZero() {
		r.Add(c.ID, "trailing_offset_percent", models.SeverityError, "trailing_offset_percent is required")
	}
}

func (v *Validator) checkIDFormat(c *models.Configuration, r *models.ValidationResult) {
	if c.ID == "" {
		return
	}
	if len(c.ID) > maxIDLength {
		r.Add(c.ID, "id", models.SeverityError, "id exceeds %d characters", maxIDLength)
	}
	if !idPattern.MatchString(c.ID) {
		r.Add(c.ID, "id", models.SeverityError,
			"id contains invalid characters (allowed: letters, digits, dot, underscore, hyphen)")
	}
}

func (v *Validator) checkPair(c *models.Configuration, known map[string]bool, r *models.ValidationResult) {
	if c.Pair == "" {
		return
	}
	if _, _, ok := assets.SplitPair(c.Pair); !ok {
		r.Add(c.ID, "pair", models.SeverityError, "unrecognized pair format: %q", c.Pair)
		return
	}
	if known == nil {
		r.Add(c.ID, "pair", models.SeverityInfo,
			"pair list unavailable, membership of %q not verified", c.Pair)
		return
	}
	if !known[strings.ToUpper(c.Pair)] {
		r.Add(c.ID, "pair", models.SeverityError, "pair %q is not listed on the exchange", c.Pair)
	}
}

func (v *Validator) checkNumericRanges(c *models.Configuration, r *models.ValidationResult) {
	if !c.ThresholdPrice.IsZero() {
		if c.ThresholdPrice.IsNegative() {
			r.Add(c.ID, "threshold_price", models.SeverityError,
				"threshold_price must be positive, got %s", c.ThresholdPrice)
		} else if c.ThresholdPrice.GreaterThan(decimal.NewFromInt(maxReasonablePrice)) {
			r.Add(c.ID, "threshold_price", models.SeverityWarning,
				"threshold_price %s looks implausibly large", c.ThresholdPrice)
		}
	}
	if !c.Volume.IsZero() {
		if c.Volume.IsNegative() {
			r.Add(c.ID, "volume", models.SeverityError, "volume must be positive, got %s", c.Volume)
		} else if c.Volume.LessThan(decimal.RequireFromString(minReasonableVolume)) {
			r.Add(c.ID, "volume", models.SeverityWarning,
				"volume %s is smaller than any exchange minimum", c.Volume)
		}
	}
	if !c.TrailingOffsetPct.IsZero() {
		switch {
		case c.TrailingOffsetPct.IsNegative():
			r.Add(c.ID, "trailing_offset_percent", models.SeverityError,
				"trailing_offset_percent must be positive, got %s", c.TrailingOffsetPct)
		case c.TrailingOffsetPct.GreaterThanOrEqual(decimal.NewFromInt(maxOffsetPct)):
			r.Add(c.ID, "trailing_offset_percent", models.SeverityWarning,
				"trailing offset %s%% is extremely wide", c.TrailingOffsetPct)
		case c.TrailingOffsetPct.LessThan(decimal.RequireFromString(minOffsetPct)):
			r.Add(c.ID, "trailing_offset_percent", models.SeverityWarning,
				"trailing offset %s%% is so tight the order will likely trigger on noise", c.TrailingOffsetPct)
		}
	}
}

func (v *Validator) checkEnums(c *models.Configuration, r *models.ValidationResult) {
	if c.ThresholdType != "" && !c.ThresholdType.Valid() {
		r.Add(c.ID, "threshold_type", models.SeverityError,
			"threshold_type must be %q or %q, got %q", models.ThresholdAbove, models.ThresholdBelow, c.ThresholdType)
	}
	if c.Direction != "" && !c.Direction.Valid() {
		r.Add(c.ID, "direction", models.SeverityError,
			"direction must be %q or %q, got %q", models.DirectionBuy, models.DirectionSell, c.Direction)
	}
}

// checkFinancialDirection rejects economically unsound combinations on
// pairs quoted in fiat, a stablecoin, or BTC: buying when the price rises
// above a threshold, or selling when it falls below one. Exotic quotes are
// exempt and treated as deliberate strategy.
func (v *Validator) checkFinancialDirection(c *models.Configuration, r *models.ValidationResult) {
	if !c.ThresholdType.Valid() || !c.Direction.Valid() {
		return
	}
	if !assets.IsStableOrBTCQuote(c.Pair) {
		return
	}
	if c.ThresholdType == models.ThresholdAbove && c.Direction == models.DirectionBuy {
		r.Add(c.ID, "direction", models.SeverityError,
			"Buying HIGH: threshold_type=above with direction=buy buys into a rising market; use below/buy or above/sell")
	}
	if c.ThresholdType == models.ThresholdBelow && c.Direction == models.DirectionSell {
		r.Add(c.ID, "direction", models.SeverityError,
			"Selling LOW: threshold_type=below with direction=sell sells into a falling market; use above/sell or below/buy")
	}
}

// checkMarketGap compares the threshold against the live price. A
// threshold the current price already satisfies would fire immediately and
// is an ERROR (downgraded to a distinctly prefixed WARNING in debug mode).
// A gap smaller than the trailing offset makes the order ineffective.
func (v *Validator) checkMarketGap(c *models.Configuration, prices map[string]decimal.Decimal, r *models.ValidationResult) {
	if prices == nil || !c.ThresholdType.Valid() || !c.ThresholdPrice.IsPositive() {
		return
	}
	price, ok := prices[c.Pair]
	if !ok || !price.IsPositive() {
		return
	}

	met := (c.ThresholdType == models.ThresholdAbove && price.GreaterThanOrEqual(c.ThresholdPrice)) ||
		(c.ThresholdType == models.ThresholdBelow && price.LessThanOrEqual(c.ThresholdPrice))
	if met {
		msg := "threshold %s %s is already satisfied by current price %s and would trigger immediately"
		if v.debugMode {
			r.Add(c.ID, "threshold_price", models.SeverityWarning,
				debugGapPrefix+msg, c.ThresholdType, c.ThresholdPrice, price)
		} else {
			r.Add(c.ID, "threshold_price", models.SeverityError,
				msg, c.ThresholdType, c.ThresholdPrice, price)
		}
		return
	}

	if !c.TrailingOffsetPct.IsPositive() {
		return
	}
	hundred := decimal.NewFromInt(100)
	gapPct := c.ThresholdPrice.Sub(price).Abs().Div(price).Mul(hundred)
	switch {
	case gapPct.LessThan(c.TrailingOffsetPct):
		r.Add(c.ID, "threshold_price", models.SeverityWarning,
			"gap to current price (%s%%) is smaller than the trailing offset (%s%%); the stop would trail into an immediate fill. Widen the threshold, shrink the offset, or wait for the market to move",
			gapPct.Round(2), c.TrailingOffsetPct)
	case gapPct.LessThan(c.TrailingOffsetPct.Mul(decimal.NewFromInt(2))):
		r.Add(c.ID, "threshold_price", models.SeverityWarning,
			"gap to current price (%s%%) is under twice the trailing offset (%s%%); the order may trigger with little room to trail",
			gapPct.Round(2), c.TrailingOffsetPct)
	}
}

// checkFatFinger compares the threshold against the pair's recent OHLC
// range and the user's own order history. A factor of 10x outside either
// reference is a sanity nudge, never a hard block. Requires at least two
// data points per reference to avoid false positives.
func (v *Validator) checkFatFinger(ctx context.Context, c *models.Configuration, r *models.ValidationResult) {
	if c.Pair == "" || !c.ThresholdPrice.IsPositive() {
		return
	}
	factor := decimal.NewFromInt(fatFingerFactor)

	if candles, err := v.market.GetOHLC(ctx, c.Pair, v.ohlcIntervalMins); err == nil {
		recent := candles
		if len(recent) > ohlcDays {
			recent = recent[len(recent)-ohlcDays:]
		}
		if len(recent) >= 2 {
			low, high := recent[0].Low, recent[0].High
			for _, candle := range recent[1:] {
				if candle.Low.LessThan(low) {
					low = candle.Low
				}
				if candle.High.GreaterThan(high) {
					high = candle.High
				}
			}
			v.fatFingerAgainst(c, low, high, "7-day market range", factor, r)
		}
	} else {
		logger.Debug("OHLC unavailable for %s, market-range fat-finger check skipped: %v", c.Pair, err)
	}

	if !v.market.HasWriteCredentials() {
		return
	}
	low, high, count, err := v.market.OrderPriceRange(ctx, c.Pair)
	if err != nil {
		logger.Debug("Order history unavailable for %s, order-range fat-finger check skipped: %v", c.Pair, err)
		return
	}
	if count >= 2 {
		v.fatFingerAgainst(c, low, high, "your order history", factor, r)
	}
}

func (v *Validator) fatFingerAgainst(c *models.Configuration, low, high decimal.Decimal, reference string, factor decimal.Decimal, r *models.ValidationResult) {
	if !low.IsPositive() || !high.IsPositive() {
		return
	}
	if c.ThresholdPrice.GreaterThanOrEqual(high.Mul(factor)) {
		r.Add(c.ID, "threshold_price", models.SeverityWarning,
			"threshold_price %s is 10x or more above %s (high %s), possible typo", c.ThresholdPrice, reference, high)
	}
	if c.ThresholdPrice.LessThanOrEqual(low.Div(factor)) {
		r.Add(c.ID, "threshold_price", models.SeverityWarning,
			"threshold_price %s is 10x or more below %s (low %s), possible typo", c.ThresholdPrice, reference, low)
	}
}

// checkBalanceAdvisory reports whether the aggregated balance of the base
// asset covers a sell order's volume. Advisory only: balances can be
// topped up before the threshold fires, so insufficiency never blocks.
func (v *Validator) checkBalanceAdvisory(c *models.Configuration, balances map[string]decimal.Decimal, r *models.ValidationResult) {
	if balances == nil || c.Direction != models.DirectionSell || !c.Volume.IsPositive() {
		return
	}
	base := assets.BaseAsset(c.Pair)
	if base == "" {
		return
	}
	available := balances[base]
	if available.GreaterThanOrEqual(c.Volume) {
		r.Add(c.ID, "volume", models.SeverityInfo,
			"balance check passed: %s %s available for a %s sell", available, base, c.Volume)
	} else {
		r.Add(c.ID, "volume", models.SeverityWarning,
			"insufficient balance for sell: need %s %s, have %s (top up before the threshold fires)",
			c.Volume, base, available)
	}
}
