package kraken

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/raymondclowe/ttslo-sub000/internal/models"
)

// TriggerRef selects the price reference a trailing-stop order trails.
type TriggerRef string

const (
	// TriggerIndex trails the exchange index price (the default).
	TriggerIndex TriggerRef = "index"
	// TriggerLast trails the last-trade price, used as the one-shot
	// fallback when the index is unavailable for a pair.
	TriggerLast TriggerRef = "last"
)

// OrderRequest describes a trailing-stop order submission.
type OrderRequest struct {
	Pair      string
	Direction models.Direction
	Volume    decimal.Decimal
	OffsetPct decimal.Decimal
	Trigger   TriggerRef
}

// Candle is one OHLC bar.
type Candle struct {
	Time   time.Time
	Open   decimal.Decimal
	High   decimal.Decimal
	Low    decimal.Decimal
	Close  decimal.Decimal
	Volume decimal.Decimal
}

// PairInfo carries the exchange metadata the safety gate needs.
type PairInfo struct {
	Pair         string
	OrderMinimum decimal.Decimal
	PairDecimals int
}

// Gateway is the market-data and order capability surface consumed by the
// validator and the trigger engine. The concrete implementation is Client;
// tests substitute fakes.
type Gateway interface {
	GetCurrentPrice(ctx context.Context, pair string) (decimal.Decimal, error)
	GetCurrentPricesBatch(ctx context.Context, pairs []string) (map[string]decimal.Decimal, error)
	GetOHLC(ctx context.Context, pair string, intervalMinutes int) ([]Candle, error)
	ListKnownPairs(ctx context.Context) ([]string, error)
	GetAssetPairInfo(ctx context.Context, pair string) (*PairInfo, error)

	GetBalance(ctx context.Context) (map[string]decimal.Decimal, error)
	GetNormalizedBalances(ctx context.Context) (map[string]decimal.Decimal, error)

	// OrderPriceRange returns the lowest and highest order price the user
	// has on record (open and recently closed) for the pair, with the
	// number of data points backing the range.
	OrderPriceRange(ctx context.Context, pair string) (low, high decimal.Decimal, count int, err error)

	AddTrailingStopOrder(ctx context.Context, req OrderRequest) (orderID string, err error)
	QueryOrderByID(ctx context.Context, orderID string) (*models.OrderInfo, error)

	HasWriteCredentials() bool
}
