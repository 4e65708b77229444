package trigger

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/raymondclowe/ttslo-sub000/internal/kraken"
	"github.com/raymondclowe/ttslo-sub000/internal/models"
	"github.com/raymondclowe/ttslo-sub000/internal/storage"
)

// scriptedGateway plays back a controllable market for engine tests.
type scriptedGateway struct {
	price      decimal.Decimal
	batchErr   error
	balances   map[string]decimal.Decimal
	orderMin   decimal.Decimal
	writeCreds bool

	pairInfoCalls int
	balanceCalls  int

	addOrderCalls []kraken.OrderRequest
	addOrderErrs  []error // consumed per call; nil entries mean success
	nextOrderID   int

	orderStatus string
	queryErr    error
}

func (g *scriptedGateway) GetCurrentPrice(ctx context.Context, pair string) (decimal.Decimal, error) {
	return g.price, nil
}

func (g *scriptedGateway) GetCurrentPricesBatch(ctx context.Context, pairs []string) (map[string]decimal.Decimal, error) {
	if g.batchErr != nil {
		return nil, g.batchErr
	}
	out := make(map[string]decimal.Decimal, len(pairs))
	for _, p := range pairs {
		out[p] = g.price
	}
	return out, nil
}

func (g *scriptedGateway) GetOHLC(ctx context.Context, pair string, intervalMinutes int) ([]kraken.Candle, error) {
	return nil, errors.New("not scripted")
}

func (g *scriptedGateway) ListKnownPairs(ctx context.Context) ([]string, error) {
	return []string{"XXBTZUSD", "XETHZUSD"}, nil
}

func (g *scriptedGateway) GetAssetPairInfo(ctx context.Context, pair string) (*kraken.PairInfo, error) {
	g.pairInfoCalls++
	return &kraken.PairInfo{Pair: pair, OrderMinimum: g.orderMin}, nil
}

func (g *scriptedGateway) GetBalance(ctx context.Context) (map[string]decimal.Decimal, error) {
	return g.balances, nil
}

func (g *scriptedGateway) GetNormalizedBalances(ctx context.Context) (map[string]decimal.Decimal, error) {
	g.balanceCalls++
	if g.balances == nil {
		return nil, errors.New("balances not scripted")
	}
	return g.balances, nil
}

func (g *scriptedGateway) OrderPriceRange(ctx context.Context, pair string) (decimal.Decimal, decimal.Decimal, int, error) {
	return decimal.Zero, decimal.Zero, 0, nil
}

func (g *scriptedGateway) AddTrailingStopOrder(ctx context.Context, req kraken.OrderRequest) (string, error) {
	call := len(g.addOrderCalls)
	g.addOrderCalls = append(g.addOrderCalls, req)
	if call < len(g.addOrderErrs) && g.addOrderErrs[call] != nil {
		return "", g.addOrderErrs[call]
	}
	g.nextOrderID++
	return decimal.NewFromInt(int64(g.nextOrderID)).String() + "-ORDER", nil
}

func (g *scriptedGateway) QueryOrderByID(ctx context.Context, orderID string) (*models.OrderInfo, error) {
	if g.queryErr != nil {
		return nil, g.queryErr
	}
	return &models.OrderInfo{
		OrderID:      orderID,
		Status:       g.orderStatus,
		FilledVolume: decimal.RequireFromString("0.5"),
		AvgFillPrice: decimal.RequireFromString("50500"),
	}, nil
}

func (g *scriptedGateway) HasWriteCredentials() bool { return g.writeCreds }

// recorder collects broadcast notifications.
type recorder struct {
	messages []string
}

func (r *recorder) Broadcast(text string) { r.messages = append(r.messages, text) }

func (r *recorder) count(substr string) int {
	n := 0
	for _, m := range r.messages {
		if strings.Contains(m, substr) {
			n++
		}
	}
	return n
}

func newTestStore(t *testing.T) *storage.Store {
	t.Helper()
	store, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func sellConfig(id string) models.Configuration {
	return models.Configuration{
		ID:                id,
		Pair:              "XXBTZUSD",
		ThresholdPrice:    decimal.RequireFromString("50000"),
		ThresholdType:     models.ThresholdAbove,
		Direction:         models.DirectionSell,
		Volume:            decimal.RequireFromString("0.5"),
		TrailingOffsetPct: decimal.RequireFromString("5"),
		Enabled:           models.Enabled,
	}
}

func newTestEngine(t *testing.T, store *storage.Store, g *scriptedGateway, rec *recorder, opts Options) *Engine {
	t.Helper()
	e, err := New(g, store, rec, opts)
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	return e
}

func richBalances() map[string]decimal.Decimal {
	return map[string]decimal.Decimal{
		"BTC": decimal.RequireFromString("2"),
		"USD": decimal.RequireFromString("100000"),
	}
}

func TestTriggerFiresOnceAcrossCycles(t *testing.T) {
	store := newTestStore(t)
	cfg := sellConfig("btc-stop")
	if err := store.SaveConfiguration(&cfg); err != nil {
		t.Fatal(err)
	}

	g := &scriptedGateway{writeCreds: true, balances: richBalances(), orderStatus: models.OrderStatusOpen}
	rec := &recorder{}
	e := newTestEngine(t, store, g, rec, Options{})
	ctx := context.Background()

	g.price = decimal.RequireFromString("49000")
	if err := e.RunCycle(ctx); err != nil {
		t.Fatal(err)
	}
	if len(g.addOrderCalls) != 0 {
		t.Fatalf("below threshold must not place an order, got %d calls", len(g.addOrderCalls))
	}
	st := e.StateFor("btc-stop")
	if st == nil || !st.InitialPrice.Equal(decimal.RequireFromString("49000")) {
		t.Errorf("initial price not captured on first sight: %+v", st)
	}

	g.price = decimal.RequireFromString("51000")
	if err := e.RunCycle(ctx); err != nil {
		t.Fatal(err)
	}
	if len(g.addOrderCalls) != 1 {
		t.Fatalf("crossing must place exactly one order, got %d", len(g.addOrderCalls))
	}
	st = e.StateFor("btc-stop")
	if !st.Triggered || st.OrderID == "" || !st.TriggerPrice.Equal(decimal.RequireFromString("51000")) {
		t.Errorf("triggered state incomplete: %+v", st)
	}
	if rec.count("Threshold reached") != 1 {
		t.Errorf("expected exactly one threshold notification, got %v", rec.messages)
	}
	if rec.count("Order placed") != 1 {
		t.Errorf("expected exactly one order notification, got %v", rec.messages)
	}

	g.price = decimal.RequireFromString("52000")
	if err := e.RunCycle(ctx); err != nil {
		t.Fatal(err)
	}
	if len(g.addOrderCalls) != 1 {
		t.Fatalf("already-triggered config re-placed an order: %d calls", len(g.addOrderCalls))
	}
	if rec.count("Threshold reached") != 1 || rec.count("Order placed") != 1 {
		t.Error("trigger notifications repeated")
	}
}

func TestTriggeredStateSurvivesRestart(t *testing.T) {
	store := newTestStore(t)
	cfg := sellConfig("persist")
	if err := store.SaveConfiguration(&cfg); err != nil {
		t.Fatal(err)
	}

	g := &scriptedGateway{writeCreds: true, balances: richBalances(), orderStatus: models.OrderStatusOpen}
	rec := &recorder{}
	e := newTestEngine(t, store, g, rec, Options{})
	ctx := context.Background()

	g.price = decimal.RequireFromString("51000")
	if err := e.RunCycle(ctx); err != nil {
		t.Fatal(err)
	}
	if len(g.addOrderCalls) != 1 {
		t.Fatalf("expected one order, got %d", len(g.addOrderCalls))
	}

	// A fresh engine over the same store simulates a process restart.
	e2 := newTestEngine(t, store, g, rec, Options{})
	if err := e2.RunCycle(ctx); err != nil {
		t.Fatal(err)
	}
	if len(g.addOrderCalls) != 1 {
		t.Fatalf("restart re-fired the trigger: %d calls", len(g.addOrderCalls))
	}
}

func TestCrossedFailsClosed(t *testing.T) {
	price := decimal.RequireFromString("51000")
	c := sellConfig("x")
	c.ThresholdType = "sideways"
	if crossed(&c, price) {
		t.Error("unknown threshold type must never fire")
	}
	c.ThresholdType = ""
	if crossed(&c, price) {
		t.Error("empty threshold type must never fire")
	}

	c = sellConfig("x")
	c.ThresholdPrice = decimal.Zero
	if crossed(&c, price) {
		t.Error("zero threshold must never fire")
	}
	c.ThresholdPrice = decimal.RequireFromString("-50000")
	if crossed(&c, price) {
		t.Error("negative threshold must never fire")
	}
	c = sellConfig("x")
	if crossed(&c, decimal.Zero) {
		t.Error("zero price must never fire")
	}
}

func TestBelowThreshold(t *testing.T) {
	c := sellConfig("x")
	c.ThresholdType = models.ThresholdBelow
	c.Direction = models.DirectionBuy
	if crossed(&c, decimal.RequireFromString("50001")) {
		t.Error("price above a below-threshold fired")
	}
	if !crossed(&c, decimal.RequireFromString("50000")) {
		t.Error("price at the threshold should fire")
	}
	if !crossed(&c, decimal.RequireFromString("49000")) {
		t.Error("price below a below-threshold should fire")
	}
}

func TestNoCredentialsNotifiesOnce(t *testing.T) {
	store := newTestStore(t)
	cfg := sellConfig("no-creds")
	if err := store.SaveConfiguration(&cfg); err != nil {
		t.Fatal(err)
	}

	g := &scriptedGateway{writeCreds: false}
	rec := &recorder{}
	e := newTestEngine(t, store, g, rec, Options{})
	ctx := context.Background()
	g.price = decimal.RequireFromString("51000")

	for i := 0; i < 3; i++ {
		if err := e.RunCycle(ctx); err != nil {
			t.Fatal(err)
		}
	}
	if len(g.addOrderCalls) != 0 {
		t.Fatalf("order placed without credentials: %d calls", len(g.addOrderCalls))
	}
	if rec.count("Order placement failed") != 1 {
		t.Errorf("failure notification should fire once, got %v", rec.messages)
	}
	if rec.count("Threshold reached") != 1 {
		t.Errorf("threshold notification should fire once despite gate failures, got %v", rec.messages)
	}
	st := e.StateFor("no-creds")
	if st.Triggered {
		t.Error("failed placement must not mark the config triggered")
	}
	if st.LastError == "" {
		t.Error("last error not recorded")
	}
}

func TestDryRunPlacesSentinelAndActivatesChain(t *testing.T) {
	store := newTestStore(t)
	parent := sellConfig("parent")
	parent.LinkedOrderID = "child"
	child := sellConfig("child")
	child.Pair = "XETHZUSD"
	child.Enabled = models.Pending
	for _, c := range []models.Configuration{parent, child} {
		c := c
		if err := store.SaveConfiguration(&c); err != nil {
			t.Fatal(err)
		}
	}

	g := &scriptedGateway{writeCreds: false}
	rec := &recorder{}
	e := newTestEngine(t, store, g, rec, Options{DryRun: true})
	ctx := context.Background()
	g.price = decimal.RequireFromString("51000")

	if err := e.RunCycle(ctx); err != nil {
		t.Fatal(err)
	}
	st := e.StateFor("parent")
	if !st.Triggered || !strings.HasPrefix(st.OrderID, dryRunOrderPrefix) {
		t.Fatalf("dry run should record a sentinel order, got %+v", st)
	}
	if len(g.addOrderCalls) != 0 {
		t.Fatal("dry run called the exchange")
	}

	// Second cycle observes the sentinel fill and activates the chain.
	if err := e.RunCycle(ctx); err != nil {
		t.Fatal(err)
	}
	if rec.count("Order filled") != 1 {
		t.Errorf("expected one fill notice, got %v", rec.messages)
	}
	if rec.count("Chain activated") != 1 {
		t.Errorf("expected one chain notice, got %v", rec.messages)
	}
	configs, _, err := store.LoadConfigurations()
	if err != nil {
		t.Fatal(err)
	}
	for i := range configs {
		if configs[i].ID == "child" && configs[i].Enabled != models.Enabled {
			t.Errorf("child not activated, enabled=%q", configs[i].Enabled)
		}
	}

	// Further cycles must not re-activate or re-notify.
	if err := e.RunCycle(ctx); err != nil {
		t.Fatal(err)
	}
	if rec.count("Chain activated") != 1 {
		t.Error("chain activation repeated")
	}
}

func TestChainActivatesDisabledChild(t *testing.T) {
	store := newTestStore(t)
	parent := sellConfig("parent")
	parent.LinkedOrderID = "child"
	child := sellConfig("child")
	child.Pair = "XETHZUSD"
	child.Enabled = models.Disabled
	for _, c := range []models.Configuration{parent, child} {
		c := c
		if err := store.SaveConfiguration(&c); err != nil {
			t.Fatal(err)
		}
	}

	g := &scriptedGateway{writeCreds: true, balances: richBalances(), orderStatus: models.OrderStatusClosed}
	rec := &recorder{}
	e := newTestEngine(t, store, g, rec, Options{})
	ctx := context.Background()

	g.price = decimal.RequireFromString("51000")
	if err := e.RunCycle(ctx); err != nil {
		t.Fatal(err)
	}
	if err := e.RunCycle(ctx); err != nil {
		t.Fatal(err)
	}
	if rec.count("Chain activated") != 1 {
		t.Fatalf("expected one chain notice, got %v", rec.messages)
	}
	configs, _, err := store.LoadConfigurations()
	if err != nil {
		t.Fatal(err)
	}
	for i := range configs {
		if configs[i].ID == "child" && configs[i].Enabled != models.Enabled {
			t.Errorf("disabled child not activated after parent fill, enabled=%q", configs[i].Enabled)
		}
	}
}

func TestChainSkipsAlreadyTriggeredChild(t *testing.T) {
	store := newTestStore(t)
	parent := sellConfig("parent")
	parent.LinkedOrderID = "child"
	child := sellConfig("child")
	child.Enabled = models.Disabled
	for _, c := range []models.Configuration{parent, child} {
		c := c
		if err := store.SaveConfiguration(&c); err != nil {
			t.Fatal(err)
		}
	}
	// The child fired in an earlier run and was disabled afterwards.
	if err := store.SaveOneState(&models.TriggerState{
		ConfigID:  "child",
		Triggered: true,
		OrderID:   "OLD-ORDER",
	}); err != nil {
		t.Fatal(err)
	}

	g := &scriptedGateway{writeCreds: true, balances: richBalances(), orderStatus: models.OrderStatusClosed}
	rec := &recorder{}
	e := newTestEngine(t, store, g, rec, Options{})
	ctx := context.Background()

	g.price = decimal.RequireFromString("51000")
	if err := e.RunCycle(ctx); err != nil {
		t.Fatal(err)
	}
	if err := e.RunCycle(ctx); err != nil {
		t.Fatal(err)
	}
	if rec.count("Chain activated") != 0 {
		t.Errorf("already-triggered child must not re-activate, got %v", rec.messages)
	}
	configs, _, err := store.LoadConfigurations()
	if err != nil {
		t.Fatal(err)
	}
	for i := range configs {
		if configs[i].ID == "child" && configs[i].Enabled != models.Disabled {
			t.Errorf("already-triggered child re-enabled, enabled=%q", configs[i].Enabled)
		}
	}
}

func TestFillNotificationOnce(t *testing.T) {
	store := newTestStore(t)
	cfg := sellConfig("fill")
	if err := store.SaveConfiguration(&cfg); err != nil {
		t.Fatal(err)
	}

	g := &scriptedGateway{writeCreds: true, balances: richBalances(), orderStatus: models.OrderStatusOpen}
	rec := &recorder{}
	e := newTestEngine(t, store, g, rec, Options{})
	ctx := context.Background()

	g.price = decimal.RequireFromString("51000")
	if err := e.RunCycle(ctx); err != nil {
		t.Fatal(err)
	}

	// Still open: no fill notice yet.
	if err := e.RunCycle(ctx); err != nil {
		t.Fatal(err)
	}
	if rec.count("Order filled") != 0 {
		t.Error("open order produced a fill notice")
	}

	g.orderStatus = models.OrderStatusClosed
	for i := 0; i < 3; i++ {
		if err := e.RunCycle(ctx); err != nil {
			t.Fatal(err)
		}
	}
	if rec.count("Order filled") != 1 {
		t.Errorf("expected exactly one fill notice, got %v", rec.messages)
	}
}

func TestCanceledOrderDoesNotActivateChain(t *testing.T) {
	store := newTestStore(t)
	parent := sellConfig("parent")
	parent.LinkedOrderID = "child"
	child := sellConfig("child")
	child.Enabled = models.Pending
	for _, c := range []models.Configuration{parent, child} {
		c := c
		if err := store.SaveConfiguration(&c); err != nil {
			t.Fatal(err)
		}
	}

	g := &scriptedGateway{writeCreds: true, balances: richBalances(), orderStatus: models.OrderStatusCanceled}
	rec := &recorder{}
	e := newTestEngine(t, store, g, rec, Options{})
	ctx := context.Background()

	g.price = decimal.RequireFromString("51000")
	if err := e.RunCycle(ctx); err != nil {
		t.Fatal(err)
	}
	if err := e.RunCycle(ctx); err != nil {
		t.Fatal(err)
	}
	if rec.count("without filling") != 1 {
		t.Errorf("expected one cancellation notice, got %v", rec.messages)
	}
	if rec.count("Chain activated") != 0 {
		t.Error("canceled order activated the chain")
	}
	configs, _, err := store.LoadConfigurations()
	if err != nil {
		t.Fatal(err)
	}
	for i := range configs {
		if configs[i].ID == "child" && configs[i].Enabled != models.Pending {
			t.Errorf("child should remain pending, enabled=%q", configs[i].Enabled)
		}
	}
}

func TestDryRunTouchesNoExchangeEndpoint(t *testing.T) {
	store := newTestStore(t)
	g := &scriptedGateway{writeCreds: false}
	e := newTestEngine(t, store, g, &recorder{}, Options{DryRun: true})

	cfg := sellConfig("paper")
	orderID, err := e.CreateOrder(context.Background(), &cfg, decimal.RequireFromString("51000"))
	if err != nil {
		t.Fatalf("dry run should succeed without credentials, got %v", err)
	}
	if !strings.HasPrefix(orderID, dryRunOrderPrefix) {
		t.Errorf("expected sentinel order id, got %q", orderID)
	}
	if g.pairInfoCalls != 0 || g.balanceCalls != 0 || len(g.addOrderCalls) != 0 {
		t.Errorf("dry run reached the exchange: pairInfo=%d balances=%d orders=%d",
			g.pairInfoCalls, g.balanceCalls, len(g.addOrderCalls))
	}
}

func TestGateRejectsInvalidInputs(t *testing.T) {
	store := newTestStore(t)
	g := &scriptedGateway{writeCreds: true, balances: richBalances()}
	e := newTestEngine(t, store, g, &recorder{}, Options{})
	ctx := context.Background()
	price := decimal.RequireFromString("51000")

	cfg := sellConfig("")
	if _, err := e.CreateOrder(ctx, &cfg, price); err == nil {
		t.Error("empty id accepted")
	}

	cfg = sellConfig("no-pair")
	cfg.Pair = ""
	if _, err := e.CreateOrder(ctx, &cfg, price); err == nil {
		t.Error("empty pair accepted")
	}

	cfg = sellConfig("zero-trigger")
	if _, err := e.CreateOrder(ctx, &cfg, decimal.Zero); err == nil {
		t.Error("zero trigger price accepted")
	}
	if _, err := e.CreateOrder(ctx, &cfg, decimal.RequireFromString("-1")); err == nil {
		t.Error("negative trigger price accepted")
	}

	cfg = sellConfig("zero-volume")
	cfg.Volume = decimal.Zero
	if _, err := e.CreateOrder(ctx, &cfg, price); err == nil {
		t.Error("zero volume accepted")
	}

	cfg = sellConfig("bad-direction")
	cfg.Direction = "hold"
	if _, err := e.CreateOrder(ctx, &cfg, price); err == nil {
		t.Error("unknown direction accepted")
	}

	if len(g.addOrderCalls) != 0 {
		t.Errorf("rejected inputs still reached the exchange: %d calls", len(g.addOrderCalls))
	}
}

func TestGateRejectsInsufficientSellBalance(t *testing.T) {
	store := newTestStore(t)
	g := &scriptedGateway{
		writeCreds: true,
		balances:   map[string]decimal.Decimal{"BTC": decimal.RequireFromString("0.1")},
	}
	e := newTestEngine(t, store, g, &recorder{}, Options{})

	cfg := sellConfig("poor") // volume 0.5 > 0.1 held
	_, err := e.CreateOrder(context.Background(), &cfg, decimal.RequireFromString("51000"))
	if err == nil || !strings.Contains(err.Error(), "insufficient") {
		t.Fatalf("expected insufficient-balance rejection, got %v", err)
	}
	if len(g.addOrderCalls) != 0 {
		t.Error("rejected order still reached the exchange")
	}
}

func TestGateChecksBuyQuoteCoverage(t *testing.T) {
	store := newTestStore(t)
	g := &scriptedGateway{
		writeCreds: true,
		balances:   map[string]decimal.Decimal{"USD": decimal.RequireFromString("400")},
	}
	e := newTestEngine(t, store, g, &recorder{}, Options{})

	cfg := sellConfig("buyer")
	cfg.Direction = models.DirectionBuy
	cfg.ThresholdType = models.ThresholdBelow
	cfg.Volume = decimal.RequireFromString("0.01") // needs ~500 USD at 50000

	_, err := e.CreateOrder(context.Background(), &cfg, decimal.RequireFromString("50000"))
	if err == nil || !strings.Contains(err.Error(), "insufficient USD") {
		t.Fatalf("expected quote-coverage rejection, got %v", err)
	}

	g.balances["USD"] = decimal.RequireFromString("600")
	orderID, err := e.CreateOrder(context.Background(), &cfg, decimal.RequireFromString("50000"))
	if err != nil || orderID == "" {
		t.Fatalf("covered buy should pass, got %v", err)
	}
}

func TestGateRejectsBelowOrderMinimum(t *testing.T) {
	store := newTestStore(t)
	g := &scriptedGateway{
		writeCreds: true,
		balances:   richBalances(),
		orderMin:   decimal.RequireFromString("1.0"),
	}
	e := newTestEngine(t, store, g, &recorder{}, Options{})

	cfg := sellConfig("tiny") // volume 0.5 < minimum 1.0
	_, err := e.CreateOrder(context.Background(), &cfg, decimal.RequireFromString("51000"))
	if err == nil || !strings.Contains(err.Error(), "minimum") {
		t.Fatalf("expected order-minimum rejection, got %v", err)
	}
}

func TestIndexUnavailableFallsBackToLastTrigger(t *testing.T) {
	store := newTestStore(t)
	g := &scriptedGateway{
		writeCreds: true,
		balances:   richBalances(),
		addOrderErrs: []error{
			&kraken.ExchangeError{Op: "AddOrder", Codes: []string{"EGeneral:Invalid arguments:Index unavailable"}},
			nil,
		},
	}
	e := newTestEngine(t, store, g, &recorder{}, Options{})

	cfg := sellConfig("idx")
	orderID, err := e.CreateOrder(context.Background(), &cfg, decimal.RequireFromString("51000"))
	if err != nil {
		t.Fatalf("fallback should succeed, got %v", err)
	}
	if orderID == "" {
		t.Fatal("no order id returned")
	}
	if len(g.addOrderCalls) != 2 {
		t.Fatalf("expected 2 placement attempts, got %d", len(g.addOrderCalls))
	}
	if g.addOrderCalls[0].Trigger != kraken.TriggerIndex {
		t.Errorf("first attempt should use index trigger, got %q", g.addOrderCalls[0].Trigger)
	}
	if g.addOrderCalls[1].Trigger != kraken.TriggerLast {
		t.Errorf("fallback should use last-trade trigger, got %q", g.addOrderCalls[1].Trigger)
	}
}

func TestBatchFailureFallsBackPerPair(t *testing.T) {
	store := newTestStore(t)
	cfg := sellConfig("fallback")
	if err := store.SaveConfiguration(&cfg); err != nil {
		t.Fatal(err)
	}

	g := &scriptedGateway{
		writeCreds: true,
		balances:   richBalances(),
		batchErr:   errors.New("batch endpoint down"),
	}
	rec := &recorder{}
	e := newTestEngine(t, store, g, rec, Options{})

	g.price = decimal.RequireFromString("51000")
	if err := e.RunCycle(context.Background()); err != nil {
		t.Fatal(err)
	}
	if len(g.addOrderCalls) != 1 {
		t.Fatalf("per-pair fallback should still fire the trigger, got %d calls", len(g.addOrderCalls))
	}
}
