package engine

import (
	"context"
	"testing"
	"time"

	"tradesim/config"
	"tradesim/internal/ledger"
	"tradesim/pkg/notify"
	"tradesim/pkg/storage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeFeed struct {
	prices map[string]float64
}

func (f *fakeFeed) Price(symbol string) (float64, bool) {
	p, ok := f.prices[symbol]
	return p, ok
}

func (f *fakeFeed) Prices() map[string]float64 {
	out := make(map[string]float64, len(f.prices))
	for k, v := range f.prices {
		out[k] = v
	}
	return out
}

type fakeClock struct {
	t time.Time
}

func (c *fakeClock) Now() time.Time { return c.t }

func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func testEngine(t *testing.T, balance float64) (*Engine, *fakeFeed, *fakeClock) {
	t.Helper()

	feed := &fakeFeed{prices: map[string]float64{"BTC": 50000, "ETH": 3000}}
	clock := &fakeClock{t: time.Date(2026, 1, 10, 12, 0, 0, 0, time.UTC)}

	cfg := config.EngineConfig{
		DefaultBalance:   balance,
		MarkInterval:     time.Second,
		PersistInterval:  time.Second,
		ForfeitOnReset:   true,
		AllowedDurations: []int{60, 300, 900},
	}

	eng := New(cfg, feed, storage.NewMemoryStore(), zap.NewNop(), WithClock(clock))
	return eng, feed, clock
}

func TestOpenMarkClose(t *testing.T) {
	eng, feed, _ := testEngine(t, 1000)

	trade, err := eng.Open("BTC/USDT", ledger.SideBuy, 100, 60)
	require.NoError(t, err)
	assert.Equal(t, 900.0, eng.Balance(), "amount is escrowed on open")
	assert.Equal(t, 50000.0, trade.PriceAtExecution)
	assert.Equal(t, ledger.StatusOpen, trade.Status)
	require.Len(t, eng.OpenTrades(), 1)

	feed.prices["BTC"] = 55000
	eng.MarkOpenTrades()

	open := eng.OpenTrades()
	require.Len(t, open, 1)
	assert.InDelta(t, 10.0, open[0].Profit, 1e-9, "100 * (55000-50000)/50000")
	assert.Equal(t, 55000.0, open[0].CurrentPrice)

	closed, err := eng.Close(trade.ID, true)
	require.NoError(t, err)
	assert.InDelta(t, 10.0, closed.Profit, 1e-9)
	assert.Equal(t, ledger.StatusClosed, closed.Status)
	assert.InDelta(t, 1010.0, eng.Balance(), 1e-9, "escrow plus profit returned")
	assert.Empty(t, eng.OpenTrades())
	assert.Len(t, eng.ClosedTrades(), 1)
}

func TestOpenValidation(t *testing.T) {
	eng, _, _ := testEngine(t, 1000)

	_, err := eng.Open("BTC/USDT", ledger.SideBuy, 0, 60)
	assert.ErrorIs(t, err, ErrInvalidAmount)

	_, err = eng.Open("BTCUSDT", ledger.SideBuy, 100, 60)
	assert.ErrorIs(t, err, ErrInvalidPair)

	_, err = eng.Open("BTC/USDT", ledger.SideBuy, 100, 42)
	assert.ErrorIs(t, err, ErrInvalidDuration)

	_, err = eng.Open("DOGE/USDT", ledger.SideBuy, 100, 60)
	assert.ErrorIs(t, err, ErrPriceUnavailable)

	// No state change from any rejected open.
	assert.Equal(t, 1000.0, eng.Balance())
	assert.Empty(t, eng.OpenTrades())
}

func TestOpenInsufficientBalance(t *testing.T) {
	eng, _, _ := testEngine(t, 1000)

	_, err := eng.Open("BTC/USDT", ledger.SideBuy, 1500, 60)
	assert.ErrorIs(t, err, ErrInsufficientBalance)
	assert.Equal(t, 1000.0, eng.Balance())
	assert.Empty(t, eng.OpenTrades())
}

func TestCloseTwice(t *testing.T) {
	eng, _, _ := testEngine(t, 1000)

	trade, err := eng.Open("BTC/USDT", ledger.SideBuy, 100, 60)
	require.NoError(t, err)

	_, err = eng.Close(trade.ID, true)
	require.NoError(t, err)
	balance := eng.Balance()

	_, err = eng.Close(trade.ID, true)
	assert.ErrorIs(t, err, ErrTradeNotFound)
	assert.Equal(t, balance, eng.Balance(), "second close must not move the balance")
}

func TestSellProfitAndLossClamp(t *testing.T) {
	eng, feed, _ := testEngine(t, 1000)

	trade, err := eng.Open("BTC/USDT", ledger.SideSell, 100, 60)
	require.NoError(t, err)

	// Price falls: a sell gains.
	feed.prices["BTC"] = 45000
	eng.MarkOpenTrades()
	open := eng.OpenTrades()
	require.Len(t, open, 1)
	assert.InDelta(t, 10.0, open[0].Profit, 1e-9, "100 * (50000-45000)/50000")

	// Price triples: the raw loss exceeds the escrow and must be clamped.
	feed.prices["BTC"] = 150000
	closed, err := eng.Close(trade.ID, true)
	require.NoError(t, err)
	assert.Equal(t, -100.0, closed.Profit, "loss bounded at the escrowed amount")
	assert.Equal(t, 900.0, eng.Balance())
}

func TestAutoCloseAfterDuration(t *testing.T) {
	eng, feed, clock := testEngine(t, 1000)

	_, err := eng.Open("BTC/USDT", ledger.SideBuy, 100, 60)
	require.NoError(t, err)

	// Before the duration elapses nothing closes.
	clock.advance(30 * time.Second)
	eng.MarkOpenTrades()
	assert.Len(t, eng.OpenTrades(), 1)

	feed.prices["BTC"] = 52500
	clock.advance(31 * time.Second)
	eng.MarkOpenTrades()

	assert.Empty(t, eng.OpenTrades(), "trade should auto-close after its duration")
	closed := eng.ClosedTrades()
	require.Len(t, closed, 1)
	assert.InDelta(t, 5.0, closed[0].Profit, 1e-9, "profit computed at auto-close price")
	assert.InDelta(t, 1005.0, eng.Balance(), 1e-9)
}

func TestMarkKeepsLastPriceWhenUnavailable(t *testing.T) {
	eng, feed, _ := testEngine(t, 1000)

	trade, err := eng.Open("ETH/USDT", ledger.SideBuy, 50, 60)
	require.NoError(t, err)

	feed.prices["ETH"] = 3300
	eng.MarkOpenTrades()

	// Source outage: the symbol disappears from the feed.
	delete(feed.prices, "ETH")
	eng.MarkOpenTrades()

	open := eng.OpenTrades()
	require.Len(t, open, 1)
	assert.Equal(t, 3300.0, open[0].CurrentPrice, "last known price retained")
	assert.InDelta(t, 5.0, open[0].Profit, 1e-9)

	_, err = eng.Close(trade.ID, true)
	require.NoError(t, err)
}

func TestResetBalance(t *testing.T) {
	eng, _, _ := testEngine(t, 1000)

	_, err := eng.Open("BTC/USDT", ledger.SideBuy, 100, 60)
	require.NoError(t, err)

	eng.ResetBalance()
	assert.Equal(t, 1000.0, eng.Balance())
	assert.Empty(t, eng.OpenTrades(), "forfeit-on-reset drops open trades")
}

func TestResetBalanceKeepsTradesWithoutForfeit(t *testing.T) {
	feed := &fakeFeed{prices: map[string]float64{"BTC": 50000}}
	cfg := config.EngineConfig{
		DefaultBalance:   1000,
		MarkInterval:     time.Second,
		PersistInterval:  time.Second,
		ForfeitOnReset:   false,
		AllowedDurations: []int{60},
	}
	eng := New(cfg, feed, storage.NewMemoryStore(), zap.NewNop())

	_, err := eng.Open("BTC/USDT", ledger.SideBuy, 100, 60)
	require.NoError(t, err)

	eng.ResetBalance()
	assert.Equal(t, 1000.0, eng.Balance())
	assert.Len(t, eng.OpenTrades(), 1, "open trades survive reset without forfeit")
}

func TestPersistAndRestore(t *testing.T) {
	store := storage.NewMemoryStore()
	feed := &fakeFeed{prices: map[string]float64{"BTC": 50000}}
	cfg := config.EngineConfig{
		DefaultBalance:   1000,
		MarkInterval:     time.Second,
		PersistInterval:  time.Second,
		ForfeitOnReset:   true,
		AllowedDurations: []int{60},
	}

	eng := New(cfg, feed, store, zap.NewNop())
	trade, err := eng.Open("BTC/USDT", ledger.SideBuy, 100, 60)
	require.NoError(t, err)
	require.NoError(t, eng.Persist(context.Background()))

	// Simulate a restart: fresh engine over the same store.
	restarted := New(cfg, feed, store, zap.NewNop())
	require.NoError(t, restarted.RestoreState(context.Background()))

	assert.Equal(t, 900.0, restarted.Balance())
	open := restarted.OpenTrades()
	require.Len(t, open, 1)
	assert.Equal(t, trade.ID, open[0].ID)
	assert.Equal(t, 50000.0, open[0].PriceAtExecution)
}

func TestRestoreStateFirstRun(t *testing.T) {
	eng, _, _ := testEngine(t, 1000)
	require.NoError(t, eng.RestoreState(context.Background()))
	assert.Equal(t, 1000.0, eng.Balance(), "missing snapshot keeps the default balance")
}

// stallingNotifier simulates an unreachable sink: it blocks until the
// delivery deadline cancels it.
type stallingNotifier struct{}

func (stallingNotifier) Notify(ctx context.Context, kind notify.Kind, message string) {
	<-ctx.Done()
}

func TestNotifierNeverBlocksTrading(t *testing.T) {
	feed := &fakeFeed{prices: map[string]float64{"BTC": 50000}}
	cfg := config.EngineConfig{
		DefaultBalance:   1000,
		MarkInterval:     time.Second,
		PersistInterval:  time.Second,
		AllowedDurations: []int{60},
	}
	eng := New(cfg, feed, storage.NewMemoryStore(), zap.NewNop(),
		WithNotifier(stallingNotifier{}))

	start := time.Now()
	trade, err := eng.Open("BTC/USDT", ledger.SideBuy, 100, 60)
	require.NoError(t, err)
	_, err = eng.Close(trade.ID, true)
	require.NoError(t, err)

	assert.Less(t, time.Since(start), time.Second,
		"open/close must not wait on notification delivery")
}

func TestStopFlushesFinalSnapshot(t *testing.T) {
	store := storage.NewMemoryStore()
	feed := &fakeFeed{prices: map[string]float64{"BTC": 50000}}
	cfg := config.EngineConfig{
		DefaultBalance:   1000,
		MarkInterval:     time.Hour, // periodic flush never fires in this test
		PersistInterval:  time.Hour,
		AllowedDurations: []int{60},
	}

	eng := New(cfg, feed, store, zap.NewNop())
	go eng.Run(context.Background())

	trade, err := eng.Open("BTC/USDT", ledger.SideBuy, 100, 60)
	require.NoError(t, err)

	// Stop must not return before the final snapshot hits the store.
	eng.Stop()
	eng.Stop() // second call is a no-op, not a panic

	restarted := New(cfg, feed, store, zap.NewNop())
	require.NoError(t, restarted.RestoreState(context.Background()))
	assert.Equal(t, 900.0, restarted.Balance())
	open := restarted.OpenTrades()
	require.Len(t, open, 1)
	assert.Equal(t, trade.ID, open[0].ID)
}

// Balance plus escrowed amounts plus realized profit is conserved across any
// open/close sequence, up to the per-trade loss clamp.
func TestFundsConservation(t *testing.T) {
	eng, feed, _ := testEngine(t, 1000)

	t1, err := eng.Open("BTC/USDT", ledger.SideBuy, 200, 60)
	require.NoError(t, err)
	t2, err := eng.Open("ETH/USDT", ledger.SideSell, 300, 300)
	require.NoError(t, err)

	escrowed := 0.0
	for _, tr := range eng.OpenTrades() {
		escrowed += tr.Amount
	}
	assert.InDelta(t, 1000.0, eng.Balance()+escrowed, 1e-9)

	feed.prices["BTC"] = 51000
	feed.prices["ETH"] = 2900
	eng.MarkOpenTrades()

	c1, err := eng.Close(t1.ID, true)
	require.NoError(t, err)
	c2, err := eng.Close(t2.ID, true)
	require.NoError(t, err)

	assert.InDelta(t, 1000.0+c1.Profit+c2.Profit, eng.Balance(), 1e-9)
}
