package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"tradesim/config"
	"tradesim/internal/ledger"
	"tradesim/pkg/notify"
	"tradesim/pkg/storage"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// stateKey is the persistence key for the full engine snapshot.
const stateKey = "engine/state"

// PriceFeed provides the current simulated prices. The simulator implements
// it; tests substitute a fixed table.
type PriceFeed interface {
	Price(symbol string) (float64, bool)
	Prices() map[string]float64
}

// state is the persisted form of the engine: virtual balance plus the open
// and closed trade sets, serialized as one record.
type state struct {
	Balance float64        `json:"balance"`
	Open    []ledger.Trade `json:"open_trades"`
	Closed  []ledger.Trade `json:"closed_trades"`
}

// Engine manages the lifecycle of virtual trades against the live simulated
// feed: it opens positions, marks them to market on a schedule, auto-closes
// them when their duration elapses, and adjusts the virtual balance.
type Engine struct {
	cfg      config.EngineConfig
	feed     PriceFeed
	ledger   *ledger.Ledger
	store    storage.Store
	notifier notify.Notifier
	clock    Clock
	logger   *zap.Logger

	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// Option configures optional engine collaborators.
type Option func(*Engine)

// WithClock substitutes the wall clock, used by tests to drive auto-close.
func WithClock(c Clock) Option {
	return func(e *Engine) { e.clock = c }
}

// WithNotifier sets the notification sink.
func WithNotifier(n notify.Notifier) Option {
	return func(e *Engine) { e.notifier = n }
}

func New(cfg config.EngineConfig, feed PriceFeed, store storage.Store, logger *zap.Logger, opts ...Option) *Engine {
	e := &Engine{
		cfg: cfg,
		feed: feed,
		// Amounts are validated before any debit, so the ledger never needs
		// to go negative on its own.
		ledger:   ledger.New(cfg.DefaultBalance, false),
		store:    store,
		notifier: notify.Noop{},
		clock:    realClock{},
		logger:   logger,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// RestoreState loads the persisted snapshot, if any. A missing record is a
// first run and leaves the configured default balance in place.
func (e *Engine) RestoreState(ctx context.Context) error {
	raw, err := e.store.Load(ctx, stateKey)
	if errors.Is(err, storage.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("load engine state: %w", err)
	}

	var st state
	if err := json.Unmarshal(raw, &st); err != nil {
		return fmt.Errorf("decode engine state: %w", err)
	}

	e.ledger.Restore(st.Balance, st.Open, st.Closed)
	e.logger.Info("restored engine state",
		zap.Float64("balance", st.Balance),
		zap.Int("open_trades", len(st.Open)),
		zap.Int("closed_trades", len(st.Closed)))
	return nil
}

// Persist writes the current snapshot through the store.
func (e *Engine) Persist(ctx context.Context) error {
	st := state{
		Balance: e.ledger.Balance(),
		Open:    e.ledger.OpenTrades(),
		Closed:  e.ledger.ClosedTrades(),
	}

	raw, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("encode engine state: %w", err)
	}
	if err := e.store.Save(ctx, stateKey, raw); err != nil {
		return fmt.Errorf("save engine state: %w", err)
	}
	return nil
}

// Open opens a virtual trade against the current price. The amount is
// escrowed: debited from the balance immediately and returned, plus or minus
// profit, on close.
func (e *Engine) Open(pair string, side ledger.Side, amount float64, durationSec int) (ledger.Trade, error) {
	if amount <= 0 {
		return ledger.Trade{}, ErrInvalidAmount
	}
	base, err := baseSymbol(pair)
	if err != nil {
		return ledger.Trade{}, err
	}
	if !e.durationAllowed(durationSec) {
		return ledger.Trade{}, ErrInvalidDuration
	}

	price, ok := e.feed.Price(base)
	if !ok {
		return ledger.Trade{}, fmt.Errorf("%w: %s", ErrPriceUnavailable, base)
	}

	if amount > e.ledger.Balance() {
		return ledger.Trade{}, ErrInsufficientBalance
	}
	if err := e.ledger.ApplyDelta(-amount); err != nil {
		// Lost the race against another open; treat it the same way.
		return ledger.Trade{}, ErrInsufficientBalance
	}

	trade := ledger.Trade{
		ID:               uuid.NewString(),
		Pair:             pair,
		Side:             side,
		Amount:           amount,
		PriceAtExecution: price,
		OpenedAt:         e.clock.Now(),
		DurationSeconds:  durationSec,
		CurrentPrice:     price,
		Status:           ledger.StatusOpen,
	}
	e.ledger.Insert(trade)

	e.logger.Info("trade opened",
		zap.String("trade_id", trade.ID),
		zap.String("pair", pair),
		zap.String("side", string(side)),
		zap.Float64("amount", amount),
		zap.Float64("price", price))
	e.notify(notify.KindTradeOpened,
		fmt.Sprintf("%s %s %.2f @ %.2f", strings.ToUpper(string(side)), pair, amount, price))

	return trade, nil
}

// MarkOpenTrades recomputes every open trade's unrealized profit against one
// price snapshot, then auto-closes trades whose duration has elapsed. Errors
// on individual trades never stop the sweep.
func (e *Engine) MarkOpenTrades() {
	prices := e.feed.Prices()
	now := e.clock.Now()

	var expired []string
	for _, t := range e.ledger.OpenTrades() {
		base, err := baseSymbol(t.Pair)
		if err != nil {
			continue
		}

		price, ok := prices[base]
		if !ok {
			// Source outage for this asset: keep the last known price.
			price = t.CurrentPrice
		}

		e.ledger.UpdateMark(t.ID, price, profit(t.Side, t.Amount, t.PriceAtExecution, price))

		if now.Sub(t.OpenedAt) >= time.Duration(t.DurationSeconds)*time.Second {
			expired = append(expired, t.ID)
		}
	}

	for _, id := range expired {
		if _, err := e.Close(id, false); err != nil {
			e.logger.Warn("auto-close failed", zap.String("trade_id", id), zap.Error(err))
		}
	}
}

// Close settles a trade at the current price. Profit is clamped so a single
// trade can never lose more than its escrowed amount. A second close on the
// same id returns ErrTradeNotFound.
func (e *Engine) Close(id string, manual bool) (ledger.Trade, error) {
	t, ok := e.ledger.Remove(id)
	if !ok {
		return ledger.Trade{}, ErrTradeNotFound
	}

	price := t.CurrentPrice
	if base, err := baseSymbol(t.Pair); err == nil {
		if p, ok := e.feed.Price(base); ok {
			price = p
		}
	}

	p := profit(t.Side, t.Amount, t.PriceAtExecution, price)
	if p < -t.Amount {
		p = -t.Amount
	}

	t.CurrentPrice = price
	t.Profit = p
	t.ClosedAt = e.clock.Now()

	// Return the escrow plus realized P/L. The clamp above keeps the credit
	// non-negative, so this cannot fail.
	if err := e.ledger.ApplyDelta(t.Amount + p); err != nil {
		e.logger.Error("failed to credit closed trade", zap.String("trade_id", id), zap.Error(err))
	}
	e.ledger.MoveToClosed(t)
	t.Status = ledger.StatusClosed

	e.logger.Info("trade closed",
		zap.String("trade_id", t.ID),
		zap.String("pair", t.Pair),
		zap.Bool("manual", manual),
		zap.Float64("profit", p),
		zap.Float64("close_price", price))
	e.notify(notify.KindTradeClosed,
		fmt.Sprintf("%s closed with %+.2f", t.Pair, p))

	return t, nil
}

// ResetBalance reinstates the configured default balance. When the engine is
// configured with forfeit-on-reset, open trades are dropped and their escrow
// is forfeited; otherwise open trades survive and only the balance resets.
func (e *Engine) ResetBalance() {
	if e.cfg.ForfeitOnReset {
		if n := e.ledger.ClearOpen(); n > 0 {
			e.logger.Warn("reset forfeited open trades", zap.Int("count", n))
		}
	}
	e.ledger.SetBalance(e.cfg.DefaultBalance)

	e.logger.Info("balance reset", zap.Float64("balance", e.cfg.DefaultBalance))
	e.notify(notify.KindBalanceReset,
		fmt.Sprintf("balance reset to %.2f", e.cfg.DefaultBalance))
}

// Balance returns the current free virtual balance.
func (e *Engine) Balance() float64 {
	return e.ledger.Balance()
}

// OpenTrades returns a snapshot of open trades for display.
func (e *Engine) OpenTrades() []ledger.Trade {
	return e.ledger.OpenTrades()
}

// ClosedTrades returns the closed-trade history.
func (e *Engine) ClosedTrades() []ledger.Trade {
	return e.ledger.ClosedTrades()
}

// Run drives the mark-to-market sweep and the periodic persistence flush
// until ctx is cancelled or Stop is called. A final snapshot is written on
// the way out so open trades survive a restart.
func (e *Engine) Run(ctx context.Context) {
	defer close(e.doneCh)

	markTicker := time.NewTicker(e.cfg.MarkInterval)
	defer markTicker.Stop()

	persistTicker := time.NewTicker(e.cfg.PersistInterval)
	defer persistTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			e.shutdown()
			return
		case <-e.stopCh:
			e.shutdown()
			return
		case <-markTicker.C:
			e.MarkOpenTrades()
		case <-persistTicker.C:
			if err := e.Persist(ctx); err != nil {
				e.logger.Warn("periodic persist failed", zap.Error(err))
			}
		}
	}
}

// Stop asks Run to exit and blocks until the final snapshot has been
// flushed, so the process can safely exit afterwards. Safe to call more
// than once; must only be called after Run has been started.
func (e *Engine) Stop() {
	e.stopOnce.Do(func() { close(e.stopCh) })
	<-e.doneCh
}

func (e *Engine) shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := e.Persist(ctx); err != nil {
		e.logger.Error("final persist failed", zap.Error(err))
	}
}

// notify dispatches an event off the calling goroutine. Trade operations and
// the mark sweep never wait on delivery; a sink that stalls is cut off by the
// deadline.
func (e *Engine) notify(kind notify.Kind, message string) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		e.notifier.Notify(ctx, kind, message)
	}()
}

// profit computes P/L for a position of the given side: buys gain when the
// price rises, sells gain when it falls, both proportional to the escrowed
// amount.
func profit(side ledger.Side, amount, entry, current float64) float64 {
	if entry == 0 {
		return 0
	}
	if side == ledger.SideSell {
		return amount * (entry - current) / entry
	}
	return amount * (current - entry) / entry
}

// baseSymbol extracts the base asset from a "BASE/QUOTE" pair.
func baseSymbol(pair string) (string, error) {
	base, quote, ok := strings.Cut(pair, "/")
	if !ok || base == "" || quote == "" {
		return "", fmt.Errorf("%w: %q", ErrInvalidPair, pair)
	}
	return base, nil
}

func (e *Engine) durationAllowed(durationSec int) bool {
	if durationSec <= 0 {
		return false
	}
	if len(e.cfg.AllowedDurations) == 0 {
		return true
	}
	for _, d := range e.cfg.AllowedDurations {
		if d == durationSec {
			return true
		}
	}
	return false
}
