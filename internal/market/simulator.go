package market

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"tradesim/config"
	"tradesim/pkg/pricesource"

	"go.uber.org/zap"
)

// asset holds the simulated state for one symbol.
type asset struct {
	price   float64
	history []PricePoint
	primed  bool
}

// Simulator produces a noisy, auto-correlated price series per symbol.
// Between baseline refreshes each price evolves by a multiplicative noise
// step; the pegged symbol is held at exactly 1.0. All reads return copies.
type Simulator struct {
	mu     sync.RWMutex
	assets map[string]*asset

	symbols  []string
	pegged   string
	vol      float64
	histCap  int
	tickIvl  time.Duration
	fetchIvl time.Duration

	source  pricesource.Source
	timeout time.Duration

	// Last successful baseline fetch, applied on the next tick boundary so
	// the fetch never runs inside the tick critical section.
	pendingMu sync.Mutex
	pending   map[string]float64

	rng    *rand.Rand
	now    func() time.Time
	logger *zap.Logger
}

// Option configures optional simulator parameters.
type Option func(*Simulator)

// WithFetchTimeout bounds each baseline fetch, following the configured
// price-source timeout. Defaults to 10s.
func WithFetchTimeout(d time.Duration) Option {
	return func(s *Simulator) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// NewSimulator creates a simulator for the configured symbols. Symbols with a
// configured base price are primed immediately; the rest stay unprimed until
// the first successful baseline fetch.
func NewSimulator(cfg config.SimulatorConfig, source pricesource.Source, logger *zap.Logger, opts ...Option) *Simulator {
	histCap := cfg.HistorySize
	if histCap <= 0 {
		histCap = 100
	}

	assets := make(map[string]*asset, len(cfg.Symbols))
	for _, symbol := range cfg.Symbols {
		a := &asset{}
		if base, ok := cfg.BasePrices[symbol]; ok && base > 0 {
			a.price = base
			a.primed = true
		}
		if symbol == cfg.PeggedSymbol {
			a.price = 1.0
			a.primed = true
		}
		assets[symbol] = a
	}

	s := &Simulator{
		assets:   assets,
		symbols:  append([]string(nil), cfg.Symbols...),
		pegged:   cfg.PeggedSymbol,
		vol:      cfg.Volatility,
		histCap:  histCap,
		tickIvl:  cfg.TickInterval,
		fetchIvl: cfg.RefreshInterval,
		source:   source,
		timeout:  10 * time.Second,
		pending:  nil,
		rng:      rand.New(rand.NewSource(time.Now().UnixNano())),
		now:      time.Now,
		logger:   logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Tick advances every asset by one noise step and returns the emitted points.
// A pending baseline from RefreshBaseline is applied first, so all trades and
// candles derived from this tick see a consistent snapshot.
func (s *Simulator) Tick() map[string]PricePoint {
	baseline := s.takePending()

	s.mu.Lock()
	defer s.mu.Unlock()

	nowMs := s.now().UnixMilli()
	points := make(map[string]PricePoint, len(s.assets))

	for symbol, a := range s.assets {
		if base, ok := baseline[symbol]; ok && base > 0 {
			a.price = base
			a.primed = true
		}
		if !a.primed {
			continue
		}

		if symbol == s.pegged {
			a.price = 1.0
		} else {
			next := a.price + (s.rng.Float64()-0.5)*2*s.vol*a.price
			// Ensure price doesn't go negative
			if next <= 0 {
				next = a.price * 0.99
			}
			a.price = next
		}

		point := PricePoint{Timestamp: nowMs, Value: a.price}
		a.history = append(a.history, point)
		if len(a.history) > s.histCap {
			a.history = a.history[len(a.history)-s.histCap:]
		}
		points[symbol] = point
	}

	return points
}

// RefreshBaseline fetches authoritative prices from the external source and
// stages them for the next tick. On failure the previous in-memory prices are
// retained; the error is logged and returned for callers that care.
func (s *Simulator) RefreshBaseline(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	prices, err := s.source.FetchBaselinePrices(ctx, s.symbols)
	if err != nil {
		s.logger.Warn("baseline refresh failed, keeping stale prices", zap.Error(err))
		return err
	}

	s.pendingMu.Lock()
	s.pending = prices
	s.pendingMu.Unlock()
	return nil
}

func (s *Simulator) takePending() map[string]float64 {
	s.pendingMu.Lock()
	defer s.pendingMu.Unlock()
	p := s.pending
	s.pending = nil
	return p
}

// Price returns the current price for a symbol. The second return value is
// false if the symbol is unknown or has never been primed.
func (s *Simulator) Price(symbol string) (float64, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, ok := s.assets[symbol]
	if !ok || !a.primed {
		return 0, false
	}
	return a.price, true
}

// Prices returns a consistent snapshot of all primed prices.
func (s *Simulator) Prices() map[string]float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]float64, len(s.assets))
	for symbol, a := range s.assets {
		if a.primed {
			out[symbol] = a.price
		}
	}
	return out
}

// Snapshot returns display quotes for all primed symbols. Change is the
// percent delta against the oldest retained history entry.
func (s *Simulator) Snapshot() map[string]Quote {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]Quote, len(s.assets))
	for symbol, a := range s.assets {
		if !a.primed {
			continue
		}
		q := Quote{Symbol: symbol, Price: a.price}
		if len(a.history) > 0 && a.history[0].Value != 0 {
			q.Change = (a.price - a.history[0].Value) / a.history[0].Value * 100
		}
		out[symbol] = q
	}
	return out
}

// History returns a copy of the retained price history for a symbol.
func (s *Simulator) History(symbol string) []PricePoint {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, ok := s.assets[symbol]
	if !ok {
		return nil
	}
	cp := make([]PricePoint, len(a.history))
	copy(cp, a.history)
	return cp
}

// Run drives the tick and baseline-refresh schedules until ctx is cancelled.
// The refresh runs on its own goroutine so a slow source never stalls ticks.
func (s *Simulator) Run(ctx context.Context) {
	go func() {
		// Prime from the source right away instead of waiting one interval.
		s.RefreshBaseline(ctx)

		ticker := time.NewTicker(s.fetchIvl)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.RefreshBaseline(ctx)
			}
		}
	}()

	ticker := time.NewTicker(s.tickIvl)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Tick()
		}
	}
}
