package pricesource

import (
	"context"
	"errors"
	"sync"
)

// ErrSourceUnavailable wraps any failure to reach the external price source.
// Callers keep their previous prices when they see it.
var ErrSourceUnavailable = errors.New("price source unavailable")

// Source provides authoritative baseline prices for a set of symbols,
// quoted in USD.
type Source interface {
	FetchBaselinePrices(ctx context.Context, symbols []string) (map[string]float64, error)
}

// StaticSource serves a fixed price table, used in tests and offline runs.
type StaticSource struct {
	mu     sync.Mutex
	prices map[string]float64
}

func NewStaticSource(prices map[string]float64) *StaticSource {
	cp := make(map[string]float64, len(prices))
	for k, v := range prices {
		cp[k] = v
	}
	return &StaticSource{prices: cp}
}

func (s *StaticSource) FetchBaselinePrices(ctx context.Context, symbols []string) (map[string]float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[string]float64, len(symbols))
	for _, symbol := range symbols {
		if p, ok := s.prices[symbol]; ok {
			out[symbol] = p
		}
	}
	return out, nil
}

// SetPrice updates one entry, handy for driving test scenarios.
func (s *StaticSource) SetPrice(symbol string, price float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prices[symbol] = price
}
