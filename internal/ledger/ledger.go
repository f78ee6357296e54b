package ledger

import (
	"errors"
	"sort"
	"sync"
	"time"
)

// ErrInsufficientFunds is returned by ApplyDelta when the resulting balance
// would go negative and the ledger forbids it.
var ErrInsufficientFunds = errors.New("insufficient funds")

type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

type Status string

const (
	StatusOpen   Status = "open"
	StatusClosed Status = "closed"
)

// Trade is a virtual position opened against the simulated feed. Only the
// trading engine mutates trades; a trade moves from open to closed exactly
// once and is never reopened.
type Trade struct {
	ID               string    `json:"id"`
	Pair             string    `json:"pair"` // e.g. "BTC/USDT"
	Side             Side      `json:"type"`
	Amount           float64   `json:"amount"`
	PriceAtExecution float64   `json:"price_at_execution"`
	OpenedAt         time.Time `json:"opened_at"`
	DurationSeconds  int       `json:"duration_seconds"`
	CurrentPrice     float64   `json:"current_price"`
	Profit           float64   `json:"profit"`
	Status           Status    `json:"status"`
	ClosedAt         time.Time `json:"closed_at,omitzero"`
}

// Ledger is the exclusive-access store for the virtual balance and the open
// and closed trade sets. All mutations are serialized behind one mutex;
// readers get snapshot copies so display code never holds the lock.
type Ledger struct {
	mu            sync.Mutex
	balance       float64
	open          map[string]Trade
	closed        []Trade
	allowNegative bool
}

func New(balance float64, allowNegative bool) *Ledger {
	return &Ledger{
		balance:       balance,
		open:          make(map[string]Trade),
		allowNegative: allowNegative,
	}
}

func (l *Ledger) Balance() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.balance
}

func (l *Ledger) SetBalance(v float64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.balance = v
}

// ApplyDelta adds the (possibly negative) amount to the balance.
func (l *Ledger) ApplyDelta(amount float64) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	next := l.balance + amount
	if next < 0 && !l.allowNegative {
		return ErrInsufficientFunds
	}
	l.balance = next
	return nil
}

// Insert adds a trade to the open set.
func (l *Ledger) Insert(t Trade) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.open[t.ID] = t
}

// Get returns the open trade with the given id.
func (l *Ledger) Get(id string) (Trade, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	t, ok := l.open[id]
	return t, ok
}

// Remove takes a trade out of the open set and returns it. The second return
// value is false if the id is unknown or already closed.
func (l *Ledger) Remove(id string) (Trade, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	t, ok := l.open[id]
	if !ok {
		return Trade{}, false
	}
	delete(l.open, id)
	return t, true
}

// UpdateMark rewrites the mark-to-market fields of an open trade.
func (l *Ledger) UpdateMark(id string, currentPrice, profit float64) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	t, ok := l.open[id]
	if !ok {
		return false
	}
	t.CurrentPrice = currentPrice
	t.Profit = profit
	l.open[id] = t
	return true
}

// MoveToClosed appends a trade to the closed history.
func (l *Ledger) MoveToClosed(t Trade) {
	l.mu.Lock()
	defer l.mu.Unlock()
	t.Status = StatusClosed
	l.closed = append(l.closed, t)
}

// ClearOpen drops every open trade and returns how many were dropped.
func (l *Ledger) ClearOpen() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := len(l.open)
	l.open = make(map[string]Trade)
	return n
}

// OpenTrades returns a snapshot of the open set, oldest first.
func (l *Ledger) OpenTrades() []Trade {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]Trade, 0, len(l.open))
	for _, t := range l.open {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OpenedAt.Before(out[j].OpenedAt) })
	return out
}

// ClosedTrades returns a copy of the closed history in close order.
func (l *Ledger) ClosedTrades() []Trade {
	l.mu.Lock()
	defer l.mu.Unlock()

	cp := make([]Trade, len(l.closed))
	copy(cp, l.closed)
	return cp
}

// Restore replaces the full ledger state, used when reloading a persisted
// snapshot on startup.
func (l *Ledger) Restore(balance float64, open []Trade, closed []Trade) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.balance = balance
	l.open = make(map[string]Trade, len(open))
	for _, t := range open {
		l.open[t.ID] = t
	}
	l.closed = make([]Trade, len(closed))
	copy(l.closed, closed)
}
