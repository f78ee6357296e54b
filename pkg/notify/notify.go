package notify

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Kind classifies user-facing events emitted by the trading engine.
type Kind string

const (
	KindTradeOpened  Kind = "trade_opened"
	KindTradeClosed  Kind = "trade_closed"
	KindBalanceReset Kind = "balance_reset"
	KindError        Kind = "error"
)

// Event is the payload delivered to a notification sink.
type Event struct {
	Kind    Kind      `json:"kind"`
	Message string    `json:"message"`
	At      time.Time `json:"at"`
}

// Notifier delivers fire-and-forget user-facing events. Implementations
// swallow delivery failures; the engine never blocks or fails on a
// notification.
type Notifier interface {
	Notify(ctx context.Context, kind Kind, message string)
}

// LogNotifier writes events to the application log.
type LogNotifier struct {
	logger *zap.Logger
}

func NewLogNotifier(logger *zap.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) Notify(ctx context.Context, kind Kind, message string) {
	n.logger.Info("notification", zap.String("kind", string(kind)), zap.String("message", message))
}

// Noop discards all events.
type Noop struct{}

func (Noop) Notify(ctx context.Context, kind Kind, message string) {}
