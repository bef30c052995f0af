// Package notify delivers trade and engine alerts to external channels.
package notify

import (
	"context"
	"fmt"
	"log/slog"

	"crypto-scalper/internal/model"
)

// Level is the severity of an alert.
type Level string

const (
	LevelInfo     Level = "INFO"
	LevelWarning  Level = "WARNING"
	LevelCritical Level = "CRITICAL"
)

// Alert is a notification to be sent.
type Alert struct {
	Level   Level  `json:"level"`
	Title   string `json:"title"`
	Message string `json:"message"`
}

// Notifier delivers alerts to one backend.
type Notifier interface {
	Send(ctx context.Context, alert Alert) error
}

// TradeAlert formats a ledger entry as an alert. Exits with realized
// losses escalate to WARNING.
func TradeAlert(t model.Trade) Alert {
	if t.Side == model.SideBuy {
		return Alert{
			Level:   LevelInfo,
			Title:   fmt.Sprintf("Opened %s", t.Symbol),
			Message: fmt.Sprintf("BUY %.4f @ %.4f (%s, confidence %d)", t.Qty, t.Price, t.SignalKind, t.Confidence),
		}
	}
	level := LevelInfo
	pnl := 0.0
	if t.Pnl != nil {
		pnl = *t.Pnl
	}
	if pnl < 0 {
		level = LevelWarning
	}
	return Alert{
		Level:   level,
		Title:   fmt.Sprintf("Closed %s (%s)", t.Symbol, t.Reason),
		Message: fmt.Sprintf("SELL %.4f @ %.4f, pnl %.2f", t.Qty, t.Price, pnl),
	}
}

// LogNotifier writes alerts to the structured log. Used in development
// and as the fallback when no webhook is configured.
type LogNotifier struct {
	log *slog.Logger
}

// NewLogNotifier creates a log-based notifier.
func NewLogNotifier(log *slog.Logger) *LogNotifier {
	if log == nil {
		log = slog.Default()
	}
	return &LogNotifier{log: log}
}

func (n *LogNotifier) Send(ctx context.Context, alert Alert) error {
	n.log.Info("alert", "level", alert.Level, "title", alert.Title, "message", alert.Message)
	return nil
}
