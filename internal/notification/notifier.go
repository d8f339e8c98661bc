// Package notification delivers operator alerts for streaming events
// (session loss, broker errors, order postbacks) to external channels.
package notification

import (
	"context"
	"errors"
	"log"

	"kiteticker/pkg/kiteticker"
)

// AlertLevel represents the severity of an alert.
type AlertLevel string

const (
	AlertInfo     AlertLevel = "INFO"
	AlertWarning  AlertLevel = "WARNING"
	AlertCritical AlertLevel = "CRITICAL"
)

// Alert represents a notification to be sent.
type Alert struct {
	Level   AlertLevel `json:"level"`
	Title   string     `json:"title"`
	Message string     `json:"message"`

	// Order is the postback the alert is about, if any.
	Order *kiteticker.Order `json:"-"`
}

// Notifier is the interface for all notification backends.
type Notifier interface {
	// Send delivers an alert. Returns error if delivery fails.
	Send(ctx context.Context, alert Alert) error
}

// LogNotifier is a simple notifier that logs alerts (useful for development).
type LogNotifier struct{}

// NewLogNotifier creates a log-based notifier.
func NewLogNotifier() *LogNotifier {
	return &LogNotifier{}
}

func (n *LogNotifier) Send(ctx context.Context, alert Alert) error {
	log.Printf("[notify] [%s] %s: %s", alert.Level, alert.Title, alert.Message)
	return nil
}

// Multi sends every alert to all notifiers and joins their errors.
type Multi []Notifier

func (m Multi) Send(ctx context.Context, alert Alert) error {
	var errs []error
	for _, n := range m {
		if err := n.Send(ctx, alert); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// OrderAlert maps an order postback to an alert. Only terminal states
// that need attention produce one.
func OrderAlert(o *kiteticker.Order) (Alert, bool) {
	msg := o.TransactionType + " " + o.TradingSymbol + " (" + o.OrderID + ")"
	switch o.Status {
	case "REJECTED":
		if o.StatusMessage != "" {
			msg += ": " + o.StatusMessage
		}
		return Alert{Level: AlertWarning, Title: "Order rejected", Message: msg, Order: o}, true
	case "COMPLETE":
		return Alert{Level: AlertInfo, Title: "Order complete", Message: msg, Order: o}, true
	}
	return Alert{}, false
}
