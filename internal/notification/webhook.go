package notification

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"

	"kiteticker/pkg/kiteticker"
)

// WebhookNotifier POSTs alerts as JSON to an HTTP endpoint.
type WebhookNotifier struct {
	url    string
	client *http.Client
}

// NewWebhookNotifier creates a webhook notifier for url.
func NewWebhookNotifier(url string) *WebhookNotifier {
	return &WebhookNotifier{
		url: url,
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

type webhookPayload struct {
	Service string        `json:"service"`
	Level   AlertLevel    `json:"level"`
	Title   string        `json:"title"`
	Message string        `json:"message"`
	Order   *webhookOrder `json:"order,omitempty"`
	TS      string        `json:"ts"`
}

// webhookOrder is the subset of a postback a receiver needs to route the
// alert without calling the broker.
type webhookOrder struct {
	OrderID         string              `json:"order_id"`
	Status          string              `json:"status"`
	Exchange        kiteticker.Exchange `json:"exchange"`
	TradingSymbol   string              `json:"tradingsymbol"`
	InstrumentToken uint32              `json:"instrument_token"`
	TransactionType string              `json:"transaction_type"`
	Quantity        uint64              `json:"quantity"`
	FilledQuantity  uint64              `json:"filled_quantity"`
	AveragePrice    float64             `json:"average_price"`
}

func newWebhookOrder(o *kiteticker.Order) *webhookOrder {
	if o == nil {
		return nil
	}
	return &webhookOrder{
		OrderID:         o.OrderID,
		Status:          o.Status,
		Exchange:        o.Exchange,
		TradingSymbol:   o.TradingSymbol,
		InstrumentToken: o.InstrumentToken,
		TransactionType: o.TransactionType,
		Quantity:        o.Quantity,
		FilledQuantity:  o.FilledQuantity,
		AveragePrice:    o.AveragePrice,
	}
}

func (w *WebhookNotifier) Send(ctx context.Context, alert Alert) error {
	body, err := json.Marshal(webhookPayload{
		Service: "tickerd",
		Level:   alert.Level,
		Title:   alert.Title,
		Message: alert.Message,
		Order:   newWebhookOrder(alert.Order),
		TS:      time.Now().UTC().Format(time.RFC3339Nano),
	})
	if err != nil {
		return fmt.Errorf("webhook: marshal: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("webhook: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook: send: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook: %q rejected with status %d", alert.Title, resp.StatusCode)
	}

	log.Printf("[webhook] delivered %s alert %q", alert.Level, alert.Title)
	return nil
}
