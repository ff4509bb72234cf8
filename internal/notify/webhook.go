package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.uber.org/zap"

	"github.com/campusclinic/medstock/internal/domain/inventory"
	"github.com/campusclinic/medstock/pkg/circuitbreaker"
)

// Webhook posts alerts as JSON to a fixed URL through a per-host breaker.
type Webhook struct {
	url      string
	host     string
	client   *http.Client
	breakers *circuitbreaker.Manager
	logger   *zap.Logger
}

// NewWebhook validates rawURL and returns a forwarder for it.
func NewWebhook(rawURL string, breakers *circuitbreaker.Manager, client *http.Client, logger *zap.Logger) (*Webhook, error) {
	u, err := url.Parse(rawURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("invalid webhook url %q", rawURL)
	}
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Second}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Webhook{
		url:      u.String(),
		host:     u.Host,
		client:   client,
		breakers: breakers,
		logger:   logger,
	}, nil
}

type webhookPayload struct {
	Event        string          `json:"event"`
	EventID      string          `json:"event_id"`
	MedicineID   string          `json:"medicine_id"`
	BrandName    string          `json:"brand_name"`
	Level        inventory.Level `json:"level"`
	Stock        int             `json:"stock"`
	ReorderLevel int             `json:"reorder_level"`
	RaisedAt     time.Time       `json:"raised_at"`
	Text         string          `json:"text"`
}

func payloadFor(a *inventory.Alert) webhookPayload {
	text := fmt.Sprintf("%s is low: %d left (reorder at %d)", a.BrandName, a.Stock, a.ReorderLevel)
	if a.Level == inventory.LevelDepleted {
		text = fmt.Sprintf("%s is out of stock", a.BrandName)
	}
	return webhookPayload{
		Event:        "stock." + string(a.Level),
		EventID:      a.EventID,
		MedicineID:   a.MedicineID.String(),
		BrandName:    a.BrandName,
		Level:        a.Level,
		Stock:        a.Stock,
		ReorderLevel: a.ReorderLevel,
		RaisedAt:     a.RaisedAt,
		Text:         text,
	}
}

// Forward posts the alert. Non-2xx responses are failures.
func (w *Webhook) Forward(ctx context.Context, a *inventory.Alert) error {
	body, err := json.Marshal(payloadFor(a))
	if err != nil {
		return fmt.Errorf("marshal webhook payload: %w", err)
	}

	cb, err := w.breakers.GetOrCreate(w.host)
	if err != nil {
		return err
	}
	return cb.Execute(ctx, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Idempotency-Key", a.EventID)
		otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))

		resp, err := w.client.Do(req)
		if err != nil {
			return fmt.Errorf("post webhook: %w", err)
		}
		defer resp.Body.Close()
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			return fmt.Errorf("webhook responded %d", resp.StatusCode)
		}
		return nil
	})
}
