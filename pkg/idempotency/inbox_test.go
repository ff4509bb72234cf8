package idempotency

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/campusclinic/medstock/internal/domain/apperr"
)

func TestGenerateKeyIsPerMedicineKindAndDay(t *testing.T) {
	med := uuid.New().String()
	morning := time.Date(2026, 3, 4, 8, 0, 0, 0, time.UTC)
	evening := time.Date(2026, 3, 4, 21, 30, 0, 0, time.UTC)
	nextDay := morning.Add(24 * time.Hour)

	if GenerateKey(med, "stock.low", morning) != GenerateKey(med, "stock.low", evening) {
		t.Error("same day should share a key")
	}
	if GenerateKey(med, "stock.low", morning) == GenerateKey(med, "stock.low", nextDay) {
		t.Error("next day should get a new key")
	}
	if GenerateKey(med, "stock.low", morning) == GenerateKey(med, "stock.depleted", morning) {
		t.Error("kinds should not share a key")
	}
	if GenerateKey(med, "stock.low", morning) == GenerateKey(uuid.New().String(), "stock.low", morning) {
		t.Error("medicines should not share a key")
	}

	ist := time.FixedZone("IST", 5*3600+1800)
	if GenerateKey(med, "stock.low", time.Date(2026, 3, 5, 2, 0, 0, 0, ist)) != GenerateKey(med, "stock.low", evening) {
		t.Error("days are bucketed in UTC")
	}
}

func TestIsTerminalError(t *testing.T) {
	var syntax error = &json.SyntaxError{}
	tests := []struct {
		err  error
		want bool
	}{
		{ErrPermanent, true},
		{fmt.Errorf("decode: %w", ErrPermanent), true},
		{apperr.Invalid("level", "unknown"), true},
		{apperr.NotFound("medicine", uuid.New()), true},
		{fmt.Errorf("decode alert: %w", syntax), true},
		{errors.New("connection refused"), false},
		{context.DeadlineExceeded, false},
	}
	for _, tt := range tests {
		if got := isTerminalError(tt.err); got != tt.want {
			t.Errorf("isTerminalError(%v) = %v, want %v", tt.err, got, tt.want)
		}
	}
}

func TestMemoryInboxRunsOnce(t *testing.T) {
	inbox := NewMemoryInbox()
	calls := 0
	fn := func(context.Context, json.RawMessage) (json.RawMessage, error) {
		calls++
		return json.RawMessage(`{"ok":true}`), nil
	}

	first, err := inbox.Process(context.Background(), "k", "alerts", nil, fn)
	if err != nil || first.Duplicate {
		t.Fatalf("first: %+v %v", first, err)
	}
	second, err := inbox.Process(context.Background(), "k", "alerts", nil, fn)
	if err != nil || !second.Duplicate || string(second.Result) != `{"ok":true}` {
		t.Fatalf("second: %+v %v", second, err)
	}
	if calls != 1 {
		t.Errorf("expected one call, got %d", calls)
	}
}

func TestMemoryInboxRetriesRecoverableOnly(t *testing.T) {
	inbox := NewMemoryInbox()
	ctx := context.Background()

	_, err := inbox.Process(ctx, "transient", "alerts", nil, func(context.Context, json.RawMessage) (json.RawMessage, error) {
		return nil, errors.New("db down")
	})
	if err == nil {
		t.Fatal("expected handler error")
	}
	if s, _ := inbox.Status("transient"); s != StatusRecoverable {
		t.Fatalf("expected RECOVERABLE, got %s", s)
	}
	res, err := inbox.Process(ctx, "transient", "alerts", nil, func(context.Context, json.RawMessage) (json.RawMessage, error) {
		return nil, nil
	})
	if err != nil || !res.WasRecovered {
		t.Errorf("expected recovered success, got %+v %v", res, err)
	}

	_, _ = inbox.Process(ctx, "bad", "alerts", nil, func(context.Context, json.RawMessage) (json.RawMessage, error) {
		return nil, fmt.Errorf("decode: %w", ErrPermanent)
	})
	if _, err := inbox.Process(ctx, "bad", "alerts", nil, nil); !errors.Is(err, ErrPreviouslyFailed) {
		t.Errorf("expected ErrPreviouslyFailed, got %v", err)
	}
}
