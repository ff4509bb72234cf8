package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/campusclinic/medstock/internal/domain/inventory"
)

// AlertStore keeps stock alerts in memory.
type AlertStore struct {
	mu     sync.RWMutex
	alerts map[string]inventory.Alert
}

// NewAlertStore creates an empty alert store.
func NewAlertStore() *AlertStore {
	return &AlertStore{alerts: make(map[string]inventory.Alert)}
}

// Save stores a, ignoring an event id it has already seen.
func (s *AlertStore) Save(_ context.Context, a *inventory.Alert) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.alerts[a.EventID]; !ok {
		s.alerts[a.EventID] = *a
	}
	return nil
}

func (s *AlertStore) MarkForwarded(_ context.Context, eventID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if a, ok := s.alerts[eventID]; ok {
		a.Forwarded = true
		s.alerts[eventID] = a
	}
	return nil
}

// Recent returns the newest alerts first.
func (s *AlertStore) Recent(_ context.Context, limit int) ([]inventory.Alert, error) {
	s.mu.RLock()
	out := make([]inventory.Alert, 0, len(s.alerts))
	for _, a := range s.alerts {
		out = append(out, a)
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].RaisedAt.After(out[j].RaisedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
