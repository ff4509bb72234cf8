package idempotency

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
)

// MemoryInbox is an Inbox held in process memory. It backs the memory store
// driver and tests.
type MemoryInbox struct {
	mu      sync.Mutex
	entries map[string]*inboxEntry
}

// NewMemoryInbox creates an empty inbox.
func NewMemoryInbox() *MemoryInbox {
	return &MemoryInbox{entries: make(map[string]*inboxEntry)}
}

// Process runs fn at most once per key. Concurrent callers with the same key
// get ErrMessageInProgress.
func (m *MemoryInbox) Process(ctx context.Context, key, _ string, payload json.RawMessage, fn ProcessFunc) (*ProcessResult, error) {
	m.mu.Lock()
	recovered := false
	if e, ok := m.entries[key]; ok {
		switch e.Status {
		case StatusFinished:
			m.mu.Unlock()
			return &ProcessResult{Duplicate: true, Result: e.Result}, nil
		case StatusFailed:
			m.mu.Unlock()
			return nil, fmt.Errorf("%w: %s", ErrPreviouslyFailed, key)
		case StatusStarted:
			m.mu.Unlock()
			return nil, ErrMessageInProgress
		case StatusRecoverable:
			recovered = true
		}
	}
	m.entries[key] = &inboxEntry{Status: StatusStarted}
	m.mu.Unlock()

	result, err := fn(ctx, payload)

	m.mu.Lock()
	defer m.mu.Unlock()
	if err != nil {
		status := StatusRecoverable
		if isTerminalError(err) {
			status = StatusFailed
		}
		m.entries[key] = &inboxEntry{Status: status, Result: failureResult(err)}
		return nil, err
	}
	m.entries[key] = &inboxEntry{Status: StatusFinished, Result: result}
	return &ProcessResult{WasRecovered: recovered, Result: result}, nil
}

// Status returns the recorded status of key.
func (m *MemoryInbox) Status(key string) (Status, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[key]
	if !ok {
		return "", false
	}
	return e.Status, true
}
