package nats

import (
	"context"
	"sync"

	"github.com/brojonat/mintctl/service/engine"
)

// MockPublisher is a mock implementation of Publisher for testing.
type MockPublisher struct {
	mu           sync.RWMutex
	receipts     []*ReceiptEvent
	statuses     []engine.Event
	publishError error
	closed       bool
}

// NewMockPublisher creates a new mock publisher for testing.
func NewMockPublisher() *MockPublisher {
	return &MockPublisher{}
}

// PublishReceipt records the event and returns any configured error.
func (m *MockPublisher) PublishReceipt(ctx context.Context, event *ReceiptEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.publishError != nil {
		return m.publishError
	}
	m.receipts = append(m.receipts, event)
	return nil
}

// PublishStatus records the event and returns any configured error.
func (m *MockPublisher) PublishStatus(ctx context.Context, event engine.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.publishError != nil {
		return m.publishError
	}
	m.statuses = append(m.statuses, event)
	return nil
}

// Close marks the publisher as closed.
func (m *MockPublisher) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// GetPublishedReceipts returns a copy of all published receipt events.
func (m *MockPublisher) GetPublishedReceipts() []*ReceiptEvent {
	m.mu.RLock()
	defer m.mu.RUnlock()

	events := make([]*ReceiptEvent, len(m.receipts))
	copy(events, m.receipts)
	return events
}

// GetPublishedStatuses returns a copy of all published status events.
func (m *MockPublisher) GetPublishedStatuses() []engine.Event {
	m.mu.RLock()
	defer m.mu.RUnlock()

	events := make([]engine.Event, len(m.statuses))
	copy(events, m.statuses)
	return events
}

// SetPublishError configures the mock to fail every publish.
func (m *MockPublisher) SetPublishError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.publishError = err
}

// IsClosed returns whether the publisher has been closed.
func (m *MockPublisher) IsClosed() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.closed
}
