package temporal

import (
	"context"
	"sync"
)

// MockVerifier is a mock implementation of Verifier for testing.
type MockVerifier struct {
	mu       sync.Mutex
	started  map[string]VerifyReceiptInput // keyed by workflow id
	order    []string
	startErr error
}

// NewMockVerifier creates a new MockVerifier.
func NewMockVerifier() *MockVerifier {
	return &MockVerifier{
		started: make(map[string]VerifyReceiptInput),
	}
}

// StartReceiptVerification records the request. Starting the same receipt
// twice keeps one entry, like the real workflow id does.
func (m *MockVerifier) StartReceiptVerification(ctx context.Context, input VerifyReceiptInput) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.startErr != nil {
		return "", m.startErr
	}

	id := WorkflowID(input.Network, input.Signature)
	if _, exists := m.started[id]; !exists {
		m.order = append(m.order, id)
	}
	m.started[id] = input
	return "run-" + id, nil
}

// SetStartError makes StartReceiptVerification return an error.
func (m *MockVerifier) SetStartError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.startErr = err
}

// Started returns the inputs in the order they were first started.
func (m *MockVerifier) Started() []VerifyReceiptInput {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]VerifyReceiptInput, len(m.order))
	for i, id := range m.order {
		out[i] = m.started[id]
	}
	return out
}

// Count returns the number of distinct receipts started.
func (m *MockVerifier) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.order)
}
