package testutil

import (
	"context"
	"fmt"
	"sync"

	"github.com/ncolesummers/multi-research/pkg/domain"
)

// MockGateway is a mock implementation of domain.ProviderGateway for testing
type MockGateway struct {
	Provider     domain.ProviderID
	Content      string
	Thinking     string
	ShouldError  bool
	ErrorMessage string
	// GenerateFunc allows custom generate behavior for tests
	GenerateFunc func(ctx context.Context, req domain.GenerateRequest) (*domain.GenerateResult, error)

	mu       sync.Mutex
	calls    int
	requests []domain.GenerateRequest
}

// NewMockGateway creates a mock gateway returning content
func NewMockGateway(provider domain.ProviderID, content string) *MockGateway {
	return &MockGateway{Provider: provider, Content: content}
}

// NewFailingGateway creates a mock gateway that always fails with message
func NewFailingGateway(provider domain.ProviderID, message string) *MockGateway {
	return &MockGateway{Provider: provider, ShouldError: true, ErrorMessage: message}
}

// ID implements domain.ProviderGateway
func (m *MockGateway) ID() domain.ProviderID {
	return m.Provider
}

// Generate implements domain.ProviderGateway
func (m *MockGateway) Generate(ctx context.Context, req domain.GenerateRequest) (*domain.GenerateResult, error) {
	m.mu.Lock()
	m.calls++
	m.requests = append(m.requests, req)
	m.mu.Unlock()

	if m.GenerateFunc != nil {
		return m.GenerateFunc(ctx, req)
	}
	if m.ShouldError {
		return nil, fmt.Errorf("%s", m.ErrorMessage)
	}
	return &domain.GenerateResult{Content: m.Content, Thinking: m.Thinking}, nil
}

// CallCount returns how many times Generate was called
func (m *MockGateway) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// Requests returns a copy of every request received
func (m *MockGateway) Requests() []domain.GenerateRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.GenerateRequest(nil), m.requests...)
}

// RecordingNotifier captures progress events for assertions
type RecordingNotifier struct {
	mu     sync.Mutex
	events []domain.ProgressEvent
}

// NewRecordingNotifier creates an empty recording notifier
func NewRecordingNotifier() *RecordingNotifier {
	return &RecordingNotifier{}
}

// Notify implements domain.ProgressNotifier
func (r *RecordingNotifier) Notify(_ context.Context, event domain.ProgressEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
}

// Events returns every recorded event in arrival order
func (r *RecordingNotifier) Events() []domain.ProgressEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.ProgressEvent(nil), r.events...)
}

// EventsFor returns the events recorded for one provider
func (r *RecordingNotifier) EventsFor(provider domain.ProviderID) []domain.ProgressEvent {
	var out []domain.ProgressEvent
	for _, e := range r.Events() {
		if e.Provider == provider {
			out = append(out, e)
		}
	}
	return out
}

// TerminalEventsFor returns the completed/failed events for one provider
func (r *RecordingNotifier) TerminalEventsFor(provider domain.ProviderID) []domain.ProgressEvent {
	var out []domain.ProgressEvent
	for _, e := range r.EventsFor(provider) {
		if e.IsTerminal() {
			out = append(out, e)
		}
	}
	return out
}
