package api_test

import (
	"context"

	"github.com/ncolesummers/multi-research/pkg/domain"
	"github.com/ncolesummers/multi-research/pkg/llm"
	"github.com/ncolesummers/multi-research/pkg/workflow"
)

type mockResearchService struct {
	startFn        func(ctx context.Context, topic string, providers []domain.ProviderID, settings map[domain.ProviderID]domain.ProviderSettings) (*domain.ResearchSession, error)
	statusFn       func(ctx context.Context, sessionID string) (*workflow.SessionStatus, error)
	listFn         func(ctx context.Context, filter domain.SessionFilter) ([]*domain.ResearchSession, error)
	reportsFn      func(ctx context.Context, sessionID string) ([]*domain.ProviderTask, error)
	mergeFn        func(ctx context.Context, sessionID string, mergeProvider domain.ProviderID) (*domain.MasterReport, error)
	masterReportFn func(ctx context.Context, sessionID string) (*domain.MasterReport, error)
	cancelFn       func(ctx context.Context, sessionID string) error
}

func (m *mockResearchService) StartResearch(ctx context.Context, topic string, providers []domain.ProviderID, settings map[domain.ProviderID]domain.ProviderSettings) (*domain.ResearchSession, error) {
	if m.startFn != nil {
		return m.startFn(ctx, topic, providers, settings)
	}
	return nil, nil
}

func (m *mockResearchService) Status(ctx context.Context, sessionID string) (*workflow.SessionStatus, error) {
	if m.statusFn != nil {
		return m.statusFn(ctx, sessionID)
	}
	return nil, domain.ErrSessionNotFound
}

func (m *mockResearchService) ListSessions(ctx context.Context, filter domain.SessionFilter) ([]*domain.ResearchSession, error) {
	if m.listFn != nil {
		return m.listFn(ctx, filter)
	}
	return nil, nil
}

func (m *mockResearchService) Reports(ctx context.Context, sessionID string) ([]*domain.ProviderTask, error) {
	if m.reportsFn != nil {
		return m.reportsFn(ctx, sessionID)
	}
	return nil, domain.ErrSessionNotFound
}

func (m *mockResearchService) Merge(ctx context.Context, sessionID string, mergeProvider domain.ProviderID) (*domain.MasterReport, error) {
	if m.mergeFn != nil {
		return m.mergeFn(ctx, sessionID, mergeProvider)
	}
	return nil, domain.ErrSessionNotFound
}

func (m *mockResearchService) MasterReport(ctx context.Context, sessionID string) (*domain.MasterReport, error) {
	if m.masterReportFn != nil {
		return m.masterReportFn(ctx, sessionID)
	}
	return nil, domain.ErrReportNotFound
}

func (m *mockResearchService) Cancel(ctx context.Context, sessionID string) error {
	if m.cancelFn != nil {
		return m.cancelFn(ctx, sessionID)
	}
	return nil
}

type staticProviders []domain.ProviderID

func (s staticProviders) List() []domain.ProviderID { return s }

type staticCatalog []llm.ProviderInfo

func (s staticCatalog) Providers() []llm.ProviderInfo { return s }

// replayEvents hands out a closed channel pre-loaded with events
type replayEvents struct {
	events       []domain.ProgressEvent
	unsubscribed bool
	sessionID    string
}

func (r *replayEvents) Subscribe(sessionID string) (<-chan domain.ProgressEvent, func()) {
	r.sessionID = sessionID
	ch := make(chan domain.ProgressEvent, len(r.events))
	for _, e := range r.events {
		ch <- e
	}
	close(ch)
	return ch, func() { r.unsubscribed = true }
}

// silentEvents hands out an open channel that never delivers
type silentEvents struct {
	unsubscribed bool
}

func (s *silentEvents) Subscribe(string) (<-chan domain.ProgressEvent, func()) {
	return make(chan domain.ProgressEvent), func() { s.unsubscribed = true }
}

type staticQueue map[string]interface{}

func (s staticQueue) QueueStats() map[string]interface{} { return s }
