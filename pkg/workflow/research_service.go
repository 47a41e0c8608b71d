package workflow

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/ncolesummers/multi-research/pkg/domain"
	"github.com/ncolesummers/multi-research/pkg/llm"
	"github.com/ncolesummers/multi-research/pkg/merge"
	"github.com/ncolesummers/multi-research/pkg/observability"
)

// MergeSettings configures merges run by the service
type MergeSettings struct {
	// DefaultProvider is used when a merge names no provider
	DefaultProvider  domain.ProviderID
	Model            string
	SectionMaxTokens int
	ReportMaxTokens  int
	Concurrency      int
	FailureThreshold int
	ResetTimeout     time.Duration
}

// ResearchServiceConfig holds the service's collaborators
type ResearchServiceConfig struct {
	Store        domain.SessionStore
	Registry     domain.ProviderRegistry
	Orchestrator *Orchestrator
	Models       ModelResolver
	Queue        SessionQueueConfig
	Merge        MergeSettings
	Telemetry    *observability.Telemetry
	Metrics      *observability.Metrics
	Now          func() time.Time
}

// SessionStatus is a session with its provider tasks
type SessionStatus struct {
	Session *domain.ResearchSession `json:"session"`
	Tasks   []*domain.ProviderTask  `json:"tasks"`
}

// ResearchService is the entry point for creating, running and merging sessions
type ResearchService struct {
	store        domain.SessionStore
	registry     domain.ProviderRegistry
	orchestrator *Orchestrator
	models       ModelResolver
	queue        *SessionQueue
	merge        MergeSettings
	telemetry    *observability.Telemetry
	metrics      *observability.Metrics
	logger       *observability.StructuredLogger
	now          func() time.Time

	breakersMu sync.Mutex
	breakers   map[domain.ProviderID]*llm.CircuitBreaker
}

// NewResearchService creates the service and its session queue
func NewResearchService(cfg ResearchServiceConfig) (*ResearchService, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("session store is required")
	}
	if cfg.Registry == nil {
		return nil, fmt.Errorf("provider registry is required")
	}
	if cfg.Orchestrator == nil {
		return nil, fmt.Errorf("orchestrator is required")
	}
	if cfg.Models == nil {
		return nil, fmt.Errorf("model resolver is required")
	}
	if cfg.Telemetry == nil {
		cfg.Telemetry = observability.NewNoopTelemetry()
	}
	if cfg.Metrics == nil {
		metrics, err := observability.NewMetrics(cfg.Telemetry.Meter())
		if err != nil {
			return nil, fmt.Errorf("failed to create metrics: %w", err)
		}
		cfg.Metrics = metrics
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	s := &ResearchService{
		store:        cfg.Store,
		registry:     cfg.Registry,
		orchestrator: cfg.Orchestrator,
		models:       cfg.Models,
		merge:        cfg.Merge,
		telemetry:    cfg.Telemetry,
		metrics:      cfg.Metrics,
		logger:       observability.NewStructuredLogger("research_service"),
		now:          cfg.Now,
		breakers:     make(map[domain.ProviderID]*llm.CircuitBreaker),
	}

	queue, err := NewSessionQueue(cfg.Queue, s.RunSession, cfg.Telemetry, cfg.Metrics)
	if err != nil {
		return nil, err
	}
	s.queue = queue

	return s, nil
}

// Start starts the session queue
func (s *ResearchService) Start(ctx context.Context) error {
	return s.queue.Start(ctx)
}

// Stop stops the session queue, cancelling sessions in flight
func (s *ResearchService) Stop(ctx context.Context) error {
	return s.queue.Stop(ctx)
}

// CreateSession validates the request and stores a PENDING session
func (s *ResearchService) CreateSession(ctx context.Context, topic string, providers []domain.ProviderID, settings map[domain.ProviderID]domain.ProviderSettings) (*domain.ResearchSession, error) {
	topic = strings.TrimSpace(topic)
	if topic == "" {
		return nil, domain.ErrEmptyTopic
	}

	unique := make([]domain.ProviderID, 0, len(providers))
	seen := make(map[domain.ProviderID]struct{}, len(providers))
	for _, p := range providers {
		if _, dup := seen[p]; dup {
			continue
		}
		seen[p] = struct{}{}
		if _, err := s.registry.Get(p); err != nil {
			return nil, err
		}
		unique = append(unique, p)
	}
	if len(unique) == 0 {
		return nil, domain.ErrNoProviders
	}

	now := s.now()
	session := &domain.ResearchSession{
		ID:        uuid.NewString(),
		Topic:     topic,
		Providers: unique,
		Settings:  settings,
		Status:    domain.StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.store.CreateSession(ctx, session); err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	s.logger.Info(ctx, "Research session created", map[string]interface{}{
		"session_id": session.ID,
		"providers":  len(unique),
	})
	return session, nil
}

// StartResearch creates a session and queues it
func (s *ResearchService) StartResearch(ctx context.Context, topic string, providers []domain.ProviderID, settings map[domain.ProviderID]domain.ProviderSettings) (*domain.ResearchSession, error) {
	session, err := s.CreateSession(ctx, topic, providers, settings)
	if err != nil {
		return nil, err
	}
	if err := s.queue.Submit(ctx, session.ID); err != nil {
		_ = s.store.UpdateSessionStatus(ctx, session.ID, domain.StatusFailed)
		return nil, fmt.Errorf("failed to queue session: %w", err)
	}
	return session, nil
}

// RunSession runs a stored session to completion in the caller's goroutine
func (s *ResearchService) RunSession(ctx context.Context, sessionID string) error {
	session, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return err
	}
	_, err = s.orchestrator.StartResearch(ctx, session.ID, session.Topic, session.Providers, session.Settings)
	return err
}

// Cancel cancels a queued or running session
func (s *ResearchService) Cancel(ctx context.Context, sessionID string) error {
	if _, err := s.store.GetSession(ctx, sessionID); err != nil {
		return err
	}
	if !s.queue.Cancel(sessionID) {
		return fmt.Errorf("%w: %s", ErrSessionNotActive, sessionID)
	}
	s.logger.Info(ctx, "Research session cancelled", map[string]interface{}{
		"session_id": sessionID,
	})
	return nil
}

// QueueStats reports the state of the session queue
func (s *ResearchService) QueueStats() map[string]interface{} {
	return s.queue.Stats()
}

// Status returns a session with its provider tasks
func (s *ResearchService) Status(ctx context.Context, sessionID string) (*SessionStatus, error) {
	session, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	tasks, err := s.store.ListProviderTasks(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return &SessionStatus{Session: session, Tasks: tasks}, nil
}

// ListSessions returns stored sessions, newest first
func (s *ResearchService) ListSessions(ctx context.Context, filter domain.SessionFilter) ([]*domain.ResearchSession, error) {
	return s.store.ListSessions(ctx, filter)
}

// Reports returns the provider tasks of a session, including their content
func (s *ResearchService) Reports(ctx context.Context, sessionID string) ([]*domain.ProviderTask, error) {
	return s.store.ListProviderTasks(ctx, sessionID)
}

// MasterReport returns the merged report of a session
func (s *ResearchService) MasterReport(ctx context.Context, sessionID string) (*domain.MasterReport, error) {
	return s.store.GetMasterReport(ctx, sessionID)
}

// Merge merges every provider report of a session into a master report.
// The session must be COMPLETED (or already MERGED) and every provider task
// COMPLETED. An empty mergeProvider selects the configured default; an
// unknown one merges deterministically.
func (s *ResearchService) Merge(ctx context.Context, sessionID string, mergeProvider domain.ProviderID) (*domain.MasterReport, error) {
	session, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	// The aggregate status is written after the last task finishes.
	if session.Status != domain.StatusCompleted && session.Status != domain.StatusMerged {
		return nil, fmt.Errorf("%w: session is %s", domain.ErrNotReadyToMerge, session.Status)
	}
	tasks, err := s.store.ListProviderTasks(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	reports := make([]domain.ProviderReport, 0, len(tasks))
	for _, task := range tasks {
		if task.Status != domain.StatusCompleted || strings.TrimSpace(task.Content) == "" {
			return nil, fmt.Errorf("%w: %s is %s", domain.ErrNotReadyToMerge, task.Provider, task.Status)
		}
		reports = append(reports, domain.ProviderReport{Provider: task.Provider, Content: task.Content})
	}
	if len(reports) == 0 {
		return nil, domain.ErrNotReadyToMerge
	}

	if mergeProvider == "" {
		mergeProvider = s.merge.DefaultProvider
	}
	gateway, model := s.mergeGateway(ctx, mergeProvider)

	merger := merge.NewMerger(merge.Options{
		Gateway:          gateway,
		Model:            model,
		SectionMaxTokens: s.merge.SectionMaxTokens,
		ReportMaxTokens:  s.merge.ReportMaxTokens,
		Concurrency:      s.merge.Concurrency,
		Now:              s.now,
		Telemetry:        s.telemetry,
		Metrics:          s.metrics,
	})

	report := merger.MergeReports(ctx, reports)
	report.SessionID = sessionID

	if err := s.store.SaveMasterReport(ctx, report); err != nil {
		return nil, fmt.Errorf("failed to save master report: %w", err)
	}
	if err := s.store.UpdateSessionStatus(ctx, sessionID, domain.StatusMerged); err != nil {
		return nil, fmt.Errorf("failed to mark session merged: %w", err)
	}

	s.logger.Info(ctx, "Master report saved", map[string]interface{}{
		"session_id":     sessionID,
		"merge_provider": string(report.MergeProvider),
		"fallback":       report.Fallback,
	})
	return report, nil
}

// mergeGateway resolves the merge provider behind its circuit breaker.
// A nil gateway means the merge runs deterministically.
func (s *ResearchService) mergeGateway(ctx context.Context, provider domain.ProviderID) (domain.ProviderGateway, string) {
	if provider == "" {
		return nil, ""
	}
	gateway, err := s.registry.Get(provider)
	if err != nil {
		if !errors.Is(err, domain.ErrProviderNotFound) {
			s.logger.Error(ctx, "Failed to resolve merge provider", err)
		} else {
			s.logger.Warn(ctx, "Merge provider unavailable, merging deterministically", map[string]interface{}{
				"merge_provider": string(provider),
			})
		}
		return nil, ""
	}

	model := ""
	if provider == s.merge.DefaultProvider {
		model = s.merge.Model
	}
	if model == "" {
		model = s.models.DefaultModel(provider)
	}

	return llm.NewGuardedGateway(gateway, s.breaker(provider)), model
}

func (s *ResearchService) breaker(provider domain.ProviderID) *llm.CircuitBreaker {
	s.breakersMu.Lock()
	defer s.breakersMu.Unlock()

	cb, ok := s.breakers[provider]
	if !ok {
		cb = llm.NewCircuitBreaker(s.merge.FailureThreshold, s.merge.ResetTimeout)
		s.breakers[provider] = cb
	}
	return cb
}
