package state

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/ncolesummers/multi-research/pkg/config"
	"github.com/ncolesummers/multi-research/pkg/domain"
)

// Open creates the session store selected by configuration.
// The returned close function releases any underlying connections.
func Open(ctx context.Context, cfg config.StorageConfig) (domain.SessionStore, func(), error) {
	switch cfg.Type {
	case "", "memory":
		return NewMemoryStore(), func() {}, nil
	case "postgres":
		store, err := NewPostgresStore(ctx, PostgresConfig{
			DSN:      cfg.DSN,
			MaxConns: cfg.MaxConns,
			MinConns: cfg.MinConns,
		})
		if err != nil {
			return nil, nil, err
		}
		return store, store.Close, nil
	default:
		return nil, nil, fmt.Errorf("unsupported storage type: %s", cfg.Type)
	}
}

// MemoryStore is an in-memory implementation of domain.SessionStore
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*sessionRecord
	now      func() time.Time
}

// NewMemoryStore creates a new in-memory session store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions: make(map[string]*sessionRecord),
		now:      time.Now,
	}
}

// CreateSession stores the session and one PENDING task per provider
func (m *MemoryStore) CreateSession(ctx context.Context, session *domain.ResearchSession) error {
	if session == nil || session.ID == "" {
		return fmt.Errorf("session ID is required")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.sessions[session.ID]; exists {
		return fmt.Errorf("%w: %s", domain.ErrSessionExists, session.ID)
	}

	m.sessions[session.ID] = newSessionRecord(session, m.now())
	return nil
}

// GetSession loads a copy of the session
func (m *MemoryStore) GetSession(ctx context.Context, sessionID string) (*domain.ResearchSession, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	record, exists := m.sessions[sessionID]
	if !exists {
		return nil, fmt.Errorf("%w: %s", domain.ErrSessionNotFound, sessionID)
	}
	return record.session.Clone(), nil
}

// ListSessions lists sessions with filtering, newest first
func (m *MemoryStore) ListSessions(ctx context.Context, filter domain.SessionFilter) ([]*domain.ResearchSession, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var results []*domain.ResearchSession
	for _, record := range m.sessions {
		if !matchesFilter(record.session, filter) {
			continue
		}
		results = append(results, record.session.Clone())
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].CreatedAt.Equal(results[j].CreatedAt) {
			return results[i].ID < results[j].ID
		}
		return results[i].CreatedAt.After(results[j].CreatedAt)
	})

	if filter.Limit > 0 && len(results) > filter.Limit {
		results = results[:filter.Limit]
	}
	return results, nil
}

// UpdateSessionStatus sets the overall session status
func (m *MemoryStore) UpdateSessionStatus(ctx context.Context, sessionID string, status domain.Status) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	record, exists := m.sessions[sessionID]
	if !exists {
		return fmt.Errorf("%w: %s", domain.ErrSessionNotFound, sessionID)
	}

	record.session.Status = status
	record.session.UpdatedAt = m.now()
	return nil
}

// GetProviderTask loads a copy of one provider task
func (m *MemoryStore) GetProviderTask(ctx context.Context, sessionID string, provider domain.ProviderID) (*domain.ProviderTask, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	task, err := m.lookupTask(sessionID, provider)
	if err != nil {
		return nil, err
	}
	return task.Clone(), nil
}

// ListProviderTasks loads every task of a session in provider order
func (m *MemoryStore) ListProviderTasks(ctx context.Context, sessionID string) ([]*domain.ProviderTask, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	record, exists := m.sessions[sessionID]
	if !exists {
		return nil, fmt.Errorf("%w: %s", domain.ErrSessionNotFound, sessionID)
	}
	return record.orderedTasks(), nil
}

// UpdateProviderTask applies fn to a copy of the task and stores it if fn succeeds
func (m *MemoryStore) UpdateProviderTask(ctx context.Context, sessionID string, provider domain.ProviderID, fn func(*domain.ProviderTask) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	task, err := m.lookupTask(sessionID, provider)
	if err != nil {
		return err
	}

	updated := task.Clone()
	if err := fn(updated); err != nil {
		return err
	}
	updated.UpdatedAt = m.now()

	m.sessions[sessionID].tasks[provider] = updated
	return nil
}

// SaveMasterReport stores the merged report of a session
func (m *MemoryStore) SaveMasterReport(ctx context.Context, report *domain.MasterReport) error {
	if report == nil {
		return fmt.Errorf("master report is required")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	record, exists := m.sessions[report.SessionID]
	if !exists {
		return fmt.Errorf("%w: %s", domain.ErrSessionNotFound, report.SessionID)
	}
	record.master = cloneMasterReport(report)
	return nil
}

// GetMasterReport loads the merged report of a session
func (m *MemoryStore) GetMasterReport(ctx context.Context, sessionID string) (*domain.MasterReport, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	record, exists := m.sessions[sessionID]
	if !exists {
		return nil, fmt.Errorf("%w: %s", domain.ErrSessionNotFound, sessionID)
	}
	if record.master == nil {
		return nil, fmt.Errorf("%w: %s", domain.ErrReportNotFound, sessionID)
	}
	return cloneMasterReport(record.master), nil
}

// lookupTask must be called with the lock held
func (m *MemoryStore) lookupTask(sessionID string, provider domain.ProviderID) (*domain.ProviderTask, error) {
	record, exists := m.sessions[sessionID]
	if !exists {
		return nil, fmt.Errorf("%w: %s", domain.ErrSessionNotFound, sessionID)
	}
	task, exists := record.tasks[provider]
	if !exists {
		return nil, fmt.Errorf("%w: %s/%s", domain.ErrTaskNotFound, sessionID, provider)
	}
	return task, nil
}
