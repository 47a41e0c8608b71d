package domain

import (
	"context"
)

// ProviderGateway is one report-generation backend
type ProviderGateway interface {
	// ID returns the provider identifier this gateway serves
	ID() ProviderID

	// Generate produces a report for the topic. It may fail.
	Generate(ctx context.Context, req GenerateRequest) (*GenerateResult, error)
}

// ProviderRegistry resolves gateways by provider identifier
type ProviderRegistry interface {
	// Register adds a gateway
	Register(gateway ProviderGateway) error

	// Get retrieves a gateway by provider
	Get(provider ProviderID) (ProviderGateway, error)

	// List returns the registered provider identifiers
	List() []ProviderID
}

// ProgressNotifier receives progress events. Delivery is best-effort.
type ProgressNotifier interface {
	Notify(ctx context.Context, event ProgressEvent)
}

// NotifierFunc adapts a function to ProgressNotifier
type NotifierFunc func(ctx context.Context, event ProgressEvent)

// Notify calls f
func (f NotifierFunc) Notify(ctx context.Context, event ProgressEvent) {
	f(ctx, event)
}

// SessionStore persists sessions, provider tasks and master reports.
// It is the only source of truth for session state.
type SessionStore interface {
	// CreateSession stores a new session and one PENDING task per provider
	CreateSession(ctx context.Context, session *ResearchSession) error

	// GetSession loads a session by id
	GetSession(ctx context.Context, sessionID string) (*ResearchSession, error)

	// ListSessions returns sessions matching the filter, newest first
	ListSessions(ctx context.Context, filter SessionFilter) ([]*ResearchSession, error)

	// UpdateSessionStatus sets the overall session status
	UpdateSessionStatus(ctx context.Context, sessionID string, status Status) error

	// GetProviderTask loads one provider task
	GetProviderTask(ctx context.Context, sessionID string, provider ProviderID) (*ProviderTask, error)

	// ListProviderTasks loads every task of a session in provider order
	ListProviderTasks(ctx context.Context, sessionID string) ([]*ProviderTask, error)

	// UpdateProviderTask applies fn to the stored task atomically.
	// The update is discarded if fn returns an error.
	UpdateProviderTask(ctx context.Context, sessionID string, provider ProviderID, fn func(*ProviderTask) error) error

	// SaveMasterReport stores the merged report of a session
	SaveMasterReport(ctx context.Context, report *MasterReport) error

	// GetMasterReport loads the merged report of a session
	GetMasterReport(ctx context.Context, sessionID string) (*MasterReport, error)
}

// SessionFilter narrows ListSessions
type SessionFilter struct {
	Status []Status
	Limit  int
}
