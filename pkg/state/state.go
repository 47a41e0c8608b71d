// Package state persists research sessions, provider tasks and master reports.
package state

import (
	"time"

	"github.com/ncolesummers/multi-research/pkg/domain"
)

// sessionRecord is everything stored for one session
type sessionRecord struct {
	session *domain.ResearchSession
	tasks   map[domain.ProviderID]*domain.ProviderTask
	master  *domain.MasterReport
}

// newSessionRecord creates a record with one PENDING task per provider.
// The model of each task comes from the session's provider settings.
func newSessionRecord(session *domain.ResearchSession, now time.Time) *sessionRecord {
	stored := session.Clone()
	if stored.Status == "" {
		stored.Status = domain.StatusPending
	}
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = now
	}
	stored.UpdatedAt = now

	tasks := make(map[domain.ProviderID]*domain.ProviderTask, len(stored.Providers))
	for _, provider := range stored.Providers {
		tasks[provider] = newPendingTask(stored, provider, now)
	}

	return &sessionRecord{session: stored, tasks: tasks}
}

func newPendingTask(session *domain.ResearchSession, provider domain.ProviderID, now time.Time) *domain.ProviderTask {
	return &domain.ProviderTask{
		SessionID: session.ID,
		Provider:  provider,
		Model:     session.Settings[provider].Model,
		Status:    domain.StatusPending,
		UpdatedAt: now,
	}
}

// orderedTasks returns copies of the tasks in the session's provider order
func (r *sessionRecord) orderedTasks() []*domain.ProviderTask {
	tasks := make([]*domain.ProviderTask, 0, len(r.tasks))
	for _, provider := range r.session.Providers {
		if task, ok := r.tasks[provider]; ok {
			tasks = append(tasks, task.Clone())
		}
	}
	return tasks
}

// matchesFilter reports whether a session passes the status filter
func matchesFilter(session *domain.ResearchSession, filter domain.SessionFilter) bool {
	if len(filter.Status) == 0 {
		return true
	}
	for _, status := range filter.Status {
		if session.Status == status {
			return true
		}
	}
	return false
}

func cloneMasterReport(report *domain.MasterReport) *domain.MasterReport {
	if report == nil {
		return nil
	}
	out := *report
	out.Sources = append([]domain.ProviderID(nil), report.Sources...)
	return &out
}
