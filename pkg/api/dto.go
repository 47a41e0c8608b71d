package api

import (
	"time"

	"github.com/ncolesummers/multi-research/pkg/domain"
)

// StartResearchRequest starts a session across the named providers
type StartResearchRequest struct {
	Topic     string                                       `json:"topic" binding:"required,max=4000"`
	Providers []domain.ProviderID                          `json:"providers" binding:"required,min=1,dive,required"`
	Settings  map[domain.ProviderID]domain.ProviderSettings `json:"settings,omitempty"`
}

// MergeRequest optionally names the provider that synthesizes the merge
type MergeRequest struct {
	MergeProvider domain.ProviderID `json:"merge_provider,omitempty"`
}

// SessionResponse is the public view of a session
type SessionResponse struct {
	ID        string              `json:"session_id"`
	Topic     string              `json:"topic"`
	Providers []domain.ProviderID `json:"providers"`
	Status    domain.Status       `json:"status"`
	CreatedAt time.Time           `json:"created_at"`
	UpdatedAt time.Time           `json:"updated_at"`
}

// TaskResponse is the public view of one provider task
type TaskResponse struct {
	Provider    domain.ProviderID `json:"provider"`
	Model       string            `json:"model,omitempty"`
	Status      domain.Status     `json:"status"`
	Content     string            `json:"content,omitempty"`
	Thinking    string            `json:"thinking,omitempty"`
	Error       string            `json:"error,omitempty"`
	StartedAt   *time.Time        `json:"started_at,omitempty"`
	CompletedAt *time.Time        `json:"completed_at,omitempty"`
}

// StatusResponse is a session with the progress of each provider
type StatusResponse struct {
	SessionResponse
	Tasks []TaskResponse `json:"tasks"`
}

// ToSessionResponse converts a session
func ToSessionResponse(s *domain.ResearchSession) SessionResponse {
	return SessionResponse{
		ID:        s.ID,
		Topic:     s.Topic,
		Providers: s.Providers,
		Status:    s.Status,
		CreatedAt: s.CreatedAt,
		UpdatedAt: s.UpdatedAt,
	}
}

// ToTaskResponses converts provider tasks. Content is dropped unless withContent is set.
func ToTaskResponses(tasks []*domain.ProviderTask, withContent bool) []TaskResponse {
	out := make([]TaskResponse, 0, len(tasks))
	for _, t := range tasks {
		resp := TaskResponse{
			Provider:    t.Provider,
			Model:       t.Model,
			Status:      t.Status,
			Error:       t.Error,
			StartedAt:   t.StartedAt,
			CompletedAt: t.CompletedAt,
		}
		if withContent {
			resp.Content = t.Content
			resp.Thinking = t.Thinking
		}
		out = append(out, resp)
	}
	return out
}
