package domain

import (
	"errors"
	"fmt"
	"time"
)

// Status represents the lifecycle state of a session or a provider task
type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	// StatusMerged applies to sessions only.
	StatusMerged Status = "merged"
)

// IsTerminal reports whether a provider task in this status can no longer change
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// ProviderID identifies one report-generation backend
type ProviderID string

const (
	ProviderOpenAI    ProviderID = "openai"
	ProviderAnthropic ProviderID = "anthropic"
	ProviderXAI       ProviderID = "xai"
	ProviderOllama    ProviderID = "ollama"
)

// Sentinel errors shared across packages
var (
	ErrSessionNotFound    = errors.New("research session not found")
	ErrTaskNotFound       = errors.New("provider task record not found")
	ErrReportNotFound     = errors.New("master report not found")
	ErrProviderNotFound   = errors.New("provider not registered")
	ErrInvalidTransition  = errors.New("invalid status transition")
	ErrNotReadyToMerge    = errors.New("all provider reports must be completed before merging")
	ErrSessionExists      = errors.New("research session already exists")
	ErrNoProviders        = errors.New("at least one provider is required")
	ErrEmptyTopic         = errors.New("topic is required")
	ErrEmptyProviderReply = errors.New("provider returned empty content")
)

// ProviderSettings carries optional per-provider overrides for a session
type ProviderSettings struct {
	Model     string `json:"model,omitempty" yaml:"model,omitempty"`
	MaxTokens int    `json:"max_tokens,omitempty" yaml:"max_tokens,omitempty"`
}

// ResearchSession is one research run over one topic across a set of providers
type ResearchSession struct {
	ID        string                          `json:"id"`
	Topic     string                          `json:"topic"`
	Providers []ProviderID                    `json:"providers"`
	Settings  map[ProviderID]ProviderSettings `json:"settings,omitempty"`
	Status    Status                          `json:"status"`
	CreatedAt time.Time                       `json:"created_at"`
	UpdatedAt time.Time                       `json:"updated_at"`
}

// Clone returns a deep copy of the session
func (s *ResearchSession) Clone() *ResearchSession {
	if s == nil {
		return nil
	}
	out := *s
	out.Providers = append([]ProviderID(nil), s.Providers...)
	if s.Settings != nil {
		out.Settings = make(map[ProviderID]ProviderSettings, len(s.Settings))
		for k, v := range s.Settings {
			out.Settings[k] = v
		}
	}
	return &out
}

// ProviderTask tracks one provider's work within a session
type ProviderTask struct {
	SessionID   string     `json:"session_id"`
	Provider    ProviderID `json:"provider"`
	Model       string     `json:"model,omitempty"`
	Status      Status     `json:"status"`
	Content     string     `json:"content,omitempty"`
	Thinking    string     `json:"thinking,omitempty"`
	Error       string     `json:"error,omitempty"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// Clone returns a copy of the task
func (t *ProviderTask) Clone() *ProviderTask {
	if t == nil {
		return nil
	}
	out := *t
	return &out
}

// Transition moves the task to a new status, enforcing
// PENDING -> IN_PROGRESS -> COMPLETED | FAILED
func (t *ProviderTask) Transition(to Status) error {
	from := t.Status
	switch {
	case from.IsTerminal():
		return fmt.Errorf("%w: %s is terminal", ErrInvalidTransition, from)
	case to == StatusInProgress && from == StatusPending:
	case to.IsTerminal() && from == StatusInProgress:
	default:
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}

	now := time.Now()
	t.Status = to
	t.UpdatedAt = now
	switch {
	case to == StatusInProgress:
		t.StartedAt = &now
	case to.IsTerminal():
		t.CompletedAt = &now
	}
	return nil
}

// Complete records a successful report
func (t *ProviderTask) Complete(content, thinking string) error {
	if err := t.Transition(StatusCompleted); err != nil {
		return err
	}
	t.Content = content
	t.Thinking = thinking
	t.Error = ""
	return nil
}

// Fail records a failed report
func (t *ProviderTask) Fail(message string) error {
	if err := t.Transition(StatusFailed); err != nil {
		return err
	}
	t.Content = ""
	t.Error = message
	return nil
}

// ProviderReport is one provider's completed report handed to the merger
type ProviderReport struct {
	Provider ProviderID `json:"provider"`
	Content  string     `json:"content"`
}

// Section is a titled block of text extracted from one provider's report
type Section struct {
	Title       string     `json:"title"`
	Content     string     `json:"content"`
	Level       int        `json:"level"`
	Provider    ProviderID `json:"provider"`
	ContentHash string     `json:"content_hash"`
}

// MergedSection is the reconciled result of one group of sections
type MergedSection struct {
	Title   string       `json:"title"`
	Level   int          `json:"level"`
	Content string       `json:"content"`
	Sources []ProviderID `json:"sources"`
}

// MasterReport is the assembled output of a merge
type MasterReport struct {
	SessionID     string       `json:"session_id,omitempty"`
	Content       string       `json:"content"`
	Thinking      string       `json:"thinking,omitempty"`
	Sources       []ProviderID `json:"sources"`
	MergeProvider ProviderID   `json:"merge_provider,omitempty"`
	Fallback      bool         `json:"fallback"`
	CreatedAt     time.Time    `json:"created_at"`
}

// ProgressStatus is the stage reported in a progress event
type ProgressStatus string

const (
	ProgressStarting   ProgressStatus = "starting"
	ProgressInProgress ProgressStatus = "in_progress"
	ProgressProcessing ProgressStatus = "processing"
	ProgressCompleted  ProgressStatus = "completed"
	ProgressFailed     ProgressStatus = "failed"
)

// Progress values for each stage
const (
	ProgressValueStarting   = 0.1
	ProgressValueInProgress = 0.3
	ProgressValueProcessing = 0.8
	ProgressValueDone       = 1.0
)

// EventTypeResearchUpdate is the only event type emitted by the orchestrator
const EventTypeResearchUpdate = "research_update"

// ProgressEvent is emitted as a provider moves through its lifecycle
type ProgressEvent struct {
	Type      string         `json:"type"`
	SessionID string         `json:"session_id"`
	Provider  ProviderID     `json:"provider"`
	Status    ProgressStatus `json:"status"`
	Content   string         `json:"content,omitempty"`
	Error     string         `json:"error,omitempty"`
	Progress  float64        `json:"progress"`
	Timestamp time.Time      `json:"timestamp"`
}

// IsTerminal reports whether this is the last event for its provider
func (e ProgressEvent) IsTerminal() bool {
	return e.Status == ProgressCompleted || e.Status == ProgressFailed
}

// GenerateMode selects how a gateway frames the prompt
type GenerateMode string

const (
	ModeResearch  GenerateMode = "research"
	ModeSynthesis GenerateMode = "synthesis"
)

// GenerateRequest is one report-generation call
type GenerateRequest struct {
	Topic           string
	Model           string
	MaxOutputTokens int
	Mode            GenerateMode
}

// GenerateResult is the output of a report-generation call
type GenerateResult struct {
	Content  string
	Thinking string
}

// RunResult is one provider runner's outcome as seen by the orchestrator
type RunResult struct {
	Provider      ProviderID `json:"provider"`
	Status        Status     `json:"status"`
	Error         string     `json:"error,omitempty"`
	ContentLength int        `json:"content_length,omitempty"`
}
