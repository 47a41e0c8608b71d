package api

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/ncolesummers/multi-research/pkg/domain"
	"github.com/ncolesummers/multi-research/pkg/llm"
	"github.com/ncolesummers/multi-research/pkg/observability"
	"github.com/ncolesummers/multi-research/pkg/workflow"
)

// ResearchService is the part of workflow.ResearchService the API needs
type ResearchService interface {
	StartResearch(ctx context.Context, topic string, providers []domain.ProviderID, settings map[domain.ProviderID]domain.ProviderSettings) (*domain.ResearchSession, error)
	Status(ctx context.Context, sessionID string) (*workflow.SessionStatus, error)
	ListSessions(ctx context.Context, filter domain.SessionFilter) ([]*domain.ResearchSession, error)
	Reports(ctx context.Context, sessionID string) ([]*domain.ProviderTask, error)
	Merge(ctx context.Context, sessionID string, mergeProvider domain.ProviderID) (*domain.MasterReport, error)
	MasterReport(ctx context.Context, sessionID string) (*domain.MasterReport, error)
	Cancel(ctx context.Context, sessionID string) error
}

// ModelCatalog lists the models each provider can run
type ModelCatalog interface {
	Providers() []llm.ProviderInfo
}

// ProviderLister lists the providers that are configured
type ProviderLister interface {
	List() []domain.ProviderID
}

// QueueReporter reports session queue health
type QueueReporter interface {
	QueueStats() map[string]interface{}
}

// ResearchHandler serves the research endpoints
type ResearchHandler struct {
	research ResearchService
	logger   *observability.StructuredLogger
}

// NewResearchHandler creates a research handler
func NewResearchHandler(research ResearchService) *ResearchHandler {
	return &ResearchHandler{
		research: research,
		logger:   observability.NewStructuredLogger("api"),
	}
}

// Start creates a session and queues it
func (h *ResearchHandler) Start(c *gin.Context) {
	ctx := c.Request.Context()

	var req StartResearchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Warn(ctx, "Invalid request body", map[string]interface{}{"error": err.Error()})
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	session, err := h.research.StartResearch(ctx, req.Topic, req.Providers, req.Settings)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusAccepted, ToSessionResponse(session))
}

// List returns recent sessions, optionally filtered by ?status= and ?limit=
func (h *ResearchHandler) List(c *gin.Context) {
	filter := domain.SessionFilter{Limit: 50}
	if raw := c.Query("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 1 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
			return
		}
		filter.Limit = limit
	}
	if raw := c.Query("status"); raw != "" {
		for _, s := range strings.Split(raw, ",") {
			filter.Status = append(filter.Status, domain.Status(strings.TrimSpace(s)))
		}
	}

	sessions, err := h.research.ListSessions(c.Request.Context(), filter)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}

	out := make([]SessionResponse, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, ToSessionResponse(s))
	}
	c.JSON(http.StatusOK, gin.H{"sessions": out})
}

// Get returns a session with per-provider progress
func (h *ResearchHandler) Get(c *gin.Context) {
	status, err := h.research.Status(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, StatusResponse{
		SessionResponse: ToSessionResponse(status.Session),
		Tasks:           ToTaskResponses(status.Tasks, false),
	})
}

// Reports returns every provider report of a session
func (h *ResearchHandler) Reports(c *gin.Context) {
	sessionID := c.Param("id")
	tasks, err := h.research.Reports(c.Request.Context(), sessionID)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"session_id": sessionID,
		"reports":    ToTaskResponses(tasks, true),
	})
}

// Merge merges the provider reports of a completed session
func (h *ResearchHandler) Merge(c *gin.Context) {
	ctx := c.Request.Context()

	var req MergeRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	report, err := h.research.Merge(ctx, c.Param("id"), req.MergeProvider)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, report)
}

// Master returns the stored master report
func (h *ResearchHandler) Master(c *gin.Context) {
	report, err := h.research.MasterReport(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, report)
}

// Cancel cancels a queued or running session
func (h *ResearchHandler) Cancel(c *gin.Context) {
	sessionID := c.Param("id")
	if err := h.research.Cancel(c.Request.Context(), sessionID); err != nil {
		writeError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusAccepted, gin.H{"session_id": sessionID, "status": "cancelling"})
}

// writeError maps service errors onto HTTP status codes
func writeError(c *gin.Context, logger *observability.StructuredLogger, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, domain.ErrSessionNotFound), errors.Is(err, domain.ErrReportNotFound):
		status = http.StatusNotFound
	case errors.Is(err, domain.ErrEmptyTopic), errors.Is(err, domain.ErrNoProviders),
		errors.Is(err, domain.ErrProviderNotFound):
		status = http.StatusBadRequest
	case errors.Is(err, domain.ErrNotReadyToMerge), errors.Is(err, workflow.ErrSessionNotActive):
		status = http.StatusConflict
	case errors.Is(err, workflow.ErrQueueFull), errors.Is(err, workflow.ErrQueueNotRunning):
		status = http.StatusServiceUnavailable
	}

	if status == http.StatusInternalServerError {
		logger.Error(c.Request.Context(), "Request failed", err, map[string]interface{}{
			"path": c.FullPath(),
		})
		c.JSON(status, gin.H{"error": "internal error"})
		return
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

// ModelsHandler serves provider and model metadata
type ModelsHandler struct {
	catalog   ModelCatalog
	providers ProviderLister
	queue     QueueReporter
}

// NewModelsHandler creates a models handler. queue may be nil.
func NewModelsHandler(catalog ModelCatalog, providers ProviderLister, queue QueueReporter) *ModelsHandler {
	return &ModelsHandler{catalog: catalog, providers: providers, queue: queue}
}

// List returns every known provider with its models and whether it is configured
func (h *ModelsHandler) List(c *gin.Context) {
	configured := make(map[domain.ProviderID]bool)
	if h.providers != nil {
		for _, p := range h.providers.List() {
			configured[p] = true
		}
	}

	type providerView struct {
		llm.ProviderInfo
		Available bool `json:"available"`
	}
	infos := h.catalog.Providers()
	out := make([]providerView, 0, len(infos))
	for _, info := range infos {
		out = append(out, providerView{ProviderInfo: info, Available: configured[info.ID]})
	}

	c.JSON(http.StatusOK, gin.H{"providers": out})
}

// Health reports liveness, the configured providers and the session queue.
// A stopped queue reports "degraded" with 503.
func (h *ModelsHandler) Health(c *gin.Context) {
	var providers []domain.ProviderID
	if h.providers != nil {
		providers = h.providers.List()
	}
	if providers == nil {
		providers = []domain.ProviderID{}
	}
	resp := gin.H{"status": "ok", "providers": providers}

	code := http.StatusOK
	if h.queue != nil {
		stats := h.queue.QueueStats()
		resp["queue"] = stats
		if running, _ := stats["running"].(bool); !running {
			resp["status"] = "degraded"
			code = http.StatusServiceUnavailable
		}
	}
	c.JSON(code, resp)
}
