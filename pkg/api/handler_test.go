package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"time"

	"github.com/gin-gonic/gin"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/ncolesummers/multi-research/pkg/api"
	"github.com/ncolesummers/multi-research/pkg/domain"
	"github.com/ncolesummers/multi-research/pkg/llm"
	"github.com/ncolesummers/multi-research/pkg/observability"
	"github.com/ncolesummers/multi-research/pkg/workflow"
)

var createdAt = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func testSession(id string, status domain.Status) *domain.ResearchSession {
	return &domain.ResearchSession{
		ID:        id,
		Topic:     "Quantum error correction",
		Providers: []domain.ProviderID{domain.ProviderOpenAI, domain.ProviderAnthropic},
		Status:    status,
		CreatedAt: createdAt,
		UpdatedAt: createdAt,
	}
}

func doRequest(router *gin.Engine, method, path string, body any) *httptest.ResponseRecorder {
	var buf *bytes.Buffer
	switch b := body.(type) {
	case nil:
		buf = &bytes.Buffer{}
	case string:
		buf = bytes.NewBufferString(b)
	default:
		data, err := json.Marshal(b)
		Expect(err).NotTo(HaveOccurred())
		buf = bytes.NewBuffer(data)
	}

	req := httptest.NewRequest(method, path, buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func decode(w *httptest.ResponseRecorder) map[string]any {
	var resp map[string]any
	Expect(json.Unmarshal(w.Body.Bytes(), &resp)).To(Succeed())
	return resp
}

var _ = Describe("ResearchHandler", func() {
	var (
		router *gin.Engine
		svc    *mockResearchService
	)

	BeforeEach(func() {
		svc = &mockResearchService{}
		router = api.NewRouter(api.RouterConfig{ServiceName: "test"}, api.Services{
			Research:  svc,
			Catalog:   llm.DefaultCatalog(),
			Providers: staticProviders{domain.ProviderOpenAI},
			Events:    &replayEvents{},
		})
	})

	Describe("POST /api/research/start", func() {
		It("returns 202 with the queued session", func() {
			var gotTopic string
			var gotProviders []domain.ProviderID
			var gotSettings map[domain.ProviderID]domain.ProviderSettings
			svc.startFn = func(_ context.Context, topic string, providers []domain.ProviderID, settings map[domain.ProviderID]domain.ProviderSettings) (*domain.ResearchSession, error) {
				gotTopic, gotProviders, gotSettings = topic, providers, settings
				return testSession("s-1", domain.StatusPending), nil
			}

			w := doRequest(router, http.MethodPost, "/api/research/start", map[string]any{
				"topic":     "Quantum error correction",
				"providers": []string{"openai", "anthropic"},
				"settings":  map[string]any{"anthropic": map[string]any{"max_tokens": 16000}},
			})

			Expect(w.Code).To(Equal(http.StatusAccepted))
			resp := decode(w)
			Expect(resp["session_id"]).To(Equal("s-1"))
			Expect(resp["status"]).To(Equal("pending"))
			Expect(gotTopic).To(Equal("Quantum error correction"))
			Expect(gotProviders).To(Equal([]domain.ProviderID{domain.ProviderOpenAI, domain.ProviderAnthropic}))
			Expect(gotSettings[domain.ProviderAnthropic].MaxTokens).To(Equal(16000))
		})

		It("returns 400 on malformed JSON", func() {
			w := doRequest(router, http.MethodPost, "/api/research/start", `{`)
			Expect(w.Code).To(Equal(http.StatusBadRequest))
		})

		It("returns 400 when providers are missing", func() {
			w := doRequest(router, http.MethodPost, "/api/research/start", map[string]any{"topic": "x"})
			Expect(w.Code).To(Equal(http.StatusBadRequest))
		})

		DescribeTable("maps service errors",
			func(err error, code int) {
				svc.startFn = func(context.Context, string, []domain.ProviderID, map[domain.ProviderID]domain.ProviderSettings) (*domain.ResearchSession, error) {
					return nil, err
				}
				w := doRequest(router, http.MethodPost, "/api/research/start", map[string]any{
					"topic":     "  ",
					"providers": []string{"openai"},
				})
				Expect(w.Code).To(Equal(code))
			},
			Entry("empty topic", domain.ErrEmptyTopic, http.StatusBadRequest),
			Entry("no providers", domain.ErrNoProviders, http.StatusBadRequest),
			Entry("unknown provider", fmt.Errorf("%w: mistral", domain.ErrProviderNotFound), http.StatusBadRequest),
			Entry("queue full", fmt.Errorf("failed to queue session: %w", workflow.ErrQueueFull), http.StatusServiceUnavailable),
			Entry("anything else", errors.New("boom"), http.StatusInternalServerError),
		)
	})

	Describe("GET /api/research/:id", func() {
		It("returns the session with task progress and no report content", func() {
			svc.statusFn = func(_ context.Context, id string) (*workflow.SessionStatus, error) {
				return &workflow.SessionStatus{
					Session: testSession(id, domain.StatusInProgress),
					Tasks: []*domain.ProviderTask{
						{SessionID: id, Provider: domain.ProviderOpenAI, Status: domain.StatusCompleted, Content: "# Report"},
						{SessionID: id, Provider: domain.ProviderAnthropic, Status: domain.StatusFailed, Error: "timeout"},
					},
				}, nil
			}

			w := doRequest(router, http.MethodGet, "/api/research/s-1", nil)

			Expect(w.Code).To(Equal(http.StatusOK))
			resp := decode(w)
			Expect(resp["session_id"]).To(Equal("s-1"))
			tasks := resp["tasks"].([]any)
			Expect(tasks).To(HaveLen(2))
			Expect(tasks[0]).NotTo(HaveKey("content"))
			Expect(tasks[1].(map[string]any)["error"]).To(Equal("timeout"))
		})

		It("returns 404 for an unknown session", func() {
			w := doRequest(router, http.MethodGet, "/api/research/missing", nil)
			Expect(w.Code).To(Equal(http.StatusNotFound))
		})
	})

	Describe("GET /api/research", func() {
		It("passes status and limit filters through", func() {
			var got domain.SessionFilter
			svc.listFn = func(_ context.Context, filter domain.SessionFilter) ([]*domain.ResearchSession, error) {
				got = filter
				return []*domain.ResearchSession{testSession("s-2", domain.StatusCompleted)}, nil
			}

			w := doRequest(router, http.MethodGet, "/api/research?status=completed,merged&limit=5", nil)

			Expect(w.Code).To(Equal(http.StatusOK))
			Expect(got.Limit).To(Equal(5))
			Expect(got.Status).To(Equal([]domain.Status{domain.StatusCompleted, domain.StatusMerged}))
			Expect(decode(w)["sessions"]).To(HaveLen(1))
		})

		It("rejects a non-numeric limit", func() {
			w := doRequest(router, http.MethodGet, "/api/research?limit=many", nil)
			Expect(w.Code).To(Equal(http.StatusBadRequest))
		})
	})

	Describe("GET /api/research/:id/reports", func() {
		It("includes report content and thinking", func() {
			svc.reportsFn = func(_ context.Context, id string) ([]*domain.ProviderTask, error) {
				return []*domain.ProviderTask{
					{SessionID: id, Provider: domain.ProviderAnthropic, Status: domain.StatusCompleted, Content: "# A", Thinking: "hmm"},
				}, nil
			}

			w := doRequest(router, http.MethodGet, "/api/research/s-1/reports", nil)

			Expect(w.Code).To(Equal(http.StatusOK))
			reports := decode(w)["reports"].([]any)
			Expect(reports).To(HaveLen(1))
			report := reports[0].(map[string]any)
			Expect(report["content"]).To(Equal("# A"))
			Expect(report["thinking"]).To(Equal("hmm"))
		})
	})

	Describe("POST /api/research/:id/merge", func() {
		It("merges with the requested provider", func() {
			var gotProvider domain.ProviderID
			svc.mergeFn = func(_ context.Context, id string, provider domain.ProviderID) (*domain.MasterReport, error) {
				gotProvider = provider
				return &domain.MasterReport{SessionID: id, Content: "# Master", MergeProvider: provider}, nil
			}

			w := doRequest(router, http.MethodPost, "/api/research/s-1/merge", map[string]any{"merge_provider": "anthropic"})

			Expect(w.Code).To(Equal(http.StatusOK))
			Expect(gotProvider).To(Equal(domain.ProviderAnthropic))
			Expect(decode(w)["content"]).To(Equal("# Master"))
		})

		It("accepts an empty body and uses the default provider", func() {
			gotProvider := domain.ProviderID("unset")
			svc.mergeFn = func(_ context.Context, id string, provider domain.ProviderID) (*domain.MasterReport, error) {
				gotProvider = provider
				return &domain.MasterReport{SessionID: id, Content: "# Master"}, nil
			}

			w := doRequest(router, http.MethodPost, "/api/research/s-1/merge", nil)

			Expect(w.Code).To(Equal(http.StatusOK))
			Expect(gotProvider).To(BeEmpty())
		})

		It("returns 409 while providers are still running", func() {
			svc.mergeFn = func(context.Context, string, domain.ProviderID) (*domain.MasterReport, error) {
				return nil, fmt.Errorf("%w: openai is in_progress", domain.ErrNotReadyToMerge)
			}

			w := doRequest(router, http.MethodPost, "/api/research/s-1/merge", nil)

			Expect(w.Code).To(Equal(http.StatusConflict))
			Expect(decode(w)["error"]).To(ContainSubstring("openai is in_progress"))
		})
	})

	Describe("GET /api/research/:id/master", func() {
		It("returns 404 before a merge", func() {
			w := doRequest(router, http.MethodGet, "/api/research/s-1/master", nil)
			Expect(w.Code).To(Equal(http.StatusNotFound))
		})

		It("returns the stored report", func() {
			svc.masterReportFn = func(_ context.Context, id string) (*domain.MasterReport, error) {
				return &domain.MasterReport{
					SessionID: id,
					Content:   "# Master",
					Sources:   []domain.ProviderID{domain.ProviderOpenAI},
					Fallback:  true,
				}, nil
			}

			w := doRequest(router, http.MethodGet, "/api/research/s-1/master", nil)

			Expect(w.Code).To(Equal(http.StatusOK))
			resp := decode(w)
			Expect(resp["fallback"]).To(BeTrue())
			Expect(resp["sources"]).To(Equal([]any{"openai"}))
		})
	})

	Describe("POST /api/research/:id/cancel", func() {
		It("returns 202 when the session was running", func() {
			w := doRequest(router, http.MethodPost, "/api/research/s-1/cancel", nil)
			Expect(w.Code).To(Equal(http.StatusAccepted))
		})

		It("returns 409 when the session is not running", func() {
			svc.cancelFn = func(_ context.Context, id string) error {
				return fmt.Errorf("%w: %s", workflow.ErrSessionNotActive, id)
			}
			w := doRequest(router, http.MethodPost, "/api/research/s-1/cancel", nil)
			Expect(w.Code).To(Equal(http.StatusConflict))
		})
	})
})

var _ = Describe("ModelsHandler", func() {
	var router *gin.Engine

	BeforeEach(func() {
		router = api.NewRouter(api.RouterConfig{ServiceName: "test"}, api.Services{
			Research: &mockResearchService{},
			Catalog: staticCatalog{
				{ID: domain.ProviderAnthropic, Name: "Anthropic", Models: []llm.ModelConfig{{Name: "claude", Provider: domain.ProviderAnthropic}}},
				{ID: domain.ProviderOpenAI, Name: "OpenAI"},
			},
			Providers: staticProviders{domain.ProviderOpenAI},
		})
	})

	It("lists providers with their availability", func() {
		w := doRequest(router, http.MethodGet, "/api/models", nil)

		Expect(w.Code).To(Equal(http.StatusOK))
		providers := decode(w)["providers"].([]any)
		Expect(providers).To(HaveLen(2))

		anthropic := providers[0].(map[string]any)
		Expect(anthropic["id"]).To(Equal("anthropic"))
		Expect(anthropic["available"]).To(BeFalse())
		Expect(anthropic["models"]).To(HaveLen(1))

		openai := providers[1].(map[string]any)
		Expect(openai["available"]).To(BeTrue())
	})

	It("reports health with the configured providers", func() {
		w := doRequest(router, http.MethodGet, "/health", nil)

		Expect(w.Code).To(Equal(http.StatusOK))
		resp := decode(w)
		Expect(resp["status"]).To(Equal("ok"))
		Expect(resp["providers"]).To(Equal([]any{"openai"}))
	})

	It("reports degraded health when the session queue is stopped", func() {
		router = api.NewRouter(api.RouterConfig{}, api.Services{
			Research: &mockResearchService{},
			Catalog:  staticCatalog{},
			Queue:    staticQueue{"running": false, "active": 0},
		})

		w := doRequest(router, http.MethodGet, "/health", nil)

		Expect(w.Code).To(Equal(http.StatusServiceUnavailable))
		resp := decode(w)
		Expect(resp["status"]).To(Equal("degraded"))
		Expect(resp["queue"]).To(HaveKeyWithValue("running", false))
	})

	It("includes queue stats when the queue is running", func() {
		router = api.NewRouter(api.RouterConfig{}, api.Services{
			Research: &mockResearchService{},
			Catalog:  staticCatalog{},
			Queue:    staticQueue{"running": true, "active": 2},
		})

		w := doRequest(router, http.MethodGet, "/health", nil)

		Expect(w.Code).To(Equal(http.StatusOK))
		Expect(decode(w)["queue"]).To(HaveKeyWithValue("active", BeNumerically("==", 2)))
	})

	It("does not expose /metrics unless enabled", func() {
		w := doRequest(router, http.MethodGet, "/metrics", nil)
		Expect(w.Code).To(Equal(http.StatusNotFound))
	})
})

var _ = Describe("Middleware", func() {
	It("serves /metrics when enabled", func() {
		router := api.NewRouter(api.RouterConfig{ServiceName: "test", EnableMetrics: true}, api.Services{
			Research: &mockResearchService{},
			Catalog:  staticCatalog{},
		})

		w := doRequest(router, http.MethodGet, "/metrics", nil)

		Expect(w.Code).To(Equal(http.StatusOK))
	})

	It("turns handler panics into 500s", func() {
		router := gin.New()
		router.Use(api.Recovery(observability.NewStructuredLogger("test")))
		router.GET("/boom", func(*gin.Context) { panic("boom") })

		w := doRequest(router, http.MethodGet, "/boom", nil)

		Expect(w.Code).To(Equal(http.StatusInternalServerError))
	})

	It("answers preflight requests for allowed origins", func() {
		router := api.NewRouter(api.RouterConfig{AllowOrigins: []string{"http://localhost:3000"}}, api.Services{
			Research: &mockResearchService{},
			Catalog:  staticCatalog{},
		})

		req := httptest.NewRequest(http.MethodOptions, "/api/research/start", nil)
		req.Header.Set("Origin", "http://localhost:3000")
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		Expect(w.Code).To(Equal(http.StatusNoContent))
		Expect(w.Header().Get("Access-Control-Allow-Origin")).To(Equal("http://localhost:3000"))
	})

	It("does not echo unknown origins", func() {
		router := api.NewRouter(api.RouterConfig{AllowOrigins: []string{"http://localhost:3000"}}, api.Services{
			Research: &mockResearchService{},
			Catalog:  staticCatalog{},
		})

		req := httptest.NewRequest(http.MethodGet, "/health", nil)
		req.Header.Set("Origin", "http://evil.example")
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		Expect(w.Code).To(Equal(http.StatusOK))
		Expect(w.Header().Get("Access-Control-Allow-Origin")).To(BeEmpty())
	})
})
