package api_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/ncolesummers/multi-research/pkg/api"
	"github.com/ncolesummers/multi-research/pkg/domain"
	"github.com/ncolesummers/multi-research/pkg/workflow"
)

type sseFrame struct {
	event string
	data  string
}

func parseFrames(body string) []sseFrame {
	var frames []sseFrame
	for _, block := range strings.Split(strings.TrimSpace(body), "\n\n") {
		var f sseFrame
		var data []string
		for _, line := range strings.Split(block, "\n") {
			switch {
			case strings.HasPrefix(line, "event: "):
				f.event = strings.TrimPrefix(line, "event: ")
			case strings.HasPrefix(line, "data: "):
				data = append(data, strings.TrimPrefix(line, "data: "))
			}
		}
		f.data = strings.Join(data, "\n")
		frames = append(frames, f)
	}
	return frames
}

func frameEvents(frames []sseFrame) []string {
	out := make([]string, len(frames))
	for i, f := range frames {
		out[i] = f.event
	}
	return out
}

var _ = Describe("EventsHandler", func() {
	var (
		router *gin.Engine
		svc    *mockResearchService
		source *replayEvents
		tasks  []*domain.ProviderTask
	)

	BeforeEach(func() {
		tasks = []*domain.ProviderTask{
			{SessionID: "s-1", Provider: domain.ProviderOpenAI, Status: domain.StatusInProgress},
			{SessionID: "s-1", Provider: domain.ProviderAnthropic, Status: domain.StatusPending},
		}
		svc = &mockResearchService{
			statusFn: func(_ context.Context, id string) (*workflow.SessionStatus, error) {
				return &workflow.SessionStatus{Session: testSession(id, domain.StatusInProgress), Tasks: tasks}, nil
			},
		}
		source = &replayEvents{}
		router = api.NewRouter(api.RouterConfig{}, api.Services{
			Research: svc,
			Catalog:  staticCatalog{},
			Events:   source,
		})
	})

	stream := func() *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/api/research/s-1/events", nil)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		return w
	}

	It("streams a snapshot then events until every provider finishes", func() {
		source.events = []domain.ProgressEvent{
			{Type: domain.EventTypeResearchUpdate, SessionID: "s-1", Provider: domain.ProviderOpenAI, Status: domain.ProgressProcessing, Progress: 0.8},
			{Type: domain.EventTypeResearchUpdate, SessionID: "s-1", Provider: domain.ProviderOpenAI, Status: domain.ProgressCompleted, Progress: 1.0, Content: "# R"},
			{Type: domain.EventTypeResearchUpdate, SessionID: "s-1", Provider: domain.ProviderAnthropic, Status: domain.ProgressFailed, Progress: 1.0, Error: "timeout"},
			{Type: domain.EventTypeResearchUpdate, SessionID: "s-1", Provider: domain.ProviderAnthropic, Status: domain.ProgressStarting, Progress: 0.1},
		}

		w := stream()

		Expect(w.Code).To(Equal(http.StatusOK))
		Expect(w.Header().Get("Content-Type")).To(Equal("text/event-stream"))
		Expect(source.sessionID).To(Equal("s-1"))
		Expect(source.unsubscribed).To(BeTrue())

		frames := parseFrames(w.Body.String())
		Expect(frameEvents(frames)).To(Equal([]string{
			"snapshot",
			domain.EventTypeResearchUpdate,
			domain.EventTypeResearchUpdate,
			domain.EventTypeResearchUpdate,
			"done",
		}))

		var failed domain.ProgressEvent
		Expect(json.Unmarshal([]byte(frames[3].data), &failed)).To(Succeed())
		Expect(failed.Provider).To(Equal(domain.ProviderAnthropic))
		Expect(failed.Error).To(Equal("timeout"))
	})

	It("finishes immediately when every provider already finished", func() {
		tasks = []*domain.ProviderTask{
			{SessionID: "s-1", Provider: domain.ProviderOpenAI, Status: domain.StatusCompleted},
		}

		w := stream()

		Expect(frameEvents(parseFrames(w.Body.String()))).To(Equal([]string{"snapshot", "done"}))
	})

	It("ends when the subscription closes", func() {
		source.events = []domain.ProgressEvent{
			{Type: domain.EventTypeResearchUpdate, SessionID: "s-1", Provider: domain.ProviderOpenAI, Status: domain.ProgressCompleted, Progress: 1.0},
		}

		w := stream()

		Expect(frameEvents(parseFrames(w.Body.String()))).To(Equal([]string{"snapshot", domain.EventTypeResearchUpdate}))
	})

	It("finishes on a heartbeat once the store shows every provider finished", func() {
		calls := 0
		svc.statusFn = func(_ context.Context, id string) (*workflow.SessionStatus, error) {
			calls++
			status := domain.StatusInProgress
			if calls > 1 {
				status = domain.StatusCompleted
			}
			return &workflow.SessionStatus{
				Session: testSession(id, status),
				Tasks:   []*domain.ProviderTask{{SessionID: id, Provider: domain.ProviderOpenAI, Status: status}},
			}, nil
		}
		silent := &silentEvents{}
		router = api.NewRouter(api.RouterConfig{EventHeartbeat: 10 * time.Millisecond}, api.Services{
			Research: svc,
			Catalog:  staticCatalog{},
			Events:   silent,
		})

		w := stream()

		Expect(frameEvents(parseFrames(w.Body.String()))).To(Equal([]string{"snapshot", "ping", "done"}))
		Expect(calls).To(Equal(2))
		Expect(silent.unsubscribed).To(BeTrue())
	})

	It("returns 404 for an unknown session", func() {
		svc.statusFn = nil

		w := stream()

		Expect(w.Code).To(Equal(http.StatusNotFound))
		Expect(source.unsubscribed).To(BeTrue())
	})
})
