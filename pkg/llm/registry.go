package llm

import (
	"fmt"
	"sort"
	"sync"

	"github.com/ncolesummers/multi-research/pkg/domain"
)

// Registry is the process-wide set of provider gateways, built once at startup
// and passed to the orchestrator and merger.
type Registry struct {
	mu       sync.RWMutex
	gateways map[domain.ProviderID]domain.ProviderGateway
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{
		gateways: make(map[domain.ProviderID]domain.ProviderGateway),
	}
}

// Register adds a gateway under its own ID
func (r *Registry) Register(gateway domain.ProviderGateway) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if gateway == nil {
		return fmt.Errorf("gateway cannot be nil")
	}

	id := gateway.ID()
	if id == "" {
		return fmt.Errorf("provider id cannot be empty")
	}

	if _, exists := r.gateways[id]; exists {
		return fmt.Errorf("provider %s already registered", id)
	}

	r.gateways[id] = gateway
	return nil
}

// Get retrieves a gateway by provider
func (r *Registry) Get(provider domain.ProviderID) (domain.ProviderGateway, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	gateway, exists := r.gateways[provider]
	if !exists {
		return nil, fmt.Errorf("%w: %s", domain.ErrProviderNotFound, provider)
	}

	return gateway, nil
}

// List returns the registered providers in sorted order
func (r *Registry) List() []domain.ProviderID {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]domain.ProviderID, 0, len(r.gateways))
	for id := range r.gateways {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	return ids
}
