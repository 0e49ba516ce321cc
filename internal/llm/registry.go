package llm

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// ErrUnknownModel is returned when a model name matches neither a route nor a provider/model pair.
var ErrUnknownModel = errors.New("unknown model")

// ModelRoute binds a logical model to a provider and physical model name.
type ModelRoute struct {
	Name        string
	Provider    string
	Model       string
	Temperature float64
	MaxTokens   int
}

// Registry resolves logical model names to providers. It is safe for concurrent use.
type Registry struct {
	mu           sync.RWMutex
	providers    map[string]Provider
	models       map[string]ModelRoute
	defaultModel string
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		providers: make(map[string]Provider),
		models:    make(map[string]ModelRoute),
	}
}

// RegisterProvider adds a provider implementation.
func (r *Registry) RegisterProvider(name string, p Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[name] = p
}

// RegisterModel adds a model route. The first route, or the last one flagged default, becomes the default.
func (r *Registry) RegisterModel(name string, route ModelRoute, isDefault bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	route.Name = name
	r.models[name] = route
	if isDefault || r.defaultModel == "" {
		r.defaultModel = name
	}
}

// DefaultModel returns the name used when Resolve gets an empty model.
func (r *Registry) DefaultModel() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.defaultModel
}

// Models lists registered logical model names.
func (r *Registry) Models() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.models))
	for name := range r.models {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Resolve returns the provider and route for a model name. Empty selects the default route.
// A name that is not registered but reads "provider/model" for a known provider resolves to
// an ad-hoc route carrying the default route's sampling settings.
func (r *Registry) Resolve(modelName string) (Provider, ModelRoute, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	modelName = strings.TrimSpace(modelName)
	if modelName == "" {
		modelName = r.defaultModel
	}

	route, ok := r.models[modelName]
	if !ok {
		adhoc, found := r.adhocRoute(modelName)
		if !found {
			return nil, ModelRoute{}, fmt.Errorf("%w: %q not registered", ErrUnknownModel, modelName)
		}
		route = adhoc
	}

	p, ok := r.providers[route.Provider]
	if !ok {
		return nil, ModelRoute{}, fmt.Errorf("provider %q not registered for model %q", route.Provider, modelName)
	}

	return p, route, nil
}

func (r *Registry) adhocRoute(name string) (ModelRoute, bool) {
	provider, model, ok := strings.Cut(name, "/")
	if !ok || model == "" {
		return ModelRoute{}, false
	}
	if _, known := r.providers[provider]; !known {
		return ModelRoute{}, false
	}
	base := r.models[r.defaultModel]
	return ModelRoute{
		Name:        name,
		Provider:    provider,
		Model:       model,
		Temperature: base.Temperature,
		MaxTokens:   base.MaxTokens,
	}, true
}
