package service

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/GriffinCanCode/AgentOS/ipcore/internal/shared/errno"
)

// Registry manages service discovery and execution
type Registry struct {
	services sync.Map
}

// Provider interface for service implementations
type Provider interface {
	Definition() Service
	Execute(ctx context.Context, toolID string, params map[string]any, caller *Caller) (*Result, error)
}

// NewRegistry creates a new service registry
func NewRegistry() *Registry {
	return &Registry{}
}

// Register adds a service provider
func (r *Registry) Register(provider Provider) error {
	def := provider.Definition()
	if def.ID == "" {
		return fmt.Errorf("service ID cannot be empty: %w", errno.ErrInvalid)
	}
	if _, loaded := r.services.LoadOrStore(def.ID, provider); loaded {
		return fmt.Errorf("service %q already registered: %w", def.ID, errno.ErrInvalid)
	}
	return nil
}

// Unregister removes a service provider
func (r *Registry) Unregister(serviceID string) {
	r.services.Delete(serviceID)
}

// Get retrieves a service by ID
func (r *Registry) Get(serviceID string) (Provider, bool) {
	val, ok := r.services.Load(serviceID)
	if !ok {
		return nil, false
	}
	return val.(Provider), true
}

// List returns registered services sorted by ID, optionally filtered by category.
func (r *Registry) List(category *Category) []Service {
	var services []Service
	r.services.Range(func(_, value any) bool {
		def := value.(Provider).Definition()
		if category == nil || def.Category == *category {
			services = append(services, def)
		}
		return true
	})
	sort.Slice(services, func(i, j int) bool { return services[i].ID < services[j].ID })
	return services
}

// Discover finds the services whose names, descriptions or capabilities match the words
// of query, best match first.
func (r *Registry) Discover(query string, limit int) []Service {
	type scored struct {
		service Service
		score   float64
	}

	query = strings.ToLower(query)
	var results []scored
	r.services.Range(func(_, value any) bool {
		def := value.(Provider).Definition()
		if score := relevance(query, def); score > 0 {
			results = append(results, scored{service: def, score: score})
		}
		return true
	})

	sort.Slice(results, func(i, j int) bool {
		if results[i].score != results[j].score {
			return results[i].score > results[j].score
		}
		return results[i].service.ID < results[j].service.ID
	})

	output := make([]Service, 0, limit)
	for i := 0; i < len(results) && i < limit; i++ {
		output = append(output, results[i].service)
	}
	return output
}

// Execute runs a tool after checking that its service declares it and that every required
// parameter is present.
func (r *Registry) Execute(ctx context.Context, toolID string, params map[string]any, caller *Caller) (*Result, error) {
	serviceID, _, ok := strings.Cut(toolID, ".")
	if !ok {
		return Failure(fmt.Errorf("invalid tool ID format: %s: %w", toolID, errno.ErrInvalid))
	}
	provider, ok := r.Get(serviceID)
	if !ok {
		return Failure(fmt.Errorf("service not found: %s: %w", serviceID, errno.ErrInvalid))
	}
	tool, ok := provider.Definition().Tool(toolID)
	if !ok {
		return Failure(fmt.Errorf("service %s has no tool %s: %w", serviceID, toolID, errno.ErrInvalid))
	}
	for _, p := range tool.Parameters {
		if _, set := params[p.Name]; p.Required && !set {
			return Failure(fmt.Errorf("%s: missing parameter %q: %w", toolID, p.Name, errno.ErrInvalid))
		}
	}
	return provider.Execute(ctx, toolID, params, caller)
}

// Stats returns registry statistics
func (r *Registry) Stats() map[string]any {
	var total, totalTools int
	categories := make(map[string]int)

	r.services.Range(func(_, value any) bool {
		def := value.(Provider).Definition()
		total++
		totalTools += len(def.Tools)
		categories[string(def.Category)]++
		return true
	})

	return map[string]any{
		"total_services": total,
		"total_tools":    totalTools,
		"categories":     categories,
	}
}

func relevance(query string, service Service) float64 {
	score := 0.0

	if strings.Contains(query, service.ID) || strings.Contains(query, strings.ToLower(service.Name)) {
		score += 10.0
	}
	for _, word := range strings.Fields(strings.ToLower(service.Description)) {
		if len(word) > 3 && strings.Contains(query, word) {
			score += 5.0
		}
	}
	for _, c := range service.Capabilities {
		if strings.Contains(query, strings.ReplaceAll(strings.ToLower(c), "_", " ")) {
			score += 3.0
		}
	}
	if strings.Contains(query, string(service.Category)) {
		score += 2.0
	}
	for _, tool := range service.Tools {
		if strings.Contains(query, strings.ToLower(tool.Name)) {
			score += 1.0
		}
	}
	return score
}

// Failure builds the result for a failed call and returns err alongside it.
func Failure(err error) (*Result, error) {
	msg := err.Error()
	return &Result{Success: false, Error: &msg, Errno: errno.Code(err)}, err
}
