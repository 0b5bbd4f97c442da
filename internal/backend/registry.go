package backend

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
)

// ErrUnknownEngine is returned by Resolve for an engine name nobody registered.
// It is a configuration error and must not be retried.
var ErrUnknownEngine = errors.New("unknown engine")

// Registry holds adapters keyed by engine name.
type Registry struct {
	mu       sync.RWMutex
	adapters map[string]Adapter
}

// NewRegistry creates an empty adapter registry.
func NewRegistry() *Registry {
	return &Registry{
		adapters: make(map[string]Adapter),
	}
}

// NewDefaultRegistry returns a registry with every built-in engine.
// poster is used by adapters that make auxiliary calls to the inference server.
func NewDefaultRegistry(poster Poster, logger *slog.Logger) *Registry {
	r := NewRegistry()
	r.Register(NewVLLM())
	r.Register(NewSGLang())
	r.Register(NewKoboldCpp())
	r.Register(NewLlamaCpp())
	r.Register(NewTabbyAPI(poster, logger))
	return r
}

// Register adds an adapter under its own name, replacing any previous one.
func (r *Registry) Register(a Adapter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.adapters[a.Name()] = a
}

// Resolve returns the adapter registered for engine.
func (r *Registry) Resolve(engine string) (Adapter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	a, ok := r.adapters[engine]
	if !ok {
		return nil, fmt.Errorf("%w %q (known: %v)", ErrUnknownEngine, engine, r.namesLocked())
	}
	return a, nil
}

// List returns every registered adapter sorted by name.
func (r *Registry) List() []Info {
	r.mu.RLock()
	defer r.mu.RUnlock()

	infos := make([]Info, 0, len(r.adapters))
	for name, a := range r.adapters {
		infos = append(infos, Info{
			Name:         name,
			HealthPath:   a.HealthPath(),
			GeneratePath: a.GeneratePath(),
		})
	}
	sort.Slice(infos, func(i, j int) bool {
		return infos[i].Name < infos[j].Name
	})
	return infos
}

func (r *Registry) namesLocked() []string {
	names := make([]string, 0, len(r.adapters))
	for name := range r.adapters {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
