package container

import (
	"fmt"
	"sync"

	"github.com/iotech/iotcore/pkg/metrics"
)

// Factory knows how to build and free a component of a particular type.
// Configure receives the already-decoded component configuration map;
// FindComponent lets it resolve dependencies on other named components
// in the same container (e.g. a logger).
type Factory struct {
	Type      string
	Configure func(cont *Container, cfg map[string]any) (Component, error)
	Free      func(Component)
}

var (
	registryMu sync.Mutex
	factories  = map[string]*Factory{}
	containers = map[string]*Container{}
)

// RegisterFactory makes a factory available for AddComponent/container
// declarations to instantiate. The first registration for a given Type
// wins; later calls are no-ops, matching the original's
// iot_component_factory_add idempotency.
func RegisterFactory(f *Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	if _, exists := factories[f.Type]; !exists {
		factories[f.Type] = f
	}
}

// FindFactory looks up a previously registered factory by type name.
func FindFactory(ctype string) (*Factory, bool) {
	registryMu.Lock()
	defer registryMu.Unlock()
	f, ok := factories[ctype]
	return f, ok
}

// Alloc creates a new, empty, named container. It fails if a container
// with that name already exists.
func Alloc(name string) (*Container, error) {
	registryMu.Lock()
	defer registryMu.Unlock()
	if _, exists := containers[name]; exists {
		return nil, fmt.Errorf("container %q: %w", name, ErrAlreadyExists)
	}
	c := newContainer(name)
	containers[name] = c
	metrics.ContainersTotal.Inc()
	return c, nil
}

// Find looks up a previously allocated container by name.
func Find(name string) (*Container, bool) {
	registryMu.Lock()
	defer registryMu.Unlock()
	c, ok := containers[name]
	return c, ok
}

// Free removes cont from the process-wide registry and releases all of
// its components in declaration order.
func Free(cont *Container) {
	registryMu.Lock()
	delete(containers, cont.name)
	registryMu.Unlock()
	metrics.ContainersTotal.Dec()
	cont.free()
}

// ListContainers returns the names of every currently allocated
// container, in no particular order.
func ListContainers() []string {
	registryMu.Lock()
	defer registryMu.Unlock()
	names := make([]string, 0, len(containers))
	for name := range containers {
		names = append(names, name)
	}
	return names
}
