// Package container implements the component registry: named containers
// holding an ordered list of components, started in declaration order and
// stopped in reverse, with lazy dependency resolution between components
// in the same container.
package container

import (
	"fmt"
	"plugin"
	"sync"

	"github.com/iotech/iotcore/pkg/component"
	"github.com/iotech/iotcore/pkg/config"
	"github.com/iotech/iotcore/pkg/log"
	"github.com/iotech/iotcore/pkg/metrics"
	"github.com/rs/zerolog"
)

// Component is anything a Factory can produce and the container can
// start, stop, and reference count.
type Component interface {
	Start()
	Stop()
	AddRef()
	DecRef() bool
}

// ComponentInfo is a snapshot of one held component, returned by
// ListComponents.
type ComponentInfo struct {
	Name  string
	Type  string
	State string
}

// stateful is implemented by components that expose their lifecycle
// state (e.g. everything built on component.Base). ListComponents reports
// State only for components satisfying it.
type stateful interface {
	State() component.State
}

type holder struct {
	name      string
	component Component
	factory   *Factory
}

// Container owns a named, ordered set of components. Declaration order
// is start order; components are stopped in reverse declaration order so
// dependents are always stopped before their dependencies.
type Container struct {
	name   string
	logger zerolog.Logger

	mu      sync.RWMutex
	holders []*holder
	index   map[string]int

	// AllowDynamicLoad enables resolving an unregistered factory type by
	// loading a Go plugin named by the component's own Library/Factory
	// configuration keys. Defaults to true; set false to require every
	// factory be statically registered via RegisterFactory.
	AllowDynamicLoad bool

	loader config.Loader
}

func newContainer(name string) *Container {
	return &Container{
		name:             name,
		logger:           log.WithComponent(name),
		holders:          nil,
		index:            map[string]int{},
		AllowDynamicLoad: true,
	}
}

// Name returns the container's name.
func (c *Container) Name() string { return c.name }

// Init loads the container's own declaration (a document mapping
// component name to factory type) via loader, then instantiates every
// named component in declaration order. It returns an error if the
// declaration itself cannot be loaded; failures to construct individual
// components are logged and skipped, matching the original's
// per-component error handling.
func (c *Container) Init(loader config.Loader) error {
	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.ContainerInitDuration)

	c.loader = loader
	text, ok := loader.Load(c.name)
	if !ok {
		return fmt.Errorf("container %q: loading declaration: %w", c.name, ErrNotFound)
	}
	entries, err := config.DecodeDeclaration(text)
	if err != nil {
		return fmt.Errorf("container %q: %w", c.name, err)
	}
	for _, e := range entries {
		if err := c.loadTyped(e.Name, e.Type); err != nil {
			c.logger.Warn().Err(err).Str("component", e.Name).Str("type", e.Type).Msg("failed to create component")
			metrics.ComponentCreateErrors.WithLabelValues(c.name).Inc()
		}
	}
	return nil
}

// loadTyped instantiates a single named component of the given factory
// type, reading its own configuration via the container's loader.
func (c *Container) loadTyped(cname, ctype string) error {
	factory, ok := FindFactory(ctype)
	if !ok && c.AllowDynamicLoad {
		factory, ok = c.tryDynamicLoad(cname)
	}
	if !ok {
		return fmt.Errorf("type %q: %w", ctype, ErrUnknownType)
	}
	text, ok := c.loader.Load(cname)
	if !ok {
		return fmt.Errorf("component %q: loading configuration: %w", cname, ErrNotFound)
	}
	return c.create(cname, factory, text)
}

// tryDynamicLoad attempts to resolve cname's own factory via Go's
// plugin package, reading Library (a .so path) and Factory (an exported
// "func() *container.Factory" symbol name) from its configuration. This
// is the Go analogue of dlopen/dlsym-based factory discovery.
func (c *Container) tryDynamicLoad(cname string) (*Factory, bool) {
	text, ok := c.loader.Load(cname)
	if !ok {
		return nil, false
	}
	cfg, err := config.DecodeMap(text)
	if err != nil {
		return nil, false
	}
	lib := config.GetString(cfg, "Library", "")
	sym := config.GetString(cfg, "Factory", "")
	if lib == "" || sym == "" {
		return nil, false
	}
	p, err := plugin.Open(lib)
	if err != nil {
		c.logger.Error().Err(err).Str("library", lib).Msg("could not dynamically load library")
		return nil, false
	}
	fn, err := p.Lookup(sym)
	if err != nil {
		c.logger.Error().Err(err).Str("factory", sym).Str("library", lib).Msg("could not find factory symbol in library")
		return nil, false
	}
	factoryFn, ok := fn.(func() *Factory)
	if !ok {
		c.logger.Error().Str("factory", sym).Msg("factory symbol has unexpected signature")
		return nil, false
	}
	factory := factoryFn()
	RegisterFactory(factory)
	return factory, true
}

// create decodes text and invokes factory.Configure, appending the
// result to the container's ordered holder list on success.
func (c *Container) create(cname string, factory *Factory, text string) error {
	substituted, err := config.Substitute(text)
	if err != nil {
		return fmt.Errorf("component %q: %w", cname, err)
	}
	cfg, err := config.DecodeMap(substituted)
	if err != nil {
		return fmt.Errorf("component %q: %w", cname, err)
	}
	comp, err := factory.Configure(c, cfg)
	if err != nil {
		return fmt.Errorf("component %q: %w", cname, err)
	}
	c.mu.Lock()
	c.index[cname] = len(c.holders)
	c.holders = append(c.holders, &holder{name: cname, component: comp, factory: factory})
	c.mu.Unlock()
	metrics.ComponentsActive.WithLabelValues(c.name).Inc()
	return nil
}

// AddComponent constructs and appends a new named component of ctype,
// decoding its configuration from the raw text supplied by the caller
// (rather than via the container's Loader), mirroring
// iot_container_add_component.
func (c *Container) AddComponent(ctype, cname, text string) error {
	factory, ok := FindFactory(ctype)
	if !ok {
		return fmt.Errorf("type %q: %w", ctype, ErrUnknownType)
	}
	return c.create(cname, factory, text)
}

// Start starts every held component in declaration order, so a
// component's dependencies (which must have been declared earlier) are
// always already running.
func (c *Container) Start() {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, h := range c.holders {
		h.component.Start()
	}
}

// Stop stops every held component in reverse declaration order, so a
// component's dependents are always stopped before the component itself.
func (c *Container) Stop() {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for i := len(c.holders) - 1; i >= 0; i-- {
		c.holders[i].component.Stop()
	}
}

func (c *Container) free() {
	c.mu.Lock()
	holders := c.holders
	c.holders = nil
	c.index = map[string]int{}
	c.mu.Unlock()
	if len(holders) > 0 {
		metrics.ComponentsActive.WithLabelValues(c.name).Sub(float64(len(holders)))
	}
	for _, h := range holders {
		h.factory.Free(h.component)
	}
}

func (c *Container) findHolder(name string) (*holder, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	idx, ok := c.index[name]
	if !ok {
		return nil, false
	}
	return c.holders[idx], true
}

// FindComponent returns the named component, lazily loading it from the
// container's declaration if it has not yet been created. It reports
// ok=false both when name cannot be resolved at all and when resolving
// it hit a cyclic reference; callers that need to distinguish the two
// should use FindComponentE.
func (c *Container) FindComponent(name string) (Component, bool) {
	comp, err := c.FindComponentE(name)
	return comp, err == nil
}

// FindComponentE is FindComponent's error-returning counterpart. A
// lazy load that would recurse into itself (directly or transitively)
// fails with ErrCyclicReference instead of deadlocking.
func (c *Container) FindComponentE(name string) (Component, error) {
	if h, ok := c.findHolder(name); ok {
		return h.component, nil
	}
	if c.loader == nil {
		return nil, fmt.Errorf("component %q: %w", name, ErrNotFound)
	}
	if !loading.push(name) {
		c.logger.Error().Str("component", name).Msg("cyclic component reference")
		return nil, fmt.Errorf("component %q: %w", name, ErrCyclicReference)
	}
	defer loading.pop()

	text, ok := c.loader.Load(c.name)
	if !ok {
		return nil, fmt.Errorf("container %q: loading declaration: %w", c.name, ErrNotFound)
	}
	entries, err := config.DecodeDeclaration(text)
	if err != nil {
		return nil, fmt.Errorf("container %q: %w", c.name, err)
	}
	for _, e := range entries {
		if e.Name == name {
			if err := c.loadTyped(e.Name, e.Type); err != nil {
				c.logger.Warn().Err(err).Str("component", name).Msg("failed to lazily load component")
				return nil, err
			}
			break
		}
	}
	h, ok := c.findHolder(name)
	if !ok {
		return nil, fmt.Errorf("component %q: %w", name, ErrNotFound)
	}
	return h.component, nil
}

// DeleteComponent removes and frees the named component, stopping it
// first if it is not already stopped.
func (c *Container) DeleteComponent(name string) error {
	c.mu.Lock()
	idx, ok := c.index[name]
	if !ok {
		c.mu.Unlock()
		return fmt.Errorf("component %q: %w", name, ErrNotFound)
	}
	h := c.holders[idx]
	c.holders = append(c.holders[:idx], c.holders[idx+1:]...)
	delete(c.index, name)
	for n, i := range c.index {
		if i > idx {
			c.index[n] = i - 1
		}
	}
	c.mu.Unlock()
	metrics.ComponentsActive.WithLabelValues(c.name).Dec()

	if s, ok := h.component.(stateful); !ok || s.State() != component.StateStopped {
		h.component.Stop()
	}
	h.factory.Free(h.component)
	return nil
}

// ListComponents returns a snapshot of every component currently held by
// the container, in declaration order.
func (c *Container) ListComponents() []ComponentInfo {
	c.mu.RLock()
	defer c.mu.RUnlock()
	info := make([]ComponentInfo, 0, len(c.holders))
	for _, h := range c.holders {
		ci := ComponentInfo{Name: h.name, Type: h.factory.Type}
		if s, ok := h.component.(stateful); ok {
			ci.State = s.State().String()
		}
		info = append(info, ci)
	}
	return info
}
