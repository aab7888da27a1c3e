package plugin

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/paymux/paymux/infra/config"
	"github.com/paymux/paymux/infra/logger"
	"github.com/paymux/paymux/provider"
)

// State is the lifecycle state of an installed provider plugin
type State string

const (
	// StateDiscovered means the adapter is registered but carries no
	// configuration yet
	StateDiscovered State = "discovered"
	// StateConfigured means a validated configuration is stored
	StateConfigured State = "configured"
	// StateActive means the plugin serves traffic
	StateActive State = "active"
	// StateInactive means the plugin was deactivated; its configuration
	// is kept
	StateInactive State = "inactive"
)

var (
	ErrNotRegistered = errors.New("provider is not registered")
	ErrNotConfigured = errors.New("provider is not configured")
	ErrNotActive     = errors.New("provider is not active")
	ErrStillActive   = errors.New("provider is still active")
)

// Descriptor describes one plugin to the management API
type Descriptor struct {
	Name         string                 `json:"name"`
	State        State                  `json:"state"`
	Mode         string                 `json:"mode,omitempty"`
	Capabilities provider.Capabilities  `json:"capabilities"`
	ConfigFields []provider.ConfigField `json:"configFields"`
}

// Host owns the plugin lifecycle and the routing table from provider name to
// initialized adapter. Adapters are cached per (provider, mode); credential
// resolution runs fresh on every construction, so a sandbox toggle or a
// rotated secret takes effect as soon as the cached instance ages out or the
// plugin is reconfigured.
type Host struct {
	registry *provider.Registry
	configs  *config.ProviderConfig
	cache    provider.Cache

	mu     sync.RWMutex
	states map[string]State
}

// NewHost creates a plugin host over a registry and a config store. cache
// may be nil; a bounded in-memory cache is used then.
func NewHost(registry *provider.Registry, configs *config.ProviderConfig, cache provider.Cache) *Host {
	if cache == nil {
		cache = provider.NewCache(32, 30*time.Minute)
	}
	h := &Host{
		registry: registry,
		configs:  configs,
		cache:    cache,
		states:   make(map[string]State),
	}

	// configurations surviving a restart come back as configured; activation
	// is an explicit operator step
	for _, name := range configs.GetAvailableProviders() {
		if _, err := registry.Get(name); err == nil {
			h.states[name] = StateConfigured
		}
	}
	return h
}

// Discover lists every registered adapter with its lifecycle state and
// config schema
func (h *Host) Discover() []Descriptor {
	h.mu.RLock()
	defer h.mu.RUnlock()

	names := h.registry.GetProviderNames()
	out := make([]Descriptor, 0, len(names))
	for _, name := range names {
		out = append(out, h.describeLocked(name))
	}
	return out
}

// Describe returns the descriptor for one plugin
func (h *Host) Describe(name string) (*Descriptor, error) {
	name = strings.ToLower(name)
	if _, err := h.registry.Get(name); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrNotRegistered, name)
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	d := h.describeLocked(name)
	return &d, nil
}

func (h *Host) describeLocked(name string) Descriptor {
	state, ok := h.states[name]
	if !ok {
		state = StateDiscovered
	}

	d := Descriptor{Name: name, State: state}
	if p, err := h.registry.CreateProvider(name); err == nil {
		d.Capabilities = p.Capabilities()
		d.ConfigFields = p.GetRequiredConfig(h.modeLocked(name))
	}
	if state != StateDiscovered {
		d.Mode = h.modeLocked(name)
	}
	return d
}

func (h *Host) modeLocked(name string) string {
	bag, err := h.configs.GetConfig(name)
	if err != nil {
		return provider.ModeFor(false)
	}
	return provider.ModeFor(bag["sandbox"] == "true")
}

// Configure validates and stores a plugin configuration. Reconfiguring an
// active plugin keeps it active; its cached adapters are dropped so the next
// request builds from the new material.
func (h *Host) Configure(name string, cfg map[string]string) error {
	name = strings.ToLower(name)
	p, err := h.registry.CreateProvider(name)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrNotRegistered, name)
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	merged := cfg
	if existing, err := h.configs.GetConfig(name); err == nil {
		merged = make(map[string]string, len(existing)+len(cfg))
		for k, v := range existing {
			merged[k] = v
		}
		for k, v := range cfg {
			merged[k] = v
		}
	}

	fields := p.GetRequiredConfig(provider.ModeFor(merged["sandbox"] == "true"))
	if err := provider.ValidateConfigFields(name, merged, fields); err != nil {
		return err
	}

	if err := h.configs.MergeConfig(name, cfg); err != nil {
		return fmt.Errorf("failed to store configuration for %s: %w", name, err)
	}

	if h.states[name] != StateActive {
		h.states[name] = StateConfigured
	}
	h.cache.DeleteProvider(name)

	logger.Info("plugin configured", logger.LogContext{Provider: name})
	return nil
}

// Activate moves a configured or inactive plugin into service. The adapter
// is built once here so a broken credential set fails the activation instead
// of the first payment.
func (h *Host) Activate(name string) error {
	name = strings.ToLower(name)
	if _, err := h.registry.Get(name); err != nil {
		return fmt.Errorf("%w: %s", ErrNotRegistered, name)
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	switch h.states[name] {
	case StateActive:
		return nil
	case StateConfigured, StateInactive:
	default:
		return fmt.Errorf("%w: %s", ErrNotConfigured, name)
	}

	adapter, mode, err := h.buildAdapter(name)
	if err != nil {
		return err
	}
	h.cache.Set(name, mode, adapter)
	h.states[name] = StateActive

	logger.Info("plugin activated", logger.LogContext{
		Provider: name,
		Fields:   map[string]any{"mode": mode},
	})
	return nil
}

// Deactivate takes a plugin out of service, keeping its configuration
func (h *Host) Deactivate(name string) error {
	name = strings.ToLower(name)

	h.mu.Lock()
	defer h.mu.Unlock()

	if h.states[name] != StateActive {
		return fmt.Errorf("%w: %s", ErrNotActive, name)
	}
	h.states[name] = StateInactive
	h.cache.DeleteProvider(name)

	logger.Info("plugin deactivated", logger.LogContext{Provider: name})
	return nil
}

// Uninstall removes a plugin's configuration. Active plugins must be
// deactivated first.
func (h *Host) Uninstall(name string) error {
	name = strings.ToLower(name)

	h.mu.Lock()
	defer h.mu.Unlock()

	if h.states[name] == StateActive {
		return fmt.Errorf("%w: %s", ErrStillActive, name)
	}

	if err := h.configs.DeleteConfig(name); err != nil {
		return fmt.Errorf("failed to delete configuration for %s: %w", name, err)
	}
	delete(h.states, name)
	h.cache.DeleteProvider(name)

	logger.Info("plugin uninstalled", logger.LogContext{Provider: name})
	return nil
}

// AdapterFor resolves an initialized adapter for an active plugin. Implements
// provider.AdapterSource.
func (h *Host) AdapterFor(name string) (provider.PaymentProvider, error) {
	name = strings.ToLower(name)

	h.mu.RLock()
	state := h.states[name]
	mode := h.modeLocked(name)
	h.mu.RUnlock()

	if state != StateActive {
		return nil, fmt.Errorf("%w: %s", ErrNotActive, name)
	}

	if cached := h.cache.Get(name, mode); cached != nil {
		return cached, nil
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	// another request may have rebuilt it while we waited for the lock
	if cached := h.cache.Get(name, mode); cached != nil {
		return cached, nil
	}

	adapter, mode, err := h.buildAdapter(name)
	if err != nil {
		return nil, err
	}
	h.cache.Set(name, mode, adapter)
	return adapter, nil
}

// buildAdapter constructs and initializes a fresh adapter from the stored
// configuration. Callers hold the write lock.
func (h *Host) buildAdapter(name string) (provider.PaymentProvider, string, error) {
	bag, err := h.configs.GetConfig(name)
	if err != nil {
		return nil, "", fmt.Errorf("%w: %s", ErrNotConfigured, name)
	}

	adapter, err := h.registry.CreateProvider(name)
	if err != nil {
		return nil, "", fmt.Errorf("%w: %s", ErrNotRegistered, name)
	}

	sandbox := bag["sandbox"] == "true"
	mode := provider.ModeFor(sandbox)
	fields := adapter.GetRequiredConfig(mode)

	creds, err := provider.ResolveCredentials(name, bag, sandbox, provider.SecretFieldKeys(fields))
	if err != nil {
		return nil, "", err
	}

	// non-secret settings pass through as stored; secrets arrive unprefixed
	// from the resolver
	initCfg := make(map[string]string, len(bag))
	for k, v := range bag {
		if strings.HasPrefix(k, provider.TestPrefix) || strings.HasPrefix(k, provider.LivePrefix) {
			continue
		}
		initCfg[k] = v
	}
	for k, v := range creds.Map() {
		initCfg[k] = v
	}

	if err := adapter.Initialize(initCfg); err != nil {
		return nil, "", fmt.Errorf("failed to initialize %s adapter: %w", name, err)
	}
	return adapter, mode, nil
}
