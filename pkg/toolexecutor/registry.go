package toolexecutor

import (
	"fmt"
	"strings"
	"sync"

	"github.com/Masterminds/semver/v3"
	"github.com/rs/zerolog/log"
	"github.com/xeipuuv/gojsonschema"
	"golang.org/x/sync/semaphore"
)

type registeredTool struct {
	desc   ToolDescriptor
	schema *gojsonschema.Schema
	stats  *ToolStats
}

// ToolExecutor holds tool descriptors, dependency edges and per-tool stats,
// and executes tools with their dependency chains.
type ToolExecutor struct {
	cfg   Config
	tools map[string]*registeredTool
	order []string
	sem   *semaphore.Weighted
	mu    sync.RWMutex
}

// New creates a new ToolExecutor
func New(cfg Config) *ToolExecutor {
	defaults := DefaultConfig()
	if cfg.MaxConcurrentTools <= 0 {
		cfg.MaxConcurrentTools = defaults.MaxConcurrentTools
	}
	if cfg.DefaultTimeout <= 0 {
		cfg.DefaultTimeout = defaults.DefaultTimeout
	}
	if cfg.RetryBackoffFactor < 1 {
		cfg.RetryBackoffFactor = defaults.RetryBackoffFactor
	}
	if cfg.MaxChainLength <= 0 {
		cfg.MaxChainLength = defaults.MaxChainLength
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}

	te := &ToolExecutor{
		cfg:   cfg,
		tools: make(map[string]*registeredTool),
		sem:   semaphore.NewWeighted(int64(cfg.MaxConcurrentTools)),
	}

	log.Info().
		Int("max_concurrent_tools", cfg.MaxConcurrentTools).
		Dur("default_timeout", cfg.DefaultTimeout).
		Msg("Tool executor initialized")

	return te
}

// Config returns the effective executor configuration
func (te *ToolExecutor) Config() Config {
	return te.cfg
}

// Register registers a tool whose dependencies are already registered
func (te *ToolExecutor) Register(desc ToolDescriptor) error {
	return te.RegisterAll([]ToolDescriptor{desc})
}

// RegisterAll registers a batch of tools atomically. Dependencies may refer
// to registered tools or to other tools in the batch; the combined relation
// must be acyclic. Nothing is registered if any descriptor is rejected.
func (te *ToolExecutor) RegisterAll(descs []ToolDescriptor) error {
	prepared := make(map[string]*registeredTool, len(descs))
	names := make([]string, 0, len(descs))

	for _, desc := range descs {
		if err := validateDescriptor(desc); err != nil {
			return fmt.Errorf("invalid tool definition: %w", err)
		}
		if _, dup := prepared[desc.Name]; dup {
			return fmt.Errorf("%w: %s", ErrAlreadyRegistered, desc.Name)
		}

		schema, err := generateJSONSchema(desc)
		if err != nil {
			return fmt.Errorf("failed to generate schema for %s: %w", desc.Name, err)
		}

		desc.Dependencies = append([]string(nil), desc.Dependencies...)
		prepared[desc.Name] = &registeredTool{
			desc:   desc,
			schema: schema,
			stats:  &ToolStats{ErrorTypes: make(map[string]int64)},
		}
		names = append(names, desc.Name)
	}

	te.mu.Lock()

	for _, name := range names {
		if _, exists := te.tools[name]; exists {
			te.mu.Unlock()
			return fmt.Errorf("%w: %s", ErrAlreadyRegistered, name)
		}
	}

	lookup := func(name string) *registeredTool {
		if t, ok := prepared[name]; ok {
			return t
		}
		return te.tools[name]
	}

	for _, name := range names {
		tool := prepared[name]
		for _, dep := range tool.desc.Dependencies {
			depTool := lookup(dep)
			if depTool == nil {
				te.mu.Unlock()
				return fmt.Errorf("%w: %s requires %s", ErrUnknownDependency, name, dep)
			}
			if constraint, ok := tool.desc.DependencyConstraints[dep]; ok {
				if err := checkVersionCompatibility(depTool.desc.Version, constraint); err != nil {
					te.mu.Unlock()
					return fmt.Errorf("%w: %s requires %s %s: %v", ErrIncompatibleDependency, name, dep, constraint, err)
				}
			}
		}
	}

	all := append(append([]string(nil), te.order...), names...)
	graph := newDepGraph(all, func(n string) []string { return lookup(n).desc.Dependencies })
	sorted, err := graph.sortAll()
	if err != nil {
		te.mu.Unlock()
		return err
	}

	for _, name := range sorted {
		if tool, ok := prepared[name]; ok {
			te.tools[name] = tool
			te.order = append(te.order, name)
		}
	}
	te.mu.Unlock()

	for _, name := range names {
		desc := prepared[name].desc
		log.Info().
			Str("tool", name).
			Strs("dependencies", desc.Dependencies).
			Msg("Tool registered")

		if te.cfg.Manifests != nil {
			if err := te.cfg.Manifests.Save(desc); err != nil {
				log.Warn().Err(err).Str("tool", name).Msg("Failed to write tool manifest")
			}
		}
	}

	return nil
}

// checkVersionCompatibility checks a dependency version against a semver constraint
func checkVersionCompatibility(version, constraint string) error {
	if version == "" {
		return fmt.Errorf("dependency has no version")
	}

	v, err := semver.NewVersion(version)
	if err != nil {
		return fmt.Errorf("invalid version %s: %w", version, err)
	}

	c, err := semver.NewConstraint(constraint)
	if err != nil {
		return fmt.Errorf("invalid version constraint %s: %w", constraint, err)
	}

	if !c.Check(v) {
		return fmt.Errorf("version %s does not satisfy constraint %s", version, constraint)
	}

	return nil
}

// Unregister removes a tool that no other tool depends on
func (te *ToolExecutor) Unregister(name string) error {
	te.mu.Lock()

	if _, ok := te.tools[name]; !ok {
		te.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrToolNotFound, name)
	}

	var dependents []string
	for _, other := range te.order {
		for _, dep := range te.tools[other].desc.Dependencies {
			if dep == name {
				dependents = append(dependents, other)
			}
		}
	}
	if len(dependents) > 0 {
		te.mu.Unlock()
		return fmt.Errorf("%w: %s is required by %s", ErrToolInUse, name, strings.Join(dependents, ", "))
	}

	delete(te.tools, name)
	for i, n := range te.order {
		if n == name {
			te.order = append(te.order[:i], te.order[i+1:]...)
			break
		}
	}
	te.mu.Unlock()

	if te.cfg.Manifests != nil {
		if err := te.cfg.Manifests.Delete(name); err != nil {
			log.Warn().Err(err).Str("tool", name).Msg("Failed to remove tool manifest")
		}
	}

	log.Info().Str("tool", name).Msg("Tool unregistered")
	return nil
}

// ResolveOrder returns name's transitive dependencies in execution order,
// ending with name itself.
func (te *ToolExecutor) ResolveOrder(name string) ([]string, error) {
	te.mu.RLock()
	defer te.mu.RUnlock()

	if _, ok := te.tools[name]; !ok {
		return nil, fmt.Errorf("%w: %s", ErrToolNotFound, name)
	}

	graph := newDepGraph(te.order, func(n string) []string { return te.tools[n].desc.Dependencies })
	return graph.order(name)
}

// Get returns a copy of a tool descriptor
func (te *ToolExecutor) Get(name string) (ToolDescriptor, bool) {
	te.mu.RLock()
	defer te.mu.RUnlock()

	tool, ok := te.tools[name]
	if !ok {
		return ToolDescriptor{}, false
	}
	return tool.desc, true
}

// List returns all registered tool names in registration order
func (te *ToolExecutor) List() []string {
	te.mu.RLock()
	defer te.mu.RUnlock()

	return append([]string(nil), te.order...)
}

// Available returns the set of registered tool names
func (te *ToolExecutor) Available() map[string]bool {
	te.mu.RLock()
	defer te.mu.RUnlock()

	out := make(map[string]bool, len(te.tools))
	for name := range te.tools {
		out[name] = true
	}
	return out
}

// Stats returns a snapshot of a tool's stats
func (te *ToolExecutor) Stats(name string) (ToolStats, error) {
	te.mu.RLock()
	defer te.mu.RUnlock()

	tool, ok := te.tools[name]
	if !ok {
		return ToolStats{}, fmt.Errorf("%w: %s", ErrToolNotFound, name)
	}
	return tool.stats.clone(), nil
}

// AllStats returns a snapshot of every tool's stats
func (te *ToolExecutor) AllStats() map[string]ToolStats {
	te.mu.RLock()
	defer te.mu.RUnlock()

	out := make(map[string]ToolStats, len(te.tools))
	for name, tool := range te.tools {
		out[name] = tool.stats.clone()
	}
	return out
}

// ResetStats clears a tool's stats. An empty name resets every tool.
func (te *ToolExecutor) ResetStats(name string) error {
	te.mu.Lock()
	defer te.mu.Unlock()

	if name == "" {
		for _, tool := range te.tools {
			tool.stats = &ToolStats{ErrorTypes: make(map[string]int64)}
		}
		return nil
	}

	tool, ok := te.tools[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrToolNotFound, name)
	}
	tool.stats = &ToolStats{ErrorTypes: make(map[string]int64)}
	return nil
}

func (te *ToolExecutor) lookup(name string) (*registeredTool, error) {
	te.mu.RLock()
	defer te.mu.RUnlock()

	tool, ok := te.tools[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrToolNotFound, name)
	}
	return tool, nil
}
