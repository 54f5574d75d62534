// Package toolpack is the Tool Registry & Manager: a uniform view over
// multiple tool packs with namespace resolution, conflict policy, and
// permission filtering, wrapping pkg/registry.BaseRegistry.
package toolpack

import (
	"context"
	"fmt"
	"sort"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/kadirpekel/agentloom/pkg/observability"
	"github.com/kadirpekel/agentloom/pkg/registry"
	"github.com/kadirpekel/agentloom/pkg/runctx"
	"github.com/kadirpekel/agentloom/pkg/tool"
)

// ConflictPolicy governs what happens when two packs declare the same
// short tool name.
type ConflictPolicy string

const (
	ConflictError           ConflictPolicy = "error"
	ConflictOverride        ConflictPolicy = "override"
	ConflictNamespacePrefix ConflictPolicy = "namespace-prefix"
)

// Permissions constrains what a pack's tools may do at execution time.
type Permissions struct {
	AllowedPaths   []string
	DeniedCommands []string
	NetworkAllowed bool
}

// allowsPath reports whether p is within one of the allowed path prefixes.
// An empty AllowedPaths list means no path restriction is configured.
func (p Permissions) allowsPath(path string) bool {
	if len(p.AllowedPaths) == 0 {
		return true
	}
	for _, allowed := range p.AllowedPaths {
		if len(path) >= len(allowed) && path[:len(allowed)] == allowed {
			return true
		}
	}
	return false
}

func (p Permissions) deniesCommand(cmd string) bool {
	for _, denied := range p.DeniedCommands {
		if denied == cmd {
			return true
		}
	}
	return false
}

// Pack is a namespaced, versioned bundle of tools with a priority and
// permission profile.
type Pack struct {
	ID             string
	Namespace      string
	Priority       int
	ConflictPolicy ConflictPolicy
	Tools          []tool.Tool
	Permissions    Permissions
}

// entry is what gets stored in the resolved registry: a tool plus the
// pack metadata needed to apply permission constraints at execution time.
type entry struct {
	tool      tool.Tool
	pack      *Pack
	shortName string
	qualified string
}

// Filter narrows getTools results.
type Filter struct {
	ReadOnly   *bool
	Capability string
	Namespace  string
}

func (f Filter) matches(e entry) bool {
	if f.ReadOnly != nil && e.tool.ReadOnly() != *f.ReadOnly {
		return false
	}
	if f.Namespace != "" && e.pack.Namespace != f.Namespace {
		return false
	}
	// Capability is matched against the pack's namespace as a coarse
	// capability tag; concrete tools do not carry a separate capability
	// field in this module's Tool contract.
	if f.Capability != "" && e.pack.Namespace != f.Capability {
		return false
	}
	return true
}

// Manager is the resolved, registration-time-immutable tool table built
// from one or more Packs.
type Manager struct {
	registry *registry.BaseRegistry[entry]
	packs    []*Pack
	metrics  observability.Metrics
}

// RegistryError is the typed error this package returns, grounded on the
// teacher's ToolRegistryError.
type RegistryError struct {
	Component string
	Action    string
	Message   string
	Err       error
}

func (e *RegistryError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s:%s] %s: %v", e.Component, e.Action, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s:%s] %s", e.Component, e.Action, e.Message)
}

func (e *RegistryError) Unwrap() error { return e.Err }

func newErr(action, message string, err error) *RegistryError {
	return &RegistryError{Component: "toolpack.Manager", Action: action, Message: message, Err: err}
}

// NewManager creates an empty Manager. Metrics defaults to
// observability.NoopMetrics if nil.
func NewManager(metrics observability.Metrics) *Manager {
	if metrics == nil {
		metrics = observability.NoopMetrics
	}
	return &Manager{
		registry: registry.NewBaseRegistry[entry](),
		metrics:  metrics,
	}
}

// RegisterPack resolves pack's tools into the Manager's table, applying
// pack.ConflictPolicy against any tool short name already present.
// Packs should be registered in any order before the first run; priority,
// not registration order, decides override conflicts.
func (m *Manager) RegisterPack(pack *Pack) error {
	if pack.ID == "" {
		return newErr("RegisterPack", "pack id cannot be empty", nil)
	}

	m.packs = append(m.packs, pack)

	for _, t := range pack.Tools {
		if err := m.resolve(pack, t); err != nil {
			return err
		}
	}
	return nil
}

func (m *Manager) resolve(pack *Pack, t tool.Tool) error {
	shortName := t.Name()
	prefixed := pack.Namespace + "." + shortName

	existing, hasShort := m.registry.Get(shortName)

	switch {
	case !hasShort:
		m.registry.Put(shortName, entry{tool: t, pack: pack, shortName: shortName, qualified: shortName})
		return nil

	case existing.pack.ConflictPolicy == ConflictNamespacePrefix || pack.ConflictPolicy == ConflictNamespacePrefix:
		// namespace-prefix: both sides become qualified, unqualified name
		// is removed if it pointed at either of these two.
		if existing.qualified == shortName {
			m.registry.Put(existing.pack.Namespace+"."+shortName, existing)
			if err := m.registry.Remove(shortName); err != nil {
				return newErr("RegisterPack", "failed to remove shadowed unqualified entry", err)
			}
		}
		m.registry.Put(prefixed, entry{tool: t, pack: pack, shortName: shortName, qualified: prefixed})
		return nil

	case existing.pack.ConflictPolicy == ConflictError || pack.ConflictPolicy == ConflictError:
		return newErr("RegisterPack",
			fmt.Sprintf("tool %q already registered by pack %q, conflicting pack %q declares error policy", shortName, existing.pack.ID, pack.ID), nil)

	case existing.pack.ConflictPolicy == ConflictOverride && pack.ConflictPolicy == ConflictOverride:
		if pack.Priority > existing.pack.Priority {
			m.registry.Put(shortName, entry{tool: t, pack: pack, shortName: shortName, qualified: shortName})
		}
		// else: existing (higher or equal priority) wins, keep it.
		return nil

	default:
		return newErr("RegisterPack",
			fmt.Sprintf("tool %q conflict between pack %q and %q has no compatible resolution", shortName, existing.pack.ID, pack.ID), nil)
	}
}

// GetTools returns the resolved set after applying filter.
func (m *Manager) GetTools(filter Filter) []tool.Tool {
	entries := m.registry.List()
	out := make([]tool.Tool, 0, len(entries))
	for _, e := range entries {
		if filter.matches(e) {
			out = append(out, e.tool)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name() < out[j].Name() })
	return out
}

// QualifiedNames returns every resolved qualified tool name, sorted.
// Qualified names are unique across all loaded packs after conflict
// resolution by construction, since resolve() only ever Puts under a
// single key per call.
func (m *Manager) QualifiedNames() []string {
	return m.registry.Names()
}

// Execute looks up qualifiedName, applies permission constraints, and
// runs the tool, producing a tool.Result — never propagating a panic or
// unexpected error across the boundary: those are captured
// into Result.Error.
func (m *Manager) Execute(ctx context.Context, qualifiedName string, input map[string]any, rc *runctx.RunContext) tool.Result {
	start := time.Now()

	tracer := observability.GetTracer("toolpack")
	ctx, span := tracer.Start(ctx, observability.SpanToolExecution,
		trace.WithAttributes(attribute.String(observability.AttrToolName, qualifiedName)))
	defer span.End()

	e, ok := m.registry.Get(qualifiedName)
	if !ok {
		err := fmt.Errorf("tool %q not found", qualifiedName)
		span.RecordError(err)
		span.SetStatus(codes.Error, "tool not found")
		m.metrics.RecordToolExecution(ctx, qualifiedName, time.Since(start), err)
		return tool.Err("TOOL_NOT_FOUND", err.Error(), tool.Metadata{DurationMs: time.Since(start).Milliseconds()})
	}

	if cmd, isCmd := input["command"].(string); isCmd && e.pack.Permissions.deniesCommand(cmd) {
		err := fmt.Errorf("command %q is denied by pack %q permissions", cmd, e.pack.ID)
		span.RecordError(err)
		span.SetStatus(codes.Error, "permission denied")
		m.metrics.RecordToolExecution(ctx, qualifiedName, time.Since(start), err)
		return tool.Err("PERMISSION_DENIED", err.Error(), tool.Metadata{DurationMs: time.Since(start).Milliseconds()})
	}
	if path, isPath := input["path"].(string); isPath && !e.pack.Permissions.allowsPath(path) {
		err := fmt.Errorf("path %q is outside pack %q's allowed paths", path, e.pack.ID)
		span.RecordError(err)
		span.SetStatus(codes.Error, "permission denied")
		m.metrics.RecordToolExecution(ctx, qualifiedName, time.Since(start), err)
		return tool.Err("PERMISSION_DENIED", err.Error(), tool.Metadata{DurationMs: time.Since(start).Milliseconds()})
	}
	if !e.pack.Permissions.NetworkAllowed {
		if _, isURL := input["url"].(string); isURL {
			err := fmt.Errorf("network access is not permitted for pack %q", e.pack.ID)
			span.RecordError(err)
			span.SetStatus(codes.Error, "permission denied")
			m.metrics.RecordToolExecution(ctx, qualifiedName, time.Since(start), err)
			return tool.Err("PERMISSION_DENIED", err.Error(), tool.Metadata{DurationMs: time.Since(start).Milliseconds()})
		}
	}

	result := safeExecute(ctx, e.tool, input)
	duration := time.Since(start)
	result.Metadata.DurationMs = duration.Milliseconds()

	var recordErr error
	if !result.Success && result.Error != nil {
		recordErr = result.Error
		span.RecordError(recordErr)
		span.SetStatus(codes.Error, result.Error.Message)
	} else {
		span.SetStatus(codes.Ok, "success")
	}
	m.metrics.RecordToolExecution(ctx, qualifiedName, duration, recordErr)

	return result
}

// safeExecute recovers from a panicking tool implementation and converts
// it into a Result.Error, honoring the "never throws across the boundary"
// contract even against a misbehaving Tool.
func safeExecute(ctx context.Context, t tool.Tool, input map[string]any) (result tool.Result) {
	defer func() {
		if r := recover(); r != nil {
			result = tool.Err("PANIC", fmt.Sprintf("tool panicked: %v", r), tool.Metadata{})
		}
	}()

	res, err := t.Execute(ctx, input)
	if err != nil {
		return tool.Err("EXECUTION_ERROR", err.Error(), tool.Metadata{})
	}
	return res
}
