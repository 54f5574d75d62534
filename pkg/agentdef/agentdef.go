// Package agentdef is the process-wide Agent registry: a named store of
// agent definitions the Planner resolves subtasks against by tag, keyword,
// or capability, wrapping pkg/registry.BaseRegistry.
package agentdef

import (
	"fmt"
	"strings"

	"github.com/kadirpekel/agentloom/pkg/registry"
	"github.com/kadirpekel/agentloom/pkg/runctx"
)

// Definition is one configured agent persona: a system prompt, a tool
// allowlist namespace, a default tier, and the tags/capabilities the
// Planner matches subtasks against.
type Definition struct {
	ID              string
	Description     string
	Tags            []string
	SystemPrompt    string
	ToolNamespaces  []string // empty means "every registered tool"
	DefaultTier     runctx.Tier
	OutputSchema    map[string]any
}

// RegistryError is the typed error this package returns.
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
	return &RegistryError{Component: "agentdef.Registry", Action: action, Message: message, Err: err}
}

// Registry is the process-wide, registration-time-immutable set of agent
// definitions available to the Planner.
type Registry struct {
	byID *registry.BaseRegistry[Definition]
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{byID: registry.NewBaseRegistry[Definition]()}
}

// Register adds def under def.ID.
func (r *Registry) Register(def Definition) error {
	if def.ID == "" {
		return newErr("Register", "agent id cannot be empty", nil)
	}
	if err := r.byID.Register(def.ID, def); err != nil {
		return newErr("Register", fmt.Sprintf("failed to register agent %q", def.ID), err)
	}
	return nil
}

// Get returns the definition registered under id.
func (r *Registry) Get(id string) (Definition, bool) {
	return r.byID.Get(id)
}

// List returns every registered definition, sorted by ID.
func (r *Registry) List() []Definition {
	return r.byID.List()
}

// ResolveByTags returns every agent definition whose Tags intersect
// wanted, matched case-insensitively with union semantics (any shared tag
// qualifies), "filters by tags/keywords/capabilities
// (case-insensitive, union semantics for tags)".
func (r *Registry) ResolveByTags(wanted []string) []Definition {
	if len(wanted) == 0 {
		return nil
	}
	wantSet := make(map[string]bool, len(wanted))
	for _, w := range wanted {
		wantSet[strings.ToLower(w)] = true
	}

	var out []Definition
	for _, def := range r.byID.List() {
		for _, tag := range def.Tags {
			if wantSet[strings.ToLower(tag)] {
				out = append(out, def)
				break
			}
		}
	}
	return out
}

// ResolveByKeyword matches definitions whose Description or ID contains
// keyword, case-insensitively — a looser fallback for subtasks the tag
// match leaves unresolved.
func (r *Registry) ResolveByKeyword(keyword string) []Definition {
	if keyword == "" {
		return nil
	}
	needle := strings.ToLower(keyword)

	var out []Definition
	for _, def := range r.byID.List() {
		if strings.Contains(strings.ToLower(def.Description), needle) || strings.Contains(strings.ToLower(def.ID), needle) {
			out = append(out, def)
		}
	}
	return out
}
