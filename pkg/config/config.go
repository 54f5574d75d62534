// Package config defines the on-disk shape for agent, tool-pack, and
// orchestrator configuration, plus a YAML loader with defaulting and
// validation.
package config

import (
	"fmt"
	"os"

	"github.com/mitchellh/mapstructure"
	"gopkg.in/yaml.v3"
)

// AgentConfig configures one registered agent persona (maps onto
// agentdef.Definition at load time).
type AgentConfig struct {
	ID             string   `yaml:"id" json:"id" jsonschema:"title=Agent ID,description=Unique agent identifier"`
	Description    string   `yaml:"description,omitempty" json:"description,omitempty"`
	Tags           []string `yaml:"tags,omitempty" json:"tags,omitempty" jsonschema:"title=Tags,description=Tags the Planner resolves subtasks against"`
	SystemPrompt   string   `yaml:"system_prompt,omitempty" json:"system_prompt,omitempty"`
	ToolNamespaces []string `yaml:"tool_namespaces,omitempty" json:"tool_namespaces,omitempty" jsonschema:"description=Empty means every registered tool"`
	DefaultTier    string   `yaml:"default_tier,omitempty" json:"default_tier,omitempty" jsonschema:"enum=standard,enum=elevated,enum=max,default=standard"`
}

// SetDefaults applies documented defaults to an AgentConfig.
func (c *AgentConfig) SetDefaults() {
	if c.DefaultTier == "" {
		c.DefaultTier = "standard"
	}
}

// Validate checks an AgentConfig for structural correctness.
func (c *AgentConfig) Validate() error {
	if c.ID == "" {
		return fmt.Errorf("config: agent config missing required id")
	}
	switch c.DefaultTier {
	case "standard", "elevated", "max":
	default:
		return fmt.Errorf("config: agent %q has invalid default_tier %q (valid: standard, elevated, max)", c.ID, c.DefaultTier)
	}
	return nil
}

// ToolPackType identifies a tool pack's transport.
type ToolPackType string

const (
	ToolPackTypeLocal ToolPackType = "local"
	ToolPackTypeMCP   ToolPackType = "mcp"
)

// ToolPackConfig configures one registered tool pack.
type ToolPackConfig struct {
	Name    string       `yaml:"name" json:"name"`
	Type    ToolPackType `yaml:"type,omitempty" json:"type,omitempty" jsonschema:"enum=local,enum=mcp,default=local"`
	Enabled *bool        `yaml:"enabled,omitempty" json:"enabled,omitempty"`

	// MCP-specific fields.
	Command string            `yaml:"command,omitempty" json:"command,omitempty"`
	Args    []string          `yaml:"args,omitempty" json:"args,omitempty"`
	Env     map[string]string `yaml:"env,omitempty" json:"env,omitempty"`

	ConflictPolicy string `yaml:"conflict_policy,omitempty" json:"conflict_policy,omitempty" jsonschema:"enum=namespace,enum=first-wins,enum=reject,default=namespace"`
}

// SetDefaults applies documented defaults to a ToolPackConfig.
func (c *ToolPackConfig) SetDefaults() {
	if c.Type == "" {
		c.Type = ToolPackTypeLocal
	}
	if c.Enabled == nil {
		enabled := true
		c.Enabled = &enabled
	}
	if c.ConflictPolicy == "" {
		c.ConflictPolicy = "namespace"
	}
}

// Validate checks a ToolPackConfig for structural correctness.
func (c *ToolPackConfig) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("config: tool pack config missing required name")
	}
	switch c.Type {
	case ToolPackTypeLocal, ToolPackTypeMCP:
	default:
		return fmt.Errorf("config: tool pack %q has invalid type %q (valid: local, mcp)", c.Name, c.Type)
	}
	if c.Type == ToolPackTypeMCP && c.Command == "" && c.Args == nil {
		return fmt.Errorf("config: mcp tool pack %q requires command", c.Name)
	}
	switch c.ConflictPolicy {
	case "namespace", "first-wins", "reject":
	default:
		return fmt.Errorf("config: tool pack %q has invalid conflict_policy %q", c.Name, c.ConflictPolicy)
	}
	return nil
}

// OrchestratorConfig configures the Adaptive Orchestrator.
type OrchestratorConfig struct {
	MaxConcurrent          int `yaml:"max_concurrent,omitempty" json:"max_concurrent,omitempty" jsonschema:"minimum=1,default=4"`
	SubtaskIterationBudget int `yaml:"subtask_iteration_budget,omitempty" json:"subtask_iteration_budget,omitempty" jsonschema:"minimum=0,default=12"`
	MaxAdaptationRounds    int `yaml:"max_adaptation_rounds,omitempty" json:"max_adaptation_rounds,omitempty" jsonschema:"minimum=0,default=3"`

	// HistoryRetention is the keep-newest-N trace count.
	HistoryRetention int `yaml:"history_retention,omitempty" json:"history_retention,omitempty" jsonschema:"minimum=1,default=30"`
}

// SetDefaults applies documented defaults to an OrchestratorConfig.
func (c *OrchestratorConfig) SetDefaults() {
	if c.MaxConcurrent <= 0 {
		c.MaxConcurrent = 4
	}
	if c.SubtaskIterationBudget <= 0 {
		c.SubtaskIterationBudget = 12
	}
	if c.MaxAdaptationRounds <= 0 {
		c.MaxAdaptationRounds = 3
	}
	if c.HistoryRetention <= 0 {
		c.HistoryRetention = 30
	}
}

// Config is the root, on-disk configuration document.
type Config struct {
	Agents       []AgentConfig       `yaml:"agents,omitempty" json:"agents,omitempty"`
	ToolPacks    []ToolPackConfig    `yaml:"tool_packs,omitempty" json:"tool_packs,omitempty"`
	Orchestrator OrchestratorConfig  `yaml:"orchestrator,omitempty" json:"orchestrator,omitempty"`
}

// SetDefaults applies documented defaults to the whole config tree.
func (c *Config) SetDefaults() {
	for i := range c.Agents {
		c.Agents[i].SetDefaults()
	}
	for i := range c.ToolPacks {
		c.ToolPacks[i].SetDefaults()
	}
	c.Orchestrator.SetDefaults()
}

// Validate checks the whole config tree, rejecting duplicate agent ids
// and duplicate tool pack names along the way.
func (c *Config) Validate() error {
	seenAgents := make(map[string]bool, len(c.Agents))
	for _, a := range c.Agents {
		if err := a.Validate(); err != nil {
			return err
		}
		if seenAgents[a.ID] {
			return fmt.Errorf("config: duplicate agent id %q", a.ID)
		}
		seenAgents[a.ID] = true
	}

	seenPacks := make(map[string]bool, len(c.ToolPacks))
	for _, p := range c.ToolPacks {
		if err := p.Validate(); err != nil {
			return err
		}
		if seenPacks[p.Name] {
			return fmt.Errorf("config: duplicate tool pack name %q", p.Name)
		}
		seenPacks[p.Name] = true
	}
	return nil
}

// Load reads and parses the YAML document at path into a defaulted,
// validated Config.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: failed to read %s: %w", path, err)
	}

	var generic map[string]any
	if err := yaml.Unmarshal(raw, &generic); err != nil {
		return nil, fmt.Errorf("config: failed to parse yaml in %s: %w", path, err)
	}

	var cfg Config
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &cfg,
		TagName:          "yaml",
		WeaklyTypedInput: true,
	})
	if err != nil {
		return nil, fmt.Errorf("config: failed to build decoder: %w", err)
	}
	if err := decoder.Decode(generic); err != nil {
		return nil, fmt.Errorf("config: failed to decode %s: %w", path, err)
	}

	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: invalid config in %s: %w", path, err)
	}
	return &cfg, nil
}
