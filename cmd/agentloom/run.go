package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/kadirpekel/agentloom/pkg/agentdef"
	"github.com/kadirpekel/agentloom/pkg/budget"
	"github.com/kadirpekel/agentloom/pkg/classifier"
	"github.com/kadirpekel/agentloom/pkg/config"
	"github.com/kadirpekel/agentloom/pkg/guard"
	"github.com/kadirpekel/agentloom/pkg/llm"
	"github.com/kadirpekel/agentloom/pkg/middleware"
	"github.com/kadirpekel/agentloom/pkg/orchestrator"
	"github.com/kadirpekel/agentloom/pkg/planner"
	"github.com/kadirpekel/agentloom/pkg/runctx"
	"github.com/kadirpekel/agentloom/pkg/runner"
	"github.com/kadirpekel/agentloom/pkg/toolpack"
	mcptoolpack "github.com/kadirpekel/agentloom/pkg/toolpack/mcp"
)

// RunCmd runs one task through the orchestrator end to end.
type RunCmd struct {
	Task         string   `arg:"" help:"The task description to run."`
	Config       string   `short:"c" help:"Path to configuration file." type:"path"`
	Provider     string   `help:"Registered LLM provider name (see pkg/llm.Register)." default:"anthropic"`
	APIKey       string   `name:"api-key" help:"API key for the LLM provider."`
	Model        string   `help:"Model name to request from the provider."`
	ApproveTools []string `name:"approve-tool" help:"Tool name requiring an interactive y/n approval before each call. Repeatable."`
}

func (c *RunCmd) Run() error {
	ctx := context.Background()

	cfg := &config.Config{}
	if c.Config != "" {
		loaded, err := config.Load(c.Config)
		if err != nil {
			return err
		}
		cfg = loaded
	} else {
		cfg.SetDefaults()
	}

	capability, err := llm.Open(c.Provider, map[string]string{"api_key": c.APIKey, "model": c.Model})
	if err != nil {
		return fmt.Errorf("run: %w (registered providers: %s)", err, strings.Join(llm.Providers(), ", "))
	}

	agents := agentdef.NewRegistry()
	for _, a := range cfg.Agents {
		if err := agents.Register(agentdef.Definition{
			ID:           a.ID,
			Description:  a.Description,
			Tags:         a.Tags,
			SystemPrompt: a.SystemPrompt,
			DefaultTier:  parseTier(a.DefaultTier),
		}); err != nil {
			return fmt.Errorf("run: failed to register agent %q: %w", a.ID, err)
		}
	}
	if len(cfg.Agents) == 0 {
		if err := agents.Register(agentdef.Definition{ID: "default", Description: "general-purpose worker"}); err != nil {
			return err
		}
	}

	tools := toolpack.NewManager(nil)
	var closers []func() error
	defer func() {
		for _, closeFn := range closers {
			closeFn()
		}
	}()

	for _, p := range cfg.ToolPacks {
		if p.Enabled != nil && !*p.Enabled {
			continue
		}
		if p.Type != config.ToolPackTypeMCP {
			continue
		}
		pack, closeFn, err := mcptoolpack.Connect(ctx, p.Name, p.Command, p.Args, p.Env)
		if err != nil {
			return fmt.Errorf("run: failed to connect tool pack %q: %w", p.Name, err)
		}
		closers = append(closers, closeFn)
		if err := tools.RegisterPack(pack); err != nil {
			return fmt.Errorf("run: failed to register tool pack %q: %w", p.Name, err)
		}
	}

	var inputGuards []guard.InputGuard
	if len(c.ApproveTools) > 0 {
		gated := make(map[string]bool, len(c.ApproveTools))
		for _, name := range c.ApproveTools {
			gated[name] = true
		}
		inputGuards = append(inputGuards, ApprovalPrompt{Gated: gated})
	}

	buildRunner := func(subtask planner.Subtask, agent agentdef.Definition) *runner.Runner {
		return runner.New(runner.Config{
			LLM:               capability,
			Tools:             tools,
			Guards:            &guard.Chain{InputGuards: inputGuards, OutputGuards: []guard.OutputGuard{guard.SecretRedactor{}}},
			Middlewares:       middleware.NewPipeline(),
			Budget:            budget.New(nil, cfg.Orchestrator.SubtaskIterationBudget),
			EscalationEnabled: true,
			MaxTier:           int(runctx.TierMax),
		})
	}

	o := orchestrator.New(orchestrator.Config{
		Classifier:             capability,
		Agents:                 agents,
		BuildRunner:            buildRunner,
		MaxConcurrent:          cfg.Orchestrator.MaxConcurrent,
		SubtaskIterationBudget: cfg.Orchestrator.SubtaskIterationBudget,
		MaxAdaptationRounds:    cfg.Orchestrator.MaxAdaptationRounds,
	})

	result, err := o.Run(ctx, "", c.Task, singleSubtaskDecomposer{})
	if err != nil {
		return fmt.Errorf("run: %w", err)
	}

	fmt.Printf("Classification: %s (%s confidence, via %s)\n", result.Classification.Tier, result.Classification.Confidence, result.Classification.Method)
	fmt.Printf("Status: %s\n\n", result.Status)
	fmt.Println(result.FinalAnswer)
	return nil
}

func parseTier(name string) runctx.Tier {
	switch name {
	case "elevated":
		return runctx.TierElevated
	case "max":
		return runctx.TierMax
	default:
		return runctx.TierStandard
	}
}

// singleSubtaskDecomposer is the CLI's default task decomposition: one
// subtask carrying the whole task description. Real decomposition (an
// LLM call that splits a task into a dependency graph of subtasks) is an
// application-level concern the orchestrator deliberately leaves to its
// caller.
type singleSubtaskDecomposer struct{}

func (singleSubtaskDecomposer) Decompose(ctx context.Context, task string, classification classifier.Classification) ([]planner.SubtaskSpec, error) {
	return []planner.SubtaskSpec{{Description: task}}, nil
}
