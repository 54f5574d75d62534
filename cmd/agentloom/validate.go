package main

import (
	"fmt"

	"github.com/kadirpekel/agentloom/pkg/config"
)

// ValidateCmd validates a configuration file without running anything.
type ValidateCmd struct {
	Config      string `arg:"" name:"config" help:"Configuration file path." type:"path"`
	PrintConfig bool   `short:"p" name:"print-config" help:"Print the expanded configuration (defaults applied)."`
}

func (c *ValidateCmd) Run() error {
	cfg, err := config.Load(c.Config)
	if err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	if c.PrintConfig {
		fmt.Printf("%+v\n", cfg)
	}

	fmt.Printf("%s is valid (%d agents, %d tool packs)\n", c.Config, len(cfg.Agents), len(cfg.ToolPacks))
	return nil
}
