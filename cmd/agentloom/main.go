// Command agentloom is the CLI for the agentloom engine.
//
// Usage:
//
//	agentloom run --config config.yaml "find every TODO in the billing package"
//	agentloom validate config.yaml
//	agentloom schema
package main

import (
	"fmt"
	"os"

	"github.com/alecthomas/kong"
	"github.com/joho/godotenv"
)

// CLI defines the command-line interface.
type CLI struct {
	Run      RunCmd      `cmd:"" help:"Run a task through the orchestrator."`
	Validate ValidateCmd `cmd:"" help:"Validate a configuration file."`
	Schema   SchemaCmd   `cmd:"" help:"Print the JSON Schema for the configuration file."`
	Version  VersionCmd  `cmd:"" help:"Show version information."`
}

// VersionCmd prints the engine version.
type VersionCmd struct{}

func (c *VersionCmd) Run() error {
	fmt.Println("agentloom version", version)
	return nil
}

const version = "0.1.0"

func main() {
	_ = godotenv.Load()

	cli := CLI{}
	ctx := kong.Parse(&cli,
		kong.Name("agentloom"),
		kong.Description("Adaptive Orchestration Engine CLI"),
		kong.UsageOnError(),
	)

	err := ctx.Run(&cli)
	ctx.FatalIfErrorf(err)
	if err != nil {
		os.Exit(1)
	}
}
