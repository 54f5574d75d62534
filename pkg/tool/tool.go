// Package tool defines the contract a tool implementation exposes to the
// engine. Concrete tools (filesystem, shell, search, RAG, ...) are external
// collaborators; this package only fixes the shape the engine consumes.
package tool

import (
	"context"
	"time"

	"github.com/kadirpekel/agentloom/pkg/llm"
)

// Tool is the capability contract for a single invocable tool,
type Tool interface {
	// Name is the tool's short name, unique within its source pack before
	// conflict resolution.
	Name() string

	// Description is shown to the LLM to decide when to call this tool.
	Description() string

	// InputSchema is the JSON Schema (type:"object", properties, required)
	// describing the tool's arguments.
	InputSchema() map[string]any

	// ReadOnly reports whether this tool may be safely fanned out alongside
	// other read-only calls within one iteration.
	ReadOnly() bool

	// Execute runs the tool. It must never panic across this boundary —
	// unexpected failures are the caller's responsibility to capture into
	// a Result.error.
	Execute(ctx context.Context, input map[string]any) (Result, error)
}

// Result is the outcome of a single tool invocation — a discriminated
// success/error union
type Result struct {
	Success  bool
	Output   any
	Error    *ResultError
	Metadata Metadata
}

// ResultError carries a machine-readable failure from a tool call.
type ResultError struct {
	Code    string
	Message string
	Details map[string]any
}

func (e *ResultError) Error() string {
	if e == nil {
		return ""
	}
	return e.Code + ": " + e.Message
}

// Metadata is attached to every Result regardless of success.
type Metadata struct {
	DurationMs int64
	TokensUsed int
}

// Ok builds a successful Result.
func Ok(output any, meta Metadata) Result {
	return Result{Success: true, Output: output, Metadata: meta}
}

// Err builds a failed Result.
func Err(code, message string, meta Metadata) Result {
	return Result{Success: false, Error: &ResultError{Code: code, Message: message}, Metadata: meta}
}

// TimedExecute wraps Execute with a duration measurement, the way every
// built-in tool in this module reports its Metadata.DurationMs.
func TimedExecute(ctx context.Context, t Tool, input map[string]any) Result {
	start := time.Now()
	result, err := t.Execute(ctx, input)
	elapsed := time.Since(start).Milliseconds()
	result.Metadata.DurationMs = elapsed

	if err != nil {
		return Err("EXECUTION_ERROR", err.Error(), result.Metadata)
	}
	return result
}

// ToDefinition converts a Tool into the llm.ToolDefinition shape sent to
// the LLM capability, using qualifiedName as the externally visible name
// (which may differ from t.Name() after namespace-prefix conflict
// resolution — see pkg/toolpack).
func ToDefinition(qualifiedName string, t Tool) llm.ToolDefinition {
	return llm.ToolDefinition{
		Name:        qualifiedName,
		Description: t.Description(),
		InputSchema: t.InputSchema(),
	}
}
