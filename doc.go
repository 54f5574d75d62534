// Package agentloom is an adaptive LLM agent platform: it classifies an
// incoming task's complexity, plans a sequence of subtasks, dispatches each
// subtask through an agent execution loop backed by a tool registry and a
// middleware/guard chain, tracks findings, adapts the plan, and synthesizes
// a final answer.
//
// The engine is split into two layers:
//
//   - pkg/runner: the Execution Loop (Agent Runner) — one LLM+tool
//     iteration loop per agent run, with budget/stop-condition/middleware
//     machinery around it.
//   - pkg/orchestrator: the Adaptive Orchestrator — classifies a task,
//     plans subtasks, dispatches them (respecting dependencies and a
//     concurrency budget) through the Execution Loop, and synthesizes a
//     final answer from their findings.
//
// LLM providers and concrete tool implementations are consumed through the
// pkg/llm.Capability and pkg/tool.Tool interfaces; this module does not
// implement either.
package agentloom

// Version identifies this build of the engine.
const Version = "0.1.0"
