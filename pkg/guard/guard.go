// Package guard implements the fixed pipeline wrapped around every tool
// call — normalize → validateInput → execute → validateOutput → process
// — plus the built-in path sandbox, prompt-injection scanner,
// secret redactor, and output processors.
package guard

import (
	"context"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/kadirpekel/agentloom/pkg/tool"
)

// Normalizer mutates tool input before validation. Must be total: it never
// fails, and passes unknown tools through unchanged.
type Normalizer interface {
	Normalize(toolName string, input map[string]any) map[string]any
}

// NormalizerFunc adapts a function to a Normalizer.
type NormalizerFunc func(toolName string, input map[string]any) map[string]any

func (f NormalizerFunc) Normalize(toolName string, input map[string]any) map[string]any {
	return f(toolName, input)
}

// InputVerdict is an input guard's decision.
type InputVerdict struct {
	Reject bool
	Reason string
}

// InputGuard validates a tool call's input before execution.
type InputGuard interface {
	ValidateInput(toolName string, input map[string]any) InputVerdict
}

// InputGuardFunc adapts a function to an InputGuard.
type InputGuardFunc func(toolName string, input map[string]any) InputVerdict

func (f InputGuardFunc) ValidateInput(toolName string, input map[string]any) InputVerdict {
	return f(toolName, input)
}

// OutputAction classifies an output guard's decision.
type OutputAction int

const (
	OutputOK OutputAction = iota
	OutputReject
	OutputSanitize
)

// OutputVerdict is an output guard's decision.
type OutputVerdict struct {
	Action    OutputAction
	Reason    string
	Sanitized any
}

// OutputGuard validates (and may sanitize) a tool call's result.
type OutputGuard interface {
	ValidateOutput(toolName string, result tool.Result) OutputVerdict
}

// OutputGuardFunc adapts a function to an OutputGuard.
type OutputGuardFunc func(toolName string, result tool.Result) OutputVerdict

func (f OutputGuardFunc) ValidateOutput(toolName string, result tool.Result) OutputVerdict {
	return f(toolName, result)
}

// OutputProcessor transforms a successful result's output after output
// guards run. Processors never fail the call.
type OutputProcessor interface {
	Process(toolName string, result tool.Result) tool.Result
}

// OutputProcessorFunc adapts a function to an OutputProcessor.
type OutputProcessorFunc func(toolName string, result tool.Result) tool.Result

func (f OutputProcessorFunc) Process(toolName string, result tool.Result) tool.Result {
	return f(toolName, result)
}

// Executor is the thing the pipeline wraps — typically
// toolpack.Manager.Execute, narrowed to this signature so the pipeline
// doesn't depend on the runctx/toolpack packages.
type Executor func(ctx context.Context, toolName string, input map[string]any) tool.Result

// Chain is the fixed normalize → validateInput → execute → validateOutput
// → process pipeline. Stages run in registration order.
type Chain struct {
	Normalizers  []Normalizer
	InputGuards  []InputGuard
	OutputGuards []OutputGuard
	Processors   []OutputProcessor
}

// Run executes the full pipeline around exec for one tool call.
func (c *Chain) Run(ctx context.Context, toolName string, input map[string]any, exec Executor) tool.Result {
	for _, n := range c.Normalizers {
		input = n.Normalize(toolName, input)
	}

	for _, g := range c.InputGuards {
		v := g.ValidateInput(toolName, input)
		if v.Reject {
			return tool.Err("GUARD_REJECTED", v.Reason, tool.Metadata{})
		}
	}

	result := exec(ctx, toolName, input)

	for _, g := range c.OutputGuards {
		v := g.ValidateOutput(toolName, result)
		switch v.Action {
		case OutputReject:
			return tool.Err("GUARD_REJECTED", v.Reason, result.Metadata)
		case OutputSanitize:
			result.Output = v.Sanitized
		}
	}

	for _, p := range c.Processors {
		result = p.Process(toolName, result)
	}

	return result
}

// pathLikeKeys is the fixed set of input keys the path sandbox inspects.
var pathLikeKeys = map[string]bool{
	"path": true, "file": true, "filepath": true, "filename": true,
	"directory": true, "dir": true, "folder": true,
	"dest": true, "destination": true, "src": true, "source": true,
	"target": true, "output": true, "input": true,
}

// PathSandbox rejects any path-like argument that resolves outside
// AllowedRoots after symlink resolution.
type PathSandbox struct {
	AllowedRoots []string
	// resolveSymlinks defaults to filepath.EvalSymlinks; overridable in
	// tests to avoid touching the real filesystem.
	resolveSymlinks func(string) (string, error)
}

// NewPathSandbox builds a PathSandbox over the given allowed root
// directories.
func NewPathSandbox(allowedRoots ...string) *PathSandbox {
	return &PathSandbox{AllowedRoots: allowedRoots}
}

func (s *PathSandbox) resolve(path string) (string, error) {
	if s.resolveSymlinks != nil {
		return s.resolveSymlinks(path)
	}
	if resolved, err := filepath.EvalSymlinks(path); err == nil {
		return resolved, nil
	}
	return filepath.Clean(path), nil
}

func (s *PathSandbox) ValidateInput(toolName string, input map[string]any) InputVerdict {
	for key, val := range input {
		if !pathLikeKeys[strings.ToLower(key)] {
			continue
		}
		raw, ok := val.(string)
		if !ok || raw == "" {
			continue
		}
		resolved, err := s.resolve(raw)
		if err != nil {
			resolved = filepath.Clean(raw)
		}
		if !s.withinAllowedRoot(resolved) {
			return InputVerdict{Reject: true, Reason: "path " + raw + " resolves outside the allowed sandbox"}
		}
	}
	return InputVerdict{}
}

func (s *PathSandbox) withinAllowedRoot(resolved string) bool {
	if len(s.AllowedRoots) == 0 {
		return true
	}
	for _, root := range s.AllowedRoots {
		cleanRoot := filepath.Clean(root)
		if resolved == cleanRoot || strings.HasPrefix(resolved, cleanRoot+string(filepath.Separator)) {
			return true
		}
	}
	return false
}

// promptInjectionPatterns is the fixed pattern list scanned against every
// string leaf of a tool call's input.
var promptInjectionPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)ignore (all )?(the )?(previous|prior|above) instructions`),
	regexp.MustCompile(`(?i)disregard (all )?(the )?(previous|prior|above) (instructions|prompt)`),
	regexp.MustCompile(`(?i)you are now (a|an)\b`),
	regexp.MustCompile(`(?i)act as (a|an|the) system`),
	regexp.MustCompile(`(?i)system prompt`),
	regexp.MustCompile(`<<<\s*SYSTEM\s*>>>`),
	regexp.MustCompile(`\[INST\].*\[/INST\]`),
}

// maxScanDepth bounds PromptInjectionScanner's recursive descent into
// nested maps/slices.
const maxScanDepth = 5

// PromptInjectionScanner heuristically scans all string leaves of a tool
// call's input for prompt-injection patterns.
type PromptInjectionScanner struct{}

func (PromptInjectionScanner) ValidateInput(toolName string, input map[string]any) InputVerdict {
	if reason, hit := scanValue(input, 0); hit {
		return InputVerdict{Reject: true, Reason: reason}
	}
	return InputVerdict{}
}

func scanValue(v any, depth int) (string, bool) {
	if depth > maxScanDepth {
		return "", false
	}
	switch t := v.(type) {
	case string:
		for _, pattern := range promptInjectionPatterns {
			if pattern.MatchString(t) {
				return "input matched prompt-injection pattern: " + pattern.String(), true
			}
		}
	case map[string]any:
		for _, child := range t {
			if reason, hit := scanValue(child, depth+1); hit {
				return reason, true
			}
		}
	case []any:
		for _, child := range t {
			if reason, hit := scanValue(child, depth+1); hit {
				return reason, true
			}
		}
	}
	return "", false
}

// secretPattern pairs a detection regex with the type label its matches
// are redacted under, so a sanitized value still names what kind of
// secret it used to be.
type secretPattern struct {
	pattern *regexp.Regexp
	label   string
}

// secretPatterns is the fixed set of provider-key / generic secret
// patterns redacted from tool output, each tagged with its own label.
var secretPatterns = []secretPattern{
	{regexp.MustCompile(`sk-ant-[A-Za-z0-9_-]{20,}`), "anthropic-key"},
	{regexp.MustCompile(`sk-[A-Za-z0-9]{20,}`), "openai-key"},
	{regexp.MustCompile(`AKIA[0-9A-Z]{16}`), "aws-key"},
	{regexp.MustCompile(`gh[pousr]_[A-Za-z0-9]{20,}`), "github-token"},
	{regexp.MustCompile(`(?i)(api|access|auth|bearer|secret)_?key["']?\s*[:=]\s*["']?[A-Za-z0-9_\-./+]{8,}`), "generic-secret"},
}

// SecretRedactor is an output-only guard: it never rejects, it sanitizes.
type SecretRedactor struct{}

func (SecretRedactor) ValidateOutput(toolName string, result tool.Result) OutputVerdict {
	str, ok := result.Output.(string)
	if !ok {
		return OutputVerdict{Action: OutputOK}
	}

	redacted := redactString(str)
	if redacted == str {
		return OutputVerdict{Action: OutputOK}
	}
	return OutputVerdict{Action: OutputSanitize, Sanitized: redacted}
}

func redactString(s string) string {
	return RedactSecrets(s)
}

// RedactSecrets applies the fixed secret-pattern redaction to s, replacing
// each match with a placeholder typed by the pattern that caught it (e.g.
// "[REDACTED:anthropic-key]") rather than one generic token, so a reader
// of sanitized output or the history trace still knows what was removed.
// Exported so other components that sanitize text outside a tool call's
// output path (the History Recorder's event log, in particular) reuse the
// exact same pattern set rather than maintaining a second copy.
func RedactSecrets(s string) string {
	for _, sp := range secretPatterns {
		s = sp.pattern.ReplaceAllString(s, "[REDACTED:"+sp.label+"]")
	}
	return s
}

// TruncateProcessor caps output string length at MaxLength.
type TruncateProcessor struct {
	MaxLength int
}

func (p TruncateProcessor) Process(toolName string, result tool.Result) tool.Result {
	str, ok := result.Output.(string)
	if !ok || len(str) <= p.MaxLength {
		return result
	}
	result.Output = str[:p.MaxLength] + "...[truncated]"
	return result
}

// DedupeProcessor drops an output string if it is byte-identical to the
// most recently seen output for the same tool, across iterations.
type DedupeProcessor struct {
	seen map[string]string
}

// NewDedupeProcessor creates a DedupeProcessor with empty history.
func NewDedupeProcessor() *DedupeProcessor {
	return &DedupeProcessor{seen: make(map[string]string)}
}

func (p *DedupeProcessor) Process(toolName string, result tool.Result) tool.Result {
	str, ok := result.Output.(string)
	if !ok {
		return result
	}
	if p.seen[toolName] == str {
		result.Output = "[identical to previous " + toolName + " output, omitted]"
		return result
	}
	p.seen[toolName] = str
	return result
}

// CompressionProcessor summarizes large structured (map/slice) payloads
// down to their top-level shape once they exceed MaxElements, so an
// oversized listing doesn't consume the whole context window.
type CompressionProcessor struct {
	MaxElements int
}

func (p CompressionProcessor) Process(toolName string, result tool.Result) tool.Result {
	switch v := result.Output.(type) {
	case []any:
		if len(v) > p.MaxElements {
			result.Output = map[string]any{
				"truncated_list": v[:p.MaxElements],
				"total_count":    len(v),
			}
		}
	case map[string]any:
		if len(v) > p.MaxElements {
			keys := make([]string, 0, len(v))
			for k := range v {
				keys = append(keys, k)
			}
			result.Output = map[string]any{
				"keys_present": keys,
				"total_keys":   len(v),
			}
		}
	}
	return result
}
