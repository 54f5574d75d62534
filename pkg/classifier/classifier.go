// Package classifier is the Task Classifier: heuristic, LLM, and hybrid
// strategies for sizing a task into small/medium/large tier with a
// confidence and method tag.
package classifier

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/kadirpekel/agentloom/pkg/llm"
)

// Confidence is the classifier's self-reported confidence in its tier pick.
type Confidence string

const (
	ConfidenceHigh Confidence = "high"
	ConfidenceLow  Confidence = "low"
)

// Method names which classification strategy produced a Classification.
type Method string

const (
	MethodHeuristic Method = "heuristic"
	MethodLLM       Method = "llm"
	MethodHybrid    Method = "hybrid"
)

// Tier is the abstract model class a Classification recommends.
type Tier string

const (
	TierSmall  Tier = "small"
	TierMedium Tier = "medium"
	TierLarge  Tier = "large"
)

// Classification is the Task Classifier's output.
type Classification struct {
	Tier       Tier
	Confidence Confidence
	Method     Method
	Reasoning  string
}

// highConfidenceMargin is the minimum gap the top heuristic score must hold
// over the runner-up to be reported as high confidence.
const highConfidenceMargin = 0.5

// keywordRules maps each tier to the keyword set that raises its score,
// deliberately multilingual (English, Spanish, French) since task
// descriptions are not guaranteed to be in English ("keyword
// rules (multilingual)").
var keywordRules = map[Tier][]string{
	TierSmall: {
		"find", "list", "show", "what is", "lookup", "check", "get",
		"buscar", "mostrar", "qué es",
		"trouver", "lister", "montrer", "qu'est-ce",
	},
	TierMedium: {
		"refactor", "implement", "add", "fix", "update", "write", "test",
		"implementar", "agregar", "corregir",
		"implémenter", "ajouter", "corriger",
	},
	TierLarge: {
		"design", "architecture", "migrate", "rewrite", "overhaul", "audit",
		"across the codebase", "end-to-end", "entire system",
		"diseñar", "arquitectura", "migrar",
		"concevoir", "architecture", "migrer",
	},
}

// lengthThresholds biases longer task descriptions toward heavier tiers —
// a one-line lookup is rarely a "large" task regardless of keyword hits.
const (
	mediumLengthThreshold = 120
	largeLengthThreshold  = 400
)

// Heuristic scores small/medium/large from keyword hits and description
// length, reporting high confidence iff the top score exceeds the
// runner-up by at least highConfidenceMargin.
func Heuristic(taskDescription string) Classification {
	scores := scoreTiers(taskDescription)

	best, runnerUp := topTwo(scores)
	confidence := ConfidenceLow
	if scores[best]-scores[runnerUp] >= highConfidenceMargin {
		confidence = ConfidenceHigh
	}

	return Classification{
		Tier:       best,
		Confidence: confidence,
		Method:     MethodHeuristic,
		Reasoning:  fmt.Sprintf("heuristic scores: small=%.2f medium=%.2f large=%.2f", scores[TierSmall], scores[TierMedium], scores[TierLarge]),
	}
}

func scoreTiers(taskDescription string) map[Tier]float64 {
	lower := strings.ToLower(taskDescription)
	scores := map[Tier]float64{TierSmall: 0, TierMedium: 0, TierLarge: 0}

	for tier, keywords := range keywordRules {
		for _, kw := range keywords {
			if strings.Contains(lower, kw) {
				scores[tier] += 1.0
			}
		}
	}

	// The length bonus is deliberately smaller than highConfidenceMargin so
	// a zero-keyword-hit description (fully ambiguous) never crosses the
	// high-confidence threshold on length alone.
	const lengthBonus = 0.3
	length := len(taskDescription)
	switch {
	case length >= largeLengthThreshold:
		scores[TierLarge] += lengthBonus
	case length >= mediumLengthThreshold:
		scores[TierMedium] += lengthBonus
	default:
		scores[TierSmall] += lengthBonus
	}

	return scores
}

func topTwo(scores map[Tier]float64) (best, runnerUp Tier) {
	order := []Tier{TierSmall, TierMedium, TierLarge}
	best, runnerUp = order[0], order[1]
	if scores[runnerUp] > scores[best] {
		best, runnerUp = runnerUp, best
	}
	for _, t := range order[2:] {
		switch {
		case scores[t] > scores[best]:
			runnerUp = best
			best = t
		case scores[t] > scores[runnerUp]:
			runnerUp = t
		}
	}
	return best, runnerUp
}

// llmClassifyPrompt is the fixed prompt template for the LLM classification
// call.
const llmClassifyPrompt = `Classify the following task into exactly one tier: small, medium, or large.
Respond on a single line in the form "TIER | reason".

Task: %s`

// LLM performs a small-tier classification call and parses the fixed
// "TIER | reason" response format; on a call or parse failure it returns
// medium/low confidence with the error folded into Reasoning.
func LLM(ctx context.Context, cap llm.Capability, taskDescription string) Classification {
	prompt := fmt.Sprintf(llmClassifyPrompt, taskDescription)
	result, err := cap.Complete(ctx, prompt, llm.CompleteOptions{MaxTokens: 64})
	if err != nil {
		return fallback(MethodLLM, "LLM classification call failed: "+err.Error())
	}

	tier, reason, ok := parseTierLine(result.Content)
	if !ok {
		return fallback(MethodLLM, "could not parse LLM classification response: "+strconv.Quote(result.Content))
	}

	return Classification{Tier: tier, Confidence: ConfidenceHigh, Method: MethodLLM, Reasoning: reason}
}

func fallback(method Method, reason string) Classification {
	return Classification{Tier: TierMedium, Confidence: ConfidenceLow, Method: method, Reasoning: reason}
}

func parseTierLine(content string) (Tier, string, bool) {
	line := strings.TrimSpace(content)
	if i := strings.IndexByte(line, '\n'); i >= 0 {
		line = line[:i]
	}

	parts := strings.SplitN(line, "|", 2)
	tierToken := strings.ToLower(strings.TrimSpace(parts[0]))

	var tier Tier
	switch tierToken {
	case string(TierSmall):
		tier = TierSmall
	case string(TierMedium):
		tier = TierMedium
	case string(TierLarge):
		tier = TierLarge
	default:
		return "", "", false
	}

	reason := "llm classification"
	if len(parts) == 2 {
		reason = strings.TrimSpace(parts[1])
	}
	return tier, reason, true
}

// Hybrid runs Heuristic first; if it reports high confidence, its result is
// returned unchanged. Otherwise it falls back to LLM, annotating the
// reasoning as escalated.
func Hybrid(ctx context.Context, cap llm.Capability, taskDescription string) Classification {
	heuristic := Heuristic(taskDescription)
	if heuristic.Confidence == ConfidenceHigh {
		return heuristic
	}

	llmResult := LLM(ctx, cap, taskDescription)
	llmResult.Method = MethodHybrid
	llmResult.Reasoning = "escalated from low-confidence heuristic (" + heuristic.Reasoning + "): " + llmResult.Reasoning
	return llmResult
}
