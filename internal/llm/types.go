// Package llm provides the LLM Adapter Layer: a uniform decide(observation)
// contract over heterogeneous policies, with response caching, capability
// normalization, synthetic-vocabulary substitution, and a deterministic
// fallback (spec.md §4.4).
//
// Grounded on the teacher's internal/llm package: client.go's Anthropic
// Messages API client becomes AnthropicAdapter (anthropic.go), and
// cognition.go's GenerateTier2Decision/parseTier2Response prompt-build-then-
// bracket-scan-parse pattern becomes buildPrompt/parseDecision (prompt.go).
// archetypes.go, biography.go, and narration.go are adapted into the
// genesis package; newspaper.go and oracle.go have no SPEC_FULL.md analogue
// (analytics/narrative aggregation, out of scope) and are dropped — see
// DESIGN.md.
package llm

import (
	"context"
	"fmt"

	"github.com/talgya/crossworlds/internal/observation"
)

// ActionType enumerates every action the parser will accept.
type ActionType string

const (
	ActionMove        ActionType = "move"
	ActionBuy         ActionType = "buy"
	ActionConsume     ActionType = "consume"
	ActionSleep       ActionType = "sleep"
	ActionWork        ActionType = "work"
	ActionGather      ActionType = "gather"
	ActionTrade       ActionType = "trade"
	ActionHarm        ActionType = "harm"
	ActionSteal       ActionType = "steal"
	ActionDeceive     ActionType = "deceive"
	ActionShareInfo   ActionType = "share_info"
	ActionClaim       ActionType = "claim"
	ActionNameLocation ActionType = "name_location"
)

var validActions = map[ActionType]bool{
	ActionMove: true, ActionBuy: true, ActionConsume: true, ActionSleep: true,
	ActionWork: true, ActionGather: true, ActionTrade: true, ActionHarm: true,
	ActionSteal: true, ActionDeceive: true, ActionShareInfo: true,
	ActionClaim: true, ActionNameLocation: true,
}

// Decision is the parsed, validated output of an adapter's decide call.
type Decision struct {
	Action    ActionType     `json:"action"`
	Params    map[string]any `json:"params"`
	Reasoning string         `json:"reasoning,omitempty"`
}

// CallOpts parameterizes a raw prompt call.
type CallOpts struct {
	MaxTokens int
}

// CallResult carries a raw model response plus token usage, when available.
type CallResult struct {
	Response     string
	InputTokens  *int
	OutputTokens *int
}

// Adapter is the uniform contract every policy type implements.
type Adapter interface {
	// Decide returns a validated Decision for obs, falling back internally
	// on any parse/validation/timeout failure.
	Decide(ctx context.Context, obs observation.Observation) (Decision, error)
	IsAvailable() bool
	CallWithRawPrompt(ctx context.Context, prompt string, opts CallOpts) (CallResult, error)
}

// ErrAdapterUnavailable is returned by CallWithRawPrompt when the adapter
// has no usable credentials configured.
var ErrAdapterUnavailable = fmt.Errorf("llm: adapter not configured")

// ValidateDecision applies the per-action param rules from spec.md §4.4
// (excerpt) plus the general shape check. It never returns the fallback
// itself — callers substitute the fallback decision on failure.
func ValidateDecision(d Decision) error {
	if !validActions[d.Action] {
		return fmt.Errorf("unknown action %q", d.Action)
	}
	switch d.Action {
	case ActionMove:
		if _, ok := numberParam(d.Params, "toX"); !ok {
			return fmt.Errorf("move: missing toX")
		}
		if _, ok := numberParam(d.Params, "toY"); !ok {
			return fmt.Errorf("move: missing toY")
		}
	case ActionSleep:
		dur, ok := numberParam(d.Params, "duration")
		if !ok || dur < 1 || dur > 10 {
			return fmt.Errorf("sleep: duration must be in [1,10]")
		}
	case ActionGather:
		if qty, ok := numberParam(d.Params, "quantity"); ok && (qty < 1 || qty > 5) {
			return fmt.Errorf("gather: quantity must be in [1,5]")
		}
	case ActionWork:
		if dur, ok := numberParam(d.Params, "duration"); ok && (dur < 1 || dur > 5) {
			return fmt.Errorf("work: duration must be in [1,5]")
		}
	case ActionHarm:
		target, ok := stringParam(d.Params, "targetAgentId")
		if !ok || target == "" {
			return fmt.Errorf("harm: missing targetAgentId")
		}
		intensity, ok := stringParam(d.Params, "intensity")
		if !ok || (intensity != "light" && intensity != "moderate" && intensity != "severe") {
			return fmt.Errorf("harm: intensity must be light|moderate|severe")
		}
	case ActionDeceive:
		target, ok := stringParam(d.Params, "targetAgentId")
		if !ok || target == "" {
			return fmt.Errorf("deceive: missing targetAgentId")
		}
		claim, ok := stringParam(d.Params, "claim")
		if !ok || len(claim) < 5 || len(claim) > 500 {
			return fmt.Errorf("deceive: claim must be 5-500 chars")
		}
		claimType, ok := stringParam(d.Params, "claimType")
		if !ok || !validClaimTypes[claimType] {
			return fmt.Errorf("deceive: invalid claimType")
		}
	case ActionShareInfo:
		if _, ok := stringParam(d.Params, "targetAgentId"); !ok {
			return fmt.Errorf("share_info: missing targetAgentId")
		}
		if _, ok := stringParam(d.Params, "subjectAgentId"); !ok {
			return fmt.Errorf("share_info: missing subjectAgentId")
		}
		infoType, ok := stringParam(d.Params, "infoType")
		if !ok || !validInfoTypes[infoType] {
			return fmt.Errorf("share_info: invalid infoType")
		}
		if sentiment, ok := numberParam(d.Params, "sentiment"); ok && (sentiment < -100 || sentiment > 100) {
			return fmt.Errorf("share_info: sentiment must be in [-100,100]")
		}
	}
	return nil
}

var validClaimTypes = map[string]bool{
	"resource_location": true, "agent_reputation": true, "danger_warning": true,
	"trade_offer": true, "other": true,
}

var validInfoTypes = map[string]bool{
	"location": true, "reputation": true, "warning": true, "recommendation": true,
}

func numberParam(params map[string]any, key string) (float64, bool) {
	v, ok := params[key]
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	}
	return 0, false
}

func stringParam(params map[string]any, key string) (string, bool) {
	v, ok := params[key]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}
