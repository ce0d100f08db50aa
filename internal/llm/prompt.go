package llm

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/talgya/crossworlds/internal/observation"
)

// VocabMap is a configured mapping from domain terms to neutral synonyms,
// applied to the prompt and reversed on the response to strip lexical
// cues that could bias a policy toward or against a term (spec.md §4.4
// "synthetic vocabulary substitution").
type VocabMap map[string]string

// reverse builds the substitution->original mapping for response rewriting.
func (v VocabMap) reverse() VocabMap {
	r := make(VocabMap, len(v))
	for k, val := range v {
		r[val] = k
	}
	return r
}

// Apply rewrites every occurrence of a mapped term in s.
func (v VocabMap) Apply(s string) string {
	for from, to := range v {
		s = strings.ReplaceAll(s, from, to)
	}
	return s
}

// buildPrompt renders an Observation into the system/user prompt pair sent
// to the underlying model, optionally substituting vocab in the user
// prompt. The reasoning and schema instructions are adapted from the
// teacher's buildTier2SystemPrompt/buildTier2UserPrompt
// (internal/llm/cognition.go), replacing the settlement/faction framing
// with this spec's vitals/inventory/nearby-entity framing.
func buildPrompt(obs observation.Observation, vocab VocabMap) (system, user string) {
	self := obs.Self

	system = fmt.Sprintf(
		`You control agent %s on a 2D grid world. Current position (%d, %d).
Vitals: hunger %.1f, energy %.1f, health %.1f, balance %d.

Respond ONLY with a JSON object of the form:
{"action": "<one of move|buy|consume|sleep|work|gather|trade|harm|steal|deceive|share_info|claim|name_location>", "params": {...}, "reasoning": "<one sentence>"}`,
		self.ID, self.X, self.Y, self.Hunger, self.Energy, self.Health, self.Balance,
	)

	var b strings.Builder
	fmt.Fprintf(&b, "Tick %d. World size %dx%d.\n\n", obs.Tick, obs.WorldSize.X, obs.WorldSize.Y)

	if len(obs.Inventory) > 0 {
		b.WriteString("Inventory:\n")
		for item, qty := range obs.Inventory {
			fmt.Fprintf(&b, "- %s: %d\n", item, qty)
		}
		b.WriteString("\n")
	}

	if len(obs.NearbyResourceSpawns) > 0 {
		b.WriteString("Nearby resources:\n")
		for _, r := range obs.NearbyResourceSpawns {
			fmt.Fprintf(&b, "- %s at (%d,%d): %.1f/%.1f\n", r.Kind, r.X, r.Y, r.CurrentAmount, r.MaxAmount)
		}
		b.WriteString("\n")
	}

	if len(obs.NearbyAgents) > 0 {
		b.WriteString("Nearby agents:\n")
		for _, a := range obs.NearbyAgents {
			fmt.Fprintf(&b, "- %s at (%d,%d), %s\n", a.ID, a.X, a.Y, a.State)
		}
		b.WriteString("\n")
	}

	b.WriteString("What do you do this tick? Respond with the JSON object described above.")

	user = b.String()
	if vocab != nil {
		user = vocab.Apply(user)
	}
	return system, user
}

// parseDecision extracts and validates a Decision from a raw model
// response. The brace-scan-then-unmarshal approach is the same technique
// the teacher used for its JSON-array responses
// (internal/llm/cognition.go parseTier2Response), adapted from an array of
// up-to-3 actions to this spec's single-object decision schema.
func parseDecision(response string, vocab VocabMap) (Decision, error) {
	if vocab != nil {
		response = vocab.reverse().Apply(response)
	}

	start := strings.Index(response, "{")
	end := strings.LastIndex(response, "}")
	if start == -1 || end == -1 || end <= start {
		return Decision{}, fmt.Errorf("no JSON object found in response")
	}

	var d Decision
	if err := json.Unmarshal([]byte(response[start:end+1]), &d); err != nil {
		return Decision{}, fmt.Errorf("parse decision: %w", err)
	}
	if err := ValidateDecision(d); err != nil {
		return Decision{}, err
	}
	return d, nil
}
