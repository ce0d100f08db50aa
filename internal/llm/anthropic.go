package llm

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/talgya/crossworlds/internal/observation"
	"github.com/talgya/crossworlds/internal/projection"
	"github.com/talgya/crossworlds/internal/rng"
)

const (
	anthropicURL     = "https://api.anthropic.com/v1/messages"
	anthropicVersion = "2023-06-01"
	anthropicModel   = "claude-haiku-4-5-20251001"
)

// Capability bounds the artificial latency floor and token cap applied to
// a policy type after a real call returns, neutralizing raw hardware/
// latency advantages in experimental comparisons (spec.md §4.4).
type Capability struct {
	LatencyFloor time.Duration
	MaxTokens    int
}

// AnthropicAdapter implements Adapter over the Anthropic Messages API.
// Grounded on the teacher's internal/llm/client.go Client: identical
// request/response shapes, per-minute rate limiting, and 30s HTTP timeout;
// generalized with the response cache, capability normalizer, and
// fallback substitution spec.md §4.4 requires on top of a bare completion
// client.
type AnthropicAdapter struct {
	policyType string
	apiKey     string
	httpClient *http.Client
	cache      *projection.Cache
	vocab      VocabMap
	cap        Capability
	testMode   bool
	rngSource  *rng.Source

	mu        sync.Mutex
	callCount int
	resetAt   time.Time
	maxPerMin int
}

// NewAnthropicAdapter constructs an adapter for policyType. apiKey may be
// empty — IsAvailable then reports false and Decide always falls back.
func NewAnthropicAdapter(policyType, apiKey string, cache *projection.Cache, vocab VocabMap, cap Capability, testMode bool, src *rng.Source) *AnthropicAdapter {
	return &AnthropicAdapter{
		policyType: policyType,
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		cache:      cache,
		vocab:      vocab,
		cap:        cap,
		testMode:   testMode,
		rngSource:  src,
		maxPerMin:  20,
	}
}

// IsAvailable reports whether the adapter has a usable API key.
func (a *AnthropicAdapter) IsAvailable() bool {
	return a != nil && a.apiKey != "" && !a.testMode
}

// Decide implements the full algorithm of spec.md §4.4: fingerprint ->
// cache lookup -> prompt build (with vocab substitution) -> call ->
// capability normalization -> parse/validate -> cache write or fallback.
func (a *AnthropicAdapter) Decide(ctx context.Context, obs observation.Observation) (Decision, error) {
	if a.testMode || !a.IsAvailable() {
		return Fallback(obs, a.rngSource), nil
	}

	fingerprint := Fingerprint(a.policyType, obs)
	if a.cache != nil {
		if cached, ok := a.cache.GetLLMResponse(ctx, a.policyType, fingerprint); ok {
			var d Decision
			if err := json.Unmarshal(cached, &d); err == nil {
				return d, nil
			}
		}
	}

	system, user := buildPrompt(obs, a.vocab)

	started := time.Now()
	result, err := a.CallWithRawPrompt(ctx, user, CallOpts{MaxTokens: a.cap.MaxTokens}, system)
	if err != nil {
		log.Warn().Err(err).Str("policyType", a.policyType).Msg("llm adapter call failed, using fallback")
		return Fallback(obs, a.rngSource), nil
	}

	if a.cap.LatencyFloor > 0 {
		if remaining := a.cap.LatencyFloor - time.Since(started); remaining > 0 {
			select {
			case <-time.After(remaining):
			case <-ctx.Done():
			}
		}
	}

	decision, err := parseDecision(result.Response, a.vocab)
	if err != nil {
		log.Warn().Err(err).Str("policyType", a.policyType).Msg("llm response failed to parse, using fallback")
		return Fallback(obs, a.rngSource), nil
	}

	if a.cache != nil {
		if body, err := json.Marshal(decision); err == nil {
			_ = a.cache.PutLLMResponse(ctx, a.policyType, fingerprint, body)
		}
	}
	return decision, nil
}

// CallWithRawPrompt issues the underlying model call, applying the
// teacher's per-minute token-bucket rate limit (internal/llm/client.go
// Complete).
func (a *AnthropicAdapter) CallWithRawPrompt(ctx context.Context, prompt string, opts CallOpts, system ...string) (CallResult, error) {
	if !a.IsAvailable() {
		return CallResult{}, ErrAdapterUnavailable
	}

	a.mu.Lock()
	now := time.Now()
	if now.After(a.resetAt) {
		a.callCount = 0
		a.resetAt = now.Add(time.Minute)
	}
	if a.callCount >= a.maxPerMin {
		a.mu.Unlock()
		return CallResult{}, fmt.Errorf("llm: rate limit exceeded (%d calls/min)", a.maxPerMin)
	}
	a.callCount++
	a.mu.Unlock()

	sys := ""
	if len(system) > 0 {
		sys = system[0]
	}
	maxTokens := opts.MaxTokens
	if a.cap.MaxTokens > 0 && maxTokens > a.cap.MaxTokens {
		maxTokens = a.cap.MaxTokens
	}
	if maxTokens <= 0 {
		maxTokens = 500
	}

	reqBody := anthropicRequest{
		Model:     anthropicModel,
		MaxTokens: maxTokens,
		System:    sys,
		Messages:  []anthropicMessage{{Role: "user", Content: prompt}},
	}
	body, err := json.Marshal(reqBody)
	if err != nil {
		return CallResult{}, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, anthropicURL, bytes.NewReader(body))
	if err != nil {
		return CallResult{}, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", a.apiKey)
	httpReq.Header.Set("anthropic-version", anthropicVersion)

	resp, err := a.httpClient.Do(httpReq)
	if err != nil {
		return CallResult{}, fmt.Errorf("API call: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return CallResult{}, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return CallResult{}, fmt.Errorf("API error %d: %s", resp.StatusCode, string(respBody))
	}

	var apiResp anthropicResponse
	if err := json.Unmarshal(respBody, &apiResp); err != nil {
		return CallResult{}, fmt.Errorf("unmarshal response: %w", err)
	}
	if len(apiResp.Content) == 0 {
		return CallResult{}, fmt.Errorf("empty response")
	}

	in, out := apiResp.Usage.InputTokens, apiResp.Usage.OutputTokens
	return CallResult{Response: apiResp.Content[0].Text, InputTokens: &in, OutputTokens: &out}, nil
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicRequest struct {
	Model     string             `json:"model"`
	MaxTokens int                `json:"max_tokens"`
	System    string             `json:"system,omitempty"`
	Messages  []anthropicMessage `json:"messages"`
}

type anthropicResponse struct {
	Content []struct {
		Text string `json:"text"`
	} `json:"content"`
	Usage struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

// Fingerprint computes a stable hash of an observation's salient state
// (position, vitals, inventory, nearby spawns, policyType), used as the
// response-cache key (spec.md §4.4 step 1).
func Fingerprint(policyType string, obs observation.Observation) string {
	h := sha256.New()
	fmt.Fprintf(h, "policy=%s;x=%d;y=%d;hunger=%.0f;energy=%.0f;health=%.0f;balance=%d;",
		policyType, obs.Self.X, obs.Self.Y, obs.Self.Hunger, obs.Self.Energy, obs.Self.Health, obs.Self.Balance)

	items := make([]string, 0, len(obs.Inventory))
	for item := range obs.Inventory {
		items = append(items, item)
	}
	sort.Strings(items)
	for _, item := range items {
		fmt.Fprintf(h, "inv:%s=%d;", item, obs.Inventory[item])
	}

	spawns := make([]string, len(obs.NearbyResourceSpawns))
	for i, r := range obs.NearbyResourceSpawns {
		spawns[i] = fmt.Sprintf("%s@%d,%d=%.0f", r.Kind, r.X, r.Y, r.CurrentAmount)
	}
	sort.Strings(spawns)
	for _, s := range spawns {
		fmt.Fprintf(h, "spawn:%s;", s)
	}

	return hex.EncodeToString(h.Sum(nil))
}
