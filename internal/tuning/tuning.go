// Package tuning collects the named constants that drive vitals decay,
// action costs, and the progressive vitals penalty. Centralizing them here
// keeps the action handlers and environment pass free of magic numbers —
// the same practice the teacher used for its emanation constants.
package tuning

// Vitals bounds. Every agent's hunger/energy/health stay within [0, 100].
const (
	VitalsMin = 0.0
	VitalsMax = 100.0
)

// Environment-pass decay rates, applied once per tick to every alive agent.
const (
	HungerDecayPerTick = 0.6
	EnergyDecayPerTick = 0.4
	// BleedPerTick is the health lost per tick once hunger or energy hits 0.
	BleedPerTick = 5.0
)

// Gather/work/sleep tuning, grounded on spec.md §4.6.
const (
	GatherEnergyPerUnit  = 1.0
	WorkBalancePerTick   = 10.0
	WorkEnergyPerTick    = 2.0
	WorkHungerPerTick    = 0.5
	SleepMinDuration     = 1
	SleepMaxDuration     = 10
	GatherMinQuantity    = 1
	GatherMaxQuantity    = 5
	WorkMinDuration      = 1
	WorkMaxDuration      = 5
	DeceiveClaimMinChars = 5
	DeceiveClaimMaxChars = 500
)

// Conflict-action ranges.
const (
	HarmMaxDistance    = 1
	StealMaxDistance   = 1
	DeceiveMaxDistance = 3
	WitnessRadius      = 4
)

// Progressive vitals penalty thresholds — a multiplier applied to every
// action's energy cost based on the actor's current vitals (spec.md §4.6).
const (
	PenaltyBaseline           = 1.0
	PenaltyLowEnergyThreshold = 30.0
	PenaltyLowEnergyAdd       = 0.5
	PenaltyCritEnergyThresh   = 15.0
	PenaltyCritEnergyAdd      = 0.5
	PenaltyLowHungerThreshold = 30.0
	PenaltyLowHungerAdd       = 0.3
)

// VitalsPenaltyMultiplier computes the effective-cost multiplier for an
// actor with the given hunger/energy.
func VitalsPenaltyMultiplier(hunger, energy float64) float64 {
	m := PenaltyBaseline
	if energy < PenaltyLowEnergyThreshold {
		m += PenaltyLowEnergyAdd
	}
	if energy < PenaltyCritEnergyThresh {
		m += PenaltyCritEnergyAdd
	}
	if hunger < PenaltyLowHungerThreshold {
		m += PenaltyLowHungerAdd
	}
	return m
}

// Fallback-ladder thresholds, spec.md §4.4.
const (
	FallbackHungerEatThreshold      = 50.0
	FallbackHungerBuyThreshold      = 30.0
	FallbackHungerGatherThreshold   = 50.0
	FallbackHungerMoveThreshold     = 40.0
	FallbackEnergySleepThreshold    = 30.0
	FallbackBalanceWorkThreshold    = 50.0
	FallbackEnergyWorkThreshold     = 20.0
	FallbackEnergyWanderThreshold   = 10.0
	FallbackBuyMinBalance           = 10.0
	FallbackSleepDurationOnLowVital = 3
	FallbackWorkDuration            = 2
	FallbackWanderSleepDuration     = 1
)

// Cache/projection tuning (spec.md §4.3, §4.4, §6).
const (
	DefaultRecentEventsLimit = 100
	MaxRecentEventsLimit     = 200
	LLMResponseCacheTTLDays  = 7
	PingInterval             = 30 // seconds, SSE keepalive
)
