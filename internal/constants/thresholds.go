package constants

// Centralized threshold values used across the application.
// Keep these stable; change deliberately and document why.
// These are not configuration knobs; use pkg/config for env-driven settings.

const (
	// Matching thresholds (0.0 - 1.0 for text, meters for distance)
	DefaultTextThreshold      = 0.85
	DefaultDistanceThresholdM = 50.0
	DefaultFlagMargin         = 0.05

	// Composite similarity weights; must sum to 1.0 when both fields present
	DefaultNameWeight    = 0.6
	DefaultAddressWeight = 0.4

	// Spatial index activation: below this record count brute force wins
	DefaultCellIndexMinRecords = 200

	// Completeness scoring (points per populated field)
	CompletenessFieldPoints = 1
	CompletenessFieldCount  = 4

	// Circuit breaker rate thresholds
	CircuitFailureRate        = 0.6 // default for external HTTP
	CircuitSlowCallRate       = 0.7
	OpenAICircuitFailureRate  = 0.5
	OpenAICircuitSlowCallRate = 0.5
)

// Actions recorded in the duplicate log.
const (
	ActionMerged  = "merged"
	ActionFlagged = "flagged"
	ActionIgnored = "ignored"
)

// Canonical selection policies.
const (
	PolicyMostFollowers = "most_followers"
	PolicyLowestID      = "lowest_id"
	PolicyMostComplete  = "most_complete"
)

// Run lifecycle statuses.
const (
	RunStatusPending   = "pending"
	RunStatusRunning   = "running"
	RunStatusCompleted = "completed"
	RunStatusFailed    = "failed"
)

// Record sources accepted by the processing engine.
const (
	SourceDatabase  = "database"
	SourceInline    = "inline"
	SourceGenerated = "generated"
)
