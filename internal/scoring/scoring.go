// Package scoring implements the compulsive-use scoring engine.
//
// The engine is pure: it performs no I/O, raises no errors on well-formed
// input, and is total over the inputs the ingestion layer admits. All state
// loading, locking, and persistence live in callers.
package scoring

import "time"

// Session is the rolling per-identity state. Dwells and Timestamps are
// index-aligned fixed-capacity rings; the oldest sample is evicted when the
// window exceeds the configured size.
type Session struct {
	IdentityKey string      `json:"identity_key"`
	Dwells      []float64   `json:"dwells"`     // seconds
	Timestamps  []time.Time `json:"timestamps"` // arrival times, aligned with Dwells
	Score       float64     `json:"score"`
	LastUpdate  time.Time   `json:"last_update"`
}

// NewSession creates an empty session for an identity.
func NewSession(identityKey string) *Session {
	return &Session{IdentityKey: identityKey}
}

// WindowLen returns the current window fill.
func (s *Session) WindowLen() int { return len(s.Dwells) }

// Baseline is the per-identity reference variance, seeded once from the
// identity's first full window of dwells and cached thereafter.
type Baseline struct {
	IdentityKey string    `json:"identity_key"`
	Variance    float64   `json:"variance"`
	SeededAt    time.Time `json:"seeded_at"`
}

// Event is a single validated dwell event.
type Event struct {
	ContentID       string
	DurationSeconds float64
	ReceivedAt      time.Time
}

// ClassificationStatus tags the outcome of the optional content classifier.
type ClassificationStatus string

const (
	// StatusClassified means the classifier (or its keyword fallback)
	// produced a category.
	StatusClassified ClassificationStatus = "classified"
	// StatusUnavailable means no category could be derived; the content
	// signal is skipped entirely.
	StatusUnavailable ClassificationStatus = "unavailable"
)

// Classification is the tagged result of the content classifier capability.
type Classification struct {
	Category string
	Status   ClassificationStatus
}

// Unavailable is the zero-signal classification.
var Unavailable = Classification{Status: StatusUnavailable}

// Config holds the scoring policy constants. All values are externally
// tunable; Default() mirrors the production deployment.
type Config struct {
	WindowSize              int
	DefaultBaselineVariance float64
	SteadyStateBonus        float64
	MinSamplesForVariance   int
	DoomVelocityTrigger     float64 // events per minute
	DoomscrollBonus         float64
	CategoryAdjustments     map[string]float64
	NightStartHour          int // inclusive
	NightEndHour            int // exclusive
	NightMultiplier         float64
	SessionGapSeconds       float64
	MinSessionEvents        int
	MaxDwellSeconds         float64
}

// Default returns the production scoring policy.
func Default() Config {
	return Config{
		WindowSize:              10,
		DefaultBaselineVariance: 0,
		SteadyStateBonus:        20,
		MinSamplesForVariance:   5,
		DoomVelocityTrigger:     10,
		DoomscrollBonus:         15,
		CategoryAdjustments: map[string]float64{
			"shorts":        10,
			"entertainment": 5,
			"news":          0,
			"education":     -10,
		},
		NightStartHour:    22,
		NightEndHour:      5,
		NightMultiplier:   3,
		SessionGapSeconds: 1200,
		MinSessionEvents:  3,
		MaxDwellSeconds:   3600,
	}
}

// Variance computes the sample variance (n-1 divisor) of xs.
// Defined as 0 for fewer than 2 samples, never NaN.
func Variance(xs []float64) float64 {
	n := len(xs)
	if n < 2 {
		return 0
	}

	var sum float64
	for _, x := range xs {
		sum += x
	}
	mean := sum / float64(n)

	var ss float64
	for _, x := range xs {
		d := x - mean
		ss += d * d
	}
	return ss / float64(n-1)
}

// isLateNight reports whether hour falls in the [start, end) band,
// wrapping midnight when start > end (e.g. 22..5).
func isLateNight(hour, start, end int) bool {
	if start == end {
		return false
	}
	if start < end {
		return hour >= start && hour < end
	}
	return hour >= start || hour < end
}
