package scoring

import "time"

// Engine evaluates dwell events against the configured policy.
type Engine struct {
	cfg Config
}

// NewEngine creates an engine with the given policy.
func NewEngine(cfg Config) *Engine {
	if cfg.WindowSize < 2 {
		cfg.WindowSize = Default().WindowSize
	}
	if cfg.MinSamplesForVariance < 2 {
		cfg.MinSamplesForVariance = Default().MinSamplesForVariance
	}
	return &Engine{cfg: cfg}
}

// Config returns the active policy.
func (e *Engine) Config() Config { return e.cfg }

// ApplyEvent applies one event to the session window and returns the score
// delta added to the session plus a freshly seeded baseline, if any.
//
// The session is mutated in place; the caller holds the per-identity lock
// and decides whether to persist. baseline may be nil (unset), in which case
// the configured default variance is used until the window first fills and
// the identity's own baseline is seeded.
//
// Signal order: window append/evict, baseline seeding, steady-state check,
// velocity check, content signal, then the late-night multiplier over the
// whole delta. The delta never goes below zero.
func (e *Engine) ApplyEvent(s *Session, baseline *Baseline, ev Event, cls Classification, now time.Time) (delta float64, seeded *Baseline) {
	// 1. Append and evict.
	s.Dwells = append(s.Dwells, ev.DurationSeconds)
	s.Timestamps = append(s.Timestamps, now)
	if len(s.Dwells) > e.cfg.WindowSize {
		s.Dwells = s.Dwells[1:]
		s.Timestamps = s.Timestamps[1:]
	}

	currentVariance := Variance(s.Dwells)

	// 2. Baseline seeding: first full window establishes the reference.
	baselineVariance := e.cfg.DefaultBaselineVariance
	if baseline != nil {
		baselineVariance = baseline.Variance
	} else if len(s.Dwells) >= e.cfg.WindowSize {
		seeded = &Baseline{
			IdentityKey: s.IdentityKey,
			Variance:    currentVariance,
			SeededAt:    now,
		}
		baselineVariance = seeded.Variance
	}

	// 3. Steady-state signal: mechanical low-variance consumption scores
	// worse than varied consumption.
	if len(s.Dwells) >= e.cfg.MinSamplesForVariance && currentVariance < baselineVariance {
		delta += e.cfg.SteadyStateBonus
	}

	// 4. Velocity signal over the current window span.
	if n := len(s.Timestamps); n >= 2 {
		span := s.Timestamps[n-1].Sub(s.Timestamps[0])
		if span > 0 {
			velocity := float64(n) / span.Minutes()
			if velocity > e.cfg.DoomVelocityTrigger {
				delta += e.cfg.DoomscrollBonus
			}
		}
	}

	// 5. Content signal, skipped entirely when the classifier is unavailable.
	if cls.Status == StatusClassified {
		delta += e.cfg.CategoryAdjustments[cls.Category]
	}

	// 6. Late-night multiplier amplifies all signals jointly.
	if isLateNight(now.Hour(), e.cfg.NightStartHour, e.cfg.NightEndHour) {
		delta *= e.cfg.NightMultiplier
	}

	if delta < 0 {
		delta = 0
	}

	s.Score += delta
	s.LastUpdate = now
	return delta, seeded
}
