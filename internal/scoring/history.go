package scoring

import (
	"sort"
	"time"
)

// HistoryEvent is one raw timestamped event from an uploaded history.
type HistoryEvent struct {
	Timestamp time.Time
}

// AuditSession is one reconstructed session from a batch analysis.
type AuditSession struct {
	StartTime    time.Time `json:"start_time"`
	EventCount   int       `json:"event_count"`
	Variance     float64   `json:"variance"`
	Velocity     float64   `json:"velocity"` // events per minute
	Pathological bool      `json:"pathological"`
}

// AnalyzeHistory segments a full event history into sessions and flags
// pathological ones. Stateless and idempotent: the input slice is not
// modified, and identical input yields identical output.
//
// Dwell for event i is the gap to event i+1 (the last event of the stream
// has dwell 0). A session boundary occurs where the gap exceeds
// SessionGapSeconds. Sessions below MinSessionEvents are discarded as
// noise. Session metrics use only intra-session gaps, with degenerate
// values (<=0 or >= MaxDwellSeconds) filtered as tracking artifacts.
func (e *Engine) AnalyzeHistory(events []HistoryEvent) []AuditSession {
	if len(events) == 0 {
		return nil
	}

	sorted := make([]HistoryEvent, len(events))
	copy(sorted, events)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].Timestamp.Before(sorted[j].Timestamp)
	})

	var out []AuditSession
	start := 0
	for i := 0; i < len(sorted); i++ {
		last := i == len(sorted)-1
		boundary := last
		if !last {
			gap := sorted[i+1].Timestamp.Sub(sorted[i].Timestamp).Seconds()
			boundary = gap > e.cfg.SessionGapSeconds
		}
		if !boundary {
			continue
		}

		if n := i - start + 1; n >= e.cfg.MinSessionEvents {
			out = append(out, e.buildAuditSession(sorted[start:i+1]))
		}
		start = i + 1
	}
	return out
}

// buildAuditSession computes metrics for one retained session slice.
func (e *Engine) buildAuditSession(events []HistoryEvent) AuditSession {
	// Intra-session dwells only; the closing gap (or trailing 0) belongs
	// to the boundary, not the session.
	dwells := make([]float64, 0, len(events)-1)
	var sumSeconds float64
	for i := 0; i < len(events)-1; i++ {
		d := events[i+1].Timestamp.Sub(events[i].Timestamp).Seconds()
		if d <= 0 || d >= e.cfg.MaxDwellSeconds {
			continue // tracking artifact
		}
		dwells = append(dwells, d)
		sumSeconds += d
	}

	var velocity float64
	if sumSeconds > 0 {
		velocity = float64(len(events)) / (sumSeconds / 60)
	}

	return AuditSession{
		StartTime:    events[0].Timestamp,
		EventCount:   len(events),
		Variance:     Variance(dwells),
		Velocity:     velocity,
		Pathological: velocity > e.cfg.DoomVelocityTrigger,
	}
}
