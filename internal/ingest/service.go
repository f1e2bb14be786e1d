// Package ingest orchestrates the hot path: validate, authenticate, score,
// persist, and trigger penalties.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/mbd888/scrollguard/internal/authproof"
	"github.com/mbd888/scrollguard/internal/classifier"
	"github.com/mbd888/scrollguard/internal/idgen"
	"github.com/mbd888/scrollguard/internal/metrics"
	"github.com/mbd888/scrollguard/internal/penalty"
	"github.com/mbd888/scrollguard/internal/scoring"
	"github.com/mbd888/scrollguard/internal/session"
	"github.com/mbd888/scrollguard/internal/syncutil"
	"github.com/mbd888/scrollguard/internal/traces"
)

// Sentinel errors for the handler layer to map onto HTTP statuses.
var (
	ErrVerificationFailed = errors.New("event authenticity verification failed")
	ErrTransient          = errors.New("transient dependency failure")
)

// Request is one validated inbound dwell event.
type Request struct {
	IdentityKey     string
	ContentID       string
	DurationSeconds float64
	Signature       string
	Message         string
}

// Result is the outcome of applying one event.
type Result struct {
	Score    float64 // score after this event, before any reset
	Delta    float64
	Slashed  bool
	Category string // empty when the classifier was unavailable
}

// Notifier receives score updates for the realtime feed. Optional.
type Notifier interface {
	ScoreUpdated(identityKey string, score, delta float64, slashed bool)
	PenaltyEnqueued(job *penalty.Job)
}

// Service applies events to per-identity sessions and enqueues penalty jobs
// on threshold crossings.
type Service struct {
	store      session.Store
	engine     *scoring.Engine
	queue      penalty.Queue
	verifier   authproof.Verifier
	classifier classifier.Client
	locks      *syncutil.ContextShardedMutex
	logger     *slog.Logger

	threshold     float64
	penaltyAmount string
	verifyTimeout time.Duration
	notifier      Notifier
}

// Option configures a Service.
type Option func(*Service)

// WithVerifyTimeout bounds the authenticity check.
func WithVerifyTimeout(d time.Duration) Option {
	return func(s *Service) { s.verifyTimeout = d }
}

// WithNotifier sets the realtime notifier.
func WithNotifier(n Notifier) Option {
	return func(s *Service) { s.notifier = n }
}

// NewService creates the ingestion service.
func NewService(
	store session.Store,
	engine *scoring.Engine,
	queue penalty.Queue,
	verifier authproof.Verifier,
	cls classifier.Client,
	logger *slog.Logger,
	threshold float64,
	penaltyAmount string,
	opts ...Option,
) *Service {
	s := &Service{
		store:         store,
		engine:        engine,
		queue:         queue,
		verifier:      verifier,
		classifier:    cls,
		locks:         syncutil.NewContextShardedMutex(),
		logger:        logger,
		threshold:     threshold,
		penaltyAmount: penaltyAmount,
		verifyTimeout: 2 * time.Second,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Ingest applies one event. Side effects are strictly ordered: nothing is
// persisted before the authenticity check passes, and on a threshold
// crossing the penalty job is enqueued before the reset score is persisted,
// so a failed enqueue never loses the accumulated score.
func (s *Service) Ingest(ctx context.Context, req Request) (*Result, error) {
	ctx, span := traces.StartSpan(ctx, "ingest.event", traces.IdentityKey(req.IdentityKey))
	defer span.End()

	// Authenticity first: no state is touched for an unproven event.
	verifyCtx, cancel := context.WithTimeout(ctx, s.verifyTimeout)
	err := s.verifier.Verify(verifyCtx, req.IdentityKey, req.Message, req.Signature)
	cancel()
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			metrics.EventsIngestedTotal.WithLabelValues("failed").Inc()
			return nil, fmt.Errorf("%w: verifier timeout: %v", ErrTransient, err)
		}
		metrics.EventsIngestedTotal.WithLabelValues("rejected_auth").Inc()
		return nil, fmt.Errorf("%w: %v", ErrVerificationFailed, err)
	}

	// The content signal is best-effort and needs no session state, so it
	// runs outside the per-identity lock.
	cls := s.classifier.Classify(ctx, req.ContentID)

	unlock, err := s.locks.LockContext(ctx, req.IdentityKey)
	if err != nil {
		metrics.EventsIngestedTotal.WithLabelValues("failed").Inc()
		return nil, fmt.Errorf("%w: lock wait cancelled: %v", ErrTransient, err)
	}
	defer unlock()

	sess, err := s.store.GetSession(ctx, req.IdentityKey)
	if errors.Is(err, session.ErrNotFound) {
		sess = scoring.NewSession(req.IdentityKey)
	} else if err != nil {
		metrics.EventsIngestedTotal.WithLabelValues("failed").Inc()
		return nil, fmt.Errorf("%w: load session: %v", ErrTransient, err)
	}

	baseline, err := s.store.GetBaseline(ctx, req.IdentityKey)
	if errors.Is(err, session.ErrNotFound) {
		baseline = nil
	} else if err != nil {
		metrics.EventsIngestedTotal.WithLabelValues("failed").Inc()
		return nil, fmt.Errorf("%w: load baseline: %v", ErrTransient, err)
	}

	now := time.Now()
	ev := scoring.Event{ContentID: req.ContentID, DurationSeconds: req.DurationSeconds, ReceivedAt: now}
	delta, seeded := s.engine.ApplyEvent(sess, baseline, ev, cls, now)

	result := &Result{Score: sess.Score, Delta: delta}
	if cls.Status == scoring.StatusClassified {
		result.Category = cls.Category
	}

	if sess.Score >= s.threshold {
		job := &penalty.Job{
			ID:              idgen.WithPrefix("job_"),
			IdentityKey:     req.IdentityKey,
			TriggeringScore: sess.Score,
			Amount:          s.penaltyAmount,
			EnqueuedAt:      now,
		}
		if err := s.queue.Enqueue(ctx, job); err != nil {
			// The score survives: persist the un-reset session so the
			// crossing triggers again on the next event.
			if perr := s.persist(ctx, sess, seeded); perr != nil {
				s.logger.Error("session persist failed after enqueue failure",
					"identity", req.IdentityKey, "error", perr)
			}
			metrics.EventsIngestedTotal.WithLabelValues("failed").Inc()
			return nil, fmt.Errorf("%w: enqueue penalty: %v", ErrTransient, err)
		}

		metrics.PenaltiesEnqueuedTotal.Inc()
		s.logger.Info("penalty job enqueued",
			"job_id", job.ID, "identity", req.IdentityKey, "score", job.TriggeringScore)
		if s.notifier != nil {
			s.notifier.PenaltyEnqueued(job)
		}

		sess.Score = 0
		result.Slashed = true
	}

	if err := s.persist(ctx, sess, seeded); err != nil {
		metrics.EventsIngestedTotal.WithLabelValues("failed").Inc()
		return nil, fmt.Errorf("%w: persist session: %v", ErrTransient, err)
	}

	metrics.EventsIngestedTotal.WithLabelValues("accepted").Inc()
	metrics.ScoreDelta.Observe(delta)
	span.SetAttributes(traces.Score(result.Score))

	if s.notifier != nil {
		s.notifier.ScoreUpdated(req.IdentityKey, sess.Score, delta, result.Slashed)
	}
	return result, nil
}

func (s *Service) persist(ctx context.Context, sess *scoring.Session, seeded *scoring.Baseline) error {
	if seeded != nil {
		if err := s.store.PutBaseline(ctx, seeded); err != nil {
			return fmt.Errorf("put baseline: %w", err)
		}
	}
	return s.store.PutSession(ctx, sess)
}

// Inspect returns the current session view for an identity. Unknown
// identities read as an empty session.
func (s *Service) Inspect(ctx context.Context, identityKey string) (*scoring.Session, error) {
	sess, err := s.store.GetSession(ctx, identityKey)
	if errors.Is(err, session.ErrNotFound) {
		return scoring.NewSession(identityKey), nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: load session: %v", ErrTransient, err)
	}
	return sess, nil
}
