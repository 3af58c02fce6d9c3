// Package reconcile applies the partial/final merge policy to session state.
//
// Per (session, participant) the state machine is:
//
//	none ──partial──→ partial-held ──partial──→ partial-held (last partial wins)
//	                      │
//	none ←────final───────┘   (final appended, partial removed, one atomic update)
//
// A final with no preceding partial is appended directly. A partial that
// arrives after its own final is accepted as a new partial; readers see the
// text twice until the participant's next final clears it.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"live-transcript-service/internal/live"
	"live-transcript-service/internal/models"
	"live-transcript-service/internal/observability/logging"
	"live-transcript-service/internal/observability/metrics"
	"live-transcript-service/internal/service/segment"
	"live-transcript-service/internal/service/session"
)

// Outcome describes what a processed event did to session state.
type Outcome string

const (
	OutcomePartialUpdated   Outcome = "partial_updated"
	OutcomeFinalAppended    Outcome = "final_appended"
	OutcomeDuplicateSkipped Outcome = "duplicate_skipped"
	OutcomeDiscarded        Outcome = "discarded"
	OutcomeSessionStopped   Outcome = "session_stopped"
)

// Publisher fans reconciled segments out to downstream consumers.
type Publisher interface {
	PublishPartial(ctx context.Context, seg *models.TranscriptSegment) error
	PublishFinal(ctx context.Context, seg *models.TranscriptSegment, sequence int) error
}

// Broadcaster pushes updates to live subscribers.
type Broadcaster interface {
	Broadcast(u live.Update)
}

// Result is returned by Apply for every event.
type Result struct {
	Outcome Outcome
	Segment *models.TranscriptSegment
	// Sequence is the 1-based position of an appended final.
	Sequence int
	// ReplacedPartial is true when a partial overwrote an earlier one, or a
	// final cleared an outstanding partial.
	ReplacedPartial bool
}

// Config holds reconciliation policy options.
type Config struct {
	// DedupeFinals skips a final whose participant, provider timestamp and
	// text match one already appended. Finals without a timestamp are never
	// treated as duplicates.
	DedupeFinals bool
}

// Reconciler normalizes recognition events and applies them to sessions.
type Reconciler struct {
	registry    *session.Registry
	normalizer  *segment.Normalizer
	publisher   Publisher
	broadcaster Broadcaster
	metrics     *metrics.Metrics
	cfg         Config
	logger      zerolog.Logger
}

// Option configures a Reconciler.
type Option func(*Reconciler)

// WithPublisher sets the downstream publisher.
func WithPublisher(p Publisher) Option {
	return func(r *Reconciler) { r.publisher = p }
}

// WithBroadcaster sets the live update broadcaster.
func WithBroadcaster(b Broadcaster) Option {
	return func(r *Reconciler) { r.broadcaster = b }
}

// WithMetrics overrides the metrics sink.
func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Reconciler) { r.metrics = m }
}

// New creates a Reconciler over registry.
func New(registry *session.Registry, normalizer *segment.Normalizer, cfg Config, opts ...Option) *Reconciler {
	r := &Reconciler{
		registry:   registry,
		normalizer: normalizer,
		metrics:    metrics.DefaultMetrics,
		cfg:        cfg,
		logger:     logging.WithComponent("reconciler"),
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Apply normalizes ev and reconciles it into its session, creating the
// session if the registry has not seen it yet. Events for a destroyed session
// are dropped with OutcomeSessionStopped. Downstream fan-out happens after the
// session lock is released.
func (r *Reconciler) Apply(ctx context.Context, ev models.RecognitionEvent) (Result, error) {
	seg, ok := r.normalizer.Normalize(ev)
	if !ok {
		r.record(ev, OutcomeDiscarded)
		return Result{Outcome: OutcomeDiscarded}, nil
	}

	sess, created, err := r.registry.Ensure(ev.SessionID)
	if errors.Is(err, session.ErrSessionStopped) {
		r.record(ev, OutcomeSessionStopped)
		return Result{Outcome: OutcomeSessionStopped, Segment: seg}, nil
	}
	if err != nil {
		return Result{}, fmt.Errorf("ensure session: %w", err)
	}
	if created {
		r.metrics.RecordSessionCreated("webhook")
		r.logger.Info().Str("sessionId", ev.SessionID).Msg("Session created from inbound event")
	}

	var res Result
	err = sess.Update(func(t *session.Transcript) {
		if seg.IsPartial {
			res = applyPartial(t, seg)
		} else {
			res = applyFinal(t, seg, r.cfg.DedupeFinals)
		}
	})
	if err != nil {
		// The session was purged between lookup and update; the event belongs
		// to a stopped session and is dropped.
		r.record(ev, OutcomeSessionStopped)
		return Result{Outcome: OutcomeSessionStopped, Segment: seg}, nil
	}

	r.record(ev, res.Outcome)
	r.fanOut(ctx, res)
	return res, nil
}

func applyPartial(t *session.Transcript, seg *models.TranscriptSegment) Result {
	_, replaced := t.Partials[seg.ParticipantID]
	t.Partials[seg.ParticipantID] = seg
	return Result{Outcome: OutcomePartialUpdated, Segment: seg, ReplacedPartial: replaced}
}

func applyFinal(t *session.Transcript, seg *models.TranscriptSegment, dedupe bool) Result {
	_, hadPartial := t.Partials[seg.ParticipantID]
	delete(t.Partials, seg.ParticipantID)

	if dedupe && seg.Timestamp != "" {
		key := finalKey(seg)
		if _, seen := t.Seen[key]; seen {
			return Result{Outcome: OutcomeDuplicateSkipped, Segment: seg, ReplacedPartial: hadPartial}
		}
		t.Seen[key] = struct{}{}
	}

	t.Finals = append(t.Finals, seg)
	return Result{
		Outcome:         OutcomeFinalAppended,
		Segment:         seg,
		Sequence:        len(t.Finals),
		ReplacedPartial: hadPartial,
	}
}

func finalKey(seg *models.TranscriptSegment) string {
	return seg.ParticipantID + "\x00" + seg.Timestamp + "\x00" + seg.Text
}

func (r *Reconciler) fanOut(ctx context.Context, res Result) {
	var update live.Update
	switch res.Outcome {
	case OutcomePartialUpdated:
		if r.publisher != nil {
			if err := r.publisher.PublishPartial(ctx, res.Segment); err != nil {
				r.logger.Warn().Err(err).Str("sessionId", res.Segment.SessionID).Msg("Failed to publish partial")
			}
		}
		update = live.Update{Type: live.TypePartialUpdated, SessionID: res.Segment.SessionID, Segment: res.Segment}
	case OutcomeFinalAppended:
		if r.publisher != nil {
			if err := r.publisher.PublishFinal(ctx, res.Segment, res.Sequence); err != nil {
				r.logger.Warn().Err(err).Str("sessionId", res.Segment.SessionID).Msg("Failed to publish final")
			}
		}
		update = live.Update{Type: live.TypeFinalAppended, SessionID: res.Segment.SessionID, Sequence: res.Sequence, Segment: res.Segment}
	default:
		return
	}

	if r.broadcaster != nil {
		r.broadcaster.Broadcast(update)
	}
}

func (r *Reconciler) record(ev models.RecognitionEvent, outcome Outcome) {
	latency := 0.0
	if !ev.ReceivedAt.IsZero() {
		latency = time.Since(ev.ReceivedAt).Seconds()
	}
	r.metrics.RecordProcessed(string(ev.Kind), string(outcome), latency)

	logger := logging.WithParticipant("reconciler", ev.SessionID, ev.Speaker.ID)
	logger.Debug().
		Str("kind", string(ev.Kind)).
		Str("outcome", string(outcome)).
		Str("requestId", ev.RequestID).
		Msg("Event reconciled")
}
