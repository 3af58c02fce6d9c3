// Package app wires the service's components together.
package app

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"live-transcript-service/internal/apperrors"
	"live-transcript-service/internal/config"
	"live-transcript-service/internal/events"
	"live-transcript-service/internal/live"
	"live-transcript-service/internal/observability/logging"
	"live-transcript-service/internal/observability/metrics"
	"live-transcript-service/internal/schema"
	"live-transcript-service/internal/service/export"
	"live-transcript-service/internal/service/ingest"
	"live-transcript-service/internal/service/reconcile"
	"live-transcript-service/internal/service/segment"
	"live-transcript-service/internal/service/session"
)

// Application holds process-wide state for the service.
type Application struct {
	StartupTime time.Time
	Logger      zerolog.Logger
	Cfg         *config.Config
	Metrics     *metrics.Metrics

	Registry   *session.Registry
	Reconciler *reconcile.Reconciler
	Dispatcher *ingest.Dispatcher
	Webhook    *ingest.Handler
	Export     *export.Service
	Hub        *live.Hub
	Publisher  *events.Publisher
	Validator  *schema.Validator
}

// New constructs an Application from cfg. m may be nil to use the default registry.
func New(cfg *config.Config, m *metrics.Metrics) *Application {
	if m == nil {
		m = metrics.DefaultMetrics
	}

	a := &Application{
		Cfg:       cfg,
		Metrics:   m,
		Logger:    logging.WithComponent("application"),
		Registry:  session.NewRegistry(),
		Validator: schema.New(),
	}

	a.Publisher = events.New(&events.Config{
		Enabled:      cfg.Kafka.Enabled,
		Brokers:      cfg.Kafka.Brokers,
		TopicPartial: cfg.Kafka.TopicPartial,
		TopicFinal:   cfg.Kafka.TopicFinal,
		Principal:    cfg.Kafka.Principal,
		Metrics:      m,
	})
	a.Hub = live.NewHub(m)

	a.Reconciler = reconcile.New(
		a.Registry,
		segment.NewNormalizer(segment.New()),
		reconcile.Config{DedupeFinals: cfg.Transcript.DedupeFinals},
		reconcile.WithPublisher(a.Publisher),
		reconcile.WithBroadcaster(a.Hub),
		reconcile.WithMetrics(m),
	)
	a.Dispatcher = ingest.NewDispatcher(a.Reconciler, ingest.Limits{
		Workers:   cfg.Ingest.Workers,
		QueueSize: cfg.Ingest.QueueSize,
	}, m)
	a.Webhook = ingest.NewHandler(a.Dispatcher, a.Validator, ingest.Config{
		Secret:       cfg.Webhook.Secret,
		MaxBodyBytes: cfg.Webhook.MaxBodyBytes,
	}, m)
	a.Export = export.NewService(a.Registry)

	a.Logger.Info().Msg("Live transcript service application created")
	return a
}

// Start performs any startup work required before serving traffic.
func (a *Application) Start() error {
	a.StartupTime = time.Now().UTC()
	go a.Hub.Run()

	a.Logger.Info().
		Time("startupTime", a.StartupTime).
		Int("ingestWorkers", a.Cfg.Ingest.Workers).
		Bool("dedupeFinals", a.Cfg.Transcript.DedupeFinals).
		Bool("kafkaEnabled", a.Cfg.Kafka.Enabled).
		Msg("Live transcript service starting")
	return nil
}

// CreateSession registers a session announced by the bot-management collaborator.
// A session already opened by an early webhook is adopted, not rejected.
func (a *Application) CreateSession(id string) error {
	_, adopted, err := a.Registry.Claim(id)
	if err != nil {
		switch {
		case errors.Is(err, session.ErrAlreadyExists):
			return apperrors.AlreadyExists("session", id).WithCause(err)
		case errors.Is(err, session.ErrEmptySessionID):
			return apperrors.InvalidInput("session_id is required").WithCause(err)
		default:
			return apperrors.Internal(err)
		}
	}
	logger := logging.WithSession("application", id)
	if adopted {
		logger.Info().Msg("Session adopted from earlier webhook")
		return nil
	}
	a.Metrics.RecordSessionCreated("lifecycle")
	logger.Info().Msg("Session created")
	return nil
}

// DestroySession purges a session and disconnects its live subscribers.
// Unknown ids are a no-op.
func (a *Application) DestroySession(id string) {
	logger := logging.WithSession("application", id)
	if !a.Registry.Destroy(id) {
		logger.Debug().Msg("Destroy for unknown session ignored")
		return
	}
	a.Metrics.RecordSessionStopped()
	a.Hub.Broadcast(live.Update{Type: live.TypeSessionClosed, SessionID: id})
	logger.Info().Msg("Session destroyed")
}

// Shutdown drains the dispatcher, then stops fan-out. Errors from each step
// are joined.
func (a *Application) Shutdown(ctx context.Context) error {
	a.Logger.Info().Msg("Live transcript service shutting down")

	var errs []error
	if err := a.Dispatcher.Close(ctx); err != nil {
		errs = append(errs, err)
	}
	a.Hub.Stop()
	if err := a.Publisher.Close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
