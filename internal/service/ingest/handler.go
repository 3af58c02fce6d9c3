package ingest

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"live-transcript-service/internal/apperrors"
	"live-transcript-service/internal/http/respond"
	"live-transcript-service/internal/models"
	"live-transcript-service/internal/observability/logging"
	"live-transcript-service/internal/observability/metrics"
	"live-transcript-service/internal/schema"
)

// SecretHeader carries the shared webhook secret when one is configured.
const SecretHeader = "X-Webhook-Secret"

// Ack statuses.
const (
	StatusAccepted = "accepted"
	StatusIgnored  = "ignored"
)

// Ignore reasons.
const (
	ReasonMissingSession   = "missing session id"
	ReasonUnsupportedEvent = "unsupported event"
)

// Submitter queues a recognition event for deferred processing.
type Submitter interface {
	Submit(ev models.RecognitionEvent) error
}

// Ack is the JSON body returned for every delivery that is not an error.
type Ack struct {
	Status string `json:"status"`
	Reason string `json:"reason,omitempty"`
}

// Config configures the webhook handler.
type Config struct {
	Secret       string
	MaxBodyBytes int64
}

// Handler accepts provider webhook deliveries. It acknowledges before any
// session state is touched; reconciliation happens on the dispatcher.
type Handler struct {
	submitter Submitter
	validator *schema.Validator
	cfg       Config
	metrics   *metrics.Metrics
	logger    zerolog.Logger
	now       func() time.Time
}

// NewHandler creates a webhook handler feeding submitter.
func NewHandler(submitter Submitter, validator *schema.Validator, cfg Config, m *metrics.Metrics) *Handler {
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = 1 << 20
	}
	if m == nil {
		m = metrics.DefaultMetrics
	}
	return &Handler{
		submitter: submitter,
		validator: validator,
		cfg:       cfg,
		metrics:   m,
		logger:    logging.WithComponent("webhook"),
		now:       time.Now,
	}
}

// Parse decodes and validates a delivery. It returns an event to submit, or
// an ignore ack for deliveries that are well-formed but not actionable.
// Only transcript kinds have their data decoded; any other kind is ignored
// whatever its shape. Malformed bodies yield an INVALID_INPUT AppError.
func (h *Handler) Parse(body []byte) (models.RecognitionEvent, *Ack, error) {
	var env models.WebhookEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return models.RecognitionEvent{}, nil, apperrors.InvalidInput("malformed JSON body").WithCause(err)
	}
	if err := h.validator.Validate(env); err != nil {
		return models.RecognitionEvent{}, nil, err
	}

	kind, ok := models.KindForEvent(env.Event)
	if !ok {
		return models.RecognitionEvent{}, &Ack{Status: StatusIgnored, Reason: ReasonUnsupportedEvent}, nil
	}

	var payload models.WebhookPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return models.RecognitionEvent{}, nil, apperrors.InvalidInput("malformed transcript data").WithCause(err)
	}
	if err := h.validator.Validate(payload); err != nil {
		return models.RecognitionEvent{}, nil, err
	}

	sessionID := strings.TrimSpace(payload.Data.Bot.ID)
	if sessionID == "" {
		return models.RecognitionEvent{}, &Ack{Status: StatusIgnored, Reason: ReasonMissingSession}, nil
	}

	p := payload.Data.Data.Participant
	return models.RecognitionEvent{
		SessionID: sessionID,
		Kind:      kind,
		Words:     payload.Data.Data.DomainWords(),
		Speaker: models.Speaker{
			ID:     string(p.ID),
			Name:   p.Name,
			IsHost: p.IsHost,
		},
		Timestamp:  payload.Data.Timestamp,
		ReceivedAt: h.now().UTC(),
	}, nil, nil
}

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h.cfg.Secret != "" {
		got := r.Header.Get(SecretHeader)
		if subtle.ConstantTimeCompare([]byte(got), []byte(h.cfg.Secret)) != 1 {
			h.fail(w, r, apperrors.Unauthorized("invalid webhook secret"), "unauthorized")
			return
		}
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.cfg.MaxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.fail(w, r, apperrors.PayloadTooLarge(h.cfg.MaxBodyBytes), "too_large")
			return
		}
		h.fail(w, r, apperrors.InvalidInput("unreadable body").WithCause(err), "invalid")
		return
	}

	ev, ack, err := h.Parse(body)
	if err != nil {
		h.fail(w, r, err, "invalid")
		return
	}
	if ack != nil {
		h.metrics.RecordWebhook(StatusIgnored)
		h.logger.Debug().Str("reason", ack.Reason).Msg("Webhook ignored")
		respond.JSON(w, http.StatusOK, ack)
		return
	}

	ev.RequestID = middleware.GetReqID(r.Context())
	if err := h.submitter.Submit(ev); err != nil {
		if errors.Is(err, ErrQueueFull) || errors.Is(err, ErrClosed) {
			w.Header().Set("Retry-After", "1")
			h.fail(w, r, apperrors.ServiceUnavailable("ingest queue").WithCause(err), "backpressure")
			return
		}
		h.fail(w, r, apperrors.Internal(err), "error")
		return
	}

	h.metrics.RecordWebhook(StatusAccepted)
	respond.JSON(w, http.StatusAccepted, Ack{Status: StatusAccepted})
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error, status string) {
	appErr := apperrors.From(err)
	h.metrics.RecordWebhook(status)
	h.logger.Warn().
		Err(err).
		Str("requestId", middleware.GetReqID(r.Context())).
		Int("status", appErr.HTTPStatus).
		Msg("Webhook rejected")
	respond.Error(w, appErr)
}
