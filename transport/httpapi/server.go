package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/dmitrymomot/relaycast/core/registry"
	"github.com/dmitrymomot/relaycast/core/stream"
)

// API wires the registry and broker to HTTP routes. Construct with New and
// mount Router on a server.
type API struct {
	registry *registry.Registry
	broker   *stream.Broker
	producer registry.ProducerFunc
	health   func(context.Context) error
	logger   *slog.Logger
	cfg      Config
}

// Option configures the API.
type Option func(*API)

// WithLogger configures structured logging for request handling.
func WithLogger(logger *slog.Logger) Option {
	return func(a *API) {
		if logger != nil {
			a.logger = logger
		}
	}
}

// WithProducer sets the producer task launched by POST /start/{channel}.
// Without it, started channels accept messages only via POST /publish.
func WithProducer(producer registry.ProducerFunc) Option {
	return func(a *API) {
		a.producer = producer
	}
}

// WithHealthcheck sets the probe behind GET /health.
func WithHealthcheck(check func(context.Context) error) Option {
	return func(a *API) {
		a.health = check
	}
}

// WithConfig overrides the streaming configuration.
func WithConfig(cfg Config) Option {
	return func(a *API) {
		a.cfg = cfg
	}
}

// New creates the HTTP API over a registry and its broker.
func New(reg *registry.Registry, broker *stream.Broker, opts ...Option) *API {
	a := &API{
		registry: reg,
		broker:   broker,
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
		cfg:      DefaultConfig(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Router builds the route tree.
func (a *API) Router() http.Handler {
	r := chi.NewRouter()
	r.Post("/start/{channel}", a.handleStart)
	r.Post("/stop/{channel}", a.handleStop)
	r.Post("/clear/{channel}", a.handleClear)
	r.Post("/shutdown", a.handleShutdown)
	r.Post("/publish/{channel}", a.handlePublish)
	r.Get("/consume/{channel}", a.handleConsume)
	r.Get("/ws/{channel}", a.handleConsumeWS)
	r.Get("/channels", a.handleChannels)
	r.Get("/health", a.handleHealth)
	return r
}

type statusResponse struct {
	Status  string `json:"status"`
	Channel string `json:"channel,omitempty"`
	Message string `json:"message,omitempty"`
}

func (a *API) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		a.logger.Warn("failed to write response", slog.Any("error", err))
	}
}

func (a *API) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, registry.ErrChannelNotFound):
		status = http.StatusNotFound
	case errors.Is(err, registry.ErrChannelActive):
		status = http.StatusConflict
	case errors.Is(err, registry.ErrRegistryClosed), errors.Is(err, stream.ErrBrokerClosed):
		status = http.StatusServiceUnavailable
	case errors.Is(err, stream.ErrStoreUnavailable):
		status = http.StatusServiceUnavailable
	case errors.Is(err, stream.ErrEmptyChannel), errors.Is(err, ErrInvalidCursor):
		status = http.StatusBadRequest
	}
	if status == http.StatusInternalServerError {
		a.logger.ErrorContext(r.Context(), "request failed",
			slog.String("path", r.URL.Path), slog.Any("error", err))
	}
	a.writeJSON(w, status, statusResponse{Status: "error", Message: err.Error()})
}

func (a *API) handleStart(w http.ResponseWriter, r *http.Request) {
	channel := chi.URLParam(r, "channel")
	producer := a.producer
	if producer == nil {
		// Channel exists for publish/consume but produces nothing on its own.
		producer = func(ctx context.Context, _ string, _ *stream.Broker) error {
			<-ctx.Done()
			return ctx.Err()
		}
	}
	if err := a.registry.Start(channel, producer); err != nil {
		a.writeError(w, r, err)
		return
	}
	a.writeJSON(w, http.StatusOK, statusResponse{Status: "success", Channel: channel})
}

func (a *API) handleStop(w http.ResponseWriter, r *http.Request) {
	channel := chi.URLParam(r, "channel")
	if err := a.registry.Stop(channel); err != nil {
		a.writeError(w, r, err)
		return
	}
	a.writeJSON(w, http.StatusOK, statusResponse{Status: "success", Channel: channel})
}

func (a *API) handleClear(w http.ResponseWriter, r *http.Request) {
	channel := chi.URLParam(r, "channel")
	if err := a.registry.Clear(r.Context(), channel); err != nil {
		a.writeError(w, r, err)
		return
	}
	a.writeJSON(w, http.StatusOK, statusResponse{Status: "success", Channel: channel})
}

func (a *API) handleShutdown(w http.ResponseWriter, r *http.Request) {
	a.registry.Shutdown()
	a.writeJSON(w, http.StatusOK, statusResponse{Status: "success", Message: "all channels stopped"})
}

func (a *API) handlePublish(w http.ResponseWriter, r *http.Request) {
	channel := chi.URLParam(r, "channel")
	if _, err := a.registry.State(channel); err != nil {
		a.writeError(w, r, err)
		return
	}

	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 1<<20))
	if err != nil {
		a.writeJSON(w, http.StatusBadRequest, statusResponse{Status: "error", Message: "failed to read request body"})
		return
	}
	if !json.Valid(payload) {
		a.writeJSON(w, http.StatusBadRequest, statusResponse{Status: "error", Message: "payload must be valid JSON"})
		return
	}

	msg, err := a.broker.Publish(r.Context(), channel, payload,
		stream.WithProducerID(r.Header.Get("X-Producer-ID")))
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	a.writeJSON(w, http.StatusAccepted, msg)
}

func (a *API) handleChannels(w http.ResponseWriter, r *http.Request) {
	a.writeJSON(w, http.StatusOK, a.registry.Channels())
}

func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	if a.health != nil {
		if err := a.health(r.Context()); err != nil {
			a.writeJSON(w, http.StatusServiceUnavailable, statusResponse{Status: "error", Message: err.Error()})
			return
		}
	}
	a.writeJSON(w, http.StatusOK, statusResponse{Status: "ok"})
}

// subscribe opens a session for a consume request. The channel must be
// tracked by the registry; replay from a stopped channel is still allowed.
func (a *API) subscribe(r *http.Request) (*stream.Session, error) {
	channel := chi.URLParam(r, "channel")
	if _, err := a.registry.State(channel); err != nil {
		return nil, err
	}

	var from int64
	if raw := r.URL.Query().Get("from"); raw != "" {
		parsed, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || parsed < 0 {
			return nil, ErrInvalidCursor
		}
		from = parsed
	}

	return a.broker.Subscribe(r.Context(), channel,
		stream.WithCursor(from),
		stream.WithUserID(r.Header.Get("X-User-ID")))
}
