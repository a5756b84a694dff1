package registry

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/dmitrymomot/relaycast/core/stream"
)

// ChannelState is the lifecycle state of a started channel.
type ChannelState string

const (
	// ChannelActive means the channel's producer task is running.
	ChannelActive ChannelState = "active"
	// ChannelStopped means the producer task has exited; the log and any
	// attached sessions are untouched and replay remains possible.
	ChannelStopped ChannelState = "stopped"
)

// ProducerFunc is the long-running producer task of a channel. It publishes
// through the broker until ctx is canceled; returning a non-nil error other
// than ctx.Err() marks the channel stopped and is logged for an external
// supervisor to act on. A producer failure never affects sibling channels.
type ProducerFunc func(ctx context.Context, channel string, broker *stream.Broker) error

// ChannelInfo is a point-in-time snapshot of a tracked channel.
type ChannelInfo struct {
	Name  string       `json:"name"`
	State ChannelState `json:"state"`
}

type channel struct {
	name string

	mu     sync.Mutex
	state  ChannelState
	cancel context.CancelFunc
	done   chan struct{}
}

// Registry tracks active channels and owns their producer tasks.
// All methods are safe for concurrent use.
type Registry struct {
	broker *stream.Broker
	logger *slog.Logger

	retention     time.Duration
	checkInterval time.Duration

	mu       sync.Mutex
	channels map[string]*channel
	closed   bool

	baseCtx    context.Context
	baseCancel context.CancelFunc
	wg         sync.WaitGroup
}

// Option configures a Registry.
type Option func(*Registry)

// WithLogger configures structured logging.
// Use slog.New(slog.NewTextHandler(io.Discard, nil)) to disable logging.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Registry) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithRetention enables the retention janitor: messages older than the window
// are expired from every tracked channel's log. Disabled by default.
func WithRetention(window time.Duration) Option {
	return func(r *Registry) {
		if window > 0 {
			r.retention = window
		}
	}
}

// WithCheckInterval sets how often the retention janitor runs. Default 1m.
func WithCheckInterval(interval time.Duration) Option {
	return func(r *Registry) {
		if interval > 0 {
			r.checkInterval = interval
		}
	}
}

// New creates a Registry over the given broker and starts the retention
// janitor if a retention window is configured.
func New(broker *stream.Broker, opts ...Option) *Registry {
	ctx, cancel := context.WithCancel(context.Background())
	r := &Registry{
		broker:        broker,
		logger:        slog.New(slog.NewTextHandler(io.Discard, nil)),
		checkInterval: time.Minute,
		channels:      make(map[string]*channel),
		baseCtx:       ctx,
		baseCancel:    cancel,
	}
	for _, opt := range opts {
		opt(r)
	}

	if r.retention > 0 {
		r.wg.Add(1)
		go r.janitor()
	}
	return r
}

func (r *Registry) lookup(name string) (*channel, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, ErrRegistryClosed
	}
	ch, ok := r.channels[name]
	if !ok {
		return nil, ErrChannelNotFound
	}
	return ch, nil
}

// Start creates the channel if needed and launches its producer task.
// Returns ErrChannelActive if a producer is already running; callers that
// want idempotent starts can ignore that error.
func (r *Registry) Start(name string, producer ProducerFunc) error {
	if name == "" {
		return stream.ErrEmptyChannel
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return ErrRegistryClosed
	}
	ch, ok := r.channels[name]
	if !ok {
		ch = &channel{name: name, state: ChannelStopped}
		r.channels[name] = ch
	}
	r.mu.Unlock()

	ch.mu.Lock()
	defer ch.mu.Unlock()
	if ch.state == ChannelActive {
		return ErrChannelActive
	}

	ctx, cancel := context.WithCancel(r.baseCtx)
	done := make(chan struct{})
	ch.state = ChannelActive
	ch.cancel = cancel
	ch.done = done

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer close(done)

		err := producer(ctx, name, r.broker)

		ch.mu.Lock()
		ch.state = ChannelStopped
		ch.mu.Unlock()

		if err != nil && !errors.Is(err, context.Canceled) {
			r.logger.Error("producer task failed",
				slog.String("channel", name), slog.Any("error", err))
			return
		}
		r.logger.Info("producer task stopped", slog.String("channel", name))
	}()

	r.logger.Info("channel started", slog.String("channel", name))
	return nil
}

// Stop cancels the channel's producer task and waits for it to exit. The in
// flight publish, if any, completes or fails first. Sessions keep replaying
// already-persisted data; no new live messages arrive. Returns
// ErrChannelNotFound if the channel was never started.
func (r *Registry) Stop(name string) error {
	ch, err := r.lookup(name)
	if err != nil {
		return err
	}
	r.stopProducer(ch)
	return nil
}

func (r *Registry) stopProducer(ch *channel) {
	ch.mu.Lock()
	cancel, done := ch.cancel, ch.done
	ch.cancel = nil
	ch.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}
}

// Clear stops the channel's producer, wipes its log (resetting the sequence
// counter to zero), force-closes every attached session as a terminal
// cancellation, and removes the channel from the registry. Idempotent:
// clearing an unknown or already-cleared channel succeeds.
func (r *Registry) Clear(ctx context.Context, name string) error {
	if name == "" {
		return stream.ErrEmptyChannel
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return ErrRegistryClosed
	}
	ch := r.channels[name]
	delete(r.channels, name)
	r.mu.Unlock()

	if ch != nil {
		r.stopProducer(ch)
	}
	if err := r.broker.Log().Clear(ctx, name); err != nil {
		return err
	}
	r.broker.Disconnect(name)

	r.logger.Info("channel cleared", slog.String("channel", name))
	return nil
}

// Shutdown stops every channel's producer task and releases all sessions.
// Idempotent; the registry rejects further calls afterwards.
func (r *Registry) Shutdown() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	channels := make([]*channel, 0, len(r.channels))
	for _, ch := range r.channels {
		channels = append(channels, ch)
	}
	r.channels = make(map[string]*channel)
	r.mu.Unlock()

	r.baseCancel()
	for _, ch := range channels {
		r.stopProducer(ch)
	}
	r.wg.Wait()
	r.broker.Close()

	r.logger.Info("registry shut down")
}

// State returns the lifecycle state of a tracked channel.
func (r *Registry) State(name string) (ChannelState, error) {
	ch, err := r.lookup(name)
	if err != nil {
		return "", err
	}
	ch.mu.Lock()
	defer ch.mu.Unlock()
	return ch.state, nil
}

// Channels returns a snapshot of all tracked channels.
func (r *Registry) Channels() []ChannelInfo {
	r.mu.Lock()
	channels := make([]*channel, 0, len(r.channels))
	for _, ch := range r.channels {
		channels = append(channels, ch)
	}
	r.mu.Unlock()

	out := make([]ChannelInfo, 0, len(channels))
	for _, ch := range channels {
		ch.mu.Lock()
		out = append(out, ChannelInfo{Name: ch.name, State: ch.state})
		ch.mu.Unlock()
	}
	return out
}

// janitor periodically expires messages older than the retention window from
// every tracked channel's log. Sequence counters are never reset by expiry.
func (r *Registry) janitor() {
	defer r.wg.Done()

	ticker := time.NewTicker(r.checkInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.baseCtx.Done():
			return
		case <-ticker.C:
			for _, info := range r.Channels() {
				if err := r.broker.Log().Expire(r.baseCtx, info.Name, r.retention); err != nil {
					r.logger.Warn("retention expiry failed",
						slog.String("channel", info.Name), slog.Any("error", err))
				}
			}
		}
	}
}
