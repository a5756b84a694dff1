package stream

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Broker ties the durable Log and the live Fanout together. Publish persists
// a message and then fans it out; Subscribe opens a Session that replays
// history and follows with the live tail.
//
// Publish persists before fanning out, so a message seen on a feed is always
// readable from the log; the replay engine relies on this to backfill
// sequences a feed missed.
type Broker struct {
	log    Log
	fanout *Fanout
	logger *slog.Logger

	mu     sync.Mutex
	closed bool
}

// BrokerOption configures a Broker.
type BrokerOption func(*Broker)

// WithBrokerLogger configures structured logging for the broker and its
// sessions. Use slog.New(slog.NewTextHandler(io.Discard, nil)) to disable.
func WithBrokerLogger(logger *slog.Logger) BrokerOption {
	return func(b *Broker) {
		if logger != nil {
			b.logger = logger
		}
	}
}

// WithFanout replaces the broker's fanout hub, e.g. to tune the feed buffer:
//
//	broker := stream.NewBroker(log,
//	    stream.WithFanout(stream.NewFanout(stream.WithFeedBuffer(1024))),
//	)
func WithFanout(fanout *Fanout) BrokerOption {
	return func(b *Broker) {
		if fanout != nil {
			b.fanout = fanout
		}
	}
}

// NewBroker creates a Broker on top of the given log.
func NewBroker(log Log, opts ...BrokerOption) *Broker {
	b := &Broker{
		log:    log,
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.fanout == nil {
		b.fanout = NewFanout()
	}
	return b
}

// Log exposes the broker's backing log for lifecycle management (clear,
// retention expiry).
func (b *Broker) Log() Log { return b.log }

// PublishOption configures a single Publish call.
type PublishOption func(*publishOptions)

type publishOptions struct {
	producerID string
	timestamp  time.Time
}

// WithProducerID attaches the publishing producer's identity to the message.
func WithProducerID(id string) PublishOption {
	return func(o *publishOptions) {
		o.producerID = id
	}
}

// WithTimestamp overrides the producer-supplied timestamp. Defaults to now.
func WithTimestamp(ts time.Time) PublishOption {
	return func(o *publishOptions) {
		if !ts.IsZero() {
			o.timestamp = ts
		}
	}
}

// Publish appends payload to the channel's log under the next sequence number
// and multicasts the stored record to live subscribers. Concurrent publishers
// on the same channel race only at sequence assignment, which is atomic.
func (b *Broker) Publish(ctx context.Context, channel string, payload json.RawMessage, opts ...PublishOption) (Message, error) {
	if err := b.guard(); err != nil {
		return Message{}, err
	}

	options := publishOptions{timestamp: time.Now().UTC()}
	for _, opt := range opts {
		opt(&options)
	}

	msg, err := b.log.Append(ctx, channel, payload, options.timestamp, options.producerID)
	if err != nil {
		return Message{}, err
	}
	b.fanout.Publish(ctx, channel, msg)

	b.logger.DebugContext(ctx, "message published",
		slog.String("channel", channel),
		slog.Int64("sequence", msg.Sequence))
	return msg, nil
}

// SubscribeOption configures a Subscribe call.
type SubscribeOption func(*subscribeOptions)

type subscribeOptions struct {
	cursor int64
	userID string
}

// WithCursor starts delivery strictly after the given sequence number.
// The default of 0 replays the channel from the beginning.
func WithCursor(lastSequence int64) SubscribeOption {
	return func(o *subscribeOptions) {
		if lastSequence > 0 {
			o.cursor = lastSequence
		}
	}
}

// WithUserID records the subscriber identity on the session.
func WithUserID(id string) SubscribeOption {
	return func(o *subscribeOptions) {
		o.userID = id
	}
}

// Subscribe opens a new Session on the channel. The session attaches to the
// live fanout before snapshotting the log's high-water mark, which is what
// makes the catch-up/live stitch race-free: a message committed after the
// snapshot is either buffered on the feed or recovered by gap backfill.
//
// The session ends when ctx is canceled, Close is called, or the channel is
// cleared; reattaching with a fresh Subscribe restarts delivery from the new
// cursor.
func (b *Broker) Subscribe(ctx context.Context, channel string, opts ...SubscribeOption) (*Session, error) {
	if channel == "" {
		return nil, ErrEmptyChannel
	}
	if err := b.guard(); err != nil {
		return nil, err
	}

	options := subscribeOptions{}
	for _, opt := range opts {
		opt(&options)
	}

	feed := b.fanout.Attach(channel)
	highWaterMark, err := b.log.HighWaterMark(ctx, channel)
	if err != nil {
		feed.Close()
		return nil, err
	}

	sessionCtx, cancel := context.WithCancel(ctx)
	s := &Session{
		id:      uuid.New(),
		channel: channel,
		userID:  options.userID,
		out:     make(chan Message),
		feed:    feed,
		cancel:  cancel,
		logger:  b.logger,
	}
	s.cursor.Store(options.cursor)
	s.state.Store(SessionReplaying)

	b.logger.DebugContext(ctx, "session attached",
		slog.String("channel", channel),
		slog.String("session_id", s.id.String()),
		slog.Int64("cursor", options.cursor),
		slog.Int64("high_water_mark", highWaterMark))

	go s.run(sessionCtx, b.log, highWaterMark)
	return s, nil
}

// Disconnect force-closes every session attached to the channel. Each session
// observes a terminal close rather than an error. Used by the lifecycle
// manager on clear.
func (b *Broker) Disconnect(channel string) {
	b.fanout.DetachAll(channel)
}

// Close force-closes every session on every channel and marks the broker
// closed. Idempotent.
func (b *Broker) Close() {
	b.mu.Lock()
	b.closed = true
	b.mu.Unlock()
	b.fanout.Close()
}

func (b *Broker) guard() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrBrokerClosed
	}
	return nil
}
