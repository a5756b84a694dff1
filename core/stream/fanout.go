package stream

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
)

// DefaultFeedBuffer is the default per-feed buffer size. It must absorb the
// messages published while a session is still replaying history; overflow is
// not fatal since the replay engine backfills dropped sequences from the Log.
const DefaultFeedBuffer = 256

// Fanout multicasts freshly published messages to every feed currently
// attached to a channel. Delivery is best-effort and at-most-once per publish:
// a feed whose buffer is full misses the message and recovers through the
// replay engine's gap backfill, never by blocking the publisher.
type Fanout struct {
	mu      sync.RWMutex
	feeds   map[string]map[*Feed]struct{}
	buffer  int
	logger  *slog.Logger
	dropped atomic.Int64
}

// FanoutOption configures a Fanout.
type FanoutOption func(*Fanout)

// WithFeedBuffer sets the buffer size for each attached feed. Default is 256.
func WithFeedBuffer(size int) FanoutOption {
	return func(f *Fanout) {
		if size > 0 {
			f.buffer = size
		}
	}
}

// WithFanoutLogger configures structured logging for the fanout.
// Use slog.New(slog.NewTextHandler(io.Discard, nil)) to disable logging.
func WithFanoutLogger(logger *slog.Logger) FanoutOption {
	return func(f *Fanout) {
		if logger != nil {
			f.logger = logger
		}
	}
}

// NewFanout creates an empty fanout hub.
func NewFanout(opts ...FanoutOption) *Fanout {
	f := &Fanout{
		feeds:  make(map[string]map[*Feed]struct{}),
		buffer: DefaultFeedBuffer,
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Attach registers a new feed on the channel. The feed starts receiving every
// message published from this moment on, until it is closed.
func (f *Fanout) Attach(channel string) *Feed {
	feed := &Feed{
		fanout:  f,
		channel: channel,
		ch:      make(chan Message, f.buffer),
		done:    make(chan struct{}),
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	set, ok := f.feeds[channel]
	if !ok {
		set = make(map[*Feed]struct{})
		f.feeds[channel] = set
	}
	set[feed] = struct{}{}
	return feed
}

// Publish delivers msg to every feed attached to the channel. Feeds with a
// full buffer are skipped.
func (f *Fanout) Publish(ctx context.Context, channel string, msg Message) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	for feed := range f.feeds[channel] {
		select {
		case feed.ch <- msg:
		default:
			f.dropped.Add(1)
			f.logger.DebugContext(ctx, "feed buffer full, dropping message",
				slog.String("channel", channel), slog.Int64("sequence", msg.Sequence))
		}
	}
}

// DetachAll closes every feed attached to the channel. Each attached session
// observes a terminal close, not an error.
func (f *Fanout) DetachAll(channel string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for feed := range f.feeds[channel] {
		feed.signalClose()
	}
	delete(f.feeds, channel)
}

// Close closes every feed on every channel. Idempotent.
func (f *Fanout) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	for channel, set := range f.feeds {
		for feed := range set {
			feed.signalClose()
		}
		delete(f.feeds, channel)
	}
}

// Dropped reports how many messages were skipped because a feed's buffer was
// full. Useful for monitoring sizing of the feed buffer.
func (f *Fanout) Dropped() int64 {
	return f.dropped.Load()
}

func (f *Fanout) detach(feed *Feed) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if set, ok := f.feeds[feed.channel]; ok {
		delete(set, feed)
		if len(set) == 0 {
			delete(f.feeds, feed.channel)
		}
	}
	feed.signalClose()
}

// Feed is one attachment to a channel's live fanout. Messages published after
// Attach are buffered on Messages until the feed is closed.
type Feed struct {
	fanout  *Fanout
	channel string
	ch      chan Message
	done    chan struct{}
	once    sync.Once
}

// Messages returns the channel of live messages. It is never closed; use Done
// to detect detachment, then drain any buffered remainder if needed.
func (f *Feed) Messages() <-chan Message {
	return f.ch
}

// Done is closed when the feed is detached, either by Close or by the fanout
// shutting the channel down.
func (f *Feed) Done() <-chan struct{} {
	return f.done
}

// Close detaches the feed and releases its slot in the fanout. Safe to call
// multiple times and from any goroutine.
func (f *Feed) Close() {
	f.fanout.detach(f)
}

func (f *Feed) signalClose() {
	f.once.Do(func() { close(f.done) })
}
