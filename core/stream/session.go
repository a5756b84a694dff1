package stream

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

// SessionState tracks where a session is in its delivery protocol.
type SessionState string

const (
	// SessionReplaying means the session is still emitting persisted history.
	SessionReplaying SessionState = "replaying"
	// SessionLive means historical catch-up is complete and the session is
	// tailing the live feed.
	SessionLive SessionState = "live"
	// SessionClosed means the stream has ended; Messages is closed and Err
	// reports the terminal error, if any.
	SessionClosed SessionState = "closed"
)

// Session is one subscriber's attachment to a channel. It owns a private
// delivery cursor and emits every message with a sequence greater than the
// starting cursor exactly once, in ascending order: persisted history first,
// then the live tail, stitched without gap or duplicate.
//
// A session ends when its context is canceled, Close is called, the channel
// is cleared, or an unrecoverable error occurs. Messages is closed on every
// exit path and the live-feed attachment is always released.
type Session struct {
	id      uuid.UUID
	channel string
	userID  string

	cursor atomic.Int64
	state  atomic.Value // SessionState

	out    chan Message
	feed   *Feed
	cancel context.CancelFunc
	logger *slog.Logger

	errMu sync.Mutex
	err   error
}

// ID returns the session's unique identifier, freshly generated per Subscribe.
func (s *Session) ID() uuid.UUID { return s.id }

// Channel returns the channel this session is attached to.
func (s *Session) Channel() string { return s.channel }

// UserID returns the subscriber identity supplied via WithUserID, if any.
func (s *Session) UserID() string { return s.userID }

// Cursor returns the sequence number of the last message delivered.
func (s *Session) Cursor() int64 { return s.cursor.Load() }

// State returns the session's current lifecycle state.
func (s *Session) State() SessionState {
	return s.state.Load().(SessionState)
}

// Messages returns the ordered message stream. The channel is closed when the
// session ends; check Err afterwards to distinguish cancellation from failure.
func (s *Session) Messages() <-chan Message { return s.out }

// Err reports why the stream ended. It returns nil for plain cancellation or
// a channel clear, and a non-nil error (e.g. ErrReplayGap, ErrStoreUnavailable)
// when delivery had to stop without the no-loss guarantee. Only meaningful
// after Messages is closed.
func (s *Session) Err() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.err
}

// Close cancels the session and releases its live-feed attachment.
// Idempotent and safe to call from any goroutine.
func (s *Session) Close() { s.cancel() }

func (s *Session) fail(err error) {
	s.errMu.Lock()
	s.err = err
	s.errMu.Unlock()
	s.logger.Error("session terminated",
		slog.String("channel", s.channel),
		slog.String("session_id", s.id.String()),
		slog.Int64("cursor", s.cursor.Load()),
		slog.Any("error", err))
}

// emit hands a message to the consumer and advances the cursor. It returns
// false when the session was canceled or detached before the consumer took
// the message.
func (s *Session) emit(ctx context.Context, msg Message) bool {
	select {
	case s.out <- msg:
		s.cursor.Store(msg.Sequence)
		return true
	case <-ctx.Done():
		return false
	case <-s.feed.Done():
		return false
	}
}

// run executes the replay protocol. The feed was attached by Subscribe before
// the high-water mark snapshot was taken, so every message committed after the
// snapshot is either buffered on the feed or reachable through gap backfill.
func (s *Session) run(ctx context.Context, log Log, highWaterMark int64) {
	defer func() {
		s.feed.Close()
		s.state.Store(SessionClosed)
		close(s.out)
	}()

	// Phase 1: bounded historical replay up to the snapshot.
	if cursor := s.cursor.Load(); cursor < highWaterMark {
		history, err := log.ReadRange(ctx, s.channel, cursor, highWaterMark)
		if err != nil {
			s.fail(err)
			return
		}
		for _, msg := range history {
			if !s.emit(ctx, msg) {
				return
			}
		}
	}
	s.state.Store(SessionLive)

	// Phase 2: live tail. Messages buffered during replay overlap the
	// historical range; anything at or below the cursor is a duplicate and is
	// dropped. A sequence jump means the fanout skipped us (full buffer, or a
	// publish that committed between snapshot and attach settling) and the
	// missing range is re-read from the log before the live message is emitted.
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.feed.Done():
			return
		case msg := <-s.feed.Messages():
			cursor := s.cursor.Load()
			if msg.Sequence <= cursor {
				continue
			}
			if msg.Sequence > cursor+1 {
				if !s.backfill(ctx, log, cursor, msg.Sequence) {
					return
				}
			}
			if !s.emit(ctx, msg) {
				return
			}
		}
	}
}

// backfill closes the range (cursor, next) from the log. It returns false if
// the session must stop, recording ErrReplayGap when part of the range is
// permanently gone: silently skipping messages would break the no-loss
// guarantee, so the session terminates instead.
func (s *Session) backfill(ctx context.Context, log Log, cursor, next int64) bool {
	missed, err := log.ReadRange(ctx, s.channel, cursor, next-1)
	if err != nil {
		s.fail(err)
		return false
	}
	for _, msg := range missed {
		if !s.emit(ctx, msg) {
			return false
		}
	}
	if got := s.cursor.Load(); got != next-1 {
		s.fail(fmt.Errorf("%w: channel %q sequences (%d, %d)", ErrReplayGap, s.channel, got, next))
		return false
	}
	return true
}
