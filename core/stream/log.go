package stream

import (
	"context"
	"encoding/json"
	"time"
)

// Log is the durable, per-channel append-only message store. All methods are
// safe for concurrent use. Two implementations are provided: MemoryLog for
// tests and local development, and RedisLog backed by a Redis sorted set.
//
// Sequence numbers are issued by the log's own sequencer (NextSequence) so
// that a restart resumes from the last issued value instead of starting over;
// only Clear resets the counter. An Append that fails after its sequence was
// issued abandons that sequence, so readers must tolerate holes in the
// persisted range: sequences are strictly increasing but not necessarily
// contiguous.
type Log interface {
	// NextSequence atomically issues the next sequence number for the channel.
	// Values are unique and strictly increasing per channel regardless of
	// caller concurrency.
	NextSequence(ctx context.Context, channel string) (int64, error)

	// Append assigns the next sequence number, persists the message and
	// returns the stored record. If the write fails, the issued sequence is
	// abandoned. Commit order is serialized per channel so that ReadRange and
	// HighWaterMark always observe a consistent prefix.
	Append(ctx context.Context, channel string, payload json.RawMessage, timestamp time.Time, producerID string) (Message, error)

	// ReadRange returns all persisted messages with sequence in
	// (after, until], in ascending sequence order. A non-positive until means
	// no upper bound. An empty result is not an error.
	ReadRange(ctx context.Context, channel string, after, until int64) ([]Message, error)

	// HighWaterMark returns the greatest sequence currently persisted on the
	// channel, or 0 if the channel is empty.
	HighWaterMark(ctx context.Context, channel string) (int64, error)

	// Clear deletes all persisted messages and resets the sequence counter to
	// zero. Irreversible, and a no-op on an unknown or already-cleared channel.
	Clear(ctx context.Context, channel string) error

	// Expire removes messages older than the retention window. The sequence
	// counter is untouched: sequence numbers are never reused, keeping cursors
	// comparable across expiry.
	Expire(ctx context.Context, channel string, retention time.Duration) error
}
