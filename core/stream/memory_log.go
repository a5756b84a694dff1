package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryLog implements Log entirely in process memory. It is intended for
// tests and local development; nothing survives a restart.
//
// Each channel carries its own lock, so appends on different channels never
// contend. Within a channel, sequence assignment and the write commit under
// the same lock, which trivially gives readers a consistent prefix.
type MemoryLog struct {
	mu       sync.RWMutex
	channels map[string]*memoryChannel
}

type memoryChannel struct {
	mu       sync.Mutex
	sequence int64
	messages []Message // ascending by sequence
}

// NewMemoryLog creates an empty in-memory log.
func NewMemoryLog() *MemoryLog {
	return &MemoryLog{
		channels: make(map[string]*memoryChannel),
	}
}

func (l *MemoryLog) channel(name string) *memoryChannel {
	l.mu.RLock()
	ch, ok := l.channels[name]
	l.mu.RUnlock()
	if ok {
		return ch
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if ch, ok = l.channels[name]; ok {
		return ch
	}
	ch = &memoryChannel{}
	l.channels[name] = ch
	return ch
}

// NextSequence implements Log.
func (l *MemoryLog) NextSequence(ctx context.Context, channel string) (int64, error) {
	if channel == "" {
		return 0, ErrEmptyChannel
	}
	ch := l.channel(channel)
	ch.mu.Lock()
	defer ch.mu.Unlock()
	ch.sequence++
	return ch.sequence, nil
}

// Append implements Log.
func (l *MemoryLog) Append(ctx context.Context, channel string, payload json.RawMessage, timestamp time.Time, producerID string) (Message, error) {
	if channel == "" {
		return Message{}, ErrEmptyChannel
	}
	if err := ctx.Err(); err != nil {
		return Message{}, err
	}

	ch := l.channel(channel)
	ch.mu.Lock()
	defer ch.mu.Unlock()

	ch.sequence++
	msg := Message{
		ID:         uuid.New(),
		Sequence:   ch.sequence,
		Timestamp:  timestamp,
		ProducerID: producerID,
		Payload:    payload,
		Channel:    channel,
	}
	if n := len(ch.messages); n > 0 && ch.messages[n-1].Sequence >= msg.Sequence {
		return Message{}, fmt.Errorf("%w: channel %q sequence %d", ErrSequenceConflict, channel, msg.Sequence)
	}
	ch.messages = append(ch.messages, msg)
	return msg, nil
}

// ReadRange implements Log.
func (l *MemoryLog) ReadRange(ctx context.Context, channel string, after, until int64) ([]Message, error) {
	if channel == "" {
		return nil, ErrEmptyChannel
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	ch := l.channel(channel)
	ch.mu.Lock()
	defer ch.mu.Unlock()

	start := sort.Search(len(ch.messages), func(i int) bool {
		return ch.messages[i].Sequence > after
	})

	var out []Message
	for _, msg := range ch.messages[start:] {
		if until > 0 && msg.Sequence > until {
			break
		}
		out = append(out, msg)
	}
	return out, nil
}

// HighWaterMark implements Log.
func (l *MemoryLog) HighWaterMark(ctx context.Context, channel string) (int64, error) {
	if channel == "" {
		return 0, ErrEmptyChannel
	}
	ch := l.channel(channel)
	ch.mu.Lock()
	defer ch.mu.Unlock()
	if n := len(ch.messages); n > 0 {
		return ch.messages[n-1].Sequence, nil
	}
	return 0, nil
}

// Clear implements Log.
func (l *MemoryLog) Clear(ctx context.Context, channel string) error {
	if channel == "" {
		return ErrEmptyChannel
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.channels, channel)
	return nil
}

// Expire implements Log.
func (l *MemoryLog) Expire(ctx context.Context, channel string, retention time.Duration) error {
	if channel == "" {
		return ErrEmptyChannel
	}
	if retention <= 0 {
		return nil
	}

	ch := l.channel(channel)
	ch.mu.Lock()
	defer ch.mu.Unlock()

	cutoff := time.Now().Add(-retention)
	keep := sort.Search(len(ch.messages), func(i int) bool {
		return !ch.messages[i].Timestamp.Before(cutoff)
	})
	if keep > 0 {
		ch.messages = append([]Message(nil), ch.messages[keep:]...)
	}
	return nil
}
