package stream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	// DefaultScanBatchSize is the page size used when Expire walks a channel's
	// sorted set.
	DefaultScanBatchSize = 1000
)

// RedisLog implements Log on top of Redis. Per channel it keeps a sorted set
// of serialized messages scored by sequence number ("messages:<channel>") and
// a plain integer counter ("sequence:<channel>") driven by INCR, so sequence
// assignment is atomic across processes and survives restarts.
//
// Appends are serialized per channel inside this process: INCR and ZADD are
// two round trips, and without serialization a reader could observe sequence
// n+1 before sequence n commits, breaking the consistent-prefix guarantee.
type RedisLog struct {
	client redis.UniversalClient
	logger *slog.Logger

	batchSize int
	keyTTL    time.Duration

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// RedisLogOption configures a RedisLog.
type RedisLogOption func(*RedisLog)

// WithRedisLogLogger configures structured logging. Malformed records are
// reported at warn level; the default logger discards everything.
func WithRedisLogLogger(logger *slog.Logger) RedisLogOption {
	return func(l *RedisLog) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// WithScanBatchSize sets the page size for Expire scans. Default is 1000.
func WithScanBatchSize(size int) RedisLogOption {
	return func(l *RedisLog) {
		if size > 0 {
			l.batchSize = size
		}
	}
}

// WithKeyTTL applies a whole-key TTL to each channel's sorted set on first
// append, as a safety net against channels that are abandoned without Clear.
// Disabled by default.
func WithKeyTTL(ttl time.Duration) RedisLogOption {
	return func(l *RedisLog) {
		if ttl > 0 {
			l.keyTTL = ttl
		}
	}
}

// NewRedisLog creates a Log backed by the given Redis client.
func NewRedisLog(client redis.UniversalClient, opts ...RedisLogOption) *RedisLog {
	l := &RedisLog{
		client:    client,
		logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
		batchSize: DefaultScanBatchSize,
		locks:     make(map[string]*sync.Mutex),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func messageKey(channel string) string { return "messages:" + channel }

func sequenceKey(channel string) string { return "sequence:" + channel }

func (l *RedisLog) channelLock(channel string) *sync.Mutex {
	l.mu.Lock()
	defer l.mu.Unlock()
	lock, ok := l.locks[channel]
	if !ok {
		lock = &sync.Mutex{}
		l.locks[channel] = lock
	}
	return lock
}

// NextSequence implements Log.
func (l *RedisLog) NextSequence(ctx context.Context, channel string) (int64, error) {
	if channel == "" {
		return 0, ErrEmptyChannel
	}
	seq, err := l.client.Incr(ctx, sequenceKey(channel)).Result()
	if err != nil {
		return 0, errors.Join(ErrStoreUnavailable, err)
	}
	return seq, nil
}

// Append implements Log.
func (l *RedisLog) Append(ctx context.Context, channel string, payload json.RawMessage, timestamp time.Time, producerID string) (Message, error) {
	if channel == "" {
		return Message{}, ErrEmptyChannel
	}

	lock := l.channelLock(channel)
	lock.Lock()
	defer lock.Unlock()

	seq, err := l.NextSequence(ctx, channel)
	if err != nil {
		return Message{}, err
	}

	msg := Message{
		ID:         uuid.New(),
		Sequence:   seq,
		Timestamp:  timestamp,
		ProducerID: producerID,
		Payload:    payload,
		Channel:    channel,
	}
	data, err := json.Marshal(msg)
	if err != nil {
		// The sequence issued above is abandoned; readers tolerate the hole.
		return Message{}, fmt.Errorf("marshal message: %w", err)
	}

	added, err := l.client.ZAdd(ctx, messageKey(channel), redis.Z{
		Score:  float64(seq),
		Member: string(data),
	}).Result()
	if err != nil {
		return Message{}, errors.Join(ErrStoreUnavailable, err)
	}
	if added == 0 {
		return Message{}, fmt.Errorf("%w: channel %q sequence %d", ErrSequenceConflict, channel, seq)
	}

	if l.keyTTL > 0 {
		if err := l.client.ExpireNX(ctx, messageKey(channel), l.keyTTL).Err(); err != nil {
			l.logger.WarnContext(ctx, "failed to set retention TTL",
				slog.String("channel", channel), slog.Any("error", err))
		}
	}
	return msg, nil
}

// ReadRange implements Log.
func (l *RedisLog) ReadRange(ctx context.Context, channel string, after, until int64) ([]Message, error) {
	if channel == "" {
		return nil, ErrEmptyChannel
	}

	max := "+inf"
	if until > 0 {
		max = fmt.Sprintf("%d", until)
	}
	members, err := l.client.ZRangeByScore(ctx, messageKey(channel), &redis.ZRangeBy{
		Min: fmt.Sprintf("(%d", after),
		Max: max,
	}).Result()
	if err != nil {
		return nil, errors.Join(ErrStoreUnavailable, err)
	}

	out := make([]Message, 0, len(members))
	for _, member := range members {
		var msg Message
		if err := json.Unmarshal([]byte(member), &msg); err != nil {
			// Isolated per record: log, skip, keep streaming.
			l.logger.WarnContext(ctx, "skipping malformed message record",
				slog.String("channel", channel), slog.Any("error", errors.Join(ErrMalformedMessage, err)))
			continue
		}
		msg.Channel = channel
		out = append(out, msg)
	}
	return out, nil
}

// HighWaterMark implements Log.
func (l *RedisLog) HighWaterMark(ctx context.Context, channel string) (int64, error) {
	if channel == "" {
		return 0, ErrEmptyChannel
	}
	top, err := l.client.ZRevRangeWithScores(ctx, messageKey(channel), 0, 0).Result()
	if err != nil {
		return 0, errors.Join(ErrStoreUnavailable, err)
	}
	if len(top) == 0 {
		return 0, nil
	}
	return int64(top[0].Score), nil
}

// Clear implements Log.
func (l *RedisLog) Clear(ctx context.Context, channel string) error {
	if channel == "" {
		return ErrEmptyChannel
	}
	lock := l.channelLock(channel)
	lock.Lock()
	defer lock.Unlock()

	if err := l.client.Del(ctx, messageKey(channel), sequenceKey(channel)).Err(); err != nil {
		return errors.Join(ErrStoreUnavailable, err)
	}
	return nil
}

// Expire implements Log.
//
// Messages are scored by sequence, not time, so the retention cutoff is found
// by scanning records in order and locating the greatest sequence whose
// timestamp falls outside the window; everything up to it is removed in one
// ZREMRANGEBYSCORE. Timestamps are non-decreasing in sequence order, so the
// scan can stop at the first retained record.
func (l *RedisLog) Expire(ctx context.Context, channel string, retention time.Duration) error {
	if channel == "" {
		return ErrEmptyChannel
	}
	if retention <= 0 {
		return nil
	}

	cutoff := time.Now().Add(-retention)
	var lastExpired int64

scan:
	for offset := int64(0); ; offset += int64(l.batchSize) {
		members, err := l.client.ZRangeByScore(ctx, messageKey(channel), &redis.ZRangeBy{
			Min:    "-inf",
			Max:    "+inf",
			Offset: offset,
			Count:  int64(l.batchSize),
		}).Result()
		if err != nil {
			return errors.Join(ErrStoreUnavailable, err)
		}
		if len(members) == 0 {
			break
		}
		for _, member := range members {
			var msg Message
			if err := json.Unmarshal([]byte(member), &msg); err != nil {
				l.logger.WarnContext(ctx, "skipping malformed message record",
					slog.String("channel", channel), slog.Any("error", errors.Join(ErrMalformedMessage, err)))
				continue
			}
			if !msg.Timestamp.Before(cutoff) {
				break scan
			}
			lastExpired = msg.Sequence
		}
	}

	if lastExpired == 0 {
		return nil
	}
	err := l.client.ZRemRangeByScore(ctx, messageKey(channel), "-inf", fmt.Sprintf("%d", lastExpired)).Err()
	if err != nil {
		return errors.Join(ErrStoreUnavailable, err)
	}
	return nil
}
