package registry_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/relaycast/core/registry"
	"github.com/dmitrymomot/relaycast/core/stream"
)

// idleProducer blocks until canceled, like a real producer waiting on an
// upstream source that never delivers.
func idleProducer(ctx context.Context, _ string, _ *stream.Broker) error {
	<-ctx.Done()
	return ctx.Err()
}

// triggeredProducer publishes one message per value received, so tests control
// exactly when the channel produces.
func triggeredProducer(trigger <-chan string) registry.ProducerFunc {
	return func(ctx context.Context, channel string, broker *stream.Broker) error {
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case payload := <-trigger:
				if _, err := broker.Publish(ctx, channel, json.RawMessage(fmt.Sprintf("%q", payload))); err != nil {
					return err
				}
			}
		}
	}
}

func receiveN(t *testing.T, session *stream.Session, n int) []stream.Message {
	t.Helper()
	out := make([]stream.Message, 0, n)
	timeout := time.After(2 * time.Second)
	for len(out) < n {
		select {
		case msg, ok := <-session.Messages():
			require.True(t, ok, "stream ended early after %d messages: %v", len(out), session.Err())
			out = append(out, msg)
		case <-timeout:
			t.Fatalf("timeout waiting for message %d of %d", len(out)+1, n)
		}
	}
	return out
}

func requireClosed(t *testing.T, session *stream.Session) {
	t.Helper()
	timeout := time.After(2 * time.Second)
	for {
		select {
		case _, ok := <-session.Messages():
			if !ok {
				return
			}
		case <-timeout:
			t.Fatal("timeout waiting for stream to close")
		}
	}
}

func newRegistry(t *testing.T, opts ...registry.Option) (*registry.Registry, *stream.Broker) {
	t.Helper()
	broker := stream.NewBroker(stream.NewMemoryLog())
	reg := registry.New(broker, opts...)
	t.Cleanup(reg.Shutdown)
	return reg, broker
}

func TestRegistry_Start(t *testing.T) {
	t.Parallel()

	t.Run("starting twice reports the channel active", func(t *testing.T) {
		t.Parallel()

		reg, _ := newRegistry(t)
		require.NoError(t, reg.Start("orders", idleProducer))
		require.ErrorIs(t, reg.Start("orders", idleProducer), registry.ErrChannelActive)

		state, err := reg.State("orders")
		require.NoError(t, err)
		assert.Equal(t, registry.ChannelActive, state)
	})

	t.Run("restart after stop", func(t *testing.T) {
		t.Parallel()

		reg, _ := newRegistry(t)
		require.NoError(t, reg.Start("orders", idleProducer))
		require.NoError(t, reg.Stop("orders"))
		require.NoError(t, reg.Start("orders", idleProducer))
	})

	t.Run("rejects empty channel name", func(t *testing.T) {
		t.Parallel()

		reg, _ := newRegistry(t)
		require.ErrorIs(t, reg.Start("", idleProducer), stream.ErrEmptyChannel)
	})

	t.Run("producer failure marks the channel stopped, siblings unaffected", func(t *testing.T) {
		t.Parallel()

		reg, _ := newRegistry(t)
		require.NoError(t, reg.Start("orders", func(ctx context.Context, _ string, _ *stream.Broker) error {
			return errors.New("upstream exploded")
		}))
		require.NoError(t, reg.Start("users", idleProducer))

		require.Eventually(t, func() bool {
			state, err := reg.State("orders")
			return err == nil && state == registry.ChannelStopped
		}, time.Second, 5*time.Millisecond)

		state, err := reg.State("users")
		require.NoError(t, err)
		assert.Equal(t, registry.ChannelActive, state)
	})
}

func TestRegistry_Stop(t *testing.T) {
	t.Parallel()

	t.Run("unknown channel", func(t *testing.T) {
		t.Parallel()

		reg, _ := newRegistry(t)
		require.ErrorIs(t, reg.Stop("never-started"), registry.ErrChannelNotFound)
	})

	t.Run("cancels the producer task", func(t *testing.T) {
		t.Parallel()

		reg, _ := newRegistry(t)
		canceled := make(chan struct{})
		require.NoError(t, reg.Start("orders", func(ctx context.Context, _ string, _ *stream.Broker) error {
			<-ctx.Done()
			close(canceled)
			return ctx.Err()
		}))

		require.NoError(t, reg.Stop("orders"))
		select {
		case <-canceled:
		default:
			t.Fatal("producer context not canceled by Stop")
		}

		state, err := reg.State("orders")
		require.NoError(t, err)
		assert.Equal(t, registry.ChannelStopped, state)
	})

	t.Run("replay still works after stop, no new live messages", func(t *testing.T) {
		t.Parallel()

		trigger := make(chan string)
		reg, broker := newRegistry(t)
		require.NoError(t, reg.Start("orders", triggeredProducer(trigger)))

		trigger <- "m1"
		trigger <- "m2"
		trigger <- "m3"
		require.Eventually(t, func() bool {
			hwm, err := broker.Log().HighWaterMark(context.Background(), "orders")
			return err == nil && hwm == 3
		}, time.Second, 5*time.Millisecond)

		session, err := broker.Subscribe(context.Background(), "orders")
		require.NoError(t, err)
		defer session.Close()

		// Stop mid-replay: persisted history must still be delivered in full.
		require.NoError(t, reg.Stop("orders"))

		msgs := receiveN(t, session, 3)
		assert.Equal(t, int64(3), msgs[2].Sequence)

		select {
		case msg := <-session.Messages():
			t.Fatalf("received message %d after stop", msg.Sequence)
		case <-time.After(50 * time.Millisecond):
		}
	})
}

func TestRegistry_Clear(t *testing.T) {
	t.Parallel()

	t.Run("resets the sequence counter", func(t *testing.T) {
		t.Parallel()

		reg, broker := newRegistry(t)
		ctx := context.Background()

		for _, payload := range []string{"m1", "m2", "m3"} {
			_, err := broker.Publish(ctx, "orders", json.RawMessage(fmt.Sprintf("%q", payload)))
			require.NoError(t, err)
		}
		require.NoError(t, reg.Clear(ctx, "orders"))

		msg, err := broker.Publish(ctx, "orders", json.RawMessage(`"m4"`))
		require.NoError(t, err)
		assert.Equal(t, int64(1), msg.Sequence)

		session, err := broker.Subscribe(ctx, "orders")
		require.NoError(t, err)
		defer session.Close()
		msgs := receiveN(t, session, 1)
		assert.Equal(t, int64(1), msgs[0].Sequence)
		assert.JSONEq(t, `"m4"`, string(msgs[0].Payload))
	})

	t.Run("idempotent on cleared and unknown channels", func(t *testing.T) {
		t.Parallel()

		reg, _ := newRegistry(t)
		ctx := context.Background()
		require.NoError(t, reg.Start("orders", idleProducer))
		require.NoError(t, reg.Clear(ctx, "orders"))
		require.NoError(t, reg.Clear(ctx, "orders"))
		require.NoError(t, reg.Clear(ctx, "never-started"))
	})

	t.Run("removes the channel and force-closes its sessions", func(t *testing.T) {
		t.Parallel()

		reg, broker := newRegistry(t)
		ctx := context.Background()
		require.NoError(t, reg.Start("orders", idleProducer))

		session, err := broker.Subscribe(ctx, "orders")
		require.NoError(t, err)

		require.NoError(t, reg.Clear(ctx, "orders"))

		requireClosed(t, session)
		require.NoError(t, session.Err(), "clear is a terminal cancellation, not an error")

		_, err = reg.State("orders")
		require.ErrorIs(t, err, registry.ErrChannelNotFound)
	})
}

func TestRegistry_Shutdown(t *testing.T) {
	t.Parallel()

	t.Run("stops all producers and sessions, idempotent", func(t *testing.T) {
		t.Parallel()

		broker := stream.NewBroker(stream.NewMemoryLog())
		reg := registry.New(broker)
		require.NoError(t, reg.Start("orders", idleProducer))
		require.NoError(t, reg.Start("users", idleProducer))

		session, err := broker.Subscribe(context.Background(), "orders")
		require.NoError(t, err)

		reg.Shutdown()
		reg.Shutdown()

		requireClosed(t, session)
		require.ErrorIs(t, reg.Start("orders", idleProducer), registry.ErrRegistryClosed)
	})
}

func TestRegistry_Channels(t *testing.T) {
	t.Parallel()

	reg, _ := newRegistry(t)
	require.NoError(t, reg.Start("orders", idleProducer))
	require.NoError(t, reg.Start("users", idleProducer))
	require.NoError(t, reg.Stop("users"))

	channels := reg.Channels()
	require.Len(t, channels, 2)

	states := make(map[string]registry.ChannelState, len(channels))
	for _, info := range channels {
		states[info.Name] = info.State
	}
	assert.Equal(t, registry.ChannelActive, states["orders"])
	assert.Equal(t, registry.ChannelStopped, states["users"])
}

func TestRegistry_RetentionJanitor(t *testing.T) {
	t.Parallel()

	reg, broker := newRegistry(t,
		registry.WithRetention(time.Minute),
		registry.WithCheckInterval(10*time.Millisecond))
	ctx := context.Background()
	require.NoError(t, reg.Start("orders", idleProducer))

	// One message far outside the retention window, one inside.
	_, err := broker.Publish(ctx, "orders", json.RawMessage(`"stale"`),
		stream.WithTimestamp(time.Now().UTC().Add(-time.Hour)))
	require.NoError(t, err)
	fresh, err := broker.Publish(ctx, "orders", json.RawMessage(`"fresh"`))
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		msgs, err := broker.Log().ReadRange(ctx, "orders", 0, 0)
		return err == nil && len(msgs) == 1 && msgs[0].Sequence == fresh.Sequence
	}, time.Second, 10*time.Millisecond)

	// Expiry never resets the counter.
	next, err := broker.Publish(ctx, "orders", json.RawMessage(`"next"`))
	require.NoError(t, err)
	assert.Equal(t, fresh.Sequence+1, next.Sequence)
}
