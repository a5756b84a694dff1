package stream_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/relaycast/core/stream"
)

func TestFanout_Publish(t *testing.T) {
	t.Parallel()

	t.Run("delivers to every attached feed", func(t *testing.T) {
		t.Parallel()

		fanout := stream.NewFanout()
		first := fanout.Attach("orders")
		second := fanout.Attach("orders")
		defer first.Close()
		defer second.Close()

		fanout.Publish(context.Background(), "orders", stream.Message{Sequence: 1})

		for _, feed := range []*stream.Feed{first, second} {
			select {
			case msg := <-feed.Messages():
				assert.Equal(t, int64(1), msg.Sequence)
			case <-time.After(time.Second):
				t.Fatal("timeout waiting for fanout delivery")
			}
		}
	})

	t.Run("does not cross channels", func(t *testing.T) {
		t.Parallel()

		fanout := stream.NewFanout()
		feed := fanout.Attach("orders")
		defer feed.Close()

		fanout.Publish(context.Background(), "users", stream.Message{Sequence: 1})

		select {
		case <-feed.Messages():
			t.Fatal("received message published to another channel")
		case <-time.After(50 * time.Millisecond):
		}
	})

	t.Run("skips feeds with a full buffer instead of blocking", func(t *testing.T) {
		t.Parallel()

		fanout := stream.NewFanout(stream.WithFeedBuffer(1))
		feed := fanout.Attach("orders")
		defer feed.Close()

		ctx := context.Background()
		fanout.Publish(ctx, "orders", stream.Message{Sequence: 1})
		fanout.Publish(ctx, "orders", stream.Message{Sequence: 2})

		assert.Equal(t, int64(1), fanout.Dropped())

		msg := <-feed.Messages()
		assert.Equal(t, int64(1), msg.Sequence)
	})
}

func TestFanout_Detach(t *testing.T) {
	t.Parallel()

	t.Run("closed feed stops receiving", func(t *testing.T) {
		t.Parallel()

		fanout := stream.NewFanout()
		feed := fanout.Attach("orders")
		feed.Close()

		select {
		case <-feed.Done():
		case <-time.After(time.Second):
			t.Fatal("Done not closed after Close")
		}

		fanout.Publish(context.Background(), "orders", stream.Message{Sequence: 1})
		select {
		case <-feed.Messages():
			t.Fatal("received message after detach")
		case <-time.After(50 * time.Millisecond):
		}
	})

	t.Run("close is idempotent", func(t *testing.T) {
		t.Parallel()

		fanout := stream.NewFanout()
		feed := fanout.Attach("orders")
		feed.Close()
		feed.Close()
	})

	t.Run("DetachAll closes every feed on the channel", func(t *testing.T) {
		t.Parallel()

		fanout := stream.NewFanout()
		first := fanout.Attach("orders")
		second := fanout.Attach("orders")
		other := fanout.Attach("users")
		defer other.Close()

		fanout.DetachAll("orders")

		for _, feed := range []*stream.Feed{first, second} {
			select {
			case <-feed.Done():
			case <-time.After(time.Second):
				t.Fatal("feed not closed by DetachAll")
			}
		}

		select {
		case <-other.Done():
			t.Fatal("DetachAll leaked into another channel")
		default:
		}
	})

	t.Run("Close shuts down all channels", func(t *testing.T) {
		t.Parallel()

		fanout := stream.NewFanout()
		first := fanout.Attach("orders")
		second := fanout.Attach("users")

		fanout.Close()

		require.Eventually(t, func() bool {
			select {
			case <-first.Done():
			default:
				return false
			}
			select {
			case <-second.Done():
			default:
				return false
			}
			return true
		}, time.Second, 10*time.Millisecond)
	})
}
