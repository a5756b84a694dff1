// Package registry manages channel lifecycle: which channels are actively
// producing, the producer goroutine each one owns, and the retention policy
// applied to their logs.
//
// A channel moves through a small state machine:
//
//	unknown -> active   (Start launches the producer task)
//	active  -> stopped  (Stop cancels the producer; log and sessions untouched)
//	any     -> cleared  (Clear wipes the log, resets the sequence counter and
//	                     force-closes every attached session)
//
// Stopping a channel halts new live messages but existing sessions keep
// replaying already-persisted data; clearing removes the channel entirely.
// State transitions are guarded per channel, never by a lock spanning all
// channels, so lifecycle calls stay fast regardless of how many channels a
// registry tracks.
//
// The registry is an explicit object injected into request handlers rather
// than process-wide state, so multiple independent registries can coexist in
// one process (and in tests).
//
// Example:
//
//	reg := registry.New(broker, registry.WithRetention(7*24*time.Hour))
//	defer reg.Shutdown()
//
//	err := reg.Start("orders", func(ctx context.Context, channel string, b *stream.Broker) error {
//	    ticker := time.NewTicker(time.Second)
//	    defer ticker.Stop()
//	    for {
//	        select {
//	        case <-ctx.Done():
//	            return ctx.Err()
//	        case <-ticker.C:
//	            if _, err := b.Publish(ctx, channel, nextPayload()); err != nil {
//	                return err
//	            }
//	        }
//	    }
//	})
package registry
