// Package stream implements an ordered, replayable message stream per named channel.
//
// Messages published to a channel receive strictly increasing sequence numbers
// from a per-channel sequencer and are persisted to an append-only Log. Any
// number of subscriber sessions can attach to a channel, each with its own
// delivery cursor, and receive every message after that cursor exactly once and
// in order: first a replay of the persisted history, then a seamless switch to
// the live feed as new messages arrive.
//
// The package is built from four pieces:
//
//   - Log: the durable, per-channel append-only store (MemoryLog for tests and
//     local development, RedisLog for production).
//   - Fanout: best-effort in-process multicast of freshly published messages to
//     attached feeds.
//   - Broker: glues Log and Fanout together; Publish appends then fans out,
//     Subscribe opens a Session.
//   - Session: runs the replay protocol that stitches the historical read and
//     the live feed into one gap-free, duplicate-free stream.
//
// The replay protocol attaches to the fanout before snapshotting the log's
// high-water mark, so a message committed during the subscribe race window is
// never lost: it is either part of the bounded historical read or buffered on
// the feed and deduplicated by sequence number.
//
// Example:
//
//	log := stream.NewMemoryLog()
//	broker := stream.NewBroker(log)
//	defer broker.Close()
//
//	sess, err := broker.Subscribe(ctx, "orders")
//	if err != nil {
//	    return err
//	}
//	defer sess.Close()
//
//	go broker.Publish(ctx, "orders", json.RawMessage(`{"n":1}`))
//
//	for msg := range sess.Messages() {
//	    fmt.Println(msg.Sequence, string(msg.Payload))
//	}
//	if err := sess.Err(); err != nil {
//	    return err // e.g. ErrReplayGap when history was expired mid-replay
//	}
package stream
