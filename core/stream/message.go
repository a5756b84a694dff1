package stream

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Message is a single record on a channel's ordered log. The sequence number
// is assigned at publish time by the channel's sequencer and is immutable
// afterwards; the payload is opaque to the stream layer.
//
// Wire format (JSON):
//
//	{"id": "...", "sequence": 3, "timestamp": "2025-01-02T15:04:05Z", "producer_id": "gen-1", "payload": {...}}
type Message struct {
	ID         uuid.UUID       `json:"id"`
	Sequence   int64           `json:"sequence"`
	Timestamp  time.Time       `json:"timestamp"`
	ProducerID string          `json:"producer_id,omitempty"`
	Payload    json.RawMessage `json:"payload"`

	// Channel is set by the Log on read and by the Broker on publish.
	// It is not part of the wire format; records are already keyed by channel.
	Channel string `json:"-"`
}
