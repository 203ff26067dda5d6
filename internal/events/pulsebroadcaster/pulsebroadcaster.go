// Package pulsebroadcaster implements the SSE push side of the Event Store
// & Emitter (C5) on top of goa.design/pulse streams: one Pulse stream per
// session, fanning out to every live SSE subscriber via a consumer-group
// sink. Delivery is at-least-once; subscribers dedup by EventID.
package pulsebroadcaster

import (
	"context"
	"encoding/json"

	"github.com/redis/go-redis/v9"
	"goa.design/pulse/streaming"

	"github.com/sitewright/agentcore/internal/events"
)

// Broadcaster publishes events to per-session Pulse streams and exposes a
// Subscribe call that opens a consumer-group sink on demand.
type Broadcaster struct {
	rdb      *redis.Client
	sinkName string
}

// New constructs a Broadcaster backed by rdb. sinkName identifies the Pulse
// consumer group; every Subscribe call shares it, so restarted subscribers
// resume from where they left off rather than reprocessing history.
func New(rdb *redis.Client, sinkName string) *Broadcaster {
	if sinkName == "" {
		sinkName = "agentcore_sse"
	}
	return &Broadcaster{rdb: rdb, sinkName: sinkName}
}

func streamName(sessionID string) string { return "session/" + sessionID }

// Publish writes ev onto its session's Pulse stream. Failures are
// swallowed: the Store remains the canonical record, so a lost push is
// recovered by the subscriber's next since_seq poll.
func (b *Broadcaster) Publish(ev events.Event) {
	str, err := streaming.NewStream(streamName(ev.SessionID), b.rdb)
	if err != nil {
		return
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		return
	}
	_, _ = str.Add(context.Background(), string(ev.Type), payload)
}

// Subscribe opens a consumer-group sink on the session's stream and decodes
// incoming payloads back into events.Event. The returned unsubscribe func
// closes the sink and the returned channel.
func (b *Broadcaster) Subscribe(sessionID string) (<-chan events.Event, func()) {
	ctx, cancel := context.WithCancel(context.Background())

	out := make(chan events.Event, 64)
	str, err := streaming.NewStream(streamName(sessionID), b.rdb)
	if err != nil {
		cancel()
		close(out)
		return out, func() {}
	}
	sink, err := str.NewSink(ctx, b.sinkName)
	if err != nil {
		cancel()
		close(out)
		return out, func() {}
	}

	go consume(ctx, sink, out)

	unsubscribe := func() {
		cancel()
		sink.Close(context.Background())
	}
	return out, unsubscribe
}

func consume(ctx context.Context, sink *streaming.Sink, out chan<- events.Event) {
	defer close(out)
	ch := sink.Subscribe()
	for {
		select {
		case <-ctx.Done():
			return
		case raw, ok := <-ch:
			if !ok {
				return
			}
			var ev events.Event
			if err := json.Unmarshal(raw.Payload, &ev); err != nil {
				continue
			}
			select {
			case out <- ev:
			case <-ctx.Done():
				return
			}
			_ = sink.Ack(ctx, raw)
		}
	}
}
