// Package redisstore backs the Event Store & Emitter (C5) with Redis: a
// per-session sorted set (score = seq) for ordered, since-seq queries, and
// an atomic INCR for gap-free sequence assignment. Live push is handled
// separately by PulseBroadcaster in the same package, so a deployment can
// mix a durable store with an at-least-once push layer the way the teacher's
// stream/pulse sink does.
package redisstore

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/sitewright/agentcore/internal/events"
)

const keyPrefix = "agentcore:events:"

// Store implements events.Store on top of a Redis sorted set per session
// plus an atomic counter key for sequence assignment.
type Store struct {
	rdb *redis.Client
}

// NewStore constructs a Store backed by rdb.
func NewStore(rdb *redis.Client) *Store {
	return &Store{rdb: rdb}
}

func seqKey(sessionID string) string   { return keyPrefix + "seq:" + sessionID }
func eventsKey(sessionID string) string { return keyPrefix + "log:" + sessionID }

// Append atomically increments the session's sequence counter and adds the
// event to its sorted set scored by that sequence.
func (s *Store) Append(ctx context.Context, ev events.Event) (events.Event, error) {
	if events.IsRunScoped(ev.Type) && ev.RunID == "" {
		return events.Event{}, fmt.Errorf("redisstore: %q is run-scoped and requires a run id", ev.Type)
	}

	seq, err := s.rdb.Incr(ctx, seqKey(ev.SessionID)).Result()
	if err != nil {
		return events.Event{}, fmt.Errorf("redisstore: incr seq: %w", err)
	}
	ev.Seq = seq
	if ev.Timestamp == 0 {
		ev.Timestamp = nowMillis()
	}

	raw, err := json.Marshal(ev)
	if err != nil {
		return events.Event{}, fmt.Errorf("redisstore: marshal event: %w", err)
	}

	if err := s.rdb.ZAdd(ctx, eventsKey(ev.SessionID), redis.Z{Score: float64(seq), Member: raw}).Err(); err != nil {
		return events.Event{}, fmt.Errorf("redisstore: zadd: %w", err)
	}
	return ev, nil
}

// GetBySession returns every event scored above sinceSeq, ascending.
func (s *Store) GetBySession(ctx context.Context, sessionID string, sinceSeq int64, limit int) ([]events.Event, error) {
	opts := &redis.ZRangeBy{Min: fmt.Sprintf("(%d", sinceSeq), Max: "+inf"}
	if limit > 0 {
		opts.Count = int64(limit)
	}
	members, err := s.rdb.ZRangeByScore(ctx, eventsKey(sessionID), opts).Result()
	if err != nil {
		return nil, fmt.Errorf("redisstore: zrangebyscore: %w", err)
	}
	return decodeAll(members)
}

// GetByRun filters the session's ordered stream down to runID, preserving
// the original session-scoped seq ordering.
func (s *Store) GetByRun(ctx context.Context, sessionID, runID string, sinceSeq int64, limit int) ([]events.Event, error) {
	all, err := s.GetBySession(ctx, sessionID, sinceSeq, 0)
	if err != nil {
		return nil, err
	}
	var out []events.Event
	for _, ev := range all {
		if ev.RunID != runID {
			continue
		}
		out = append(out, ev)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func nowMillis() int64 { return time.Now().UTC().UnixMilli() }

func decodeAll(members []string) ([]events.Event, error) {
	out := make([]events.Event, 0, len(members))
	for _, m := range members {
		var ev events.Event
		if err := json.Unmarshal([]byte(m), &ev); err != nil {
			return nil, fmt.Errorf("redisstore: decode event: %w", err)
		}
		out = append(out, ev)
	}
	return out, nil
}
