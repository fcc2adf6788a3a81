package redisx

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// StreamMessage is the typed decoding of one Redis Stream entry's flat
// field-value pairs. Per spec.md §9's "typed records over dynamic
// decoding" note, each consumer decodes once at the boundary and works
// with Fields from then on rather than re-inspecting the raw map.
type StreamMessage struct {
	ID     string
	Fields map[string]string
}

// String returns a field's value, or "" if absent.
func (m StreamMessage) String(field string) string {
	if v, ok := m.Fields[field]; ok {
		return v
	}
	return ""
}

// IsNoGroup reports whether err is Redis's NOGROUP error, signaling the
// consumer group needs to be recreated.
func IsNoGroup(err error) bool {
	return err != nil && strings.Contains(err.Error(), "NOGROUP")
}

// EnsureGroup creates the consumer group for stream, starting at id
// (typically "0" for durable consumers or "$" for read-only tailing),
// ignoring the "already exists" error.
func EnsureGroup(ctx context.Context, client *redis.Client, stream, group, start string) error {
	err := client.XGroupCreateMkStream(ctx, stream, group, start).Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return err
	}
	return nil
}

// ReadGroup performs one bounded XREADGROUP call and returns the decoded
// messages for stream. A nil, nil result means the block duration
// elapsed with nothing to read.
func ReadGroup(ctx context.Context, client *redis.Client, group, consumer, stream string, count int64, block time.Duration) ([]StreamMessage, error) {
	res, err := client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    group,
		Consumer: consumer,
		Streams:  []string{stream, ">"},
		Count:    count,
		Block:    block,
	}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, err
	}

	var out []StreamMessage
	for _, s := range res {
		for _, m := range s.Messages {
			out = append(out, decodeMessage(m))
		}
	}
	return out, nil
}

// ReadTail performs one bounded XREAD call against the live tail of
// stream starting after lastID, for consumers that don't need a durable
// consumer group (spec.md §4.6's "read-only, $ start" streams).
func ReadTail(ctx context.Context, client *redis.Client, stream, lastID string, count int64, block time.Duration) ([]StreamMessage, string, error) {
	res, err := client.XRead(ctx, &redis.XReadArgs{
		Streams: []string{stream, lastID},
		Count:   count,
		Block:   block,
	}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, lastID, nil
		}
		return nil, lastID, err
	}

	var out []StreamMessage
	next := lastID
	for _, s := range res {
		for _, m := range s.Messages {
			out = append(out, decodeMessage(m))
			next = m.ID
		}
	}
	return out, next, nil
}

func decodeMessage(m redis.XMessage) StreamMessage {
	fields := make(map[string]string, len(m.Values))
	for k, v := range m.Values {
		if s, ok := v.(string); ok {
			fields[k] = s
		}
	}
	return StreamMessage{ID: m.ID, Fields: fields}
}

// Ack acknowledges one or more message IDs for group on stream in a
// single call.
func Ack(ctx context.Context, client *redis.Client, stream, group string, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	return client.XAck(ctx, stream, group, ids...).Err()
}

// ClaimIdle reclaims messages that have been pending (delivered, never
// acked) for at least minIdle, so a process crash mid-dispatch doesn't
// stall delivery forever. Grounded on the pending/claim loop used for
// durable Redis Streams consumer groups.
func ClaimIdle(ctx context.Context, client *redis.Client, stream, group, consumer string, minIdle time.Duration, count int64) ([]StreamMessage, error) {
	pending, err := client.XPendingExt(ctx, &redis.XPendingExtArgs{
		Stream: stream,
		Group:  group,
		Start:  "-",
		End:    "+",
		Count:  count,
	}).Result()
	if err != nil {
		return nil, err
	}

	var toClaim []string
	for _, p := range pending {
		if p.Idle >= minIdle {
			toClaim = append(toClaim, p.ID)
		}
	}
	if len(toClaim) == 0 {
		return nil, nil
	}

	msgs, err := client.XClaim(ctx, &redis.XClaimArgs{
		Stream:   stream,
		Group:    group,
		Consumer: consumer,
		MinIdle:  minIdle,
		Messages: toClaim,
	}).Result()
	if err != nil {
		return nil, err
	}

	out := make([]StreamMessage, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, decodeMessage(m))
	}
	return out, nil
}

// Lag returns the pending-entries count for group on stream.
func Lag(ctx context.Context, client *redis.Client, stream, group string) (int64, error) {
	summary, err := client.XPending(ctx, stream, group).Result()
	if err != nil {
		return 0, err
	}
	return summary.Count, nil
}

// Publish appends a record to stream, approximately trimmed to maxLen.
func Publish(ctx context.Context, client *redis.Client, stream string, maxLen int64, values map[string]interface{}) (string, error) {
	return client.XAdd(ctx, &redis.XAddArgs{
		Stream: stream,
		MaxLen: maxLen,
		Approx: true,
		Values: values,
	}).Result()
}
