// Package bus provides the durable event bus: an append-only Redis Stream
// with consumer-group semantics, plus a bounded in-memory fallback ring for
// ingest availability when Redis is unreachable.
package bus

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
)

// Wire contract constants shared by ingest and processors.
const (
	// EventsStream is the stream key for incoming events.
	EventsStream = "lynex:events:incoming"

	// ConsumerGroup is the processor consumer group name.
	ConsumerGroup = "lynex-processors"

	// MaxStreamLength caps the stream with approximate tail trimming.
	MaxStreamLength = 100_000
)

// Config holds bus connection settings.
type Config struct {
	URL            string
	Stream         string
	MaxLen         int64
	MemoryCapacity int
	ConnectTimeout time.Duration
}

// DefaultConfig returns the built-in bus defaults.
func DefaultConfig(url string) Config {
	return Config{
		URL:            url,
		Stream:         EventsStream,
		MaxLen:         MaxStreamLength,
		MemoryCapacity: 10_000,
		ConnectTimeout: 5 * time.Second,
	}
}

// Message is one delivered bus message.
type Message struct {
	ID     string
	Fields map[string]string
}

// PendingEntry describes a delivered-but-unacked message.
type PendingEntry struct {
	ID         string
	Consumer   string
	Idle       time.Duration
	RetryCount int64
}

// Stats reports queue health for monitoring.
type Stats struct {
	Mode          string `json:"mode"` // "redis" or "memory"
	Length        int64  `json:"length"`
	FirstID       string `json:"first_id,omitempty"`
	LastID        string `json:"last_id,omitempty"`
	MemoryPending int    `json:"memory_pending,omitempty"`
	MemoryDropped int64  `json:"memory_dropped,omitempty"`
}

// Bus wraps the Redis Streams client. Safe for concurrent use.
type Bus struct {
	rdb        *redis.Client
	cfg        Config
	logger     *slog.Logger
	memoryMode atomic.Bool
	ring       *memoryRing
}

// Open connects to Redis and fails hard when it is unreachable. Used by the
// processor, which cannot operate without the durable stream.
func Open(ctx context.Context, cfg Config) (*Bus, error) {
	b, err := newBus(cfg)
	if err != nil {
		return nil, err
	}

	pingCtx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
	defer cancel()
	if err := b.rdb.Ping(pingCtx).Err(); err != nil {
		_ = b.rdb.Close()
		return nil, fmt.Errorf("pinging redis: %w", err)
	}
	return b, nil
}

// OpenWithFallback connects to Redis but degrades to the in-memory ring when
// it is unreachable. Used by ingest so the accept path stays available.
// Memory-mode events do not survive a restart.
func OpenWithFallback(ctx context.Context, cfg Config) (*Bus, error) {
	b, err := newBus(cfg)
	if err != nil {
		return nil, err
	}

	pingCtx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
	defer cancel()
	if err := b.rdb.Ping(pingCtx).Err(); err != nil {
		b.enterMemoryMode(err)
	}
	return b, nil
}

func newBus(cfg Config) (*Bus, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parsing redis url: %w", err)
	}
	opts.DialTimeout = cfg.ConnectTimeout

	if cfg.Stream == "" {
		cfg.Stream = EventsStream
	}
	if cfg.MaxLen <= 0 {
		cfg.MaxLen = MaxStreamLength
	}
	if cfg.MemoryCapacity <= 0 {
		cfg.MemoryCapacity = 10_000
	}

	return &Bus{
		rdb:    redis.NewClient(opts),
		cfg:    cfg,
		logger: slog.Default().With("component", "bus"),
		ring:   newMemoryRing(cfg.MemoryCapacity),
	}, nil
}

func (b *Bus) enterMemoryMode(cause error) {
	if b.memoryMode.CompareAndSwap(false, true) {
		b.logger.Warn("Durable bus unreachable, degrading to in-memory queue; events will not survive a restart",
			"stream", b.cfg.Stream,
			"error", cause)
	}
}

// MemoryMode reports whether the bus has fallen back to the in-memory ring.
func (b *Bus) MemoryMode() bool {
	return b.memoryMode.Load()
}

// Append adds one message to the stream and returns its id. Producers never
// block on a full stream; the length cap trims old entries approximately.
// On Redis failure the message lands in the memory ring with a synthetic
// "mem-" id and the bus stays degraded.
func (b *Bus) Append(ctx context.Context, fields map[string]any) (string, error) {
	if b.MemoryMode() {
		return b.ring.append(fields), nil
	}

	id, err := b.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: b.cfg.Stream,
		MaxLen: b.cfg.MaxLen,
		Approx: true,
		Values: fields,
	}).Result()
	if err != nil {
		b.enterMemoryMode(err)
		return b.ring.append(fields), nil
	}
	return id, nil
}

// AppendBatch appends messages in input order through a single pipelined
// round-trip. Partial failure is surfaced as a whole-batch error so the
// caller can retry the batch.
func (b *Bus) AppendBatch(ctx context.Context, batch []map[string]any) ([]string, error) {
	if b.MemoryMode() {
		ids := make([]string, len(batch))
		for i, fields := range batch {
			ids[i] = b.ring.append(fields)
		}
		return ids, nil
	}

	pipe := b.rdb.Pipeline()
	cmds := make([]*redis.StringCmd, len(batch))
	for i, fields := range batch {
		cmds[i] = pipe.XAdd(ctx, &redis.XAddArgs{
			Stream: b.cfg.Stream,
			MaxLen: b.cfg.MaxLen,
			Approx: true,
			Values: fields,
		})
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("appending batch of %d: %w", len(batch), err)
	}

	ids := make([]string, len(batch))
	for i, cmd := range cmds {
		ids[i] = cmd.Val()
	}
	return ids, nil
}

// CreateGroup creates the consumer group starting from the beginning of the
// stream, creating the stream if needed. Idempotent: an existing group is
// not an error.
func (b *Bus) CreateGroup(ctx context.Context, group string) error {
	err := b.rdb.XGroupCreateMkStream(ctx, b.cfg.Stream, group, "0").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("creating consumer group %q: %w", group, err)
	}
	return nil
}

// ReadGroup reads up to count messages never delivered to anyone in the
// group, blocking up to block for new entries. Returns nil on timeout.
func (b *Bus) ReadGroup(ctx context.Context, group, consumer string, count int64, block time.Duration) ([]Message, error) {
	streams, err := b.rdb.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    group,
		Consumer: consumer,
		Streams:  []string{b.cfg.Stream, ">"},
		Count:    count,
		Block:    block,
	}).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading from group %q: %w", group, err)
	}

	var msgs []Message
	for _, stream := range streams {
		for _, m := range stream.Messages {
			msgs = append(msgs, toMessage(m))
		}
	}
	return msgs, nil
}

// Ack removes a message from the group's pending set.
func (b *Bus) Ack(ctx context.Context, group, id string) error {
	if err := b.rdb.XAck(ctx, b.cfg.Stream, group, id).Err(); err != nil {
		return fmt.Errorf("acking %s: %w", id, err)
	}
	return nil
}

// Pending lists up to count pending messages in age order.
func (b *Bus) Pending(ctx context.Context, group string, count int64) ([]PendingEntry, error) {
	entries, err := b.rdb.XPendingExt(ctx, &redis.XPendingExtArgs{
		Stream: b.cfg.Stream,
		Group:  group,
		Start:  "-",
		End:    "+",
		Count:  count,
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("listing pending: %w", err)
	}

	out := make([]PendingEntry, len(entries))
	for i, e := range entries {
		out[i] = PendingEntry{
			ID:         e.ID,
			Consumer:   e.Consumer,
			Idle:       e.Idle,
			RetryCount: e.RetryCount,
		}
	}
	return out, nil
}

// Claim transfers ownership of the given messages to consumer iff they have
// been idle at least minIdle, and returns the claimed messages.
func (b *Bus) Claim(ctx context.Context, group, consumer string, minIdle time.Duration, ids []string) ([]Message, error) {
	claimed, err := b.rdb.XClaim(ctx, &redis.XClaimArgs{
		Stream:   b.cfg.Stream,
		Group:    group,
		Consumer: consumer,
		MinIdle:  minIdle,
		Messages: ids,
	}).Result()
	if err != nil && err != redis.Nil {
		return nil, fmt.Errorf("claiming %d messages: %w", len(ids), err)
	}

	msgs := make([]Message, 0, len(claimed))
	for _, m := range claimed {
		msgs = append(msgs, toMessage(m))
	}
	return msgs, nil
}

// Stats returns queue stats for the health endpoint.
func (b *Bus) Stats(ctx context.Context) (*Stats, error) {
	if b.MemoryMode() {
		pending, dropped := b.ring.stats()
		return &Stats{
			Mode:          "memory",
			Length:        int64(pending),
			MemoryPending: pending,
			MemoryDropped: dropped,
		}, nil
	}

	info, err := b.rdb.XInfoStream(ctx, b.cfg.Stream).Result()
	if err != nil {
		if strings.Contains(err.Error(), "no such key") {
			return &Stats{Mode: "redis", Length: 0}, nil
		}
		return nil, fmt.Errorf("reading stream info: %w", err)
	}

	return &Stats{
		Mode:    "redis",
		Length:  info.Length,
		FirstID: info.FirstEntry.ID,
		LastID:  info.LastEntry.ID,
	}, nil
}

// Close releases the Redis connection.
func (b *Bus) Close() error {
	return b.rdb.Close()
}

func toMessage(m redis.XMessage) Message {
	fields := make(map[string]string, len(m.Values))
	for k, v := range m.Values {
		if s, ok := v.(string); ok {
			fields[k] = s
		} else {
			fields[k] = fmt.Sprint(v)
		}
	}
	return Message{ID: m.ID, Fields: fields}
}
