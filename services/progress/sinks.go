package progress

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"time"

	"gohan/genotypes/utils"

	goredis "github.com/redis/go-redis/v9"
)

// ChannelSink forwards snapshots to a buffered channel, dropping them when
// the consumer falls behind.
type ChannelSink struct {
	C       chan Snapshot
	dropped atomic.Int64
}

func NewChannelSink(capacity int) *ChannelSink {
	return &ChannelSink{C: make(chan Snapshot, capacity)}
}

func (s *ChannelSink) Publish(snap Snapshot) {
	select {
	case s.C <- snap:
	default:
		s.dropped.Add(1)
	}
}

func (s *ChannelSink) Dropped() int64 { return s.dropped.Load() }

type MultiSink []Sink

func (m MultiSink) Publish(snap Snapshot) {
	for _, s := range m {
		if s != nil {
			s.Publish(snap)
		}
	}
}

// RedisSink publishes snapshots on a pub/sub channel from its own goroutine.
type RedisSink struct {
	log     *utils.Logger
	rdb     *goredis.Client
	channel string
	queue   *ChannelSink
}

func NewRedisSink(ctx context.Context, rdb *goredis.Client, channel string, log *utils.Logger) *RedisSink {
	s := &RedisSink{
		log:     log.OrNop().With("service", "RedisProgressSink"),
		rdb:     rdb,
		channel: channel,
		queue:   NewChannelSink(256),
	}
	go s.forward(ctx)
	return s
}

func (s *RedisSink) Publish(snap Snapshot) {
	s.queue.Publish(snap)
}

func (s *RedisSink) forward(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case snap := <-s.queue.C:
			raw, err := json.Marshal(snap)
			if err != nil {
				continue
			}
			pubCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
			if err := s.rdb.Publish(pubCtx, s.channel, raw).Err(); err != nil {
				s.log.Warn("progress publish failed", "importId", snap.Id, "error", err)
			}
			cancel()
		}
	}
}
