package backplane

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/relaymesh/relaymesh/internal/metrics"
	"github.com/relaymesh/relaymesh/pkg/types"
)

// RedisBus relays envelopes over a Redis pub/sub channel shared by all
// nodes.
//
// Availability policy: a failure to reach Redis never crashes the node. The
// bus switches to degraded mode, parks publishes in a bounded drop-oldest
// queue, and probes the server with exponential backoff; on reconnect the
// queue is flushed in order. The subscriber side rides on go-redis's own
// pub/sub reconnection.
type RedisBus struct {
	client  *redis.Client
	channel string

	q         *queue
	connected atomic.Bool

	reconnectMin time.Duration
	reconnectMax time.Duration
	kick         chan struct{} // signals the reconnect loop

	closeOnce sync.Once
	done      chan struct{}
}

// RedisOptions configures NewRedisBus.
type RedisOptions struct {
	URL           string
	Channel       string
	PublishBuffer int
	ReconnectMin  time.Duration
	ReconnectMax  time.Duration
}

// NewRedisBus connects to Redis at opts.URL. An unreachable server is not an
// error: the bus starts in degraded mode and keeps trying in the background.
// Only a malformed URL fails construction.
func NewRedisBus(ctx context.Context, opts RedisOptions) (*RedisBus, error) {
	ropts, err := redis.ParseURL(opts.URL)
	if err != nil {
		return nil, fmt.Errorf("backplane: parse redis url: %w", err)
	}

	b := &RedisBus{
		client:       redis.NewClient(ropts),
		channel:      opts.Channel,
		q:            newQueue(opts.PublishBuffer),
		reconnectMin: opts.ReconnectMin,
		reconnectMax: opts.ReconnectMax,
		kick:         make(chan struct{}, 1),
		done:         make(chan struct{}),
	}

	if err := b.client.Ping(ctx).Err(); err != nil {
		slog.Warn("backplane: redis unreachable — starting in single-node mode",
			"url", opts.URL, "err", err)
		b.markDown()
	} else {
		b.connected.Store(true)
		slog.Info("backplane: connected", "channel", b.channel)
	}

	go b.reconnectLoop()
	return b, nil
}

// Publish sends env to the channel, or parks it while Redis is unreachable.
// Parking is a success of the degraded-mode policy, not an error; Publish
// only fails on marshaling problems.
func (b *RedisBus) Publish(ctx context.Context, env types.Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("backplane: marshal envelope: %w", err)
	}

	if !b.connected.Load() {
		b.park(env)
		return nil
	}
	if err := b.client.Publish(ctx, b.channel, data).Err(); err != nil {
		slog.Warn("backplane: publish failed — degrading to single-node mode", "err", err)
		b.markDown()
		b.park(env)
		return nil
	}
	metrics.BackplanePublished.Inc()
	return nil
}

// Subscribe starts consuming the channel. go-redis re-establishes the
// subscription itself after connection loss, so a single call survives
// backplane outages.
func (b *RedisBus) Subscribe(ctx context.Context, fn func(types.Envelope)) error {
	pubsub := b.client.Subscribe(ctx, b.channel)

	go func() {
		defer pubsub.Close()
		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case <-b.done:
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var env types.Envelope
				if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
					slog.Warn("backplane: dropping malformed envelope", "err", err)
					continue
				}
				metrics.BackplaneReceived.Inc()
				fn(env)
			}
		}
	}()
	return nil
}

// Healthy reports whether Redis was reachable at the last interaction.
func (b *RedisBus) Healthy() bool {
	return b.connected.Load()
}

// QueuedPublishes returns the number of envelopes parked in degraded mode.
func (b *RedisBus) QueuedPublishes() int {
	return b.q.len()
}

// Close stops the reconnect loop and closes the Redis client.
func (b *RedisBus) Close() error {
	var err error
	b.closeOnce.Do(func() {
		close(b.done)
		err = b.client.Close()
	})
	return err
}

// --- internal ---------------------------------------------------------------

func (b *RedisBus) park(env types.Envelope) {
	if b.q.push(env) {
		metrics.BackplaneDropped.Inc()
	}
	metrics.BackplaneQueued.Inc()
}

func (b *RedisBus) markDown() {
	b.connected.Store(false)
	select {
	case b.kick <- struct{}{}:
	default:
	}
}

// reconnectLoop probes Redis with exponential backoff whenever the bus is
// down and flushes the parked queue after a successful probe.
func (b *RedisBus) reconnectLoop() {
	for {
		select {
		case <-b.done:
			return
		case <-b.kick:
		}

		backoff := b.reconnectMin
		for {
			select {
			case <-b.done:
				return
			case <-time.After(backoff):
			}

			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			err := b.client.Ping(ctx).Err()
			cancel()
			if err == nil {
				b.connected.Store(true)
				slog.Info("backplane: reconnected", "channel", b.channel)
				b.flush()
				break
			}

			slog.Debug("backplane: still unreachable", "backoff", backoff, "err", err)
			backoff *= 2
			if backoff > b.reconnectMax {
				backoff = b.reconnectMax
			}
		}
	}
}

// flush replays parked envelopes in FIFO order. Envelopes that fail again
// are re-parked by Publish.
func (b *RedisBus) flush() {
	parked := b.q.drain()
	if len(parked) == 0 {
		return
	}
	slog.Info("backplane: flushing parked publishes", "count", len(parked))
	for _, env := range parked {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		b.Publish(ctx, env) //nolint:errcheck
		cancel()
		if !b.connected.Load() {
			return
		}
	}
}
