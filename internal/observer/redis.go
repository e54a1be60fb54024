package observer

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/alexsmy/bot-29-sub000/internal/metrics"
)

// RedisPublisher mirrors events to a Redis pub/sub channel for out-of-process monitors.
// Publish enqueues; a single goroutine performs the network writes in order.
type RedisPublisher struct {
	client  redis.UniversalClient
	channel string
	queue   chan Event
	log     *zap.Logger
	done    chan struct{}

	mu     sync.RWMutex
	closed bool
}

// NewRedisPublisher parses redisURL and starts the publishing goroutine.
func NewRedisPublisher(redisURL, channel string, log *zap.Logger) (*RedisPublisher, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}
	return newRedisPublisher(redis.NewClient(opts), channel, log), nil
}

func newRedisPublisher(client redis.UniversalClient, channel string, log *zap.Logger) *RedisPublisher {
	p := &RedisPublisher{
		client:  client,
		channel: channel,
		queue:   make(chan Event, 1024),
		log:     log.Named("observer-redis"),
		done:    make(chan struct{}),
	}
	go p.run()
	return p
}

// Ping checks connectivity.
func (p *RedisPublisher) Ping(ctx context.Context) error {
	return p.client.Ping(ctx).Err()
}

func (p *RedisPublisher) Publish(e Event) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return
	}
	select {
	case p.queue <- e:
	default:
		metrics.ObserverEventsDropped.WithLabelValues("redis").Inc()
	}
}

func (p *RedisPublisher) run() {
	defer close(p.done)
	for e := range p.queue {
		raw, err := json.Marshal(e)
		if err != nil {
			p.log.Error("marshal event", zap.Error(err))
			continue
		}
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		if err := p.client.Publish(ctx, p.channel, raw).Err(); err != nil {
			metrics.ObserverEventsDropped.WithLabelValues("redis").Inc()
			p.log.Warn("publish event failed", zap.String("room_id", e.RoomID), zap.Error(err))
		}
		cancel()
	}
}

// Close drains queued events and closes the client.
func (p *RedisPublisher) Close() error {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		close(p.queue)
	}
	p.mu.Unlock()
	<-p.done
	return p.client.Close()
}
