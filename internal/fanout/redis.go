package fanout

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/gomodule/redigo/redis"

	model "live-bidding/internal/models"
	"live-bidding/utils"
)

const (
	redisDialTimeout  = 2 * time.Second
	redisReadTimeout  = 1500 * time.Millisecond
	redisWriteTimeout = 1500 * time.Millisecond
)

// NewRedisPool builds a connection pool for uri and checks one connection
func NewRedisPool(uri, password string) (*redis.Pool, error) {
	opts := []redis.DialOption{
		redis.DialConnectTimeout(redisDialTimeout),
		redis.DialReadTimeout(redisReadTimeout),
		redis.DialWriteTimeout(redisWriteTimeout),
	}
	if password != "" {
		opts = append(opts, redis.DialPassword(password))
	}
	p := &redis.Pool{
		MaxIdle:     16,
		MaxActive:   64,
		Wait:        true,
		IdleTimeout: 240 * time.Second,
		Dial: func() (redis.Conn, error) {
			return redis.Dial("tcp", uri, opts...)
		},
		TestOnBorrow: func(c redis.Conn, t time.Time) error {
			if time.Since(t) < time.Second {
				return nil
			}
			_, err := c.Do("PING")
			return err
		},
	}

	c := p.Get()
	defer c.Close()
	if _, err := c.Do("PING"); err != nil {
		_ = p.Close()
		return nil, fmt.Errorf("redis ping %s: %w", uri, err)
	}
	return p, nil
}

// RedisRelay republishes hub traffic to Redis channels so other processes can follow auctions.
// Auction events go to <prefix>auction:<id>, item list updates to <prefix>auctions:feed.
type RedisRelay struct {
	pool   *redis.Pool
	prefix string

	hub    *Hub
	events *Subscription
	feed   *Subscription
}

func NewRedisRelay(pool *redis.Pool, prefix string) *RedisRelay {
	return &RedisRelay{pool: pool, prefix: prefix}
}

// Attach subscribes the relay to every auction event and the item feed of h
func (r *RedisRelay) Attach(h *Hub) {
	r.hub = h
	r.events = h.SubscribeAll(func(ev model.AuctionEvent) {
		r.publish(r.AuctionChannel(ev.AuctionID), ev)
	})
	r.feed = h.SubscribeFeed(func(ev model.ItemListEvent) {
		r.publish(r.FeedChannel(), ev)
	})
}

// Detach stops relaying
func (r *RedisRelay) Detach() {
	if r.hub == nil {
		return
	}
	r.hub.Unsubscribe(r.events)
	r.hub.Unsubscribe(r.feed)
	r.hub = nil
}

func (r *RedisRelay) AuctionChannel(auctionID string) string {
	return r.prefix + "auction:" + auctionID
}

func (r *RedisRelay) FeedChannel() string {
	return r.prefix + "auctions:feed"
}

func (r *RedisRelay) publish(channel string, v any) {
	payload, err := json.Marshal(v)
	if err != nil {
		utils.Error("Failed to encode relay payload", map[string]any{"channel": channel, "error": err.Error()})
		return
	}

	conn := r.pool.Get()
	defer conn.Close()

	if _, err := conn.Do("PUBLISH", channel, payload); err != nil {
		utils.Warn("Redis publish failed", map[string]any{"channel": channel, "error": err.Error()})
	}
}
