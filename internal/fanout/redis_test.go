package fanout

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/gomodule/redigo/redis"
	"github.com/stretchr/testify/require"

	model "live-bidding/internal/models"
)

type published struct {
	channel string
	payload []byte
}

// fakeConn records PUBLISH commands
type fakeConn struct {
	mu   sync.Mutex
	sent chan published
}

func (c *fakeConn) Close() error { return nil }
func (c *fakeConn) Err() error   { return nil }

func (c *fakeConn) Do(cmd string, args ...interface{}) (interface{}, error) {
	if cmd != "PUBLISH" {
		return nil, nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent <- published{channel: args[0].(string), payload: args[1].([]byte)}
	return int64(1), nil
}

func (c *fakeConn) Send(string, ...interface{}) error { return nil }
func (c *fakeConn) Flush() error                      { return nil }
func (c *fakeConn) Receive() (interface{}, error)     { return nil, nil }

func TestRedisRelay_PublishesToChannels(t *testing.T) {
	t.Parallel()

	conn := &fakeConn{sent: make(chan published, 4)}
	pool := &redis.Pool{Dial: func() (redis.Conn, error) { return conn, nil }}
	defer pool.Close()

	h := NewHub()
	defer h.Close()

	relay := NewRedisRelay(pool, "bidding:")
	relay.Attach(h)

	bidder := "alice"
	h.PublishAuction(model.AuctionEvent{
		Type:          model.EventBidPlaced,
		AuctionID:     "a1",
		CurrentBid:    120,
		CurrentBidder: &bidder,
		Version:       2,
	})

	select {
	case msg := <-conn.sent:
		require.Equal(t, "bidding:auction:a1", msg.channel)
		var ev model.AuctionEvent
		require.NoError(t, json.Unmarshal(msg.payload, &ev))
		require.Equal(t, 120.0, ev.CurrentBid)
		require.Equal(t, int64(2), ev.Version)
	case <-time.After(waitFor):
		t.Fatal("auction event not relayed")
	}

	h.PublishItems(model.ItemListEvent{Type: model.EventItemsUpdate})
	select {
	case msg := <-conn.sent:
		require.Equal(t, relay.FeedChannel(), msg.channel)
		require.Equal(t, "bidding:auctions:feed", msg.channel)
	case <-time.After(waitFor):
		t.Fatal("feed event not relayed")
	}

	relay.Detach()
	require.Zero(t, h.Subscribers())
}
