package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"live-bidding/internal/biddingerrors"
	"live-bidding/internal/fanout"
	model "live-bidding/internal/models"
	"live-bidding/services/bidding/helpers"
	"live-bidding/utils"
)

const (
	wsWriteWait      = 10 * time.Second
	wsPongWait       = 60 * time.Second
	wsPingPeriod     = (wsPongWait * 9) / 10
	wsMaxMessageSize = 4096
	wsSendBuffer     = 64
)

// Frame types on /ws. Committed auction events are pushed with their own event type.
const (
	MsgBidPlaced  = "BID_PLACED"
	MsgBidSuccess = "BID_SUCCESS"
	MsgBidError   = "BID_ERROR"
	MsgError      = "ERROR"
)

// EventSource is the fan-out a websocket connection subscribes to
type EventSource interface {
	Subscribe(auctionID string, fn fanout.Handler) *fanout.Subscription
	SubscribeAll(fn fanout.Handler) *fanout.Subscription
	SubscribeFeed(fn fanout.FeedHandler) *fanout.Subscription
	Unsubscribe(sub *fanout.Subscription)
}

// ClientMessage is a frame sent by a websocket client
type ClientMessage struct {
	Type      string  `json:"type"`
	AuctionID string  `json:"auction_id"`
	BidderID  string  `json:"bidder_id"`
	Amount    float64 `json:"amount"`
}

// ServerMessage is a frame pushed to a websocket client
type ServerMessage struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// BidErrorPayload is the data of a BID_ERROR frame
type BidErrorPayload struct {
	AuctionID     string                     `json:"auction_id"`
	Error         string                     `json:"error"`
	Reason        biddingerrors.RejectReason `json:"reason,omitempty"`
	MinimumAmount *float64                   `json:"minimum_amount,omitempty"`
}

// BidLimiter throttles bid submissions per client address
type BidLimiter interface {
	Allow(client string) bool
}

type WSHandler struct {
	service  BiddingServiceInterface
	events   EventSource
	limiter  BidLimiter
	upgrader websocket.Upgrader
}

type WSOption func(*WSHandler)

// WithBidLimiter applies the limiter guarding POST /auctions/:id/bids to BID_PLACED frames as well
func WithBidLimiter(l BidLimiter) WSOption {
	return func(h *WSHandler) { h.limiter = l }
}

func NewWSHandler(service BiddingServiceInterface, events EventSource, opts ...WSOption) *WSHandler {
	h := &WSHandler{
		service: service,
		events:  events,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// ServeWS handles GET /ws. With ?auction_id= the connection follows that auction only,
// otherwise it receives the events of every auction. Either way it gets the item list feed.
func (h *WSHandler) ServeWS(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		utils.Warn("ServeWS: upgrade failed", map[string]any{"error": err.Error()})
		return
	}

	client := &wsClient{conn: conn, send: make(chan ServerMessage, wsSendBuffer), done: make(chan struct{})}
	auctionID := c.Query("auction_id")

	forward := func(ev model.AuctionEvent) {
		client.push(ServerMessage{Type: string(ev.Type), Data: ev})
	}
	var subs []*fanout.Subscription
	if auctionID != "" {
		subs = append(subs, h.events.Subscribe(auctionID, forward))
	} else {
		subs = append(subs, h.events.SubscribeAll(forward))
	}
	subs = append(subs, h.events.SubscribeFeed(func(ev model.ItemListEvent) {
		client.push(ServerMessage{Type: string(ev.Type), Data: ev.Auctions})
	}))
	defer func() {
		for _, sub := range subs {
			h.events.Unsubscribe(sub)
		}
	}()

	client.push(ServerMessage{Type: string(model.EventItemsUpdate), Data: h.service.ActiveAuctions()})

	utils.Info("ServeWS: client connected", map[string]any{"remote": c.ClientIP(), "auction_id": auctionID})
	go client.writePump()
	h.readPump(c.Request.Context(), client, c.ClientIP())
	client.close()
	utils.Info("ServeWS: client disconnected", map[string]any{"remote": c.ClientIP()})
}

func (h *WSHandler) readPump(ctx context.Context, client *wsClient, remote string) {
	conn := client.conn
	conn.SetReadLimit(wsMaxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				utils.Warn("ServeWS: read failed", map[string]any{"error": err.Error()})
			}
			return
		}

		var msg ClientMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			client.push(ServerMessage{Type: MsgError, Data: gin.H{"error": "malformed message"}})
			continue
		}

		switch msg.Type {
		case MsgBidPlaced:
			if h.limiter != nil && !h.limiter.Allow(remote) {
				client.push(ServerMessage{Type: MsgBidError, Data: BidErrorPayload{
					AuctionID: msg.AuctionID,
					Error:     "too many bids, please slow down",
				}})
				continue
			}
			client.push(h.placeBid(ctx, msg))
		default:
			client.push(ServerMessage{Type: MsgError, Data: gin.H{"error": "unknown message type " + msg.Type}})
		}
	}
}

func (h *WSHandler) placeBid(ctx context.Context, msg ClientMessage) ServerMessage {
	receipt, err := h.service.SubmitBid(ctx, msg.AuctionID, msg.BidderID, msg.Amount)
	if err == nil {
		return ServerMessage{Type: MsgBidSuccess, Data: helpers.NewBidResponse(receipt)}
	}

	_, message := helpers.MapErrorToHTTP(err)
	payload := BidErrorPayload{AuctionID: msg.AuctionID, Error: message}
	if rej, ok := biddingerrors.AsRejection(err); ok {
		payload.Reason = rej.Reason
		if rej.Reason == biddingerrors.ReasonBidTooLow {
			minimum := rej.MinimumAmount
			payload.MinimumAmount = &minimum
		}
	} else {
		utils.Error("ServeWS: bid failed", map[string]any{"auction_id": msg.AuctionID, "error": err.Error()})
	}
	return ServerMessage{Type: MsgBidError, Data: payload}
}

// wsClient serializes writes to one connection through its send queue
type wsClient struct {
	conn *websocket.Conn
	send chan ServerMessage
	done chan struct{}
	once sync.Once
}

// push queues msg without blocking; it is dropped when the client falls behind
func (c *wsClient) push(msg ServerMessage) {
	select {
	case <-c.done:
		return
	default:
	}

	select {
	case c.send <- msg:
	case <-c.done:
	default:
		utils.Warn("ServeWS: client queue full, frame dropped", map[string]any{"type": msg.Type})
	}
}

func (c *wsClient) close() {
	c.once.Do(func() { close(c.done) })
}

func (c *wsClient) writePump() {
	ticker := time.NewTicker(wsPingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case msg := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := c.conn.WriteJSON(msg); err != nil {
				c.close()
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.close()
				return
			}
		case <-c.done:
			_ = c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(wsWriteWait))
			return
		}
	}
}
