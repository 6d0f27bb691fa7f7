package integrationtests

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	model "live-bidding/internal/models"
	"live-bidding/internal/server"
	"live-bidding/services/bidding/handler"
	"live-bidding/services/bidding/helpers"
)

// PlaceBidHandler Tests
func TestPlaceBid(t *testing.T) {
	tests := []struct {
		name       string
		seedBids   []helpers.PlaceBidRequest
		request    any
		wantStatus int
		wantReason string
		wantMin    float64
	}{
		{
			name:       "Valid_First_Bid",
			request:    helpers.PlaceBidRequest{BidderID: "user1", Amount: 110},
			wantStatus: http.StatusCreated,
		},
		{
			name:       "Below_Starting_Minimum",
			request:    helpers.PlaceBidRequest{BidderID: "user1", Amount: 105},
			wantStatus: http.StatusConflict,
			wantReason: "BidTooLow",
			wantMin:    110,
		},
		{
			name:       "Below_Minimum_After_Bid",
			seedBids:   []helpers.PlaceBidRequest{{BidderID: "user1", Amount: 150}},
			request:    helpers.PlaceBidRequest{BidderID: "user2", Amount: 155},
			wantStatus: http.StatusConflict,
			wantReason: "BidTooLow",
			wantMin:    160,
		},
		{
			name:       "Already_Highest_Bidder",
			seedBids:   []helpers.PlaceBidRequest{{BidderID: "user1", Amount: 150}},
			request:    helpers.PlaceBidRequest{BidderID: "user1", Amount: 500},
			wantStatus: http.StatusConflict,
			wantReason: "AlreadyHighestBidder",
		},
		{
			name:       "Invalid_JSON",
			request:    "{bidder_id: 'missing quotes', amount: 100}",
			wantStatus: http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := SetupTestEnv(t, server.Options{})
			a := env.SeedActiveAuction(t, "Modern Art Painting", 100, time.Hour)
			url := "/auctions/" + a.AuctionID + "/bids"

			for _, bid := range tt.seedBids {
				_, w := ExecuteRequestAndParse(t, env.router, http.MethodPost, url, bid)
				require.Equal(t, http.StatusCreated, w.Code)
			}

			resp, w := ExecuteRequestAndParse(t, env.router, http.MethodPost, url, tt.request)
			require.Equal(t, tt.wantStatus, w.Code)

			if tt.wantStatus == http.StatusCreated {
				data := dataOf(t, resp)
				require.Equal(t, a.AuctionID, data["auction_id"])
				require.Equal(t, "user1", data["bidder_id"])
				require.NotEmpty(t, data["bid_id"])
				_, err := time.Parse(time.RFC3339Nano, data["created_at"].(string))
				require.NoError(t, err)
			}
			if tt.wantReason != "" {
				require.Equal(t, tt.wantReason, resp["reason"])
			}
			if tt.wantMin != 0 {
				require.Equal(t, tt.wantMin, resp["minimum_amount"])
			}
		})
	}
}

func TestPlaceBid_UnknownAndClosedAuctions(t *testing.T) {
	env := SetupTestEnv(t, server.Options{})
	bid := helpers.PlaceBidRequest{BidderID: "user1", Amount: 1000}

	resp, w := ExecuteRequestAndParse(t, env.router, http.MethodPost, "/auctions/nonexistent/bids", bid)
	require.Equal(t, http.StatusNotFound, w.Code)
	require.Equal(t, "NotFound", resp["reason"])

	a := env.SeedActiveAuction(t, "Antique Crystal Vase", 100, time.Hour)
	_, w = ExecuteRequestAndParse(t, env.router, http.MethodPost, "/auctions/"+a.AuctionID+"/cancel", nil)
	require.Equal(t, http.StatusOK, w.Code)

	resp, w = ExecuteRequestAndParse(t, env.router, http.MethodPost, "/auctions/"+a.AuctionID+"/bids", bid)
	require.Equal(t, http.StatusConflict, w.Code)
	require.Equal(t, "AuctionClosed", resp["reason"])
}

// Many clients racing on one auction: every accepted bid is at least the minimum over the one before it
func TestPlaceBid_ConcurrentClients(t *testing.T) {
	env := SetupTestEnv(t, server.Options{})
	a := env.SeedActiveAuction(t, "Gemstone Necklace", 800, time.Hour)
	url := "/auctions/" + a.AuctionID + "/bids"

	const clients = 16
	const rounds = 10

	var wg sync.WaitGroup
	var mu sync.Mutex
	accepted := 0
	unexpected := []int{}

	for c := 0; c < clients; c++ {
		wg.Add(1)
		go func(c int) {
			defer wg.Done()
			for r := 0; r < rounds; r++ {
				amount := float64(810 + 10*(r*clients+c))
				bid := helpers.PlaceBidRequest{BidderID: fmt.Sprintf("client_%d", c), Amount: amount}
				_, w := ExecuteRequestAndParse(t, env.router, http.MethodPost, url, bid)

				mu.Lock()
				switch w.Code {
				case http.StatusCreated:
					accepted++
				case http.StatusConflict:
				default:
					unexpected = append(unexpected, w.Code)
				}
				mu.Unlock()
			}
		}(c)
	}
	wg.Wait()
	require.Empty(t, unexpected)
	require.Positive(t, accepted)

	resp, w := ExecuteRequestAndParse(t, env.router, http.MethodGet, url+"?limit=100", nil)
	require.Equal(t, http.StatusOK, w.Code)
	page := dataOf(t, resp)
	require.Equal(t, float64(accepted), page["total"])

	bids := page["bids"].([]any)
	for i := 0; i+1 < len(bids); i++ {
		newer := bids[i].(map[string]any)
		older := bids[i+1].(map[string]any)
		require.GreaterOrEqual(t, newer["amount"].(float64), older["amount"].(float64)+10)
		require.NotEqual(t, newer["bidder_id"], older["bidder_id"])
	}

	resp, w = ExecuteRequestAndParse(t, env.router, http.MethodGet, "/auctions/"+a.AuctionID, nil)
	require.Equal(t, http.StatusOK, w.Code)
	auction := dataOf(t, resp)
	require.Equal(t, float64(accepted), auction["bid_count"])
	require.Equal(t, bids[0].(map[string]any)["amount"], auction["current_bid"])
}

func TestAuctionLifecycle(t *testing.T) {
	env := SetupTestEnv(t, server.Options{})

	create := helpers.CreateAuctionRequest{
		Title:         "Vintage Camera",
		StartingPrice: 200,
		EndTime:       time.Now().Add(2 * time.Hour),
		CreatedBy:     "admin",
	}
	resp, w := ExecuteRequestAndParse(t, env.router, http.MethodPost, "/auctions", create)
	require.Equal(t, http.StatusCreated, w.Code)
	created := dataOf(t, resp)
	id := created["auction_id"].(string)
	require.Equal(t, "draft", created["status"])
	require.Equal(t, 10.0, created["min_bid_increment"])
	require.Equal(t, true, created["auto_extend"])

	// drafts do not take bids
	resp, w = ExecuteRequestAndParse(t, env.router, http.MethodPost, "/auctions/"+id+"/bids", helpers.PlaceBidRequest{BidderID: "u1", Amount: 500})
	require.Equal(t, http.StatusConflict, w.Code)
	require.Equal(t, "AuctionClosed", resp["reason"])

	resp, w = ExecuteRequestAndParse(t, env.router, http.MethodPut, "/auctions/"+id, map[string]any{"starting_price": 250})
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, 250.0, dataOf(t, resp)["starting_price"])

	_, w = ExecuteRequestAndParse(t, env.router, http.MethodPost, "/auctions/"+id+"/start", nil)
	require.Equal(t, http.StatusOK, w.Code)

	_, w = ExecuteRequestAndParse(t, env.router, http.MethodPut, "/auctions/"+id, map[string]any{"title": "Too late"})
	require.Equal(t, http.StatusConflict, w.Code)
	_, w = ExecuteRequestAndParse(t, env.router, http.MethodDelete, "/auctions/"+id, nil)
	require.Equal(t, http.StatusConflict, w.Code)

	_, w = ExecuteRequestAndParse(t, env.router, http.MethodPost, "/auctions/"+id+"/bids", helpers.PlaceBidRequest{BidderID: "u1", Amount: 260})
	require.Equal(t, http.StatusCreated, w.Code)

	resp, w = ExecuteRequestAndParse(t, env.router, http.MethodPost, "/auctions/"+id+"/end", nil)
	require.Equal(t, http.StatusOK, w.Code)
	ended := dataOf(t, resp)
	require.Equal(t, "ended", ended["status"])
	require.Equal(t, "u1", ended["winner"])
	require.Equal(t, 260.0, ended["final_price"])

	_, w = ExecuteRequestAndParse(t, env.router, http.MethodPost, "/auctions/"+id+"/end", nil)
	require.Equal(t, http.StatusConflict, w.Code)

	resp, w = ExecuteRequestAndParse(t, env.router, http.MethodGet, "/auctions?status=ended", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, 1.0, dataOf(t, resp)["total"])

	_, w = ExecuteRequestAndParse(t, env.router, http.MethodDelete, "/auctions/"+id, nil)
	require.Equal(t, http.StatusOK, w.Code)
	_, w = ExecuteRequestAndParse(t, env.router, http.MethodGet, "/auctions/"+id, nil)
	require.Equal(t, http.StatusNotFound, w.Code)
}

// GetUserBidsHandler Tests
func TestGetUserBids(t *testing.T) {
	env := SetupTestEnv(t, server.Options{})
	first := env.SeedActiveAuction(t, "title1", 50, time.Hour)
	second := env.SeedActiveAuction(t, "title2", 30, time.Hour)

	for _, bid := range []struct {
		auctionID string
		req       helpers.PlaceBidRequest
	}{
		{first.AuctionID, helpers.PlaceBidRequest{BidderID: "user1", Amount: 100}},
		{second.AuctionID, helpers.PlaceBidRequest{BidderID: "user1", Amount: 200}},
	} {
		_, w := ExecuteRequestAndParse(t, env.router, http.MethodPost, "/auctions/"+bid.auctionID+"/bids", bid.req)
		require.Equal(t, http.StatusCreated, w.Code)
	}

	tests := []struct {
		name               string
		userID             string
		expectedAuctionIDs []string
	}{
		{name: "User_With_Bids", userID: "user1", expectedAuctionIDs: []string{second.AuctionID, first.AuctionID}},
		{name: "User_Without_Bids", userID: "user2", expectedAuctionIDs: []string{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, w := ExecuteRequestAndParse(t, env.router, http.MethodGet, "/users/"+tt.userID+"/bids", nil)
			require.Equal(t, http.StatusOK, w.Code)

			bids := resp["data"].([]any)
			require.Len(t, bids, len(tt.expectedAuctionIDs))
			for i, id := range tt.expectedAuctionIDs {
				require.Equal(t, id, bids[i].(map[string]any)["auction_id"])
			}
		})
	}
}

// A bid placed over HTTP reaches a websocket client following that auction
func TestWebsocketReceivesBids(t *testing.T) {
	env := SetupTestEnv(t, server.Options{})
	a := env.SeedActiveAuction(t, "Gemstone Necklace", 800, time.Hour)

	srv := httptest.NewServer(env.router)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws?auction_id=" + a.AuctionID
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	var hello handler.ServerMessage
	require.NoError(t, conn.ReadJSON(&hello))
	require.Equal(t, string(model.EventItemsUpdate), hello.Type)
	require.Eventually(t, func() bool { return env.hub.Subscribers() >= 2 }, time.Second, 5*time.Millisecond)

	_, w := ExecuteRequestAndParse(t, env.router, http.MethodPost, "/auctions/"+a.AuctionID+"/bids",
		helpers.PlaceBidRequest{BidderID: "user1", Amount: 810})
	require.Equal(t, http.StatusCreated, w.Code)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	for {
		var msg struct {
			Type string             `json:"type"`
			Data model.AuctionEvent `json:"data"`
		}
		require.NoError(t, conn.ReadJSON(&msg))
		if msg.Type != string(model.EventBidPlaced) {
			continue
		}
		require.Equal(t, a.AuctionID, msg.Data.AuctionID)
		require.Equal(t, 810.0, msg.Data.CurrentBid)
		require.Equal(t, "user1", msg.Data.Bid.BidderID)
		break
	}
}
