package integrationtests

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	bidding "live-bidding/internal/biddingService"
	"live-bidding/internal/fanout"
	model "live-bidding/internal/models"
	"live-bidding/internal/repository"
	"live-bidding/internal/server"
)

func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)
	os.Exit(m.Run())
}

// testEnv is a fully wired server backed by the in-memory ledger
type testEnv struct {
	router *gin.Engine
	svc    *bidding.BiddingService
	hub    *fanout.Hub
	repo   *repository.MemoryRepo
}

// SetupTestEnv initializes the router with in-memory repository for integration testing.
func SetupTestEnv(t *testing.T, opts server.Options) testEnv {
	t.Helper()
	repo := repository.NewMemoryRepo()
	hub := fanout.NewHub()
	t.Cleanup(hub.Close)
	svc := bidding.NewBiddingService(repo, bidding.WithPublisher(hub))
	return testEnv{
		router: server.SetupRouter(svc, hub, opts),
		svc:    svc,
		hub:    hub,
		repo:   repo,
	}
}

// SeedActiveAuction creates and starts an auction through the service
func (e testEnv) SeedActiveAuction(t *testing.T, title string, startingPrice float64, endIn time.Duration) model.Auction {
	t.Helper()
	ctx := context.Background()
	a, err := e.svc.CreateAuction(ctx, model.AuctionSpec{
		Title:         title,
		StartingPrice: startingPrice,
		EndTime:       time.Now().Add(endIn),
		CreatedBy:     "admin",
	})
	require.NoError(t, err)
	a, err = e.svc.StartAuction(ctx, a.AuctionID)
	require.NoError(t, err)
	return a
}

// ExecuteRequestAndParse executes an HTTP request on the given router and parses the response envelope
func ExecuteRequestAndParse(t *testing.T, router *gin.Engine, method, url string, body any) (map[string]any, *httptest.ResponseRecorder) {
	t.Helper()
	var reqBody []byte
	var err error

	switch v := body.(type) {
	case nil:
	case []byte:
		reqBody = v
	case string:
		reqBody = []byte(v)
	default:
		reqBody, err = json.Marshal(v)
		if err != nil {
			t.Fatalf("failed to marshal body: %v", err)
		}
	}

	w := httptest.NewRecorder()
	req := httptest.NewRequest(method, url, bytes.NewReader(reqBody))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(w, req)

	var resp map[string]any
	if len(w.Body.Bytes()) > 0 {
		if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
			t.Fatalf("failed to unmarshal response: %v", err)
		}
	}
	return resp, w
}

// dataOf returns the data object of a successful response
func dataOf(t *testing.T, resp map[string]any) map[string]any {
	t.Helper()
	data, ok := resp["data"].(map[string]any)
	require.True(t, ok, "response has no data object: %v", resp)
	return data
}
