package repository

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"go.mongodb.org/mongo-driver/bson"

	"live-bidding/internal/biddingerrors"
	model "live-bidding/internal/models"
)

func TestAuctionQuery(t *testing.T) {
	t.Parallel()

	require.Equal(t, bson.M{}, auctionQuery(AuctionFilter{}))
	require.Equal(t, bson.M{
		"status":     bson.M{"$in": []string{"active", "ended"}},
		"created_by": "admin",
	}, auctionQuery(AuctionFilter{
		Statuses:  []model.AuctionStatus{model.StatusActive, model.StatusEnded},
		CreatedBy: "admin",
	}))
}

// mongoSuite runs against a live replica set named by BIDDING_TEST_MONGO_URI
type mongoSuite struct {
	suite.Suite

	repo *MongoRepo
}

func TestMongoSuite(t *testing.T) {
	if os.Getenv("BIDDING_TEST_MONGO_URI") == "" {
		t.Skip("BIDDING_TEST_MONGO_URI not set")
	}
	suite.Run(t, new(mongoSuite))
}

func (s *mongoSuite) SetupSuite() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	repo, err := ConnectMongo(ctx, os.Getenv("BIDDING_TEST_MONGO_URI"), "live_bidding_test")
	s.Require().NoError(err)
	s.Require().NoError(repo.EnsureIndexes(ctx))
	s.repo = repo
}

func (s *mongoSuite) TearDownSuite() {
	_ = s.repo.client.Database("live_bidding_test").Drop(context.Background())
	_ = s.repo.Close(context.Background())
}

func (s *mongoSuite) SetupTest() {
	ctx := context.Background()
	_, _ = s.repo.auctions.DeleteMany(ctx, bson.M{})
	_, _ = s.repo.bids.DeleteMany(ctx, bson.M{})
}

func (s *mongoSuite) TestAuctionRoundTrip() {
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Millisecond)

	a := newAuction("a1", "Lamp", 100, model.StatusActive, now)
	s.Require().NoError(s.repo.SaveAuction(ctx, a))

	got, err := s.repo.FindAuction(ctx, "a1")
	s.Require().NoError(err)
	s.Equal(a, got)

	_, err = s.repo.FindAuction(ctx, "missing")
	s.ErrorIs(err, biddingerrors.ErrAuctionNotFound)
}

func (s *mongoSuite) TestCommitBidAndQueries() {
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Millisecond)

	a := newAuction("a1", "Lamp", 100, model.StatusActive, now)
	s.Require().NoError(s.repo.SaveAuction(ctx, a))

	b1 := newBid("b1", "a1", "alice", 110, now.Add(time.Second))
	a = withBid(a, b1)
	s.Require().NoError(s.repo.CommitBid(ctx, b1, a))

	b2 := newBid("b2", "a1", "bob", 120, now.Add(2*time.Second))
	a = withBid(a, b2)
	s.Require().NoError(s.repo.CommitBid(ctx, b2, a))

	// a retried commit of b2 is absorbed; a write built on an older version is refused
	s.Require().NoError(s.repo.CommitBid(ctx, b2, a))
	stale := withBid(newAuction("a1", "Lamp", 100, model.StatusActive, now), newBid("b3", "a1", "carol", 130, now))
	s.ErrorIs(s.repo.CommitBid(ctx, newBid("b3", "a1", "carol", 130, now), stale), biddingerrors.ErrVersionConflict)

	stored, err := s.repo.FindAuction(ctx, "a1")
	s.Require().NoError(err)
	s.Equal(120.0, stored.CurrentBid)
	s.True(stored.IsHighestBidder("bob"))
	s.Equal(2, stored.BidCount)

	bids, total, err := s.repo.GetBidsByAuction(ctx, "a1", 0, 1)
	s.Require().NoError(err)
	s.Equal(2, total)
	s.Require().Len(bids, 1)
	s.Equal("b2", bids[0].BidID)

	userBids, err := s.repo.GetBidsByUser(ctx, "alice")
	s.Require().NoError(err)
	s.Require().Len(userBids, 1)
	s.Equal("b1", userBids[0].BidID)

	s.Require().NoError(s.repo.DeleteAuction(ctx, "a1"))
	_, err = s.repo.GetBidsByUser(ctx, "alice")
	s.ErrorIs(err, biddingerrors.ErrUserNoBids)
}

func (s *mongoSuite) TestListAuctionsFilters() {
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Millisecond)

	s.Require().NoError(s.repo.SaveAuction(ctx, newAuction("a1", "One", 10, model.StatusDraft, now)))
	s.Require().NoError(s.repo.SaveAuction(ctx, newAuction("a2", "Two", 10, model.StatusActive, now.Add(time.Second))))
	s.Require().NoError(s.repo.SaveAuction(ctx, newAuction("a3", "Three", 10, model.StatusActive, now.Add(2*time.Second))))

	active, err := s.repo.ListAuctions(ctx, AuctionFilter{Statuses: []model.AuctionStatus{model.StatusActive}})
	s.Require().NoError(err)
	s.Require().Len(active, 2)
	s.Equal("a3", active[0].AuctionID)

	page, err := s.repo.ListAuctions(ctx, AuctionFilter{Offset: 1, Limit: 1})
	s.Require().NoError(err)
	s.Require().Len(page, 1)
	s.Equal("a2", page[0].AuctionID)
}
