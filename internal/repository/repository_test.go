package repository

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"live-bidding/internal/biddingerrors"
	model "live-bidding/internal/models"

	"github.com/stretchr/testify/require"
)

// Helper to create a new Auction
func newAuction(auctionID, title string, startingPrice float64, status model.AuctionStatus, createdAt time.Time) model.Auction {
	return model.Auction{
		AuctionID:       auctionID,
		Title:           title,
		Description:     fmt.Sprintf("%s description", title),
		StartingPrice:   startingPrice,
		CurrentBid:      startingPrice,
		EndTime:         createdAt.Add(time.Hour),
		Status:          status,
		MinBidIncrement: 10,
		AutoExtend:      true,
		ExtendWindow:    5 * time.Minute,
		CreatedBy:       "admin",
		Version:         1,
		CreatedAt:       createdAt,
		UpdatedAt:       createdAt,
	}
}

// Helper to create a new Bid
func newBid(bidID, auctionID, bidderID string, amount float64, createdAt time.Time) model.Bid {
	return model.Bid{
		BidID:     bidID,
		AuctionID: auctionID,
		BidderID:  bidderID,
		Amount:    amount,
		Status:    model.BidAccepted,
		CreatedAt: createdAt,
	}
}

// withBid returns the auction state after bid was accepted
func withBid(a model.Auction, bid model.Bid) model.Auction {
	next := a.Clone()
	bidder := bid.BidderID
	next.CurrentBid = bid.Amount
	next.CurrentBidder = &bidder
	next.BidCount++
	next.Version++
	return next
}

// Test SaveAuction and FindAuction
func TestMemoryRepo_SaveAndFindAuction(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	repo := NewMemoryRepo()
	now := time.Now().UTC()

	a := newAuction("a1", "Auction 1", 100, model.StatusDraft, now)
	require.NoError(t, repo.SaveAuction(ctx, a))

	tests := []struct {
		name      string
		auctionID string
		wantError error
	}{
		{name: "existing_auction", auctionID: "a1"},
		{name: "missing_auction", auctionID: "aX", wantError: biddingerrors.ErrAuctionNotFound},
		{name: "empty_auctionID", auctionID: "", wantError: biddingerrors.ErrAuctionNotFound},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			got, err := repo.FindAuction(ctx, tc.auctionID)
			if tc.wantError != nil {
				require.True(t, errors.Is(err, tc.wantError), "expected error: %v, got: %v", tc.wantError, err)
				return
			}
			require.NoError(t, err)
			require.Equal(t, a, got)
		})
	}

	t.Run("empty_id_rejected", func(t *testing.T) {
		err := repo.SaveAuction(ctx, model.Auction{})
		require.True(t, errors.Is(err, biddingerrors.ErrInvalidAuction))
	})

	t.Run("returned_copy_is_isolated", func(t *testing.T) {
		got, err := repo.FindAuction(ctx, "a1")
		require.NoError(t, err)
		bidder := "intruder"
		got.CurrentBidder = &bidder

		again, err := repo.FindAuction(ctx, "a1")
		require.NoError(t, err)
		require.Nil(t, again.CurrentBidder)
	})
}

// Test CommitBid
func TestMemoryRepo_CommitBid(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	repo := NewMemoryRepo()
	now := time.Now().UTC()

	a := newAuction("a1", "Auction 1", 100, model.StatusActive, now)
	require.NoError(t, repo.SaveAuction(ctx, a))

	t.Run("bid_and_auction_stored_together", func(t *testing.T) {
		bid := newBid("b1", "a1", "user1", 110, now)
		next := withBid(a, bid)
		require.NoError(t, repo.CommitBid(ctx, bid, next))

		stored, err := repo.FindAuction(ctx, "a1")
		require.NoError(t, err)
		require.Equal(t, 110.0, stored.CurrentBid)
		require.Equal(t, 1, stored.BidCount)

		bids, total, err := repo.GetBidsByAuction(ctx, "a1", 0, 0)
		require.NoError(t, err)
		require.Equal(t, 1, total)
		require.Equal(t, []model.Bid{bid}, bids)
	})

	t.Run("replayed_bid_is_absorbed", func(t *testing.T) {
		bid := newBid("b1", "a1", "user1", 110, now)
		require.NoError(t, repo.CommitBid(ctx, bid, withBid(a, bid)))

		_, total, err := repo.GetBidsByAuction(ctx, "a1", 0, 0)
		require.NoError(t, err)
		require.Equal(t, 1, total)

		userBids, err := repo.GetBidsByUser(ctx, "user1")
		require.NoError(t, err)
		require.Len(t, userBids, 1)

		// same id against a different auction version is not a replay
		err = repo.CommitBid(ctx, bid, a)
		require.ErrorIs(t, err, biddingerrors.ErrVersionConflict)
	})

	t.Run("unknown_auction", func(t *testing.T) {
		bid := newBid("b2", "aX", "user1", 110, now)
		err := repo.CommitBid(ctx, bid, newAuction("aX", "X", 1, model.StatusActive, now))
		require.True(t, errors.Is(err, biddingerrors.ErrAuctionNotFound))
	})

	t.Run("mismatched_auction", func(t *testing.T) {
		bid := newBid("b3", "a1", "user1", 110, now)
		err := repo.CommitBid(ctx, bid, newAuction("a2", "other", 1, model.StatusActive, now))
		require.Error(t, err)
	})

	// concurrency test
	t.Run("concurrent_commits", func(t *testing.T) {
		t.Parallel()

		repo := NewMemoryRepo()
		require.NoError(t, repo.SaveAuction(ctx, newAuction("a1", "Auction 1", 50, model.StatusActive, now)))

		var wg sync.WaitGroup
		concurrentCount := 50

		for i := 0; i < concurrentCount; i++ {
			wg.Add(1)
			i := i
			go func() {
				defer wg.Done()
				b := newBid(fmt.Sprintf("bid-%d", i), "a1", fmt.Sprintf("user-%d", i), float64(100+i), now)
				require.NoError(t, repo.CommitBid(ctx, b, newAuction("a1", "Auction 1", 50, model.StatusActive, now)))
			}()
		}

		wg.Wait()

		_, total, err := repo.GetBidsByAuction(ctx, "a1", 0, 0)
		require.NoError(t, err)
		require.Equal(t, concurrentCount, total)
	})
}

// Test ListAuctions
func TestMemoryRepo_ListAuctions(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	repo := NewMemoryRepo()
	base := time.Now().UTC()

	seed := []model.Auction{
		newAuction("a1", "Draft", 100, model.StatusDraft, base),
		newAuction("a2", "Active", 100, model.StatusActive, base.Add(time.Minute)),
		newAuction("a3", "Ended", 100, model.StatusEnded, base.Add(2*time.Minute)),
		newAuction("a4", "Active 2", 100, model.StatusActive, base.Add(3*time.Minute)),
	}
	seed[3].CreatedBy = "seller"
	for _, a := range seed {
		require.NoError(t, repo.SaveAuction(ctx, a))
	}

	tests := []struct {
		name    string
		filter  AuctionFilter
		wantIDs []string
	}{
		{name: "all_newest_first", filter: AuctionFilter{}, wantIDs: []string{"a4", "a3", "a2", "a1"}},
		{name: "active_only", filter: AuctionFilter{Statuses: []model.AuctionStatus{model.StatusActive}}, wantIDs: []string{"a4", "a2"}},
		{name: "multiple_statuses", filter: AuctionFilter{Statuses: []model.AuctionStatus{model.StatusDraft, model.StatusEnded}}, wantIDs: []string{"a3", "a1"}},
		{name: "created_by", filter: AuctionFilter{CreatedBy: "seller"}, wantIDs: []string{"a4"}},
		{name: "paged", filter: AuctionFilter{Offset: 1, Limit: 2}, wantIDs: []string{"a3", "a2"}},
		{name: "offset_past_end", filter: AuctionFilter{Offset: 10}, wantIDs: []string{}},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			got, err := repo.ListAuctions(ctx, tc.filter)
			require.NoError(t, err)

			ids := make([]string, 0, len(got))
			for _, a := range got {
				ids = append(ids, a.AuctionID)
			}
			require.Equal(t, tc.wantIDs, ids)
		})
	}
}

// Test GetBidsByAuction pagination
func TestMemoryRepo_GetBidsByAuction(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	repo := NewMemoryRepo()
	now := time.Now().UTC()

	a := newAuction("a1", "Auction 1", 100, model.StatusActive, now)
	require.NoError(t, repo.SaveAuction(ctx, a))
	require.NoError(t, repo.SaveAuction(ctx, newAuction("a2", "Auction 2", 100, model.StatusActive, now)))

	var committed []model.Bid
	for i := 0; i < 25; i++ {
		b := newBid(fmt.Sprintf("bid-%02d", i), "a1", fmt.Sprintf("user-%d", i%2), float64(110+10*i), now.Add(time.Duration(i)*time.Second))
		a = withBid(a, b)
		require.NoError(t, repo.CommitBid(ctx, b, a))
		committed = append(committed, b)
	}

	tests := []struct {
		name      string
		auctionID string
		offset    int
		limit     int
		wantFirst string
		wantLen   int
		wantTotal int
		wantError bool
	}{
		{name: "first_page", auctionID: "a1", offset: 0, limit: 10, wantFirst: "bid-24", wantLen: 10, wantTotal: 25},
		{name: "last_page", auctionID: "a1", offset: 20, limit: 10, wantFirst: "bid-04", wantLen: 5, wantTotal: 25},
		{name: "no_limit", auctionID: "a1", offset: 0, limit: 0, wantFirst: "bid-24", wantLen: 25, wantTotal: 25},
		{name: "auction_without_bids", auctionID: "a2", offset: 0, limit: 10, wantLen: 0, wantTotal: 0},
		{name: "missing_auction", auctionID: "aX", wantError: true},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			bids, total, err := repo.GetBidsByAuction(ctx, tc.auctionID, tc.offset, tc.limit)
			if tc.wantError {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tc.wantTotal, total)
			require.Len(t, bids, tc.wantLen)
			if tc.wantLen > 0 {
				require.Equal(t, tc.wantFirst, bids[0].BidID)
			}
		})
	}

	require.Len(t, committed, 25)
}

// Test GetBidsByUser
func TestMemoryRepo_GetBidsByUser(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	repo := NewMemoryRepo()
	now := time.Now().UTC()

	a1 := newAuction("a1", "Auction 1", 100, model.StatusActive, now)
	a2 := newAuction("a2", "Auction 2", 100, model.StatusActive, now)
	require.NoError(t, repo.SaveAuction(ctx, a1))
	require.NoError(t, repo.SaveAuction(ctx, a2))

	b1 := newBid("b1", "a1", "user1", 110, now)
	b2 := newBid("b2", "a2", "user1", 110, now.Add(time.Second))
	b3 := newBid("b3", "a1", "user2", 120, now.Add(2*time.Second))
	a1 = withBid(a1, b1)
	require.NoError(t, repo.CommitBid(ctx, b1, a1))
	require.NoError(t, repo.CommitBid(ctx, b2, withBid(a2, b2)))
	require.NoError(t, repo.CommitBid(ctx, b3, withBid(a1, b3)))

	tests := []struct {
		name      string
		userID    string
		wantBids  []model.Bid
		wantError error
	}{
		{name: "user_with_bids_newest_first", userID: "user1", wantBids: []model.Bid{b2, b1}},
		{name: "single_bid", userID: "user2", wantBids: []model.Bid{b3}},
		{name: "user_without_bids", userID: "user3", wantError: biddingerrors.ErrUserNoBids},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			bids, err := repo.GetBidsByUser(ctx, tc.userID)
			if tc.wantError != nil {
				require.True(t, errors.Is(err, tc.wantError))
				return
			}
			require.NoError(t, err)
			require.Equal(t, tc.wantBids, bids)
		})
	}
}

// Test DeleteAuction
func TestMemoryRepo_DeleteAuction(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	repo := NewMemoryRepo()
	now := time.Now().UTC()

	a := newAuction("a1", "Auction 1", 100, model.StatusEnded, now)
	require.NoError(t, repo.SaveAuction(ctx, a))
	b := newBid("b1", "a1", "user1", 110, now)
	require.NoError(t, repo.CommitBid(ctx, b, withBid(a, b)))

	require.NoError(t, repo.DeleteAuction(ctx, "a1"))

	_, err := repo.FindAuction(ctx, "a1")
	require.True(t, errors.Is(err, biddingerrors.ErrAuctionNotFound))

	_, err = repo.GetBidsByUser(ctx, "user1")
	require.True(t, errors.Is(err, biddingerrors.ErrUserNoBids))

	err = repo.DeleteAuction(ctx, "a1")
	require.True(t, errors.Is(err, biddingerrors.ErrAuctionNotFound))
}
