package bidding

import (
	"context"
	"fmt"
	"math"
	"time"

	"live-bidding/internal/biddingerrors"
	"live-bidding/internal/directory"
	model "live-bidding/internal/models"
	"live-bidding/internal/repository"
	"live-bidding/utils"
)

const (
	defaultBidPageLimit = 20
	maxBidPageLimit     = 100
)

// BidPage is one page of an auction's bid history, newest first
type BidPage struct {
	Bids        []model.Bid `json:"bids"`
	Total       int         `json:"total"`
	TotalPages  int         `json:"total_pages"`
	CurrentPage int         `json:"current_page"`
}

// Now returns the service clock, which clients use to synchronise countdowns
func (s *BiddingService) Now() time.Time {
	return s.clock.Now()
}

// GetAuction returns the latest known state of an auction, loading it from the ledger if needed
func (s *BiddingService) GetAuction(ctx context.Context, auctionID string) (model.Auction, error) {
	if auctionID == "" {
		return model.Auction{}, fmt.Errorf("service: %w - empty auction ID", biddingerrors.ErrAuctionNotFound)
	}
	if a, ok := s.directory.Get(auctionID); ok {
		return a, nil
	}

	s.sections.lock(auctionID)
	defer s.sections.unlock(auctionID)

	a, err := s.loadLocked(context.WithoutCancel(ctx), auctionID)
	if err != nil {
		return model.Auction{}, fmt.Errorf("service: failed to get auction %s: %w", auctionID, err)
	}
	return a, nil
}

// ListAuctions returns one page of the directory
func (s *BiddingService) ListAuctions(filter directory.Filter) directory.Page {
	return s.directory.List(filter)
}

// ActiveAuctions returns summaries of every active auction, soonest ending first
func (s *BiddingService) ActiveAuctions() []model.AuctionSummary {
	return s.directory.Active()
}

// GetBids returns a page of an auction's bids, newest first. page is 1-based.
func (s *BiddingService) GetBids(ctx context.Context, auctionID string, page, limit int) (BidPage, error) {
	if auctionID == "" {
		return BidPage{}, fmt.Errorf("service: %w - empty auction ID", biddingerrors.ErrAuctionNotFound)
	}
	if page <= 0 {
		page = 1
	}
	if limit <= 0 {
		limit = defaultBidPageLimit
	}
	if limit > maxBidPageLimit {
		limit = maxBidPageLimit
	}

	bids, total, err := s.repo.GetBidsByAuction(ctx, auctionID, (page-1)*limit, limit)
	if err != nil {
		return BidPage{}, fmt.Errorf("service: failed to get bids for auction %s: %w", auctionID, err)
	}

	return BidPage{
		Bids:        bids,
		Total:       total,
		TotalPages:  int(math.Ceil(float64(total) / float64(limit))),
		CurrentPage: page,
	}, nil
}

// GetBidsByUser returns every bid a user has placed, newest first
func (s *BiddingService) GetBidsByUser(ctx context.Context, userID string) ([]model.Bid, error) {
	if userID == "" {
		return nil, fmt.Errorf("service: %w - empty user ID", biddingerrors.ErrInvalidBid)
	}

	bids, err := s.repo.GetBidsByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("service: failed to get bids for user %s: %w", userID, err)
	}
	return bids, nil
}

// Stats summarizes every known auction
func (s *BiddingService) Stats() directory.Stats {
	return s.directory.Stats()
}

// RecordView counts a view of an auction, deduplicating repeat views by the same viewer
func (s *BiddingService) RecordView(ctx context.Context, auctionID, viewer string) (int64, error) {
	if _, err := s.GetAuction(ctx, auctionID); err != nil {
		return 0, err
	}
	views, _ := s.directory.RecordView(auctionID, viewer)
	return views, nil
}

// Bootstrap loads every stored auction into the directory and expires those whose deadline passed while
// the service was down
func (s *BiddingService) Bootstrap(ctx context.Context, workers int) error {
	auctions, err := s.repo.ListAuctions(ctx, repository.AuctionFilter{})
	if err != nil {
		return fmt.Errorf("service: failed to load auctions: %w", err)
	}
	s.directory.Load(auctions)

	expired := s.SweepExpired(ctx, workers)
	utils.Info("Directory bootstrapped", map[string]any{"auctions": len(auctions), "expired": expired})
	return nil
}
