package repository

//go:generate mockgen -source=repository.go -destination=mock_repository.go -package=repository

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"live-bidding/internal/biddingerrors"
	model "live-bidding/internal/models"
)

// AuctionFilter narrows ListAuctions; zero values match everything
type AuctionFilter struct {
	Statuses  []model.AuctionStatus
	CreatedBy string
	Offset    int
	Limit     int
}

func (f AuctionFilter) matches(a model.Auction) bool {
	if f.CreatedBy != "" && a.CreatedBy != f.CreatedBy {
		return false
	}
	if len(f.Statuses) == 0 {
		return true
	}
	for _, s := range f.Statuses {
		if a.Status == s {
			return true
		}
	}
	return false
}

// AuctionDB defines the auction ledger used by the bidding engine.
// CommitBid must store the bid and the updated auction atomically: either both are durable or neither is.
// Repeating a CommitBid that already succeeded must succeed without writing again.
type AuctionDB interface {
	SaveAuction(ctx context.Context, auction model.Auction) error
	CommitBid(ctx context.Context, bid model.Bid, auction model.Auction) error
	FindAuction(ctx context.Context, auctionID string) (model.Auction, error)
	ListAuctions(ctx context.Context, filter AuctionFilter) ([]model.Auction, error)
	DeleteAuction(ctx context.Context, auctionID string) error
	GetBidsByAuction(ctx context.Context, auctionID string, offset, limit int) ([]model.Bid, int, error)
	GetBidsByUser(ctx context.Context, userID string) ([]model.Bid, error)
}

// MemoryRepo is a concurrency-safe in-memory implementation of AuctionDB
type MemoryRepo struct {
	mu       sync.RWMutex
	auctions map[string]model.Auction // key: auctionID -> value: auction
	bids     map[string][]model.Bid   // key: auctionID -> value: bids in commit order
	userBids map[string][]string      // key: userID -> value: bidIDs in commit order
	bidIndex map[string]model.Bid     // key: bidID -> value: bid
}

// NewMemoryRepo creates a new in-memory repository instance
func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{
		auctions: make(map[string]model.Auction),
		bids:     make(map[string][]model.Bid),
		userBids: make(map[string][]string),
		bidIndex: make(map[string]model.Bid),
	}
}

// SaveAuction inserts or replaces an auction
func (r *MemoryRepo) SaveAuction(_ context.Context, auction model.Auction) error {
	if auction.AuctionID == "" {
		return fmt.Errorf("save auction: %w - empty auction ID", biddingerrors.ErrInvalidAuction)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.auctions[auction.AuctionID] = auction.Clone()
	return nil
}

// CommitBid records a bid and the auction state it produced.
// A bid id that is already stored is a no-op when the auction is already at auction.Version.
func (r *MemoryRepo) CommitBid(_ context.Context, bid model.Bid, auction model.Auction) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored, ok := r.auctions[bid.AuctionID]
	if !ok || bid.AuctionID != auction.AuctionID {
		return fmt.Errorf("commit bid for auction %s: %w", bid.AuctionID, biddingerrors.ErrAuctionNotFound)
	}
	if _, exists := r.bidIndex[bid.BidID]; exists {
		if stored.Version != auction.Version {
			return fmt.Errorf("commit bid %s: bid exists, auction at version %d not %d: %w",
				bid.BidID, stored.Version, auction.Version, biddingerrors.ErrVersionConflict)
		}
		return nil
	}

	r.bids[bid.AuctionID] = append(r.bids[bid.AuctionID], bid)
	r.userBids[bid.BidderID] = append(r.userBids[bid.BidderID], bid.BidID)
	r.bidIndex[bid.BidID] = bid
	r.auctions[auction.AuctionID] = auction.Clone()

	return nil
}

// FindAuction returns an auction by id
func (r *MemoryRepo) FindAuction(_ context.Context, auctionID string) (model.Auction, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	a, ok := r.auctions[auctionID]
	if !ok {
		return model.Auction{}, fmt.Errorf("find auction %s: %w", auctionID, biddingerrors.ErrAuctionNotFound)
	}
	return a.Clone(), nil
}

// ListAuctions returns auctions matching filter, newest first
func (r *MemoryRepo) ListAuctions(_ context.Context, filter AuctionFilter) ([]model.Auction, error) {
	r.mu.RLock()
	out := make([]model.Auction, 0, len(r.auctions))
	for _, a := range r.auctions {
		if filter.matches(a) {
			out = append(out, a.Clone())
		}
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].AuctionID < out[j].AuctionID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})

	return paginate(out, filter.Offset, filter.Limit), nil
}

// DeleteAuction removes an auction and all of its bids
func (r *MemoryRepo) DeleteAuction(_ context.Context, auctionID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.auctions[auctionID]; !ok {
		return fmt.Errorf("delete auction %s: %w", auctionID, biddingerrors.ErrAuctionNotFound)
	}

	for _, b := range r.bids[auctionID] {
		delete(r.bidIndex, b.BidID)
		ids := r.userBids[b.BidderID]
		for i, id := range ids {
			if id == b.BidID {
				r.userBids[b.BidderID] = append(ids[:i:i], ids[i+1:]...)
				break
			}
		}
		if len(r.userBids[b.BidderID]) == 0 {
			delete(r.userBids, b.BidderID)
		}
	}
	delete(r.bids, auctionID)
	delete(r.auctions, auctionID)
	return nil
}

// GetBidsByAuction returns one page of an auction's bids, newest first, and the total count
func (r *MemoryRepo) GetBidsByAuction(_ context.Context, auctionID string, offset, limit int) ([]model.Bid, int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if _, ok := r.auctions[auctionID]; !ok {
		return nil, 0, fmt.Errorf("get bids for auction %s: %w", auctionID, biddingerrors.ErrAuctionNotFound)
	}

	bids := r.bids[auctionID]
	newestFirst := make([]model.Bid, len(bids))
	for i, b := range bids {
		newestFirst[len(bids)-1-i] = b
	}
	return paginate(newestFirst, offset, limit), len(bids), nil
}

// GetBidsByUser returns all bids a user has placed, newest first
func (r *MemoryRepo) GetBidsByUser(_ context.Context, userID string) ([]model.Bid, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids, ok := r.userBids[userID]
	if !ok || len(ids) == 0 {
		return nil, fmt.Errorf("get bids for user %s: %w", userID, biddingerrors.ErrUserNoBids)
	}

	bids := make([]model.Bid, 0, len(ids))
	for i := len(ids) - 1; i >= 0; i-- {
		if b, exists := r.bidIndex[ids[i]]; exists {
			bids = append(bids, b)
		}
	}
	return bids, nil
}

func paginate[T any](items []T, offset, limit int) []T {
	if offset < 0 {
		offset = 0
	}
	if offset >= len(items) {
		return []T{}
	}
	items = items[offset:]
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}
