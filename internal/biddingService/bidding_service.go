package bidding

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/shopspring/decimal"

	"live-bidding/internal/biddingerrors"
	"live-bidding/internal/directory"
	"live-bidding/internal/metrics"
	model "live-bidding/internal/models"
	"live-bidding/internal/repository"
	"live-bidding/utils"
)

// Publisher receives committed changes. Both calls must return without blocking:
// they run while the auction's section is held.
type Publisher interface {
	PublishAuction(model.AuctionEvent)
	PublishItems(model.ItemListEvent)
}

type nopPublisher struct{}

func (nopPublisher) PublishAuction(model.AuctionEvent)  {}
func (nopPublisher) PublishItems(model.ItemListEvent) {}

// Defaults are applied to new auctions that leave the corresponding fields unset
type Defaults struct {
	MinBidIncrement float64
	AutoExtend      bool
	ExtendWindow    time.Duration
}

var defaultAuctionDefaults = Defaults{
	MinBidIncrement: 10,
	AutoExtend:      true,
	ExtendWindow:    5 * time.Minute,
}

// BiddingService arbitrates bids and lifecycle commands.
// Every step on an auction runs inside that auction's exclusive section, in arrival order;
// steps on different auctions run in parallel.
type BiddingService struct {
	repo      repository.AuctionDB
	clock     clock.Clock
	directory *directory.Directory
	publisher Publisher
	defaults  Defaults

	persistAttempts int
	persistBackoff  time.Duration

	sections *sectionTable

	mu        sync.Mutex
	snapshots map[string]model.Auction // key: auctionID -> value: last committed state; written only under the auction's section
}

// Option configures a BiddingService
type Option func(*BiddingService)

func WithClock(c clock.Clock) Option {
	return func(s *BiddingService) { s.clock = c }
}

func WithDirectory(d *directory.Directory) Option {
	return func(s *BiddingService) { s.directory = d }
}

func WithPublisher(p Publisher) Option {
	return func(s *BiddingService) { s.publisher = p }
}

// WithPersistRetry sets how many times a ledger write is attempted and the initial backoff between attempts.
// The backoff doubles after every failure.
func WithPersistRetry(attempts int, backoff time.Duration) Option {
	return func(s *BiddingService) {
		if attempts > 0 {
			s.persistAttempts = attempts
		}
		if backoff >= 0 {
			s.persistBackoff = backoff
		}
	}
}

func WithDefaults(d Defaults) Option {
	return func(s *BiddingService) {
		if d.MinBidIncrement > 0 {
			s.defaults.MinBidIncrement = d.MinBidIncrement
		}
		if d.ExtendWindow >= 0 {
			s.defaults.ExtendWindow = d.ExtendWindow
		}
		s.defaults.AutoExtend = d.AutoExtend
	}
}

// NewBiddingService creates a new BiddingService instance
func NewBiddingService(repo repository.AuctionDB, opts ...Option) *BiddingService {
	s := &BiddingService{
		repo:            repo,
		clock:           clock.New(),
		publisher:       nopPublisher{},
		defaults:        defaultAuctionDefaults,
		persistAttempts: 3,
		persistBackoff:  10 * time.Millisecond,
		sections:        newSectionTable(),
		snapshots:       make(map[string]model.Auction),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.directory == nil {
		s.directory = directory.New()
	}
	return s
}

// Directory returns the read projection maintained by the service
func (s *BiddingService) Directory() *directory.Directory { return s.directory }

// SubmitBid validates a bid against the committed state of the auction and commits it if acceptable.
// Rejections are returned as *biddingerrors.RejectionError and never change state.
// Once queued the step runs to completion even if ctx is cancelled.
func (s *BiddingService) SubmitBid(ctx context.Context, auctionID, bidderID string, amount float64) (model.BidReceipt, error) {
	if bidderID == "" || math.IsNaN(amount) || math.IsInf(amount, 0) || amount <= 0 {
		metrics.BidRejected(string(biddingerrors.ReasonInvalidAmount), 0)
		return model.BidReceipt{}, fmt.Errorf("service: %w", biddingerrors.Reject(biddingerrors.ReasonInvalidAmount, "bid requires a bidder and a positive amount"))
	}
	if !wholeCents(amount) {
		metrics.BidRejected(string(biddingerrors.ReasonInvalidAmount), 0)
		return model.BidReceipt{}, fmt.Errorf("service: %w", biddingerrors.Reject(biddingerrors.ReasonInvalidAmount, "bid amount must be a whole number of cents"))
	}
	if auctionID == "" {
		metrics.BidRejected(string(biddingerrors.ReasonNotFound), 0)
		return model.BidReceipt{}, fmt.Errorf("service: %w", biddingerrors.Reject(biddingerrors.ReasonNotFound, "empty auction ID"))
	}

	ctx = context.WithoutCancel(ctx)

	s.sections.lock(auctionID)
	defer s.sections.unlock(auctionID)

	start := time.Now()
	receipt, err := s.arbitrate(ctx, auctionID, bidderID, amount)
	elapsed := time.Since(start)

	fields := map[string]any{"auction_id": auctionID, "bidder_id": bidderID, "amount": amount}
	switch rej, rejected := biddingerrors.AsRejection(err); {
	case err == nil:
		metrics.BidAccepted(elapsed)
		fields["current_bid"] = receipt.Auction.CurrentBid
		fields["version"] = receipt.Auction.Version
		fields["extended"] = receipt.Extended
		utils.Info("Bid accepted", fields)
	case rejected:
		metrics.BidRejected(string(rej.Reason), elapsed)
		fields["reason"] = rej.Reason
		utils.Info("Bid rejected", fields)
	default:
		metrics.BidFailed(elapsed)
		fields["error"] = err.Error()
		utils.Error("Bid failed", fields)
	}
	return receipt, err
}

// arbitrate runs one bid step; the caller holds the auction's section
func (s *BiddingService) arbitrate(ctx context.Context, auctionID, bidderID string, amount float64) (model.BidReceipt, error) {
	current, err := s.loadLocked(ctx, auctionID)
	if errors.Is(err, biddingerrors.ErrAuctionNotFound) {
		return model.BidReceipt{}, fmt.Errorf("service: %w", biddingerrors.Reject(biddingerrors.ReasonNotFound, auctionID))
	}
	if err != nil {
		return model.BidReceipt{}, fmt.Errorf("service: failed to load auction %s: %w", auctionID, err)
	}

	if err := s.checkOpen(ctx, current, s.clock.Now()); err != nil {
		return model.BidReceipt{}, err
	}
	if current.IsHighestBidder(bidderID) {
		return model.BidReceipt{}, fmt.Errorf("service: %w", biddingerrors.Reject(biddingerrors.ReasonAlreadyHighestBidder, ""))
	}
	minimum := minimumBid(current)
	if decimal.NewFromFloat(amount).LessThan(minimum) {
		return model.BidReceipt{}, fmt.Errorf("service: %w", biddingerrors.RejectTooLow(minimum.InexactFloat64()))
	}

	// the deadline and the extension are both judged against the clock at commit time
	commitAt := s.clock.Now()
	if err := s.checkOpen(ctx, current, commitAt); err != nil {
		return model.BidReceipt{}, err
	}

	next := current.Clone()
	bidder := bidderID
	next.CurrentBid = amount
	next.CurrentBidder = &bidder
	next.BidCount++
	extended := false
	if next.AutoExtend && next.EndTime.Sub(commitAt) <= next.ExtendWindow {
		next.EndTime = next.EndTime.Add(next.ExtendWindow)
		extended = true
	}
	next.Version++
	next.UpdatedAt = commitAt

	bid := model.Bid{
		BidID:     utils.GenerateBidID(commitAt),
		AuctionID: auctionID,
		BidderID:  bidderID,
		Amount:    amount,
		Status:    model.BidAccepted,
		CreatedAt: commitAt,
	}

	if err := s.persist(ctx, "commit bid", auctionID, func(ctx context.Context) error {
		return s.repo.CommitBid(ctx, bid, next)
	}); err != nil {
		return model.BidReceipt{}, fmt.Errorf("service: failed to commit bid on auction %s: %w", auctionID, err)
	}

	s.install(next)
	if extended {
		metrics.Extended()
		utils.Info("Auction extended", map[string]any{"auction_id": auctionID, "end_time": next.EndTime})
	}

	ev := model.NewAuctionEvent(model.EventBidPlaced, next, commitAt)
	placed := bid
	ev.Bid = &placed
	ev.Extended = extended
	ev.PreviousBidder = current.Clone().CurrentBidder
	s.publish(ev)

	return model.BidReceipt{Bid: bid, Auction: next.Clone(), Extended: extended}, nil
}

// checkOpen rejects bids on auctions that are not active or whose deadline has passed.
// An active auction found past its deadline is expired on the spot.
func (s *BiddingService) checkOpen(ctx context.Context, current model.Auction, now time.Time) error {
	if current.Status != model.StatusActive {
		return fmt.Errorf("service: %w", biddingerrors.Reject(biddingerrors.ReasonAuctionClosed, "auction is "+string(current.Status)))
	}
	if now.Before(current.EndTime) {
		return nil
	}
	if _, err := s.expireLocked(ctx, current, now); err != nil {
		utils.Error("Lazy expiry failed", map[string]any{"auction_id": current.AuctionID, "error": err.Error()})
	}
	return fmt.Errorf("service: %w", biddingerrors.Reject(biddingerrors.ReasonAuctionClosed, "auction has ended"))
}

// minimumBid is the smallest acceptable amount: the current bid (or starting price before any bid)
// plus the increment. Both terms are whole cents, so the sum is exact.
func minimumBid(a model.Auction) decimal.Decimal {
	base := a.StartingPrice
	if a.BidCount > 0 {
		base = a.CurrentBid
	}
	return decimal.NewFromFloat(base).Add(decimal.NewFromFloat(a.MinBidIncrement))
}

// loadLocked returns the committed state of auctionID, reading through to the ledger on first use.
// The caller holds the auction's section.
func (s *BiddingService) loadLocked(ctx context.Context, auctionID string) (model.Auction, error) {
	s.mu.Lock()
	a, ok := s.snapshots[auctionID]
	s.mu.Unlock()
	if ok {
		return a.Clone(), nil
	}

	a, err := s.repo.FindAuction(ctx, auctionID)
	if errors.Is(err, biddingerrors.ErrAuctionNotFound) {
		return model.Auction{}, err
	}
	if err != nil {
		return model.Auction{}, fmt.Errorf("%w: %w", biddingerrors.ErrPersistence, err)
	}

	s.mu.Lock()
	s.snapshots[auctionID] = a.Clone()
	s.mu.Unlock()
	s.directory.Refresh(a)
	return a, nil
}

// install makes next the committed state; the caller holds the auction's section
func (s *BiddingService) install(next model.Auction) {
	s.mu.Lock()
	s.snapshots[next.AuctionID] = next.Clone()
	s.mu.Unlock()
	s.directory.Refresh(next)
}

// evict forgets an auction; the caller holds the auction's section
func (s *BiddingService) evict(auctionID string) {
	s.mu.Lock()
	delete(s.snapshots, auctionID)
	s.mu.Unlock()
	s.directory.Remove(auctionID)
}

// persist runs write until it succeeds or the attempts are exhausted.
// On final failure nothing has been committed and the returned error wraps ErrPersistence.
func (s *BiddingService) persist(ctx context.Context, op, auctionID string, write func(context.Context) error) error {
	backoff := s.persistBackoff
	var lastErr error
	for attempt := 1; attempt <= s.persistAttempts; attempt++ {
		if lastErr = write(ctx); lastErr == nil {
			return nil
		}
		utils.Warn("Ledger write failed", map[string]any{
			"op":         op,
			"auction_id": auctionID,
			"attempt":    attempt,
			"error":      lastErr.Error(),
		})
		if attempt == s.persistAttempts {
			break
		}
		metrics.PersistRetried()
		if backoff > 0 {
			time.Sleep(backoff)
			backoff *= 2
		}
	}
	return fmt.Errorf("%w: %s after %d attempts: %w", biddingerrors.ErrPersistence, op, s.persistAttempts, lastErr)
}

// publish enqueues ev and the refreshed item list; the caller holds the auction's section
func (s *BiddingService) publish(ev model.AuctionEvent) {
	s.publisher.PublishAuction(ev)
	s.publisher.PublishItems(model.ItemListEvent{
		Type:      model.EventItemsUpdate,
		Auctions:  s.directory.Active(),
		Timestamp: ev.Timestamp,
	})
}
