package bidding

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"live-bidding/internal/biddingerrors"
	"live-bidding/internal/metrics"
	model "live-bidding/internal/models"
	"live-bidding/utils"
)

// CreateAuction stores a new draft auction, filling unset fields from the configured defaults
func (s *BiddingService) CreateAuction(ctx context.Context, spec model.AuctionSpec) (model.Auction, error) {
	now := s.clock.Now()

	a := model.Auction{
		AuctionID:       utils.GenerateID(),
		Title:           strings.TrimSpace(spec.Title),
		Description:     spec.Description,
		StartingPrice:   spec.StartingPrice,
		ReservePrice:    spec.ReservePrice,
		CurrentBid:      spec.StartingPrice,
		EndTime:         spec.EndTime.UTC(),
		Status:          model.StatusDraft,
		MinBidIncrement: s.defaults.MinBidIncrement,
		AutoExtend:      s.defaults.AutoExtend,
		ExtendWindow:    s.defaults.ExtendWindow,
		CreatedBy:       spec.CreatedBy,
		Version:         1,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if spec.MinBidIncrement != nil {
		a.MinBidIncrement = *spec.MinBidIncrement
	}
	if spec.AutoExtend != nil {
		a.AutoExtend = *spec.AutoExtend
	}
	if spec.ExtendWindow != nil {
		a.ExtendWindow = *spec.ExtendWindow
	}

	if err := validateAuction(a); err != nil {
		return model.Auction{}, fmt.Errorf("service: %w", err)
	}
	if !a.EndTime.After(now) {
		return model.Auction{}, fmt.Errorf("service: %w - end time must be in the future", biddingerrors.ErrInvalidAuction)
	}

	ctx = context.WithoutCancel(ctx)
	s.sections.lock(a.AuctionID)
	defer s.sections.unlock(a.AuctionID)

	if err := s.persist(ctx, "create auction", a.AuctionID, func(ctx context.Context) error {
		return s.repo.SaveAuction(ctx, a)
	}); err != nil {
		return model.Auction{}, fmt.Errorf("service: failed to create auction: %w", err)
	}
	s.install(a)
	metrics.Transition("create")

	utils.Info("Auction created", map[string]any{"auction_id": a.AuctionID, "title": a.Title, "created_by": a.CreatedBy})
	return a.Clone(), nil
}

// UpdateAuction edits a draft auction. Active auctions cannot be edited.
func (s *BiddingService) UpdateAuction(ctx context.Context, auctionID string, patch model.AuctionPatch) (model.Auction, error) {
	return s.transition(ctx, auctionID, "update", "", func(a *model.Auction, now time.Time) error {
		switch a.Status {
		case model.StatusDraft:
		case model.StatusActive:
			return biddingerrors.ErrAuctionActive
		default:
			return fmt.Errorf("%w - %s auction cannot be edited", biddingerrors.ErrInvalidTransition, a.Status)
		}

		if patch.Title != nil {
			a.Title = strings.TrimSpace(*patch.Title)
		}
		if patch.Description != nil {
			a.Description = *patch.Description
		}
		if patch.StartingPrice != nil {
			a.StartingPrice = *patch.StartingPrice
			a.CurrentBid = *patch.StartingPrice
		}
		if patch.ReservePrice != nil {
			reserve := *patch.ReservePrice
			a.ReservePrice = &reserve
		}
		if patch.EndTime != nil {
			a.EndTime = patch.EndTime.UTC()
		}
		if patch.MinBidIncrement != nil {
			a.MinBidIncrement = *patch.MinBidIncrement
		}
		if patch.AutoExtend != nil {
			a.AutoExtend = *patch.AutoExtend
		}
		if patch.ExtendWindow != nil {
			a.ExtendWindow = *patch.ExtendWindow
		}
		if err := validateAuction(*a); err != nil {
			return err
		}
		if patch.EndTime != nil && !a.EndTime.After(now) {
			return fmt.Errorf("%w - end time must be in the future", biddingerrors.ErrInvalidAuction)
		}
		return nil
	})
}

// StartAuction opens a draft auction for bidding
func (s *BiddingService) StartAuction(ctx context.Context, auctionID string) (model.Auction, error) {
	return s.transition(ctx, auctionID, "start", model.EventAuctionStarted, func(a *model.Auction, now time.Time) error {
		if a.Status != model.StatusDraft {
			return fmt.Errorf("%w - only draft auctions can be started, auction is %s", biddingerrors.ErrInvalidTransition, a.Status)
		}
		if !a.EndTime.After(now) {
			return fmt.Errorf("%w - end time %s has already passed", biddingerrors.ErrInvalidAuction, a.EndTime.Format(time.RFC3339))
		}
		a.Status = model.StatusActive
		a.CurrentBid = a.StartingPrice
		return nil
	})
}

// EndAuction closes an active auction and records the winner.
// Ending an auction that is already closed returns ErrAuctionClosed and changes nothing.
func (s *BiddingService) EndAuction(ctx context.Context, auctionID string) (model.Auction, error) {
	return s.transition(ctx, auctionID, "end", model.EventAuctionEnded, func(a *model.Auction, _ time.Time) error {
		switch a.Status {
		case model.StatusActive:
			finalize(a)
			return nil
		case model.StatusDraft:
			return fmt.Errorf("%w - only active auctions can be ended", biddingerrors.ErrInvalidTransition)
		default:
			return fmt.Errorf("%w - auction is already %s", biddingerrors.ErrAuctionClosed, a.Status)
		}
	})
}

// CancelAuction terminates a draft or active auction without a winner
func (s *BiddingService) CancelAuction(ctx context.Context, auctionID string) (model.Auction, error) {
	return s.transition(ctx, auctionID, "cancel", model.EventAuctionCancelled, func(a *model.Auction, _ time.Time) error {
		if a.Status.Closed() {
			return fmt.Errorf("%w - auction is already %s", biddingerrors.ErrAuctionClosed, a.Status)
		}
		a.Status = model.StatusCancelled
		return nil
	})
}

// DeleteAuction removes a non-active auction together with its bids
func (s *BiddingService) DeleteAuction(ctx context.Context, auctionID string) error {
	ctx = context.WithoutCancel(ctx)
	s.sections.lock(auctionID)
	defer s.sections.unlock(auctionID)

	current, err := s.loadLocked(ctx, auctionID)
	if err != nil {
		return fmt.Errorf("service: failed to delete auction %s: %w", auctionID, err)
	}
	if current.Status == model.StatusActive {
		return fmt.Errorf("service: cannot delete auction %s: %w", auctionID, biddingerrors.ErrAuctionActive)
	}

	if err := s.persist(ctx, "delete auction", auctionID, func(ctx context.Context) error {
		return s.repo.DeleteAuction(ctx, auctionID)
	}); err != nil {
		return fmt.Errorf("service: failed to delete auction %s: %w", auctionID, err)
	}
	s.evict(auctionID)
	metrics.Transition("delete")

	utils.Info("Auction deleted", map[string]any{"auction_id": auctionID})
	return nil
}

// ExpireAuction ends auctionID if it is active and its deadline has passed.
// It reports whether this call ended the auction; calling it again is a no-op.
func (s *BiddingService) ExpireAuction(ctx context.Context, auctionID string) (bool, error) {
	ctx = context.WithoutCancel(ctx)
	s.sections.lock(auctionID)
	defer s.sections.unlock(auctionID)

	current, err := s.loadLocked(ctx, auctionID)
	if err != nil {
		return false, fmt.Errorf("service: failed to expire auction %s: %w", auctionID, err)
	}
	now := s.clock.Now()
	if current.Status != model.StatusActive || now.Before(current.EndTime) {
		return false, nil
	}
	return s.expireLocked(ctx, current, now)
}

// expireLocked applies natural expiry to an active auction past its deadline; the caller holds the section
func (s *BiddingService) expireLocked(ctx context.Context, current model.Auction, now time.Time) (bool, error) {
	next := current.Clone()
	finalize(&next)
	if _, err := s.commitTransition(ctx, "expire", model.EventAuctionEnded, next, now); err != nil {
		return false, err
	}
	return true, nil
}

// transition runs mutate against the committed state of auctionID inside its section and commits the result.
// An empty eventType commits without notifying subscribers.
func (s *BiddingService) transition(ctx context.Context, auctionID, name string, eventType model.EventType, mutate func(*model.Auction, time.Time) error) (model.Auction, error) {
	if auctionID == "" {
		return model.Auction{}, fmt.Errorf("service: %w - empty auction ID", biddingerrors.ErrAuctionNotFound)
	}

	ctx = context.WithoutCancel(ctx)
	s.sections.lock(auctionID)
	defer s.sections.unlock(auctionID)

	current, err := s.loadLocked(ctx, auctionID)
	if err != nil {
		return model.Auction{}, fmt.Errorf("service: failed to %s auction %s: %w", name, auctionID, err)
	}

	now := s.clock.Now()
	next := current.Clone()
	if err := mutate(&next, now); err != nil {
		utils.Warn("Auction transition refused", map[string]any{
			"auction_id": auctionID,
			"transition": name,
			"status":     current.Status,
			"error":      err.Error(),
		})
		return model.Auction{}, fmt.Errorf("service: cannot %s auction %s: %w", name, auctionID, err)
	}
	return s.commitTransition(ctx, name, eventType, next, now)
}

// commitTransition persists next, installs it and notifies subscribers; the caller holds the section
func (s *BiddingService) commitTransition(ctx context.Context, name string, eventType model.EventType, next model.Auction, now time.Time) (model.Auction, error) {
	next.Version++
	next.UpdatedAt = now

	if err := s.persist(ctx, name+" auction", next.AuctionID, func(ctx context.Context) error {
		return s.repo.SaveAuction(ctx, next)
	}); err != nil {
		return model.Auction{}, fmt.Errorf("service: failed to %s auction %s: %w", name, next.AuctionID, err)
	}

	s.install(next)
	metrics.Transition(name)
	if eventType != "" {
		s.publish(model.NewAuctionEvent(eventType, next, now))
	}

	utils.Info("Auction "+name+" committed", map[string]any{
		"auction_id": next.AuctionID,
		"status":     next.Status,
		"version":    next.Version,
	})
	return next.Clone(), nil
}

// finalize marks a ended and records the current bidder as winner, if there is one
func finalize(a *model.Auction) {
	a.Status = model.StatusEnded
	if a.CurrentBidder != nil && a.BidCount > 0 {
		winner := *a.CurrentBidder
		price := a.CurrentBid
		a.Winner = &winner
		a.FinalPrice = &price
	}
}

func validateAuction(a model.Auction) error {
	switch {
	case a.Title == "":
		return fmt.Errorf("%w - title is required", biddingerrors.ErrInvalidAuction)
	case !finitePositive(a.StartingPrice):
		return fmt.Errorf("%w - starting price must be positive", biddingerrors.ErrInvalidAuction)
	case !wholeCents(a.StartingPrice):
		return fmt.Errorf("%w - starting price must be a whole number of cents", biddingerrors.ErrInvalidAuction)
	case a.ReservePrice != nil && (math.IsNaN(*a.ReservePrice) || math.IsInf(*a.ReservePrice, 0) || *a.ReservePrice < 0):
		return fmt.Errorf("%w - reserve price cannot be negative", biddingerrors.ErrInvalidAuction)
	case a.ReservePrice != nil && !wholeCents(*a.ReservePrice):
		return fmt.Errorf("%w - reserve price must be a whole number of cents", biddingerrors.ErrInvalidAuction)
	case !finitePositive(a.MinBidIncrement):
		return fmt.Errorf("%w - minimum bid increment must be positive", biddingerrors.ErrInvalidAuction)
	case !wholeCents(a.MinBidIncrement):
		return fmt.Errorf("%w - minimum bid increment must be a whole number of cents", biddingerrors.ErrInvalidAuction)
	case a.ExtendWindow < 0:
		return fmt.Errorf("%w - extend window cannot be negative", biddingerrors.ErrInvalidAuction)
	case a.EndTime.IsZero():
		return fmt.Errorf("%w - end time is required", biddingerrors.ErrInvalidAuction)
	}
	return nil
}

func finitePositive(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0) && f > 0
}

// wholeCents reports whether a finite amount has no digits below the cent,
// the precision every ledger stores money at
func wholeCents(f float64) bool {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return false
	}
	d := decimal.NewFromFloat(f)
	return d.Equal(d.Truncate(2))
}
