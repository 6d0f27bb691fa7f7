package bidding

import (
	"context"
	"time"

	"github.com/viney-shih/goroutines"

	"live-bidding/utils"
)

// StartSweeper expires due auctions on every tick of the service clock until ctx is done.
// A non-positive interval disables the sweep; expiry then happens lazily on access only.
func (s *BiddingService) StartSweeper(ctx context.Context, interval time.Duration, workers int) {
	if interval <= 0 {
		return
	}

	ticker := s.clock.Ticker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.SweepExpired(ctx, workers)
			}
		}
	}()
}

// SweepExpired ends every active auction whose deadline has passed, at most workers at a time,
// and returns how many it ended
func (s *BiddingService) SweepExpired(ctx context.Context, workers int) int {
	due := s.directory.DueBefore(s.clock.Now())
	if len(due) == 0 {
		return 0
	}
	if workers <= 0 {
		workers = 1
	}

	b := goroutines.NewBatch(workers, goroutines.WithBatchSize(len(due)))
	defer b.Close()

	for _, id := range due {
		auctionID := id
		b.Queue(func() (interface{}, error) {
			return s.ExpireAuction(ctx, auctionID)
		})
	}
	b.QueueComplete()

	expired := 0
	for ret := range b.Results() {
		if ret.Error() != nil {
			utils.Error("Expiry sweep failed for auction", map[string]any{"error": ret.Error().Error()})
			continue
		}
		if ended, ok := ret.Value().(bool); ok && ended {
			expired++
		}
	}
	if expired > 0 {
		utils.Info("Expiry sweep ended auctions", map[string]any{"count": expired})
	}
	return expired
}
