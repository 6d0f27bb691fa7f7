// Package directory keeps a read-optimized projection of every known auction.
// It is refreshed by the bidding engine after each commit and is never consulted for acceptance decisions.
package directory

import (
	"errors"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/coocood/freecache"
	"github.com/shopspring/decimal"

	model "live-bidding/internal/models"
	"live-bidding/utils"
)

// SortOrder selects the ordering of List results
type SortOrder string

const (
	// SortByCreated orders newest first, used by the admin listing
	SortByCreated SortOrder = "created"
	// SortByEndTime orders soonest ending first, used by the public listing
	SortByEndTime SortOrder = "end_time"
)

const (
	defaultPageLimit  = 10
	defaultViewTTL    = 5 * time.Minute
	defaultViewCacheM = 4
)

// Filter narrows a List call. Page is 1-based; zero values fall back to page 1 and limit 10.
type Filter struct {
	Statuses []model.AuctionStatus
	Sort     SortOrder
	Page     int
	Limit    int
}

// Page is one page of a List result
type Page struct {
	Auctions    []model.Auction `json:"auctions"`
	Total       int             `json:"total"`
	TotalPages  int             `json:"total_pages"`
	CurrentPage int             `json:"current_page"`
}

// Stats summarizes the directory contents
type Stats struct {
	TotalAuctions int                         `json:"total_auctions"`
	ByStatus      map[model.AuctionStatus]int `json:"by_status"`
	TotalBids     int                         `json:"total_bids"`
	TotalRevenue  float64                     `json:"total_revenue"`
}

// Option configures a Directory
type Option func(*Directory)

// WithViewCache sizes the per-viewer dedupe cache and sets how long a viewer is remembered
func WithViewCache(sizeMB int, ttl time.Duration) Option {
	return func(d *Directory) {
		if sizeMB > 0 {
			d.viewCacheMB = sizeMB
		}
		if ttl > 0 {
			d.viewTTL = ttl
		}
	}
}

// Directory is a concurrency-safe in-memory projection of auctions
type Directory struct {
	mu       sync.RWMutex
	auctions map[string]model.Auction // key: auctionID -> value: latest committed state
	views    map[string]int64         // key: auctionID -> value: view count

	viewCacheMB int
	viewTTL     time.Duration
	seen        *freecache.Cache
}

// New creates an empty Directory
func New(opts ...Option) *Directory {
	d := &Directory{
		auctions:    make(map[string]model.Auction),
		views:       make(map[string]int64),
		viewCacheMB: defaultViewCacheM,
		viewTTL:     defaultViewTTL,
	}
	for _, opt := range opts {
		opt(d)
	}
	d.seen = freecache.NewCache(d.viewCacheMB * 1024 * 1024)
	return d
}

// Refresh installs a unless the directory already holds a newer version of it.
// It reports whether the entry changed.
func (d *Directory) Refresh(a model.Auction) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if cur, ok := d.auctions[a.AuctionID]; ok && cur.Version > a.Version {
		return false
	}
	d.auctions[a.AuctionID] = a.Clone()
	return true
}

// Load bulk-installs auctions, typically from the ledger at startup
func (d *Directory) Load(auctions []model.Auction) {
	for _, a := range auctions {
		d.Refresh(a)
	}
}

// Remove drops an auction and its view count
func (d *Directory) Remove(auctionID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.auctions, auctionID)
	delete(d.views, auctionID)
}

// Get returns the projected state of one auction
func (d *Directory) Get(auctionID string) (model.Auction, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	a, ok := d.auctions[auctionID]
	if !ok {
		return model.Auction{}, false
	}
	return a.Clone(), true
}

// Len returns the number of auctions held
func (d *Directory) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.auctions)
}

// List returns one page of auctions matching filter
func (d *Directory) List(filter Filter) Page {
	if filter.Limit <= 0 {
		filter.Limit = defaultPageLimit
	}
	if filter.Page <= 0 {
		filter.Page = 1
	}

	matched := d.collect(func(a model.Auction) bool { return statusIn(a.Status, filter.Statuses) })
	sortAuctions(matched, filter.Sort)

	total := len(matched)
	start := (filter.Page - 1) * filter.Limit
	if start > total {
		start = total
	}
	end := start + filter.Limit
	if end > total {
		end = total
	}

	return Page{
		Auctions:    matched[start:end],
		Total:       total,
		TotalPages:  int(math.Ceil(float64(total) / float64(filter.Limit))),
		CurrentPage: filter.Page,
	}
}

// Active returns summaries of every active auction, soonest ending first
func (d *Directory) Active() []model.AuctionSummary {
	active := d.collect(func(a model.Auction) bool { return a.Status == model.StatusActive })
	sortAuctions(active, SortByEndTime)

	out := make([]model.AuctionSummary, 0, len(active))
	for _, a := range active {
		out = append(out, a.Summary())
	}
	return out
}

// DueBefore returns the ids of active auctions whose end time is at or before t
func (d *Directory) DueBefore(t time.Time) []string {
	d.mu.RLock()
	defer d.mu.RUnlock()

	var ids []string
	for id, a := range d.auctions {
		if a.Status == model.StatusActive && !a.EndTime.After(t) {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

// Stats counts auctions per status, bids, and the revenue of ended auctions
func (d *Directory) Stats() Stats {
	d.mu.RLock()
	defer d.mu.RUnlock()

	stats := Stats{
		TotalAuctions: len(d.auctions),
		ByStatus: map[model.AuctionStatus]int{
			model.StatusDraft:     0,
			model.StatusActive:    0,
			model.StatusEnded:     0,
			model.StatusCancelled: 0,
		},
	}
	revenue := decimal.Zero
	for _, a := range d.auctions {
		stats.ByStatus[a.Status]++
		stats.TotalBids += a.BidCount
		if a.Status == model.StatusEnded && a.FinalPrice != nil {
			revenue = revenue.Add(decimal.NewFromFloat(*a.FinalPrice))
		}
	}
	stats.TotalRevenue = revenue.Round(2).InexactFloat64()
	return stats
}

// RecordView counts a view of auctionID by viewer. A viewer seen within the TTL is not counted again;
// an empty viewer is always counted. It returns the view count and whether this view was counted.
func (d *Directory) RecordView(auctionID, viewer string) (int64, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.auctions[auctionID]; !ok {
		return 0, false
	}

	if viewer != "" {
		key := []byte(auctionID + ":" + viewer)
		if _, err := d.seen.Get(key); err == nil {
			return d.views[auctionID], false
		} else if !errors.Is(err, freecache.ErrNotFound) {
			utils.Warn("view cache lookup failed", map[string]any{"auction_id": auctionID, "error": err.Error()})
		}
		if err := d.seen.Set(key, []byte{1}, int(d.viewTTL.Seconds())); err != nil {
			utils.Warn("view cache store failed", map[string]any{"auction_id": auctionID, "error": err.Error()})
		}
	}

	d.views[auctionID]++
	return d.views[auctionID], true
}

// Views returns the view count of auctionID
func (d *Directory) Views(auctionID string) int64 {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.views[auctionID]
}

func (d *Directory) collect(keep func(model.Auction) bool) []model.Auction {
	d.mu.RLock()
	defer d.mu.RUnlock()

	out := make([]model.Auction, 0, len(d.auctions))
	for _, a := range d.auctions {
		if keep(a) {
			out = append(out, a.Clone())
		}
	}
	return out
}

func sortAuctions(auctions []model.Auction, order SortOrder) {
	sort.Slice(auctions, func(i, j int) bool {
		a, b := auctions[i], auctions[j]
		if order == SortByEndTime {
			if !a.EndTime.Equal(b.EndTime) {
				return a.EndTime.Before(b.EndTime)
			}
		} else if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.After(b.CreatedAt)
		}
		return a.AuctionID < b.AuctionID
	})
}

func statusIn(s model.AuctionStatus, statuses []model.AuctionStatus) bool {
	if len(statuses) == 0 {
		return true
	}
	for _, want := range statuses {
		if s == want {
			return true
		}
	}
	return false
}
