package models

import "time"

// AuctionStatus is the lifecycle state of an auction
type AuctionStatus string

const (
	StatusDraft     AuctionStatus = "draft"
	StatusActive    AuctionStatus = "active"
	StatusEnded     AuctionStatus = "ended"
	StatusCancelled AuctionStatus = "cancelled"
)

// Valid reports whether s is one of the known statuses
func (s AuctionStatus) Valid() bool {
	switch s {
	case StatusDraft, StatusActive, StatusEnded, StatusCancelled:
		return true
	}
	return false
}

// Closed reports whether no further bids or transitions (other than delete) are possible
func (s AuctionStatus) Closed() bool {
	return s == StatusEnded || s == StatusCancelled
}

// BidStatus is the acceptance status of a committed bid
type BidStatus string

const BidAccepted BidStatus = "accepted"

// Auction represents an item under auction together with its committed bidding state
type Auction struct {
	AuctionID       string        `json:"auction_id" bson:"_id"`
	Title           string        `json:"title" bson:"title"`
	Description     string        `json:"description" bson:"description"`
	StartingPrice   float64       `json:"starting_price" bson:"starting_price"`
	ReservePrice    *float64      `json:"reserve_price,omitempty" bson:"reserve_price,omitempty"`
	CurrentBid      float64       `json:"current_bid" bson:"current_bid"`
	CurrentBidder   *string       `json:"current_bidder" bson:"current_bidder"`
	BidCount        int           `json:"bid_count" bson:"bid_count"`
	EndTime         time.Time     `json:"end_time" bson:"end_time"`
	Status          AuctionStatus `json:"status" bson:"status"`
	MinBidIncrement float64       `json:"min_bid_increment" bson:"min_bid_increment"`
	AutoExtend      bool          `json:"auto_extend" bson:"auto_extend"`
	ExtendWindow    time.Duration `json:"extend_window" bson:"extend_window"`
	Winner          *string       `json:"winner,omitempty" bson:"winner,omitempty"`
	FinalPrice      *float64      `json:"final_price,omitempty" bson:"final_price,omitempty"`
	CreatedBy       string        `json:"created_by" bson:"created_by"`
	Version         int64         `json:"version" bson:"version"`
	CreatedAt       time.Time     `json:"created_at" bson:"created_at"`
	UpdatedAt       time.Time     `json:"updated_at" bson:"updated_at"`
}

// Clone returns a deep copy so callers can mutate it without touching shared state
func (a Auction) Clone() Auction {
	c := a
	c.ReservePrice = cloneFloat(a.ReservePrice)
	c.CurrentBidder = cloneString(a.CurrentBidder)
	c.Winner = cloneString(a.Winner)
	c.FinalPrice = cloneFloat(a.FinalPrice)
	return c
}

// IsHighestBidder reports whether bidderID holds the current highest bid
func (a Auction) IsHighestBidder(bidderID string) bool {
	return a.CurrentBidder != nil && *a.CurrentBidder == bidderID
}

// ReserveMet reports whether the current bid satisfies the reserve price, if any
func (a Auction) ReserveMet() bool {
	if a.ReservePrice == nil {
		return true
	}
	return a.BidCount > 0 && a.CurrentBid >= *a.ReservePrice
}

// Bid represents a committed bid on an auction
type Bid struct {
	BidID     string    `json:"bid_id" bson:"_id"`
	AuctionID string    `json:"auction_id" bson:"auction_id"`
	BidderID  string    `json:"bidder_id" bson:"bidder_id"`
	Amount    float64   `json:"amount" bson:"amount"`
	Status    BidStatus `json:"status" bson:"status"`
	CreatedAt time.Time `json:"created_at" bson:"created_at"`
}

// BidReceipt is returned to the caller of an accepted bid
type BidReceipt struct {
	Bid      Bid     `json:"bid"`
	Auction  Auction `json:"auction"`
	Extended bool    `json:"extended"`
}

// AuctionSpec holds the fields a privileged actor supplies when creating an auction.
// Nil pointers fall back to the configured defaults.
type AuctionSpec struct {
	Title           string
	Description     string
	StartingPrice   float64
	ReservePrice    *float64
	EndTime         time.Time
	MinBidIncrement *float64
	AutoExtend      *bool
	ExtendWindow    *time.Duration
	CreatedBy       string
}

// AuctionPatch holds the editable fields of a draft auction; nil means unchanged
type AuctionPatch struct {
	Title           *string
	Description     *string
	StartingPrice   *float64
	ReservePrice    *float64
	EndTime         *time.Time
	MinBidIncrement *float64
	AutoExtend      *bool
	ExtendWindow    *time.Duration
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}

func cloneFloat(f *float64) *float64 {
	if f == nil {
		return nil
	}
	v := *f
	return &v
}
