package models

import "time"

// EventType names a fan-out message
type EventType string

const (
	EventBidPlaced        EventType = "bid_placed"
	EventAuctionStarted   EventType = "auction_started"
	EventAuctionEnded     EventType = "auction_ended"
	EventAuctionCancelled EventType = "auction_cancelled"
	EventItemsUpdate      EventType = "items_update"
)

// AuctionEvent is published to the subscribers of one auction after a committed change
type AuctionEvent struct {
	Type           EventType     `json:"type"`
	AuctionID      string        `json:"auction_id"`
	Status         AuctionStatus `json:"status"`
	CurrentBid     float64       `json:"current_bid"`
	CurrentBidder  *string       `json:"current_bidder"`
	BidCount       int           `json:"bid_count"`
	EndTime        time.Time     `json:"end_time"`
	Version        int64         `json:"version"`
	Extended       bool          `json:"extended,omitempty"`
	Bid            *Bid          `json:"bid,omitempty"`
	PreviousBidder *string       `json:"previous_bidder,omitempty"`
	Winner         *string       `json:"winner,omitempty"`
	FinalPrice     *float64      `json:"final_price,omitempty"`
	Timestamp      time.Time     `json:"timestamp"`
}

// NewAuctionEvent builds an event carrying the committed state of a
func NewAuctionEvent(eventType EventType, a Auction, at time.Time) AuctionEvent {
	c := a.Clone()
	return AuctionEvent{
		Type:          eventType,
		AuctionID:     c.AuctionID,
		Status:        c.Status,
		CurrentBid:    c.CurrentBid,
		CurrentBidder: c.CurrentBidder,
		BidCount:      c.BidCount,
		EndTime:       c.EndTime,
		Version:       c.Version,
		Winner:        c.Winner,
		FinalPrice:    c.FinalPrice,
		Timestamp:     at,
	}
}

// AuctionSummary is the per-auction entry of the global item list feed
type AuctionSummary struct {
	AuctionID     string        `json:"auction_id"`
	Title         string        `json:"title"`
	Status        AuctionStatus `json:"status"`
	StartingPrice float64       `json:"starting_price"`
	CurrentBid    float64       `json:"current_bid"`
	CurrentBidder *string       `json:"current_bidder"`
	BidCount      int           `json:"bid_count"`
	EndTime       time.Time     `json:"end_time"`
	Version       int64         `json:"version"`
}

// Summary projects a onto the fields carried by the item list feed
func (a Auction) Summary() AuctionSummary {
	return AuctionSummary{
		AuctionID:     a.AuctionID,
		Title:         a.Title,
		Status:        a.Status,
		StartingPrice: a.StartingPrice,
		CurrentBid:    a.CurrentBid,
		CurrentBidder: cloneString(a.CurrentBidder),
		BidCount:      a.BidCount,
		EndTime:       a.EndTime,
		Version:       a.Version,
	}
}

// ItemListEvent is the coarse "item list changed" signal for dashboard views
type ItemListEvent struct {
	Type      EventType        `json:"type"`
	Auctions  []AuctionSummary `json:"auctions"`
	Timestamp time.Time        `json:"timestamp"`
}
