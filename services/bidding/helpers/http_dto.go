package helpers

import (
	"time"

	model "live-bidding/internal/models"
)

// Request/Response DTOs
type PlaceBidRequest struct {
	BidderID string  `json:"bidder_id" binding:"required"`
	Amount   float64 `json:"amount" binding:"required,gt=0"`
}

type CreateAuctionRequest struct {
	Title           string    `json:"title" binding:"required"`
	Description     string    `json:"description"`
	StartingPrice   float64   `json:"starting_price" binding:"required,gt=0"`
	ReservePrice    *float64  `json:"reserve_price" binding:"omitempty,gte=0"`
	EndTime         time.Time `json:"end_time" binding:"required"`
	MinBidIncrement *float64  `json:"min_bid_increment" binding:"omitempty,gt=0"`
	AutoExtend      *bool     `json:"auto_extend"`
	ExtendMinutes   *int      `json:"extend_minutes" binding:"omitempty,gte=0"`
	CreatedBy       string    `json:"created_by"`
}

// ToSpec converts the request into the fields accepted by CreateAuction
func (r CreateAuctionRequest) ToSpec() model.AuctionSpec {
	return model.AuctionSpec{
		Title:           r.Title,
		Description:     r.Description,
		StartingPrice:   r.StartingPrice,
		ReservePrice:    r.ReservePrice,
		EndTime:         r.EndTime,
		MinBidIncrement: r.MinBidIncrement,
		AutoExtend:      r.AutoExtend,
		ExtendWindow:    minutes(r.ExtendMinutes),
		CreatedBy:       r.CreatedBy,
	}
}

type UpdateAuctionRequest struct {
	Title           *string    `json:"title" binding:"omitempty,min=1"`
	Description     *string    `json:"description"`
	StartingPrice   *float64   `json:"starting_price" binding:"omitempty,gt=0"`
	ReservePrice    *float64   `json:"reserve_price" binding:"omitempty,gte=0"`
	EndTime         *time.Time `json:"end_time"`
	MinBidIncrement *float64   `json:"min_bid_increment" binding:"omitempty,gt=0"`
	AutoExtend      *bool      `json:"auto_extend"`
	ExtendMinutes   *int       `json:"extend_minutes" binding:"omitempty,gte=0"`
}

// ToPatch converts the request into the fields accepted by UpdateAuction
func (r UpdateAuctionRequest) ToPatch() model.AuctionPatch {
	return model.AuctionPatch{
		Title:           r.Title,
		Description:     r.Description,
		StartingPrice:   r.StartingPrice,
		ReservePrice:    r.ReservePrice,
		EndTime:         r.EndTime,
		MinBidIncrement: r.MinBidIncrement,
		AutoExtend:      r.AutoExtend,
		ExtendWindow:    minutes(r.ExtendMinutes),
	}
}

type BidResponse struct {
	BidID      string  `json:"bid_id"`
	AuctionID  string  `json:"auction_id"`
	BidderID   string  `json:"bidder_id"`
	Amount     float64 `json:"amount"`
	CreatedAt  string  `json:"created_at"`
	CurrentBid float64 `json:"current_bid"`
	EndTime    string  `json:"end_time"`
	Version    int64   `json:"version"`
	Extended   bool    `json:"extended"`
}

// NewBidResponse flattens an accepted bid receipt
func NewBidResponse(r model.BidReceipt) BidResponse {
	return BidResponse{
		BidID:      r.Bid.BidID,
		AuctionID:  r.Bid.AuctionID,
		BidderID:   r.Bid.BidderID,
		Amount:     r.Bid.Amount,
		CreatedAt:  r.Bid.CreatedAt.UTC().Format(time.RFC3339Nano),
		CurrentBid: r.Auction.CurrentBid,
		EndTime:    r.Auction.EndTime.UTC().Format(time.RFC3339Nano),
		Version:    r.Auction.Version,
		Extended:   r.Extended,
	}
}

// AuctionResponse is an auction together with its view count
type AuctionResponse struct {
	model.Auction
	Views      int64 `json:"views"`
	ReserveMet bool  `json:"reserve_met"`
}

func NewAuctionResponse(a model.Auction, views int64) AuctionResponse {
	return AuctionResponse{Auction: a, Views: views, ReserveMet: a.ReserveMet()}
}

type TimeResponse struct {
	ServerTime string `json:"server_time"`
}

func minutes(m *int) *time.Duration {
	if m == nil {
		return nil
	}
	d := time.Duration(*m) * time.Minute
	return &d
}
