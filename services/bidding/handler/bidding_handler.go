package handler

//go:generate mockgen -source=bidding_handler.go -destination=mock_bidding_service.go -package=handler

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	bidding "live-bidding/internal/biddingService"
	"live-bidding/internal/biddingerrors"
	"live-bidding/internal/directory"
	model "live-bidding/internal/models"
	"live-bidding/services/bidding/helpers"
	"live-bidding/utils"
)

type BiddingServiceInterface interface {
	Now() time.Time
	SubmitBid(ctx context.Context, auctionID, bidderID string, amount float64) (model.BidReceipt, error)
	CreateAuction(ctx context.Context, spec model.AuctionSpec) (model.Auction, error)
	UpdateAuction(ctx context.Context, auctionID string, patch model.AuctionPatch) (model.Auction, error)
	StartAuction(ctx context.Context, auctionID string) (model.Auction, error)
	EndAuction(ctx context.Context, auctionID string) (model.Auction, error)
	CancelAuction(ctx context.Context, auctionID string) (model.Auction, error)
	DeleteAuction(ctx context.Context, auctionID string) error
	GetAuction(ctx context.Context, auctionID string) (model.Auction, error)
	RecordView(ctx context.Context, auctionID, viewer string) (int64, error)
	ListAuctions(filter directory.Filter) directory.Page
	ActiveAuctions() []model.AuctionSummary
	GetBids(ctx context.Context, auctionID string, page, limit int) (bidding.BidPage, error)
	GetBidsByUser(ctx context.Context, userID string) ([]model.Bid, error)
	Stats() directory.Stats
}

type BiddingHandler struct {
	service BiddingServiceInterface
}

func NewBiddingHandler(service BiddingServiceInterface) *BiddingHandler {
	return &BiddingHandler{service: service}
}

// ServerTimeHandler handles GET /api/time
func (h *BiddingHandler) ServerTimeHandler(c *gin.Context) {
	resp := helpers.TimeResponse{ServerTime: h.service.Now().UTC().Format(time.RFC3339Nano)}
	utils.JSONResponse(c, http.StatusOK, resp, "server time")
}

// PlaceBidHandler handles POST /auctions/:id/bids
func (h *BiddingHandler) PlaceBidHandler(c *gin.Context) {
	auctionID := c.Param("id")

	var req helpers.PlaceBidRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		helpers.HandleBindError(c, "PlaceBidHandler", err)
		return
	}

	receipt, err := h.service.SubmitBid(c.Request.Context(), auctionID, req.BidderID, req.Amount)
	if err != nil {
		status, _ := helpers.RespondError(c, err)
		fields := map[string]any{
			"handler":    "PlaceBidHandler",
			"auction_id": auctionID,
			"bidder_id":  req.BidderID,
			"error":      err.Error(),
		}
		if status >= http.StatusInternalServerError {
			utils.Error("PlaceBidHandler: failed to place bid", fields)
		} else {
			utils.Warn("PlaceBidHandler: bid refused", fields)
		}
		return
	}

	utils.JSONResponse(c, http.StatusCreated, helpers.NewBidResponse(receipt), "bid placed successfully")
	helpers.LogSuccess("PlaceBidHandler", "bid placed successfully", map[string]any{
		"bid_id":     receipt.Bid.BidID,
		"auction_id": auctionID,
		"bidder_id":  req.BidderID,
		"amount":     req.Amount,
	})
}

// GetBidsHandler handles GET /auctions/:id/bids
func (h *BiddingHandler) GetBidsHandler(c *gin.Context) {
	auctionID := c.Param("id")
	page, limit := helpers.PageParams(c)

	bids, err := h.service.GetBids(c.Request.Context(), auctionID, page, limit)
	if err != nil {
		helpers.RespondError(c, err)
		utils.Warn("GetBidsHandler: error retrieving bids", map[string]any{"auction_id": auctionID, "error": err.Error()})
		return
	}
	if bids.Bids == nil {
		bids.Bids = []model.Bid{}
	}

	utils.JSONResponse(c, http.StatusOK, bids, "bids retrieved successfully")
	helpers.LogSuccess("GetBidsHandler", "bids retrieved successfully", map[string]any{
		"auction_id": auctionID,
		"count":      len(bids.Bids),
		"total":      bids.Total,
	})
}

// GetUserBidsHandler handles GET /users/:user_id/bids
func (h *BiddingHandler) GetUserBidsHandler(c *gin.Context) {
	userID := c.Param("user_id")
	bids, err := h.service.GetBidsByUser(c.Request.Context(), userID)
	if err != nil && !errors.Is(err, biddingerrors.ErrUserNoBids) {
		helpers.RespondError(c, err)
		utils.Warn("GetUserBidsHandler: error retrieving bids", map[string]any{"user_id": userID, "error": err.Error()})
		return
	}

	if bids == nil {
		bids = []model.Bid{}
	}

	utils.JSONResponse(c, http.StatusOK, bids, "bids retrieved successfully")
	helpers.LogSuccess("GetUserBidsHandler", "bids retrieved successfully", map[string]any{
		"user_id": userID,
		"count":   len(bids),
	})
}

// CreateAuctionHandler handles POST /auctions
func (h *BiddingHandler) CreateAuctionHandler(c *gin.Context) {
	var req helpers.CreateAuctionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		helpers.HandleBindError(c, "CreateAuctionHandler", err)
		return
	}

	a, err := h.service.CreateAuction(c.Request.Context(), req.ToSpec())
	if err != nil {
		helpers.RespondError(c, err)
		utils.Warn("CreateAuctionHandler: failed to create auction", map[string]any{"title": req.Title, "error": err.Error()})
		return
	}

	utils.JSONResponse(c, http.StatusCreated, a, "auction created successfully")
	helpers.LogSuccess("CreateAuctionHandler", "auction created successfully", map[string]any{"auction_id": a.AuctionID})
}

// UpdateAuctionHandler handles PUT /auctions/:id
func (h *BiddingHandler) UpdateAuctionHandler(c *gin.Context) {
	auctionID := c.Param("id")

	var req helpers.UpdateAuctionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		helpers.HandleBindError(c, "UpdateAuctionHandler", err)
		return
	}

	a, err := h.service.UpdateAuction(c.Request.Context(), auctionID, req.ToPatch())
	if err != nil {
		helpers.RespondError(c, err)
		utils.Warn("UpdateAuctionHandler: failed to update auction", map[string]any{"auction_id": auctionID, "error": err.Error()})
		return
	}

	utils.JSONResponse(c, http.StatusOK, a, "auction updated successfully")
	helpers.LogSuccess("UpdateAuctionHandler", "auction updated successfully", map[string]any{"auction_id": auctionID})
}

// DeleteAuctionHandler handles DELETE /auctions/:id
func (h *BiddingHandler) DeleteAuctionHandler(c *gin.Context) {
	auctionID := c.Param("id")
	if err := h.service.DeleteAuction(c.Request.Context(), auctionID); err != nil {
		helpers.RespondError(c, err)
		utils.Warn("DeleteAuctionHandler: failed to delete auction", map[string]any{"auction_id": auctionID, "error": err.Error()})
		return
	}

	utils.JSONResponse(c, http.StatusOK, gin.H{"auction_id": auctionID}, "auction deleted successfully")
	helpers.LogSuccess("DeleteAuctionHandler", "auction deleted successfully", map[string]any{"auction_id": auctionID})
}

// StartAuctionHandler handles POST /auctions/:id/start
func (h *BiddingHandler) StartAuctionHandler(c *gin.Context) {
	h.transition(c, "StartAuctionHandler", "started", h.service.StartAuction)
}

// EndAuctionHandler handles POST /auctions/:id/end
func (h *BiddingHandler) EndAuctionHandler(c *gin.Context) {
	h.transition(c, "EndAuctionHandler", "ended", h.service.EndAuction)
}

// CancelAuctionHandler handles POST /auctions/:id/cancel
func (h *BiddingHandler) CancelAuctionHandler(c *gin.Context) {
	h.transition(c, "CancelAuctionHandler", "cancelled", h.service.CancelAuction)
}

func (h *BiddingHandler) transition(c *gin.Context, handlerName, verb string, run func(context.Context, string) (model.Auction, error)) {
	auctionID := c.Param("id")
	a, err := run(c.Request.Context(), auctionID)
	if err != nil {
		helpers.RespondError(c, err)
		utils.Warn(handlerName+": transition refused", map[string]any{"auction_id": auctionID, "error": err.Error()})
		return
	}

	message := "auction " + verb + " successfully"
	utils.JSONResponse(c, http.StatusOK, a, message)
	helpers.LogSuccess(handlerName, message, map[string]any{"auction_id": auctionID, "version": a.Version})
}

// GetAuctionHandler handles GET /auctions/:id and counts the view.
// Repeat views are recognised by the X-View-Id header, or the client address without one.
func (h *BiddingHandler) GetAuctionHandler(c *gin.Context) {
	auctionID := c.Param("id")
	ctx := c.Request.Context()

	a, err := h.service.GetAuction(ctx, auctionID)
	if err != nil {
		helpers.RespondError(c, err)
		utils.Warn("GetAuctionHandler: error retrieving auction", map[string]any{"auction_id": auctionID, "error": err.Error()})
		return
	}

	viewer := c.GetHeader("X-View-Id")
	if viewer == "" {
		viewer = c.ClientIP()
	}
	views, err := h.service.RecordView(ctx, auctionID, viewer)
	if err != nil {
		utils.Warn("GetAuctionHandler: view not recorded", map[string]any{"auction_id": auctionID, "error": err.Error()})
	}

	utils.JSONResponse(c, http.StatusOK, helpers.NewAuctionResponse(a, views), "auction retrieved successfully")
}

// ListAuctionsHandler handles GET /auctions, newest first, optionally filtered by ?status=draft,active
func (h *BiddingHandler) ListAuctionsHandler(c *gin.Context) {
	statuses, err := parseStatuses(c.Query("status"))
	if err != nil {
		utils.JSONError(c, http.StatusBadRequest, err, "invalid status filter")
		utils.Warn("ListAuctionsHandler: bad status filter", map[string]any{"status": c.Query("status")})
		return
	}

	page, limit := helpers.PageParams(c)
	result := h.service.ListAuctions(directory.Filter{
		Statuses: statuses,
		Sort:     directory.SortByCreated,
		Page:     page,
		Limit:    limit,
	})
	utils.JSONResponse(c, http.StatusOK, result, "auctions retrieved successfully")
}

// PublicAuctionsHandler handles GET /auctions/public: active auctions, soonest ending first
func (h *BiddingHandler) PublicAuctionsHandler(c *gin.Context) {
	page, limit := helpers.PageParams(c)
	result := h.service.ListAuctions(directory.Filter{
		Statuses: []model.AuctionStatus{model.StatusActive},
		Sort:     directory.SortByEndTime,
		Page:     page,
		Limit:    limit,
	})
	utils.JSONResponse(c, http.StatusOK, result, "auctions retrieved successfully")
}

// StatsHandler handles GET /stats/overview
func (h *BiddingHandler) StatsHandler(c *gin.Context) {
	utils.JSONResponse(c, http.StatusOK, h.service.Stats(), "stats retrieved successfully")
}

func parseStatuses(raw string) ([]model.AuctionStatus, error) {
	if raw == "" {
		return nil, nil
	}
	var out []model.AuctionStatus
	for _, part := range strings.Split(raw, ",") {
		s := model.AuctionStatus(strings.TrimSpace(strings.ToLower(part)))
		if !s.Valid() {
			return nil, fmt.Errorf("unknown auction status %q", part)
		}
		out = append(out, s)
	}
	return out, nil
}
