package server

import (
	"errors"

	"github.com/gin-gonic/gin"

	"live-bidding/internal/metrics"
	handler "live-bidding/services/bidding/handler"
)

var errTooManyBids = errors.New("rate limit exceeded")

// Options tunes the router
type Options struct {
	// BidsPerMinute limits bid submissions per client; zero disables the limit
	BidsPerMinute int
	BidBurst      int
}

// SetupRouter configures all Gin routes for the application
func SetupRouter(biddingService handler.BiddingServiceInterface, events handler.EventSource, opts Options) *gin.Engine {
	router := gin.New() // New router without default middleware for full control over middleware and logging

	router.Use(gin.Recovery())          // recover from panics
	router.Use(RequestLoggerMiddleware) // custom request logging
	router.Use(metrics.Middleware())

	biddingHandler := handler.NewBiddingHandler(biddingService)

	// one bucket per client covers both the REST and the websocket bid paths
	bidLimit := []gin.HandlerFunc{}
	var wsOpts []handler.WSOption
	if opts.BidsPerMinute > 0 {
		limiter := NewClientRateLimiter(opts.BidsPerMinute, opts.BidBurst)
		bidLimit = append(bidLimit, limiter.Middleware())
		wsOpts = append(wsOpts, handler.WithBidLimiter(limiter))
	}
	wsHandler := handler.NewWSHandler(biddingService, events, wsOpts...)

	router.GET("/api/time", biddingHandler.ServerTimeHandler)
	router.GET("/metrics", gin.WrapH(metrics.Handler()))
	router.GET("/ws", wsHandler.ServeWS)

	auctions := router.Group("/auctions")
	{
		auctions.POST("", biddingHandler.CreateAuctionHandler)
		auctions.GET("", biddingHandler.ListAuctionsHandler)
		auctions.GET("/public", biddingHandler.PublicAuctionsHandler)
		auctions.GET("/:id", biddingHandler.GetAuctionHandler)
		auctions.PUT("/:id", biddingHandler.UpdateAuctionHandler)
		auctions.DELETE("/:id", biddingHandler.DeleteAuctionHandler)
		auctions.POST("/:id/start", biddingHandler.StartAuctionHandler)
		auctions.POST("/:id/end", biddingHandler.EndAuctionHandler)
		auctions.POST("/:id/cancel", biddingHandler.CancelAuctionHandler)
		auctions.POST("/:id/bids", append(bidLimit, biddingHandler.PlaceBidHandler)...)
		auctions.GET("/:id/bids", biddingHandler.GetBidsHandler)
	}

	users := router.Group("/users")
	{
		users.GET("/:user_id/bids", biddingHandler.GetUserBidsHandler)
	}

	stats := router.Group("/stats")
	{
		stats.GET("/overview", biddingHandler.StatsHandler)
	}

	return router
}
