// Package metrics exposes the Prometheus collectors of the bidding service
package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Bid outcomes used as the result label of BidsTotal
const (
	ResultAccepted = "accepted"
	ResultRejected = "rejected"
	ResultFailed   = "failed"
)

// HTTP metrics
var (
	httpInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "http_in_flight_requests",
		Help: "In-flight HTTP requests.",
	})

	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)

// Engine metrics
var (
	bidsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bidding_bids_total",
			Help: "Bid attempts by outcome.",
		},
		[]string{"result"},
	)

	rejectionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bidding_bid_rejections_total",
			Help: "Rejected bid attempts by reason.",
		},
		[]string{"reason"},
	)

	arbitrationDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "bidding_arbitration_duration_seconds",
		Help:    "Time from entering an auction's section to releasing it.",
		Buckets: []float64{.0005, .001, .0025, .005, .01, .025, .05, .1, .25, .5, 1},
	})

	auctionTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bidding_auction_transitions_total",
			Help: "Committed auction lifecycle transitions.",
		},
		[]string{"transition"},
	)

	extensionsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "bidding_auction_extensions_total",
		Help: "End-time extensions applied by late bids.",
	})

	persistRetries = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "bidding_persist_retries_total",
		Help: "Ledger writes retried after a failure.",
	})

	fanoutDropped = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "bidding_fanout_dropped_total",
		Help: "Events dropped because a subscriber queue was full.",
	})

	subscribers = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "bidding_subscribers",
		Help: "Currently registered fan-out subscriptions.",
	})
)

var initOnce sync.Once

// Init registers every collector in the default registry; safe to call more than once
func Init() {
	initOnce.Do(func() {
		prometheus.MustRegister(
			httpInFlight, httpRequestsTotal, httpRequestDuration,
			bidsTotal, rejectionsTotal, arbitrationDuration, auctionTransitions,
			extensionsTotal, persistRetries, fanoutDropped, subscribers,
		)
	})
}

// Handler serves the default registry
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware measures request count, latency and in-flight requests per route
func Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		httpInFlight.Inc()
		start := time.Now()

		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		status := strconv.Itoa(c.Writer.Status())
		httpRequestDuration.WithLabelValues(c.Request.Method, path, status).Observe(time.Since(start).Seconds())
		httpRequestsTotal.WithLabelValues(c.Request.Method, path, status).Inc()
		httpInFlight.Dec()
	}
}

func BidAccepted(d time.Duration) {
	bidsTotal.WithLabelValues(ResultAccepted).Inc()
	arbitrationDuration.Observe(d.Seconds())
}

func BidRejected(reason string, d time.Duration) {
	bidsTotal.WithLabelValues(ResultRejected).Inc()
	rejectionsTotal.WithLabelValues(reason).Inc()
	arbitrationDuration.Observe(d.Seconds())
}

func BidFailed(d time.Duration) {
	bidsTotal.WithLabelValues(ResultFailed).Inc()
	arbitrationDuration.Observe(d.Seconds())
}

func Transition(name string) { auctionTransitions.WithLabelValues(name).Inc() }

func Extended() { extensionsTotal.Inc() }

func PersistRetried() { persistRetries.Inc() }

func FanoutDropped() { fanoutDropped.Inc() }

func SubscriberAdded() { subscribers.Inc() }

func SubscriberRemoved() { subscribers.Dec() }
