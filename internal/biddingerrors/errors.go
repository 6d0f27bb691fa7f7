package biddingerrors

import (
	"errors"
	"fmt"
)

// Repository-level errors
var (
	ErrAuctionNotFound = errors.New("auction not found")
	ErrNoBids          = errors.New("no bids found for auction")
	ErrUserNoBids      = errors.New("user has not placed any bids")
)

// business logic errors
var (
	ErrInvalidBid           = errors.New("invalid bid")
	ErrBidTooLow            = errors.New("bid amount too low")
	ErrAlreadyHighestBidder = errors.New("bidder already holds the highest bid")
	ErrAuctionClosed        = errors.New("auction is closed")
	ErrInvalidTransition    = errors.New("invalid auction state transition")
	ErrInvalidAuction       = errors.New("invalid auction details")
	ErrAuctionActive        = errors.New("auction is active")
)

// ErrPersistence marks a retryable storage failure; no state was committed
var ErrPersistence = errors.New("persistence failure")

// ErrVersionConflict means the stored auction is not at the version a write was built on
var ErrVersionConflict = errors.New("auction version conflict")

// RejectReason is the closed set of reasons a bid attempt can be refused for
type RejectReason string

const (
	ReasonNotFound             RejectReason = "NotFound"
	ReasonAuctionClosed        RejectReason = "AuctionClosed"
	ReasonAlreadyHighestBidder RejectReason = "AlreadyHighestBidder"
	ReasonBidTooLow            RejectReason = "BidTooLow"
	ReasonInvalidAmount        RejectReason = "InvalidAmount"
)

var reasonErrors = map[RejectReason]error{
	ReasonNotFound:             ErrAuctionNotFound,
	ReasonAuctionClosed:        ErrAuctionClosed,
	ReasonAlreadyHighestBidder: ErrAlreadyHighestBidder,
	ReasonBidTooLow:            ErrBidTooLow,
	ReasonInvalidAmount:        ErrInvalidBid,
}

// RejectionError reports a bid attempt that failed validation.
// It never accompanies a state change.
type RejectionError struct {
	Reason        RejectReason
	MinimumAmount float64 // set for ReasonBidTooLow
	Detail        string
}

func (e *RejectionError) Error() string {
	msg := reasonErrors[e.Reason].Error()
	if e.Reason == ReasonBidTooLow {
		msg = fmt.Sprintf("%s - minimum bid is %.2f", msg, e.MinimumAmount)
	}
	if e.Detail != "" {
		msg += " - " + e.Detail
	}
	return msg
}

// Unwrap exposes the sentinel so errors.Is works against the package variables
func (e *RejectionError) Unwrap() error {
	return reasonErrors[e.Reason]
}

// Reject builds a rejection for reason with an optional detail message
func Reject(reason RejectReason, detail string) *RejectionError {
	return &RejectionError{Reason: reason, Detail: detail}
}

// RejectTooLow builds a BidTooLow rejection carrying the minimum acceptable amount
func RejectTooLow(minimum float64) *RejectionError {
	return &RejectionError{Reason: ReasonBidTooLow, MinimumAmount: minimum}
}

// AsRejection extracts the rejection from err, if there is one
func AsRejection(err error) (*RejectionError, bool) {
	var rej *RejectionError
	if errors.As(err, &rej) {
		return rej, true
	}
	return nil, false
}

// ReasonOf returns the rejection reason carried by err, or "" when err is not a rejection
func ReasonOf(err error) RejectReason {
	if rej, ok := AsRejection(err); ok {
		return rej.Reason
	}
	return ""
}
