package domain

import (
	"errors"
	"fmt"
)

// ErrorCode categorizes every rejection the core can surface.
type ErrorCode string

const (
	// CodeValidation is malformed or out-of-range input, rejected before
	// any transaction is opened.
	CodeValidation ErrorCode = "VALIDATION"

	// CodeNotFound is a reference to an absent entity.
	CodeNotFound ErrorCode = "NOT_FOUND"

	// CodeStateConflict is an operation illegal for the entity's current
	// status (e.g. countering an already-countered negotiation).
	CodeStateConflict ErrorCode = "STATE_CONFLICT"

	// CodeConcurrencyConflict means the caller lost the race on a contended
	// write. Surfaced only after the internal retry bound is exhausted.
	CodeConcurrencyConflict ErrorCode = "CONCURRENCY_CONFLICT"

	// CodeAuthorization means the actor is not permitted to act on the
	// entity (bidder is the seller, non-owner acting on a cart or offer).
	CodeAuthorization ErrorCode = "AUTHORIZATION"
)

// Machine-readable rejection reasons. Every rejected intent carries one so
// callers can render actionable messages instead of a generic failure.
const (
	ReasonBidTooLow           = "BID_TOO_LOW"
	ReasonAuctionNotActive    = "AUCTION_NOT_ACTIVE"
	ReasonAuctionNotEnded     = "AUCTION_NOT_ENDED"
	ReasonAuctionHasWinner    = "AUCTION_HAS_WINNER"
	ReasonTypeNotSupported    = "AUCTION_TYPE_NOT_SUPPORTED"
	ReasonSellerCannotBuy     = "SELLER_CANNOT_BUY"
	ReasonNotOwner            = "NOT_OWNER"
	ReasonNegotiationOpen     = "NEGOTIATION_ALREADY_OPEN"
	ReasonOfferOutOfBounds    = "OFFER_OUT_OF_BOUNDS"
	ReasonAlreadyCountered    = "ALREADY_COUNTERED"
	ReasonNotCounterable      = "NOT_COUNTERABLE"
	ReasonNotAcceptable       = "NOT_ACCEPTABLE"
	ReasonNegotiationClosed   = "NEGOTIATION_CLOSED"
	ReasonProductUnavailable  = "PRODUCT_UNAVAILABLE"
	ReasonBelowMinOrder       = "BELOW_MIN_ORDER_QUANTITY"
	ReasonExceedsAvailability = "EXCEEDS_AVAILABILITY"
	ReasonPriceDrift          = "PRICE_DRIFT"
	ReasonWriteContention     = "WRITE_CONTENTION"
	ReasonInvalidTimeWindow   = "INVALID_TIME_WINDOW"
	ReasonWindowNotReached    = "TIME_WINDOW_NOT_REACHED"
	ReasonInvalidAmount       = "INVALID_AMOUNT"
)

// Error is the structured error every core operation returns on rejection.
// Code selects the taxonomy bucket, Reason is the machine-readable cause,
// Message is for humans.
type Error struct {
	Code    ErrorCode
	Reason  string
	Message string
}

func (e *Error) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("%s/%s: %s", e.Code, e.Reason, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// NewValidation builds a VALIDATION error.
func NewValidation(reason, format string, args ...any) *Error {
	return &Error{Code: CodeValidation, Reason: reason, Message: fmt.Sprintf(format, args...)}
}

// NewNotFound builds a NOT_FOUND error for an entity kind and ID.
func NewNotFound(entity string, id any) *Error {
	return &Error{Code: CodeNotFound, Message: fmt.Sprintf("%s %v not found", entity, id)}
}

// NewStateConflict builds a STATE_CONFLICT error.
func NewStateConflict(reason, format string, args ...any) *Error {
	return &Error{Code: CodeStateConflict, Reason: reason, Message: fmt.Sprintf(format, args...)}
}

// NewConcurrencyConflict builds a CONCURRENCY_CONFLICT error.
func NewConcurrencyConflict(reason, format string, args ...any) *Error {
	return &Error{Code: CodeConcurrencyConflict, Reason: reason, Message: fmt.Sprintf(format, args...)}
}

// NewAuthorization builds an AUTHORIZATION error.
func NewAuthorization(reason, format string, args ...any) *Error {
	return &Error{Code: CodeAuthorization, Reason: reason, Message: fmt.Sprintf(format, args...)}
}

// CodeOf extracts the taxonomy code from err, unwrapping as needed.
// Returns "" for errors that did not originate in the core.
func CodeOf(err error) ErrorCode {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// ReasonOf extracts the machine-readable reason, unwrapping as needed.
func ReasonOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Reason
	}
	return ""
}

// IsValidation reports whether err is a VALIDATION rejection.
func IsValidation(err error) bool { return CodeOf(err) == CodeValidation }

// IsNotFound reports whether err is a NOT_FOUND rejection.
func IsNotFound(err error) bool { return CodeOf(err) == CodeNotFound }

// IsStateConflict reports whether err is a STATE_CONFLICT rejection.
func IsStateConflict(err error) bool { return CodeOf(err) == CodeStateConflict }

// IsConcurrencyConflict reports whether err is a CONCURRENCY_CONFLICT rejection.
func IsConcurrencyConflict(err error) bool { return CodeOf(err) == CodeConcurrencyConflict }

// IsAuthorization reports whether err is an AUTHORIZATION rejection.
func IsAuthorization(err error) bool { return CodeOf(err) == CodeAuthorization }
