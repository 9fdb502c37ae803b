package domain

import "errors"

// Validation errors. Nothing has been written when these are returned.
var (
	ErrUnauthenticated      = errors.New("caller identity is required")
	ErrListingNotFound      = errors.New("listing not found")
	ErrListingNotApproved   = errors.New("listing is not approved for sale")
	ErrInvalidSelection     = errors.New("selection does not match any price on the listing")
	ErrInvalidQuantity      = errors.New("quantity must be at least 1")
	ErrInvalidAmount        = errors.New("amount must be a positive finite number")
	ErrAlreadyBooked        = errors.New("user already holds an active booking for this event")
	ErrInsufficientCapacity = errors.New("not enough remaining capacity")
	ErrRateLimited          = errors.New("too many order requests")
	ErrInvalidListing       = errors.New("invalid listing definition")
)

// Authenticity errors.
var (
	ErrForged             = errors.New("payment signature verification failed")
	ErrVerificationFailed = errors.New("payment does not match the order intent")
	ErrPaymentAlreadyUsed = errors.New("payment has already been used for another booking")
)

// Capacity errors raised after payment.
var (
	ErrCapacityExceeded = errors.New("capacity exceeded after payment")
)

// Dependency errors.
var (
	ErrGatewayUnavailable = errors.New("payment gateway unavailable")
	ErrConfiguration      = errors.New("invalid configuration")
)

// Lifecycle errors.
var (
	ErrBookingNotFound        = errors.New("booking not found")
	ErrAlreadyUsedOrInvalid   = errors.New("booking already used or invalid")
	ErrNotCancellable         = errors.New("booking cannot be cancelled in its current state")
	ErrReconciliationNotFound = errors.New("reconciliation not found or already resolved")
	ErrIntentNotFound         = errors.New("order intent not found")
)

// Storage-level conflicts surfaced to the materializer.
var (
	ErrDuplicateCode    = errors.New("booking code already exists")
	ErrDuplicatePayment = errors.New("booking for payment already exists")
	ErrCodeGeneration   = errors.New("could not allocate a unique booking code")
)

// Kind groups errors by how callers should react to them.
type Kind int

const (
	KindInternal Kind = iota
	KindValidation
	KindAuthenticity
	KindCapacity
	KindDependency
	KindNotFound
	KindLifecycle
	KindRateLimited
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindAuthenticity:
		return "authenticity"
	case KindCapacity:
		return "capacity"
	case KindDependency:
		return "dependency"
	case KindNotFound:
		return "not_found"
	case KindLifecycle:
		return "lifecycle"
	case KindRateLimited:
		return "rate_limited"
	default:
		return "internal"
	}
}

var kinds = []struct {
	err  error
	kind Kind
}{
	{ErrUnauthenticated, KindAuthenticity},
	{ErrForged, KindAuthenticity},
	{ErrVerificationFailed, KindAuthenticity},
	{ErrPaymentAlreadyUsed, KindAuthenticity},
	{ErrListingNotFound, KindNotFound},
	{ErrBookingNotFound, KindNotFound},
	{ErrReconciliationNotFound, KindNotFound},
	{ErrIntentNotFound, KindNotFound},
	{ErrListingNotApproved, KindValidation},
	{ErrInvalidSelection, KindValidation},
	{ErrInvalidQuantity, KindValidation},
	{ErrInvalidAmount, KindValidation},
	{ErrAlreadyBooked, KindValidation},
	{ErrInvalidListing, KindValidation},
	{ErrInsufficientCapacity, KindCapacity},
	{ErrCapacityExceeded, KindCapacity},
	{ErrRateLimited, KindRateLimited},
	{ErrGatewayUnavailable, KindDependency},
	{ErrConfiguration, KindDependency},
	{ErrAlreadyUsedOrInvalid, KindLifecycle},
	{ErrNotCancellable, KindLifecycle},
}

// Classify maps an error chain to its Kind.
func Classify(err error) Kind {
	if err == nil {
		return KindInternal
	}
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return k.kind
		}
	}
	return KindInternal
}
