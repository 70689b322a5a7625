package models

import (
	"errors"
	"fmt"
)

// Error taxonomy surfaced by the dispatch core. Callers match with
// errors.Is/errors.As and map to transport-level responses at the boundary.
var (
	// ErrNotFound covers both unknown ids and requests the acting user is
	// not a party to, so existence of other users' requests never leaks.
	ErrNotFound = errors.New("request not found")

	// ErrAlreadyAssigned is returned to the loser of an accept race.
	ErrAlreadyAssigned = errors.New("offer no longer available")

	ErrAlreadyRated   = errors.New("request already rated")
	ErrRatingRequired = errors.New("rating required before payment")
	ErrAlreadyPaid    = errors.New("request already paid")
	ErrNoPaymentDue   = errors.New("no payment due for prepaid request")
	ErrInvalidRating  = errors.New("rating must be between 1 and 5 stars")
	ErrNotRatable     = errors.New("request cannot be rated yet")
	ErrNotCompleted   = errors.New("request not completed")

	// ErrExternalUnavailable wraps routing/payment provider failures.
	ErrExternalUnavailable = errors.New("external service unavailable")
)

// InvalidTransitionError reports a state change that is not valid from the
// request's current status, naming both states.
type InvalidTransitionError struct {
	RequestID string
	From      Status
	Attempted Status
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid transition for request %s: %s -> %s", e.RequestID, e.From, e.Attempted)
}
