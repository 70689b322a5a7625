package models

import (
	"errors"
	"strings"
)

// Status is a service request lifecycle status.
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusAccepted  Status = "ACCEPTED"
	StatusEnRoute   Status = "EN_ROUTE"
	StatusOnSite    Status = "ON_SITE"
	StatusCompleted Status = "COMPLETED"
	StatusCancelled Status = "CANCELLED"
)

var ErrInvalidStatus = errors.New("invalid request status")

// ParseStatus normalizes (uppercases+trims) and validates a status string.
func ParseStatus(in string) (Status, error) {
	status := Status(strings.ToUpper(strings.TrimSpace(in)))
	if status.Valid() {
		return status, nil
	}
	return "", ErrInvalidStatus
}

// Valid reports whether status is one of the allowed status constants.
func (status Status) Valid() bool {
	switch status {
	case StatusPending, StatusAccepted, StatusEnRoute, StatusOnSite, StatusCompleted, StatusCancelled:
		return true
	default:
		return false
	}
}

func (status Status) String() string {
	return string(status)
}

// CanTransitionTo specifies if the status can transition to the next status.
func (status Status) CanTransitionTo(next Status) bool {
	switch status {
	case StatusPending:
		return next == StatusAccepted || next == StatusCancelled

	case StatusAccepted:
		return next == StatusEnRoute || next == StatusCancelled

	case StatusEnRoute:
		return next == StatusOnSite || next == StatusCancelled

	case StatusOnSite:
		return next == StatusCompleted || next == StatusCancelled

	case StatusCompleted, StatusCancelled:
		return false

	default:
		return false
	}
}

// Terminal indicates if the status is in a terminal state.
func (status Status) Terminal() bool {
	return status == StatusCompleted || status == StatusCancelled
}

// Assigned reports whether a request in this status carries an assigned
// operator. Holds the invariant: operator is non-empty iff status is in
// {ACCEPTED, EN_ROUTE, ON_SITE, COMPLETED}.
func (status Status) Assigned() bool {
	switch status {
	case StatusAccepted, StatusEnRoute, StatusOnSite, StatusCompleted:
		return true
	default:
		return false
	}
}
