package storage

import (
	"context"
	"time"

	"github.com/alexitico1989/gruapp-sub003/internal/models"
)

// RequestStore defines persistence operations for service requests.
// Acceptance, completion and cancellation are atomic conditional updates:
// two concurrent writers can never both observe the precondition, so a
// request is assigned at most once and completed at most once.
type RequestStore interface {
	CreateRequest(ctx context.Context, r *models.ServiceRequest) error
	GetRequest(ctx context.Context, id string) (*models.ServiceRequest, error)

	// ListPendingFor returns PENDING requests offered to the operator,
	// newest first. This is the pull-side reconciliation for missed offer
	// pushes.
	ListPendingFor(ctx context.Context, operatorID string) ([]*models.ServiceRequest, error)

	// AssignOperator is the accept compare-and-set: it commits
	// PENDING -> ACCEPTED for exactly one caller per request. Losers get
	// models.ErrAlreadyAssigned; operators the request was never offered
	// to get models.ErrNotFound.
	AssignOperator(ctx context.Context, id, operatorID string) (*models.ServiceRequest, error)

	// AdvanceStatus commits from -> to when the request is currently at
	// from and assigned to operatorID.
	AdvanceStatus(ctx context.Context, id, operatorID string, from, to models.Status) (*models.ServiceRequest, error)

	// CompleteRequest commits ON_SITE -> COMPLETED. Either party may call
	// it; the second caller gets already=true and no new transition, so
	// both sides can race the call safely.
	CompleteRequest(ctx context.Context, id, actorID string, at time.Time) (r *models.ServiceRequest, already bool, err error)

	// CancelRequest commits to CANCELLED from any non-terminal status and
	// clears the operator assignment (a CANCELLED request carries no
	// operator). The operator assigned at cancel time, if any, is returned
	// separately so callers can run restore and notify side effects.
	CancelRequest(ctx context.Context, id, actorID, reason string) (r *models.ServiceRequest, operatorID string, err error)

	// AttachRating stores the one allowed rating for a terminal request.
	AttachRating(ctx context.Context, id, clientID string, rec models.RatingRecord) (*models.ServiceRequest, error)

	// MarkPaid flips the paid flag; valid only once COMPLETED.
	MarkPaid(ctx context.Context, id string) (*models.ServiceRequest, error)
}

// NotificationStore persists durable, user-visible notifications, the
// guaranteed-delivery fallback for dropped pushes.
type NotificationStore interface {
	CreateNotification(ctx context.Context, n *models.Notification) error
	ListRecent(ctx context.Context, userID, role string, limit int) ([]models.Notification, error)
	UnreadCount(ctx context.Context, userID, role string) (int, error)
	MarkRead(ctx context.Context, userID, role, id string) error
	MarkAllRead(ctx context.Context, userID, role string) error
	DeleteNotification(ctx context.Context, userID, role, id string) error
}

// Store is the full persistence surface a backend must provide.
type Store interface {
	RequestStore
	NotificationStore
}
