package models

import "time"

// EventKind identifies the payload shape of a NotificationEvent.
type EventKind string

const (
	EventNewRequest       EventKind = "new_request"
	EventRequestTaken     EventKind = "request_taken"
	EventRequestAccepted  EventKind = "request_accepted"
	EventStatusChanged    EventKind = "status_changed"
	EventRequestCompleted EventKind = "request_completed"
	EventRequestCancelled EventKind = "request_cancelled"
	EventPaymentUpdated   EventKind = "payment_updated"

	EventOperatorAvailable   EventKind = "operator_available"
	EventOperatorUnavailable EventKind = "operator_unavailable"
	EventOperatorLocation    EventKind = "operator_location"

	// EventNotification mirrors a durable inbox record onto the live
	// channel. Payload carries the *Notification; subscribers fold it
	// into their cached inbox keyed by event ID.
	EventNotification EventKind = "notification"
)

// NotificationEvent is one unit of the real-time protocol. Delivery is
// best-effort and at-most-once per live connection: handlers must tolerate
// duplicates (de-dup by ID) and missed delivery (reconcile by pulling).
// Version orders events within one request's status stream; no ordering
// holds across kinds or across requests.
type NotificationEvent struct {
	ID        string    `json:"id"`
	Kind      EventKind `json:"kind"`
	RequestID string    `json:"request_id,omitempty"`
	Version   int64     `json:"version,omitempty"`
	Payload   any       `json:"payload,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}
