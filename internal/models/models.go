package models

import "time"

type Coord struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// Waypoint is a coordinate plus the free-text address shown to users.
type Waypoint struct {
	Coord   Coord  `json:"coord"`
	Address string `json:"address"`
}

// Actor roles as supplied by the identity provider.
const (
	RoleClient   = "client"
	RoleOperator = "operator"
)

// OperatorProfile is the display snapshot carried by a presence entry.
type OperatorProfile struct {
	Name          string  `json:"name"`
	Vehicle       string  `json:"vehicle"`
	Rating        float64 `json:"rating"` // 0..5
	CompletedJobs int     `json:"completed_jobs"`
}

// OperatorPresenceEntry is the ephemeral supply-side record. At most one
// entry per operator; entries with Available=false are never handed to
// clients as candidates.
type OperatorPresenceEntry struct {
	OperatorID string          `json:"operator_id"`
	Available  bool            `json:"available"`
	Loc        Coord           `json:"loc"`
	Profile    OperatorProfile `json:"profile"`
	Updated    time.Time       `json:"updated"`
}

// Quote holds the routing and pricing result computed once at request
// creation. Immutable once the request leaves PENDING.
type Quote struct {
	DistanceKm     float64 `json:"distance_km"`
	DurationMin    float64 `json:"duration_min"`
	Polyline       string  `json:"polyline,omitempty"`
	ClientAmount   int64   `json:"client_amount"`
	OperatorAmount int64   `json:"operator_amount"`
}

// RatingRecord is attached to a completed or cancelled request. At most one
// per request; immutable once submitted.
type RatingRecord struct {
	Stars     int       `json:"stars"` // 1..5
	Comment   string    `json:"comment,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// ServiceRequest is a single job. Mutated exclusively through state-machine
// transitions; Version increases by one on every committed transition.
type ServiceRequest struct {
	ID           string        `json:"id"`
	ClientID     string        `json:"client_id"`
	OperatorID   string        `json:"operator_id,omitempty"` // empty until accepted
	Origin       Waypoint      `json:"origin"`
	Destination  Waypoint      `json:"destination"`
	Quote        Quote         `json:"quote"`
	Status       Status        `json:"status"`
	Version      int64         `json:"version"`
	Paid         bool          `json:"paid"`
	Prepaid      bool          `json:"prepaid"`
	Rating       *RatingRecord `json:"rating,omitempty"`
	OfferedTo    []string      `json:"offered_to,omitempty"`
	CancelledBy  string        `json:"cancelled_by,omitempty"`
	CancelReason string        `json:"cancel_reason,omitempty"`
	CreatedAt    time.Time     `json:"created_at"`
	CompletedAt  *time.Time    `json:"completed_at,omitempty"`
}

// IsParty reports whether the user is the requester or the assigned
// operator.
func (r *ServiceRequest) IsParty(userID string) bool {
	return userID != "" && (userID == r.ClientID || userID == r.OperatorID)
}

// Notification is the durable, user-visible inbox record. Distinct from a
// transient NotificationEvent: it survives disconnects and backs the unread
// counter.
type Notification struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Role      string    `json:"role"`
	Title     string    `json:"title"`
	Body      string    `json:"body"`
	RequestID string    `json:"request_id,omitempty"`
	Read      bool      `json:"read"`
	CreatedAt time.Time `json:"created_at"`
}
