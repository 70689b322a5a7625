package dispatch

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/alexitico1989/gruapp-sub003/internal/channel"
	"github.com/alexitico1989/gruapp-sub003/internal/models"
	"github.com/alexitico1989/gruapp-sub003/internal/observability"
	"github.com/alexitico1989/gruapp-sub003/internal/routing"
	"github.com/alexitico1989/gruapp-sub003/internal/storage"
)

// Publisher is the live-connection side of the notification protocol.
type Publisher interface {
	Publish(userID, role string, ev models.NotificationEvent) error
	Broadcast(role string, ev models.NotificationEvent) int
}

// Presence is the slice of the registry the engine drives: candidate
// selection on create, parking on accept, restore on complete/cancel.
type Presence interface {
	Nearby(origin models.Coord, radiusKm float64, limit int) []models.OperatorPresenceEntry
	Park(operatorID string) bool
	Release(operatorID string) bool
}

// Pusher hands events to an external best-effort push provider for
// disconnected clients. Fire and forget.
type Pusher interface {
	Send(userID string, ev models.NotificationEvent)
}

// Engine is the authoritative lifecycle controller for service requests.
// Transition failures are returned before any side effect; delivery
// failures after a committed transition never roll it back.
type Engine struct {
	Store    storage.RequestStore
	Notifs   storage.NotificationStore
	Presence Presence
	Channel  Publisher
	Oracle   routing.Oracle
	Pricing  routing.Pricing
	Push     Pusher // optional
	Logger   *slog.Logger

	SearchRadiusKm float64
	MaxCandidates  int
}

// Create prices a new request via the routing oracle, persists it as
// PENDING and offers it to nearby available operators.
func (e *Engine) Create(ctx context.Context, clientID string, origin, dest models.Waypoint, prepaid bool) (*models.ServiceRequest, error) {
	route, err := e.Oracle.Route(ctx, origin.Coord, dest.Coord)
	if err != nil {
		return nil, fmt.Errorf("route request: %w", err)
	}

	limit := e.MaxCandidates
	if limit <= 0 {
		limit = 8
	}
	candidates := e.Presence.Nearby(origin.Coord, e.SearchRadiusKm, limit)
	offered := make([]string, 0, len(candidates))
	for _, c := range candidates {
		offered = append(offered, c.OperatorID)
	}

	req := &models.ServiceRequest{
		ID:          newID(),
		ClientID:    clientID,
		Origin:      origin,
		Destination: dest,
		Quote:       e.Pricing.Quote(route),
		Status:      models.StatusPending,
		Version:     1,
		Prepaid:     prepaid,
		OfferedTo:   offered,
		CreatedAt:   time.Now(),
	}
	if err := e.Store.CreateRequest(ctx, req); err != nil {
		return nil, fmt.Errorf("persist request: %w", err)
	}
	observability.RequestsCreated.Inc()
	observability.Transitions.WithLabelValues(models.StatusPending.String()).Inc()
	e.Logger.Info("request_created", "request_id", req.ID, "client_id", clientID,
		"distance_km", req.Quote.DistanceKm, "amount", req.Quote.ClientAmount, "candidates", len(offered))

	for _, operatorID := range offered {
		e.notify(ctx, operatorID, models.RoleOperator,
			e.event(models.EventNewRequest, req),
			&models.Notification{
				UserID:    operatorID,
				Role:      models.RoleOperator,
				Title:     "New service request",
				Body:      fmt.Sprintf("Pickup at %s", req.Origin.Address),
				RequestID: req.ID,
			})
	}
	return req, nil
}

// Accept assigns the request to the first operator whose conditional write
// lands; everyone else gets models.ErrAlreadyAssigned. On success the
// operator is parked in the registry, the client is notified, and the offer
// is withdrawn from the remaining candidates.
func (e *Engine) Accept(ctx context.Context, operatorID, requestID string) (*models.ServiceRequest, error) {
	req, err := e.Store.AssignOperator(ctx, requestID, operatorID)
	if err != nil {
		if errors.Is(err, models.ErrAlreadyAssigned) {
			observability.AcceptConflicts.Inc()
		}
		return nil, err
	}
	observability.Transitions.WithLabelValues(models.StatusAccepted.String()).Inc()
	e.Logger.Info("request_accepted", "request_id", requestID, "operator_id", operatorID)

	e.Presence.Park(operatorID)
	e.notify(ctx, req.ClientID, models.RoleClient,
		e.event(models.EventRequestAccepted, req),
		&models.Notification{
			UserID:    req.ClientID,
			Role:      models.RoleClient,
			Title:     "Operator on the way",
			Body:      "Your request was accepted",
			RequestID: req.ID,
		})
	for _, other := range req.OfferedTo {
		if other == operatorID {
			continue
		}
		e.notify(ctx, other, models.RoleOperator, e.event(models.EventRequestTaken, req), nil)
	}
	return req, nil
}

// Advance moves an accepted request forward (ACCEPTED -> EN_ROUTE ->
// ON_SITE) on behalf of the assigned operator.
func (e *Engine) Advance(ctx context.Context, operatorID, requestID string, next models.Status) (*models.ServiceRequest, error) {
	var from models.Status
	switch next {
	case models.StatusEnRoute:
		from = models.StatusAccepted
	case models.StatusOnSite:
		from = models.StatusEnRoute
	default:
		return nil, &models.InvalidTransitionError{RequestID: requestID, Attempted: next}
	}
	req, err := e.Store.AdvanceStatus(ctx, requestID, operatorID, from, next)
	if err != nil {
		return nil, err
	}
	observability.Transitions.WithLabelValues(next.String()).Inc()
	e.Logger.Info("request_advanced", "request_id", requestID, "status", next.String(), "version", req.Version)

	e.notify(ctx, req.ClientID, models.RoleClient, e.event(models.EventStatusChanged, req), nil)
	return req, nil
}

// Complete finishes the job. Either party may trigger it; the second
// trigger is a no-op so both sides can race the call after a flaky
// disconnect.
func (e *Engine) Complete(ctx context.Context, actorID, requestID string) (*models.ServiceRequest, error) {
	req, already, err := e.Store.CompleteRequest(ctx, requestID, actorID, time.Now())
	if err != nil {
		return nil, err
	}
	if already {
		return req, nil
	}
	observability.Transitions.WithLabelValues(models.StatusCompleted.String()).Inc()
	e.Logger.Info("request_completed", "request_id", requestID, "actor_id", actorID)

	e.Presence.Release(req.OperatorID)
	e.notify(ctx, req.ClientID, models.RoleClient,
		e.event(models.EventRequestCompleted, req),
		&models.Notification{
			UserID:    req.ClientID,
			Role:      models.RoleClient,
			Title:     "Service completed",
			Body:      "Please rate your operator",
			RequestID: req.ID,
		})
	e.notify(ctx, req.OperatorID, models.RoleOperator,
		e.event(models.EventRequestCompleted, req),
		&models.Notification{
			UserID:    req.OperatorID,
			Role:      models.RoleOperator,
			Title:     "Service completed",
			Body:      "Job closed",
			RequestID: req.ID,
		})
	return req, nil
}

// Cancel aborts a non-terminal request, notifies the counterpart and
// restores the assigned operator's availability (when one was assigned and
// had not toggled offline meanwhile).
func (e *Engine) Cancel(ctx context.Context, actorID, requestID, reason string) (*models.ServiceRequest, error) {
	// the cancel commit clears the assignment, so the store hands back the
	// operator that held it for the restore/notify side effects
	req, operatorID, err := e.Store.CancelRequest(ctx, requestID, actorID, reason)
	if err != nil {
		return nil, err
	}
	observability.Transitions.WithLabelValues(models.StatusCancelled.String()).Inc()
	e.Logger.Info("request_cancelled", "request_id", requestID, "actor_id", actorID, "reason", reason)

	if operatorID != "" {
		e.Presence.Release(operatorID)
	}
	if actorID != req.ClientID {
		e.notify(ctx, req.ClientID, models.RoleClient,
			e.event(models.EventRequestCancelled, req),
			&models.Notification{
				UserID:    req.ClientID,
				Role:      models.RoleClient,
				Title:     "Request cancelled",
				Body:      "The operator cancelled the job",
				RequestID: req.ID,
			})
	}
	if operatorID != "" && actorID != operatorID {
		e.notify(ctx, operatorID, models.RoleOperator,
			e.event(models.EventRequestCancelled, req),
			&models.Notification{
				UserID:    operatorID,
				Role:      models.RoleOperator,
				Title:     "Request cancelled",
				Body:      "The client cancelled the job",
				RequestID: req.ID,
			})
	}
	// refresh pending views of candidates still holding the offer
	if operatorID == "" {
		for _, other := range req.OfferedTo {
			if other == actorID {
				continue
			}
			e.notify(ctx, other, models.RoleOperator, e.event(models.EventRequestCancelled, req), nil)
		}
	}
	return req, nil
}

// Get returns the request when the actor is a party to it.
func (e *Engine) Get(ctx context.Context, actorID, requestID string) (*models.ServiceRequest, error) {
	req, err := e.Store.GetRequest(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if !req.IsParty(actorID) && !contains(req.OfferedTo, actorID) {
		return nil, models.ErrNotFound
	}
	return req, nil
}

// PendingFor is the offer-list pull endpoint for an operator.
func (e *Engine) PendingFor(ctx context.Context, operatorID string) ([]*models.ServiceRequest, error) {
	return e.Store.ListPendingFor(ctx, operatorID)
}

// event builds a status-stream event. Version carries the request's commit
// order so receivers can drop stale pushes.
func (e *Engine) event(kind models.EventKind, req *models.ServiceRequest) models.NotificationEvent {
	return models.NotificationEvent{
		ID:        newID(),
		Kind:      kind,
		RequestID: req.ID,
		Version:   req.Version,
		Payload:   req,
		CreatedAt: time.Now(),
	}
}

// notify delivers best-effort over the live channel and, for
// correctness-sensitive events, persists the durable Notification fallback.
// Never fails the caller: a committed transition stands whatever happens
// here.
func (e *Engine) notify(ctx context.Context, userID, role string, ev models.NotificationEvent, durable *models.Notification) {
	if err := e.Channel.Publish(userID, role, ev); err != nil {
		observability.EventsDropped.Inc()
		if !errors.Is(err, channel.ErrNotSubscribed) {
			e.Logger.Warn("event_delivery_failed", "user_id", userID, "role", role, "kind", string(ev.Kind), "error", err)
		}
	} else {
		observability.EventsPublished.Inc()
	}
	if durable != nil && e.Notifs != nil {
		if err := e.Notifs.CreateNotification(ctx, durable); err != nil {
			e.Logger.Error("notification_persist_failed", "user_id", userID, "error", err)
		} else if err := e.Channel.Publish(userID, role, models.NotificationEvent{
			ID:        newID(),
			Kind:      models.EventNotification,
			RequestID: durable.RequestID,
			Payload:   durable,
			CreatedAt: time.Now(),
		}); err != nil {
			// live inbox caches pre-warm from this push; offline users
			// reconcile from the store
			observability.EventsDropped.Inc()
		} else {
			observability.EventsPublished.Inc()
		}
	}
	if e.Push != nil {
		e.Push.Send(userID, ev)
	}
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

func newID() string { b := make([]byte, 8); _, _ = rand.Read(b); return hex.EncodeToString(b) }
