package gate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/alexitico1989/gruapp-sub003/internal/models"
	"github.com/alexitico1989/gruapp-sub003/internal/storage"
)

// PaymentProvider is the external checkout handoff. The gate never tracks
// payment completion itself; the provider reports it out-of-band.
type PaymentProvider interface {
	CreatePaymentIntent(ctx context.Context, requestID string, amount int64) (redirectURL string, err error)
}

// Publisher delivers the asynchronous paid-flag update to both parties.
type Publisher interface {
	Publish(userID, role string, ev models.NotificationEvent) error
}

// Gate sequences rating and payment after completion: in the
// mandatory-payment variant a rating must exist before payment can start;
// in the prepaid variant the gate closes on rating alone.
type Gate struct {
	Store    storage.RequestStore
	Notifs   storage.NotificationStore // optional durable fallback
	Payments PaymentProvider
	Channel  Publisher // optional
	Logger   *slog.Logger

	mu    sync.Mutex
	rated map[string]bool // requests this process has already seen rated
}

func New(store storage.Store, payments PaymentProvider, channel Publisher, logger *slog.Logger) *Gate {
	return &Gate{Store: store, Notifs: store, Payments: payments, Channel: channel, Logger: logger, rated: make(map[string]bool)}
}

// SubmitRating attaches the one allowed rating. Idempotent: once a rating
// response has been observed, further attempts short-circuit locally as a
// no-op instead of re-hitting the store.
func (g *Gate) SubmitRating(ctx context.Context, clientID, requestID string, stars int, comment string) (*models.ServiceRequest, error) {
	if stars < 1 || stars > 5 {
		return nil, models.ErrInvalidRating
	}
	g.mu.Lock()
	already := g.rated[requestID]
	g.mu.Unlock()
	if already {
		return g.Store.GetRequest(ctx, requestID)
	}

	req, err := g.Store.AttachRating(ctx, requestID, clientID, models.RatingRecord{
		Stars:     stars,
		Comment:   comment,
		CreatedAt: time.Now(),
	})
	if errors.Is(err, models.ErrAlreadyRated) {
		// someone beat this session to it; the rating stands, treat as done
		g.markRated(requestID)
		return g.Store.GetRequest(ctx, requestID)
	}
	if err != nil {
		return nil, err
	}
	g.markRated(requestID)
	g.Logger.Info("rating_submitted", "request_id", requestID, "stars", stars)
	return req, nil
}

// InitiatePayment opens the external checkout for a completed, rated
// request and returns the opaque handoff target.
func (g *Gate) InitiatePayment(ctx context.Context, clientID, requestID string) (string, error) {
	req, err := g.Store.GetRequest(ctx, requestID)
	if err != nil {
		return "", err
	}
	if req.ClientID != clientID {
		return "", models.ErrNotFound
	}
	if req.Status != models.StatusCompleted {
		return "", &models.InvalidTransitionError{RequestID: requestID, From: req.Status, Attempted: models.StatusCompleted}
	}
	if req.Prepaid {
		return "", models.ErrNoPaymentDue
	}
	if req.Paid {
		return "", models.ErrAlreadyPaid
	}
	if req.Rating == nil {
		return "", models.ErrRatingRequired
	}
	if g.Payments == nil {
		return "", models.ErrExternalUnavailable
	}
	url, err := g.Payments.CreatePaymentIntent(ctx, requestID, req.Quote.ClientAmount)
	if err != nil {
		return "", fmt.Errorf("%w: %v", models.ErrExternalUnavailable, err)
	}
	g.Logger.Info("payment_initiated", "request_id", requestID, "amount", req.Quote.ClientAmount)
	return url, nil
}

// ConfirmPayment records the provider's asynchronous completion callback
// and pushes the flag update to both parties.
func (g *Gate) ConfirmPayment(ctx context.Context, requestID string) (*models.ServiceRequest, error) {
	req, err := g.Store.MarkPaid(ctx, requestID)
	if err != nil {
		return nil, err
	}
	g.Logger.Info("payment_confirmed", "request_id", requestID)
	if g.Channel != nil {
		ev := models.NotificationEvent{
			ID:        storage.NewID(),
			Kind:      models.EventPaymentUpdated,
			RequestID: req.ID,
			Version:   req.Version,
			Payload:   req,
			CreatedAt: time.Now(),
		}
		_ = g.Channel.Publish(req.ClientID, models.RoleClient, ev)
		if req.OperatorID != "" {
			_ = g.Channel.Publish(req.OperatorID, models.RoleOperator, ev)
		}
	}
	if g.Notifs != nil && req.OperatorID != "" {
		err := g.Notifs.CreateNotification(ctx, &models.Notification{
			UserID:    req.OperatorID,
			Role:      models.RoleOperator,
			Title:     "Payment received",
			Body:      "The client's payment cleared",
			RequestID: req.ID,
		})
		if err != nil {
			g.Logger.Error("notification_persist_failed", "request_id", req.ID, "error", err)
		}
	}
	return req, nil
}

// Satisfied reports whether the gate has closed for the request: rated,
// and paid unless prepaid.
func (g *Gate) Satisfied(req *models.ServiceRequest) bool {
	if req.Rating == nil {
		return false
	}
	return req.Prepaid || req.Paid
}

func (g *Gate) markRated(requestID string) {
	g.mu.Lock()
	g.rated[requestID] = true
	g.mu.Unlock()
}
