package httpapi

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/alexitico1989/gruapp-sub003/internal/channel"
	"github.com/alexitico1989/gruapp-sub003/internal/dispatch"
	"github.com/alexitico1989/gruapp-sub003/internal/gate"
	"github.com/alexitico1989/gruapp-sub003/internal/ingest"
	"github.com/alexitico1989/gruapp-sub003/internal/models"
	"github.com/alexitico1989/gruapp-sub003/internal/presence"
	"github.com/alexitico1989/gruapp-sub003/internal/storage"
)

// Server exposes the dispatch core over HTTP and WebSocket. Identity
// arrives from the session provider as trusted X-User-ID / X-User-Role
// headers; the core only checks party membership per request.
type Server struct {
	Engine   *dispatch.Engine
	Gate     *gate.Gate
	Registry *presence.Registry
	Notifs   storage.NotificationStore
	Channel  *channel.Channel
	Kafka    *ingest.KafkaProducer // optional

	logger *slog.Logger
	mux    *mux.Router
}

func NewServer(logger *slog.Logger, engine *dispatch.Engine, g *gate.Gate, reg *presence.Registry, notifs storage.NotificationStore, ch *channel.Channel, kafka *ingest.KafkaProducer) *Server {
	s := &Server{
		Engine:   engine,
		Gate:     g,
		Registry: reg,
		Notifs:   notifs,
		Channel:  ch,
		Kafka:    kafka,
		logger:   logger,
		mux:      mux.NewRouter(),
	}
	s.registerMiddleware()
	s.routes()
	return s
}

func (s *Server) routes() {
	api := s.mux.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/requests", s.handleCreateRequest).Methods("POST")
	api.HandleFunc("/requests/pending", s.handlePendingRequests).Methods("GET")
	api.HandleFunc("/requests/{id}", s.handleGetRequest).Methods("GET")
	api.HandleFunc("/requests/{id}/accept", s.handleAccept).Methods("POST")
	api.HandleFunc("/requests/{id}/advance", s.handleAdvance).Methods("POST")
	api.HandleFunc("/requests/{id}/complete", s.handleComplete).Methods("POST")
	api.HandleFunc("/requests/{id}/cancel", s.handleCancel).Methods("POST")
	api.HandleFunc("/requests/{id}/rating", s.handleSubmitRating).Methods("POST")
	api.HandleFunc("/requests/{id}/payment", s.handleInitiatePayment).Methods("POST")

	api.HandleFunc("/operators/available", s.handleListOperators).Methods("GET")
	api.HandleFunc("/operators/availability", s.handleSetAvailability).Methods("POST")
	api.HandleFunc("/operators/location", s.handleUpdateLocation).Methods("POST")

	api.HandleFunc("/notifications", s.handleListNotifications).Methods("GET")
	api.HandleFunc("/notifications/unread_count", s.handleUnreadCount).Methods("GET")
	api.HandleFunc("/notifications/read_all", s.handleMarkAllRead).Methods("POST")
	api.HandleFunc("/notifications/{id}/read", s.handleMarkRead).Methods("POST")
	api.HandleFunc("/notifications/{id}", s.handleDeleteNotification).Methods("DELETE")

	s.mux.HandleFunc("/internal/payments/confirm", s.handleConfirmPayment).Methods("POST")
	s.mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200); w.Write([]byte("ok")) }).Methods("GET")
	s.mux.Handle("/metrics", promhttp.Handler())
	s.mux.HandleFunc("/ws/{role}/{user_id}", s.handleWS)
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.mux.ServeHTTP(w, r) }

// identity reads the trusted actor headers set by the session provider.
func identity(r *http.Request) (userID, role string, ok bool) {
	userID = r.Header.Get("X-User-ID")
	role = r.Header.Get("X-User-Role")
	if userID == "" || (role != models.RoleClient && role != models.RoleOperator) {
		return "", "", false
	}
	return userID, role, true
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps the core's error taxonomy to transport responses. Unknown
// ids and non-party actors both come back 404 so existence never leaks.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	var invalid *models.InvalidTransitionError
	switch {
	case errors.Is(err, models.ErrNotFound):
		http.Error(w, "not found", http.StatusNotFound)
	case errors.Is(err, models.ErrAlreadyAssigned):
		http.Error(w, err.Error(), http.StatusConflict)
	case errors.As(err, &invalid):
		http.Error(w, invalid.Error(), http.StatusConflict)
	case errors.Is(err, models.ErrInvalidRating):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, models.ErrRatingRequired),
		errors.Is(err, models.ErrAlreadyRated),
		errors.Is(err, models.ErrNotRatable),
		errors.Is(err, models.ErrAlreadyPaid),
		errors.Is(err, models.ErrNoPaymentDue),
		errors.Is(err, models.ErrNotCompleted):
		http.Error(w, err.Error(), http.StatusConflict)
	case errors.Is(err, models.ErrExternalUnavailable):
		http.Error(w, "service temporarily unavailable, retry later", http.StatusBadGateway)
	default:
		s.logger.Error("unhandled error", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}
