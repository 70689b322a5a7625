package httpapi

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/alexitico1989/gruapp-sub003/internal/ingest"
	"github.com/alexitico1989/gruapp-sub003/internal/models"
)

type createRequestBody struct {
	Origin      models.Waypoint `json:"origin"`
	Destination models.Waypoint `json:"destination"`
	Prepaid     bool            `json:"prepaid"`
}

func (s *Server) handleCreateRequest(w http.ResponseWriter, r *http.Request) {
	userID, role, ok := identity(r)
	if !ok || role != models.RoleClient {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	var body createRequestBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	req, err := s.Engine.Create(r.Context(), userID, body.Origin, body.Destination, body.Prepaid)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, req)
}

func (s *Server) handleGetRequest(w http.ResponseWriter, r *http.Request) {
	userID, _, ok := identity(r)
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	req, err := s.Engine.Get(r.Context(), userID, mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, req)
}

func (s *Server) handlePendingRequests(w http.ResponseWriter, r *http.Request) {
	userID, role, ok := identity(r)
	if !ok || role != models.RoleOperator {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	reqs, err := s.Engine.PendingFor(r.Context(), userID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"requests": reqs})
}

func (s *Server) handleAccept(w http.ResponseWriter, r *http.Request) {
	userID, role, ok := identity(r)
	if !ok || role != models.RoleOperator {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	req, err := s.Engine.Accept(r.Context(), userID, mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, req)
}

func (s *Server) handleAdvance(w http.ResponseWriter, r *http.Request) {
	userID, role, ok := identity(r)
	if !ok || role != models.RoleOperator {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	var body struct {
		Status string `json:"status"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	next, err := models.ParseStatus(body.Status)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	req, err := s.Engine.Advance(r.Context(), userID, mux.Vars(r)["id"], next)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, req)
}

func (s *Server) handleComplete(w http.ResponseWriter, r *http.Request) {
	userID, _, ok := identity(r)
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	req, err := s.Engine.Complete(r.Context(), userID, mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, req)
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	userID, _, ok := identity(r)
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	var body struct {
		Reason string `json:"reason"`
	}
	_ = json.NewDecoder(r.Body).Decode(&body)
	req, err := s.Engine.Cancel(r.Context(), userID, mux.Vars(r)["id"], body.Reason)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, req)
}

func (s *Server) handleSubmitRating(w http.ResponseWriter, r *http.Request) {
	userID, role, ok := identity(r)
	if !ok || role != models.RoleClient {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	var body struct {
		Stars   int    `json:"stars"`
		Comment string `json:"comment"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	req, err := s.Gate.SubmitRating(r.Context(), userID, mux.Vars(r)["id"], body.Stars, body.Comment)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, req)
}

func (s *Server) handleInitiatePayment(w http.ResponseWriter, r *http.Request) {
	userID, role, ok := identity(r)
	if !ok || role != models.RoleClient {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	url, err := s.Gate.InitiatePayment(r.Context(), userID, mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"redirect_url": url})
}

// handleConfirmPayment is the provider's out-of-band completion callback.
func (s *Server) handleConfirmPayment(w http.ResponseWriter, r *http.Request) {
	var body struct {
		RequestID string `json:"request_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	req, err := s.Gate.ConfirmPayment(r.Context(), body.RequestID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, req)
}

func (s *Server) handleListOperators(w http.ResponseWriter, r *http.Request) {
	if _, _, ok := identity(r); !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"operators": s.Registry.ListAvailable()})
}

type availabilityBody struct {
	Available bool                   `json:"available"`
	Loc       models.Coord           `json:"loc"`
	Profile   models.OperatorProfile `json:"profile"`
}

func (s *Server) handleSetAvailability(w http.ResponseWriter, r *http.Request) {
	userID, role, ok := identity(r)
	if !ok || role != models.RoleOperator {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	var body availabilityBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if body.Available {
		s.Registry.SetAvailable(userID, body.Loc, body.Profile)
	} else {
		s.Registry.SetUnavailable(userID)
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleUpdateLocation(w http.ResponseWriter, r *http.Request) {
	userID, role, ok := identity(r)
	if !ok || role != models.RoleOperator {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	var body struct {
		Loc models.Coord `json:"loc"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	s.Registry.UpdateLocation(userID, body.Loc)
	if s.Kafka != nil {
		_ = s.Kafka.PublishLocation(ingest.LocationUpdate{
			OperatorID: userID,
			Loc:        body.Loc,
			Available:  true,
			At:         time.Now(),
		})
	}
	w.WriteHeader(http.StatusNoContent)
}
