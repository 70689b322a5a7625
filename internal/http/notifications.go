package httpapi

import (
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/alexitico1989/gruapp-sub003/internal/models"
)

// Pull endpoints for the durable notification inbox. These are the ground
// truth the client-side cache reconciles against after missed or duplicated
// pushes.

func (s *Server) handleListNotifications(w http.ResponseWriter, r *http.Request) {
	userID, role, ok := identity(r)
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	list, err := s.Notifs.ListRecent(r.Context(), userID, role, limit)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if list == nil {
		list = []models.Notification{}
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"notifications": list})
}

func (s *Server) handleUnreadCount(w http.ResponseWriter, r *http.Request) {
	userID, role, ok := identity(r)
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	count, err := s.Notifs.UnreadCount(r.Context(), userID, role)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]int{"unread": count})
}

func (s *Server) handleMarkRead(w http.ResponseWriter, r *http.Request) {
	userID, role, ok := identity(r)
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	if err := s.Notifs.MarkRead(r.Context(), userID, role, mux.Vars(r)["id"]); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleMarkAllRead(w http.ResponseWriter, r *http.Request) {
	userID, role, ok := identity(r)
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	if err := s.Notifs.MarkAllRead(r.Context(), userID, role); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleDeleteNotification(w http.ResponseWriter, r *http.Request) {
	userID, role, ok := identity(r)
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	if err := s.Notifs.DeleteNotification(r.Context(), userID, role, mux.Vars(r)["id"]); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
