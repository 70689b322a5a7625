package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/alexitico1989/gruapp-sub003/internal/models"
)

var upgrader = websocket.Upgrader{}

// handleWS binds a live connection to the actor's logical inbox. The read
// loop exists to notice the disconnect (and to take inbound location
// samples from operators); everything the server says goes through the
// channel.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	userID, role := vars["user_id"], vars["role"]
	if userID == "" || (role != models.RoleClient && role != models.RoleOperator) {
		http.Error(w, "unknown role", http.StatusBadRequest)
		return
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the error response
		s.logger.Warn("ws upgrade failed", "user_id", userID, "error", err)
		return
	}
	s.Channel.Subscribe(userID, role, conn)

	go func() {
		defer s.Channel.Unsubscribe(userID, role, conn)
		for {
			_, msg, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if role != models.RoleOperator {
				continue
			}
			var in struct {
				Kind string       `json:"kind"`
				Loc  models.Coord `json:"loc"`
			}
			if err := json.Unmarshal(msg, &in); err != nil || in.Kind != "location" {
				continue
			}
			s.Registry.UpdateLocation(userID, in.Loc)
		}
	}()
}
