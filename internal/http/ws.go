package httpapi

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/example/delivery-dispatch/internal/auth"
	"github.com/example/delivery-dispatch/internal/dispatch"
	"github.com/example/delivery-dispatch/internal/models"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

func (s *Server) handleRestaurantWS(w http.ResponseWriter, r *http.Request) {
	s.handleWS(w, r, models.RoleRestaurant, dispatch.RestaurantChannel)
}

func (s *Server) handleDriverWS(w http.ResponseWriter, r *http.Request) {
	s.handleWS(w, r, models.RoleDriver, dispatch.DriverChannel)
}

// handleWS subscribes a live connection to exactly one room: the caller's
// own. The path id must match the authenticated party, so no connection can
// listen on someone else's channel.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request, role models.Role, channelFor func(string) string) {
	party, ok := auth.PartyFromContext(r.Context())
	if !ok {
		s.writeError(w, http.StatusUnauthorized, "unauthenticated")
		return
	}
	id := mux.Vars(r)["id"]
	if party.Role != role || party.ID != id {
		s.writeError(w, http.StatusForbidden, "cannot subscribe to another party's channel")
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("ws upgrade failed", "party_id", id, "error", err)
		return
	}

	channel := channelFor(id)
	session := s.wsreg.Subscribe(channel, conn)
	s.logger.Info("ws subscribed", "channel", channel)

	// the read loop only exists to detect disconnects; clients never send
	go func() {
		defer func() {
			s.wsreg.Unsubscribe(channel, session)
			_ = conn.Close()
			s.logger.Info("ws unsubscribed", "channel", channel)
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}
