package api

import (
	"net/http"
	"slices"
	"strings"

	"github.com/gorilla/websocket"
	"github.com/npezzotti/roomchat/internal/server"
	"go.uber.org/zap"
)

// wsToken accepts a bearer header, a raw Authorization value or the token
// query parameter, since browsers cannot set headers on a websocket.
func wsToken(r *http.Request) string {
	if token := bearerToken(r); token != "" {
		return token
	}
	if h := strings.TrimSpace(r.Header.Get("Authorization")); h != "" {
		return h
	}
	return r.URL.Query().Get("token")
}

func (s *GoChatApp) serveWs(w http.ResponseWriter, r *http.Request) {
	user, err := s.authenticate(r.Context(), wsToken(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" {
				return true
			}

			return slices.Contains(s.allowedOrigins, origin)
		},
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("error upgrading connection", zap.Error(err))
		return
	}

	client := server.NewClient(userRef(user), conn, s.cs, s.log)
	go func() {
		if err := client.Serve(); err != nil {
			s.log.Info("client not served", zap.Int("user_id", user.Id), zap.Error(err))
		}
	}()
}
