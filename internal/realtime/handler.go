package realtime

import (
	"net/http"
	"strings"

	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"
)

// Handler upgrades HTTP requests to real-time connections.
type Handler struct {
	lifecycle  *Lifecycle
	upgrader   websocket.Upgrader
	sendBuffer int
}

// NewHandler creates the WebSocket endpoint. An empty origin list or "*"
// accepts any origin.
func NewHandler(lifecycle *Lifecycle, allowedOrigins []string, sendBuffer int) *Handler {
	h := &Handler{lifecycle: lifecycle, sendBuffer: sendBuffer}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     originChecker(allowedOrigins),
	}
	return h
}

func originChecker(allowed []string) func(r *http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" || len(allowed) == 0 {
			return true
		}
		for _, o := range allowed {
			if o == "*" || strings.EqualFold(o, origin) {
				return true
			}
		}
		return false
	}
}

// ServeHTTP handles one connection for its whole life.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.WithError(err).WithField("remote", r.RemoteAddr).Warn("WebSocket upgrade failed")
		return
	}

	client := NewClient(conn, h.sendBuffer)
	go client.WritePump()
	defer client.Close()

	ctx := r.Context()
	session, err := h.lifecycle.Authenticate(ctx, client, tokenFromRequest(r))
	defer h.lifecycle.Disconnect(session)
	if err != nil {
		return
	}

	client.ReadPump(func(msg []byte) {
		h.lifecycle.HandleMessage(ctx, session, msg)
	})
}

// tokenFromRequest reads the credential from the Authorization header or,
// for browsers that cannot set headers on a WebSocket, the token query parameter.
func tokenFromRequest(r *http.Request) string {
	if header := r.Header.Get("Authorization"); header != "" {
		parts := strings.SplitN(header, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
			return strings.TrimSpace(parts[1])
		}
	}
	return r.URL.Query().Get("token")
}
