package fanout

import (
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/mstgnz/coursepay/infra/apperr"
	"github.com/mstgnz/coursepay/infra/auth"
	"github.com/mstgnz/coursepay/infra/logger"
	"github.com/mstgnz/coursepay/infra/response"
)

const (
	sendBuffer = 16
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// origins are enforced by the CORS layer and the bearer token
	CheckOrigin: func(r *http.Request) bool { return true },
}

type wsConn struct {
	id   string
	conn *websocket.Conn
	send chan Update
	done chan struct{}
}

func (c *wsConn) ID() string { return c.id }

func (c *wsConn) Send(u Update) bool {
	select {
	case <-c.done:
		return false
	case c.send <- u:
		return true
	default:
		return false
	}
}

// resolveSubject returns the subject the caller may listen on.
func resolveSubject(id auth.Identity, requested string) (string, error) {
	if requested == "" {
		return UserSubject(id.UserID), nil
	}
	switch {
	case strings.HasPrefix(requested, "job:") && len(requested) > len("job:"):
		return requested, nil
	case requested == UserSubject(id.UserID):
		return requested, nil
	case strings.HasPrefix(requested, "user:"):
		return "", apperr.Forbidden("cannot subscribe to another user's updates")
	}
	return "", apperr.Validation("unknown subject %q", requested)
}

// Handler upgrades an authenticated request and streams updates for the
// subject given in ?subject= (default: the caller's own user subject).
func (h *Hub) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := auth.FromContext(r.Context())
		if !ok {
			response.Error(w, http.StatusUnauthorized, "authentication required", nil)
			return
		}

		subject, err := resolveSubject(id, r.URL.Query().Get("subject"))
		if err != nil {
			response.FromError(w, err)
			return
		}

		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			// Upgrade already wrote the HTTP error
			logger.Warn("websocket upgrade failed: "+err.Error(), logger.FromContext(r.Context(), "ws.upgrade"))
			return
		}

		c := &wsConn{
			id:   uuid.NewString(),
			conn: ws,
			send: make(chan Update, sendBuffer),
			done: make(chan struct{}),
		}
		h.Register(subject, c)

		go c.writeLoop()
		c.readLoop()

		h.Unregister(c.id)
		close(c.done)
	}
}

// readLoop discards client messages and returns when the peer goes away.
func (c *wsConn) readLoop() {
	c.conn.SetReadLimit(512)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (c *wsConn) writeLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case <-c.done:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return
		case u := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteJSON(u); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
