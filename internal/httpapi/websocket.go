package httpapi

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"pkt.systems/coedit/api"
	"pkt.systems/coedit/internal/hub"
)

const (
	wsWriteTimeout = 10 * time.Second
	wsReadLimit    = 4 << 20
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// The session layer fronting this server enforces origin policy.
	CheckOrigin: func(*http.Request) bool { return true },
}

// handleWS upgrades the connection, subscribes it to every topic for the
// lifetime of the socket, and dispatches inbound action frames to the
// service. The write loop is the sole writer on the conn, so broadcast
// frames are never interleaved.
func (h *Handler) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("ws.upgrade_failed", "remote", r.RemoteAddr, "error", err)
		return
	}
	conn.SetReadLimit(wsReadLimit)

	sub := hub.NewSubscriber(h.subBuffer)
	h.hub.Attach(sub)
	h.logger.Info("ws.connect", "conn", sub.ID(), "remote", r.RemoteAddr)

	go h.writeLoop(conn, sub)
	h.readLoop(conn, sub)
}

func (h *Handler) writeLoop(conn *websocket.Conn, sub *hub.Subscriber) {
	for frame := range sub.C() {
		_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
		if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
			h.logger.Debug("ws.write_failed", "conn", sub.ID(), "error", err)
			break
		}
	}
	// Detached by the hub (slow subscriber, shutdown) or write failure;
	// either way the connection is done.
	conn.Close()
}

func (h *Handler) readLoop(conn *websocket.Conn, sub *hub.Subscriber) {
	defer func() {
		h.hub.Detach(sub)
		conn.Close()
		h.logger.Info("ws.disconnect", "conn", sub.ID())
	}()

	for {
		_, frame, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				h.logger.Debug("ws.read_failed", "conn", sub.ID(), "error", err)
			}
			return
		}
		var env api.Envelope
		if err := decodePayload(frame, &env); err != nil {
			h.logger.Warn("ws.bad_frame", "conn", sub.ID(), "error", err)
			continue
		}
		h.dispatch(env, sub)
	}
}

// dispatch routes one inbound action frame. Malformed payloads are logged and
// dropped; they never tear down the connection or the process.
func (h *Handler) dispatch(env api.Envelope, sub *hub.Subscriber) {
	switch env.Action {
	case api.ActionChatSend:
		var msg api.ChatMessage
		if err := decodePayload(env.Payload, &msg); err != nil {
			h.logger.Warn("ws.bad_payload", "action", env.Action, "error", err)
			return
		}
		h.svc.Chat(msg)
	case api.ActionPresence:
		var update api.PresenceUpdate
		if err := decodePayload(env.Payload, &update); err != nil {
			h.logger.Warn("ws.bad_payload", "action", env.Action, "error", err)
			return
		}
		h.svc.Presence(update)
	case api.ActionFileCreate:
		var req api.FileCreateRequest
		if err := decodePayload(env.Payload, &req); err != nil {
			h.logger.Warn("ws.bad_payload", "action", env.Action, "error", err)
			return
		}
		h.svc.CreateFile(req)
	case api.ActionFileDelete:
		var req api.FileDeleteRequest
		if err := decodePayload(env.Payload, &req); err != nil {
			h.logger.Warn("ws.bad_payload", "action", env.Action, "error", err)
			return
		}
		h.svc.DeleteFile(req)
	case api.ActionEdit:
		var req api.EditRequest
		if err := decodePayload(env.Payload, &req); err != nil {
			h.logger.Warn("ws.bad_payload", "action", env.Action, "error", err)
			return
		}
		h.svc.Edit(req)
	default:
		h.logger.Warn("ws.unknown_action", "conn", sub.ID(), "action", env.Action)
	}
}
