package gsconnector

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/discosat/satop-platform/internal/auth"
)

func terminalKey(gsID, termID string) string { return gsID + "/" + termID }

func (h *Hub) registerTerminal(t *Terminal) {
	h.termMu.Lock()
	h.terminals[terminalKey(t.GSID, t.ID)] = t
	h.termMu.Unlock()
}

func (h *Hub) deregisterTerminal(gsID, termID string) {
	h.termMu.Lock()
	delete(h.terminals, terminalKey(gsID, termID))
	h.termMu.Unlock()
}

func (h *Hub) lookupTerminal(gsID, termID string) (*Terminal, bool) {
	h.termMu.RLock()
	defer h.termMu.RUnlock()
	t, ok := h.terminals[terminalKey(gsID, termID)]
	return t, ok
}

// dispatchTerminal handles a GS-originated terminal/* control message
// (spec.md §4.F, §6).
func (h *Hub) dispatchTerminal(s *Session, env inboundEnvelope) {
	switch env.Type {
	case "terminal/open":
		t := newTerminal(s.ID, env.TerminalID, env.TerminalName, env.TerminalRO)
		h.registerTerminal(t)
		s.addTerminal(t)
		s.log.WithFields(logrus.Fields{"terminal_id": env.TerminalID, "read_only": env.TerminalRO}).Info("terminal opened")

	case "terminal/close":
		if t, ok := h.lookupTerminal(s.ID, env.TerminalID); ok {
			t.closeAll()
		}
		h.deregisterTerminal(s.ID, env.TerminalID)
		s.removeTerminal(env.TerminalID)
		s.log.WithField("terminal_id", env.TerminalID).Info("terminal closed")

	case "terminal/stdout":
		if t, ok := h.lookupTerminal(s.ID, env.TerminalID); ok {
			t.stdout(env.Response)
		}

	default:
		s.log.WithField("type", env.Type).Debug("ignoring unrecognized terminal message")
	}
}

// ServeTerminalWebSocket is the `WS /api/gs/terminal/{gs_id}/{term_id}`
// operator attach endpoint (spec.md §4.F, §6).
func (h *Hub) ServeTerminalWebSocket(w http.ResponseWriter, r *http.Request, gsID, termID string) {
	terminal, ok := h.lookupTerminal(gsID, termID)
	if !ok {
		http.Error(w, "terminal not found", http.StatusNotFound)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.WithError(err).Warn("terminal websocket upgrade failed")
		return
	}
	defer conn.Close()

	var hello terminalHello
	if err := conn.ReadJSON(&hello); err != nil {
		conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(1002, "malformed hello"), time.Now().Add(time.Second))
		return
	}
	if hello.Type != terminalConnectRO && hello.Type != terminalConnectRW {
		conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(1002, "unknown hello type"), time.Now().Add(time.Second))
		return
	}

	claims, err := h.auth.Validate(hello.Token, auth.TypeAccess)
	if err != nil {
		conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(3000, "authentication failed"), time.Now().Add(time.Second))
		return
	}

	client := &termClient{conn: conn, userID: claims.Subject}
	wantWrite := hello.Type == terminalConnectRW
	granted := terminal.attach(client, wantWrite)
	defer terminal.detach(client)

	h.log.WithFields(logrus.Fields{
		"gs_id": gsID, "terminal_id": termID, "user": claims.Subject, "writer": granted,
	}).Info("terminal client attached")

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return
		}

		if !terminal.isWriter(client) {
			_ = client.send(map[string]any{"error": 401, "details": "Terminal is read-only"})
			continue
		}

		content := string(raw)
		stdin := map[string]any{
			"type":        "terminal/stdin",
			"terminal_id": termID,
			"content":     content,
		}
		payload, _ := json.Marshal(stdin)
		if session, ok := h.getSession(gsID); ok {
			enqueueDict(session, auth.NewRequestID(), payload, &ProxyHeader{
				Origin:            "terminal client input",
				AuthenticatedUser: claims.Subject,
			})
		}
		terminal.echoInput(claims.Subject, content)
	}
}
