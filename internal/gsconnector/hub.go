package gsconnector

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/discosat/satop-platform/internal/apierror"
	"github.com/discosat/satop-platform/internal/auth"
)

var sessionGauge = prometheus.NewGauge(prometheus.GaugeOpts{
	Name: "satop_gs_sessions",
	Help: "Number of currently connected ground station sessions.",
})

func init() {
	prometheus.MustRegister(sessionGauge)
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Hub is the process-wide groundstation session and terminal registry
// (spec.md §4.F, §5 "Session registry and terminal registry are
// process-wide maps").
type Hub struct {
	auth *auth.Auth
	log  *logrus.Entry

	mu       sync.RWMutex
	sessions map[string]*Session

	termMu    sync.RWMutex
	terminals map[string]*Terminal // keyed by gs_id + "/" + terminal_id
}

// NewHub constructs a Hub. a is used to validate the hello handshake's
// bearer token.
func NewHub(a *auth.Auth, log *logrus.Entry) *Hub {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Hub{
		auth:      a,
		log:       log.WithField("component", "gs-hub"),
		sessions:  make(map[string]*Session),
		terminals: make(map[string]*Terminal),
	}
}

// Stations lists the currently connected ground stations.
func (h *Hub) Stations() []struct{ ID, Name string } {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]struct{ ID, Name string }, 0, len(h.sessions))
	for _, s := range h.sessions {
		out = append(out, struct{ ID, Name string }{ID: s.ID, Name: s.Name})
	}
	return out
}

func (h *Hub) getSession(id string) (*Session, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	s, ok := h.sessions[id]
	return s, ok
}

func (h *Hub) registerSession(s *Session) {
	h.mu.Lock()
	h.sessions[s.ID] = s
	h.mu.Unlock()
	sessionGauge.Inc()
}

func (h *Hub) deregisterSession(id string) {
	h.mu.Lock()
	delete(h.sessions, id)
	h.mu.Unlock()
	sessionGauge.Dec()
}

// ServeGSWebSocket is the `WS /api/gs/ws` endpoint: the hello handshake
// followed by the read/write duplex loop (spec.md §4.F, §6).
func (h *Hub) ServeGSWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.WithError(err).Warn("gs websocket upgrade failed")
		return
	}

	session, err := h.handshake(conn)
	if err != nil {
		h.log.WithError(err).Warn("gs hello handshake failed")
		return
	}

	h.registerSession(session)
	h.log.WithField("gs_id", session.ID).Info("groundstation session established")

	h.runDuplex(session)

	h.deregisterSession(session.ID)
	session.closeAllTerminals()
	session.failAllPending("groundstation disconnected")
	h.log.WithField("gs_id", session.ID).Info("groundstation session closed")
}

func (h *Hub) handshake(conn *websocket.Conn) (*Session, error) {
	_, raw, err := conn.ReadMessage()
	if err != nil {
		conn.Close()
		return nil, err
	}

	var hello helloMessage
	if err := json.Unmarshal(raw, &hello); err != nil || hello.Type != "hello" || hello.Name == "" || hello.Token == "" {
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(1002, "malformed hello"), time.Now().Add(time.Second))
		conn.Close()
		return nil, apierror.InvalidToken("malformed hello message")
	}

	claims, err := h.auth.Validate(hello.Token, auth.TypeAccess)
	if err != nil {
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(3000, "authentication failed"), time.Now().Add(time.Second))
		conn.Close()
		return nil, err
	}

	session := newSession(claims.Subject, hello.Name, conn, h.log)

	ack := helloAck{Message: "OK", ID: session.ID}
	if err := conn.WriteJSON(ack); err != nil {
		conn.Close()
		return nil, err
	}

	return session, nil
}

// runDuplex spawns the read and write tasks as a pair via errgroup and
// blocks until either exits, then cancels the other (spec.md §4.F "Duplex
// loop", §5 suspension points).
func (h *Hub) runDuplex(s *Session) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return h.readLoop(ctx, s) })
	g.Go(func() error { return h.writeLoop(ctx, s) })

	_ = g.Wait()
	s.conn.Close()
}

func (h *Hub) readLoop(ctx context.Context, s *Session) error {
	for {
		_, raw, err := s.conn.ReadMessage()
		if err != nil {
			return err
		}

		var env inboundEnvelope
		if err := json.Unmarshal(raw, &env); err != nil {
			s.log.WithError(err).Warn("dropping malformed inbound gs frame")
			continue
		}

		switch {
		case env.InResponseTo != "":
			if !s.resolvePending(env.InResponseTo, env.Data, env.Error) {
				s.log.WithField("request_id", env.InResponseTo).Debug("response to unknown request id, ignoring")
			}
		case strings.HasPrefix(env.Type, "terminal/"):
			h.dispatchTerminal(s, env)
		default:
			s.log.WithField("type", env.Type).Debug("ignoring unrecognized inbound message")
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
	}
}

func (h *Hub) writeLoop(ctx context.Context, s *Session) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case item := <-s.outbox:
			if err := h.writeItem(s, item); err != nil {
				return err
			}
		}
	}
}

func (h *Hub) writeItem(s *Session, item outboxItem) error {
	if item.framed != nil {
		header := outboundFramedHeader{
			RequestID:   item.requestID,
			Frames:      len(item.framed.Frames),
			Data:        item.framed.Data,
			ProxyHeader: item.proxyHeader,
		}
		if err := s.conn.WriteJSON(header); err != nil {
			return err
		}
		for _, f := range item.framed.Frames {
			if err := writeFrame(s.conn, f); err != nil {
				return err
			}
		}
		return nil
	}

	dict := outboundDict{RequestID: item.requestID, Data: item.dict, ProxyHeader: item.proxyHeader}
	return s.conn.WriteJSON(dict)
}

func writeFrame(conn *websocket.Conn, f Frame) error {
	switch {
	case f.Text != nil:
		return conn.WriteMessage(websocket.TextMessage, []byte(*f.Text))
	case f.Binary != nil:
		return conn.WriteMessage(websocket.BinaryMessage, f.Binary)
	default:
		return conn.WriteJSON(f.JSON)
	}
}
