package gsconnector

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

// controlTimeout bounds how long send_control waits for a GS response
// (spec.md §4.F, §5). A var, not a const, so tests can shrink it.
var controlTimeout = 60 * time.Second

// PendingResponse is the one-shot signal a waiting caller blocks on until
// the session's read task resolves its request_id (spec.md §3). Only the
// read task, or failAllPending on disconnect, writes data/err; only the call
// initiator deletes the entry from the session's pending map.
type PendingResponse struct {
	ready chan struct{}
	once  sync.Once
	data  json.RawMessage
	err   json.RawMessage
}

func newPendingResponse() *PendingResponse {
	return &PendingResponse{ready: make(chan struct{})}
}

// resolve sets the result and fires ready exactly once.
func (p *PendingResponse) resolve(data, errPayload json.RawMessage) {
	p.once.Do(func() {
		p.data = data
		p.err = errPayload
		close(p.ready)
	})
}

// outboxItem is one entry of a session's FIFO outbox.
type outboxItem struct {
	requestID   string
	dict        json.RawMessage // set for a dict payload
	framed      *FramedContent  // set for a framed payload
	proxyHeader *ProxyHeader
}

// Session is the per-connection state for one ground station (spec.md §3).
// It exclusively owns its outbox and pending map.
type Session struct {
	ID   string
	Name string

	conn *websocket.Conn
	log  *logrus.Entry

	outbox chan outboxItem

	mu      sync.Mutex
	pending map[string]*PendingResponse
	busy    bool

	termMu    sync.Mutex
	terminals map[string]*Terminal // keyed by terminal id, owned by this session

	closeOnce sync.Once
	closed    chan struct{}
}

func newSession(id, name string, conn *websocket.Conn, log *logrus.Entry) *Session {
	return &Session{
		ID:        id,
		Name:      name,
		conn:      conn,
		log:       log.WithFields(logrus.Fields{"component": "gs-session", "gs_id": id}),
		outbox:    make(chan outboxItem, 64),
		pending:   make(map[string]*PendingResponse),
		terminals: make(map[string]*Terminal),
		closed:    make(chan struct{}),
	}
}

// acquireBusy atomically claims the session's single control-call slot.
func (s *Session) acquireBusy() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.busy {
		return false
	}
	s.busy = true
	return true
}

func (s *Session) releaseBusy() {
	s.mu.Lock()
	s.busy = false
	s.mu.Unlock()
}

func (s *Session) registerPending(requestID string) *PendingResponse {
	p := newPendingResponse()
	s.mu.Lock()
	s.pending[requestID] = p
	s.mu.Unlock()
	return p
}

func (s *Session) deletePending(requestID string) {
	s.mu.Lock()
	delete(s.pending, requestID)
	s.mu.Unlock()
}

func (s *Session) resolvePending(requestID string, data, errPayload json.RawMessage) bool {
	s.mu.Lock()
	p, ok := s.pending[requestID]
	s.mu.Unlock()
	if !ok {
		return false
	}
	p.resolve(data, errPayload)
	return true
}

// failAllPending resolves every outstanding pending response with a
// connection-lost error, so waiting callers never hang past a disconnect.
func (s *Session) failAllPending(reason string) {
	s.mu.Lock()
	pending := s.pending
	s.pending = make(map[string]*PendingResponse)
	s.mu.Unlock()

	errPayload, _ := json.Marshal(map[string]string{"details": reason})
	for _, p := range pending {
		p.resolve(nil, errPayload)
	}
}

func (s *Session) addTerminal(t *Terminal) {
	s.termMu.Lock()
	s.terminals[t.ID] = t
	s.termMu.Unlock()
}

func (s *Session) removeTerminal(id string) {
	s.termMu.Lock()
	delete(s.terminals, id)
	s.termMu.Unlock()
}

// closeAllTerminals tears down every terminal owned by this session, as
// required on disconnect (spec.md §3, §4.F).
func (s *Session) closeAllTerminals() {
	s.termMu.Lock()
	terms := make([]*Terminal, 0, len(s.terminals))
	for _, t := range s.terminals {
		terms = append(terms, t)
	}
	s.terminals = make(map[string]*Terminal)
	s.termMu.Unlock()

	for _, t := range terms {
		t.closeAll()
	}
}
