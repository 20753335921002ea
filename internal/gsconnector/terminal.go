package gsconnector

import (
	"encoding/json"
	"sync"

	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"
)

// termClient is one WebSocket operator connected to a Terminal.
type termClient struct {
	conn   *websocket.Conn
	userID string
	writer bool

	mu sync.Mutex // serializes writes to conn, gorilla/websocket requires this
}

func (c *termClient) send(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteJSON(v)
}

// Terminal is a multiplexed interactive terminal GS-side, fanned out to
// zero-or-more operator WebSocket clients (spec.md §3, §4.F).
type Terminal struct {
	GSID     string
	ID       string
	Name     string
	ReadOnly bool

	mu      sync.Mutex
	writer  *termClient
	clients map[*termClient]bool
}

func newTerminal(gsID, id, name string, readOnly bool) *Terminal {
	return &Terminal{
		GSID:     gsID,
		ID:       id,
		Name:     name,
		ReadOnly: readOnly,
		clients:  make(map[*termClient]bool),
	}
}

// attach connects client to the terminal. If wantWrite is true and the
// terminal is not read-only and has no current writer, the client becomes
// the writer; otherwise it is attached read-only (spec.md §4.F RW
// exclusivity).
func (t *Terminal) attach(c *termClient, wantWrite bool) (grantedWrite bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if wantWrite && !t.ReadOnly && t.writer == nil {
		t.writer = c
		c.writer = true
		grantedWrite = true
	} else {
		c.writer = false
	}
	t.clients[c] = true
	return grantedWrite
}

func (t *Terminal) detach(c *termClient) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.clients, c)
	if t.writer == c {
		t.writer = nil
	}
}

func (t *Terminal) isWriter(c *termClient) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.writer == c
}

func (t *Terminal) snapshotClients() []*termClient {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]*termClient, 0, len(t.clients))
	for c := range t.clients {
		out = append(out, c)
	}
	return out
}

// broadcast fans v out to every connected client concurrently and blocks
// until every send has settled, per the §5 concurrency model ("the
// broadcaster waits for all to settle before returning").
func (t *Terminal) broadcast(v any) {
	var g errgroup.Group
	for _, c := range t.snapshotClients() {
		c := c
		g.Go(func() error {
			return c.send(v)
		})
	}
	_ = g.Wait() // per-client send errors are not fatal to the broadcast
}

// closeAll disconnects every client, closing their underlying connections.
func (t *Terminal) closeAll() {
	for _, c := range t.snapshotClients() {
		c.conn.Close()
	}
}

// stdout broadcasts a GS-originated response payload to every client,
// tagging it direction:"output" (spec.md §6).
func (t *Terminal) stdout(response json.RawMessage) {
	t.broadcast(map[string]any{
		"direction": "output",
		"response":  json.RawMessage(response),
	})
}

// echoInput broadcasts an operator's stdin to every connected client,
// tagged direction:"input" (spec.md §6).
func (t *Terminal) echoInput(author, content string) {
	t.broadcast(terminalEcho{Direction: "input", Author: author, Content: content})
}
