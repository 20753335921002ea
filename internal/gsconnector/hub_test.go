package gsconnector

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/discosat/satop-platform/internal/auth"
)

func newTestHub(t *testing.T) (*Hub, *auth.Auth) {
	t.Helper()
	a, err := auth.New(auth.Config{
		Secret: []byte("unit-test-secret-32-bytes-long!"),
		Store:  newTestStore(),
		Log:    logrus.NewEntry(logrus.StandardLogger()),
	})
	require.NoError(t, err)
	return NewHub(a, logrus.NewEntry(logrus.StandardLogger())), a
}

// testStore is a minimal auth.Store double; gsconnector tests never need
// entities, only token mint/validate.
type testStore struct{}

func newTestStore() *testStore { return &testStore{} }

func (s *testStore) CreateEntity(ctx context.Context, e auth.Entity) error { return nil }
func (s *testStore) GetEntity(ctx context.Context, id string) (auth.Entity, error) {
	return auth.Entity{ID: id}, nil
}
func (s *testStore) ListEntities(ctx context.Context) ([]auth.Entity, error) { return nil, nil }
func (s *testStore) UpdateEntity(ctx context.Context, e auth.Entity) error   { return nil }
func (s *testStore) DeleteEntity(ctx context.Context, id string) error      { return nil }
func (s *testStore) SetRoleScopes(ctx context.Context, role string, scopes []auth.Scope) error {
	return nil
}
func (s *testStore) ScopesForRoles(ctx context.Context, roles []string) ([]auth.Scope, error) {
	return nil, nil
}
func (s *testStore) UpsertIdentifier(ctx context.Context, id auth.AuthenticationIdentifier) error {
	return nil
}
func (s *testStore) ResolveIdentifier(ctx context.Context, providerKey, identity string) (string, error) {
	return "", nil
}

func dialGS(t *testing.T, wsURL, name, token string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	require.NoError(t, conn.WriteJSON(helloMessage{Type: "hello", Name: name, Token: token}))

	var ack helloAck
	require.NoError(t, conn.ReadJSON(&ack))
	require.Equal(t, "OK", ack.Message)
	return conn
}

// TestHappyPathControlRoundTrip exercises the literal round trip from
// spec.md §8: hello handshake, a send_control call, and the GS reply
// resolving it by request_id.
func TestHappyPathControlRoundTrip(t *testing.T) {
	hub, a := newTestHub(t)
	srv := httptest.NewServer(http.HandlerFunc(hub.ServeGSWebSocket))
	defer srv.Close()

	tok, err := a.Mint("u-1", auth.TypeAccess, time.Hour)
	require.NoError(t, err)

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/"
	gsConn := dialGS(t, wsURL, "gs-1", tok)
	defer gsConn.Close()

	go func() {
		var header map[string]json.RawMessage
		if err := gsConn.ReadJSON(&header); err != nil {
			return
		}
		var requestID string
		_ = json.Unmarshal(header["request_id"], &requestID)
		_ = gsConn.WriteJSON(map[string]any{
			"in_response_to": requestID,
			"data":            map[string]any{"pong": 1},
		})
	}()

	data, err := hub.SendControl(context.Background(), "u-1", json.RawMessage(`{"type":"ping"}`), nil)
	require.NoError(t, err)

	var got map[string]any
	require.NoError(t, json.Unmarshal(data, &got))
	require.EqualValues(t, 1, got["pong"])
}

func TestBusyRejectsConcurrentControl(t *testing.T) {
	hub, a := newTestHub(t)
	srv := httptest.NewServer(http.HandlerFunc(hub.ServeGSWebSocket))
	defer srv.Close()

	tok, err := a.Mint("u-1", auth.TypeAccess, time.Hour)
	require.NoError(t, err)

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/"
	gsConn := dialGS(t, wsURL, "gs-1", tok)
	defer gsConn.Close()

	// The GS never replies, so the first call holds the busy slot for the
	// duration of the test; the second call must bounce off busy immediately.
	go func() {
		var raw json.RawMessage
		_ = gsConn.ReadJSON(&raw)
	}()

	go func() {
		_, _ = hub.SendControl(context.Background(), "u-1", json.RawMessage(`{}`), nil)
	}()

	time.Sleep(50 * time.Millisecond) // let the first call claim busy
	_, err = hub.SendControl(context.Background(), "u-1", json.RawMessage(`{}`), nil)
	require.Error(t, err)
}

func TestSendControlTimesOut(t *testing.T) {
	orig := controlTimeout
	controlTimeout = 20 * time.Millisecond
	defer func() { controlTimeout = orig }()

	hub, a := newTestHub(t)
	srv := httptest.NewServer(http.HandlerFunc(hub.ServeGSWebSocket))
	defer srv.Close()

	tok, err := a.Mint("u-1", auth.TypeAccess, time.Hour)
	require.NoError(t, err)

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/"
	gsConn := dialGS(t, wsURL, "gs-1", tok)
	defer gsConn.Close()
	go func() {
		var raw json.RawMessage
		_ = gsConn.ReadJSON(&raw)
	}()

	_, err = hub.SendControl(context.Background(), "u-1", json.RawMessage(`{}`), nil)
	require.Error(t, err)

	// The pending entry must not leak after the timeout fires.
	session, ok := hub.getSession("u-1")
	require.True(t, ok)
	session.mu.Lock()
	pendingCount := len(session.pending)
	session.mu.Unlock()
	require.Zero(t, pendingCount)

	// And the busy slot must have been released too.
	require.True(t, session.acquireBusy())
	session.releaseBusy()
}

func TestHelloWithBadTokenClosesConnection(t *testing.T) {
	hub, _ := newTestHub(t)
	srv := httptest.NewServer(http.HandlerFunc(hub.ServeGSWebSocket))
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.WriteJSON(helloMessage{Type: "hello", Name: "gs-1", Token: "garbage"}))

	_, _, err = conn.ReadMessage()
	require.Error(t, err)
	closeErr, ok := err.(*websocket.CloseError)
	require.True(t, ok)
	require.Equal(t, 3000, closeErr.Code)
}

func TestHelloWithMalformedPayloadCloses(t *testing.T) {
	hub, _ := newTestHub(t)
	srv := httptest.NewServer(http.HandlerFunc(hub.ServeGSWebSocket))
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.WriteJSON(map[string]string{"type": "hello"}))

	_, _, err = conn.ReadMessage()
	require.Error(t, err)
	closeErr, ok := err.(*websocket.CloseError)
	require.True(t, ok)
	require.Equal(t, 1002, closeErr.Code)
}
