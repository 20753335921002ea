package gsconnector

import (
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

func testLog() *logrus.Entry {
	return logrus.NewEntry(logrus.StandardLogger())
}

func TestTerminalAttachGrantsSingleWriter(t *testing.T) {
	term := newTerminal("gs-1", "t-1", "console", false)

	alice := &termClient{userID: "alice"}
	bob := &termClient{userID: "bob"}

	require.True(t, term.attach(alice, true))
	require.False(t, term.attach(bob, true), "writer slot already taken")
	require.True(t, term.isWriter(alice))
	require.False(t, term.isWriter(bob))

	require.Len(t, term.snapshotClients(), 2)
}

func TestTerminalDetachFreesWriterSlot(t *testing.T) {
	term := newTerminal("gs-1", "t-1", "console", false)

	alice := &termClient{userID: "alice"}
	bob := &termClient{userID: "bob"}

	require.True(t, term.attach(alice, true))
	term.detach(alice)

	require.True(t, term.attach(bob, true), "writer slot must free up after detach")
}

func TestTerminalReadOnlyRejectsWriteRequest(t *testing.T) {
	term := newTerminal("gs-1", "t-1", "console", true)

	alice := &termClient{userID: "alice"}
	require.False(t, term.attach(alice, true), "read-only terminal grants no writer")
	require.False(t, term.isWriter(alice))
}

func TestSessionBusySlotIsExclusive(t *testing.T) {
	s := newSession("gs-1", "station", nil, testLog())

	require.True(t, s.acquireBusy())
	require.False(t, s.acquireBusy(), "busy slot already held")

	s.releaseBusy()
	require.True(t, s.acquireBusy())
}

func TestSessionPendingLifecycle(t *testing.T) {
	s := newSession("gs-1", "station", nil, testLog())

	p := s.registerPending("req-1")
	require.NotNil(t, p)

	resolved := s.resolvePending("req-1", []byte(`{"ok":true}`), nil)
	require.True(t, resolved)

	select {
	case <-p.ready:
	default:
		t.Fatal("pending response did not fire ready")
	}

	require.False(t, s.resolvePending("req-unknown", nil, nil))

	s.deletePending("req-1")
	require.False(t, s.resolvePending("req-1", nil, nil))
}

func TestSessionFailAllPendingResolvesEveryWaiter(t *testing.T) {
	s := newSession("gs-1", "station", nil, testLog())

	p1 := s.registerPending("req-1")
	p2 := s.registerPending("req-2")

	s.failAllPending("connection lost")

	for _, p := range []*PendingResponse{p1, p2} {
		select {
		case <-p.ready:
		default:
			t.Fatal("expected pending response to be resolved")
		}
		require.Contains(t, string(p.err), "connection lost")
	}
}
