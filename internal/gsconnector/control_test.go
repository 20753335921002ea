package gsconnector

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/discosat/satop-platform/internal/auth"
)

// TestFramedControlPreservesFrameOrder exercises the FramedContent wire
// contract of spec.md §4.F/§6: one JSON header naming the frame count,
// followed by exactly that many frames in order.
func TestFramedControlPreservesFrameOrder(t *testing.T) {
	hub, a := newTestHub(t)
	srv := httptest.NewServer(http.HandlerFunc(hub.ServeGSWebSocket))
	defer srv.Close()

	tok, err := a.Mint("u-1", auth.TypeAccess, time.Hour)
	require.NoError(t, err)

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/"
	gsConn := dialGS(t, wsURL, "gs-1", tok)
	defer gsConn.Close()

	received := make(chan []string, 1)
	go func() {
		var header map[string]json.RawMessage
		if err := gsConn.ReadJSON(&header); err != nil {
			return
		}
		var frameCount int
		_ = json.Unmarshal(header["frames"], &frameCount)

		var requestID string
		_ = json.Unmarshal(header["request_id"], &requestID)

		frames := make([]string, 0, frameCount)
		for i := 0; i < frameCount; i++ {
			_, raw, err := gsConn.ReadMessage()
			if err != nil {
				return
			}
			frames = append(frames, string(raw))
		}
		received <- frames

		_ = gsConn.WriteJSON(map[string]any{
			"in_response_to": requestID,
			"data":            map[string]any{"ok": true},
		})
	}()

	first, second, third := "frame-one", "frame-two", "frame-three"
	content := FramedContent{
		Data: json.RawMessage(`{"kind":"upload"}`),
		Frames: []Frame{
			{Text: &first},
			{Text: &second},
			{Text: &third},
		},
	}

	_, err = hub.SendControlFramed(context.Background(), "u-1", content, nil)
	require.NoError(t, err)

	select {
	case frames := <-received:
		require.Equal(t, []string{first, second, third}, frames)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for framed payload")
	}
}

func TestSendControlRejectsUnconnectedStation(t *testing.T) {
	hub, _ := newTestHub(t)
	_, err := hub.SendControl(context.Background(), "ghost-station", json.RawMessage(`{}`), nil)
	require.Error(t, err)
}
