package gsconnector

import (
	"context"
	"encoding/json"
	"time"

	"github.com/discosat/satop-platform/internal/apierror"
	"github.com/discosat/satop-platform/internal/auth"
)

func enqueueDict(s *Session, requestID string, data json.RawMessage, proxyHeader *ProxyHeader) {
	s.outbox <- outboxItem{requestID: requestID, dict: data, proxyHeader: proxyHeader}
}

func enqueueFramed(s *Session, requestID string, content FramedContent, proxyHeader *ProxyHeader) {
	s.outbox <- outboxItem{requestID: requestID, framed: &content, proxyHeader: proxyHeader}
}

// SendControl implements the send_control contract of spec.md §4.F: at most
// one concurrent control call per session, a 60s wait for the GS response,
// and a guaranteed release of the busy slot on every exit path.
func (h *Hub) SendControl(ctx context.Context, gsID string, data json.RawMessage, proxyHeader *ProxyHeader) (json.RawMessage, error) {
	session, ok := h.getSession(gsID)
	if !ok {
		return nil, apierror.ServiceUnavailable("groundstation %s is not connected", gsID)
	}
	return h.sendControl(ctx, session, func(requestID string) {
		enqueueDict(session, requestID, data, proxyHeader)
	})
}

// SendControlFramed is SendControl for a FramedContent payload (spec.md
// §4.F "Framed control endpoint").
func (h *Hub) SendControlFramed(ctx context.Context, gsID string, content FramedContent, proxyHeader *ProxyHeader) (json.RawMessage, error) {
	session, ok := h.getSession(gsID)
	if !ok {
		return nil, apierror.ServiceUnavailable("groundstation %s is not connected", gsID)
	}
	return h.sendControl(ctx, session, func(requestID string) {
		enqueueFramed(session, requestID, content, proxyHeader)
	})
}

func (h *Hub) sendControl(ctx context.Context, session *Session, enqueue func(requestID string)) (json.RawMessage, error) {
	if !session.acquireBusy() {
		return nil, apierror.ServiceUnavailable("groundstation %s is busy", session.ID)
	}
	defer session.releaseBusy()

	requestID := auth.NewRequestID()
	pending := session.registerPending(requestID)
	defer session.deletePending(requestID)

	enqueue(requestID)

	timer := time.NewTimer(controlTimeout)
	defer timer.Stop()

	select {
	case <-pending.ready:
		if len(pending.err) > 0 && string(pending.err) != "null" {
			return nil, apierror.UpstreamError("groundstation returned an error: %s", string(pending.err))
		}
		return pending.data, nil

	case <-timer.C:
		return nil, apierror.UpstreamError("groundstation %s timed out", session.ID)

	case <-ctx.Done():
		return nil, apierror.UpstreamError("request canceled: %v", ctx.Err())
	}
}
