package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/julienschmidt/httprouter"

	"github.com/discosat/satop-platform/internal/apierror"
	"github.com/discosat/satop-platform/internal/auth"
	"github.com/discosat/satop-platform/internal/gsconnector"
)

type stationSummary struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// listStations is `GET /api/gs/stations` (spec.md §4.G).
func (s *Server) listStations(w http.ResponseWriter, r *http.Request, p httprouter.Params) (jsonResult, error) {
	stations := s.hub.Stations()
	out := make([]stationSummary, len(stations))
	for i, st := range stations {
		out[i] = stationSummary{ID: st.ID, Name: st.Name}
	}
	return ok(out)
}

func originFor(r *http.Request) *gsconnector.ProxyHeader {
	identity, _ := auth.IdentityFromContext(r.Context())
	return &gsconnector.ProxyHeader{
		Origin:            "http control",
		AuthenticatedUser: identity.UserID,
	}
}

// controlStation is `POST /api/gs/stations/{id}/control` (spec.md §4.G):
// forwards the JSON body to the GS and returns its response, or 502/503.
func (s *Server) controlStation(w http.ResponseWriter, r *http.Request, p httprouter.Params) (jsonResult, error) {
	var body json.RawMessage
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		return jsonResult{}, apierror.InvalidCredentials("malformed control body: %v", err)
	}
	data, err := s.hub.SendControl(r.Context(), p.ByName("id"), body, originFor(r))
	if err != nil {
		return jsonResult{}, err
	}
	return ok(json.RawMessage(data))
}

type rawFrame struct {
	Text   *string         `json:"text,omitempty"`
	Binary []byte          `json:"binary,omitempty"`
	JSON   json.RawMessage `json:"json,omitempty"`
}

// controlStationFramed is `POST /api/gs/stations/{id}/control_framed`: the
// `frames` field lists the extra frame payloads, the remaining fields become
// the header data (spec.md §4.F "Framed control endpoint").
func (s *Server) controlStationFramed(w http.ResponseWriter, r *http.Request, p httprouter.Params) (jsonResult, error) {
	raw, err := readAll(r)
	if err != nil {
		return jsonResult{}, apierror.InvalidCredentials("reading control_framed body: %v", err)
	}

	var envelope map[string]json.RawMessage
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return jsonResult{}, apierror.InvalidCredentials("malformed control_framed body: %v", err)
	}

	var frames []rawFrame
	if fr, ok := envelope["frames"]; ok {
		if err := json.Unmarshal(fr, &frames); err != nil {
			return jsonResult{}, apierror.InvalidCredentials("malformed frames field: %v", err)
		}
		delete(envelope, "frames")
	}
	headerData, err := json.Marshal(envelope)
	if err != nil {
		return jsonResult{}, apierror.Internal(err, "re-marshaling control_framed header")
	}

	content := gsconnector.FramedContent{Data: headerData, Frames: make([]gsconnector.Frame, len(frames))}
	for i, f := range frames {
		switch {
		case f.Text != nil:
			content.Frames[i] = gsconnector.Frame{Text: f.Text}
		case f.Binary != nil:
			content.Frames[i] = gsconnector.Frame{Binary: f.Binary}
		default:
			content.Frames[i] = gsconnector.Frame{JSON: f.JSON}
		}
	}

	data, err := s.hub.SendControlFramed(r.Context(), p.ByName("id"), content, originFor(r))
	if err != nil {
		return jsonResult{}, err
	}
	return ok(json.RawMessage(data))
}

// gsWebSocket is `WS /api/gs/ws`: the hello handshake plus duplex loop,
// unauthenticated at the HTTP layer since the hello frame itself carries the
// bearer token (spec.md §4.F, §6).
func (s *Server) gsWebSocket(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
	s.hub.ServeGSWebSocket(w, r)
}

// terminalWebSocket is `WS /api/gs/terminal/{gs_id}/{term_id}`.
func (s *Server) terminalWebSocket(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
	s.hub.ServeTerminalWebSocket(w, r, p.ByName("gs_id"), p.ByName("term_id"))
}
