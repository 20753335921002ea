package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/google/uuid"
	"github.com/julienschmidt/httprouter"

	"github.com/discosat/satop-platform/internal/apierror"
	"github.com/discosat/satop-platform/internal/auth"
)

// refreshToken is `POST /api/auth/refresh_token` (bearer = refresh token):
// validates the refresh token and mints a fresh access/refresh pair
// (spec.md §4.G).
func (s *Server) refreshToken(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
	h := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if len(h) <= len(prefix) || h[:len(prefix)] != prefix {
		writeErr(w, apierror.MissingCredentials("missing bearer refresh token"))
		return
	}
	pair, err := s.auth.Refresh(h[len(prefix):])
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"access_token":  pair.AccessToken,
		"refresh_token": pair.RefreshToken,
	})
}

type createEntityRequest struct {
	Name  string   `json:"name"`
	Type  string   `json:"type"`
	Roles []string `json:"roles"`
}

func (s *Server) createEntity(w http.ResponseWriter, r *http.Request, p httprouter.Params) (jsonResult, error) {
	var req createEntityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return jsonResult{}, apierror.InvalidCredentials("malformed entity body: %v", err)
	}
	e := auth.Entity{
		ID:    uuid.NewString(),
		Name:  req.Name,
		Type:  auth.EntityType(req.Type),
		Roles: req.Roles,
	}
	if err := s.auth.CreateEntity(r.Context(), e); err != nil {
		return jsonResult{}, err
	}
	return created(e)
}

func (s *Server) listEntities(w http.ResponseWriter, r *http.Request, p httprouter.Params) (jsonResult, error) {
	entities, err := s.auth.ListEntities(r.Context())
	if err != nil {
		return jsonResult{}, err
	}
	return ok(entities)
}

func (s *Server) getEntity(w http.ResponseWriter, r *http.Request, p httprouter.Params) (jsonResult, error) {
	e, err := s.auth.GetEntity(r.Context(), p.ByName("id"))
	if err != nil {
		return jsonResult{}, err
	}
	return ok(e)
}

func (s *Server) updateEntity(w http.ResponseWriter, r *http.Request, p httprouter.Params) (jsonResult, error) {
	var req createEntityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return jsonResult{}, apierror.InvalidCredentials("malformed entity body: %v", err)
	}
	e := auth.Entity{
		ID:    p.ByName("id"),
		Name:  req.Name,
		Type:  auth.EntityType(req.Type),
		Roles: req.Roles,
	}
	if err := s.auth.UpdateEntity(r.Context(), e); err != nil {
		return jsonResult{}, err
	}
	return ok(e)
}

func (s *Server) deleteEntity(w http.ResponseWriter, r *http.Request, p httprouter.Params) (jsonResult, error) {
	if err := s.auth.DeleteEntity(r.Context(), p.ByName("id")); err != nil {
		return jsonResult{}, err
	}
	return noContent()
}

func (s *Server) setRoleScopes(w http.ResponseWriter, r *http.Request, p httprouter.Params) (jsonResult, error) {
	var scopes []string
	if err := json.NewDecoder(r.Body).Decode(&scopes); err != nil {
		return jsonResult{}, apierror.InvalidCredentials("malformed scopes body: %v", err)
	}
	asScopes := make([]auth.Scope, len(scopes))
	for i, sc := range scopes {
		asScopes[i] = auth.Scope(sc)
	}
	if err := s.auth.SetRoleScopes(r.Context(), p.ByName("role"), asScopes); err != nil {
		return jsonResult{}, err
	}
	return ok(map[string]any{"role": p.ByName("role"), "scopes": scopes})
}
