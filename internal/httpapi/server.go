// Package httpapi is the thin outer adapter exposing the core subsystems
// over HTTP: token issuance/refresh, entity/role CRUD, GS listing/control,
// terminal discovery, and artifact upload/download (spec.md §4.G). Routing
// uses an embedded httprouter.Router and handlers that return
// (jsonResult, error), wrapped by withLogin/withScope (raw-body handlers
// return error and are wrapped by withScopeRaw).
package httpapi

import (
	"net/http"

	"github.com/julienschmidt/httprouter"
	"github.com/sirupsen/logrus"

	"github.com/discosat/satop-platform/internal/artifact"
	"github.com/discosat/satop-platform/internal/auth"
	"github.com/discosat/satop-platform/internal/gsconnector"
)

// Scope names required by individual routes (spec.md §4.G, §8 scenario 4).
const (
	scopeEntitiesCreate = "satop.auth.entities.create"
	scopeEntitiesRead   = "satop.auth.entities.read"
	scopeEntitiesUpdate = "satop.auth.entities.update"
	scopeEntitiesDelete = "satop.auth.entities.delete"
	scopeRolesWrite     = "satop.auth.roles.write"
	scopeLogWrite       = "satop.log.write"
	scopeLogRead        = "satop.log.read"
)

// Server is the HTTP surface: an httprouter.Router plus the core subsystem
// handles each route dispatches into.
type Server struct {
	httprouter.Router

	auth      *auth.Auth
	hub       *gsconnector.Hub
	artifacts *artifact.Store
	log       *logrus.Entry
}

// Config collects the core subsystem handles the HTTP surface is a thin
// adapter over.
type Config struct {
	Auth      *auth.Auth
	Hub       *gsconnector.Hub
	Artifacts *artifact.Store
	Log       *logrus.Entry
}

// NewServer builds the routed http.Handler for every contract in spec.md
// §4.G.
func NewServer(cfg Config) http.Handler {
	if cfg.Log == nil {
		cfg.Log = logrus.NewEntry(logrus.StandardLogger())
	}
	s := &Server{
		auth:      cfg.Auth,
		hub:       cfg.Hub,
		artifacts: cfg.Artifacts,
		log:       cfg.Log.WithField("component", "httpapi"),
	}
	s.Router = *httprouter.New()

	s.POST("/api/auth/refresh_token", s.refreshToken)

	s.POST("/api/auth/entities", s.withScope(scopeEntitiesCreate, s.createEntity))
	s.GET("/api/auth/entities", s.withScope(scopeEntitiesRead, s.listEntities))
	s.GET("/api/auth/entities/:id", s.withScope(scopeEntitiesRead, s.getEntity))
	s.PUT("/api/auth/entities/:id", s.withScope(scopeEntitiesUpdate, s.updateEntity))
	s.DELETE("/api/auth/entities/:id", s.withScope(scopeEntitiesDelete, s.deleteEntity))
	s.PUT("/api/auth/roles/:role/scopes", s.withScope(scopeRolesWrite, s.setRoleScopes))

	s.GET("/api/gs/stations", s.withLogin(s.listStations))
	s.POST("/api/gs/stations/:id/control", s.withLogin(s.controlStation))
	s.POST("/api/gs/stations/:id/control_framed", s.withLogin(s.controlStationFramed))
	s.GET("/api/gs/ws", s.gsWebSocket)
	s.GET("/api/gs/terminal/:gs_id/:term_id", s.terminalWebSocket)

	s.POST("/api/log/artifacts", s.withScopeRaw(scopeLogWrite, s.uploadArtifact))
	s.GET("/api/log/artifacts/:sha1", s.withScopeRaw(scopeLogRead, s.downloadArtifact))

	return s
}
