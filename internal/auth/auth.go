// Package auth implements the Authorization Core: token lifecycle, entity
// and role management, and wildcard scope matching used as a dependency by
// every other core subsystem (spec.md §4.C).
package auth

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"

	"github.com/discosat/satop-platform/internal/apierror"
)

type ctxKey int

const (
	ctxKeyUserID ctxKey = iota
	ctxKeyClaims
)

// Config configures an Auth instance.
type Config struct {
	Secret         []byte
	Store          Store
	Clock          clockwork.Clock
	Log            *logrus.Entry
	ScopeMatchMode ScopeMatchMode
}

func (c *Config) checkAndSetDefaults() error {
	if len(c.Secret) == 0 {
		return apierror.ServiceUnavailable("token secret is not configured")
	}
	if c.Store == nil {
		return apierror.ServiceUnavailable("entity store is not configured")
	}
	if c.Clock == nil {
		c.Clock = clockwork.NewRealClock()
	}
	if c.Log == nil {
		c.Log = logrus.NewEntry(logrus.StandardLogger())
	}
	return nil
}

// Auth is the Authorization Core. It mints/validates tokens, resolves
// entity scopes, and exposes the require_login / require_scope HTTP
// middleware chain.
type Auth struct {
	tokenCore
	store Store
	mode  ScopeMatchMode

	usedScopesMu sync.Mutex
	usedScopes   map[string]int
}

// New constructs an Auth from cfg.
func New(cfg Config) (*Auth, error) {
	if err := cfg.checkAndSetDefaults(); err != nil {
		return nil, err
	}
	return &Auth{
		tokenCore: tokenCore{
			secret: cfg.Secret,
			clock:  cfg.Clock,
			log:    cfg.Log.WithField("component", "auth"),
		},
		store:      cfg.Store,
		mode:       cfg.ScopeMatchMode,
		usedScopes: make(map[string]int),
	}, nil
}

// TokenPair is the pair returned by Mint/Refresh for a freshly authenticated
// or refreshed session.
type TokenPair struct {
	AccessToken  string
	RefreshToken string
}

// Mint issues a single token of typ for sub. A zero expiresIn applies the
// type's default lifetime; a negative one yields an already-expired token.
func (a *Auth) Mint(sub string, typ TokenType, expiresIn time.Duration) (string, error) {
	var ttl *time.Duration
	if expiresIn != 0 {
		ttl = &expiresIn
	}
	return a.mint(sub, typ, ttl)
}

// MintPair issues a fresh access/refresh pair for sub, used on login and on
// refresh.
func (a *Auth) MintPair(sub string) (TokenPair, error) {
	access, err := a.mint(sub, TypeAccess, nil)
	if err != nil {
		return TokenPair{}, err
	}
	refresh, err := a.mint(sub, TypeRefresh, nil)
	if err != nil {
		return TokenPair{}, err
	}
	return TokenPair{AccessToken: access, RefreshToken: refresh}, nil
}

// Validate verifies a token of the required type.
func (a *Auth) Validate(tokenString string, requireTyp TokenType) (*Claims, error) {
	return a.validate(tokenString, requireTyp)
}

// Refresh validates refreshToken as a refresh token and mints a new
// access/refresh pair for the same subject.
func (a *Auth) Refresh(refreshToken string) (TokenPair, error) {
	claims, err := a.validate(refreshToken, TypeRefresh)
	if err != nil {
		return TokenPair{}, err
	}
	return a.MintPair(claims.Subject)
}

// --- HTTP middleware -------------------------------------------------

// Identity is what require_login attaches to the request context.
type Identity struct {
	UserID string
	Claims *Claims
}

func bearerToken(r *http.Request) (string, bool) {
	h := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if !strings.HasPrefix(h, prefix) {
		return "", false
	}
	return strings.TrimPrefix(h, prefix), true
}

// RequireLogin extracts and validates a bearer access token, attaching the
// resolved Identity to the request context for downstream handlers.
func (a *Auth) RequireLogin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tok, ok := bearerToken(r)
		if !ok {
			writeErr(w, apierror.MissingCredentials("missing bearer token"))
			return
		}
		claims, err := a.Validate(tok, TypeAccess)
		if err != nil {
			writeErr(w, err)
			return
		}
		ctx := context.WithValue(r.Context(), ctxKeyUserID, claims.Subject)
		ctx = context.WithValue(ctx, ctxKeyClaims, claims)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// IdentityFromContext retrieves the Identity attached by RequireLogin.
func IdentityFromContext(ctx context.Context) (Identity, bool) {
	userID, ok := ctx.Value(ctxKeyUserID).(string)
	if !ok {
		return Identity{}, false
	}
	claims, _ := ctx.Value(ctxKeyClaims).(*Claims)
	return Identity{UserID: userID, Claims: claims}, true
}

// RequireScope wraps RequireLogin and additionally enforces that the caller
// holds every scope in needed, under the configured ScopeMatchMode. Every
// call records needed in the process-wide used-scopes multiset.
func (a *Auth) RequireScope(needed ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		loginRequired := a.RequireLogin(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			a.recordUsedScopes(needed)

			identity, _ := IdentityFromContext(r.Context())
			have, err := a.entityScopes(r.Context(), identity.UserID)
			if err != nil {
				writeErr(w, err)
				return
			}

			need := make([]Scope, len(needed))
			for i, n := range needed {
				need[i] = Scope(n)
			}
			if !Accept(have, need, a.mode) {
				writeErr(w, apierror.InsufficientPermissions("missing required scope(s) %v", needed))
				return
			}
			next.ServeHTTP(w, r)
		}))
		return loginRequired
	}
}

func (a *Auth) entityScopes(ctx context.Context, entityID string) ([]Scope, error) {
	if ident, ok := testModeIdentities.Load(entityID); ok {
		tmi := ident.(testModeIdentity)
		scopes := make([]Scope, len(tmi.Scopes))
		for i, s := range tmi.Scopes {
			scopes[i] = Scope(s)
		}
		return scopes, nil
	}
	return a.GetEntityScopes(ctx, entityID)
}

func (a *Auth) recordUsedScopes(needed []string) {
	a.usedScopesMu.Lock()
	defer a.usedScopesMu.Unlock()
	for _, n := range needed {
		a.usedScopes[n]++
	}
}

// UsedScopes returns a snapshot of the process-wide used-scopes multiset,
// for introspection.
func (a *Auth) UsedScopes() map[string]int {
	a.usedScopesMu.Lock()
	defer a.usedScopesMu.Unlock()
	out := make(map[string]int, len(a.usedScopes))
	for k, v := range a.usedScopes {
		out[k] = v
	}
	return out
}

func writeErr(w http.ResponseWriter, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(apierror.Status(err))
	_, _ = w.Write([]byte(`{"error":"` + jsonEscape(err.Error()) + `"}`))
}

func jsonEscape(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch r {
		case '"', '\\':
			b.WriteByte('\\')
			b.WriteRune(r)
		case '\n':
			b.WriteString(`\n`)
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

// --- Entity / role management -----------------------------------------

// CreateEntity persists a new entity. id is caller-supplied (typically a
// fresh UUIDv4) and immutable thereafter.
func (a *Auth) CreateEntity(ctx context.Context, e Entity) error {
	return a.store.CreateEntity(ctx, e)
}

func (a *Auth) GetEntity(ctx context.Context, id string) (Entity, error) {
	return a.store.GetEntity(ctx, id)
}

func (a *Auth) ListEntities(ctx context.Context) ([]Entity, error) {
	return a.store.ListEntities(ctx)
}

func (a *Auth) UpdateEntity(ctx context.Context, e Entity) error {
	return a.store.UpdateEntity(ctx, e)
}

func (a *Auth) DeleteEntity(ctx context.Context, id string) error {
	return a.store.DeleteEntity(ctx, id)
}

// SetRoleScopes re-computes the diff and applies minimal inserts/deletes
// for the given role's scope set.
func (a *Auth) SetRoleScopes(ctx context.Context, role string, scopes []Scope) error {
	return a.store.SetRoleScopes(ctx, role, scopes)
}

// GetEntityScopes joins the entity's roles to the role->scope table and
// returns the union of scope strings (spec.md §4.C get_entity_scopes).
func (a *Auth) GetEntityScopes(ctx context.Context, entityID string) ([]Scope, error) {
	e, err := a.store.GetEntity(ctx, entityID)
	if err != nil {
		return nil, err
	}
	return a.store.ScopesForRoles(ctx, e.Roles)
}

// ResolveIdentifier maps a plugin-supplied (providerKey, identity) pair to
// an entity id, as used by authentication-provider plugins.
func (a *Auth) ResolveIdentifier(ctx context.Context, providerKey, identity string) (string, error) {
	return a.store.ResolveIdentifier(ctx, providerKey, identity)
}

// RegisterIdentifier upserts the (providerKey, identity) -> entityID mapping.
func (a *Auth) RegisterIdentifier(ctx context.Context, id AuthenticationIdentifier) error {
	return a.store.UpsertIdentifier(ctx, id)
}
