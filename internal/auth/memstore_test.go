package auth

import (
	"context"
	"sync"

	"github.com/discosat/satop-platform/internal/apierror"
)

// memStore is an in-memory Store used by this package's tests, so unit
// tests don't need a real sqlite file.
type memStore struct {
	mu         sync.Mutex
	entities   map[string]Entity
	roleScopes map[string]map[Scope]bool
	identities map[string]string // providerKey+"\x00"+identity -> entityID
}

func newMemStore() *memStore {
	return &memStore{
		entities:   make(map[string]Entity),
		roleScopes: make(map[string]map[Scope]bool),
		identities: make(map[string]string),
	}
}

func (m *memStore) CreateEntity(ctx context.Context, e Entity) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.entities[e.ID]; exists {
		return apierror.Conflict("entity %s already exists", e.ID)
	}
	m.entities[e.ID] = e
	return nil
}

func (m *memStore) GetEntity(ctx context.Context, id string) (Entity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entities[id]
	if !ok {
		return Entity{}, apierror.NotFound("entity %s not found", id)
	}
	return e, nil
}

func (m *memStore) ListEntities(ctx context.Context) ([]Entity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Entity, 0, len(m.entities))
	for _, e := range m.entities {
		out = append(out, e)
	}
	return out, nil
}

func (m *memStore) UpdateEntity(ctx context.Context, e Entity) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.entities[e.ID]; !ok {
		return apierror.NotFound("entity %s not found", e.ID)
	}
	m.entities[e.ID] = e
	return nil
}

func (m *memStore) DeleteEntity(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.entities[id]; !ok {
		return apierror.NotFound("entity %s not found", id)
	}
	delete(m.entities, id)
	return nil
}

func (m *memStore) SetRoleScopes(ctx context.Context, role string, scopes []Scope) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	set := make(map[Scope]bool, len(scopes))
	for _, s := range scopes {
		set[s] = true
	}
	m.roleScopes[role] = set
	return nil
}

func (m *memStore) ScopesForRoles(ctx context.Context, roles []string) ([]Scope, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	seen := make(map[Scope]bool)
	var out []Scope
	for _, role := range roles {
		for s := range m.roleScopes[role] {
			if !seen[s] {
				seen[s] = true
				out = append(out, s)
			}
		}
	}
	return out, nil
}

func (m *memStore) UpsertIdentifier(ctx context.Context, id AuthenticationIdentifier) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.identities[id.ProviderKey+"\x00"+id.Identity] = id.EntityID
	return nil
}

func (m *memStore) ResolveIdentifier(ctx context.Context, providerKey, identity string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entityID, ok := m.identities[providerKey+"\x00"+identity]
	if !ok {
		return "", apierror.NotFound("no entity for provider %s identity %s", providerKey, identity)
	}
	return entityID, nil
}
