package auth

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTestModeBypassParsesNameAndScopes(t *testing.T) {
	t.Setenv("SATOP_ENABLE_TEST_AUTH", "1")
	a := newTestAuth(t, nil)

	claims, err := a.Validate("alice;satop.auth.*,other.scope", TypeAccess)
	require.NoError(t, err)
	require.Equal(t, testModeFixedSub, claims.Subject)

	scopes, err := a.entityScopes(nil, testModeFixedSub) //nolint:staticcheck // ctx unused by test-mode lookup
	require.NoError(t, err)
	require.Contains(t, scopes, Scope("satop.auth.*"))
	require.Contains(t, scopes, Scope("other.scope"))
}

func TestTestModeBypassDisabledByDefault(t *testing.T) {
	a := newTestAuth(t, nil)

	_, err := a.Validate("alice;satop.auth.*", TypeAccess)
	require.Error(t, err)
}
