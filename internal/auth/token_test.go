package auth

import (
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/discosat/satop-platform/internal/apierror"
)

func newTestAuth(t *testing.T, clock clockwork.Clock) *Auth {
	t.Helper()
	if clock == nil {
		clock = clockwork.NewFakeClock()
	}
	a, err := New(Config{
		Secret: []byte("unit-test-secret-32-bytes-long!"),
		Store:  newMemStore(),
		Clock:  clock,
		Log:    logrus.NewEntry(logrus.StandardLogger()),
	})
	require.NoError(t, err)
	return a
}

func TestMintValidateRoundTrip(t *testing.T) {
	a := newTestAuth(t, nil)

	tok, err := a.Mint("u-1", TypeAccess, time.Hour)
	require.NoError(t, err)

	claims, err := a.Validate(tok, TypeAccess)
	require.NoError(t, err)
	require.Equal(t, "u-1", claims.Subject)
}

func TestExpiredTokenRejected(t *testing.T) {
	clock := clockwork.NewFakeClock()
	a := newTestAuth(t, clock)

	tok, err := a.Mint("u-1", TypeAccess, time.Millisecond)
	require.NoError(t, err)

	clock.Advance(time.Second)

	_, err = a.Validate(tok, TypeAccess)
	require.Error(t, err)
	require.True(t, apierror.Is(err, apierror.KindExpiredToken))
}

func TestTypeMismatchRejected(t *testing.T) {
	a := newTestAuth(t, nil)

	tok, err := a.Mint("u-1", TypeAccess, time.Hour)
	require.NoError(t, err)

	_, err = a.Validate(tok, TypeRefresh)
	require.Error(t, err)
	require.True(t, apierror.Is(err, apierror.KindInvalidToken))
}

func TestRefreshMintsNewPairForSameSubject(t *testing.T) {
	a := newTestAuth(t, nil)

	refresh, err := a.Mint("u-1", TypeRefresh, time.Hour)
	require.NoError(t, err)

	pair, err := a.Refresh(refresh)
	require.NoError(t, err)

	claims, err := a.Validate(pair.AccessToken, TypeAccess)
	require.NoError(t, err)
	require.Equal(t, "u-1", claims.Subject)
}

func TestMintRequiresSubAndType(t *testing.T) {
	a := newTestAuth(t, nil)

	_, err := a.Mint("", TypeAccess, time.Hour)
	require.Error(t, err)

	_, err = a.Mint("u-1", "", time.Hour)
	require.Error(t, err)
}

func TestMalformedTokenIsInvalid(t *testing.T) {
	a := newTestAuth(t, nil)

	_, err := a.Validate("not-a-jwt", TypeAccess)
	require.Error(t, err)
	require.True(t, apierror.Is(err, apierror.KindInvalidToken))
}
