package token

import (
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"

	"github.com/quizdeck/quizdeck/internal/models"
)

func newTestService() *Service {
	return &Service{
		AccessSecret:  []byte("test-access-secret"),
		RefreshSecret: []byte("test-refresh-secret"),
		AccessExpiry:  15 * time.Minute,
		RefreshExpiry: 7 * 24 * time.Hour,
	}
}

func TestAccessTokenRoundTrip(t *testing.T) {
	svc := newTestService()
	user := &models.User{ID: 42, Email: "jane@x.com", Username: "janed"}

	raw, exp, err := svc.IssueAccessToken(user)
	require.NoError(t, err)
	require.NotEmpty(t, raw)
	require.WithinDuration(t, time.Now().Add(svc.AccessExpiry), exp, 5*time.Second)

	claims, err := svc.ParseAccessToken(raw)
	require.NoError(t, err)
	require.Equal(t, "42", claims.Subject)
	require.Equal(t, "jane@x.com", claims.Email)
	require.Equal(t, "janed", claims.Username)

	id, err := UserID(claims.Subject)
	require.NoError(t, err)
	require.Equal(t, uint(42), id)
}

func TestRefreshTokenRoundTrip(t *testing.T) {
	svc := newTestService()

	raw, _, err := svc.IssueRefreshToken(7)
	require.NoError(t, err)

	claims, err := svc.ParseRefreshToken(raw)
	require.NoError(t, err)
	require.Equal(t, "7", claims.Subject)
	require.NotEmpty(t, claims.ID)

	// Two issues never collide, each carries a fresh jti.
	raw2, _, err := svc.IssueRefreshToken(7)
	require.NoError(t, err)
	require.NotEqual(t, raw, raw2)
}

func TestParseRejectsWrongSecret(t *testing.T) {
	svc := newTestService()
	other := newTestService()
	other.AccessSecret = []byte("some-other-secret")

	raw, _, err := svc.IssueAccessToken(&models.User{ID: 1, Username: "u"})
	require.NoError(t, err)

	_, err = other.ParseAccessToken(raw)
	require.Error(t, err)
}

func TestParseRejectsCrossUse(t *testing.T) {
	svc := newTestService()

	access, _, err := svc.IssueAccessToken(&models.User{ID: 1, Username: "u"})
	require.NoError(t, err)
	refresh, _, err := svc.IssueRefreshToken(1)
	require.NoError(t, err)

	_, err = svc.ParseRefreshToken(access)
	require.Error(t, err)
	_, err = svc.ParseAccessToken(refresh)
	require.Error(t, err)
}

func TestParseRejectsExpired(t *testing.T) {
	svc := newTestService()
	svc.AccessExpiry = -time.Minute

	raw, _, err := svc.IssueAccessToken(&models.User{ID: 1, Username: "u"})
	require.NoError(t, err)

	_, err = svc.ParseAccessToken(raw)
	require.Error(t, err)
	require.True(t, errors.Is(err, jwt.ErrTokenExpired))
}

func TestParseRejectsMalformed(t *testing.T) {
	svc := newTestService()

	_, err := svc.ParseAccessToken("not.a.token")
	require.Error(t, err)

	_, err = UserID("abc")
	require.Error(t, err)
}
