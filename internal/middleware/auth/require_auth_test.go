package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/quizdeck/quizdeck/internal/models"
	"github.com/quizdeck/quizdeck/internal/token"
)

func initTestDB(t *testing.T) *gorm.DB {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to connect to in-memory db: %v", err)
	}
	if err := db.AutoMigrate(&models.User{}); err != nil {
		t.Fatalf("failed to migrate tables: %v", err)
	}
	return db
}

func newTestGate(t *testing.T) (*Gate, *gorm.DB, *token.Service) {
	db := initTestDB(t)
	tokens := &token.Service{
		AccessSecret:  []byte("test-access-secret"),
		RefreshSecret: []byte("test-refresh-secret"),
		AccessExpiry:  15 * time.Minute,
		RefreshExpiry: 7 * 24 * time.Hour,
	}
	return &Gate{DB: db, Tokens: tokens}, db, tokens
}

func gatedRequest(gate *Gate, decorate func(*http.Request)) (*httptest.ResponseRecorder, error, *models.User) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	if decorate != nil {
		decorate(req)
	}
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	var seen *models.User
	handler := gate.RequireAuth(func(c echo.Context) error {
		seen = CurrentUser(c)
		return c.NoContent(http.StatusOK)
	})
	err := handler(c)
	return rec, err, seen
}

func TestRequireAuthMissingToken(t *testing.T) {
	gate, _, _ := newTestGate(t)

	_, err, _ := gatedRequest(gate, nil)
	he, ok := err.(*echo.HTTPError)
	require.True(t, ok, "expected HTTPError")
	require.Equal(t, http.StatusUnauthorized, he.Code)
}

func TestRequireAuthCookie(t *testing.T) {
	gate, db, tokens := newTestGate(t)

	user := models.User{FullName: "Jane Doe", Email: "jane@x.com", Username: "janed", PasswordHash: "h", RefreshToken: "r"}
	require.NoError(t, db.Create(&user).Error)

	access, _, err := tokens.IssueAccessToken(&user)
	require.NoError(t, err)

	rec, err, seen := gatedRequest(gate, func(req *http.Request) {
		req.AddCookie(&http.Cookie{Name: "accessToken", Value: access})
	})
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, seen)
	require.Equal(t, user.ID, seen.ID)
	require.Equal(t, "janed", seen.Username)

	// Projection excludes credential and refresh state.
	require.Empty(t, seen.PasswordHash)
	require.Empty(t, seen.RefreshToken)
}

func TestRequireAuthBearerHeader(t *testing.T) {
	gate, db, tokens := newTestGate(t)

	user := models.User{FullName: "Jane Doe", Email: "jane@x.com", Username: "janed", PasswordHash: "h"}
	require.NoError(t, db.Create(&user).Error)

	access, _, err := tokens.IssueAccessToken(&user)
	require.NoError(t, err)

	rec, err, seen := gatedRequest(gate, func(req *http.Request) {
		req.Header.Set(echo.HeaderAuthorization, "Bearer "+access)
	})
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, user.ID, seen.ID)
}

func TestRequireAuthExpiredToken(t *testing.T) {
	gate, db, tokens := newTestGate(t)

	user := models.User{FullName: "Jane Doe", Email: "jane@x.com", Username: "janed", PasswordHash: "h"}
	require.NoError(t, db.Create(&user).Error)

	tokens.AccessExpiry = -time.Minute
	access, _, err := tokens.IssueAccessToken(&user)
	require.NoError(t, err)

	_, err, _ = gatedRequest(gate, func(req *http.Request) {
		req.AddCookie(&http.Cookie{Name: "accessToken", Value: access})
	})
	he, ok := err.(*echo.HTTPError)
	require.True(t, ok)
	require.Equal(t, http.StatusUnauthorized, he.Code)
	require.Contains(t, he.Message.(string), "expired")
}

func TestRequireAuthDeletedAccount(t *testing.T) {
	gate, db, tokens := newTestGate(t)

	user := models.User{FullName: "Jane Doe", Email: "jane@x.com", Username: "janed", PasswordHash: "h"}
	require.NoError(t, db.Create(&user).Error)

	access, _, err := tokens.IssueAccessToken(&user)
	require.NoError(t, err)
	require.NoError(t, db.Delete(&models.User{}, user.ID).Error)

	_, err, _ = gatedRequest(gate, func(req *http.Request) {
		req.AddCookie(&http.Cookie{Name: "accessToken", Value: access})
	})
	he, ok := err.(*echo.HTTPError)
	require.True(t, ok)
	require.Equal(t, http.StatusUnauthorized, he.Code)
}

func TestRequireAuthRefreshTokenRejected(t *testing.T) {
	gate, db, tokens := newTestGate(t)

	user := models.User{FullName: "Jane Doe", Email: "jane@x.com", Username: "janed", PasswordHash: "h"}
	require.NoError(t, db.Create(&user).Error)

	refresh, _, err := tokens.IssueRefreshToken(user.ID)
	require.NoError(t, err)

	_, err, _ = gatedRequest(gate, func(req *http.Request) {
		req.AddCookie(&http.Cookie{Name: "accessToken", Value: refresh})
	})
	he, ok := err.(*echo.HTTPError)
	require.True(t, ok)
	require.Equal(t, http.StatusUnauthorized, he.Code)
}
