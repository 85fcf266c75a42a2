package handlers

import (
	"bytes"
	"encoding/json"
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
	if err := db.AutoMigrate(&models.User{}, &models.Quiz{}, &models.Question{}, &models.Attempt{}, &models.Answer{}); err != nil {
		t.Fatalf("failed to migrate tables: %v", err)
	}
	return db
}

func newTestTokens() *token.Service {
	return &token.Service{
		AccessSecret:  []byte("test-access-secret"),
		RefreshSecret: []byte("test-refresh-secret"),
		AccessExpiry:  15 * time.Minute,
		RefreshExpiry: 7 * 24 * time.Hour,
	}
}

type testEnv struct {
	T    *testing.T
	E    *echo.Echo
	DB   *gorm.DB
	Auth *AuthHandler
	Quiz *QuizHandler
}

func newTestEnv(t *testing.T) *testEnv {
	db := initTestDB(t)
	tokens := newTestTokens()
	return &testEnv{
		T:    t,
		E:    echo.New(),
		DB:   db,
		Auth: &AuthHandler{DB: db, Tokens: tokens},
		Quiz: &QuizHandler{DB: db},
	}
}

func (env *testEnv) doJSONRequest(method, path string, body interface{}, cookies ...*http.Cookie) (*httptest.ResponseRecorder, echo.Context) {
	var buf bytes.Buffer
	if body != nil {
		require.NoError(env.T, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	for _, ck := range cookies {
		req.AddCookie(ck)
	}
	rec := httptest.NewRecorder()
	c := env.E.NewContext(req, rec)
	return rec, c
}

func (env *testEnv) register(fullName, email, username, password string) models.User {
	payload := map[string]string{
		"fullName": fullName,
		"email":    email,
		"username": username,
		"password": password,
	}
	rec, c := env.doJSONRequest(http.MethodPost, "/api/v1/users/register", payload)
	require.NoError(env.T, env.Auth.Register(c))
	require.Equal(env.T, http.StatusCreated, rec.Code)

	var user models.User
	require.NoError(env.T, json.Unmarshal(rec.Body.Bytes(), &user))
	return user
}

type loginResponse struct {
	User         models.User `json:"user"`
	AccessToken  string      `json:"accessToken"`
	RefreshToken string      `json:"refreshToken"`
}

func (env *testEnv) login(usernameOrEmail, password string) (loginResponse, []*http.Cookie) {
	payload := map[string]string{
		"email":    usernameOrEmail,
		"username": usernameOrEmail,
		"password": password,
	}
	rec, c := env.doJSONRequest(http.MethodPost, "/api/v1/users/login", payload)
	require.NoError(env.T, env.Auth.Login(c))
	require.Equal(env.T, http.StatusOK, rec.Code)

	var resp loginResponse
	require.NoError(env.T, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotEmpty(env.T, resp.AccessToken)
	require.NotEmpty(env.T, resp.RefreshToken)
	return resp, rec.Result().Cookies()
}

// currentUser loads the gate-shaped projection for handlers that expect the
// middleware to have run.
func (env *testEnv) currentUser(id uint) *models.User {
	var user models.User
	err := env.DB.Select("id", "full_name", "email", "username", "created_at", "updated_at").
		Where("id = ?", id).First(&user).Error
	require.NoError(env.T, err)
	return &user
}

func requireHTTPError(t *testing.T, err error, code int) *echo.HTTPError {
	t.Helper()
	he, ok := err.(*echo.HTTPError)
	require.True(t, ok, "expected HTTPError, got %v", err)
	require.Equal(t, code, he.Code)
	return he
}

func cookieByName(cookies []*http.Cookie, name string) *http.Cookie {
	for _, ck := range cookies {
		if ck.Name == name {
			return ck
		}
	}
	return nil
}
