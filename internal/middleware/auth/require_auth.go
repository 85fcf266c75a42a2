package auth

import (
	"errors"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"gorm.io/gorm"

	"github.com/quizdeck/quizdeck/internal/models"
	"github.com/quizdeck/quizdeck/internal/token"
)

const userContextKey = "currentUser"

// Gate verifies the access token on protected routes and attaches the
// resolved account to the echo context. It never writes to the store.
type Gate struct {
	DB     *gorm.DB
	Tokens *token.Service
}

func (g *Gate) RequireAuth(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		raw := tokenFromRequest(c)
		if raw == "" {
			return echo.NewHTTPError(http.StatusUnauthorized, "unauthorized request")
		}

		claims, err := g.Tokens.ParseAccessToken(raw)
		if err != nil {
			return echo.NewHTTPError(http.StatusUnauthorized, "invalid access token: "+err.Error())
		}

		userID, err := token.UserID(claims.Subject)
		if err != nil {
			return echo.NewHTTPError(http.StatusUnauthorized, "invalid access token")
		}

		// Projection excludes password_hash and refresh_token.
		var user models.User
		err = g.DB.WithContext(c.Request().Context()).
			Select("id", "full_name", "email", "username", "created_at", "updated_at").
			Where("id = ?", userID).
			First(&user).Error
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid access token")
			}
			return echo.NewHTTPError(http.StatusInternalServerError, "internal server error")
		}

		c.Set(userContextKey, &user)
		return next(c)
	}
}

func tokenFromRequest(c echo.Context) string {
	if ck, err := c.Cookie("accessToken"); err == nil && ck.Value != "" {
		return ck.Value
	}
	authz := c.Request().Header.Get(echo.HeaderAuthorization)
	if strings.HasPrefix(authz, "Bearer ") {
		return strings.TrimPrefix(authz, "Bearer ")
	}
	return ""
}

// CurrentUser returns the account the gate attached, or nil on routes that
// skipped the gate.
func CurrentUser(c echo.Context) *models.User {
	if u, ok := c.Get(userContextKey).(*models.User); ok {
		return u
	}
	return nil
}

// SetCurrentUser exists for handler tests that bypass the middleware.
func SetCurrentUser(c echo.Context, u *models.User) {
	c.Set(userContextKey, u)
}
