package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"gorm.io/gorm"

	"github.com/quizdeck/quizdeck/internal/hash"
	"github.com/quizdeck/quizdeck/internal/logging"
	authmw "github.com/quizdeck/quizdeck/internal/middleware/auth"
	"github.com/quizdeck/quizdeck/internal/models"
	"github.com/quizdeck/quizdeck/internal/mykafka"
	"github.com/quizdeck/quizdeck/internal/token"
)

type AuthHandler struct {
	DB       *gorm.DB
	Tokens   *token.Service
	Producer *mykafka.Producer
}

func (h *AuthHandler) publish(c echo.Context, event map[string]any) {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()
	if err := h.Producer.PublishEvent(ctx, "user_events", fmt.Sprint(event["userID"]), event); err != nil {
		logging.FromContext(c.Request().Context()).Error("kafka publish failed", "error", err)
	}
}

// issueTokenPair signs a fresh access/refresh pair and overwrites the
// account's stored refresh token. Only the most recently issued refresh
// token is ever valid: one active session per account.
func (h *AuthHandler) issueTokenPair(ctx context.Context, user *models.User) (access string, accessExp time.Time, refresh string, refreshExp time.Time, err error) {
	access, accessExp, err = h.Tokens.IssueAccessToken(user)
	if err != nil {
		return
	}
	refresh, refreshExp, err = h.Tokens.IssueRefreshToken(user.ID)
	if err != nil {
		return
	}
	err = h.DB.WithContext(ctx).Model(&models.User{}).
		Where("id = ?", user.ID).
		Update("refresh_token", refresh).Error
	return
}

func (h *AuthHandler) Register(c echo.Context) error {
	ctx := c.Request().Context()
	l := logging.FromContext(ctx).With("handler", "auth_register")

	var req struct {
		FullName string `json:"fullName"`
		Email    string `json:"email"`
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid body")
	}

	fullName := strings.TrimSpace(req.FullName)
	email := strings.ToLower(strings.TrimSpace(req.Email))
	username := strings.ToLower(strings.TrimSpace(req.Username))
	if fullName == "" || email == "" || username == "" || strings.TrimSpace(req.Password) == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "all fields are required")
	}

	var existing models.User
	err := h.DB.WithContext(ctx).Where("email = ? OR username = ?", email, username).First(&existing).Error
	if err == nil {
		return echo.NewHTTPError(http.StatusConflict, "user with this email or username already exists")
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return echo.NewHTTPError(http.StatusInternalServerError, "internal server error")
	}

	pwHash, err := hash.HashPassword(req.Password)
	if err != nil {
		l.Error("register failed", "reason", "cannot hash password", "error", err)
		return echo.NewHTTPError(http.StatusInternalServerError, "internal server error")
	}

	user := models.User{
		FullName:     fullName,
		Email:        email,
		Username:     username,
		PasswordHash: pwHash,
	}
	if err := h.DB.WithContext(ctx).Create(&user).Error; err != nil {
		l.Error("register failed", "error", err)
		return echo.NewHTTPError(http.StatusInternalServerError, "internal server error")
	}

	h.publish(c, map[string]any{
		"type":     "user_registered",
		"userID":   user.ID,
		"username": user.Username,
	})

	l.Info("user registered", "userID", user.ID)
	return c.JSON(http.StatusCreated, user)
}

func (h *AuthHandler) Login(c echo.Context) error {
	ctx := c.Request().Context()
	l := logging.FromContext(ctx).With("handler", "auth_login")

	var req struct {
		Email    string `json:"email"`
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid body")
	}

	email := strings.ToLower(strings.TrimSpace(req.Email))
	username := strings.ToLower(strings.TrimSpace(req.Username))
	if email == "" && username == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "email or username is required")
	}

	var user models.User
	err := h.DB.WithContext(ctx).
		Where("(email = ? AND email <> '') OR (username = ? AND username <> '')", email, username).
		First(&user).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "user not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, "internal server error")
	}

	if !hash.CheckPassword(user.PasswordHash, req.Password) {
		l.Warn("login failed", "userID", user.ID, "reason", "bad password")
		return echo.NewHTTPError(http.StatusUnauthorized, "invalid credentials")
	}

	access, accessExp, refresh, refreshExp, err := h.issueTokenPair(ctx, &user)
	if err != nil {
		l.Error("login failed", "userID", user.ID, "error", err)
		return echo.NewHTTPError(http.StatusInternalServerError, "internal server error")
	}

	c.SetCookie(CreateCookie("accessToken", access, "/", accessExp))
	c.SetCookie(CreateCookie("refreshToken", refresh, "/", refreshExp))

	h.publish(c, map[string]any{
		"type":     "user_logged_in",
		"userID":   user.ID,
		"username": user.Username,
	})

	l.Info("login successful", "userID", user.ID)
	return c.JSON(http.StatusOK, echo.Map{
		"user":         user,
		"accessToken":  access,
		"refreshToken": refresh,
	})
}

// LogOut clears the stored refresh token. Clearing an already-absent token
// is still a success.
func (h *AuthHandler) LogOut(c echo.Context) error {
	ctx := c.Request().Context()
	user := authmw.CurrentUser(c)

	err := h.DB.WithContext(ctx).Model(&models.User{}).
		Where("id = ?", user.ID).
		Update("refresh_token", "").Error
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "internal server error")
	}

	c.SetCookie(DeleteCookie("accessToken", "/"))
	c.SetCookie(DeleteCookie("refreshToken", "/"))

	return c.JSON(http.StatusOK, echo.Map{"message": "logged out"})
}

func (h *AuthHandler) Refresh(c echo.Context) error {
	ctx := c.Request().Context()
	l := logging.FromContext(ctx).With("handler", "auth_refresh")

	incoming := ""
	if ck, err := c.Cookie("refreshToken"); err == nil {
		incoming = ck.Value
	}
	if incoming == "" {
		var req struct {
			RefreshToken string `json:"refreshToken"`
		}
		if err := c.Bind(&req); err == nil {
			incoming = req.RefreshToken
		}
	}
	if incoming == "" {
		return echo.NewHTTPError(http.StatusUnauthorized, "unauthorized request")
	}

	claims, err := h.Tokens.ParseRefreshToken(incoming)
	if err != nil {
		return echo.NewHTTPError(http.StatusUnauthorized, "invalid refresh token: "+err.Error())
	}

	userID, err := token.UserID(claims.Subject)
	if err != nil {
		return echo.NewHTTPError(http.StatusUnauthorized, "invalid refresh token")
	}

	var user models.User
	if err := h.DB.WithContext(ctx).Where("id = ?", userID).First(&user).Error; err != nil {
		return echo.NewHTTPError(http.StatusUnauthorized, "invalid refresh token")
	}

	// Rotation check: a token superseded by a newer login/refresh no longer
	// matches the stored value and is rejected even if well-formed.
	if incoming != user.RefreshToken {
		l.Warn("refresh token reuse detected", "userID", user.ID)
		return echo.NewHTTPError(http.StatusUnauthorized, "refresh token is expired or used")
	}

	access, accessExp, refresh, refreshExp, err := h.issueTokenPair(ctx, &user)
	if err != nil {
		l.Error("refresh failed", "userID", user.ID, "error", err)
		return echo.NewHTTPError(http.StatusInternalServerError, "internal server error")
	}

	c.SetCookie(CreateCookie("accessToken", access, "/", accessExp))
	c.SetCookie(CreateCookie("refreshToken", refresh, "/", refreshExp))

	return c.JSON(http.StatusOK, echo.Map{
		"accessToken":  access,
		"refreshToken": refresh,
	})
}

func (h *AuthHandler) ChangePassword(c echo.Context) error {
	ctx := c.Request().Context()
	user := authmw.CurrentUser(c)

	var req struct {
		OldPassword string `json:"oldPassword"`
		NewPassword string `json:"newPassword"`
	}
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid body")
	}
	if strings.TrimSpace(req.NewPassword) == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "new password is required")
	}

	// The gate's projection has no credential fields, reload them.
	var stored models.User
	if err := h.DB.WithContext(ctx).Where("id = ?", user.ID).First(&stored).Error; err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "internal server error")
	}

	if !hash.CheckPassword(stored.PasswordHash, req.OldPassword) {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid old password")
	}

	pwHash, err := hash.HashPassword(req.NewPassword)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "internal server error")
	}

	// Dedicated column update: the hash is rewritten here and on register,
	// never as a side effect of other saves.
	err = h.DB.WithContext(ctx).Model(&models.User{}).
		Where("id = ?", user.ID).
		Update("password_hash", pwHash).Error
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "internal server error")
	}

	return c.JSON(http.StatusOK, echo.Map{"message": "password changed successfully"})
}

// CurrentUser returns the identity the gate attached. The gate reads a
// fresh projection on every request, so no second lookup happens here.
func (h *AuthHandler) CurrentUser(c echo.Context) error {
	return c.JSON(http.StatusOK, authmw.CurrentUser(c))
}

func (h *AuthHandler) UpdateAccount(c echo.Context) error {
	ctx := c.Request().Context()
	user := authmw.CurrentUser(c)

	var req struct {
		FullName string `json:"fullName"`
		Email    string `json:"email"`
	}
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid body")
	}

	fullName := strings.TrimSpace(req.FullName)
	email := strings.ToLower(strings.TrimSpace(req.Email))
	if fullName == "" && email == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "fullName or email is required")
	}

	updates := map[string]any{}
	if fullName != "" {
		updates["full_name"] = fullName
	}
	if email != "" {
		var other models.User
		err := h.DB.WithContext(ctx).Where("email = ? AND id <> ?", email, user.ID).First(&other).Error
		if err == nil {
			return echo.NewHTTPError(http.StatusConflict, "email already in use")
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return echo.NewHTTPError(http.StatusInternalServerError, "internal server error")
		}
		updates["email"] = email
	}

	if err := h.DB.WithContext(ctx).Model(&models.User{}).Where("id = ?", user.ID).Updates(updates).Error; err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "internal server error")
	}

	var updated models.User
	err := h.DB.WithContext(ctx).
		Select("id", "full_name", "email", "username", "created_at", "updated_at").
		Where("id = ?", user.ID).
		First(&updated).Error
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "internal server error")
	}

	return c.JSON(http.StatusOK, updated)
}

type attemptHistoryRow struct {
	ID          uint      `json:"id"`
	QuizID      uint      `json:"quizId"`
	Title       string    `json:"quizTitle"`
	Description string    `json:"quizDescription"`
	Score       int       `json:"score"`
	CompletedAt time.Time `json:"completedAt"`
}

func (h *AuthHandler) QuizHistory(c echo.Context) error {
	ctx := c.Request().Context()
	user := authmw.CurrentUser(c)

	var rows []attemptHistoryRow
	err := h.DB.WithContext(ctx).
		Table("attempts").
		Select("attempts.id, attempts.quiz_id, quizzes.title, quizzes.description, attempts.score, attempts.completed_at").
		Joins("JOIN quizzes ON quizzes.id = attempts.quiz_id").
		Where("attempts.user_id = ?", user.ID).
		Order("attempts.created_at DESC").
		Scan(&rows).Error
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "internal server error")
	}

	return c.JSON(http.StatusOK, rows)
}
