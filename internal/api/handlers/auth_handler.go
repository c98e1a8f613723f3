package handlers

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"
	"zyphon/internal/pkg/errors"
	"zyphon/internal/pkg/validator"
	"zyphon/internal/platform/auth"
	"zyphon/internal/platform/models"
)

type UserStore interface {
	GetByEmail(ctx context.Context, email string) (*models.User, error)
	UpdateLastLogin(ctx context.Context, userID string, timestamp int64) error
}

type AuthHandler struct {
	users    UserStore
	tokenSvc *auth.TokenService
	tokenTTL time.Duration
	logger   zerolog.Logger
}

func NewAuthHandler(users UserStore, tokenSvc *auth.TokenService, tokenTTL time.Duration, logger zerolog.Logger) *AuthHandler {
	return &AuthHandler{
		users:    users,
		tokenSvc: tokenSvc,
		tokenTTL: tokenTTL,
		logger:   logger.With().Str("component", "auth").Logger(),
	}
}

type LoginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

type LoginResponse struct {
	AccessToken string       `json:"access_token"`
	TokenType   string       `json:"token_type"`
	ExpiresIn   int64        `json:"expires_in"`
	User        *models.User `json:"user"`
}

func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 16<<10)

	var req LoginRequest
	if err := validator.Decode(r, &req); err != nil {
		errors.Write(w, err)
		return
	}
	email := strings.ToLower(strings.TrimSpace(req.Email))

	user, err := h.users.GetByEmail(r.Context(), email)
	if err != nil {
		h.logger.Error().Err(err).Msg("load user failed")
		errors.WriteError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if user == nil {
		errors.WriteError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)); err != nil {
		errors.WriteError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}

	accessToken, err := h.tokenSvc.GenerateAccessToken(user.ID, user.Role, user.Email)
	if err != nil {
		h.logger.Error().Err(err).Msg("sign access token failed")
		errors.WriteError(w, http.StatusInternalServerError, "internal error")
		return
	}

	if err := h.users.UpdateLastLogin(r.Context(), user.ID, time.Now().Unix()); err != nil {
		h.logger.Warn().Err(err).Str("user_id", user.ID).Msg("update last login failed")
	}

	h.logger.Info().Str("user_id", user.ID).Str("role", user.Role).Msg("login")

	errors.WriteJSON(w, http.StatusOK, LoginResponse{
		AccessToken: accessToken,
		TokenType:   "Bearer",
		ExpiresIn:   int64(h.tokenTTL.Seconds()),
		User:        user,
	})
}
