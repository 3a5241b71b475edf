package handler

import (
	"net/http"
	"time"

	"github.com/AnTengye/contractforge/config"
	"github.com/AnTengye/contractforge/middleware"
	"github.com/AnTengye/contractforge/pkg/logger"
	"github.com/gin-gonic/gin"
)

type AuthHandler struct {
	config *config.Config
}

func NewAuthHandler(cfg *config.Config) *AuthHandler {
	return &AuthHandler{config: cfg}
}

type LoginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

type LoginResponse struct {
	Token     string `json:"token"`
	ExpiresAt string `json:"expires_at"`
	Username  string `json:"username"`
	Owner     string `json:"owner"`
}

// Login exchanges a configured username and password for a bearer token
func (h *AuthHandler) Login(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request")
		return
	}

	user := h.config.FindUser(req.Username)
	if user == nil || !user.CheckPassword(req.Password) {
		logger.Warn(c.Request.Context(), "login failed", "username", req.Username)
		abortJSON(c, http.StatusUnauthorized, "UNAUTHORIZED", "Invalid username or password")
		return
	}

	token, expiresAt, err := middleware.GenerateToken(user.Username, user.Owner, &h.config.Auth)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, LoginResponse{
		Token:     token,
		ExpiresAt: expiresAt.Format(time.RFC3339),
		Username:  user.Username,
		Owner:     user.Owner,
	})
}

// GetCurrentUser returns the current user info
func (h *AuthHandler) GetCurrentUser(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"username": middleware.GetUsername(c),
		"owner":    middleware.GetOwner(c),
	})
}
