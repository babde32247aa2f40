// Package handler provides HTTP handlers for API endpoints.
package handler

import (
	"net/http"

	"matjip-chat/internal/domain"
	"matjip-chat/internal/events"
	"matjip-chat/internal/services"
	"matjip-chat/internal/transport/httpdto"

	"github.com/gin-gonic/gin"
)

// AuthHandler issues development tokens. Real tokens come from the main app's identity
// provider, so this handler is only routed outside release mode.
type AuthHandler struct {
	service *services.AuthService
}

func NewAuthHandler(service *services.AuthService) *AuthHandler {
	return &AuthHandler{service: service}
}

func (h *AuthHandler) DevToken(c *gin.Context) {
	var req httpdto.DevTokenRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.UserID <= 0 {
		c.JSON(http.StatusBadRequest, httpdto.NewErrorResponse("invalid request", events.CodeInvalidRequest))
		return
	}

	token, expiresIn, err := h.service.IssueToken(domain.User{ID: req.UserID, Name: req.Name})
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, httpdto.NewSuccessResponse(httpdto.TokenResponse{
		AccessToken: token,
		ExpiresIn:   expiresIn,
	}))
}
