package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/prendiax/backend/internal/auth"
	"github.com/prendiax/backend/internal/users"
	"go.uber.org/zap"
)

type registerRequestPayload struct {
	Name         string `json:"nombre"`
	Email        string `json:"email"`
	Password     string `json:"password"`
	Kind         string `json:"tipo"`
	BusinessName string `json:"nombre_empresa"`
	Category     string `json:"categoria"`
}

type loginRequestPayload struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type providerRequestPayload struct {
	IDToken string `json:"id_token"`
}

type authResponsePayload struct {
	AccessToken string        `json:"access_token"`
	ExpiresIn   int64         `json:"expires_in"`
	TokenType   string        `json:"token_type"`
	User        users.Profile `json:"user"`
}

func (h *httpHandler) handleRegister(c *gin.Context) {
	var request registerRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	user, err := h.users.Register(c.Request.Context(), users.RegisterInput{
		Name:         request.Name,
		Email:        request.Email,
		Password:     request.Password,
		Kind:         request.Kind,
		BusinessName: request.BusinessName,
		Category:     request.Category,
	})
	if err != nil {
		h.respondError(c, err)
		return
	}
	h.completeLogin(c, http.StatusCreated, user)
}

func (h *httpHandler) handleLogin(c *gin.Context) {
	var request loginRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil || strings.TrimSpace(request.Email) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	user, err := h.users.Authenticate(c.Request.Context(), request.Email, request.Password)
	if err != nil {
		h.respondError(c, err)
		return
	}
	h.completeLogin(c, http.StatusOK, user)
}

func (h *httpHandler) handleProviderAuth(provider string) gin.HandlerFunc {
	return func(c *gin.Context) {
		verifier := h.google
		if provider == auth.ProviderApple {
			verifier = h.apple
		}
		if verifier == nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "provider_unavailable"})
			return
		}

		var request providerRequestPayload
		if err := c.ShouldBindJSON(&request); err != nil || strings.TrimSpace(request.IDToken) == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
			return
		}
		claims, err := verifier.Verify(c.Request.Context(), request.IDToken)
		if err != nil {
			h.logger.Warn("provider token verification failed", zap.String("provider", provider), zap.Error(err))
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		user, err := h.users.ResolveProviderUser(c.Request.Context(), claims)
		if err != nil {
			h.respondError(c, err)
			return
		}
		h.completeLogin(c, http.StatusOK, user)
	}
}

func (h *httpHandler) handleLogout(c *gin.Context) {
	http.SetCookie(c.Writer, h.sessions.ClearCookie())
	c.JSON(http.StatusOK, gin.H{"message": "logged_out"})
}

func (h *httpHandler) handleCurrentUser(c *gin.Context) {
	profile, err := h.users.Profile(c.Request.Context(), currentIdentity(c))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, profile)
}

// completeLogin answers with a bearer token for the apps and sets the web session cookie.
func (h *httpHandler) completeLogin(c *gin.Context, status int, user users.User) {
	identity, err := auth.NewIdentity(user.ID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	token, expiresIn, err := h.tokens.IssueAccessToken(identity)
	if err != nil {
		h.logger.Error("failed to issue access token", zap.Int64("user_id", user.ID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "token_issue_failed"})
		return
	}
	cookie, err := h.sessions.IssueCookie(identity, user.Kind)
	if err != nil {
		h.logger.Error("failed to issue session cookie", zap.Int64("user_id", user.ID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "session_issue_failed"})
		return
	}
	http.SetCookie(c.Writer, cookie)

	profile, err := h.users.Profile(c.Request.Context(), identity)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(status, authResponsePayload{
		AccessToken: token,
		ExpiresIn:   expiresIn,
		TokenType:   "Bearer",
		User:        profile,
	})
}
