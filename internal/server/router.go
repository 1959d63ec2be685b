package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/prendiax/backend/internal/auth"
	"github.com/prendiax/backend/internal/chats"
	"github.com/prendiax/backend/internal/notifications"
	"github.com/prendiax/backend/internal/posts"
	"github.com/prendiax/backend/internal/realtime"
	"github.com/prendiax/backend/internal/users"
	"go.uber.org/zap"
)

const identityContextKey = "prendiax_identity"

var (
	errMissingResolver      = errors.New("identity resolver dependency required")
	errMissingTokenIssuer   = errors.New("token issuer dependency required")
	errMissingSessions      = errors.New("session manager dependency required")
	errMissingUsers         = errors.New("user service dependency required")
	errMissingChats         = errors.New("chat service dependency required")
	errMissingNotifications = errors.New("notification service dependency required")
	errMissingPosts         = errors.New("post service dependency required")
	errMissingRealtime      = errors.New("realtime handler dependency required")
)

// IdentityResolver resolves the caller of a request.
type IdentityResolver interface {
	Resolve(r *http.Request) (auth.Identity, error)
}

// AccessTokenIssuer mints bearer tokens for authenticated users.
type AccessTokenIssuer interface {
	IssueAccessToken(identity auth.Identity) (string, int64, error)
}

// ProviderVerifier verifies Google or Apple id tokens.
type ProviderVerifier interface {
	Verify(ctx context.Context, rawToken string) (auth.ProviderClaims, error)
}

// Dependencies wires the HTTP surface.
type Dependencies struct {
	Resolver       IdentityResolver
	Tokens         AccessTokenIssuer
	Sessions       *auth.SessionManager
	GoogleVerifier ProviderVerifier
	AppleVerifier  ProviderVerifier
	Users          *users.Service
	Chats          *chats.Service
	Notifications  *notifications.Service
	Posts          *posts.Service
	Realtime       *realtime.Handler
	AllowedOrigins []string
	// TrustedProxies lists the proxies whose X-Forwarded-For is honoured; empty trusts none.
	TrustedProxies []string
	ConnectRate    float64
	ConnectBurst   int
	MaxMediaBytes  int64
	Logger         *zap.Logger
}

// NewHTTPHandler builds the gin engine serving the REST API and the realtime channel.
func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	switch {
	case deps.Resolver == nil:
		return nil, errMissingResolver
	case deps.Tokens == nil:
		return nil, errMissingTokenIssuer
	case deps.Sessions == nil:
		return nil, errMissingSessions
	case deps.Users == nil:
		return nil, errMissingUsers
	case deps.Chats == nil:
		return nil, errMissingChats
	case deps.Notifications == nil:
		return nil, errMissingNotifications
	case deps.Posts == nil:
		return nil, errMissingPosts
	case deps.Realtime == nil:
		return nil, errMissingRealtime
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	maxMediaBytes := deps.MaxMediaBytes
	if maxMediaBytes <= 0 {
		maxMediaBytes = chats.DefaultMaxMediaBytes
	}

	router, err := newEngine(deps.TrustedProxies)
	if err != nil {
		return nil, err
	}
	router.Use(gin.Recovery())
	router.Use(corsMiddleware(deps.AllowedOrigins))

	handler := &httpHandler{
		resolver:      deps.Resolver,
		tokens:        deps.Tokens,
		sessions:      deps.Sessions,
		google:        deps.GoogleVerifier,
		apple:         deps.AppleVerifier,
		users:         deps.Users,
		chats:         deps.Chats,
		notifications: deps.Notifications,
		posts:         deps.Posts,
		realtime:      deps.Realtime,
		maxMediaBytes: maxMediaBytes,
		logger:        logger,
	}
	limiter := newConnectLimiter(deps.ConnectRate, deps.ConnectBurst)

	router.POST("/auth/register", handler.handleRegister)
	router.POST("/auth/login", handler.handleLogin)
	router.POST("/auth/google", handler.handleProviderAuth(auth.ProviderGoogle))
	router.POST("/auth/apple", handler.handleProviderAuth(auth.ProviderApple))
	router.POST("/auth/logout", handler.handleLogout)
	router.GET("/ws", limiter.middleware, handler.handleRealtime)
	router.GET("/chats/ws/:user_id", limiter.middleware, handler.handleRealtime)

	protected := router.Group("/")
	protected.Use(handler.authorizeRequest)
	protected.GET("/current_user", handler.handleCurrentUser)
	protected.GET("/chats/user/:user_id", handler.handleUserProfile)
	protected.POST("/devices", handler.handleRegisterDevice)
	protected.POST("/bloqueos", handler.handleBlock)
	protected.DELETE("/bloqueos/:user_id", handler.handleUnblock)

	protected.GET("/chats/list", handler.handleListChats)
	protected.GET("/chats/buscar", handler.handleSearchChats)
	protected.GET("/chats/unread_count", handler.handleChatUnreadCount)
	protected.POST("/chats/iniciar/:user_id", handler.handleStartChat)
	protected.GET("/chats/media/:message_id", handler.handleChatMedia)
	protected.GET("/chats/:chat_id/mensajes", handler.handleConversation)
	protected.POST("/chats/:chat_id/mensaje", handler.handleSendMessage)
	protected.POST("/chats/:chat_id/media", handler.handleSendMedia(chats.UploadVisual))
	protected.POST("/chats/:chat_id/voz", handler.handleSendMedia(chats.UploadVoice))
	protected.POST("/chats/:chat_id/document", handler.handleSendMedia(chats.UploadDocument))
	protected.DELETE("/chats/:chat_id", handler.handleDeleteChat)

	protected.GET("/notificaciones", handler.handleListNotifications)
	protected.GET("/notificaciones/no_leidas", handler.handleUnreadNotifications)
	protected.POST("/notificaciones/:notification_id/leida", handler.handleMarkNotificationRead)

	protected.POST("/publicaciones", handler.handleCreatePost)
	protected.POST("/publicacion/:post_id/comentar", handler.handleComment)
	protected.POST("/publicacion/:post_id/interesar", handler.handleToggleInterest)
	protected.GET("/publicacion/:post_id/comentarios", handler.handleListComments)
	protected.DELETE("/borrar_comentario/:comment_id", handler.handleDeleteComment)

	return router, nil
}

// newEngine builds a gin engine whose ClientIP only follows forwarding headers set by the
// trusted proxies.
func newEngine(trustedProxies []string) (*gin.Engine, error) {
	router := gin.New()
	if len(trustedProxies) == 0 {
		trustedProxies = nil
	}
	if err := router.SetTrustedProxies(trustedProxies); err != nil {
		return nil, fmt.Errorf("trusted proxies: %w", err)
	}
	return router, nil
}

type httpHandler struct {
	resolver      IdentityResolver
	tokens        AccessTokenIssuer
	sessions      *auth.SessionManager
	google        ProviderVerifier
	apple         ProviderVerifier
	users         *users.Service
	chats         *chats.Service
	notifications *notifications.Service
	posts         *posts.Service
	realtime      *realtime.Handler
	maxMediaBytes int64
	logger        *zap.Logger
}

func corsMiddleware(allowedOrigins []string) gin.HandlerFunc {
	config := cors.Config{
		AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowHeaders:     []string{"Authorization", "Content-Type", "Range"},
		ExposeHeaders:    []string{"Content-Length", "Content-Range", "Accept-Ranges"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}
	if allowsAnyOrigin(allowedOrigins) {
		// Credentialed requests need the concrete origin echoed back, never "*".
		config.AllowOriginFunc = func(string) bool { return true }
	} else {
		config.AllowOrigins = allowedOrigins
	}
	return cors.New(config)
}

func allowsAnyOrigin(allowedOrigins []string) bool {
	if len(allowedOrigins) == 0 {
		return true
	}
	for _, origin := range allowedOrigins {
		if origin == "*" {
			return true
		}
	}
	return false
}

// authorizeRequest resolves the caller through the credential chain and stores the identity.
func (h *httpHandler) authorizeRequest(c *gin.Context) {
	identity, err := h.resolver.Resolve(c.Request)
	if err != nil {
		h.logRejection(err)
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	c.Set(identityContextKey, identity)
	c.Next()
}

func (h *httpHandler) logRejection(err error) {
	switch {
	case errors.Is(err, jwt.ErrTokenExpired), errors.Is(err, auth.ErrExpiredSessionToken):
		h.logger.Info("credential rejected", zap.Error(err))
	case err == auth.ErrUnauthenticated:
		h.logger.Debug("credential missing")
	default:
		h.logger.Warn("credential rejected", zap.Error(err))
	}
}

func currentIdentity(c *gin.Context) auth.Identity {
	value, ok := c.Get(identityContextKey)
	if !ok {
		return 0
	}
	identity, _ := value.(auth.Identity)
	return identity
}

func pathID(c *gin.Context, name string) (int64, bool) {
	value, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || value <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_" + name})
		return 0, false
	}
	return value, true
}

func pathIdentity(c *gin.Context, name string) (auth.Identity, bool) {
	identity, err := auth.ParseIdentity(c.Param(name))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_" + name})
		return 0, false
	}
	return identity, true
}

func queryInt(c *gin.Context, name string, fallback int) int {
	value, err := strconv.Atoi(c.Query(name))
	if err != nil {
		return fallback
	}
	return value
}
