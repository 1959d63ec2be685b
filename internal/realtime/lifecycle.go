package realtime

import (
	"context"
	"errors"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prendiax/backend/internal/auth"
	"go.uber.org/zap"
)

// State is a step of the per-socket lifecycle.
type State int

const (
	StateConnecting State = iota
	StateAuthenticating
	StateOpen
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateAuthenticating:
		return "authenticating"
	case StateOpen:
		return "open"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

var (
	errClaimMismatch = errors.New("claimed identity does not match credentials")
	errUnknownUser   = errors.New("user does not exist")
)

// IdentityResolver resolves the identity behind an upgrade request.
type IdentityResolver interface {
	Resolve(r *http.Request) (auth.Identity, error)
}

// UserDirectory confirms that an identity belongs to an existing account.
type UserDirectory interface {
	Exists(ctx context.Context, identity auth.Identity) (bool, error)
}

// HandlerConfig wires the lifecycle handler.
type HandlerConfig struct {
	Registry       *Registry
	Resolver       IdentityResolver
	Users          UserDirectory
	AllowedOrigins []string
	Logger         *zap.Logger
}

// Handler accepts WebSocket upgrades and runs each connection through
// connecting, authenticating, open and closed.
type Handler struct {
	registry *Registry
	resolver IdentityResolver
	users    UserDirectory
	upgrader websocket.Upgrader
	logger   *zap.Logger
	nextID   atomic.Uint64
}

// NewHandler constructs the lifecycle handler.
func NewHandler(cfg HandlerConfig) (*Handler, error) {
	if cfg.Registry == nil {
		return nil, errors.New("realtime: registry is required")
	}
	if cfg.Resolver == nil {
		return nil, errors.New("realtime: identity resolver is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		registry: cfg.Registry,
		resolver: cfg.Resolver,
		users:    cfg.Users,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     originChecker(cfg.AllowedOrigins),
		},
		logger: logger,
	}, nil
}

// Serve upgrades the request and blocks until the connection closes. claimed is the identity
// named in the route, empty when the route carries none.
func (h *Handler) Serve(w http.ResponseWriter, r *http.Request, claimed string) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Info("websocket upgrade failed", zap.Error(err))
		return
	}
	id := h.nextID.Add(1)
	logger := h.logger.With(zap.Uint64("connection_id", id))
	logger.Debug("connection state", zap.Stringer("state", StateConnecting))

	logger.Debug("connection state", zap.Stringer("state", StateAuthenticating))
	identity, err := h.authenticate(r, claimed)
	if err != nil {
		logger.Info("websocket authentication failed", zap.Error(err))
		rejectConnection(conn, "authentication failed")
		logger.Debug("connection state", zap.Stringer("state", StateClosed))
		return
	}

	logger = logger.With(zap.Int64("user_id", identity.Int64()))
	client := newWSConnection(id, identity, conn, logger)
	h.registry.Register(identity, client)
	defer func() {
		h.registry.Unregister(identity, client)
		_ = client.Close(websocket.CloseNormalClosure, "")
		logger.Debug("connection state", zap.Stringer("state", StateClosed))
	}()
	logger.Debug("connection state", zap.Stringer("state", StateOpen))

	go client.writePump()

	if err := client.readLoop(); err != nil && websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
		logger.Info("connection closed unexpectedly", zap.Error(err))
	}
}

func (h *Handler) authenticate(r *http.Request, claimed string) (auth.Identity, error) {
	identity, err := h.resolver.Resolve(r)
	if err != nil {
		return 0, err
	}
	if claimed != "" {
		claimedIdentity, err := auth.ParseIdentity(claimed)
		if err != nil {
			return 0, err
		}
		if claimedIdentity != identity {
			return 0, errClaimMismatch
		}
	}
	if h.users != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()
		exists, err := h.users.Exists(ctx, identity)
		if err != nil {
			return 0, err
		}
		if !exists {
			return 0, errUnknownUser
		}
	}
	return identity, nil
}

func rejectConnection(conn *websocket.Conn, reason string) {
	message := websocket.FormatCloseMessage(websocket.ClosePolicyViolation, reason)
	_ = conn.WriteControl(websocket.CloseMessage, message, time.Now().Add(writeWait))
	_ = conn.Close()
}

// originChecker allows same-host requests, requests without an Origin header, and the
// configured origins. A "*" entry allows every origin.
func originChecker(allowed []string) func(r *http.Request) bool {
	origins := make(map[string]struct{}, len(allowed))
	for _, origin := range allowed {
		origins[origin] = struct{}{}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		if _, ok := origins["*"]; ok {
			return true
		}
		if _, ok := origins[origin]; ok {
			return true
		}
		return origin == "http://"+r.Host || origin == "https://"+r.Host
	}
}
