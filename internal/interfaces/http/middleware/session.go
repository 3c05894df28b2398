package middleware

import (
	"errors"
	"net/http"
	"strings"
	"time"

	appaccess "github.com/bordereau/console/internal/application/access"
	"github.com/bordereau/console/internal/application/session"
	"github.com/bordereau/console/internal/domain/access"
	"github.com/bordereau/console/internal/infrastructure/auth"
	"github.com/bordereau/console/internal/infrastructure/logger"
	"github.com/bordereau/console/internal/interfaces/http/dto"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Context keys
const (
	ClaimsKey     = "console_claims"
	SessionKey    = "console_session"
	TokenKey      = "console_token"
	SessionIDKey  = "session_id"
	AuthHeaderKey = "Authorization"
	BearerPrefix  = "Bearer "
)

// SessionConfig holds configuration for the session middleware
type SessionConfig struct {
	// JWTService is required for token validation
	JWTService *auth.JWTService
	// TokenBlacklist is optional; tokens signed out here are refused
	TokenBlacklist auth.TokenBlacklist
	Sessions       *session.Manager
	// TokenCookie carries the access token when no Authorization header is sent
	TokenCookie   string
	SessionCookie string
	// SessionMaxAge is the lifetime of the session cookie
	SessionMaxAge time.Duration
	SecureCookies bool
	Logger        *zap.Logger
}

// Session authenticates the dashboard token and binds the request to its
// console session: the session is opened (or created), pointed at the
// token's identity and its permission guard is put in the request context.
func Session(cfg SessionConfig) gin.HandlerFunc {
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}

	return func(c *gin.Context) {
		raw := extractToken(c, cfg.TokenCookie)
		if raw == "" {
			abortWithError(c, dto.ErrCodeUnauthorized, "Authentication required")
			return
		}

		claims, err := cfg.JWTService.ValidateAccessToken(raw)
		if err != nil {
			log.Debug("Token validation failed", zap.Error(err), zap.String("path", c.Request.URL.Path))
			abortWithAuthError(c, err)
			return
		}

		ctx := c.Request.Context()
		tokenKey := claims.TokenKey(raw)
		if cfg.TokenBlacklist != nil {
			revoked, err := cfg.TokenBlacklist.IsBlacklisted(ctx, tokenKey)
			if err != nil {
				// fail open: the core API still verifies the token
				log.Error("Failed to check token blacklist", zap.Int64("user_id", claims.UserID), zap.Error(err))
			} else if revoked {
				abortWithAuthError(c, auth.ErrTokenRevoked)
				return
			}
		}

		sessionID := sessionIDFromCookie(c, cfg.SessionCookie)
		if sessionID == "" {
			sessionID = uuid.NewString()
			c.SetSameSite(http.SameSiteLaxMode)
			c.SetCookie(cfg.SessionCookie, sessionID, int(cfg.SessionMaxAge.Seconds()), "/", "", cfg.SecureCookies, true)
		}

		identity := claims.Identity(raw)
		s, err := bind(c, cfg.Sessions, sessionID, identity, log)
		if err != nil {
			log.Error("Failed to open console session", zap.String("session_id", sessionID), zap.Error(err))
			abortWithError(c, dto.ErrCodeInternal, "Failed to open console session")
			return
		}

		c.Set(ClaimsKey, claims)
		c.Set(TokenKey, tokenKey)
		c.Set(SessionKey, s)
		c.Set(SessionIDKey, sessionID)

		ctx = logger.WithSessionID(ctx, sessionID)
		ctx = logger.WithUserID(ctx, claims.UserID)
		ctx = appaccess.WithGuard(ctx, appaccess.NewGuard(s.Store()))
		c.Request = c.Request.WithContext(ctx)

		c.Next()
	}
}

// bind opens the session and points it at identity. A session evicted
// between the two steps is opened again once.
func bind(c *gin.Context, sessions *session.Manager, id string, identity *access.Identity, log *zap.Logger) (*session.Session, error) {
	ctx := c.Request.Context()
	for attempt := 0; attempt < 2; attempt++ {
		s, err := sessions.Open(id)
		if err != nil {
			return nil, err
		}
		err = s.Bind(ctx, identity)
		if errors.Is(err, session.ErrClosed) {
			continue
		}
		if err != nil {
			// permissions still work without live updates
			log.Warn("Realtime updates unavailable for session",
				zap.String("session_id", id), zap.Error(err))
		}
		return s, nil
	}
	return nil, session.ErrClosed
}

func extractToken(c *gin.Context, cookie string) string {
	if header := c.GetHeader(AuthHeaderKey); header != "" {
		if !strings.HasPrefix(header, BearerPrefix) {
			return ""
		}
		return strings.TrimSpace(strings.TrimPrefix(header, BearerPrefix))
	}
	if cookie == "" {
		return ""
	}
	token, err := c.Cookie(cookie)
	if err != nil {
		return ""
	}
	return token
}

func sessionIDFromCookie(c *gin.Context, name string) string {
	id, err := c.Cookie(name)
	if err != nil {
		return ""
	}
	if _, err := uuid.Parse(id); err != nil {
		return ""
	}
	return id
}

func abortWithAuthError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, auth.ErrExpiredToken):
		abortWithError(c, dto.ErrCodeTokenExpired, "Token has expired")
	case errors.Is(err, auth.ErrTokenRevoked):
		abortWithError(c, dto.ErrCodeTokenRevoked, "Token has been signed out")
	case errors.Is(err, auth.ErrInvalidToken), errors.Is(err, auth.ErrInvalidClaims),
		errors.Is(err, auth.ErrMissingUserID), errors.Is(err, auth.ErrTokenNotYetValid):
		abortWithError(c, dto.ErrCodeTokenInvalid, "Invalid token")
	default:
		abortWithError(c, dto.ErrCodeUnauthorized, "Authentication required")
	}
}

// GetSession returns the console session bound to the request, nil when the
// session middleware did not run
func GetSession(c *gin.Context) *session.Session {
	if v, ok := c.Get(SessionKey); ok {
		if s, ok := v.(*session.Session); ok {
			return s
		}
	}
	return nil
}

// GetClaims returns the validated token claims
func GetClaims(c *gin.Context) *auth.Claims {
	if v, ok := c.Get(ClaimsKey); ok {
		if claims, ok := v.(*auth.Claims); ok {
			return claims
		}
	}
	return nil
}

// GetTokenKey returns the revocation key of the request's token
func GetTokenKey(c *gin.Context) string {
	return c.GetString(TokenKey)
}
