// Package auth verifies the dashboard access tokens issued by the core
// backend and tracks tokens signed out at this gateway.
package auth

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"time"

	"github.com/bordereau/console/internal/domain/access"
	"github.com/bordereau/console/internal/infrastructure/config"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Common errors
var (
	ErrInvalidToken     = errors.New("invalid token")
	ErrExpiredToken     = errors.New("token has expired")
	ErrInvalidClaims    = errors.New("invalid token claims")
	ErrTokenNotYetValid = errors.New("token is not yet valid")
	ErrMissingUserID    = errors.New("missing user_id in claims")
	ErrTokenRevoked     = errors.New("token has been signed out")
)

// Claims are the dashboard access token claims shared with the core backend
type Claims struct {
	jwt.RegisteredClaims
	UserID int64  `json:"user_id"`
	Name   string `json:"name,omitempty"`
	RoleID int    `json:"role_id"`
	// BpcID is the processing-clerk work-session id of the user, absent for
	// users without a live queue
	BpcID *int64 `json:"bpc_id,omitempty"`
}

// Identity converts the claims into the identity a permission store is
// scoped to. raw is forwarded to the core API.
func (c *Claims) Identity(raw string) *access.Identity {
	var bpcID *int64
	if c.BpcID != nil {
		id := *c.BpcID
		bpcID = &id
	}
	return &access.Identity{
		UserID:        c.UserID,
		Name:          c.Name,
		RoleID:        c.RoleID,
		WorkSessionID: bpcID,
		Token:         raw,
	}
}

// TokenKey identifies a token for revocation: its jti, or a digest of the
// raw token when the issuer sets none.
func (c *Claims) TokenKey(raw string) string {
	if c.ID != "" {
		return c.ID
	}
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

// RemainingTTL returns how long the token stays valid, at least one minute.
func (c *Claims) RemainingTTL() time.Duration {
	if c.ExpiresAt == nil {
		return time.Hour
	}
	ttl := time.Until(c.ExpiresAt.Time)
	if ttl < time.Minute {
		return time.Minute
	}
	return ttl
}

// JWTService validates access tokens. It also signs tokens for development
// and tests; production tokens come from the core backend.
type JWTService struct {
	secret []byte
	issuer string
}

// NewJWTService creates a new JWT service
func NewJWTService(cfg config.JWTConfig) *JWTService {
	return &JWTService{
		secret: []byte(cfg.Secret),
		issuer: cfg.Issuer,
	}
}

// GenerateTokenInput contains input for token generation
type GenerateTokenInput struct {
	UserID int64
	Name   string
	RoleID int
	BpcID  *int64
	TTL    time.Duration
}

// GenerateAccessToken signs an access token
func (s *JWTService) GenerateAccessToken(input GenerateTokenInput) (string, error) {
	now := time.Now()
	ttl := input.TTL
	if ttl == 0 {
		ttl = 15 * time.Minute
	}

	claims := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.New().String(),
			Issuer:    s.issuer,
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			NotBefore: jwt.NewNumericDate(now),
			IssuedAt:  jwt.NewNumericDate(now),
		},
		UserID: input.UserID,
		Name:   input.Name,
		RoleID: input.RoleID,
		BpcID:  input.BpcID,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.secret)
}

// ValidateAccessToken validates an access token and returns its claims
func (s *JWTService) ValidateAccessToken(tokenString string) (*Claims, error) {
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if s.issuer != "" {
		opts = append(opts, jwt.WithIssuer(s.issuer))
	}

	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return s.secret, nil
	}, opts...)

	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		if errors.Is(err, jwt.ErrTokenNotValidYet) {
			return nil, ErrTokenNotYetValid
		}
		return nil, ErrInvalidToken
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrInvalidClaims
	}
	if claims.UserID == 0 {
		return nil, ErrMissingUserID
	}

	return claims, nil
}
