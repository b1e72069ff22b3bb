package middleware

import (
	"context"
	"errors"
	"fmt"
	"strings"

	appErr "arena/pkg/errors"
	"arena/pkg/utils/contextkey"
	"arena/pkg/utils/response"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

const (
	userIDHeader   = "X-User-Id"
	userRoleHeader = "X-User-Role"

	userIDContextKey   = "user_id"
	userRoleContextKey = "user_role"

	RoleContestant = "contestant"
	RoleOrganizer  = "organizer"
	RoleAdmin      = "admin"
)

// IdentityConfig describes how the upstream identity provider asserts the caller.
// The service verifies nothing beyond the token signature; users are managed elsewhere.
type IdentityConfig struct {
	TrustHeaders bool   `yaml:"trustHeaders" env:"TRUST_HEADERS"`
	JWTSecret    string `yaml:"jwtSecret" env:"JWT_SECRET"`
	JWTIssuer    string `yaml:"jwtIssuer" env:"JWT_ISSUER"`
}

// Identity is the caller as asserted by the identity provider.
type Identity struct {
	UserID string
	Role   string
}

// IsOrganizer reports whether the caller may manage contests.
func (i Identity) IsOrganizer() bool {
	return strings.EqualFold(i.Role, RoleOrganizer) || strings.EqualFold(i.Role, RoleAdmin)
}

type identityClaims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// IdentityMiddleware resolves the caller from a bearer token or, when trusted,
// from gateway headers. Requests without identity pass through; use RequireIdentity to enforce.
func IdentityMiddleware(cfg IdentityConfig) gin.HandlerFunc {
	secret := []byte(cfg.JWTSecret)
	return func(c *gin.Context) {
		var (
			id  Identity
			err error
		)
		if token := extractBearerToken(c.GetHeader("Authorization")); token != "" && len(secret) > 0 {
			id, err = parseIdentityToken(token, secret, cfg.JWTIssuer)
			if err != nil {
				response.AbortWithError(c, err)
				return
			}
		} else if cfg.TrustHeaders {
			id = Identity{
				UserID: strings.TrimSpace(c.GetHeader(userIDHeader)),
				Role:   strings.TrimSpace(c.GetHeader(userRoleHeader)),
			}
		}
		if id.UserID != "" {
			if id.Role == "" {
				id.Role = RoleContestant
			}
			c.Set(userIDContextKey, id.UserID)
			c.Set(userRoleContextKey, id.Role)
			ctx := context.WithValue(c.Request.Context(), contextkey.UserID, id.UserID)
			ctx = context.WithValue(ctx, contextkey.UserRole, id.Role)
			c.Request = c.Request.WithContext(ctx)
		}
		c.Next()
	}
}

// RequireIdentity rejects anonymous callers and, when roles are given, callers outside them.
func RequireIdentity(roles ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := IdentityFrom(c)
		if !ok {
			response.AbortWithErrorCode(c, appErr.Unauthorized, "")
			return
		}
		if len(roles) > 0 && !hasRole(id.Role, roles) {
			response.AbortWithErrorCode(c, appErr.PermissionDenied, "insufficient role")
			return
		}
		c.Next()
	}
}

// IdentityFrom returns the identity resolved by IdentityMiddleware.
func IdentityFrom(c *gin.Context) (Identity, bool) {
	userID := c.GetString(userIDContextKey)
	if userID == "" {
		return Identity{}, false
	}
	return Identity{UserID: userID, Role: c.GetString(userRoleContextKey)}, true
}

func parseIdentityToken(raw string, secret []byte, issuer string) (Identity, error) {
	parsed, err := jwt.ParseWithClaims(raw, &identityClaims{}, func(token *jwt.Token) (interface{}, error) {
		if token.Method != jwt.SigningMethodHS256 {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return Identity{}, appErr.New(appErr.TokenExpired)
		}
		return Identity{}, appErr.New(appErr.TokenInvalid)
	}
	claims, ok := parsed.Claims.(*identityClaims)
	if !ok || !parsed.Valid || claims.Subject == "" {
		return Identity{}, appErr.New(appErr.TokenInvalid)
	}
	if issuer != "" && claims.Issuer != issuer {
		return Identity{}, appErr.New(appErr.TokenInvalid)
	}
	return Identity{UserID: claims.Subject, Role: claims.Role}, nil
}

func extractBearerToken(authHeader string) string {
	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

func hasRole(role string, allowed []string) bool {
	for _, item := range allowed {
		if strings.EqualFold(role, item) {
			return true
		}
	}
	return false
}
