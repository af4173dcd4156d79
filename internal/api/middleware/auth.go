package middleware

import (
	"errors"
	"net/http"
	"strings"

	"github.com/evetabi/auction/internal/domain"
	"github.com/evetabi/auction/internal/service"
	"github.com/gin-gonic/gin"
)

// ContextKey constants for gin.Context values set by middleware.
const (
	CtxIdentity = "identity"
	CtxRole     = "role"
)

// Verifier checks a bearer token. Implemented by service.IdentityVerifier.
type Verifier interface {
	Verify(token string) (*service.Identity, error)
}

// ──────────────────────────────────────────────────────────────────────────────
// JWTMiddleware
// ──────────────────────────────────────────────────────────────────────────────

// JWTMiddleware validates the Bearer token in the Authorization header.
// On success it stores the wallet address and role in the gin context.
func JWTMiddleware(verifier Verifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" || !strings.HasPrefix(header, "Bearer ") {
			abort(c, http.StatusUnauthorized, "ERR_UNAUTHORIZED", domain.ErrUnauthorized)
			return
		}

		id, err := verifier.Verify(strings.TrimPrefix(header, "Bearer "))
		if err != nil {
			if errors.Is(err, domain.ErrTokenExpired) {
				abort(c, http.StatusUnauthorized, "ERR_TOKEN_EXPIRED", domain.ErrTokenExpired)
				return
			}
			abort(c, http.StatusUnauthorized, "ERR_TOKEN_INVALID", domain.ErrTokenInvalid)
			return
		}

		c.Set(CtxIdentity, id.Address)
		c.Set(CtxRole, id.Role)
		c.Next()
	}
}

// ──────────────────────────────────────────────────────────────────────────────
// RoleMiddleware
// ──────────────────────────────────────────────────────────────────────────────

// RoleMiddleware ensures the authenticated caller's role satisfies allow.
// Must be placed after JWTMiddleware in the chain.
func RoleMiddleware(allow func(domain.Role) bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !allow(GetRole(c)) {
			abort(c, http.StatusForbidden, "ERR_FORBIDDEN", domain.ErrForbidden)
			return
		}
		c.Next()
	}
}

// BackofficeMiddleware allows every operator role, including read-only.
func BackofficeMiddleware() gin.HandlerFunc {
	return RoleMiddleware(domain.Role.CanAccessBackoffice)
}

// OperatorMiddleware allows only roles that may trigger state changes.
func OperatorMiddleware() gin.HandlerFunc {
	return RoleMiddleware(domain.Role.CanOperate)
}

// ──────────────────────────────────────────────────────────────────────────────
// Helpers: extract the caller from context (for use in handlers)
// ──────────────────────────────────────────────────────────────────────────────

// GetIdentity retrieves the authenticated wallet address from the gin context.
// Returns "" if the middleware was not applied.
func GetIdentity(c *gin.Context) string {
	v, _ := c.Get(CtxIdentity)
	s, _ := v.(string)
	return s
}

// GetRole retrieves the authenticated caller's role from the gin context.
func GetRole(c *gin.Context) domain.Role {
	v, _ := c.Get(CtxRole)
	r, _ := v.(domain.Role)
	return r
}

func abort(c *gin.Context, status int, code string, err error) {
	c.AbortWithStatusJSON(status, gin.H{
		"success": false,
		"error":   err.Error(),
		"code":    code,
	})
}
