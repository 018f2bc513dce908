package middleware

import (
	"strconv"

	"github.com/gin-gonic/gin"

	"edu-knowledge-platform/internal/config"
	"edu-knowledge-platform/utils"
)

const (
	RoleAdmin   = "admin"
	RoleTeacher = "teacher"
	RoleStudent = "student"
)

type AuthMiddleware struct {
	config *config.Config
}

func NewAuthMiddleware(cfg *config.Config) *AuthMiddleware {
	return &AuthMiddleware{config: cfg}
}

// RequireAuth validates the bearer token and stores claims in the context.
func (a *AuthMiddleware) RequireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenString := utils.ExtractTokenFromHeader(c.GetHeader("Authorization"))
		if tokenString == "" {
			utils.RespondWithUnauthorized(c, "Authentication token is required")
			c.Abort()
			return
		}

		claims, err := utils.ValidateJWT(tokenString, a.config.JWTSecret)
		if err != nil {
			utils.RespondWithUnauthorized(c, "Invalid or expired token")
			c.Abort()
			return
		}

		c.Set("claims", claims)
		c.Set("user_id", claims.UserID)
		c.Set("role", claims.Role)
		c.Set("tenant_id", claims.TenantID)
		c.Next()
	}
}

// RequireRole restricts an endpoint to the listed roles. Admins always pass.
func (a *AuthMiddleware) RequireRole(roles ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		role := c.GetString("role")
		if role == RoleAdmin {
			c.Next()
			return
		}
		for _, allowed := range roles {
			if role == allowed {
				c.Next()
				return
			}
		}
		utils.RespondWithForbidden(c, "Insufficient permissions")
		c.Abort()
	}
}

// RequireTenantAccess ensures the caller may touch the tenant named in the
// URL. Admins reach any tenant; everyone else only their own. The base pool
// is admin-only for writes.
func (a *AuthMiddleware) RequireTenantAccess() gin.HandlerFunc {
	return func(c *gin.Context) {
		tenantID, err := strconv.ParseInt(c.Param("tenantID"), 10, 64)
		if err != nil {
			utils.RespondWithBadRequest(c, "invalid tenant id", nil)
			c.Abort()
			return
		}

		role := c.GetString("role")
		if role == RoleAdmin {
			c.Set("resolved_tenant_id", tenantID)
			c.Next()
			return
		}

		claims, exists := c.Get("claims")
		if !exists {
			utils.RespondWithUnauthorized(c, "Authentication required")
			c.Abort()
			return
		}
		cl := claims.(*utils.Claims)
		if cl.TenantID != tenantID {
			utils.RespondWithForbidden(c, "No access to this tenant")
			c.Abort()
			return
		}

		c.Set("resolved_tenant_id", tenantID)
		c.Next()
	}
}

// ResolvedTenantID returns the tenant id validated by RequireTenantAccess.
func ResolvedTenantID(c *gin.Context) int64 {
	if v, exists := c.Get("resolved_tenant_id"); exists {
		if id, ok := v.(int64); ok {
			return id
		}
	}
	return -1
}
