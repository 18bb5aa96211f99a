package middleware

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"docmind-backend/internal/shared/server/respond"
)

// UserIDHeader carries the caller identity resolved by the upstream gateway.
const UserIDHeader = "X-User-Id"

const ownerIDKey = "ownerId"

// Identity trusts the gateway-supplied X-User-Id header and stores the owner
// id in context. Token verification happens upstream.
func Identity() gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.Method == http.MethodOptions {
			c.Status(http.StatusNoContent)
			return
		}

		raw := strings.TrimSpace(c.GetHeader(UserIDHeader))
		if raw == "" {
			respond.Error(c, http.StatusUnauthorized, "unauthorized", "Missing identity", nil)
			return
		}
		ownerID, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || ownerID <= 0 {
			respond.Error(c, http.StatusUnauthorized, "unauthorized", "Invalid identity", nil)
			return
		}

		c.Set(ownerIDKey, ownerID)
		c.Next()
	}
}

// OwnerIDFromContext fetches the owner id set by the Identity middleware.
func OwnerIDFromContext(c *gin.Context) int64 {
	if c == nil {
		return 0
	}
	val, _ := c.Get(ownerIDKey)
	if id, ok := val.(int64); ok {
		return id
	}
	return 0
}
