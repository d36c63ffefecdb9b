package auth

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/Institute-for-Folly/RECAP/internal/ledger"
)

const ctxIdentity = "recap_identity"

// RequireIdentity rejects requests without a valid Bearer identity token and
// stores the token's identity in the gin context.
func RequireIdentity(tokens *TokenIssuer) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if !strings.HasPrefix(authHeader, "Bearer ") {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "Bearer identity token required",
			})
			return
		}

		claims, err := tokens.Verify(strings.TrimPrefix(authHeader, "Bearer "))
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "invalid identity token: " + err.Error(),
			})
			return
		}
		id, _ := claims.Identity()
		c.Set(ctxIdentity, id)
		c.Next()
	}
}

// IdentityFromCtx returns the identity set by RequireIdentity.
func IdentityFromCtx(c *gin.Context) (ledger.Identity, bool) {
	v, ok := c.Get(ctxIdentity)
	if !ok {
		return ledger.Identity{}, false
	}
	id, ok := v.(ledger.Identity)
	return id, ok
}
