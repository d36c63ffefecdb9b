package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/Institute-for-Folly/RECAP/internal/auth"
	"github.com/Institute-for-Folly/RECAP/internal/ledger"
)

// HeaderIssueSecret carries the shared secret for token issuance.
const HeaderIssueSecret = "X-Recap-Issue-Secret"

// TokenRequest is the body of POST /auth/token.
type TokenRequest struct {
	Identity string `json:"identity" binding:"required"`
}

// AuthHandler mints identity tokens for trusted callers.
type AuthHandler struct {
	tokens *auth.TokenIssuer
	policy *auth.IssuePolicy
	logger *zap.Logger
}

// NewAuthHandler creates an AuthHandler.
func NewAuthHandler(tokens *auth.TokenIssuer, policy *auth.IssuePolicy, logger *zap.Logger) *AuthHandler {
	return &AuthHandler{tokens: tokens, policy: policy, logger: logger}
}

// Register mounts the auth routes on the given router group.
func (h *AuthHandler) Register(rg *gin.RouterGroup) {
	rg.POST("/auth/token", h.IssueToken)
}

// IssueToken handles POST /auth/token.
func (h *AuthHandler) IssueToken(c *gin.Context) {
	if !h.policy.Permits(c.GetHeader(HeaderIssueSecret)) {
		c.JSON(http.StatusForbidden, gin.H{"error": "token issuance is disabled or the issue secret is wrong"})
		return
	}

	var req TokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	id, err := ledger.ParseIdentity(req.Identity)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	token, err := h.tokens.Issue(id)
	if err != nil {
		h.logger.Error("issue identity token", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to issue token"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"token":      token,
		"token_type": "Bearer",
		"expires_in": int(h.tokens.TTL().Seconds()),
		"identity":   id,
	})
}
