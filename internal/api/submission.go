package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/Institute-for-Folly/RECAP/internal/auth"
	"github.com/Institute-for-Folly/RECAP/internal/ledger"
)

// SubmitRequest is the body of POST /submissions. Identity is ignored when
// the route requires a token; the token's identity is used instead.
type SubmitRequest struct {
	Identity      string `json:"identity"`
	ContentDigest string `json:"content_digest" binding:"required"`
}

// SubmitResponse is returned with 201 Created.
type SubmitResponse struct {
	SequenceIndex uint64       `json:"sequence_index"`
	Entry         ledger.Entry `json:"entry"`
}

// SubmissionHandler serves the write path.
type SubmissionHandler struct {
	ledger *ledger.SubmissionLedger
	tokens *auth.TokenIssuer // nil = identity taken from the body
	logger *zap.Logger
}

// NewSubmissionHandler creates a SubmissionHandler.
func NewSubmissionHandler(l *ledger.SubmissionLedger, logger *zap.Logger) *SubmissionHandler {
	return &SubmissionHandler{ledger: l, logger: logger}
}

// SetTokenIssuer requires a Bearer identity token on every submission.
func (h *SubmissionHandler) SetTokenIssuer(t *auth.TokenIssuer) {
	h.tokens = t
}

// Register mounts the submission routes on the given router group.
func (h *SubmissionHandler) Register(rg *gin.RouterGroup) {
	if h.tokens != nil {
		rg.POST("/submissions", auth.RequireIdentity(h.tokens), h.Submit)
		return
	}
	rg.POST("/submissions", h.Submit)
}

// Submit handles POST /submissions.
func (h *SubmissionHandler) Submit(c *gin.Context) {
	var req SubmitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RecordSubmission("invalid")
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	id, ok := auth.IdentityFromCtx(c)
	if !ok {
		parsed, err := ledger.ParseIdentity(req.Identity)
		if err != nil {
			RecordSubmission("invalid")
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		id = parsed
	}

	digest, err := ledger.ParseDigest(req.ContentDigest)
	if err != nil {
		RecordSubmission("invalid")
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	entry, err := h.ledger.Submit(c.Request.Context(), id, digest)
	if err != nil {
		RecordSubmission(submissionResult(err))
		respondError(c, h.logger, "failed to record submission", err)
		return
	}

	RecordSubmission("accepted")
	SetLedgerEntries(entry.SequenceIndex + 1)
	c.JSON(http.StatusCreated, SubmitResponse{SequenceIndex: entry.SequenceIndex, Entry: entry})
}

func submissionResult(err error) string {
	switch {
	case errors.Is(err, ledger.ErrAlreadySubmittedToday):
		return "duplicate"
	case errors.Is(err, ledger.ErrInvalidInput):
		return "invalid"
	case errors.Is(err, ledger.ErrNotLeader):
		return "not_leader"
	default:
		return "error"
	}
}
