package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/Institute-for-Folly/RECAP/internal/feed"
	"github.com/Institute-for-Folly/RECAP/internal/ledger"
)

// DefaultPageSize is used when a feed request has no limit.
const DefaultPageSize = 20

// EntryHandler serves the global log: positional reads, the paginated feed
// and the ledger overview.
type EntryHandler struct {
	ledger      *ledger.SubmissionLedger
	feed        *feed.Index
	maxPageSize uint64
	logger      *zap.Logger
}

// NewEntryHandler creates an EntryHandler. maxPageSize caps limit; zero
// means no cap.
func NewEntryHandler(l *ledger.SubmissionLedger, f *feed.Index, maxPageSize int, logger *zap.Logger) *EntryHandler {
	return &EntryHandler{ledger: l, feed: f, maxPageSize: uint64(max(maxPageSize, 0)), logger: logger}
}

// Register mounts the entry routes on the given router group.
func (h *EntryHandler) Register(rg *gin.RouterGroup) {
	rg.GET("/ledger", h.Overview)
	e := rg.Group("/entries")
	{
		e.GET("", h.Latest)
		e.GET("/:index", h.GetEntry)
	}
}

// Overview handles GET /ledger.
func (h *EntryHandler) Overview(c *gin.Context) {
	n, err := h.ledger.TotalEntries(c.Request.Context())
	if err != nil {
		respondError(c, h.logger, "failed to query ledger", err)
		return
	}
	SetLedgerEntries(n)
	c.JSON(http.StatusOK, gin.H{"total_entries": n, "day_id": h.ledger.Today()})
}

// GetEntry handles GET /entries/:index.
func (h *EntryHandler) GetEntry(c *gin.Context) {
	idx, ok := parseUint(c, "index", c.Param("index"), 0)
	if !ok {
		return
	}
	entry, err := h.ledger.GetEntryAtIndex(c.Request.Context(), idx)
	if err != nil {
		respondError(c, h.logger, "failed to get entry", err)
		return
	}
	c.JSON(http.StatusOK, entry)
}

// Latest handles GET /entries?offset=&limit=, newest first.
func (h *EntryHandler) Latest(c *gin.Context) {
	offset, ok := parseUint(c, "offset", c.Query("offset"), 0)
	if !ok {
		return
	}
	limit, ok := parseUint(c, "limit", c.Query("limit"), DefaultPageSize)
	if !ok {
		return
	}
	if h.maxPageSize > 0 && limit > h.maxPageSize {
		limit = h.maxPageSize
	}

	page, err := h.feed.LatestPage(c.Request.Context(), offset, limit)
	if err != nil {
		respondError(c, h.logger, "failed to page ledger", err)
		return
	}
	c.JSON(http.StatusOK, page)
}
