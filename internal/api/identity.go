package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/Institute-for-Folly/RECAP/internal/dayclock"
	"github.com/Institute-for-Folly/RECAP/internal/ledger"
	"github.com/Institute-for-Folly/RECAP/internal/streak"
)

// defaultCalendarDays is the calendar span when from is omitted.
const defaultCalendarDays = 30

// IdentityHandler serves per-identity reads: day lookups, streaks and the
// activity calendar.
type IdentityHandler struct {
	ledger  *ledger.SubmissionLedger
	streaks *streak.Calculator
	logger  *zap.Logger
}

// NewIdentityHandler creates an IdentityHandler.
func NewIdentityHandler(l *ledger.SubmissionLedger, s *streak.Calculator, logger *zap.Logger) *IdentityHandler {
	return &IdentityHandler{ledger: l, streaks: s, logger: logger}
}

// Register mounts the identity routes on the given router group.
func (h *IdentityHandler) Register(rg *gin.RouterGroup) {
	g := rg.Group("/identities/:identity")
	{
		g.GET("/days/:day", h.GetDay)
		g.GET("/days/:day/exists", h.DayExists)
		g.GET("/can-submit", h.CanSubmit)
		g.GET("/streak", h.Streak)
		g.GET("/calendar", h.Calendar)
	}
}

// GetDay handles GET /identities/:identity/days/:day.
func (h *IdentityHandler) GetDay(c *gin.Context) {
	id, ok := parseIdentityParam(c)
	if !ok {
		return
	}
	day, ok := parseDay(c, "day", c.Param("day"))
	if !ok {
		return
	}

	entry, err := h.ledger.GetEntryForDay(c.Request.Context(), id, day)
	if err != nil {
		respondError(c, h.logger, "failed to look up entry", err)
		return
	}
	c.JSON(http.StatusOK, entry)
}

// DayExists handles GET /identities/:identity/days/:day/exists.
func (h *IdentityHandler) DayExists(c *gin.Context) {
	id, ok := parseIdentityParam(c)
	if !ok {
		return
	}
	day, ok := parseDay(c, "day", c.Param("day"))
	if !ok {
		return
	}

	exists, err := h.ledger.HasEntryForDay(c.Request.Context(), id, day)
	if err != nil {
		respondError(c, h.logger, "failed to look up entry", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"exists": exists})
}

// CanSubmit handles GET /identities/:identity/can-submit.
func (h *IdentityHandler) CanSubmit(c *gin.Context) {
	id, ok := parseIdentityParam(c)
	if !ok {
		return
	}

	today := h.ledger.Today()
	has, err := h.ledger.HasEntryForDay(c.Request.Context(), id, today)
	if err != nil {
		respondError(c, h.logger, "failed to look up entry", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"can_submit": !has, "day_id": today})
}

// Streak handles GET /identities/:identity/streak?as_of=.
func (h *IdentityHandler) Streak(c *gin.Context) {
	id, ok := parseIdentityParam(c)
	if !ok {
		return
	}
	asOf := h.ledger.Today()
	if raw := c.Query("as_of"); raw != "" {
		if asOf, ok = parseDay(c, "as_of", raw); !ok {
			return
		}
	}

	n, err := h.streaks.Compute(c.Request.Context(), id, asOf)
	if err != nil {
		respondError(c, h.logger, "failed to compute streak", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"identity": id,
		"as_of":    asOf,
		"streak":   n,
		"tier":     streak.TierFor(n),
	})
}

// Calendar handles GET /identities/:identity/calendar?from=&to=. to defaults
// to today and from to the 30 days ending at to.
func (h *IdentityHandler) Calendar(c *gin.Context) {
	id, ok := parseIdentityParam(c)
	if !ok {
		return
	}
	to := h.ledger.Today()
	if raw := c.Query("to"); raw != "" {
		if to, ok = parseDay(c, "to", raw); !ok {
			return
		}
	}
	from := to - dayclock.DayID(min(defaultCalendarDays, h.streaks.MaxLookback())-1)
	if raw := c.Query("from"); raw != "" {
		if from, ok = parseDay(c, "from", raw); !ok {
			return
		}
	}

	days, err := h.streaks.Calendar(c.Request.Context(), id, from, to)
	if err != nil {
		respondError(c, h.logger, "failed to build calendar", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"identity": id, "from": from, "to": to, "days": days})
}
