package api

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/Institute-for-Folly/RECAP/internal/dayclock"
	"github.com/Institute-for-Folly/RECAP/internal/ledger"
)

// statusFor maps a ledger error onto an HTTP status. ok is false for
// storage faults.
func statusFor(err error) (status int, ok bool) {
	switch {
	case errors.Is(err, ledger.ErrInvalidInput):
		return http.StatusBadRequest, true
	case errors.Is(err, ledger.ErrAlreadySubmittedToday):
		return http.StatusConflict, true
	case errors.Is(err, ledger.ErrNotFound):
		return http.StatusNotFound, true
	case errors.Is(err, ledger.ErrOffsetOutOfBounds):
		return http.StatusBadRequest, true
	case errors.Is(err, ledger.ErrOutOfBounds):
		return http.StatusNotFound, true
	case errors.Is(err, ledger.ErrNotLeader):
		return http.StatusServiceUnavailable, true
	default:
		return http.StatusInternalServerError, false
	}
}

// respondError writes err as {"error": ...}. Storage faults are logged and
// reported with the generic msg instead of their text.
func respondError(c *gin.Context, logger *zap.Logger, msg string, err error) {
	status, known := statusFor(err)
	if !known {
		logger.Error(msg, zap.Error(err), zap.String("request_id", c.GetString(HeaderRequestID)))
		c.JSON(status, gin.H{"error": msg})
		return
	}

	body := gin.H{"error": err.Error()}
	var hint ledger.LeaderHinter
	if errors.As(err, &hint) && hint.LeaderAddr() != "" {
		body["leader"] = hint.LeaderAddr()
	}
	c.JSON(status, body)
}

func parseIdentityParam(c *gin.Context) (ledger.Identity, bool) {
	id, err := ledger.ParseIdentity(c.Param("identity"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return ledger.Identity{}, false
	}
	return id, true
}

func parseDay(c *gin.Context, name, raw string) (dayclock.DayID, bool) {
	d, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": name + " must be an integer day id"})
		return 0, false
	}
	day := dayclock.DayID(d)
	if !day.Valid() {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": fmt.Sprintf("%s must be between %d and %d", name, dayclock.MinDay, dayclock.MaxDay),
		})
		return 0, false
	}
	return day, true
}

func parseUint(c *gin.Context, name, raw string, def uint64) (uint64, bool) {
	if raw == "" {
		return def, true
	}
	v, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": name + " must be a non-negative integer"})
		return 0, false
	}
	return v, true
}
