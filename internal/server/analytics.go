package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	ledgerdomain "github.com/smallbiznis/carbonledger/internal/ledger/domain"
)

func (s *Server) GetStats(c *gin.Context) {
	year, err := parseOptionalInt(c.Query("year"))
	if err != nil {
		AbortWithError(c, newValidationError("year", "invalid_year", "invalid year"))
		return
	}

	stats, err := s.ledgerSvc.Stats(c.Request.Context(), year)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": stats})
}

// GetUsageBreakdown is scoped to the caller unless they hold analytics.view.
func (s *Server) GetUsageBreakdown(c *gin.Context) {
	actor, ok := mustActor(c)
	if !ok {
		return
	}
	userID, year, ok := queryFilters(c)
	if !ok {
		return
	}

	items, err := s.ledgerSvc.UsageBreakdown(c.Request.Context(), ledgerdomain.UsageBreakdownRequest{
		Actor:  actor,
		UserID: userID,
		Year:   year,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": items})
}
