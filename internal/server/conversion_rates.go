package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	ratedomain "github.com/smallbiznis/carbonledger/internal/conversionrate/domain"
)

type upsertConversionRateRequest struct {
	CO2PerTree decimal.Decimal `json:"co2_per_tree"`
}

func (s *Server) ListConversionRates(c *gin.Context) {
	actor, ok := mustActor(c)
	if !ok {
		return
	}

	rates, err := s.rateSvc.List(c.Request.Context(), actor)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": rates})
}

// UpsertConversionRate stores the rate. The ledgers of that year are recomputed
// in the same transaction.
func (s *Server) UpsertConversionRate(c *gin.Context) {
	actor, ok := mustActor(c)
	if !ok {
		return
	}
	year, ok := pathYear(c, "year")
	if !ok {
		return
	}

	var req upsertConversionRateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	rate, err := s.rateSvc.Upsert(c.Request.Context(), actor, ratedomain.UpsertRequest{
		Year:       year,
		CO2PerTree: req.CO2PerTree,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": rate})
}
