package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/carbonledger/internal/emission"
)

type convertRequest struct {
	emission.Activity
	Year *int `json:"year"`
}

type convertResponse struct {
	CO2Tonnes           decimal.Decimal  `json:"co2_tonnes"`
	Year                *int             `json:"year,omitempty"`
	CO2PerTree          *decimal.Decimal `json:"co2_per_tree,omitempty"`
	RequiredOffsetUnits *int64           `json:"required_offset_units,omitempty"`
}

// Convert prices an activity bundle without recording it. With a year it
// also reports the offset units the tonnage would require.
func (s *Server) Convert(c *gin.Context) {
	var req convertRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	tonnes, err := emission.CalculateCO2(req.Activity)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	resp := convertResponse{CO2Tonnes: tonnes}

	if req.Year != nil {
		rate, err := s.rateSvc.Get(c.Request.Context(), *req.Year)
		if err != nil {
			AbortWithError(c, err)
			return
		}
		units, err := emission.RequiredOffsetUnits(tonnes, rate.CO2PerTree)
		if err != nil {
			AbortWithError(c, err)
			return
		}
		resp.Year = req.Year
		resp.CO2PerTree = &rate.CO2PerTree
		resp.RequiredOffsetUnits = &units
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}
