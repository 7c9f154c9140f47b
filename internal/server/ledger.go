package server

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/carbonledger/internal/certificate"
	ledgerdomain "github.com/smallbiznis/carbonledger/internal/ledger/domain"
	"github.com/smallbiznis/carbonledger/pkg/errs"
)

type recordUsageRequest struct {
	UserID      string          `json:"user_id"`
	Date        string          `json:"date"`
	UsageType   string          `json:"usage_type"`
	Amount      decimal.Decimal `json:"amount"`
	Description string          `json:"description"`
}

func (s *Server) RecordUsage(c *gin.Context) {
	actor, ok := mustActor(c)
	if !ok {
		return
	}

	var req recordUsageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	userID, err := parseOptionalSnowflakeID(req.UserID)
	if err != nil {
		AbortWithError(c, newValidationError("user_id", "invalid_user_id", "invalid user_id"))
		return
	}
	date, err := time.Parse(dateOnlyLayout, strings.TrimSpace(req.Date))
	if err != nil {
		AbortWithError(c, newValidationError("date", "invalid_date", "date must be YYYY-MM-DD"))
		return
	}

	in := ledgerdomain.RecordUsageRequest{
		Actor:       actor,
		UserID:      actor.UserID,
		Date:        date,
		UsageType:   ledgerdomain.UsageType(strings.ToUpper(strings.TrimSpace(req.UsageType))),
		Amount:      req.Amount,
		Description: req.Description,
	}
	if userID != nil {
		in.UserID = *userID
	}

	result, err := s.ledgerSvc.RecordUsage(c.Request.Context(), in)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"data": result})
}

func (s *Server) ListUsage(c *gin.Context) {
	actor, ok := mustActor(c)
	if !ok {
		return
	}
	page, ok := bindPagination(c)
	if !ok {
		return
	}
	userID, year, ok := queryFilters(c)
	if !ok {
		return
	}

	resp, err := s.ledgerSvc.ListUsage(c.Request.Context(), ledgerdomain.ListUsageRequest{
		Pagination: page,
		Actor:      actor,
		UserID:     userID,
		Year:       year,
		UsageType:  ledgerdomain.UsageType(strings.ToUpper(strings.TrimSpace(c.Query("usage_type")))),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp.UsageRecords, "page_info": resp.PageInfo})
}

// GetLedgerForYear returns the caller's own ledger.
func (s *Server) GetLedgerForYear(c *gin.Context) {
	actor, ok := mustActor(c)
	if !ok {
		return
	}
	year, ok := pathYear(c, "ledger")
	if !ok {
		return
	}

	ledger, err := s.ledgerSvc.GetLedgerForYear(c.Request.Context(), actor.UserID, year)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": ledger})
}

// GetLedgerCertificate streams the offset certificate of the caller's cleared
// ledger for the year.
func (s *Server) GetLedgerCertificate(c *gin.Context) {
	actor, ok := mustActor(c)
	if !ok {
		return
	}
	year, ok := pathYear(c, "ledger")
	if !ok {
		return
	}

	ctx := c.Request.Context()
	ledger, err := s.ledgerSvc.GetLedgerForYear(ctx, actor.UserID, year)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	if ledger.Status != ledgerdomain.LedgerStatusCleared {
		AbortWithError(c, errs.InvalidState(certificate.ErrLedgerNotCleared))
		return
	}
	rate, err := s.rateSvc.Get(ctx, year)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	doc, err := certificate.Render(certificate.Data{
		Ledger:     ledger,
		CO2PerTree: rate.CO2PerTree,
		IssuedAt:   s.clock.Now(),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.Header("Content-Disposition", `attachment; filename="`+certificate.FileName(ledger)+`"`)
	c.Data(http.StatusOK, certificate.ContentType, doc)
}

func (s *Server) ListLedgers(c *gin.Context) {
	actor, ok := mustActor(c)
	if !ok {
		return
	}
	page, ok := bindPagination(c)
	if !ok {
		return
	}
	userID, year, ok := queryFilters(c)
	if !ok {
		return
	}

	resp, err := s.ledgerSvc.ListLedgers(c.Request.Context(), ledgerdomain.ListLedgersRequest{
		Pagination: page,
		Actor:      actor,
		UserID:     userID,
		Year:       year,
		Status:     ledgerdomain.LedgerStatus(strings.ToUpper(strings.TrimSpace(c.Query("status")))),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp.Ledgers, "page_info": resp.PageInfo})
}
