package server

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	offsetdomain "github.com/smallbiznis/carbonledger/internal/offset/domain"
	verificationdomain "github.com/smallbiznis/carbonledger/internal/verification/domain"
)

type createTransactionRequest struct {
	Quantity         int64  `json:"quantity"`
	PaymentReference string `json:"payment_reference"`
}

type submitVerificationRequest struct {
	ImageProof string `json:"image_proof"`
	Location   string `json:"location"`
	PlantedAt  string `json:"planted_at"`
}

// CreateTransaction opens a PENDING offset purchase against the ledger in the path.
func (s *Server) CreateTransaction(c *gin.Context) {
	actor, ok := mustActor(c)
	if !ok {
		return
	}
	ledgerID, ok := pathID(c, "ledger")
	if !ok {
		return
	}

	var req createTransactionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	txn, err := s.offsetSvc.Create(c.Request.Context(), offsetdomain.CreateRequest{
		Actor:            actor,
		UserID:           actor.UserID,
		LedgerID:         ledgerID,
		Quantity:         req.Quantity,
		PaymentReference: req.PaymentReference,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"data": txn})
}

func (s *Server) ListTransactions(c *gin.Context) {
	actor, ok := mustActor(c)
	if !ok {
		return
	}
	page, ok := bindPagination(c)
	if !ok {
		return
	}
	userID, err := parseOptionalSnowflakeID(c.Query("user_id"))
	if err != nil {
		AbortWithError(c, newValidationError("user_id", "invalid_user_id", "invalid user_id"))
		return
	}

	resp, err := s.offsetSvc.ListByUser(c.Request.Context(), offsetdomain.ListByUserRequest{
		Pagination: page,
		Actor:      actor,
		UserID:     userID,
		Status:     offsetdomain.TransactionStatus(strings.ToUpper(strings.TrimSpace(c.Query("status")))),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp.Transactions, "page_info": resp.PageInfo})
}

func (s *Server) ListPendingTransactions(c *gin.Context) {
	actor, ok := mustActor(c)
	if !ok {
		return
	}
	page, ok := bindPagination(c)
	if !ok {
		return
	}

	resp, err := s.offsetSvc.ListPending(c.Request.Context(), offsetdomain.ListPendingRequest{
		Pagination: page,
		Actor:      actor,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp.Transactions, "page_info": resp.PageInfo})
}

func (s *Server) GetTransaction(c *gin.Context) {
	actor, ok := mustActor(c)
	if !ok {
		return
	}
	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	txn, err := s.offsetSvc.Get(c.Request.Context(), actor, id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": txn})
}

func (s *Server) GetTransactionVerification(c *gin.Context) {
	actor, ok := mustActor(c)
	if !ok {
		return
	}
	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	verification, err := s.verificationSvc.GetByTransaction(c.Request.Context(), actor, id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": verification})
}

func (s *Server) RejectTransaction(c *gin.Context) {
	actor, ok := mustActor(c)
	if !ok {
		return
	}
	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	txn, err := s.offsetSvc.Reject(c.Request.Context(), actor, id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": txn})
}

// SubmitVerification records an agent's planting proof for the transaction.
func (s *Server) SubmitVerification(c *gin.Context) {
	actor, ok := mustActor(c)
	if !ok {
		return
	}
	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	var req submitVerificationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	plantedAt, err := time.Parse(dateOnlyLayout, strings.TrimSpace(req.PlantedAt))
	if err != nil {
		AbortWithError(c, newValidationError("planted_at", "invalid_planted_at", "planted_at must be YYYY-MM-DD"))
		return
	}

	verification, err := s.verificationSvc.Submit(c.Request.Context(), verificationdomain.SubmitRequest{
		Actor:         actor,
		TransactionID: id,
		ImageProof:    req.ImageProof,
		Location:      req.Location,
		PlantedAt:     plantedAt,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"data": verification})
}
