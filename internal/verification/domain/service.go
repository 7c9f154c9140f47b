package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/carbonledger/internal/authorization"
	ledgerdomain "github.com/smallbiznis/carbonledger/internal/ledger/domain"
	offsetdomain "github.com/smallbiznis/carbonledger/internal/offset/domain"
	"github.com/smallbiznis/carbonledger/pkg/db/pagination"
	"gorm.io/gorm"
)

const MaxRejectionReasonLength = 500

type SubmitRequest struct {
	Actor         authorization.Actor
	TransactionID snowflake.ID
	ImageProof    string
	Location      string
	PlantedAt     time.Time
}

// DecisionResult is the state after an approval or rejection commits.
type DecisionResult struct {
	Verification *PlantingVerification           `json:"verification"`
	Transaction  *offsetdomain.OffsetTransaction `json:"transaction"`
	Ledger       *ledgerdomain.CarbonLedger      `json:"ledger,omitempty"`
}

type ListPendingRequest struct {
	pagination.Pagination
	Actor authorization.Actor
}

type ListPendingResponse struct {
	pagination.PageInfo
	Verifications []PlantingVerification `json:"verifications"`
}

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, v *PlantingVerification) error
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*PlantingVerification, error)
	FindByIDForUpdate(ctx context.Context, db *gorm.DB, id snowflake.ID) (*PlantingVerification, error)
	FindByTransaction(ctx context.Context, db *gorm.DB, transactionID snowflake.ID) (*PlantingVerification, error)
	UpdateDecision(ctx context.Context, db *gorm.DB, v *PlantingVerification) error
}

type Service interface {
	Submit(ctx context.Context, req SubmitRequest) (*PlantingVerification, error)
	// Approve verifies the planting, approves the transaction and recomputes
	// the ledger in one database transaction.
	Approve(ctx context.Context, verificationID snowflake.ID, admin authorization.Actor) (*DecisionResult, error)
	// Reject closes the verification and its PENDING transaction.
	Reject(ctx context.Context, verificationID snowflake.ID, admin authorization.Actor, reason string) (*DecisionResult, error)
	Get(ctx context.Context, actor authorization.Actor, verificationID snowflake.ID) (*PlantingVerification, error)
	GetByTransaction(ctx context.Context, actor authorization.Actor, transactionID snowflake.ID) (*PlantingVerification, error)
	ListPending(ctx context.Context, req ListPendingRequest) (ListPendingResponse, error)
}

var (
	ErrVerificationNotFound   = errors.New("verification_not_found")
	ErrVerificationExists     = errors.New("verification_exists")
	ErrAlreadyVerified        = errors.New("verification_already_approved")
	ErrVerificationRejected   = errors.New("verification_rejected")
	ErrTransactionRejected    = errors.New("transaction_rejected")
	ErrInvalidTransaction     = errors.New("invalid_transaction")
	ErrInvalidImageProof      = errors.New("invalid_image_proof")
	ErrInvalidLocation        = errors.New("invalid_location")
	ErrInvalidPlantedAt       = errors.New("invalid_planted_at")
	ErrInvalidRejectionReason = errors.New("invalid_rejection_reason")
)
