package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/carbonledger/internal/authorization"
	ledgerdomain "github.com/smallbiznis/carbonledger/internal/ledger/domain"
	"github.com/smallbiznis/carbonledger/pkg/db/pagination"
	"gorm.io/gorm"
)

type CreateRequest struct {
	Actor            authorization.Actor
	UserID           snowflake.ID
	LedgerID         snowflake.ID
	Quantity         int64
	PaymentReference string
}

type ListByUserRequest struct {
	pagination.Pagination
	Actor  authorization.Actor
	UserID *snowflake.ID
	Status TransactionStatus
}

type ListPendingRequest struct {
	pagination.Pagination
	Actor authorization.Actor
}

type ListResponse struct {
	pagination.PageInfo
	Transactions []OffsetTransaction `json:"transactions"`
}

// VerificationState is the planting verification attached to a transaction,
// as seen by the transaction workflow.
type VerificationState struct {
	Exists     bool
	IsVerified bool
}

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, txn *OffsetTransaction) error
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*OffsetTransaction, error)
	FindByIDForUpdate(ctx context.Context, db *gorm.DB, id snowflake.ID) (*OffsetTransaction, error)
	UpdateStatus(ctx context.Context, db *gorm.DB, txn *OffsetTransaction) error
	VerificationState(ctx context.Context, db *gorm.DB, transactionID snowflake.ID) (VerificationState, error)
}

type Service interface {
	Create(ctx context.Context, req CreateRequest) (*OffsetTransaction, error)
	// Reject cancels a PENDING transaction that has no verification.
	Reject(ctx context.Context, actor authorization.Actor, transactionID snowflake.ID) (*OffsetTransaction, error)
	// ApproveTx moves a verified PENDING transaction to APPROVED and recomputes
	// its ledger. It runs inside the verification workflow's transaction.
	ApproveTx(ctx context.Context, tx *gorm.DB, transactionID snowflake.ID) (*OffsetTransaction, *ledgerdomain.RecomputeResult, error)
	// RejectTx moves a PENDING transaction to REJECTED inside tx.
	RejectTx(ctx context.Context, tx *gorm.DB, transactionID snowflake.ID) (*OffsetTransaction, error)
	// LockTx loads the transaction row locked for the rest of tx.
	LockTx(ctx context.Context, tx *gorm.DB, transactionID snowflake.ID) (*OffsetTransaction, error)
	Get(ctx context.Context, actor authorization.Actor, transactionID snowflake.ID) (*OffsetTransaction, error)
	ListByUser(ctx context.Context, req ListByUserRequest) (ListResponse, error)
	ListPending(ctx context.Context, req ListPendingRequest) (ListResponse, error)
}

var (
	ErrTransactionNotFound     = errors.New("transaction_not_found")
	ErrInvalidQuantity         = errors.New("invalid_quantity")
	ErrInvalidLedger           = errors.New("invalid_ledger")
	ErrInvalidPaymentReference = errors.New("invalid_payment_reference")
	ErrInvalidStatus           = errors.New("invalid_status")
	ErrLedgerNotOwned          = errors.New("ledger_not_owned")
	ErrInvalidTransactionState = errors.New("invalid_transaction_state")
	ErrVerificationExists      = errors.New("verification_exists")
	ErrTransactionNotVerified  = errors.New("transaction_not_verified")
)
