package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

type TransactionStatus string

const (
	StatusPending  TransactionStatus = "PENDING"
	StatusApproved TransactionStatus = "APPROVED"
	StatusRejected TransactionStatus = "REJECTED"
)

// MaxPaymentReferenceLength bounds the free-form payment reference.
const MaxPaymentReferenceLength = 100

// OffsetTransaction is a user's purchase of offset units against a ledger.
// Quantity and PaymentReference never change after creation.
type OffsetTransaction struct {
	ID               snowflake.ID      `gorm:"primaryKey" json:"id,string"`
	UserID           snowflake.ID      `gorm:"not null;index" json:"user_id,string"`
	LedgerID         snowflake.ID      `gorm:"not null;index:idx_offset_transactions_ledger_status,priority:1" json:"ledger_id,string"`
	Quantity         int64             `gorm:"not null" json:"quantity"`
	PaymentReference string            `gorm:"type:text;not null;default:''" json:"payment_reference"`
	Status           TransactionStatus `gorm:"type:text;not null;default:'PENDING';index:idx_offset_transactions_ledger_status,priority:2" json:"status"`
	CreatedAt        time.Time         `gorm:"not null" json:"created_at"`
	UpdatedAt        time.Time         `gorm:"not null" json:"updated_at"`
}

func (OffsetTransaction) TableName() string { return "offset_transactions" }

func (t *OffsetTransaction) IsTerminal() bool {
	return t.Status == StatusApproved || t.Status == StatusRejected
}
