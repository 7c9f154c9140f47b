package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

type ActorType string

const (
	ActorTypeSystem ActorType = "system"
	ActorTypeUser   ActorType = "user"
)

const (
	ActionUsageRecorded         = "usage.recorded"
	ActionTransactionCreated    = "offset_transaction.created"
	ActionTransactionRejected   = "offset_transaction.rejected"
	ActionTransactionApproved   = "offset_transaction.approved"
	ActionVerificationSubmitted = "verification.submitted"
	ActionVerificationApproved  = "verification.approved"
	ActionVerificationRejected  = "verification.rejected"
	ActionConversionRateUpdated = "conversion_rate.updated"
	ActionConversionRateSeeded  = "conversion_rate.provisioned"
	ActionAuthorizationDenied   = "authorization.denied"
)

const (
	TargetUsageRecord       = "usage_record"
	TargetLedger            = "carbon_ledger"
	TargetOffsetTransaction = "offset_transaction"
	TargetVerification      = "planting_verification"
	TargetConversionRate    = "conversion_rate"
)

// AuditLog is an append-only record of a privileged action.
type AuditLog struct {
	ID         snowflake.ID      `gorm:"primaryKey" json:"id,string"`
	ActorType  string            `gorm:"type:text;not null" json:"actor_type"`
	ActorID    *string           `gorm:"type:text" json:"actor_id,omitempty"`
	Action     string            `gorm:"type:text;not null;index" json:"action"`
	TargetType string            `gorm:"type:text;not null;index:idx_audit_logs_target,priority:1" json:"target_type"`
	TargetID   *string           `gorm:"type:text;index:idx_audit_logs_target,priority:2" json:"target_id,omitempty"`
	Metadata   datatypes.JSONMap `gorm:"type:json" json:"metadata"`
	IPAddress  *string           `gorm:"type:text" json:"ip_address,omitempty"`
	UserAgent  *string           `gorm:"type:text" json:"user_agent,omitempty"`
	CreatedAt  time.Time         `gorm:"not null;index" json:"created_at"`
}

func (AuditLog) TableName() string { return "audit_logs" }

// AuditCursor marks the last row of a listing page.
type AuditCursor struct {
	ID        snowflake.ID
	CreatedAt time.Time
}

type ListFilter struct {
	Action     string
	TargetType string
	TargetID   string
	ActorType  string
	ActorID    string
	StartAt    *time.Time
	EndAt      *time.Time
	Cursor     *AuditCursor
	Limit      int
}
