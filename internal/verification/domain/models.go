package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

type Outcome string

const (
	OutcomeSubmitted Outcome = "SUBMITTED"
	OutcomeApproved  Outcome = "APPROVED"
	OutcomeRejected  Outcome = "REJECTED"
)

// PlantingVerification is an agent's field evidence for one transaction.
type PlantingVerification struct {
	ID              snowflake.ID  `gorm:"primaryKey" json:"id,string"`
	TransactionID   snowflake.ID  `gorm:"not null;uniqueIndex:ux_planting_verifications_transaction" json:"transaction_id,string"`
	AgentID         snowflake.ID  `gorm:"not null;index" json:"agent_id,string"`
	ImageProof      string        `gorm:"type:text;not null" json:"image_proof"`
	Location        string        `gorm:"type:text;not null" json:"location"`
	PlantedAt       time.Time     `gorm:"type:date;not null" json:"planted_at"`
	Outcome         Outcome       `gorm:"type:text;not null;default:'SUBMITTED';index" json:"outcome"`
	IsVerified      bool          `gorm:"not null;default:false" json:"is_verified"`
	ApprovedBy      *snowflake.ID `json:"approved_by,omitempty,string"`
	ApprovedAt      *time.Time    `json:"approved_at,omitempty"`
	RejectedBy      *snowflake.ID `json:"rejected_by,omitempty,string"`
	RejectedAt      *time.Time    `json:"rejected_at,omitempty"`
	RejectionReason string        `gorm:"type:text;not null;default:''" json:"rejection_reason,omitempty"`
	CreatedAt       time.Time     `gorm:"not null" json:"created_at"`
	UpdatedAt       time.Time     `gorm:"not null" json:"updated_at"`
}

func (PlantingVerification) TableName() string { return "planting_verifications" }

func (v *PlantingVerification) IsDecided() bool {
	return v.Outcome != OutcomeSubmitted
}
