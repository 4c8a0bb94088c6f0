package models

import (
	"time"

	"github.com/amirphl/Kagutsuchi/utils"
	"gorm.io/gorm"
)

// Allocation request statuses
const (
	AllocationStatusPending  = "pending"
	AllocationStatusApproved = "approved"
	AllocationStatusRejected = "rejected"
)

// AllocationRequest is a lead's request to allocate a submission to their
// own entity. It leaves pending exactly once; afterwards only AdminNotes
// may grow.
type AllocationRequest struct {
	ID                uint       `gorm:"primaryKey" json:"id"`
	SubmissionID      uint       `gorm:"not null;index:idx_allocation_requests_submission_id" json:"submission_id"`
	RequestedBy       uint       `gorm:"not null;index:idx_allocation_requests_requested_by" json:"requested_by"`
	RequestedEntityID uint       `gorm:"not null" json:"requested_entity_id"`
	Status            string     `gorm:"size:20;not null;index:idx_allocation_requests_status" json:"status"`
	Notes             string     `gorm:"type:text" json:"notes,omitempty"`
	AdminNotes        string     `gorm:"type:text" json:"admin_notes,omitempty"`
	ProcessedBy       *uint      `json:"processed_by,omitempty"`
	ProcessedAt       *time.Time `json:"processed_at,omitempty"`
	CreatedAt         time.Time  `gorm:"not null;index:idx_allocation_requests_created_at" json:"created_at"`
	UpdatedAt         time.Time  `gorm:"not null" json:"updated_at"`

	Submission      *FormSubmission `gorm:"foreignKey:SubmissionID;references:ID;constraint:OnDelete:CASCADE" json:"submission,omitempty"`
	RequestedEntity *Entity         `gorm:"foreignKey:RequestedEntityID;references:ID" json:"requested_entity,omitempty"`
	Requester       *User           `gorm:"foreignKey:RequestedBy;references:ID" json:"requester,omitempty"`
}

func (AllocationRequest) TableName() string { return "allocation_requests" }

func (r *AllocationRequest) BeforeCreate(tx *gorm.DB) error {
	now := utils.UTCNow()
	if r.CreatedAt.IsZero() {
		r.CreatedAt = now
	}
	if r.UpdatedAt.IsZero() {
		r.UpdatedAt = now
	}
	if r.Status == "" {
		r.Status = AllocationStatusPending
	}
	return nil
}

func (r *AllocationRequest) IsPending() bool { return r.Status == AllocationStatusPending }

// AllocationRequestFilter represents filter criteria for allocation request queries
type AllocationRequestFilter struct {
	ID           *uint
	SubmissionID *uint
	RequestedBy  *uint
	Status       *string
}
