package models

import (
	"time"

	"github.com/amirphl/Kagutsuchi/utils"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Notification types
const (
	NotificationAllocationRequested = "allocation_request_created"
	NotificationAllocationApproved  = "allocation_request_approved"
	NotificationAllocationRejected  = "allocation_request_rejected"
)

// Notification is a per-user inbox entry. Data carries application
// payloads such as request_id and submission_id.
type Notification struct {
	ID        uint           `gorm:"primaryKey" json:"id"`
	UserID    uint           `gorm:"not null;index:idx_notifications_user_id" json:"user_id"`
	Type      string         `gorm:"size:64;not null" json:"type"`
	Title     string         `gorm:"size:255;not null" json:"title"`
	Message   string         `gorm:"type:text" json:"message"`
	Data      datatypes.JSON `json:"data,omitempty"`
	IsRead    bool           `gorm:"not null;index:idx_notifications_is_read" json:"is_read"`
	ReadAt    *time.Time     `json:"read_at,omitempty"`
	CreatedAt time.Time      `gorm:"not null;index:idx_notifications_created_at" json:"created_at"`
}

func (Notification) TableName() string { return "notifications" }

func (n *Notification) BeforeCreate(tx *gorm.DB) error {
	if n.CreatedAt.IsZero() {
		n.CreatedAt = utils.UTCNow()
	}
	return nil
}

// AllocationNotificationData is the Data payload of allocation notifications.
// IDs are string-encoded so JSON path equality matches across dialects.
type AllocationNotificationData struct {
	RequestID    uint `json:"request_id,string"`
	SubmissionID uint `json:"submission_id,string"`
	EntityID     uint `json:"entity_id,string"`
}

// NotificationFilter represents filter criteria for notification queries
type NotificationFilter struct {
	ID     *uint
	UserID *uint
	Type   *string
	IsRead *bool
}
