package models

import (
	"time"

	"github.com/amirphl/Kagutsuchi/utils"
	"gorm.io/gorm"
)

// Click types
const (
	ClickTypeClick = "click"
	ClickTypeView  = "view"
)

// ClickLog is one tracked event on a UTM link. SessionID is a fingerprint
// of ip, user agent and UTC day; IsUnique marks the first event per
// (link, click type, session).
type ClickLog struct {
	ID         uint      `gorm:"primaryKey" json:"id"`
	UtmLinkID  uint      `gorm:"not null;index:idx_click_logs_link_type_session,priority:1" json:"utm_link_id"`
	ClickType  string    `gorm:"size:10;not null;index:idx_click_logs_link_type_session,priority:2" json:"click_type"`
	SessionID  string    `gorm:"size:64;not null;index:idx_click_logs_link_type_session,priority:3" json:"session_id"`
	IP         string    `gorm:"size:64" json:"ip,omitempty"`
	UserAgent  string    `gorm:"type:text" json:"user_agent,omitempty"`
	Referrer   string    `gorm:"type:text" json:"referrer,omitempty"`
	DeviceType string    `gorm:"size:20" json:"device_type,omitempty"`
	Browser    string    `gorm:"size:100" json:"browser,omitempty"`
	OS         string    `gorm:"column:os;size:100" json:"os,omitempty"`
	IsUnique   bool      `gorm:"not null" json:"is_unique"`
	ClickedAt  time.Time `gorm:"not null;index:idx_click_logs_clicked_at" json:"clicked_at"`
}

func (ClickLog) TableName() string { return "click_logs" }

func (c *ClickLog) BeforeCreate(tx *gorm.DB) error {
	if c.ClickedAt.IsZero() {
		c.ClickedAt = utils.UTCNow()
	}
	return nil
}

// ClickLogFilter provides filter fields for repository queries
type ClickLogFilter struct {
	UtmLinkID *uint
	ClickType *string
	SessionID *string
}
