package models

import (
	"time"

	"github.com/amirphl/Kagutsuchi/utils"
	"gorm.io/gorm"
)

// UtmLink is one generated campaign link.
// BaseURL is a frozen snapshot of the hub base URL at creation time.
// TrackingLink is the snapshot plus the canonical UTM query.
// TrackingURL redirects through the click tracker.
type UtmLink struct {
	ID           uint       `gorm:"primaryKey" json:"id"`
	EntityID     uint       `gorm:"not null;index:idx_utm_links_entity_id" json:"entity_id"`
	CampaignID   uint       `gorm:"not null;index:idx_utm_links_campaign_id" json:"campaign_id"`
	SourceID     uint       `gorm:"not null" json:"source_id"`
	MediumID     uint       `gorm:"not null" json:"medium_id"`
	UtmName      string     `gorm:"size:255" json:"utm_name,omitempty"`
	CustomName   string     `gorm:"size:255" json:"custom_name,omitempty"`
	HubType      string     `gorm:"size:10;not null" json:"hub_type"`
	BaseURL      string     `gorm:"type:text;not null" json:"base_url"`
	TrackingLink string     `gorm:"type:text;not null" json:"tracking_link"`
	TrackingURL  string     `gorm:"type:text" json:"tracking_url"`
	ShortURL     *string    `gorm:"type:text" json:"short_url,omitempty"`
	TotalClicks  int64      `gorm:"not null" json:"total_clicks"`
	UniqueClicks int64      `gorm:"not null" json:"unique_clicks"`
	LastClickAt  *time.Time `json:"last_click_at,omitempty"`
	CreatedBy    *uint      `json:"created_by,omitempty"`
	CreatedAt    time.Time  `gorm:"not null;index:idx_utm_links_created_at" json:"created_at"`
	UpdatedAt    time.Time  `gorm:"not null" json:"updated_at"`

	Campaign *UtmCampaign `gorm:"foreignKey:CampaignID;references:ID;constraint:OnDelete:CASCADE" json:"campaign,omitempty"`
	Source   *UtmSource   `gorm:"foreignKey:SourceID;references:ID" json:"source,omitempty"`
	Medium   *UtmMedium   `gorm:"foreignKey:MediumID;references:ID" json:"medium,omitempty"`
}

func (UtmLink) TableName() string { return "utm_links" }

func (l *UtmLink) BeforeCreate(tx *gorm.DB) error {
	now := utils.UTCNow()
	if l.CreatedAt.IsZero() {
		l.CreatedAt = now
	}
	if l.UpdatedAt.IsZero() {
		l.UpdatedAt = now
	}
	return nil
}

// UtmLinkFilter provides filter fields for repository queries
type UtmLinkFilter struct {
	ID            *uint
	EntityID      *uint
	CampaignID    *uint
	CreatedBy     *uint
	CreatedAfter  *time.Time
	CreatedBefore *time.Time
}
