package models

import (
	"time"

	"github.com/amirphl/Kagutsuchi/utils"
	"gorm.io/gorm"
)

// UtmCampaign is a campaign code scoped to a form. EntityID is the owning
// entity used for attribution; nil means unowned.
type UtmCampaign struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	FormID    uint      `gorm:"not null;uniqueIndex:uk_utm_campaigns_form_code,priority:1" json:"form_id"`
	EntityID  *uint     `gorm:"index:idx_utm_campaigns_entity_id" json:"entity_id,omitempty"`
	Code      string    `gorm:"size:100;not null;uniqueIndex:uk_utm_campaigns_form_code,priority:2" json:"code"`
	Name      string    `gorm:"size:255;not null" json:"name"`
	IsActive  bool      `gorm:"not null" json:"is_active"`
	CreatedAt time.Time `gorm:"not null" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null" json:"updated_at"`

	Form *Form `gorm:"foreignKey:FormID;references:ID;constraint:OnDelete:CASCADE" json:"form,omitempty"`
}

func (UtmCampaign) TableName() string { return "utm_campaigns" }

func (c *UtmCampaign) BeforeCreate(tx *gorm.DB) error {
	now := utils.UTCNow()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	if c.UpdatedAt.IsZero() {
		c.UpdatedAt = now
	}
	return nil
}

// UtmCampaignFilter represents filter criteria for campaign queries
type UtmCampaignFilter struct {
	ID       *uint
	FormID   *uint
	EntityID *uint
	Code     *string
	IsActive *bool
}

// UtmSource is a utm_source vocabulary entry
type UtmSource struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Code      string    `gorm:"size:100;not null;uniqueIndex:uk_utm_sources_code" json:"code"`
	Name      string    `gorm:"size:255;not null" json:"name"`
	CreatedAt time.Time `gorm:"not null" json:"created_at"`
}

func (UtmSource) TableName() string { return "utm_sources" }

func (s *UtmSource) BeforeCreate(tx *gorm.DB) error {
	if s.CreatedAt.IsZero() {
		s.CreatedAt = utils.UTCNow()
	}
	return nil
}

// UtmMedium is a utm_medium vocabulary entry
type UtmMedium struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Code      string    `gorm:"size:100;not null;uniqueIndex:uk_utm_mediums_code" json:"code"`
	Name      string    `gorm:"size:255;not null" json:"name"`
	CreatedAt time.Time `gorm:"not null" json:"created_at"`
}

func (UtmMedium) TableName() string { return "utm_mediums" }

func (m *UtmMedium) BeforeCreate(tx *gorm.DB) error {
	if m.CreatedAt.IsZero() {
		m.CreatedAt = utils.UTCNow()
	}
	return nil
}

// UtmVocabFilter filters sources and mediums
type UtmVocabFilter struct {
	ID   *uint
	IDs  []uint
	Code *string
}

// Hub types for link base URLs
const (
	HubTypeOGV = "oGV"
	HubTypeTMR = "TMR"
)

// HubForFormType maps a form type to the hub whose base URL its links use
func HubForFormType(formType string) string {
	if formType == FormTypeTMR {
		return HubTypeTMR
	}
	return HubTypeOGV
}

// HubSetting holds the configurable base URL of a hub. Links snapshot the
// value at creation time.
type HubSetting struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	HubType   string    `gorm:"size:10;not null;uniqueIndex:uk_hub_settings_hub_type" json:"hub_type"`
	BaseURL   string    `gorm:"type:text;not null" json:"base_url"`
	UpdatedBy *uint     `json:"updated_by,omitempty"`
	UpdatedAt time.Time `gorm:"not null" json:"updated_at"`
}

func (HubSetting) TableName() string { return "hub_settings" }
