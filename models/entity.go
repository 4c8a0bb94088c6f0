package models

import (
	"time"

	"github.com/amirphl/Kagutsuchi/utils"
	"gorm.io/gorm"
)

// Entity types
const (
	EntityTypeLocal    = "local"
	EntityTypeNational = "national"
)

// Entity is a local chapter or a national bucket (EMT, Organic) that
// submissions are attributed to
type Entity struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Name      string    `gorm:"size:255;not null;uniqueIndex:uk_entities_name" json:"name"`
	Type      string    `gorm:"size:20;not null;index:idx_entities_type" json:"type"`
	IsActive  bool      `gorm:"not null" json:"is_active"`
	CreatedAt time.Time `gorm:"not null" json:"created_at"`
}

func (Entity) TableName() string { return "entities" }

func (e *Entity) BeforeCreate(tx *gorm.DB) error {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = utils.UTCNow()
	}
	return nil
}

func (e *Entity) IsLocal() bool { return e.Type == EntityTypeLocal }

// EntityFilter represents filter criteria for entity queries
type EntityFilter struct {
	ID       *uint
	IDs      []uint
	Name     *string
	Type     *string
	IsActive *bool
}

// UniMapping maps a university to its owning local entity
type UniMapping struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	UniID     int64     `gorm:"not null;uniqueIndex:uk_uni_mappings_uni_id" json:"uni_id"`
	UniName   string    `gorm:"size:255;not null;index:idx_uni_mappings_uni_name" json:"uni_name"`
	EntityID  uint      `gorm:"not null;index:idx_uni_mappings_entity_id" json:"entity_id"`
	CreatedAt time.Time `gorm:"not null" json:"created_at"`

	Entity *Entity `gorm:"foreignKey:EntityID;references:ID;constraint:OnDelete:CASCADE" json:"entity,omitempty"`
}

func (UniMapping) TableName() string { return "uni_mappings" }

func (m *UniMapping) BeforeCreate(tx *gorm.DB) error {
	if m.CreatedAt.IsZero() {
		m.CreatedAt = utils.UTCNow()
	}
	return nil
}

// UniMappingFilter represents filter criteria for university mapping queries
type UniMappingFilter struct {
	ID           *uint
	UniID        *int64
	UniIDs       []int64
	UniName      *string
	NameContains *string
	EntityID     *uint
}
