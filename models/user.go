// Package models contains domain entities and filter structs for the dashboard
package models

import (
	"time"

	"github.com/amirphl/Kagutsuchi/utils"
	"gorm.io/gorm"
)

// Dashboard roles
const (
	RoleAdmin  = "admin"
	RoleLead   = "lead"
	RoleMember = "member"
)

// User is a dashboard account. Leads are scoped to one entity.
type User struct {
	ID           uint       `gorm:"primaryKey" json:"id"`
	Email        string     `gorm:"size:255;not null;uniqueIndex:uk_users_email" json:"email"`
	Name         string     `gorm:"size:255;not null" json:"name"`
	PasswordHash string     `gorm:"size:255;not null" json:"-"`
	Role         string     `gorm:"size:20;not null;index:idx_users_role" json:"role"`
	EntityID     *uint      `gorm:"index:idx_users_entity_id" json:"entity_id,omitempty"`
	IsActive     bool       `gorm:"not null;index:idx_users_is_active" json:"is_active"`
	LastLoginAt  *time.Time `json:"last_login_at,omitempty"`
	CreatedAt    time.Time  `gorm:"not null" json:"created_at"`
	UpdatedAt    time.Time  `gorm:"not null" json:"updated_at"`

	Entity *Entity `gorm:"foreignKey:EntityID;references:ID;constraint:OnDelete:SET NULL" json:"entity,omitempty"`
}

func (User) TableName() string { return "users" }

func (u *User) BeforeCreate(tx *gorm.DB) error {
	now := utils.UTCNow()
	if u.CreatedAt.IsZero() {
		u.CreatedAt = now
	}
	if u.UpdatedAt.IsZero() {
		u.UpdatedAt = now
	}
	return nil
}

func (u *User) IsAdmin() bool { return u.Role == RoleAdmin }
func (u *User) IsLead() bool  { return u.Role == RoleLead }

// ValidRole reports whether role is one of the dashboard roles
func ValidRole(role string) bool {
	switch role {
	case RoleAdmin, RoleLead, RoleMember:
		return true
	}
	return false
}

// UserFilter represents filter criteria for user queries
type UserFilter struct {
	ID       *uint
	Email    *string
	Role     *string
	EntityID *uint
	IsActive *bool
}
