package models

import (
	"time"

	"github.com/amirphl/Kagutsuchi/utils"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Form types
const (
	FormTypeOGV = "oGV"
	FormTypeTMR = "TMR"
	FormTypeEWA = "EWA"
)

// ValidFormType reports whether t is a known form type
func ValidFormType(t string) bool {
	switch t {
	case FormTypeOGV, FormTypeTMR, FormTypeEWA:
		return true
	}
	return false
}

// Form is a dynamic form; Code is the public identifier used by the
// submission endpoint and is regenerated whenever the name changes
type Form struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Code      string    `gorm:"size:64;not null;uniqueIndex:uk_forms_code" json:"code"`
	Name      string    `gorm:"size:255;not null" json:"name"`
	Type      string    `gorm:"size:10;not null;index:idx_forms_type" json:"type"`
	CreatedBy *uint     `json:"created_by,omitempty"`
	CreatedAt time.Time `gorm:"not null;index:idx_forms_created_at" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null" json:"updated_at"`

	Fields []FormField `gorm:"foreignKey:FormID;constraint:OnDelete:CASCADE" json:"fields,omitempty"`
}

func (Form) TableName() string { return "forms" }

func (f *Form) BeforeCreate(tx *gorm.DB) error {
	now := utils.UTCNow()
	if f.CreatedAt.IsZero() {
		f.CreatedAt = now
	}
	if f.UpdatedAt.IsZero() {
		f.UpdatedAt = now
	}
	return nil
}

// FormFilter represents filter criteria for form queries
type FormFilter struct {
	ID   *uint
	Code *string
	Type *string
}

// Field types
const (
	FieldTypeText     = "text"
	FieldTypeEmail    = "email"
	FieldTypePhone    = "phone"
	FieldTypeTextarea = "textarea"
	FieldTypeDate     = "date"
	FieldTypeSelect   = "select"
	FieldTypeDatabase = "database"
)

// Field names with special handling at intake
const (
	FieldNameEmail    = "email"
	FieldNamePhone    = "phone"
	FieldNameUni      = "uni"
	FieldNameOtherUni = "otheruni"
)

// FormField belongs to a form. FieldOptions holds {"options": [...]} for
// select fields and {"source": "..."} for database-backed fields.
type FormField struct {
	ID           uint           `gorm:"primaryKey" json:"id"`
	FormID       uint           `gorm:"not null;uniqueIndex:uk_form_fields_form_name,priority:1;index:idx_form_fields_form_id" json:"form_id"`
	FieldName    string         `gorm:"size:100;not null;uniqueIndex:uk_form_fields_form_name,priority:2" json:"field_name"`
	FieldLabel   string         `gorm:"size:255;not null" json:"field_label"`
	FieldType    string         `gorm:"size:20;not null" json:"field_type"`
	FieldOptions datatypes.JSON `json:"field_options,omitempty"`
	IsRequired   bool           `gorm:"not null" json:"is_required"`
	SortOrder    int            `gorm:"not null" json:"sort_order"`
	CreatedAt    time.Time      `gorm:"not null" json:"created_at"`
}

func (FormField) TableName() string { return "form_fields" }

func (f *FormField) BeforeCreate(tx *gorm.DB) error {
	if f.CreatedAt.IsZero() {
		f.CreatedAt = utils.UTCNow()
	}
	return nil
}

// FormFieldFilter represents filter criteria for form field queries
type FormFieldFilter struct {
	ID        *uint
	FormID    *uint
	FieldName *string
}
