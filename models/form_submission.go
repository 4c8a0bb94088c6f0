package models

import (
	"time"

	"github.com/amirphl/Kagutsuchi/utils"
	"gorm.io/gorm"
)

// FormSubmission is one intake of a form. Rows are never deleted by dedup;
// Duplicated marks every row but the newest per identity within a form.
// Email and Phone are normalized copies of the matching responses.
type FormSubmission struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	FormID      uint      `gorm:"not null;index:idx_form_submissions_form_email,priority:1;index:idx_form_submissions_form_phone,priority:1" json:"form_id"`
	EntityID    *uint     `gorm:"index:idx_form_submissions_entity_id" json:"entity_id,omitempty"`
	Duplicated  bool      `gorm:"not null;index:idx_form_submissions_duplicated" json:"duplicated"`
	Email       string    `gorm:"size:255;index:idx_form_submissions_form_email,priority:2" json:"email,omitempty"`
	Phone       string    `gorm:"size:64;index:idx_form_submissions_form_phone,priority:2" json:"phone,omitempty"`
	UtmCampaign string    `gorm:"size:255" json:"utm_campaign,omitempty"`
	UtmSource   string    `gorm:"size:255" json:"utm_source,omitempty"`
	UtmMedium   string    `gorm:"size:255" json:"utm_medium,omitempty"`
	UtmName     string    `gorm:"size:255" json:"utm_name,omitempty"`
	SubmittedAt time.Time `gorm:"column:submitted_at;not null;index:idx_form_submissions_submitted_at" json:"submitted_at"`
	CreatedAt   time.Time `gorm:"not null" json:"created_at"`

	Responses []FormResponse `gorm:"foreignKey:SubmissionID;constraint:OnDelete:CASCADE" json:"responses,omitempty"`
}

func (FormSubmission) TableName() string { return "form_submissions" }

func (s *FormSubmission) BeforeCreate(tx *gorm.DB) error {
	now := utils.UTCNow()
	if s.SubmittedAt.IsZero() {
		s.SubmittedAt = now
	}
	if s.CreatedAt.IsZero() {
		s.CreatedAt = now
	}
	return nil
}

// HasUTM reports whether any UTM parameter was captured
func (s *FormSubmission) HasUTM() bool {
	return s.UtmCampaign != "" || s.UtmSource != "" || s.UtmMedium != "" || s.UtmName != ""
}

// FormSubmissionFilter represents filter criteria for submission queries
type FormSubmissionFilter struct {
	ID              *uint
	IDs             []uint
	FormID          *uint
	EntityID        *uint
	Unallocated     *bool
	Duplicated      *bool
	Email           *string
	Phone           *string
	SubmittedAfter  *time.Time
	SubmittedBefore *time.Time
}

// FormResponse stores one answered field; Value is always a string
type FormResponse struct {
	ID           uint   `gorm:"primaryKey" json:"id"`
	SubmissionID uint   `gorm:"not null;index:idx_form_responses_submission_id" json:"submission_id"`
	FieldID      uint   `gorm:"not null;index:idx_form_responses_field_id" json:"field_id"`
	Value        string `gorm:"type:text;not null" json:"value"`

	Field *FormField `gorm:"foreignKey:FieldID;references:ID;constraint:OnDelete:CASCADE" json:"field,omitempty"`
}

func (FormResponse) TableName() string { return "form_responses" }

// FormResponseFilter represents filter criteria for response queries
type FormResponseFilter struct {
	SubmissionID *uint
	FieldID      *uint
}
