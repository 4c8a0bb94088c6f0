package dto

import "time"

// SubmitResponse is returned by the public submission endpoint
type SubmitResponse struct {
	SubmissionID uint  `json:"submission_id" example:"512"`
	EntityID     *uint `json:"entity_id,omitempty" example:"7"`
	Duplicates   int   `json:"duplicates_marked" example:"1"`
}

// ResponseDTO is one answered field
type ResponseDTO struct {
	FieldID    uint   `json:"field_id"`
	FieldName  string `json:"field_name"`
	FieldLabel string `json:"field_label"`
	Value      string `json:"value"`
}

// SubmissionDTO is a submission with its responses
type SubmissionDTO struct {
	ID          uint          `json:"id"`
	FormID      uint          `json:"form_id"`
	EntityID    *uint         `json:"entity_id,omitempty"`
	EntityName  string        `json:"entity_name,omitempty"`
	Duplicated  bool          `json:"duplicated"`
	Email       string        `json:"email,omitempty"`
	Phone       string        `json:"phone,omitempty"`
	UtmCampaign string        `json:"utm_campaign,omitempty"`
	UtmSource   string        `json:"utm_source,omitempty"`
	UtmMedium   string        `json:"utm_medium,omitempty"`
	UtmName     string        `json:"utm_name,omitempty"`
	SubmittedAt string        `json:"submitted_at"`
	Responses   []ResponseDTO `json:"responses"`
}

type ListSubmissionsRequest struct {
	PageRequest
	FormID            *uint      `query:"form_id"`
	EntityID          *uint      `query:"entity_id"`
	Unallocated       *bool      `query:"unallocated"`
	IncludeDuplicates bool       `query:"include_duplicates"`
	From              *time.Time `query:"from"`
	To                *time.Time `query:"to"`
}

type ListSubmissionsResponse struct {
	Items      []SubmissionDTO `json:"items"`
	Pagination Pagination      `json:"pagination"`
}

type ManualAllocateRequest struct {
	EntityID uint `json:"entity_id" validate:"required" example:"7"`
}

// ImportSubmissionsRequest carries rows already parsed by the client.
// Each row is keyed by field_name; "submitted_at" (RFC3339) is optional.
type ImportSubmissionsRequest struct {
	FormID uint                `json:"form_id" validate:"required"`
	Rows   []map[string]string `json:"rows" validate:"required,min=1,max=5000"`
}

type ImportRowError struct {
	Row   int    `json:"row"`
	Error string `json:"error"`
}

type ImportSubmissionsResponse struct {
	Imported   int              `json:"imported"`
	Duplicates int              `json:"duplicates"`
	Failed     []ImportRowError `json:"failed,omitempty"`
}

// ExportFile is a generated spreadsheet
type ExportFile struct {
	FileName    string
	ContentType string
	Content     []byte
}
