package dto

import "encoding/json"

// FormFieldDTO is a form field as rendered by clients
type FormFieldDTO struct {
	ID           uint            `json:"id"`
	FieldName    string          `json:"field_name" example:"email"`
	FieldLabel   string          `json:"field_label" example:"Email"`
	FieldType    string          `json:"field_type" example:"email"`
	FieldOptions json.RawMessage `json:"field_options,omitempty" swaggertype:"object"`
	IsRequired   bool            `json:"is_required"`
	SortOrder    int             `json:"sort_order"`
}

// FormDTO is a form with its fields in display order
type FormDTO struct {
	ID              uint           `json:"id"`
	Code            string         `json:"code" example:"spring-recruitment-3f9a1c"`
	Name            string         `json:"name" example:"Spring Recruitment"`
	Type            string         `json:"type" example:"oGV"`
	CreatedBy       *uint          `json:"created_by,omitempty"`
	SubmissionCount int64          `json:"submission_count"`
	CreatedAt       string         `json:"created_at"`
	UpdatedAt       string         `json:"updated_at"`
	Fields          []FormFieldDTO `json:"fields"`
}

// FieldInput describes a field to create
type FieldInput struct {
	FieldName    string          `json:"field_name" validate:"required,min=1,max=100" example:"uni"`
	FieldLabel   string          `json:"field_label" validate:"required,min=1,max=255" example:"University"`
	FieldType    string          `json:"field_type" validate:"required,oneof=text email phone textarea date select database" example:"database"`
	FieldOptions json.RawMessage `json:"field_options,omitempty" swaggertype:"object"`
	IsRequired   bool            `json:"is_required"`
}

type CreateFormRequest struct {
	Name   string       `json:"name" validate:"required,min=2,max=255" example:"Spring Recruitment"`
	Type   string       `json:"type" validate:"required,oneof=oGV TMR EWA" example:"oGV"`
	Fields []FieldInput `json:"fields,omitempty" validate:"omitempty,dive"`
}

type UpdateFormRequest struct {
	Name *string `json:"name,omitempty" validate:"omitempty,min=2,max=255"`
	Type *string `json:"type,omitempty" validate:"omitempty,oneof=oGV TMR EWA"`
}

type UpdateFieldRequest struct {
	FieldName    *string         `json:"field_name,omitempty" validate:"omitempty,min=1,max=100"`
	FieldLabel   *string         `json:"field_label,omitempty" validate:"omitempty,min=1,max=255"`
	FieldType    *string         `json:"field_type,omitempty" validate:"omitempty,oneof=text email phone textarea date select database"`
	FieldOptions json.RawMessage `json:"field_options,omitempty" swaggertype:"object"`
	IsRequired   *bool           `json:"is_required,omitempty"`
}

// ReorderFieldsRequest lists every field id of the form in the new order
type ReorderFieldsRequest struct {
	FieldIDs []uint `json:"field_ids" validate:"required,min=1,dive,gt=0"`
}

type ListFormsRequest struct {
	Type *string `query:"type" validate:"omitempty,oneof=oGV TMR EWA"`
}
