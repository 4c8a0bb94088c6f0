package dto

type CreateAllocationRequest struct {
	SubmissionID uint   `json:"submission_id" validate:"required" example:"512"`
	EntityID     uint   `json:"entity_id" validate:"required" example:"7"`
	Notes        string `json:"notes,omitempty" validate:"omitempty,max=2000"`
}

// ProcessAllocationRequest approves or rejects a pending request
type ProcessAllocationRequest struct {
	Action     string `json:"action" validate:"required,oneof=approve reject" example:"approve"`
	AdminNotes string `json:"admin_notes,omitempty" validate:"omitempty,max=2000"`
}

type AppendAdminNotesRequest struct {
	Note string `json:"note" validate:"required,min=1,max=2000"`
}

type ListAllocationRequestsRequest struct {
	PageRequest
	Status       *string `query:"status" validate:"omitempty,oneof=pending approved rejected"`
	SubmissionID *uint   `query:"submission_id"`
}

type AllocationRequestDTO struct {
	ID                  uint    `json:"id"`
	SubmissionID        uint    `json:"submission_id"`
	RequestedBy         uint    `json:"requested_by"`
	RequesterName       string  `json:"requester_name,omitempty"`
	RequestedEntityID   uint    `json:"requested_entity_id"`
	RequestedEntityName string  `json:"requested_entity_name,omitempty"`
	Status              string  `json:"status" example:"pending"`
	Notes               string  `json:"notes,omitempty"`
	AdminNotes          string  `json:"admin_notes,omitempty"`
	ProcessedBy         *uint   `json:"processed_by,omitempty"`
	ProcessedAt         *string `json:"processed_at,omitempty"`
	CreatedAt           string  `json:"created_at"`
	UpdatedAt           string  `json:"updated_at"`
}

type ListAllocationRequestsResponse struct {
	Items      []AllocationRequestDTO `json:"items"`
	Pagination Pagination             `json:"pagination"`
}
