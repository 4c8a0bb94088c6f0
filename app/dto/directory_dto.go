package dto

// EntityDTO is a local chapter or national bucket
type EntityDTO struct {
	ID        uint   `json:"id" example:"7"`
	Name      string `json:"name" example:"Tehran"`
	Type      string `json:"type" example:"local"`
	IsActive  bool   `json:"is_active"`
	CreatedAt string `json:"created_at"`
}

type CreateEntityRequest struct {
	Name string `json:"name" validate:"required,min=2,max=255" example:"Tehran"`
	Type string `json:"type" validate:"required,oneof=local national" example:"local"`
}

type ListEntitiesRequest struct {
	Type       *string `query:"type" validate:"omitempty,oneof=local national"`
	ActiveOnly bool    `query:"active_only"`
}

// UniMappingDTO maps a university to its owning entity
type UniMappingDTO struct {
	ID         uint   `json:"id"`
	UniID      int64  `json:"uni_id" example:"1001"`
	UniName    string `json:"uni_name" example:"Alpha University"`
	EntityID   uint   `json:"entity_id" example:"7"`
	EntityName string `json:"entity_name,omitempty"`
}

type CreateUniMappingRequest struct {
	UniID    int64  `json:"uni_id" validate:"required,gt=0" example:"1001"`
	UniName  string `json:"uni_name" validate:"required,min=2,max=255" example:"Alpha University"`
	EntityID uint   `json:"entity_id" validate:"required" example:"7"`
}

type ListUniMappingsRequest struct {
	EntityID *uint  `query:"entity_id"`
	Query    string `query:"q" validate:"omitempty,max=255"`
}

type CreateUserRequest struct {
	Email    string `json:"email" validate:"required,email,max=255"`
	Name     string `json:"name" validate:"required,min=2,max=255"`
	Password string `json:"password" validate:"required,min=8,max=100"`
	Role     string `json:"role" validate:"required,oneof=admin lead member"`
	EntityID *uint  `json:"entity_id,omitempty"`
}

type ListUsersRequest struct {
	Role     *string `query:"role" validate:"omitempty,oneof=admin lead member"`
	EntityID *uint   `query:"entity_id"`
}
