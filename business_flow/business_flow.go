package businessflow

import (
	"context"
	"encoding/json"
	"time"

	"github.com/amirphl/Kagutsuchi/app/dto"
	"github.com/amirphl/Kagutsuchi/models"
	"github.com/amirphl/Kagutsuchi/repository"
	"github.com/amirphl/Kagutsuchi/utils"
)

// ClientMetadata holds client information used for logging and click tracking
type ClientMetadata struct {
	IPAddress string `json:"ip_address"`
	UserAgent string `json:"user_agent"`
	Referrer  string `json:"referrer,omitempty"`
	Origin    string `json:"origin,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

// NewClientMetadata creates a new ClientMetadata instance with basic information
func NewClientMetadata(ipAddress, userAgent string) *ClientMetadata {
	return &ClientMetadata{
		IPAddress: ipAddress,
		UserAgent: userAgent,
	}
}

// SetRequestID sets the request ID
func (cm *ClientMetadata) SetRequestID(requestID string) {
	cm.RequestID = requestID
}

// Actor is the authenticated dashboard user performing an operation
type Actor struct {
	UserID   uint
	Role     string
	EntityID *uint
}

func (a Actor) IsAdmin() bool { return a.Role == models.RoleAdmin }
func (a Actor) IsLead() bool  { return a.Role == models.RoleLead }

// OwnsEntity reports whether the actor belongs to entityID
func (a Actor) OwnsEntity(entityID uint) bool {
	return a.EntityID != nil && *a.EntityID == entityID
}

func requireAdmin(a Actor) error {
	if a.UserID == 0 {
		return ErrUnauthenticated
	}
	if !a.IsAdmin() {
		return ErrForbidden
	}
	return nil
}

func requireUser(a Actor) error {
	if a.UserID == 0 {
		return ErrUnauthenticated
	}
	return nil
}

// scopeEntity narrows an entity filter to what the actor may see.
// Admins see everything; other roles only their own entity.
func scopeEntity(a Actor, requested *uint) (*uint, error) {
	if a.IsAdmin() {
		return requested, nil
	}
	if a.EntityID == nil {
		return nil, ErrLeadRequiresEntity
	}
	if requested != nil && *requested != *a.EntityID {
		return nil, ErrNotOwnEntity
	}
	return a.EntityID, nil
}

func paging(p dto.PageRequest) (page, size, offset int) {
	page = p.Page
	if page < 1 {
		page = 1
	}
	size = p.PageSize
	if size <= 0 {
		size = utils.DefaultPageSize
	}
	if size > utils.MaxPageSize {
		size = utils.MaxPageSize
	}
	return page, size, (page - 1) * size
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func formatTimePtr(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := formatTime(*t)
	return &s
}

// entityNames resolves display names for a set of entity ids
func entityNames(ctx context.Context, repo repository.EntityRepository, ids []uint) (map[uint]string, error) {
	out := make(map[uint]string, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	rows, err := repo.ByFilter(ctx, models.EntityFilter{IDs: ids}, "", 0, 0)
	if err != nil {
		return nil, err
	}
	for _, e := range rows {
		out[e.ID] = e.Name
	}
	return out, nil
}

func ToUserDTO(u *models.User, entityName string) dto.UserDTO {
	return dto.UserDTO{
		ID:          u.ID,
		Email:       u.Email,
		Name:        u.Name,
		Role:        u.Role,
		EntityID:    u.EntityID,
		EntityName:  entityName,
		IsActive:    u.IsActive,
		LastLoginAt: formatTimePtr(u.LastLoginAt),
		CreatedAt:   formatTime(u.CreatedAt),
	}
}

func ToEntityDTO(e *models.Entity) dto.EntityDTO {
	return dto.EntityDTO{
		ID:        e.ID,
		Name:      e.Name,
		Type:      e.Type,
		IsActive:  e.IsActive,
		CreatedAt: formatTime(e.CreatedAt),
	}
}

func ToFormFieldDTO(f *models.FormField) dto.FormFieldDTO {
	var opts json.RawMessage
	if len(f.FieldOptions) > 0 {
		opts = json.RawMessage(f.FieldOptions)
	}
	return dto.FormFieldDTO{
		ID:           f.ID,
		FieldName:    f.FieldName,
		FieldLabel:   f.FieldLabel,
		FieldType:    f.FieldType,
		FieldOptions: opts,
		IsRequired:   f.IsRequired,
		SortOrder:    f.SortOrder,
	}
}

func ToCampaignDTO(c *models.UtmCampaign) dto.CampaignDTO {
	return dto.CampaignDTO{
		ID:        c.ID,
		FormID:    c.FormID,
		EntityID:  c.EntityID,
		Code:      c.Code,
		Name:      c.Name,
		IsActive:  c.IsActive,
		CreatedAt: formatTime(c.CreatedAt),
	}
}

func ToNotificationDTO(n *models.Notification) dto.NotificationDTO {
	var data json.RawMessage
	if len(n.Data) > 0 {
		data = json.RawMessage(n.Data)
	}
	return dto.NotificationDTO{
		ID:        n.ID,
		Type:      n.Type,
		Title:     n.Title,
		Message:   n.Message,
		Data:      data,
		IsRead:    n.IsRead,
		ReadAt:    formatTimePtr(n.ReadAt),
		CreatedAt: formatTime(n.CreatedAt),
	}
}
