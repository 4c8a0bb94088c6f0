package dto

type CampaignDTO struct {
	ID        uint   `json:"id"`
	FormID    uint   `json:"form_id"`
	EntityID  *uint  `json:"entity_id,omitempty"`
	Code      string `json:"code" example:"spring26"`
	Name      string `json:"name" example:"Spring 2026"`
	IsActive  bool   `json:"is_active"`
	CreatedAt string `json:"created_at"`
}

type CreateCampaignRequest struct {
	FormID   uint   `json:"form_id" validate:"required"`
	EntityID *uint  `json:"entity_id,omitempty"`
	Code     string `json:"code" validate:"required,min=1,max=100" example:"spring26"`
	Name     string `json:"name" validate:"required,min=1,max=255" example:"Spring 2026"`
}

type UpdateCampaignRequest struct {
	Name     *string `json:"name,omitempty" validate:"omitempty,min=1,max=255"`
	EntityID *uint   `json:"entity_id,omitempty"`
	IsActive *bool   `json:"is_active,omitempty"`
}

type ListCampaignsRequest struct {
	FormID   *uint `query:"form_id"`
	EntityID *uint `query:"entity_id"`
}

// VocabDTO is a utm_source or utm_medium entry
type VocabDTO struct {
	ID   uint   `json:"id"`
	Code string `json:"code" example:"instagram"`
	Name string `json:"name" example:"Instagram"`
}

type CreateVocabRequest struct {
	Code string `json:"code" validate:"required,min=1,max=100"`
	Name string `json:"name" validate:"required,min=1,max=255"`
}

// GenerateLinksRequest creates one link per source x medium pair
type GenerateLinksRequest struct {
	EntityID   uint   `json:"entity_id" validate:"required"`
	CampaignID uint   `json:"campaign_id" validate:"required"`
	SourceIDs  []uint `json:"source_ids" validate:"required,min=1,max=50,dive,gt=0"`
	MediumIDs  []uint `json:"medium_ids" validate:"required,min=1,max=50,dive,gt=0"`
	UtmName    string `json:"utm_name,omitempty" validate:"omitempty,max=255"`
	CustomName string `json:"custom_name,omitempty" validate:"omitempty,max=255"`
}

type LinkDTO struct {
	ID           uint    `json:"id"`
	EntityID     uint    `json:"entity_id"`
	CampaignID   uint    `json:"campaign_id"`
	CampaignCode string  `json:"campaign_code,omitempty"`
	SourceID     uint    `json:"source_id"`
	SourceCode   string  `json:"source_code,omitempty"`
	MediumID     uint    `json:"medium_id"`
	MediumCode   string  `json:"medium_code,omitempty"`
	UtmName      string  `json:"utm_name,omitempty"`
	CustomName   string  `json:"custom_name,omitempty"`
	HubType      string  `json:"hub_type"`
	BaseURL      string  `json:"base_url"`
	TrackingLink string  `json:"tracking_link"`
	TrackingURL  string  `json:"tracking_url"`
	ShortURL     *string `json:"short_url,omitempty"`
	TotalClicks  int64   `json:"total_clicks"`
	UniqueClicks int64   `json:"unique_clicks"`
	LastClickAt  *string `json:"last_click_at,omitempty"`
	CreatedAt    string  `json:"created_at"`
}

type GenerateLinksResponse struct {
	Links []LinkDTO `json:"links"`
}

type ListLinksRequest struct {
	PageRequest
	EntityID   *uint `query:"entity_id"`
	CampaignID *uint `query:"campaign_id"`
}

type ListLinksResponse struct {
	Items      []LinkDTO  `json:"items"`
	Pagination Pagination `json:"pagination"`
}

// HubSettingDTO reports the effective base URL of a hub
type HubSettingDTO struct {
	HubType   string  `json:"hub_type" example:"oGV"`
	BaseURL   string  `json:"base_url"`
	Source    string  `json:"source" example:"setting"`
	UpdatedAt *string `json:"updated_at,omitempty"`
}

type HubSettingInput struct {
	HubType string `json:"hub_type" validate:"required,oneof=oGV TMR"`
	BaseURL string `json:"base_url" validate:"required,url,max=2048"`
}

type UpdateHubSettingsRequest struct {
	Settings []HubSettingInput `json:"settings" validate:"required,min=1,max=2,dive"`
}

type TrackClickRequest struct {
	ID        uint   `json:"id" validate:"required"`
	ClickType string `json:"click_type,omitempty" validate:"omitempty,oneof=click view"`
}

type TrackClickResponse struct {
	Recorded bool `json:"recorded"`
	IsUnique bool `json:"is_unique"`
}
