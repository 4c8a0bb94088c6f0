package handlers

import (
	"strconv"

	"github.com/amirphl/Kagutsuchi/app/dto"
	businessflow "github.com/amirphl/Kagutsuchi/business_flow"
	"github.com/gofiber/fiber/v3"
	"go.uber.org/zap"
)

// transparentGIF is a 1x1 transparent GIF served when a tracking request
// has nowhere to redirect to
var transparentGIF = []byte{
	0x47, 0x49, 0x46, 0x38, 0x39, 0x61, 0x01, 0x00, 0x01, 0x00, 0x80, 0x00, 0x00, 0x00, 0x00, 0x00,
	0xff, 0xff, 0xff, 0x21, 0xf9, 0x04, 0x01, 0x00, 0x00, 0x00, 0x00, 0x2c, 0x00, 0x00, 0x00, 0x00,
	0x01, 0x00, 0x01, 0x00, 0x00, 0x02, 0x02, 0x44, 0x01, 0x00, 0x3b,
}

type UtmHandlerInterface interface {
	ListCampaigns(c fiber.Ctx) error
	CreateCampaign(c fiber.Ctx) error
	UpdateCampaign(c fiber.Ctx) error
	DeleteCampaign(c fiber.Ctx) error
	ListSources(c fiber.Ctx) error
	CreateSource(c fiber.Ctx) error
	ListMediums(c fiber.Ctx) error
	CreateMedium(c fiber.Ctx) error
	GenerateLinks(c fiber.Ctx) error
	ListLinks(c fiber.Ctx) error
	GetLink(c fiber.Ctx) error
	DeleteLink(c fiber.Ctx) error
	GetSettings(c fiber.Ctx) error
	UpdateSettings(c fiber.Ctx) error
	TrackRedirect(c fiber.Ctx) error
	Track(c fiber.Ctx) error
}

// UtmHandler serves UTM vocabularies, link generation, hub settings and
// click tracking
type UtmHandler struct {
	baseHandler
	links    businessflow.UtmLinkFlow
	tracking businessflow.ClickTrackingFlow
}

func NewUtmHandler(links businessflow.UtmLinkFlow, tracking businessflow.ClickTrackingFlow, logger *zap.Logger) *UtmHandler {
	return &UtmHandler{
		baseHandler: newBaseHandler(logger, "utm_handler"),
		links:       links,
		tracking:    tracking,
	}
}

// ListCampaigns
// @Summary List campaigns
// @Tags UTM
// @Produce json
// @Security BearerAuth
// @Param form_id query int false "Form ID"
// @Param entity_id query int false "Owning entity ID"
// @Success 200 {object} dto.APIResponse{data=[]dto.CampaignDTO} "Campaigns retrieved"
// @Router /api/utm/campaigns [get]
func (h *UtmHandler) ListCampaigns(c fiber.Ctx) error {
	actor, ok, err := h.requireActor(c)
	if !ok {
		return err
	}
	q := newQueryParser(c)
	req := dto.ListCampaignsRequest{FormID: q.Uint("form_id"), EntityID: q.Uint("entity_id")}
	if ok, err := h.decodeQuery(c, q, &req); !ok {
		return err
	}

	ctx, cancel := h.createRequestContext(c, "/api/utm/campaigns")
	defer cancel()

	res, err := h.links.ListCampaigns(ctx, actor, &req)
	if err != nil {
		return h.handleError(c, err, "Failed to list campaigns")
	}
	return h.SuccessResponse(c, fiber.StatusOK, "Campaigns retrieved", res)
}

// CreateCampaign
// @Summary Create campaign
// @Description Campaign codes are unique per form.
// @Tags UTM
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body dto.CreateCampaignRequest true "Campaign"
// @Success 201 {object} dto.APIResponse{data=dto.CampaignDTO} "Campaign created"
// @Failure 400 {object} dto.APIResponse "Validation error or duplicate code"
// @Failure 403 {object} dto.APIResponse "Forbidden"
// @Router /api/utm/campaigns [post]
func (h *UtmHandler) CreateCampaign(c fiber.Ctx) error {
	actor, ok, err := h.requireActor(c)
	if !ok {
		return err
	}
	var req dto.CreateCampaignRequest
	if ok, err := h.decodeJSON(c, &req); !ok {
		return err
	}

	ctx, cancel := h.createRequestContext(c, "/api/utm/campaigns")
	defer cancel()

	res, err := h.links.CreateCampaign(ctx, actor, &req)
	if err != nil {
		return h.handleError(c, err, "Failed to create campaign")
	}
	return h.SuccessResponse(c, fiber.StatusCreated, "Campaign created", res)
}

// UpdateCampaign
// @Summary Update campaign
// @Tags UTM
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path int true "Campaign ID"
// @Param request body dto.UpdateCampaignRequest true "Changes"
// @Success 200 {object} dto.APIResponse{data=dto.CampaignDTO} "Campaign updated"
// @Failure 404 {object} dto.APIResponse "Campaign not found"
// @Router /api/utm/campaigns/{id} [put]
func (h *UtmHandler) UpdateCampaign(c fiber.Ctx) error {
	actor, ok, err := h.requireActor(c)
	if !ok {
		return err
	}
	id, ok, err := h.paramID(c, "id")
	if !ok {
		return err
	}
	var req dto.UpdateCampaignRequest
	if ok, err := h.decodeJSON(c, &req); !ok {
		return err
	}

	ctx, cancel := h.createRequestContext(c, "/api/utm/campaigns/:id")
	defer cancel()

	res, err := h.links.UpdateCampaign(ctx, actor, id, &req)
	if err != nil {
		return h.handleError(c, err, "Failed to update campaign")
	}
	return h.SuccessResponse(c, fiber.StatusOK, "Campaign updated", res)
}

// DeleteCampaign
// @Summary Delete campaign
// @Tags UTM
// @Produce json
// @Security BearerAuth
// @Param id path int true "Campaign ID"
// @Success 200 {object} dto.APIResponse "Campaign deleted"
// @Failure 404 {object} dto.APIResponse "Campaign not found"
// @Router /api/utm/campaigns/{id} [delete]
func (h *UtmHandler) DeleteCampaign(c fiber.Ctx) error {
	actor, ok, err := h.requireActor(c)
	if !ok {
		return err
	}
	id, ok, err := h.paramID(c, "id")
	if !ok {
		return err
	}

	ctx, cancel := h.createRequestContext(c, "/api/utm/campaigns/:id")
	defer cancel()

	if err := h.links.DeleteCampaign(ctx, actor, id); err != nil {
		return h.handleError(c, err, "Failed to delete campaign")
	}
	return h.SuccessResponse(c, fiber.StatusOK, "Campaign deleted", nil)
}

// ListSources
// @Summary List UTM sources
// @Tags UTM
// @Produce json
// @Security BearerAuth
// @Success 200 {object} dto.APIResponse{data=[]dto.VocabDTO} "Sources retrieved"
// @Router /api/utm/sources [get]
func (h *UtmHandler) ListSources(c fiber.Ctx) error {
	actor, ok, err := h.requireActor(c)
	if !ok {
		return err
	}

	ctx, cancel := h.createRequestContext(c, "/api/utm/sources")
	defer cancel()

	res, err := h.links.ListSources(ctx, actor)
	if err != nil {
		return h.handleError(c, err, "Failed to list sources")
	}
	return h.SuccessResponse(c, fiber.StatusOK, "Sources retrieved", res)
}

// CreateSource
// @Summary Create UTM source
// @Tags UTM
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body dto.CreateVocabRequest true "Source"
// @Success 201 {object} dto.APIResponse{data=dto.VocabDTO} "Source created"
// @Failure 400 {object} dto.APIResponse "Duplicate code"
// @Failure 403 {object} dto.APIResponse "Forbidden"
// @Router /api/utm/sources [post]
func (h *UtmHandler) CreateSource(c fiber.Ctx) error {
	actor, ok, err := h.requireActor(c)
	if !ok {
		return err
	}
	var req dto.CreateVocabRequest
	if ok, err := h.decodeJSON(c, &req); !ok {
		return err
	}

	ctx, cancel := h.createRequestContext(c, "/api/utm/sources")
	defer cancel()

	res, err := h.links.CreateSource(ctx, actor, &req)
	if err != nil {
		return h.handleError(c, err, "Failed to create source")
	}
	return h.SuccessResponse(c, fiber.StatusCreated, "Source created", res)
}

// ListMediums
// @Summary List UTM mediums
// @Tags UTM
// @Produce json
// @Security BearerAuth
// @Success 200 {object} dto.APIResponse{data=[]dto.VocabDTO} "Mediums retrieved"
// @Router /api/utm/mediums [get]
func (h *UtmHandler) ListMediums(c fiber.Ctx) error {
	actor, ok, err := h.requireActor(c)
	if !ok {
		return err
	}

	ctx, cancel := h.createRequestContext(c, "/api/utm/mediums")
	defer cancel()

	res, err := h.links.ListMediums(ctx, actor)
	if err != nil {
		return h.handleError(c, err, "Failed to list mediums")
	}
	return h.SuccessResponse(c, fiber.StatusOK, "Mediums retrieved", res)
}

// CreateMedium
// @Summary Create UTM medium
// @Tags UTM
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body dto.CreateVocabRequest true "Medium"
// @Success 201 {object} dto.APIResponse{data=dto.VocabDTO} "Medium created"
// @Failure 400 {object} dto.APIResponse "Duplicate code"
// @Failure 403 {object} dto.APIResponse "Forbidden"
// @Router /api/utm/mediums [post]
func (h *UtmHandler) CreateMedium(c fiber.Ctx) error {
	actor, ok, err := h.requireActor(c)
	if !ok {
		return err
	}
	var req dto.CreateVocabRequest
	if ok, err := h.decodeJSON(c, &req); !ok {
		return err
	}

	ctx, cancel := h.createRequestContext(c, "/api/utm/mediums")
	defer cancel()

	res, err := h.links.CreateMedium(ctx, actor, &req)
	if err != nil {
		return h.handleError(c, err, "Failed to create medium")
	}
	return h.SuccessResponse(c, fiber.StatusCreated, "Medium created", res)
}

// GenerateLinks creates one tracking link per source and medium pair
// @Summary Generate links
// @Description Produces the source x medium permutations for a campaign. Short URLs are filled in asynchronously when Short.io is configured.
// @Tags UTM
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body dto.GenerateLinksRequest true "Generation request"
// @Success 201 {object} dto.APIResponse{data=dto.GenerateLinksResponse} "Links generated"
// @Failure 400 {object} dto.APIResponse "Validation error or inactive campaign"
// @Failure 403 {object} dto.APIResponse "Not the lead's entity"
// @Failure 404 {object} dto.APIResponse "Campaign, source or medium not found"
// @Router /api/utm/links [post]
func (h *UtmHandler) GenerateLinks(c fiber.Ctx) error {
	actor, ok, err := h.requireActor(c)
	if !ok {
		return err
	}
	var req dto.GenerateLinksRequest
	if ok, err := h.decodeJSON(c, &req); !ok {
		return err
	}

	ctx, cancel := h.createRequestContext(c, "/api/utm/links")
	defer cancel()

	res, err := h.links.GenerateLinks(ctx, actor, &req)
	if err != nil {
		return h.handleError(c, err, "Failed to generate links")
	}
	return h.SuccessResponse(c, fiber.StatusCreated, "Links generated", res)
}

// ListLinks
// @Summary List links
// @Tags UTM
// @Produce json
// @Security BearerAuth
// @Param entity_id query int false "Entity ID"
// @Param campaign_id query int false "Campaign ID"
// @Param page query int false "Page number"
// @Param page_size query int false "Page size"
// @Success 200 {object} dto.APIResponse{data=dto.ListLinksResponse} "Links retrieved"
// @Router /api/utm/links [get]
func (h *UtmHandler) ListLinks(c fiber.Ctx) error {
	actor, ok, err := h.requireActor(c)
	if !ok {
		return err
	}
	q := newQueryParser(c)
	req := dto.ListLinksRequest{
		PageRequest: q.Page(),
		EntityID:    q.Uint("entity_id"),
		CampaignID:  q.Uint("campaign_id"),
	}
	if ok, err := h.decodeQuery(c, q, &req); !ok {
		return err
	}

	ctx, cancel := h.createRequestContext(c, "/api/utm/links")
	defer cancel()

	res, err := h.links.ListLinks(ctx, actor, &req)
	if err != nil {
		return h.handleError(c, err, "Failed to list links")
	}
	return h.SuccessResponse(c, fiber.StatusOK, "Links retrieved", res)
}

// GetLink
// @Summary Get link
// @Tags UTM
// @Produce json
// @Security BearerAuth
// @Param id path int true "Link ID"
// @Success 200 {object} dto.APIResponse{data=dto.LinkDTO} "Link retrieved"
// @Failure 404 {object} dto.APIResponse "Link not found"
// @Router /api/utm/links/{id} [get]
func (h *UtmHandler) GetLink(c fiber.Ctx) error {
	actor, ok, err := h.requireActor(c)
	if !ok {
		return err
	}
	id, ok, err := h.paramID(c, "id")
	if !ok {
		return err
	}

	ctx, cancel := h.createRequestContext(c, "/api/utm/links/:id")
	defer cancel()

	res, err := h.links.GetLink(ctx, actor, id)
	if err != nil {
		return h.handleError(c, err, "Failed to get link")
	}
	return h.SuccessResponse(c, fiber.StatusOK, "Link retrieved", res)
}

// DeleteLink
// @Summary Delete link
// @Tags UTM
// @Produce json
// @Security BearerAuth
// @Param id path int true "Link ID"
// @Success 200 {object} dto.APIResponse "Link deleted"
// @Failure 403 {object} dto.APIResponse "Forbidden"
// @Failure 404 {object} dto.APIResponse "Link not found"
// @Router /api/utm/links/{id} [delete]
func (h *UtmHandler) DeleteLink(c fiber.Ctx) error {
	actor, ok, err := h.requireActor(c)
	if !ok {
		return err
	}
	id, ok, err := h.paramID(c, "id")
	if !ok {
		return err
	}

	ctx, cancel := h.createRequestContext(c, "/api/utm/links/:id")
	defer cancel()

	if err := h.links.DeleteLink(ctx, actor, id); err != nil {
		return h.handleError(c, err, "Failed to delete link")
	}
	return h.SuccessResponse(c, fiber.StatusOK, "Link deleted", nil)
}

// GetSettings returns the effective hub base URLs
// @Summary Get hub settings
// @Tags UTM
// @Produce json
// @Security BearerAuth
// @Success 200 {object} dto.APIResponse{data=[]dto.HubSettingDTO} "Settings retrieved"
// @Router /api/utm/settings [get]
func (h *UtmHandler) GetSettings(c fiber.Ctx) error {
	actor, ok, err := h.requireActor(c)
	if !ok {
		return err
	}

	ctx, cancel := h.createRequestContext(c, "/api/utm/settings")
	defer cancel()

	res, err := h.links.GetHubSettings(ctx, actor)
	if err != nil {
		return h.handleError(c, err, "Failed to get hub settings")
	}
	return h.SuccessResponse(c, fiber.StatusOK, "Hub settings retrieved", res)
}

// UpdateSettings persists hub base URLs
// @Summary Update hub settings
// @Tags UTM
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body dto.UpdateHubSettingsRequest true "Settings"
// @Success 200 {object} dto.APIResponse{data=[]dto.HubSettingDTO} "Settings updated"
// @Failure 400 {object} dto.APIResponse "Invalid base URL"
// @Failure 403 {object} dto.APIResponse "Forbidden"
// @Router /api/utm/settings [put]
func (h *UtmHandler) UpdateSettings(c fiber.Ctx) error {
	actor, ok, err := h.requireActor(c)
	if !ok {
		return err
	}
	var req dto.UpdateHubSettingsRequest
	if ok, err := h.decodeJSON(c, &req); !ok {
		return err
	}

	ctx, cancel := h.createRequestContext(c, "/api/utm/settings")
	defer cancel()

	res, err := h.links.UpdateHubSettings(ctx, actor, &req)
	if err != nil {
		return h.handleError(c, err, "Failed to update hub settings")
	}
	return h.SuccessResponse(c, fiber.StatusOK, "Hub settings updated", res)
}

// TrackRedirect records a click and redirects the visitor
// @Summary Track and redirect
// @Description Always answers: 302 to url when it is an absolute http(s) URL, else to the link's tracking link, else a 1x1 GIF. Tracking failures never affect the response.
// @Tags UTM
// @Produce image/gif
// @Param id query int false "Link ID"
// @Param url query string false "Destination URL"
// @Param type query string false "Click type" Enums(click, view)
// @Success 302 "Redirect to destination"
// @Success 200 {file} file "Transparent pixel"
// @Router /api/utm/track [get]
func (h *UtmHandler) TrackRedirect(c fiber.Ctx) error {
	var linkID uint
	if n, err := strconv.ParseUint(c.Query("id"), 10, 64); err == nil {
		linkID = uint(n)
	}

	ctx, cancel := h.createRequestContext(c, "/api/utm/track")
	defer cancel()

	target := h.tracking.TrackAndResolve(ctx, businessflow.TrackInput{
		LinkID:    linkID,
		ClickType: c.Query("type"),
		Client:    clientMetadata(c),
	}, c.Query("url"))

	c.Set(fiber.HeaderCacheControl, "no-store")
	if target != "" {
		return c.Redirect().Status(fiber.StatusFound).To(target)
	}
	c.Set(fiber.HeaderContentType, "image/gif")
	return c.Status(fiber.StatusOK).Send(transparentGIF)
}

// Track records a click or view without redirecting
// @Summary Track click
// @Tags UTM
// @Accept json
// @Produce json
// @Param request body dto.TrackClickRequest true "Click"
// @Success 200 {object} dto.APIResponse{data=dto.TrackClickResponse} "Click recorded"
// @Failure 400 {object} dto.APIResponse "Validation error"
// @Failure 404 {object} dto.APIResponse "Link not found"
// @Router /api/utm/track [post]
func (h *UtmHandler) Track(c fiber.Ctx) error {
	var req dto.TrackClickRequest
	if ok, err := h.decodeJSON(c, &req); !ok {
		return err
	}

	ctx, cancel := h.createRequestContext(c, "/api/utm/track")
	defer cancel()

	res, err := h.tracking.Track(ctx, businessflow.TrackInput{
		LinkID:    req.ID,
		ClickType: req.ClickType,
		Client:    clientMetadata(c),
	})
	if err != nil {
		return h.handleError(c, err, "Failed to track click")
	}
	return h.SuccessResponse(c, fiber.StatusOK, "Click recorded", res)
}
