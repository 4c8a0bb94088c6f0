package businessflow

import (
	"context"
	"errors"
	"net/url"
	"strconv"
	"strings"

	"github.com/amirphl/Kagutsuchi/app/dto"
	"github.com/amirphl/Kagutsuchi/app/services"
	"github.com/amirphl/Kagutsuchi/config"
	"github.com/amirphl/Kagutsuchi/models"
	"github.com/amirphl/Kagutsuchi/repository"
	"github.com/amirphl/Kagutsuchi/utils"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Hub setting origins reported by GetHubSettings
const (
	HubSettingSourceSetting = "setting"
	HubSettingSourceDefault = "default"
)

// UtmLinkFlow handles the UTM vocabulary, link generation and hub settings
type UtmLinkFlow interface {
	ListCampaigns(ctx context.Context, actor Actor, req *dto.ListCampaignsRequest) ([]dto.CampaignDTO, error)
	CreateCampaign(ctx context.Context, actor Actor, req *dto.CreateCampaignRequest) (*dto.CampaignDTO, error)
	UpdateCampaign(ctx context.Context, actor Actor, id uint, req *dto.UpdateCampaignRequest) (*dto.CampaignDTO, error)
	DeleteCampaign(ctx context.Context, actor Actor, id uint) error

	ListSources(ctx context.Context, actor Actor) ([]dto.VocabDTO, error)
	CreateSource(ctx context.Context, actor Actor, req *dto.CreateVocabRequest) (*dto.VocabDTO, error)
	ListMediums(ctx context.Context, actor Actor) ([]dto.VocabDTO, error)
	CreateMedium(ctx context.Context, actor Actor, req *dto.CreateVocabRequest) (*dto.VocabDTO, error)

	GenerateLinks(ctx context.Context, actor Actor, req *dto.GenerateLinksRequest) (*dto.GenerateLinksResponse, error)
	ListLinks(ctx context.Context, actor Actor, req *dto.ListLinksRequest) (*dto.ListLinksResponse, error)
	GetLink(ctx context.Context, actor Actor, id uint) (*dto.LinkDTO, error)
	DeleteLink(ctx context.Context, actor Actor, id uint) error

	GetHubSettings(ctx context.Context, actor Actor) ([]dto.HubSettingDTO, error)
	UpdateHubSettings(ctx context.Context, actor Actor, req *dto.UpdateHubSettingsRequest) ([]dto.HubSettingDTO, error)
}

// UtmLinkFlowImpl implements UtmLinkFlow
type UtmLinkFlowImpl struct {
	formRepo     repository.FormRepository
	entityRepo   repository.EntityRepository
	campaignRepo repository.UtmCampaignRepository
	sourceRepo   repository.UtmSourceRepository
	mediumRepo   repository.UtmMediumRepository
	linkRepo     repository.UtmLinkRepository
	hubRepo      repository.HubSettingRepository
	shortener    services.LinkShortener
	tasks        services.TaskRunner
	utmCfg       config.UTMConfig
	db           *gorm.DB
	logger       *zap.Logger
}

func NewUtmLinkFlow(
	formRepo repository.FormRepository,
	entityRepo repository.EntityRepository,
	campaignRepo repository.UtmCampaignRepository,
	sourceRepo repository.UtmSourceRepository,
	mediumRepo repository.UtmMediumRepository,
	linkRepo repository.UtmLinkRepository,
	hubRepo repository.HubSettingRepository,
	shortener services.LinkShortener,
	tasks services.TaskRunner,
	utmCfg config.UTMConfig,
	db *gorm.DB,
	logger *zap.Logger,
) UtmLinkFlow {
	return &UtmLinkFlowImpl{
		formRepo:     formRepo,
		entityRepo:   entityRepo,
		campaignRepo: campaignRepo,
		sourceRepo:   sourceRepo,
		mediumRepo:   mediumRepo,
		linkRepo:     linkRepo,
		hubRepo:      hubRepo,
		shortener:    shortener,
		tasks:        tasks,
		utmCfg:       utmCfg,
		db:           db,
		logger:       logger.Named("utm_link_flow"),
	}
}

// BuildTrackingLink appends the UTM query to base in the fixed order
// utm_campaign, utm_source, utm_medium and, when set, utm_name.
func BuildTrackingLink(base, campaign, source, medium, name string) string {
	var q strings.Builder
	q.WriteString("utm_campaign=" + url.QueryEscape(campaign))
	q.WriteString("&utm_source=" + url.QueryEscape(source))
	q.WriteString("&utm_medium=" + url.QueryEscape(medium))
	if name != "" {
		q.WriteString("&utm_name=" + url.QueryEscape(name))
	}

	fragment := ""
	if i := strings.Index(base, "#"); i >= 0 {
		base, fragment = base[:i], base[i:]
	}
	sep := "?"
	switch {
	case strings.HasSuffix(base, "?") || strings.HasSuffix(base, "&"):
		sep = ""
	case strings.Contains(base, "?"):
		sep = "&"
	}
	return base + sep + q.String() + fragment
}

// BuildTrackingURL is the redirecting tracker address of a link
func BuildTrackingURL(backendHost string, linkID uint, trackingLink string) string {
	return strings.TrimRight(backendHost, "/") + "/api/utm/track?id=" + strconv.FormatUint(uint64(linkID), 10) +
		"&url=" + url.QueryEscape(trackingLink)
}

func isAbsoluteHTTPURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

// Campaigns

func (f *UtmLinkFlowImpl) ListCampaigns(ctx context.Context, actor Actor, req *dto.ListCampaignsRequest) ([]dto.CampaignDTO, error) {
	if err := requireUser(actor); err != nil {
		return nil, NewBusinessError("UNAUTHENTICATED", "Authentication required", err)
	}
	rows, err := f.campaignRepo.ByFilter(ctx, models.UtmCampaignFilter{FormID: req.FormID, EntityID: req.EntityID}, "code ASC", 0, 0)
	if err != nil {
		return nil, NewBusinessError("LIST_CAMPAIGNS_FAILED", "Failed to list campaigns", err)
	}
	out := make([]dto.CampaignDTO, 0, len(rows))
	for _, c := range rows {
		out = append(out, ToCampaignDTO(c))
	}
	return out, nil
}

func (f *UtmLinkFlowImpl) CreateCampaign(ctx context.Context, actor Actor, req *dto.CreateCampaignRequest) (*dto.CampaignDTO, error) {
	if err := requireAdmin(actor); err != nil {
		return nil, NewBusinessError("FORBIDDEN", "Only admins can manage campaigns", err)
	}
	form, err := f.formRepo.ByID(ctx, req.FormID)
	if err != nil {
		return nil, NewBusinessError("CREATE_CAMPAIGN_FAILED", "Failed to load form", err)
	}
	if form == nil {
		return nil, NewBusinessError("FORM_NOT_FOUND", "Form not found", ErrFormNotFound)
	}
	if req.EntityID != nil {
		if err := f.ensureEntity(ctx, *req.EntityID); err != nil {
			return nil, err
		}
	}

	code := strings.TrimSpace(req.Code)
	exists, err := f.campaignRepo.Exists(ctx, models.UtmCampaignFilter{FormID: &form.ID, Code: &code})
	if err != nil {
		return nil, NewBusinessError("CREATE_CAMPAIGN_FAILED", "Failed to check campaign code", err)
	}
	if exists {
		return nil, NewBusinessError("CAMPAIGN_CODE_EXISTS", "Campaign code already exists for this form", ErrCampaignCodeExists)
	}

	campaign := &models.UtmCampaign{
		FormID:   form.ID,
		EntityID: req.EntityID,
		Code:     code,
		Name:     strings.TrimSpace(req.Name),
		IsActive: true,
	}
	if err := f.campaignRepo.Save(ctx, campaign); err != nil {
		return nil, NewBusinessError("CREATE_CAMPAIGN_FAILED", "Failed to create campaign", err)
	}
	out := ToCampaignDTO(campaign)
	return &out, nil
}

func (f *UtmLinkFlowImpl) UpdateCampaign(ctx context.Context, actor Actor, id uint, req *dto.UpdateCampaignRequest) (*dto.CampaignDTO, error) {
	if err := requireAdmin(actor); err != nil {
		return nil, NewBusinessError("FORBIDDEN", "Only admins can manage campaigns", err)
	}
	campaign, err := f.loadCampaign(ctx, id)
	if err != nil {
		return nil, err
	}
	if req.Name != nil {
		campaign.Name = strings.TrimSpace(*req.Name)
	}
	if req.EntityID != nil {
		if err := f.ensureEntity(ctx, *req.EntityID); err != nil {
			return nil, err
		}
		campaign.EntityID = req.EntityID
	}
	if req.IsActive != nil {
		campaign.IsActive = *req.IsActive
	}
	if err := f.campaignRepo.Update(ctx, campaign); err != nil {
		return nil, NewBusinessError("UPDATE_CAMPAIGN_FAILED", "Failed to update campaign", err)
	}
	out := ToCampaignDTO(campaign)
	return &out, nil
}

func (f *UtmLinkFlowImpl) DeleteCampaign(ctx context.Context, actor Actor, id uint) error {
	if err := requireAdmin(actor); err != nil {
		return NewBusinessError("FORBIDDEN", "Only admins can manage campaigns", err)
	}
	if _, err := f.loadCampaign(ctx, id); err != nil {
		return err
	}
	if err := f.campaignRepo.Delete(ctx, id); err != nil {
		return NewBusinessError("DELETE_CAMPAIGN_FAILED", "Failed to delete campaign", err)
	}
	return nil
}

// Sources and mediums

func (f *UtmLinkFlowImpl) ListSources(ctx context.Context, actor Actor) ([]dto.VocabDTO, error) {
	if err := requireUser(actor); err != nil {
		return nil, NewBusinessError("UNAUTHENTICATED", "Authentication required", err)
	}
	rows, err := f.sourceRepo.ByFilter(ctx, models.UtmVocabFilter{}, "code ASC", 0, 0)
	if err != nil {
		return nil, NewBusinessError("LIST_SOURCES_FAILED", "Failed to list sources", err)
	}
	out := make([]dto.VocabDTO, 0, len(rows))
	for _, s := range rows {
		out = append(out, dto.VocabDTO{ID: s.ID, Code: s.Code, Name: s.Name})
	}
	return out, nil
}

func (f *UtmLinkFlowImpl) CreateSource(ctx context.Context, actor Actor, req *dto.CreateVocabRequest) (*dto.VocabDTO, error) {
	if err := requireAdmin(actor); err != nil {
		return nil, NewBusinessError("FORBIDDEN", "Only admins can manage sources", err)
	}
	code := strings.TrimSpace(req.Code)
	exists, err := f.sourceRepo.Exists(ctx, models.UtmVocabFilter{Code: &code})
	if err != nil {
		return nil, NewBusinessError("CREATE_SOURCE_FAILED", "Failed to check source code", err)
	}
	if exists {
		return nil, NewBusinessErrorf("VOCAB_CODE_EXISTS", "Source %s already exists", ErrVocabCodeExists, code)
	}
	row := &models.UtmSource{Code: code, Name: strings.TrimSpace(req.Name)}
	if err := f.sourceRepo.Save(ctx, row); err != nil {
		return nil, NewBusinessError("CREATE_SOURCE_FAILED", "Failed to create source", err)
	}
	return &dto.VocabDTO{ID: row.ID, Code: row.Code, Name: row.Name}, nil
}

func (f *UtmLinkFlowImpl) ListMediums(ctx context.Context, actor Actor) ([]dto.VocabDTO, error) {
	if err := requireUser(actor); err != nil {
		return nil, NewBusinessError("UNAUTHENTICATED", "Authentication required", err)
	}
	rows, err := f.mediumRepo.ByFilter(ctx, models.UtmVocabFilter{}, "code ASC", 0, 0)
	if err != nil {
		return nil, NewBusinessError("LIST_MEDIUMS_FAILED", "Failed to list mediums", err)
	}
	out := make([]dto.VocabDTO, 0, len(rows))
	for _, m := range rows {
		out = append(out, dto.VocabDTO{ID: m.ID, Code: m.Code, Name: m.Name})
	}
	return out, nil
}

func (f *UtmLinkFlowImpl) CreateMedium(ctx context.Context, actor Actor, req *dto.CreateVocabRequest) (*dto.VocabDTO, error) {
	if err := requireAdmin(actor); err != nil {
		return nil, NewBusinessError("FORBIDDEN", "Only admins can manage mediums", err)
	}
	code := strings.TrimSpace(req.Code)
	exists, err := f.mediumRepo.Exists(ctx, models.UtmVocabFilter{Code: &code})
	if err != nil {
		return nil, NewBusinessError("CREATE_MEDIUM_FAILED", "Failed to check medium code", err)
	}
	if exists {
		return nil, NewBusinessErrorf("VOCAB_CODE_EXISTS", "Medium %s already exists", ErrVocabCodeExists, code)
	}
	row := &models.UtmMedium{Code: code, Name: strings.TrimSpace(req.Name)}
	if err := f.mediumRepo.Save(ctx, row); err != nil {
		return nil, NewBusinessError("CREATE_MEDIUM_FAILED", "Failed to create medium", err)
	}
	return &dto.VocabDTO{ID: row.ID, Code: row.Code, Name: row.Name}, nil
}

// Links

// GenerateLinks creates one link per source x medium pair. Each link freezes
// the hub base URL current at creation time.
func (f *UtmLinkFlowImpl) GenerateLinks(ctx context.Context, actor Actor, req *dto.GenerateLinksRequest) (*dto.GenerateLinksResponse, error) {
	ctx, span := services.Tracer().Start(ctx, "utm.generate_links")
	defer span.End()
	span.SetAttributes(
		attribute.Int64("utm.campaign_id", int64(req.CampaignID)),
		attribute.Int64("utm.entity_id", int64(req.EntityID)),
	)

	resp, err := f.generate(ctx, actor, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(attribute.Int("utm.links", len(resp.Links)))
	return resp, nil
}

func (f *UtmLinkFlowImpl) generate(ctx context.Context, actor Actor, req *dto.GenerateLinksRequest) (*dto.GenerateLinksResponse, error) {
	if err := requireUser(actor); err != nil {
		return nil, NewBusinessError("UNAUTHENTICATED", "Authentication required", err)
	}
	if !actor.IsAdmin() && !actor.IsLead() {
		return nil, NewBusinessError("FORBIDDEN", "Only admins and leads can generate links", ErrForbidden)
	}
	if actor.IsLead() && !actor.OwnsEntity(req.EntityID) {
		return nil, NewBusinessError("ENTITY_SCOPE_DENIED", "Leads can only generate links for their own entity", ErrNotOwnEntity)
	}
	if err := f.ensureEntity(ctx, req.EntityID); err != nil {
		return nil, err
	}

	campaign, err := f.loadCampaign(ctx, req.CampaignID)
	if err != nil {
		return nil, err
	}
	if !campaign.IsActive {
		return nil, NewBusinessError("CAMPAIGN_INACTIVE", "Campaign is inactive", ErrCampaignInactive)
	}
	form, err := f.formRepo.ByID(ctx, campaign.FormID)
	if err != nil {
		return nil, NewBusinessError("GENERATE_LINKS_FAILED", "Failed to load campaign form", err)
	}
	if form == nil {
		return nil, NewBusinessError("FORM_NOT_FOUND", "Campaign form not found", ErrFormNotFound)
	}

	sources, err := f.sourceRepo.ByFilter(ctx, models.UtmVocabFilter{IDs: uniqueIDs(req.SourceIDs)}, "id ASC", 0, 0)
	if err != nil {
		return nil, NewBusinessError("GENERATE_LINKS_FAILED", "Failed to load sources", err)
	}
	if len(sources) != len(uniqueIDs(req.SourceIDs)) {
		return nil, NewBusinessError("SOURCE_NOT_FOUND", "One or more sources do not exist", ErrSourceNotFound)
	}
	mediums, err := f.mediumRepo.ByFilter(ctx, models.UtmVocabFilter{IDs: uniqueIDs(req.MediumIDs)}, "id ASC", 0, 0)
	if err != nil {
		return nil, NewBusinessError("GENERATE_LINKS_FAILED", "Failed to load mediums", err)
	}
	if len(mediums) != len(uniqueIDs(req.MediumIDs)) {
		return nil, NewBusinessError("MEDIUM_NOT_FOUND", "One or more mediums do not exist", ErrMediumNotFound)
	}

	hubType := models.HubForFormType(form.Type)
	base, err := f.hubBase(ctx, hubType)
	if err != nil {
		return nil, err
	}

	utmName := strings.TrimSpace(req.UtmName)
	customName := strings.TrimSpace(req.CustomName)
	links := make([]*models.UtmLink, 0, len(sources)*len(mediums))
	for _, s := range sources {
		for _, m := range mediums {
			links = append(links, &models.UtmLink{
				EntityID:     req.EntityID,
				CampaignID:   campaign.ID,
				SourceID:     s.ID,
				MediumID:     m.ID,
				UtmName:      utmName,
				CustomName:   customName,
				HubType:      hubType,
				BaseURL:      base,
				TrackingLink: BuildTrackingLink(base, campaign.Code, s.Code, m.Code, utmName),
				CreatedBy:    &actor.UserID,
			})
		}
	}

	err = repository.WithTransaction(ctx, f.db, func(txCtx context.Context) error {
		for _, link := range links {
			if err := f.linkRepo.Save(txCtx, link); err != nil {
				return err
			}
			link.TrackingURL = BuildTrackingURL(f.utmCfg.BackendHost, link.ID, link.TrackingLink)
			if err := f.linkRepo.SetTrackingURL(txCtx, link.ID, link.TrackingURL); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, NewBusinessError("GENERATE_LINKS_FAILED", "Failed to save links", err)
	}

	f.enqueueShortening(links, campaign.Code)

	sourceCodes := make(map[uint]string, len(sources))
	for _, s := range sources {
		sourceCodes[s.ID] = s.Code
	}
	mediumCodes := make(map[uint]string, len(mediums))
	for _, m := range mediums {
		mediumCodes[m.ID] = m.Code
	}
	resp := &dto.GenerateLinksResponse{Links: make([]dto.LinkDTO, 0, len(links))}
	for _, link := range links {
		resp.Links = append(resp.Links, toLinkDTO(link, campaign.Code, sourceCodes[link.SourceID], mediumCodes[link.MediumID]))
	}

	f.logger.Info("UTM links generated",
		zap.Uint("campaign_id", campaign.ID),
		zap.Uint("entity_id", req.EntityID),
		zap.String("hub_type", hubType),
		zap.Int("count", len(links)),
		zap.Uint("created_by", actor.UserID))
	return resp, nil
}

// enqueueShortening asks the shortener for a short url per link. Failures
// leave short_url empty.
func (f *UtmLinkFlowImpl) enqueueShortening(links []*models.UtmLink, campaignCode string) {
	if f.shortener == nil || f.tasks == nil {
		return
	}
	for _, link := range links {
		id, target := link.ID, link.TrackingURL
		title := link.CustomName
		if title == "" {
			title = campaignCode
		}
		accepted := f.tasks.Enqueue("utm_link_shorten", func(ctx context.Context) error {
			short, err := f.shortener.Shorten(ctx, target, title)
			if errors.Is(err, services.ErrShortenerDisabled) {
				return nil
			}
			if err != nil {
				return err
			}
			return f.linkRepo.SetShortURL(ctx, id, short)
		})
		if !accepted {
			f.logger.Warn("Shortening skipped, task queue full", zap.Uint("link_id", id))
		}
	}
}

func (f *UtmLinkFlowImpl) ListLinks(ctx context.Context, actor Actor, req *dto.ListLinksRequest) (*dto.ListLinksResponse, error) {
	if err := requireUser(actor); err != nil {
		return nil, NewBusinessError("UNAUTHENTICATED", "Authentication required", err)
	}
	entityID, err := scopeEntity(actor, req.EntityID)
	if err != nil {
		return nil, NewBusinessError("ENTITY_SCOPE_DENIED", "Cannot list links of another entity", err)
	}
	filter := models.UtmLinkFilter{EntityID: entityID, CampaignID: req.CampaignID}
	page, size, offset := paging(req.PageRequest)

	total, err := f.linkRepo.Count(ctx, filter)
	if err != nil {
		return nil, NewBusinessError("LIST_LINKS_FAILED", "Failed to count links", err)
	}
	rows, err := f.linkRepo.ByFilter(ctx, filter, "created_at DESC, id DESC", size, offset)
	if err != nil {
		return nil, NewBusinessError("LIST_LINKS_FAILED", "Failed to list links", err)
	}
	items, err := f.linkDTOs(ctx, rows)
	if err != nil {
		return nil, err
	}
	return &dto.ListLinksResponse{
		Items:      items,
		Pagination: dto.Pagination{Page: page, PageSize: size, Total: total},
	}, nil
}

func (f *UtmLinkFlowImpl) GetLink(ctx context.Context, actor Actor, id uint) (*dto.LinkDTO, error) {
	link, err := f.authorizedLink(ctx, actor, id)
	if err != nil {
		return nil, err
	}
	items, err := f.linkDTOs(ctx, []*models.UtmLink{link})
	if err != nil {
		return nil, err
	}
	return &items[0], nil
}

func (f *UtmLinkFlowImpl) DeleteLink(ctx context.Context, actor Actor, id uint) error {
	link, err := f.authorizedLink(ctx, actor, id)
	if err != nil {
		return err
	}
	if !actor.IsAdmin() && !actor.IsLead() {
		return NewBusinessError("FORBIDDEN", "Only admins and leads can delete links", ErrForbidden)
	}
	if err := f.linkRepo.Delete(ctx, link.ID); err != nil {
		return NewBusinessError("DELETE_LINK_FAILED", "Failed to delete link", err)
	}
	f.logger.Info("UTM link deleted", zap.Uint("link_id", link.ID), zap.Uint("deleted_by", actor.UserID))
	return nil
}

// Hub settings

func (f *UtmLinkFlowImpl) GetHubSettings(ctx context.Context, actor Actor) ([]dto.HubSettingDTO, error) {
	if err := requireUser(actor); err != nil {
		return nil, NewBusinessError("UNAUTHENTICATED", "Authentication required", err)
	}
	return f.hubSettings(ctx)
}

func (f *UtmLinkFlowImpl) UpdateHubSettings(ctx context.Context, actor Actor, req *dto.UpdateHubSettingsRequest) ([]dto.HubSettingDTO, error) {
	if err := requireAdmin(actor); err != nil {
		return nil, NewBusinessError("FORBIDDEN", "Only admins can change hub settings", err)
	}
	for _, in := range req.Settings {
		if in.HubType != models.HubTypeOGV && in.HubType != models.HubTypeTMR {
			return nil, NewBusinessErrorf("INVALID_HUB_TYPE", "Unknown hub type %s", ErrInvalidHubType, in.HubType)
		}
		if !isAbsoluteHTTPURL(strings.TrimSpace(in.BaseURL)) {
			return nil, NewBusinessError("INVALID_BASE_URL", "Base URL must be an absolute http(s) URL", ErrInvalidBaseURL)
		}
	}

	err := repository.WithTransaction(ctx, f.db, func(txCtx context.Context) error {
		for _, in := range req.Settings {
			setting := &models.HubSetting{
				HubType:   in.HubType,
				BaseURL:   strings.TrimSpace(in.BaseURL),
				UpdatedBy: &actor.UserID,
				UpdatedAt: utils.UTCNow(),
			}
			if err := f.hubRepo.Upsert(txCtx, setting); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, NewBusinessError("UPDATE_HUB_SETTINGS_FAILED", "Failed to save hub settings", err)
	}
	f.logger.Info("Hub settings updated", zap.Int("count", len(req.Settings)), zap.Uint("updated_by", actor.UserID))
	return f.hubSettings(ctx)
}

func (f *UtmLinkFlowImpl) hubSettings(ctx context.Context) ([]dto.HubSettingDTO, error) {
	out := make([]dto.HubSettingDTO, 0, 2)
	for _, hub := range []string{models.HubTypeOGV, models.HubTypeTMR} {
		row, err := f.hubRepo.ByHubType(ctx, hub)
		if err != nil {
			return nil, NewBusinessError("GET_HUB_SETTINGS_FAILED", "Failed to load hub settings", err)
		}
		if row != nil {
			out = append(out, dto.HubSettingDTO{
				HubType:   hub,
				BaseURL:   row.BaseURL,
				Source:    HubSettingSourceSetting,
				UpdatedAt: formatTimePtr(&row.UpdatedAt),
			})
			continue
		}
		out = append(out, dto.HubSettingDTO{HubType: hub, BaseURL: f.defaultBase(hub), Source: HubSettingSourceDefault})
	}
	return out, nil
}

// hubBase returns the current base URL of a hub, falling back to config
func (f *UtmLinkFlowImpl) hubBase(ctx context.Context, hubType string) (string, error) {
	row, err := f.hubRepo.ByHubType(ctx, hubType)
	if err != nil {
		return "", NewBusinessError("GET_HUB_SETTINGS_FAILED", "Failed to load hub settings", err)
	}
	if row != nil && row.BaseURL != "" {
		return row.BaseURL, nil
	}
	base := f.defaultBase(hubType)
	if base == "" {
		return "", NewBusinessErrorf("HUB_BASE_URL_MISSING", "No base URL configured for hub %s", ErrInvalidBaseURL, hubType)
	}
	return base, nil
}

func (f *UtmLinkFlowImpl) defaultBase(hubType string) string {
	if hubType == models.HubTypeTMR {
		return f.utmCfg.DefaultTMRBase
	}
	return f.utmCfg.DefaultOGVBase
}

func (f *UtmLinkFlowImpl) loadCampaign(ctx context.Context, id uint) (*models.UtmCampaign, error) {
	campaign, err := f.campaignRepo.ByID(ctx, id)
	if err != nil {
		return nil, NewBusinessError("GET_CAMPAIGN_FAILED", "Failed to load campaign", err)
	}
	if campaign == nil {
		return nil, NewBusinessError("CAMPAIGN_NOT_FOUND", "Campaign not found", ErrCampaignNotFound)
	}
	return campaign, nil
}

func (f *UtmLinkFlowImpl) ensureEntity(ctx context.Context, id uint) error {
	entity, err := f.entityRepo.ByID(ctx, id)
	if err != nil {
		return NewBusinessError("GET_ENTITY_FAILED", "Failed to load entity", err)
	}
	if entity == nil {
		return NewBusinessError("ENTITY_NOT_FOUND", "Entity not found", ErrEntityNotFound)
	}
	return nil
}

// authorizedLink loads a link the actor may see. Links of other entities
// read as not found for non-admins.
func (f *UtmLinkFlowImpl) authorizedLink(ctx context.Context, actor Actor, id uint) (*models.UtmLink, error) {
	if err := requireUser(actor); err != nil {
		return nil, NewBusinessError("UNAUTHENTICATED", "Authentication required", err)
	}
	link, err := f.linkRepo.ByID(ctx, id)
	if err != nil {
		return nil, NewBusinessError("GET_LINK_FAILED", "Failed to load link", err)
	}
	if link == nil || (!actor.IsAdmin() && !actor.OwnsEntity(link.EntityID)) {
		return nil, NewBusinessError("LINK_NOT_FOUND", "Link not found", ErrLinkNotFound)
	}
	return link, nil
}

func (f *UtmLinkFlowImpl) linkDTOs(ctx context.Context, links []*models.UtmLink) ([]dto.LinkDTO, error) {
	out := make([]dto.LinkDTO, 0, len(links))
	if len(links) == 0 {
		return out, nil
	}

	var sourceIDs, mediumIDs []uint
	campaignCodes := make(map[uint]string)
	for _, l := range links {
		sourceIDs = append(sourceIDs, l.SourceID)
		mediumIDs = append(mediumIDs, l.MediumID)
		campaignCodes[l.CampaignID] = ""
	}
	for id := range campaignCodes {
		c, err := f.campaignRepo.ByID(ctx, id)
		if err != nil {
			return nil, NewBusinessError("GET_LINK_FAILED", "Failed to load campaigns", err)
		}
		if c != nil {
			campaignCodes[id] = c.Code
		}
	}

	sources, err := f.sourceRepo.ByFilter(ctx, models.UtmVocabFilter{IDs: uniqueIDs(sourceIDs)}, "", 0, 0)
	if err != nil {
		return nil, NewBusinessError("GET_LINK_FAILED", "Failed to load sources", err)
	}
	sourceCodes := make(map[uint]string, len(sources))
	for _, s := range sources {
		sourceCodes[s.ID] = s.Code
	}
	mediums, err := f.mediumRepo.ByFilter(ctx, models.UtmVocabFilter{IDs: uniqueIDs(mediumIDs)}, "", 0, 0)
	if err != nil {
		return nil, NewBusinessError("GET_LINK_FAILED", "Failed to load mediums", err)
	}
	mediumCodes := make(map[uint]string, len(mediums))
	for _, m := range mediums {
		mediumCodes[m.ID] = m.Code
	}

	for _, l := range links {
		out = append(out, toLinkDTO(l, campaignCodes[l.CampaignID], sourceCodes[l.SourceID], mediumCodes[l.MediumID]))
	}
	return out, nil
}

func toLinkDTO(l *models.UtmLink, campaignCode, sourceCode, mediumCode string) dto.LinkDTO {
	return dto.LinkDTO{
		ID:           l.ID,
		EntityID:     l.EntityID,
		CampaignID:   l.CampaignID,
		CampaignCode: campaignCode,
		SourceID:     l.SourceID,
		SourceCode:   sourceCode,
		MediumID:     l.MediumID,
		MediumCode:   mediumCode,
		UtmName:      l.UtmName,
		CustomName:   l.CustomName,
		HubType:      l.HubType,
		BaseURL:      l.BaseURL,
		TrackingLink: l.TrackingLink,
		TrackingURL:  l.TrackingURL,
		ShortURL:     l.ShortURL,
		TotalClicks:  l.TotalClicks,
		UniqueClicks: l.UniqueClicks,
		LastClickAt:  formatTimePtr(l.LastClickAt),
		CreatedAt:    formatTime(l.CreatedAt),
	}
}

func uniqueIDs(ids []uint) []uint {
	seen := make(map[uint]bool, len(ids))
	out := make([]uint, 0, len(ids))
	for _, id := range ids {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	return out
}
