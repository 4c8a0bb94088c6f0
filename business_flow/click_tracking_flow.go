package businessflow

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"time"

	"github.com/amirphl/Kagutsuchi/app/dto"
	"github.com/amirphl/Kagutsuchi/app/services"
	"github.com/amirphl/Kagutsuchi/models"
	"github.com/amirphl/Kagutsuchi/repository"
	"github.com/amirphl/Kagutsuchi/utils"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
)

// TrackInput is one event on a UTM link
type TrackInput struct {
	LinkID    uint
	ClickType string
	Client    *ClientMetadata
	At        time.Time
}

// ClickTrackingFlow records clicks and views on generated links
type ClickTrackingFlow interface {
	Track(ctx context.Context, in TrackInput) (*dto.TrackClickResponse, error)
	TrackAndResolve(ctx context.Context, in TrackInput, target string) string
}

// ClickTrackingFlowImpl implements ClickTrackingFlow
type ClickTrackingFlowImpl struct {
	linkRepo  repository.UtmLinkRepository
	clickRepo repository.ClickLogRepository
	logger    *zap.Logger
}

func NewClickTrackingFlow(linkRepo repository.UtmLinkRepository, clickRepo repository.ClickLogRepository, logger *zap.Logger) ClickTrackingFlow {
	return &ClickTrackingFlowImpl{
		linkRepo:  linkRepo,
		clickRepo: clickRepo,
		logger:    logger.Named("click_tracking_flow"),
	}
}

// SessionID fingerprints a visitor for one UTC calendar day
func SessionID(ip, userAgent string, at time.Time) string {
	sum := sha256.Sum256([]byte(ip + "|" + userAgent + "|" + utils.DayKey(at)))
	return hex.EncodeToString(sum[:])
}

// Track records the event and bumps the link counters. The log insert and
// the counter update are separate statements.
func (f *ClickTrackingFlowImpl) Track(ctx context.Context, in TrackInput) (*dto.TrackClickResponse, error) {
	link, err := f.linkRepo.ByID(ctx, in.LinkID)
	if err != nil {
		return nil, NewBusinessError("TRACK_FAILED", "Failed to load link", err)
	}
	if link == nil {
		return nil, NewBusinessError("LINK_NOT_FOUND", "Link not found", ErrLinkNotFound)
	}
	return f.record(ctx, link, in)
}

// TrackAndResolve records the event without ever failing and returns where
// the visitor should go: target when it is an absolute http(s) URL, else the
// link's tracking link, else "" when the link is unknown.
func (f *ClickTrackingFlowImpl) TrackAndResolve(ctx context.Context, in TrackInput, target string) string {
	var link *models.UtmLink
	if in.LinkID != 0 {
		var err error
		link, err = f.linkRepo.ByID(ctx, in.LinkID)
		if err != nil {
			f.logger.Warn("Click tracking lookup failed", zap.Uint("link_id", in.LinkID), zap.Error(err))
			link = nil
		}
	}
	if link != nil {
		if _, err := f.record(ctx, link, in); err != nil {
			f.logger.Warn("Click tracking failed", zap.Uint("link_id", link.ID), zap.Error(err))
		}
	}

	switch {
	case isAbsoluteHTTPURL(target):
		return target
	case link != nil:
		return link.TrackingLink
	default:
		return ""
	}
}

func (f *ClickTrackingFlowImpl) record(ctx context.Context, link *models.UtmLink, in TrackInput) (*dto.TrackClickResponse, error) {
	clickType := in.ClickType
	if clickType == "" {
		clickType = models.ClickTypeClick
	}
	if clickType != models.ClickTypeClick && clickType != models.ClickTypeView {
		return nil, NewBusinessError("INVALID_CLICK_TYPE", "Click type must be click or view", ErrInvalidClickType)
	}

	ctx, span := services.Tracer().Start(ctx, "utm.track")
	defer span.End()
	span.SetAttributes(attribute.Int64("utm.link_id", int64(link.ID)), attribute.String("utm.click_type", clickType))

	at := in.At
	if at.IsZero() {
		at = utils.UTCNow()
	}
	client := in.Client
	if client == nil {
		client = &ClientMetadata{}
	}
	session := SessionID(client.IPAddress, client.UserAgent, at)

	seen, err := f.clickRepo.Exists(ctx, models.ClickLogFilter{UtmLinkID: &link.ID, ClickType: &clickType, SessionID: &session})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, NewBusinessError("TRACK_FAILED", "Failed to check click session", err)
	}
	unique := !seen

	info := services.ParseUserAgent(client.UserAgent)
	row := &models.ClickLog{
		UtmLinkID:  link.ID,
		ClickType:  clickType,
		SessionID:  session,
		IP:         client.IPAddress,
		UserAgent:  client.UserAgent,
		Referrer:   client.Referrer,
		DeviceType: info.DeviceType,
		Browser:    info.Browser,
		OS:         info.OS,
		IsUnique:   unique,
		ClickedAt:  at,
	}
	if err := f.clickRepo.Save(ctx, row); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, NewBusinessError("TRACK_FAILED", "Failed to record click", err)
	}
	if err := f.linkRepo.IncrementClicks(ctx, link.ID, unique, at); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, NewBusinessError("TRACK_FAILED", "Failed to update link counters", err)
	}

	services.ClicksTracked.WithLabelValues(clickType, strconv.FormatBool(unique)).Inc()
	span.SetAttributes(attribute.Bool("utm.unique", unique))
	return &dto.TrackClickResponse{Recorded: true, IsUnique: unique}, nil
}
