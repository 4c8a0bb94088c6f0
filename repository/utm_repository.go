package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/amirphl/Kagutsuchi/models"
	"github.com/amirphl/Kagutsuchi/utils"
	"gorm.io/gorm"
)

// UtmCampaignRepositoryImpl implements UtmCampaignRepository
type UtmCampaignRepositoryImpl struct {
	*BaseRepository[models.UtmCampaign, models.UtmCampaignFilter]
}

func NewUtmCampaignRepository(db *gorm.DB) UtmCampaignRepository {
	return &UtmCampaignRepositoryImpl{BaseRepository: NewBaseRepository[models.UtmCampaign](db, applyUtmCampaignFilter)}
}

func applyUtmCampaignFilter(db *gorm.DB, f models.UtmCampaignFilter) *gorm.DB {
	if f.ID != nil {
		db = db.Where("id = ?", *f.ID)
	}
	if f.FormID != nil {
		db = db.Where("form_id = ?", *f.FormID)
	}
	if f.EntityID != nil {
		db = db.Where("entity_id = ?", *f.EntityID)
	}
	if f.Code != nil {
		db = db.Where("code = ?", *f.Code)
	}
	if f.IsActive != nil {
		db = db.Where("is_active = ?", *f.IsActive)
	}
	return db
}

func (r *UtmCampaignRepositoryImpl) Update(ctx context.Context, campaign *models.UtmCampaign) error {
	return r.write(ctx, func(db *gorm.DB) error {
		campaign.UpdatedAt = utils.UTCNow()
		return db.Model(campaign).Select("entity_id", "name", "is_active", "updated_at").Updates(campaign).Error
	})
}

// Delete removes a campaign with its links and their click log
func (r *UtmCampaignRepositoryImpl) Delete(ctx context.Context, id uint) error {
	return r.write(ctx, func(db *gorm.DB) error {
		links := db.Model(&models.UtmLink{}).Select("id").Where("campaign_id = ?", id)
		if err := db.Where("utm_link_id IN (?)", links).Delete(&models.ClickLog{}).Error; err != nil {
			return fmt.Errorf("failed to delete clicks of campaign %d: %w", id, err)
		}
		if err := db.Where("campaign_id = ?", id).Delete(&models.UtmLink{}).Error; err != nil {
			return fmt.Errorf("failed to delete links of campaign %d: %w", id, err)
		}
		return db.Delete(&models.UtmCampaign{}, id).Error
	})
}

// UtmSourceRepositoryImpl implements UtmSourceRepository
type UtmSourceRepositoryImpl struct {
	*BaseRepository[models.UtmSource, models.UtmVocabFilter]
}

func NewUtmSourceRepository(db *gorm.DB) UtmSourceRepository {
	return &UtmSourceRepositoryImpl{BaseRepository: NewBaseRepository[models.UtmSource](db, applyUtmVocabFilter)}
}

// UtmMediumRepositoryImpl implements UtmMediumRepository
type UtmMediumRepositoryImpl struct {
	*BaseRepository[models.UtmMedium, models.UtmVocabFilter]
}

func NewUtmMediumRepository(db *gorm.DB) UtmMediumRepository {
	return &UtmMediumRepositoryImpl{BaseRepository: NewBaseRepository[models.UtmMedium](db, applyUtmVocabFilter)}
}

func applyUtmVocabFilter(db *gorm.DB, f models.UtmVocabFilter) *gorm.DB {
	if f.ID != nil {
		db = db.Where("id = ?", *f.ID)
	}
	if len(f.IDs) > 0 {
		db = db.Where("id IN ?", f.IDs)
	}
	if f.Code != nil {
		db = db.Where("code = ?", *f.Code)
	}
	return db
}

// HubSettingRepositoryImpl implements HubSettingRepository
type HubSettingRepositoryImpl struct {
	*BaseRepository[models.HubSetting, any]
}

func NewHubSettingRepository(db *gorm.DB) HubSettingRepository {
	return &HubSettingRepositoryImpl{BaseRepository: NewBaseRepository[models.HubSetting, any](db, nil)}
}

func (r *HubSettingRepositoryImpl) ByHubType(ctx context.Context, hubType string) (*models.HubSetting, error) {
	var row models.HubSetting
	err := r.getDB(ctx).Where("hub_type = ?", hubType).First(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &row, nil
}

func (r *HubSettingRepositoryImpl) List(ctx context.Context) ([]*models.HubSetting, error) {
	return r.ByFilter(ctx, nil, "hub_type ASC", 0, 0)
}

// Upsert writes the base URL of a hub, creating the row on first use
func (r *HubSettingRepositoryImpl) Upsert(ctx context.Context, setting *models.HubSetting) error {
	return r.write(ctx, func(db *gorm.DB) error {
		if setting.UpdatedAt.IsZero() {
			setting.UpdatedAt = utils.UTCNow()
		}
		var existing models.HubSetting
		err := db.Where("hub_type = ?", setting.HubType).First(&existing).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			return db.Create(setting).Error
		case err != nil:
			return fmt.Errorf("failed to load hub setting %s: %w", setting.HubType, err)
		}
		setting.ID = existing.ID
		return db.Model(&existing).Updates(map[string]any{
			"base_url":   setting.BaseURL,
			"updated_by": setting.UpdatedBy,
			"updated_at": setting.UpdatedAt,
		}).Error
	})
}

// UtmLinkRepositoryImpl implements UtmLinkRepository
type UtmLinkRepositoryImpl struct {
	*BaseRepository[models.UtmLink, models.UtmLinkFilter]
}

func NewUtmLinkRepository(db *gorm.DB) UtmLinkRepository {
	return &UtmLinkRepositoryImpl{BaseRepository: NewBaseRepository[models.UtmLink](db, applyUtmLinkFilter)}
}

func applyUtmLinkFilter(db *gorm.DB, f models.UtmLinkFilter) *gorm.DB {
	if f.ID != nil {
		db = db.Where("id = ?", *f.ID)
	}
	if f.EntityID != nil {
		db = db.Where("entity_id = ?", *f.EntityID)
	}
	if f.CampaignID != nil {
		db = db.Where("campaign_id = ?", *f.CampaignID)
	}
	if f.CreatedBy != nil {
		db = db.Where("created_by = ?", *f.CreatedBy)
	}
	if f.CreatedAfter != nil {
		db = db.Where("created_at >= ?", *f.CreatedAfter)
	}
	if f.CreatedBefore != nil {
		db = db.Where("created_at < ?", *f.CreatedBefore)
	}
	return db
}

func (r *UtmLinkRepositoryImpl) SetTrackingURL(ctx context.Context, id uint, trackingURL string) error {
	return r.write(ctx, func(db *gorm.DB) error {
		return db.Model(&models.UtmLink{}).Where("id = ?", id).
			Updates(map[string]any{"tracking_url": trackingURL, "updated_at": utils.UTCNow()}).Error
	})
}

func (r *UtmLinkRepositoryImpl) SetShortURL(ctx context.Context, id uint, shortURL string) error {
	return r.write(ctx, func(db *gorm.DB) error {
		return db.Model(&models.UtmLink{}).Where("id = ?", id).
			Updates(map[string]any{"short_url": shortURL, "updated_at": utils.UTCNow()}).Error
	})
}

// IncrementClicks bumps the aggregate counters in a single statement
func (r *UtmLinkRepositoryImpl) IncrementClicks(ctx context.Context, id uint, unique bool, at time.Time) error {
	uniqueInc := 0
	if unique {
		uniqueInc = 1
	}
	return r.write(ctx, func(db *gorm.DB) error {
		res := db.Model(&models.UtmLink{}).Where("id = ?", id).Updates(map[string]any{
			"total_clicks":  gorm.Expr("total_clicks + 1"),
			"unique_clicks": gorm.Expr("unique_clicks + ?", uniqueInc),
			"last_click_at": at,
		})
		if res.Error != nil {
			return fmt.Errorf("failed to increment clicks of link %d: %w", id, res.Error)
		}
		return nil
	})
}

// Delete removes a link and its click log
func (r *UtmLinkRepositoryImpl) Delete(ctx context.Context, id uint) error {
	return r.write(ctx, func(db *gorm.DB) error {
		if err := db.Where("utm_link_id = ?", id).Delete(&models.ClickLog{}).Error; err != nil {
			return fmt.Errorf("failed to delete clicks of link %d: %w", id, err)
		}
		return db.Delete(&models.UtmLink{}, id).Error
	})
}

// ClickLogRepositoryImpl implements ClickLogRepository
type ClickLogRepositoryImpl struct {
	*BaseRepository[models.ClickLog, models.ClickLogFilter]
}

func NewClickLogRepository(db *gorm.DB) ClickLogRepository {
	return &ClickLogRepositoryImpl{BaseRepository: NewBaseRepository[models.ClickLog](db, applyClickLogFilter)}
}

func applyClickLogFilter(db *gorm.DB, f models.ClickLogFilter) *gorm.DB {
	if f.UtmLinkID != nil {
		db = db.Where("utm_link_id = ?", *f.UtmLinkID)
	}
	if f.ClickType != nil {
		db = db.Where("click_type = ?", *f.ClickType)
	}
	if f.SessionID != nil {
		db = db.Where("session_id = ?", *f.SessionID)
	}
	return db
}
