package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/amirphl/Kagutsuchi/models"
	"gorm.io/gorm"
)

// FormRepositoryImpl implements FormRepository
type FormRepositoryImpl struct {
	*BaseRepository[models.Form, models.FormFilter]
}

func NewFormRepository(db *gorm.DB) FormRepository {
	return &FormRepositoryImpl{BaseRepository: NewBaseRepository[models.Form](db, applyFormFilter)}
}

func applyFormFilter(db *gorm.DB, f models.FormFilter) *gorm.DB {
	if f.ID != nil {
		db = db.Where("id = ?", *f.ID)
	}
	if f.Code != nil {
		db = db.Where("code = ?", *f.Code)
	}
	if f.Type != nil {
		db = db.Where("type = ?", *f.Type)
	}
	return db
}

func (r *FormRepositoryImpl) ByCode(ctx context.Context, code string) (*models.Form, error) {
	rows, err := r.ByFilter(ctx, models.FormFilter{Code: &code}, "", 1, 0)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return rows[0], nil
}

// FormFieldRepositoryImpl implements FormFieldRepository
type FormFieldRepositoryImpl struct {
	*BaseRepository[models.FormField, models.FormFieldFilter]
}

func NewFormFieldRepository(db *gorm.DB) FormFieldRepository {
	return &FormFieldRepositoryImpl{BaseRepository: NewBaseRepository[models.FormField](db, applyFormFieldFilter)}
}

func applyFormFieldFilter(db *gorm.DB, f models.FormFieldFilter) *gorm.DB {
	if f.ID != nil {
		db = db.Where("id = ?", *f.ID)
	}
	if f.FormID != nil {
		db = db.Where("form_id = ?", *f.FormID)
	}
	if f.FieldName != nil {
		db = db.Where("field_name = ?", *f.FieldName)
	}
	return db
}

// ListByForm returns the fields of a form in display order
func (r *FormFieldRepositoryImpl) ListByForm(ctx context.Context, formID uint) ([]*models.FormField, error) {
	return r.ByFilter(ctx, models.FormFieldFilter{FormID: &formID}, "sort_order ASC, id ASC", 0, 0)
}

func (r *FormFieldRepositoryImpl) MaxSortOrder(ctx context.Context, formID uint) (int, error) {
	var max sql.NullInt64
	err := r.getDB(ctx).Model(&models.FormField{}).
		Where("form_id = ?", formID).
		Select("MAX(sort_order)").
		Scan(&max).Error
	if err != nil {
		return 0, err
	}
	if !max.Valid {
		return -1, nil
	}
	return int(max.Int64), nil
}

// UpdateSortOrders writes sort_order for each field id of the form
func (r *FormFieldRepositoryImpl) UpdateSortOrders(ctx context.Context, formID uint, order map[uint]int) error {
	return r.write(ctx, func(db *gorm.DB) error {
		for fieldID, pos := range order {
			res := db.Model(&models.FormField{}).
				Where("id = ? AND form_id = ?", fieldID, formID).
				Update("sort_order", pos)
			if res.Error != nil {
				return fmt.Errorf("failed to reorder field %d: %w", fieldID, res.Error)
			}
			if res.RowsAffected == 0 {
				return fmt.Errorf("field %d does not belong to form %d: %w", fieldID, formID, gorm.ErrRecordNotFound)
			}
		}
		return nil
	})
}

// Delete removes a form with its fields, submissions and UTM campaigns
func (r *FormRepositoryImpl) Delete(ctx context.Context, id uint) error {
	return r.write(ctx, func(db *gorm.DB) error {
		submissions := db.Model(&models.FormSubmission{}).Select("id").Where("form_id = ?", id)
		campaigns := db.Model(&models.UtmCampaign{}).Select("id").Where("form_id = ?", id)
		links := db.Model(&models.UtmLink{}).Select("id").Where("campaign_id IN (?)", campaigns)

		steps := []struct {
			name string
			run  func() error
		}{
			{"click logs", func() error { return db.Where("utm_link_id IN (?)", links).Delete(&models.ClickLog{}).Error }},
			{"links", func() error { return db.Where("campaign_id IN (?)", campaigns).Delete(&models.UtmLink{}).Error }},
			{"campaigns", func() error { return db.Where("form_id = ?", id).Delete(&models.UtmCampaign{}).Error }},
			{"allocation requests", func() error {
				return db.Where("submission_id IN (?)", submissions).Delete(&models.AllocationRequest{}).Error
			}},
			{"responses", func() error { return db.Where("submission_id IN (?)", submissions).Delete(&models.FormResponse{}).Error }},
			{"submissions", func() error { return db.Where("form_id = ?", id).Delete(&models.FormSubmission{}).Error }},
			{"fields", func() error { return db.Where("form_id = ?", id).Delete(&models.FormField{}).Error }},
			{"form", func() error { return db.Delete(&models.Form{}, id).Error }},
		}
		for _, step := range steps {
			if err := step.run(); err != nil {
				return fmt.Errorf("failed to delete %s of form %d: %w", step.name, id, err)
			}
		}
		return nil
	})
}
