package repository

import (
	"context"
	"fmt"

	"github.com/amirphl/Kagutsuchi/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// FormSubmissionRepositoryImpl implements FormSubmissionRepository
type FormSubmissionRepositoryImpl struct {
	*BaseRepository[models.FormSubmission, models.FormSubmissionFilter]
}

func NewFormSubmissionRepository(db *gorm.DB) FormSubmissionRepository {
	return &FormSubmissionRepositoryImpl{BaseRepository: NewBaseRepository[models.FormSubmission](db, applySubmissionFilter)}
}

func applySubmissionFilter(db *gorm.DB, f models.FormSubmissionFilter) *gorm.DB {
	if f.ID != nil {
		db = db.Where("id = ?", *f.ID)
	}
	if len(f.IDs) > 0 {
		db = db.Where("id IN ?", f.IDs)
	}
	if f.FormID != nil {
		db = db.Where("form_id = ?", *f.FormID)
	}
	if f.EntityID != nil {
		db = db.Where("entity_id = ?", *f.EntityID)
	}
	if f.Unallocated != nil {
		if *f.Unallocated {
			db = db.Where("entity_id IS NULL")
		} else {
			db = db.Where("entity_id IS NOT NULL")
		}
	}
	if f.Duplicated != nil {
		db = db.Where("duplicated = ?", *f.Duplicated)
	}
	if f.Email != nil {
		db = db.Where("email = ?", *f.Email)
	}
	if f.Phone != nil {
		db = db.Where("phone = ?", *f.Phone)
	}
	if f.SubmittedAfter != nil {
		db = db.Where("submitted_at >= ?", *f.SubmittedAfter)
	}
	if f.SubmittedBefore != nil {
		db = db.Where("submitted_at < ?", *f.SubmittedBefore)
	}
	return db
}

// ListIdentityCandidates returns rows of the form sharing any of the given emails or phones
func (r *FormSubmissionRepositoryImpl) ListIdentityCandidates(ctx context.Context, formID uint, emails, phones []string) ([]*models.FormSubmission, error) {
	if len(emails) == 0 && len(phones) == 0 {
		return nil, nil
	}

	query := r.getDB(ctx).Model(&models.FormSubmission{}).Where("form_id = ?", formID)
	switch {
	case len(emails) > 0 && len(phones) > 0:
		query = query.Where("(email IN ? OR phone IN ?)", emails, phones)
	case len(emails) > 0:
		query = query.Where("email IN ?", emails)
	default:
		query = query.Where("phone IN ?", phones)
	}

	var rows []*models.FormSubmission
	if err := query.Order("id ASC").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to list identity candidates: %w", err)
	}
	return rows, nil
}

func (r *FormSubmissionRepositoryImpl) ListByForm(ctx context.Context, formID uint) ([]*models.FormSubmission, error) {
	return r.ByFilter(ctx, models.FormSubmissionFilter{FormID: &formID}, "id ASC", 0, 0)
}

func (r *FormSubmissionRepositoryImpl) SetDuplicated(ctx context.Context, ids []uint, duplicated bool) error {
	if len(ids) == 0 {
		return nil
	}
	return r.write(ctx, func(db *gorm.DB) error {
		if err := db.Model(&models.FormSubmission{}).Where("id IN ?", ids).Update("duplicated", duplicated).Error; err != nil {
			return fmt.Errorf("failed to set duplicated=%t: %w", duplicated, err)
		}
		return nil
	})
}

func (r *FormSubmissionRepositoryImpl) SetEntity(ctx context.Context, submissionID uint, entityID uint) error {
	return r.write(ctx, func(db *gorm.DB) error {
		res := db.Model(&models.FormSubmission{}).Where("id = ?", submissionID).Update("entity_id", entityID)
		if res.Error != nil {
			return fmt.Errorf("failed to set entity of submission %d: %w", submissionID, res.Error)
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("submission %d: %w", submissionID, gorm.ErrRecordNotFound)
		}
		return nil
	})
}

// WithResponses loads submissions with their responses and fields preloaded
func (r *FormSubmissionRepositoryImpl) WithResponses(ctx context.Context, ids []uint) ([]*models.FormSubmission, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var rows []*models.FormSubmission
	err := r.getDB(ctx).
		Preload("Responses").
		Preload("Responses.Field").
		Where("id IN ?", ids).
		Order("submitted_at DESC, id DESC").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load submissions with responses: %w", err)
	}
	return rows, nil
}

// Delete removes a submission together with its responses and allocation requests
func (r *FormSubmissionRepositoryImpl) Delete(ctx context.Context, id uint) error {
	return r.write(ctx, func(db *gorm.DB) error {
		if err := db.Where("submission_id = ?", id).Delete(&models.FormResponse{}).Error; err != nil {
			return fmt.Errorf("failed to delete responses of submission %d: %w", id, err)
		}
		if err := db.Where("submission_id = ?", id).Delete(&models.AllocationRequest{}).Error; err != nil {
			return fmt.Errorf("failed to delete allocation requests of submission %d: %w", id, err)
		}
		if err := db.Delete(&models.FormSubmission{}, id).Error; err != nil {
			return fmt.Errorf("failed to delete submission %d: %w", id, err)
		}
		return nil
	})
}

// FormResponseRepositoryImpl implements FormResponseRepository
type FormResponseRepositoryImpl struct {
	*BaseRepository[models.FormResponse, models.FormResponseFilter]
}

func NewFormResponseRepository(db *gorm.DB) FormResponseRepository {
	return &FormResponseRepositoryImpl{BaseRepository: NewBaseRepository[models.FormResponse](db, applyResponseFilter)}
}

func applyResponseFilter(db *gorm.DB, f models.FormResponseFilter) *gorm.DB {
	if f.SubmissionID != nil {
		db = db.Where("submission_id = ?", *f.SubmissionID)
	}
	if f.FieldID != nil {
		db = db.Where("field_id = ?", *f.FieldID)
	}
	return db
}

func (r *FormResponseRepositoryImpl) ListBySubmissionIDs(ctx context.Context, submissionIDs []uint) ([]*models.FormResponse, error) {
	if len(submissionIDs) == 0 {
		return nil, nil
	}
	var rows []*models.FormResponse
	if err := r.getDB(ctx).Where("submission_id IN ?", submissionIDs).Order("id ASC").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to list responses: %w", err)
	}
	return rows, nil
}

// AllocationRequestRepositoryImpl implements AllocationRequestRepository
type AllocationRequestRepositoryImpl struct {
	*BaseRepository[models.AllocationRequest, models.AllocationRequestFilter]
}

func NewAllocationRequestRepository(db *gorm.DB) AllocationRequestRepository {
	return &AllocationRequestRepositoryImpl{BaseRepository: NewBaseRepository[models.AllocationRequest](db, applyAllocationRequestFilter)}
}

func applyAllocationRequestFilter(db *gorm.DB, f models.AllocationRequestFilter) *gorm.DB {
	if f.ID != nil {
		db = db.Where("id = ?", *f.ID)
	}
	if f.SubmissionID != nil {
		db = db.Where("submission_id = ?", *f.SubmissionID)
	}
	if f.RequestedBy != nil {
		db = db.Where("requested_by = ?", *f.RequestedBy)
	}
	if f.Status != nil {
		db = db.Where("status = ?", *f.Status)
	}
	return db
}

// ByIDForUpdate loads a request and locks its row for the surrounding transaction
func (r *AllocationRequestRepositoryImpl) ByIDForUpdate(ctx context.Context, id uint) (*models.AllocationRequest, error) {
	var rows []*models.AllocationRequest
	err := r.getDB(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", id).
		Limit(1).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to lock allocation request %d: %w", id, err)
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return rows[0], nil
}
