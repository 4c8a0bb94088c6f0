package repository

import (
	"context"
	"strings"
	"time"

	"github.com/amirphl/Kagutsuchi/models"
	"github.com/amirphl/Kagutsuchi/utils"
	"gorm.io/gorm"
)

// UserRepositoryImpl implements UserRepository
type UserRepositoryImpl struct {
	*BaseRepository[models.User, models.UserFilter]
}

func NewUserRepository(db *gorm.DB) UserRepository {
	return &UserRepositoryImpl{BaseRepository: NewBaseRepository[models.User](db, applyUserFilter)}
}

func applyUserFilter(db *gorm.DB, f models.UserFilter) *gorm.DB {
	if f.ID != nil {
		db = db.Where("id = ?", *f.ID)
	}
	if f.Email != nil {
		db = db.Where("email = ?", utils.NormalizeEmail(*f.Email))
	}
	if f.Role != nil {
		db = db.Where("role = ?", *f.Role)
	}
	if f.EntityID != nil {
		db = db.Where("entity_id = ?", *f.EntityID)
	}
	if f.IsActive != nil {
		db = db.Where("is_active = ?", *f.IsActive)
	}
	return db
}

func (r *UserRepositoryImpl) ByEmail(ctx context.Context, email string) (*models.User, error) {
	rows, err := r.ByFilter(ctx, models.UserFilter{Email: &email}, "", 1, 0)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return rows[0], nil
}

func (r *UserRepositoryImpl) ListActiveAdmins(ctx context.Context) ([]*models.User, error) {
	role := models.RoleAdmin
	return r.ByFilter(ctx, models.UserFilter{Role: &role, IsActive: utils.ToPtr(true)}, "id ASC", 0, 0)
}

func (r *UserRepositoryImpl) UpdateLastLogin(ctx context.Context, userID uint, at time.Time) error {
	return r.write(ctx, func(db *gorm.DB) error {
		return db.Model(&models.User{}).Where("id = ?", userID).
			Updates(map[string]any{"last_login_at": at, "updated_at": at}).Error
	})
}

// EntityRepositoryImpl implements EntityRepository
type EntityRepositoryImpl struct {
	*BaseRepository[models.Entity, models.EntityFilter]
}

func NewEntityRepository(db *gorm.DB) EntityRepository {
	return &EntityRepositoryImpl{BaseRepository: NewBaseRepository[models.Entity](db, applyEntityFilter)}
}

func applyEntityFilter(db *gorm.DB, f models.EntityFilter) *gorm.DB {
	if f.ID != nil {
		db = db.Where("id = ?", *f.ID)
	}
	if len(f.IDs) > 0 {
		db = db.Where("id IN ?", f.IDs)
	}
	if f.Name != nil {
		db = db.Where("name = ?", *f.Name)
	}
	if f.Type != nil {
		db = db.Where("type = ?", *f.Type)
	}
	if f.IsActive != nil {
		db = db.Where("is_active = ?", *f.IsActive)
	}
	return db
}

func (r *EntityRepositoryImpl) ByName(ctx context.Context, name string) (*models.Entity, error) {
	rows, err := r.ByFilter(ctx, models.EntityFilter{Name: &name}, "", 1, 0)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return rows[0], nil
}

// UniMappingRepositoryImpl implements UniMappingRepository
type UniMappingRepositoryImpl struct {
	*BaseRepository[models.UniMapping, models.UniMappingFilter]
}

func NewUniMappingRepository(db *gorm.DB) UniMappingRepository {
	return &UniMappingRepositoryImpl{BaseRepository: NewBaseRepository[models.UniMapping](db, applyUniMappingFilter)}
}

func applyUniMappingFilter(db *gorm.DB, f models.UniMappingFilter) *gorm.DB {
	if f.ID != nil {
		db = db.Where("id = ?", *f.ID)
	}
	if f.UniID != nil {
		db = db.Where("uni_id = ?", *f.UniID)
	}
	if len(f.UniIDs) > 0 {
		db = db.Where("uni_id IN ?", f.UniIDs)
	}
	if f.UniName != nil {
		db = db.Where("LOWER(uni_name) = LOWER(?)", *f.UniName)
	}
	if f.NameContains != nil {
		db = db.Where("LOWER(uni_name) LIKE ?", "%"+strings.ToLower(*f.NameContains)+"%")
	}
	if f.EntityID != nil {
		db = db.Where("entity_id = ?", *f.EntityID)
	}
	return db
}

func (r *UniMappingRepositoryImpl) ByUniID(ctx context.Context, uniID int64) (*models.UniMapping, error) {
	rows, err := r.ByFilter(ctx, models.UniMappingFilter{UniID: &uniID}, "", 1, 0)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return rows[0], nil
}

func (r *UniMappingRepositoryImpl) ByUniName(ctx context.Context, name string) (*models.UniMapping, error) {
	rows, err := r.ByFilter(ctx, models.UniMappingFilter{UniName: &name}, "id ASC", 1, 0)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return rows[0], nil
}
