package businessflow

import (
	"context"
	"strings"

	"github.com/amirphl/Kagutsuchi/app/dto"
	"github.com/amirphl/Kagutsuchi/models"
	"github.com/amirphl/Kagutsuchi/repository"
	"github.com/amirphl/Kagutsuchi/utils"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

// DirectoryFlow administers entities, university mappings and users
type DirectoryFlow interface {
	ListEntities(ctx context.Context, actor Actor, req *dto.ListEntitiesRequest) ([]dto.EntityDTO, error)
	CreateEntity(ctx context.Context, actor Actor, req *dto.CreateEntityRequest) (*dto.EntityDTO, error)
	ListUniMappings(ctx context.Context, actor Actor, req *dto.ListUniMappingsRequest) ([]dto.UniMappingDTO, error)
	CreateUniMapping(ctx context.Context, actor Actor, req *dto.CreateUniMappingRequest) (*dto.UniMappingDTO, error)
	ListUsers(ctx context.Context, actor Actor, req *dto.ListUsersRequest) ([]dto.UserDTO, error)
	CreateUser(ctx context.Context, actor Actor, req *dto.CreateUserRequest) (*dto.UserDTO, error)
}

// DirectoryFlowImpl implements DirectoryFlow
type DirectoryFlowImpl struct {
	entityRepo repository.EntityRepository
	uniRepo    repository.UniMappingRepository
	userRepo   repository.UserRepository
	bcryptCost int
	logger     *zap.Logger
}

func NewDirectoryFlow(
	entityRepo repository.EntityRepository,
	uniRepo repository.UniMappingRepository,
	userRepo repository.UserRepository,
	bcryptCost int,
	logger *zap.Logger,
) DirectoryFlow {
	if bcryptCost < bcrypt.MinCost {
		bcryptCost = bcrypt.DefaultCost
	}
	return &DirectoryFlowImpl{
		entityRepo: entityRepo,
		uniRepo:    uniRepo,
		userRepo:   userRepo,
		bcryptCost: bcryptCost,
		logger:     logger.Named("directory_flow"),
	}
}

// ListEntities is open to every signed-in user
func (f *DirectoryFlowImpl) ListEntities(ctx context.Context, actor Actor, req *dto.ListEntitiesRequest) ([]dto.EntityDTO, error) {
	if err := requireUser(actor); err != nil {
		return nil, NewBusinessError("UNAUTHENTICATED", "Authentication required", err)
	}
	filter := models.EntityFilter{}
	if req != nil {
		filter.Type = req.Type
		if req.ActiveOnly {
			filter.IsActive = utils.ToPtr(true)
		}
	}
	rows, err := f.entityRepo.ByFilter(ctx, filter, "name ASC", 0, 0)
	if err != nil {
		return nil, NewBusinessError("ENTITY_LIST_FAILED", "Failed to list entities", err)
	}
	out := make([]dto.EntityDTO, 0, len(rows))
	for _, e := range rows {
		out = append(out, ToEntityDTO(e))
	}
	return out, nil
}

func (f *DirectoryFlowImpl) CreateEntity(ctx context.Context, actor Actor, req *dto.CreateEntityRequest) (*dto.EntityDTO, error) {
	if err := requireAdmin(actor); err != nil {
		return nil, NewBusinessError("FORBIDDEN", "Only admins can create entities", err)
	}
	if req.Type != models.EntityTypeLocal && req.Type != models.EntityTypeNational {
		return nil, NewBusinessError("INVALID_ENTITY_TYPE", "Entity type must be local or national", ErrInvalidEntityType)
	}
	name := strings.TrimSpace(req.Name)
	existing, err := f.entityRepo.ByName(ctx, name)
	if err != nil {
		return nil, NewBusinessError("ENTITY_CREATE_FAILED", "Failed to check entity name", err)
	}
	if existing != nil {
		return nil, NewBusinessError("ENTITY_NAME_EXISTS", "Entity name already exists", ErrEntityNameExists)
	}

	entity := &models.Entity{Name: name, Type: req.Type, IsActive: true}
	if err := f.entityRepo.Save(ctx, entity); err != nil {
		return nil, NewBusinessError("ENTITY_CREATE_FAILED", "Failed to create entity", err)
	}
	f.logger.Info("Entity created", zap.Uint("entity_id", entity.ID), zap.String("type", entity.Type), zap.Uint("admin_id", actor.UserID))
	out := ToEntityDTO(entity)
	return &out, nil
}

func (f *DirectoryFlowImpl) ListUniMappings(ctx context.Context, actor Actor, req *dto.ListUniMappingsRequest) ([]dto.UniMappingDTO, error) {
	if err := requireUser(actor); err != nil {
		return nil, NewBusinessError("UNAUTHENTICATED", "Authentication required", err)
	}
	filter := models.UniMappingFilter{}
	if req != nil {
		filter.EntityID = req.EntityID
		if q := strings.TrimSpace(req.Query); q != "" {
			filter.NameContains = &q
		}
	}
	rows, err := f.uniRepo.ByFilter(ctx, filter, "uni_name ASC, id ASC", 0, 0)
	if err != nil {
		return nil, NewBusinessError("UNI_MAPPING_LIST_FAILED", "Failed to list university mappings", err)
	}

	ids := make([]uint, 0, len(rows))
	for _, m := range rows {
		ids = append(ids, m.EntityID)
	}
	names, err := entityNames(ctx, f.entityRepo, ids)
	if err != nil {
		return nil, NewBusinessError("UNI_MAPPING_LIST_FAILED", "Failed to load entities", err)
	}

	out := make([]dto.UniMappingDTO, 0, len(rows))
	for _, m := range rows {
		out = append(out, toUniMappingDTO(m, names[m.EntityID]))
	}
	return out, nil
}

// CreateUniMapping assigns a university to a local entity. Each university
// has at most one owner.
func (f *DirectoryFlowImpl) CreateUniMapping(ctx context.Context, actor Actor, req *dto.CreateUniMappingRequest) (*dto.UniMappingDTO, error) {
	if err := requireAdmin(actor); err != nil {
		return nil, NewBusinessError("FORBIDDEN", "Only admins can map universities", err)
	}
	entity, err := f.entityRepo.ByID(ctx, req.EntityID)
	if err != nil {
		return nil, NewBusinessError("UNI_MAPPING_CREATE_FAILED", "Failed to load entity", err)
	}
	if entity == nil {
		return nil, NewBusinessError("ENTITY_NOT_FOUND", "Entity not found", ErrEntityNotFound)
	}
	if !entity.IsLocal() {
		return nil, NewBusinessError("ENTITY_NOT_LOCAL", "Universities can only be mapped to local entities", ErrEntityNotLocal)
	}

	existing, err := f.uniRepo.ByUniID(ctx, req.UniID)
	if err != nil {
		return nil, NewBusinessError("UNI_MAPPING_CREATE_FAILED", "Failed to check university", err)
	}
	if existing != nil {
		return nil, NewBusinessErrorf("UNI_ALREADY_MAPPED", "University %d is already mapped", ErrUniIDAlreadyMapped, req.UniID)
	}

	mapping := &models.UniMapping{UniID: req.UniID, UniName: strings.TrimSpace(req.UniName), EntityID: entity.ID}
	if err := f.uniRepo.Save(ctx, mapping); err != nil {
		return nil, NewBusinessError("UNI_MAPPING_CREATE_FAILED", "Failed to create university mapping", err)
	}
	f.logger.Info("University mapped",
		zap.Int64("uni_id", mapping.UniID),
		zap.Uint("entity_id", entity.ID),
		zap.Uint("admin_id", actor.UserID))
	out := toUniMappingDTO(mapping, entity.Name)
	return &out, nil
}

func (f *DirectoryFlowImpl) ListUsers(ctx context.Context, actor Actor, req *dto.ListUsersRequest) ([]dto.UserDTO, error) {
	if err := requireAdmin(actor); err != nil {
		return nil, NewBusinessError("FORBIDDEN", "Only admins can list users", err)
	}
	filter := models.UserFilter{}
	if req != nil {
		filter.Role = req.Role
		filter.EntityID = req.EntityID
	}
	rows, err := f.userRepo.ByFilter(ctx, filter, "id ASC", 0, 0)
	if err != nil {
		return nil, NewBusinessError("USER_LIST_FAILED", "Failed to list users", err)
	}

	ids := make([]uint, 0, len(rows))
	for _, u := range rows {
		if u.EntityID != nil {
			ids = append(ids, *u.EntityID)
		}
	}
	names, err := entityNames(ctx, f.entityRepo, ids)
	if err != nil {
		return nil, NewBusinessError("USER_LIST_FAILED", "Failed to load entities", err)
	}

	out := make([]dto.UserDTO, 0, len(rows))
	for _, u := range rows {
		name := ""
		if u.EntityID != nil {
			name = names[*u.EntityID]
		}
		out = append(out, ToUserDTO(u, name))
	}
	return out, nil
}

func (f *DirectoryFlowImpl) CreateUser(ctx context.Context, actor Actor, req *dto.CreateUserRequest) (*dto.UserDTO, error) {
	if err := requireAdmin(actor); err != nil {
		return nil, NewBusinessError("FORBIDDEN", "Only admins can create users", err)
	}
	if !models.ValidRole(req.Role) {
		return nil, NewBusinessError("INVALID_ROLE", "Role must be admin, lead or member", ErrInvalidRole)
	}
	if req.Role == models.RoleLead && req.EntityID == nil {
		return nil, NewBusinessError("LEAD_REQUIRES_ENTITY", "Lead users must belong to an entity", ErrLeadRequiresEntity)
	}

	entityName := ""
	if req.EntityID != nil {
		entity, err := f.entityRepo.ByID(ctx, *req.EntityID)
		if err != nil {
			return nil, NewBusinessError("USER_CREATE_FAILED", "Failed to load entity", err)
		}
		if entity == nil {
			return nil, NewBusinessError("ENTITY_NOT_FOUND", "Entity not found", ErrEntityNotFound)
		}
		entityName = entity.Name
	}

	email := utils.NormalizeEmail(req.Email)
	existing, err := f.userRepo.ByEmail(ctx, email)
	if err != nil {
		return nil, NewBusinessError("USER_CREATE_FAILED", "Failed to check email", err)
	}
	if existing != nil {
		return nil, NewBusinessError("EMAIL_ALREADY_EXISTS", "Email already exists", ErrEmailAlreadyExists)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), f.bcryptCost)
	if err != nil {
		return nil, NewBusinessError("USER_CREATE_FAILED", "Failed to hash password", err)
	}
	user := &models.User{
		Email:        email,
		Name:         strings.TrimSpace(req.Name),
		PasswordHash: string(hash),
		Role:         req.Role,
		EntityID:     req.EntityID,
		IsActive:     true,
	}
	if err := f.userRepo.Save(ctx, user); err != nil {
		return nil, NewBusinessError("USER_CREATE_FAILED", "Failed to create user", err)
	}
	f.logger.Info("User created",
		zap.Uint("user_id", user.ID),
		zap.String("role", user.Role),
		zap.Uint("admin_id", actor.UserID))
	out := ToUserDTO(user, entityName)
	return &out, nil
}

func toUniMappingDTO(m *models.UniMapping, entityName string) dto.UniMappingDTO {
	return dto.UniMappingDTO{
		ID:         m.ID,
		UniID:      m.UniID,
		UniName:    m.UniName,
		EntityID:   m.EntityID,
		EntityName: entityName,
	}
}
