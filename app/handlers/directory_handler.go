package handlers

import (
	"github.com/amirphl/Kagutsuchi/app/dto"
	businessflow "github.com/amirphl/Kagutsuchi/business_flow"
	"github.com/gofiber/fiber/v3"
	"go.uber.org/zap"
)

type DirectoryHandlerInterface interface {
	ListEntities(c fiber.Ctx) error
	CreateEntity(c fiber.Ctx) error
	ListUniMappings(c fiber.Ctx) error
	CreateUniMapping(c fiber.Ctx) error
	ListUsers(c fiber.Ctx) error
	CreateUser(c fiber.Ctx) error
}

// DirectoryHandler serves entities, university mappings and dashboard users
type DirectoryHandler struct {
	baseHandler
	flow businessflow.DirectoryFlow
}

func NewDirectoryHandler(flow businessflow.DirectoryFlow, logger *zap.Logger) *DirectoryHandler {
	return &DirectoryHandler{
		baseHandler: newBaseHandler(logger, "directory_handler"),
		flow:        flow,
	}
}

// ListEntities
// @Summary List entities
// @Tags Directory
// @Produce json
// @Security BearerAuth
// @Param type query string false "Entity type" Enums(local, national)
// @Param active_only query bool false "Only active entities"
// @Success 200 {object} dto.APIResponse{data=[]dto.EntityDTO} "Entities retrieved"
// @Router /api/entities [get]
func (h *DirectoryHandler) ListEntities(c fiber.Ctx) error {
	actor, ok, err := h.requireActor(c)
	if !ok {
		return err
	}
	q := newQueryParser(c)
	req := dto.ListEntitiesRequest{Type: q.String("type"), ActiveOnly: q.Bool("active_only")}
	if ok, err := h.decodeQuery(c, q, &req); !ok {
		return err
	}

	ctx, cancel := h.createRequestContext(c, "/api/entities")
	defer cancel()

	res, err := h.flow.ListEntities(ctx, actor, &req)
	if err != nil {
		return h.handleError(c, err, "Failed to list entities")
	}
	return h.SuccessResponse(c, fiber.StatusOK, "Entities retrieved", res)
}

// CreateEntity
// @Summary Create entity
// @Tags Directory
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body dto.CreateEntityRequest true "Entity"
// @Success 201 {object} dto.APIResponse{data=dto.EntityDTO} "Entity created"
// @Failure 400 {object} dto.APIResponse "Validation error or duplicate name"
// @Failure 403 {object} dto.APIResponse "Forbidden"
// @Router /api/entities [post]
func (h *DirectoryHandler) CreateEntity(c fiber.Ctx) error {
	actor, ok, err := h.requireActor(c)
	if !ok {
		return err
	}
	var req dto.CreateEntityRequest
	if ok, err := h.decodeJSON(c, &req); !ok {
		return err
	}

	ctx, cancel := h.createRequestContext(c, "/api/entities")
	defer cancel()

	res, err := h.flow.CreateEntity(ctx, actor, &req)
	if err != nil {
		return h.handleError(c, err, "Failed to create entity")
	}
	return h.SuccessResponse(c, fiber.StatusCreated, "Entity created", res)
}

// ListUniMappings
// @Summary List university mappings
// @Tags Directory
// @Produce json
// @Security BearerAuth
// @Param entity_id query int false "Entity ID"
// @Param q query string false "University name contains"
// @Success 200 {object} dto.APIResponse{data=[]dto.UniMappingDTO} "Mappings retrieved"
// @Router /api/uni-mappings [get]
func (h *DirectoryHandler) ListUniMappings(c fiber.Ctx) error {
	actor, ok, err := h.requireActor(c)
	if !ok {
		return err
	}
	q := newQueryParser(c)
	req := dto.ListUniMappingsRequest{EntityID: q.Uint("entity_id"), Query: c.Query("q")}
	if ok, err := h.decodeQuery(c, q, &req); !ok {
		return err
	}

	ctx, cancel := h.createRequestContext(c, "/api/uni-mappings")
	defer cancel()

	res, err := h.flow.ListUniMappings(ctx, actor, &req)
	if err != nil {
		return h.handleError(c, err, "Failed to list university mappings")
	}
	return h.SuccessResponse(c, fiber.StatusOK, "University mappings retrieved", res)
}

// CreateUniMapping
// @Summary Create university mapping
// @Tags Directory
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body dto.CreateUniMappingRequest true "Mapping"
// @Success 201 {object} dto.APIResponse{data=dto.UniMappingDTO} "Mapping created"
// @Failure 400 {object} dto.APIResponse "University already mapped or entity not local"
// @Failure 403 {object} dto.APIResponse "Forbidden"
// @Failure 404 {object} dto.APIResponse "Entity not found"
// @Router /api/uni-mappings [post]
func (h *DirectoryHandler) CreateUniMapping(c fiber.Ctx) error {
	actor, ok, err := h.requireActor(c)
	if !ok {
		return err
	}
	var req dto.CreateUniMappingRequest
	if ok, err := h.decodeJSON(c, &req); !ok {
		return err
	}

	ctx, cancel := h.createRequestContext(c, "/api/uni-mappings")
	defer cancel()

	res, err := h.flow.CreateUniMapping(ctx, actor, &req)
	if err != nil {
		return h.handleError(c, err, "Failed to create university mapping")
	}
	return h.SuccessResponse(c, fiber.StatusCreated, "University mapping created", res)
}

// ListUsers
// @Summary List users
// @Tags Directory
// @Produce json
// @Security BearerAuth
// @Param role query string false "Role" Enums(admin, lead, member)
// @Param entity_id query int false "Entity ID"
// @Success 200 {object} dto.APIResponse{data=[]dto.UserDTO} "Users retrieved"
// @Failure 403 {object} dto.APIResponse "Forbidden"
// @Router /api/users [get]
func (h *DirectoryHandler) ListUsers(c fiber.Ctx) error {
	actor, ok, err := h.requireActor(c)
	if !ok {
		return err
	}
	q := newQueryParser(c)
	req := dto.ListUsersRequest{Role: q.String("role"), EntityID: q.Uint("entity_id")}
	if ok, err := h.decodeQuery(c, q, &req); !ok {
		return err
	}

	ctx, cancel := h.createRequestContext(c, "/api/users")
	defer cancel()

	res, err := h.flow.ListUsers(ctx, actor, &req)
	if err != nil {
		return h.handleError(c, err, "Failed to list users")
	}
	return h.SuccessResponse(c, fiber.StatusOK, "Users retrieved", res)
}

// CreateUser
// @Summary Create user
// @Description Leads must belong to an entity.
// @Tags Directory
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body dto.CreateUserRequest true "User"
// @Success 201 {object} dto.APIResponse{data=dto.UserDTO} "User created"
// @Failure 400 {object} dto.APIResponse "Validation error or duplicate email"
// @Failure 403 {object} dto.APIResponse "Forbidden"
// @Router /api/users [post]
func (h *DirectoryHandler) CreateUser(c fiber.Ctx) error {
	actor, ok, err := h.requireActor(c)
	if !ok {
		return err
	}
	var req dto.CreateUserRequest
	if ok, err := h.decodeJSON(c, &req); !ok {
		return err
	}

	ctx, cancel := h.createRequestContext(c, "/api/users")
	defer cancel()

	res, err := h.flow.CreateUser(ctx, actor, &req)
	if err != nil {
		return h.handleError(c, err, "Failed to create user")
	}
	return h.SuccessResponse(c, fiber.StatusCreated, "User created", res)
}
