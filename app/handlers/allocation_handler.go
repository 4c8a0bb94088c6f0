package handlers

import (
	"github.com/amirphl/Kagutsuchi/app/dto"
	businessflow "github.com/amirphl/Kagutsuchi/business_flow"
	"github.com/gofiber/fiber/v3"
	"go.uber.org/zap"
)

// AllocationHandlerInterface defines the contract for allocation request handlers
type AllocationHandlerInterface interface {
	List(c fiber.Ctx) error
	Create(c fiber.Ctx) error
	Process(c fiber.Ctx) error
	AppendNotes(c fiber.Ctx) error
	Cancel(c fiber.Ctx) error
}

// AllocationHandler serves the allocation request workflow
type AllocationHandler struct {
	baseHandler
	flow businessflow.AllocationFlow
}

func NewAllocationHandler(flow businessflow.AllocationFlow, logger *zap.Logger) *AllocationHandler {
	return &AllocationHandler{
		baseHandler: newBaseHandler(logger, "allocation_handler"),
		flow:        flow,
	}
}

// List allocation requests
// @Summary List allocation requests
// @Description Admins see every request, leads only their own.
// @Tags Allocation Requests
// @Produce json
// @Security BearerAuth
// @Param status query string false "Status" Enums(pending, approved, rejected)
// @Param submission_id query int false "Submission ID"
// @Param page query int false "Page number"
// @Param page_size query int false "Page size"
// @Success 200 {object} dto.APIResponse{data=dto.ListAllocationRequestsResponse} "Requests retrieved"
// @Failure 401 {object} dto.APIResponse "Unauthorized"
// @Router /api/allocation-requests [get]
func (h *AllocationHandler) List(c fiber.Ctx) error {
	actor, ok, err := h.requireActor(c)
	if !ok {
		return err
	}
	q := newQueryParser(c)
	req := dto.ListAllocationRequestsRequest{
		PageRequest:  q.Page(),
		Status:       q.String("status"),
		SubmissionID: q.Uint("submission_id"),
	}
	if ok, err := h.decodeQuery(c, q, &req); !ok {
		return err
	}

	ctx, cancel := h.createRequestContext(c, "/api/allocation-requests")
	defer cancel()

	res, err := h.flow.ListRequests(ctx, actor, &req)
	if err != nil {
		return h.handleError(c, err, "Failed to list allocation requests")
	}
	return h.SuccessResponse(c, fiber.StatusOK, "Allocation requests retrieved", res)
}

// Create files a request to move a submission to the lead's entity
// @Summary Create allocation request
// @Tags Allocation Requests
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body dto.CreateAllocationRequest true "Request"
// @Success 201 {object} dto.APIResponse{data=dto.AllocationRequestDTO} "Request created"
// @Failure 400 {object} dto.APIResponse "Submission already allocated or entity not local"
// @Failure 403 {object} dto.APIResponse "Entity is not the lead's own"
// @Failure 404 {object} dto.APIResponse "Submission or entity not found"
// @Router /api/allocation-requests [post]
func (h *AllocationHandler) Create(c fiber.Ctx) error {
	actor, ok, err := h.requireActor(c)
	if !ok {
		return err
	}
	var req dto.CreateAllocationRequest
	if ok, err := h.decodeJSON(c, &req); !ok {
		return err
	}

	ctx, cancel := h.createRequestContext(c, "/api/allocation-requests")
	defer cancel()

	res, err := h.flow.CreateRequest(ctx, actor, &req)
	if err != nil {
		return h.handleError(c, err, "Failed to create allocation request")
	}
	return h.SuccessResponse(c, fiber.StatusCreated, "Allocation request created", res)
}

// Process approves or rejects a pending request
// @Summary Process allocation request
// @Description Admin only. Approval allocates the submission in the same transaction.
// @Tags Allocation Requests
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path int true "Request ID"
// @Param request body dto.ProcessAllocationRequest true "Decision"
// @Success 200 {object} dto.APIResponse{data=dto.AllocationRequestDTO} "Request processed"
// @Failure 400 {object} dto.APIResponse "Request is not pending"
// @Failure 403 {object} dto.APIResponse "Forbidden"
// @Failure 404 {object} dto.APIResponse "Request not found"
// @Router /api/allocation-requests/{id} [put]
func (h *AllocationHandler) Process(c fiber.Ctx) error {
	actor, ok, err := h.requireActor(c)
	if !ok {
		return err
	}
	id, ok, err := h.paramID(c, "id")
	if !ok {
		return err
	}
	var req dto.ProcessAllocationRequest
	if ok, err := h.decodeJSON(c, &req); !ok {
		return err
	}

	ctx, cancel := h.createRequestContext(c, "/api/allocation-requests/:id")
	defer cancel()

	res, err := h.flow.ProcessRequest(ctx, actor, id, &req)
	if err != nil {
		return h.handleError(c, err, "Failed to process allocation request")
	}
	return h.SuccessResponse(c, fiber.StatusOK, "Allocation request processed", res)
}

// AppendNotes adds an admin note to a request
// @Summary Append admin notes
// @Tags Allocation Requests
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path int true "Request ID"
// @Param request body dto.AppendAdminNotesRequest true "Note"
// @Success 200 {object} dto.APIResponse{data=dto.AllocationRequestDTO} "Notes updated"
// @Failure 403 {object} dto.APIResponse "Forbidden"
// @Failure 404 {object} dto.APIResponse "Request not found"
// @Router /api/allocation-requests/{id} [patch]
func (h *AllocationHandler) AppendNotes(c fiber.Ctx) error {
	actor, ok, err := h.requireActor(c)
	if !ok {
		return err
	}
	id, ok, err := h.paramID(c, "id")
	if !ok {
		return err
	}
	var req dto.AppendAdminNotesRequest
	if ok, err := h.decodeJSON(c, &req); !ok {
		return err
	}

	ctx, cancel := h.createRequestContext(c, "/api/allocation-requests/:id")
	defer cancel()

	res, err := h.flow.AppendAdminNotes(ctx, actor, id, req.Note)
	if err != nil {
		return h.handleError(c, err, "Failed to update admin notes")
	}
	return h.SuccessResponse(c, fiber.StatusOK, "Admin notes updated", res)
}

// Cancel withdraws a pending request
// @Summary Cancel allocation request
// @Description Only the requester can cancel, and only while pending.
// @Tags Allocation Requests
// @Produce json
// @Security BearerAuth
// @Param id path int true "Request ID"
// @Success 200 {object} dto.APIResponse "Request cancelled"
// @Failure 400 {object} dto.APIResponse "Request is not pending"
// @Failure 403 {object} dto.APIResponse "Not the requester"
// @Failure 404 {object} dto.APIResponse "Request not found"
// @Router /api/allocation-requests/{id} [delete]
func (h *AllocationHandler) Cancel(c fiber.Ctx) error {
	actor, ok, err := h.requireActor(c)
	if !ok {
		return err
	}
	id, ok, err := h.paramID(c, "id")
	if !ok {
		return err
	}

	ctx, cancel := h.createRequestContext(c, "/api/allocation-requests/:id")
	defer cancel()

	if err := h.flow.CancelRequest(ctx, actor, id); err != nil {
		return h.handleError(c, err, "Failed to cancel allocation request")
	}
	return h.SuccessResponse(c, fiber.StatusOK, "Allocation request cancelled", nil)
}
