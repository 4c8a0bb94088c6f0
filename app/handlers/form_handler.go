package handlers

import (
	"github.com/amirphl/Kagutsuchi/app/dto"
	businessflow "github.com/amirphl/Kagutsuchi/business_flow"
	"github.com/gofiber/fiber/v3"
	"go.uber.org/zap"
)

// FormHandlerInterface defines the contract for form handlers
type FormHandlerInterface interface {
	List(c fiber.Ctx) error
	Create(c fiber.Ctx) error
	Get(c fiber.Ctx) error
	GetByCode(c fiber.Ctx) error
	Update(c fiber.Ctx) error
	Delete(c fiber.Ctx) error
	AddField(c fiber.Ctx) error
	UpdateField(c fiber.Ctx) error
	DeleteField(c fiber.Ctx) error
	ReorderFields(c fiber.Ctx) error
}

// FormHandler serves form and field management
type FormHandler struct {
	baseHandler
	flow businessflow.FormFlow
}

func NewFormHandler(flow businessflow.FormFlow, logger *zap.Logger) *FormHandler {
	return &FormHandler{
		baseHandler: newBaseHandler(logger, "form_handler"),
		flow:        flow,
	}
}

// List forms
// @Summary List forms
// @Tags Forms
// @Produce json
// @Security BearerAuth
// @Param type query string false "Form type" Enums(oGV, TMR, EWA)
// @Success 200 {object} dto.APIResponse{data=[]dto.FormDTO} "Forms retrieved"
// @Failure 401 {object} dto.APIResponse "Unauthorized"
// @Router /api/forms [get]
func (h *FormHandler) List(c fiber.Ctx) error {
	actor, ok, err := h.requireActor(c)
	if !ok {
		return err
	}
	q := newQueryParser(c)
	req := dto.ListFormsRequest{Type: q.String("type")}
	if ok, err := h.decodeQuery(c, q, &req); !ok {
		return err
	}

	ctx, cancel := h.createRequestContext(c, "/api/forms")
	defer cancel()

	res, err := h.flow.ListForms(ctx, actor, &req)
	if err != nil {
		return h.handleError(c, err, "Failed to list forms")
	}
	return h.SuccessResponse(c, fiber.StatusOK, "Forms retrieved", res)
}

// Create a form
// @Summary Create form
// @Description Create a form with an optional initial field list. The form code is derived from the name.
// @Tags Forms
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body dto.CreateFormRequest true "Form definition"
// @Success 201 {object} dto.APIResponse{data=dto.FormDTO} "Form created"
// @Failure 400 {object} dto.APIResponse "Validation error"
// @Failure 403 {object} dto.APIResponse "Forbidden"
// @Router /api/forms [post]
func (h *FormHandler) Create(c fiber.Ctx) error {
	actor, ok, err := h.requireActor(c)
	if !ok {
		return err
	}
	var req dto.CreateFormRequest
	if ok, err := h.decodeJSON(c, &req); !ok {
		return err
	}

	ctx, cancel := h.createRequestContext(c, "/api/forms")
	defer cancel()

	res, err := h.flow.CreateForm(ctx, actor, &req)
	if err != nil {
		return h.handleError(c, err, "Failed to create form")
	}
	return h.SuccessResponse(c, fiber.StatusCreated, "Form created", res)
}

// Get a form with its fields
// @Summary Get form
// @Tags Forms
// @Produce json
// @Security BearerAuth
// @Param id path int true "Form ID"
// @Success 200 {object} dto.APIResponse{data=dto.FormDTO} "Form retrieved"
// @Failure 404 {object} dto.APIResponse "Form not found"
// @Router /api/forms/{id} [get]
func (h *FormHandler) Get(c fiber.Ctx) error {
	actor, ok, err := h.requireActor(c)
	if !ok {
		return err
	}
	id, ok, err := h.paramID(c, "id")
	if !ok {
		return err
	}

	ctx, cancel := h.createRequestContext(c, "/api/forms/:id")
	defer cancel()

	res, err := h.flow.GetForm(ctx, actor, id)
	if err != nil {
		return h.handleError(c, err, "Failed to get form")
	}
	return h.SuccessResponse(c, fiber.StatusOK, "Form retrieved", res)
}

// GetByCode returns the public rendering of a form
// @Summary Get form by code
// @Description Public endpoint used by landing pages to render a form.
// @Tags Forms
// @Produce json
// @Param code path string true "Form code"
// @Success 200 {object} dto.APIResponse{data=dto.FormDTO} "Form retrieved"
// @Failure 404 {object} dto.APIResponse "Form not found"
// @Router /api/forms/code/{code} [get]
func (h *FormHandler) GetByCode(c fiber.Ctx) error {
	ctx, cancel := h.createRequestContext(c, "/api/forms/code/:code")
	defer cancel()

	res, err := h.flow.GetFormByCode(ctx, c.Params("code"))
	if err != nil {
		return h.handleError(c, err, "Failed to get form")
	}
	return h.SuccessResponse(c, fiber.StatusOK, "Form retrieved", res)
}

// Update a form
// @Summary Update form
// @Tags Forms
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path int true "Form ID"
// @Param request body dto.UpdateFormRequest true "Changes"
// @Success 200 {object} dto.APIResponse{data=dto.FormDTO} "Form updated"
// @Failure 400 {object} dto.APIResponse "Validation error"
// @Failure 404 {object} dto.APIResponse "Form not found"
// @Router /api/forms/{id} [put]
func (h *FormHandler) Update(c fiber.Ctx) error {
	actor, ok, err := h.requireActor(c)
	if !ok {
		return err
	}
	id, ok, err := h.paramID(c, "id")
	if !ok {
		return err
	}
	var req dto.UpdateFormRequest
	if ok, err := h.decodeJSON(c, &req); !ok {
		return err
	}

	ctx, cancel := h.createRequestContext(c, "/api/forms/:id")
	defer cancel()

	res, err := h.flow.UpdateForm(ctx, actor, id, &req)
	if err != nil {
		return h.handleError(c, err, "Failed to update form")
	}
	return h.SuccessResponse(c, fiber.StatusOK, "Form updated", res)
}

// Delete a form
// @Summary Delete form
// @Tags Forms
// @Produce json
// @Security BearerAuth
// @Param id path int true "Form ID"
// @Success 200 {object} dto.APIResponse "Form deleted"
// @Failure 403 {object} dto.APIResponse "Forbidden"
// @Failure 404 {object} dto.APIResponse "Form not found"
// @Router /api/forms/{id} [delete]
func (h *FormHandler) Delete(c fiber.Ctx) error {
	actor, ok, err := h.requireActor(c)
	if !ok {
		return err
	}
	id, ok, err := h.paramID(c, "id")
	if !ok {
		return err
	}

	ctx, cancel := h.createRequestContext(c, "/api/forms/:id")
	defer cancel()

	if err := h.flow.DeleteForm(ctx, actor, id); err != nil {
		return h.handleError(c, err, "Failed to delete form")
	}
	return h.SuccessResponse(c, fiber.StatusOK, "Form deleted", nil)
}

// AddField appends a field to a form
// @Summary Add field
// @Tags Forms
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path int true "Form ID"
// @Param request body dto.FieldInput true "Field definition"
// @Success 201 {object} dto.APIResponse{data=dto.FormFieldDTO} "Field added"
// @Failure 400 {object} dto.APIResponse "Validation error"
// @Failure 404 {object} dto.APIResponse "Form not found"
// @Router /api/forms/{id}/fields [post]
func (h *FormHandler) AddField(c fiber.Ctx) error {
	actor, ok, err := h.requireActor(c)
	if !ok {
		return err
	}
	formID, ok, err := h.paramID(c, "id")
	if !ok {
		return err
	}
	var req dto.FieldInput
	if ok, err := h.decodeJSON(c, &req); !ok {
		return err
	}

	ctx, cancel := h.createRequestContext(c, "/api/forms/:id/fields")
	defer cancel()

	res, err := h.flow.AddField(ctx, actor, formID, &req)
	if err != nil {
		return h.handleError(c, err, "Failed to add field")
	}
	return h.SuccessResponse(c, fiber.StatusCreated, "Field added", res)
}

// UpdateField changes a field definition
// @Summary Update field
// @Tags Forms
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path int true "Form ID"
// @Param fieldId path int true "Field ID"
// @Param request body dto.UpdateFieldRequest true "Changes"
// @Success 200 {object} dto.APIResponse{data=dto.FormFieldDTO} "Field updated"
// @Failure 400 {object} dto.APIResponse "Validation error"
// @Failure 404 {object} dto.APIResponse "Field not found"
// @Router /api/forms/{id}/fields/{fieldId} [put]
func (h *FormHandler) UpdateField(c fiber.Ctx) error {
	actor, ok, err := h.requireActor(c)
	if !ok {
		return err
	}
	formID, ok, err := h.paramID(c, "id")
	if !ok {
		return err
	}
	fieldID, ok, err := h.paramID(c, "fieldId")
	if !ok {
		return err
	}
	var req dto.UpdateFieldRequest
	if ok, err := h.decodeJSON(c, &req); !ok {
		return err
	}

	ctx, cancel := h.createRequestContext(c, "/api/forms/:id/fields/:fieldId")
	defer cancel()

	res, err := h.flow.UpdateField(ctx, actor, formID, fieldID, &req)
	if err != nil {
		return h.handleError(c, err, "Failed to update field")
	}
	return h.SuccessResponse(c, fiber.StatusOK, "Field updated", res)
}

// DeleteField removes a field
// @Summary Delete field
// @Tags Forms
// @Produce json
// @Security BearerAuth
// @Param id path int true "Form ID"
// @Param fieldId path int true "Field ID"
// @Success 200 {object} dto.APIResponse "Field deleted"
// @Failure 404 {object} dto.APIResponse "Field not found"
// @Router /api/forms/{id}/fields/{fieldId} [delete]
func (h *FormHandler) DeleteField(c fiber.Ctx) error {
	actor, ok, err := h.requireActor(c)
	if !ok {
		return err
	}
	formID, ok, err := h.paramID(c, "id")
	if !ok {
		return err
	}
	fieldID, ok, err := h.paramID(c, "fieldId")
	if !ok {
		return err
	}

	ctx, cancel := h.createRequestContext(c, "/api/forms/:id/fields/:fieldId")
	defer cancel()

	if err := h.flow.DeleteField(ctx, actor, formID, fieldID); err != nil {
		return h.handleError(c, err, "Failed to delete field")
	}
	return h.SuccessResponse(c, fiber.StatusOK, "Field deleted", nil)
}

// ReorderFields rewrites the display order of every field
// @Summary Reorder fields
// @Tags Forms
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path int true "Form ID"
// @Param request body dto.ReorderFieldsRequest true "Every field id in the new order"
// @Success 200 {object} dto.APIResponse{data=[]dto.FormFieldDTO} "Fields reordered"
// @Failure 400 {object} dto.APIResponse "Field list does not match the form"
// @Router /api/forms/{id}/fields/reorder [patch]
func (h *FormHandler) ReorderFields(c fiber.Ctx) error {
	actor, ok, err := h.requireActor(c)
	if !ok {
		return err
	}
	formID, ok, err := h.paramID(c, "id")
	if !ok {
		return err
	}
	var req dto.ReorderFieldsRequest
	if ok, err := h.decodeJSON(c, &req); !ok {
		return err
	}

	ctx, cancel := h.createRequestContext(c, "/api/forms/:id/fields/reorder")
	defer cancel()

	res, err := h.flow.ReorderFields(ctx, actor, formID, &req)
	if err != nil {
		return h.handleError(c, err, "Failed to reorder fields")
	}
	return h.SuccessResponse(c, fiber.StatusOK, "Fields reordered", res)
}
