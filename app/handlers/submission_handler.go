package handlers

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"

	"github.com/amirphl/Kagutsuchi/app/dto"
	businessflow "github.com/amirphl/Kagutsuchi/business_flow"
	"github.com/gofiber/fiber/v3"
	"go.uber.org/zap"
)

// SubmissionHandlerInterface defines the contract for submission handlers
type SubmissionHandlerInterface interface {
	Submit(c fiber.Ctx) error
	List(c fiber.Ctx) error
	Get(c fiber.Ctx) error
	Delete(c fiber.Ctx) error
	Allocate(c fiber.Ctx) error
	Import(c fiber.Ctx) error
	Export(c fiber.Ctx) error
}

// SubmissionHandler serves public intake and dashboard submission management
type SubmissionHandler struct {
	baseHandler
	flow       businessflow.SubmissionFlow
	allocation businessflow.AllocationFlow
}

func NewSubmissionHandler(flow businessflow.SubmissionFlow, allocation businessflow.AllocationFlow, logger *zap.Logger) *SubmissionHandler {
	return &SubmissionHandler{
		baseHandler: newBaseHandler(logger, "submission_handler"),
		flow:        flow,
		allocation:  allocation,
	}
}

// Submit ingests a public form submission
// @Summary Submit form
// @Description Public intake endpoint. Accepts a flat JSON object keyed by field name, or a Webflow webhook envelope {"payload":{"data":{...}}}. utm_campaign, utm_source, utm_medium and utm_name are captured on the submission.
// @Tags Submissions
// @Accept json
// @Produce json
// @Param code path string true "Form code"
// @Param request body object true "Field values keyed by field name"
// @Success 201 {object} dto.APIResponse{data=dto.SubmitResponse} "Submission received"
// @Failure 400 {object} dto.APIResponse "Empty payload or missing required field"
// @Failure 404 {object} dto.APIResponse "Form not found"
// @Failure 500 {object} dto.APIResponse "Internal server error"
// @Router /api/submissions/{code} [post]
func (h *SubmissionHandler) Submit(c fiber.Ctx) error {
	payload, err := flattenSubmissionPayload(c.Body())
	if err != nil {
		return h.invalidBody(c, err)
	}

	ctx, cancel := h.createRequestContext(c, "/api/submissions/:code")
	defer cancel()

	res, err := h.flow.Submit(ctx, c.Params("code"), payload, clientMetadata(c))
	if err != nil {
		return h.handleError(c, err, "Failed to record submission")
	}
	return h.SuccessResponse(c, fiber.StatusCreated, "Submission received", res)
}

// List submissions visible to the caller
// @Summary List submissions
// @Description Leads see their own entity and the unallocated pool. Duplicates are hidden unless include_duplicates is set.
// @Tags Submissions
// @Produce json
// @Security BearerAuth
// @Param form_id query int false "Form ID"
// @Param entity_id query int false "Entity ID"
// @Param unallocated query bool false "Only submissions without a local entity"
// @Param include_duplicates query bool false "Include rows marked duplicated"
// @Param from query string false "Inclusive lower bound (RFC3339 or YYYY-MM-DD)"
// @Param to query string false "Exclusive upper bound (RFC3339) or last day included (YYYY-MM-DD)"
// @Param page query int false "Page number"
// @Param page_size query int false "Page size"
// @Success 200 {object} dto.APIResponse{data=dto.ListSubmissionsResponse} "Submissions retrieved"
// @Failure 400 {object} dto.APIResponse "Invalid filter"
// @Failure 401 {object} dto.APIResponse "Unauthorized"
// @Router /api/submissions [get]
func (h *SubmissionHandler) List(c fiber.Ctx) error {
	actor, ok, err := h.requireActor(c)
	if !ok {
		return err
	}
	req, ok, err := h.listRequest(c)
	if !ok {
		return err
	}

	ctx, cancel := h.createRequestContext(c, "/api/submissions")
	defer cancel()

	res, err := h.flow.ListSubmissions(ctx, actor, req)
	if err != nil {
		return h.handleError(c, err, "Failed to list submissions")
	}
	return h.SuccessResponse(c, fiber.StatusOK, "Submissions retrieved", res)
}

// Get a submission with its responses
// @Summary Get submission
// @Tags Submissions
// @Produce json
// @Security BearerAuth
// @Param id path int true "Submission ID"
// @Success 200 {object} dto.APIResponse{data=dto.SubmissionDTO} "Submission retrieved"
// @Failure 403 {object} dto.APIResponse "Submission belongs to another entity"
// @Failure 404 {object} dto.APIResponse "Submission not found"
// @Router /api/submissions/{id} [get]
func (h *SubmissionHandler) Get(c fiber.Ctx) error {
	actor, ok, err := h.requireActor(c)
	if !ok {
		return err
	}
	id, ok, err := h.paramID(c, "id")
	if !ok {
		return err
	}

	ctx, cancel := h.createRequestContext(c, "/api/submissions/:id")
	defer cancel()

	res, err := h.flow.GetSubmission(ctx, actor, id)
	if err != nil {
		return h.handleError(c, err, "Failed to get submission")
	}
	return h.SuccessResponse(c, fiber.StatusOK, "Submission retrieved", res)
}

// Delete a submission and reconcile duplicate flags
// @Summary Delete submission
// @Tags Submissions
// @Produce json
// @Security BearerAuth
// @Param id path int true "Submission ID"
// @Success 200 {object} dto.APIResponse "Submission deleted"
// @Failure 403 {object} dto.APIResponse "Forbidden"
// @Failure 404 {object} dto.APIResponse "Submission not found"
// @Router /api/submissions/{id} [delete]
func (h *SubmissionHandler) Delete(c fiber.Ctx) error {
	actor, ok, err := h.requireActor(c)
	if !ok {
		return err
	}
	id, ok, err := h.paramID(c, "id")
	if !ok {
		return err
	}

	ctx, cancel := h.createRequestContext(c, "/api/submissions/:id")
	defer cancel()

	if err := h.flow.DeleteSubmission(ctx, actor, id); err != nil {
		return h.handleError(c, err, "Failed to delete submission")
	}
	return h.SuccessResponse(c, fiber.StatusOK, "Submission deleted", nil)
}

// Allocate assigns a submission to a local entity
// @Summary Allocate submission
// @Description Admin only. The target must be a local entity.
// @Tags Submissions
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path int true "Submission ID"
// @Param request body dto.ManualAllocateRequest true "Target entity"
// @Success 200 {object} dto.APIResponse{data=dto.SubmissionDTO} "Submission allocated"
// @Failure 400 {object} dto.APIResponse "Target entity is not local"
// @Failure 403 {object} dto.APIResponse "Forbidden"
// @Failure 404 {object} dto.APIResponse "Submission or entity not found"
// @Router /api/submissions/{id}/allocate [patch]
func (h *SubmissionHandler) Allocate(c fiber.Ctx) error {
	actor, ok, err := h.requireActor(c)
	if !ok {
		return err
	}
	id, ok, err := h.paramID(c, "id")
	if !ok {
		return err
	}
	var req dto.ManualAllocateRequest
	if ok, err := h.decodeJSON(c, &req); !ok {
		return err
	}

	ctx, cancel := h.createRequestContext(c, "/api/submissions/:id/allocate")
	defer cancel()

	res, err := h.allocation.ManualAllocate(ctx, actor, id, req.EntityID)
	if err != nil {
		return h.handleError(c, err, "Failed to allocate submission")
	}
	return h.SuccessResponse(c, fiber.StatusOK, "Submission allocated", res)
}

// Import bulk-loads pre-parsed rows into a form
// @Summary Import submissions
// @Description Admin only. Rows are keyed by field name; submitted_at (RFC3339) is optional. Deduplication runs once after the import.
// @Tags Submissions
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body dto.ImportSubmissionsRequest true "Rows to import"
// @Success 200 {object} dto.APIResponse{data=dto.ImportSubmissionsResponse} "Import finished"
// @Failure 400 {object} dto.APIResponse "Validation error"
// @Failure 403 {object} dto.APIResponse "Forbidden"
// @Router /api/submissions/import [post]
func (h *SubmissionHandler) Import(c fiber.Ctx) error {
	actor, ok, err := h.requireActor(c)
	if !ok {
		return err
	}
	var req dto.ImportSubmissionsRequest
	if ok, err := h.decodeJSON(c, &req); !ok {
		return err
	}

	ctx, cancel := h.createRequestContext(c, "/api/submissions/import")
	defer cancel()

	res, err := h.flow.ImportSubmissions(ctx, actor, &req)
	if err != nil {
		return h.handleError(c, err, "Failed to import submissions")
	}
	return h.SuccessResponse(c, fiber.StatusOK, "Import finished", res)
}

// Export streams the filtered submissions as an XLSX workbook
// @Summary Export submissions
// @Description Same filters as the list endpoint. form_id is required so columns follow the form's fields.
// @Tags Submissions
// @Produce application/vnd.openxmlformats-officedocument.spreadsheetml.sheet
// @Security BearerAuth
// @Param form_id query int true "Form ID"
// @Param entity_id query int false "Entity ID"
// @Param unallocated query bool false "Only submissions without a local entity"
// @Param include_duplicates query bool false "Include rows marked duplicated"
// @Param from query string false "Lower bound"
// @Param to query string false "Upper bound"
// @Success 200 {file} file "XLSX workbook"
// @Failure 400 {object} dto.APIResponse "Invalid filter"
// @Router /api/submissions/export [get]
func (h *SubmissionHandler) Export(c fiber.Ctx) error {
	actor, ok, err := h.requireActor(c)
	if !ok {
		return err
	}
	req, ok, err := h.listRequest(c)
	if !ok {
		return err
	}

	ctx, cancel := h.createRequestContext(c, "/api/submissions/export")
	defer cancel()

	file, err := h.flow.ExportSubmissions(ctx, actor, req)
	if err != nil {
		return h.handleError(c, err, "Failed to export submissions")
	}
	c.Set(fiber.HeaderContentType, file.ContentType)
	c.Set(fiber.HeaderContentDisposition, fmt.Sprintf("attachment; filename=%q", file.FileName))
	return c.Status(fiber.StatusOK).Send(file.Content)
}

func (h *SubmissionHandler) listRequest(c fiber.Ctx) (*dto.ListSubmissionsRequest, bool, error) {
	q := newQueryParser(c)
	req := &dto.ListSubmissionsRequest{
		PageRequest:       q.Page(),
		FormID:            q.Uint("form_id"),
		EntityID:          q.Uint("entity_id"),
		Unallocated:       q.OptBool("unallocated"),
		IncludeDuplicates: q.Bool("include_duplicates"),
		From:              q.Time("from", false),
		To:                q.Time("to", true),
	}
	if ok, err := h.decodeQuery(c, q, req); !ok {
		return nil, false, err
	}
	return req, true, nil
}

// flattenSubmissionPayload turns the request body into field_name -> value.
// A Webflow envelope is unwrapped first. Nulls are dropped and other
// non-string values are rendered as compact JSON.
func flattenSubmissionPayload(body []byte) (map[string]string, error) {
	if len(bytes.TrimSpace(body)) == 0 {
		return map[string]string{}, nil
	}

	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	var raw map[string]any
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("payload must be a JSON object: %w", err)
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, errors.New("payload must contain a single JSON object")
	}

	if envelope, ok := raw["payload"].(map[string]any); ok {
		if data, ok := envelope["data"].(map[string]any); ok {
			raw = data
		}
	}

	out := make(map[string]string, len(raw))
	for key, value := range raw {
		switch v := value.(type) {
		case nil:
			continue
		case string:
			out[key] = v
		case json.Number:
			out[key] = v.String()
		case bool:
			out[key] = strconv.FormatBool(v)
		default:
			encoded, err := json.Marshal(v)
			if err != nil {
				return nil, fmt.Errorf("field %s: %w", key, err)
			}
			out[key] = string(encoded)
		}
	}
	return out, nil
}
