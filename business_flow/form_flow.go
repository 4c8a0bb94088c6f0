package businessflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/amirphl/Kagutsuchi/app/dto"
	"github.com/amirphl/Kagutsuchi/models"
	"github.com/amirphl/Kagutsuchi/repository"
	"github.com/amirphl/Kagutsuchi/utils"
	"github.com/google/uuid"
	"github.com/xeipuuv/gojsonschema"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// FormFlow handles the form builder
type FormFlow interface {
	CreateForm(ctx context.Context, actor Actor, req *dto.CreateFormRequest) (*dto.FormDTO, error)
	UpdateForm(ctx context.Context, actor Actor, id uint, req *dto.UpdateFormRequest) (*dto.FormDTO, error)
	DeleteForm(ctx context.Context, actor Actor, id uint) error
	GetForm(ctx context.Context, actor Actor, id uint) (*dto.FormDTO, error)
	GetFormByCode(ctx context.Context, code string) (*dto.FormDTO, error)
	ListForms(ctx context.Context, actor Actor, req *dto.ListFormsRequest) ([]dto.FormDTO, error)
	AddField(ctx context.Context, actor Actor, formID uint, input *dto.FieldInput) (*dto.FormFieldDTO, error)
	UpdateField(ctx context.Context, actor Actor, formID, fieldID uint, req *dto.UpdateFieldRequest) (*dto.FormFieldDTO, error)
	DeleteField(ctx context.Context, actor Actor, formID, fieldID uint) error
	ReorderFields(ctx context.Context, actor Actor, formID uint, req *dto.ReorderFieldsRequest) ([]dto.FormFieldDTO, error)
}

// FormFlowImpl implements FormFlow
type FormFlowImpl struct {
	formRepo       repository.FormRepository
	fieldRepo      repository.FormFieldRepository
	submissionRepo repository.FormSubmissionRepository
	db             *gorm.DB
	logger         *zap.Logger
}

func NewFormFlow(formRepo repository.FormRepository, fieldRepo repository.FormFieldRepository, submissionRepo repository.FormSubmissionRepository, db *gorm.DB, logger *zap.Logger) FormFlow {
	return &FormFlowImpl{
		formRepo:       formRepo,
		fieldRepo:      fieldRepo,
		submissionRepo: submissionRepo,
		db:             db,
		logger:         logger.Named("form_flow"),
	}
}

var nonSlugRe = regexp.MustCompile(`[^a-z0-9]+`)

const maxSlugLength = 48

// GenerateFormCode builds "<slug>-<6 hex chars>" from a form name
func GenerateFormCode(name string) string {
	slug := strings.Trim(nonSlugRe.ReplaceAllString(strings.ToLower(name), "-"), "-")
	if len(slug) > maxSlugLength {
		slug = strings.TrimRight(slug[:maxSlugLength], "-")
	}
	if slug == "" {
		slug = "form"
	}
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:utils.FormCodeSuffixLength]
	return slug + "-" + suffix
}

// JSON schemas of field_options per field type
var fieldOptionSchemas = map[string]string{
	models.FieldTypeSelect: `{
		"type": "object",
		"required": ["options"],
		"properties": {
			"options": {"type": "array", "minItems": 1, "items": {"type": "string", "minLength": 1}}
		}
	}`,
	models.FieldTypeDatabase: fmt.Sprintf(`{
		"type": "object",
		"required": ["source"],
		"properties": {"source": {"type": "string", "enum": %s}}
	}`, mustJSON(repository.LookupSourceNames())),
}

const genericOptionsSchema = `{"type": "object"}`

func mustJSON(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return string(b)
}

// validateFieldOptions checks options against the schema of the field type.
// Types without a schema accept no options or any object.
func validateFieldOptions(fieldType string, options json.RawMessage) error {
	schema, hasSchema := fieldOptionSchemas[fieldType]
	empty := len(options) == 0 || string(options) == "null"
	if empty {
		if hasSchema {
			return NewBusinessErrorf("INVALID_FIELD_OPTIONS", "field_options are required for %s fields", ErrInvalidFieldOptions, fieldType)
		}
		return nil
	}
	if !hasSchema {
		schema = genericOptionsSchema
	}

	result, err := gojsonschema.Validate(gojsonschema.NewStringLoader(schema), gojsonschema.NewBytesLoader(options))
	if err != nil {
		return NewBusinessError("INVALID_FIELD_OPTIONS", "field_options is not valid JSON", ErrInvalidFieldOptions)
	}
	if !result.Valid() {
		msgs := make([]string, 0, len(result.Errors()))
		for _, desc := range result.Errors() {
			msgs = append(msgs, desc.String())
		}
		return NewBusinessError("INVALID_FIELD_OPTIONS", "Invalid field_options: "+strings.Join(msgs, "; "), ErrInvalidFieldOptions)
	}
	return nil
}

func validFieldType(t string) bool {
	switch t {
	case models.FieldTypeText, models.FieldTypeEmail, models.FieldTypePhone, models.FieldTypeTextarea,
		models.FieldTypeDate, models.FieldTypeSelect, models.FieldTypeDatabase:
		return true
	}
	return false
}

func (f *FormFlowImpl) newField(formID uint, input *dto.FieldInput, sortOrder int) (*models.FormField, error) {
	if !validFieldType(input.FieldType) {
		return nil, NewBusinessError("INVALID_FIELD_TYPE", "Invalid field type", ErrInvalidFieldType)
	}
	if err := validateFieldOptions(input.FieldType, input.FieldOptions); err != nil {
		return nil, err
	}
	field := &models.FormField{
		FormID:     formID,
		FieldName:  strings.TrimSpace(input.FieldName),
		FieldLabel: strings.TrimSpace(input.FieldLabel),
		FieldType:  input.FieldType,
		IsRequired: input.IsRequired,
		SortOrder:  sortOrder,
	}
	if len(input.FieldOptions) > 0 && string(input.FieldOptions) != "null" {
		field.FieldOptions = datatypes.JSON(input.FieldOptions)
	}
	return field, nil
}

func (f *FormFlowImpl) CreateForm(ctx context.Context, actor Actor, req *dto.CreateFormRequest) (*dto.FormDTO, error) {
	if err := requireAdmin(actor); err != nil {
		return nil, NewBusinessError("FORBIDDEN", "Only admins can manage forms", err)
	}
	if !models.ValidFormType(req.Type) {
		return nil, NewBusinessError("INVALID_FORM_TYPE", "Invalid form type", ErrInvalidFormType)
	}

	seen := make(map[string]bool, len(req.Fields))
	for _, in := range req.Fields {
		name := strings.TrimSpace(in.FieldName)
		if seen[name] {
			return nil, NewBusinessErrorf("FIELD_NAME_EXISTS", "Field %s is listed twice", ErrFieldNameExists, name)
		}
		seen[name] = true
	}

	form := &models.Form{
		Code:      GenerateFormCode(req.Name),
		Name:      strings.TrimSpace(req.Name),
		Type:      req.Type,
		CreatedBy: &actor.UserID,
	}
	err := repository.WithTransaction(ctx, f.db, func(txCtx context.Context) error {
		if err := f.formRepo.Save(txCtx, form); err != nil {
			return err
		}
		fields := make([]*models.FormField, 0, len(req.Fields))
		for i := range req.Fields {
			field, err := f.newField(form.ID, &req.Fields[i], i)
			if err != nil {
				return err
			}
			fields = append(fields, field)
		}
		return f.fieldRepo.SaveBatch(txCtx, fields)
	})
	if err != nil {
		var be *BusinessError
		if errors.As(err, &be) {
			return nil, be
		}
		return nil, NewBusinessError("CREATE_FORM_FAILED", "Failed to create form", err)
	}

	f.logger.Info("Form created", zap.Uint("form_id", form.ID), zap.String("code", form.Code), zap.Uint("created_by", actor.UserID))
	return f.toDTO(ctx, form)
}

// UpdateForm renames or retypes a form. A new name gets a new code.
func (f *FormFlowImpl) UpdateForm(ctx context.Context, actor Actor, id uint, req *dto.UpdateFormRequest) (*dto.FormDTO, error) {
	if err := requireAdmin(actor); err != nil {
		return nil, NewBusinessError("FORBIDDEN", "Only admins can manage forms", err)
	}
	form, err := f.loadForm(ctx, id)
	if err != nil {
		return nil, err
	}

	if req.Name != nil {
		name := strings.TrimSpace(*req.Name)
		if name != form.Name {
			form.Name = name
			form.Code = GenerateFormCode(name)
		}
	}
	if req.Type != nil {
		if !models.ValidFormType(*req.Type) {
			return nil, NewBusinessError("INVALID_FORM_TYPE", "Invalid form type", ErrInvalidFormType)
		}
		form.Type = *req.Type
	}
	form.UpdatedAt = utils.UTCNow()

	if err := f.formRepo.Update(ctx, form); err != nil {
		return nil, NewBusinessError("UPDATE_FORM_FAILED", "Failed to update form", err)
	}
	return f.toDTO(ctx, form)
}

func (f *FormFlowImpl) DeleteForm(ctx context.Context, actor Actor, id uint) error {
	if err := requireAdmin(actor); err != nil {
		return NewBusinessError("FORBIDDEN", "Only admins can manage forms", err)
	}
	if _, err := f.loadForm(ctx, id); err != nil {
		return err
	}
	if err := f.formRepo.Delete(ctx, id); err != nil {
		return NewBusinessError("DELETE_FORM_FAILED", "Failed to delete form", err)
	}
	f.logger.Info("Form deleted", zap.Uint("form_id", id), zap.Uint("deleted_by", actor.UserID))
	return nil
}

func (f *FormFlowImpl) GetForm(ctx context.Context, actor Actor, id uint) (*dto.FormDTO, error) {
	if err := requireUser(actor); err != nil {
		return nil, NewBusinessError("UNAUTHENTICATED", "Authentication required", err)
	}
	form, err := f.loadForm(ctx, id)
	if err != nil {
		return nil, err
	}
	return f.toDTO(ctx, form)
}

// GetFormByCode is the public rendering view of a form
func (f *FormFlowImpl) GetFormByCode(ctx context.Context, code string) (*dto.FormDTO, error) {
	form, err := f.formRepo.ByCode(ctx, code)
	if err != nil {
		return nil, NewBusinessError("GET_FORM_FAILED", "Failed to load form", err)
	}
	if form == nil {
		return nil, NewBusinessError("FORM_NOT_FOUND", "Form not found", ErrFormNotFound)
	}
	out, err := f.toDTO(ctx, form)
	if err != nil {
		return nil, err
	}
	out.SubmissionCount = 0
	out.CreatedBy = nil
	return out, nil
}

func (f *FormFlowImpl) ListForms(ctx context.Context, actor Actor, req *dto.ListFormsRequest) ([]dto.FormDTO, error) {
	if err := requireUser(actor); err != nil {
		return nil, NewBusinessError("UNAUTHENTICATED", "Authentication required", err)
	}
	forms, err := f.formRepo.ByFilter(ctx, models.FormFilter{Type: req.Type}, "created_at DESC, id DESC", 0, 0)
	if err != nil {
		return nil, NewBusinessError("LIST_FORMS_FAILED", "Failed to list forms", err)
	}
	out := make([]dto.FormDTO, 0, len(forms))
	for _, form := range forms {
		item, err := f.toDTO(ctx, form)
		if err != nil {
			return nil, err
		}
		out = append(out, *item)
	}
	return out, nil
}

func (f *FormFlowImpl) AddField(ctx context.Context, actor Actor, formID uint, input *dto.FieldInput) (*dto.FormFieldDTO, error) {
	if err := requireAdmin(actor); err != nil {
		return nil, NewBusinessError("FORBIDDEN", "Only admins can manage forms", err)
	}
	if _, err := f.loadForm(ctx, formID); err != nil {
		return nil, err
	}
	if err := f.ensureFieldNameFree(ctx, formID, input.FieldName, 0); err != nil {
		return nil, err
	}

	maxOrder, err := f.fieldRepo.MaxSortOrder(ctx, formID)
	if err != nil {
		return nil, NewBusinessError("ADD_FIELD_FAILED", "Failed to compute field order", err)
	}
	field, err := f.newField(formID, input, maxOrder+1)
	if err != nil {
		return nil, err
	}
	if err := f.fieldRepo.Save(ctx, field); err != nil {
		return nil, NewBusinessError("ADD_FIELD_FAILED", "Failed to add field", err)
	}
	out := ToFormFieldDTO(field)
	return &out, nil
}

func (f *FormFlowImpl) UpdateField(ctx context.Context, actor Actor, formID, fieldID uint, req *dto.UpdateFieldRequest) (*dto.FormFieldDTO, error) {
	if err := requireAdmin(actor); err != nil {
		return nil, NewBusinessError("FORBIDDEN", "Only admins can manage forms", err)
	}
	field, err := f.loadField(ctx, formID, fieldID)
	if err != nil {
		return nil, err
	}

	if req.FieldName != nil {
		name := strings.TrimSpace(*req.FieldName)
		if name != field.FieldName {
			if err := f.ensureFieldNameFree(ctx, formID, name, field.ID); err != nil {
				return nil, err
			}
			field.FieldName = name
		}
	}
	if req.FieldLabel != nil {
		field.FieldLabel = strings.TrimSpace(*req.FieldLabel)
	}
	options := json.RawMessage(field.FieldOptions)
	if req.FieldOptions != nil {
		options = req.FieldOptions
	}
	if req.FieldType != nil {
		if !validFieldType(*req.FieldType) {
			return nil, NewBusinessError("INVALID_FIELD_TYPE", "Invalid field type", ErrInvalidFieldType)
		}
		field.FieldType = *req.FieldType
	}
	if req.FieldType != nil || req.FieldOptions != nil {
		if err := validateFieldOptions(field.FieldType, options); err != nil {
			return nil, err
		}
		if len(options) == 0 || string(options) == "null" {
			field.FieldOptions = nil
		} else {
			field.FieldOptions = datatypes.JSON(options)
		}
	}
	if req.IsRequired != nil {
		field.IsRequired = *req.IsRequired
	}

	if err := f.fieldRepo.Update(ctx, field); err != nil {
		return nil, NewBusinessError("UPDATE_FIELD_FAILED", "Failed to update field", err)
	}
	out := ToFormFieldDTO(field)
	return &out, nil
}

func (f *FormFlowImpl) DeleteField(ctx context.Context, actor Actor, formID, fieldID uint) error {
	if err := requireAdmin(actor); err != nil {
		return NewBusinessError("FORBIDDEN", "Only admins can manage forms", err)
	}
	if _, err := f.loadField(ctx, formID, fieldID); err != nil {
		return err
	}
	if err := f.fieldRepo.Delete(ctx, fieldID); err != nil {
		return NewBusinessError("DELETE_FIELD_FAILED", "Failed to delete field", err)
	}
	return nil
}

// ReorderFields assigns sort orders from the position of each id in the list
func (f *FormFlowImpl) ReorderFields(ctx context.Context, actor Actor, formID uint, req *dto.ReorderFieldsRequest) ([]dto.FormFieldDTO, error) {
	if err := requireAdmin(actor); err != nil {
		return nil, NewBusinessError("FORBIDDEN", "Only admins can manage forms", err)
	}
	if _, err := f.loadForm(ctx, formID); err != nil {
		return nil, err
	}
	fields, err := f.fieldRepo.ListByForm(ctx, formID)
	if err != nil {
		return nil, NewBusinessError("REORDER_FAILED", "Failed to load fields", err)
	}

	if len(req.FieldIDs) != len(fields) {
		return nil, NewBusinessError("INVALID_REORDER", "Every field must be listed exactly once", ErrInvalidReorder)
	}
	known := make(map[uint]bool, len(fields))
	for _, field := range fields {
		known[field.ID] = true
	}
	order := make(map[uint]int, len(req.FieldIDs))
	for i, id := range req.FieldIDs {
		if !known[id] {
			return nil, NewBusinessError("INVALID_REORDER", "Every field must be listed exactly once", ErrInvalidReorder)
		}
		if _, dup := order[id]; dup {
			return nil, NewBusinessError("INVALID_REORDER", "Every field must be listed exactly once", ErrInvalidReorder)
		}
		order[id] = i
	}

	if err := f.fieldRepo.UpdateSortOrders(ctx, formID, order); err != nil {
		return nil, NewBusinessError("REORDER_FAILED", "Failed to reorder fields", err)
	}

	fields, err = f.fieldRepo.ListByForm(ctx, formID)
	if err != nil {
		return nil, NewBusinessError("REORDER_FAILED", "Failed to reload fields", err)
	}
	out := make([]dto.FormFieldDTO, 0, len(fields))
	for _, field := range fields {
		out = append(out, ToFormFieldDTO(field))
	}
	return out, nil
}

func (f *FormFlowImpl) loadForm(ctx context.Context, id uint) (*models.Form, error) {
	form, err := f.formRepo.ByID(ctx, id)
	if err != nil {
		return nil, NewBusinessError("GET_FORM_FAILED", "Failed to load form", err)
	}
	if form == nil {
		return nil, NewBusinessError("FORM_NOT_FOUND", "Form not found", ErrFormNotFound)
	}
	return form, nil
}

func (f *FormFlowImpl) loadField(ctx context.Context, formID, fieldID uint) (*models.FormField, error) {
	field, err := f.fieldRepo.ByID(ctx, fieldID)
	if err != nil {
		return nil, NewBusinessError("GET_FIELD_FAILED", "Failed to load field", err)
	}
	if field == nil || field.FormID != formID {
		return nil, NewBusinessError("FIELD_NOT_FOUND", "Field not found", ErrFieldNotFound)
	}
	return field, nil
}

func (f *FormFlowImpl) ensureFieldNameFree(ctx context.Context, formID uint, name string, exceptID uint) error {
	name = strings.TrimSpace(name)
	rows, err := f.fieldRepo.ByFilter(ctx, models.FormFieldFilter{FormID: &formID, FieldName: &name}, "", 1, 0)
	if err != nil {
		return NewBusinessError("FIELD_LOOKUP_FAILED", "Failed to check field name", err)
	}
	if len(rows) > 0 && rows[0].ID != exceptID {
		return NewBusinessErrorf("FIELD_NAME_EXISTS", "Field %s already exists on this form", ErrFieldNameExists, name)
	}
	return nil
}

func (f *FormFlowImpl) toDTO(ctx context.Context, form *models.Form) (*dto.FormDTO, error) {
	fields, err := f.fieldRepo.ListByForm(ctx, form.ID)
	if err != nil {
		return nil, NewBusinessError("GET_FORM_FAILED", "Failed to load form fields", err)
	}
	count, err := f.submissionRepo.Count(ctx, models.FormSubmissionFilter{FormID: &form.ID})
	if err != nil {
		return nil, NewBusinessError("GET_FORM_FAILED", "Failed to count submissions", err)
	}

	out := &dto.FormDTO{
		ID:              form.ID,
		Code:            form.Code,
		Name:            form.Name,
		Type:            form.Type,
		CreatedBy:       form.CreatedBy,
		SubmissionCount: count,
		CreatedAt:       formatTime(form.CreatedAt),
		UpdatedAt:       formatTime(form.UpdatedAt),
		Fields:          make([]dto.FormFieldDTO, 0, len(fields)),
	}
	for _, field := range fields {
		out.Fields = append(out.Fields, ToFormFieldDTO(field))
	}
	return out, nil
}
