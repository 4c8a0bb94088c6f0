package businessflow

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/amirphl/Kagutsuchi/app/dto"
	"github.com/amirphl/Kagutsuchi/app/services"
	"github.com/amirphl/Kagutsuchi/models"
	"github.com/amirphl/Kagutsuchi/repository"
	"github.com/amirphl/Kagutsuchi/utils"
	"github.com/xuri/excelize/v2"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Payload keys captured on the submission row instead of a response
const (
	utmCampaignKey = "utm_campaign"
	utmSourceKey   = "utm_source"
	utmMediumKey   = "utm_medium"
	utmNameKey     = "utm_name"
	submittedAtKey = "submitted_at"
)

// Intake paths recorded in SubmissionsIngested
const (
	intakePathForm   = "form"
	intakePathImport = "import"
)

const maxExportRows = 50000

// SubmissionFlow handles the submission lifecycle
type SubmissionFlow interface {
	Submit(ctx context.Context, formCode string, payload map[string]string, metadata *ClientMetadata) (*dto.SubmitResponse, error)
	ListSubmissions(ctx context.Context, actor Actor, req *dto.ListSubmissionsRequest) (*dto.ListSubmissionsResponse, error)
	GetSubmission(ctx context.Context, actor Actor, id uint) (*dto.SubmissionDTO, error)
	DeleteSubmission(ctx context.Context, actor Actor, id uint) error
	ImportSubmissions(ctx context.Context, actor Actor, req *dto.ImportSubmissionsRequest) (*dto.ImportSubmissionsResponse, error)
	ExportSubmissions(ctx context.Context, actor Actor, req *dto.ListSubmissionsRequest) (*dto.ExportFile, error)
}

// SubmissionFlowImpl implements SubmissionFlow
type SubmissionFlowImpl struct {
	formRepo       repository.FormRepository
	fieldRepo      repository.FormFieldRepository
	submissionRepo repository.FormSubmissionRepository
	responseRepo   repository.FormResponseRepository
	uniRepo        repository.UniMappingRepository
	entityRepo     repository.EntityRepository
	resolvers      FieldResolvers
	dedup          *Deduplicator
	mailer         services.Mailer
	tasks          services.TaskRunner
	db             *gorm.DB
	logger         *zap.Logger
}

func NewSubmissionFlow(
	formRepo repository.FormRepository,
	fieldRepo repository.FormFieldRepository,
	submissionRepo repository.FormSubmissionRepository,
	responseRepo repository.FormResponseRepository,
	uniRepo repository.UniMappingRepository,
	entityRepo repository.EntityRepository,
	resolvers FieldResolvers,
	dedup *Deduplicator,
	mailer services.Mailer,
	tasks services.TaskRunner,
	db *gorm.DB,
	logger *zap.Logger,
) SubmissionFlow {
	return &SubmissionFlowImpl{
		formRepo:       formRepo,
		fieldRepo:      fieldRepo,
		submissionRepo: submissionRepo,
		responseRepo:   responseRepo,
		uniRepo:        uniRepo,
		entityRepo:     entityRepo,
		resolvers:      resolvers,
		dedup:          dedup,
		mailer:         mailer,
		tasks:          tasks,
		db:             db,
		logger:         logger.Named("submission_flow"),
	}
}

// Submit ingests one public form post
func (f *SubmissionFlowImpl) Submit(ctx context.Context, formCode string, payload map[string]string, metadata *ClientMetadata) (*dto.SubmitResponse, error) {
	ctx, span := services.Tracer().Start(ctx, "submission.submit")
	defer span.End()
	span.SetAttributes(attribute.String("form.code", formCode))

	resp, err := f.submit(ctx, formCode, payload, metadata)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(attribute.Int64("submission.id", int64(resp.SubmissionID)))
	return resp, nil
}

func (f *SubmissionFlowImpl) submit(ctx context.Context, formCode string, payload map[string]string, metadata *ClientMetadata) (*dto.SubmitResponse, error) {
	if len(payload) == 0 {
		return nil, NewBusinessError("EMPTY_PAYLOAD", "Submission payload is empty", ErrEmptyPayload)
	}

	form, err := f.formRepo.ByCode(ctx, formCode)
	if err != nil {
		return nil, NewBusinessError("FORM_LOOKUP_FAILED", "Failed to load form", err)
	}
	if form == nil {
		return nil, NewBusinessError("FORM_NOT_FOUND", "Form not found", ErrFormNotFound)
	}

	fields, err := f.fieldRepo.ListByForm(ctx, form.ID)
	if err != nil {
		return nil, NewBusinessError("FORM_FIELDS_LOOKUP_FAILED", "Failed to load form fields", err)
	}

	sub, responses, err := f.prepareSubmission(ctx, form, fields, payload)
	if err != nil {
		return nil, err
	}

	if err := f.persist(ctx, sub, responses); err != nil {
		return nil, NewBusinessError("SUBMISSION_SAVE_FAILED", "Failed to save submission", err)
	}
	services.SubmissionsIngested.WithLabelValues(form.Type, intakePathForm).Inc()

	marked, err := f.dedup.AfterInsert(ctx, sub)
	if err != nil {
		f.logger.Error("Deduplication after intake failed",
			zap.Uint("submission_id", sub.ID), zap.Uint("form_id", form.ID), zap.Error(err))
	}

	if sub.Email != "" {
		to, formName := sub.Email, form.Name
		f.tasks.Enqueue("submission_confirmation_email", func(ctx context.Context) error {
			return f.mailer.Send(ctx, services.SubmissionConfirmation(to, formName))
		})
	}

	logFields := []zap.Field{
		zap.Uint("submission_id", sub.ID),
		zap.String("form_code", form.Code),
		zap.Int("duplicates_marked", marked),
	}
	if sub.EntityID != nil {
		logFields = append(logFields, zap.Uint("entity_id", *sub.EntityID))
	}
	if metadata != nil {
		logFields = append(logFields, zap.String("request_id", metadata.RequestID), zap.String("ip", metadata.IPAddress))
	}
	f.logger.Info("Submission accepted", logFields...)

	return &dto.SubmitResponse{SubmissionID: sub.ID, EntityID: sub.EntityID, Duplicates: marked}, nil
}

// prepareSubmission validates a payload against the form's fields and
// builds the rows to insert. Unknown keys are ignored.
func (f *SubmissionFlowImpl) prepareSubmission(ctx context.Context, form *models.Form, fields []*models.FormField, payload map[string]string) (*models.FormSubmission, []*models.FormResponse, error) {
	sub := &models.FormSubmission{
		FormID:      form.ID,
		UtmCampaign: strings.TrimSpace(payload[utmCampaignKey]),
		UtmSource:   strings.TrimSpace(payload[utmSourceKey]),
		UtmMedium:   strings.TrimSpace(payload[utmMediumKey]),
		UtmName:     strings.TrimSpace(payload[utmNameKey]),
	}

	for _, field := range fields {
		if field.IsRequired && strings.TrimSpace(payload[field.FieldName]) == "" {
			return nil, nil, NewBusinessErrorf("REQUIRED_FIELD_MISSING", "Field %s is required", ErrRequiredFieldMissing, field.FieldName)
		}
	}

	responses := make([]*models.FormResponse, 0, len(fields))
	for _, field := range fields {
		raw, ok := payload[field.FieldName]
		if !ok || strings.TrimSpace(raw) == "" {
			continue
		}

		var value string
		if field.FieldName == models.FieldNameOtherUni {
			value = raw
		} else {
			resolved, err := f.resolvers.Resolve(ctx, field, raw)
			if err != nil {
				if errors.Is(err, ErrInvalidFieldOptions) {
					return nil, nil, NewBusinessError("INVALID_FIELD_OPTIONS", err.Error(), err)
				}
				return nil, nil, NewBusinessError("FIELD_RESOLUTION_FAILED", "Failed to resolve field "+field.FieldName, err)
			}
			value = resolved
		}

		if field.FieldName == models.FieldNameUni {
			uni, err := resolveUni(ctx, f.uniRepo, value)
			if err != nil {
				return nil, nil, NewBusinessError("UNI_RESOLUTION_FAILED", "Failed to resolve university", err)
			}
			value = uni.Value
			sub.EntityID = uni.EntityID
		}

		switch {
		case field.FieldName == models.FieldNameEmail || field.FieldType == models.FieldTypeEmail:
			if sub.Email == "" {
				sub.Email = utils.NormalizeEmail(value)
			}
		case field.FieldName == models.FieldNamePhone || field.FieldType == models.FieldTypePhone:
			if sub.Phone == "" {
				sub.Phone = utils.NormalizePhone(value)
			}
		}

		responses = append(responses, &models.FormResponse{FieldID: field.ID, Value: value})
	}

	return sub, responses, nil
}

// persist writes the submission and its responses atomically
func (f *SubmissionFlowImpl) persist(ctx context.Context, sub *models.FormSubmission, responses []*models.FormResponse) error {
	return repository.WithTransaction(ctx, f.db, func(txCtx context.Context) error {
		if err := f.submissionRepo.Save(txCtx, sub); err != nil {
			return err
		}
		for _, r := range responses {
			r.SubmissionID = sub.ID
		}
		return f.responseRepo.SaveBatch(txCtx, responses)
	})
}

// submissionFilter applies role scoping to a list request. Non-admins see
// their own entity, or the unallocated pool when they ask for it.
func submissionFilter(actor Actor, req *dto.ListSubmissionsRequest) (models.FormSubmissionFilter, error) {
	filter := models.FormSubmissionFilter{FormID: req.FormID}

	if req.From != nil && req.To != nil && !req.From.Before(*req.To) {
		return filter, NewBusinessError("INVALID_DATE_RANGE", "from must be before to", ErrInvalidDateRange)
	}
	filter.SubmittedAfter = utils.TimeToUTCPtr(req.From)
	filter.SubmittedBefore = utils.TimeToUTCPtr(req.To)

	if !req.IncludeDuplicates {
		filter.Duplicated = utils.ToPtr(false)
	}

	switch {
	case actor.IsAdmin():
		filter.EntityID = req.EntityID
		filter.Unallocated = req.Unallocated
	case utils.IsTrue(req.Unallocated):
		filter.Unallocated = utils.ToPtr(true)
	default:
		entityID, err := scopeEntity(actor, req.EntityID)
		if err != nil {
			return filter, NewBusinessError("ENTITY_SCOPE_DENIED", err.Error(), err)
		}
		filter.EntityID = entityID
	}
	return filter, nil
}

func (f *SubmissionFlowImpl) ListSubmissions(ctx context.Context, actor Actor, req *dto.ListSubmissionsRequest) (*dto.ListSubmissionsResponse, error) {
	if err := requireUser(actor); err != nil {
		return nil, NewBusinessError("UNAUTHENTICATED", "Authentication required", err)
	}
	filter, err := submissionFilter(actor, req)
	if err != nil {
		return nil, err
	}

	page, size, offset := paging(req.PageRequest)
	total, err := f.submissionRepo.Count(ctx, filter)
	if err != nil {
		return nil, NewBusinessError("LIST_SUBMISSIONS_FAILED", "Failed to count submissions", err)
	}
	rows, err := f.submissionRepo.ByFilter(ctx, filter, "submitted_at DESC, id DESC", size, offset)
	if err != nil {
		return nil, NewBusinessError("LIST_SUBMISSIONS_FAILED", "Failed to list submissions", err)
	}

	items, err := f.toDTOs(ctx, rows)
	if err != nil {
		return nil, NewBusinessError("LIST_SUBMISSIONS_FAILED", "Failed to load submission responses", err)
	}
	return &dto.ListSubmissionsResponse{
		Items:      items,
		Pagination: dto.Pagination{Page: page, PageSize: size, Total: total},
	}, nil
}

func (f *SubmissionFlowImpl) GetSubmission(ctx context.Context, actor Actor, id uint) (*dto.SubmissionDTO, error) {
	if err := requireUser(actor); err != nil {
		return nil, NewBusinessError("UNAUTHENTICATED", "Authentication required", err)
	}
	sub, err := f.submissionRepo.ByID(ctx, id)
	if err != nil {
		return nil, NewBusinessError("GET_SUBMISSION_FAILED", "Failed to load submission", err)
	}
	if sub == nil {
		return nil, NewBusinessError("SUBMISSION_NOT_FOUND", "Submission not found", ErrSubmissionNotFound)
	}
	if !actor.IsAdmin() && sub.EntityID != nil && !actor.OwnsEntity(*sub.EntityID) {
		return nil, NewBusinessError("FORBIDDEN", "Submission belongs to another entity", ErrNotOwnEntity)
	}

	items, err := f.toDTOs(ctx, []*models.FormSubmission{sub})
	if err != nil || len(items) == 0 {
		return nil, NewBusinessError("GET_SUBMISSION_FAILED", "Failed to load submission responses", err)
	}
	return &items[0], nil
}

// DeleteSubmission removes a submission and recomputes the duplicate flags
// of its form, which may promote an older row
func (f *SubmissionFlowImpl) DeleteSubmission(ctx context.Context, actor Actor, id uint) error {
	if err := requireAdmin(actor); err != nil {
		return NewBusinessError("FORBIDDEN", "Only admins can delete submissions", err)
	}
	sub, err := f.submissionRepo.ByID(ctx, id)
	if err != nil {
		return NewBusinessError("DELETE_SUBMISSION_FAILED", "Failed to load submission", err)
	}
	if sub == nil {
		return NewBusinessError("SUBMISSION_NOT_FOUND", "Submission not found", ErrSubmissionNotFound)
	}

	if err := f.submissionRepo.Delete(ctx, id); err != nil {
		return NewBusinessError("DELETE_SUBMISSION_FAILED", "Failed to delete submission", err)
	}
	if _, _, err := f.dedup.Reconcile(ctx, sub.FormID); err != nil {
		f.logger.Error("Reconcile after delete failed", zap.Uint("form_id", sub.FormID), zap.Error(err))
	}

	f.logger.Info("Submission deleted", zap.Uint("submission_id", id), zap.Uint("deleted_by", actor.UserID))
	return nil
}

// ImportSubmissions inserts pre-parsed rows one transaction per row, then
// reconciles duplicates for the whole form
func (f *SubmissionFlowImpl) ImportSubmissions(ctx context.Context, actor Actor, req *dto.ImportSubmissionsRequest) (*dto.ImportSubmissionsResponse, error) {
	if err := requireAdmin(actor); err != nil {
		return nil, NewBusinessError("FORBIDDEN", "Only admins can import submissions", err)
	}
	form, err := f.formRepo.ByID(ctx, req.FormID)
	if err != nil {
		return nil, NewBusinessError("IMPORT_FAILED", "Failed to load form", err)
	}
	if form == nil {
		return nil, NewBusinessError("FORM_NOT_FOUND", "Form not found", ErrFormNotFound)
	}
	fields, err := f.fieldRepo.ListByForm(ctx, form.ID)
	if err != nil {
		return nil, NewBusinessError("IMPORT_FAILED", "Failed to load form fields", err)
	}

	resp := &dto.ImportSubmissionsResponse{}
	for i, row := range req.Rows {
		if err := f.importRow(ctx, form, fields, row); err != nil {
			resp.Failed = append(resp.Failed, dto.ImportRowError{Row: i + 1, Error: err.Error()})
			continue
		}
		resp.Imported++
	}
	services.SubmissionsIngested.WithLabelValues(form.Type, intakePathImport).Add(float64(resp.Imported))

	if resp.Imported > 0 {
		marked, _, err := f.dedup.Reconcile(ctx, form.ID)
		if err != nil {
			f.logger.Error("Reconcile after import failed", zap.Uint("form_id", form.ID), zap.Error(err))
		}
		resp.Duplicates = marked
	}

	f.logger.Info("Submissions imported",
		zap.Uint("form_id", form.ID),
		zap.Int("imported", resp.Imported),
		zap.Int("failed", len(resp.Failed)),
		zap.Int("duplicates_marked", resp.Duplicates))
	return resp, nil
}

func (f *SubmissionFlowImpl) importRow(ctx context.Context, form *models.Form, fields []*models.FormField, row map[string]string) error {
	if len(row) == 0 {
		return ErrEmptyPayload
	}
	sub, responses, err := f.prepareSubmission(ctx, form, fields, row)
	if err != nil {
		return err
	}
	if raw := strings.TrimSpace(row[submittedAtKey]); raw != "" {
		at, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return fmt.Errorf("invalid submitted_at %q", raw)
		}
		sub.SubmittedAt = at.UTC()
	}
	return f.persist(ctx, sub, responses)
}

// ExportSubmissions renders the filtered submissions of one form as XLSX
func (f *SubmissionFlowImpl) ExportSubmissions(ctx context.Context, actor Actor, req *dto.ListSubmissionsRequest) (*dto.ExportFile, error) {
	if err := requireUser(actor); err != nil {
		return nil, NewBusinessError("UNAUTHENTICATED", "Authentication required", err)
	}
	if req.FormID == nil {
		return nil, NewBusinessError("FORM_REQUIRED", "form_id is required for export", ErrFormRequired)
	}
	form, err := f.formRepo.ByID(ctx, *req.FormID)
	if err != nil {
		return nil, NewBusinessError("EXPORT_FAILED", "Failed to load form", err)
	}
	if form == nil {
		return nil, NewBusinessError("FORM_NOT_FOUND", "Form not found", ErrFormNotFound)
	}
	filter, err := submissionFilter(actor, req)
	if err != nil {
		return nil, err
	}

	fields, err := f.fieldRepo.ListByForm(ctx, form.ID)
	if err != nil {
		return nil, NewBusinessError("EXPORT_FAILED", "Failed to load form fields", err)
	}
	rows, err := f.submissionRepo.ByFilter(ctx, filter, "submitted_at DESC, id DESC", maxExportRows, 0)
	if err != nil {
		return nil, NewBusinessError("EXPORT_FAILED", "Failed to load submissions", err)
	}
	items, err := f.toDTOs(ctx, rows)
	if err != nil {
		return nil, NewBusinessError("EXPORT_FAILED", "Failed to load submission responses", err)
	}

	xl := excelize.NewFile()
	defer func() { _ = xl.Close() }()
	sheet := "Submissions"
	if err := xl.SetSheetName(xl.GetSheetName(0), sheet); err != nil {
		return nil, NewBusinessError("EXCEL_WRITE_ERROR", "Failed to prepare sheet", err)
	}

	header := []string{"id", "submitted_at", "entity", "duplicated", "email", "phone", "utm_campaign", "utm_source", "utm_medium", "utm_name"}
	for _, field := range fields {
		header = append(header, field.FieldLabel)
	}
	_ = xl.SetSheetRow(sheet, "A1", &header)

	for ri, item := range items {
		values := make(map[uint]string, len(item.Responses))
		for _, r := range item.Responses {
			values[r.FieldID] = r.Value
		}
		record := []string{
			strconv.FormatUint(uint64(item.ID), 10),
			item.SubmittedAt,
			item.EntityName,
			strconv.FormatBool(item.Duplicated),
			item.Email,
			item.Phone,
			item.UtmCampaign,
			item.UtmSource,
			item.UtmMedium,
			item.UtmName,
		}
		for _, field := range fields {
			record = append(record, values[field.ID])
		}
		cellRef, _ := excelize.CoordinatesToCellName(1, ri+2)
		_ = xl.SetSheetRow(sheet, cellRef, &record)
	}

	buf, err := xl.WriteToBuffer()
	if err != nil {
		return nil, NewBusinessError("EXCEL_WRITE_ERROR", "Failed to write Excel file", err)
	}
	return &dto.ExportFile{
		FileName:    fmt.Sprintf("%s-submissions-%s.xlsx", form.Code, utils.UTCNow().Format("20060102")),
		ContentType: "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
		Content:     buf.Bytes(),
	}, nil
}

// toDTOs loads responses and entity names for rows, keeping their order
func (f *SubmissionFlowImpl) toDTOs(ctx context.Context, rows []*models.FormSubmission) ([]dto.SubmissionDTO, error) {
	items := make([]dto.SubmissionDTO, 0, len(rows))
	if len(rows) == 0 {
		return items, nil
	}

	ids := make([]uint, 0, len(rows))
	var entityIDs []uint
	for _, s := range rows {
		ids = append(ids, s.ID)
		if s.EntityID != nil {
			entityIDs = append(entityIDs, *s.EntityID)
		}
	}

	loaded, err := f.submissionRepo.WithResponses(ctx, ids)
	if err != nil {
		return nil, err
	}
	byID := make(map[uint]*models.FormSubmission, len(loaded))
	for _, s := range loaded {
		byID[s.ID] = s
	}
	names, err := entityNames(ctx, f.entityRepo, entityIDs)
	if err != nil {
		return nil, err
	}

	for _, s := range rows {
		full, ok := byID[s.ID]
		if !ok {
			full = s
		}
		item := dto.SubmissionDTO{
			ID:          full.ID,
			FormID:      full.FormID,
			EntityID:    full.EntityID,
			Duplicated:  full.Duplicated,
			Email:       full.Email,
			Phone:       full.Phone,
			UtmCampaign: full.UtmCampaign,
			UtmSource:   full.UtmSource,
			UtmMedium:   full.UtmMedium,
			UtmName:     full.UtmName,
			SubmittedAt: formatTime(full.SubmittedAt),
			Responses:   make([]dto.ResponseDTO, 0, len(full.Responses)),
		}
		if full.EntityID != nil {
			item.EntityName = names[*full.EntityID]
		}

		responses := full.Responses
		sort.SliceStable(responses, func(i, j int) bool {
			return sortOrderOf(responses[i]) < sortOrderOf(responses[j])
		})
		for _, r := range responses {
			rd := dto.ResponseDTO{FieldID: r.FieldID, Value: r.Value}
			if r.Field != nil {
				rd.FieldName = r.Field.FieldName
				rd.FieldLabel = r.Field.FieldLabel
			}
			item.Responses = append(item.Responses, rd)
		}
		items = append(items, item)
	}
	return items, nil
}

func sortOrderOf(r models.FormResponse) int {
	if r.Field == nil {
		return 0
	}
	return r.Field.SortOrder
}
