package businessflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/amirphl/Kagutsuchi/app/dto"
	"github.com/amirphl/Kagutsuchi/models"
	"github.com/amirphl/Kagutsuchi/repository"
	"github.com/amirphl/Kagutsuchi/utils"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Allocation request actions
const (
	AllocationActionApprove = "approve"
	AllocationActionReject  = "reject"
)

// AllocationFlow handles manual allocation and the lead request workflow
type AllocationFlow interface {
	ManualAllocate(ctx context.Context, actor Actor, submissionID, entityID uint) (*dto.SubmissionDTO, error)
	CreateRequest(ctx context.Context, actor Actor, req *dto.CreateAllocationRequest) (*dto.AllocationRequestDTO, error)
	ProcessRequest(ctx context.Context, actor Actor, requestID uint, req *dto.ProcessAllocationRequest) (*dto.AllocationRequestDTO, error)
	CancelRequest(ctx context.Context, actor Actor, requestID uint) error
	AppendAdminNotes(ctx context.Context, actor Actor, requestID uint, note string) (*dto.AllocationRequestDTO, error)
	ListRequests(ctx context.Context, actor Actor, req *dto.ListAllocationRequestsRequest) (*dto.ListAllocationRequestsResponse, error)
}

// AllocationFlowImpl implements AllocationFlow
type AllocationFlowImpl struct {
	submissionRepo   repository.FormSubmissionRepository
	entityRepo       repository.EntityRepository
	userRepo         repository.UserRepository
	requestRepo      repository.AllocationRequestRepository
	notificationRepo repository.NotificationRepository
	db               *gorm.DB
	logger           *zap.Logger
}

func NewAllocationFlow(
	submissionRepo repository.FormSubmissionRepository,
	entityRepo repository.EntityRepository,
	userRepo repository.UserRepository,
	requestRepo repository.AllocationRequestRepository,
	notificationRepo repository.NotificationRepository,
	db *gorm.DB,
	logger *zap.Logger,
) AllocationFlow {
	return &AllocationFlowImpl{
		submissionRepo:   submissionRepo,
		entityRepo:       entityRepo,
		userRepo:         userRepo,
		requestRepo:      requestRepo,
		notificationRepo: notificationRepo,
		db:               db,
		logger:           logger.Named("allocation_flow"),
	}
}

// ManualAllocate assigns an unallocated or Organic submission to a local entity
func (f *AllocationFlowImpl) ManualAllocate(ctx context.Context, actor Actor, submissionID, entityID uint) (*dto.SubmissionDTO, error) {
	if err := requireAdmin(actor); err != nil {
		return nil, NewBusinessError("FORBIDDEN", "Only admins can allocate submissions", err)
	}

	sub, err := f.submissionRepo.ByID(ctx, submissionID)
	if err != nil {
		return nil, NewBusinessError("ALLOCATE_FAILED", "Failed to load submission", err)
	}
	if sub == nil {
		return nil, NewBusinessError("SUBMISSION_NOT_FOUND", "Submission not found", ErrSubmissionNotFound)
	}
	if sub.EntityID != nil {
		current, err := f.entityRepo.ByID(ctx, *sub.EntityID)
		if err != nil {
			return nil, NewBusinessError("ALLOCATE_FAILED", "Failed to load current entity", err)
		}
		if current == nil || current.Name != utils.EntityNameOrganic {
			return nil, NewBusinessError("SUBMISSION_ALREADY_ALLOCATED", "Submission is already allocated", ErrSubmissionAlreadyAllocated)
		}
	}

	target, err := f.localEntity(ctx, entityID)
	if err != nil {
		return nil, err
	}

	if err := f.submissionRepo.SetEntity(ctx, sub.ID, target.ID); err != nil {
		return nil, NewBusinessError("ALLOCATE_FAILED", "Failed to allocate submission", err)
	}
	f.logger.Info("Submission allocated manually",
		zap.Uint("submission_id", sub.ID),
		zap.Uint("entity_id", target.ID),
		zap.Uint("allocated_by", actor.UserID))

	return &dto.SubmissionDTO{
		ID:          sub.ID,
		FormID:      sub.FormID,
		EntityID:    &target.ID,
		EntityName:  target.Name,
		Duplicated:  sub.Duplicated,
		Email:       sub.Email,
		Phone:       sub.Phone,
		UtmCampaign: sub.UtmCampaign,
		UtmSource:   sub.UtmSource,
		UtmMedium:   sub.UtmMedium,
		UtmName:     sub.UtmName,
		SubmittedAt: formatTime(sub.SubmittedAt),
		Responses:   []dto.ResponseDTO{},
	}, nil
}

func (f *AllocationFlowImpl) localEntity(ctx context.Context, entityID uint) (*models.Entity, error) {
	target, err := f.entityRepo.ByID(ctx, entityID)
	if err != nil {
		return nil, NewBusinessError("ENTITY_LOOKUP_FAILED", "Failed to load entity", err)
	}
	if target == nil {
		return nil, NewBusinessError("ENTITY_NOT_FOUND", "Entity not found", ErrEntityNotFound)
	}
	if !target.IsLocal() {
		return nil, NewBusinessError("ENTITY_NOT_LOCAL", "Target entity is not a local entity", ErrEntityNotLocal)
	}
	return target, nil
}

// CreateRequest files a pending request from a lead for their own entity
// and notifies every active admin
func (f *AllocationFlowImpl) CreateRequest(ctx context.Context, actor Actor, req *dto.CreateAllocationRequest) (*dto.AllocationRequestDTO, error) {
	if err := requireUser(actor); err != nil {
		return nil, NewBusinessError("UNAUTHENTICATED", "Authentication required", err)
	}
	if !actor.IsLead() {
		return nil, NewBusinessError("FORBIDDEN", "Only leads can request allocations", ErrForbidden)
	}
	if !actor.OwnsEntity(req.EntityID) {
		return nil, NewBusinessError("NOT_OWN_ENTITY", "Leads can only request allocation to their own entity", ErrNotOwnEntity)
	}

	sub, err := f.submissionRepo.ByID(ctx, req.SubmissionID)
	if err != nil {
		return nil, NewBusinessError("CREATE_REQUEST_FAILED", "Failed to load submission", err)
	}
	if sub == nil {
		return nil, NewBusinessError("SUBMISSION_NOT_FOUND", "Submission not found", ErrSubmissionNotFound)
	}
	entity, err := f.localEntity(ctx, req.EntityID)
	if err != nil {
		return nil, err
	}

	admins, err := f.userRepo.ListActiveAdmins(ctx)
	if err != nil {
		return nil, NewBusinessError("CREATE_REQUEST_FAILED", "Failed to load admins", err)
	}

	request := &models.AllocationRequest{
		SubmissionID:      sub.ID,
		RequestedBy:       actor.UserID,
		RequestedEntityID: entity.ID,
		Status:            models.AllocationStatusPending,
		Notes:             strings.TrimSpace(req.Notes),
	}
	err = repository.WithTransaction(ctx, f.db, func(txCtx context.Context) error {
		if err := f.requestRepo.Save(txCtx, request); err != nil {
			return err
		}
		data, err := allocationData(request)
		if err != nil {
			return err
		}
		notifications := make([]*models.Notification, 0, len(admins))
		for _, admin := range admins {
			notifications = append(notifications, &models.Notification{
				UserID:  admin.ID,
				Type:    models.NotificationAllocationRequested,
				Title:   "New allocation request",
				Message: fmt.Sprintf("Submission #%d was requested for %s", sub.ID, entity.Name),
				Data:    data,
			})
		}
		return f.notificationRepo.SaveBatch(txCtx, notifications)
	})
	if err != nil {
		return nil, NewBusinessError("CREATE_REQUEST_FAILED", "Failed to create allocation request", err)
	}

	f.logger.Info("Allocation request created",
		zap.Uint("request_id", request.ID),
		zap.Uint("submission_id", sub.ID),
		zap.Uint("entity_id", entity.ID),
		zap.Int("admins_notified", len(admins)))

	out := f.toDTO(request, nil, map[uint]string{entity.ID: entity.Name})
	return &out, nil
}

// ProcessRequest approves or rejects a pending request in one transaction
func (f *AllocationFlowImpl) ProcessRequest(ctx context.Context, actor Actor, requestID uint, req *dto.ProcessAllocationRequest) (*dto.AllocationRequestDTO, error) {
	if err := requireAdmin(actor); err != nil {
		return nil, NewBusinessError("FORBIDDEN", "Only admins can process allocation requests", err)
	}
	if req.Action != AllocationActionApprove && req.Action != AllocationActionReject {
		return nil, NewBusinessError("INVALID_ACTION", "Action must be approve or reject", ErrInvalidAllocationAction)
	}

	var request *models.AllocationRequest
	err := repository.WithTransaction(ctx, f.db, func(txCtx context.Context) error {
		var err error
		request, err = f.requestRepo.ByIDForUpdate(txCtx, requestID)
		if err != nil {
			return err
		}
		if request == nil {
			return ErrAllocationRequestNotFound
		}
		if !request.IsPending() {
			return ErrAllocationRequestNotPending
		}

		now := utils.UTCNow()
		notificationType := models.NotificationAllocationRejected
		title := "Allocation request rejected"
		request.Status = models.AllocationStatusRejected
		if req.Action == AllocationActionApprove {
			if err := f.submissionRepo.SetEntity(txCtx, request.SubmissionID, request.RequestedEntityID); err != nil {
				return err
			}
			notificationType = models.NotificationAllocationApproved
			title = "Allocation request approved"
			request.Status = models.AllocationStatusApproved
		}
		request.ProcessedBy = &actor.UserID
		request.ProcessedAt = &now
		request.UpdatedAt = now
		if note := strings.TrimSpace(req.AdminNotes); note != "" {
			request.AdminNotes = appendNote(request.AdminNotes, note, actor.UserID)
		}
		if err := f.requestRepo.Update(txCtx, request); err != nil {
			return err
		}

		data, err := allocationData(request)
		if err != nil {
			return err
		}
		return f.notificationRepo.Save(txCtx, &models.Notification{
			UserID:  request.RequestedBy,
			Type:    notificationType,
			Title:   title,
			Message: fmt.Sprintf("Your request for submission #%d was %s", request.SubmissionID, request.Status),
			Data:    data,
		})
	})
	switch {
	case err == nil:
	case errors.Is(err, ErrAllocationRequestNotFound):
		return nil, NewBusinessError("ALLOCATION_REQUEST_NOT_FOUND", "Allocation request not found", err)
	case errors.Is(err, ErrAllocationRequestNotPending):
		return nil, NewBusinessError("ALLOCATION_REQUEST_NOT_PENDING", "Allocation request has already been processed", err)
	default:
		return nil, NewBusinessError("PROCESS_REQUEST_FAILED", "Failed to process allocation request", err)
	}

	f.logger.Info("Allocation request processed",
		zap.Uint("request_id", request.ID),
		zap.String("status", request.Status),
		zap.Uint("processed_by", actor.UserID))

	out := f.toDTO(request, nil, nil)
	return &out, nil
}

// CancelRequest deletes a pending request of the caller and the admin
// notifications that announced it
func (f *AllocationFlowImpl) CancelRequest(ctx context.Context, actor Actor, requestID uint) error {
	if err := requireUser(actor); err != nil {
		return NewBusinessError("UNAUTHENTICATED", "Authentication required", err)
	}
	request, err := f.requestRepo.ByID(ctx, requestID)
	if err != nil {
		return NewBusinessError("CANCEL_REQUEST_FAILED", "Failed to load allocation request", err)
	}
	if request == nil {
		return NewBusinessError("ALLOCATION_REQUEST_NOT_FOUND", "Allocation request not found", ErrAllocationRequestNotFound)
	}
	if request.RequestedBy != actor.UserID {
		return NewBusinessError("NOT_REQUEST_OWNER", "Only the requester can cancel this request", ErrNotRequestOwner)
	}
	if !request.IsPending() {
		return NewBusinessError("ALLOCATION_REQUEST_NOT_PENDING", "Only pending requests can be cancelled", ErrAllocationRequestNotPending)
	}

	var removed int64
	err = repository.WithTransaction(ctx, f.db, func(txCtx context.Context) error {
		if err := f.requestRepo.Delete(txCtx, request.ID); err != nil {
			return err
		}
		removed, err = f.notificationRepo.DeleteByRequestID(txCtx, models.NotificationAllocationRequested, request.ID)
		return err
	})
	if err != nil {
		return NewBusinessError("CANCEL_REQUEST_FAILED", "Failed to cancel allocation request", err)
	}

	f.logger.Info("Allocation request cancelled",
		zap.Uint("request_id", request.ID),
		zap.Int64("notifications_removed", removed))
	return nil
}

// AppendAdminNotes adds a timestamped line to a request of any status
func (f *AllocationFlowImpl) AppendAdminNotes(ctx context.Context, actor Actor, requestID uint, note string) (*dto.AllocationRequestDTO, error) {
	if err := requireAdmin(actor); err != nil {
		return nil, NewBusinessError("FORBIDDEN", "Only admins can annotate allocation requests", err)
	}
	note = strings.TrimSpace(note)
	if note == "" {
		return nil, NewBusinessError("EMPTY_NOTE", "Note is required", ErrEmptyPayload)
	}

	var request *models.AllocationRequest
	err := repository.WithTransaction(ctx, f.db, func(txCtx context.Context) error {
		var err error
		request, err = f.requestRepo.ByIDForUpdate(txCtx, requestID)
		if err != nil {
			return err
		}
		if request == nil {
			return ErrAllocationRequestNotFound
		}
		request.AdminNotes = appendNote(request.AdminNotes, note, actor.UserID)
		request.UpdatedAt = utils.UTCNow()
		return f.requestRepo.Update(txCtx, request)
	})
	if errors.Is(err, ErrAllocationRequestNotFound) {
		return nil, NewBusinessError("ALLOCATION_REQUEST_NOT_FOUND", "Allocation request not found", err)
	}
	if err != nil {
		return nil, NewBusinessError("APPEND_NOTES_FAILED", "Failed to append admin notes", err)
	}

	out := f.toDTO(request, nil, nil)
	return &out, nil
}

func (f *AllocationFlowImpl) ListRequests(ctx context.Context, actor Actor, req *dto.ListAllocationRequestsRequest) (*dto.ListAllocationRequestsResponse, error) {
	if err := requireUser(actor); err != nil {
		return nil, NewBusinessError("UNAUTHENTICATED", "Authentication required", err)
	}

	filter := models.AllocationRequestFilter{Status: req.Status, SubmissionID: req.SubmissionID}
	if !actor.IsAdmin() {
		filter.RequestedBy = &actor.UserID
	}

	page, size, offset := paging(req.PageRequest)
	total, err := f.requestRepo.Count(ctx, filter)
	if err != nil {
		return nil, NewBusinessError("LIST_REQUESTS_FAILED", "Failed to count allocation requests", err)
	}
	rows, err := f.requestRepo.ByFilter(ctx, filter, "created_at DESC, id DESC", size, offset)
	if err != nil {
		return nil, NewBusinessError("LIST_REQUESTS_FAILED", "Failed to list allocation requests", err)
	}

	userIDs := make([]uint, 0, len(rows))
	entityIDs := make([]uint, 0, len(rows))
	for _, r := range rows {
		userIDs = append(userIDs, r.RequestedBy)
		entityIDs = append(entityIDs, r.RequestedEntityID)
	}
	names, err := entityNames(ctx, f.entityRepo, entityIDs)
	if err != nil {
		return nil, NewBusinessError("LIST_REQUESTS_FAILED", "Failed to load entities", err)
	}
	requesters, err := f.userNames(ctx, userIDs)
	if err != nil {
		return nil, NewBusinessError("LIST_REQUESTS_FAILED", "Failed to load requesters", err)
	}

	items := make([]dto.AllocationRequestDTO, 0, len(rows))
	for _, r := range rows {
		items = append(items, f.toDTO(r, requesters, names))
	}
	return &dto.ListAllocationRequestsResponse{
		Items:      items,
		Pagination: dto.Pagination{Page: page, PageSize: size, Total: total},
	}, nil
}

func (f *AllocationFlowImpl) userNames(ctx context.Context, ids []uint) (map[uint]string, error) {
	out := make(map[uint]string, len(ids))
	seen := make(map[uint]bool, len(ids))
	for _, id := range ids {
		if seen[id] {
			continue
		}
		seen[id] = true
		u, err := f.userRepo.ByID(ctx, id)
		if err != nil {
			return nil, err
		}
		if u != nil {
			out[id] = u.Name
		}
	}
	return out, nil
}

func (f *AllocationFlowImpl) toDTO(r *models.AllocationRequest, requesters, entities map[uint]string) dto.AllocationRequestDTO {
	return dto.AllocationRequestDTO{
		ID:                  r.ID,
		SubmissionID:        r.SubmissionID,
		RequestedBy:         r.RequestedBy,
		RequesterName:       requesters[r.RequestedBy],
		RequestedEntityID:   r.RequestedEntityID,
		RequestedEntityName: entities[r.RequestedEntityID],
		Status:              r.Status,
		Notes:               r.Notes,
		AdminNotes:          r.AdminNotes,
		ProcessedBy:         r.ProcessedBy,
		ProcessedAt:         formatTimePtr(r.ProcessedAt),
		CreatedAt:           formatTime(r.CreatedAt),
		UpdatedAt:           formatTime(r.UpdatedAt),
	}
}

// appendNote adds "[timestamp] (admin #id) note" as a new line
func appendNote(existing, note string, adminID uint) string {
	line := fmt.Sprintf("[%s] (admin #%d) %s", formatTime(utils.UTCNow()), adminID, note)
	if existing == "" {
		return line
	}
	return existing + "\n" + line
}

func allocationData(r *models.AllocationRequest) (datatypes.JSON, error) {
	raw, err := json.Marshal(models.AllocationNotificationData{
		RequestID:    r.ID,
		SubmissionID: r.SubmissionID,
		EntityID:     r.RequestedEntityID,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode notification data: %w", err)
	}
	return datatypes.JSON(raw), nil
}
