package businessflow

import (
	"context"
	"testing"
	"time"

	"github.com/amirphl/Kagutsuchi/app/dto"
	"github.com/amirphl/Kagutsuchi/models"
	"github.com/amirphl/Kagutsuchi/repository"
	testingutil "github.com/amirphl/Kagutsuchi/testing"
	"github.com/amirphl/Kagutsuchi/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type allocationFixture struct {
	tdb   *testingutil.TestDB
	fx    *testingutil.TestFixtures
	flow  AllocationFlow
	form  *models.Form
	admin Actor
	local *models.Entity
	lead  Actor
}

func newAllocationFixture(t *testing.T) *allocationFixture {
	t.Helper()
	tdb, fx := setupTestDB(t)
	db := tdb.DB
	flow := NewAllocationFlow(
		repository.NewFormSubmissionRepository(db),
		repository.NewEntityRepository(db),
		repository.NewUserRepository(db),
		repository.NewAllocationRequestRepository(db),
		repository.NewNotificationRepository(db),
		db,
		zaptest.NewLogger(t),
	)
	form, _, err := fx.CreateForm("ALLOC", models.FormTypeOGV)
	require.NoError(t, err)
	local := mustEntity(t, fx, "Local Allocation")
	return &allocationFixture{
		tdb:   tdb,
		fx:    fx,
		flow:  flow,
		form:  form,
		admin: adminActor(t, fx),
		local: local,
		lead:  leadActor(t, fx, local.ID),
	}
}

func (af *allocationFixture) submission(t *testing.T) *models.FormSubmission {
	t.Helper()
	s, err := af.fx.CreateSubmission(af.form.ID, "", "", time.Now())
	require.NoError(t, err)
	return s
}

func (af *allocationFixture) notifications(t *testing.T, userID uint) []models.Notification {
	t.Helper()
	var rows []models.Notification
	require.NoError(t, af.tdb.DB.Where("user_id = ?", userID).Order("id ASC").Find(&rows).Error)
	return rows
}

func TestAllocationFlow_ManualAllocate(t *testing.T) {
	af := newAllocationFixture(t)
	ctx := context.Background()
	sub := af.submission(t)

	_, err := af.flow.ManualAllocate(ctx, af.lead, sub.ID, af.local.ID)
	assert.True(t, IsForbidden(err))

	emt, err := af.fx.NationalEntity(utils.EntityNameEMT)
	require.NoError(t, err)
	_, err = af.flow.ManualAllocate(ctx, af.admin, sub.ID, emt.ID)
	assert.True(t, IsEntityNotLocal(err))

	_, err = af.flow.ManualAllocate(ctx, af.admin, sub.ID, 99999)
	assert.True(t, IsNotFound(err))

	out, err := af.flow.ManualAllocate(ctx, af.admin, sub.ID, af.local.ID)
	require.NoError(t, err)
	assert.Equal(t, af.local.ID, *out.EntityID)

	other := mustEntity(t, af.fx, "Other Local")
	_, err = af.flow.ManualAllocate(ctx, af.admin, sub.ID, other.ID)
	assert.True(t, IsSubmissionAlreadyAllocated(err))

	// Organic submissions may still be moved to a local entity
	organic, err := af.fx.NationalEntity(utils.EntityNameOrganic)
	require.NoError(t, err)
	organicSub := af.submission(t)
	require.NoError(t, af.tdb.DB.Model(organicSub).Update("entity_id", organic.ID).Error)
	_, err = af.flow.ManualAllocate(ctx, af.admin, organicSub.ID, other.ID)
	require.NoError(t, err)
	assert.Equal(t, other.ID, *reloadSubmission(t, af.tdb, organicSub.ID).EntityID)
}

func TestAllocationFlow_LeadCannotRequestForeignEntity(t *testing.T) {
	af := newAllocationFixture(t)
	sub := af.submission(t)
	foreign := mustEntity(t, af.fx, "Foreign Local")

	_, err := af.flow.CreateRequest(context.Background(), af.lead, &dto.CreateAllocationRequest{SubmissionID: sub.ID, EntityID: foreign.ID})
	require.Error(t, err)
	assert.True(t, IsForbidden(err))

	_, err = af.flow.CreateRequest(context.Background(), af.admin, &dto.CreateAllocationRequest{SubmissionID: sub.ID, EntityID: af.local.ID})
	assert.True(t, IsForbidden(err))

	var count int64
	require.NoError(t, af.tdb.DB.Model(&models.AllocationRequest{}).Count(&count).Error)
	assert.Zero(t, count)
}

func TestAllocationFlow_ApproveOnceThenReapprovalFails(t *testing.T) {
	af := newAllocationFixture(t)
	ctx := context.Background()
	sub := af.submission(t)

	created, err := af.flow.CreateRequest(ctx, af.lead, &dto.CreateAllocationRequest{SubmissionID: sub.ID, EntityID: af.local.ID, Notes: "ours"})
	require.NoError(t, err)
	assert.Equal(t, models.AllocationStatusPending, created.Status)
	assert.Nil(t, reloadSubmission(t, af.tdb, sub.ID).EntityID)
	require.Len(t, af.notifications(t, af.admin.UserID), 1)

	approved, err := af.flow.ProcessRequest(ctx, af.admin, created.ID, &dto.ProcessAllocationRequest{Action: AllocationActionApprove, AdminNotes: "ok"})
	require.NoError(t, err)
	assert.Equal(t, models.AllocationStatusApproved, approved.Status)
	assert.Contains(t, approved.AdminNotes, "ok")
	assert.Equal(t, af.local.ID, *reloadSubmission(t, af.tdb, sub.ID).EntityID)

	leadInbox := af.notifications(t, af.lead.UserID)
	require.Len(t, leadInbox, 1)
	assert.Equal(t, models.NotificationAllocationApproved, leadInbox[0].Type)

	// Move the submission elsewhere, then re-approve: nothing may change
	other := mustEntity(t, af.fx, "Elsewhere")
	require.NoError(t, af.tdb.DB.Model(&models.FormSubmission{}).Where("id = ?", sub.ID).Update("entity_id", other.ID).Error)

	_, err = af.flow.ProcessRequest(ctx, af.admin, created.ID, &dto.ProcessAllocationRequest{Action: AllocationActionApprove})
	require.Error(t, err)
	assert.True(t, IsAllocationRequestNotPending(err))
	assert.True(t, IsInvalid(err))
	assert.Equal(t, other.ID, *reloadSubmission(t, af.tdb, sub.ID).EntityID)
	assert.Len(t, af.notifications(t, af.lead.UserID), 1)
}

func TestAllocationFlow_ApprovalRollsBackWhenNotificationFails(t *testing.T) {
	af := newAllocationFixture(t)
	ctx := context.Background()
	sub := af.submission(t)

	created, err := af.flow.CreateRequest(ctx, af.lead, &dto.CreateAllocationRequest{SubmissionID: sub.ID, EntityID: af.local.ID})
	require.NoError(t, err)
	failInsertsInto(t, af.tdb.DB, "notifications")

	_, err = af.flow.ProcessRequest(ctx, af.admin, created.ID, &dto.ProcessAllocationRequest{Action: AllocationActionApprove, AdminNotes: "ok"})
	require.Error(t, err)
	var be *BusinessError
	require.ErrorAs(t, err, &be)
	assert.Equal(t, "PROCESS_REQUEST_FAILED", be.Code)

	assert.Nil(t, reloadSubmission(t, af.tdb, sub.ID).EntityID)
	var request models.AllocationRequest
	require.NoError(t, af.tdb.DB.First(&request, created.ID).Error)
	assert.Equal(t, models.AllocationStatusPending, request.Status)
	assert.Nil(t, request.ProcessedBy)
	assert.NotContains(t, request.AdminNotes, "ok")
	assert.Empty(t, af.notifications(t, af.lead.UserID))
}

func TestAllocationFlow_RejectAndCancelNeverTouchSubmission(t *testing.T) {
	af := newAllocationFixture(t)
	ctx := context.Background()

	rejectedSub := af.submission(t)
	req1, err := af.flow.CreateRequest(ctx, af.lead, &dto.CreateAllocationRequest{SubmissionID: rejectedSub.ID, EntityID: af.local.ID})
	require.NoError(t, err)
	rejected, err := af.flow.ProcessRequest(ctx, af.admin, req1.ID, &dto.ProcessAllocationRequest{Action: AllocationActionReject})
	require.NoError(t, err)
	assert.Equal(t, models.AllocationStatusRejected, rejected.Status)
	assert.Nil(t, reloadSubmission(t, af.tdb, rejectedSub.ID).EntityID)

	cancelledSub := af.submission(t)
	req2, err := af.flow.CreateRequest(ctx, af.lead, &dto.CreateAllocationRequest{SubmissionID: cancelledSub.ID, EntityID: af.local.ID})
	require.NoError(t, err)
	require.Len(t, af.notifications(t, af.admin.UserID), 2)

	otherLead := leadActor(t, af.fx, af.local.ID)
	err = af.flow.CancelRequest(ctx, otherLead, req2.ID)
	assert.True(t, IsForbidden(err))

	require.NoError(t, af.flow.CancelRequest(ctx, af.lead, req2.ID))
	assert.Nil(t, reloadSubmission(t, af.tdb, cancelledSub.ID).EntityID)

	adminInbox := af.notifications(t, af.admin.UserID)
	require.Len(t, adminInbox, 1, "the cancelled request's notification is removed")

	err = af.flow.CancelRequest(ctx, af.lead, req1.ID)
	assert.True(t, IsAllocationRequestNotPending(err))
}

func TestAllocationFlow_AdminNotesAndListing(t *testing.T) {
	af := newAllocationFixture(t)
	ctx := context.Background()
	sub := af.submission(t)

	req, err := af.flow.CreateRequest(ctx, af.lead, &dto.CreateAllocationRequest{SubmissionID: sub.ID, EntityID: af.local.ID})
	require.NoError(t, err)
	_, err = af.flow.ProcessRequest(ctx, af.admin, req.ID, &dto.ProcessAllocationRequest{Action: AllocationActionReject, AdminNotes: "first"})
	require.NoError(t, err)

	noted, err := af.flow.AppendAdminNotes(ctx, af.admin, req.ID, "second")
	require.NoError(t, err)
	assert.Contains(t, noted.AdminNotes, "first")
	assert.Contains(t, noted.AdminNotes, "second")
	assert.Equal(t, models.AllocationStatusRejected, noted.Status)

	_, err = af.flow.AppendAdminNotes(ctx, af.lead, req.ID, "sneaky")
	assert.True(t, IsForbidden(err))

	otherLead := leadActor(t, af.fx, af.local.ID)
	mine, err := af.flow.ListRequests(ctx, otherLead, &dto.ListAllocationRequestsRequest{})
	require.NoError(t, err)
	assert.Empty(t, mine.Items)

	all, err := af.flow.ListRequests(ctx, af.admin, &dto.ListAllocationRequestsRequest{})
	require.NoError(t, err)
	require.Len(t, all.Items, 1)
	assert.Equal(t, af.local.Name, all.Items[0].RequestedEntityName)
	assert.NotEmpty(t, all.Items[0].RequesterName)
}
