package businessflow

import (
	"bytes"
	"context"
	"strconv"
	"testing"

	"github.com/amirphl/Kagutsuchi/app/dto"
	"github.com/amirphl/Kagutsuchi/app/services"
	"github.com/amirphl/Kagutsuchi/models"
	"github.com/amirphl/Kagutsuchi/repository"
	testingutil "github.com/amirphl/Kagutsuchi/testing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
	"go.uber.org/zap/zaptest"
)

type recordingMailer struct {
	sent []services.Mail
}

func (m *recordingMailer) Send(_ context.Context, mail services.Mail) error {
	m.sent = append(m.sent, mail)
	return nil
}

type submissionFixture struct {
	tdb    *testingutil.TestDB
	fx     *testingutil.TestFixtures
	flow   SubmissionFlow
	mailer *recordingMailer
}

func newSubmissionFixture(t *testing.T) *submissionFixture {
	t.Helper()
	tdb, fx := setupTestDB(t)
	logger := zaptest.NewLogger(t)
	db := tdb.DB

	submissionRepo := repository.NewFormSubmissionRepository(db)
	mailer := &recordingMailer{}
	flow := NewSubmissionFlow(
		repository.NewFormRepository(db),
		repository.NewFormFieldRepository(db),
		submissionRepo,
		repository.NewFormResponseRepository(db),
		repository.NewUniMappingRepository(db),
		repository.NewEntityRepository(db),
		NewFieldResolvers(repository.NewLookupRepository(db)),
		NewDeduplicator(submissionRepo, db, logger),
		mailer,
		services.InlineTaskRunner{Logger: logger},
		db,
		logger,
	)
	return &submissionFixture{tdb: tdb, fx: fx, flow: flow, mailer: mailer}
}

func (sf *submissionFixture) responseValue(t *testing.T, submissionID uint, fieldName string) string {
	t.Helper()
	var value string
	err := sf.tdb.DB.Table("form_responses AS r").
		Select("r.value").
		Joins("JOIN form_fields ff ON ff.id = r.field_id").
		Where("r.submission_id = ? AND ff.field_name = ?", submissionID, fieldName).
		Scan(&value).Error
	require.NoError(t, err)
	return value
}

func TestSubmissionFlow_ResolvesUniversityAndDeduplicates(t *testing.T) {
	sf := newSubmissionFixture(t)
	ctx := context.Background()

	entity := mustEntity(t, sf.fx, "Alpha Local")
	_, err := sf.fx.CreateUniMapping(9001, "Alpha University", entity.ID)
	require.NoError(t, err)
	_, _, err = sf.fx.CreateForm("FORM1", models.FormTypeOGV,
		testingutil.FieldSpec{Name: "email", Type: models.FieldTypeEmail, Required: true},
		testingutil.FieldSpec{Name: "uni", Type: models.FieldTypeDatabase, Options: `{"source":"universities"}`},
	)
	require.NoError(t, err)

	first, err := sf.flow.Submit(ctx, "FORM1", map[string]string{"email": "a@x.com", "uni": "Alpha University"}, nil)
	require.NoError(t, err)
	require.NotNil(t, first.EntityID)
	assert.Equal(t, entity.ID, *first.EntityID)
	assert.Equal(t, "9001", sf.responseValue(t, first.SubmissionID, "uni"))
	assert.Zero(t, first.Duplicates)

	second, err := sf.flow.Submit(ctx, "FORM1", map[string]string{"email": "A@x.com", "uni": "Alpha University"}, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, second.Duplicates)

	assert.True(t, reloadSubmission(t, sf.tdb, first.SubmissionID).Duplicated)
	assert.False(t, reloadSubmission(t, sf.tdb, second.SubmissionID).Duplicated)

	require.Len(t, sf.mailer.sent, 2)
	assert.Equal(t, "a@x.com", sf.mailer.sent[0].To)
}

func TestSubmissionFlow_ResponseInsertFailureRollsBackSubmission(t *testing.T) {
	sf := newSubmissionFixture(t)
	_, _, err := sf.fx.CreateForm("ATOMIC1", models.FormTypeOGV,
		testingutil.FieldSpec{Name: "email", Type: models.FieldTypeEmail, Required: true},
		testingutil.FieldSpec{Name: "name", Type: models.FieldTypeText},
	)
	require.NoError(t, err)
	failInsertsInto(t, sf.tdb.DB, "form_responses")

	_, err = sf.flow.Submit(context.Background(), "ATOMIC1", map[string]string{"email": "a@x.com", "name": "Ada"}, nil)
	require.Error(t, err)
	var be *BusinessError
	require.ErrorAs(t, err, &be)
	assert.Equal(t, "SUBMISSION_SAVE_FAILED", be.Code)

	var submissions, responses int64
	require.NoError(t, sf.tdb.DB.Model(&models.FormSubmission{}).Count(&submissions).Error)
	require.NoError(t, sf.tdb.DB.Model(&models.FormResponse{}).Count(&responses).Error)
	assert.Zero(t, submissions)
	assert.Zero(t, responses)
	assert.Empty(t, sf.mailer.sent)
}

func TestSubmissionFlow_RequiredFieldMissing(t *testing.T) {
	sf := newSubmissionFixture(t)
	_, _, err := sf.fx.CreateForm("REQ1", models.FormTypeTMR,
		testingutil.FieldSpec{Name: "email", Type: models.FieldTypeEmail, Required: true},
		testingutil.FieldSpec{Name: "name", Type: models.FieldTypeText, Required: true},
	)
	require.NoError(t, err)

	_, err = sf.flow.Submit(context.Background(), "REQ1", map[string]string{"email": "a@x.com", "name": "  "}, nil)
	require.Error(t, err)
	assert.True(t, IsRequiredFieldMissing(err))
	assert.True(t, IsInvalid(err))

	var count int64
	require.NoError(t, sf.tdb.DB.Model(&models.FormSubmission{}).Count(&count).Error)
	assert.Zero(t, count)
}

func TestSubmissionFlow_UnknownFormAndEmptyPayload(t *testing.T) {
	sf := newSubmissionFixture(t)

	_, err := sf.flow.Submit(context.Background(), "missing", map[string]string{"email": "a@x.com"}, nil)
	assert.True(t, IsNotFound(err))

	_, err = sf.flow.Submit(context.Background(), "missing", map[string]string{}, nil)
	assert.ErrorIs(t, err, ErrEmptyPayload)
}

func TestSubmissionFlow_UnresolvedUniAndOtherUni(t *testing.T) {
	sf := newSubmissionFixture(t)
	ctx := context.Background()
	_, _, err := sf.fx.CreateForm("UNI2", models.FormTypeOGV,
		testingutil.FieldSpec{Name: "phone", Type: models.FieldTypePhone},
		testingutil.FieldSpec{Name: "uni", Type: models.FieldTypeText},
		testingutil.FieldSpec{Name: "otheruni", Type: models.FieldTypeText},
	)
	require.NoError(t, err)

	resp, err := sf.flow.Submit(ctx, "UNI2", map[string]string{
		"phone":        "+84 (912) 345-678",
		"uni":          "Unknown Institute",
		"otheruni":     "  Somewhere (abroad) ",
		"utm_campaign": "spring",
		"utm_source":   "instagram",
		"ignored":      "value",
	}, nil)
	require.NoError(t, err)
	assert.Nil(t, resp.EntityID)

	sub := reloadSubmission(t, sf.tdb, resp.SubmissionID)
	assert.Nil(t, sub.EntityID)
	assert.Equal(t, "+84912345678", sub.Phone)
	assert.Equal(t, "spring", sub.UtmCampaign)
	assert.Equal(t, "instagram", sub.UtmSource)
	assert.Equal(t, "Unknown Institute", sf.responseValue(t, resp.SubmissionID, "uni"))
	assert.Equal(t, "  Somewhere (abroad) ", sf.responseValue(t, resp.SubmissionID, "otheruni"))
	assert.Empty(t, sf.mailer.sent)
}

func TestSubmissionFlow_ListScoping(t *testing.T) {
	sf := newSubmissionFixture(t)
	ctx := context.Background()

	north, err := sf.fx.CreateEntity("North")
	require.NoError(t, err)
	south, err := sf.fx.CreateEntity("South")
	require.NoError(t, err)
	_, err = sf.fx.CreateUniMapping(1, "North Uni", north.ID)
	require.NoError(t, err)
	_, err = sf.fx.CreateUniMapping(2, "South Uni", south.ID)
	require.NoError(t, err)
	_, _, err = sf.fx.CreateForm("LIST1", models.FormTypeOGV,
		testingutil.FieldSpec{Name: "email", Type: models.FieldTypeEmail},
		testingutil.FieldSpec{Name: "uni", Type: models.FieldTypeText},
	)
	require.NoError(t, err)

	for i, uni := range []string{"North Uni", "South Uni", "Nowhere"} {
		_, err := sf.flow.Submit(ctx, "LIST1", map[string]string{"email": strconv.Itoa(i) + "@x.com", "uni": uni}, nil)
		require.NoError(t, err)
	}

	admin := adminActor(t, sf.fx)
	all, err := sf.flow.ListSubmissions(ctx, admin, &dto.ListSubmissionsRequest{})
	require.NoError(t, err)
	assert.EqualValues(t, 3, all.Pagination.Total)

	lead := leadActor(t, sf.fx, north.ID)
	own, err := sf.flow.ListSubmissions(ctx, lead, &dto.ListSubmissionsRequest{})
	require.NoError(t, err)
	require.Len(t, own.Items, 1)
	assert.Equal(t, "North", own.Items[0].EntityName)
	assert.Len(t, own.Items[0].Responses, 2)

	pool, err := sf.flow.ListSubmissions(ctx, lead, &dto.ListSubmissionsRequest{Unallocated: boolPtr(true)})
	require.NoError(t, err)
	require.Len(t, pool.Items, 1)
	assert.Nil(t, pool.Items[0].EntityID)

	_, err = sf.flow.ListSubmissions(ctx, lead, &dto.ListSubmissionsRequest{EntityID: &south.ID})
	assert.True(t, IsForbidden(err))

	for _, item := range all.Items {
		_, err := sf.flow.GetSubmission(ctx, lead, item.ID)
		if item.EntityID != nil && *item.EntityID == south.ID {
			assert.True(t, IsForbidden(err))
		} else {
			assert.NoError(t, err)
		}
	}
}

func TestSubmissionFlow_DeleteResurrectsOlderRow(t *testing.T) {
	sf := newSubmissionFixture(t)
	ctx := context.Background()
	_, _, err := sf.fx.CreateForm("DEL1", models.FormTypeOGV, testingutil.FieldSpec{Name: "email", Type: models.FieldTypeEmail})
	require.NoError(t, err)

	first, err := sf.flow.Submit(ctx, "DEL1", map[string]string{"email": "a@x.com"}, nil)
	require.NoError(t, err)
	second, err := sf.flow.Submit(ctx, "DEL1", map[string]string{"email": "a@x.com"}, nil)
	require.NoError(t, err)
	require.True(t, reloadSubmission(t, sf.tdb, first.SubmissionID).Duplicated)

	lead := leadActor(t, sf.fx, mustEntity(t, sf.fx, "DelLocal").ID)
	err = sf.flow.DeleteSubmission(ctx, lead, second.SubmissionID)
	assert.True(t, IsForbidden(err))

	admin := adminActor(t, sf.fx)
	require.NoError(t, sf.flow.DeleteSubmission(ctx, admin, second.SubmissionID))
	assert.False(t, reloadSubmission(t, sf.tdb, first.SubmissionID).Duplicated)

	err = sf.flow.DeleteSubmission(ctx, admin, second.SubmissionID)
	assert.True(t, IsNotFound(err))
}

func TestSubmissionFlow_ImportAndExport(t *testing.T) {
	sf := newSubmissionFixture(t)
	ctx := context.Background()
	form, _, err := sf.fx.CreateForm("IMP1", models.FormTypeEWA,
		testingutil.FieldSpec{Name: "email", Type: models.FieldTypeEmail, Required: true},
		testingutil.FieldSpec{Name: "major", Type: models.FieldTypeText},
	)
	require.NoError(t, err)
	admin := adminActor(t, sf.fx)

	resp, err := sf.flow.ImportSubmissions(ctx, admin, &dto.ImportSubmissionsRequest{
		FormID: form.ID,
		Rows: []map[string]string{
			{"email": "a@x.com", "major": "Physics", "submitted_at": "2026-01-01T10:00:00Z"},
			{"email": "a@x.com", "major": "Maths", "submitted_at": "2026-02-01T10:00:00Z"},
			{"major": "no email"},
			{"email": "b@x.com", "submitted_at": "yesterday"},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, resp.Imported)
	assert.Equal(t, 1, resp.Duplicates)
	require.Len(t, resp.Failed, 2)
	assert.Equal(t, 3, resp.Failed[0].Row)
	assert.Equal(t, 4, resp.Failed[1].Row)

	file, err := sf.flow.ExportSubmissions(ctx, admin, &dto.ListSubmissionsRequest{FormID: &form.ID, IncludeDuplicates: true})
	require.NoError(t, err)
	assert.Contains(t, file.FileName, "IMP1")

	xl, err := excelize.OpenReader(bytes.NewReader(file.Content))
	require.NoError(t, err)
	defer func() { _ = xl.Close() }()
	rows, err := xl.GetRows("Submissions")
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, "major", rows[0][len(rows[0])-1])
	assert.Equal(t, "Maths", rows[1][len(rows[1])-1])

	_, err = sf.flow.ExportSubmissions(ctx, admin, &dto.ListSubmissionsRequest{})
	assert.ErrorIs(t, err, ErrFormRequired)
}

func boolPtr(b bool) *bool { return &b }

func mustEntity(t *testing.T, fx *testingutil.TestFixtures, name string) *models.Entity {
	t.Helper()
	e, err := fx.CreateEntity(name)
	require.NoError(t, err)
	return e
}
