package businessflow

import (
	"context"
	"fmt"
	"math/rand"
	"testing"
	"time"

	"github.com/amirphl/Kagutsuchi/models"
	"github.com/amirphl/Kagutsuchi/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

var t0 = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func TestRankForDedup(t *testing.T) {
	tests := []struct {
		name  string
		cands []DedupCandidate
		keep  []uint
	}{
		{
			name: "newest email wins",
			cands: []DedupCandidate{
				{ID: 1, Email: "a@x.com", SubmittedAt: t0},
				{ID: 2, Email: "a@x.com", SubmittedAt: t0.Add(time.Hour)},
			},
			keep: []uint{2},
		},
		{
			name: "older timestamp loses even with higher id",
			cands: []DedupCandidate{
				{ID: 1, Phone: "+1555", SubmittedAt: t0.Add(time.Hour)},
				{ID: 2, Phone: "+1555", SubmittedAt: t0},
			},
			keep: []uint{1},
		},
		{
			name: "ties broken by id",
			cands: []DedupCandidate{
				{ID: 7, Email: "a@x.com", SubmittedAt: t0},
				{ID: 3, Email: "a@x.com", SubmittedAt: t0},
			},
			keep: []uint{7},
		},
		{
			name: "phone or email groups transitively",
			cands: []DedupCandidate{
				{ID: 1, Email: "a@x.com", Phone: "+1", SubmittedAt: t0},
				{ID: 2, Email: "b@x.com", Phone: "+1", SubmittedAt: t0.Add(time.Minute)},
				{ID: 3, Email: "b@x.com", Phone: "+2", SubmittedAt: t0.Add(2 * time.Minute)},
			},
			keep: []uint{3},
		},
		{
			name: "rows without identity stand alone",
			cands: []DedupCandidate{
				{ID: 1, SubmittedAt: t0},
				{ID: 2, SubmittedAt: t0},
				{ID: 3, Email: "a@x.com", SubmittedAt: t0},
			},
			keep: []uint{1, 2, 3},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			keep := RankForDedup(tt.cands)
			assert.Len(t, keep, len(tt.keep))
			for _, id := range tt.keep {
				assert.True(t, keep[id], "expected %d to be kept", id)
			}
		})
	}
}

func TestRankForDedup_RecencyProperty(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	for iter := 0; iter < 200; iter++ {
		n := 1 + rng.Intn(25)
		cands := make([]DedupCandidate, n)
		for i := range cands {
			c := DedupCandidate{ID: uint(i + 1), SubmittedAt: t0.Add(time.Duration(rng.Intn(5)) * time.Hour)}
			if rng.Intn(3) > 0 {
				c.Email = fmt.Sprintf("u%d@x.com", rng.Intn(4))
			}
			if rng.Intn(3) > 0 {
				c.Phone = fmt.Sprintf("+1%d", rng.Intn(4))
			}
			cands[i] = c
		}

		keep := RankForDedup(cands)

		// A kept row never shares an identity with another kept row, and
		// every dropped row shares an identity with something at least as new.
		for i, a := range cands {
			for j, b := range cands {
				if i == j {
					continue
				}
				shares := (a.Email != "" && a.Email == b.Email) || (a.Phone != "" && a.Phone == b.Phone)
				if shares && keep[a.ID] && keep[b.ID] {
					t.Fatalf("iteration %d: %d and %d share identity and are both kept", iter, a.ID, b.ID)
				}
				if shares && keep[a.ID] && newer(b, a) {
					// the kept row must dominate its direct neighbours
					t.Fatalf("iteration %d: kept %d is older than %d", iter, a.ID, b.ID)
				}
			}
		}
	}
}

func TestDedupKey(t *testing.T) {
	assert.Equal(t, "email:a@x.com", DedupKey(DedupCandidate{ID: 1, Email: "a@x.com", Phone: "+1"}))
	assert.Equal(t, "phone:+1", DedupKey(DedupCandidate{ID: 1, Phone: "+1"}))
	assert.Equal(t, "row:9", DedupKey(DedupCandidate{ID: 9}))
}

func TestDeduplicator_IntakeMatchesReconcile(t *testing.T) {
	tdb, fx := setupTestDB(t)
	ctx := context.Background()
	form, _, err := fx.CreateForm("dedup-form", models.FormTypeOGV)
	require.NoError(t, err)

	repo := repository.NewFormSubmissionRepository(tdb.DB)
	d := NewDeduplicator(repo, tdb.DB, zaptest.NewLogger(t))

	rows := []struct{ email, phone string }{
		{"a@x.com", ""},
		{"b@x.com", "+1 555 0100"},
		{"A@x.com ", ""},
		{"", "+15550100"},
		{"c@x.com", ""},
		{"", ""},
		{"c@x.com", "+1555 0199"},
	}
	var ids []uint
	for i, r := range rows {
		s, err := fx.CreateSubmission(form.ID, r.email, r.phone, t0.Add(time.Duration(i)*time.Minute))
		require.NoError(t, err)
		_, err = d.AfterInsert(ctx, s)
		require.NoError(t, err)
		ids = append(ids, s.ID)

		assert.False(t, reloadSubmission(t, tdb, s.ID).Duplicated, "new row must never be marked")
	}

	intake := map[uint]bool{}
	for _, id := range ids {
		intake[id] = reloadSubmission(t, tdb, id).Duplicated
	}
	assert.Equal(t, map[uint]bool{
		ids[0]: true, ids[1]: true, ids[2]: false, ids[3]: false,
		ids[4]: true, ids[5]: false, ids[6]: false,
	}, intake)

	marked, cleared, err := d.Reconcile(ctx, form.ID)
	require.NoError(t, err)
	assert.Zero(t, marked)
	assert.Zero(t, cleared)
}

func TestDeduplicator_ReconcileAfterDelete(t *testing.T) {
	tdb, fx := setupTestDB(t)
	ctx := context.Background()
	form, _, err := fx.CreateForm("dedup-delete", models.FormTypeTMR)
	require.NoError(t, err)

	repo := repository.NewFormSubmissionRepository(tdb.DB)
	d := NewDeduplicator(repo, tdb.DB, zaptest.NewLogger(t))

	older, err := fx.CreateSubmission(form.ID, "a@x.com", "", t0)
	require.NoError(t, err)
	newer, err := fx.CreateSubmission(form.ID, "a@x.com", "", t0.Add(time.Hour))
	require.NoError(t, err)

	n, err := d.AfterInsert(ctx, newer)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.True(t, reloadSubmission(t, tdb, older.ID).Duplicated)

	require.NoError(t, repo.Delete(ctx, newer.ID))
	marked, cleared, err := d.Reconcile(ctx, form.ID)
	require.NoError(t, err)
	assert.Zero(t, marked)
	assert.Equal(t, 1, cleared)
	assert.False(t, reloadSubmission(t, tdb, older.ID).Duplicated)
}

func TestDeduplicator_ImportedNewerRowKeepsIntakeRow(t *testing.T) {
	tdb, fx := setupTestDB(t)
	ctx := context.Background()
	form, _, err := fx.CreateForm("dedup-skew", models.FormTypeOGV)
	require.NoError(t, err)

	d := NewDeduplicator(repository.NewFormSubmissionRepository(tdb.DB), tdb.DB, zaptest.NewLogger(t))

	future, err := fx.CreateSubmission(form.ID, "a@x.com", "", t0.Add(48*time.Hour))
	require.NoError(t, err)
	current, err := fx.CreateSubmission(form.ID, "a@x.com", "", t0)
	require.NoError(t, err)

	_, err = d.AfterInsert(ctx, current)
	require.NoError(t, err)
	assert.False(t, reloadSubmission(t, tdb, current.ID).Duplicated)
	assert.True(t, reloadSubmission(t, tdb, future.ID).Duplicated)
}
