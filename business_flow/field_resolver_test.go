package businessflow

import (
	"context"
	"errors"
	"testing"

	"github.com/amirphl/Kagutsuchi/models"
	"github.com/amirphl/Kagutsuchi/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

func TestKindOf(t *testing.T) {
	spec, err := KindOf(&models.FormField{FieldType: models.FieldTypeEmail})
	require.NoError(t, err)
	assert.Equal(t, FieldKindText, spec.Kind)

	spec, err = KindOf(&models.FormField{FieldType: models.FieldTypeSelect, FieldOptions: datatypes.JSON(`{"options":["a"]}`)})
	require.NoError(t, err)
	assert.Equal(t, FieldKindSelect, spec.Kind)

	spec, err = KindOf(&models.FormField{FieldType: models.FieldTypeDatabase, FieldOptions: datatypes.JSON(`{"source":"Universities"}`)})
	require.NoError(t, err)
	assert.Equal(t, FieldKindDatabase, spec.Kind)
	assert.Equal(t, "uni_mappings", spec.Source.Table)

	_, err = KindOf(&models.FormField{FieldName: "x", FieldType: models.FieldTypeDatabase, FieldOptions: datatypes.JSON(`{"source":"users"}`)})
	assert.ErrorIs(t, err, ErrInvalidFieldOptions)
}

func TestFieldResolvers_DatabaseRuleChain(t *testing.T) {
	tdb, fx := setupTestDB(t)
	ctx := context.Background()

	entity, err := fx.CreateEntity("Local North")
	require.NoError(t, err)
	for id, name := range map[int64]string{101: "Alpha University", 102: "Gamma Institute", 103: "Delta Academy", 104: "Alpha University of Science"} {
		_, err := fx.CreateUniMapping(id, name, entity.ID)
		require.NoError(t, err)
	}

	resolvers := NewFieldResolvers(repository.NewLookupRepository(tdb.DB))
	field := &models.FormField{FieldName: "uni", FieldType: models.FieldTypeDatabase, FieldOptions: datatypes.JSON(`{"source":"universities"}`)}

	tests := []struct {
		name string
		in   string
		want string
	}{
		{"exact ignoring case", " alpha university ", "101"},
		{"input contains label", "Alpha University, main campus", "101"},
		{"parenthetical stripped", "Gamma (GI) Institute", "102"},
		{"city prefix stripped", "Hanoi - Delta (DA) Academy", "103"},
		{"label contains truncated input", "Alpha Univ", "101"},
		{"shortest containing label wins", "university of", "104"},
		{"city prefix stripped before partial match", "Hanoi - Delta Acad", "103"},
		{"short fragment is not matched", "Alp", "Alp"},
		{"like wildcards are literal", "Alpha%", "Alpha%"},
		{"unresolved keeps raw input", "Nowhere College", "Nowhere College"},
		{"empty stays empty", "  ", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := resolvers.Resolve(ctx, field, tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestLookupRepository_ReadsThroughContextTransaction(t *testing.T) {
	tdb, fx := setupTestDB(t)
	ctx := context.Background()
	entity, err := fx.CreateEntity("Local South")
	require.NoError(t, err)

	lookup := repository.NewLookupRepository(tdb.DB)
	src, ok := repository.LookupSourceByName(repository.LookupSourceUniversities)
	require.True(t, ok)

	rollback := errors.New("rollback")
	err = repository.WithTransaction(ctx, tdb.DB, func(txCtx context.Context) error {
		tx, ok := txCtx.Value(repository.TxContextKey).(*gorm.DB)
		require.True(t, ok)
		require.NoError(t, tx.Create(&models.UniMapping{UniID: 201, UniName: "Omega College", EntityID: entity.ID}).Error)

		row, err := lookup.ExactLabel(txCtx, src, "omega college")
		require.NoError(t, err)
		require.NotNil(t, row)
		assert.Equal(t, "201", row.ID)

		row, err = lookup.LabelContaining(txCtx, src, "Omega")
		require.NoError(t, err)
		require.NotNil(t, row)
		assert.Equal(t, "Omega College", row.Label)
		return rollback
	})
	require.ErrorIs(t, err, rollback)

	row, err := lookup.ExactLabel(ctx, src, "omega college")
	require.NoError(t, err)
	assert.Nil(t, row)
}

func TestFieldResolvers_TextAndSelect(t *testing.T) {
	resolvers := NewFieldResolvers(nil)
	ctx := context.Background()

	got, err := resolvers.Resolve(ctx, &models.FormField{FieldType: models.FieldTypeText}, "  hello ")
	require.NoError(t, err)
	assert.Equal(t, "hello", got)

	got, err = resolvers.Resolve(ctx, &models.FormField{FieldType: models.FieldTypeSelect}, " Option A ")
	require.NoError(t, err)
	assert.Equal(t, " Option A ", got)
}

func TestResolveUni(t *testing.T) {
	tdb, fx := setupTestDB(t)
	ctx := context.Background()

	entity, err := fx.CreateEntity("Local South")
	require.NoError(t, err)
	_, err = fx.CreateUniMapping(55, "Alpha University", entity.ID)
	require.NoError(t, err)
	repo := repository.NewUniMappingRepository(tdb.DB)

	byName, err := resolveUni(ctx, repo, "Alpha University")
	require.NoError(t, err)
	assert.Equal(t, "55", byName.Value)
	require.NotNil(t, byName.EntityID)
	assert.Equal(t, entity.ID, *byName.EntityID)

	byID, err := resolveUni(ctx, repo, "55")
	require.NoError(t, err)
	assert.Equal(t, entity.ID, *byID.EntityID)

	unknown, err := resolveUni(ctx, repo, "Unknown Uni")
	require.NoError(t, err)
	assert.Equal(t, "Unknown Uni", unknown.Value)
	assert.Nil(t, unknown.EntityID)
}
