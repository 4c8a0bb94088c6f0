package businessflow

import (
	"context"
	"testing"

	"github.com/amirphl/Kagutsuchi/app/dto"
	"github.com/amirphl/Kagutsuchi/models"
	"github.com/amirphl/Kagutsuchi/repository"
	"github.com/amirphl/Kagutsuchi/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"golang.org/x/crypto/bcrypt"
)

func newDirectoryFlowForTest(t *testing.T) (DirectoryFlow, Actor, repository.UserRepository) {
	t.Helper()
	tdb, fx := setupTestDB(t)
	users := repository.NewUserRepository(tdb.DB)
	flow := NewDirectoryFlow(
		repository.NewEntityRepository(tdb.DB),
		repository.NewUniMappingRepository(tdb.DB),
		users,
		bcrypt.MinCost,
		zaptest.NewLogger(t),
	)
	return flow, adminActor(t, fx), users
}

func TestDirectoryFlow_EntitiesAndMappings(t *testing.T) {
	flow, admin, _ := newDirectoryFlowForTest(t)
	ctx := context.Background()

	tehran, err := flow.CreateEntity(ctx, admin, &dto.CreateEntityRequest{Name: " Tehran ", Type: models.EntityTypeLocal})
	require.NoError(t, err)
	assert.Equal(t, "Tehran", tehran.Name)
	assert.True(t, tehran.IsActive)

	_, err = flow.CreateEntity(ctx, admin, &dto.CreateEntityRequest{Name: "Tehran", Type: models.EntityTypeLocal})
	assert.ErrorIs(t, err, ErrEntityNameExists)
	_, err = flow.CreateEntity(ctx, admin, &dto.CreateEntityRequest{Name: "Bucket", Type: "regional"})
	assert.ErrorIs(t, err, ErrInvalidEntityType)

	_, err = flow.CreateEntity(ctx, admin, &dto.CreateEntityRequest{Name: utils.EntityNameEMT, Type: models.EntityTypeNational})
	assert.ErrorIs(t, err, ErrEntityNameExists, "national buckets are seeded by migrations")

	nationals, err := flow.ListEntities(ctx, admin, &dto.ListEntitiesRequest{Type: strPtr(models.EntityTypeNational)})
	require.NoError(t, err)
	require.Len(t, nationals, 2)
	emt := nationals[0]
	require.Equal(t, utils.EntityNameEMT, emt.Name)

	lead := Actor{UserID: 999, Role: models.RoleLead, EntityID: &tehran.ID}
	_, err = flow.CreateEntity(ctx, lead, &dto.CreateEntityRequest{Name: "Shiraz", Type: models.EntityTypeLocal})
	assert.True(t, IsForbidden(err))

	locals, err := flow.ListEntities(ctx, lead, &dto.ListEntitiesRequest{Type: strPtr(models.EntityTypeLocal)})
	require.NoError(t, err)
	require.Len(t, locals, 1)
	assert.Equal(t, tehran.ID, locals[0].ID)

	mapping, err := flow.CreateUniMapping(ctx, admin, &dto.CreateUniMappingRequest{UniID: 1001, UniName: "Alpha University", EntityID: tehran.ID})
	require.NoError(t, err)
	assert.Equal(t, "Tehran", mapping.EntityName)

	_, err = flow.CreateUniMapping(ctx, admin, &dto.CreateUniMappingRequest{UniID: 1001, UniName: "Alpha Again", EntityID: tehran.ID})
	assert.ErrorIs(t, err, ErrUniIDAlreadyMapped)
	_, err = flow.CreateUniMapping(ctx, admin, &dto.CreateUniMappingRequest{UniID: 1002, UniName: "Beta College", EntityID: emt.ID})
	assert.ErrorIs(t, err, ErrEntityNotLocal)
	_, err = flow.CreateUniMapping(ctx, admin, &dto.CreateUniMappingRequest{UniID: 1003, UniName: "Gamma", EntityID: 424242})
	assert.True(t, IsNotFound(err))

	_, err = flow.CreateUniMapping(ctx, admin, &dto.CreateUniMappingRequest{UniID: 1004, UniName: "Beta College", EntityID: tehran.ID})
	require.NoError(t, err)

	found, err := flow.ListUniMappings(ctx, lead, &dto.ListUniMappingsRequest{Query: "alpha"})
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, int64(1001), found[0].UniID)

	all, err := flow.ListUniMappings(ctx, lead, &dto.ListUniMappingsRequest{EntityID: &tehran.ID})
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "Alpha University", all[0].UniName)
}

func TestDirectoryFlow_Users(t *testing.T) {
	flow, admin, users := newDirectoryFlowForTest(t)
	ctx := context.Background()

	entity, err := flow.CreateEntity(ctx, admin, &dto.CreateEntityRequest{Name: "Isfahan", Type: models.EntityTypeLocal})
	require.NoError(t, err)

	tests := []struct {
		name    string
		req     dto.CreateUserRequest
		wantErr error
	}{
		{
			name: "lead with entity",
			req:  dto.CreateUserRequest{Email: "Lead@Isfahan.org", Name: "Lead", Password: "Passw0rd!", Role: models.RoleLead, EntityID: &entity.ID},
		},
		{
			name:    "duplicate email differs only in case",
			req:     dto.CreateUserRequest{Email: "lead@isfahan.org", Name: "Lead", Password: "Passw0rd!", Role: models.RoleMember},
			wantErr: ErrEmailAlreadyExists,
		},
		{
			name:    "lead without entity",
			req:     dto.CreateUserRequest{Email: "orphan@isfahan.org", Name: "Orphan", Password: "Passw0rd!", Role: models.RoleLead},
			wantErr: ErrLeadRequiresEntity,
		},
		{
			name:    "unknown role",
			req:     dto.CreateUserRequest{Email: "x@isfahan.org", Name: "X", Password: "Passw0rd!", Role: "owner"},
			wantErr: ErrInvalidRole,
		},
		{
			name:    "missing entity",
			req:     dto.CreateUserRequest{Email: "y@isfahan.org", Name: "Y", Password: "Passw0rd!", Role: models.RoleMember, EntityID: uintPtr(777777)},
			wantErr: ErrEntityNotFound,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := flow.CreateUser(ctx, admin, &tt.req)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, "lead@isfahan.org", out.Email)
			assert.Equal(t, "Isfahan", out.EntityName)
		})
	}

	stored, err := users.ByEmail(ctx, "lead@isfahan.org")
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(stored.PasswordHash), []byte("Passw0rd!")))

	leads, err := flow.ListUsers(ctx, admin, &dto.ListUsersRequest{Role: strPtr(models.RoleLead)})
	require.NoError(t, err)
	require.Len(t, leads, 1)
	assert.Equal(t, "Isfahan", leads[0].EntityName)

	everyone, err := flow.ListUsers(ctx, admin, nil)
	require.NoError(t, err)
	assert.Len(t, everyone, 2)

	_, err = flow.ListUsers(ctx, Actor{UserID: stored.ID, Role: models.RoleLead, EntityID: &entity.ID}, nil)
	assert.True(t, IsForbidden(err))
}
