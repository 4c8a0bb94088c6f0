package businessflow

import (
	"fmt"
	"testing"

	"github.com/amirphl/Kagutsuchi/models"
	testingutil "github.com/amirphl/Kagutsuchi/testing"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func setupTestDB(t *testing.T) (*testingutil.TestDB, *testingutil.TestFixtures) {
	t.Helper()
	tdb, err := testingutil.SetupTestDB()
	require.NoError(t, err)
	t.Cleanup(func() { _ = tdb.TeardownTestDB() })
	return tdb, testingutil.NewTestFixtures(tdb)
}

func adminActor(t *testing.T, fx *testingutil.TestFixtures) Actor {
	t.Helper()
	u, err := fx.CreateUser(models.RoleAdmin, nil)
	require.NoError(t, err)
	return Actor{UserID: u.ID, Role: u.Role}
}

func leadActor(t *testing.T, fx *testingutil.TestFixtures, entityID uint) Actor {
	t.Helper()
	u, err := fx.CreateUser(models.RoleLead, &entityID)
	require.NoError(t, err)
	return Actor{UserID: u.ID, Role: u.Role, EntityID: u.EntityID}
}

func reloadSubmission(t *testing.T, tdb *testingutil.TestDB, id uint) *models.FormSubmission {
	t.Helper()
	var s models.FormSubmission
	require.NoError(t, tdb.DB.First(&s, id).Error)
	return &s
}

func strPtr(s string) *string { return &s }

// failInsertsInto makes every INSERT into table fail on db from now on
func failInsertsInto(t *testing.T, db *gorm.DB, table string) {
	t.Helper()
	err := db.Callback().Create().Before("gorm:create").Register("test:fail_insert_"+table, func(tx *gorm.DB) {
		if tx.Statement.Table == table {
			_ = tx.AddError(fmt.Errorf("insert into %s refused", table))
		}
	})
	require.NoError(t, err)
}
