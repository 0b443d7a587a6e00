package services

import (
	"testing"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/hearthschool/gradebook/internal/models"
)

func openServiceTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open("file::memory:?cache=shared"), &gorm.Config{})
	require.NoError(t, err)

	require.NoError(t, db.AutoMigrate(
		&models.Profile{},
		&models.Student{},
		&models.StudentGuardian{},
		&models.Invitation{},
		&models.AuditLog{},
	))

	sqlDB, err := db.DB()
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = sqlDB.Close()
	})

	return db
}

func createGuardian(t *testing.T, db *gorm.DB, email, name string) *models.Profile {
	t.Helper()

	profile := &models.Profile{Email: email, Role: models.RoleGuardian, Name: name}
	require.NoError(t, db.Create(profile).Error)
	return profile
}

func createStudentProfile(t *testing.T, db *gorm.DB, email, name string) *models.Profile {
	t.Helper()

	profile := &models.Profile{Email: email, Role: models.RoleStudent, Name: name}
	require.NoError(t, db.Create(profile).Error)
	return profile
}

func createStudent(t *testing.T, db *gorm.DB, name string) *models.Student {
	t.Helper()

	student := &models.Student{Name: name}
	require.NoError(t, db.Create(student).Error)
	return student
}

// linkGuardian seeds an access edge directly, standing in for the student
// creation flow that links the founding guardian.
func linkGuardian(t *testing.T, db *gorm.DB, studentID, guardianID string, primary bool) *models.StudentGuardian {
	t.Helper()

	edge := &models.StudentGuardian{StudentID: studentID, GuardianID: guardianID, IsPrimary: primary}
	require.NoError(t, db.Create(edge).Error)
	return edge
}

// requireExactlyOnePrimary asserts the core access-graph invariant for a
// student with at least one guardian.
func requireExactlyOnePrimary(t *testing.T, db *gorm.DB, studentID string) {
	t.Helper()

	var edges []models.StudentGuardian
	require.NoError(t, db.Where("student_id = ?", studentID).Find(&edges).Error)
	require.NotEmpty(t, edges)

	primaries := 0
	for _, edge := range edges {
		if edge.IsPrimary {
			primaries++
		}
	}
	require.Equal(t, 1, primaries, "expected exactly one primary guardian")
}

func newTestPolicy(t *testing.T, db *gorm.DB) *AccessPolicy {
	t.Helper()

	policy, err := NewAccessPolicy(db)
	require.NoError(t, err)
	return policy
}
