package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/hearthschool/gradebook/internal/models"
)

func newAuditService(t *testing.T) *AuditService {
	t.Helper()

	svc, err := NewAuditService(openServiceTestDB(t))
	require.NoError(t, err)
	return svc
}

func TestAuditLogAndList(t *testing.T) {
	svc := newAuditService(t)

	actor := "actor-1"
	err := svc.Log(context.Background(), AuditEntry{
		ActorID:  &actor,
		Action:   "invitation.create",
		Resource: "invitation-1",
		Result:   "success",
		Metadata: map[string]any{"student_id": "student-1"},
	})
	require.NoError(t, err)

	err = svc.Log(context.Background(), AuditEntry{
		Action:   "invitation.revoke",
		Resource: "invitation-2",
		Result:   "success",
	})
	require.NoError(t, err)

	logs, err := svc.ListByResource(context.Background(), "invitation-1", 10)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	require.Equal(t, "invitation.create", logs[0].Action)
	require.NotNil(t, logs[0].ActorID)
	require.Equal(t, actor, *logs[0].ActorID)
	require.Contains(t, logs[0].Metadata, "student-1")

	all, err := svc.ListByResource(context.Background(), "", 10)
	require.NoError(t, err)
	require.Len(t, all, 2)
}

func TestAuditLogValidation(t *testing.T) {
	svc := newAuditService(t)

	err := svc.Log(context.Background(), AuditEntry{Result: "success"})
	require.ErrorContains(t, err, "action is required")

	err = svc.Log(context.Background(), AuditEntry{Action: "invitation.create"})
	require.ErrorContains(t, err, "result is required")
}

func TestAuditCleanupOlderThan(t *testing.T) {
	db := openServiceTestDB(t)
	svc, err := NewAuditService(db)
	require.NoError(t, err)

	require.NoError(t, svc.Log(context.Background(), AuditEntry{
		Action:   "guardian.add",
		Resource: "student-1",
		Result:   "success",
	}))

	// A fresh row survives the retention sweep.
	removed, err := svc.CleanupOlderThan(context.Background(), 30)
	require.NoError(t, err)
	require.Zero(t, removed)

	var remaining int64
	require.NoError(t, db.Model(&models.AuditLog{}).Count(&remaining).Error)
	require.EqualValues(t, 1, remaining)

	_, err = svc.CleanupOlderThan(context.Background(), 0)
	require.ErrorContains(t, err, "retentionDays must be positive")
}
