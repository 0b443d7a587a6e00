package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/hearthschool/gradebook/internal/models"
)

func newInvitationService(t *testing.T, db *gorm.DB, clock func() time.Time) *InvitationService {
	t.Helper()

	opts := []InvitationOption{WithInvitationBaseURL("https://gradebook.test")}
	if clock != nil {
		opts = append(opts, WithInvitationClock(clock))
	}

	svc, err := NewInvitationService(db, newTestPolicy(t, db), nil, nil, opts...)
	require.NoError(t, err)
	return svc
}

func TestCreateInvitation(t *testing.T) {
	db := openServiceTestDB(t)
	current := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	svc := newInvitationService(t, db, func() time.Time { return current })

	inviter := createGuardian(t, db, "guardian1@example.com", "Guardian One")
	student := createStudent(t, db, "Avery")
	linkGuardian(t, db, student.ID, inviter.ID, true)

	invitation, token, link, err := svc.Create(context.Background(), CreateInvitationInput{
		Email:     "Guardian2@Example.com",
		Role:      models.RoleGuardian,
		StudentID: student.ID,
		InviterID: inviter.ID,
	})
	require.NoError(t, err)
	require.NotEmpty(t, token)
	require.Contains(t, link, token)

	require.Equal(t, "guardian2@example.com", invitation.Email)
	require.Equal(t, models.InvitationPending, invitation.Status)
	require.Equal(t, current.Add(48*time.Hour), invitation.ExpiresAt)

	// The raw token is never persisted.
	var stored models.Invitation
	require.NoError(t, db.First(&stored, "id = ?", invitation.ID).Error)
	require.NotEqual(t, token, stored.TokenHash)
}

func TestCreateInvitationRejectsNonGuardianInviter(t *testing.T) {
	db := openServiceTestDB(t)
	svc := newInvitationService(t, db, nil)

	outsider := createGuardian(t, db, "outsider@example.com", "Outsider")
	student := createStudent(t, db, "Avery")

	_, _, _, err := svc.Create(context.Background(), CreateInvitationInput{
		Email:     "new@example.com",
		Role:      models.RoleGuardian,
		StudentID: student.ID,
		InviterID: outsider.ID,
	})
	require.ErrorIs(t, err, ErrNotAuthorized)
}

func TestCreateInvitationDuplicatePending(t *testing.T) {
	db := openServiceTestDB(t)
	current := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	svc := newInvitationService(t, db, func() time.Time { return current })

	inviter := createGuardian(t, db, "dup-inviter@example.com", "Inviter")
	student := createStudent(t, db, "Avery")
	linkGuardian(t, db, student.ID, inviter.ID, true)

	input := CreateInvitationInput{
		Email:     "dup@example.com",
		Role:      models.RoleGuardian,
		StudentID: student.ID,
		InviterID: inviter.ID,
	}

	_, _, _, err := svc.Create(context.Background(), input)
	require.NoError(t, err)

	_, _, _, err = svc.Create(context.Background(), input)
	require.ErrorIs(t, err, ErrDuplicateInvitation)

	// Once the pending invitation has expired a new one may be issued.
	current = current.Add(72 * time.Hour)
	_, _, _, err = svc.Create(context.Background(), input)
	require.NoError(t, err)
}

func TestLockForUpdateByDriver(t *testing.T) {
	db := openServiceTestDB(t)

	// sqlite has no row locking clause; its single writer serializes creates.
	stmt := lockForUpdate(db.Session(&gorm.Session{DryRun: true})).
		Find(&[]models.Student{}).Statement
	require.NotContains(t, stmt.SQL.String(), "FOR UPDATE")

	// Engines with row locking take a write lock on the student row.
	sqlDB, err := db.DB()
	require.NoError(t, err)
	pg, err := gorm.Open(postgres.New(postgres.Config{Conn: sqlDB}), &gorm.Config{DryRun: true})
	require.NoError(t, err)

	stmt = lockForUpdate(pg).Find(&[]models.Student{}).Statement
	require.Contains(t, stmt.SQL.String(), "FOR UPDATE")
}

func TestValidateInvitationLazilyExpires(t *testing.T) {
	db := openServiceTestDB(t)
	current := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	svc := newInvitationService(t, db, func() time.Time { return current })

	inviter := createGuardian(t, db, "val-inviter@example.com", "Inviter")
	student := createStudent(t, db, "Avery")
	linkGuardian(t, db, student.ID, inviter.ID, true)

	invitation, token, _, err := svc.Create(context.Background(), CreateInvitationInput{
		Email:     "val@example.com",
		Role:      models.RoleGuardian,
		StudentID: student.ID,
		InviterID: inviter.ID,
	})
	require.NoError(t, err)

	check, err := svc.Validate(context.Background(), token)
	require.NoError(t, err)
	require.True(t, check.Valid)
	require.Equal(t, invitation.ID, check.Invitation.ID)

	current = current.Add(49 * time.Hour)

	check, err = svc.Validate(context.Background(), token)
	require.NoError(t, err)
	require.False(t, check.Valid)
	require.Equal(t, ErrInvitationExpired.Code, check.Reason)

	// The expiry transition is persisted and terminal.
	var stored models.Invitation
	require.NoError(t, db.First(&stored, "id = ?", invitation.ID).Error)
	require.Equal(t, models.InvitationExpired, stored.Status)
}

func TestValidateInvitationUnknownToken(t *testing.T) {
	db := openServiceTestDB(t)
	svc := newInvitationService(t, db, nil)

	check, err := svc.Validate(context.Background(), "no-such-token")
	require.NoError(t, err)
	require.False(t, check.Valid)
	require.Equal(t, ErrInvitationNotFound.Code, check.Reason)
}

func TestAcceptInvitationCreatesNonPrimaryEdge(t *testing.T) {
	db := openServiceTestDB(t)
	svc := newInvitationService(t, db, nil)

	inviter := createGuardian(t, db, "accept-inviter@example.com", "Inviter")
	student := createStudent(t, db, "Avery")
	linkGuardian(t, db, student.ID, inviter.ID, true)

	_, token, _, err := svc.Create(context.Background(), CreateInvitationInput{
		Email:     "accept-g2@example.com",
		Role:      models.RoleGuardian,
		StudentID: student.ID,
		InviterID: inviter.ID,
	})
	require.NoError(t, err)

	invitee := createGuardian(t, db, "accept-g2@example.com", "Guardian Two")

	accepted, err := svc.Accept(context.Background(), token, invitee.ID)
	require.NoError(t, err)
	require.Equal(t, models.InvitationAccepted, accepted.Status)

	var edge models.StudentGuardian
	require.NoError(t, db.Where("student_id = ? AND guardian_id = ?", student.ID, invitee.ID).First(&edge).Error)
	require.False(t, edge.IsPrimary, "a primary guardian already exists")
	requireExactlyOnePrimary(t, db, student.ID)
}

func TestAcceptInvitationEmailMismatch(t *testing.T) {
	db := openServiceTestDB(t)
	svc := newInvitationService(t, db, nil)

	inviter := createGuardian(t, db, "mm-inviter@example.com", "Inviter")
	student := createStudent(t, db, "Avery")
	linkGuardian(t, db, student.ID, inviter.ID, true)

	_, token, _, err := svc.Create(context.Background(), CreateInvitationInput{
		Email:     "intended@example.com",
		Role:      models.RoleGuardian,
		StudentID: student.ID,
		InviterID: inviter.ID,
	})
	require.NoError(t, err)

	imposter := createGuardian(t, db, "imposter@example.com", "Imposter")

	_, err = svc.Accept(context.Background(), token, imposter.ID)
	require.ErrorIs(t, err, ErrEmailMismatch)

	// The failed attempt must not mutate the invitation or the graph.
	check, err := svc.Validate(context.Background(), token)
	require.NoError(t, err)
	require.True(t, check.Valid)
}

func TestAcceptInvitationExactlyOnce(t *testing.T) {
	db := openServiceTestDB(t)
	svc := newInvitationService(t, db, nil)

	inviter := createGuardian(t, db, "once-inviter@example.com", "Inviter")
	student := createStudent(t, db, "Avery")
	linkGuardian(t, db, student.ID, inviter.ID, true)

	_, token, _, err := svc.Create(context.Background(), CreateInvitationInput{
		Email:     "once@example.com",
		Role:      models.RoleGuardian,
		StudentID: student.ID,
		InviterID: inviter.ID,
	})
	require.NoError(t, err)

	invitee := createGuardian(t, db, "once@example.com", "Guardian")

	_, err = svc.Accept(context.Background(), token, invitee.ID)
	require.NoError(t, err)

	_, err = svc.Accept(context.Background(), token, invitee.ID)
	require.ErrorIs(t, err, ErrInvitationAccepted)

	var edges int64
	require.NoError(t, db.Model(&models.StudentGuardian{}).
		Where("student_id = ? AND guardian_id = ?", student.ID, invitee.ID).
		Count(&edges).Error)
	require.EqualValues(t, 1, edges)
}

func TestAcceptStudentInvitationLinksAccount(t *testing.T) {
	db := openServiceTestDB(t)
	svc := newInvitationService(t, db, nil)

	inviter := createGuardian(t, db, "stu-inviter@example.com", "Inviter")
	student := createStudent(t, db, "Avery")
	linkGuardian(t, db, student.ID, inviter.ID, true)

	_, token, _, err := svc.Create(context.Background(), CreateInvitationInput{
		Email:     "avery@example.com",
		Role:      models.RoleStudent,
		StudentID: student.ID,
		InviterID: inviter.ID,
	})
	require.NoError(t, err)

	account := createStudentProfile(t, db, "avery@example.com", "Avery")

	_, err = svc.Accept(context.Background(), token, account.ID)
	require.NoError(t, err)

	var stored models.Student
	require.NoError(t, db.First(&stored, "id = ?", student.ID).Error)
	require.NotNil(t, stored.AccountID)
	require.Equal(t, account.ID, *stored.AccountID)
}

func TestAcceptExpiredInvitationPersistsTransition(t *testing.T) {
	db := openServiceTestDB(t)
	current := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	svc := newInvitationService(t, db, func() time.Time { return current })

	inviter := createGuardian(t, db, "exp-inviter@example.com", "Inviter")
	student := createStudent(t, db, "Avery")
	linkGuardian(t, db, student.ID, inviter.ID, true)

	invitation, token, _, err := svc.Create(context.Background(), CreateInvitationInput{
		Email:     "expired-accept@example.com",
		Role:      models.RoleGuardian,
		StudentID: student.ID,
		InviterID: inviter.ID,
	})
	require.NoError(t, err)

	invitee := createGuardian(t, db, "expired-accept@example.com", "Guardian")
	current = current.Add(49 * time.Hour)

	_, err = svc.Accept(context.Background(), token, invitee.ID)
	require.ErrorIs(t, err, ErrInvitationExpired)

	// The expiry transition outlives the rolled-back claim attempt.
	var stored models.Invitation
	require.NoError(t, db.First(&stored, "id = ?", invitation.ID).Error)
	require.Equal(t, models.InvitationExpired, stored.Status)

	var edges int64
	require.NoError(t, db.Model(&models.StudentGuardian{}).
		Where("guardian_id = ?", invitee.ID).Count(&edges).Error)
	require.Zero(t, edges)
}

func TestAcceptInvitationRoleMismatch(t *testing.T) {
	db := openServiceTestDB(t)
	svc := newInvitationService(t, db, nil)

	inviter := createGuardian(t, db, "role-inviter@example.com", "Inviter")
	student := createStudent(t, db, "Avery")
	linkGuardian(t, db, student.ID, inviter.ID, true)

	_, token, _, err := svc.Create(context.Background(), CreateInvitationInput{
		Email:     "role-target@example.com",
		Role:      models.RoleGuardian,
		StudentID: student.ID,
		InviterID: inviter.ID,
	})
	require.NoError(t, err)

	// The invited address belongs to a student-role profile; it must not be
	// granted a guardian edge.
	acceptor := createStudentProfile(t, db, "role-target@example.com", "Not A Guardian")

	_, err = svc.Accept(context.Background(), token, acceptor.ID)
	require.ErrorIs(t, err, ErrRoleMismatch)

	var edges int64
	require.NoError(t, db.Model(&models.StudentGuardian{}).
		Where("guardian_id = ?", acceptor.ID).Count(&edges).Error)
	require.Zero(t, edges)

	check, err := svc.Validate(context.Background(), token)
	require.NoError(t, err)
	require.True(t, check.Valid)
}

func TestAcceptRevokedInvitationFails(t *testing.T) {
	db := openServiceTestDB(t)
	svc := newInvitationService(t, db, nil)

	inviter := createGuardian(t, db, "rev-inviter@example.com", "Inviter")
	student := createStudent(t, db, "Avery")
	linkGuardian(t, db, student.ID, inviter.ID, true)

	invitation, token, _, err := svc.Create(context.Background(), CreateInvitationInput{
		Email:     "revoked@example.com",
		Role:      models.RoleGuardian,
		StudentID: student.ID,
		InviterID: inviter.ID,
	})
	require.NoError(t, err)

	require.NoError(t, svc.Delete(context.Background(), invitation.ID, inviter.ID))

	invitee := createGuardian(t, db, "revoked@example.com", "Guardian")
	_, err = svc.Accept(context.Background(), token, invitee.ID)
	require.ErrorIs(t, err, ErrInvitationRevoked)

	var edges int64
	require.NoError(t, db.Model(&models.StudentGuardian{}).
		Where("guardian_id = ?", invitee.ID).Count(&edges).Error)
	require.Zero(t, edges)
}

func TestResendInvitationRotatesToken(t *testing.T) {
	db := openServiceTestDB(t)
	current := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	svc := newInvitationService(t, db, func() time.Time { return current })

	inviter := createGuardian(t, db, "rot-inviter@example.com", "Inviter")
	student := createStudent(t, db, "Avery")
	linkGuardian(t, db, student.ID, inviter.ID, true)

	invitation, oldToken, _, err := svc.Create(context.Background(), CreateInvitationInput{
		Email:     "rotate@example.com",
		Role:      models.RoleGuardian,
		StudentID: student.ID,
		InviterID: inviter.ID,
	})
	require.NoError(t, err)

	current = current.Add(time.Hour)

	resent, newToken, _, err := svc.Resend(context.Background(), invitation.ID, inviter.ID)
	require.NoError(t, err)
	require.NotEqual(t, oldToken, newToken)
	require.Equal(t, current.Add(48*time.Hour), resent.ExpiresAt)

	// The previous token no longer resolves.
	check, err := svc.Validate(context.Background(), oldToken)
	require.NoError(t, err)
	require.False(t, check.Valid)
	require.Equal(t, ErrInvitationNotFound.Code, check.Reason)

	check, err = svc.Validate(context.Background(), newToken)
	require.NoError(t, err)
	require.True(t, check.Valid)
}

func TestResendRejectsTerminalInvitation(t *testing.T) {
	db := openServiceTestDB(t)
	svc := newInvitationService(t, db, nil)

	inviter := createGuardian(t, db, "term-inviter@example.com", "Inviter")
	student := createStudent(t, db, "Avery")
	linkGuardian(t, db, student.ID, inviter.ID, true)

	invitation, token, _, err := svc.Create(context.Background(), CreateInvitationInput{
		Email:     "terminal@example.com",
		Role:      models.RoleGuardian,
		StudentID: student.ID,
		InviterID: inviter.ID,
	})
	require.NoError(t, err)

	invitee := createGuardian(t, db, "terminal@example.com", "Guardian")
	_, err = svc.Accept(context.Background(), token, invitee.ID)
	require.NoError(t, err)

	_, _, _, err = svc.Resend(context.Background(), invitation.ID, inviter.ID)
	require.ErrorIs(t, err, ErrInvitationNotPending)
}

func TestDeleteInvitationIsIdempotent(t *testing.T) {
	db := openServiceTestDB(t)
	svc := newInvitationService(t, db, nil)

	inviter := createGuardian(t, db, "del-inviter@example.com", "Inviter")
	student := createStudent(t, db, "Avery")
	linkGuardian(t, db, student.ID, inviter.ID, true)

	invitation, _, _, err := svc.Create(context.Background(), CreateInvitationInput{
		Email:     "delete@example.com",
		Role:      models.RoleGuardian,
		StudentID: student.ID,
		InviterID: inviter.ID,
	})
	require.NoError(t, err)

	require.NoError(t, svc.Delete(context.Background(), invitation.ID, inviter.ID))
	require.NoError(t, svc.Delete(context.Background(), invitation.ID, inviter.ID))

	var stored models.Invitation
	require.NoError(t, db.First(&stored, "id = ?", invitation.ID).Error)
	require.Equal(t, models.InvitationRevoked, stored.Status)

	// Deleting a missing invitation is a successful no-op too.
	require.NoError(t, svc.Delete(context.Background(), "4c2f0b38-0000-0000-0000-000000000000", inviter.ID))
}

func TestDeleteDoesNotUnwindAcceptedInvitation(t *testing.T) {
	db := openServiceTestDB(t)
	svc := newInvitationService(t, db, nil)

	inviter := createGuardian(t, db, "keep-inviter@example.com", "Inviter")
	student := createStudent(t, db, "Avery")
	linkGuardian(t, db, student.ID, inviter.ID, true)

	invitation, token, _, err := svc.Create(context.Background(), CreateInvitationInput{
		Email:     "kept@example.com",
		Role:      models.RoleGuardian,
		StudentID: student.ID,
		InviterID: inviter.ID,
	})
	require.NoError(t, err)

	invitee := createGuardian(t, db, "kept@example.com", "Guardian")
	_, err = svc.Accept(context.Background(), token, invitee.ID)
	require.NoError(t, err)

	require.NoError(t, svc.Delete(context.Background(), invitation.ID, inviter.ID))

	var stored models.Invitation
	require.NoError(t, db.First(&stored, "id = ?", invitation.ID).Error)
	require.Equal(t, models.InvitationAccepted, stored.Status)
}

func TestListByStudent(t *testing.T) {
	db := openServiceTestDB(t)
	svc := newInvitationService(t, db, nil)

	inviter := createGuardian(t, db, "list-inviter@example.com", "Inviter")
	student := createStudent(t, db, "Avery")
	linkGuardian(t, db, student.ID, inviter.ID, true)

	first, _, _, err := svc.Create(context.Background(), CreateInvitationInput{
		Email:     "list-one@example.com",
		Role:      models.RoleGuardian,
		StudentID: student.ID,
		InviterID: inviter.ID,
	})
	require.NoError(t, err)

	_, _, _, err = svc.Create(context.Background(), CreateInvitationInput{
		Email:     "list-two@example.com",
		Role:      models.RoleStudent,
		StudentID: student.ID,
		InviterID: inviter.ID,
	})
	require.NoError(t, err)

	require.NoError(t, svc.Delete(context.Background(), first.ID, inviter.ID))

	all, err := svc.ListByStudent(context.Background(), student.ID, inviter.ID, "")
	require.NoError(t, err)
	require.Len(t, all, 2)

	pending, err := svc.ListByStudent(context.Background(), student.ID, inviter.ID, models.InvitationPending)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	require.Equal(t, "list-two@example.com", pending[0].Email)

	outsider := createGuardian(t, db, "list-outsider@example.com", "Outsider")
	_, err = svc.ListByStudent(context.Background(), student.ID, outsider.ID, "")
	require.ErrorIs(t, err, ErrNotAuthorized)
}
