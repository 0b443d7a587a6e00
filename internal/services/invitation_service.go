package services

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/hearthschool/gradebook/internal/models"
	"github.com/hearthschool/gradebook/pkg/crypto"
	apperrors "github.com/hearthschool/gradebook/pkg/errors"
	"github.com/hearthschool/gradebook/pkg/mail"
	"github.com/hearthschool/gradebook/pkg/metrics"
)

const (
	defaultInvitationExpiry     = 48 * time.Hour
	defaultInvitationTokenBytes = 48
)

var (
	// ErrInvitationNotFound indicates no invitation matches the provided token or id.
	ErrInvitationNotFound = apperrors.New("INVITATION_NOT_FOUND", "Invitation not found", http.StatusNotFound)
	// ErrInvitationExpired indicates the invitation's token lifetime has elapsed.
	ErrInvitationExpired = apperrors.New("INVITATION_EXPIRED", "Invitation has expired", http.StatusGone)
	// ErrInvitationAccepted signals the invitation has already been claimed.
	ErrInvitationAccepted = apperrors.New("INVITATION_ACCEPTED", "Invitation has already been accepted", http.StatusConflict)
	// ErrInvitationRevoked signals the invitation was cancelled by a guardian.
	ErrInvitationRevoked = apperrors.New("INVITATION_REVOKED", "Invitation has been revoked", http.StatusConflict)
	// ErrInvitationNotPending rejects resend attempts on terminal invitations.
	ErrInvitationNotPending = apperrors.New("INVITATION_NOT_PENDING", "Invitation is no longer pending", http.StatusConflict)
	// ErrDuplicateInvitation rejects a second pending invitation for the same email and student.
	ErrDuplicateInvitation = apperrors.New("DUPLICATE_INVITATION", "An invitation for this email is already pending", http.StatusConflict)
	// ErrEmailMismatch rejects an accept attempt from a principal whose email differs from the invitation's.
	ErrEmailMismatch = apperrors.New("EMAIL_MISMATCH", "Signed-in account does not match the invitation email", http.StatusForbidden)
	// ErrRoleMismatch rejects an accept attempt from a profile whose role differs from the invited role.
	ErrRoleMismatch = apperrors.New("ROLE_MISMATCH", "Signed-in account role does not match the invitation", http.StatusForbidden)
	// ErrProfileNotFound indicates the accepting principal has no profile row.
	ErrProfileNotFound = apperrors.New("PROFILE_NOT_FOUND", "Profile not found", http.StatusNotFound)
)

// InvitationOption customises InvitationService behaviour.
type InvitationOption func(*InvitationService)

// WithInvitationBaseURL configures the base URL used to build invitation deep links.
func WithInvitationBaseURL(url string) InvitationOption {
	return func(s *InvitationService) {
		s.baseURL = strings.TrimRight(url, "/")
	}
}

// WithInvitationExpiry overrides the invitation token lifetime.
func WithInvitationExpiry(d time.Duration) InvitationOption {
	return func(s *InvitationService) {
		if d > 0 {
			s.expiry = d
		}
	}
}

// WithInvitationTokenSize adjusts the random token length in bytes.
func WithInvitationTokenSize(size int) InvitationOption {
	return func(s *InvitationService) {
		if size > 0 {
			s.tokenLength = size
		}
	}
}

// WithInvitationClock injects a custom clock primarily for testing.
func WithInvitationClock(clock func() time.Time) InvitationOption {
	return func(s *InvitationService) {
		if clock != nil {
			s.now = clock
		}
	}
}

// InvitationService owns the invitation state machine: create, validate,
// accept, resend and revoke. Status only ever moves forward along
// pending -> {accepted | expired | revoked}.
type InvitationService struct {
	db          *gorm.DB
	policy      *AccessPolicy
	mailer      mail.Mailer
	audit       *AuditService
	baseURL     string
	expiry      time.Duration
	tokenLength int
	now         func() time.Time
}

// NewInvitationService constructs an InvitationService with the provided dependencies.
func NewInvitationService(db *gorm.DB, policy *AccessPolicy, mailer mail.Mailer, audit *AuditService, opts ...InvitationOption) (*InvitationService, error) {
	if db == nil {
		return nil, errors.New("invitation service: db is required")
	}
	if policy == nil {
		return nil, errors.New("invitation service: access policy is required")
	}

	service := &InvitationService{
		db:          db,
		policy:      policy,
		mailer:      mailer,
		audit:       audit,
		expiry:      defaultInvitationExpiry,
		tokenLength: defaultInvitationTokenBytes,
		now:         time.Now,
	}

	for _, opt := range opts {
		opt(service)
	}

	return service, nil
}

// CreateInvitationInput captures a new invitation request.
type CreateInvitationInput struct {
	Email     string
	Role      string
	StudentID string
	InviterID string
}

// Create issues a new pending invitation and dispatches the invitation email.
// The raw token is returned once and never persisted or logged.
func (s *InvitationService) Create(ctx context.Context, input CreateInvitationInput) (*models.Invitation, string, string, error) {
	ctx = ensureContext(ctx)

	email := normaliseEmail(input.Email)
	if email == "" {
		return nil, "", "", apperrors.NewBadRequest("email is required")
	}
	if input.Role != models.RoleGuardian && input.Role != models.RoleStudent {
		return nil, "", "", apperrors.NewBadRequest("role must be guardian or student")
	}

	var student models.Student
	if err := s.db.WithContext(ctx).First(&student, "id = ?", input.StudentID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, "", "", ErrStudentNotFound
		}
		return nil, "", "", fmt.Errorf("invitation service: load student: %w", err)
	}

	allowed, err := s.policy.CanInvite(ctx, input.InviterID, input.StudentID)
	if err != nil {
		return nil, "", "", err
	}
	if !allowed {
		return nil, "", "", ErrNotAuthorized
	}

	rawToken, err := crypto.GenerateToken(s.tokenLength)
	if err != nil {
		return nil, "", "", fmt.Errorf("invitation service: generate token: %w", err)
	}

	now := s.now()
	invitation := models.Invitation{
		Email:     email,
		Role:      input.Role,
		StudentID: student.ID,
		InviterID: strings.TrimSpace(input.InviterID),
		TokenHash: crypto.HashToken(rawToken),
		Status:    models.InvitationPending,
		ExpiresAt: now.Add(s.expiry),
	}

	// The duplicate-pending check and the insert serialize per student: the
	// row lock blocks a concurrent create for the same student until this
	// transaction commits, so both cannot count zero pending invitations.
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var locked models.Student
		if err := lockForUpdate(tx).First(&locked, "id = ?", student.ID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrStudentNotFound
			}
			return fmt.Errorf("invitation service: lock student: %w", err)
		}

		var pending int64
		if err := tx.Model(&models.Invitation{}).
			Where("email = ? AND student_id = ? AND status = ? AND expires_at > ?",
				email, student.ID, models.InvitationPending, now).
			Count(&pending).Error; err != nil {
			return fmt.Errorf("invitation service: duplicate check: %w", err)
		}
		if pending > 0 {
			return ErrDuplicateInvitation
		}

		if err := tx.Create(&invitation).Error; err != nil {
			if isUniqueConstraintError(err) {
				return ErrDuplicateInvitation
			}
			return fmt.Errorf("invitation service: create invitation: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, "", "", err
	}

	link := s.invitationLink(rawToken)
	if err := s.sendInvitationEmail(ctx, email, link, student.Name, input.Role); err != nil {
		return nil, "", "", err
	}

	metrics.InvitationsCreated.WithLabelValues(input.Role).Inc()
	recordAudit(s.audit, ctx, AuditEntry{
		ActorID:  &invitation.InviterID,
		Action:   "invitation.create",
		Resource: invitation.ID,
		Result:   "success",
		Metadata: map[string]any{"student_id": student.ID, "role": input.Role},
	})

	return &invitation, rawToken, link, nil
}

// InvitationCheck is the outcome of validating a token.
type InvitationCheck struct {
	Valid      bool
	Invitation *models.Invitation
	Reason     string
}

// Validate looks up an invitation by token. Expiry is evaluated lazily here:
// a pending invitation past its deadline is marked expired before the result
// is returned. The returned error is reserved for infrastructure failures.
func (s *InvitationService) Validate(ctx context.Context, token string) (InvitationCheck, error) {
	ctx = ensureContext(ctx)

	token = strings.TrimSpace(token)
	if token == "" {
		return InvitationCheck{Valid: false, Reason: ErrInvitationNotFound.Code}, nil
	}

	var invitation models.Invitation
	err := s.db.WithContext(ctx).
		Preload("Student").
		Where("token_hash = ?", crypto.HashToken(token)).
		First(&invitation).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return InvitationCheck{Valid: false, Reason: ErrInvitationNotFound.Code}, nil
		}
		return InvitationCheck{}, fmt.Errorf("invitation service: find invitation: %w", err)
	}

	switch invitation.Status {
	case models.InvitationAccepted:
		return InvitationCheck{Valid: false, Invitation: &invitation, Reason: ErrInvitationAccepted.Code}, nil
	case models.InvitationRevoked:
		return InvitationCheck{Valid: false, Invitation: &invitation, Reason: ErrInvitationRevoked.Code}, nil
	case models.InvitationExpired:
		return InvitationCheck{Valid: false, Invitation: &invitation, Reason: ErrInvitationExpired.Code}, nil
	}

	if s.now().After(invitation.ExpiresAt) {
		if err := s.markExpired(ctx, s.db.WithContext(ctx), invitation.ID); err != nil {
			return InvitationCheck{}, err
		}
		invitation.Status = models.InvitationExpired
		return InvitationCheck{Valid: false, Invitation: &invitation, Reason: ErrInvitationExpired.Code}, nil
	}

	return InvitationCheck{Valid: true, Invitation: &invitation}, nil
}

// Accept atomically claims a pending invitation for the accepting principal
// and creates the corresponding access edge. Exactly one of two concurrent
// accept attempts can win the status claim; the loser observes a terminal
// state and no duplicate edge is created.
func (s *InvitationService) Accept(ctx context.Context, token, acceptingUserID string) (*models.Invitation, error) {
	ctx = ensureContext(ctx)

	token = strings.TrimSpace(token)
	if token == "" {
		return nil, apperrors.NewBadRequest("token is required")
	}
	acceptingUserID = strings.TrimSpace(acceptingUserID)
	if acceptingUserID == "" {
		return nil, apperrors.NewBadRequest("accepting user id is required")
	}

	var accepted models.Invitation
	var expiredID string
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var invitation models.Invitation
		if err := tx.Where("token_hash = ?", crypto.HashToken(token)).First(&invitation).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrInvitationNotFound
			}
			return fmt.Errorf("invitation service: find invitation: %w", err)
		}

		var acceptor models.Profile
		if err := tx.First(&acceptor, "id = ?", acceptingUserID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrProfileNotFound
			}
			return fmt.Errorf("invitation service: load acceptor: %w", err)
		}

		if !s.policy.CanAcceptAs(acceptor.Email, &invitation) {
			return ErrEmailMismatch
		}
		if !strings.EqualFold(acceptor.Role, invitation.Role) {
			return ErrRoleMismatch
		}

		switch invitation.Status {
		case models.InvitationAccepted:
			return ErrInvitationAccepted
		case models.InvitationRevoked:
			return ErrInvitationRevoked
		case models.InvitationExpired:
			return ErrInvitationExpired
		}

		if s.now().After(invitation.ExpiresAt) {
			expiredID = invitation.ID
			return ErrInvitationExpired
		}

		// Optimistic claim: only the transaction that flips pending->accepted
		// may create the access edge.
		claim := tx.Model(&models.Invitation{}).
			Where("id = ? AND status = ?", invitation.ID, models.InvitationPending).
			Update("status", models.InvitationAccepted)
		if claim.Error != nil {
			return fmt.Errorf("invitation service: claim invitation: %w", claim.Error)
		}
		if claim.RowsAffected == 0 {
			return ErrInvitationAccepted
		}

		switch invitation.Role {
		case models.RoleGuardian:
			var existing int64
			if err := tx.Model(&models.StudentGuardian{}).
				Where("student_id = ?", invitation.StudentID).
				Count(&existing).Error; err != nil {
				return fmt.Errorf("invitation service: count guardians: %w", err)
			}

			edge := models.StudentGuardian{
				StudentID:  invitation.StudentID,
				GuardianID: acceptor.ID,
				IsPrimary:  existing == 0,
			}
			if err := tx.Create(&edge).Error; err != nil {
				if isUniqueConstraintError(err) {
					return ErrAlreadyLinked
				}
				return fmt.Errorf("invitation service: create guardian edge: %w", err)
			}
		case models.RoleStudent:
			link := tx.Model(&models.Student{}).
				Where("id = ?", invitation.StudentID).
				Update("account_id", acceptor.ID)
			if link.Error != nil {
				return fmt.Errorf("invitation service: link student account: %w", link.Error)
			}
			if link.RowsAffected == 0 {
				return ErrStudentNotFound
			}
		default:
			return apperrors.NewBadRequest("invitation role is not recognised")
		}

		invitation.Status = models.InvitationAccepted
		accepted = invitation
		return nil
	})
	if err != nil {
		// The expiry transition must survive the rolled-back claim attempt.
		if expiredID != "" {
			if markErr := s.markExpired(ctx, s.db.WithContext(ctx), expiredID); markErr != nil {
				return nil, markErr
			}
		}
		return nil, err
	}

	metrics.InvitationOutcomes.WithLabelValues("accepted").Inc()
	recordAudit(s.audit, ctx, AuditEntry{
		ActorID:  &acceptingUserID,
		Action:   "invitation.accept",
		Resource: accepted.ID,
		Result:   "success",
		Metadata: map[string]any{"student_id": accepted.StudentID, "role": accepted.Role},
	})

	return &accepted, nil
}

// Resend rotates the token and expiry of a pending invitation and re-sends
// the email. The previous token hash is overwritten, so the old link can no
// longer be validated or accepted.
func (s *InvitationService) Resend(ctx context.Context, invitationID, requestedBy string) (*models.Invitation, string, string, error) {
	ctx = ensureContext(ctx)

	var invitation models.Invitation
	if err := s.db.WithContext(ctx).Preload("Student").First(&invitation, "id = ?", invitationID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, "", "", ErrInvitationNotFound
		}
		return nil, "", "", fmt.Errorf("invitation service: load invitation: %w", err)
	}

	allowed, err := s.policy.CanManageGuardians(ctx, requestedBy, invitation.StudentID)
	if err != nil {
		return nil, "", "", err
	}
	if !allowed {
		return nil, "", "", ErrNotAuthorized
	}

	if invitation.Terminal() {
		return nil, "", "", ErrInvitationNotPending
	}

	now := s.now()
	if now.After(invitation.ExpiresAt) {
		if err := s.markExpired(ctx, s.db.WithContext(ctx), invitation.ID); err != nil {
			return nil, "", "", err
		}
		return nil, "", "", ErrInvitationNotPending
	}

	rawToken, err := crypto.GenerateToken(s.tokenLength)
	if err != nil {
		return nil, "", "", fmt.Errorf("invitation service: generate token: %w", err)
	}

	expiresAt := now.Add(s.expiry)
	rotate := s.db.WithContext(ctx).Model(&models.Invitation{}).
		Where("id = ? AND status = ?", invitation.ID, models.InvitationPending).
		Updates(map[string]any{
			"token_hash": crypto.HashToken(rawToken),
			"expires_at": expiresAt,
		})
	if rotate.Error != nil {
		return nil, "", "", fmt.Errorf("invitation service: rotate token: %w", rotate.Error)
	}
	if rotate.RowsAffected == 0 {
		return nil, "", "", ErrInvitationNotPending
	}

	invitation.TokenHash = crypto.HashToken(rawToken)
	invitation.ExpiresAt = expiresAt

	link := s.invitationLink(rawToken)
	studentName := ""
	if invitation.Student != nil {
		studentName = invitation.Student.Name
	}
	if err := s.sendInvitationEmail(ctx, invitation.Email, link, studentName, invitation.Role); err != nil {
		return nil, "", "", err
	}

	recordAudit(s.audit, ctx, AuditEntry{
		ActorID:  &requestedBy,
		Action:   "invitation.resend",
		Resource: invitation.ID,
		Result:   "success",
	})

	return &invitation, rawToken, link, nil
}

// Delete revokes a pending invitation. The operation is idempotent: deleting
// a missing or already-terminal invitation succeeds without effect.
func (s *InvitationService) Delete(ctx context.Context, invitationID, requestedBy string) error {
	ctx = ensureContext(ctx)

	var invitation models.Invitation
	if err := s.db.WithContext(ctx).First(&invitation, "id = ?", invitationID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil
		}
		return fmt.Errorf("invitation service: load invitation: %w", err)
	}

	allowed, err := s.policy.CanManageGuardians(ctx, requestedBy, invitation.StudentID)
	if err != nil {
		return err
	}
	if !allowed {
		return ErrNotAuthorized
	}

	revoke := s.db.WithContext(ctx).Model(&models.Invitation{}).
		Where("id = ? AND status = ?", invitation.ID, models.InvitationPending).
		Update("status", models.InvitationRevoked)
	if revoke.Error != nil {
		return fmt.Errorf("invitation service: revoke invitation: %w", revoke.Error)
	}

	if revoke.RowsAffected > 0 {
		metrics.InvitationOutcomes.WithLabelValues("revoked").Inc()
		recordAudit(s.audit, ctx, AuditEntry{
			ActorID:  &requestedBy,
			Action:   "invitation.revoke",
			Resource: invitation.ID,
			Result:   "success",
		})
	}

	return nil
}

// ListByStudent returns all invitations targeting a student, newest first.
// An empty status filters nothing.
func (s *InvitationService) ListByStudent(ctx context.Context, studentID, requestedBy, status string) ([]models.Invitation, error) {
	ctx = ensureContext(ctx)

	allowed, err := s.policy.CanManageGuardians(ctx, requestedBy, studentID)
	if err != nil {
		return nil, err
	}
	if !allowed {
		return nil, ErrNotAuthorized
	}

	query := s.db.WithContext(ctx).
		Preload("Inviter").
		Where("student_id = ?", studentID).
		Order("created_at DESC")
	if status = strings.TrimSpace(status); status != "" {
		query = query.Where("status = ?", status)
	}

	var invitations []models.Invitation
	if err := query.Find(&invitations).Error; err != nil {
		return nil, fmt.Errorf("invitation service: list invitations: %w", err)
	}

	return invitations, nil
}

func (s *InvitationService) markExpired(ctx context.Context, tx *gorm.DB, invitationID string) error {
	expire := tx.Model(&models.Invitation{}).
		Where("id = ? AND status = ?", invitationID, models.InvitationPending).
		Update("status", models.InvitationExpired)
	if expire.Error != nil {
		return fmt.Errorf("invitation service: mark expired: %w", expire.Error)
	}
	if expire.RowsAffected > 0 {
		metrics.InvitationOutcomes.WithLabelValues("expired").Inc()
	}
	return nil
}

func (s *InvitationService) invitationLink(token string) string {
	if s.baseURL == "" {
		return "/invitations/accept?token=" + token
	}
	return fmt.Sprintf("%s/invitations/accept?token=%s", s.baseURL, token)
}

func (s *InvitationService) sendInvitationEmail(ctx context.Context, to, link, studentName, role string) error {
	if s.mailer == nil {
		return nil
	}

	subject := "You've been invited to view a student record"
	body := fmt.Sprintf(
		"Hello,\n\nYou have been invited as a %s for %s. Use the following link to accept the invitation:\n%s\n\nThe link expires in %s. If you did not expect this email, you can ignore it.\n",
		role, studentName, link, s.expiry,
	)

	message := mail.Message{
		To:      []string{to},
		Subject: subject,
		Body:    body,
	}
	if err := s.mailer.Send(ctx, message); err != nil && !errors.Is(err, mail.ErrSMTPDisabled) {
		return fmt.Errorf("invitation service: send email: %w", err)
	}
	return nil
}
