package services

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"gorm.io/gorm"

	"github.com/hearthschool/gradebook/internal/models"
	apperrors "github.com/hearthschool/gradebook/pkg/errors"
	"github.com/hearthschool/gradebook/pkg/metrics"
)

var (
	// ErrStudentNotFound indicates the requested student does not exist.
	ErrStudentNotFound = apperrors.New("STUDENT_NOT_FOUND", "Student not found", http.StatusNotFound)
	// ErrGuardianNotFound indicates no guardian profile matches the provided email.
	ErrGuardianNotFound = apperrors.New("GUARDIAN_NOT_FOUND", "No guardian account exists for this email", http.StatusNotFound)
	// ErrAlreadyLinked rejects linking a guardian twice to the same student.
	ErrAlreadyLinked = apperrors.New("ALREADY_LINKED", "Guardian is already linked to this student", http.StatusConflict)
	// ErrNotAGuardian indicates the target user has no edge to the student.
	ErrNotAGuardian = apperrors.New("NOT_A_GUARDIAN", "User is not a guardian of this student", http.StatusNotFound)
	// ErrLastGuardian blocks removing the only remaining guardian of a student.
	ErrLastGuardian = apperrors.New("LAST_GUARDIAN", "Cannot remove the only guardian of a student", http.StatusConflict)
)

// GuardianService owns the guardian access graph for students. It maintains
// the invariant that a student with at least one guardian has exactly one
// primary guardian.
type GuardianService struct {
	db     *gorm.DB
	policy *AccessPolicy
	audit  *AuditService
}

// NewGuardianService constructs a GuardianService instance.
func NewGuardianService(db *gorm.DB, policy *AccessPolicy, audit *AuditService) (*GuardianService, error) {
	if db == nil {
		return nil, errors.New("guardian service: db is required")
	}
	if policy == nil {
		return nil, errors.New("guardian service: access policy is required")
	}
	return &GuardianService{db: db, policy: policy, audit: audit}, nil
}

// AddGuardian links an existing guardian profile, found by email, to the
// student. The first guardian of a student becomes primary; later guardians
// do not.
func (s *GuardianService) AddGuardian(ctx context.Context, studentID, guardianEmail, requestedBy string) (*models.StudentGuardian, error) {
	ctx = ensureContext(ctx)

	email := normaliseEmail(guardianEmail)
	if email == "" {
		return nil, apperrors.NewBadRequest("guardian email is required")
	}

	var student models.Student
	if err := s.db.WithContext(ctx).First(&student, "id = ?", studentID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrStudentNotFound
		}
		return nil, fmt.Errorf("guardian service: load student: %w", err)
	}

	allowed, err := s.policy.CanManageGuardians(ctx, requestedBy, studentID)
	if err != nil {
		return nil, err
	}
	if !allowed {
		return nil, ErrNotAuthorized
	}

	var guardian models.Profile
	if err := s.db.WithContext(ctx).
		Where("email = ? AND role = ?", email, models.RoleGuardian).
		First(&guardian).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrGuardianNotFound
		}
		return nil, fmt.Errorf("guardian service: find guardian: %w", err)
	}

	var edge models.StudentGuardian
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing int64
		if err := tx.Model(&models.StudentGuardian{}).
			Where("student_id = ?", student.ID).
			Count(&existing).Error; err != nil {
			return fmt.Errorf("guardian service: count edges: %w", err)
		}

		edge = models.StudentGuardian{
			StudentID:  student.ID,
			GuardianID: guardian.ID,
			IsPrimary:  existing == 0,
		}
		if err := tx.Create(&edge).Error; err != nil {
			if isUniqueConstraintError(err) {
				return ErrAlreadyLinked
			}
			return fmt.Errorf("guardian service: create edge: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	edge.Guardian = &guardian
	metrics.GuardianChanges.WithLabelValues("add").Inc()
	recordAudit(s.audit, ctx, AuditEntry{
		ActorID:  &requestedBy,
		Action:   "guardian.add",
		Resource: student.ID,
		Result:   "success",
		Metadata: map[string]any{"guardian_id": guardian.ID, "is_primary": edge.IsPrimary},
	})

	return &edge, nil
}

// RemoveGuardian detaches a guardian from a student. Removing the only
// guardian is blocked with ErrLastGuardian. Removing the primary guardian
// promotes the oldest remaining edge inside the same transaction, so the
// exactly-one-primary invariant holds at every commit point.
func (s *GuardianService) RemoveGuardian(ctx context.Context, studentID, guardianID, requestedBy string) error {
	ctx = ensureContext(ctx)

	allowed, err := s.policy.CanManageGuardians(ctx, requestedBy, studentID)
	if err != nil {
		return err
	}
	if !allowed {
		return ErrNotAuthorized
	}

	var promoted string
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var edge models.StudentGuardian
		if err := tx.Where("student_id = ? AND guardian_id = ?", studentID, guardianID).
			First(&edge).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotAGuardian
			}
			return fmt.Errorf("guardian service: load edge: %w", err)
		}

		var total int64
		if err := tx.Model(&models.StudentGuardian{}).
			Where("student_id = ?", studentID).
			Count(&total).Error; err != nil {
			return fmt.Errorf("guardian service: count edges: %w", err)
		}
		if total <= 1 {
			return ErrLastGuardian
		}

		if err := tx.Delete(&edge).Error; err != nil {
			return fmt.Errorf("guardian service: delete edge: %w", err)
		}

		if edge.IsPrimary {
			var successor models.StudentGuardian
			if err := tx.Where("student_id = ?", studentID).
				Order("created_at ASC").
				First(&successor).Error; err != nil {
				return fmt.Errorf("guardian service: find successor: %w", err)
			}
			if err := tx.Model(&models.StudentGuardian{}).
				Where("id = ?", successor.ID).
				Update("is_primary", true).Error; err != nil {
				return fmt.Errorf("guardian service: promote successor: %w", err)
			}
			promoted = successor.GuardianID
		}
		return nil
	})
	if err != nil {
		return err
	}

	metrics.GuardianChanges.WithLabelValues("remove").Inc()
	entry := AuditEntry{
		ActorID:  &requestedBy,
		Action:   "guardian.remove",
		Resource: studentID,
		Result:   "success",
		Metadata: map[string]any{"guardian_id": guardianID},
	}
	if promoted != "" {
		entry.Metadata["promoted_guardian_id"] = promoted
	}
	recordAudit(s.audit, ctx, entry)

	return nil
}

// SetPrimaryGuardian designates one guardian as primary. The swap is a single
// CASE-based UPDATE over all of the student's edges inside one transaction,
// so no reader can observe zero or two primaries.
func (s *GuardianService) SetPrimaryGuardian(ctx context.Context, studentID, guardianID, requestedBy string) error {
	ctx = ensureContext(ctx)

	allowed, err := s.policy.CanManageGuardians(ctx, requestedBy, studentID)
	if err != nil {
		return err
	}
	if !allowed {
		return ErrNotAuthorized
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&models.StudentGuardian{}).
			Where("student_id = ? AND guardian_id = ?", studentID, guardianID).
			Count(&count).Error; err != nil {
			return fmt.Errorf("guardian service: check edge: %w", err)
		}
		if count == 0 {
			return ErrNotAGuardian
		}

		if err := tx.Model(&models.StudentGuardian{}).
			Where("student_id = ?", studentID).
			Update("is_primary", gorm.Expr("CASE WHEN guardian_id = ? THEN ? ELSE ? END", guardianID, true, false)).Error; err != nil {
			return fmt.Errorf("guardian service: swap primary: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	metrics.GuardianChanges.WithLabelValues("set_primary").Inc()
	recordAudit(s.audit, ctx, AuditEntry{
		ActorID:  &requestedBy,
		Action:   "guardian.set_primary",
		Resource: studentID,
		Result:   "success",
		Metadata: map[string]any{"guardian_id": guardianID},
	})

	return nil
}

// ListGuardians returns the student's guardian edges joined with their
// profiles, oldest first.
func (s *GuardianService) ListGuardians(ctx context.Context, studentID, requestedBy string) ([]models.StudentGuardian, error) {
	ctx = ensureContext(ctx)

	allowed, err := s.policy.CanManageGuardians(ctx, requestedBy, studentID)
	if err != nil {
		return nil, err
	}
	if !allowed {
		return nil, ErrNotAuthorized
	}

	var edges []models.StudentGuardian
	if err := s.db.WithContext(ctx).
		Preload("Guardian").
		Where("student_id = ?", studentID).
		Order("created_at ASC").
		Find(&edges).Error; err != nil {
		return nil, fmt.Errorf("guardian service: list edges: %w", err)
	}

	return edges, nil
}
