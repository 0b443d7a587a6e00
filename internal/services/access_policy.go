package services

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"gorm.io/gorm"

	"github.com/hearthschool/gradebook/internal/models"
	apperrors "github.com/hearthschool/gradebook/pkg/errors"
)

// ErrNotAuthorized indicates the caller lacks the guardian relationship
// required for the requested action.
var ErrNotAuthorized = apperrors.New("UNAUTHORIZED", "You are not a guardian of this student", http.StatusForbidden)

// AccessPolicy answers authorization questions about the access graph. It
// holds no state of its own beyond the database handle.
type AccessPolicy struct {
	db *gorm.DB
}

// NewAccessPolicy constructs an AccessPolicy backed by the given database.
func NewAccessPolicy(db *gorm.DB) (*AccessPolicy, error) {
	if db == nil {
		return nil, errors.New("access policy: db is required")
	}
	return &AccessPolicy{db: db}, nil
}

// CanInvite reports whether userID may create invitations for studentID.
func (p *AccessPolicy) CanInvite(ctx context.Context, userID, studentID string) (bool, error) {
	return p.isGuardianOf(ctx, userID, studentID)
}

// CanManageGuardians reports whether userID may mutate studentID's access
// graph. Today this is the same predicate as CanInvite; it is kept as a
// separate named check so the two policies can diverge without touching
// callers.
func (p *AccessPolicy) CanManageGuardians(ctx context.Context, userID, studentID string) (bool, error) {
	return p.isGuardianOf(ctx, userID, studentID)
}

// CanAcceptAs reports whether the accepting principal's email matches the
// invitation's target address. Comparison is case-insensitive.
func (p *AccessPolicy) CanAcceptAs(email string, invitation *models.Invitation) bool {
	if invitation == nil {
		return false
	}
	return strings.EqualFold(strings.TrimSpace(email), strings.TrimSpace(invitation.Email))
}

func (p *AccessPolicy) isGuardianOf(ctx context.Context, userID, studentID string) (bool, error) {
	ctx = ensureContext(ctx)

	userID = strings.TrimSpace(userID)
	studentID = strings.TrimSpace(studentID)
	if userID == "" || studentID == "" {
		return false, nil
	}

	var count int64
	if err := p.db.WithContext(ctx).
		Model(&models.StudentGuardian{}).
		Where("student_id = ? AND guardian_id = ?", studentID, userID).
		Count(&count).Error; err != nil {
		return false, fmt.Errorf("access policy: check guardian edge: %w", err)
	}

	return count > 0, nil
}
