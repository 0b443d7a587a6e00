package models

import "time"

// Invitation lifecycle states. Pending is the only non-terminal state.
const (
	InvitationPending  = "pending"
	InvitationAccepted = "accepted"
	InvitationExpired  = "expired"
	InvitationRevoked  = "revoked"
)

// Invitation grants the ability to claim guardian or student access to one
// student exactly once. The raw token is never stored, only its SHA-256 hash.
type Invitation struct {
	BaseModel

	Email     string    `gorm:"not null;index" json:"email"`
	Role      string    `gorm:"not null" json:"role"`
	StudentID string    `gorm:"type:uuid;not null;index" json:"student_id"`
	InviterID string    `gorm:"type:uuid;not null" json:"inviter_id"`
	TokenHash string    `gorm:"not null;uniqueIndex" json:"-"`
	Status    string    `gorm:"not null;default:pending;index" json:"status"`
	ExpiresAt time.Time `gorm:"index" json:"expires_at"`

	Student *Student `gorm:"foreignKey:StudentID;constraint:OnDelete:CASCADE" json:"student,omitempty"`
	Inviter *Profile `gorm:"foreignKey:InviterID" json:"inviter,omitempty"`
}

// Terminal reports whether the invitation can no longer transition.
func (i *Invitation) Terminal() bool {
	return i.Status != InvitationPending
}
