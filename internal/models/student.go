package models

import "time"

// Student holds the academic record subject. Ownership is expressed only
// through StudentGuardian edges, never a foreign key to a single guardian.
type Student struct {
	BaseModel

	StudentNumber  string     `gorm:"index" json:"student_number"`
	Name           string     `gorm:"not null" json:"name"`
	BirthDate      *time.Time `json:"birth_date,omitempty"`
	GraduationDate *time.Time `json:"graduation_date,omitempty"`
	SchoolID       *string    `gorm:"type:uuid;index" json:"school_id,omitempty"`

	// AccountID links the student's own profile once a role=student
	// invitation has been accepted.
	AccountID *string `gorm:"type:uuid;index" json:"account_id,omitempty"`
}
