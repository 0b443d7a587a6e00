package models

// StudentGuardian is an access edge authorizing one guardian to view and
// manage one student's record. Among all edges for a student at most one is
// primary, and exactly one whenever the student has any guardian.
type StudentGuardian struct {
	BaseModel

	StudentID  string `gorm:"type:uuid;not null;uniqueIndex:idx_student_guardian" json:"student_id"`
	GuardianID string `gorm:"type:uuid;not null;uniqueIndex:idx_student_guardian" json:"guardian_id"`
	IsPrimary  bool   `gorm:"not null;default:false" json:"is_primary"`

	Student  *Student `gorm:"foreignKey:StudentID;constraint:OnDelete:CASCADE" json:"student,omitempty"`
	Guardian *Profile `gorm:"foreignKey:GuardianID" json:"guardian,omitempty"`
}
