package models

// Profile roles. A profile's role is immutable once created.
const (
	RoleGuardian = "guardian"
	RoleStudent  = "student"
)

// Profile represents an authenticated account known to the identity provider.
// Rows are created lazily on first authentication; this service only reads them.
type Profile struct {
	BaseModel

	Email string `gorm:"not null;uniqueIndex" json:"email"`
	Role  string `gorm:"not null;index" json:"role"`
	Name  string `json:"name"`
}
