package validator

import (
	"testing"

	"github.com/stretchr/testify/require"
)

type invitePayload struct {
	Email string `json:"email" validate:"required,email"`
	Role  string `json:"role" validate:"required,oneof=guardian student"`
}

func TestValidateStruct(t *testing.T) {
	require.NoError(t, ValidateStruct(&invitePayload{Email: "g@example.com", Role: "guardian"}))

	err := ValidateStruct(&invitePayload{Email: "not-an-email", Role: "teacher"})
	require.Error(t, err)

	failures, ok := err.(ValidationErrors)
	require.True(t, ok)
	require.Len(t, failures, 2)
	require.Equal(t, "email", failures[0].Field)
	require.Equal(t, "role", failures[1].Field)
}
