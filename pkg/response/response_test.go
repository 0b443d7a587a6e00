package response

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	appErrors "github.com/hearthschool/gradebook/pkg/errors"
)

func TestSuccessEnvelope(t *testing.T) {
	gin.SetMode(gin.TestMode)
	rec := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(rec)

	Success(c, http.StatusOK, gin.H{"ok": true})

	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"success":true,"data":{"ok":true}}`, rec.Body.String())
}

func TestErrorEnvelopeUsesAppErrorCode(t *testing.T) {
	gin.SetMode(gin.TestMode)
	rec := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(rec)

	Error(c, appErrors.New("LAST_GUARDIAN", "Cannot remove the only guardian", http.StatusConflict))

	require.Equal(t, http.StatusConflict, rec.Code)
	require.JSONEq(t, `{"success":false,"error":{"code":"LAST_GUARDIAN","message":"Cannot remove the only guardian"}}`, rec.Body.String())
}

func TestErrorEnvelopeDefaults(t *testing.T) {
	gin.SetMode(gin.TestMode)
	rec := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(rec)

	Error(c, nil)

	require.Equal(t, http.StatusInternalServerError, rec.Code)
}
