package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	appErrors "github.com/hearthschool/gradebook/pkg/errors"
	"github.com/hearthschool/gradebook/pkg/response"
)

// Health returns a readiness payload backed by a database ping.
func Health(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		sqlDB, err := db.DB()
		if err != nil {
			response.Error(c, appErrors.ErrStoreUnavailable)
			return
		}
		if err := sqlDB.PingContext(requestContext(c)); err != nil {
			response.Error(c, appErrors.ErrStoreUnavailable)
			return
		}
		response.Success(c, http.StatusOK, gin.H{"status": "ok"})
	}
}
