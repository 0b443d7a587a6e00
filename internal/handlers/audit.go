package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/hearthschool/gradebook/internal/services"
	appErrors "github.com/hearthschool/gradebook/pkg/errors"
	"github.com/hearthschool/gradebook/pkg/response"
)

// AuditHandler exposes recorded audit entries for operators.
type AuditHandler struct {
	audit *services.AuditService
}

// NewAuditHandler constructs an AuditHandler.
func NewAuditHandler(audit *services.AuditService) *AuditHandler {
	return &AuditHandler{audit: audit}
}

// GET /api/audit?resource=...&limit=...
func (h *AuditHandler) List(c *gin.Context) {
	if h.audit == nil {
		response.Error(c, appErrors.ErrInternalServer)
		return
	}

	limit := parseIntQuery(c, "limit", 50)
	logs, err := h.audit.ListByResource(requestContext(c), c.Query("resource"), limit)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"entries": logs})
}
