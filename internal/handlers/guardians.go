package handlers

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/hearthschool/gradebook/internal/middleware"
	"github.com/hearthschool/gradebook/internal/models"
	"github.com/hearthschool/gradebook/internal/services"
	appErrors "github.com/hearthschool/gradebook/pkg/errors"
	"github.com/hearthschool/gradebook/pkg/response"
)

// GuardianHandler exposes the guardian access graph over HTTP.
type GuardianHandler struct {
	guardians *services.GuardianService
}

// NewGuardianHandler constructs a GuardianHandler.
func NewGuardianHandler(guardians *services.GuardianService) *GuardianHandler {
	return &GuardianHandler{guardians: guardians}
}

type addGuardianRequest struct {
	Email string `json:"email" validate:"required,email"`
}

type guardianDTO struct {
	GuardianID string    `json:"guardian_id"`
	Email      string    `json:"email,omitempty"`
	Name       string    `json:"name,omitempty"`
	IsPrimary  bool      `json:"is_primary"`
	LinkedAt   time.Time `json:"linked_at"`
}

func (h *GuardianHandler) principal(c *gin.Context) (string, bool) {
	userID := c.GetString(middleware.CtxUserIDKey)
	if userID == "" {
		response.Error(c, appErrors.ErrUnauthorized)
		return "", false
	}
	return userID, true
}

// GET /api/students/:id/guardians
func (h *GuardianHandler) List(c *gin.Context) {
	if h.guardians == nil {
		response.Error(c, appErrors.ErrInternalServer)
		return
	}

	userID, ok := h.principal(c)
	if !ok {
		return
	}

	edges, err := h.guardians.ListGuardians(requestContext(c), c.Param("id"), userID)
	if err != nil {
		response.Error(c, err)
		return
	}

	items := make([]guardianDTO, 0, len(edges))
	for i := range edges {
		items = append(items, toGuardianDTO(&edges[i]))
	}
	response.Success(c, http.StatusOK, gin.H{"guardians": items})
}

// POST /api/students/:id/guardians
func (h *GuardianHandler) Add(c *gin.Context) {
	if h.guardians == nil {
		response.Error(c, appErrors.ErrInternalServer)
		return
	}

	userID, ok := h.principal(c)
	if !ok {
		return
	}

	var req addGuardianRequest
	if !bindAndValidate(c, &req) {
		return
	}

	edge, err := h.guardians.AddGuardian(requestContext(c), c.Param("id"), req.Email, userID)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, http.StatusCreated, gin.H{"guardian": toGuardianDTO(edge)})
}

// DELETE /api/students/:id/guardians/:guardianID
func (h *GuardianHandler) Remove(c *gin.Context) {
	if h.guardians == nil {
		response.Error(c, appErrors.ErrInternalServer)
		return
	}

	userID, ok := h.principal(c)
	if !ok {
		return
	}

	guardianID := strings.TrimSpace(c.Param("guardianID"))
	if guardianID == "" {
		response.Error(c, appErrors.NewBadRequest("guardian id is required"))
		return
	}

	if err := h.guardians.RemoveGuardian(requestContext(c), c.Param("id"), guardianID, userID); err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"removed": true})
}

// PUT /api/students/:id/guardians/:guardianID/primary
func (h *GuardianHandler) SetPrimary(c *gin.Context) {
	if h.guardians == nil {
		response.Error(c, appErrors.ErrInternalServer)
		return
	}

	userID, ok := h.principal(c)
	if !ok {
		return
	}

	guardianID := strings.TrimSpace(c.Param("guardianID"))
	if guardianID == "" {
		response.Error(c, appErrors.NewBadRequest("guardian id is required"))
		return
	}

	if err := h.guardians.SetPrimaryGuardian(requestContext(c), c.Param("id"), guardianID, userID); err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"primary_guardian_id": guardianID})
}

func toGuardianDTO(edge *models.StudentGuardian) guardianDTO {
	if edge == nil {
		return guardianDTO{}
	}
	dto := guardianDTO{
		GuardianID: edge.GuardianID,
		IsPrimary:  edge.IsPrimary,
		LinkedAt:   edge.CreatedAt,
	}
	if edge.Guardian != nil {
		dto.Email = edge.Guardian.Email
		dto.Name = edge.Guardian.Name
	}
	return dto
}
