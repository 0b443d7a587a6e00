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

// InvitationHandler exposes the invitation lifecycle over HTTP.
type InvitationHandler struct {
	invitations *services.InvitationService
}

// NewInvitationHandler constructs an InvitationHandler.
func NewInvitationHandler(invitations *services.InvitationService) *InvitationHandler {
	return &InvitationHandler{invitations: invitations}
}

type createInvitationRequest struct {
	Email string `json:"email" validate:"required,email"`
	Role  string `json:"role" validate:"required,oneof=guardian student"`
}

type acceptInvitationRequest struct {
	Token string `json:"token" validate:"required"`
}

type invitationDTO struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	Role      string    `json:"role"`
	StudentID string    `json:"student_id"`
	InviterID string    `json:"inviter_id,omitempty"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

type invitationCreatedResponse struct {
	Invitation invitationDTO `json:"invitation"`
	Token      string        `json:"token"`
	Link       string        `json:"link,omitempty"`
}

type invitationLookupResponse struct {
	Valid       bool   `json:"valid"`
	Reason      string `json:"reason,omitempty"`
	Email       string `json:"email,omitempty"`
	Role        string `json:"role,omitempty"`
	StudentName string `json:"student_name,omitempty"`
	ExpiresAt   string `json:"expires_at,omitempty"`
}

// POST /api/students/:id/invitations
func (h *InvitationHandler) Create(c *gin.Context) {
	if h.invitations == nil {
		response.Error(c, appErrors.ErrInternalServer)
		return
	}

	userID := c.GetString(middleware.CtxUserIDKey)
	if userID == "" {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	studentID := strings.TrimSpace(c.Param("id"))
	if studentID == "" {
		response.Error(c, appErrors.NewBadRequest("student id is required"))
		return
	}

	var req createInvitationRequest
	if !bindAndValidate(c, &req) {
		return
	}

	invitation, token, link, err := h.invitations.Create(requestContext(c), services.CreateInvitationInput{
		Email:     req.Email,
		Role:      req.Role,
		StudentID: studentID,
		InviterID: userID,
	})
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, http.StatusCreated, invitationCreatedResponse{
		Invitation: toInvitationDTO(invitation),
		Token:      token,
		Link:       link,
	})
}

// GET /api/students/:id/invitations
func (h *InvitationHandler) List(c *gin.Context) {
	if h.invitations == nil {
		response.Error(c, appErrors.ErrInternalServer)
		return
	}

	userID := c.GetString(middleware.CtxUserIDKey)
	if userID == "" {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	studentID := strings.TrimSpace(c.Param("id"))
	status := strings.TrimSpace(c.Query("status"))

	invitations, err := h.invitations.ListByStudent(requestContext(c), studentID, userID, status)
	if err != nil {
		response.Error(c, err)
		return
	}

	items := make([]invitationDTO, 0, len(invitations))
	for i := range invitations {
		items = append(items, toInvitationDTO(&invitations[i]))
	}
	response.Success(c, http.StatusOK, gin.H{"invitations": items})
}

// GET /api/invitations/lookup?token=...
//
// Public: the recipient is not signed in yet. The payload reveals only what
// the invitation email itself already contains.
func (h *InvitationHandler) Lookup(c *gin.Context) {
	if h.invitations == nil {
		response.Error(c, appErrors.ErrInternalServer)
		return
	}

	token := strings.TrimSpace(c.Query("token"))
	if token == "" {
		response.Error(c, appErrors.NewBadRequest("token is required"))
		return
	}

	check, err := h.invitations.Validate(requestContext(c), token)
	if err != nil {
		response.Error(c, err)
		return
	}

	payload := invitationLookupResponse{Valid: check.Valid, Reason: check.Reason}
	if check.Invitation != nil {
		payload.Email = check.Invitation.Email
		payload.Role = check.Invitation.Role
		payload.ExpiresAt = check.Invitation.ExpiresAt.Format(time.RFC3339)
		if check.Invitation.Student != nil {
			payload.StudentName = check.Invitation.Student.Name
		}
	}

	response.Success(c, http.StatusOK, payload)
}

// POST /api/invitations/accept
func (h *InvitationHandler) Accept(c *gin.Context) {
	if h.invitations == nil {
		response.Error(c, appErrors.ErrInternalServer)
		return
	}

	userID := c.GetString(middleware.CtxUserIDKey)
	if userID == "" {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	var req acceptInvitationRequest
	if !bindAndValidate(c, &req) {
		return
	}

	invitation, err := h.invitations.Accept(requestContext(c), req.Token, userID)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"invitation": toInvitationDTO(invitation)})
}

// POST /api/invitations/:id/resend
func (h *InvitationHandler) Resend(c *gin.Context) {
	if h.invitations == nil {
		response.Error(c, appErrors.ErrInternalServer)
		return
	}

	userID := c.GetString(middleware.CtxUserIDKey)
	if userID == "" {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	invitationID := strings.TrimSpace(c.Param("id"))
	if invitationID == "" {
		response.Error(c, appErrors.NewBadRequest("invitation id is required"))
		return
	}

	invitation, token, link, err := h.invitations.Resend(requestContext(c), invitationID, userID)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, http.StatusOK, invitationCreatedResponse{
		Invitation: toInvitationDTO(invitation),
		Token:      token,
		Link:       link,
	})
}

// DELETE /api/invitations/:id
func (h *InvitationHandler) Delete(c *gin.Context) {
	if h.invitations == nil {
		response.Error(c, appErrors.ErrInternalServer)
		return
	}

	userID := c.GetString(middleware.CtxUserIDKey)
	if userID == "" {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	invitationID := strings.TrimSpace(c.Param("id"))
	if invitationID == "" {
		response.Error(c, appErrors.NewBadRequest("invitation id is required"))
		return
	}

	if err := h.invitations.Delete(requestContext(c), invitationID, userID); err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"revoked": true})
}

func toInvitationDTO(invitation *models.Invitation) invitationDTO {
	if invitation == nil {
		return invitationDTO{}
	}
	return invitationDTO{
		ID:        invitation.ID,
		Email:     invitation.Email,
		Role:      invitation.Role,
		StudentID: invitation.StudentID,
		InviterID: invitation.InviterID,
		Status:    invitation.Status,
		CreatedAt: invitation.CreatedAt,
		ExpiresAt: invitation.ExpiresAt,
	}
}
