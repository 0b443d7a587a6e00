package api

import (
	"fmt"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gorm.io/gorm"

	iauth "github.com/hearthschool/gradebook/internal/auth"
	"github.com/hearthschool/gradebook/internal/handlers"
	"github.com/hearthschool/gradebook/internal/middleware"
	"github.com/hearthschool/gradebook/internal/services"
)

// Services bundles the service layer consumed by the HTTP surface.
type Services struct {
	Invitations *services.InvitationService
	Guardians   *services.GuardianService
	Audit       *services.AuditService
}

// NewRouter builds the Gin engine, wires middleware and registers all routes.
func NewRouter(db *gorm.DB, jwt *iauth.JWTService, svcs Services) (*gin.Engine, error) {
	if db == nil {
		return nil, fmt.Errorf("database handle must be provided")
	}
	if jwt == nil {
		return nil, fmt.Errorf("jwt service must be provided")
	}
	if svcs.Invitations == nil || svcs.Guardians == nil {
		return nil, fmt.Errorf("invitation and guardian services must be provided")
	}

	r := gin.New()

	// Global middleware
	r.Use(middleware.Recovery())
	r.Use(middleware.Logger())
	r.Use(middleware.Metrics())

	// Health endpoint (public)
	r.GET("/health", handlers.Health(db))

	invitationHandler := handlers.NewInvitationHandler(svcs.Invitations)
	guardianHandler := handlers.NewGuardianHandler(svcs.Guardians)

	// Public invitation routes: the recipient has no bearer token yet when
	// following the emailed link.
	r.GET("/api/invitations/lookup", invitationHandler.Lookup)

	requireAuth := middleware.Auth(jwt)

	api := r.Group("/api")
	api.Use(requireAuth)

	api.POST("/invitations/accept", invitationHandler.Accept)
	api.POST("/invitations/:id/resend", invitationHandler.Resend)
	api.DELETE("/invitations/:id", invitationHandler.Delete)

	students := api.Group("/students/:id")
	{
		students.POST("/invitations", invitationHandler.Create)
		students.GET("/invitations", invitationHandler.List)
		students.GET("/guardians", guardianHandler.List)
		students.POST("/guardians", guardianHandler.Add)
		students.DELETE("/guardians/:guardianID", guardianHandler.Remove)
		students.PUT("/guardians/:guardianID/primary", guardianHandler.SetPrimary)
	}

	if svcs.Audit != nil {
		auditHandler := handlers.NewAuditHandler(svcs.Audit)
		api.GET("/audit", auditHandler.List)
	}

	// Metrics endpoint
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// NotFound fallback
	r.NoRoute(middleware.NotFoundHandler)

	return r, nil
}
