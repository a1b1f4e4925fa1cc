package api

import (
	"fmt"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gorm.io/gorm"

	"github.com/carebridge/carebridge/internal/app"
	iauth "github.com/carebridge/carebridge/internal/auth"
	"github.com/carebridge/carebridge/internal/handlers"
	"github.com/carebridge/carebridge/internal/middleware"
)

// credentialRateLimit bounds register and login attempts per client IP.
const credentialRateLimit = 10

// NewRouter builds the Gin engine, wires middleware and registers every route.
func NewRouter(db *gorm.DB, jwt *iauth.JWTService, cfg *app.Config, svc *Services) (*gin.Engine, error) {
	if db == nil {
		return nil, fmt.Errorf("database handle must be provided")
	}
	if jwt == nil {
		return nil, fmt.Errorf("jwt service must be provided")
	}
	if cfg == nil {
		return nil, fmt.Errorf("config must be provided")
	}
	if svc == nil {
		return nil, fmt.Errorf("services must be provided")
	}

	r := gin.New()

	// Global middleware
	r.Use(middleware.Recovery())
	r.Use(middleware.Logger())
	r.Use(middleware.Metrics())
	r.Use(middleware.SecurityHeaders())
	r.Use(middleware.CORS(cfg.Server.AllowedOrigins...))
	r.Use(middleware.AuditContext())

	registerHealthRoutes(r, db, cfg, svc.Jobs)

	api := r.Group("/api")
	api.Use(middleware.Auth(jwt))

	registerAuthRoutes(r, api, handlers.NewAuthHandler(svc.Users, jwt), middleware.RateLimit(credentialRateLimit, time.Minute))
	registerInvitationRoutes(api, handlers.NewInvitationHandler(svc.Invitations))
	registerProviderRoutes(api, handlers.NewProviderHandler(svc.Providers))
	registerFamilyRoutes(api, handlers.NewFamilyHandler(svc.Families))
	registerChallengeRoutes(api, handlers.NewChallengeHandler(svc.Challenges))
	registerAppointmentRoutes(api, handlers.NewAppointmentHandler(svc.Appointments))
	registerAuditRoutes(api, handlers.NewAuditHandler(svc.Audit))

	if cfg.Monitoring.Prometheus.Enabled {
		endpoint := cfg.Monitoring.Prometheus.Endpoint
		if endpoint == "" {
			endpoint = "/metrics"
		}
		r.GET(endpoint, gin.WrapH(promhttp.Handler()))
	}

	// NotFound fallback
	r.NoRoute(middleware.NotFoundHandler)

	return r, nil
}
