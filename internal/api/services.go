package api

import (
	"time"

	"gorm.io/gorm"

	"github.com/carebridge/carebridge/internal/app"
	"github.com/carebridge/carebridge/internal/monitoring"
	"github.com/carebridge/carebridge/internal/services"
)

// Services bundles the domain services shared by the HTTP layer and the
// maintenance scheduler.
type Services struct {
	Audit        *services.AuditService
	Users        *services.UserService
	Providers    *services.ProviderService
	Families     *services.FamilyService
	Challenges   *services.ChallengeService
	Appointments *services.AppointmentService
	Invitations  *services.InvitationService

	// Jobs receives maintenance run outcomes and feeds the health check.
	Jobs *monitoring.JobTracker
}

// NewServices wires every domain service against db. Every service except
// audit records audit entries; cfg supplies the invitation lifetime.
func NewServices(db *gorm.DB, cfg *app.Config, opts ...services.Option) (*Services, error) {
	audit, err := services.NewAuditService(db, opts...)
	if err != nil {
		return nil, err
	}

	var ttl time.Duration
	if cfg != nil {
		ttl = cfg.Invitations.TTL
	}
	shared := append([]services.Option{services.WithAudit(audit), services.WithInvitationTTL(ttl)}, opts...)

	users, err := services.NewUserService(db, shared...)
	if err != nil {
		return nil, err
	}
	providers, err := services.NewProviderService(db, shared...)
	if err != nil {
		return nil, err
	}
	families, err := services.NewFamilyService(db, users, shared...)
	if err != nil {
		return nil, err
	}
	challenges, err := services.NewChallengeService(db, shared...)
	if err != nil {
		return nil, err
	}
	appointments, err := services.NewAppointmentService(db, providers, shared...)
	if err != nil {
		return nil, err
	}
	invitations, err := services.NewInvitationService(db, users, challenges, families, shared...)
	if err != nil {
		return nil, err
	}

	return &Services{
		Audit:        audit,
		Users:        users,
		Providers:    providers,
		Families:     families,
		Challenges:   challenges,
		Appointments: appointments,
		Invitations:  invitations,
		Jobs:         monitoring.NewJobTracker(),
	}, nil
}
