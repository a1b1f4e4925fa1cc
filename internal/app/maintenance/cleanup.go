package maintenance

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/carebridge/carebridge/internal/monitoring"
	"github.com/carebridge/carebridge/internal/services"
	"github.com/carebridge/carebridge/pkg/logger"
)

const (
	defaultAuditRetentionDays = 90
	defaultInvitationSpec     = "@every 15m"
	defaultChallengeSpec      = "@hourly"
	defaultAuditSpec          = "@daily"

	jobInvitationExpiry = "invitation_expiry"
	jobChallengeSweep   = "challenge_completion"
	jobAuditRetention   = "audit_retention"
)

// SweepStats reports how many rows each maintenance task touched.
type SweepStats struct {
	InvitationsExpired  int64
	ChallengesCompleted int64
	AuditLogsRemoved    int64
}

// Cleaner coordinates background maintenance tasks: expiring stale
// invitations, closing ended challenges and pruning old audit logs.
type Cleaner struct {
	invitations *services.InvitationService
	challenges  *services.ChallengeService
	audit       *services.AuditService
	cron        *cron.Cron
	jobs        *monitoring.JobTracker
	log         *zap.Logger
	retention   int

	invitationSchedule string
	challengeSchedule  string
	auditSchedule      string
}

// Option customises the Cleaner.
type Option func(*Cleaner)

// WithCron injects a preconfigured cron instance, primarily for testing.
func WithCron(c *cron.Cron) Option {
	return func(cleaner *Cleaner) {
		if c != nil {
			cleaner.cron = c
		}
	}
}

// WithJobTracker records the outcome of every run in tracker.
func WithJobTracker(tracker *monitoring.JobTracker) Option {
	return func(cleaner *Cleaner) {
		cleaner.jobs = tracker
	}
}

// WithAuditRetentionDays adjusts how long audit logs are retained before cleanup.
func WithAuditRetentionDays(days int) Option {
	return func(cleaner *Cleaner) {
		if days > 0 {
			cleaner.retention = days
		}
	}
}

// WithInvitationSchedule overrides the cron specification for the invitation expiry sweep.
func WithInvitationSchedule(spec string) Option {
	return func(cleaner *Cleaner) {
		if spec != "" {
			cleaner.invitationSchedule = spec
		}
	}
}

// WithChallengeSchedule overrides the cron specification for closing ended challenges.
func WithChallengeSchedule(spec string) Option {
	return func(cleaner *Cleaner) {
		if spec != "" {
			cleaner.challengeSchedule = spec
		}
	}
}

// WithAuditSchedule overrides the cron specification for audit retention enforcement.
func WithAuditSchedule(spec string) Option {
	return func(cleaner *Cleaner) {
		if spec != "" {
			cleaner.auditSchedule = spec
		}
	}
}

// NewCleaner constructs a Cleaner with sensible defaults. Any nil dependency
// results in the corresponding job being skipped.
func NewCleaner(invitations *services.InvitationService, challenges *services.ChallengeService, audit *services.AuditService, opts ...Option) *Cleaner {
	cleaner := &Cleaner{
		invitations:        invitations,
		challenges:         challenges,
		audit:              audit,
		retention:          defaultAuditRetentionDays,
		invitationSchedule: defaultInvitationSpec,
		challengeSchedule:  defaultChallengeSpec,
		auditSchedule:      defaultAuditSpec,
		log:                logger.WithModule("maintenance"),
	}

	for _, opt := range opts {
		opt(cleaner)
	}

	if cleaner.cron == nil {
		cleaner.cron = cron.New(cron.WithLogger(cron.DiscardLogger))
	}

	return cleaner
}

func (c *Cleaner) enabled() bool {
	return c.invitations != nil || c.challenges != nil || (c.audit != nil && c.retention > 0)
}

// Start registers the jobs with the cron scheduler and launches it if at least one job is enabled.
func (c *Cleaner) Start() error {
	if !c.enabled() {
		return nil
	}

	if c.invitations != nil {
		if _, err := c.cron.AddFunc(c.invitationSchedule, func() {
			_, _ = c.expireInvitations(context.Background())
		}); err != nil {
			return err
		}
	}

	if c.challenges != nil {
		if _, err := c.cron.AddFunc(c.challengeSchedule, func() {
			_, _ = c.completeChallenges(context.Background())
		}); err != nil {
			return err
		}
	}

	if c.audit != nil && c.retention > 0 {
		if _, err := c.cron.AddFunc(c.auditSchedule, func() {
			_, _ = c.pruneAudit(context.Background())
		}); err != nil {
			return err
		}
	}

	c.cron.Start()
	return nil
}

// Stop halts the underlying scheduler, waiting for any running jobs to complete.
func (c *Cleaner) Stop() context.Context {
	if c.cron == nil {
		return context.Background()
	}
	return c.cron.Stop()
}

// RunOnce executes every configured job sequentially. Used at startup, in
// tests and during graceful shutdown.
func (c *Cleaner) RunOnce(ctx context.Context) (SweepStats, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	var (
		stats SweepStats
		errs  error
		err   error
	)

	if c.invitations != nil {
		stats.InvitationsExpired, err = c.expireInvitations(ctx)
		errs = multierr.Append(errs, err)
	}

	if c.challenges != nil {
		stats.ChallengesCompleted, err = c.completeChallenges(ctx)
		errs = multierr.Append(errs, err)
	}

	if c.audit != nil && c.retention > 0 {
		stats.AuditLogsRemoved, err = c.pruneAudit(ctx)
		errs = multierr.Append(errs, err)
	}

	return stats, errs
}

func (c *Cleaner) expireInvitations(ctx context.Context) (int64, error) {
	start := time.Now()
	count, err := c.invitations.ExpireSweep(ctx)
	c.jobs.Record(jobInvitationExpiry, count, err, time.Since(start))
	if err != nil {
		c.log.Warn("invitation sweep failed", zap.Error(err))
		return 0, err
	}
	if count > 0 {
		c.log.Info("invitations expired", zap.Int64("count", count), zap.Duration("took", time.Since(start)))
	}
	return count, nil
}

func (c *Cleaner) completeChallenges(ctx context.Context) (int64, error) {
	start := time.Now()
	count, err := c.challenges.CompleteEnded(ctx)
	c.jobs.Record(jobChallengeSweep, count, err, time.Since(start))
	if err != nil {
		c.log.Warn("challenge sweep failed", zap.Error(err))
		return 0, err
	}
	if count > 0 {
		c.log.Info("challenges completed", zap.Int64("count", count))
	}
	return count, nil
}

func (c *Cleaner) pruneAudit(ctx context.Context) (int64, error) {
	start := time.Now()
	count, err := c.audit.CleanupOlderThan(ctx, c.retention)
	c.jobs.Record(jobAuditRetention, count, err, time.Since(start))
	if err != nil {
		c.log.Warn("audit cleanup failed", zap.Error(err))
		return 0, err
	}
	if count > 0 {
		c.log.Info("audit logs pruned", zap.Int64("count", count), zap.Int("retention_days", c.retention))
	}
	return count, nil
}
