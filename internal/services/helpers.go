package services

import (
	"context"
	"strings"
	"time"

	"github.com/carebridge/carebridge/pkg/validator"
)

func ensureContext(ctx context.Context) context.Context {
	if ctx == nil {
		return context.Background()
	}
	return ctx
}

func normaliseEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func normalisePhone(phone string) string {
	return validator.NormalizePhone(phone)
}

func optionalString(value string) *string {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil
	}
	return &value
}

// serviceOptions carries the knobs shared by every service constructor.
type serviceOptions struct {
	now   func() time.Time
	audit *AuditService
	ttl   time.Duration
}

// Option customises a service at construction time.
type Option func(*serviceOptions)

// WithClock overrides the time source, mostly for tests.
func WithClock(now func() time.Time) Option {
	return func(o *serviceOptions) {
		if now != nil {
			o.now = now
		}
	}
}

// WithAudit records successful mutations through the supplied audit service.
func WithAudit(audit *AuditService) Option {
	return func(o *serviceOptions) {
		o.audit = audit
	}
}

// WithInvitationTTL changes how long new invitations stay acceptable.
func WithInvitationTTL(ttl time.Duration) Option {
	return func(o *serviceOptions) {
		if ttl > 0 {
			o.ttl = ttl
		}
	}
}

func resolveOptions(opts []Option) serviceOptions {
	o := serviceOptions{
		now: func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	return o
}
