package services

import (
	"context"

	"github.com/carebridge/carebridge/internal/auditctx"
)

// recordAudit logs the supplied entry while tolerating audit failures.
// Request metadata is filled from the actor stored on ctx when the entry
// leaves it blank, and an authenticated actor's health ID is kept in the
// entry metadata as actor_health_id.
func recordAudit(audit *AuditService, ctx context.Context, entry AuditEntry) {
	if audit == nil {
		return
	}
	if actor, ok := auditctx.FromContext(ctx); ok {
		if entry.UserID == nil && actor.UserID != "" {
			id := actor.UserID
			entry.UserID = &id
		}
		if entry.IPAddress == "" {
			entry.IPAddress = actor.IPAddress
		}
		if entry.UserAgent == "" {
			entry.UserAgent = actor.UserAgent
		}
		if actor.Authenticated() && actor.HealthID != "" {
			metadata := make(map[string]any, len(entry.Metadata)+1)
			for k, v := range entry.Metadata {
				metadata[k] = v
			}
			metadata["actor_health_id"] = actor.HealthID
			entry.Metadata = metadata
		}
	}
	_ = audit.Log(ctx, entry)
}

func auditUser(id string) *string {
	if id == "" {
		return nil
	}
	return &id
}
