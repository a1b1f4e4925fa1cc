package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/carebridge/carebridge/internal/auditctx"
	"github.com/carebridge/carebridge/internal/database/testutil"
	"github.com/carebridge/carebridge/internal/models"
)

func TestAuditServiceLogAndList(t *testing.T) {
	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())
	svc, err := NewAuditService(db)
	require.NoError(t, err)

	ctx := context.Background()
	userID := "user-1"
	err = svc.Log(ctx, AuditEntry{
		UserID:   &userID,
		Action:   "invitation.accept",
		Resource: "invitation:INV00000001",
		Result:   "success",
		Metadata: map[string]any{"kind": "family"},
	})
	require.NoError(t, err)

	require.NoError(t, svc.Log(ctx, AuditEntry{Action: "user.login", Result: "failure"}))

	logs, total, err := svc.List(ctx, AuditListOptions{Page: 1, PageSize: 10, Filters: AuditFilters{UserID: userID}})
	require.NoError(t, err)
	require.Equal(t, int64(1), total)
	require.Len(t, logs, 1)
	require.Equal(t, "invitation.accept", logs[0].Action)
	require.Equal(t, "family", logs[0].Metadata["kind"])

	require.Error(t, svc.Log(ctx, AuditEntry{Result: "success"}))
	require.Error(t, svc.Log(ctx, AuditEntry{Action: "x"}))
}

func TestRecordAuditUsesActorFromContext(t *testing.T) {
	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())
	svc, err := NewAuditService(db)
	require.NoError(t, err)

	ctx := auditctx.WithActor(context.Background(), auditctx.Actor{
		UserID:    "actor-1",
		IPAddress: "10.0.0.7",
		UserAgent: "test-agent",
	})
	recordAudit(svc, ctx, AuditEntry{Action: "family.create", Result: "success"})
	recordAudit(nil, ctx, AuditEntry{Action: "ignored", Result: "success"})

	var logs []models.AuditLog
	require.NoError(t, db.Find(&logs).Error)
	require.Len(t, logs, 1)
	require.NotNil(t, logs[0].UserID)
	require.Equal(t, "actor-1", *logs[0].UserID)
	require.Equal(t, "10.0.0.7", logs[0].IPAddress)
	require.Equal(t, "test-agent", logs[0].UserAgent)
	require.NotContains(t, logs[0].Metadata, "actor_health_id")
}

func TestRecordAuditKeepsActorHealthID(t *testing.T) {
	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())
	svc, err := NewAuditService(db)
	require.NoError(t, err)

	ctx := auditctx.WithActor(context.Background(), auditctx.Actor{IPAddress: "10.0.0.8"})
	ctx = auditctx.WithIdentity(ctx, "actor-2", "HID7788")

	metadata := map[string]any{"kind": "family"}
	recordAudit(svc, ctx, AuditEntry{Action: "invitation.create", Result: "success", Metadata: metadata})
	require.NotContains(t, metadata, "actor_health_id")

	var log models.AuditLog
	require.NoError(t, db.First(&log).Error)
	require.NotNil(t, log.UserID)
	require.Equal(t, "actor-2", *log.UserID)
	require.Equal(t, "10.0.0.8", log.IPAddress)
	require.Equal(t, "HID7788", log.Metadata["actor_health_id"])
	require.Equal(t, "family", log.Metadata["kind"])
}

func TestAuditServiceCleanupOlderThan(t *testing.T) {
	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	svc, err := NewAuditService(db, WithClock(func() time.Time { return now }))
	require.NoError(t, err)

	require.NoError(t, db.Create(&models.AuditLog{
		Action:    "old.action",
		Result:    "success",
		CreatedAt: now.AddDate(0, 0, -10),
	}).Error)
	require.NoError(t, db.Create(&models.AuditLog{
		Action:    "recent.action",
		Result:    "success",
		CreatedAt: now.AddDate(0, 0, -1),
	}).Error)

	ctx := context.Background()
	rows, err := svc.CleanupOlderThan(ctx, 5)
	require.NoError(t, err)
	require.Equal(t, int64(1), rows)

	_, err = svc.CleanupOlderThan(ctx, 0)
	require.Error(t, err)
}
