package services

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/carebridge/carebridge/internal/database/testutil"
	"github.com/carebridge/carebridge/internal/models"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock(now time.Time) *testClock {
	return &testClock{now: now}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Set(now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type serviceFixture struct {
	db           *gorm.DB
	clock        *testClock
	audit        *AuditService
	users        *UserService
	providers    *ProviderService
	families     *FamilyService
	challenges   *ChallengeService
	appointments *AppointmentService
	invitations  *InvitationService
}

var fixtureEpoch = time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)

func newServiceFixture(t *testing.T) *serviceFixture {
	t.Helper()

	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())
	clock := newTestClock(fixtureEpoch)

	audit, err := NewAuditService(db, WithClock(clock.Now))
	require.NoError(t, err)
	opts := []Option{WithClock(clock.Now), WithAudit(audit)}

	users, err := NewUserService(db, opts...)
	require.NoError(t, err)
	providers, err := NewProviderService(db, opts...)
	require.NoError(t, err)
	families, err := NewFamilyService(db, users, opts...)
	require.NoError(t, err)
	challenges, err := NewChallengeService(db, opts...)
	require.NoError(t, err)
	appointments, err := NewAppointmentService(db, providers, opts...)
	require.NoError(t, err)
	invitations, err := NewInvitationService(db, users, challenges, families, opts...)
	require.NoError(t, err)

	return &serviceFixture{
		db:           db,
		clock:        clock,
		audit:        audit,
		users:        users,
		providers:    providers,
		families:     families,
		challenges:   challenges,
		appointments: appointments,
		invitations:  invitations,
	}
}

// createUser inserts a user directly, skipping bcrypt. A non-empty email is
// stored as the verified primary address.
func (f *serviceFixture) createUser(t *testing.T, healthID, email string) *models.User {
	t.Helper()

	user := &models.User{HealthID: healthID, Name: "User " + healthID, PasswordHash: "unused"}
	require.NoError(t, f.db.Create(user).Error)
	if email != "" {
		address := models.UserEmail{UserID: user.ID, Email: email, IsPrimary: true, Verified: true}
		require.NoError(t, f.db.Create(&address).Error)
		user.Emails = []models.UserEmail{address}
	}
	return user
}

func (f *serviceFixture) setVerifiedPhone(t *testing.T, user *models.User, phone string) {
	t.Helper()
	require.NoError(t, f.db.Model(user).Updates(map[string]any{"phone": phone, "phone_verified": true}).Error)
}

func (f *serviceFixture) createProvider(t *testing.T, license, name string, verified bool) *models.Provider {
	t.Helper()

	provider := &models.Provider{
		LicenseNumber: license,
		Name:          name,
		Email:         "dr." + license + "@clinic.example",
		Verified:      verified,
	}
	require.NoError(t, f.db.Create(provider).Error)
	return provider
}

func countRows(t *testing.T, db *gorm.DB, model any, query string, args ...any) int64 {
	t.Helper()
	var count int64
	require.NoError(t, db.Model(model).Where(query, args...).Count(&count).Error)
	return count
}

// hideNextSelect makes the next SELECT against table return no rows, as if a
// concurrent writer committed its row between our lookup and our insert.
func hideNextSelect(t *testing.T, db *gorm.DB, table string) {
	t.Helper()

	var armed atomic.Bool
	armed.Store(true)
	name := "carebridge:hide_next_select:" + table
	require.NoError(t, db.Callback().Query().Before("gorm:query").Register(name, func(tx *gorm.DB) {
		if tx.Statement.Schema == nil || tx.Statement.Schema.Table != table {
			return
		}
		if armed.CompareAndSwap(true, false) {
			tx.Statement.AddClause(clause.Where{Exprs: []clause.Expression{clause.Expr{SQL: "1 = 0"}}})
		}
	}))
	t.Cleanup(func() {
		_ = db.Callback().Query().Remove(name)
	})
}

// reuseNextUID overwrites the UID of the next row inserted into table with
// uid, so the insert collides with an existing row.
func reuseNextUID(t *testing.T, db *gorm.DB, table, uid string) {
	t.Helper()

	var armed atomic.Bool
	armed.Store(true)
	name := "carebridge:reuse_next_uid:" + table
	require.NoError(t, db.Callback().Create().Before("gorm:create").Register(name, func(tx *gorm.DB) {
		if tx.Statement.Schema == nil || tx.Statement.Schema.Table != table {
			return
		}
		if armed.CompareAndSwap(true, false) {
			tx.Statement.SetColumn("UID", uid)
		}
	}))
	t.Cleanup(func() {
		_ = db.Callback().Create().Remove(name)
	})
}
