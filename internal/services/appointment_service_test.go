package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/carebridge/carebridge/internal/models"
	apperrors "github.com/carebridge/carebridge/pkg/errors"
)

func TestAppointmentServiceCreateLinksProvider(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	user := f.createUser(t, "HID8001", "")
	provider := f.createProvider(t, "LIC-80001", "Dr Booked", true)

	appointment, err := f.appointments.Create(ctx, user.ID, CreateAppointmentInput{
		Provider:         ProviderRef{LicenseNumber: "LIC-80001"},
		ScheduledAt:      fixtureEpoch.Add(72 * time.Hour),
		ConsultationType: models.ConsultationVirtual,
		Memo:             "follow-up",
	})
	require.NoError(t, err)
	require.Regexp(t, `^APT[0-9A-F]{8}$`, appointment.UID)
	require.Equal(t, provider.ID, appointment.ProviderID)
	require.Equal(t, models.AppointmentStatusScheduled, appointment.Status)

	links, err := f.providers.ListUserProviders(ctx, user.ID)
	require.NoError(t, err)
	require.Len(t, links, 1)
	require.False(t, links[0].IsPrimary)

	// a second booking reuses the link
	_, err = f.appointments.Create(ctx, user.ID, CreateAppointmentInput{
		Provider:         ProviderRef{Email: provider.Email},
		ScheduledAt:      fixtureEpoch.Add(96 * time.Hour),
		ConsultationType: models.ConsultationInPerson,
	})
	require.NoError(t, err)
	require.Equal(t, int64(1), countRows(t, f.db, &models.ProviderLink{}, "user_id = ?", user.ID))
}

func TestAppointmentServiceCreateValidation(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	user := f.createUser(t, "HID8101", "")
	provider := f.createProvider(t, "LIC-81001", "Dr Hidden", false)

	_, err := f.appointments.Create(ctx, user.ID, CreateAppointmentInput{
		Provider:         ProviderRef{ID: provider.ID},
		ScheduledAt:      fixtureEpoch.Add(time.Hour),
		ConsultationType: "Phone",
	})
	require.ErrorIs(t, err, apperrors.ErrValidation)

	_, err = f.appointments.Create(ctx, user.ID, CreateAppointmentInput{
		Provider:         ProviderRef{ID: provider.ID},
		ScheduledAt:      fixtureEpoch,
		ConsultationType: models.ConsultationVirtual,
	})
	require.ErrorIs(t, err, apperrors.ErrValidation)

	// email lookups only match verified providers; nothing is persisted on failure
	_, err = f.appointments.Create(ctx, user.ID, CreateAppointmentInput{
		Provider:         ProviderRef{Email: provider.Email},
		ScheduledAt:      fixtureEpoch.Add(48 * time.Hour),
		ConsultationType: models.ConsultationVirtual,
	})
	require.ErrorIs(t, err, ErrProviderNotFound)
	require.Equal(t, int64(0), countRows(t, f.db, &models.Appointment{}, "user_id = ?", user.ID))
	require.Equal(t, int64(0), countRows(t, f.db, &models.ProviderLink{}, "user_id = ?", user.ID))
}

func TestAppointmentServiceCancelWindow(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	user := f.createUser(t, "HID8201", "")
	other := f.createUser(t, "HID8202", "")
	provider := f.createProvider(t, "LIC-82001", "Dr Window", true)
	start := fixtureEpoch.Add(5 * 24 * time.Hour)

	book := func() *models.Appointment {
		appointment, err := f.appointments.Create(ctx, user.ID, CreateAppointmentInput{
			Provider:         ProviderRef{ID: provider.ID},
			ScheduledAt:      start,
			ConsultationType: models.ConsultationInPerson,
		})
		require.NoError(t, err)
		return appointment
	}

	late := book()
	f.clock.Set(start.Add(-23*time.Hour - 59*time.Minute))
	_, err := f.appointments.Cancel(ctx, late.ID, user.ID, "too late")
	require.ErrorIs(t, err, ErrCancellationWindowClosed)
	require.ErrorIs(t, err, apperrors.ErrInvalidState)

	f.clock.Set(start.Add(-24 * time.Hour))
	_, err = f.appointments.Cancel(ctx, late.ID, other.ID, "")
	require.ErrorIs(t, err, ErrAppointmentNotFound)

	cancelled, err := f.appointments.Cancel(ctx, late.UID, user.ID, "conflict")
	require.NoError(t, err)
	require.Equal(t, models.AppointmentStatusCancelled, cancelled.Status)
	require.Equal(t, "conflict", *cancelled.CancellationReason)
	require.Equal(t, start.Add(-24*time.Hour), *cancelled.CancelledAt)

	_, err = f.appointments.Cancel(ctx, late.ID, user.ID, "")
	require.ErrorIs(t, err, ErrAppointmentNotScheduled)
}

func TestAppointmentServiceCompleteListsAndStats(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	user := f.createUser(t, "HID8301", "")
	provider := f.createProvider(t, "LIC-83001", "Dr Stats", true)

	var booked []*models.Appointment
	for i := 1; i <= 3; i++ {
		appointment, err := f.appointments.Create(ctx, user.ID, CreateAppointmentInput{
			Provider:         ProviderRef{ID: provider.ID},
			ScheduledAt:      fixtureEpoch.Add(time.Duration(i) * 48 * time.Hour),
			ConsultationType: models.ConsultationVirtual,
		})
		require.NoError(t, err)
		booked = append(booked, appointment)
	}

	f.clock.Advance(time.Hour)
	completed, err := f.appointments.Complete(ctx, booked[0].UID)
	require.NoError(t, err)
	require.Equal(t, booked[0].ID, completed.ID)
	require.Equal(t, models.AppointmentStatusCompleted, completed.Status)
	require.NotNil(t, completed.CompletedAt)
	require.True(t, completed.CompletedAt.Equal(fixtureEpoch.Add(time.Hour)))
	require.NotNil(t, completed.Provider)
	require.Equal(t, provider.ID, completed.Provider.ID)

	_, err = f.appointments.Complete(ctx, booked[0].ID)
	require.ErrorIs(t, err, ErrAppointmentNotScheduled)
	_, err = f.appointments.Complete(ctx, "missing")
	require.ErrorIs(t, err, ErrAppointmentNotFound)
	_, err = f.appointments.Cancel(ctx, booked[2].ID, user.ID, "")
	require.NoError(t, err)

	stats, err := f.appointments.Stats(ctx, user.ID)
	require.NoError(t, err)
	require.Equal(t, AppointmentStats{Total: 3, Scheduled: 1, Completed: 1, Cancelled: 1, Upcoming: 1}, stats)

	scheduled, err := f.appointments.ListForUser(ctx, user.ID, models.AppointmentStatusScheduled)
	require.NoError(t, err)
	require.Len(t, scheduled, 1)
	require.Equal(t, booked[1].ID, scheduled[0].ID)
	require.NotNil(t, scheduled[0].Provider)

	all, err := f.appointments.ListForUser(ctx, user.ID, "")
	require.NoError(t, err)
	require.Len(t, all, 3)

	day := fixtureEpoch.Add(96 * time.Hour)
	forProvider, err := f.appointments.ListForProvider(ctx, provider.ID, &day)
	require.NoError(t, err)
	require.Len(t, forProvider, 1)

	inRange, err := f.appointments.SearchByDate(ctx, user.ID, fixtureEpoch, fixtureEpoch.Add(5*24*time.Hour))
	require.NoError(t, err)
	require.Len(t, inRange, 2)

	_, err = f.appointments.SearchByDate(ctx, user.ID, fixtureEpoch, fixtureEpoch)
	require.ErrorIs(t, err, apperrors.ErrValidation)
}

func TestAppointmentServiceCreateRetriesTakenUID(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	user := f.createUser(t, "HID8401", "")
	provider := f.createProvider(t, "LIC-84001", "Dr Retry", true)

	first, err := f.appointments.Create(ctx, user.ID, CreateAppointmentInput{
		Provider:         ProviderRef{ID: provider.ID},
		ScheduledAt:      fixtureEpoch.Add(48 * time.Hour),
		ConsultationType: models.ConsultationVirtual,
	})
	require.NoError(t, err)

	reuseNextUID(t, f.db, "appointments", first.UID)

	second, err := f.appointments.Create(ctx, user.ID, CreateAppointmentInput{
		Provider:         ProviderRef{ID: provider.ID},
		ScheduledAt:      fixtureEpoch.Add(72 * time.Hour),
		ConsultationType: models.ConsultationInPerson,
	})
	require.NoError(t, err)
	require.NotEqual(t, first.UID, second.UID)
	require.Regexp(t, `^APT[0-9A-F]{8}$`, second.UID)
	require.Equal(t, int64(2), countRows(t, f.db, &models.Appointment{}, "user_id = ?", user.ID))
	require.Equal(t, int64(1), countRows(t, f.db, &models.ProviderLink{}, "user_id = ?", user.ID))
}

func TestAppointmentServiceProviderSchedule(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	alice := f.createUser(t, "HID8501", "")
	bob := f.createUser(t, "HID8502", "")
	stranger := f.createUser(t, "HID8503", "")
	provider := f.createProvider(t, "LIC-85001", "Dr Schedule", true)

	day := fixtureEpoch.Add(48 * time.Hour)
	mine, err := f.appointments.Create(ctx, alice.ID, CreateAppointmentInput{
		Provider:         ProviderRef{ID: provider.ID},
		ScheduledAt:      day.Add(time.Hour),
		ConsultationType: models.ConsultationVirtual,
		Memo:             "knee",
	})
	require.NoError(t, err)
	_, err = f.appointments.Create(ctx, bob.ID, CreateAppointmentInput{
		Provider:         ProviderRef{ID: provider.ID},
		ScheduledAt:      day.Add(2 * time.Hour),
		ConsultationType: models.ConsultationInPerson,
		Memo:             "private",
	})
	require.NoError(t, err)
	_, err = f.appointments.Create(ctx, bob.ID, CreateAppointmentInput{
		Provider:         ProviderRef{ID: provider.ID},
		ScheduledAt:      day.Add(48 * time.Hour),
		ConsultationType: models.ConsultationVirtual,
	})
	require.NoError(t, err)

	schedule, err := f.appointments.ProviderSchedule(ctx, provider.ID, alice.ID, &day)
	require.NoError(t, err)
	require.Len(t, schedule, 2)
	require.Equal(t, mine.ID, schedule[0].ID)
	require.Equal(t, alice.ID, schedule[0].UserID)
	require.Equal(t, "knee", schedule[0].Memo)
	require.NotNil(t, schedule[0].User)
	require.Empty(t, schedule[1].UserID)
	require.Empty(t, schedule[1].Memo)
	require.Nil(t, schedule[1].User)

	all, err := f.appointments.ProviderSchedule(ctx, provider.ID, alice.ID, nil)
	require.NoError(t, err)
	require.Len(t, all, 3)

	_, err = f.appointments.ProviderSchedule(ctx, provider.ID, stranger.ID, nil)
	require.ErrorIs(t, err, ErrProviderNotLinked)
	_, err = f.appointments.ProviderSchedule(ctx, "missing", alice.ID, nil)
	require.ErrorIs(t, err, ErrProviderNotFound)

	require.NoError(t, f.providers.UnlinkFromUser(ctx, alice.ID, provider.ID))
	_, err = f.appointments.ProviderSchedule(ctx, provider.ID, alice.ID, nil)
	require.ErrorIs(t, err, ErrProviderNotLinked)
}
