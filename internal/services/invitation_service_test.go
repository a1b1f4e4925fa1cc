package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/carebridge/carebridge/internal/models"
	apperrors "github.com/carebridge/carebridge/pkg/errors"
)

func TestInvitationServiceCreateDeduplicates(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	sender := f.createUser(t, "HID9001", "sender@x.com")

	inv, created, err := f.invitations.Create(ctx, sender.ID, PlatformInvitation{Contact: EmailContact(" Friend@X.com ")})
	require.NoError(t, err)
	require.True(t, created)
	require.Regexp(t, `^INV[0-9A-F]{8}$`, inv.UID)
	require.Equal(t, "friend@x.com", *inv.Email)
	require.Nil(t, inv.Phone)
	require.Equal(t, models.InvitationStatusPending, inv.Status)
	require.Equal(t, fixtureEpoch.Add(15*24*time.Hour), inv.ExpiresAt)
	require.Empty(t, inv.TargetID)

	again, created, err := f.invitations.Create(ctx, sender.ID, PlatformInvitation{Contact: EmailContact("friend@x.com")})
	require.NoError(t, err)
	require.False(t, created)
	require.Equal(t, inv.UID, again.UID)

	// a different kind for the same contact is a separate invitation
	share, created, err := f.invitations.Create(ctx, sender.ID, DataShareInvitation{Contact: EmailContact("friend@x.com")})
	require.NoError(t, err)
	require.True(t, created)
	require.Equal(t, sender.ID, share.TargetID)

	byPhone, created, err := f.invitations.Create(ctx, sender.ID, PlatformInvitation{Contact: PhoneContact("+1 555 010 2000")})
	require.NoError(t, err)
	require.True(t, created)
	require.Equal(t, "+15550102000", *byPhone.Phone)
	require.Nil(t, byPhone.Email)

	require.Equal(t, int64(3), countRows(t, f.db, &models.Invitation{}, "sender_id = ?", sender.ID))
}

func TestInvitationServiceConcurrentCreateKeepsOnePending(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	sender := f.createUser(t, "HID9101", "")

	const workers = 4
	uids := make([]string, workers)
	var g errgroup.Group
	for i := 0; i < workers; i++ {
		g.Go(func() error {
			inv, _, err := f.invitations.Create(ctx, sender.ID, PlatformInvitation{Contact: EmailContact("race@x.com")})
			if err != nil {
				return err
			}
			uids[i] = inv.UID
			return nil
		})
	}
	require.NoError(t, g.Wait())

	for _, uid := range uids {
		require.Equal(t, uids[0], uid)
	}
	require.Equal(t, int64(1), countRows(t, f.db, &models.Invitation{}, "status = ?", models.InvitationStatusPending))
}

func TestInvitationServiceCreateReturnsWinnerAfterLostInsert(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	sender := f.createUser(t, "HID9051", "")
	key := models.InvitationPendingKey(models.InvitationKindPlatform, "email:late@x.com", "")
	winner := models.Invitation{
		UID:        "INVC0FFEE01",
		SenderID:   sender.ID,
		Email:      optionalString("late@x.com"),
		Kind:       models.InvitationKindPlatform,
		Status:     models.InvitationStatusPending,
		ExpiresAt:  fixtureEpoch.Add(time.Hour),
		PendingKey: &key,
	}
	require.NoError(t, f.db.Create(&winner).Error)

	// the pending lookup misses, so the insert trips the pending_key index
	hideNextSelect(t, f.db, "invitations")

	inv, created, err := f.invitations.Create(ctx, sender.ID, PlatformInvitation{Contact: EmailContact("late@x.com")})
	require.NoError(t, err)
	require.False(t, created)
	require.Equal(t, winner.UID, inv.UID)
	require.Equal(t, winner.ID, inv.ID)
	require.Equal(t, int64(1), countRows(t, f.db, &models.Invitation{}, "email = ?", "late@x.com"))
}

func TestInvitationServiceValidatesContacts(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	sender := f.createUser(t, "HID9201", "")
	f.createUser(t, "HID9202", "primary@x.com")
	withPhone := f.createUser(t, "HID9203", "")
	f.setVerifiedPhone(t, withPhone, "+15550103000")
	unreachable := f.createUser(t, "HID9204", "")
	require.NoError(t, f.db.Create(&models.UserEmail{UserID: unreachable.ID, Email: "unverified@x.com", IsPrimary: true}).Error)

	_, _, err := f.invitations.Create(ctx, sender.ID, PlatformInvitation{Contact: EmailContact("not-an-email")})
	require.ErrorIs(t, err, apperrors.ErrValidation)

	_, _, err = f.invitations.Create(ctx, sender.ID, PlatformInvitation{Contact: PhoneContact("0000")})
	require.ErrorIs(t, err, apperrors.ErrValidation)

	_, _, err = f.invitations.Create(ctx, sender.ID, PlatformInvitation{})
	require.ErrorIs(t, err, apperrors.ErrValidation)

	_, _, err = f.invitations.Create(ctx, sender.ID, PlatformInvitation{Contact: HealthIDContact("HID9202")})
	require.ErrorIs(t, err, apperrors.ErrValidation)

	inv, _, err := f.invitations.Create(ctx, sender.ID, DataShareInvitation{Contact: HealthIDContact("HID9202")})
	require.NoError(t, err)
	require.Equal(t, "primary@x.com", *inv.Email)

	inv, _, err = f.invitations.Create(ctx, sender.ID, DataShareInvitation{Contact: HealthIDContact("HID9203")})
	require.NoError(t, err)
	require.Nil(t, inv.Email)
	require.Equal(t, "+15550103000", *inv.Phone)

	_, _, err = f.invitations.Create(ctx, sender.ID, DataShareInvitation{Contact: HealthIDContact("HID9204")})
	require.ErrorIs(t, err, ErrNoVerifiedContact)
	require.ErrorIs(t, err, apperrors.ErrInvalidState)

	_, _, err = f.invitations.Create(ctx, sender.ID, DataShareInvitation{Contact: HealthIDContact("HID0000")})
	require.ErrorIs(t, err, apperrors.ErrNotFound)

	_, _, err = f.invitations.Create(ctx, sender.ID, nil)
	require.ErrorIs(t, err, apperrors.ErrValidation)
}

func TestInvitationServiceResolvesTargets(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	creator := f.createUser(t, "HID9301", "")
	participant := f.createUser(t, "HID9302", "")
	challenge := newChallenge(t, f, creator.ID, "Morning Walk")
	_, err := f.challenges.Join(ctx, challenge.ID, participant.ID)
	require.NoError(t, err)

	inv, _, err := f.invitations.Create(ctx, creator.ID, ChallengeInvitation{
		Contact:   EmailContact("walker@x.com"),
		Challenge: ChallengeRef{Name: "Morning Walk"},
	})
	require.NoError(t, err)
	require.Equal(t, challenge.ID, inv.TargetID)
	require.Equal(t, "Morning Walk", inv.RelatedName)

	_, _, err = f.invitations.Create(ctx, participant.ID, ChallengeInvitation{
		Contact:   EmailContact("walker@x.com"),
		Challenge: ChallengeRef{ID: challenge.ID},
	})
	require.ErrorIs(t, err, ErrInvitationForbidden)
	require.ErrorIs(t, err, apperrors.ErrForbidden)

	_, _, err = f.invitations.Create(ctx, creator.ID, ChallengeInvitation{
		Contact:   EmailContact("walker@x.com"),
		Challenge: ChallengeRef{Name: "Evening Walk"},
	})
	require.ErrorIs(t, err, ErrChallengeNotFound)

	_, _, err = f.invitations.Create(ctx, creator.ID, ChallengeInvitation{Contact: EmailContact("walker@x.com")})
	require.ErrorIs(t, err, apperrors.ErrValidation)

	family, err := f.families.Create(ctx, creator.ID, "Walkers")
	require.NoError(t, err)
	_, err = f.families.AddMember(ctx, family.ID, creator.ID, AddFamilyMemberInput{Target: FamilyMemberTarget{UserID: participant.ID}})
	require.NoError(t, err)

	inv, _, err = f.invitations.Create(ctx, creator.ID, FamilyInvitation{
		Contact: EmailContact("cousin@x.com"),
		Family:  FamilyRef{Name: "Walkers"},
	})
	require.NoError(t, err)
	require.Equal(t, family.ID, inv.TargetID)
	require.Equal(t, "Walkers", inv.RelatedName)

	// the existing pending row comes back named as well
	again, created, err := f.invitations.Create(ctx, creator.ID, FamilyInvitation{
		Contact: EmailContact("Cousin@x.com"),
		Family:  FamilyRef{ID: family.ID},
	})
	require.NoError(t, err)
	require.False(t, created)
	require.Equal(t, inv.UID, again.UID)
	require.Equal(t, "Walkers", again.RelatedName)

	_, _, err = f.invitations.Create(ctx, participant.ID, FamilyInvitation{
		Contact: EmailContact("cousin@x.com"),
		Family:  FamilyRef{ID: family.ID},
	})
	require.ErrorIs(t, err, ErrInvitationForbidden)

	_, _, err = f.invitations.Create(ctx, creator.ID, FamilyInvitation{
		Contact: EmailContact("cousin@x.com"),
		Family:  FamilyRef{Name: "Strangers"},
	})
	require.ErrorIs(t, err, ErrFamilyNotFound)

	share, _, err := f.invitations.Create(ctx, creator.ID, DataShareInvitation{
		Contact:  EmailContact("doctor@x.com"),
		Resource: "record-42",
	})
	require.NoError(t, err)
	require.Equal(t, "record-42", share.TargetID)
	require.Equal(t, "Data Share", share.RelatedName)
}

func TestInvitationServiceFindMine(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	sender := f.createUser(t, "HID9401", "")
	invitee := f.createUser(t, "HID9402", "invitee@x.com")
	f.setVerifiedPhone(t, invitee, "+15550104000")
	require.NoError(t, f.db.Create(&models.UserEmail{UserID: invitee.ID, Email: "unverified@x.com"}).Error)

	byEmail, _, err := f.invitations.Create(ctx, sender.ID, PlatformInvitation{Contact: EmailContact("invitee@x.com")})
	require.NoError(t, err)

	f.clock.Advance(time.Hour)
	byPhone, _, err := f.invitations.Create(ctx, sender.ID, DataShareInvitation{Contact: PhoneContact("+15550104000")})
	require.NoError(t, err)

	_, _, err = f.invitations.Create(ctx, sender.ID, PlatformInvitation{Contact: EmailContact("unverified@x.com")})
	require.NoError(t, err)

	mine, err := f.invitations.FindMine(ctx, invitee.ID)
	require.NoError(t, err)
	require.Len(t, mine, 2)
	require.Equal(t, byEmail.UID, mine[0].UID, "soonest expiry first")
	require.Equal(t, byPhone.UID, mine[1].UID)
	require.NotNil(t, mine[0].Sender)
	require.Equal(t, sender.Name, mine[0].Sender.Name)
	require.Equal(t, "Platform", mine[0].RelatedName)

	// expired rows never match, even before the sweep runs
	f.clock.Set(byEmail.ExpiresAt)
	mine, err = f.invitations.FindMine(ctx, invitee.ID)
	require.NoError(t, err)
	require.Len(t, mine, 1)
	require.Equal(t, byPhone.UID, mine[0].UID)

	nobody := f.createUser(t, "HID9403", "")
	mine, err = f.invitations.FindMine(ctx, nobody.ID)
	require.NoError(t, err)
	require.Empty(t, mine)
}

func TestInvitationServiceAcceptChallenge(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	creator := f.createUser(t, "HID9501", "")
	invitee := f.createUser(t, "HID9502", "join@x.com")
	challenge := newChallenge(t, f, creator.ID, "Plank Month")

	inv, _, err := f.invitations.Create(ctx, creator.ID, ChallengeInvitation{
		Contact:   EmailContact("join@x.com"),
		Challenge: ChallengeRef{ID: challenge.ID},
	})
	require.NoError(t, err)

	accepted, err := f.invitations.Accept(ctx, inv.UID, invitee.ID)
	require.NoError(t, err)
	require.Equal(t, models.InvitationStatusAccepted, accepted.Status)
	require.NotNil(t, accepted.CompletedAt)
	require.Equal(t, invitee.ID, *accepted.AcceptedBy)
	require.Equal(t, int64(1), countRows(t, f.db, &models.ChallengeParticipant{}, "challenge_id = ? AND user_id = ?", challenge.ID, invitee.ID))

	_, err = f.invitations.Accept(ctx, inv.UID, invitee.ID)
	require.ErrorIs(t, err, ErrInvitationNotPending)
	require.ErrorIs(t, err, apperrors.ErrInvalidState)
	var appErr *apperrors.AppError
	require.True(t, errors.As(err, &appErr))
	require.Equal(t, models.InvitationStatusAccepted, appErr.Details["status"])
	require.Equal(t, inv.UID, appErr.Details["uid"])

	// the pending key is released so the contact can be invited again
	var stored models.Invitation
	require.NoError(t, f.db.First(&stored, "uid = ?", inv.UID).Error)
	require.Nil(t, stored.PendingKey)

	_, err = f.invitations.Accept(ctx, "INV00000000", invitee.ID)
	require.ErrorIs(t, err, ErrInvitationNotFound)
}

func TestInvitationServiceConcurrentAccept(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	creator := f.createUser(t, "HID9601", "")
	invitee := f.createUser(t, "HID9602", "")
	challenge := newChallenge(t, f, creator.ID, "Race Day")

	inv, _, err := f.invitations.Create(ctx, creator.ID, ChallengeInvitation{
		Contact:   EmailContact("racer@x.com"),
		Challenge: ChallengeRef{ID: challenge.ID},
	})
	require.NoError(t, err)

	const workers = 3
	results := make([]error, workers)
	var g errgroup.Group
	for i := 0; i < workers; i++ {
		g.Go(func() error {
			_, results[i] = f.invitations.Accept(ctx, inv.UID, invitee.ID)
			return nil
		})
	}
	require.NoError(t, g.Wait())

	var succeeded int
	for _, err := range results {
		if err == nil {
			succeeded++
			continue
		}
		require.ErrorIs(t, err, apperrors.ErrInvalidState)
	}
	require.Equal(t, 1, succeeded)
	require.Equal(t, int64(1), countRows(t, f.db, &models.ChallengeParticipant{}, "challenge_id = ? AND user_id = ?", challenge.ID, invitee.ID))
}

func TestInvitationServiceAcceptFamily(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	owner := f.createUser(t, "HID9701", "")
	relative := f.createUser(t, "HID9702", "")
	family, err := f.families.Create(ctx, owner.ID, "Relatives")
	require.NoError(t, err)

	inv, _, err := f.invitations.Create(ctx, owner.ID, FamilyInvitation{
		Contact: EmailContact("relative@x.com"),
		Family:  FamilyRef{ID: family.ID},
	})
	require.NoError(t, err)

	// acceptance is not tied to the addressed contact, and an existing
	// membership is left untouched
	_, err = f.families.EnsureMember(ctx, family.ID, relative.ID)
	require.NoError(t, err)
	_, err = f.invitations.Accept(ctx, inv.UID, relative.ID)
	require.NoError(t, err)

	var member models.FamilyMember
	require.NoError(t, f.db.Where("family_id = ? AND user_id = ?", family.ID, relative.ID).First(&member).Error)
	require.False(t, member.CanManage)
	require.Equal(t, int64(2), countRows(t, f.db, &models.FamilyMember{}, "family_id = ?", family.ID))
}

func TestInvitationServiceAcceptRollsBackWhenTargetMissing(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	owner := f.createUser(t, "HID9801", "")
	invitee := f.createUser(t, "HID9802", "")
	family, err := f.families.Create(ctx, owner.ID, "Short Lived")
	require.NoError(t, err)

	inv, _, err := f.invitations.Create(ctx, owner.ID, FamilyInvitation{
		Contact: EmailContact("late@x.com"),
		Family:  FamilyRef{ID: family.ID},
	})
	require.NoError(t, err)
	require.NoError(t, f.families.Delete(ctx, family.ID, owner.ID))

	_, err = f.invitations.Accept(ctx, inv.UID, invitee.ID)
	require.ErrorIs(t, err, ErrFamilyNotFound)

	var stored models.Invitation
	require.NoError(t, f.db.First(&stored, "uid = ?", inv.UID).Error)
	require.Equal(t, models.InvitationStatusPending, stored.Status)
	require.Nil(t, stored.AcceptedBy)
}

func TestInvitationServiceExpiry(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	sender := f.createUser(t, "HID9901", "")
	invitee := f.createUser(t, "HID9902", "")

	first, _, err := f.invitations.Create(ctx, sender.ID, PlatformInvitation{Contact: EmailContact("slow@x.com")})
	require.NoError(t, err)
	_, _, err = f.invitations.Create(ctx, sender.ID, PlatformInvitation{Contact: EmailContact("slower@x.com")})
	require.NoError(t, err)

	// one second before expiry the invitation is still acceptable
	f.clock.Set(first.ExpiresAt.Add(-time.Second))
	swept, err := f.invitations.ExpireSweep(ctx)
	require.NoError(t, err)
	require.Zero(t, swept)

	// at the expiry instant accept fails even though the sweep has not run
	f.clock.Set(first.ExpiresAt)
	_, err = f.invitations.Accept(ctx, first.UID, invitee.ID)
	require.ErrorIs(t, err, ErrInvitationExpired)
	var appErr *apperrors.AppError
	require.True(t, errors.As(err, &appErr))
	require.Equal(t, models.InvitationStatusExpired, appErr.Details["status"])

	// creating again for the same key expires the stale row and issues a new one
	renewed, created, err := f.invitations.Create(ctx, sender.ID, PlatformInvitation{Contact: EmailContact("slow@x.com")})
	require.NoError(t, err)
	require.True(t, created)
	require.NotEqual(t, first.UID, renewed.UID)

	var stale models.Invitation
	require.NoError(t, f.db.First(&stale, "uid = ?", first.UID).Error)
	require.Equal(t, models.InvitationStatusExpired, stale.Status)
	require.NotNil(t, stale.CompletedAt)

	swept, err = f.invitations.ExpireSweep(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(1), swept)

	swept, err = f.invitations.ExpireSweep(ctx)
	require.NoError(t, err)
	require.Zero(t, swept)
}

func TestInvitationServiceCancel(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	sender := f.createUser(t, "HID9951", "")
	other := f.createUser(t, "HID9952", "")

	inv, _, err := f.invitations.Create(ctx, sender.ID, PlatformInvitation{Contact: EmailContact("maybe@x.com")})
	require.NoError(t, err)

	err = f.invitations.Cancel(ctx, inv.ID, other.ID)
	require.ErrorIs(t, err, ErrInvitationNotCancellable)
	require.ErrorIs(t, err, apperrors.ErrNotFound)

	require.NoError(t, f.invitations.Cancel(ctx, inv.ID, sender.ID))
	require.ErrorIs(t, f.invitations.Cancel(ctx, inv.ID, sender.ID), ErrInvitationNotCancellable)

	_, err = f.invitations.Accept(ctx, inv.UID, other.ID)
	require.ErrorIs(t, err, ErrInvitationNotPending)

	again, created, err := f.invitations.Create(ctx, sender.ID, PlatformInvitation{Contact: EmailContact("maybe@x.com")})
	require.NoError(t, err)
	require.True(t, created)
	require.NotEqual(t, inv.UID, again.UID)
}

func TestInvitationServiceListingAndStats(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	sender := f.createUser(t, "HID9961", "")
	invitee := f.createUser(t, "HID9962", "")
	challenge := newChallenge(t, f, sender.ID, "Sleep Well")
	family, err := f.families.Create(ctx, sender.ID, "Sleepers")
	require.NoError(t, err)

	challengeInv, _, err := f.invitations.Create(ctx, sender.ID, ChallengeInvitation{
		Contact:   EmailContact("a@x.com"),
		Challenge: ChallengeRef{ID: challenge.ID},
	})
	require.NoError(t, err)
	f.clock.Advance(time.Minute)
	familyInv, _, err := f.invitations.Create(ctx, sender.ID, FamilyInvitation{
		Contact: EmailContact("b@x.com"),
		Family:  FamilyRef{ID: family.ID},
	})
	require.NoError(t, err)
	f.clock.Advance(time.Minute)
	shareInv, _, err := f.invitations.Create(ctx, sender.ID, DataShareInvitation{Contact: EmailContact("c@x.com")})
	require.NoError(t, err)

	_, err = f.invitations.Accept(ctx, challengeInv.UID, invitee.ID)
	require.NoError(t, err)
	require.NoError(t, f.invitations.Cancel(ctx, shareInv.UID, sender.ID))

	sent, err := f.invitations.ListSent(ctx, sender.ID)
	require.NoError(t, err)
	require.Len(t, sent, 3)
	require.Equal(t, shareInv.UID, sent[0].UID, "newest first")
	require.Equal(t, "Data Share", sent[0].RelatedName)
	require.Equal(t, "Sleepers", sent[1].RelatedName)
	require.Equal(t, "Sleep Well", sent[2].RelatedName)

	stats, err := f.invitations.Stats(ctx, sender.ID)
	require.NoError(t, err)
	require.Equal(t, InvitationStats{Total: 3, Pending: 1, Accepted: 1, Cancelled: 1}, stats)

	loaded, err := f.invitations.GetByUID(ctx, familyInv.UID)
	require.NoError(t, err)
	require.Equal(t, "Sleepers", loaded.RelatedName)
	require.NotNil(t, loaded.Sender)
	require.Equal(t, sender.HealthID, loaded.Sender.HealthID)

	_, err = f.invitations.GetByUID(ctx, "INVFFFFFFFF")
	require.ErrorIs(t, err, ErrInvitationNotFound)

	var audits int64
	require.NoError(t, f.db.Model(&models.AuditLog{}).Where("action LIKE ?", "invitation.%").Count(&audits).Error)
	require.Equal(t, int64(5), audits)
}

func TestViolatesUniqueOnIdentifiesColumn(t *testing.T) {
	f := newServiceFixture(t)

	sender := f.createUser(t, "HID9971", "")
	key := "platform|email:dup@x.com|"
	first := models.Invitation{
		UID:        "INVAAAAAAAA",
		SenderID:   sender.ID,
		Kind:       models.InvitationKindPlatform,
		Status:     models.InvitationStatusPending,
		ExpiresAt:  fixtureEpoch.Add(time.Hour),
		PendingKey: &key,
	}
	require.NoError(t, f.db.Create(&first).Error)

	second := first
	second.ID = ""
	second.UID = "INVBBBBBBBB"
	err := f.db.Create(&second).Error
	require.Error(t, err)
	require.True(t, isUniqueConstraintError(err))
	require.True(t, violatesUniqueOn(err, "pending_key"))
	require.False(t, violatesUniqueOn(err, "uid"))

	require.False(t, isUniqueConstraintError(errors.New("CHECK constraint failed: progress")))
	require.False(t, violatesUniqueOn(nil, "pending_key"))
}
