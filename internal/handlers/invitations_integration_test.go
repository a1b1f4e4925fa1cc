package handlers_test

import (
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/carebridge/carebridge/internal/handlers/testutil"
)

type invitationPayload struct {
	UID         string `json:"uid"`
	SenderID    string `json:"sender_id"`
	Email       string `json:"email"`
	Kind        string `json:"kind"`
	TargetID    string `json:"target_id"`
	Status      string `json:"status"`
	AcceptedBy  string `json:"accepted_by"`
	RelatedName string `json:"related_name"`
}

type createInvitationPayload struct {
	Invitation invitationPayload `json:"invitation"`
	Created    bool              `json:"created"`
}

func createChallenge(t *testing.T, env *testutil.Env, token, title string) string {
	t.Helper()

	start := time.Now().UTC().Truncate(time.Second)
	w := env.Request(http.MethodPost, "/api/challenges", map[string]any{
		"title":      title,
		"goal":       "10k steps",
		"start_date": start,
		"end_date":   start.Add(7 * 24 * time.Hour),
	}, token)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var challenge struct {
		ID string `json:"id"`
	}
	testutil.DecodeInto(t, testutil.DecodeResponse(t, w).Data, &challenge)
	require.NotEmpty(t, challenge.ID)
	return challenge.ID
}

func createFamily(t *testing.T, env *testutil.Env, token, name string) string {
	t.Helper()

	w := env.Request(http.MethodPost, "/api/families", map[string]string{"name": name}, token)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var family struct {
		ID string `json:"id"`
	}
	testutil.DecodeInto(t, testutil.DecodeResponse(t, w).Data, &family)
	require.NotEmpty(t, family.ID)
	return family.ID
}

func TestChallengeInvitationFlow(t *testing.T) {
	env := testutil.NewEnv(t)
	sender := env.Register(true)
	invitee := env.Register(true)

	challengeID := createChallenge(t, env, sender.Token, "Step Up")

	body := map[string]string{
		"kind":         "challenge",
		"health_id":    invitee.HealthID,
		"challenge_id": challengeID,
	}
	w := env.Request(http.MethodPost, "/api/invitations", body, sender.Token)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var first createInvitationPayload
	testutil.DecodeInto(t, testutil.DecodeResponse(t, w).Data, &first)
	require.True(t, first.Created)
	require.Equal(t, invitee.Email, first.Invitation.Email)
	require.Equal(t, "pending", first.Invitation.Status)
	require.Regexp(t, `^INV[0-9A-F]{8}$`, first.Invitation.UID)

	// the same contact, kind and target reuses the pending invitation
	w = env.Request(http.MethodPost, "/api/invitations", body, sender.Token)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var again createInvitationPayload
	testutil.DecodeInto(t, testutil.DecodeResponse(t, w).Data, &again)
	require.False(t, again.Created)
	require.Equal(t, first.Invitation.UID, again.Invitation.UID)

	w = env.Request(http.MethodGet, "/api/invitations/mine", nil, invitee.Token)
	require.Equal(t, http.StatusOK, w.Code)
	var mine []invitationPayload
	testutil.DecodeInto(t, testutil.DecodeResponse(t, w).Data, &mine)
	require.Len(t, mine, 1)
	require.Equal(t, "Step Up", mine[0].RelatedName)
	require.Equal(t, "challenge", mine[0].Kind)

	w = env.Request(http.MethodGet, "/api/invitations/mine", nil, sender.Token)
	testutil.DecodeInto(t, testutil.DecodeResponse(t, w).Data, &mine)
	require.Empty(t, mine)

	w = env.Request(http.MethodPost, "/api/invitations/"+first.Invitation.UID+"/accept", nil, invitee.Token)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var accepted invitationPayload
	testutil.DecodeInto(t, testutil.DecodeResponse(t, w).Data, &accepted)
	require.Equal(t, "accepted", accepted.Status)
	require.Equal(t, invitee.ID, accepted.AcceptedBy)

	w = env.Request(http.MethodPost, "/api/invitations/"+first.Invitation.UID+"/accept", nil, invitee.Token)
	require.Equal(t, http.StatusConflict, w.Code)
	require.Equal(t, "INVITATION_NOT_PENDING", testutil.DecodeResponse(t, w).Error.Code)

	w = env.Request(http.MethodGet, "/api/challenges/"+challengeID+"/participants", nil, invitee.Token)
	require.Equal(t, http.StatusOK, w.Code)
	var participants []struct {
		UserID string `json:"user_id"`
	}
	testutil.DecodeInto(t, testutil.DecodeResponse(t, w).Data, &participants)
	require.Len(t, participants, 2)

	w = env.Request(http.MethodGet, "/api/invitations/mine", nil, invitee.Token)
	testutil.DecodeInto(t, testutil.DecodeResponse(t, w).Data, &mine)
	require.Empty(t, mine)
}

func TestFamilyInvitationCancelAndStats(t *testing.T) {
	env := testutil.NewEnv(t)
	sender := env.Register(true)
	invitee := env.Register(true)

	createFamily(t, env, sender.Token, "Rivera")

	w := env.Request(http.MethodPost, "/api/invitations", map[string]string{
		"kind":        "family",
		"email":       invitee.Email,
		"family_name": "Rivera",
	}, sender.Token)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var created createInvitationPayload
	testutil.DecodeInto(t, testutil.DecodeResponse(t, w).Data, &created)
	require.Equal(t, "Rivera", created.Invitation.RelatedName)

	// the invitee is not the sender and cannot withdraw it
	w = env.Request(http.MethodDelete, "/api/invitations/"+created.Invitation.UID, nil, invitee.Token)
	require.Equal(t, http.StatusNotFound, w.Code)

	w = env.Request(http.MethodDelete, "/api/invitations/"+created.Invitation.UID, nil, sender.Token)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = env.Request(http.MethodDelete, "/api/invitations/"+created.Invitation.UID, nil, sender.Token)
	require.Equal(t, http.StatusNotFound, w.Code)
	require.Equal(t, "INVITATION_NOT_CANCELLABLE", testutil.DecodeResponse(t, w).Error.Code)

	w = env.Request(http.MethodPost, "/api/invitations/"+created.Invitation.UID+"/accept", nil, invitee.Token)
	require.Equal(t, http.StatusConflict, w.Code)

	// after cancellation a fresh invitation can be issued
	w = env.Request(http.MethodPost, "/api/invitations", map[string]string{
		"kind":        "family",
		"email":       invitee.Email,
		"family_name": "Rivera",
	}, sender.Token)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var second createInvitationPayload
	testutil.DecodeInto(t, testutil.DecodeResponse(t, w).Data, &second)
	require.NotEqual(t, created.Invitation.UID, second.Invitation.UID)

	w = env.Request(http.MethodPost, "/api/invitations/"+second.Invitation.UID+"/accept", nil, invitee.Token)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = env.Request(http.MethodGet, "/api/families", nil, invitee.Token)
	var families []struct {
		Name string `json:"name"`
	}
	testutil.DecodeInto(t, testutil.DecodeResponse(t, w).Data, &families)
	require.Len(t, families, 1)
	require.Equal(t, "Rivera", families[0].Name)

	w = env.Request(http.MethodGet, "/api/invitations/stats", nil, sender.Token)
	require.Equal(t, http.StatusOK, w.Code)
	var stats struct {
		Total     int64 `json:"total"`
		Pending   int64 `json:"pending"`
		Accepted  int64 `json:"accepted"`
		Cancelled int64 `json:"cancelled"`
	}
	testutil.DecodeInto(t, testutil.DecodeResponse(t, w).Data, &stats)
	require.EqualValues(t, 2, stats.Total)
	require.EqualValues(t, 0, stats.Pending)
	require.EqualValues(t, 1, stats.Accepted)
	require.EqualValues(t, 1, stats.Cancelled)

	w = env.Request(http.MethodGet, "/api/invitations/sent", nil, sender.Token)
	var sent []invitationPayload
	testutil.DecodeInto(t, testutil.DecodeResponse(t, w).Data, &sent)
	require.Len(t, sent, 2)
}

func TestCreateInvitationValidation(t *testing.T) {
	env := testutil.NewEnv(t)
	sender := env.Register(true)
	other := env.Register(false)

	cases := []struct {
		name   string
		body   map[string]string
		status int
		code   string
	}{
		{
			name:   "multiple contacts",
			body:   map[string]string{"kind": "platform", "email": "a@example.com", "phone": "+15550100"},
			status: http.StatusBadRequest,
			code:   "VALIDATION_ERROR",
		},
		{
			name:   "no contact",
			body:   map[string]string{"kind": "platform"},
			status: http.StatusBadRequest,
			code:   "VALIDATION_ERROR",
		},
		{
			name:   "unknown kind",
			body:   map[string]string{"kind": "newsletter", "email": "a@example.com"},
			status: http.StatusBadRequest,
			code:   "VALIDATION_ERROR",
		},
		{
			name:   "platform by health id",
			body:   map[string]string{"kind": "platform", "health_id": other.HealthID},
			status: http.StatusBadRequest,
			code:   "VALIDATION_ERROR",
		},
		{
			name:   "unknown health id",
			body:   map[string]string{"kind": "data_share", "health_id": "NOBODY123"},
			status: http.StatusNotFound,
			code:   "USER_NOT_FOUND",
		},
		{
			name:   "health id without verified contact",
			body:   map[string]string{"kind": "data_share", "health_id": other.HealthID},
			status: http.StatusConflict,
			code:   "NO_VERIFIED_CONTACT",
		},
		{
			name:   "unknown challenge",
			body:   map[string]string{"kind": "challenge", "email": "a@example.com", "challenge_id": "missing"},
			status: http.StatusNotFound,
			code:   "CHALLENGE_NOT_FOUND",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := env.Request(http.MethodPost, "/api/invitations", tc.body, sender.Token)
			require.Equal(t, tc.status, w.Code, w.Body.String())
			require.Equal(t, tc.code, testutil.DecodeResponse(t, w).Error.Code)
		})
	}

	w := env.Request(http.MethodPost, "/api/invitations", map[string]string{
		"kind":  "data_share",
		"phone": "+1 (555) 010-3000",
	}, sender.Token)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var shared createInvitationPayload
	testutil.DecodeInto(t, testutil.DecodeResponse(t, w).Data, &shared)
	require.Equal(t, sender.ID, shared.Invitation.TargetID)

	w = env.Request(http.MethodGet, "/api/invitations/"+shared.Invitation.UID, nil, other.Token)
	require.Equal(t, http.StatusOK, w.Code)

	w = env.Request(http.MethodGet, "/api/invitations/INV00000000", nil, other.Token)
	require.Equal(t, http.StatusNotFound, w.Code)
}
