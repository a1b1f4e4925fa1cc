package auditctx

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFromContextWithoutActor(t *testing.T) {
	_, ok := FromContext(context.Background())
	require.False(t, ok)
}

func TestWithIdentityKeepsNetworkDetails(t *testing.T) {
	ctx := WithActor(context.Background(), Actor{IPAddress: "10.1.2.3", UserAgent: "curl/8"})

	actor, ok := FromContext(ctx)
	require.True(t, ok)
	require.False(t, actor.Authenticated())

	ctx = WithIdentity(ctx, "user-1", "HID1234")
	actor, ok = FromContext(ctx)
	require.True(t, ok)
	require.True(t, actor.Authenticated())
	require.Equal(t, Actor{
		UserID:    "user-1",
		HealthID:  "HID1234",
		IPAddress: "10.1.2.3",
		UserAgent: "curl/8",
	}, actor)
}

func TestWithIdentityOnBareContext(t *testing.T) {
	actor, ok := FromContext(WithIdentity(context.Background(), "user-2", "HID0002"))
	require.True(t, ok)
	require.Equal(t, "HID0002", actor.HealthID)
	require.Empty(t, actor.IPAddress)
}
