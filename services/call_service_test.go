package services

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/serofero/server/models"
	"github.com/serofero/server/pkg"
)

type callServiceFixture struct {
	*callFixture
	svc   CallService
	users *fakeUsers
}

func newCallServiceFixture(t *testing.T, mutate ...func(*CallSecurityConfig)) *callServiceFixture {
	t.Helper()
	f := newCallFixture(t, mutate...)
	inactive := testUser(4, "dave")
	inactive.IsActive = false
	users := newFakeUsers(testUser(1, "alice"), testUser(2, "bob"), testUser(3, "carol"), inactive)
	return &callServiceFixture{
		callFixture: f,
		svc:         NewCallService(f.m, users),
		users:       users,
	}
}

func TestInitiateCall(t *testing.T) {
	f := newCallServiceFixture(t)
	ctx := context.Background()
	alice := testUser(1, "alice")

	s, err := f.svc.InitiateCall(ctx, alice, 2, models.CallTypeVideo)
	require.NoError(t, err)
	assert.True(t, IsValidCallID(s.CallID))
	assert.Equal(t, models.CallTypeVideo, s.CallType)

	calls := f.svc.ActiveCalls(2)
	require.Len(t, calls, 1)
	assert.Equal(t, s.CallID, calls[0].CallID)
}

func TestInitiateCall_Errors(t *testing.T) {
	ctx := context.Background()
	alice := testUser(1, "alice")

	t.Run("self", func(t *testing.T) {
		f := newCallServiceFixture(t)
		_, err := f.svc.InitiateCall(ctx, alice, 1, models.CallTypeAudio)
		assert.ErrorIs(t, err, pkg.ErrBadRequest)
	})

	t.Run("bad type", func(t *testing.T) {
		f := newCallServiceFixture(t)
		_, err := f.svc.InitiateCall(ctx, alice, 2, models.CallType("hologram"))
		assert.ErrorIs(t, err, pkg.ErrBadRequest)
	})

	t.Run("unknown receiver", func(t *testing.T) {
		f := newCallServiceFixture(t)
		_, err := f.svc.InitiateCall(ctx, alice, 99, models.CallTypeAudio)
		assert.ErrorIs(t, err, pkg.ErrNotFound)
	})

	t.Run("inactive receiver", func(t *testing.T) {
		f := newCallServiceFixture(t)
		_, err := f.svc.InitiateCall(ctx, alice, 4, models.CallTypeAudio)
		assert.ErrorIs(t, err, pkg.ErrNotFound)
	})

	t.Run("blocked", func(t *testing.T) {
		f := newCallServiceFixture(t)
		f.blocks.blocked[[2]int64{1, 2}] = true
		_, err := f.svc.InitiateCall(ctx, alice, 2, models.CallTypeAudio)
		assert.ErrorIs(t, err, pkg.ErrForbidden)
		assert.Contains(t, err.Error(), ReasonUserBlocked)
	})

	t.Run("rate limited", func(t *testing.T) {
		f := newCallServiceFixture(t, func(c *CallSecurityConfig) { c.MaxCallsPerWindow = 1 })
		_, err := f.svc.InitiateCall(ctx, alice, 2, models.CallTypeAudio)
		require.NoError(t, err)
		_, err = f.svc.InitiateCall(ctx, alice, 3, models.CallTypeAudio)
		assert.ErrorIs(t, err, pkg.ErrTooManyRequests)
	})

	t.Run("lookup failure", func(t *testing.T) {
		f := newCallServiceFixture(t)
		f.blocks.err = errors.New("db down")
		_, err := f.svc.InitiateCall(ctx, alice, 2, models.CallTypeAudio)
		require.Error(t, err)
		assert.NotErrorIs(t, err, pkg.ErrForbidden)
	})
}

func TestCallService_ParticipantOperations(t *testing.T) {
	f := newCallServiceFixture(t)
	s, err := f.svc.InitiateCall(context.Background(), testUser(1, "alice"), 2, models.CallTypeAudio)
	require.NoError(t, err)

	require.NoError(t, f.svc.Heartbeat(2, s.CallID))

	h, err := f.svc.Health(1, s.CallID)
	require.NoError(t, err)
	assert.Equal(t, models.CallHealthHealthy, h.Status)
	assert.Equal(t, 1, h.HeartbeatCount)

	sealed, err := f.svc.Encrypt(1, s.CallID, json.RawMessage(`{"sdp":"v=0"}`))
	require.NoError(t, err)

	plain, err := f.svc.Decrypt(2, s.CallID, *sealed)
	require.NoError(t, err)
	assert.JSONEq(t, `{"sdp":"v=0"}`, string(plain))

	sealed.Nonce = sealed.EncryptedData
	_, err = f.svc.Decrypt(2, s.CallID, *sealed)
	assert.ErrorIs(t, err, pkg.ErrBadRequest)

	require.NoError(t, f.svc.EndCall(2, s.CallID))
	assert.ErrorIs(t, f.svc.EndCall(2, s.CallID), pkg.ErrNotFound)
}

func TestCallService_Authorization(t *testing.T) {
	f := newCallServiceFixture(t)
	s, err := f.svc.InitiateCall(context.Background(), testUser(1, "alice"), 2, models.CallTypeAudio)
	require.NoError(t, err)

	ops := map[string]func(userID int64, callID string) error{
		"health":    func(u int64, c string) error { _, err := f.svc.Health(u, c); return err },
		"heartbeat": f.svc.Heartbeat,
		"end":       f.svc.EndCall,
		"encrypt": func(u int64, c string) error {
			_, err := f.svc.Encrypt(u, c, json.RawMessage(`1`))
			return err
		},
		"decrypt": func(u int64, c string) error {
			_, err := f.svc.Decrypt(u, c, models.SealedPayload{})
			return err
		},
	}

	for name, op := range ops {
		t.Run(name, func(t *testing.T) {
			assert.ErrorIs(t, op(3, s.CallID), pkg.ErrForbidden)
			assert.ErrorIs(t, op(1, "nope"), pkg.ErrBadRequest)
			assert.ErrorIs(t, op(1, strings.Repeat("0", 64)), pkg.ErrNotFound)
		})
	}

	_, ok := f.m.GetCall(s.CallID)
	assert.True(t, ok, "outsider could not end the call")
	assert.Contains(t, f.alerts.types(), models.EventUnauthorizedAccess)
}

