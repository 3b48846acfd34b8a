package tokens

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kaspa-aio/controller/pkg/errdefs"
	"github.com/kaspa-aio/controller/pkg/types"
)

func TestIssueAndConsume(t *testing.T) {
	s := NewStore()

	id, err := s.Issue(Payload{Mode: types.ModeInstall, Profiles: []string{"kaspa-node"}})
	require.NoError(t, err)
	assert.Len(t, id, 64, "32 bytes hex encoded")

	// Peek does not consume.
	payload, err := s.Peek(id)
	require.NoError(t, err)
	assert.Equal(t, types.ModeInstall, payload.Mode)

	payload, err = s.Consume(id)
	require.NoError(t, err)
	assert.Equal(t, []string{"kaspa-node"}, payload.Profiles)

	_, err = s.Consume(id)
	assert.True(t, errdefs.IsKind(err, errdefs.KindTokenConsumed))
	_, err = s.Peek(id)
	assert.True(t, errdefs.IsKind(err, errdefs.KindTokenConsumed))
}

func TestTokenIDsAreUnique(t *testing.T) {
	s := NewStore()
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		id, err := s.Issue(Payload{Mode: types.ModeUpdate})
		require.NoError(t, err)
		require.False(t, seen[id])
		seen[id] = true
	}
}

func TestExpiry(t *testing.T) {
	s := NewStore().WithTTL(time.Millisecond)

	id, err := s.Issue(Payload{Mode: types.ModeReconfigure})
	require.NoError(t, err)

	time.Sleep(5 * time.Millisecond)

	_, err = s.Peek(id)
	assert.True(t, errdefs.IsKind(err, errdefs.KindTokenExpired))
	_, err = s.Consume(id)
	assert.True(t, errdefs.IsKind(err, errdefs.KindTokenExpired))
}

func TestUnknownToken(t *testing.T) {
	s := NewStore()
	_, err := s.Peek("nope")
	assert.True(t, errdefs.IsKind(err, errdefs.KindTokenNotFound))
}

func TestInvalidate(t *testing.T) {
	s := NewStore()
	id, err := s.Issue(Payload{Mode: types.ModeInstall})
	require.NoError(t, err)

	s.Invalidate(id)
	_, err = s.Peek(id)
	assert.True(t, errdefs.IsKind(err, errdefs.KindTokenNotFound))
}

func TestSweepRemovesDeadTokens(t *testing.T) {
	s := NewStore().WithTTL(time.Millisecond)

	_, err := s.Issue(Payload{Mode: types.ModeInstall})
	require.NoError(t, err)

	live := NewStore()
	id, err := live.Issue(Payload{Mode: types.ModeInstall})
	require.NoError(t, err)
	_, err = live.Consume(id)
	require.NoError(t, err)

	time.Sleep(5 * time.Millisecond)
	assert.Equal(t, 1, s.Sweep(), "expired token swept")
	assert.Equal(t, 1, live.Sweep(), "consumed token swept")
	assert.Zero(t, s.Len())
	assert.Zero(t, live.Len())
}
