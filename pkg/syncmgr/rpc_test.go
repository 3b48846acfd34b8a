package syncmgr

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kaspa-aio/controller/pkg/errdefs"
)

func TestRetryTransientRecoversWithinBudget(t *testing.T) {
	calls := 0
	out, err := retryTransient(context.Background(), 3, time.Millisecond, 4*time.Millisecond,
		func() (int, error) {
			calls++
			if calls < 3 {
				return 0, errdefs.New(errdefs.KindRPCRefused, "not up yet")
			}
			return 42, nil
		})
	require.NoError(t, err)
	assert.Equal(t, 42, out)
	assert.Equal(t, 3, calls)
}

func TestRetryTransientGivesUpAfterAttempts(t *testing.T) {
	calls := 0
	_, err := retryTransient(context.Background(), 3, time.Millisecond, 4*time.Millisecond,
		func() (int, error) {
			calls++
			return 0, errdefs.New(errdefs.KindRPCTimeout, "slow node")
		})
	require.Error(t, err)
	assert.Equal(t, 3, calls)
	assert.True(t, errdefs.IsKind(err, errdefs.KindRPCTimeout))
}

func TestRetryTransientStopsOnPermanentError(t *testing.T) {
	calls := 0
	_, err := retryTransient(context.Background(), 3, time.Millisecond, 4*time.Millisecond,
		func() (int, error) {
			calls++
			return 0, errdefs.New(errdefs.KindRPCError, "bad method")
		})
	require.Error(t, err)
	assert.Equal(t, 1, calls, "permanent errors are not retried")
}

func TestRetryTransientHonorsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	calls := 0
	_, err := retryTransient(ctx, 3, time.Minute, time.Minute,
		func() (int, error) {
			calls++
			return 0, errdefs.New(errdefs.KindRPCRefused, "not up yet")
		})
	require.Error(t, err)
	assert.Equal(t, 1, calls, "cancelled context skips the backoff sleep")
}

func TestCallClassifiesUnreachableAsTransient(t *testing.T) {
	c := NewRPCClient("127.0.0.1", 1).WithTimeout(200 * time.Millisecond)
	_, err := c.call(context.Background())
	require.Error(t, err)
	assert.True(t, errdefs.IsKind(err, errdefs.KindRPCRefused))
	assert.True(t, errdefs.IsTransient(err))
}

func TestBlockDagInfoParsesResult(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"result":{"blockCount":123,"headerCount":456,"isSynced":false}}`))
	}))
	defer srv.Close()

	c := NewRPCClient("ignored", 0)
	c.url = srv.URL

	info, err := c.BlockDagInfo(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(123), info.BlockCount)
	assert.Equal(t, uint64(456), info.HeaderCount)
	assert.False(t, info.IsSynced)
}

func TestBlockDagInfoSurfacesRPCError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"error":{"code":-32601,"message":"method not found"}}`))
	}))
	defer srv.Close()

	c := NewRPCClient("ignored", 0)
	c.url = srv.URL

	_, err := c.BlockDagInfo(context.Background())
	require.Error(t, err)
	assert.True(t, errdefs.IsKind(err, errdefs.KindRPCError))
	assert.Contains(t, err.Error(), "method not found")
}
