package update

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kaspa-aio/controller/pkg/configstore"
	"github.com/kaspa-aio/controller/pkg/errdefs"
)

func TestParseEndpoint(t *testing.T) {
	tests := []struct {
		raw     string
		host    string
		port    int
		wantErr bool
	}{
		{raw: "grpc://public.example.com:16210", host: "public.example.com", port: 16210},
		{raw: "https://public.example.com", host: "public.example.com", port: 16110},
		{raw: "public.example.com:16210", host: "public.example.com", port: 16210},
		{raw: "public.example.com", host: "public.example.com", port: 16110},
		{raw: "", wantErr: true},
		{raw: "://nope", wantErr: true},
	}
	for _, tt := range tests {
		host, port, err := parseEndpoint(tt.raw, 16110)
		if tt.wantErr {
			assert.Error(t, err, tt.raw)
			continue
		}
		require.NoError(t, err, tt.raw)
		assert.Equal(t, tt.host, host, tt.raw)
		assert.Equal(t, tt.port, port, tt.raw)
	}
}

func TestFallbackEngageAndRestore(t *testing.T) {
	p, adapter, _, dir := testPipeline(t)
	adapter.setRunning("kaspa-node")
	adapter.setRunning("kaspa-indexer")
	p.monitor.Cycle(context.Background())

	fb := NewNodeFallback(p, "localhost", 16110, "grpc://public.example.com:16210")
	require.True(t, fb.Configured())

	require.NoError(t, fb.Engage(context.Background()))

	env := configstore.ParseEnv(readFile(t, filepath.Join(dir, ".env")))
	host, _ := env.Get("KASPA_NODE_HOST")
	port, _ := env.Get("KASPA_NODE_PORT")
	assert.Equal(t, "public.example.com", host)
	assert.Equal(t, "16210", port)

	// The endpoint keys belong to the indexer profile; only its service
	// restarts, the node itself keeps running.
	assert.Contains(t, adapter.starts, "kaspa-indexer")
	assert.NotContains(t, adapter.stops, "kaspa-node")

	require.NoError(t, fb.Restore(context.Background()))

	env = configstore.ParseEnv(readFile(t, filepath.Join(dir, ".env")))
	host, _ = env.Get("KASPA_NODE_HOST")
	port, _ = env.Get("KASPA_NODE_PORT")
	assert.Equal(t, "localhost", host)
	assert.Equal(t, "16110", port)
}

func TestFallbackUnconfigured(t *testing.T) {
	var nilFallback *NodeFallback
	assert.False(t, nilFallback.Configured())

	fb := NewNodeFallback(nil, "localhost", 16110, "")
	assert.False(t, fb.Configured())

	err := fb.Engage(context.Background())
	require.Error(t, err)
	assert.True(t, errdefs.IsKind(err, errdefs.KindValidation))
}
