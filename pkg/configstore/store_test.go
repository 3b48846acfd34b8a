package configstore

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kaspa-aio/controller/pkg/types"
)

func TestParseEnvPreservesOrder(t *testing.T) {
	input := []byte(`# node settings
KASPA_NETWORK=mainnet
KASPA_NODE_PORT=16110

export POSTGRES_PASSWORD='hunter2'
EMPTY=
QUOTED="with spaces"
`)
	env := ParseEnv(input)

	assert.Equal(t, []string{
		"KASPA_NETWORK", "KASPA_NODE_PORT", "POSTGRES_PASSWORD", "EMPTY", "QUOTED",
	}, env.Keys())

	v, _ := env.Get("POSTGRES_PASSWORD")
	assert.Equal(t, "hunter2", v)
	v, _ = env.Get("QUOTED")
	assert.Equal(t, "with spaces", v)
	v, ok := env.Get("EMPTY")
	assert.True(t, ok)
	assert.Empty(t, v)
}

func TestSerializeKeepsOrderAndAppendsNewKeys(t *testing.T) {
	env := ParseEnv([]byte("B=2\nA=1\nC=3\n"))
	env.Set("A", "changed")
	env.Set("D", "4")

	assert.Equal(t, "B=2\nA=changed\nC=3\nD=4\n", string(env.Serialize()))
}

func TestSerializeQuotesAwkwardValues(t *testing.T) {
	env := NewEnvFile()
	env.Set("MOTD", "hello world # greeting")
	assert.Equal(t, "MOTD=\"hello world # greeting\"\n", string(env.Serialize()))
}

func TestUnset(t *testing.T) {
	env := ParseEnv([]byte("A=1\nB=2\nC=3\n"))
	env.Unset("B")
	assert.Equal(t, []string{"A", "C"}, env.Keys())
	env.Unset("missing")
	assert.Equal(t, 2, env.Len())
}

func TestMaskedHidesSensitiveValues(t *testing.T) {
	env := ParseEnv([]byte("POSTGRES_PASSWORD=s3cret\nJWT_SECRET=abc\nKASPA_NETWORK=mainnet\nEMPTY_TOKEN=\n"))
	masked := env.Masked()

	assert.Equal(t, "********", masked["POSTGRES_PASSWORD"])
	assert.Equal(t, "********", masked["JWT_SECRET"])
	assert.Equal(t, "mainnet", masked["KASPA_NETWORK"])
	assert.Empty(t, masked["EMPTY_TOKEN"])
}

func TestSensitiveKeyMarkers(t *testing.T) {
	tests := []struct {
		key  string
		want bool
	}{
		{"POSTGRES_PASSWORD", true},
		{"JWT_SECRET", true},
		{"API_TOKEN", true},
		{"STRATUM_API_KEY", true},
		{"WALLET_PRIVATE_KEY", true},
		{"WALLET_SEED", true},
		{"WALLET_MNEMONIC", true},
		{"KASPA_NETWORK", false},
		{"KASPAD_UTXO_INDEX", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Sensitive(tt.key), tt.key)
	}
}

func TestDiffEnv(t *testing.T) {
	old := ParseEnv([]byte("A=1\nB=2\nC=3\n"))
	new := ParseEnv([]byte("A=1\nB=20\nD=4\n"))

	diff := DiffEnv(old, new)
	require.Len(t, diff.Changes, 3)

	assert.Equal(t, types.ConfigChange{Key: "B", Kind: types.DiffModified, OldValue: "2", NewValue: "20"}, diff.Changes[0])
	assert.Equal(t, types.ConfigChange{Key: "C", Kind: types.DiffRemoved, OldValue: "3"}, diff.Changes[1])
	assert.Equal(t, types.ConfigChange{Key: "D", Kind: types.DiffAdded, NewValue: "4"}, diff.Changes[2])

	assert.True(t, DiffEnv(old, old.Clone()).Empty())
}

const composeDoc = `# kaspa fleet
services:
  kaspa-node:
    image: kaspanet/kaspad:v1.0.1
    ports:
      - "16110:16110"
  kaspa-explorer:
    image: kaspa/explorer:2.3.0
    depends_on:
      - kaspa-node
`

func TestComposeServiceNamesAndImages(t *testing.T) {
	cf, err := ParseCompose([]byte(composeDoc))
	require.NoError(t, err)

	assert.Equal(t, []string{"kaspa-explorer", "kaspa-node"}, cf.ServiceNames())

	image, err := cf.ImageOf("kaspa-node")
	require.NoError(t, err)
	assert.Equal(t, "kaspanet/kaspad:v1.0.1", image)

	_, err = cf.ImageOf("unknown")
	assert.Error(t, err)
}

func TestComposeSetImageTagRewritesOnlyTheTag(t *testing.T) {
	cf, err := ParseCompose([]byte(composeDoc))
	require.NoError(t, err)

	require.NoError(t, cf.SetImageTag("kaspa-node", "v1.0.2"))

	image, err := cf.ImageOf("kaspa-node")
	require.NoError(t, err)
	assert.Equal(t, "kaspanet/kaspad:v1.0.2", image)

	// The untouched service and the rest of the structure survive.
	out, err := cf.Serialize()
	require.NoError(t, err)
	assert.Contains(t, string(out), "kaspa/explorer:2.3.0")
	assert.Contains(t, string(out), "depends_on")
	assert.Contains(t, string(out), `"16110:16110"`)
}

func TestStoreRoundTripsArtifacts(t *testing.T) {
	s := New(t.TempDir())

	// Missing files read as empty.
	env, err := s.LoadEnv()
	require.NoError(t, err)
	assert.Zero(t, env.Len())

	install, err := s.LoadInstallationState()
	require.NoError(t, err)
	assert.Empty(t, install.ActiveProfiles)

	env.Set("KASPA_NETWORK", "mainnet")
	require.NoError(t, s.SaveEnv(env))

	reread, err := s.LoadEnv()
	require.NoError(t, err)
	v, _ := reread.Get("KASPA_NETWORK")
	assert.Equal(t, "mainnet", v)

	install = types.InstallationState{
		Version:        "1.2.0",
		InstalledAt:    time.Now().UTC().Truncate(time.Second),
		ActiveProfiles: []string{"kaspa-node"},
		Services:       []types.InstalledService{{Name: "kaspa-node", Version: "v1.0.1", Status: "running"}},
	}
	require.NoError(t, s.SaveInstallationState(install))

	got, err := s.LoadInstallationState()
	require.NoError(t, err)
	assert.Equal(t, install, got)
}

func TestWizardStateLifecycle(t *testing.T) {
	s := New(t.TempDir())

	require.NoError(t, s.SaveWizardState(types.WizardState{CurrentStep: "sync", Phase: "install"}))
	state, err := s.LoadWizardState()
	require.NoError(t, err)
	assert.Equal(t, "sync", state.CurrentStep)

	require.NoError(t, s.ClearWizardState())
	state, err = s.LoadWizardState()
	require.NoError(t, err)
	assert.Empty(t, state.CurrentStep)

	// Clearing twice is fine.
	require.NoError(t, s.ClearWizardState())
}

func TestAtomicWriteLeavesNoTempFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "out.txt")

	require.NoError(t, AtomicWrite(path, []byte("v1")))
	require.NoError(t, AtomicWrite(path, []byte("v2")))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "v2", string(data))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}
