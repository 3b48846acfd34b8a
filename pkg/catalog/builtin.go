package catalog

import (
	"github.com/kaspa-aio/controller/pkg/types"
)

// Builtin loads the compiled-in kaspa-aio catalog.
func Builtin() (*Catalog, error) {
	return Load(builtinProfiles(), builtinServices(), builtinAliases())
}

// MustBuiltin loads the compiled-in catalog and panics on declaration errors.
// The builtin declarations are covered by tests, so a failure here is a
// programming error.
func MustBuiltin() *Catalog {
	c, err := Builtin()
	if err != nil {
		panic(err)
	}
	return c
}

func builtinAliases() map[string]string {
	return map[string]string{
		// Pre-1.0 profile names kept for installation-state migration.
		"node":         "kaspa-node",
		"archive":      "kaspa-archive-node",
		"archive-node": "kaspa-archive-node",
		"explorer":     "kaspa-explorer-bundle",
		"krc20":        "kaspa-krc20-bundle",
		"stratum":      "mining",
	}
}

func builtinProfiles() []*types.Profile {
	return []*types.Profile{
		{
			ID:          "kaspa-node",
			DisplayName: "Kaspa Node",
			Category:    types.CategoryNode,
			Services:    []string{"kaspad", "nginx-proxy", "dashboard"},
			ConfigKeys: []string{
				"KASPA_NODE_HOST", "KASPA_NODE_PORT", "KASPA_NETWORK",
				"KASPAD_EXTRA_ARGS", "KASPAD_UTXO_INDEX",
			},
			Conflicts:      []string{"kaspa-archive-node"},
			StartupOrder:   1,
			SharedServices: []string{"nginx-proxy", "dashboard"},
		},
		{
			ID:          "kaspa-archive-node",
			DisplayName: "Kaspa Archive Node",
			Category:    types.CategoryNode,
			Services:    []string{"kaspad-archive", "nginx-proxy", "dashboard"},
			ConfigKeys: []string{
				"KASPA_NODE_HOST", "KASPA_NODE_PORT", "KASPA_NETWORK",
				"KASPAD_EXTRA_ARGS", "KASPAD_ARCHIVE_RETENTION",
			},
			Conflicts:      []string{"kaspa-node"},
			StartupOrder:   1,
			SharedServices: []string{"nginx-proxy", "dashboard"},
		},
		{
			ID:          "kaspa-explorer-bundle",
			DisplayName: "Kaspa Explorer",
			Category:    types.CategoryIndexer,
			Services: []string{
				"timescaledb", "simply-kaspa-indexer", "kaspa-explorer",
				"nginx-proxy", "dashboard",
			},
			ConfigKeys: []string{
				"EXPLORER_PORT", "INDEXER_DB_PASSWORD", "INDEXER_BATCH_SIZE",
				"TIMESCALEDB_PASSWORD",
			},
			Prerequisites:  []string{"kaspa-node", "kaspa-archive-node"},
			StartupOrder:   2,
			SharedServices: []string{"timescaledb", "nginx-proxy", "dashboard"},
		},
		{
			ID:          "kaspa-krc20-bundle",
			DisplayName: "KRC-20 Indexer & API",
			Category:    types.CategoryIndexer,
			Services: []string{
				"timescaledb", "krc20-indexer", "krc20-api", "nginx-proxy", "dashboard",
			},
			ConfigKeys: []string{
				"KRC20_API_PORT", "KRC20_DB_PASSWORD", "TIMESCALEDB_PASSWORD",
			},
			Prerequisites:  []string{"kaspa-node", "kaspa-archive-node"},
			StartupOrder:   2,
			SharedServices: []string{"timescaledb", "nginx-proxy", "dashboard"},
		},
		{
			ID:          "mining",
			DisplayName: "Stratum Bridge",
			Category:    types.CategoryMining,
			Services:    []string{"kaspa-stratum", "nginx-proxy", "dashboard"},
			ConfigKeys: []string{
				"STRATUM_PORT", "MINING_ADDRESS", "STRATUM_EXTRANONCE_SIZE",
			},
			Prerequisites:  []string{"kaspa-node", "kaspa-archive-node"},
			StartupOrder:   3,
			SharedServices: []string{"nginx-proxy", "dashboard"},
		},
		{
			ID:          "wallet-app",
			DisplayName: "Web Wallet",
			Category:    types.CategoryApplication,
			Services:    []string{"kaspa-wallet", "nginx-proxy", "dashboard"},
			ConfigKeys: []string{
				"WALLET_PORT", "WALLET_RPC_ALLOWLIST",
			},
			Prerequisites:  []string{"kaspa-node", "kaspa-archive-node"},
			StartupOrder:   3,
			SharedServices: []string{"nginx-proxy", "dashboard"},
		},
	}
}

func builtinServices() []*types.ServiceDefinition {
	return []*types.ServiceDefinition{
		{
			ID:              "kaspad",
			ContainerName:   "kaspad",
			OwningProfileID: "kaspa-node",
			HealthProbe:     types.HealthProbe{Kind: types.ProbeJSONRPC, Port: 16110, Method: "getInfo"},
			Critical:        true,
			Footprint:       types.ResourceFootprint{MinRAMGb: 4, RecRAMGb: 8, MinDiskGb: 100, MinCPU: 2},
			DefaultPorts:    map[string]int{"rpc": 16110, "p2p": 16111},
			ImageRef:        "kaspanet/kaspad:0.12.19",
			StartupPhase:    1,
		},
		{
			ID:              "kaspad-archive",
			ContainerName:   "kaspad-archive",
			OwningProfileID: "kaspa-archive-node",
			HealthProbe:     types.HealthProbe{Kind: types.ProbeJSONRPC, Port: 16110, Method: "getInfo"},
			Critical:        true,
			Footprint:       types.ResourceFootprint{MinRAMGb: 8, RecRAMGb: 16, MinDiskGb: 500, MinCPU: 4},
			DefaultPorts:    map[string]int{"rpc": 16110, "p2p": 16111},
			ImageRef:        "kaspanet/kaspad:0.12.19",
			StartupPhase:    1,
		},
		{
			ID:              "nginx-proxy",
			ContainerName:   "nginx-proxy",
			OwningProfileID: "kaspa-node",
			HealthProbe:     types.HealthProbe{Kind: types.ProbeTCP, Port: 80},
			Critical:        true,
			Footprint:       types.ResourceFootprint{MinRAMGb: 0.1, RecRAMGb: 0.25, MinDiskGb: 0.1, MinCPU: 0.1},
			DefaultPorts:    map[string]int{"http": 80, "https": 443},
			ImageRef:        "nginx:1.27-alpine",
			StartupPhase:    1,
		},
		{
			ID:              "dashboard",
			ContainerName:   "kaspa-dashboard",
			OwningProfileID: "kaspa-node",
			HealthProbe:     types.HealthProbe{Kind: types.ProbeHTTP, Port: 3001, Path: "/health"},
			Footprint:       types.ResourceFootprint{MinRAMGb: 0.5, RecRAMGb: 1, MinDiskGb: 1, MinCPU: 0.25},
			DefaultPorts:    map[string]int{"http": 3001},
			ImageRef:        "kaspa-aio/dashboard:1.4.2",
			StartupPhase:    1,
		},
		{
			ID:              "timescaledb",
			ContainerName:   "timescaledb",
			OwningProfileID: "kaspa-explorer-bundle",
			HealthProbe:     types.HealthProbe{Kind: types.ProbeTCP, Port: 5432},
			Footprint:       types.ResourceFootprint{MinRAMGb: 2, RecRAMGb: 4, MinDiskGb: 50, MinCPU: 1},
			DefaultPorts:    map[string]int{"postgres": 5432},
			ImageRef:        "timescale/timescaledb:2.17.2-pg16",
			StartupPhase:    2,
		},
		{
			ID:              "simply-kaspa-indexer",
			ContainerName:   "simply-kaspa-indexer",
			OwningProfileID: "kaspa-explorer-bundle",
			HealthProbe:     types.HealthProbe{Kind: types.ProbeHTTP, Port: 8500, Path: "/health"},
			Dependencies:    []string{"kaspad", "timescaledb"},
			Footprint:       types.ResourceFootprint{MinRAMGb: 4, RecRAMGb: 6, MinDiskGb: 100, MinCPU: 2},
			DefaultPorts:    map[string]int{"http": 8500},
			ImageRef:        "supertypo/simply-kaspa-indexer:2.0.1",
			StartupPhase:    2,
		},
		{
			ID:              "kaspa-explorer",
			ContainerName:   "kaspa-explorer",
			OwningProfileID: "kaspa-explorer-bundle",
			HealthProbe:     types.HealthProbe{Kind: types.ProbeHTTP, Port: 8110, Path: "/"},
			Dependencies:    []string{"simply-kaspa-indexer"},
			Footprint:       types.ResourceFootprint{MinRAMGb: 2, RecRAMGb: 4, MinDiskGb: 50, MinCPU: 2},
			DefaultPorts:    map[string]int{"http": 8110},
			ImageRef:        "kaspanet/kaspa-explorer:1.2.0",
			StartupPhase:    3,
		},
		{
			ID:              "krc20-indexer",
			ContainerName:   "krc20-indexer",
			OwningProfileID: "kaspa-krc20-bundle",
			Dependencies:    []string{"kaspad", "timescaledb"},
			HealthProbe:     types.HealthProbe{Kind: types.ProbeNone},
			Footprint:       types.ResourceFootprint{MinRAMGb: 2, RecRAMGb: 4, MinDiskGb: 80, MinCPU: 1},
			ImageRef:        "kasplex/krc20-indexer:0.9.3",
			StartupPhase:    2,
		},
		{
			ID:              "krc20-api",
			ContainerName:   "krc20-api",
			OwningProfileID: "kaspa-krc20-bundle",
			Dependencies:    []string{"krc20-indexer"},
			HealthProbe:     types.HealthProbe{Kind: types.ProbeHTTP, Port: 8600, Path: "/api/health"},
			Footprint:       types.ResourceFootprint{MinRAMGb: 1, RecRAMGb: 2, MinDiskGb: 5, MinCPU: 0.5},
			DefaultPorts:    map[string]int{"http": 8600},
			ImageRef:        "kasplex/krc20-api:0.9.3",
			StartupPhase:    3,
		},
		{
			ID:              "kaspa-stratum",
			ContainerName:   "kaspa-stratum",
			OwningProfileID: "mining",
			Dependencies:    []string{"kaspad"},
			HealthProbe:     types.HealthProbe{Kind: types.ProbeTCP, Port: 5555},
			Footprint:       types.ResourceFootprint{MinRAMGb: 0.5, RecRAMGb: 1, MinDiskGb: 1, MinCPU: 0.5},
			DefaultPorts:    map[string]int{"stratum": 5555},
			ImageRef:        "onemorebsmith/kaspa-stratum-bridge:1.2.1",
			StartupPhase:    3,
		},
		{
			ID:              "kaspa-wallet",
			ContainerName:   "kaspa-wallet",
			OwningProfileID: "wallet-app",
			Dependencies:    []string{"kaspad"},
			HealthProbe:     types.HealthProbe{Kind: types.ProbeHTTP, Port: 8188, Path: "/"},
			Footprint:       types.ResourceFootprint{MinRAMGb: 0.5, RecRAMGb: 1, MinDiskGb: 2, MinCPU: 0.5},
			DefaultPorts:    map[string]int{"http": 8188},
			ImageRef:        "kaspa-aio/web-wallet:0.8.4",
			StartupPhase:    3,
		},
	}
}
