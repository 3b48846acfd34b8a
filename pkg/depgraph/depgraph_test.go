package depgraph

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kaspa-aio/controller/pkg/catalog"
	"github.com/kaspa-aio/controller/pkg/errdefs"
	"github.com/kaspa-aio/controller/pkg/types"
)

func testCatalog(t *testing.T) *catalog.Catalog {
	t.Helper()

	profiles := []*types.Profile{
		{
			ID:             "kaspa-node",
			DisplayName:    "Kaspa Node",
			Services:       []string{"kaspad", "nginx-proxy", "dashboard"},
			SharedServices: []string{"nginx-proxy", "dashboard"},
			Conflicts:      []string{"kaspa-archive-node"},
			StartupOrder:   1,
		},
		{
			ID:             "kaspa-archive-node",
			DisplayName:    "Kaspa Archive Node",
			Services:       []string{"kaspad-archive", "nginx-proxy", "dashboard"},
			SharedServices: []string{"nginx-proxy", "dashboard"},
			Conflicts:      []string{"kaspa-node"},
			StartupOrder:   1,
		},
		{
			ID:             "kaspa-explorer-bundle",
			DisplayName:    "Kaspa Explorer",
			Services:       []string{"timescaledb", "indexer", "explorer", "nginx-proxy", "dashboard"},
			SharedServices: []string{"nginx-proxy", "dashboard"},
			Prerequisites:  []string{"kaspa-node", "kaspa-archive-node"},
			StartupOrder:   2,
		},
	}
	services := []*types.ServiceDefinition{
		{ID: "kaspad", OwningProfileID: "kaspa-node",
			Footprint: types.ResourceFootprint{MinRAMGb: 4, RecRAMGb: 8, MinDiskGb: 60, MinCPU: 2}},
		{ID: "kaspad-archive", OwningProfileID: "kaspa-archive-node",
			Footprint: types.ResourceFootprint{MinRAMGb: 8, RecRAMGb: 16, MinDiskGb: 400, MinCPU: 4}},
		{ID: "nginx-proxy", OwningProfileID: "kaspa-node",
			Footprint: types.ResourceFootprint{MinRAMGb: 0.1, RecRAMGb: 0.2, MinDiskGb: 0.1, MinCPU: 0.1}},
		{ID: "dashboard", OwningProfileID: "kaspa-node", Dependencies: []string{"nginx-proxy"},
			Footprint: types.ResourceFootprint{MinRAMGb: 0.2, RecRAMGb: 0.5, MinDiskGb: 0.2, MinCPU: 0.2}},
		{ID: "timescaledb", OwningProfileID: "kaspa-explorer-bundle",
			Footprint: types.ResourceFootprint{MinRAMGb: 2, RecRAMGb: 4, MinDiskGb: 100, MinCPU: 1}},
		{ID: "indexer", OwningProfileID: "kaspa-explorer-bundle", Dependencies: []string{"timescaledb"},
			Footprint: types.ResourceFootprint{MinRAMGb: 1, RecRAMGb: 2, MinDiskGb: 10, MinCPU: 1}},
		{ID: "explorer", OwningProfileID: "kaspa-explorer-bundle", Dependencies: []string{"indexer"},
			Footprint: types.ResourceFootprint{MinRAMGb: 0.5, RecRAMGb: 1, MinDiskGb: 1, MinCPU: 0.5}},
	}
	aliases := map[string]string{"node": "kaspa-node"}

	cat, err := catalog.Load(profiles, services, aliases)
	require.NoError(t, err)
	return cat
}

func TestSortDependenciesFirst(t *testing.T) {
	cat := testCatalog(t)
	svcs, err := cat.ServicesFor([]string{"kaspa-node", "kaspa-explorer-bundle"})
	require.NoError(t, err)

	g := NewGraph(svcs)
	order, err := g.Sort([]string{"explorer", "indexer", "timescaledb"})
	require.NoError(t, err)
	assert.Equal(t, []string{"timescaledb", "indexer", "explorer"}, order)
}

func TestSortBreaksTiesAlphabetically(t *testing.T) {
	g := NewGraph([]*types.ServiceDefinition{
		{ID: "c"}, {ID: "a"}, {ID: "b"},
	})
	order, err := g.Sort([]string{"c", "a", "b"})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, order)
}

func TestSortIgnoresEdgesOutsideSubset(t *testing.T) {
	g := NewGraph([]*types.ServiceDefinition{
		{ID: "indexer", Dependencies: []string{"timescaledb"}},
		{ID: "explorer", Dependencies: []string{"indexer"}},
	})
	// timescaledb is not in the subset; indexer must not wait for it.
	order, err := g.Sort([]string{"explorer", "indexer"})
	require.NoError(t, err)
	assert.Equal(t, []string{"indexer", "explorer"}, order)
}

func TestSortDetectsCycle(t *testing.T) {
	g := NewGraph([]*types.ServiceDefinition{
		{ID: "a", Dependencies: []string{"b"}},
		{ID: "b", Dependencies: []string{"a"}},
		{ID: "c"},
	})
	_, err := g.Sort([]string{"a", "b", "c"})
	require.Error(t, err)
	assert.True(t, errdefs.IsKind(err, errdefs.KindCircularDependency))
	assert.Equal(t, []string{"a", "b"}, errdefs.DetailsOf(err)["services"])
}

func TestReverseSortStopsDependentsFirst(t *testing.T) {
	cat := testCatalog(t)
	svcs, err := cat.ServicesFor([]string{"kaspa-explorer-bundle"})
	require.NoError(t, err)

	g := NewGraph(svcs)
	order, err := g.ReverseSort([]string{"timescaledb", "indexer", "explorer"})
	require.NoError(t, err)
	assert.Equal(t, []string{"explorer", "indexer", "timescaledb"}, order)
}

func TestMissingDependencies(t *testing.T) {
	g := NewGraph([]*types.ServiceDefinition{
		{ID: "indexer", Dependencies: []string{"timescaledb"}},
		{ID: "explorer", Dependencies: []string{"indexer"}},
	})
	missing := g.MissingDependencies([]string{"indexer", "explorer"})
	assert.Equal(t, map[string][]string{"indexer": {"timescaledb"}}, missing)
}

func TestValidateAcceptsNodeSelection(t *testing.T) {
	cat := testCatalog(t)
	res := Validate(cat, []string{"kaspa-node"}, HostResources{})
	assert.True(t, res.Valid)
	assert.Empty(t, res.Errors)
}

func TestValidateUnknownProfile(t *testing.T) {
	cat := testCatalog(t)
	res := Validate(cat, []string{"no-such-profile"}, HostResources{})
	require.Len(t, res.Errors, 1)
	assert.Equal(t, ErrUnknownProfile, res.Errors[0].Kind)
	assert.Equal(t, "no-such-profile", res.Errors[0].Subject)
	assert.False(t, res.Valid)
}

func TestValidateMissingPrerequisite(t *testing.T) {
	cat := testCatalog(t)
	res := Validate(cat, []string{"kaspa-explorer-bundle"}, HostResources{})
	require.Len(t, res.Errors, 1)
	assert.Equal(t, ErrMissingPrerequisite, res.Errors[0].Kind)
	assert.ElementsMatch(t, []string{"kaspa-node", "kaspa-archive-node"}, res.Errors[0].RequiresAnyOf)
	assert.NotEmpty(t, res.Recommendations)
}

func TestValidateAnyPrerequisiteSatisfies(t *testing.T) {
	cat := testCatalog(t)
	for _, node := range []string{"kaspa-node", "kaspa-archive-node"} {
		res := Validate(cat, []string{node, "kaspa-explorer-bundle"}, HostResources{})
		assert.True(t, res.Valid, "selection with %s should validate", node)
	}
}

func TestValidateConflictReportedOnce(t *testing.T) {
	cat := testCatalog(t)
	res := Validate(cat, []string{"kaspa-node", "kaspa-archive-node"}, HostResources{})
	require.Len(t, res.Errors, 1)
	assert.Equal(t, ErrConflict, res.Errors[0].Kind)
	assert.Equal(t, "kaspa-archive-node", res.Errors[0].Subject)
	assert.Equal(t, "kaspa-node", res.Errors[0].ConflictsWith)
}

func TestValidateResolvesAliasesAndDedupes(t *testing.T) {
	cat := testCatalog(t)
	res := Validate(cat, []string{"node", "kaspa-node"}, HostResources{})
	assert.True(t, res.Valid)

	// kaspad counted once despite the profile appearing twice.
	seen := 0
	for _, svc := range res.Combined.Services {
		if svc.ServiceID == "kaspad" {
			seen++
		}
	}
	assert.Equal(t, 1, seen)
}

func TestValidateCombinedCountsSharedOnce(t *testing.T) {
	cat := testCatalog(t)
	res := Validate(cat, []string{"kaspa-node", "kaspa-explorer-bundle"}, HostResources{})
	require.True(t, res.Valid)

	// kaspad 4 + nginx 0.1 + dashboard 0.2 + timescaledb 2 + indexer 1 + explorer 0.5
	assert.InDelta(t, 7.8, res.Combined.MinRAMGb, 0.001)

	shared := map[string]bool{}
	for _, svc := range res.Combined.Services {
		shared[svc.ServiceID] = svc.Shared
	}
	assert.True(t, shared["nginx-proxy"])
	assert.True(t, shared["dashboard"])
	assert.False(t, shared["kaspad"])

	var kinds []WarningKind
	for _, w := range res.Warnings {
		kinds = append(kinds, w.Kind)
	}
	assert.Contains(t, kinds, WarnSharedResourcesUsed)
}

func TestValidateStartupOrderPhases(t *testing.T) {
	cat := testCatalog(t)
	res := Validate(cat, []string{"kaspa-node", "kaspa-explorer-bundle"}, HostResources{})
	require.True(t, res.Valid)
	require.Len(t, res.StartupOrder, 2)

	assert.Equal(t, 1, res.StartupOrder[0].Phase)
	assert.Equal(t, []string{"kaspad", "nginx-proxy", "dashboard"}, res.StartupOrder[0].Services)

	assert.Equal(t, 2, res.StartupOrder[1].Phase)
	assert.Equal(t, []string{"timescaledb", "indexer", "explorer"}, res.StartupOrder[1].Services)

	assert.Equal(t,
		[]string{"kaspad", "nginx-proxy", "dashboard", "timescaledb", "indexer", "explorer"},
		FlattenOrder(res.StartupOrder))
}

func TestValidateHostWarnings(t *testing.T) {
	cat := testCatalog(t)

	tests := []struct {
		name string
		host HostResources
		want WarningKind
	}{
		{"ram below recommended", HostResources{TotalRAMGb: 4}, WarnBelowRecommendedRAM},
		{"disk below minimum", HostResources{FreeDiskGb: 10}, WarnBelowRecommendedDisk},
		{"engine limit below minimum", HostResources{DockerMemoryLimitGb: 2}, WarnDockerMemoryBelow},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := Validate(cat, []string{"kaspa-node"}, tt.host)
			assert.True(t, res.Valid, "warnings must not invalidate the selection")
			var kinds []WarningKind
			for _, w := range res.Warnings {
				kinds = append(kinds, w.Kind)
			}
			assert.Contains(t, kinds, tt.want)
			assert.NotEmpty(t, res.Recommendations)
		})
	}
}

func TestValidateUnknownHostSuppressesWarnings(t *testing.T) {
	cat := testCatalog(t)
	res := Validate(cat, []string{"kaspa-node"}, HostResources{})
	for _, w := range res.Warnings {
		assert.NotEqual(t, WarnBelowRecommendedRAM, w.Kind)
		assert.NotEqual(t, WarnBelowRecommendedDisk, w.Kind)
		assert.NotEqual(t, WarnDockerMemoryBelow, w.Kind)
	}
}
