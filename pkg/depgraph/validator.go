package depgraph

import (
	"fmt"
	"sort"

	"github.com/kaspa-aio/controller/pkg/catalog"
)

// ErrorKind classifies a selection validation error
type ErrorKind string

const (
	ErrMissingPrerequisite ErrorKind = "MissingPrerequisite"
	ErrConflict            ErrorKind = "Conflict"
	ErrUnknownProfile      ErrorKind = "UnknownProfile"
)

// WarningKind classifies a selection validation warning
type WarningKind string

const (
	WarnBelowRecommendedRAM  WarningKind = "BelowRecommendedRAM"
	WarnBelowRecommendedDisk WarningKind = "BelowRecommendedDisk"
	WarnDockerMemoryBelow    WarningKind = "DockerMemoryBelowRequired"
	WarnSharedResourcesUsed  WarningKind = "SharedResourcesUsed"
)

// ValidationError is one structured selection error
type ValidationError struct {
	Kind          ErrorKind `json:"kind"`
	Subject       string    `json:"subject"`
	RequiresAnyOf []string  `json:"requiresAnyOf,omitempty"`
	ConflictsWith string    `json:"conflictsWith,omitempty"`
	Message       string    `json:"message"`
}

// ValidationWarning is one advisory finding
type ValidationWarning struct {
	Kind    WarningKind `json:"kind"`
	Message string      `json:"message"`
}

// ServiceResource is the per-service line of the combined breakdown
type ServiceResource struct {
	ServiceID string  `json:"serviceId"`
	Shared    bool    `json:"shared"`
	MinRAMGb  float64 `json:"minRAMgb"`
	RecRAMGb  float64 `json:"recRAMgb"`
	MinDiskGb float64 `json:"minDiskGb"`
	MinCPU    float64 `json:"minCpu"`
}

// CombinedResources is the deduplicated resource total of a selection
type CombinedResources struct {
	Services  []ServiceResource `json:"services"`
	MinRAMGb  float64           `json:"minRAMgb"`
	RecRAMGb  float64           `json:"recRAMgb"`
	MinDiskGb float64           `json:"minDiskGb"`
	MinCPU    float64           `json:"minCpu"`
}

// StartupPhase is one phase of the computed startup ordering
type StartupPhase struct {
	Phase    int      `json:"phase"`
	Services []string `json:"services"`
}

// HostResources describes the host the selection would run on. Zero values
// mean unknown and suppress the corresponding warnings.
type HostResources struct {
	TotalRAMGb          float64
	FreeDiskGb          float64
	DockerMemoryLimitGb float64
}

// Result is the outcome of validating a selection
type Result struct {
	Valid        bool                `json:"valid"`
	Errors       []ValidationError   `json:"errors"`
	Warnings     []ValidationWarning `json:"warnings"`
	Combined     CombinedResources   `json:"combined"`
	StartupOrder []StartupPhase      `json:"startupOrder"`
	Recommendations []string         `json:"recommendations,omitempty"`
}

// recommendations is a bounded catalog of remediation texts keyed by failure
// kind; the validator returns them verbatim.
var recommendations = map[ErrorKind]string{
	ErrMissingPrerequisite: "Add one of the required node profiles to your selection, or select the archive node if you need full history.",
	ErrConflict:            "Remove one of the conflicting profiles; a host runs either the pruning node or the archive node, never both.",
}

var warningRecommendations = map[WarningKind]string{
	WarnBelowRecommendedRAM:  "Close other applications or add RAM; services will run but may swap under load.",
	WarnBelowRecommendedDisk: "Free disk space or mount a larger volume before installing.",
	WarnDockerMemoryBelow:    "Raise the container engine memory limit in its settings to at least the combined minimum.",
}

// Validate checks a selection of profile IDs against the catalog and computes
// the deduplicated combined resources and startup ordering. It is a pure
// function of its inputs.
func Validate(cat *catalog.Catalog, selection []string, host HostResources) Result {
	res := Result{
		Errors:   []ValidationError{},
		Warnings: []ValidationWarning{},
	}

	resolved := make([]string, 0, len(selection))
	selected := make(map[string]bool, len(selection))
	for _, id := range selection {
		rid := cat.Resolve(id)
		if !cat.HasProfile(rid) {
			res.Errors = append(res.Errors, ValidationError{
				Kind:    ErrUnknownProfile,
				Subject: id,
				Message: fmt.Sprintf("profile %q does not exist", id),
			})
			continue
		}
		if !selected[rid] {
			selected[rid] = true
			resolved = append(resolved, rid)
		}
	}

	for _, pid := range resolved {
		p, _ := cat.GetProfile(pid)

		if len(p.Prerequisites) > 0 {
			satisfied := false
			for _, pre := range p.Prerequisites {
				if selected[pre] {
					satisfied = true
					break
				}
			}
			if !satisfied {
				res.Errors = append(res.Errors, ValidationError{
					Kind:          ErrMissingPrerequisite,
					Subject:       pid,
					RequiresAnyOf: append([]string(nil), p.Prerequisites...),
					Message:       fmt.Sprintf("%s requires one of %v", p.DisplayName, p.Prerequisites),
				})
			}
		}

		for _, conflict := range p.Conflicts {
			// Report each conflicting pair once, from the lexically smaller side.
			if selected[conflict] && pid < conflict {
				res.Errors = append(res.Errors, ValidationError{
					Kind:          ErrConflict,
					Subject:       pid,
					ConflictsWith: conflict,
					Message:       fmt.Sprintf("%s cannot be installed together with %s", pid, conflict),
				})
			}
		}
	}

	res.Combined = combinedResources(cat, resolved)
	res.StartupOrder = startupOrder(cat, resolved)

	if sharedCount(cat, resolved) > 0 {
		res.Warnings = append(res.Warnings, ValidationWarning{
			Kind:    WarnSharedResourcesUsed,
			Message: "selection reuses shared services (reverse proxy, dashboard, database); they are counted once",
		})
	}
	res.Warnings = append(res.Warnings, hostWarnings(res.Combined, host)...)

	for _, e := range res.Errors {
		if rec, ok := recommendations[e.Kind]; ok {
			res.Recommendations = appendUnique(res.Recommendations, rec)
		}
	}
	for _, w := range res.Warnings {
		if rec, ok := warningRecommendations[w.Kind]; ok {
			res.Recommendations = appendUnique(res.Recommendations, rec)
		}
	}

	res.Valid = len(res.Errors) == 0
	return res
}

// combinedResources sums footprints over the deduplicated union of services;
// a shared service contributes exactly once however many profiles select it.
func combinedResources(cat *catalog.Catalog, selection []string) CombinedResources {
	shared := make(map[string]bool)
	for _, pid := range selection {
		p, _ := cat.GetProfile(pid)
		for _, sid := range p.SharedServices {
			shared[sid] = true
		}
	}

	svcs, err := cat.ServicesFor(selection)
	if err != nil {
		return CombinedResources{Services: []ServiceResource{}}
	}

	combined := CombinedResources{Services: make([]ServiceResource, 0, len(svcs))}
	for _, svc := range svcs {
		combined.Services = append(combined.Services, ServiceResource{
			ServiceID: svc.ID,
			Shared:    shared[svc.ID],
			MinRAMGb:  svc.Footprint.MinRAMGb,
			RecRAMGb:  svc.Footprint.RecRAMGb,
			MinDiskGb: svc.Footprint.MinDiskGb,
			MinCPU:    svc.Footprint.MinCPU,
		})
		combined.MinRAMGb += svc.Footprint.MinRAMGb
		combined.RecRAMGb += svc.Footprint.RecRAMGb
		combined.MinDiskGb += svc.Footprint.MinDiskGb
		combined.MinCPU += svc.Footprint.MinCPU
	}
	return combined
}

// startupOrder partitions the selected services into phases 1..3 and sorts
// each phase topologically by declared dependencies.
func startupOrder(cat *catalog.Catalog, selection []string) []StartupPhase {
	svcs, err := cat.ServicesFor(selection)
	if err != nil {
		return nil
	}

	byPhase := map[int][]string{}
	for _, svc := range svcs {
		phase := cat.ServicePhase(svc.ID)
		byPhase[phase] = append(byPhase[phase], svc.ID)
	}

	graph := NewGraph(svcs)
	var out []StartupPhase
	for phase := 1; phase <= 3; phase++ {
		members := byPhase[phase]
		if len(members) == 0 {
			continue
		}
		ordered, err := graph.Sort(members)
		if err != nil {
			// Catalog load rejects cycles; an unsortable phase cannot happen
			// with a loaded catalog, but fall back to a stable order anyway.
			sort.Strings(members)
			ordered = members
		}
		out = append(out, StartupPhase{Phase: phase, Services: ordered})
	}
	return out
}

// FlattenOrder returns the phase ordering as a single dependency-ordered list.
func FlattenOrder(phases []StartupPhase) []string {
	var out []string
	for _, p := range phases {
		out = append(out, p.Services...)
	}
	return out
}

func sharedCount(cat *catalog.Catalog, selection []string) int {
	refs := make(map[string]int)
	for _, pid := range selection {
		p, err := cat.GetProfile(pid)
		if err != nil {
			continue
		}
		for _, sid := range p.SharedServices {
			refs[sid]++
		}
	}
	n := 0
	for _, c := range refs {
		if c > 1 {
			n++
		}
	}
	return n
}

func hostWarnings(combined CombinedResources, host HostResources) []ValidationWarning {
	var out []ValidationWarning
	if host.TotalRAMGb > 0 && host.TotalRAMGb < combined.RecRAMGb {
		out = append(out, ValidationWarning{
			Kind: WarnBelowRecommendedRAM,
			Message: fmt.Sprintf("host has %.1f GB RAM, %.1f GB recommended",
				host.TotalRAMGb, combined.RecRAMGb),
		})
	}
	if host.FreeDiskGb > 0 && host.FreeDiskGb < combined.MinDiskGb {
		out = append(out, ValidationWarning{
			Kind: WarnBelowRecommendedDisk,
			Message: fmt.Sprintf("host has %.1f GB free disk, %.1f GB required",
				host.FreeDiskGb, combined.MinDiskGb),
		})
	}
	if host.DockerMemoryLimitGb > 0 && host.DockerMemoryLimitGb < combined.MinRAMGb {
		out = append(out, ValidationWarning{
			Kind: WarnDockerMemoryBelow,
			Message: fmt.Sprintf("container engine memory limit %.1f GB is below the combined minimum %.1f GB",
				host.DockerMemoryLimitGb, combined.MinRAMGb),
		})
	}
	return out
}

func appendUnique(set []string, v string) []string {
	for _, s := range set {
		if s == v {
			return set
		}
	}
	return append(set, v)
}
