package catalog

import (
	"fmt"
	"sort"

	"github.com/kaspa-aio/controller/pkg/errdefs"
	"github.com/kaspa-aio/controller/pkg/types"
)

// Catalog is the static registry of profiles and service definitions. It is
// loaded once at startup and read-only thereafter.
type Catalog struct {
	profiles map[string]*types.Profile
	services map[string]*types.ServiceDefinition
	aliases  map[string]string // legacy profile ID -> current profile ID
	ordered  []string          // profile IDs in declaration order
}

// Load builds and validates a catalog from declarations.
func Load(profiles []*types.Profile, services []*types.ServiceDefinition, aliases map[string]string) (*Catalog, error) {
	c := &Catalog{
		profiles: make(map[string]*types.Profile, len(profiles)),
		services: make(map[string]*types.ServiceDefinition, len(services)),
		aliases:  make(map[string]string, len(aliases)),
	}

	for _, svc := range services {
		if _, dup := c.services[svc.ID]; dup {
			return nil, errdefs.New(errdefs.KindCatalogInvalid, "duplicate service %q", svc.ID)
		}
		if svc.ContainerName == "" {
			svc.ContainerName = svc.ID
		}
		c.services[svc.ID] = svc
	}

	for _, p := range profiles {
		if _, dup := c.profiles[p.ID]; dup {
			return nil, errdefs.New(errdefs.KindCatalogInvalid, "duplicate profile %q", p.ID)
		}
		c.profiles[p.ID] = p
		c.ordered = append(c.ordered, p.ID)
	}

	for legacy, current := range aliases {
		c.aliases[legacy] = current
	}

	if err := c.validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// validate checks referential integrity of the declared graphs.
func (c *Catalog) validate() error {
	for _, p := range c.profiles {
		if p.StartupOrder < 1 || p.StartupOrder > 3 {
			return errdefs.New(errdefs.KindCatalogInvalid,
				"profile %q has startup order %d, want 1-3", p.ID, p.StartupOrder)
		}
		for _, sid := range p.Services {
			if _, ok := c.services[sid]; !ok {
				return errdefs.New(errdefs.KindCatalogInvalid,
					"profile %q references unknown service %q", p.ID, sid)
			}
		}
		for _, sid := range p.SharedServices {
			if _, ok := c.services[sid]; !ok {
				return errdefs.New(errdefs.KindCatalogInvalid,
					"profile %q declares unknown shared service %q", p.ID, sid)
			}
		}
		for _, pre := range p.Prerequisites {
			if _, ok := c.profiles[pre]; !ok {
				return errdefs.New(errdefs.KindCatalogInvalid,
					"profile %q requires unknown profile %q", p.ID, pre)
			}
		}
		for _, conflict := range p.Conflicts {
			peer, ok := c.profiles[conflict]
			if !ok {
				return errdefs.New(errdefs.KindCatalogInvalid,
					"profile %q conflicts with unknown profile %q", p.ID, conflict)
			}
			if !contains(peer.Conflicts, p.ID) {
				return errdefs.New(errdefs.KindCatalogInvalid,
					"conflict between %q and %q is not declared symmetrically", p.ID, conflict)
			}
		}
	}

	for _, svc := range c.services {
		if _, ok := c.profiles[svc.OwningProfileID]; !ok {
			return errdefs.New(errdefs.KindCatalogInvalid,
				"service %q owned by unknown profile %q", svc.ID, svc.OwningProfileID)
		}
		for _, dep := range svc.Dependencies {
			if _, ok := c.services[dep]; !ok {
				return errdefs.New(errdefs.KindCatalogInvalid,
					"service %q depends on unknown service %q", svc.ID, dep)
			}
		}
	}

	for legacy, current := range c.aliases {
		if _, ok := c.profiles[current]; !ok {
			return errdefs.New(errdefs.KindCatalogInvalid,
				"alias %q points at unknown profile %q", legacy, current)
		}
	}

	if err := c.checkPrerequisiteCycles(); err != nil {
		return err
	}
	return c.checkDependencyCycles()
}

// checkPrerequisiteCycles rejects cyclic prerequisite chains between profiles.
func (c *Catalog) checkPrerequisiteCycles() error {
	const (
		white = 0
		grey  = 1
		black = 2
	)
	color := make(map[string]int, len(c.profiles))

	var visit func(id string) error
	visit = func(id string) error {
		color[id] = grey
		for _, pre := range c.profiles[id].Prerequisites {
			switch color[pre] {
			case grey:
				return errdefs.New(errdefs.KindCatalogInvalid,
					"prerequisite cycle through profile %q", pre)
			case white:
				if err := visit(pre); err != nil {
					return err
				}
			}
		}
		color[id] = black
		return nil
	}

	for id := range c.profiles {
		if color[id] == white {
			if err := visit(id); err != nil {
				return err
			}
		}
	}
	return nil
}

// checkDependencyCycles rejects cyclic service dependency declarations.
func (c *Catalog) checkDependencyCycles() error {
	indegree := make(map[string]int, len(c.services))
	for id := range c.services {
		indegree[id] = 0
	}
	for _, svc := range c.services {
		for range svc.Dependencies {
			indegree[svc.ID]++
		}
	}

	queue := make([]string, 0, len(c.services))
	for id, deg := range indegree {
		if deg == 0 {
			queue = append(queue, id)
		}
	}

	visited := 0
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		visited++
		for _, svc := range c.services {
			if contains(svc.Dependencies, id) {
				indegree[svc.ID]--
				if indegree[svc.ID] == 0 {
					queue = append(queue, svc.ID)
				}
			}
		}
	}

	if visited != len(c.services) {
		return errdefs.New(errdefs.KindCatalogInvalid, "service dependency graph contains a cycle")
	}
	return nil
}

// Resolve maps a possibly-legacy profile ID to its current ID.
func (c *Catalog) Resolve(id string) string {
	if current, ok := c.aliases[id]; ok {
		return current
	}
	return id
}

// ListProfiles returns all profiles in declaration order.
func (c *Catalog) ListProfiles() []*types.Profile {
	out := make([]*types.Profile, 0, len(c.ordered))
	for _, id := range c.ordered {
		out = append(out, c.profiles[id])
	}
	return out
}

// GetProfile looks up a profile, transparently following aliases.
func (c *Catalog) GetProfile(id string) (*types.Profile, error) {
	p, ok := c.profiles[c.Resolve(id)]
	if !ok {
		return nil, errdefs.New(errdefs.KindNotFound, "unknown profile %q", id)
	}
	return p, nil
}

// HasProfile reports whether the profile (or an alias of it) exists.
func (c *Catalog) HasProfile(id string) bool {
	_, ok := c.profiles[c.Resolve(id)]
	return ok
}

// GetService looks up a service definition.
func (c *Catalog) GetService(id string) (*types.ServiceDefinition, error) {
	svc, ok := c.services[id]
	if !ok {
		return nil, errdefs.New(errdefs.KindNotFound, "unknown service %q", id)
	}
	return svc, nil
}

// ListServices returns all service definitions sorted by ID.
func (c *Catalog) ListServices() []*types.ServiceDefinition {
	out := make([]*types.ServiceDefinition, 0, len(c.services))
	for _, svc := range c.services {
		out = append(out, svc)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// FindByContainer resolves a container name back to its service definition.
func (c *Catalog) FindByContainer(name string) (*types.ServiceDefinition, error) {
	for _, svc := range c.services {
		if svc.ContainerName == name {
			return svc, nil
		}
	}
	return nil, errdefs.New(errdefs.KindNotFound, "no service uses container %q", name)
}

// ServicePhase returns the startup phase of a service: its own declared phase
// or, when unset, the owning profile's startup order.
func (c *Catalog) ServicePhase(id string) int {
	svc, ok := c.services[id]
	if !ok {
		return 0
	}
	if svc.StartupPhase != 0 {
		return svc.StartupPhase
	}
	if p, ok := c.profiles[svc.OwningProfileID]; ok {
		return p.StartupOrder
	}
	return 0
}

// ServicesFor returns the deduplicated union of services referenced by the
// given profiles, in stable order.
func (c *Catalog) ServicesFor(profileIDs []string) ([]*types.ServiceDefinition, error) {
	seen := make(map[string]bool)
	var out []*types.ServiceDefinition
	for _, pid := range profileIDs {
		p, err := c.GetProfile(pid)
		if err != nil {
			return nil, err
		}
		for _, sid := range p.Services {
			if seen[sid] {
				continue
			}
			seen[sid] = true
			out = append(out, c.services[sid])
		}
	}
	return out, nil
}

// OwnersOfKey returns profiles whose ConfigKeys contain the given key.
func (c *Catalog) OwnersOfKey(key string) []*types.Profile {
	var out []*types.Profile
	for _, id := range c.ordered {
		if contains(c.profiles[id].ConfigKeys, key) {
			out = append(out, c.profiles[id])
		}
	}
	return out
}

func contains(set []string, v string) bool {
	for _, s := range set {
		if s == v {
			return true
		}
	}
	return false
}

// String implements fmt.Stringer for debugging.
func (c *Catalog) String() string {
	return fmt.Sprintf("catalog(%d profiles, %d services)", len(c.profiles), len(c.services))
}
