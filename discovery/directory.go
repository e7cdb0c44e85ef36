// Package discovery finds the running instances of a user's components in the
// registry and resolves a component's declared interfaces to downstream
// component types.
//
// Instances are sourced from two places: configuration keys in the key-value
// store, which exist as soon as a deployment was attempted, and the service
// catalog, which holds everything that registered regardless of health. The
// union is filtered, parsed and grouped into a Directory keyed by component
// name and version.
package discovery

import (
	"context"
	"sort"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/c360/onboard/health"
	"github.com/c360/onboard/naming"
	"github.com/c360/onboard/registry"
)

// healthLookupLimit bounds concurrent health queries while building a directory.
const healthLookupLimit = 8

// Directory groups instance names by component type. Lookups compare on
// naming.Ref.Key so the dotted and dashed spellings of a name share one set.
// The zero value is empty and ready to use.
type Directory struct {
	entries map[string]*dirEntry
}

type dirEntry struct {
	ref       naming.Ref
	instances map[string]struct{}
}

// NewDirectory creates an empty directory.
func NewDirectory() *Directory {
	return &Directory{entries: make(map[string]*dirEntry)}
}

// Add records instance under ref. Adding the same instance twice is a no-op.
func (d *Directory) Add(ref naming.Ref, instance string) {
	if d.entries == nil {
		d.entries = make(map[string]*dirEntry)
	}
	key := ref.Key()
	e, ok := d.entries[key]
	if !ok {
		e = &dirEntry{ref: ref, instances: make(map[string]struct{})}
		d.entries[key] = e
	}
	e.instances[instance] = struct{}{}
}

// Lookup returns the sorted instances of ref, or nil.
func (d *Directory) Lookup(ref naming.Ref) []string {
	if d == nil {
		return nil
	}
	e, ok := d.entries[ref.Key()]
	if !ok || len(e.instances) == 0 {
		return nil
	}
	out := make([]string, 0, len(e.instances))
	for inst := range e.instances {
		out = append(out, inst)
	}
	sort.Strings(out)
	return out
}

// Ambiguous reports whether ref reaches instances that were recorded under
// a different spelling of its name, such as "a-b.c" meeting "a.b.c".
func (d *Directory) Ambiguous(ref naming.Ref) bool {
	if d == nil {
		return false
	}
	e, ok := d.entries[ref.Key()]
	return ok && !e.ref.SameSpelling(ref)
}

// Refs lists the component types present, ordered by key. The catalog uses
// these as the neighbor set when computing compatible downstream types.
func (d *Directory) Refs() []naming.Ref {
	if d == nil {
		return nil
	}
	keys := make([]string, 0, len(d.entries))
	for k := range d.entries {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	refs := make([]naming.Ref, 0, len(keys))
	for _, k := range keys {
		refs = append(refs, d.entries[k].ref)
	}
	return refs
}

// Instances returns every instance in the directory, sorted.
func (d *Directory) Instances() []string {
	if d == nil {
		return nil
	}
	var out []string
	for _, e := range d.entries {
		for inst := range e.instances {
			out = append(out, inst)
		}
	}
	sort.Strings(out)
	return out
}

// Len returns the number of component types.
func (d *Directory) Len() int {
	if d == nil {
		return 0
	}
	return len(d.entries)
}

// Merge adds every entry of other. Existing entries are augmented, never
// replaced.
func (d *Directory) Merge(other *Directory) {
	if other == nil {
		return
	}
	for _, e := range other.entries {
		for inst := range e.instances {
			d.Add(e.ref, inst)
		}
	}
}

// Filter decides whether an instance belongs in a directory.
type Filter func(ctx context.Context, instance string) (bool, error)

// All accepts every instance.
func All() Filter {
	return func(context.Context, string) (bool, error) { return true, nil }
}

// ListInstances returns every instance name owned by user, merged from the
// key-value store and the service catalog. Sibling keys such as ":rel" are
// reduced to their base name so a partially written configuration still
// surfaces its instance.
func ListInstances(ctx context.Context, reg registry.Registry, user string) ([]string, error) {
	prefix := user + "."
	seen := make(map[string]struct{})

	pairs, err := reg.List(ctx, prefix)
	if err != nil {
		return nil, err
	}
	for _, p := range pairs {
		seen[naming.BaseKey(p.Key)] = struct{}{}
	}

	services, err := reg.Services(ctx)
	if err != nil {
		return nil, err
	}
	for name := range services {
		if strings.HasPrefix(name, prefix) {
			seen[name] = struct{}{}
		}
	}

	out := make([]string, 0, len(seen))
	for name := range seen {
		out = append(out, name)
	}
	sort.Strings(out)
	return out, nil
}

// BuildDirectory lists the user's instances, keeps those accepted by filter,
// and groups them by component type. Names that do not follow the instance
// pattern are skipped.
func BuildDirectory(ctx context.Context, reg registry.Registry, user string, filter Filter) (*Directory, error) {
	if filter == nil {
		filter = All()
	}
	names, err := ListInstances(ctx, reg, user)
	if err != nil {
		return nil, err
	}

	parsed := make([]naming.InstanceName, 0, len(names))
	for _, name := range names {
		inst, ok := naming.ParseInstanceName(name)
		if !ok {
			continue
		}
		parsed = append(parsed, inst)
	}

	keep := make([]bool, len(parsed))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(healthLookupLimit)
	for i, inst := range parsed {
		i, inst := i, inst
		g.Go(func() error {
			ok, err := filter(gctx, inst.String())
			if err != nil {
				return err
			}
			keep[i] = ok
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	dir := NewDirectory()
	for i, inst := range parsed {
		if keep[i] {
			dir.Add(inst.Ref(), inst.String())
		}
	}
	return dir, nil
}

// UserInstances builds the directory for user and, when additionalUser is
// set, merges that user's instances in as well.
func UserInstances(ctx context.Context, reg registry.Registry, user, additionalUser string, filter Filter) (*Directory, error) {
	dir, err := BuildDirectory(ctx, reg, user, filter)
	if err != nil {
		return nil, err
	}
	if additionalUser == "" || additionalUser == user {
		return dir, nil
	}
	extra, err := BuildDirectory(ctx, reg, additionalUser, filter)
	if err != nil {
		return nil, err
	}
	dir.Merge(extra)
	return dir, nil
}

// HealthyInstances lists the healthy instances of one component. Either
// spelling of name matches.
func HealthyInstances(ctx context.Context, reg registry.Registry, user, name, version string) ([]string, error) {
	healthy, _, err := InstancesByHealth(ctx, reg, user, name, version)
	return healthy, err
}

// DefectiveInstances lists the instances of one component that are deployed
// but not healthy.
func DefectiveInstances(ctx context.Context, reg registry.Registry, user, name, version string) ([]string, error) {
	_, defective, err := InstancesByHealth(ctx, reg, user, name, version)
	return defective, err
}

// InstancesByHealth splits the instances of one component into healthy and
// defective from a single scan. Each instance is classified once, so it lands
// in exactly one of the two lists even when its health changes meanwhile.
func InstancesByHealth(ctx context.Context, reg registry.Registry, user, name, version string) (healthy, defective []string, err error) {
	dir, err := BuildDirectory(ctx, reg, user, All())
	if err != nil {
		return nil, nil, err
	}
	instances := dir.Lookup(naming.NewRef(name, version))

	states := make([]health.State, len(instances))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(healthLookupLimit)
	for i, inst := range instances {
		i, inst := i, inst
		g.Go(func() error {
			state, err := ClassifyHealth(gctx, reg, inst)
			states[i] = state
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}

	for i, inst := range instances {
		if states[i] == health.Healthy {
			healthy = append(healthy, inst)
		} else {
			defective = append(defective, inst)
		}
	}
	return healthy, defective, nil
}

// LookupInstance returns host:port of the first catalog entry for name, or an
// empty string when the service is not registered.
func LookupInstance(ctx context.Context, reg registry.Registry, name string) (string, error) {
	nodes, err := reg.ServiceNodes(ctx, name)
	if err != nil {
		return "", err
	}
	if len(nodes) == 0 {
		return "", nil
	}
	return nodes[0].HostPort(), nil
}
