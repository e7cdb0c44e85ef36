package catalog

import (
	"context"
	"database/sql"
	"slices"
	"strings"

	"github.com/c360/onboard/appconfig"
	"github.com/c360/onboard/discovery"
	"github.com/c360/onboard/errors"
	"github.com/c360/onboard/naming"
)

// NeighborFunc reports whether a catalog component may be considered as a
// downstream candidate. A nil NeighborFunc accepts every component.
type NeighborFunc func(ref naming.Ref) bool

// Neighbors accepts the components that have instances in dir.
func Neighbors(dir *discovery.Directory) NeighborFunc {
	if dir == nil {
		return nil
	}
	return func(ref naming.Ref) bool {
		return len(dir.Lookup(ref)) > 0
	}
}

// Discovery holds what is needed to materialize a component's configuration.
type Discovery struct {
	Params     map[string]any
	Interfaces discovery.InterfaceMap
	// MRKeys and DRKeys are the config keys of message router and data
	// router streams.
	MRKeys []string
	DRKeys []string
}

// GetDiscovery returns the parameters and interface map of a stored
// component. Http publishes are matched with components subscribing to the
// same format; calls are matched with components providing the same format
// pair. The component never lists itself.
func (s *Store) GetDiscovery(ctx context.Context, name, version string, neighbors NeighborFunc) (map[string]any, discovery.InterfaceMap, error) {
	return discover(ctx, s.db, name, version, neighbors)
}

// GetDiscoveryFromSpec runs discovery for a prospective spec that may not be
// in the catalog. The spec is written inside a transaction that is always
// rolled back.
func (s *Store) GetDiscoveryFromSpec(ctx context.Context, user string, spec *ComponentSpec, neighbors NeighborFunc) (Discovery, error) {
	if err := ValidateComponent(spec); err != nil {
		return Discovery{}, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Discovery{}, errors.WrapTransient(err, "Store", "GetDiscoveryFromSpec", "begin transaction")
	}
	defer func() { _ = tx.Rollback() }()

	ref := spec.Ref()
	update := true
	if _, err := getComponent(ctx, tx, ref.Name, ref.Version); errors.Is(err, errors.ErrMissingEntry) {
		update = false
	} else if err != nil {
		return Discovery{}, err
	}
	if _, err := s.buildComponent(ctx, tx, user, spec, update); err != nil {
		return Discovery{}, err
	}

	params, interfaces, err := discover(ctx, tx, ref.Name, ref.Version, neighbors)
	if err != nil {
		return Discovery{}, err
	}
	mr, dr := dmaapKeys(spec)
	return Discovery{Params: params, Interfaces: interfaces, MRKeys: mr, DRKeys: dr}, nil
}

// DiscoveryForDMaaP returns the message router and data router config keys of
// a stored component, publishes before subscribes.
func (s *Store) DiscoveryForDMaaP(ctx context.Context, name, version string) (mr, dr []string, err error) {
	spec, err := s.ComponentSpec(ctx, name, version)
	if err != nil {
		return nil, nil, err
	}
	mr, dr = dmaapKeys(spec)
	return mr, dr, nil
}

func dmaapKeys(spec *ComponentSpec) (mr, dr []string) {
	streams := append(slices.Clone(spec.Streams.Publishes), spec.Streams.Subscribes...)
	for _, st := range streams {
		switch {
		case st.IsMessageRouter():
			mr = append(mr, st.ConfigKey)
		case st.IsDataRouter():
			dr = append(dr, st.ConfigKey)
		}
	}
	return mr, dr
}

func discover(ctx context.Context, q querier, name, version string, neighbors NeighborFunc) (map[string]any, discovery.InterfaceMap, error) {
	e, err := getComponent(ctx, q, name, version)
	if err != nil {
		return nil, nil, err
	}
	spec, err := decodeComponent(e)
	if err != nil {
		return nil, nil, err
	}

	interfaces := make(discovery.InterfaceMap)
	for _, pub := range spec.Streams.Publishes {
		if !pub.IsHTTP() {
			continue
		}
		fid, err := formatID(ctx, q, pub.FormatRef())
		if err != nil {
			return nil, nil, err
		}
		refs, err := candidates(ctx, q, `
			SELECT c.name, c.version FROM components c
			JOIN subscribed x ON x.component_id = c.id
			WHERE x.format_id = ? AND c.id != ?`, fid, e.ID)
		if err != nil {
			return nil, nil, err
		}
		interfaces[pub.ConfigKey] = filterNeighbors(refs, neighbors)
	}

	for _, call := range spec.Services.Calls {
		pid, err := pairID(ctx, q, call.Pair(), false)
		if err != nil {
			return nil, nil, err
		}
		refs, err := candidates(ctx, q, `
			SELECT c.name, c.version FROM components c
			JOIN provided x ON x.component_id = c.id
			WHERE x.pair_id = ? AND c.id != ?`, pid, e.ID)
		if err != nil {
			return nil, nil, err
		}
		interfaces[call.ConfigKey] = filterNeighbors(refs, neighbors)
	}

	return spec.Params(), interfaces, nil
}

func candidates(ctx context.Context, q querier, query string, args ...any) ([]naming.Ref, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.WrapTransient(err, "Store", "candidates", "query components")
	}
	defer rows.Close()

	var refs []naming.Ref
	for rows.Next() {
		var name, version string
		if err := rows.Scan(&name, &version); err != nil {
			return nil, errors.WrapTransient(err, "Store", "candidates", "scan row")
		}
		refs = append(refs, naming.NewRef(name, version))
	}
	if err := rows.Err(); err != nil {
		return nil, errors.WrapTransient(err, "Store", "candidates", "iterate rows")
	}
	slices.SortFunc(refs, func(a, b naming.Ref) int {
		if c := strings.Compare(a.Name, b.Name); c != 0 {
			return c
		}
		return compareVersions(a.Version, b.Version)
	})
	return refs, nil
}

func filterNeighbors(refs []naming.Ref, neighbors NeighborFunc) []naming.Ref {
	out := make([]naming.Ref, 0, len(refs))
	for _, ref := range refs {
		if neighbors == nil || neighbors(ref) {
			out = append(out, ref)
		}
	}
	return out
}

// BuildConfigKeysMap classifies every config key of spec by group. Http
// subscribers have no config key and are skipped. Later groups win when a
// key repeats.
func BuildConfigKeysMap(spec *ComponentSpec) appconfig.ConfigKeyMap {
	keys := make(appconfig.ConfigKeyMap)
	for _, st := range spec.Streams.Subscribes {
		if st.ConfigKey != "" {
			keys[st.ConfigKey] = appconfig.KeyInfo{Group: appconfig.GroupStreamsSubscribes, Type: st.Type}
		}
	}
	for _, st := range spec.Streams.Publishes {
		keys[st.ConfigKey] = appconfig.KeyInfo{Group: appconfig.GroupStreamsPublishes, Type: st.Type}
	}
	for _, call := range spec.Services.Calls {
		keys[call.ConfigKey] = appconfig.KeyInfo{Group: appconfig.GroupServicesCalls}
	}
	return keys
}

// DataRouterSubscriberRoute returns the route of the data router subscriber
// bound to configKey.
func DataRouterSubscriberRoute(spec *ComponentSpec, configKey string) (string, error) {
	for _, st := range spec.Streams.Subscribes {
		if st.IsDataRouter() && st.ConfigKey == configKey {
			return st.Route, nil
		}
	}
	return "", errors.WrapInvalid(errors.ErrMissingEntry, "catalog", "DataRouterSubscriberRoute",
		"find data router subscriber for "+configKey)
}

// FilterInputs keeps the inputs of parameters sourced at deployment. Every
// such parameter must have an input.
func FilterInputs(inputs map[string]any, spec *ComponentSpec) (map[string]any, error) {
	filtered := make(map[string]any)
	var missing []string
	for _, p := range spec.Parameters.List {
		if !p.SourcedAtDeployment {
			continue
		}
		v, ok := inputs[p.Name]
		if !ok {
			missing = append(missing, p.Name)
			continue
		}
		filtered[p.Name] = v
	}
	if len(missing) > 0 {
		return nil, &errors.MissingInputsError{Keys: missing}
	}
	return filtered, nil
}

var _ querier = (*sql.Tx)(nil)
