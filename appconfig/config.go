// Package appconfig materializes the runtime configuration of a component
// instance and publishes it to the registry.
//
// A configuration is built from the component's static parameters, the DMaaP
// connection entries supplied by the operator, and one downstream binding per
// declared interface resolved against the instance directory. It is stored
// under three sibling keys: the configuration itself, the list of instances it
// depends on (":rel"), and the DMaaP sidecar (":dmaap").
package appconfig

import (
	"maps"

	"github.com/google/uuid"

	"github.com/c360/onboard/discovery"
	"github.com/c360/onboard/errors"
	"github.com/c360/onboard/naming"
)

// Reserved group names in a grouped configuration.
const (
	GroupStreamsPublishes  = "streams_publishes"
	GroupStreamsSubscribes = "streams_subscribes"
	GroupServicesCalls     = "services_calls"
)

// Groups lists the reserved groups in output order.
var Groups = []string{GroupStreamsPublishes, GroupStreamsSubscribes, GroupServicesCalls}

// KeyInfo classifies one config key.
type KeyInfo struct {
	Group string `json:"group"`
	Type  string `json:"type,omitempty"`
}

// ConfigKeyMap maps config keys to their declared role.
type ConfigKeyMap map[string]KeyInfo

// DMaaPMap holds operator supplied DMaaP entries by config key. Each entry
// is an object carrying at least "dmaap_info".
type DMaaPMap map[string]map[string]any

// DMaaPInfoField is the entry field replaced by a binding marker.
const DMaaPInfoField = "dmaap_info"

// DMaaPMarker returns the binding marker "<<key>>" resolved later by the
// config binding service.
func DMaaPMarker(key string) string {
	return "<<" + key + ">>"
}

// CreateRequest is the input of CreateConfig.
type CreateRequest struct {
	User       string
	Component  naming.Ref
	Params     map[string]any
	Interfaces discovery.InterfaceMap
	Directory  *discovery.Directory
	DMaaP      DMaaPMap
	// InstanceSuffix is generated when empty.
	InstanceSuffix string
	Force          bool
}

// Materialized is a configuration ready to be published.
type Materialized struct {
	Keys        naming.Keys
	Config      map[string]any
	Rels        []string
	DMaaP       map[string]any
	Diagnostics []discovery.Diagnostic
}

// Instance returns the instance name, which is also the config key.
func (m *Materialized) Instance() string {
	return m.Keys.Config
}

// CreateConfig builds the configuration of one component instance.
//
// DMaaP entries are applied before interfaces are resolved, and resolution
// never overwrites a key that is already set, so a DMaaP entry shadows an
// interface with the same config key. Resolution errors abort the build and no
// partial configuration is returned.
func CreateConfig(req CreateRequest) (*Materialized, error) {
	if req.User == "" {
		return nil, errors.Invalid("appconfig", "CreateConfig", "user is required")
	}
	suffix := req.InstanceSuffix
	if suffix == "" {
		suffix = uuid.NewString()
	}

	m := &Materialized{
		Keys:   naming.KeysFor(req.User, suffix, req.Component.Name, req.Component.Version),
		Config: maps.Clone(req.Params),
		Rels:   []string{},
		DMaaP:  make(map[string]any, len(req.DMaaP)),
	}
	if m.Config == nil {
		m.Config = make(map[string]any)
	}

	for key, entry := range req.DMaaP {
		bound := deepCopyMap(entry)
		if bound == nil {
			bound = make(map[string]any)
		}
		bound[DMaaPInfoField] = DMaaPMarker(key)
		m.Config[key] = bound
		m.DMaaP[key] = deepCopy(entry[DMaaPInfoField])
	}

	taken := func(key string) bool {
		_, ok := m.Config[key]
		return ok
	}
	resolved, err := discovery.ResolveAll(req.Component, req.Interfaces, req.Directory, req.Force, taken)
	if err != nil {
		return nil, err
	}
	for _, res := range resolved {
		key := res.ConfigKey
		m.Diagnostics = append(m.Diagnostics, res.Diagnostics...)
		if value, ok := res.Binding(req.Force); ok {
			m.Config[key] = value
		}
		m.Rels = append(m.Rels, res.Instances...)
	}
	return m, nil
}

// GroupConfig moves every key classified in keys into its group. Unclassified
// keys stay at the top level. The three reserved groups are always present.
func GroupConfig(config map[string]any, keys ConfigKeyMap) map[string]any {
	grouped := make(map[string]any, len(config)+len(Groups))
	groups := make(map[string]map[string]any, len(Groups))
	for _, g := range Groups {
		groups[g] = make(map[string]any)
	}
	for k, v := range config {
		info, ok := keys[k]
		if !ok {
			grouped[k] = v
			continue
		}
		if g, known := groups[info.Group]; known {
			g[k] = v
		}
	}
	for name, g := range groups {
		grouped[name] = g
	}
	return grouped
}

// ApplyInputs overwrites config entries with deployment-time inputs and
// returns config.
func ApplyInputs(config, inputs map[string]any) map[string]any {
	if config == nil {
		config = make(map[string]any, len(inputs))
	}
	maps.Copy(config, inputs)
	return config
}

func deepCopy(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return deepCopyMap(t)
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = deepCopy(e)
		}
		return out
	default:
		return v
	}
}

func deepCopyMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = deepCopy(v)
	}
	return out
}
