package discovery

import (
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/c360/onboard/errors"
	"github.com/c360/onboard/naming"
)

// InterfaceMap maps a config key to its compatible downstream component
// types, in declared order.
type InterfaceMap map[string][]naming.Ref

// Keys returns the config keys in sorted order.
func (m InterfaceMap) Keys() []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// DiagnosticKind classifies an advisory raised during resolution.
type DiagnosticKind int

const (
	// NoCompatible means no downstream component type is known for the key.
	NoCompatible DiagnosticKind = iota + 1
	// MultipleCompatible means several types are compatible and only the
	// first one is used.
	MultipleCompatible
	// NoInstances means the chosen type has no running instance and force
	// mode carried on without one.
	NoInstances
	// AmbiguousSpelling means the chosen type matched instances registered
	// under another spelling of its name.
	AmbiguousSpelling
)

func (k DiagnosticKind) String() string {
	switch k {
	case NoCompatible:
		return "no_compatible"
	case MultipleCompatible:
		return "multiple_compatible"
	case NoInstances:
		return "no_instances"
	case AmbiguousSpelling:
		return "ambiguous_spelling"
	default:
		return "unknown"
	}
}

// Diagnostic is an advisory attached to a successful resolution.
type Diagnostic struct {
	Kind       DiagnosticKind
	Component  naming.Ref
	ConfigKey  string
	Candidates []naming.Ref
	Chosen     *naming.Ref
}

func (d Diagnostic) String() string {
	switch d.Kind {
	case NoCompatible:
		return fmt.Sprintf("component %q config_key %q has no compatible downstream components",
			d.Component, d.ConfigKey)
	case MultipleCompatible:
		names := make([]string, len(d.Candidates))
		for i, c := range d.Candidates {
			names[i] = c.String()
		}
		return fmt.Sprintf("component %q config_key %q has multiple compatible downstream components [%s]; "+
			"only %q will be connected", d.Component, d.ConfigKey, strings.Join(names, ", "), d.Chosen)
	case NoInstances:
		return fmt.Sprintf("component %q config_key %q is compatible with downstream component %q "+
			"however there are no instances available for connecting", d.Component, d.ConfigKey, d.Chosen)
	case AmbiguousSpelling:
		return fmt.Sprintf("component %q config_key %q binds downstream component %q through instances "+
			"registered under a different spelling of its name", d.Component, d.ConfigKey, d.Chosen)
	default:
		return "unknown diagnostic"
	}
}

// LogDiagnostics writes each diagnostic as a warning.
func LogDiagnostics(logger *slog.Logger, diags []Diagnostic) {
	if logger == nil {
		logger = slog.Default()
	}
	for _, d := range diags {
		logger.Warn(d.String(), "kind", d.Kind.String(), "config_key", d.ConfigKey)
	}
}

// ResolveRequest is the input for resolving one config key.
type ResolveRequest struct {
	Component  naming.Ref
	ConfigKey  string
	Candidates []naming.Ref
	Directory  *Directory
	Force      bool
}

// Resolution is the outcome for one config key. Chosen is nil when no
// compatible type exists.
type Resolution struct {
	ConfigKey   string
	Chosen      *naming.Ref
	Instances   []string
	Diagnostics []Diagnostic
}

// Binding returns the configuration value for the key and whether the key is
// bound at all. A resolved type with instances binds to its placeholder. A
// key without instances binds to the empty placeholder, which only happens in
// force mode. A key without a compatible type stays unbound unless force is
// set.
func (r Resolution) Binding(force bool) (string, bool) {
	switch {
	case r.Chosen == nil:
		if force {
			return naming.EmptyPlaceholder, true
		}
		return "", false
	case len(r.Instances) == 0:
		return naming.EmptyPlaceholder, true
	default:
		return r.Chosen.Placeholder(), true
	}
}

// Resolve picks the downstream type for one config key. The first candidate
// in declared order is always chosen, even when a later one has instances.
// A chosen type with no instances yields a *errors.NoDownstreamError unless
// Force is set.
func Resolve(req ResolveRequest) (Resolution, error) {
	res := Resolution{ConfigKey: req.ConfigKey}

	if len(req.Candidates) == 0 {
		res.Diagnostics = append(res.Diagnostics, Diagnostic{
			Kind:      NoCompatible,
			Component: req.Component,
			ConfigKey: req.ConfigKey,
		})
		return res, nil
	}

	chosen := req.Candidates[0]
	res.Chosen = &chosen
	if len(req.Candidates) > 1 {
		res.Diagnostics = append(res.Diagnostics, Diagnostic{
			Kind:       MultipleCompatible,
			Component:  req.Component,
			ConfigKey:  req.ConfigKey,
			Candidates: append([]naming.Ref(nil), req.Candidates...),
			Chosen:     &chosen,
		})
	}

	res.Instances = req.Directory.Lookup(chosen)
	if len(res.Instances) > 0 {
		if req.Directory.Ambiguous(chosen) {
			res.Diagnostics = append(res.Diagnostics, Diagnostic{
				Kind:      AmbiguousSpelling,
				Component: req.Component,
				ConfigKey: req.ConfigKey,
				Chosen:    &chosen,
			})
		}
		return res, nil
	}
	if !req.Force {
		return Resolution{}, &errors.NoDownstreamError{
			Component: req.Component.String(),
			ConfigKey: req.ConfigKey,
			Chosen:    chosen.String(),
		}
	}
	res.Instances = []string{}
	res.Diagnostics = append(res.Diagnostics, Diagnostic{
		Kind:      NoInstances,
		Component: req.Component,
		ConfigKey: req.ConfigKey,
		Chosen:    &chosen,
	})
	return res, nil
}

// ResolveAll resolves every key of m in sorted order, leaving out the keys
// for which skip reports true. A nil skip resolves every key. The first error
// aborts the whole resolution.
func ResolveAll(component naming.Ref, m InterfaceMap, dir *Directory, force bool, skip func(key string) bool) ([]Resolution, error) {
	out := make([]Resolution, 0, len(m))
	for _, key := range m.Keys() {
		if skip != nil && skip(key) {
			continue
		}
		res, err := Resolve(ResolveRequest{
			Component:  component,
			ConfigKey:  key,
			Candidates: m[key],
			Directory:  dir,
			Force:      force,
		})
		if err != nil {
			return nil, err
		}
		out = append(out, res)
	}
	return out, nil
}
