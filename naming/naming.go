// Package naming maps component names and versions between their dotted form
// and the registry-safe dashed form, and derives instance names and registry keys.
//
// The dot to dash transform is not injective: "a-b.c" and "a.b-c" both become
// "a-b-c". Component identity is kept as a segment list internally and only
// flattened at the registry boundary. Comparisons go through Ref.Key, which
// compares on the flattened wire form so that both spellings of a name meet.
package naming

import (
	"fmt"
	"regexp"
	"strings"
)

// ToRegistrySafe replaces every dot with a dash.
func ToRegistrySafe(s string) string {
	return strings.ReplaceAll(s, ".", "-")
}

// FromRegistrySafe replaces every dash with a dot.
func FromRegistrySafe(s string) string {
	return strings.ReplaceAll(s, "-", ".")
}

// ComponentID is a structured component name.
type ComponentID struct {
	Segments []string
}

// ParseComponentID splits a dotted component name into segments.
func ParseComponentID(dotted string) ComponentID {
	if dotted == "" {
		return ComponentID{}
	}
	return ComponentID{Segments: strings.Split(dotted, ".")}
}

// ParseWireComponentID splits a registry-safe component name into segments.
// Every dash is taken as a separator, so dashes inside the original segments
// are not recovered.
func ParseWireComponentID(wire string) ComponentID {
	if wire == "" {
		return ComponentID{}
	}
	return ComponentID{Segments: strings.Split(wire, "-")}
}

// Dotted joins the segments with dots.
func (c ComponentID) Dotted() string {
	return strings.Join(c.Segments, ".")
}

// Wire joins the segments with dashes, the form used in registry keys.
func (c ComponentID) Wire() string {
	return strings.Join(c.Segments, "-")
}

// Equal compares segment by segment.
func (c ComponentID) Equal(other ComponentID) bool {
	if len(c.Segments) != len(other.Segments) {
		return false
	}
	for i := range c.Segments {
		if c.Segments[i] != other.Segments[i] {
			return false
		}
	}
	return true
}

// Ref identifies a component type by name and version.
type Ref struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// NewRef builds a Ref.
func NewRef(name, version string) Ref {
	return Ref{Name: name, Version: version}
}

// ID returns the structured form of the name.
func (r Ref) ID() ComponentID {
	return ParseComponentID(r.Name)
}

// Key is the canonical comparison key for a Ref.
func (r Ref) Key() string {
	return r.ID().Wire() + "@" + ToRegistrySafe(r.Version)
}

// SameSpelling reports whether r and other name the same component with the
// same segments. Two refs can share a Key without sharing a spelling.
func (r Ref) SameSpelling(other Ref) bool {
	return r.Version == other.Version && r.ID().Equal(other.ID())
}

// String renders name:version.
func (r Ref) String() string {
	return r.Name + ":" + r.Version
}

// Placeholder renders the downstream binding template {{version.component}}
// with both parts in registry-safe form.
func (r Ref) Placeholder() string {
	return "{{" + ToRegistrySafe(r.Version) + "." + r.ID().Wire() + "}}"
}

// EmptyPlaceholder is bound when force mode proceeds without a downstream.
const EmptyPlaceholder = "{{}}"

// ParseRef splits "name:version". A missing version yields an empty Version.
func ParseRef(s string) Ref {
	name, version, _ := strings.Cut(s, ":")
	return Ref{Name: name, Version: version}
}

var instanceRe = regexp.MustCompile(`^([^.]*)\.([^.]*)\.(\d+-\d+-\d+)\.(.*)$`)

// InstanceName is a deployed instance: user.suffix.version.component with
// version and component in registry-safe form.
type InstanceName struct {
	User      string
	Suffix    string
	Version   string
	Component string
}

// NewInstanceName builds an instance name from dotted name and version.
func NewInstanceName(user, suffix, name, version string) InstanceName {
	return InstanceName{
		User:      user,
		Suffix:    suffix,
		Version:   ToRegistrySafe(version),
		Component: ParseComponentID(name).Wire(),
	}
}

// ParseInstanceName parses s. ok is false when s does not follow the
// four-segment pattern.
func ParseInstanceName(s string) (InstanceName, bool) {
	m := instanceRe.FindStringSubmatch(s)
	if m == nil {
		return InstanceName{}, false
	}
	return InstanceName{User: m[1], Suffix: m[2], Version: m[3], Component: m[4]}, true
}

// String renders the instance name.
func (n InstanceName) String() string {
	return fmt.Sprintf("%s.%s.%s.%s", n.User, n.Suffix, n.Version, n.Component)
}

// ComponentID returns the structured component name of the instance.
func (n InstanceName) ComponentID() ComponentID {
	return ParseWireComponentID(n.Component)
}

// Ref returns the component type in dotted form.
func (n InstanceName) Ref() Ref {
	return Ref{Name: n.ComponentID().Dotted(), Version: FromRegistrySafe(n.Version)}
}

// Key suffixes for the sibling records of a configuration key.
const (
	RelsSuffix     = ":rel"
	DMaaPSuffix    = ":dmaap"
	ManifestSuffix = ":manifest"
)

// Keys is the registry key triple for one materialized configuration.
type Keys struct {
	Config string `json:"config"`
	Rels   string `json:"rels"`
	DMaaP  string `json:"dmaap"`
}

// KeysFor derives the key triple. name and version are given in dotted form.
func KeysFor(user, suffix, name, version string) Keys {
	return KeysFromConfigKey(NewInstanceName(user, suffix, name, version).String())
}

// KeysFromConfigKey derives the sibling keys of an existing config key.
func KeysFromConfigKey(configKey string) Keys {
	return Keys{
		Config: configKey,
		Rels:   RelsKey(configKey),
		DMaaP:  DMaaPKey(configKey),
	}
}

// All lists the triple in write order.
func (k Keys) All() []string {
	return []string{k.Config, k.Rels, k.DMaaP}
}

// RelsKey returns configKey + ":rel".
func RelsKey(configKey string) string { return configKey + RelsSuffix }

// DMaaPKey returns configKey + ":dmaap".
func DMaaPKey(configKey string) string { return configKey + DMaaPSuffix }

// ManifestKey returns configKey + ":manifest".
func ManifestKey(configKey string) string { return configKey + ManifestSuffix }

// BaseKey strips any ":suffix" from a registry key.
func BaseKey(key string) string {
	base, _, _ := strings.Cut(key, ":")
	return base
}

// DockerLoginsKey holds the registry credentials used when pulling images.
const DockerLoginsKey = "docker_plugin/docker_logins"
