package config

import (
	"fmt"
	"sort"
	"strings"

	"github.com/c360/onboard/errors"
)

// ReservedProfile names the currently active profile and cannot be created,
// updated or deleted.
const ReservedProfile = "active"

var profileFields = map[string]func(*Profile, string){
	"registry_backend":       func(p *Profile, v string) { p.RegistryBackend = v },
	"consul_host":            func(p *Profile, v string) { p.ConsulHost = v },
	"nats_url":               func(p *Profile, v string) { p.NATSURL = v },
	"config_binding_service": func(p *Profile, v string) { p.ConfigBindingService = v },
	"cdap_broker":            func(p *Profile, v string) { p.CDAPBroker = v },
	"docker_host":            func(p *Profile, v string) { p.DockerHost = v },
}

// ProfileNames returns the profile names in sorted order.
func (c *Config) ProfileNames() []string {
	return sortedNames(c.Profiles)
}

// Profile returns the named profile. ReservedProfile resolves to the active one.
func (c *Config) Profile(name string) (Profile, error) {
	if name == ReservedProfile {
		name = c.ActiveProfile
	}
	p, ok := c.Profiles[name]
	if !ok {
		return Profile{}, errors.WrapInvalid(errors.ErrProfileNotFound, "Config", "Profile", fmt.Sprintf("lookup %q", name))
	}
	return p, nil
}

// Active returns the active profile.
func (c *Config) Active() (Profile, error) {
	return c.Profile(ReservedProfile)
}

// CreateProfile adds a new profile built from field updates.
func (c *Config) CreateProfile(name string, fields map[string]string) error {
	if err := assertNotReserved(name, "CreateProfile"); err != nil {
		return err
	}
	if _, ok := c.Profiles[name]; ok {
		return errors.WrapInvalid(errors.ErrDuplicateEntry, "Config", "CreateProfile", fmt.Sprintf("profile %q", name))
	}
	var p Profile
	if err := applyFields(&p, fields, false); err != nil {
		return err
	}
	if c.Profiles == nil {
		c.Profiles = map[string]Profile{}
	}
	c.Profiles[name] = p
	return nil
}

// UpdateProfile overwrites the given fields of an existing profile.
func (c *Config) UpdateProfile(name string, fields map[string]string) error {
	if err := assertNotReserved(name, "UpdateProfile"); err != nil {
		return err
	}
	p, ok := c.Profiles[name]
	if !ok {
		return errors.WrapInvalid(errors.ErrProfileNotFound, "Config", "UpdateProfile", fmt.Sprintf("lookup %q", name))
	}
	if err := applyFields(&p, fields, true); err != nil {
		return err
	}
	c.Profiles[name] = p
	return nil
}

// DeleteProfile removes a profile. The active profile cannot be deleted; in
// that case false is returned and nothing changes.
func (c *Config) DeleteProfile(name string) (bool, error) {
	if err := assertNotReserved(name, "DeleteProfile"); err != nil {
		return false, err
	}
	if _, ok := c.Profiles[name]; !ok {
		return false, errors.WrapInvalid(errors.ErrProfileNotFound, "Config", "DeleteProfile", fmt.Sprintf("lookup %q", name))
	}
	if name == c.ActiveProfile {
		return false, nil
	}
	delete(c.Profiles, name)
	return true, nil
}

// ActivateProfile makes an existing profile the active one.
func (c *Config) ActivateProfile(name string) error {
	if _, ok := c.Profiles[name]; !ok || name == ReservedProfile {
		return errors.WrapInvalid(errors.ErrProfileNotFound, "Config", "ActivateProfile",
			fmt.Sprintf("profile %q, select from %s", name, strings.Join(c.ProfileNames(), ", ")))
	}
	c.ActiveProfile = name
	return nil
}

func assertNotReserved(name, method string) error {
	if name == ReservedProfile {
		return errors.WrapInvalid(errors.ErrReservedName, "Config", method, fmt.Sprintf("profile %q", name))
	}
	return nil
}

func applyFields(p *Profile, fields map[string]string, requireAny bool) error {
	if requireAny && len(fields) == 0 {
		return errors.Invalid("Config", "applyFields", "no update key-value pairs were provided")
	}
	var unknown []string
	for k := range fields {
		if _, ok := profileFields[k]; !ok {
			unknown = append(unknown, k)
		}
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		return errors.Invalid("Config", "applyFields", fmt.Sprintf("invalid profile keys %v", unknown))
	}
	for k, v := range fields {
		profileFields[k](p, v)
	}
	return nil
}
