// Package config loads onboard settings from layered JSON files and the
// environment, and manages named connection profiles.
//
// Loading configuration with layer merging:
//
//	loader := config.NewLoader()
//	loader.AddLayer("/etc/onboard/config.json")
//	loader.AddLayer(userConfigPath) // overrides the system layer
//	loader.EnableValidation(true)
//
//	cfg, err := loader.Load()
//
// Environment variables prefixed with ONBOARD_ override file values, for
// example ONBOARD_USER or ONBOARD_ACTIVE_PROFILE.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/c360/onboard/errors"
	"github.com/c360/onboard/pkg/tlsutil"
)

// Registry backends a profile can select.
const (
	BackendConsul = "consul"
	BackendNATS   = "nats"
	BackendMemory = "memory"
)

// Profile is a named set of connection settings for one environment.
type Profile struct {
	RegistryBackend      string `json:"registry_backend"`
	ConsulHost           string `json:"consul_host"`
	NATSURL              string `json:"nats_url,omitempty"`
	ConfigBindingService string `json:"config_binding_service"`
	CDAPBroker           string `json:"cdap_broker"`
	DockerHost           string `json:"docker_host"`

	// TLS applies to the CDAP broker and docker daemon connections.
	TLS tlsutil.ClientConfig `json:"tls,omitzero"`
}

// EnvFields returns the settings exported to deployed containers, keyed by
// their JSON names.
func (p Profile) EnvFields() map[string]string {
	return map[string]string{
		"consul_host":            p.ConsulHost,
		"config_binding_service": p.ConfigBindingService,
		"cdap_broker":            p.CDAPBroker,
		"docker_host":            p.DockerHost,
	}
}

// Backend returns the registry backend, defaulting to consul.
func (p Profile) Backend() string {
	if p.RegistryBackend == "" {
		return BackendConsul
	}
	return p.RegistryBackend
}

// HealthConfig bounds post-deployment health verification.
type HealthConfig struct {
	MaxWait      time.Duration `json:"max_wait"`
	PollInterval time.Duration `json:"poll_interval"`
}

// UndeployConfig tunes component teardown.
type UndeployConfig struct {
	// Parallelism bounds instances torn down at once. 1 is sequential.
	Parallelism int `json:"parallelism"`
}

// CatalogConfig locates the component catalog database.
type CatalogConfig struct {
	DBPath string `json:"db_path"`
}

// Config is the complete onboard configuration.
type Config struct {
	User          string             `json:"user"`
	ActiveProfile string             `json:"active_profile"`
	Profiles      map[string]Profile `json:"profiles"`
	Catalog       CatalogConfig      `json:"catalog"`
	Health        HealthConfig       `json:"health"`
	Undeploy      UndeployConfig     `json:"undeploy"`
}

// Validate checks the configuration for consistency.
func (c *Config) Validate() error {
	if c.User == "" {
		return errors.WrapInvalid(errors.ErrMissingConfig, "Config", "Validate", "user is required")
	}
	if strings.Contains(c.User, ".") {
		return errors.Invalid("Config", "Validate", fmt.Sprintf("user %q must not contain '.'", c.User))
	}
	if c.Health.MaxWait <= 0 || c.Health.PollInterval <= 0 {
		return errors.Invalid("Config", "Validate", "health max_wait and poll_interval must be positive")
	}
	if c.Undeploy.Parallelism < 1 {
		return errors.Invalid("Config", "Validate", "undeploy parallelism must be at least 1")
	}
	if _, ok := c.Profiles[ReservedProfile]; ok {
		return errors.WrapInvalid(errors.ErrReservedName, "Config", "Validate", "profile name "+ReservedProfile)
	}
	if _, ok := c.Profiles[c.ActiveProfile]; !ok {
		return errors.WrapInvalid(errors.ErrProfileNotFound, "Config", "Validate",
			fmt.Sprintf("active profile %q", c.ActiveProfile))
	}
	for name, p := range c.Profiles {
		switch p.Backend() {
		case BackendConsul, BackendMemory:
		case BackendNATS:
			if p.NATSURL == "" {
				return errors.Invalid("Config", "Validate", fmt.Sprintf("profile %q: nats_url is required", name))
			}
		default:
			return errors.Invalid("Config", "Validate",
				fmt.Sprintf("profile %q: unknown registry_backend %q", name, p.RegistryBackend))
		}
	}
	return nil
}

// Clone returns a deep copy.
func (c *Config) Clone() *Config {
	clone := *c
	clone.Profiles = make(map[string]Profile, len(c.Profiles))
	for k, v := range c.Profiles {
		clone.Profiles[k] = v
	}
	return &clone
}

// String returns a JSON representation of the config
func (c *Config) String() string {
	data, _ := json.MarshalIndent(c, "", "  ")
	return string(data)
}

// Save writes the configuration to path as indented JSON.
func (c *Config) Save(path string) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return errors.Wrap(err, "Config", "Save", "marshal")
	}
	return safeWriteFile(path, data)
}

// Loader handles configuration loading with layers and overrides
type Loader struct {
	layers     []string
	validation bool
	envPrefix  string
}

// NewLoader creates a new configuration loader
func NewLoader() *Loader {
	return &Loader{
		layers:    []string{},
		envPrefix: "ONBOARD",
	}
}

// AddLayer adds a configuration file layer
func (l *Loader) AddLayer(path string) {
	l.layers = append(l.layers, path)
}

// EnableValidation enables or disables configuration validation
func (l *Loader) EnableValidation(enable bool) {
	l.validation = enable
}

// LoadFile loads configuration from a single file
func (l *Loader) LoadFile(path string) (*Config, error) {
	l.layers = []string{path}
	return l.Load()
}

// Load loads and merges all configuration layers. Missing layer files are
// skipped so a fresh install starts from defaults.
func (l *Loader) Load() (*Config, error) {
	cfg := l.getDefaults()

	for _, path := range l.layers {
		if _, err := os.Stat(path); os.IsNotExist(err) {
			continue
		}
		raw, err := l.loadRawJSON(path)
		if err != nil {
			return nil, errors.WrapInvalid(err, "Loader", "Load", "load "+path)
		}
		cfg, err = l.mergeFromMap(cfg, raw)
		if err != nil {
			return nil, errors.WrapInvalid(err, "Loader", "Load", "merge "+path)
		}
	}

	if err := l.applyEnvOverrides(cfg); err != nil {
		return nil, err
	}

	if l.validation {
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

func (l *Loader) getDefaults() *Config {
	return &Config{
		User:          os.Getenv("USER"),
		ActiveProfile: "default",
		Profiles: map[string]Profile{
			"default": {
				RegistryBackend:      BackendConsul,
				ConsulHost:           "localhost:8500",
				ConfigBindingService: "config_binding_service",
				CDAPBroker:           "cdap_broker",
			},
		},
		Catalog: CatalogConfig{DBPath: "onboard.db"},
		Health: HealthConfig{
			MaxWait:      300 * time.Second,
			PollInterval: time.Second,
		},
		Undeploy: UndeployConfig{Parallelism: 1},
	}
}

func (l *Loader) loadRawJSON(path string) (map[string]any, error) {
	data, err := safeReadFile(path)
	if err != nil {
		return nil, err
	}
	if err := validateJSONDepth(data); err != nil {
		return nil, fmt.Errorf("invalid JSON structure: %w", err)
	}

	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, err
	}
	if err := parseDurations(raw); err != nil {
		return nil, err
	}
	return raw, nil
}

// parseDurations converts health duration strings to nanoseconds for json unmarshaling
func parseDurations(data map[string]any) error {
	h, ok := data["health"].(map[string]any)
	if !ok {
		return nil
	}
	for _, key := range []string{"max_wait", "poll_interval"} {
		s, ok := h[key].(string)
		if !ok {
			continue
		}
		d, err := time.ParseDuration(s)
		if err != nil {
			return fmt.Errorf("health.%s: %w", key, err)
		}
		h[key] = d.Nanoseconds()
	}
	return nil
}

// mergeFromMap merges configuration from a raw map, only overriding fields present in the map
func (l *Loader) mergeFromMap(base *Config, override map[string]any) (*Config, error) {
	baseJSON, err := json.Marshal(base)
	if err != nil {
		return nil, err
	}
	var baseMap map[string]any
	if err := json.Unmarshal(baseJSON, &baseMap); err != nil {
		return nil, err
	}

	mergedJSON, err := json.Marshal(deepMergeMaps(baseMap, override))
	if err != nil {
		return nil, err
	}
	var merged Config
	if err := json.Unmarshal(mergedJSON, &merged); err != nil {
		return nil, err
	}
	return &merged, nil
}

// deepMergeMaps recursively merges two maps, with override taking precedence
func deepMergeMaps(base, override map[string]any) map[string]any {
	result := make(map[string]any, len(base))
	for k, v := range base {
		result[k] = v
	}
	for k, v := range override {
		if v == nil {
			continue
		}
		if baseMap, ok := base[k].(map[string]any); ok {
			if overrideMap, ok := v.(map[string]any); ok {
				result[k] = deepMergeMaps(baseMap, overrideMap)
				continue
			}
		}
		result[k] = v
	}
	return result
}

func (l *Loader) applyEnvOverrides(cfg *Config) error {
	lookup := func(name string) (string, error) {
		key := l.envPrefix + "_" + name
		val := os.Getenv(key)
		return val, validateEnvVar(key, val)
	}

	if val, err := lookup("USER"); err != nil {
		return errors.WrapInvalid(err, "Loader", "applyEnvOverrides", "read env")
	} else if val != "" {
		cfg.User = val
	}
	if val, err := lookup("ACTIVE_PROFILE"); err != nil {
		return errors.WrapInvalid(err, "Loader", "applyEnvOverrides", "read env")
	} else if val != "" {
		cfg.ActiveProfile = val
	}
	if val, err := lookup("CATALOG_DB"); err != nil {
		return errors.WrapInvalid(err, "Loader", "applyEnvOverrides", "read env")
	} else if val != "" {
		cfg.Catalog.DBPath = val
	}
	if val, err := lookup("HEALTH_MAX_WAIT"); err != nil {
		return errors.WrapInvalid(err, "Loader", "applyEnvOverrides", "read env")
	} else if val != "" {
		d, err := time.ParseDuration(val)
		if err != nil {
			return errors.WrapInvalid(err, "Loader", "applyEnvOverrides", "parse "+l.envPrefix+"_HEALTH_MAX_WAIT")
		}
		cfg.Health.MaxWait = d
	}
	return nil
}

func sortedNames(profiles map[string]Profile) []string {
	names := make([]string, 0, len(profiles))
	for name := range profiles {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
