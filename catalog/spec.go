package catalog

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/c360/onboard/errors"
	"github.com/c360/onboard/naming"
	"github.com/c360/onboard/schema"
)

// Component types.
const (
	TypeDocker = "docker"
	TypeCDAP   = "cdap"
)

// Artifact types.
const (
	ArtifactDockerImage = "docker image"
	ArtifactJar         = "jar"
)

// Self identifies a component or data format.
type Self struct {
	Name          string `json:"name"`
	Version       string `json:"version"`
	Description   string `json:"description"`
	ComponentType string `json:"component_type,omitempty"`
}

// Ref returns the catalog identity.
func (s Self) Ref() naming.Ref { return naming.NewRef(s.Name, s.Version) }

// FormatRef names one data format version.
type FormatRef struct {
	Format  string `json:"format"`
	Version string `json:"version"`
}

func (f FormatRef) String() string { return f.Format + ":" + f.Version }

// FormatPair is the request and response format of a service.
type FormatPair struct {
	Request  FormatRef
	Response FormatRef
}

// Stream is one publishes or subscribes entry.
type Stream struct {
	Format    string `json:"format"`
	Version   string `json:"version"`
	ConfigKey string `json:"config_key,omitempty"`
	Route     string `json:"route,omitempty"`
	Type      string `json:"type"`
}

// FormatRef returns the data format carried by the stream.
func (s Stream) FormatRef() FormatRef { return FormatRef{Format: s.Format, Version: s.Version} }

// IsHTTP reports whether the stream is point to point over http or https.
func (s Stream) IsHTTP() bool { return strings.Contains(s.Type, "http") }

// IsMessageRouter reports whether the stream is a message router topic.
func (s Stream) IsMessageRouter() bool {
	return s.Type == "message router" || s.Type == "message_router"
}

// IsDataRouter reports whether the stream is a data router feed.
func (s Stream) IsDataRouter() bool {
	return s.Type == "data router" || s.Type == "data_router"
}

// Streams groups a component's stream entries.
type Streams struct {
	Publishes  []Stream `json:"publishes"`
	Subscribes []Stream `json:"subscribes"`
}

// ServiceCall is one services.calls entry.
type ServiceCall struct {
	ConfigKey string    `json:"config_key"`
	Request   FormatRef `json:"request"`
	Response  FormatRef `json:"response"`
}

// Pair returns the request and response formats.
func (c ServiceCall) Pair() FormatPair { return FormatPair{Request: c.Request, Response: c.Response} }

// ServiceProvide is one services.provides entry. Docker components set Route;
// CDAP components set the service name, endpoint and verb.
type ServiceProvide struct {
	Route           string    `json:"route,omitempty"`
	Request         FormatRef `json:"request"`
	Response        FormatRef `json:"response"`
	ServiceName     string    `json:"service_name,omitempty"`
	ServiceEndpoint string    `json:"service_endpoint,omitempty"`
	Verb            string    `json:"verb,omitempty"`
}

// Pair returns the request and response formats.
func (p ServiceProvide) Pair() FormatPair { return FormatPair{Request: p.Request, Response: p.Response} }

// Services groups a component's service entries.
type Services struct {
	Calls    []ServiceCall    `json:"calls"`
	Provides []ServiceProvide `json:"provides"`
}

// Parameter is one docker component parameter.
type Parameter struct {
	Name                string `json:"name"`
	Value               any    `json:"value"`
	Description         string `json:"description"`
	Type                string `json:"type,omitempty"`
	Required            *bool  `json:"required,omitempty"`
	DesignerEditable    bool   `json:"designer_editable"`
	SourcedAtDeployment bool   `json:"sourced_at_deployment"`
	PolicyEditable      bool   `json:"policy_editable"`
	EntrySchema         []any  `json:"entry_schema,omitempty"`
	Constraints         []any  `json:"constraints,omitempty"`
}

// CDAPParameter is a name and value pair of a CDAP parameter section.
type CDAPParameter struct {
	Name        string `json:"name"`
	Value       any    `json:"value"`
	Description string `json:"description,omitempty"`
}

// ProgramPreference holds preferences for one CDAP program.
type ProgramPreference struct {
	ProgramType string          `json:"program_type"`
	ProgramID   string          `json:"program_id"`
	ProgramPref []CDAPParameter `json:"program_pref"`
}

// CDAPParameters is the parameters section of a CDAP component.
type CDAPParameters struct {
	AppConfig          []CDAPParameter     `json:"app_config,omitempty"`
	AppPreferences     []CDAPParameter     `json:"app_preferences,omitempty"`
	ProgramPreferences []ProgramPreference `json:"program_preferences,omitempty"`
}

// Parameters is either a docker parameter list or a CDAP parameter object.
type Parameters struct {
	List []Parameter
	CDAP *CDAPParameters
}

// MarshalJSON encodes the populated form.
func (p Parameters) MarshalJSON() ([]byte, error) {
	if p.CDAP != nil {
		return json.Marshal(p.CDAP)
	}
	if p.List == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(p.List)
}

// UnmarshalJSON decodes an array as a docker list and an object as CDAP
// parameters.
func (p *Parameters) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '{' {
		p.CDAP = new(CDAPParameters)
		return json.Unmarshal(trimmed, p.CDAP)
	}
	return json.Unmarshal(trimmed, &p.List)
}

// Artifact is a deployable artifact of a component.
type Artifact struct {
	URI  string `json:"uri"`
	Type string `json:"type"`
}

// ComponentSpec is a component specification.
type ComponentSpec struct {
	Self       Self            `json:"self"`
	Streams    Streams         `json:"streams"`
	Services   Services        `json:"services"`
	Parameters Parameters      `json:"parameters"`
	Artifacts  []Artifact      `json:"artifacts"`
	Auxilary   json.RawMessage `json:"auxilary"`
}

// Ref returns the component identity.
func (s *ComponentSpec) Ref() naming.Ref { return s.Self.Ref() }

func (s *ComponentSpec) artifact(kind string) (string, error) {
	for _, a := range s.Artifacts {
		if a.Type == kind {
			return a.URI, nil
		}
	}
	return "", errors.WrapInvalid(errors.ErrMissingEntry, "ComponentSpec", "artifact",
		fmt.Sprintf("%s has no %s artifact", s.Ref(), kind))
}

// DockerImage returns the first docker image artifact.
func (s *ComponentSpec) DockerImage() (string, error) { return s.artifact(ArtifactDockerImage) }

// Jar returns the first jar artifact.
func (s *ComponentSpec) Jar() (string, error) { return s.artifact(ArtifactJar) }

// Params returns the configuration parameters: name to value for docker
// components, and the normalized broker form for CDAP components.
func (s *ComponentSpec) Params() map[string]any {
	if s.Self.ComponentType == TypeCDAP {
		return NormalizeCDAPParams(s.Parameters.CDAP)
	}
	params := make(map[string]any, len(s.Parameters.List))
	for _, p := range s.Parameters.List {
		params[p.Name] = p.Value
	}
	return params
}

// NormalizeCDAPParams converts CDAP parameter sections into the form the CDAP
// broker expects. Absent sections become empty values.
func NormalizeCDAPParams(p *CDAPParameters) map[string]any {
	if p == nil {
		p = &CDAPParameters{}
	}
	toMap := func(params []CDAPParameter) map[string]any {
		m := make(map[string]any, len(params))
		for _, param := range params {
			m[param.Name] = param.Value
		}
		return m
	}

	prefs := make([]any, 0, len(p.ProgramPreferences))
	for _, pp := range p.ProgramPreferences {
		prefs = append(prefs, map[string]any{
			"program_id":   pp.ProgramID,
			"program_type": pp.ProgramType,
			"program_pref": toMap(pp.ProgramPref),
		})
	}
	return map[string]any{
		"app_config":          toMap(p.AppConfig),
		"app_preferences":     toMap(p.AppPreferences),
		"program_preferences": prefs,
	}
}

// Healthcheck configures how a docker component reports health.
type Healthcheck struct {
	Type     string `json:"type"`
	Interval string `json:"interval,omitempty"`
	Timeout  string `json:"timeout,omitempty"`
	Endpoint string `json:"endpoint,omitempty"`
	Script   string `json:"script,omitempty"`
}

// Volume binds a host path into a container.
type Volume struct {
	Host struct {
		Path string `json:"path"`
	} `json:"host"`
	Container struct {
		Bind string `json:"bind"`
		Mode string `json:"mode,omitempty"`
	} `json:"container"`
}

// DockerConfig is the auxilary section of a docker component.
type DockerConfig struct {
	Healthcheck Healthcheck    `json:"healthcheck"`
	Ports       []string       `json:"ports,omitempty"`
	Volumes     []Volume       `json:"volumes,omitempty"`
	LogInfo     map[string]any `json:"log_info,omitempty"`
}

// Program names one CDAP program.
type Program struct {
	ProgramType string `json:"program_type"`
	ProgramID   string `json:"program_id"`
}

// CDAPConfig is the auxilary section of a CDAP component.
type CDAPConfig struct {
	StreamName         string         `json:"streamname"`
	ArtifactName       string         `json:"artifact_name"`
	ArtifactVersion    string         `json:"artifact_version"`
	Namespace          string         `json:"namespace,omitempty"`
	Programs           []Program      `json:"programs"`
	ProgramPreferences []any          `json:"program_preferences,omitempty"`
	AppPreferences     map[string]any `json:"app_preferences,omitempty"`
}

// DockerConfig decodes the auxilary section and fills in the healthcheck
// interval and timeout defaults. Defaults are applied at read time so stored
// specs keep what their authors wrote.
func (s *ComponentSpec) DockerConfig() (DockerConfig, error) {
	var raw map[string]any
	if err := json.Unmarshal(s.Auxilary, &raw); err != nil {
		return DockerConfig{}, errors.WrapInvalid(err, "ComponentSpec", "DockerConfig", "decode auxilary")
	}

	if hc, ok := raw["healthcheck"].(map[string]any); ok {
		var def string
		switch hc["type"] {
		case "http", "https":
			def = "docker_healthcheck_http"
		case "script", "docker":
			def = "docker_healthcheck_script"
		}
		if def != "" {
			if props, ok := schema.MustLoad(schema.ComponentSpec).Properties(def); ok {
				raw["healthcheck"] = schema.ApplyDefaults(props, hc)
			}
		}
	}

	var cfg DockerConfig
	if err := remarshal(raw, &cfg); err != nil {
		return DockerConfig{}, errors.WrapInvalid(err, "ComponentSpec", "DockerConfig", "decode auxilary")
	}
	return cfg, nil
}

// CDAPConfig decodes the auxilary section of a CDAP component.
func (s *ComponentSpec) CDAPConfig() (CDAPConfig, error) {
	var cfg CDAPConfig
	if err := json.Unmarshal(s.Auxilary, &cfg); err != nil {
		return CDAPConfig{}, errors.WrapInvalid(err, "ComponentSpec", "CDAPConfig", "decode auxilary")
	}
	return cfg, nil
}

// FormatSpec is a data format specification.
type FormatSpec struct {
	Self              Self            `json:"self"`
	DataFormatVersion string          `json:"dataformatversion"`
	Reference         json.RawMessage `json:"reference,omitempty"`
	JSONSchema        json.RawMessage `json:"jsonschema,omitempty"`
	DelimitedSchema   json.RawMessage `json:"delimitedschema,omitempty"`
	Unstructured      json.RawMessage `json:"unstructured,omitempty"`
}

// Ref returns the format identity.
func (f *FormatSpec) Ref() naming.Ref { return f.Self.Ref() }

// ValidateComponent checks spec against the component schema and the rules
// the schema cannot express.
func ValidateComponent(spec *ComponentSpec) error {
	if err := schema.MustLoad(schema.ComponentSpec).Validate(spec); err != nil {
		return err
	}
	return checkComponentRules(spec)
}

func checkComponentRules(spec *ComponentSpec) error {
	if spec.Self.ComponentType == TypeCDAP {
		for _, s := range spec.Streams.Subscribes {
			if s.IsDataRouter() {
				return errors.WrapInvalid(errors.ErrInvalidSpec, "catalog", "ValidateComponent",
					"cdap component as data router subscriber is not supported")
			}
		}
	}
	return nil
}

// ValidateFormat checks spec against the data format schema.
func ValidateFormat(spec *FormatSpec) error {
	return schema.MustLoad(schema.DataFormat).Validate(spec)
}

// ParseComponentSpec decodes and validates a JSON or YAML component spec.
// Unknown fields are rejected.
func ParseComponentSpec(data []byte) (*ComponentSpec, error) {
	var spec ComponentSpec
	if err := parseDocument(data, schema.ComponentSpec, &spec); err != nil {
		return nil, err
	}
	if err := checkComponentRules(&spec); err != nil {
		return nil, err
	}
	return &spec, nil
}

// ParseFormatSpec decodes and validates a JSON or YAML data format spec.
func ParseFormatSpec(data []byte) (*FormatSpec, error) {
	var spec FormatSpec
	if err := parseDocument(data, schema.DataFormat, &spec); err != nil {
		return nil, err
	}
	return &spec, nil
}

// LoadSpecFile reads a component spec from a .json, .yaml or .yml file.
func LoadSpecFile(path string) (*ComponentSpec, error) {
	data, err := readSpecFile(path)
	if err != nil {
		return nil, err
	}
	return ParseComponentSpec(data)
}

// LoadFormatFile reads a data format spec from a .json, .yaml or .yml file.
func LoadFormatFile(path string) (*FormatSpec, error) {
	data, err := readSpecFile(path)
	if err != nil {
		return nil, err
	}
	return ParseFormatSpec(data)
}

func readSpecFile(path string) ([]byte, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json", ".yaml", ".yml":
	default:
		return nil, errors.Invalid("catalog", "LoadSpecFile", fmt.Sprintf("unsupported spec file extension: %s", path))
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.WrapInvalid(err, "catalog", "LoadSpecFile", "read "+path)
	}
	return data, nil
}

// parseDocument decodes data as JSON, falling back to YAML, validates the
// generic document against the named schema and then decodes it into out.
func parseDocument(data []byte, schemaName string, out any) error {
	var doc any
	if err := json.Unmarshal(data, &doc); err != nil {
		if yerr := yaml.Unmarshal(data, &doc); yerr != nil {
			return errors.WrapInvalid(errors.Join(errors.ErrParsingFailed, err, yerr), "catalog", "parse", "decode spec")
		}
		// Round trip through JSON so YAML scalars take their JSON types.
		var normalized any
		if err := remarshal(doc, &normalized); err != nil {
			return errors.WrapInvalid(errors.Join(errors.ErrParsingFailed, err), "catalog", "parse", "decode spec")
		}
		doc = normalized
	}

	if err := schema.MustLoad(schemaName).Validate(doc); err != nil {
		return err
	}
	if err := remarshal(doc, out); err != nil {
		return errors.WrapInvalid(errors.Join(errors.ErrParsingFailed, err), "catalog", "parse", "decode spec")
	}
	return nil
}

func remarshal(in, out any) error {
	data, err := json.Marshal(in)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, out)
}
