package schema

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/onboard/errors"
)

const dockerSpec = `{
  "self": {
    "version": "1.0.0",
    "name": "asimov.component.kpi_anomaly",
    "description": "Classifies VNF KPI data as anomalous",
    "component_type": "docker"
  },
  "streams": {
    "subscribes": [
      {"format": "dcae.vnf.kpi", "version": "1.0.0", "route": "/data", "type": "http"},
      {"format": "std.format_one", "version": "1.0.0", "config_key": "sub2", "type": "message router"}
    ],
    "publishes": [
      {"format": "asimov.format.integerClassification", "version": "1.0.0", "config_key": "prediction", "type": "http"},
      {"format": "std.format_one", "version": "1.0.0", "config_key": "pub2", "type": "message router"}
    ]
  },
  "services": {
    "calls": [],
    "provides": [
      {
        "route": "/score-vnf",
        "request": {"format": "dcae.vnf.kpi", "version": "1.0.0"},
        "response": {"format": "asimov.format.integerClassification", "version": "1.0.0"}
      }
    ]
  },
  "parameters": [
    {
      "name": "threshold",
      "value": 0.75,
      "description": "Probability threshold to exceed to be anomalous",
      "designer_editable": false,
      "sourced_at_deployment": false,
      "policy_editable": false
    }
  ],
  "artifacts": [{"uri": "somedockercontainerpath", "type": "docker image"}],
  "auxilary": {"healthcheck": {"type": "http", "endpoint": "/health"}}
}`

const cdapSpec = `{
  "self": {"name": "std.cdap_comp", "version": "0.0.0", "description": "cdap test component", "component_type": "cdap"},
  "streams": {
    "publishes": [
      {"format": "std.format_one", "version": "1.0.0", "config_key": "pub1", "type": "http"}
    ],
    "subscribes": [
      {"format": "std.format_two", "version": "1.5.0", "route": "/sub1", "type": "http"}
    ]
  },
  "services": {
    "calls": [],
    "provides": [
      {
        "request": {"format": "std.format_one", "version": "1.0.0"},
        "response": {"format": "std.format_two", "version": "1.5.0"},
        "service_name": "baphomet",
        "service_endpoint": "rises",
        "verb": "GET"
      }
    ]
  },
  "parameters": {"app_config": [{"name": "a", "value": 1}]},
  "artifacts": [{"uri": "somecdapjarurl", "type": "jar"}],
  "auxilary": {
    "streamname": "who",
    "artifact_name": "HelloWorld",
    "artifact_version": "3.4.3",
    "programs": [{"program_type": "flows", "program_id": "WhoFlow"}],
    "namespace": "hw"
  }
}`

const formatSpec = `{
  "self": {
    "name": "asimov.format.integerClassification",
    "version": "1.0.0",
    "description": "Represents a single classification"
  },
  "dataformatversion": "1.0.0",
  "jsonschema": {"type": "object", "properties": {"classification": {"type": "string"}}}
}`

func decode(t *testing.T, s string) map[string]any {
	t.Helper()
	var m map[string]any
	require.NoError(t, json.Unmarshal([]byte(s), &m))
	return m
}

func TestValidate_Valid(t *testing.T) {
	require.NoError(t, MustLoad(ComponentSpec).Validate(decode(t, dockerSpec)))
	require.NoError(t, MustLoad(ComponentSpec).Validate(decode(t, cdapSpec)))
	require.NoError(t, MustLoad(DataFormat).Validate(decode(t, formatSpec)))
}

func TestValidate_DockerHealthchecks(t *testing.T) {
	s := MustLoad(ComponentSpec)
	tests := []struct {
		name        string
		healthcheck map[string]any
		valid       bool
	}{
		{"http", map[string]any{"type": "http", "endpoint": "/health", "interval": "15s", "timeout": "1s"}, true},
		{"script", map[string]any{"type": "script", "script": "curl something"}, true},
		{"empty", map[string]any{}, false},
		{"http without endpoint", map[string]any{"type": "http"}, false},
		{"http with script", map[string]any{"type": "http", "script": "huh"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			spec := decode(t, dockerSpec)
			spec["auxilary"] = map[string]any{"healthcheck": tt.healthcheck}
			err := s.Validate(spec)
			if tt.valid {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, errors.ErrInvalidSpec)
			assert.True(t, errors.IsInvalid(err))
		})
	}
}

func TestValidate_CDAPAuxilary(t *testing.T) {
	s := MustLoad(ComponentSpec)
	for _, aux := range []map[string]any{{}, {"YOU HAVE": "ALWAYS FAILED ME"}} {
		spec := decode(t, cdapSpec)
		spec["auxilary"] = aux
		assert.Error(t, s.Validate(spec))
	}
}

func TestValidate_ReportsEveryIssue(t *testing.T) {
	err := MustLoad(DataFormat).Validate(map[string]any{"self": map[string]any{"name": "x"}})
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, DataFormat, verr.Schema)
	assert.GreaterOrEqual(t, len(verr.Issues), 2)
}

func TestValidateDefinition(t *testing.T) {
	s := MustLoad(DMaaP)
	mr := map[string]any{"type": "message_router", "dmaap_info": map[string]any{"topic_url": "u"}}
	assert.NoError(t, s.ValidateDefinition("message_router", mr))
	assert.Error(t, s.ValidateDefinition("data_router_publisher", mr))

	err := s.ValidateDefinition("nope", mr)
	assert.True(t, errors.IsInvalid(err))
}

func TestLoad_Unknown(t *testing.T) {
	_, err := Load("missing")
	assert.True(t, errors.IsFatal(err))
	assert.Panics(t, func() { MustLoad("missing") })
}

func TestProperties(t *testing.T) {
	props, ok := MustLoad(ComponentSpec).Properties("docker_healthcheck_http")
	require.True(t, ok)
	assert.Contains(t, props, "interval")

	_, ok = MustLoad(ComponentSpec).Properties("nope")
	assert.False(t, ok)
}

func TestApplyDefaults(t *testing.T) {
	definition := map[string]any{
		"length":   map[string]any{"default": 10},
		"duration": map[string]any{"default": "10s"},
	}

	assert.Equal(t, map[string]any{"length": 10, "duration": "10s"}, ApplyDefaults(definition, map[string]any{}))

	existing := map[string]any{"length": 100, "duration": "100s"}
	assert.Equal(t, map[string]any{"length": 100, "duration": "100s"}, ApplyDefaults(definition, existing))

	noDefaults := map[string]any{"length": map[string]any{}, "duration": map[string]any{}}
	assert.Equal(t, map[string]any{"width": 100}, ApplyDefaults(noDefaults, map[string]any{"width": 100}))

	nested := map[string]any{
		"length":   map[string]any{"default": 10},
		"duration": map[string]any{"default": "10s"},
		"location": map[string]any{"properties": map[string]any{
			"lat":  map[string]any{"default": "40"},
			"long": map[string]any{"default": "75"},
			"alt":  map[string]any{},
		}},
	}
	assert.Equal(t, map[string]any{
		"length":   10,
		"duration": "10s",
		"location": map[string]any{"lat": "40", "long": "75"},
	}, ApplyDefaults(nested, nil))

	scalar := map[string]any{"location": "here"}
	assert.Equal(t, "here", ApplyDefaults(nested, scalar)["location"], "non-object values are left alone")
}
