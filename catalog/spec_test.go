package catalog

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/onboard/appconfig"
	"github.com/c360/onboard/errors"
)

func TestLoadSpecFile_JSONAndYAMLAgree(t *testing.T) {
	fromJSON, err := LoadSpecFile(filepath.Join("testdata", "kpi_anomaly.json"))
	require.NoError(t, err)
	fromYAML, err := LoadSpecFile(filepath.Join("testdata", "kpi_anomaly.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "asimov.component.kpi_anomaly", fromJSON.Self.Name)
	assert.Equal(t, TypeDocker, fromJSON.Self.ComponentType)
	if diff := cmp.Diff(fromJSON.Params(), fromYAML.Params()); diff != "" {
		t.Errorf("params mismatch (-json +yaml):\n%s", diff)
	}
	assert.Equal(t, fromJSON.Streams, fromYAML.Streams)
	assert.Equal(t, fromJSON.Services, fromYAML.Services)

	image, err := fromYAML.DockerImage()
	require.NoError(t, err)
	assert.Equal(t, "nexus.example.com/asimov/kpi-anomaly:1.0.0", image)
}

func TestLoadSpecFile_Errors(t *testing.T) {
	dir := t.TempDir()

	txt := filepath.Join(dir, "spec.txt")
	require.NoError(t, os.WriteFile(txt, []byte("{}"), 0o600))
	_, err := LoadSpecFile(txt)
	assert.True(t, errors.IsInvalid(err))

	garbage := filepath.Join(dir, "spec.json")
	require.NoError(t, os.WriteFile(garbage, []byte("{not: [valid"), 0o600))
	_, err = LoadSpecFile(garbage)
	assert.ErrorIs(t, err, errors.ErrParsingFailed)

	incomplete := filepath.Join(dir, "incomplete.json")
	require.NoError(t, os.WriteFile(incomplete, []byte(`{"self": {"name": "x"}}`), 0o600))
	_, err = LoadSpecFile(incomplete)
	assert.ErrorIs(t, err, errors.ErrInvalidSpec)
}

func TestLoadFormatFile(t *testing.T) {
	f, err := LoadFormatFile(filepath.Join("testdata", "kpi_format.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "dcae.vnf.kpi:1.0.0", f.Ref().String())
	assert.JSONEq(t, `{"encoding": "UTF-8"}`, string(f.Unstructured))
}

func TestValidateComponent_CDAPDataRouterSubscriber(t *testing.T) {
	spec := cdapComponent("std.cdap_comp", "0.0.0")
	spec.Streams.Subscribes = []Stream{{Format: "std.format_one", Version: "1.0.0", ConfigKey: "feed", Route: "/feed", Type: "data_router"}}
	err := ValidateComponent(spec)
	assert.ErrorIs(t, err, errors.ErrInvalidSpec)
}

func TestComponentSpec_DockerConfigDefaults(t *testing.T) {
	spec, err := LoadSpecFile(filepath.Join("testdata", "kpi_anomaly.json"))
	require.NoError(t, err)

	cfg, err := spec.DockerConfig()
	require.NoError(t, err)
	assert.Equal(t, Healthcheck{Type: "http", Interval: "15s", Timeout: "1s", Endpoint: "/health"}, cfg.Healthcheck)
	assert.Equal(t, []string{"8080:8080"}, cfg.Ports)

	spec.Auxilary = json.RawMessage(`{"healthcheck": {"type": "script", "script": "/opt/check.sh", "interval": "30s"}}`)
	cfg, err = spec.DockerConfig()
	require.NoError(t, err)
	assert.Equal(t, "30s", cfg.Healthcheck.Interval)
	assert.Equal(t, "/opt/check.sh", cfg.Healthcheck.Script)
}

func TestComponentSpec_CDAPParams(t *testing.T) {
	spec := cdapComponent("std.cdap_comp", "0.0.0")
	spec.Parameters.CDAP = &CDAPParameters{
		AppConfig:      []CDAPParameter{{Name: "foo", Value: "bar"}},
		AppPreferences: []CDAPParameter{{Name: "pref", Value: 1.0}},
		ProgramPreferences: []ProgramPreference{{
			ProgramType: "flows", ProgramID: "WhoFlow",
			ProgramPref: []CDAPParameter{{Name: "p", Value: true}},
		}},
	}

	want := map[string]any{
		"app_config":      map[string]any{"foo": "bar"},
		"app_preferences": map[string]any{"pref": 1.0},
		"program_preferences": []any{map[string]any{
			"program_id": "WhoFlow", "program_type": "flows", "program_pref": map[string]any{"p": true},
		}},
	}
	if diff := cmp.Diff(want, spec.Params()); diff != "" {
		t.Errorf("params mismatch (-want +got):\n%s", diff)
	}

	assert.Equal(t, map[string]any{
		"app_config": map[string]any{}, "app_preferences": map[string]any{}, "program_preferences": []any{},
	}, NormalizeCDAPParams(nil))
}

func TestParameters_RoundTrip(t *testing.T) {
	var p Parameters
	require.NoError(t, json.Unmarshal([]byte(`{"app_config": [{"name": "a", "value": 1}]}`), &p))
	require.NotNil(t, p.CDAP)
	assert.Nil(t, p.List)

	data, err := json.Marshal(Parameters{})
	require.NoError(t, err)
	assert.Equal(t, "[]", string(data))
}

func TestBuildConfigKeysMap(t *testing.T) {
	spec, err := LoadSpecFile(filepath.Join("testdata", "kpi_anomaly.json"))
	require.NoError(t, err)

	want := appconfig.ConfigKeyMap{
		"kpi_feed":   {Group: appconfig.GroupStreamsSubscribes, Type: "data_router"},
		"prediction": {Group: appconfig.GroupStreamsPublishes, Type: "http"},
		"alerts":     {Group: appconfig.GroupStreamsPublishes, Type: "message router"},
		"lookup":     {Group: appconfig.GroupServicesCalls},
	}
	if diff := cmp.Diff(want, BuildConfigKeysMap(spec)); diff != "" {
		t.Errorf("config keys mismatch (-want +got):\n%s", diff)
	}
}

func TestDataRouterSubscriberRoute(t *testing.T) {
	spec, err := LoadSpecFile(filepath.Join("testdata", "kpi_anomaly.json"))
	require.NoError(t, err)

	route, err := DataRouterSubscriberRoute(spec, "kpi_feed")
	require.NoError(t, err)
	assert.Equal(t, "/feed", route)

	_, err = DataRouterSubscriberRoute(spec, "alerts")
	assert.ErrorIs(t, err, errors.ErrMissingEntry)
}

func TestFilterInputs(t *testing.T) {
	spec, err := LoadSpecFile(filepath.Join("testdata", "kpi_anomaly.json"))
	require.NoError(t, err)

	got, err := FilterInputs(map[string]any{"region": "east", "threshold": 0.9, "extra": 1}, spec)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"region": "east"}, got)

	_, err = FilterInputs(map[string]any{"threshold": 0.9}, spec)
	var missing *errors.MissingInputsError
	require.ErrorAs(t, err, &missing)
	assert.Equal(t, []string{"region"}, missing.Keys)
	assert.ErrorIs(t, err, errors.ErrInputsValidation)
}

func TestDMaaPKeys(t *testing.T) {
	spec, err := LoadSpecFile(filepath.Join("testdata", "kpi_anomaly.json"))
	require.NoError(t, err)

	mr, dr := dmaapKeys(spec)
	assert.Equal(t, []string{"alerts"}, mr)
	assert.Equal(t, []string{"kpi_feed"}, dr)
}
