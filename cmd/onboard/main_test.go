package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/onboard/config"
	"github.com/c360/onboard/errors"
	"github.com/c360/onboard/health"
	"github.com/c360/onboard/metric"
)

const testdata = "../../catalog/testdata"

func writeTestConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	cfg := map[string]any{
		"user":           "alice",
		"active_profile": "dev",
		"profiles": map[string]any{
			"dev": map[string]any{"registry_backend": "memory"},
		},
		"catalog": map[string]any{"db_path": filepath.Join(dir, "catalog.db")},
	}
	data, err := json.Marshal(cfg)
	require.NoError(t, err)
	path := filepath.Join(dir, "config.json")
	require.NoError(t, os.WriteFile(path, data, 0o600))
	return path
}

// execute runs the root command with fresh collaborators.
func execute(t *testing.T, cfgPath string, args ...string) (string, error) {
	t.Helper()
	app = &appState{
		logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
		metrics: metric.NewMetricsRegistry(),
	}

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(io.Discard)
	rootCmd.SetIn(strings.NewReader(""))
	rootCmd.SetArgs(append([]string{"--config", cfgPath, "--log-level", "error", "--user", "alice"}, args...))
	err := rootCmd.ExecuteContext(context.Background())
	closeApp()
	return out.String(), err
}

func TestFormatCommands(t *testing.T) {
	cfgPath := writeTestConfig(t)

	out, err := execute(t, cfgPath, "format", "add", filepath.Join(testdata, "kpi_format.yaml"))
	require.NoError(t, err)
	assert.Contains(t, out, "Added data format dcae.vnf.kpi:1.0.0")

	out, err = execute(t, cfgPath, "format", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "dcae.vnf.kpi")
	assert.Contains(t, out, "unpublished")

	out, err = execute(t, cfgPath, "format", "publish", "dcae.vnf.kpi")
	require.NoError(t, err)
	assert.Contains(t, out, "Published dcae.vnf.kpi")

	out, err = execute(t, cfgPath, "format", "list", "--published")
	require.NoError(t, err)
	assert.Contains(t, out, "dcae.vnf.kpi")
	assert.NotContains(t, out, "unpublished")

	_, err = execute(t, cfgPath, "format", "publish", "dcae.vnf.missing")
	assert.ErrorIs(t, err, errors.ErrMissingEntry)
}

func TestRegistryCommands(t *testing.T) {
	cfgPath := writeTestConfig(t)

	_, err := execute(t, cfgPath, "config", "show", "alice.nothing")
	assert.ErrorIs(t, err, errors.ErrKeyNotFound)

	out, err := execute(t, cfgPath, "clear-user")
	require.NoError(t, err)
	assert.Contains(t, out, "Cleared registry keys of alice")

	out, err = execute(t, cfgPath, "instances")
	require.NoError(t, err)
	assert.Contains(t, out, "INSTANCE")
	assert.Contains(t, out, "0 instances")

	out, err = execute(t, cfgPath, "metrics")
	require.NoError(t, err)
	assert.Contains(t, out, "go_goroutines")
}

func TestProfilesCommands(t *testing.T) {
	cfgPath := writeTestConfig(t)

	_, err := execute(t, cfgPath, "profiles", "create", "prod", "registry_backend=consul", "consul_host=consul.prod:8500")
	require.NoError(t, err)
	_, err = execute(t, cfgPath, "profiles", "set", "prod", "docker_host=docker.prod:2376")
	require.NoError(t, err)
	_, err = execute(t, cfgPath, "profiles", "activate", "prod")
	require.NoError(t, err)

	out, err := execute(t, cfgPath, "profiles", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "* prod")
	assert.Contains(t, out, "  dev")

	out, err = execute(t, cfgPath, "profiles", "show", config.ReservedProfile)
	require.NoError(t, err)
	var p config.Profile
	require.NoError(t, json.Unmarshal([]byte(out), &p))
	assert.Equal(t, "consul.prod:8500", p.ConsulHost)
	assert.Equal(t, "docker.prod:2376", p.DockerHost)

	_, err = execute(t, cfgPath, "profiles", "delete", "prod")
	assert.True(t, errors.IsInvalid(err))
	_, err = execute(t, cfgPath, "profiles", "delete", "dev")
	require.NoError(t, err)

	loader := config.NewLoader()
	cfg, err := loader.LoadFile(cfgPath)
	require.NoError(t, err)
	assert.Equal(t, "prod", cfg.ActiveProfile)
	assert.NotContains(t, cfg.Profiles, "dev")

	_, err = execute(t, cfgPath, "profiles", "create", "bad", "nonsense")
	assert.True(t, errors.IsInvalid(err))
}

func TestFormatEnvFile(t *testing.T) {
	out := formatEnvFile(map[string]string{
		"SERVICE_NAME": "alice.a1.1-0-0.kpi",
		"CONSUL_HOST":  "consul.local",
		"QUOTED":       "it's",
	})
	assert.Equal(t, "export CONSUL_HOST='consul.local'\n"+
		"export QUOTED='it'\\''s'\n"+
		"export SERVICE_NAME='alice.a1.1-0-0.kpi'\n", out)
}

func TestLoadInputs(t *testing.T) {
	inputs, err := loadInputs("")
	require.NoError(t, err)
	assert.Nil(t, inputs)

	dir := t.TempDir()
	good := filepath.Join(dir, "inputs.json")
	require.NoError(t, os.WriteFile(good, []byte(`{"region": "east", "threshold": 0.5}`), 0o600))
	inputs, err = loadInputs(good)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"region": "east", "threshold": 0.5}, inputs)

	bad := filepath.Join(dir, "bad.json")
	require.NoError(t, os.WriteFile(bad, []byte(`["not", "an", "object"]`), 0o600))
	_, err = loadInputs(bad)
	assert.ErrorIs(t, err, errors.ErrInputsValidation)

	_, err = loadInputs(filepath.Join(dir, "missing.json"))
	assert.True(t, errors.IsInvalid(err))
}

func TestLoadDMaaP(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	m, err := loadDMaaP(logger, "")
	require.NoError(t, err)
	assert.Nil(t, m)

	dir := t.TempDir()
	bad := filepath.Join(dir, "bad.json")
	require.NoError(t, os.WriteFile(bad, []byte(`{"x": {"type": "message_router"}}`), 0o600))
	_, err = loadDMaaP(logger, bad)
	assert.ErrorIs(t, err, errors.ErrDMaaPValidation)
	assert.True(t, errors.IsInvalid(err))

	good := filepath.Join(dir, "good.json")
	require.NoError(t, os.WriteFile(good, []byte(`{"alerts": {"type": "message_router", "dmaap_info": {"topic_url": "https://mr/events/alerts"}}}`), 0o600))
	m, err = loadDMaaP(logger, good)
	require.NoError(t, err)
	entry := m["alerts"]
	assert.Contains(t, entry, "aaf_username")
	info := entry["dmaap_info"].(map[string]any)
	assert.Equal(t, "https://mr/events/alerts", info["topic_url"])
	assert.Contains(t, info, "client_role")
	assert.Nil(t, info["client_role"])
}

func TestNewRunner_UndeployParallelism(t *testing.T) {
	ctx := context.Background()
	cfgFile = writeTestConfig(t)
	app = &appState{
		logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
		metrics: metric.NewMetricsRegistry(),
	}
	t.Cleanup(func() {
		viper.Set("undeploy_parallelism", 0)
		closeApp()
	})

	r, err := newRunner(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, r.Parallelism)
	closeApp()

	viper.Set("undeploy_parallelism", 4)
	r, err = newRunner(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, r.Parallelism)
}

func TestParseFields(t *testing.T) {
	fields, err := parseFields([]string{"consul_host=c:8500", "docker_host="})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"consul_host": "c:8500", "docker_host": ""}, fields)

	_, err = parseFields([]string{"=value"})
	assert.Error(t, err)
}

func TestWaitForEnter(t *testing.T) {
	require.NoError(t, waitForEnter(context.Background(), strings.NewReader("\n")))

	r, w := io.Pipe()
	defer w.Close()
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.NoError(t, waitForEnter(ctx, r))
}

func TestPrintInstances(t *testing.T) {
	m := health.NewMonitor()
	m.Update("alice.a1.1-0-0.asimov-kpi", health.NewHealthy("", "All checks passing"))
	m.Update("alice.b2.1-0-0.asimov-kpi", health.NewUnhealthy("", "check: critical"))

	var buf bytes.Buffer
	require.NoError(t, printInstances(&buf, m, true))
	out := buf.String()
	assert.NotContains(t, out, "alice.a1.1-0-0.asimov-kpi")
	assert.Contains(t, out, "alice.b2.1-0-0.asimov-kpi")
	assert.Contains(t, out, "asimov.kpi")
	assert.Contains(t, out, "2 instances: One or more instances are defective")
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(&buf, "warn", "json")
	logger.Info("hidden")
	logger.Warn("shown")

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, "shown", rec["msg"])
	assert.Equal(t, appName, rec["service"])
}
