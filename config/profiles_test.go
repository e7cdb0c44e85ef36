package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/onboard/errors"
)

func newTestConfig() *Config {
	cfg := NewLoader().getDefaults()
	cfg.User = "bob"
	return cfg
}

func TestProfiles_CreateAndLookup(t *testing.T) {
	cfg := newTestConfig()

	require.NoError(t, cfg.CreateProfile("lab", map[string]string{
		"consul_host": "lab:8500",
		"docker_host": "tcp://lab:2376",
	}))
	assert.Equal(t, []string{"default", "lab"}, cfg.ProfileNames())

	p, err := cfg.Profile("lab")
	require.NoError(t, err)
	assert.Equal(t, "lab:8500", p.ConsulHost)
	assert.Equal(t, BackendConsul, p.Backend())

	err = cfg.CreateProfile("lab", nil)
	assert.ErrorIs(t, err, errors.ErrDuplicateEntry)

	err = cfg.CreateProfile(ReservedProfile, nil)
	assert.ErrorIs(t, err, errors.ErrReservedName)

	err = cfg.CreateProfile("bad", map[string]string{"color": "red"})
	assert.True(t, errors.IsInvalid(err))
	assert.Contains(t, err.Error(), "color")
}

func TestProfiles_ActiveAlias(t *testing.T) {
	cfg := newTestConfig()
	require.NoError(t, cfg.CreateProfile("lab", map[string]string{"cdap_broker": "broker"}))
	require.NoError(t, cfg.ActivateProfile("lab"))

	p, err := cfg.Profile(ReservedProfile)
	require.NoError(t, err)
	assert.Equal(t, "broker", p.CDAPBroker)

	assert.ErrorIs(t, cfg.ActivateProfile("nope"), errors.ErrProfileNotFound)
	assert.ErrorIs(t, cfg.ActivateProfile(ReservedProfile), errors.ErrProfileNotFound)
}

func TestProfiles_Update(t *testing.T) {
	cfg := newTestConfig()

	require.NoError(t, cfg.UpdateProfile("default", map[string]string{"docker_host": "unix:///var/run/docker.sock"}))
	p, _ := cfg.Profile("default")
	assert.Equal(t, "unix:///var/run/docker.sock", p.DockerHost)
	assert.Equal(t, "localhost:8500", p.ConsulHost)

	assert.Error(t, cfg.UpdateProfile("default", map[string]string{}))
	assert.ErrorIs(t, cfg.UpdateProfile("nope", map[string]string{"docker_host": "x"}), errors.ErrProfileNotFound)
	assert.ErrorIs(t, cfg.UpdateProfile(ReservedProfile, map[string]string{"docker_host": "x"}), errors.ErrReservedName)
}

func TestProfiles_Delete(t *testing.T) {
	cfg := newTestConfig()
	require.NoError(t, cfg.CreateProfile("lab", nil))

	deleted, err := cfg.DeleteProfile("default")
	require.NoError(t, err)
	assert.False(t, deleted, "active profile must not be deleted")

	deleted, err = cfg.DeleteProfile("lab")
	require.NoError(t, err)
	assert.True(t, deleted)
	assert.Equal(t, []string{"default"}, cfg.ProfileNames())

	_, err = cfg.DeleteProfile("lab")
	assert.ErrorIs(t, err, errors.ErrProfileNotFound)
}

func TestProfile_EnvFields(t *testing.T) {
	p := Profile{ConsulHost: "c", ConfigBindingService: "cbs", CDAPBroker: "b", DockerHost: "d", NATSURL: "n"}
	assert.Equal(t, map[string]string{
		"consul_host":            "c",
		"config_binding_service": "cbs",
		"cdap_broker":            "b",
		"docker_host":            "d",
	}, p.EnvFields())
}
