package discovery

import (
	"context"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/onboard/errors"
	"github.com/c360/onboard/health"
	"github.com/c360/onboard/naming"
	"github.com/c360/onboard/registry"
)

func register(t *testing.T, reg *registry.Memory, instance string, statuses ...string) {
	t.Helper()
	checks := make([]health.Check, 0, len(statuses))
	for i, s := range statuses {
		checks = append(checks, health.Check{CheckID: "c" + strconv.Itoa(i), Name: "check", Status: s})
	}
	require.NoError(t, reg.RegisterService(context.Background(), registry.ServiceRegistration{
		ID:      instance,
		Name:    instance,
		Address: "10.0.0.1",
		Port:    8080,
		Checks:  checks,
	}))
}

func TestDirectory_AddLookup(t *testing.T) {
	d := NewDirectory()
	d.Add(naming.NewRef("c2", "1.0.0"), "bob.b.1-0-0.c2")
	d.Add(naming.NewRef("c2", "1.0.0"), "bob.a.1-0-0.c2")
	d.Add(naming.NewRef("c2", "1.0.0"), "bob.a.1-0-0.c2")

	assert.Equal(t, []string{"bob.a.1-0-0.c2", "bob.b.1-0-0.c2"}, d.Lookup(naming.NewRef("c2", "1.0.0")))
	assert.Nil(t, d.Lookup(naming.NewRef("c2", "2.0.0")))
	assert.Equal(t, 1, d.Len())
}

func TestDirectory_BothSpellingsMeet(t *testing.T) {
	d := NewDirectory()
	d.Add(naming.NewRef("dcae.collector", "1.0.0"), "bob.a.1-0-0.dcae-collector")
	d.Add(naming.NewRef("dcae-collector", "1.0.0"), "bob.b.1-0-0.dcae-collector")
	d.Add(naming.NewRef("dcae-collector", "1.0.0"), "bob.a.1-0-0.dcae-collector")

	want := []string{"bob.a.1-0-0.dcae-collector", "bob.b.1-0-0.dcae-collector"}
	assert.Equal(t, want, d.Lookup(naming.NewRef("dcae.collector", "1.0.0")))
	assert.Equal(t, want, d.Lookup(naming.NewRef("dcae-collector", "1.0.0")))
	assert.Equal(t, 1, d.Len(), "no double counting across spellings")
}

func TestDirectory_ZeroValueAndNil(t *testing.T) {
	var d Directory
	d.Add(naming.NewRef("x", "1.0.0"), "u.s.1-0-0.x")
	assert.Equal(t, 1, d.Len())

	var nilDir *Directory
	assert.Nil(t, nilDir.Lookup(naming.NewRef("x", "1.0.0")))
	assert.Nil(t, nilDir.Refs())
	assert.Zero(t, nilDir.Len())
}

func TestDirectory_MergeAugments(t *testing.T) {
	primary := NewDirectory()
	primary.Add(naming.NewRef("c2", "1.0.0"), "bob.a.1-0-0.c2")

	secondary := NewDirectory()
	secondary.Add(naming.NewRef("c2", "1.0.0"), "alice.z.1-0-0.c2")
	secondary.Add(naming.NewRef("c3", "2.0.0"), "alice.y.2-0-0.c3")

	primary.Merge(secondary)
	primary.Merge(nil)

	assert.Equal(t, []string{"alice.z.1-0-0.c2", "bob.a.1-0-0.c2"}, primary.Lookup(naming.NewRef("c2", "1.0.0")))
	assert.Equal(t, []string{"alice.y.2-0-0.c3"}, primary.Lookup(naming.NewRef("c3", "2.0.0")))
	assert.Equal(t, []naming.Ref{naming.NewRef("c2", "1.0.0"), naming.NewRef("c3", "2.0.0")}, primary.Refs())
	assert.Len(t, primary.Instances(), 3)
	assert.Len(t, secondary.Instances(), 2, "secondary untouched")
}

func TestListInstances_MergesSources(t *testing.T) {
	ctx := context.Background()
	reg := registry.NewMemory()

	keys := naming.KeysFor("bob", "s1", "c1", "1.0.0")
	require.NoError(t, reg.Put(ctx, keys.Rels, []byte("[]")))
	require.NoError(t, reg.Put(ctx, keys.DMaaP, []byte("{}")))
	require.NoError(t, reg.Put(ctx, "bobby.s2.1-0-0.c1", []byte("{}")))
	register(t, reg, "bob.s1.1-0-0.c1", health.CheckPassing)
	register(t, reg, "bob.s3.1-0-0.c2", health.CheckCritical)
	register(t, reg, "alice.s4.1-0-0.c2", health.CheckPassing)

	got, err := ListInstances(ctx, reg, "bob")
	require.NoError(t, err)
	assert.Equal(t, []string{"bob.s1.1-0-0.c1", "bob.s3.1-0-0.c2"}, got)

	none, err := ListInstances(ctx, reg, "nobody")
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestListInstances_RegistryError(t *testing.T) {
	reg := registry.NewMemory()
	reg.SetFailFunc(func(op, _ string) error {
		if op == "Services" {
			return errors.ErrRegistryUnavailable
		}
		return nil
	})
	_, err := ListInstances(context.Background(), reg, "bob")
	assert.ErrorIs(t, err, errors.ErrRegistryUnavailable)
}

func TestBuildDirectory(t *testing.T) {
	ctx := context.Background()
	reg := registry.NewMemory()
	register(t, reg, "bob.a.1-0-0.c2", health.CheckPassing)
	register(t, reg, "bob.b.1-0-0.c2", health.CheckPassing, health.CheckPassing)
	register(t, reg, "bob.c.1-0-0.c2", health.CheckPassing, health.CheckCritical)
	register(t, reg, "bob.d.2-0-0.dcae-c3", health.CheckWarning)
	register(t, reg, "bob.not-an-instance", health.CheckPassing)
	require.NoError(t, reg.Put(ctx, "bob.e.1-0-0.c2", []byte("{}")))

	t.Run("healthy", func(t *testing.T) {
		dir, err := BuildDirectory(ctx, reg, "bob", Healthy(reg))
		require.NoError(t, err)
		assert.Equal(t, 1, dir.Len())
		assert.Equal(t, []string{"bob.a.1-0-0.c2", "bob.b.1-0-0.c2"}, dir.Lookup(naming.NewRef("c2", "1.0.0")))
	})

	t.Run("defective", func(t *testing.T) {
		dir, err := BuildDirectory(ctx, reg, "bob", Defective(reg))
		require.NoError(t, err)
		assert.Equal(t, []string{"bob.c.1-0-0.c2", "bob.e.1-0-0.c2"}, dir.Lookup(naming.NewRef("c2", "1.0.0")))
		assert.Equal(t, []string{"bob.d.2-0-0.dcae-c3"}, dir.Lookup(naming.NewRef("dcae.c3", "2.0.0")))
	})

	t.Run("nil filter keeps everything parseable", func(t *testing.T) {
		dir, err := BuildDirectory(ctx, reg, "bob", nil)
		require.NoError(t, err)
		assert.Len(t, dir.Instances(), 5)
	})

	t.Run("filter error aborts", func(t *testing.T) {
		boom := errors.ErrRegistryUnavailable
		_, err := BuildDirectory(ctx, reg, "bob", func(context.Context, string) (bool, error) {
			return false, boom
		})
		assert.ErrorIs(t, err, boom)
	})
}

func TestUserInstances_AdditionalUser(t *testing.T) {
	ctx := context.Background()
	reg := registry.NewMemory()
	register(t, reg, "bob.a.1-0-0.c2", health.CheckPassing)
	register(t, reg, "alice.b.1-0-0.c2", health.CheckPassing)
	register(t, reg, "alice.c.1-0-0.c3", health.CheckPassing)

	dir, err := UserInstances(ctx, reg, "bob", "", Healthy(reg))
	require.NoError(t, err)
	assert.Equal(t, 1, dir.Len())

	dir, err = UserInstances(ctx, reg, "bob", "alice", Healthy(reg))
	require.NoError(t, err)
	assert.Equal(t, []string{"alice.b.1-0-0.c2", "bob.a.1-0-0.c2"}, dir.Lookup(naming.NewRef("c2", "1.0.0")))
	assert.Equal(t, 2, dir.Len())
}

func TestHealthyAndDefectiveInstances(t *testing.T) {
	ctx := context.Background()
	reg := registry.NewMemory()
	register(t, reg, "bob.a.1-0-0.dcae-foo", health.CheckPassing)
	register(t, reg, "bob.b.1-0-0.dcae-foo", health.CheckCritical)

	healthy, err := HealthyInstances(ctx, reg, "bob", "dcae.foo", "1.0.0")
	require.NoError(t, err)
	assert.Equal(t, []string{"bob.a.1-0-0.dcae-foo"}, healthy)

	defective, err := DefectiveInstances(ctx, reg, "bob", "dcae-foo", "1.0.0")
	require.NoError(t, err)
	assert.Equal(t, []string{"bob.b.1-0-0.dcae-foo"}, defective)

	reg.SetCheckStatus("bob.b.1-0-0.dcae-foo", "c0", health.CheckPassing)
	healthy, err = HealthyInstances(ctx, reg, "bob", "dcae.foo", "1.0.0")
	require.NoError(t, err)
	assert.Len(t, healthy, 2)

	healthy, defective, err = InstancesByHealth(ctx, reg, "bob", "dcae.foo", "1.0.0")
	require.NoError(t, err)
	assert.Equal(t, []string{"bob.a.1-0-0.dcae-foo", "bob.b.1-0-0.dcae-foo"}, healthy)
	assert.Empty(t, defective)
}

func TestLookupInstance(t *testing.T) {
	ctx := context.Background()
	reg := registry.NewMemory()
	register(t, reg, "bob.a.1-0-0.c2", health.CheckPassing)

	hp, err := LookupInstance(ctx, reg, "bob.a.1-0-0.c2")
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.1:8080", hp)

	hp, err = LookupInstance(ctx, reg, "bob.missing.1-0-0.c2")
	require.NoError(t, err)
	assert.Empty(t, hp)
}

func TestClassifyHealth(t *testing.T) {
	ctx := context.Background()
	reg := registry.NewMemory()
	register(t, reg, "ok", health.CheckPassing)
	register(t, reg, "bad", health.CheckWarning)

	state, err := ClassifyHealth(ctx, reg, "ok")
	require.NoError(t, err)
	assert.Equal(t, health.Healthy, state)

	state, err = ClassifyHealth(ctx, reg, "bad")
	require.NoError(t, err)
	assert.Equal(t, health.Defective, state)

	state, err = ClassifyHealth(ctx, reg, "absent")
	require.NoError(t, err)
	assert.Equal(t, health.Defective, state)
}

func TestInstanceStatus(t *testing.T) {
	ctx := context.Background()
	reg := registry.NewMemory()
	register(t, reg, "ok", health.CheckPassing)
	register(t, reg, "bad", health.CheckPassing, health.CheckCritical)

	status, err := InstanceStatus(ctx, reg, "ok")
	require.NoError(t, err)
	assert.True(t, status.IsHealthy())
	assert.Equal(t, "ok", status.Component)

	status, err = InstanceStatus(ctx, reg, "bad")
	require.NoError(t, err)
	assert.True(t, status.IsUnhealthy())
	assert.Equal(t, "check: critical", status.Message)

	status, err = InstanceStatus(ctx, reg, "absent")
	require.NoError(t, err)
	assert.Equal(t, "No health checks registered", status.Message)
}

func TestHealthCache(t *testing.T) {
	ctx := context.Background()
	reg := registry.NewMemory()
	register(t, reg, "bob.a.1-0-0.c2", health.CheckCritical)

	cache := NewHealthCache(reg, time.Minute)
	state, err := cache.Classify(ctx, "bob.a.1-0-0.c2")
	require.NoError(t, err)
	assert.Equal(t, health.Defective, state)

	reg.SetCheckStatus("bob.a.1-0-0.c2", "c0", health.CheckPassing)
	state, err = cache.Classify(ctx, "bob.a.1-0-0.c2")
	require.NoError(t, err)
	assert.Equal(t, health.Defective, state, "served from cache")

	cache.Invalidate("bob.a.1-0-0.c2")
	state, err = cache.Classify(ctx, "bob.a.1-0-0.c2")
	require.NoError(t, err)
	assert.Equal(t, health.Healthy, state)

	dir, err := BuildDirectory(ctx, reg, "bob", cache.Healthy())
	require.NoError(t, err)
	assert.Equal(t, 1, dir.Len())

	cache.Flush()
	reg.SetFailFunc(func(op, _ string) error {
		if op == "ServiceHealth" {
			return errors.ErrRegistryUnavailable
		}
		return nil
	})
	_, err = cache.Classify(ctx, "bob.a.1-0-0.c2")
	require.Error(t, err)

	reg.SetFailFunc(nil)
	state, err = cache.Classify(ctx, "bob.a.1-0-0.c2")
	require.NoError(t, err, "errors are not cached")
	assert.Equal(t, health.Healthy, state)
}
