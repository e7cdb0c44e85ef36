package appconfig

import (
	"context"
	"encoding/json"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/onboard/discovery"
	"github.com/c360/onboard/errors"
	"github.com/c360/onboard/metric"
	"github.com/c360/onboard/naming"
	"github.com/c360/onboard/registry"
)

// plainRegistry hides the Transactor of the wrapped registry so the manifest
// path is exercised.
type plainRegistry struct {
	registry.Registry
}

func materialized(t *testing.T) *Materialized {
	t.Helper()
	m, err := CreateConfig(CreateRequest{
		User:           "bob",
		Component:      c1,
		Params:         map[string]any{"p": "v"},
		Interfaces:     discovery.InterfaceMap{"pub1": {c2}},
		Directory:      directoryWith(c2, "bob.a.1-0-0.c2"),
		DMaaP:          DMaaPMap{"x": {"dmaap_info": map[string]any{"topic_url": "u"}}},
		InstanceSuffix: "s1",
	})
	require.NoError(t, err)
	return m
}

func assertPublished(t *testing.T, reg registry.Registry, m *Materialized) {
	t.Helper()
	ctx := context.Background()

	conf, err := Fetch(ctx, reg, m.Keys.Config)
	require.NoError(t, err)
	assert.Equal(t, "{{1-0-0.c2}}", conf["pub1"])

	rels, err := reg.Get(ctx, m.Keys.Rels)
	require.NoError(t, err)
	assert.JSONEq(t, `["bob.a.1-0-0.c2"]`, string(rels.Value))

	sidecar, err := reg.Get(ctx, m.Keys.DMaaP)
	require.NoError(t, err)
	assert.JSONEq(t, `{"x":{"topic_url":"u"}}`, string(sidecar.Value))
}

func TestPush_Transactional(t *testing.T) {
	ctx := context.Background()
	reg := registry.NewMemory()
	metrics := metric.NewMetrics()
	m := materialized(t)

	require.NoError(t, Push(ctx, reg, m, WithMetrics(metrics)))
	assertPublished(t, reg, m)
	assert.ElementsMatch(t, m.Keys.All(), reg.Keys(), "no manifest with transactions")
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.ConfigsPublished.WithLabelValues(ModeTxn)))
}

func TestPush_TransactionAbortsAll(t *testing.T) {
	ctx := context.Background()
	reg := registry.NewMemory()
	reg.SetFailFunc(func(op, key string) error {
		if op == "Txn" && strings.HasSuffix(key, naming.DMaaPSuffix) {
			return errors.ErrRegistryUnavailable
		}
		return nil
	})

	err := Push(ctx, reg, materialized(t))
	assert.ErrorIs(t, err, errors.ErrTxnAborted)
	assert.Empty(t, reg.Keys(), "nothing is written when one op fails")
}

func TestPush_Manifest(t *testing.T) {
	ctx := context.Background()
	mem := registry.NewMemory()
	reg := plainRegistry{mem}
	m := materialized(t)

	require.NoError(t, Push(ctx, reg, m))
	assertPublished(t, reg, m)

	pair, err := reg.Get(ctx, naming.ManifestKey(m.Keys.Config))
	require.NoError(t, err)
	var mf Manifest
	require.NoError(t, json.Unmarshal(pair.Value, &mf))
	assert.Equal(t, m.Keys.All(), mf.Keys)
	assert.False(t, mf.CreatedAt.IsZero())
}

func TestPush_ManifestRejectsSecondPublisher(t *testing.T) {
	ctx := context.Background()
	reg := plainRegistry{registry.NewMemory()}
	m := materialized(t)

	require.NoError(t, Push(ctx, reg, m))
	err := Push(ctx, reg, m)
	assert.ErrorIs(t, err, errors.ErrKeyExists)
	assertPublished(t, reg, m)
}

func TestPush_ManifestRetriesTransientPut(t *testing.T) {
	ctx := context.Background()
	mem := registry.NewMemory()
	reg := plainRegistry{mem}
	m := materialized(t)

	var failures atomic.Int32
	mem.SetFailFunc(func(op, key string) error {
		if op == "Put" && key == m.Keys.Rels && failures.Add(1) == 1 {
			return errors.ErrRegistryUnavailable
		}
		return nil
	})
	require.NoError(t, Push(ctx, reg, m))
	assert.Equal(t, int32(2), failures.Load())
	assertPublished(t, reg, m)

	m2 := materialized(t)
	m2.Keys = naming.KeysFor("bob", "s2", "c1", "1.0.0")
	mem.SetFailFunc(func(op, key string) error {
		if op == "Put" && key == m2.Keys.Config {
			return errors.ErrInvalidConfig
		}
		return nil
	})
	err := Push(ctx, reg, m2)
	assert.ErrorIs(t, err, errors.ErrInvalidConfig)
}

func TestRemove_CrashMidPublishIsRecoverable(t *testing.T) {
	ctx := context.Background()
	mem := registry.NewMemory()
	reg := plainRegistry{mem}
	m := materialized(t)

	mem.SetFailFunc(func(op, key string) error {
		if op == "Put" && key == m.Keys.DMaaP {
			return errors.ErrRegistryUnavailable
		}
		return nil
	})
	require.Error(t, Push(ctx, reg, m))
	assert.Contains(t, mem.Keys(), naming.ManifestKey(m.Keys.Config))
	mem.SetFailFunc(nil)

	ok, err := Remove(ctx, reg, m.Keys.Config)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Empty(t, mem.Keys())
}

func TestRemove_Idempotent(t *testing.T) {
	ctx := context.Background()
	for name, reg := range map[string]registry.Registry{
		"txn":      registry.NewMemory(),
		"manifest": plainRegistry{registry.NewMemory()},
	} {
		t.Run(name, func(t *testing.T) {
			m := materialized(t)
			require.NoError(t, Push(ctx, reg, m))

			for i := 0; i < 2; i++ {
				ok, err := Remove(ctx, reg, m.Keys.Config)
				require.NoError(t, err)
				assert.True(t, ok)
			}
			pairs, err := reg.List(ctx, "bob.")
			require.NoError(t, err)
			assert.Empty(t, pairs)

			ok, err := Remove(ctx, reg, "bob.never.1-0-0.written")
			require.NoError(t, err)
			assert.True(t, ok)
		})
	}
}

func TestRemove_AttemptsEveryKey(t *testing.T) {
	ctx := context.Background()
	mem := registry.NewMemory()
	reg := plainRegistry{mem}
	m := materialized(t)
	require.NoError(t, Push(ctx, reg, m))

	var deletes atomic.Int32
	mem.SetFailFunc(func(op, key string) error {
		if op != "Delete" {
			return nil
		}
		deletes.Add(1)
		if key == m.Keys.Config {
			return errors.ErrRegistryUnavailable
		}
		return nil
	})

	metrics := metric.NewMetrics()
	ok, err := Remove(ctx, reg, m.Keys.Config, WithMetrics(metrics))
	assert.False(t, ok)
	assert.ErrorIs(t, err, errors.ErrRegistryUnavailable)
	assert.Equal(t, int32(3), deletes.Load(), "rels and dmaap are still attempted, manifest is kept")
	assert.ElementsMatch(t, []string{m.Keys.Config, naming.ManifestKey(m.Keys.Config)}, mem.Keys())
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.ConfigsRemoved.WithLabelValues("failed")))

	mem.SetFailFunc(nil)
	ok, err = Remove(ctx, reg, m.Keys.Config)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Empty(t, mem.Keys())
}

func TestRemove_TxnFailureFallsBack(t *testing.T) {
	ctx := context.Background()
	reg := registry.NewMemory()
	m := materialized(t)
	require.NoError(t, Push(ctx, reg, m))

	reg.SetFailFunc(func(op, _ string) error {
		if op == "Txn" {
			return errors.ErrRegistryUnavailable
		}
		return nil
	})
	ok, err := Remove(ctx, reg, m.Keys.Config)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Empty(t, reg.Keys())
}

func TestFetch(t *testing.T) {
	ctx := context.Background()
	reg := registry.NewMemory()

	_, err := Fetch(ctx, reg, "missing")
	assert.ErrorIs(t, err, errors.ErrKeyNotFound)

	require.NoError(t, reg.Put(ctx, "bad", []byte("not json")))
	_, err = Fetch(ctx, reg, "bad")
	assert.True(t, errors.IsInvalid(err))
}
