package appconfig

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/c360/onboard/discovery"
	"github.com/c360/onboard/errors"
	"github.com/c360/onboard/naming"
)

var (
	c1 = naming.NewRef("c1", "1.0.0")
	c2 = naming.NewRef("c2", "1.0.0")
)

func directoryWith(ref naming.Ref, instances ...string) *discovery.Directory {
	d := discovery.NewDirectory()
	for _, inst := range instances {
		d.Add(ref, inst)
	}
	return d
}

func TestCreateConfig_BindsAllInstancesOfChosenType(t *testing.T) {
	m, err := CreateConfig(CreateRequest{
		User:           "bob",
		Component:      c1,
		Params:         map[string]any{"threshold": 3},
		Interfaces:     discovery.InterfaceMap{"pub1": {c2}},
		Directory:      directoryWith(c2, "bob.a.1-0-0.c2", "bob.b.1-0-0.c2"),
		InstanceSuffix: "s1",
	})
	require.NoError(t, err)

	assert.Equal(t, naming.Keys{
		Config: "bob.s1.1-0-0.c1",
		Rels:   "bob.s1.1-0-0.c1:rel",
		DMaaP:  "bob.s1.1-0-0.c1:dmaap",
	}, m.Keys)
	assert.Equal(t, "bob.s1.1-0-0.c1", m.Instance())
	want := map[string]any{"threshold": 3, "pub1": "{{1-0-0.c2}}"}
	if diff := cmp.Diff(want, m.Config); diff != "" {
		t.Errorf("config mismatch (-want +got):\n%s", diff)
	}
	assert.ElementsMatch(t, []string{"bob.a.1-0-0.c2", "bob.b.1-0-0.c2"}, m.Rels)
	assert.Empty(t, m.DMaaP)
	assert.Empty(t, m.Diagnostics)
}

func TestCreateConfig_ChosenTypeWithoutInstances(t *testing.T) {
	req := CreateRequest{
		User:       "bob",
		Component:  c1,
		Interfaces: discovery.InterfaceMap{"pub1": {c2}},
		Directory:  discovery.NewDirectory(),
	}

	m, err := CreateConfig(req)
	assert.ErrorIs(t, err, errors.ErrNoDownstreamComponent)
	assert.Nil(t, m, "no partial configuration")

	req.Force = true
	m, err = CreateConfig(req)
	require.NoError(t, err)
	assert.Equal(t, naming.EmptyPlaceholder, m.Config["pub1"])
	assert.Empty(t, m.Rels)
	require.Len(t, m.Diagnostics, 1)
	assert.Equal(t, discovery.NoInstances, m.Diagnostics[0].Kind)
}

func TestCreateConfig_FirstCandidateWithoutInstancesFails(t *testing.T) {
	a := naming.NewRef("a", "1.0")
	b := naming.NewRef("b", "2.0")
	_, err := CreateConfig(CreateRequest{
		User:       "bob",
		Component:  c1,
		Interfaces: discovery.InterfaceMap{"k": {a, b}},
		Directory:  directoryWith(b, "bob.x.2-0.b"),
	})
	assert.ErrorIs(t, err, errors.ErrNoDownstreamComponent)
}

func TestCreateConfig_DMaaPShadowsInterface(t *testing.T) {
	info := map[string]any{"topic_url": "https://mr:3905/events/T"}
	dmaap := DMaaPMap{"x": {"type": "message_router", "dmaap_info": info}}

	m, err := CreateConfig(CreateRequest{
		User:       "bob",
		Component:  c1,
		Interfaces: discovery.InterfaceMap{"x": {c2}},
		Directory:  discovery.NewDirectory(),
		DMaaP:      dmaap,
	})
	require.NoError(t, err, "dmaap shadows the interface so nothing is resolved")

	bound, ok := m.Config["x"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "<<x>>", bound["dmaap_info"])
	assert.Equal(t, "message_router", bound["type"])
	assert.Equal(t, info, m.DMaaP["x"])
	assert.Equal(t, info, dmaap["x"]["dmaap_info"], "input entry is not modified")

	info["topic_url"] = "changed"
	assert.Equal(t, "https://mr:3905/events/T", m.DMaaP["x"].(map[string]any)["topic_url"], "sidecar is a copy")
}

func TestCreateConfig_EmptyCandidates(t *testing.T) {
	req := CreateRequest{
		User:       "bob",
		Component:  c1,
		Interfaces: discovery.InterfaceMap{"call": {}},
	}
	m, err := CreateConfig(req)
	require.NoError(t, err)
	assert.NotContains(t, m.Config, "call")
	require.Len(t, m.Diagnostics, 1)
	assert.Equal(t, discovery.NoCompatible, m.Diagnostics[0].Kind)

	req.Force = true
	m, err = CreateConfig(req)
	require.NoError(t, err)
	assert.Equal(t, naming.EmptyPlaceholder, m.Config["call"])
}

func TestCreateConfig_ParamsAreNotClobbered(t *testing.T) {
	params := map[string]any{"pub1": "static"}
	m, err := CreateConfig(CreateRequest{
		User:       "bob",
		Component:  c1,
		Params:     params,
		Interfaces: discovery.InterfaceMap{"pub1": {c2}},
	})
	require.NoError(t, err)
	assert.Equal(t, "static", m.Config["pub1"])

	m.Config["new"] = 1
	assert.NotContains(t, params, "new", "params are copied")
}

func TestCreateConfig_GeneratesSuffix(t *testing.T) {
	m1, err := CreateConfig(CreateRequest{User: "bob", Component: c1})
	require.NoError(t, err)
	m2, err := CreateConfig(CreateRequest{User: "bob", Component: c1})
	require.NoError(t, err)
	assert.NotEqual(t, m1.Keys.Config, m2.Keys.Config)

	inst, ok := naming.ParseInstanceName(m1.Keys.Config)
	require.True(t, ok)
	assert.Equal(t, c1, inst.Ref())

	_, err = CreateConfig(CreateRequest{Component: c1})
	assert.True(t, errors.IsInvalid(err))
}

func TestCreateConfig_DMaaPNeverOverwritten(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		keys := rapid.SliceOfNDistinct(rapid.StringMatching(`[a-z]{1,5}`), 1, 6, rapid.ID[string]).Draw(t, "keys")
		dmaap := DMaaPMap{}
		im := discovery.InterfaceMap{}
		for _, k := range keys {
			if rapid.Bool().Draw(t, "dmaap_"+k) {
				dmaap[k] = map[string]any{"dmaap_info": map[string]any{"k": k}}
			}
			if rapid.Bool().Draw(t, "iface_"+k) {
				im[k] = []naming.Ref{c2}
			}
		}

		m, err := CreateConfig(CreateRequest{
			User:       "bob",
			Component:  c1,
			Interfaces: im,
			Directory:  directoryWith(c2, "bob.a.1-0-0.c2"),
			DMaaP:      dmaap,
		})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		for k := range dmaap {
			entry, ok := m.Config[k].(map[string]any)
			if !ok || entry["dmaap_info"] != DMaaPMarker(k) {
				t.Fatalf("key %q lost its dmaap binding: %v", k, m.Config[k])
			}
		}
		for k := range im {
			if _, isDMaaP := dmaap[k]; !isDMaaP && m.Config[k] != "{{1-0-0.c2}}" {
				t.Fatalf("key %q not resolved: %v", k, m.Config[k])
			}
		}
	})
}

func TestGroupConfig(t *testing.T) {
	config := map[string]any{
		"param": 1,
		"pub":   "{{1-0-0.c2}}",
		"sub":   map[string]any{"dmaap_info": "<<sub>>"},
		"call":  "{{}}",
		"odd":   "x",
	}
	keys := ConfigKeyMap{
		"pub":  {Group: GroupStreamsPublishes, Type: "http"},
		"sub":  {Group: GroupStreamsSubscribes, Type: "message_router"},
		"call": {Group: GroupServicesCalls},
		"odd":  {Group: "unknown"},
	}

	want := map[string]any{
		"param":                1,
		GroupStreamsPublishes:  map[string]any{"pub": "{{1-0-0.c2}}"},
		GroupStreamsSubscribes: map[string]any{"sub": map[string]any{"dmaap_info": "<<sub>>"}},
		GroupServicesCalls:     map[string]any{"call": "{{}}"},
	}
	if diff := cmp.Diff(want, GroupConfig(config, keys)); diff != "" {
		t.Errorf("grouped mismatch (-want +got):\n%s", diff)
	}

	empty := GroupConfig(map[string]any{}, nil)
	for _, g := range Groups {
		assert.Equal(t, map[string]any{}, empty[g])
	}
}

func TestApplyInputs(t *testing.T) {
	config := map[string]any{"a": 1, "b": 2}
	out := ApplyInputs(config, map[string]any{"b": 3, "c": 4})
	assert.Equal(t, map[string]any{"a": 1, "b": 3, "c": 4}, out)

	assert.Equal(t, map[string]any{"c": 4}, ApplyInputs(nil, map[string]any{"c": 4}))
}
