package registry

import (
	"context"
	"encoding/json"
	"log/slog"
	"sort"
	"strings"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/c360/onboard/errors"
	"github.com/c360/onboard/health"
	"github.com/c360/onboard/naming"
	"github.com/c360/onboard/natsclient"
)

// Bucket names used by the NATS backend.
const (
	KVBucket       = "onboard_kv"
	ServicesBucket = "onboard_services"
)

// NATS is a Registry backed by two JetStream key-value buckets: one for
// configuration keys and one holding a JSON ServiceRegistration per service
// instance. It does not implement Transactor.
type NATS struct {
	client   *natsclient.Client
	owned    bool
	kv       *natsclient.KVStore
	services *natsclient.KVStore
	logger   *slog.Logger
}

var (
	_ Registry         = (*NATS)(nil)
	_ ServiceRegistrar = (*NATS)(nil)
)

// NewNATS connects to url and opens the registry buckets.
func NewNATS(ctx context.Context, url string, logger *slog.Logger) (*NATS, error) {
	if logger == nil {
		logger = slog.Default()
	}
	client, err := natsclient.NewClient(url, natsclient.WithLogger(logger), natsclient.WithName("onboard"))
	if err != nil {
		return nil, err
	}
	if err := client.Connect(ctx); err != nil {
		return nil, err
	}
	n, err := NewNATSFromClient(ctx, client, logger)
	if err != nil {
		_ = client.Close(context.WithoutCancel(ctx))
		return nil, err
	}
	n.owned = true
	return n, nil
}

// NewNATSFromClient opens the registry buckets on an already connected client.
func NewNATSFromClient(ctx context.Context, client *natsclient.Client, logger *slog.Logger) (*NATS, error) {
	if logger == nil {
		logger = slog.Default()
	}
	kvBucket, err := client.CreateKeyValueBucket(ctx, jetstream.KeyValueConfig{
		Bucket:      KVBucket,
		Description: "onboard component configuration",
		History:     5,
	})
	if err != nil {
		return nil, errors.Wrap(err, "NATS", "NewNATSFromClient", "open "+KVBucket)
	}
	svcBucket, err := client.CreateKeyValueBucket(ctx, jetstream.KeyValueConfig{
		Bucket:      ServicesBucket,
		Description: "onboard service registrations and health checks",
		History:     1,
	})
	if err != nil {
		return nil, errors.Wrap(err, "NATS", "NewNATSFromClient", "open "+ServicesBucket)
	}
	return &NATS{
		client:   client,
		kv:       client.NewKVStore(kvBucket),
		services: client.NewKVStore(svcBucket),
		logger:   logger.With("component", "registry", "backend", "nats"),
	}, nil
}

// Close releases the connection if this registry opened it.
func (n *NATS) Close(ctx context.Context) error {
	if !n.owned {
		return nil
	}
	return n.client.Close(ctx)
}

// NATS subjects forbid ':' so the sibling suffix of a key is stored with '='
// instead. Only a trailing known suffix is rewritten; every other character
// is kept as is.
var keySuffixes = []string{naming.RelsSuffix, naming.DMaaPSuffix, naming.ManifestSuffix}

func encodeKey(key string) string {
	for _, s := range keySuffixes {
		if base, ok := strings.CutSuffix(key, s); ok {
			return base + "=" + s[1:]
		}
	}
	return key
}

func decodeKey(key string) string {
	for _, s := range keySuffixes {
		if base, ok := strings.CutSuffix(key, "="+s[1:]); ok {
			return base + s
		}
	}
	return key
}

// Get returns the value stored under key.
func (n *NATS) Get(ctx context.Context, key string) (KVPair, error) {
	entry, err := n.kv.Get(ctx, encodeKey(key))
	if err != nil {
		if natsclient.IsKVNotFoundError(err) {
			return KVPair{}, errors.Wrap(errors.ErrKeyNotFound, "NATS", "Get", "lookup "+key)
		}
		return KVPair{}, errors.WrapTransient(err, "NATS", "Get", "get "+key)
	}
	return KVPair{Key: key, Value: entry.Value}, nil
}

// List returns every pair under prefix in key order.
func (n *NATS) List(ctx context.Context, prefix string) ([]KVPair, error) {
	keys, err := n.kv.KeysWithPrefix(ctx, encodeKey(prefix))
	if err != nil {
		return nil, errors.WrapTransient(err, "NATS", "List", "list "+prefix)
	}
	sort.Strings(keys)
	out := make([]KVPair, 0, len(keys))
	for _, k := range keys {
		entry, err := n.kv.Get(ctx, k)
		if err != nil {
			if natsclient.IsKVNotFoundError(err) {
				continue // deleted between listing and reading
			}
			return nil, errors.WrapTransient(err, "NATS", "List", "get "+k)
		}
		out = append(out, KVPair{Key: decodeKey(k), Value: entry.Value})
	}
	return out, nil
}

// Put stores value under key.
func (n *NATS) Put(ctx context.Context, key string, value []byte) error {
	if _, err := n.kv.Put(ctx, encodeKey(key), value); err != nil {
		return errors.WrapTransient(err, "NATS", "Put", "put "+key)
	}
	return nil
}

// Create stores value under key unless key is already present.
func (n *NATS) Create(ctx context.Context, key string, value []byte) error {
	if _, err := n.kv.Create(ctx, encodeKey(key), value); err != nil {
		if natsclient.IsKVConflictError(err) {
			return errors.Wrap(errors.ErrKeyExists, "NATS", "Create", "create "+key)
		}
		return errors.WrapTransient(err, "NATS", "Create", "create "+key)
	}
	return nil
}

// Delete removes key, or every key under it when recurse is set.
func (n *NATS) Delete(ctx context.Context, key string, recurse bool) error {
	keys := []string{encodeKey(key)}
	if recurse {
		var err error
		keys, err = n.kv.KeysWithPrefix(ctx, encodeKey(key))
		if err != nil {
			return errors.WrapTransient(err, "NATS", "Delete", "list "+key)
		}
	}
	for _, k := range keys {
		if err := n.kv.Delete(ctx, k); err != nil && !natsclient.IsKVNotFoundError(err) {
			return errors.WrapTransient(err, "NATS", "Delete", "delete "+decodeKey(k))
		}
	}
	return nil
}

// RegisterService stores the registration record for reg.ID.
func (n *NATS) RegisterService(ctx context.Context, reg ServiceRegistration) error {
	if reg.ID == "" {
		reg.ID = reg.Name
	}
	data, err := json.Marshal(reg)
	if err != nil {
		return errors.WrapInvalid(err, "NATS", "RegisterService", "encode "+reg.ID)
	}
	if _, err := n.services.Put(ctx, reg.ID, data); err != nil {
		return errors.WrapTransient(err, "NATS", "RegisterService", "put "+reg.ID)
	}
	return nil
}

// DeregisterService removes the registration record for id.
func (n *NATS) DeregisterService(ctx context.Context, id string) error {
	if err := n.services.Delete(ctx, id); err != nil && !natsclient.IsKVNotFoundError(err) {
		return errors.WrapTransient(err, "NATS", "DeregisterService", "delete "+id)
	}
	return nil
}

func (n *NATS) registrations(ctx context.Context) ([]ServiceRegistration, error) {
	ids, err := n.services.Keys(ctx)
	if err != nil {
		return nil, errors.WrapTransient(err, "NATS", "registrations", "list services")
	}
	sort.Strings(ids)
	regs := make([]ServiceRegistration, 0, len(ids))
	for _, id := range ids {
		entry, err := n.services.Get(ctx, id)
		if err != nil {
			if natsclient.IsKVNotFoundError(err) {
				continue
			}
			return nil, errors.WrapTransient(err, "NATS", "registrations", "get "+id)
		}
		var reg ServiceRegistration
		if err := json.Unmarshal(entry.Value, &reg); err != nil {
			n.logger.Warn("Skipping malformed service record", "id", id, "error", err)
			continue
		}
		regs = append(regs, reg)
	}
	return regs, nil
}

// Services maps registered service names to the union of their tags.
func (n *NATS) Services(ctx context.Context) (map[string][]string, error) {
	regs, err := n.registrations(ctx)
	if err != nil {
		return nil, err
	}
	out := make(map[string][]string, len(regs))
	for _, reg := range regs {
		out[reg.Name] = append(out[reg.Name], reg.Tags...)
		if out[reg.Name] == nil {
			out[reg.Name] = []string{}
		}
	}
	return out, nil
}

// ServiceHealth returns the checks of every instance named name.
func (n *NATS) ServiceHealth(ctx context.Context, name string) ([]ServiceHealth, error) {
	regs, err := n.registrations(ctx)
	if err != nil {
		return nil, err
	}
	out := []ServiceHealth{}
	for _, reg := range regs {
		if reg.Name != name {
			continue
		}
		out = append(out, ServiceHealth{
			ServiceID:   reg.ID,
			ServiceName: reg.Name,
			Address:     reg.Address,
			Port:        reg.Port,
			Checks:      append([]health.Check(nil), reg.Checks...),
		})
	}
	return out, nil
}

// ServiceNodes returns address and port of every instance named name.
func (n *NATS) ServiceNodes(ctx context.Context, name string) ([]ServiceNode, error) {
	regs, err := n.registrations(ctx)
	if err != nil {
		return nil, err
	}
	out := []ServiceNode{}
	for _, reg := range regs {
		if reg.Name != name {
			continue
		}
		out = append(out, ServiceNode{
			ServiceID:      reg.ID,
			ServiceName:    reg.Name,
			ServiceAddress: reg.Address,
			ServicePort:    reg.Port,
		})
	}
	return out, nil
}
