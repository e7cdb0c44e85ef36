package registry

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/hashicorp/consul/api"

	"github.com/c360/onboard/errors"
	"github.com/c360/onboard/health"
)

// Consul is a Registry backed by a Consul agent.
type Consul struct {
	client *api.Client
	logger *slog.Logger
}

var (
	_ Registry         = (*Consul)(nil)
	_ Transactor       = (*Consul)(nil)
	_ ServiceRegistrar = (*Consul)(nil)
)

// NewConsul creates a client for the agent at host (host:port). An empty host
// uses the client library default.
func NewConsul(host string, logger *slog.Logger) (*Consul, error) {
	if logger == nil {
		logger = slog.Default()
	}
	cfg := api.DefaultConfig()
	if host != "" {
		cfg.Address = host
	}
	client, err := api.NewClient(cfg)
	if err != nil {
		return nil, errors.WrapInvalid(err, "Consul", "NewConsul", "create client")
	}
	return &Consul{client: client, logger: logger.With("component", "registry", "backend", "consul")}, nil
}

func (c *Consul) query(ctx context.Context) *api.QueryOptions {
	return (&api.QueryOptions{}).WithContext(ctx)
}

func (c *Consul) write(ctx context.Context) *api.WriteOptions {
	return (&api.WriteOptions{}).WithContext(ctx)
}

func (c *Consul) observe(op, key string, start time.Time) {
	c.logger.Debug("Registry call", "op", op, "key", key, "duration", time.Since(start))
}

// Get returns the value stored under key.
func (c *Consul) Get(ctx context.Context, key string) (KVPair, error) {
	defer c.observe("get", key, time.Now())
	pair, _, err := c.client.KV().Get(key, c.query(ctx))
	if err != nil {
		return KVPair{}, errors.WrapTransient(err, "Consul", "Get", "get "+key)
	}
	if pair == nil {
		return KVPair{}, errors.Wrap(errors.ErrKeyNotFound, "Consul", "Get", "lookup "+key)
	}
	return KVPair{Key: pair.Key, Value: pair.Value}, nil
}

// List returns every pair under prefix.
func (c *Consul) List(ctx context.Context, prefix string) ([]KVPair, error) {
	defer c.observe("list", prefix, time.Now())
	pairs, _, err := c.client.KV().List(prefix, c.query(ctx))
	if err != nil {
		return nil, errors.WrapTransient(err, "Consul", "List", "list "+prefix)
	}
	out := make([]KVPair, 0, len(pairs))
	for _, p := range pairs {
		out = append(out, KVPair{Key: p.Key, Value: p.Value})
	}
	return out, nil
}

// Put stores value under key.
func (c *Consul) Put(ctx context.Context, key string, value []byte) error {
	defer c.observe("put", key, time.Now())
	if _, err := c.client.KV().Put(&api.KVPair{Key: key, Value: value}, c.write(ctx)); err != nil {
		return errors.WrapTransient(err, "Consul", "Put", "put "+key)
	}
	return nil
}

// Create stores value under key with a check-and-set on index zero, which
// Consul only accepts for an absent key.
func (c *Consul) Create(ctx context.Context, key string, value []byte) error {
	defer c.observe("create", key, time.Now())
	ok, _, err := c.client.KV().CAS(&api.KVPair{Key: key, Value: value, ModifyIndex: 0}, c.write(ctx))
	if err != nil {
		return errors.WrapTransient(err, "Consul", "Create", "create "+key)
	}
	if !ok {
		return errors.Wrap(errors.ErrKeyExists, "Consul", "Create", "create "+key)
	}
	return nil
}

// Delete removes key, or the whole tree under it when recurse is set.
func (c *Consul) Delete(ctx context.Context, key string, recurse bool) error {
	defer c.observe("delete", key, time.Now())
	var err error
	if recurse {
		_, err = c.client.KV().DeleteTree(key, c.write(ctx))
	} else {
		_, err = c.client.KV().Delete(key, c.write(ctx))
	}
	if err != nil {
		return errors.WrapTransient(err, "Consul", "Delete", "delete "+key)
	}
	return nil
}

// Txn applies ops in a single Consul transaction.
func (c *Consul) Txn(ctx context.Context, ops []Op) error {
	defer c.observe("txn", fmt.Sprintf("%d ops", len(ops)), time.Now())
	txn := make(api.TxnOps, 0, len(ops))
	for _, op := range ops {
		kv := &api.KVTxnOp{Key: op.Key}
		switch op.Verb {
		case OpSet:
			kv.Verb, kv.Value = api.KVSet, op.Value
		case OpDelete:
			kv.Verb = api.KVDelete
		}
		txn = append(txn, &api.TxnOp{KV: kv})
	}

	ok, resp, _, err := c.client.Txn().Txn(txn, c.query(ctx))
	if err != nil {
		return errors.WrapTransient(err, "Consul", "Txn", "apply transaction")
	}
	if !ok {
		var reasons []string
		if resp != nil {
			for _, e := range resp.Errors {
				reasons = append(reasons, fmt.Sprintf("op %d: %s", e.OpIndex, e.What))
			}
		}
		return errors.Wrap(fmt.Errorf("%w: %s", errors.ErrTxnAborted, strings.Join(reasons, "; ")),
			"Consul", "Txn", "apply transaction")
	}
	return nil
}

// Services maps every catalog service to its tags.
func (c *Consul) Services(ctx context.Context) (map[string][]string, error) {
	defer c.observe("services", "", time.Now())
	services, _, err := c.client.Catalog().Services(c.query(ctx))
	if err != nil {
		return nil, errors.WrapTransient(err, "Consul", "Services", "list services")
	}
	return services, nil
}

// ServiceHealth returns every entry of the named service with its checks,
// passing or not.
func (c *Consul) ServiceHealth(ctx context.Context, name string) ([]ServiceHealth, error) {
	defer c.observe("health", name, time.Now())
	entries, _, err := c.client.Health().Service(name, "", false, c.query(ctx))
	if err != nil {
		return nil, errors.WrapTransient(err, "Consul", "ServiceHealth", "health for "+name)
	}
	out := make([]ServiceHealth, 0, len(entries))
	for _, e := range entries {
		sh := ServiceHealth{Checks: make([]health.Check, 0, len(e.Checks))}
		if e.Node != nil {
			sh.Node = e.Node.Node
			sh.Address = e.Node.Address
		}
		if e.Service != nil {
			sh.ServiceID, sh.ServiceName, sh.Port = e.Service.ID, e.Service.Service, e.Service.Port
			if e.Service.Address != "" {
				sh.Address = e.Service.Address
			}
		}
		for _, hc := range e.Checks {
			sh.Checks = append(sh.Checks, health.Check{
				Node:        hc.Node,
				CheckID:     hc.CheckID,
				Name:        hc.Name,
				Status:      hc.Status,
				Output:      hc.Output,
				ServiceID:   hc.ServiceID,
				ServiceName: hc.ServiceName,
			})
		}
		out = append(out, sh)
	}
	return out, nil
}

// ServiceNodes returns the catalog entries of the named service.
func (c *Consul) ServiceNodes(ctx context.Context, name string) ([]ServiceNode, error) {
	defer c.observe("nodes", name, time.Now())
	services, _, err := c.client.Catalog().Service(name, "", c.query(ctx))
	if err != nil {
		return nil, errors.WrapTransient(err, "Consul", "ServiceNodes", "catalog for "+name)
	}
	out := make([]ServiceNode, 0, len(services))
	for _, s := range services {
		out = append(out, ServiceNode{
			Node:           s.Node,
			Address:        s.Address,
			ServiceID:      s.ServiceID,
			ServiceName:    s.ServiceName,
			ServiceAddress: s.ServiceAddress,
			ServicePort:    s.ServicePort,
		})
	}
	return out, nil
}

// RegisterService registers an instance with the local agent. Each check
// becomes a TTL check seeded with its status.
func (c *Consul) RegisterService(ctx context.Context, reg ServiceRegistration) error {
	svc := &api.AgentServiceRegistration{
		ID:      reg.ID,
		Name:    reg.Name,
		Address: reg.Address,
		Port:    reg.Port,
		Tags:    reg.Tags,
	}
	for _, chk := range reg.Checks {
		svc.Checks = append(svc.Checks, &api.AgentServiceCheck{
			CheckID: chk.CheckID,
			Name:    chk.Name,
			TTL:     "10m",
			Status:  chk.Status,
		})
	}
	opts := api.ServiceRegisterOpts{ReplaceExistingChecks: true}.WithContext(ctx)
	if err := c.client.Agent().ServiceRegisterOpts(svc, opts); err != nil {
		return errors.WrapTransient(err, "Consul", "RegisterService", "register "+reg.Name)
	}
	return nil
}

// DeregisterService removes an instance from the local agent.
func (c *Consul) DeregisterService(ctx context.Context, id string) error {
	if err := c.client.Agent().ServiceDeregisterOpts(id, c.query(ctx)); err != nil {
		return errors.WrapTransient(err, "Consul", "DeregisterService", "deregister "+id)
	}
	return nil
}
