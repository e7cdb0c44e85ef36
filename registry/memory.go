package registry

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/c360/onboard/errors"
	"github.com/c360/onboard/health"
)

// FailFunc lets tests inject errors. It is consulted before every operation
// with the operation name and key (or service name).
type FailFunc func(op, key string) error

// Memory is a mutex-guarded in-process registry.
type Memory struct {
	mu       sync.RWMutex
	kv       map[string][]byte
	services map[string]ServiceRegistration
	fail     FailFunc
}

var (
	_ Registry         = (*Memory)(nil)
	_ Transactor       = (*Memory)(nil)
	_ ServiceRegistrar = (*Memory)(nil)
)

// NewMemory creates an empty in-memory registry.
func NewMemory() *Memory {
	return &Memory{
		kv:       make(map[string][]byte),
		services: make(map[string]ServiceRegistration),
	}
}

// SetFailFunc installs an error injector; nil removes it.
func (m *Memory) SetFailFunc(fn FailFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fail = fn
}

func (m *Memory) check(ctx context.Context, op, key string) error {
	if err := ctx.Err(); err != nil {
		return errors.WrapTransient(err, "Memory", op, "check context")
	}
	if m.fail != nil {
		return m.fail(op, key)
	}
	return nil
}

// Get returns the value stored under key.
func (m *Memory) Get(ctx context.Context, key string) (KVPair, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.check(ctx, "Get", key); err != nil {
		return KVPair{}, err
	}
	v, ok := m.kv[key]
	if !ok {
		return KVPair{}, errors.Wrap(errors.ErrKeyNotFound, "Memory", "Get", "lookup "+key)
	}
	return KVPair{Key: key, Value: clone(v)}, nil
}

// List returns pairs under prefix in key order.
func (m *Memory) List(ctx context.Context, prefix string) ([]KVPair, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.check(ctx, "List", prefix); err != nil {
		return nil, err
	}
	out := []KVPair{}
	for k, v := range m.kv {
		if strings.HasPrefix(k, prefix) {
			out = append(out, KVPair{Key: k, Value: clone(v)})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

// Put stores value under key.
func (m *Memory) Put(ctx context.Context, key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check(ctx, "Put", key); err != nil {
		return err
	}
	m.kv[key] = clone(value)
	return nil
}

// Create stores value under key unless key is already present.
func (m *Memory) Create(ctx context.Context, key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check(ctx, "Create", key); err != nil {
		return err
	}
	if _, ok := m.kv[key]; ok {
		return errors.Wrap(errors.ErrKeyExists, "Memory", "Create", "create "+key)
	}
	m.kv[key] = clone(value)
	return nil
}

// Delete removes key, or every key under it when recurse is set.
func (m *Memory) Delete(ctx context.Context, key string, recurse bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check(ctx, "Delete", key); err != nil {
		return err
	}
	if !recurse {
		delete(m.kv, key)
		return nil
	}
	for k := range m.kv {
		if strings.HasPrefix(k, key) {
			delete(m.kv, k)
		}
	}
	return nil
}

// Txn applies all ops or none.
func (m *Memory) Txn(ctx context.Context, ops []Op) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, op := range ops {
		if err := m.check(ctx, "Txn", op.Key); err != nil {
			return errors.Join(errors.ErrTxnAborted, err)
		}
	}
	for _, op := range ops {
		switch op.Verb {
		case OpSet:
			m.kv[op.Key] = clone(op.Value)
		case OpDelete:
			delete(m.kv, op.Key)
		}
	}
	return nil
}

// Keys returns every stored key in order.
func (m *Memory) Keys() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	keys := make([]string, 0, len(m.kv))
	for k := range m.kv {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// RegisterService adds or replaces a service instance.
func (m *Memory) RegisterService(ctx context.Context, reg ServiceRegistration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check(ctx, "RegisterService", reg.Name); err != nil {
		return err
	}
	if reg.ID == "" {
		reg.ID = reg.Name
	}
	reg.Checks = append([]health.Check(nil), reg.Checks...)
	m.services[reg.ID] = reg
	return nil
}

// DeregisterService removes a service instance by ID.
func (m *Memory) DeregisterService(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check(ctx, "DeregisterService", id); err != nil {
		return err
	}
	delete(m.services, id)
	return nil
}

// SetCheckStatus updates the status of every check with the given ID on
// service id.
func (m *Memory) SetCheckStatus(id, checkID, status string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	reg, ok := m.services[id]
	if !ok {
		return
	}
	for i := range reg.Checks {
		if reg.Checks[i].CheckID == checkID {
			reg.Checks[i].Status = status
		}
	}
	m.services[id] = reg
}

// Services maps service names to the union of their tags.
func (m *Memory) Services(ctx context.Context) (map[string][]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.check(ctx, "Services", ""); err != nil {
		return nil, err
	}
	out := make(map[string][]string)
	for _, reg := range m.services {
		out[reg.Name] = append(out[reg.Name], reg.Tags...)
	}
	for name, tags := range out {
		if tags == nil {
			out[name] = []string{}
		}
	}
	return out, nil
}

func (m *Memory) byName(name string) []ServiceRegistration {
	var regs []ServiceRegistration
	for _, reg := range m.services {
		if reg.Name == name {
			regs = append(regs, reg)
		}
	}
	sort.Slice(regs, func(i, j int) bool { return regs[i].ID < regs[j].ID })
	return regs
}

// ServiceHealth returns the health entries of every instance named name.
func (m *Memory) ServiceHealth(ctx context.Context, name string) ([]ServiceHealth, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.check(ctx, "ServiceHealth", name); err != nil {
		return nil, err
	}
	out := []ServiceHealth{}
	for _, reg := range m.byName(name) {
		out = append(out, ServiceHealth{
			Node:        "local",
			ServiceID:   reg.ID,
			ServiceName: reg.Name,
			Address:     reg.Address,
			Port:        reg.Port,
			Checks:      append([]health.Check(nil), reg.Checks...),
		})
	}
	return out, nil
}

// ServiceNodes returns the catalog entries of every instance named name.
func (m *Memory) ServiceNodes(ctx context.Context, name string) ([]ServiceNode, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.check(ctx, "ServiceNodes", name); err != nil {
		return nil, err
	}
	out := []ServiceNode{}
	for _, reg := range m.byName(name) {
		out = append(out, ServiceNode{
			Node:           "local",
			Address:        "127.0.0.1",
			ServiceID:      reg.ID,
			ServiceName:    reg.Name,
			ServiceAddress: reg.Address,
			ServicePort:    reg.Port,
		})
	}
	return out, nil
}

func clone(b []byte) []byte {
	if b == nil {
		return nil
	}
	return append([]byte(nil), b...)
}
