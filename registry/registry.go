// Package registry abstracts the service registry and key-value store that
// deployed components publish their configuration and health to.
//
// Three backends are provided: Consul, NATS JetStream key-value buckets, and
// an in-memory store used by tests and dry runs.
package registry

import (
	"context"
	"encoding/json"
	"log/slog"
	"strconv"

	"github.com/c360/onboard/config"
	"github.com/c360/onboard/errors"
	"github.com/c360/onboard/health"
	"github.com/c360/onboard/naming"
)

// KVPair is a single key and its raw value.
type KVPair struct {
	Key   string
	Value []byte
}

// ServiceHealth is one registered entry of a service with its checks.
type ServiceHealth struct {
	Node        string
	ServiceID   string
	ServiceName string
	Address     string
	Port        int
	Checks      []health.Check
}

// ServiceNode is the catalog view of one service instance.
type ServiceNode struct {
	Node           string
	Address        string
	ServiceID      string
	ServiceName    string
	ServiceAddress string
	ServicePort    int
}

// HostPort returns address:port, preferring the service address over the node address.
func (n ServiceNode) HostPort() string {
	addr := n.ServiceAddress
	if addr == "" {
		addr = n.Address
	}
	return addr + ":" + strconv.Itoa(n.ServicePort)
}

// Registry is the contract every backend satisfies.
type Registry interface {
	// Get returns errors.ErrKeyNotFound when the key is absent.
	Get(ctx context.Context, key string) (KVPair, error)
	// List returns every pair whose key starts with prefix, or an empty slice.
	List(ctx context.Context, prefix string) ([]KVPair, error)
	Put(ctx context.Context, key string, value []byte) error
	// Create stores value only when key is absent. It returns
	// errors.ErrKeyExists otherwise.
	Create(ctx context.Context, key string, value []byte) error
	// Delete removes key, or every key under the prefix when recurse is set.
	// Deleting an absent key is not an error.
	Delete(ctx context.Context, key string, recurse bool) error

	// Services maps each registered service name to its tags.
	Services(ctx context.Context) (map[string][]string, error)
	ServiceHealth(ctx context.Context, name string) ([]ServiceHealth, error)
	ServiceNodes(ctx context.Context, name string) ([]ServiceNode, error)
}

// OpVerb selects the effect of a transaction operation.
type OpVerb int

// Transaction verbs.
const (
	OpSet OpVerb = iota
	OpDelete
)

// Op is one key operation inside a transaction.
type Op struct {
	Verb  OpVerb
	Key   string
	Value []byte
}

// Transactor is implemented by backends that apply several key operations
// atomically.
type Transactor interface {
	Txn(ctx context.Context, ops []Op) error
}

// ServiceRegistration describes a service instance to register.
type ServiceRegistration struct {
	ID      string         `json:"id"`
	Name    string         `json:"name"`
	Address string         `json:"address"`
	Port    int            `json:"port"`
	Tags    []string       `json:"tags,omitempty"`
	Checks  []health.Check `json:"checks,omitempty"`
}

// ServiceRegistrar is implemented by backends that accept service
// registrations from this process.
type ServiceRegistrar interface {
	RegisterService(ctx context.Context, reg ServiceRegistration) error
	DeregisterService(ctx context.Context, id string) error
}

// DockerLogin is one private registry credential used when pulling images.
type DockerLogin struct {
	Registry string `json:"registry"`
	Username string `json:"username"`
	Password string `json:"password"`
}

// DockerLogins reads the shared docker credentials. A missing key yields an
// empty list.
func DockerLogins(ctx context.Context, reg Registry) ([]DockerLogin, error) {
	pair, err := reg.Get(ctx, naming.DockerLoginsKey)
	if err != nil {
		if errors.Is(err, errors.ErrKeyNotFound) {
			return []DockerLogin{}, nil
		}
		return nil, err
	}
	var logins []DockerLogin
	if err := json.Unmarshal(pair.Value, &logins); err != nil {
		return nil, errors.WrapInvalid(err, "registry", "DockerLogins", "decode logins")
	}
	return logins, nil
}

// ClearUser removes every key owned by user.
func ClearUser(ctx context.Context, reg Registry, user string) error {
	if user == "" {
		return errors.Invalid("registry", "ClearUser", "user is required")
	}
	return reg.Delete(ctx, user+".", true)
}

// Open connects to the backend selected by the profile.
func Open(ctx context.Context, profile config.Profile, logger *slog.Logger) (Registry, func(context.Context) error, error) {
	if logger == nil {
		logger = slog.Default()
	}
	noop := func(context.Context) error { return nil }

	switch profile.Backend() {
	case config.BackendConsul:
		c, err := NewConsul(profile.ConsulHost, logger)
		if err != nil {
			return nil, nil, err
		}
		return c, noop, nil
	case config.BackendNATS:
		n, err := NewNATS(ctx, profile.NATSURL, logger)
		if err != nil {
			return nil, nil, err
		}
		return n, n.Close, nil
	case config.BackendMemory:
		return NewMemory(), noop, nil
	default:
		return nil, nil, errors.Invalid("registry", "Open", "unknown backend "+profile.RegistryBackend)
	}
}
