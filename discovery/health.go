package discovery

import (
	"context"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"golang.org/x/sync/singleflight"

	"github.com/c360/onboard/health"
	"github.com/c360/onboard/registry"
)

// DefaultHealthTTL is how long a cached classification stays valid.
const DefaultHealthTTL = 2 * time.Second

// ClassifyHealth reports Healthy iff the registry has at least one entry for
// instance with every check passing. No entry at all is Defective.
func ClassifyHealth(ctx context.Context, reg registry.Registry, instance string) (health.State, error) {
	entries, err := reg.ServiceHealth(ctx, instance)
	if err != nil {
		return health.Defective, err
	}
	checks := make([][]health.Check, 0, len(entries))
	for _, e := range entries {
		checks = append(checks, e.Checks)
	}
	return health.Classify(checks), nil
}

// InstanceStatus reports the health of instance together with the output
// of its failing checks.
func InstanceStatus(ctx context.Context, reg registry.Registry, instance string) (health.Status, error) {
	entries, err := reg.ServiceHealth(ctx, instance)
	if err != nil {
		return health.Status{}, err
	}
	var (
		all    []health.Check
		groups = make([][]health.Check, 0, len(entries))
	)
	for _, e := range entries {
		groups = append(groups, e.Checks)
		all = append(all, e.Checks...)
	}
	return health.FromChecks(instance, health.Classify(groups), all), nil
}

// StateFunc classifies a single instance.
type StateFunc func(ctx context.Context, instance string) (health.State, error)

// StateFilter accepts instances whose state equals want.
func StateFilter(classify StateFunc, want health.State) Filter {
	return func(ctx context.Context, instance string) (bool, error) {
		state, err := classify(ctx, instance)
		if err != nil {
			return false, err
		}
		return state == want, nil
	}
}

func registryState(reg registry.Registry) StateFunc {
	return func(ctx context.Context, instance string) (health.State, error) {
		return ClassifyHealth(ctx, reg, instance)
	}
}

// Healthy accepts instances the registry reports as healthy.
func Healthy(reg registry.Registry) Filter {
	return StateFilter(registryState(reg), health.Healthy)
}

// Defective accepts instances that are known but not healthy.
func Defective(reg registry.Registry) Filter {
	return StateFilter(registryState(reg), health.Defective)
}

// HealthCache memoizes ClassifyHealth per instance. Concurrent lookups of the
// same instance share one registry call.
type HealthCache struct {
	reg   registry.Registry
	cache *gocache.Cache
	group singleflight.Group
}

// NewHealthCache creates a cache whose entries expire after ttl. A
// non-positive ttl uses DefaultHealthTTL.
func NewHealthCache(reg registry.Registry, ttl time.Duration) *HealthCache {
	if ttl <= 0 {
		ttl = DefaultHealthTTL
	}
	return &HealthCache{
		reg:   reg,
		cache: gocache.New(ttl, 2*ttl),
	}
}

// Classify returns the cached state of instance, querying the registry on a
// miss. Errors are not cached.
func (c *HealthCache) Classify(ctx context.Context, instance string) (health.State, error) {
	if v, ok := c.cache.Get(instance); ok {
		if state, ok := v.(health.State); ok {
			return state, nil
		}
	}
	v, err, _ := c.group.Do(instance, func() (any, error) {
		state, err := ClassifyHealth(ctx, c.reg, instance)
		if err != nil {
			return health.Defective, err
		}
		c.cache.SetDefault(instance, state)
		return state, nil
	})
	if err != nil {
		return health.Defective, err
	}
	return v.(health.State), nil
}

// Invalidate drops the cached state of instance.
func (c *HealthCache) Invalidate(instance string) {
	c.cache.Delete(instance)
}

// Flush drops every cached state.
func (c *HealthCache) Flush() {
	c.cache.Flush()
}

// Healthy accepts instances classified healthy.
func (c *HealthCache) Healthy() Filter {
	return StateFilter(c.Classify, health.Healthy)
}

// Defective accepts instances classified defective.
func (c *HealthCache) Defective() Filter {
	return StateFilter(c.Classify, health.Defective)
}
