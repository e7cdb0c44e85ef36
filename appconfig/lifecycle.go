package appconfig

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/c360/onboard/discovery"
	"github.com/c360/onboard/errors"
	"github.com/c360/onboard/naming"
	"github.com/c360/onboard/registry"
)

// CleanupPolicy decides when WithConfig removes the published configuration.
type CleanupPolicy int

const (
	// CleanupAlways removes the configuration when the block returns.
	CleanupAlways CleanupPolicy = iota
	// CleanupOnError removes it only when creation, publication or the block
	// failed, leaving it in place for a long running deployment.
	CleanupOnError
)

func (p CleanupPolicy) String() string {
	if p == CleanupOnError {
		return "on_error"
	}
	return "always"
}

// cleanupTimeout bounds the removal that runs after the caller's context is
// done.
const cleanupTimeout = 30 * time.Second

// Request is the input of WithConfig.
type Request struct {
	CreateRequest
	Inputs     map[string]any
	ConfigKeys ConfigKeyMap
}

// Block is the body run while the configuration is published. key is the
// instance name and grouped the configuration as stored.
type Block func(ctx context.Context, key string, grouped map[string]any) error

// WithConfig creates, groups and publishes a configuration, runs fn, and then
// removes the configuration according to policy. Removal also runs when the
// build itself fails, when ctx is cancelled, and when fn panics. Keys that
// were never written make it a no-op. The error of the build or of fn is
// returned unchanged. A removal error is logged, and returned only when there
// was no other error.
func WithConfig(ctx context.Context, reg registry.Registry, req Request, policy CleanupPolicy, fn Block, opts ...Option) (err error) {
	o := buildOptions(opts)

	if req.InstanceSuffix == "" {
		req.InstanceSuffix = uuid.NewString()
	}
	configKey := naming.KeysFor(req.User, req.InstanceSuffix, req.Component.Name, req.Component.Version).Config

	defer func() {
		r := recover()
		failed := err != nil || r != nil
		if policy == CleanupAlways || failed {
			cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cleanupTimeout)
			ok, rerr := Remove(cctx, reg, configKey, opts...)
			cancel()
			if !ok {
				o.logger.Warn("Config cleanup incomplete", "key", configKey, "error", rerr)
				if err == nil && r == nil {
					err = rerr
				}
			}
		}
		if r != nil {
			panic(r)
		}
	}()

	m, err := CreateConfig(req.CreateRequest)
	if err != nil {
		if errors.Is(err, errors.ErrNoDownstreamComponent) {
			o.metrics.RecordNoDownstream()
		}
		return err
	}
	for _, d := range m.Diagnostics {
		o.metrics.RecordDiagnostic(d.Kind.String())
	}
	discovery.LogDiagnostics(o.logger, m.Diagnostics)

	m.Config = GroupConfig(ApplyInputs(m.Config, req.Inputs), req.ConfigKeys)
	if err := ctx.Err(); err != nil {
		return errors.WrapTransient(err, "appconfig", "WithConfig", "publish "+configKey)
	}
	if err := Push(ctx, reg, m, opts...); err != nil {
		return err
	}
	o.logger.Info("Published config", "key", configKey, "rels", len(m.Rels), "cleanup", policy.String())

	return fn(ctx, configKey, m.Config)
}
