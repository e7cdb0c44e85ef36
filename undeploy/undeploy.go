// Package undeploy tears down component instances. Every teardown action runs
// for every instance regardless of earlier failures, and outcomes are
// collected per instance rather than returned as errors.
package undeploy

import (
	"context"
	"log/slog"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/c360/onboard/appconfig"
	"github.com/c360/onboard/discovery"
	"github.com/c360/onboard/metric"
	"github.com/c360/onboard/registry"
)

// Func is one idempotent teardown action. It reports whether the action
// succeeded.
type Func func(ctx context.Context, instance string) bool

// Row holds the outcome of every Func for one instance, in order.
type Row struct {
	Instance string
	Results  []bool
}

// Failed reports whether any action failed.
func (r Row) Failed() bool {
	for _, ok := range r.Results {
		if !ok {
			return true
		}
	}
	return false
}

// Handler runs teardown actions across instances.
type Handler struct {
	// Parallelism bounds concurrently handled instances. Values below 2 run
	// sequentially.
	Parallelism int
	Metrics     *metric.Metrics
}

// Handle runs every func for every instance. Rows come back in instance order.
// An instance is a failure iff any of its results is false. No instances
// yields nil slices without calling any func.
func (h Handler) Handle(ctx context.Context, funcs []Func, instances []string) (failures []string, rows []Row) {
	if len(instances) == 0 {
		return nil, nil
	}

	rows = make([]Row, len(instances))
	run := func(i int) {
		inst := instances[i]
		results := make([]bool, 0, len(funcs))
		for _, fn := range funcs {
			results = append(results, fn(ctx, inst))
		}
		rows[i] = Row{Instance: inst, Results: results}
	}

	if h.Parallelism < 2 {
		for i := range instances {
			run(i)
		}
	} else {
		var g errgroup.Group
		g.SetLimit(h.Parallelism)
		for i := range instances {
			i := i
			g.Go(func() error {
				run(i)
				return nil
			})
		}
		_ = g.Wait()
	}

	for _, row := range rows {
		failed := row.Failed()
		h.Metrics.RecordUndeploy(!failed)
		if failed {
			failures = append(failures, row.Instance)
		}
	}
	return failures, rows
}

// Handle runs funcs sequentially across instances.
func Handle(ctx context.Context, funcs []Func, instances []string) ([]string, []Row) {
	return Handler{}.Handle(ctx, funcs, instances)
}

// Report logs the outcome of Handle. Failures are warnings since instances may
// already be partially torn down.
func Report(logger *slog.Logger, failures []string, rows []Row) {
	if logger == nil {
		logger = slog.Default()
	}
	if len(failures) > 0 {
		logger.Warn("Some components failed to undeploy; they may already be partially torn down",
			"failed", len(failures), "total", len(rows), "instances", strings.Join(failures, ", "))
	}
	if len(rows) == 0 {
		logger.Warn("No components found to undeploy")
		return
	}
	logger.Info("Undeployed components", "count", len(rows)-len(failures), "total", len(rows))
}

// RemoveConfigFunc returns a Func removing the registry configuration of an
// instance.
func RemoveConfigFunc(reg registry.Registry, opts ...appconfig.Option) Func {
	return func(ctx context.Context, instance string) bool {
		ok, _ := appconfig.Remove(ctx, reg, instance, opts...)
		return ok
	}
}

// Deps are the collaborators of Component.
type Deps struct {
	Registry registry.Registry
	Handler  Handler
	Logger   *slog.Logger
	Options  []appconfig.Option
}

// Component undeploys every healthy and defective instance of one component
// with undeployFn followed by configuration removal. Failures are reported,
// not returned; the error is only for registry lookups.
func Component(ctx context.Context, deps Deps, user, name, version string, undeployFn Func) ([]string, []Row, error) {
	healthy, defective, err := discovery.InstancesByHealth(ctx, deps.Registry, user, name, version)
	if err != nil {
		return nil, nil, err
	}
	instances := append(healthy, defective...)

	funcs := []Func{undeployFn, RemoveConfigFunc(deps.Registry, deps.Options...)}
	failures, rows := deps.Handler.Handle(ctx, funcs, instances)
	Report(deps.Logger, failures, rows)
	return failures, rows, nil
}
