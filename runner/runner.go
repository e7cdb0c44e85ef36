// Package runner orchestrates component runs: it discovers downstream
// instances, publishes the materialized configuration and hands the instance
// to the docker or CDAP deployer.
package runner

import (
	"context"
	"log/slog"
	"time"

	"github.com/c360/onboard/appconfig"
	"github.com/c360/onboard/catalog"
	"github.com/c360/onboard/config"
	"github.com/c360/onboard/deploy"
	"github.com/c360/onboard/discovery"
	"github.com/c360/onboard/dmaap"
	"github.com/c360/onboard/errors"
	"github.com/c360/onboard/health"
	"github.com/c360/onboard/metric"
	"github.com/c360/onboard/naming"
	"github.com/c360/onboard/pkg/retry"
	"github.com/c360/onboard/registry"
	"github.com/c360/onboard/undeploy"
)

// Default health verification settings.
const (
	DefaultMaxWait      = 300 * time.Second
	DefaultPollInterval = time.Second
)

// DockerDeployer runs docker instances.
type DockerDeployer interface {
	Deploy(ctx context.Context, req deploy.DockerRequest) (string, error)
	Undeploy(ctx context.Context, image, instance string) bool
}

// CDAPDeployer runs CDAP applications.
type CDAPDeployer interface {
	Deploy(ctx context.Context, req deploy.CDAPRequest) error
	Undeploy(ctx context.Context, instance string) bool
}

// Runner ties the catalog, the registry and the deployers together. Docker
// and CDAP may be nil when the corresponding component type is not used.
type Runner struct {
	Registry registry.Registry
	Catalog  *catalog.Store
	Docker   DockerDeployer
	CDAP     CDAPDeployer
	Profile  config.Profile
	Logger   *slog.Logger
	Metrics  *metric.Metrics
	// Health, when set, caches instance classification across lookups.
	Health *discovery.HealthCache

	MaxWait      time.Duration
	PollInterval time.Duration
	// Parallelism bounds concurrent undeploys.
	Parallelism int
}

func (r *Runner) logger() *slog.Logger {
	if r.Logger == nil {
		return slog.Default()
	}
	return r.Logger
}

func (r *Runner) healthy() discovery.Filter {
	if r.Health != nil {
		return r.Health.Healthy()
	}
	return discovery.Healthy(r.Registry)
}

func (r *Runner) configOptions() []appconfig.Option {
	return []appconfig.Option{appconfig.WithLogger(r.Logger), appconfig.WithMetrics(r.Metrics)}
}

// RunRequest selects a catalog component to run.
type RunRequest struct {
	User    string
	Name    string
	Version string
	// AdditionalUser's instances are also considered as downstream
	// candidates.
	AdditionalUser string
	// Attached blocks until the container exits and always removes the
	// configuration afterwards.
	Attached bool
	Force    bool
	DMaaP    map[string]map[string]any
	Inputs   map[string]any
}

// Run deploys one instance of a catalog component.
func (r *Runner) Run(ctx context.Context, req RunRequest) error {
	ref, err := r.Catalog.Verify(ctx, req.Name, req.Version)
	if err != nil {
		return err
	}
	ctype, err := r.Catalog.ComponentType(ctx, ref.Name, ref.Version)
	if err != nil {
		return err
	}

	dir, err := discovery.UserInstances(ctx, r.Registry, req.User, req.AdditionalUser, r.healthy())
	if err != nil {
		return err
	}

	mrKeys, drKeys, err := r.Catalog.DiscoveryForDMaaP(ctx, ref.Name, ref.Version)
	if err != nil {
		return err
	}
	if !dmaap.ValidateEntries(r.logger(), req.DMaaP, mrKeys, drKeys) {
		return errors.WrapInvalid(errors.ErrDMaaPValidation, "Runner", "Run", "validate dmaap map")
	}

	switch ctype {
	case catalog.TypeDocker:
		return r.runDocker(ctx, ref, dir, req)
	case catalog.TypeCDAP:
		return r.runCDAP(ctx, ref, dir, req)
	default:
		return errors.WrapInvalid(errors.ErrUnsupportedComponentType, "Runner", "Run", "run "+ctype+" component")
	}
}

func (r *Runner) runDocker(ctx context.Context, ref naming.Ref, dir *discovery.Directory, req RunRequest) error {
	if r.Docker == nil {
		return errors.WrapFatal(errors.ErrMissingConfig, "Runner", "runDocker", "docker deployer is not configured")
	}
	params, interfaces, err := r.Catalog.GetDiscovery(ctx, ref.Name, ref.Version, catalog.Neighbors(dir))
	if err != nil {
		return err
	}
	comp, err := r.Catalog.Docker(ctx, ref.Name, ref.Version)
	if err != nil {
		return err
	}
	inputs, err := catalog.FilterInputs(req.Inputs, comp.Spec)
	if err != nil {
		return err
	}
	dmaapMap, err := updateDeliveryURLs(comp.Spec, hostOrLocal(deploy.DockerHostname(r.Profile.DockerHost)), req.DMaaP)
	if err != nil {
		return err
	}

	policy := appconfig.CleanupOnError
	if req.Attached {
		policy = appconfig.CleanupAlways
	}
	creq := appconfig.Request{
		CreateRequest: appconfig.CreateRequest{
			User:       req.User,
			Component:  ref,
			Params:     params,
			Interfaces: interfaces,
			Directory:  dir,
			DMaaP:      appconfig.DMaaPMap(dmaapMap),
			Force:      req.Force,
		},
		Inputs:     inputs,
		ConfigKeys: catalog.BuildConfigKeysMap(comp.Spec),
	}

	return appconfig.WithConfig(ctx, r.Registry, creq, policy, func(ctx context.Context, instance string, _ map[string]any) error {
		logins, err := registry.DockerLogins(ctx, r.Registry)
		if err != nil {
			return err
		}
		_, err = r.Docker.Deploy(ctx, deploy.DockerRequest{
			Image:    comp.Image,
			Instance: instance,
			Config:   comp.Config,
			Logins:   logins,
			Wait:     req.Attached,
		})
		r.Metrics.RecordDeployment(catalog.TypeDocker, err == nil)
		if err != nil {
			return err
		}
		if req.Attached {
			return nil
		}

		r.logger().Info("Deployed instance; verifying health", "instance", instance)
		healthy, err := r.VerifyHealthy(ctx, instance)
		if err != nil {
			return err
		}
		if !healthy {
			r.logger().Warn("Container never became healthy", "instance", instance)
			return nil
		}
		r.logger().Info("Container is up and healthy", "instance", instance)
		return r.reportDeliveryURLs(ctx, comp.Spec, instance, dmaapMap)
	}, r.configOptions()...)
}

// reportDeliveryURLs logs the data router delivery urls of a healthy
// instance so feeds can be provisioned by hand.
func (r *Runner) reportDeliveryURLs(ctx context.Context, spec *catalog.ComponentSpec, instance string, dmaapMap map[string]map[string]any) error {
	target, err := discovery.LookupInstance(ctx, r.Registry, instance)
	if err != nil {
		return err
	}
	dmaapMap, err = updateDeliveryURLs(spec, hostOrLocal(target), dmaapMap)
	if err != nil {
		return err
	}
	for _, u := range dmaap.ListDeliveryURLs(dmaapMap) {
		r.logger().Warn("Component is a data router subscriber; provision its feed", "config_key", u.ConfigKey, "delivery_url", u.URL)
	}
	return nil
}

func (r *Runner) runCDAP(ctx context.Context, ref naming.Ref, dir *discovery.Directory, req RunRequest) error {
	if r.CDAP == nil {
		return errors.WrapFatal(errors.ErrMissingConfig, "Runner", "runCDAP", "CDAP deployer is not configured")
	}
	comp, err := r.Catalog.CDAP(ctx, ref.Name, ref.Version)
	if err != nil {
		return err
	}
	inputs, err := catalog.FilterInputs(req.Inputs, comp.Spec)
	if err != nil {
		return err
	}
	params, interfaces, err := r.Catalog.GetDiscovery(ctx, ref.Name, ref.Version, catalog.Neighbors(dir))
	if err != nil {
		return err
	}

	creq := appconfig.Request{
		CreateRequest: appconfig.CreateRequest{
			User:       req.User,
			Component:  ref,
			Params:     params,
			Interfaces: interfaces,
			Directory:  dir,
			DMaaP:      appconfig.DMaaPMap(req.DMaaP),
			Force:      req.Force,
		},
		Inputs:     inputs,
		ConfigKeys: catalog.BuildConfigKeysMap(comp.Spec),
	}

	return appconfig.WithConfig(ctx, r.Registry, creq, appconfig.CleanupOnError, func(ctx context.Context, instance string, grouped map[string]any) error {
		err := r.CDAP.Deploy(ctx, deploy.CDAPRequest{
			Instance:  instance,
			Component: comp,
			Params:    params,
			Config:    grouped,
		})
		r.Metrics.RecordDeployment(catalog.TypeCDAP, err == nil)
		return err
	}, r.configOptions()...)
}

// DevRequest describes a component under development that is not
// necessarily in the catalog.
type DevRequest struct {
	User           string
	Spec           *catalog.ComponentSpec
	AdditionalUser string
	Force          bool
	DMaaP          map[string]map[string]any
	Inputs         map[string]any
}

// ReadyFunc is called while a development configuration is published.
// envs holds the container environment for docker components and is nil for
// CDAP components. The configuration is removed when it returns.
type ReadyFunc func(ctx context.Context, instance string, envs map[string]string) error

// Dev publishes the configuration of a prospective spec so that its author
// can run the component by hand.
func (r *Runner) Dev(ctx context.Context, req DevRequest, ready ReadyFunc) error {
	dir, err := discovery.UserInstances(ctx, r.Registry, req.User, req.AdditionalUser, r.healthy())
	if err != nil {
		return err
	}
	disc, err := r.Catalog.GetDiscoveryFromSpec(ctx, req.User, req.Spec, catalog.Neighbors(dir))
	if err != nil {
		return err
	}
	if !dmaap.ValidateEntries(r.logger(), req.DMaaP, disc.MRKeys, disc.DRKeys) {
		return errors.WrapInvalid(errors.ErrDMaaPValidation, "Runner", "Dev", "validate dmaap map")
	}
	inputs, err := catalog.FilterInputs(req.Inputs, req.Spec)
	if err != nil {
		return err
	}
	dmaapMap, err := updateDeliveryURLs(req.Spec, "localhost", req.DMaaP)
	if err != nil {
		return err
	}

	var dockerCfg *catalog.DockerConfig
	if req.Spec.Self.ComponentType == catalog.TypeDocker {
		cfg, err := req.Spec.DockerConfig()
		if err != nil {
			return err
		}
		dockerCfg = &cfg
	}

	creq := appconfig.Request{
		CreateRequest: appconfig.CreateRequest{
			User:       req.User,
			Component:  req.Spec.Ref(),
			Params:     disc.Params,
			Interfaces: disc.Interfaces,
			Directory:  dir,
			DMaaP:      appconfig.DMaaPMap(dmaapMap),
			Force:      req.Force,
		},
		Inputs:     inputs,
		ConfigKeys: catalog.BuildConfigKeysMap(req.Spec),
	}

	return appconfig.WithConfig(ctx, r.Registry, creq, appconfig.CleanupAlways, func(ctx context.Context, instance string, _ map[string]any) error {
		var envs map[string]string
		if dockerCfg != nil {
			envs = deploy.BuildEnvs(r.Profile, *dockerCfg, instance)
		}
		return ready(ctx, instance, envs)
	}, r.configOptions()...)
}

// Undeploy tears down every healthy and defective instance of a component
// owned by user. It returns the instances that failed.
func (r *Runner) Undeploy(ctx context.Context, user, name, version string) ([]string, error) {
	ref, err := r.Catalog.Verify(ctx, name, version)
	if err != nil {
		return nil, err
	}
	ctype, err := r.Catalog.ComponentType(ctx, ref.Name, ref.Version)
	if err != nil {
		return nil, err
	}

	var fn undeploy.Func
	switch ctype {
	case catalog.TypeDocker:
		if r.Docker == nil {
			return nil, errors.WrapFatal(errors.ErrMissingConfig, "Runner", "Undeploy", "docker deployer is not configured")
		}
		image, err := r.Catalog.DockerImage(ctx, ref.Name, ref.Version)
		if err != nil {
			return nil, err
		}
		fn = func(ctx context.Context, instance string) bool {
			return r.Docker.Undeploy(ctx, image, instance)
		}
	case catalog.TypeCDAP:
		if r.CDAP == nil {
			return nil, errors.WrapFatal(errors.ErrMissingConfig, "Runner", "Undeploy", "CDAP deployer is not configured")
		}
		fn = r.CDAP.Undeploy
	default:
		return nil, errors.WrapInvalid(errors.ErrUnsupportedComponentType, "Runner", "Undeploy", "undeploy "+ctype+" component")
	}

	if r.Health != nil {
		teardown := fn
		fn = func(ctx context.Context, instance string) bool {
			defer r.Health.Invalidate(instance)
			return teardown(ctx, instance)
		}
	}

	deps := undeploy.Deps{
		Registry: r.Registry,
		Handler:  undeploy.Handler{Parallelism: r.Parallelism, Metrics: r.Metrics},
		Logger:   r.logger(),
		Options:  r.configOptions(),
	}
	failures, _, err := undeploy.Component(ctx, deps, user, ref.Name, ref.Version, fn)
	return failures, err
}

// VerifyHealthy polls the registry until instance is healthy or MaxWait
// elapses. A MaxWait of zero or less polls until ctx is done.
func (r *Runner) VerifyHealthy(ctx context.Context, instance string) (bool, error) {
	interval := r.PollInterval
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	attempts := 0
	if r.MaxWait > 0 {
		attempts = max(int(r.MaxWait/interval), 1)
	}

	start := time.Now()
	err := retry.Poll(ctx, interval, attempts, func(ctx context.Context) (bool, error) {
		state, err := discovery.ClassifyHealth(ctx, r.Registry, instance)
		if err != nil {
			r.logger().Debug("Health lookup failed", "instance", instance, "error", err)
			return false, nil
		}
		return state == health.Healthy, nil
	})
	r.Metrics.RecordHealthWait(time.Since(start))
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, retry.ErrPollExhausted):
		return false, nil
	default:
		return false, errors.WrapTransient(err, "Runner", "VerifyHealthy", "poll "+instance)
	}
}

func updateDeliveryURLs(spec *catalog.ComponentSpec, host string, m map[string]map[string]any) (map[string]map[string]any, error) {
	if len(m) == 0 {
		return m, nil
	}
	route := func(configKey string) (string, error) {
		return catalog.DataRouterSubscriberRoute(spec, configKey)
	}
	return dmaap.UpdateDeliveryURLs(route, "http://"+host, m)
}

func hostOrLocal(host string) string {
	if host == "" {
		return "localhost"
	}
	return host
}
