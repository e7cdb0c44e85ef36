// Package deploy runs and removes component instances: docker containers
// through the docker daemon and CDAP applications through the CDAP broker.
package deploy

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"slices"
	"strings"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/api/types/image"
	dockerregistry "github.com/docker/docker/api/types/registry"
	"github.com/docker/docker/client"
	"github.com/docker/go-connections/nat"

	"github.com/c360/onboard/catalog"
	"github.com/c360/onboard/config"
	"github.com/c360/onboard/errors"
	"github.com/c360/onboard/pkg/tlsutil"
	"github.com/c360/onboard/registry"
)

// Engine is the part of the docker daemon used for deployment.
type Engine interface {
	// FindContainer looks up a container by exact name.
	FindContainer(ctx context.Context, name string) (id string, running, found bool, err error)
	CreateContainer(ctx context.Context, name string, cfg *container.Config, host *container.HostConfig) (string, error)
	StartContainer(ctx context.Context, id string) error
	// WaitContainer blocks until the container stops and returns its exit code.
	WaitContainer(ctx context.Context, id string) (int64, error)
	RemoveContainer(ctx context.Context, id string, force bool) error
	PullImage(ctx context.Context, ref, auth string) error
	ImageExists(ctx context.Context, ref string) (bool, error)
	RemoveImage(ctx context.Context, ref string) error
	Close() error
}

type engine struct {
	cli *client.Client
}

// NewEngine connects to the docker daemon at host, or to the daemon named by
// the DOCKER_HOST environment when host is empty.
func NewEngine(host string, tlsCfg tlsutil.ClientConfig) (Engine, error) {
	opts := []client.Opt{client.FromEnv, client.WithAPIVersionNegotiation()}
	if tlsCfg.Enabled() {
		tc, err := tlsutil.LoadClientTLSConfig(tlsCfg)
		if err != nil {
			return nil, err
		}
		opts = append(opts, client.WithHTTPClient(&http.Client{Transport: &http.Transport{TLSClientConfig: tc}}))
	}
	if host != "" {
		if !strings.Contains(host, "://") {
			host = "tcp://" + host
		}
		opts = append(opts, client.WithHost(host))
	}

	cli, err := client.NewClientWithOpts(opts...)
	if err != nil {
		return nil, errors.WrapFatal(err, "Engine", "NewEngine", "create docker client")
	}
	return &engine{cli: cli}, nil
}

func (e *engine) FindContainer(ctx context.Context, name string) (string, bool, bool, error) {
	list, err := e.cli.ContainerList(ctx, container.ListOptions{
		All:     true,
		Filters: filters.NewArgs(filters.Arg("name", "^/"+name+"$")),
	})
	if err != nil {
		return "", false, false, errors.WrapTransient(err, "Engine", "FindContainer", "list containers")
	}
	if len(list) == 0 {
		return "", false, false, nil
	}
	return list[0].ID, list[0].State == "running", true, nil
}

func (e *engine) CreateContainer(ctx context.Context, name string, cfg *container.Config, host *container.HostConfig) (string, error) {
	resp, err := e.cli.ContainerCreate(ctx, cfg, host, nil, nil, name)
	if err != nil {
		return "", errors.WrapTransient(err, "Engine", "CreateContainer", "create "+name)
	}
	return resp.ID, nil
}

func (e *engine) StartContainer(ctx context.Context, id string) error {
	return errors.WrapTransient(e.cli.ContainerStart(ctx, id, container.StartOptions{}), "Engine", "StartContainer", "start "+id)
}

func (e *engine) WaitContainer(ctx context.Context, id string) (int64, error) {
	statusCh, errCh := e.cli.ContainerWait(ctx, id, container.WaitConditionNotRunning)
	select {
	case status := <-statusCh:
		return status.StatusCode, nil
	case err := <-errCh:
		return 0, err
	}
}

func (e *engine) RemoveContainer(ctx context.Context, id string, force bool) error {
	return e.cli.ContainerRemove(ctx, id, container.RemoveOptions{Force: force})
}

func (e *engine) PullImage(ctx context.Context, ref, auth string) error {
	rc, err := e.cli.ImagePull(ctx, ref, image.PullOptions{RegistryAuth: auth})
	if err != nil {
		return err
	}
	defer rc.Close()
	_, err = io.Copy(io.Discard, rc)
	return err
}

func (e *engine) ImageExists(ctx context.Context, ref string) (bool, error) {
	if _, err := e.cli.ImageInspect(ctx, ref); err != nil {
		if client.IsErrNotFound(err) {
			return false, nil
		}
		return false, errors.WrapTransient(err, "Engine", "ImageExists", "inspect "+ref)
	}
	return true, nil
}

func (e *engine) RemoveImage(ctx context.Context, ref string) error {
	_, err := e.cli.ImageRemove(ctx, ref, image.RemoveOptions{})
	return err
}

func (e *engine) Close() error {
	return e.cli.Close()
}

// Docker deploys docker components.
type Docker struct {
	engine     Engine
	profile    config.Profile
	logger     *slog.Logger
	lookupHost func(host string) ([]string, error)
}

// NewDocker connects to the docker host of profile.
func NewDocker(profile config.Profile, logger *slog.Logger) (*Docker, error) {
	eng, err := NewEngine(profile.DockerHost, profile.TLS)
	if err != nil {
		return nil, err
	}
	return NewDockerWithEngine(eng, profile, logger), nil
}

// NewDockerWithEngine wraps an existing engine.
func NewDockerWithEngine(eng Engine, profile config.Profile, logger *slog.Logger) *Docker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Docker{engine: eng, profile: profile, logger: logger, lookupHost: net.LookupHost}
}

// Close releases the daemon connection.
func (d *Docker) Close() error {
	return d.engine.Close()
}

// ImageExists reports whether image is available to the daemon.
func (d *Docker) ImageExists(ctx context.Context, image string) (bool, error) {
	return d.engine.ImageExists(ctx, image)
}

// DockerRequest describes one container to run.
type DockerRequest struct {
	Image    string
	Instance string
	Config   catalog.DockerConfig
	Logins   []registry.DockerLogin
	// Wait blocks until the container exits. Cancelling the context stops
	// and removes the container.
	Wait bool
}

// Deploy runs the container named req.Instance. A container of that name
// that is already running is reused; a stopped one is replaced.
func (d *Docker) Deploy(ctx context.Context, req DockerRequest) (string, error) {
	host, err := d.hostConfig(req.Config)
	if err != nil {
		return "", err
	}
	cfg := &container.Config{
		Image:        req.Image,
		Hostname:     req.Instance,
		Env:          EnvList(BuildEnvs(d.profile, req.Config, req.Instance)),
		ExposedPorts: nat.PortSet{},
	}
	for port := range host.PortBindings {
		cfg.ExposedPorts[port] = struct{}{}
	}

	id, running, found, err := d.engine.FindContainer(ctx, req.Instance)
	if err != nil {
		return "", err
	}
	if found && running {
		d.logger.Info("Container was detected as already running", "container", req.Instance)
		return id, nil
	}
	if found {
		if err := d.engine.RemoveContainer(ctx, id, false); err != nil {
			return "", deployFailed(err, "remove stopped container "+req.Instance)
		}
	}

	if err := d.pull(ctx, req.Image, req.Logins); err != nil {
		return "", err
	}

	id, err = d.engine.CreateContainer(ctx, req.Instance, cfg, host)
	if err != nil {
		return "", deployFailed(err, "create container "+req.Instance)
	}
	if err := d.engine.StartContainer(ctx, id); err != nil {
		return "", deployFailed(err, "start container "+req.Instance)
	}
	d.logger.Info("Running image", "image", req.Image, "container", req.Instance)

	if !req.Wait {
		return id, nil
	}

	code, err := d.engine.WaitContainer(ctx, id)
	if ctx.Err() != nil {
		d.logger.Info("Stopping container and cleaning up", "container", req.Instance)
		if err := d.engine.RemoveContainer(context.WithoutCancel(ctx), id, true); err != nil {
			d.logger.Error("Failed to remove container", "container", req.Instance, "error", err)
		}
		return id, nil
	}
	if err != nil {
		return id, errors.WrapTransient(err, "Docker", "Deploy", "wait for "+req.Instance)
	}
	d.logger.Info("Container exited", "container", req.Instance, "exit_code", code)
	return id, nil
}

func deployFailed(err error, action string) error {
	return errors.WrapFatal(errors.Join(errors.ErrDeployFailed, err), "Docker", "Deploy", action)
}

// pull fetches image, tolerating failure when a local copy exists.
func (d *Docker) pull(ctx context.Context, ref string, logins []registry.DockerLogin) error {
	auth, err := registryAuth(ref, logins)
	if err != nil {
		return err
	}
	pullErr := d.engine.PullImage(ctx, ref, auth)
	if pullErr == nil {
		return nil
	}
	ok, err := d.engine.ImageExists(ctx, ref)
	if err != nil || !ok {
		return deployFailed(pullErr, "pull image "+ref)
	}
	d.logger.Warn("Image pull failed; using local image", "image", ref, "error", pullErr)
	return nil
}

// registryAuth returns the encoded credentials of the login whose registry
// hosts ref, or "" when none does.
func registryAuth(ref string, logins []registry.DockerLogin) (string, error) {
	host := imageRegistry(ref)
	for _, l := range logins {
		if l.Registry != host {
			continue
		}
		auth, err := dockerregistry.EncodeAuthConfig(dockerregistry.AuthConfig{
			Username:      l.Username,
			Password:      l.Password,
			ServerAddress: l.Registry,
		})
		if err != nil {
			return "", errors.WrapInvalid(err, "Docker", "registryAuth", "encode credentials for "+host)
		}
		return auth, nil
	}
	return "", nil
}

// imageRegistry returns the registry host of an image reference, or "" for
// images on the default registry.
func imageRegistry(ref string) string {
	first, _, found := strings.Cut(ref, "/")
	if !found {
		return ""
	}
	if strings.ContainsAny(first, ".:") || first == "localhost" {
		return first
	}
	return ""
}

// hostConfig builds port, volume and DNS settings. Ports are written
// "<container port>:<host port>".
func (d *Docker) hostConfig(cfg catalog.DockerConfig) (*container.HostConfig, error) {
	host := &container.HostConfig{PortBindings: nat.PortMap{}}

	for _, mapping := range cfg.Ports {
		containerPort, hostPort, ok := strings.Cut(mapping, ":")
		if !ok {
			return nil, errors.Invalid("Docker", "hostConfig", fmt.Sprintf("port mapping %q is not container:host", mapping))
		}
		port, err := nat.NewPort("tcp", containerPort)
		if err != nil {
			return nil, errors.WrapInvalid(err, "Docker", "hostConfig", "parse port "+mapping)
		}
		host.PortBindings[port] = append(host.PortBindings[port], nat.PortBinding{HostPort: hostPort})
	}

	for _, v := range cfg.Volumes {
		bind := v.Host.Path + ":" + v.Container.Bind
		if v.Container.Mode != "" {
			bind += ":" + v.Container.Mode
		}
		host.Binds = append(host.Binds, bind)
	}

	if name := DockerHostname(d.profile.DockerHost); name != "" {
		ips, err := d.lookupHost(name)
		if err != nil || len(ips) == 0 {
			return nil, errors.WrapFatal(errors.Join(errors.ErrDeployFailed, err), "Docker", "hostConfig",
				"resolve docker host "+name)
		}
		host.DNS = []string{ips[0]}
	}
	return host, nil
}

// DockerHostname returns the host name of a docker daemon address, or "" for
// local sockets.
func DockerHostname(dockerHost string) string {
	if _, rest, ok := strings.Cut(dockerHost, "://"); ok {
		if strings.HasPrefix(dockerHost, "unix") || strings.HasPrefix(dockerHost, "npipe") {
			return ""
		}
		dockerHost = rest
	}
	name, _, _ := strings.Cut(dockerHost, ":")
	return name
}

// Undeploy force-removes the container and then its image. It reports
// whether both were removed.
func (d *Docker) Undeploy(ctx context.Context, image, instance string) bool {
	if err := d.engine.RemoveContainer(ctx, instance, true); err != nil {
		d.logger.Error("Error while undeploying docker container", "container", instance, "error", err)
		return false
	}
	if err := d.engine.RemoveImage(ctx, image); err != nil {
		d.logger.Error("Error while removing docker image", "image", image, "error", err)
		return false
	}
	return true
}

// BuildEnvs returns the container environment: the profile settings
// upper-cased, the instance name as HOSTNAME and SERVICE_NAME, and the
// healthcheck settings read by the registrator.
func BuildEnvs(profile config.Profile, cfg catalog.DockerConfig, instance string) map[string]string {
	envs := make(map[string]string)
	for k, v := range profile.EnvFields() {
		envs[strings.ToUpper(k)] = v
	}
	for k, v := range healthcheckEnvs(cfg.Healthcheck) {
		envs[k] = v
	}
	envs["HOSTNAME"] = instance
	envs["SERVICE_NAME"] = instance
	return envs
}

func healthcheckEnvs(hc catalog.Healthcheck) map[string]string {
	envs := make(map[string]string)
	switch hc.Type {
	case "http":
		envs["SERVICE_CHECK_HTTP"] = hc.Endpoint
	case "https":
		envs["SERVICE_CHECK_HTTPS"] = hc.Endpoint
		envs["SERVICE_CHECK_TLS_SKIP_VERIFY"] = "true"
	case "script":
		envs["SERVICE_CHECK_SCRIPT"] = hc.Script
	case "docker":
		envs["SERVICE_CHECK_DOCKER_SCRIPT"] = hc.Script
	default:
		return envs
	}
	envs["SERVICE_CHECK_INTERVAL"] = hc.Interval
	envs["SERVICE_CHECK_TIMEOUT"] = hc.Timeout
	return envs
}

// EnvList formats envs as sorted KEY=VALUE entries.
func EnvList(envs map[string]string) []string {
	out := make([]string, 0, len(envs))
	for k, v := range envs {
		out = append(out, k+"="+v)
	}
	slices.Sort(out)
	return out
}

