package deploy

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"net/http"
	"strings"
	"time"
	"unicode"

	"github.com/c360/onboard/appconfig"
	"github.com/c360/onboard/catalog"
	"github.com/c360/onboard/config"
	"github.com/c360/onboard/errors"
	"github.com/c360/onboard/pkg/tlsutil"
	"github.com/c360/onboard/registry"
)

const brokerTimeout = 60 * time.Second

// CDAP deploys CDAP applications through the CDAP broker. The broker is
// located through the registry by its service name.
type CDAP struct {
	reg     registry.Registry
	profile config.Profile
	client  *http.Client
	logger  *slog.Logger
	scheme  string
}

// NewCDAP creates a broker client for profile.
func NewCDAP(reg registry.Registry, profile config.Profile, logger *slog.Logger) (*CDAP, error) {
	if logger == nil {
		logger = slog.Default()
	}
	c := &CDAP{
		reg:     reg,
		profile: profile,
		client:  &http.Client{Timeout: brokerTimeout},
		logger:  logger,
		scheme:  "http",
	}
	if profile.TLS.Enabled() {
		tc, err := tlsutil.LoadClientTLSConfig(profile.TLS)
		if err != nil {
			return nil, err
		}
		c.client.Transport = &http.Transport{TLSClientConfig: tc}
		c.scheme = "https"
	}
	return c, nil
}

// BrokerURL returns the base url of the first registered broker instance.
func (c *CDAP) BrokerURL(ctx context.Context) (string, error) {
	nodes, err := c.reg.ServiceNodes(ctx, c.profile.CDAPBroker)
	if err != nil {
		return "", err
	}
	if len(nodes) == 0 {
		return "", errors.WrapFatal(errors.ErrDeployFailed, "CDAP", "BrokerURL",
			fmt.Sprintf("find broker service %q", c.profile.CDAPBroker))
	}
	return c.scheme + "://" + nodes[0].HostPort(), nil
}

// CDAPRequest describes one application to register with the broker.
type CDAPRequest struct {
	Instance  string
	Component catalog.CDAPComponent
	Params    map[string]any
	// Config is the grouped application configuration.
	Config map[string]any
}

// NormalizeParams returns the parameters of a CDAP spec in broker form.
func NormalizeParams(spec *catalog.ComponentSpec) map[string]any {
	return catalog.NormalizeCDAPParams(spec.Parameters.CDAP)
}

// BrokerPut builds the broker registration body. The grouped sections of the
// templated configuration are added to app_config.
func BrokerPut(req CDAPRequest) map[string]any {
	cfg := req.Component.Config
	spec := req.Component.Spec

	services := make([]any, 0, len(spec.Services.Provides))
	for _, p := range spec.Services.Provides {
		services = append(services, map[string]any{
			"service_name":     p.ServiceName,
			"service_endpoint": p.ServiceEndpoint,
			"endpoint_method":  p.Verb,
		})
	}

	put := map[string]any{
		"cdap_application_type":  "program-flowlet",
		"service_component_type": spec.Self.ComponentType,
		"jar_url":                req.Component.Jar,
		"artifact_name":          cfg.ArtifactName,
		"artifact_version":       cfg.ArtifactVersion,
		"programs":               cfg.Programs,
		"streamname":             cfg.StreamName,
		"services":               services,
	}
	if cfg.Namespace != "" {
		put["namespace"] = cfg.Namespace
	}
	maps.Copy(put, req.Params)

	appConfig := make(map[string]any)
	if existing, ok := put["app_config"].(map[string]any); ok {
		maps.Copy(appConfig, existing)
	}
	for _, group := range appconfig.Groups {
		appConfig[group] = req.Config[group]
	}
	put["app_config"] = appConfig
	return put
}

// Deploy registers the application with the broker.
func (c *CDAP) Deploy(ctx context.Context, req CDAPRequest) error {
	brokerURL, err := c.BrokerURL(ctx)
	if err != nil {
		return err
	}
	put := BrokerPut(req)
	c.logger.Info("Sending application configuration to the CDAP broker",
		"instance", req.Instance,
		"app_config", put["app_config"],
		"app_preferences", put["app_preferences"],
		"program_preferences", put["program_preferences"])

	body, err := json.Marshal(put)
	if err != nil {
		return errors.WrapInvalid(err, "CDAP", "Deploy", "encode broker request")
	}
	status, text, err := c.do(ctx, http.MethodPut, brokerURL+"/application/"+req.Instance, body)
	if err != nil {
		return errors.WrapTransient(err, "CDAP", "Deploy", "call broker")
	}
	if status < 200 || status >= 300 {
		return errors.WrapFatal(errors.Join(errors.ErrDeployFailed, fmt.Errorf("broker response %d: %s", status, text)),
			"CDAP", "Deploy", "register "+req.Instance)
	}

	c.logDeployment(ctx, brokerURL, req.Instance, put)
	return nil
}

// logDeployment reports where the application can be inspected. Failures
// are logged only.
func (c *CDAP) logDeployment(ctx context.Context, brokerURL, instance string, put map[string]any) {
	var info struct {
		ClusterURL string `json:"managed cdap url"`
		GUIPort    any    `json:"cdap GUI port"`
	}
	if err := c.getJSON(ctx, brokerURL, &info); err != nil {
		c.logger.Warn("Could not fetch CDAP cluster information", "error", err)
		return
	}

	ns, _ := put["namespace"].(string)
	if ns == "" {
		ns = "default"
	}
	appName := cdapAppName(instance)
	c.logger.Info("Deployment complete",
		"cluster_url", info.ClusterURL, "gui_port", info.GUIPort, "instance", instance, "cdap_app", appName)

	var app struct {
		Configuration any `json:"configuration"`
	}
	if err := c.getJSON(ctx, fmt.Sprintf("%s/v3/namespaces/%s/apps/%s", info.ClusterURL, ns, appName), &app); err != nil {
		c.logger.Warn("Could not fetch bound application configuration", "error", err)
		return
	}
	c.logger.Info("Bound application configuration", "configuration", app.Configuration)
}

// cdapAppName keeps the letters and digits of instance, the form CDAP uses
// for application names.
func cdapAppName(instance string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			return r
		}
		return -1
	}, instance)
}

// Undeploy stops and deletes the application. It reports success.
func (c *CDAP) Undeploy(ctx context.Context, instance string) bool {
	brokerURL, err := c.BrokerURL(ctx)
	if err != nil {
		c.logger.Error("An undeploy error occurred", "instance", instance, "error", err)
		return false
	}
	status, text, err := c.do(ctx, http.MethodDelete, brokerURL+"/application/"+instance, nil)
	if err != nil || status < 200 || status >= 300 {
		c.logger.Error("An undeploy error occurred", "instance", instance, "status", status, "response", text, "error", err)
		return false
	}
	c.logger.Info("Undeploy complete", "instance", instance)
	return true
}

func (c *CDAP) do(ctx context.Context, method, url string, body []byte) (int, string, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return 0, "", err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return 0, "", err
	}
	defer resp.Body.Close()
	text, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	return resp.StatusCode, string(text), nil
}

func (c *CDAP) getJSON(ctx context.Context, url string, out any) error {
	status, text, err := c.do(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	if status < 200 || status >= 300 {
		return fmt.Errorf("HTTP %d: %s", status, text)
	}
	return json.Unmarshal([]byte(text), out)
}
