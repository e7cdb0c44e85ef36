package main

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/c360/onboard/catalog"
	"github.com/c360/onboard/config"
	"github.com/c360/onboard/deploy"
	"github.com/c360/onboard/discovery"
	"github.com/c360/onboard/errors"
	"github.com/c360/onboard/metric"
	"github.com/c360/onboard/registry"
	"github.com/c360/onboard/runner"
)

const systemConfigPath = "/etc/onboard/config.json"

var cfgFile string

var rootCmd = &cobra.Command{
	Use:           appName,
	Short:         "Onboard DCAE components and deploy them against a service registry",
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		app.logger = setupLogger(viper.GetString("log_level"), viper.GetString("log_format"))
		slog.SetDefault(app.logger)
		return startMetricsServer()
	},
}

func init() {
	cobra.OnInitialize(initConfig)

	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&cfgFile, "config", "c", "", "config file (default: ~/.config/onboard/config.json)")
	flags.String("log-level", "info", "log level (debug, info, warn, error)")
	flags.String("log-format", "text", "log format (text, json)")
	flags.StringP("user", "u", "", "user that owns catalog entries and deployed instances")
	flags.StringP("profile", "p", "", "connection profile to use instead of the active one")
	flags.String("metrics-addr", "", "serve prometheus metrics on this address while the command runs")

	_ = viper.BindPFlag("log_level", flags.Lookup("log-level"))
	_ = viper.BindPFlag("log_format", flags.Lookup("log-format"))
	_ = viper.BindPFlag("user", flags.Lookup("user"))
	_ = viper.BindPFlag("profile", flags.Lookup("profile"))
	_ = viper.BindPFlag("metrics_addr", flags.Lookup("metrics-addr"))
}

func initConfig() {
	viper.SetEnvPrefix("ONBOARD")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
	_ = viper.BindEnv("log_level")
	_ = viper.BindEnv("log_format")
	_ = viper.BindEnv("metrics_addr")
	_ = viper.BindEnv("undeploy_parallelism")
}

// userConfigPath is the config file commands read and profile edits write.
func userConfigPath() string {
	if cfgFile != "" {
		return cfgFile
	}
	dir, err := os.UserConfigDir()
	if err != nil {
		return "config.json"
	}
	return filepath.Join(dir, appName, "config.json")
}

// appState holds the collaborators built on first use by a command.
type appState struct {
	logger  *slog.Logger
	metrics *metric.MetricsRegistry
	server  *metric.Server

	cfg      *config.Config
	reg      registry.Registry
	closeReg func(context.Context) error
	store    *catalog.Store
	docker   *deploy.Docker
	cdap     *deploy.CDAP
}

var app = &appState{
	logger:  slog.Default(),
	metrics: metric.NewMetricsRegistry(),
}

func startMetricsServer() error {
	addr := viper.GetString("metrics_addr")
	if addr == "" || app.server != nil {
		return nil
	}
	app.server = metric.NewServer(addr, "", app.metrics)
	if err := app.server.Start(); err != nil {
		app.server = nil
		return err
	}
	app.logger.Info("Serving metrics", "address", app.server.Address())
	return nil
}

// loadConfig reads the system and user config layers and applies the
// --user and --profile overrides.
func loadConfig() (*config.Config, error) {
	if app.cfg != nil {
		return app.cfg, nil
	}
	cfg, err := readConfigFiles()
	if err != nil {
		return nil, err
	}
	if user := viper.GetString("user"); user != "" {
		cfg.User = user
	}
	if profile := viper.GetString("profile"); profile != "" {
		cfg.ActiveProfile = profile
	}
	if n := viper.GetInt("undeploy_parallelism"); n > 0 {
		cfg.Undeploy.Parallelism = n
	}
	app.cfg = cfg
	return cfg, nil
}

// readConfigFiles merges the config layers without command line overrides.
func readConfigFiles() (*config.Config, error) {
	loader := config.NewLoader()
	loader.AddLayer(systemConfigPath)
	loader.AddLayer(userConfigPath())
	return loader.Load()
}

// validConfig loads the config and requires it to be complete.
func validConfig() (*config.Config, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func activeProfile() (config.Profile, error) {
	cfg, err := validConfig()
	if err != nil {
		return config.Profile{}, err
	}
	return cfg.Active()
}

func openRegistry(ctx context.Context) (registry.Registry, error) {
	if app.reg != nil {
		return app.reg, nil
	}
	profile, err := activeProfile()
	if err != nil {
		return nil, err
	}
	reg, closeFn, err := registry.Open(ctx, profile, app.logger)
	if err != nil {
		return nil, err
	}
	app.reg = registry.Instrument(reg, app.metrics.CoreMetrics())
	app.closeReg = closeFn
	return app.reg, nil
}

// openDocker connects to the profile's docker host. A daemon that cannot be
// reached only disables docker operations.
func openDocker() *deploy.Docker {
	if app.docker != nil {
		return app.docker
	}
	profile, err := activeProfile()
	if err != nil {
		return nil
	}
	d, err := deploy.NewDocker(profile, app.logger.With("component", "docker"))
	if err != nil {
		app.logger.Debug("Docker host unavailable", "docker_host", profile.DockerHost, "error", err)
		return nil
	}
	app.docker = d
	return d
}

func openCatalog(ctx context.Context) (*catalog.Store, error) {
	if app.store != nil {
		return app.store, nil
	}
	cfg, err := validConfig()
	if err != nil {
		return nil, err
	}
	opts := []catalog.Option{catalog.WithLogger(app.logger.With("component", "catalog"))}
	if d := openDocker(); d != nil {
		opts = append(opts, catalog.WithImageCheck(d.ImageExists))
	}
	store, err := catalog.Open(ctx, cfg.Catalog.DBPath, opts...)
	if err != nil {
		return nil, err
	}
	app.store = store
	return store, nil
}

func newRunner(ctx context.Context) (*runner.Runner, error) {
	cfg, err := validConfig()
	if err != nil {
		return nil, err
	}
	profile, err := cfg.Active()
	if err != nil {
		return nil, err
	}
	reg, err := openRegistry(ctx)
	if err != nil {
		return nil, err
	}
	store, err := openCatalog(ctx)
	if err != nil {
		return nil, err
	}

	r := &runner.Runner{
		Registry:     reg,
		Catalog:      store,
		Profile:      profile,
		Logger:       app.logger,
		Metrics:      app.metrics.CoreMetrics(),
		Health:       discovery.NewHealthCache(reg, 0),
		MaxWait:      cfg.Health.MaxWait,
		PollInterval: cfg.Health.PollInterval,
		Parallelism:  cfg.Undeploy.Parallelism,
	}
	if d := openDocker(); d != nil {
		r.Docker = d
	}
	if app.cdap == nil {
		c, err := deploy.NewCDAP(reg, profile, app.logger.With("component", "cdap"))
		if err != nil {
			return nil, err
		}
		app.cdap = c
	}
	r.CDAP = app.cdap
	return r, nil
}

// currentUser returns the configured user, which every catalog and
// registry operation is scoped to.
func currentUser() (string, error) {
	cfg, err := validConfig()
	if err != nil {
		return "", err
	}
	return cfg.User, nil
}

func closeApp() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var errs []error
	if app.store != nil {
		errs = append(errs, app.store.Close())
	}
	if app.docker != nil {
		errs = append(errs, app.docker.Close())
	}
	if app.closeReg != nil {
		errs = append(errs, app.closeReg(ctx))
	}
	if app.server != nil {
		errs = append(errs, app.server.Stop(ctx))
	}
	app.store, app.docker, app.reg, app.closeReg, app.server = nil, nil, nil, nil, nil
	app.cfg, app.cdap = nil, nil
	if err := errors.Join(errs...); err != nil {
		app.logger.Warn("Shutdown incomplete", "error", err)
	}
}
