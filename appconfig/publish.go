package appconfig

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/c360/onboard/errors"
	"github.com/c360/onboard/metric"
	"github.com/c360/onboard/naming"
	"github.com/c360/onboard/pkg/retry"
	"github.com/c360/onboard/registry"
)

// putRetry covers transient failures of the individual writes that follow a
// manifest.
var putRetry = retry.Config{
	MaxAttempts:  3,
	InitialDelay: 20 * time.Millisecond,
	MaxDelay:     200 * time.Millisecond,
	Multiplier:   2.0,
	AddJitter:    true,
}

// Publish modes reported to metrics.
const (
	ModeTxn      = "txn"
	ModeManifest = "manifest"
)

// Manifest lists every key written for one configuration. It is stored
// before the keys themselves on registries without transactions so that a
// crash midway can be cleaned up from the manifest alone.
type Manifest struct {
	Keys      []string  `json:"keys"`
	CreatedAt time.Time `json:"created_at"`
}

type options struct {
	logger  *slog.Logger
	metrics *metric.Metrics
}

// Option configures Push, Remove and WithConfig.
type Option func(*options)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithMetrics records publish and removal counts.
func WithMetrics(m *metric.Metrics) Option {
	return func(o *options) { o.metrics = m }
}

func buildOptions(opts []Option) options {
	o := options{logger: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}
	o.logger = o.logger.With("component", "appconfig")
	return o
}

// Push writes the configuration, its rels and its DMaaP sidecar. Registries
// implementing registry.Transactor get all three in one transaction. Others
// get a manifest record first, then the three keys. The manifest is only
// created when absent, so two publishes racing on one key triple fail one of
// them with errors.ErrKeyExists.
func Push(ctx context.Context, reg registry.Registry, m *Materialized, opts ...Option) error {
	o := buildOptions(opts)
	values := [][]byte{}
	for _, v := range []any{m.Config, m.Rels, m.DMaaP} {
		data, err := json.Marshal(v)
		if err != nil {
			return errors.WrapInvalid(err, "appconfig", "Push", "encode "+m.Keys.Config)
		}
		values = append(values, data)
	}
	keys := m.Keys.All()

	if txr, ok := reg.(registry.Transactor); ok {
		ops := make([]registry.Op, len(keys))
		for i, k := range keys {
			ops[i] = registry.Op{Verb: registry.OpSet, Key: k, Value: values[i]}
		}
		if err := txr.Txn(ctx, ops); err != nil {
			return err
		}
		o.metrics.RecordConfigPublished(ModeTxn)
		o.logger.Debug("Published config", "key", m.Keys.Config, "mode", ModeTxn)
		return nil
	}

	manifest, err := json.Marshal(Manifest{Keys: keys, CreatedAt: time.Now().UTC()})
	if err != nil {
		return errors.WrapInvalid(err, "appconfig", "Push", "encode manifest")
	}
	if err := reg.Create(ctx, naming.ManifestKey(m.Keys.Config), manifest); err != nil {
		return err
	}
	for i, k := range keys {
		err := retry.Do(ctx, putRetry, func() error {
			err := reg.Put(ctx, k, values[i])
			if err != nil && !errors.IsTransient(err) {
				return retry.NonRetryable(err)
			}
			return err
		})
		if err != nil {
			return err
		}
	}
	o.metrics.RecordConfigPublished(ModeManifest)
	o.logger.Debug("Published config", "key", m.Keys.Config, "mode", ModeManifest)
	return nil
}

// Remove deletes the configuration key triple and any manifest. Every key is
// attempted even when earlier deletions fail, and absent keys are not an
// error, so Remove is safe to call repeatedly or for a key that was never
// published. It reports true only when every deletion succeeded.
func Remove(ctx context.Context, reg registry.Registry, configKey string, opts ...Option) (bool, error) {
	o := buildOptions(opts)
	keys := naming.KeysFromConfigKey(configKey)
	manifestKey := naming.ManifestKey(configKey)

	if txr, ok := reg.(registry.Transactor); ok {
		ops := []registry.Op{}
		for _, k := range append(keys.All(), manifestKey) {
			ops = append(ops, registry.Op{Verb: registry.OpDelete, Key: k})
		}
		err := txr.Txn(ctx, ops)
		if err == nil {
			o.metrics.RecordConfigRemoved(true)
			return true, nil
		}
		o.logger.Warn("Transactional config removal failed, deleting keys one by one",
			"key", configKey, "error", err)
	}

	targets := keys.All()
	seen := map[string]bool{}
	for _, k := range targets {
		seen[k] = true
	}
	var errs []error
	pair, err := reg.Get(ctx, manifestKey)
	switch {
	case err == nil:
		var mf Manifest
		if jerr := json.Unmarshal(pair.Value, &mf); jerr != nil {
			o.logger.Warn("Ignoring unreadable config manifest", "key", manifestKey, "error", jerr)
		}
		for _, k := range mf.Keys {
			if !seen[k] {
				seen[k] = true
				targets = append(targets, k)
			}
		}
	case !errors.Is(err, errors.ErrKeyNotFound):
		errs = append(errs, err)
	}

	for _, k := range targets {
		if err := reg.Delete(ctx, k, false); err != nil {
			errs = append(errs, err)
		}
	}
	// The manifest goes last so a failed removal can be retried from it.
	if len(errs) == 0 {
		if err := reg.Delete(ctx, manifestKey, false); err != nil {
			errs = append(errs, err)
		}
	}

	ok := len(errs) == 0
	o.metrics.RecordConfigRemoved(ok)
	if !ok {
		return false, errors.Join(errs...)
	}
	return true, nil
}

// Fetch reads a published configuration by key.
func Fetch(ctx context.Context, reg registry.Registry, configKey string) (map[string]any, error) {
	pair, err := reg.Get(ctx, configKey)
	if err != nil {
		return nil, err
	}
	var conf map[string]any
	if err := json.Unmarshal(pair.Value, &conf); err != nil {
		return nil, errors.WrapInvalid(err, "appconfig", "Fetch", "decode "+configKey)
	}
	return conf, nil
}
