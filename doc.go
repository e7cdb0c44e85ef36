// Package onboard catalogs DCAE component specs and data formats and turns
// them into running instances.
//
// # Layout
//
//   - naming: instance names, registry keys and placeholders
//   - catalog: SQLite catalog of component specs and data formats
//   - discovery: healthy instance directory and downstream resolution
//   - appconfig: configuration materialization and its registry lifecycle
//   - dmaap: DMaaP connection maps
//   - registry: Consul, NATS KV and in-memory registry backends
//   - deploy: docker and CDAP deployment collaborators
//   - runner: run, dev and undeploy flows
//   - undeploy: parallel teardown of deployed instances
//   - config, errors, health, metric: ambient support packages
//
// The onboard command in cmd/onboard wires these together.
//
// # Configuration lifecycle
//
// A configuration is materialized from the component spec and the current
// directory of healthy instances, pushed to the registry under the instance
// name and its :rel and :dmaap siblings, and removed again when the instance
// is torn down or its deployment fails:
//
//	err := appconfig.WithConfig(ctx, reg, req, appconfig.CleanupOnError,
//		func(ctx context.Context, key string, grouped map[string]any) error {
//			return deployInstance(ctx, key)
//		})
package onboard
