// Package metric provides the Prometheus metrics recorded while onboarding
// components: configuration publication, resolver diagnostics, deployments,
// undeploy outcomes and registry latency.
//
// A MetricsRegistry owns a private Prometheus registry with the core Metrics
// registered. The CLI either prints the gathered families in text format with
// WriteText or serves them with Server.
//
//	reg := metric.NewMetricsRegistry()
//	reg.CoreMetrics().RecordConfigPublished("txn")
//	_ = reg.WriteText(os.Stdout)
//
// Every Record method is a no-op on a nil *Metrics, so components accept an
// optional metrics handle without checking it.
package metric
