package registry

import (
	"context"
	"time"

	"github.com/c360/onboard/errors"
	"github.com/c360/onboard/metric"
)

// Instrument wraps reg so every call records its latency in m. The wrapper
// implements Transactor only when reg does. A nil m returns reg unchanged.
func Instrument(reg Registry, m *metric.Metrics) Registry {
	if m == nil {
		return reg
	}
	in := &instrumented{next: reg, metrics: m}
	if txn, ok := reg.(Transactor); ok {
		return &instrumentedTxn{instrumented: in, txn: txn}
	}
	return in
}

type instrumented struct {
	next    Registry
	metrics *metric.Metrics
}

func (r *instrumented) record(op string, start time.Time, err error) {
	r.metrics.RecordRegistryOp(op, time.Since(start), err)
}

func (r *instrumented) Get(ctx context.Context, key string) (pair KVPair, err error) {
	defer func(start time.Time) { r.record("get", start, ignoreNotFound(err)) }(time.Now())
	return r.next.Get(ctx, key)
}

func (r *instrumented) List(ctx context.Context, prefix string) (pairs []KVPair, err error) {
	defer func(start time.Time) { r.record("list", start, err) }(time.Now())
	return r.next.List(ctx, prefix)
}

func (r *instrumented) Put(ctx context.Context, key string, value []byte) (err error) {
	defer func(start time.Time) { r.record("put", start, err) }(time.Now())
	return r.next.Put(ctx, key, value)
}

func (r *instrumented) Create(ctx context.Context, key string, value []byte) (err error) {
	defer func(start time.Time) { r.record("create", start, err) }(time.Now())
	return r.next.Create(ctx, key, value)
}

func (r *instrumented) Delete(ctx context.Context, key string, recurse bool) (err error) {
	defer func(start time.Time) { r.record("delete", start, err) }(time.Now())
	return r.next.Delete(ctx, key, recurse)
}

func (r *instrumented) Services(ctx context.Context) (services map[string][]string, err error) {
	defer func(start time.Time) { r.record("services", start, err) }(time.Now())
	return r.next.Services(ctx)
}

func (r *instrumented) ServiceHealth(ctx context.Context, name string) (entries []ServiceHealth, err error) {
	defer func(start time.Time) { r.record("service_health", start, err) }(time.Now())
	return r.next.ServiceHealth(ctx, name)
}

func (r *instrumented) ServiceNodes(ctx context.Context, name string) (nodes []ServiceNode, err error) {
	defer func(start time.Time) { r.record("service_nodes", start, err) }(time.Now())
	return r.next.ServiceNodes(ctx, name)
}

type instrumentedTxn struct {
	*instrumented
	txn Transactor
}

func (r *instrumentedTxn) Txn(ctx context.Context, ops []Op) (err error) {
	defer func(start time.Time) { r.record("txn", start, err) }(time.Now())
	return r.txn.Txn(ctx, ops)
}

// A missing key is an answer, not a failed call.
func ignoreNotFound(err error) error {
	if errors.Is(err, errors.ErrKeyNotFound) {
		return nil
	}
	return err
}
