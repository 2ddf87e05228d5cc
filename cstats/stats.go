// Package cstats refreshes and exports a cluster's capacity,
// utilization and operation counters as Prometheus metrics, per
// spec.md §4.7 ("Cluster statistics ... are refreshed in the
// background at most once every 2 seconds via a fan-out GetLog;
// operations never block on statistics"). Nothing in the request path
// (cluster.Cluster.Get/Put/Remove) touches this package; it only reads
// the same connections a cluster already owns.
package cstats

import (
	"context"
	"sync"
	"time"

	"github.com/golang/glog"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/kinetic-io/kio/cluster"
	"github.com/kinetic-io/kio/cmn"
	"github.com/kinetic-io/kio/kinetic"
)

// DefaultInterval is the refresh cadence spec.md §4.7 names.
const DefaultInterval = 2 * time.Second

// Collector periodically fans a GetLog out across a cluster's
// connections and exposes the aggregate as Prometheus gauges, plus
// per-status-code operation counters the cluster façade's callers bump
// directly via Observe.
type Collector struct {
	clusterID string
	cl        *cluster.Cluster
	interval  time.Duration

	capacityBytes  prometheus.Gauge
	remainingBytes prometheus.Gauge
	utilization    prometheus.Gauge
	drivesUp       prometheus.Gauge
	drivesTotal    prometheus.Gauge
	ops            *prometheus.CounterVec

	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// New constructs a Collector over cl, registering its metrics with
// reg. clusterID labels every exported metric so one process can host
// collectors for several clusters without collisions.
func New(clusterID string, cl *cluster.Cluster, reg prometheus.Registerer) *Collector {
	labels := prometheus.Labels{"cluster": clusterID}
	c := &Collector{
		clusterID: clusterID,
		cl:        cl,
		interval:  DefaultInterval,
		capacityBytes: prometheus.NewGauge(prometheus.GaugeOpts{
			Name:        "kio_cluster_capacity_bytes",
			Help:        "Total reported drive capacity across the cluster's connections.",
			ConstLabels: labels,
		}),
		remainingBytes: prometheus.NewGauge(prometheus.GaugeOpts{
			Name:        "kio_cluster_remaining_bytes",
			Help:        "Total reported remaining drive capacity across the cluster's connections.",
			ConstLabels: labels,
		}),
		utilization: prometheus.NewGauge(prometheus.GaugeOpts{
			Name:        "kio_cluster_utilization_ratio",
			Help:        "Mean per-drive utilization in [0,1], averaged over drives that answered GetLog.",
			ConstLabels: labels,
		}),
		drivesUp: prometheus.NewGauge(prometheus.GaugeOpts{
			Name:        "kio_cluster_drives_up",
			Help:        "Number of connections whose most recent GetLog succeeded.",
			ConstLabels: labels,
		}),
		drivesTotal: prometheus.NewGauge(prometheus.GaugeOpts{
			Name:        "kio_cluster_drives_total",
			Help:        "Number of connections this cluster places fragments on.",
			ConstLabels: labels,
		}),
		ops: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "kio_cluster_ops_total",
			Help:        "Stripe operations completed, by result code.",
			ConstLabels: labels,
		}, []string{"code"}),
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}
	if reg != nil {
		reg.MustRegister(c.capacityBytes, c.remainingBytes, c.utilization, c.drivesUp, c.drivesTotal, c.ops)
	}
	c.drivesTotal.Set(float64(len(cl.Conns())))
	return c
}

// Observe bumps the operation counter for status, for callers of
// cluster.Cluster's façade methods to call after each call completes;
// no package in this repository calls it. It never blocks and never
// touches the cluster's request path directly.
func (c *Collector) Observe(status cmn.Status) {
	c.ops.WithLabelValues(status.Code.String()).Inc()
}

// Run starts the background refresh ticker; it returns immediately.
// Stop must be called to release the goroutine.
func (c *Collector) Run(ctx context.Context) {
	go c.loop(ctx)
}

// Stop halts the refresh loop and waits for it to exit. Idempotent.
func (c *Collector) Stop() {
	c.stopOnce.Do(func() { close(c.stopCh) })
	<-c.doneCh
}

func (c *Collector) loop(ctx context.Context) {
	defer close(c.doneCh)
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.stopCh:
			return
		case <-ticker.C:
			c.refresh(ctx)
		}
	}
}

// refresh fans a GetLog out across every connection and aggregates the
// response. A connection that errors or times out simply doesn't count
// toward drivesUp or the averaged totals; refresh never fails the
// caller since nothing calls it synchronously.
func (c *Collector) refresh(ctx context.Context) {
	conns := c.cl.Conns()
	v := cluster.NewVector()
	logs := make([]kinetic.Log, len(conns))
	ok := make([]bool, len(conns))
	for i, cn := range conns {
		i := i
		v.Add(cn, func(ctx context.Context, cl kinetic.Client) cmn.Status {
			log, err := cl.GetLog(ctx, []kinetic.LogType{kinetic.LogTypeCapacity, kinetic.LogTypeUtilization})
			if err != nil {
				return cmn.StatusIoError(err)
			}
			logs[i] = log
			ok[i] = true
			return cmn.StatusOK()
		})
	}
	v.Execute(ctx, c.cl.Timeout())

	var capacity, remaining uint64
	var utilSum float64
	var up int
	for i, reached := range ok {
		if !reached {
			continue
		}
		up++
		capacity += logs[i].CapacityBytes
		remaining += logs[i].RemainingBytes
		utilSum += logs[i].UtilizationPercent
	}

	c.drivesUp.Set(float64(up))
	c.capacityBytes.Set(float64(capacity))
	c.remainingBytes.Set(float64(remaining))
	if up > 0 {
		c.utilization.Set(utilSum / float64(up) / 100)
	}
	glog.V(4).Infof("kio/cstats: cluster %s refreshed: %d/%d drives up, %.1f%% avg utilization",
		c.clusterID, up, len(conns), utilSum/float64(maxInt(up, 1)))
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
