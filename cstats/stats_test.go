package cstats

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/require"

	"github.com/kinetic-io/kio/cluster"
	"github.com/kinetic-io/kio/cmn"
	"github.com/kinetic-io/kio/conn"
	"github.com/kinetic-io/kio/kinetic"
)

func testCluster(t *testing.T, nDrives int) (*cluster.Cluster, []*kinetic.Drive) {
	t.Helper()
	dialer := kinetic.NewMemDialer()
	conns := make([]*conn.Connection, nDrives)
	drives := make([]*kinetic.Drive, nDrives)
	for i := 0; i < nDrives; i++ {
		ep := conn.Endpoint{Host: "mem", Port: i}
		drive := kinetic.NewDrive("drive", 1<<20)
		dialer.Register(ep, drive)
		drives[i] = drive
		conns[i] = conn.New("drive", ep, ep, dialer, nil, time.Millisecond)
	}
	cl, err := cluster.New(conns, cluster.Config{NData: 3, NParity: 2, Replicas: 2, Timeout: time.Second})
	require.NoError(t, err)
	return cl, drives
}

func gaugeValue(t *testing.T, g prometheus.Gauge) float64 {
	t.Helper()
	var m dto.Metric
	require.NoError(t, g.Write(&m))
	return m.GetGauge().GetValue()
}

func TestCollectorRefreshAggregatesCapacity(t *testing.T) {
	cl, _ := testCluster(t, 5)
	c := New("c1", cl, nil)

	c.refresh(context.Background())

	require.Equal(t, float64(5), gaugeValue(t, c.drivesUp))
	require.Equal(t, float64(5<<20), gaugeValue(t, c.capacityBytes))
}

func TestCollectorRefreshToleratesDownDrives(t *testing.T) {
	cl, drives := testCluster(t, 5)
	drives[0].SetDown(true)
	drives[1].SetDown(true)
	c := New("c1", cl, nil)

	c.refresh(context.Background())

	require.Less(t, gaugeValue(t, c.drivesUp), float64(5))
}

func TestCollectorObserveIncrementsOpCounter(t *testing.T) {
	cl, _ := testCluster(t, 3)
	c := New("c1", cl, nil)

	c.Observe(cmn.StatusOK())
	c.Observe(cmn.StatusOK())
	c.Observe(cmn.StatusNotFound())

	var m dto.Metric
	require.NoError(t, c.ops.WithLabelValues("Ok").Write(&m))
	require.Equal(t, float64(2), m.GetCounter().GetValue())
}

func TestCollectorRunStopsCleanly(t *testing.T) {
	cl, _ := testCluster(t, 2)
	c := New("c1", cl, nil)
	c.interval = time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	c.Run(ctx)
	time.Sleep(5 * time.Millisecond)
	c.Stop()

	require.Equal(t, float64(2), gaugeValue(t, c.drivesUp))
}
