package kconfig

import (
	"fmt"
	"time"

	"github.com/kinetic-io/kio/cluster"
	"github.com/kinetic-io/kio/conn"
)

// DefaultReplicas is the metadata/attribute replication factor used
// when a cluster definition does not override it: the original value
// plus one parity copy.
const DefaultReplicas = 2

// BuildCluster resolves the named cluster definition against m's drive
// table and constructs a cluster.Cluster over it. dialer and poller are
// supplied by the caller so tests can pass a kinetic.MemDialer and a nil
// poller exactly as conn.New allows.
func (m *Map) BuildCluster(clusterID string, dialer conn.Dialer, poller *conn.Poller) (*cluster.Cluster, error) {
	def, ok := m.Clusters[clusterID]
	if !ok {
		return nil, fmt.Errorf("kio/kconfig: unknown cluster id %q", clusterID)
	}
	if len(def.Drives) == 0 {
		return nil, fmt.Errorf("kio/kconfig: cluster %q lists no drives", clusterID)
	}

	conns := make([]*conn.Connection, 0, len(def.Drives))
	for _, wwn := range def.Drives {
		d, ok := m.Drives[wwn]
		if !ok {
			return nil, fmt.Errorf("kio/kconfig: cluster %q references unknown drive %q", clusterID, wwn)
		}
		primary := conn.Endpoint{Host: d.Host, Port: d.Port}
		minReconnect := time.Duration(def.MinReconnectInterval)
		if minReconnect <= 0 {
			minReconnect = time.Second
		}
		conns = append(conns, conn.New(d.SerialNumber, primary, primary, dialer, poller, minReconnect))
	}

	timeout := time.Duration(def.Timeout)
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	replicas := DefaultReplicas
	if def.NumParity > 0 {
		replicas = def.NumParity + 1
	}

	return cluster.New(conns, cluster.Config{
		NData:    def.NumData,
		NParity:  def.NumParity,
		Replicas: replicas,
		Timeout:  timeout,
	})
}
