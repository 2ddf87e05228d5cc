package kconfig

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/kinetic-io/kio/kinetic"
)

const (
	locationJSON = `{"location":[
		{"serialNumber":"wwn1","inet4":["127.0.0.1"],"port":8123},
		{"serialNumber":"wwn2","inet4":["127.0.0.1"],"port":8124},
		{"serialNumber":"wwn3","inet4":["127.0.0.1"],"port":8125}
	]}`
	securityJSON = `{"security":[
		{"serialNumber":"wwn1","userId":1,"key":"asdf"},
		{"serialNumber":"wwn2","userId":1,"key":"asdf"},
		{"serialNumber":"wwn3","userId":1,"key":"asdf"}
	]}`
	clusterJSON = `{"cluster":[
		{"clusterID":"c1","numData":2,"numParity":1,"chunkSizeKB":1024,"minReconnectInterval":"500ms","timeout":"5s","drives":["wwn1","wwn2","wwn3"]}
	]}`
	configJSON = `{"cacheCapacityMB":512,"maxReadahead":10,"backgroundThreads":4,"backgroundQueue":100}`
)

func setEnv(t *testing.T) {
	t.Setenv("KINETIC_DRIVE_LOCATION", locationJSON)
	t.Setenv("KINETIC_DRIVE_SECURITY", securityJSON)
	t.Setenv("KINETIC_CLUSTER_DEFINITION", clusterJSON)
	t.Setenv("KIO_CONFIGURATION", configJSON)
}

func TestLoadInlineJSON(t *testing.T) {
	setEnv(t)
	m, err := Load("KINETIC_DRIVE_LOCATION", "KINETIC_DRIVE_SECURITY", "KINETIC_CLUSTER_DEFINITION", "KIO_CONFIGURATION")
	if err != nil {
		t.Fatal(err)
	}
	if len(m.Drives) != 3 {
		t.Fatalf("expected 3 drives, got %d", len(m.Drives))
	}
	d := m.Drives["wwn1"]
	if d.Host != "127.0.0.1" || d.Port != 8123 || d.Key != "asdf" {
		t.Fatalf("unexpected merged drive record: %+v", d)
	}
	c, ok := m.Clusters["c1"]
	if !ok {
		t.Fatal("expected cluster c1 to be present")
	}
	if c.NumData != 2 || c.NumParity != 1 {
		t.Fatalf("unexpected cluster shape: %+v", c)
	}
	if m.Configuration.CacheCapacityMB != 512 {
		t.Fatalf("expected cache capacity 512, got %d", m.Configuration.CacheCapacityMB)
	}
}

func TestLoadFromFilePath(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "location.json")
	if err := os.WriteFile(path, []byte(locationJSON), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("KINETIC_DRIVE_LOCATION", path)
	t.Setenv("KINETIC_DRIVE_SECURITY", securityJSON)
	t.Setenv("KINETIC_CLUSTER_DEFINITION", clusterJSON)
	t.Setenv("KIO_CONFIGURATION", configJSON)

	m, err := Load("KINETIC_DRIVE_LOCATION", "KINETIC_DRIVE_SECURITY", "KINETIC_CLUSTER_DEFINITION", "KIO_CONFIGURATION")
	if err != nil {
		t.Fatal(err)
	}
	if len(m.Drives) != 3 {
		t.Fatalf("expected 3 drives loaded from file, got %d", len(m.Drives))
	}
}

func TestLoadMissingEnvReturnsError(t *testing.T) {
	os.Unsetenv("KIO_DOES_NOT_EXIST")
	if _, err := Load("KIO_DOES_NOT_EXIST", "KIO_DOES_NOT_EXIST", "KIO_DOES_NOT_EXIST", "KIO_DOES_NOT_EXIST"); err == nil {
		t.Fatal("expected an error for an unset environment variable")
	}
}

func TestBuildClusterWiresDrivesIntoConnections(t *testing.T) {
	setEnv(t)
	m, err := Load("KINETIC_DRIVE_LOCATION", "KINETIC_DRIVE_SECURITY", "KINETIC_CLUSTER_DEFINITION", "KIO_CONFIGURATION")
	if err != nil {
		t.Fatal(err)
	}

	dialer := kinetic.NewMemDialer()
	cl, err := m.BuildCluster("c1", dialer, nil)
	if err != nil {
		t.Fatal(err)
	}
	if cl == nil {
		t.Fatal("expected a non-nil cluster")
	}
}

func TestBuildClusterRejectsUnknownID(t *testing.T) {
	setEnv(t)
	m, err := Load("KINETIC_DRIVE_LOCATION", "KINETIC_DRIVE_SECURITY", "KINETIC_CLUSTER_DEFINITION", "KIO_CONFIGURATION")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := m.BuildCluster("nonexistent", kinetic.NewMemDialer(), nil); err == nil {
		t.Fatal("expected an error for an unknown cluster id")
	}
}
