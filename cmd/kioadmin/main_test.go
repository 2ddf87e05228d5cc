package main

import (
	"bytes"
	"testing"
)

const (
	testLocationJSON = `{"location":[
		{"serialNumber":"wwn1","inet4":["127.0.0.1"],"port":8123},
		{"serialNumber":"wwn2","inet4":["127.0.0.1"],"port":8124},
		{"serialNumber":"wwn3","inet4":["127.0.0.1"],"port":8125}
	]}`
	testSecurityJSON = `{"security":[
		{"serialNumber":"wwn1","userId":1,"key":"asdf"},
		{"serialNumber":"wwn2","userId":1,"key":"asdf"},
		{"serialNumber":"wwn3","userId":1,"key":"asdf"}
	]}`
	testClustersJSON = `{"cluster":[
		{"clusterID":"c1","numData":2,"numParity":1,"chunkSizeKB":1024,"minReconnectInterval":"500ms","timeout":"5s","drives":["wwn1","wwn2","wwn3"]}
	]}`
	testConfigJSON = `{"cacheCapacityMB":512,"maxReadahead":10,"backgroundThreads":4,"backgroundQueue":100}`
)

func setTestEnv(t *testing.T) {
	t.Setenv("KINETIC_DRIVE_LOCATION", testLocationJSON)
	t.Setenv("KINETIC_DRIVE_SECURITY", testSecurityJSON)
	t.Setenv("KINETIC_CLUSTER_DEFINITION", testClustersJSON)
	t.Setenv("KIO_CONFIGURATION", testConfigJSON)
}

func TestRootCommandRegistersEverySubcommand(t *testing.T) {
	names := make(map[string]bool)
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}
	for _, want := range []string{"count", "scan", "repair", "reset"} {
		if !names[want] {
			t.Errorf("expected a %q subcommand to be registered", want)
		}
	}
}

func TestCountAgainstMemoryClusterReportsZeroOnEmptyCluster(t *testing.T) {
	setTestEnv(t)
	flagClusterID, flagMemory, flagThreads, flagPageSize = "c1", true, 2, 100

	var out bytes.Buffer
	cmd := newTargetedCmd("count", "count", runCount)
	cmd.SetOut(&out)
	cmd.SetArgs([]string{})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("count: %v", err)
	}
	if got := out.String(); got != "0 keys\n" {
		t.Fatalf("expected %q, got %q", "0 keys\n", got)
	}
}

func TestBuildAdminRequiresMemoryFlagWithoutARealDialer(t *testing.T) {
	setTestEnv(t)
	flagClusterID, flagMemory = "c1", false

	if _, err := buildAdmin(); err == nil {
		t.Fatal("expected buildAdmin to fail without --memory and no real wire client")
	}
}
