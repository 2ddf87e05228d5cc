// Package kconfig loads the three JSON documents a cluster map is built
// from (drive locations, drive security, cluster definitions) plus the
// top-level cache/background-pool configuration, from environment
// variables that either hold the JSON inline or point at a file.
package kconfig

import (
	"fmt"
	"os"
	"time"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// DriveLocation is one drive's network address, as listed in the
// KINETIC_DRIVE_LOCATION document.
type DriveLocation struct {
	SerialNumber string   `json:"serialNumber"`
	Inet4        []string `json:"inet4"`
	Port         int      `json:"port"`
}

// DriveSecurity is one drive's credentials, as listed in the
// KINETIC_DRIVE_SECURITY document.
type DriveSecurity struct {
	SerialNumber string `json:"serialNumber"`
	UserID       int    `json:"userId"`
	Key          string `json:"key"`
}

// ClusterDef describes one cluster's stripe shape and the drives it is
// placed over, as listed in the KINETIC_CLUSTER_DEFINITION document.
type ClusterDef struct {
	ClusterID             string   `json:"clusterID"`
	NumData               int      `json:"numData"`
	NumParity             int      `json:"numParity"`
	ChunkSizeKB           int      `json:"chunkSizeKB"`
	MinReconnectInterval  Duration `json:"minReconnectInterval"`
	Timeout               Duration `json:"timeout"`
	Drives                []string `json:"drives"` // drive WWNs/serial numbers
}

// Configuration is the top-level tuning document: cache capacity,
// readahead window, and background pool bounds.
type Configuration struct {
	CacheCapacityMB    int `json:"cacheCapacityMB"`
	MaxReadahead       int `json:"maxReadahead"`
	BackgroundThreads  int `json:"backgroundThreads"`
	BackgroundQueue    int `json:"backgroundQueue"`
}

// Duration unmarshals from either a JSON number of milliseconds or a
// Go duration string ("500ms", "5s"), since hand-edited JSON config
// files are more often written as the latter.
type Duration time.Duration

func (d *Duration) UnmarshalJSON(b []byte) error {
	var raw any
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	switch v := raw.(type) {
	case float64:
		*d = Duration(time.Duration(v) * time.Millisecond)
	case string:
		parsed, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("kio/kconfig: invalid duration %q: %w", v, err)
		}
		*d = Duration(parsed)
	default:
		return fmt.Errorf("kio/kconfig: duration must be a number or string")
	}
	return nil
}

// Map is the fully resolved configuration: every drive's location and
// security merged by serial number, every cluster definition, and the
// top-level tuning document.
type Map struct {
	Drives        map[string]Drive
	Clusters      map[string]ClusterDef
	Configuration Configuration
}

// Drive merges one drive's location and security documents.
type Drive struct {
	SerialNumber string
	Host         string
	Port         int
	UserID       int
	Key          string
}

// Load reads the four configuration documents from the named
// environment variables, each either holding JSON inline or, when the
// value starts with '/' or '.', naming a file to read the JSON from.
func Load(locationEnv, securityEnv, clustersEnv, configEnv string) (*Map, error) {
	locationData, err := resolveEnv(locationEnv)
	if err != nil {
		return nil, err
	}
	securityData, err := resolveEnv(securityEnv)
	if err != nil {
		return nil, err
	}
	clustersData, err := resolveEnv(clustersEnv)
	if err != nil {
		return nil, err
	}
	configData, err := resolveEnv(configEnv)
	if err != nil {
		return nil, err
	}

	var locations struct {
		Location []DriveLocation `json:"location"`
	}
	if err := json.Unmarshal(locationData, &locations); err != nil {
		return nil, fmt.Errorf("kio/kconfig: parsing drive locations: %w", err)
	}
	var securities struct {
		Security []DriveSecurity `json:"security"`
	}
	if err := json.Unmarshal(securityData, &securities); err != nil {
		return nil, fmt.Errorf("kio/kconfig: parsing drive security: %w", err)
	}
	var clusterDefs struct {
		Cluster []ClusterDef `json:"cluster"`
	}
	if err := json.Unmarshal(clustersData, &clusterDefs); err != nil {
		return nil, fmt.Errorf("kio/kconfig: parsing cluster definitions: %w", err)
	}
	var config Configuration
	if err := json.Unmarshal(configData, &config); err != nil {
		return nil, fmt.Errorf("kio/kconfig: parsing top-level configuration: %w", err)
	}

	drives := make(map[string]Drive, len(locations.Location))
	for _, loc := range locations.Location {
		if len(loc.Inet4) == 0 {
			return nil, fmt.Errorf("kio/kconfig: drive %s has no inet4 address", loc.SerialNumber)
		}
		drives[loc.SerialNumber] = Drive{SerialNumber: loc.SerialNumber, Host: loc.Inet4[0], Port: loc.Port}
	}
	for _, sec := range securities.Security {
		d, ok := drives[sec.SerialNumber]
		if !ok {
			return nil, fmt.Errorf("kio/kconfig: security entry for unknown drive %s", sec.SerialNumber)
		}
		d.UserID = sec.UserID
		d.Key = sec.Key
		drives[sec.SerialNumber] = d
	}

	clusters := make(map[string]ClusterDef, len(clusterDefs.Cluster))
	for _, c := range clusterDefs.Cluster {
		clusters[c.ClusterID] = c
	}

	return &Map{Drives: drives, Clusters: clusters, Configuration: config}, nil
}

// resolveEnv reads the named environment variable: a value starting
// with '/' or '.' is a file path to read from; anything else is
// treated as inline JSON.
func resolveEnv(name string) ([]byte, error) {
	val, ok := os.LookupEnv(name)
	if !ok {
		return nil, fmt.Errorf("kio/kconfig: environment variable %s is not set", name)
	}
	if len(val) == 0 {
		return nil, fmt.Errorf("kio/kconfig: environment variable %s is empty", name)
	}
	if val[0] == '/' || val[0] == '.' {
		data, err := os.ReadFile(val)
		if err != nil {
			return nil, fmt.Errorf("kio/kconfig: reading %s: %w", val, err)
		}
		return data, nil
	}
	return []byte(val), nil
}
