// kioadmin is the admin CLI entrypoint over the admin package's
// count/scan/repair/reset operations: the "admin CLI" spec.md §1 marks
// as an external collaborator, given a concrete (deliberately thin)
// implementation here so admin's API gets exercised end to end.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/golang/glog"
	"github.com/spf13/cobra"

	"github.com/kinetic-io/kio/admin"
	"github.com/kinetic-io/kio/conn"
	"github.com/kinetic-io/kio/kconfig"
	"github.com/kinetic-io/kio/kinetic"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "kioadmin: %v\n", err)
		os.Exit(1)
	}
}

var (
	flagClusterID    string
	flagLocationEnv  string
	flagSecurityEnv  string
	flagClustersEnv  string
	flagConfigEnv    string
	flagThreads      int
	flagPageSize     int
	flagMemory       bool
)

var rootCmd = &cobra.Command{
	Use:   "kioadmin",
	Short: "Scan, repair and reset stripes across a Kinetic drive cluster",
	Long: `kioadmin drives the admin package's paginated count/scan/repair/reset
operations over a cluster built from the three KINETIC_* JSON
configuration documents (see kconfig). It links no real Kinetic wire
client: pass --memory to run against an in-process simulated cluster
seeded from the same drive table, which is how this binary is exercised
in tests and demos until a real drive-protocol client is wired in.`,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagClusterID, "cluster-id", "", "cluster id to operate on (required)")
	rootCmd.PersistentFlags().StringVar(&flagLocationEnv, "location-env", "KINETIC_DRIVE_LOCATION", "environment variable holding the drive-location document")
	rootCmd.PersistentFlags().StringVar(&flagSecurityEnv, "security-env", "KINETIC_DRIVE_SECURITY", "environment variable holding the drive-security document")
	rootCmd.PersistentFlags().StringVar(&flagClustersEnv, "clusters-env", "KINETIC_CLUSTER_DEFINITION", "environment variable holding the cluster-definition document")
	rootCmd.PersistentFlags().StringVar(&flagConfigEnv, "config-env", "KIO_CONFIGURATION", "environment variable holding the top-level configuration document")
	rootCmd.PersistentFlags().IntVar(&flagThreads, "threads", 4, "worker count for the background pool driving each pass")
	rootCmd.PersistentFlags().IntVar(&flagPageSize, "page-size", 100, "keys fetched per GetKeyRange page")
	rootCmd.PersistentFlags().BoolVar(&flagMemory, "memory", false, "run against an in-process simulated cluster instead of a real drive fleet")
	rootCmd.MarkPersistentFlagRequired("cluster-id")

	rootCmd.AddCommand(
		newTargetedCmd("count", "Count the keys of one target class", runCount),
		newTargetedCmd("scan", "Classify every key of one target class without modifying anything", runScan),
		newTargetedCmd("repair", "Scan and repair every key needing action", runRepair),
		newTargetedCmd("reset", "Force-remove every key of one target class", runReset),
	)
}

func newTargetedCmd(use, short string, run func(*cobra.Command, *admin.Cluster, admin.Target) error) *cobra.Command {
	var targetName string
	cmd := &cobra.Command{
		Use:   use + " --target=<data|metadata|attribute|indicator>",
		Short: short,
		RunE: func(cmd *cobra.Command, args []string) error {
			target, err := parseTarget(targetName)
			if err != nil {
				return err
			}
			a, err := buildAdmin()
			if err != nil {
				return err
			}
			return run(cmd, a, target)
		},
	}
	cmd.Flags().StringVar(&targetName, "target", "data", "key class to operate on: data, metadata, attribute, indicator")
	return cmd
}

func parseTarget(name string) (admin.Target, error) {
	switch name {
	case "data":
		return admin.TargetData, nil
	case "metadata":
		return admin.TargetMetadata, nil
	case "attribute":
		return admin.TargetAttribute, nil
	case "indicator":
		return admin.TargetIndicator, nil
	default:
		return 0, fmt.Errorf("unknown target %q", name)
	}
}

// buildAdmin loads the configuration and constructs an admin.Cluster.
// In --memory mode the connections are backed by a kinetic.MemDialer
// seeded with one fresh simulated drive per configured WWN, since this
// repository links no real Kinetic wire client (spec.md §6.1).
func buildAdmin() (*admin.Cluster, error) {
	m, err := kconfig.Load(flagLocationEnv, flagSecurityEnv, flagClustersEnv, flagConfigEnv)
	if err != nil {
		return nil, fmt.Errorf("loading configuration: %w", err)
	}

	var dialer conn.Dialer
	if flagMemory {
		dialer = seedMemoryDialer(m)
	} else {
		return nil, fmt.Errorf("no real Kinetic wire client is linked into this binary; re-run with --memory for an in-process demo cluster")
	}

	cl, err := m.BuildCluster(flagClusterID, dialer, nil)
	if err != nil {
		return nil, fmt.Errorf("building cluster %q: %w", flagClusterID, err)
	}
	return admin.New(flagClusterID, cl, flagPageSize), nil
}

func seedMemoryDialer(m *kconfig.Map) *kinetic.MemDialer {
	dialer := kinetic.NewMemDialer()
	for _, d := range m.Drives {
		ep := conn.Endpoint{Host: d.Host, Port: d.Port}
		dialer.Register(ep, kinetic.NewDrive(d.SerialNumber, 64<<30))
	}
	return dialer
}

func progress(label string) admin.Callback {
	return func(processed int) bool {
		glog.Infof("kioadmin: %s: %d keys processed", label, processed)
		return true
	}
}

func runCount(cmd *cobra.Command, a *admin.Cluster, target admin.Target) error {
	n, err := a.Count(context.Background(), target, flagThreads, progress("count"))
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%d keys\n", n)
	return nil
}

func runScan(cmd *cobra.Command, a *admin.Cluster, target admin.Target) error {
	counts, err := a.Scan(context.Background(), target, flagThreads, progress("scan"))
	printCounts(cmd, counts)
	return err
}

func runRepair(cmd *cobra.Command, a *admin.Cluster, target admin.Target) error {
	counts, err := a.Repair(context.Background(), target, flagThreads, progress("repair"))
	printCounts(cmd, counts)
	return err
}

func runReset(cmd *cobra.Command, a *admin.Cluster, target admin.Target) error {
	counts, err := a.Reset(context.Background(), target, flagThreads, progress("reset"))
	printCounts(cmd, counts)
	return err
}

func printCounts(cmd *cobra.Command, c admin.Counts) {
	fmt.Fprintf(cmd.OutOrStdout(), "total=%d incomplete=%d need_action=%d repaired=%d removed=%d unrepairable=%d\n",
		c.Total, c.Incomplete, c.NeedAction, c.Repaired, c.Removed, c.Unrepairable)
}
