package kfile

import (
	"context"
	"fmt"
	"strings"

	"github.com/kinetic-io/kio/cluster"
	"github.com/kinetic-io/kio/cmn"
)

// ListFiles returns up to max paths whose metadata key falls under
// subtree (a path prefix), sorted lexically. max <= 0 means unbounded.
func ListFiles(ctx context.Context, cl *cluster.Cluster, clusterID, subtree string, max int) ([]string, error) {
	start := cmn.MetadataKey(clusterID, subtree)
	end := cmn.MetadataKey(clusterID, subtree+"~")
	prefix := clusterID + ":metadata:"
	pageSize := 1000

	var paths []string
	for {
		keys, status := cl.Range(ctx, start, end, cmn.Metadata, pageSize)
		if !status.OK() {
			return nil, fmt.Errorf("kio/kfile: list %q: %v", subtree, status)
		}
		if len(keys) == 0 {
			break
		}
		for _, k := range keys {
			paths = append(paths, strings.TrimPrefix(k, prefix))
			if max > 0 && len(paths) >= max {
				return paths, nil
			}
		}
		start = keys[len(keys)-1] + string(rune(0))
		if len(keys) < pageSize {
			break
		}
	}
	return paths, nil
}
