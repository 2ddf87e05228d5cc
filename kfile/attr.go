package kfile

import (
	"context"
	"fmt"
	"strings"

	"github.com/kinetic-io/kio/cluster"
	"github.com/kinetic-io/kio/cmn"
)

// AttrGet reads the value of extended attribute name on path.
func AttrGet(ctx context.Context, cl *cluster.Cluster, clusterID, path, name string) ([]byte, error) {
	res := cl.Get(ctx, cmn.AttributeKey(clusterID, path, name), cmn.Attribute)
	if res.Status.Code == cmn.NotFound {
		return nil, fmt.Errorf("kio/kfile: attribute %q not set on %q", name, path)
	}
	if !res.Status.OK() {
		return nil, fmt.Errorf("kio/kfile: get attribute %q of %q: %v", name, path, res.Status)
	}
	return res.Value, nil
}

// AttrSet sets extended attribute name on path to value, creating it
// if absent.
func AttrSet(ctx context.Context, cl *cluster.Cluster, clusterID, path, name string, value []byte) error {
	key := cmn.AttributeKey(clusterID, path, name)
	res := cl.Get(ctx, key, cmn.Attribute)
	var oldVersion []byte
	if res.Status.OK() {
		oldVersion = res.Version
	}
	put := cl.Put(ctx, key, oldVersion, value, cmn.Attribute)
	if !put.Status.OK() {
		return fmt.Errorf("kio/kfile: set attribute %q of %q: %v", name, path, put.Status)
	}
	return nil
}

// AttrDelete removes extended attribute name from path.
func AttrDelete(ctx context.Context, cl *cluster.Cluster, clusterID, path, name string) error {
	res := cl.Remove(ctx, cmn.AttributeKey(clusterID, path, name), nil, cmn.Attribute)
	if !res.Status.OK() && res.Status.Code != cmn.NotFound {
		return fmt.Errorf("kio/kfile: delete attribute %q of %q: %v", name, path, res.Status)
	}
	return nil
}

// AttrList returns the names of every extended attribute set on path.
func AttrList(ctx context.Context, cl *cluster.Cluster, clusterID, path string) ([]string, error) {
	start := cmn.AttributeKey(clusterID, path, " ")
	end := cmn.AttributeKey(clusterID, path, "~")
	prefix := cmn.AttributeKey(clusterID, path, "")

	var names []string
	for {
		keys, status := cl.Range(ctx, start, end, cmn.Attribute, 100)
		if !status.OK() {
			return nil, fmt.Errorf("kio/kfile: list attributes of %q: %v", path, status)
		}
		if len(keys) == 0 {
			break
		}
		for _, k := range keys {
			names = append(names, strings.TrimPrefix(k, prefix))
		}
		start = keys[len(keys)-1] + string(rune(0))
		if len(keys) < 100 {
			break
		}
	}
	return names, nil
}
