/*
 * Copyright (c) 2018, NVIDIA CORPORATION. All rights reserved.
 */
package cmn

import (
	"fmt"
	"strconv"
	"strings"
)

// KeyType distinguishes the redundancy policy applied to a logical key:
// Data keys are erasure-coded, Metadata and Attribute keys are replicated.
type KeyType int

const (
	Data KeyType = iota
	Metadata
	Attribute
	Indicator
)

func (t KeyType) String() string {
	switch t {
	case Data:
		return "data"
	case Metadata:
		return "metadata"
	case Attribute:
		return "attribute"
	case Indicator:
		return "indicator"
	default:
		return "unknown"
	}
}

// DataBlockKey builds the "<cluster-id>:data:<path>_<10-digit block index>"
// key for one data block of a file.
func DataBlockKey(clusterID, path string, blockIdx int64) string {
	return fmt.Sprintf("%s:data:%s_%010d", clusterID, path, blockIdx)
}

// MetadataKey builds "<cluster-id>:metadata:<path>".
func MetadataKey(clusterID, path string) string {
	return fmt.Sprintf("%s:metadata:%s", clusterID, path)
}

// AttributeKey builds "<cluster-id>:attribute:<path>:<name>".
func AttributeKey(clusterID, path, name string) string {
	return fmt.Sprintf("%s:attribute:%s:%s", clusterID, path, name)
}

// IndicatorKey builds "indicator:<original key>", written after any stripe
// op that completed below full redundancy.
func IndicatorKey(key string) string {
	return "indicator:" + key
}

// IndicatorTarget extracts the original key from an indicator key.
func IndicatorTarget(indicatorKey string) (string, bool) {
	const prefix = "indicator:"
	if len(indicatorKey) <= len(prefix) || indicatorKey[:len(prefix)] != prefix {
		return "", false
	}
	return indicatorKey[len(prefix):], true
}

// HandoffKey builds the hinted-handoff key for fragment chunk i of key at
// version v: "handoff=<key>version=<v>chunk=<i>".
func HandoffKey(key, version string, chunk int) string {
	return fmt.Sprintf("handoff=%sversion=%schunk=%d", key, version, chunk)
}

// HandoffRangeStart and HandoffRangeEnd bound the range scan
// "handoff=<key>version=<v>" .. "handoff=<key>version=<v>~" used to
// discover hinted-handoff fragments for a given key and version.
func HandoffRangeStart(key, version string) string {
	return fmt.Sprintf("handoff=%sversion=%s", key, version)
}

func HandoffRangeEnd(key, version string) string {
	return HandoffRangeStart(key, version) + "~"
}

// KeyRange returns the [start, end) bounds of every key of type t
// belonging to clusterID, for a full-cluster scan (admin count/scan/
// repair/reset). Data keys range over every path and block index;
// Metadata and Attribute keys range over every path (and, for
// Attribute, every name); Indicator keys range over the indicator
// namespace for the whole cluster, regardless of the wrapped key's own
// type.
func KeyRange(clusterID string, t KeyType) (start, end string) {
	switch t {
	case Metadata:
		return MetadataKey(clusterID, " "), MetadataKey(clusterID, "~")
	case Attribute:
		return AttributeKey(clusterID, " ", " "), AttributeKey(clusterID, "~", "~")
	case Indicator:
		return IndicatorKey(clusterID + ":"), IndicatorKey(clusterID + ":~")
	default:
		return DataBlockKey(clusterID, " ", 0), DataBlockKey(clusterID, "~", 99999999)
	}
}

// HandoffPrefixStart and HandoffPrefixEnd bound the range scan
// "handoff=<key>" .. "handoff=<key>~" used to discover every
// hinted-handoff fragment for key across all versions, for cleanup
// after a repair or reset makes the key's version irrelevant.
func HandoffPrefixStart(key string) string {
	return "handoff=" + key
}

func HandoffPrefixEnd(key string) string {
	return HandoffPrefixStart(key) + "~"
}

// ParseDataBlockIndex extracts the block index from a key produced by
// DataBlockKey, relying on its fixed 10-digit, underscore-prefixed
// suffix.
func ParseDataBlockIndex(dataKey string) (int64, error) {
	if len(dataKey) < 11 || dataKey[len(dataKey)-11] != '_' {
		return 0, fmt.Errorf("kio/cmn: %q is not a data block key", dataKey)
	}
	return strconv.ParseInt(dataKey[len(dataKey)-10:], 10, 64)
}

// ParseHandoffChunk extracts the chunk index from a handoff key produced
// by HandoffKey.
func ParseHandoffChunk(handoffKey string) (int, bool) {
	i := strings.LastIndex(handoffKey, "chunk=")
	if i < 0 {
		return 0, false
	}
	n, err := strconv.Atoi(handoffKey[i+len("chunk="):])
	if err != nil {
		return 0, false
	}
	return n, true
}
