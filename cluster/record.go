/*
 * Copyright (c) 2018, NVIDIA CORPORATION. All rights reserved.
 */
package cluster

import (
	"github.com/kinetic-io/kio/cmn"
	"github.com/kinetic-io/kio/kinetic"
)

// makeRecord builds the on-drive record for one stripe fragment,
// stamping its CRC32C tag under the CRC32 algorithm selector.
func makeRecord(value, version []byte) kinetic.Record {
	return kinetic.Record{
		Value:     value,
		Version:   version,
		Tag:       []byte(cmn.Tag(value)),
		Algorithm: cmn.AlgorithmCRC32,
	}
}
