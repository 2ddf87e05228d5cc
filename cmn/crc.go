/*
 * Copyright (c) 2018, NVIDIA CORPORATION. All rights reserved.
 */
package cmn

import (
	"fmt"
	"hash/crc32"
)

// Algorithm is the drive record's checksum-algorithm selector. The wire
// format only ever stamps AlgorithmCRC32 even though the tag bytes
// themselves are CRC32C. Kept as-is rather than corrected, since changing
// it would invalidate every tag already stored on a drive.
type Algorithm int

const AlgorithmCRC32 Algorithm = 1

var castagnoli = crc32.MakeTable(crc32.Castagnoli)

// Tag computes the decimal ASCII CRC32C tag of value, as stamped on every
// fragment record.
func Tag(value []byte) string {
	return fmt.Sprintf("%d", crc32.Checksum(value, castagnoli))
}

// VerifyTag reports whether tag is the correct CRC32C tag for value.
func VerifyTag(value []byte, tag string) bool {
	return tag == Tag(value)
}
