/*
 * Copyright (c) 2018, NVIDIA CORPORATION. All rights reserved.
 */
package cmn

import (
	"fmt"
	"strconv"

	"github.com/google/uuid"
)

const (
	// VersionLengthFieldWidth is the width of the ASCII decimal length
	// prefix carried by every version string.
	VersionLengthFieldWidth = 10
	// VersionLen is the size of a current-format version: a 10-byte
	// decimal length prefix plus a 36-byte UUID string.
	VersionLen = VersionLengthFieldWidth + 36
	// legacyVersionLen is the older 10 + 16 raw-UUID-bytes format that
	// decoders must still accept.
	legacyVersionLen = VersionLengthFieldWidth + 16
)

// NewVersion stamps a fresh stripe version: the zero-padded decimal
// byte-length of the original value followed by a random UUID, 46 bytes
// total.
func NewVersion(valueLen int) string {
	if valueLen < 0 || valueLen > 9999999999 {
		panic(fmt.Sprintf("kio: value length %d does not fit a %d-digit prefix", valueLen, VersionLengthFieldWidth))
	}
	return fmt.Sprintf("%0*d%s", VersionLengthFieldWidth, valueLen, uuid.NewString())
}

// DecodeVersionLength extracts the original value's byte length encoded in
// a version string's 10-byte prefix. Accepts both the 46-byte current
// format and the legacy 26-byte (10 + 16 raw UUID bytes) variant.
func DecodeVersionLength(version string) (int, error) {
	if len(version) != VersionLen && len(version) != legacyVersionLen {
		return 0, fmt.Errorf("kio: version %q has invalid length %d", version, len(version))
	}
	n, err := strconv.Atoi(version[:VersionLengthFieldWidth])
	if err != nil {
		return 0, fmt.Errorf("kio: version %q has a non-numeric length prefix: %w", version, err)
	}
	return n, nil
}

// IsValidVersion reports whether s has either the current or legacy
// version encoding.
func IsValidVersion(s string) bool {
	_, err := DecodeVersionLength(s)
	return err == nil
}
