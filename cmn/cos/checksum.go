// Package cos is VexFS's byte/checksum utility belt, named after and
// mirroring the role of the teacher's cmn/cos package (content-addressed
// object helpers, checksum types, byte-size constants).
/*
 * Copyright (c) 2024-2026, VexFS Authors.
 */
package cos

import (
	"crypto/sha256"

	"github.com/OneOfOne/xxhash"
)

const (
	KiB = 1024
	MiB = 1024 * KiB
	GiB = 1024 * MiB
)

// FastChecksum32 is the hot-path block checksum (spec §3/§6 "crc32" field):
// the teacher reaches for xxhash rather than stdlib crc32 for checksumming
// hot paths (object checksums, list-bucket caching), so VexFS's per-block
// fast checksum is xxhash64 truncated to 32 bits rather than IEEE crc32 —
// faster on modern cores and already a direct teacher dependency.
func FastChecksum32(b []byte) uint32 {
	return uint32(xxhash.Checksum64(b))
}

// SHA256 is the integrity checksum for Commit records and semantic-log
// blocks per spec §4.1/§4.8 — true SHA-256, 32 bytes.
func SHA256(b []byte) [32]byte {
	return sha256.Sum256(b)
}

// VerifySHA256 reports whether b hashes to the given digest.
func VerifySHA256(b []byte, digest [32]byte) bool {
	return SHA256(b) == digest
}
