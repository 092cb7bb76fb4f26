// Package checksum computes integrity checksums: the cheap 16-bit checksum
// the engine stores in every object's alloc header, and a 64-bit xxHash
// commit checksum (Commit/VerifyCommit) that no engine code path calls.
package checksum

import "github.com/cespare/xxhash/v2"

// Object computes the 16-bit checksum stored in an object's AllocHeader.
// It truncates the lower 16 bits of an xxHash64 sum rather than using a
// dedicated 16-bit algorithm: xxHash is already a dependency for the
// commit checksum, and its low bits pass the avalanche property
// just as well as a CRC16 would for this object's purpose (flagging torn
// writes and bit rot, not cryptographic integrity).
func Object(data []byte) uint16 {
	return uint16(xxhash.Sum64(data))
}

// Commit computes a 64-bit xxHash checksum over data. Nothing in the
// engine calls it; options.SyncOptions.ChecksumCommits does not enable it.
func Commit(data []byte) uint64 {
	return xxhash.Sum64(data)
}

// Verify reports whether data's checksum matches expected.
func Verify(data []byte, expected uint16) bool {
	return Object(data) == expected
}

// VerifyCommit reports whether data's commit checksum matches expected.
func VerifyCommit(data []byte, expected uint64) bool {
	return Commit(data) == expected
}
