// Package format provides binary encoding/decoding for filequeue file formats.
//
// This package implements:
//   - Record format: queue records with a fixed header and CRC32C checksum
//   - Segment header format: the fixed header at the start of every segment file
//   - Metadata format: JSON-encoded cursor state with atomic updates
//   - Payload codecs: optional per-record compression
package format

import "hash/crc32"

var castagnoli = crc32.MakeTable(crc32.Castagnoli)

// ComputeCRC32C returns the CRC32C (Castagnoli) checksum of data.
func ComputeCRC32C(data []byte) uint32 {
	return crc32.Checksum(data, castagnoli)
}
