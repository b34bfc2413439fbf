package cos

import "encoding/binary"

// LE is the shared byte order for every on-disk structure in VexFS — spec §6
// mandates little-endian integer fields across the journal ring, allocation
// bitmaps, graph/index blocks and semantic log.
var LE = binary.LittleEndian

// PutU32 / PutU64 / GetU32 / GetU64 are thin aliases kept local so call sites
// in journal/graph/semantic read `cos.PutU32` instead of repeating
// `binary.LittleEndian` at every call, matching the teacher's habit of
// funneling encoding through cmn/cos helpers.
func PutU32(b []byte, v uint32) { LE.PutUint32(b, v) }
func PutU64(b []byte, v uint64) { LE.PutUint64(b, v) }
func GetU32(b []byte) uint32    { return LE.Uint32(b) }
func GetU64(b []byte) uint64    { return LE.Uint64(b) }
