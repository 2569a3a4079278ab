package link

import (
	"encoding/binary"
	"fmt"
	"sort"
)

// buildRelocationTable sorts and dedupes every patch offset flagged
// NeedsReloc, then encodes each per the on-disk relocation table format:
// the 2-byte offset itself when it fits unambiguously, else a 0x0001
// escape marker followed by the full 4-byte offset.
func buildRelocationTable(results []patchResult) ([]byte, error) {
	offsets := collectRelocOffsets(results)

	var out []byte
	var tmp2 [2]byte
	var tmp4 [4]byte
	for _, off := range offsets {
		if off%2 != 0 {
			return nil, fmt.Errorf("%w: offset 0x%x", ErrOddRelocation, off)
		}
		if off < 0x10000 && off != 1 {
			binary.BigEndian.PutUint16(tmp2[:], uint16(off))
			out = append(out, tmp2[:]...)
		} else {
			binary.BigEndian.PutUint16(tmp2[:], 0x0001)
			out = append(out, tmp2[:]...)
			binary.BigEndian.PutUint32(tmp4[:], off)
			out = append(out, tmp4[:]...)
		}
	}
	return out, nil
}

// collectRelocOffsets gathers every flagged offset across all objects'
// patch results, sorted ascending with duplicates removed.
func collectRelocOffsets(results []patchResult) []uint32 {
	seen := make(map[uint32]bool)
	var offsets []uint32
	for _, r := range results {
		if !r.NeedsReloc {
			continue
		}
		if seen[r.Offset] {
			continue
		}
		seen[r.Offset] = true
		offsets = append(offsets, r.Offset)
	}
	sort.Slice(offsets, func(i, j int) bool { return offsets[i] < offsets[j] })
	return offsets
}
