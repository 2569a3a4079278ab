package link

import (
	"encoding/binary"

	"github.com/xyproto/haslink/object"
	"github.com/xyproto/haslink/resolve"
)

// symbolTypeCode maps a defined symbol's section to the 2-byte type code
// stored ahead of its address in the on-disk symbol table. RCommon,
// RLCommon, Xref, and unrecognized sections carry no symbol-table entry.
func symbolTypeCode(kind object.SectionKind) (uint16, bool) {
	switch kind {
	case object.Text:
		return 0x0201, true
	case object.Data:
		return 0x0202, true
	case object.Bss:
		return 0x0203, true
	case object.Stack:
		return 0x0204, true
	case object.Common:
		return 0x0003, true
	case object.Abs, object.RData, object.RBss, object.RStack,
		object.RLData, object.RLBss, object.RLStack:
		return 0x0200, true
	default:
		return 0, false
	}
}

// buildSymbolTable emits one entry per eligible defined symbol: a 2-byte
// type code, a 4-byte big-endian address, and a NUL-terminated name
// (even-padded). Synthetic ctor/dtor symbols, when injected, are appended
// last using the same encoding.
func buildSymbolTable(summaries []*resolve.ObjectSummary, globals *GlobalSymbols, synthNames []string) []byte {
	var out []byte
	seen := make(map[string]bool)

	emit := func(name string, typ uint16, addr int32) {
		var hdr [6]byte
		binary.BigEndian.PutUint16(hdr[0:2], typ)
		binary.BigEndian.PutUint32(hdr[2:6], uint32(addr))
		out = append(out, hdr[:]...)
		out = append(out, []byte(name)...)
		out = append(out, 0)
		if len(name)%2 == 0 {
			out = append(out, 0) // keep entries on even boundaries
		}
	}

	for _, s := range summaries {
		for _, sym := range s.Defined {
			if len(sym.Name) > 0 && sym.Name[0] == '*' {
				continue
			}
			if seen[sym.Name] {
				continue
			}
			typ, ok := symbolTypeCode(sym.Section)
			if !ok {
				continue
			}
			entry, ok := globals.Lookup(sym.Name)
			if !ok {
				continue
			}
			seen[sym.Name] = true
			emit(sym.Name, typ, entry.Value)
		}
	}

	for _, name := range synthNames {
		if seen[name] {
			continue
		}
		entry, ok := globals.Lookup(name)
		if !ok {
			continue
		}
		seen[name] = true
		emit(name, 0x0202, entry.Value)
	}

	return out
}
