package object

// Opaque command codes are 16-bit, hi:lo. The high byte selects a family;
// the families below are shared between the parser (payload length) and
// the writer's validator/materializer (semantics), so the two halves of
// the opcode table can never drift apart.
const (
	OpCtorEntry = 0x4c01
	OpDtorEntry = 0x4d01
	OpDoCtor    = 0xe00c
	OpDoDtor    = 0xe00d

	HiPush = 0x80
	HiCalc = 0xa0

	HiWrtStkByte      = 0x90
	HiWrtStkWordText  = 0x91
	HiWrtStkLong      = 0x92
	HiWrtStkByteRaw   = 0x93
	HiWrtStkLongAlt   = 0x96
	HiWrtStkWordReloc = 0x99
	HiWrtStkLongReloc = 0x9a

	HiAbsWord    = 0x40
	HiAbsWordAlt = 0x41
	HiAbsLong    = 0x42
	HiAbsByte    = 0x43
	HiXrefWord   = 0x45
	HiAddLong    = 0x46
	HiXrefByte   = 0x47

	HiDispWord      = 0x65
	HiDispWordAlias = 0x69
	HiDispLong      = 0x6a
	HiDispByte      = 0x6b
)

// directBase holds the payload/write-size shape for the base direct
// opcode families (0x40..0x47); the 0x50..0x57 "with offset" variants
// reuse these shapes with hi-0x10 and 4 extra payload bytes.
type directBase struct {
	normalPayload int // payload length when lo is not an xref label
	xrefPayload   int // payload length when lo is 0xfc..0xff, if it differs
	writeSize     int
}

var directBases = map[byte]directBase{
	byte(HiAbsWord):    {normalPayload: 4, xrefPayload: 4, writeSize: 2},
	byte(HiAbsWordAlt): {normalPayload: 4, xrefPayload: 4, writeSize: 2},
	byte(HiAbsLong):    {normalPayload: 4, xrefPayload: 2, writeSize: 4},
	byte(HiAbsByte):    {normalPayload: 4, xrefPayload: 2, writeSize: 1},
	byte(HiXrefWord):   {normalPayload: 2, xrefPayload: 2, writeSize: 2},
	byte(HiAddLong):    {normalPayload: 8, xrefPayload: 8, writeSize: 4},
	byte(HiXrefByte):   {normalPayload: 2, xrefPayload: 2, writeSize: 1},
}

// IsSupportedOpaque reports whether code is part of the known opaque
// opcode surface (the set the parser keeps instead of rejecting).
func IsSupportedOpaque(code uint16) bool {
	_, ok := PayloadLen(code)
	return ok
}

// PayloadLen returns the payload length in bytes for an opaque command
// given its 16-bit code; the low byte of the code is the addressing
// selector (0x00=absolute, 0x01..0x0a=section, 0xfc..0xff=common/xref)
// and shortens the payload for the direct-opcode families that carry a
// full value only in the non-xref case. ok is false for codes outside
// the known table.
func PayloadLen(code uint16) (int, bool) {
	hi := byte(code >> 8)
	lo := byte(code)

	switch {
	case code == OpCtorEntry, code == OpDtorEntry:
		return 4, true
	case code == OpDoCtor, code == OpDoDtor:
		return 0, true
	case hi == HiPush:
		plo := byte(code)
		switch {
		case plo == 0x00:
			return 4, true
		case plo >= 0x01 && plo <= 0x0a:
			return 4, true
		case plo >= 0xfc:
			return 2, true
		}
		return 0, false
	case hi == HiCalc:
		return 0, true
	case hi == HiWrtStkByte, hi == HiWrtStkWordText, hi == HiWrtStkLong,
		hi == HiWrtStkByteRaw, hi == HiWrtStkLongAlt, hi == HiWrtStkWordReloc,
		hi == HiWrtStkLongReloc:
		return 0, true
	}

	if b, ok := directBases[hi]; ok {
		if lo >= 0xfc {
			return b.xrefPayload, true
		}
		return b.normalPayload, true
	}

	if b, ok := directBases[hi-0x10]; ok && hi >= 0x50 && hi <= 0x57 {
		base := b.normalPayload
		if lo >= 0xfc {
			base = b.xrefPayload
		}
		return base + 4, true
	}

	switch hi {
	case HiDispWord, HiDispWordAlias, HiDispLong, HiDispByte:
		return 6, true // 4B target address + 2B xref label
	}

	return 0, false
}

// WriteSize returns the materialized write width (in bytes) for a direct
// or stack-write opaque opcode. ok is false for opcodes with no fixed
// write size (push, calc, unsupported).
func WriteSize(code uint16) (int, bool) {
	hi := byte(code >> 8)
	switch hi {
	case HiWrtStkByte, HiWrtStkByteRaw:
		return 1, true
	case HiWrtStkWordText, HiWrtStkWordReloc:
		return 2, true
	case HiWrtStkLong, HiWrtStkLongAlt, HiWrtStkLongReloc:
		return 4, true
	case HiDispWord, HiDispWordAlias:
		return 2, true
	case HiDispLong:
		return 4, true
	case HiDispByte:
		return 1, true
	}
	if b, ok := directBases[hi]; ok {
		return b.writeSize, true
	}
	if b, ok := directBases[hi-0x10]; ok && hi >= 0x50 && hi <= 0x57 {
		return b.writeSize, true
	}
	return 0, false
}
