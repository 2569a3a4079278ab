package link

import (
	"encoding/binary"

	"github.com/xyproto/haslink/expr"
	"github.com/xyproto/haslink/object"
	"github.com/xyproto/haslink/resolve"
)

// objectContext adapts one object's placement and xref table to the
// expr.Context interface the evaluator needs.
type objectContext struct {
	globals     *GlobalSymbols
	placements  map[object.SectionKind]uint32
	labelToName map[uint32]string
}

func newObjectContext(globals *GlobalSymbols, placements map[object.SectionKind]uint32, xrefs []resolve.Xref) *objectContext {
	labels := make(map[uint32]string, len(xrefs))
	for _, x := range xrefs {
		labels[x.Label] = x.Name
	}
	return &objectContext{globals: globals, placements: placements, labelToName: labels}
}

func (c *objectContext) SectionBase(kind object.SectionKind) (uint32, int16) {
	base, stat := c.globals.SectionBase(kind)
	return base + c.placements[kind], stat
}

func (c *objectContext) ResolveXref(label uint32) (expr.Entry, bool) {
	name, ok := c.labelToName[label]
	if !ok {
		return expr.Entry{}, false
	}
	return c.globals.Lookup(name)
}

func (c *objectContext) xrefKind(label uint32) (object.SectionKind, bool) {
	name, ok := c.labelToName[label]
	if !ok {
		return 0, false
	}
	return c.globals.KindOf(name)
}

// relocEligible reports whether a resolved xref target lives in one of
// the regions that participate in the relocation table.
func relocEligible(kind object.SectionKind) bool {
	switch kind {
	case object.Text, object.Data, object.Bss, object.Stack, object.Common:
		return true
	default:
		return false
	}
}

// patchResult carries one materialized write, used to feed the
// relocation-table builder.
type patchResult struct {
	Section    object.SectionKind
	Offset     uint32 // position within the global section buffer
	NeedsReloc bool
}

// patchObject is the second, opaque-command-only walk over one object:
// it rebuilds the expression stack and materializes bytes back into the
// linked global buffers at placement[section]+cursor.
func patchObject(obj *object.Object, objName string, ctx *objectContext, buffers map[object.SectionKind][]byte) ([]patchResult, []ExprDiagnostic) {
	stack := expr.NewStack()
	var results []patchResult
	var diags []ExprDiagnostic

	recordDiags := func(section object.SectionKind, cursor uint32) {
		for _, msg := range stack.Diagnostics() {
			diags = append(diags, ExprDiagnostic{ObjectName: objName, Cursor: cursor, Section: section.String(), Message: msg})
		}
	}

	writeAt := func(section object.SectionKind, cursor uint32, value int32, size int) {
		buf, ok := buffers[section]
		if !ok || !section.IsInitialized() {
			return
		}
		base := ctx.placements[section]
		off := base + cursor
		if int(off)+size > len(buf) {
			return
		}
		var tmp [4]byte
		binary.BigEndian.PutUint32(tmp[:], uint32(value))
		copy(buf[off:int(off)+size], tmp[4-size:])
	}

	walkCommands(obj.Commands, func(cmd object.Command, section object.SectionKind, cursor uint32) {
		if cmd.Kind != object.Opaque {
			return
		}
		hi := byte(cmd.Code >> 8)
		lo := byte(cmd.Code)

		switch {
		case hi == object.HiPush:
			var payload uint32
			var label uint32
			switch {
			case lo == 0x00 || (lo >= 0x01 && lo <= 0x0a):
				if len(cmd.Payload) >= 4 {
					payload = binary.BigEndian.Uint32(cmd.Payload)
				}
			case lo >= 0xfc:
				if len(cmd.Payload) >= 2 {
					label = uint32(binary.BigEndian.Uint16(cmd.Payload))
				}
			}
			_ = stack.Push(ctx, lo, payload, label)
			recordDiags(section, cursor)

		case hi == object.HiCalc:
			switch lo {
			case 0x01, 0x03, 0x04, 0x05, 0x06, 0x07:
				_ = stack.Unary(lo)
			case 0x02:
				_ = stack.Dup()
			case 0x09:
				_ = stack.Mul()
			case 0x0a:
				_ = stack.Div()
			case 0x0b:
				_ = stack.Mod()
			case 0x0c, 0x0d, 0x0e:
				_ = stack.Shift(lo)
			case 0x0f:
				_ = stack.Sub()
			case 0x10:
				_ = stack.Add()
			case 0x11, 0x12, 0x13, 0x14, 0x15, 0x16, 0x17, 0x18, 0x19, 0x1a:
				_ = stack.Compare(lo)
			case 0x1b, 0x1c, 0x1d:
				_ = stack.Bitwise(lo)
			}
			recordDiags(section, cursor)

		case isStackWriteHi(hi):
			size, _ := object.WriteSize(cmd.Code)
			strict := hi == object.HiWrtStkWordReloc
			value, stat, _ := stack.PopForWrite(size, strict, section.IsBase())
			recordDiags(section, cursor)
			writeAt(section, cursor, value, size)
			needsReloc := size == 4 && isBaseWriteSection(section) && stat == expr.StatBaseSection
			if needsReloc {
				base := ctx.placements[section]
				results = append(results, patchResult{Section: section, Offset: base + cursor, NeedsReloc: true})
			}

		default:
			if v, size, needsReloc, diag, ok := materializeDirect(cmd.Code, cmd.Payload, ctx, section); ok {
				if diag != "" {
					diags = append(diags, ExprDiagnostic{ObjectName: objName, Cursor: cursor, Section: section.String(), Message: diag})
				}
				writeAt(section, cursor, v, size)
				if needsReloc {
					base := ctx.placements[section]
					results = append(results, patchResult{Section: section, Offset: base + cursor, NeedsReloc: true})
				}
			}
		}
	})

	return results, diags
}

// isBaseWriteSection reports whether kind is one of the two sections
// that actually carry file bytes a relocation table entry can target.
func isBaseWriteSection(kind object.SectionKind) bool {
	return kind == object.Text || kind == object.Data
}

func isStackWriteHi(hi byte) bool {
	switch hi {
	case object.HiWrtStkByte, object.HiWrtStkWordText, object.HiWrtStkLong,
		object.HiWrtStkByteRaw, object.HiWrtStkLongAlt, object.HiWrtStkWordReloc,
		object.HiWrtStkLongReloc:
		return true
	default:
		return false
	}
}

// materializeDirect computes the value, write size, relocation
// eligibility, and size-fit diagnostic (if any) for a direct/displacement
// opaque opcode that bypasses the calc stack. section is the section
// this write lands in (for the text/data-only relocation-table rule and
// the address-attribute-in-base-section diagnostics).
func materializeDirect(code uint16, payload []byte, ctx *objectContext, section object.SectionKind) (value int32, size int, needsReloc bool, diag string, ok bool) {
	hi := byte(code >> 8)
	lo := byte(code)

	switch {
	case hi == object.HiDispWord, hi == object.HiDispWordAlias, hi == object.HiDispLong, hi == object.HiDispByte:
		if len(payload) < 6 {
			return 0, 0, false, "", false
		}
		adr := binary.BigEndian.Uint32(payload[0:4])
		label := uint32(binary.BigEndian.Uint16(payload[4:6]))
		target, found := ctx.ResolveXref(label)
		if !found {
			return 0, 0, false, "", false
		}

		var base uint32
		var mode addrMode
		switch {
		case lo >= 0x01 && lo <= 0x0a:
			base, _ = ctx.SectionBase(object.SectionKind(lo))
			mode = addrModeSection
		case lo >= 0xfc:
			mode = addrModeXref
		default:
			mode = addrModeAbsolute
		}

		ws, _ := object.WriteSize(code)
		v := target.Value - (int32(base) + int32(adr))

		eligible := false
		switch mode {
		case addrModeSection:
			eligible = true
		case addrModeXref:
			if kind, found := ctx.xrefKind(label); found {
				eligible = relocEligible(kind)
			}
		}

		var d string
		if ws == 4 {
			// A 32-bit displacement must resolve to a placed, relocatable
			// address; anything else is an address-attribute value
			// escaping into a displacement field.
			if !eligible {
				d = expr.MsgAddrAsDisp32
			}
		} else {
			d = expr.ValidateSizeFit(v, target.Stat, ws, false, section.IsBase())
		}
		return v, ws, ws == 4 && isBaseWriteSection(section) && eligible, d, true
	}

	baseHi := hi
	extraOffset := false
	if hi >= 0x50 && hi <= 0x57 {
		baseHi = hi - 0x10
		extraOffset = true
	}

	ws, wsOK := object.WriteSize(code)
	if !wsOK {
		return 0, 0, false, "", false
	}

	v, mode, stat, mainLen, baseOK := materializeBase(baseHi, lo, payload, ctx)
	if !baseOK {
		return 0, 0, false, "", false
	}
	if extraOffset {
		if len(payload) < mainLen+4 {
			return 0, 0, false, "", false
		}
		off := int32(binary.BigEndian.Uint32(payload[mainLen : mainLen+4]))
		v += off
	}

	eligible := false
	switch mode {
	case addrModeSection:
		eligible = true
	case addrModeXref:
		if kind, found := ctx.xrefKind(xrefLabelFromMain(baseHi, payload, mainLen)); found {
			eligible = relocEligible(kind)
		}
	}
	needsReloc = ws == 4 && isBaseWriteSection(section) && eligible
	diag = expr.ValidateSizeFit(v, stat, ws, false, section.IsBase())
	return v, ws, needsReloc, diag, true
}

// xrefLabelFromMain recovers the xref label number from the main payload
// field so relocation eligibility can check the target's owning section
// without re-deriving the by-family payload layout.
func xrefLabelFromMain(baseHi byte, payload []byte, mainLen int) uint32 {
	switch baseHi {
	case object.HiAbsLong, object.HiAbsByte:
		if mainLen >= 2 {
			return uint32(binary.BigEndian.Uint16(payload[0:2]))
		}
	case object.HiXrefWord, object.HiXrefByte:
		if mainLen >= 2 {
			return uint32(binary.BigEndian.Uint16(payload[0:2]))
		}
	case object.HiAbsWord, object.HiAbsWordAlt, object.HiAddLong:
		if mainLen >= 4 {
			return uint32(binary.BigEndian.Uint16(payload[2:4]))
		}
	}
	return 0
}

// addrMode identifies which of the three lo-byte addressing classes a
// direct opcode used, which is what decides relocation eligibility.
type addrMode int

const (
	addrModeAbsolute addrMode = iota
	addrModeSection
	addrModeXref
)

// materializeBase handles the 0x40/0x41/0x42/0x43/0x45/0x46/0x47 base
// families, returning the bytes of payload it consumed for its "main"
// field so a with-offset variant knows where the trailing 4B offset is,
// plus the stat of the resolved value for size-fit diagnostics.
func materializeBase(baseHi, lo byte, payload []byte, ctx *objectContext) (value int32, mode addrMode, stat int16, mainLen int, ok bool) {
	switch baseHi {
	case object.HiAbsWord, object.HiAbsWordAlt:
		if len(payload) < 4 {
			return 0, 0, 0, 0, false
		}
		v, m, st, found := resolveAddressed(lo, binary.BigEndian.Uint32(payload[0:4]), uint32(binary.BigEndian.Uint16(payload[2:4])), ctx)
		if !found {
			return 0, 0, 0, 0, false
		}
		return v, m, st, 4, true

	case object.HiAbsLong, object.HiAbsByte:
		if lo >= 0xfc {
			if len(payload) < 2 {
				return 0, 0, 0, 0, false
			}
			label := uint32(binary.BigEndian.Uint16(payload[0:2]))
			target, found := ctx.ResolveXref(label)
			if !found {
				return 0, 0, 0, 0, false
			}
			return target.Value, addrModeXref, target.Stat, 2, true
		}
		if len(payload) < 4 {
			return 0, 0, 0, 0, false
		}
		v, m, st, found := resolveAddressed(lo, binary.BigEndian.Uint32(payload[0:4]), 0, ctx)
		if !found {
			return 0, 0, 0, 0, false
		}
		return v, m, st, 4, true

	case object.HiXrefWord, object.HiXrefByte:
		if len(payload) < 2 {
			return 0, 0, 0, 0, false
		}
		label := uint32(binary.BigEndian.Uint16(payload[0:2]))
		target, found := ctx.ResolveXref(label)
		if !found {
			return 0, 0, 0, 0, false
		}
		return target.Value, addrModeXref, target.Stat, 2, true

	case object.HiAddLong:
		if len(payload) < 4 {
			return 0, 0, 0, 0, false
		}
		v, m, st, found := resolveAddressed(lo, binary.BigEndian.Uint32(payload[0:4]), uint32(binary.BigEndian.Uint16(payload[2:4])), ctx)
		if !found {
			return 0, 0, 0, 0, false
		}
		return v, m, st, 4, true
	}
	return 0, 0, 0, 0, false
}

// resolveAddressed applies the lo-byte addressing rule shared by the
// 0x40-series direct opcodes: absolute, section-relative, or xref. found
// is false only for an unresolvable xref label, in which case the write
// is silently skipped by the caller (same tolerant behavior as Push).
func resolveAddressed(lo byte, raw uint32, xrefLabel uint32, ctx *objectContext) (value int32, mode addrMode, stat int16, found bool) {
	switch {
	case lo == 0x00:
		return int32(raw), addrModeAbsolute, expr.StatAbsolute, true
	case lo >= 0x01 && lo <= 0x0a:
		base, stat := ctx.SectionBase(object.SectionKind(lo))
		return int32(raw + base), addrModeSection, stat, true
	case lo >= 0xfc:
		target, ok := ctx.ResolveXref(xrefLabel)
		if !ok {
			return 0, addrModeXref, expr.StatPoisoned, false
		}
		return target.Value, addrModeXref, target.Stat, true
	}
	return int32(raw), addrModeAbsolute, expr.StatAbsolute, true
}
