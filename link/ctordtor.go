package link

import (
	"encoding/binary"
	"fmt"

	"github.com/xyproto/haslink/layout"
	"github.com/xyproto/haslink/object"
)

// Header section codes that declare the ctor/dtor entry counts, distinct
// from the regular SectionKind table.
const (
	headerCtorCount object.SectionKind = 0x0c
	headerDtorCount object.SectionKind = 0x0d
)

// ctorDtorScan is what scanning every object's command stream for
// .ctor/.dtor/.doctor/.dodtor material yields.
type ctorDtorScan struct {
	ctorEntries   []uint32 // absolute addresses, one per 0x4c01 opaque
	dtorEntries   []uint32
	sawDoCtor     bool
	sawDoDtor     bool
	ctorHeaderN   uint32
	dtorHeaderN   uint32
	sawCtorHeader bool
	sawDtorHeader bool
	diags         []string
}

// scanCtorDtor walks every object once, outside the opaque patch pass:
// the ctor/dtor payloads are plain absolute offsets, not expressions.
func scanCtorDtor(objects []*object.Object, plan *layout.Plan) *ctorDtorScan {
	scan := &ctorDtorScan{}

	for i, obj := range objects {
		textBase := plan.Placements[i][object.Text]
		for _, cmd := range obj.Commands {
			switch {
			case cmd.Kind == object.Opaque && cmd.Code == object.OpDoCtor:
				scan.sawDoCtor = true
			case cmd.Kind == object.Opaque && cmd.Code == object.OpDoDtor:
				scan.sawDoDtor = true
			case cmd.Kind == object.Opaque && cmd.Code == object.OpCtorEntry:
				if len(cmd.Payload) >= 4 {
					off := binary.BigEndian.Uint32(cmd.Payload)
					scan.ctorEntries = append(scan.ctorEntries, textBase+off)
				}
			case cmd.Kind == object.Opaque && cmd.Code == object.OpDtorEntry:
				if len(cmd.Payload) >= 4 {
					off := binary.BigEndian.Uint32(cmd.Payload)
					scan.dtorEntries = append(scan.dtorEntries, textBase+off)
				}
			case cmd.Kind == object.Header && cmd.Section == headerCtorCount:
				scan.ctorHeaderN += cmd.Size
				scan.sawCtorHeader = true
			case cmd.Kind == object.Header && cmd.Section == headerDtorCount:
				scan.dtorHeaderN += cmd.Size
				scan.sawDtorHeader = true
			}
		}
	}
	return scan
}

// validateMode applies the spec's mode-validation diagnostics:
// any ctor/dtor material without its companion marker when G2LK is on,
// and any ctor/dtor material at all when G2LK is off.
func (s *ctorDtorScan) validateMode(g2lk bool) {
	hasCtor := len(s.ctorEntries) > 0
	hasDtor := len(s.dtorEntries) > 0
	if g2lk {
		if hasCtor && !s.sawDoCtor {
			s.diags = append(s.diags, MsgCtorWithoutDoc)
		}
		if hasDtor && !s.sawDoDtor {
			s.diags = append(s.diags, MsgDtorWithoutDod)
		}
		return
	}
	if hasCtor || hasDtor || s.sawDoCtor || s.sawDoDtor {
		s.diags = append(s.diags, MsgCtorNeedsG2LK)
	}
}

// validateHeaderSizes checks that a declared Header 0x0C/0x0D size
// equals 4*count of the ctor/dtor entries actually seen. Only checked
// when the corresponding header was present at all.
func (s *ctorDtorScan) validateHeaderSizes() error {
	if s.sawCtorHeader {
		if expected := uint32(4 * len(s.ctorEntries)); s.ctorHeaderN != expected {
			return fmt.Errorf("%w: ctor header=%d expected=%d", ErrCtorDtorSizeMismatch, s.ctorHeaderN, expected)
		}
	}
	if s.sawDtorHeader {
		if expected := uint32(4 * len(s.dtorEntries)); s.dtorHeaderN != expected {
			return fmt.Errorf("%w: dtor header=%d expected=%d", ErrCtorDtorSizeMismatch, s.dtorHeaderN, expected)
		}
	}
	return nil
}

// patchCtorDtorTables writes the 0xFFFFFFFF/entries/0x00000000 tables at
// the required ___CTOR_LIST__/___DTOR_LIST__ symbol addresses. buffers
// holds the Text/Data global section bytes, bases the address of
// each region's start so a symbol's absolute value can be translated
// back into an offset within its owning buffer.
func patchCtorDtorTables(scan *ctorDtorScan, globals *GlobalSymbols, bases map[object.SectionKind]uint32, buffers map[object.SectionKind][]byte) error {
	if len(scan.ctorEntries) > 0 {
		if err := writeCtorDtorTable(scan.ctorEntries, "___CTOR_LIST__", globals, bases, buffers); err != nil {
			return err
		}
	}
	if len(scan.dtorEntries) > 0 {
		if err := writeCtorDtorTable(scan.dtorEntries, "___DTOR_LIST__", globals, bases, buffers); err != nil {
			return err
		}
	}
	return nil
}

func writeCtorDtorTable(entries []uint32, symbol string, globals *GlobalSymbols, bases map[object.SectionKind]uint32, buffers map[object.SectionKind][]byte) error {
	kind, ok := globals.KindOf(symbol)
	if !ok {
		return fmt.Errorf("%w: %s", ErrMissingSymbol, symbol)
	}
	if kind != object.Text && kind != object.Data {
		return fmt.Errorf("%w: %s not in text or data", ErrSymbolWrongSection, symbol)
	}
	entry, _ := globals.Lookup(symbol)
	buf, ok := buffers[kind]
	if !ok {
		return fmt.Errorf("%w: %s", ErrMissingSymbol, symbol)
	}
	offset := int(uint32(entry.Value) - bases[kind])

	table := make([]byte, 8+4*len(entries))
	binary.BigEndian.PutUint32(table[0:4], 0xFFFFFFFF)
	for i, e := range entries {
		binary.BigEndian.PutUint32(table[4+4*i:8+4*i], e)
	}
	binary.BigEndian.PutUint32(table[len(table)-4:], 0)

	if offset < 0 || offset+len(table) > len(buf) {
		return fmt.Errorf("link: %s table overflows its section", symbol)
	}
	copy(buf[offset:offset+len(table)], table)
	return nil
}

// synthPlan is one planned ___CTOR_LIST__/___DTOR_LIST__ synthesis: the
// symbol name and the offset from data's pre-growth end it will live at.
type synthPlan struct {
	name   string
	offset uint32
}

// planCtorDtorSynthesis decides which of ___CTOR_LIST__/___DTOR_LIST__
// need synthesizing (G2LK on, the corresponding .doctor/.dodtor marker
// was seen, and no concrete definition already exists) and how much
// data must grow to hold them. Does not mutate globals: the caller
// injects the planned addresses into the post-growth address table.
func planCtorDtorSynthesis(scan *ctorDtorScan, globals *GlobalSymbols, dataEnd uint32) (plans []synthPlan, grown uint32) {
	cursor := dataEnd
	if scan.sawDoCtor {
		if _, ok := globals.KindOf("___CTOR_LIST__"); !ok {
			// ctorHeaderN is the declared Header size, already 4*count.
			size := uint32(8 + scan.ctorHeaderN)
			plans = append(plans, synthPlan{name: "___CTOR_LIST__", offset: cursor})
			cursor += size
		}
	}
	if scan.sawDoDtor {
		if _, ok := globals.KindOf("___DTOR_LIST__"); !ok {
			size := uint32(8 + scan.dtorHeaderN)
			plans = append(plans, synthPlan{name: "___DTOR_LIST__", offset: cursor})
			cursor += size
		}
	}
	return plans, cursor - dataEnd
}
