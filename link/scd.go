package link

import (
	"encoding/binary"
	"fmt"

	"github.com/xyproto/haslink/layout"
	"github.com/xyproto/haslink/object"
	"github.com/xyproto/haslink/resolve"
)

const scdHeaderSize = 12
const scdInfoEntrySize = 18
const scdLineEntrySize = 6

// scdTailView is one object's parsed debug-table tail: the three byte
// ranges the 12-byte size header describes.
type scdTailView struct {
	linfo          []byte
	sinfoPlusEinfo []byte
	ninfo          []byte
	sinfoCount     uint32
}

// parseScdTailView validates and slices an object's SCD tail. ok is
// false if the tail is too short or its declared sizes overrun it, in
// which case the object's debug tables are skipped entirely.
func parseScdTailView(tail []byte) (scdTailView, bool) {
	if len(tail) < scdHeaderSize {
		return scdTailView{}, false
	}
	linfoSize := int(binary.BigEndian.Uint32(tail[0:4]))
	sinfoEinfoSize := int(binary.BigEndian.Uint32(tail[4:8]))
	ninfoSize := int(binary.BigEndian.Uint32(tail[8:12]))

	total := scdHeaderSize + linfoSize + sinfoEinfoSize + ninfoSize
	if total < 0 || total > len(tail) {
		return scdTailView{}, false
	}

	linfoStart := scdHeaderSize
	sinfoStart := linfoStart + linfoSize
	ninfoStart := sinfoStart + sinfoEinfoSize

	return scdTailView{
		linfo:          tail[linfoStart:sinfoStart],
		sinfoPlusEinfo: tail[sinfoStart:ninfoStart],
		ninfo:          tail[ninfoStart : ninfoStart+ninfoSize],
		sinfoCount:     extractSinfoCount(tail, linfoSize),
	}, true
}

// extractSinfoCount reads the sinfo record count stored as a u32 at
// tail offset 20+linfoSize (8 bytes past the end of the linfo range),
// or 0 if the tail is too short.
func extractSinfoCount(tail []byte, linfoSize int) uint32 {
	pos := scdHeaderSize + 8 + linfoSize
	if pos+4 > len(tail) {
		return 0
	}
	return binary.BigEndian.Uint32(tail[pos : pos+4])
}

// rebaseLineTable rewrites each 6-byte (loc:u32, line:u16) linfo record:
// a nonzero loc is an in-object offset that gets the object's Text
// placement added; a zero loc is rebased by the cumulative sinfo
// record count emitted by prior objects. Records whose length isn't a
// multiple of 6 pass through unchanged.
func rebaseLineTable(input []byte, textPos, sinfoPosEntries uint32) []byte {
	if len(input)%scdLineEntrySize != 0 {
		out := make([]byte, len(input))
		copy(out, input)
		return out
	}
	out := make([]byte, len(input))
	copy(out, input)
	for off := 0; off+scdLineEntrySize <= len(out); off += scdLineEntrySize {
		loc := binary.BigEndian.Uint32(out[off : off+4])
		if loc != 0 {
			loc += textPos
		} else {
			loc += sinfoPosEntries
		}
		binary.BigEndian.PutUint32(out[off:off+4], loc)
	}
	return out
}

// objectTotals is the subset of layout totals the SCD bss rebase rule
// needs: text+data+bss+common+stack defines "object_size".
type objectTotals struct {
	text, data, bss, common, stack int64
}

func newObjectTotals(plan *layout.Plan) objectTotals {
	return objectTotals{
		text:   int64(plan.Totals[object.Text]),
		data:   int64(plan.Totals[object.Data]),
		bss:    int64(plan.Totals[object.Bss]),
		common: int64(plan.Totals[object.Common]),
		stack:  int64(plan.Totals[object.Stack]),
	}
}

func (t objectTotals) objectSize() int64 { return t.text + t.data + t.bss + t.common + t.stack }

// sinfoSectionDelta resolves the rebase delta for an sinfo record's
// section code, or reports it as an unsupported code.
func sinfoSectionDelta(sect uint16, placement map[object.SectionKind]uint32, totals objectTotals) (delta int64, carry bool, err error) {
	switch sect {
	case 0x0001, 0x0002, 0x0003, 0x0005, 0x0006, 0x0008, 0x0009:
		d, ok := einfoSectionDelta(sect, placement, totals)
		return d, !ok, nil
	case 0x0000, 0x00fc, 0x00fd, 0x00fe, 0xfffc, 0xfffd, 0xfffe, 0xffff:
		return 0, true, nil // carried unchanged
	default:
		return 0, false, fmt.Errorf("%w: sinfo section 0x%04x", ErrUnsupportedSCDSection, sect)
	}
}

// einfoSectionDelta resolves the placement-based rebase delta shared by
// sinfo and (d6!=0) einfo records, including the bss rule for 0x0003.
// ok is false for a section code this mapping doesn't cover (the
// common/xref codes are handled by the caller).
func einfoSectionDelta(sect uint16, placement map[object.SectionKind]uint32, totals objectTotals) (int64, bool) {
	switch sect {
	case 0x0001:
		return int64(placement[object.Text]), true
	case 0x0002:
		return int64(placement[object.Data]), true
	case 0x0003:
		return totals.text + totals.data + int64(placement[object.Bss]) - totals.objectSize(), true
	case 0x0005:
		return int64(placement[object.RData]), true
	case 0x0006:
		return int64(placement[object.RBss]), true
	case 0x0008:
		return int64(placement[object.RLData]), true
	case 0x0009:
		return int64(placement[object.RLBss]), true
	default:
		return 0, false
	}
}

func adjustU32At(buf []byte, offset int, delta int64) {
	base := binary.BigEndian.Uint32(buf[offset : offset+4])
	adjusted := uint32(int64(base) + delta)
	binary.BigEndian.PutUint32(buf[offset:offset+4], adjusted)
}

// rebaseSinfoEntries rewrites the offset field (bytes 8..12) of every
// 18-byte sinfo record per its section code at bytes 12..14.
func rebaseSinfoEntries(out []byte, sinfoBytes int, placement map[object.SectionKind]uint32, totals objectTotals) error {
	for off := 0; off+scdInfoEntrySize <= sinfoBytes; off += scdInfoEntrySize {
		sect := binary.BigEndian.Uint16(out[off+12 : off+14])
		delta, carry, err := sinfoSectionDelta(sect, placement, totals)
		if err != nil {
			return err
		}
		if !carry && delta != 0 {
			adjustU32At(out, off+8, delta)
		}
	}
	return nil
}

// scdXdef is one "x-def map" entry: the resolved section/value for a
// non-Common symbol, or an allocated offset for a masked Common symbol.
type scdXdef struct {
	Section object.SectionKind
	Value   uint32
}

// buildScdXdefMap mirrors the global Common allocator but scoped to
// einfo's own name-keyed lookup: every concretely defined (non-Common)
// symbol resolves directly, and every Common-class symbol not masked by
// a concrete definition or a conflicting class gets one allocated offset
// in first-appearance order, one cursor per Common class.
func buildScdXdefMap(summaries []*resolve.ObjectSummary) map[string]scdXdef {
	xdefs := make(map[string]scdXdef)
	nonCommon := make(map[string]bool)

	for _, s := range summaries {
		for _, sym := range s.Defined {
			if len(sym.Name) > 0 && sym.Name[0] == '*' {
				continue
			}
			if sym.Section.IsCommonLike() {
				continue
			}
			nonCommon[sym.Name] = true
			if _, ok := xdefs[sym.Name]; !ok {
				xdefs[sym.Name] = scdXdef{Section: sym.Section, Value: sym.Value}
			}
		}
	}

	type candidate struct {
		name       string
		section    object.SectionKind
		maxSize    uint32
		firstOrder int
		conflict   bool
	}
	candidates := make(map[string]*candidate)
	order := 0
	var orderedNames []string

	for _, s := range summaries {
		for _, sym := range s.Defined {
			if !sym.Section.IsCommonLike() {
				continue
			}
			size := sym.Value
			if size%2 != 0 {
				size++
			}
			c, ok := candidates[sym.Name]
			if !ok {
				c = &candidate{name: sym.Name, section: sym.Section, maxSize: size, firstOrder: order}
				candidates[sym.Name] = c
				orderedNames = append(orderedNames, sym.Name)
			}
			order++
			if c.section != sym.Section {
				c.conflict = true
				continue
			}
			if size > c.maxSize {
				c.maxSize = size
			}
		}
	}

	cursors := map[object.SectionKind]uint32{object.Common: 0, object.RCommon: 0, object.RLCommon: 0}
	for _, name := range orderedNames {
		c := candidates[name]
		if c.conflict || nonCommon[name] {
			continue
		}
		if _, ok := xdefs[name]; ok {
			continue
		}
		offset := cursors[c.section]
		cursors[c.section] += c.maxSize
		xdefs[name] = scdXdef{Section: c.section, Value: offset}
	}

	return xdefs
}

// decodeScdEntryName reads the inline 8-byte name or, if the first four
// bytes are zero, follows the ninfo-table offset stored at bytes 4..8.
func decodeScdEntryName(entry, ninfo []byte) (string, error) {
	if len(entry) < 8 {
		return "", fmt.Errorf("link: SCD entry too short")
	}
	head := binary.BigEndian.Uint32(entry[0:4])
	if head != 0 {
		name := entry[0:8]
		end := len(name)
		for end > 0 && name[end-1] == 0 {
			end--
		}
		return string(name[:end]), nil
	}
	off := int(binary.BigEndian.Uint32(entry[4:8]))
	if off >= len(ninfo) {
		return "", fmt.Errorf("link: SCD ninfo offset out of range: %d", off)
	}
	end := off
	for end < len(ninfo) && ninfo[end] != 0 {
		end++
	}
	if end >= len(ninfo) {
		return "", fmt.Errorf("link: unterminated SCD ninfo string at offset %d", off)
	}
	return string(ninfo[off:end]), nil
}

func resolveScdCommonReference(name string, xdefs map[string]scdXdef) (uint32, uint16, error) {
	xdef, ok := xdefs[name]
	if !ok {
		return 0, 0, fmt.Errorf("link: unresolved SCD einfo common reference for %q", name)
	}
	switch xdef.Section {
	case object.Common:
		return xdef.Value, 0x0003, nil
	case object.RCommon:
		return xdef.Value, 0x0006, nil
	case object.RLCommon:
		return xdef.Value, 0x0009, nil
	default:
		return 0, 0, fmt.Errorf("link: unsupported SCD common-reference target section %s", xdef.Section)
	}
}

// rebaseEinfoEntries rewrites every 18-byte einfo record following the
// sinfo records in the same buffer.
func rebaseEinfoEntries(out []byte, sinfoBytes int, sinfoPosEntries uint32, ninfo []byte, placement map[object.SectionKind]uint32, totals objectTotals, xdefs map[string]scdXdef) error {
	for off := sinfoBytes; off+scdInfoEntrySize <= len(out); off += scdInfoEntrySize {
		if err := rebaseEinfoEntry(out, off, sinfoPosEntries, ninfo, placement, totals, xdefs); err != nil {
			return err
		}
	}
	return nil
}

func rebaseEinfoEntry(out []byte, off int, sinfoPosEntries uint32, ninfo []byte, placement map[object.SectionKind]uint32, totals objectTotals, xdefs map[string]scdXdef) error {
	d6 := binary.BigEndian.Uint32(out[off : off+4])
	sect := binary.BigEndian.Uint16(out[off+8 : off+10])

	if d6 == 0 {
		refIdx := binary.BigEndian.Uint32(out[off+4 : off+8])
		if refIdx != 0 {
			binary.BigEndian.PutUint32(out[off+4:off+8], refIdx+sinfoPosEntries)
		}
		return nil
	}

	switch sect {
	case 0x0004, 0x0007, 0x000a:
		return fmt.Errorf("%w: einfo section 0x%04x with d6!=0", ErrUnsupportedSCDSection, sect)
	}

	switch {
	case sect >= 0x00fc && sect <= 0x00fe, sect >= 0xfffc && sect <= 0xfffe:
		name, err := decodeScdEntryName(out[off:off+scdInfoEntrySize], ninfo)
		if err != nil {
			return err
		}
		resolvedOff, resolvedSect, err := resolveScdCommonReference(name, xdefs)
		if err != nil {
			return err
		}
		binary.BigEndian.PutUint32(out[off+4:off+8], resolvedOff)
		binary.BigEndian.PutUint16(out[off+8:off+10], resolvedSect)
		return nil
	}

	if delta, ok := einfoSectionDelta(sect, placement, totals); ok && delta != 0 {
		adjustU32At(out, off+4, delta)
	}
	return nil
}

// rebaseInfoTable applies the sinfo pass then the einfo pass over one
// object's combined sinfo+einfo byte range.
func rebaseInfoTable(input, ninfo []byte, sinfoCount, sinfoPosEntries uint32, placement map[object.SectionKind]uint32, totals objectTotals, xdefs map[string]scdXdef) ([]byte, error) {
	out := make([]byte, len(input))
	copy(out, input)

	sinfoBytes := int(sinfoCount) * scdInfoEntrySize
	if sinfoBytes > len(out) {
		sinfoBytes = len(out)
	}

	if err := rebaseSinfoEntries(out, sinfoBytes, placement, totals); err != nil {
		return nil, err
	}
	if err := rebaseEinfoEntries(out, sinfoBytes, sinfoPosEntries, ninfo, placement, totals, xdefs); err != nil {
		return nil, err
	}
	return out, nil
}

// buildScdPassthrough rebases and concatenates every object's SCD debug
// tables into the three final line/info/name byte ranges.
func buildScdPassthrough(objects []*object.Object, summaries []*resolve.ObjectSummary, plan *layout.Plan) (lineTable, infoTable, nameTable []byte, err error) {
	xdefs := buildScdXdefMap(summaries)
	totals := newObjectTotals(plan)
	var sinfoPosEntries uint32

	for i, obj := range objects {
		view, ok := parseScdTailView(obj.ScdTail)
		if !ok {
			continue
		}
		textPos := plan.Placements[i][object.Text]
		lineTable = append(lineTable, rebaseLineTable(view.linfo, textPos, sinfoPosEntries)...)

		info, err := rebaseInfoTable(view.sinfoPlusEinfo, view.ninfo, view.sinfoCount, sinfoPosEntries, plan.Placements[i], totals, xdefs)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("object %d: %w", i, err)
		}
		infoTable = append(infoTable, info...)
		nameTable = append(nameTable, view.ninfo...)

		sinfoPosEntries += view.sinfoCount
	}

	return lineTable, infoTable, nameTable, nil
}
