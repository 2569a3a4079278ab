package link

import (
	"github.com/xyproto/haslink/expr"
	"github.com/xyproto/haslink/layout"
	"github.com/xyproto/haslink/object"
	"github.com/xyproto/haslink/resolve"
)

// regionOrder is the canonical interval layout the global symbol address
// table is built from: text, data, bss, the merged Common pseudo-section,
// stack, then the resident and resident-long families, and finally the
// merged RCommon/RLCommon pseudo-sections.
var regionOrder = []object.SectionKind{
	object.Text, object.Data, object.Bss, object.Common, object.Stack,
	object.RData, object.RBss, object.RStack,
	object.RLData, object.RLBss, object.RLStack,
	object.RCommon, object.RLCommon,
}

// regionBases computes the cumulative start offset of every region in
// regionOrder, given the layout plan's per-section totals.
func regionBases(plan *layout.Plan) map[object.SectionKind]uint32 {
	bases := make(map[object.SectionKind]uint32)
	cursor := uint32(0)
	for _, kind := range regionOrder {
		bases[kind] = cursor
		cursor += plan.Totals[kind]
	}
	return bases
}

// commonOffsets allocates one address per uniquely named Common-like
// symbol, in first-appearance order per class, scoped to the symbols the
// COMMON merge did not mask out with a concrete definition (the "Common
// x-def map": names already defined elsewhere are excluded).
func commonOffsets(summaries []*resolve.ObjectSummary) map[string]uint32 {
	definedElsewhere := make(map[string]bool)
	for _, s := range summaries {
		for _, sym := range s.Defined {
			if !sym.Section.IsCommonLike() {
				definedElsewhere[sym.Name] = true
			}
		}
	}

	offsets := make(map[string]uint32)
	cursors := map[object.SectionKind]uint32{object.Common: 0, object.RCommon: 0, object.RLCommon: 0}
	seen := make(map[string]bool)

	for _, s := range summaries {
		for _, sym := range s.Defined {
			if !sym.Section.IsCommonLike() || definedElsewhere[sym.Name] || seen[sym.Name] {
				continue
			}
			seen[sym.Name] = true
			size := sym.Value
			if size%2 != 0 {
				size++
			}
			offsets[sym.Name] = cursors[sym.Section]
			cursors[sym.Section] += size
		}
	}
	return offsets
}

// symbolAddr is one resolved absolute address with the stat it carries
// and the section/class it was defined in.
type symbolAddr struct {
	Value int32
	Stat  int16
	Kind  object.SectionKind
}

// GlobalSymbols is the address table built from every object's defined
// symbols plus the allocated Common offsets, rebuilt whenever section
// totals change (e.g. after G2LK data extension).
type GlobalSymbols struct {
	bases   map[object.SectionKind]uint32
	common  map[string]uint32
	addrs   map[string]symbolAddr
	synth   map[string]symbolAddr // ___CTOR_LIST__/___DTOR_LIST__ when injected
}

func statForSection(kind object.SectionKind) int16 {
	if kind.IsBase() {
		return expr.StatBaseSection
	}
	if kind == object.Abs {
		return expr.StatAbsolute
	}
	return expr.StatOther
}

// buildGlobalSymbols builds the address table for the whole link.
func buildGlobalSymbols(summaries []*resolve.ObjectSummary, placements []map[object.SectionKind]uint32, plan *layout.Plan) *GlobalSymbols {
	g := &GlobalSymbols{
		bases:  regionBases(plan),
		common: commonOffsets(summaries),
		addrs:  make(map[string]symbolAddr),
		synth:  make(map[string]symbolAddr),
	}

	for i, s := range summaries {
		for _, sym := range s.Defined {
			if len(sym.Name) > 0 && sym.Name[0] == '*' {
				continue // alignment pseudo-symbols carry no address
			}
			switch {
			case sym.Section == object.Abs:
				g.addrs[sym.Name] = symbolAddr{Value: int32(sym.Value), Stat: expr.StatAbsolute, Kind: object.Abs}
			case sym.Section.IsCommonLike():
				if off, ok := g.common[sym.Name]; ok {
					g.addrs[sym.Name] = symbolAddr{
						Value: int32(g.bases[sym.Section] + off),
						Stat:  expr.StatOther,
						Kind:  sym.Section,
					}
				}
			default:
				local := placements[i][sym.Section]
				g.addrs[sym.Name] = symbolAddr{
					Value: int32(g.bases[sym.Section] + local + sym.Value),
					Stat:  statForSection(sym.Section),
					Kind:  sym.Section,
				}
			}
		}
	}
	return g
}

// Lookup resolves a defined symbol name to its entry, falling back to
// synthetic ctor/dtor symbols if injected.
func (g *GlobalSymbols) Lookup(name string) (expr.Entry, bool) {
	if a, ok := g.synth[name]; ok {
		return expr.Entry{Stat: a.Stat, Value: a.Value}, true
	}
	if a, ok := g.addrs[name]; ok {
		return expr.Entry{Stat: a.Stat, Value: a.Value}, true
	}
	return expr.Entry{}, false
}

// SectionBase returns the base address for a push/displacement opcode
// whose lo selects kind directly (not via a symbol name).
func (g *GlobalSymbols) SectionBase(kind object.SectionKind) (uint32, int16) {
	return g.bases[kind], statForSection(kind)
}

// KindOf reports which section/class a resolved symbol belongs to, used
// to decide relocation eligibility for xref-resolved long writes.
func (g *GlobalSymbols) KindOf(name string) (object.SectionKind, bool) {
	if a, ok := g.synth[name]; ok {
		return a.Kind, true
	}
	if a, ok := g.addrs[name]; ok {
		return a.Kind, true
	}
	return 0, false
}

// InjectSynthetic records a synthesized ___CTOR_LIST__/___DTOR_LIST__
// address so later lookups (by name, via xref) find it.
func (g *GlobalSymbols) InjectSynthetic(name string, value int32) {
	g.synth[name] = symbolAddr{Value: value, Stat: expr.StatBaseSection, Kind: object.Data}
}
