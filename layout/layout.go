// Package layout assigns per-object section offsets across the global
// section space and merges COMMON-class symbols into section totals.
package layout

import (
	"github.com/xyproto/haslink/object"
	"github.com/xyproto/haslink/resolve"
)

// Diagnostics counts the COMMON-merge conflicts and warnings the planner
// recorded; it never aborts the link by itself.
type Diagnostics struct {
	Conflicts int
	Warnings  int
}

// Plan is the layout planner's output: per-object placements, global
// per-section totals (including the merged Common/RCommon/RLCommon
// pseudo-sections), and diagnostic counts.
type Plan struct {
	Placements []map[object.SectionKind]uint32
	Totals     map[object.SectionKind]uint32
	Diag       Diagnostics
}

func alignUp(cursor, align uint32) uint32 {
	if align == 0 {
		return cursor
	}
	rem := cursor % align
	if rem == 0 {
		return cursor
	}
	sum := cursor + (align - rem)
	if sum < cursor { // overflow: saturate
		return ^uint32(0)
	}
	return sum
}

func satAdd(a, b uint32) uint32 {
	sum := a + b
	if sum < a {
		return ^uint32(0)
	}
	return sum
}

func alignEven(n uint32) uint32 {
	if n%2 != 0 {
		return n + 1
	}
	return n
}

// PlanLayout lays out every base section in the fixed section order, then
// merges COMMON-class symbols across all objects.
func PlanLayout(summaries []*resolve.ObjectSummary) *Plan {
	p := &Plan{
		Placements: make([]map[object.SectionKind]uint32, len(summaries)),
		Totals:     make(map[object.SectionKind]uint32),
	}
	for i := range summaries {
		p.Placements[i] = make(map[object.SectionKind]uint32)
	}

	for _, section := range object.SectionOrder {
		cursor := uint32(0)
		for i, s := range summaries {
			size := s.EffectiveSize(section)
			if size == 0 {
				continue
			}
			align := s.ObjectAlign
			if align < 2 {
				align = 2
			}
			cursor = alignUp(cursor, align)
			p.Placements[i][section] = cursor
			cursor = satAdd(cursor, size)
		}
		p.Totals[section] = cursor
	}

	mergeCommon(summaries, p)
	return p
}

type commonClass int

const (
	classNone commonClass = iota
	classCommon
	classRCommon
	classRLCommon
	classOther
)

func classify(kind object.SectionKind) commonClass {
	switch kind {
	case object.Common:
		return classCommon
	case object.RCommon:
		return classRCommon
	case object.RLCommon:
		return classRLCommon
	default:
		return classOther
	}
}

func (c commonClass) section() object.SectionKind {
	switch c {
	case classCommon:
		return object.Common
	case classRCommon:
		return object.RCommon
	case classRLCommon:
		return object.RLCommon
	}
	return object.Abs
}

type mergeRecord struct {
	class commonClass
	size  uint32
}

// mergeCommon is the COMMON merge state machine: a single insertion-
// ordered pass over every symbol, keyed by name, rolling per-name
// (class, size) alongside the running class totals.
func mergeCommon(summaries []*resolve.ObjectSummary, p *Plan) {
	records := make(map[string]*mergeRecord)

	for _, s := range summaries {
		for _, sym := range s.Defined {
			class := classify(sym.Section)
			size := sym.Value
			if class == classCommon || class == classRCommon || class == classRLCommon {
				size = alignEven(size)
			}

			rec, seen := records[sym.Name]
			if !seen {
				records[sym.Name] = &mergeRecord{class: class, size: size}
				if class != classOther {
					p.Totals[class.section()] = satAdd(p.Totals[class.section()], size)
				}
				continue
			}

			switch {
			case class == classOther && rec.class != classOther:
				// the defined symbol wins: undo the prior Common-like reservation
				p.Totals[rec.class.section()] -= rec.size
				rec.class = classOther
				rec.size = size

			case class != classOther && rec.class == classOther:
				p.Diag.Warnings++

			case class == rec.class:
				if size > rec.size {
					delta := size - rec.size
					p.Totals[class.section()] = satAdd(p.Totals[class.section()], delta)
					rec.size = size
				}

			case class != classOther && rec.class != classOther && class != rec.class:
				p.Diag.Conflicts++

			default:
				rec.size = size
			}
		}
	}
}
