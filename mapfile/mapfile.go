// Package mapfile renders a human-readable CRLF text report describing a
// link: per-exe section address ranges, and per-object placement, xref
// ownership, and xdef listings. It is a best-effort consumer of
// LayoutPlan and ObjectSummary only, never a participant in the link
// itself.
package mapfile

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"github.com/xyproto/haslink/layout"
	"github.com/xyproto/haslink/object"
	"github.com/xyproto/haslink/resolve"
)

// toHuman68KPath renders a path the way Human68K diagnostics do.
func toHuman68KPath(path string) string {
	return "A:" + strings.ReplaceAll(path, "/", "\\")
}

func displayObjName(path string, idx int) string {
	if path == "" {
		return fmt.Sprintf("obj%d", idx)
	}
	return filepath.Base(path)
}

func labelPrefix(name string) string {
	tabs := 3
	switch {
	case len(name) >= 16:
		tabs = 1
	case len(name) >= 8:
		tabs = 2
	}
	return name + strings.Repeat("\t", tabs) + " : "
}

func sectionLine(name string, pos, size uint32) string {
	if size == 0 {
		return labelPrefix(name) + "\n"
	}
	end := pos + size - 1
	return fmt.Sprintf("%s%08x - %08x (%08x)\n", labelPrefix(name), pos, end, size)
}

func symbolLine(name string, addr uint32, sect string) string {
	return fmt.Sprintf("%s%08x (%-7s)\n", labelPrefix(name), addr, sect)
}

func execLine(exec uint32) string {
	return fmt.Sprintf("%s%08x\n", labelPrefix("exec"), exec)
}

func alignLine(align uint32) string {
	return fmt.Sprintf("%s%08x\n", labelPrefix("align"), align)
}

const rule = "==========================================================\n"

// resolveExecAddress mirrors the writer's own start-address resolution so
// the map file's "exec" line agrees with the image, without importing the
// link package (the emitter must stay a read-only consumer of layout and
// resolve alone).
func resolveExecAddress(summaries []*resolve.ObjectSummary, textSize, dataSize uint32) uint32 {
	var start *resolve.StartAddress
	for _, s := range summaries {
		if s.Start != nil {
			start = s.Start
			break
		}
	}
	if start == nil {
		return 0
	}
	var base uint32
	switch start.Section {
	case object.Data:
		base = textSize
	case object.Bss:
		base = textSize + dataSize
	}
	return base + start.Offset
}

func buildDefinitionOwnerMap(summaries []*resolve.ObjectSummary, inputPaths []string) map[string]string {
	owners := make(map[string]string)
	for idx, s := range summaries {
		owner := displayObjName(pathAt(inputPaths, idx), idx)
		for _, sym := range s.Defined {
			if _, ok := owners[sym.Name]; !ok {
				owners[sym.Name] = owner
			}
		}
	}
	return owners
}

func pathAt(paths []string, idx int) string {
	if idx < len(paths) {
		return paths[idx]
	}
	return ""
}

// Build renders the full map-text report, CRLF-normalized, for execOutputPath
// (the link's output file name) given the resolved summaries, the layout
// plan, and the input object paths in the same order as summaries.
func Build(execOutputPath string, summaries []*resolve.ObjectSummary, plan *layout.Plan, inputPaths []string) string {
	var b strings.Builder

	textSz := plan.Totals[object.Text]
	dataSz := plan.Totals[object.Data]
	bssSz := plan.Totals[object.Bss]
	commonSz := plan.Totals[object.Common]
	stackSz := plan.Totals[object.Stack]

	exec := resolveExecAddress(summaries, textSz, dataSz)

	b.WriteString(rule)
	b.WriteString(toHuman68KPath(execOutputPath))
	b.WriteByte('\n')
	b.WriteString(rule)
	b.WriteString(execLine(exec))

	cur := uint32(0)
	for _, s := range []struct {
		name string
		size uint32
	}{
		{"text", textSz}, {"data", dataSz}, {"bss", bssSz}, {"common", commonSz}, {"stack", stackSz},
	} {
		b.WriteString(sectionLine(s.name, cur, s.size))
		cur += s.size
	}

	rcur := uint32(0)
	for _, kind := range []object.SectionKind{
		object.RData, object.RBss, object.RCommon, object.RStack,
		object.RLData, object.RLBss, object.RLCommon, object.RLStack,
	} {
		sz := plan.Totals[kind]
		b.WriteString(sectionLine(kind.String(), rcur, sz))
		rcur += sz
	}

	owners := buildDefinitionOwnerMap(summaries, inputPaths)

	for idx, s := range summaries {
		b.WriteString("\n\n")
		b.WriteString(rule)
		b.WriteString(displayObjName(pathAt(inputPaths, idx), idx))
		b.WriteByte('\n')
		b.WriteString(rule)
		b.WriteString(alignLine(s.ObjectAlign))

		var placement map[object.SectionKind]uint32
		if idx < len(plan.Placements) {
			placement = plan.Placements[idx]
		}
		for _, kind := range []object.SectionKind{object.Text, object.Data, object.Bss, object.Stack} {
			pos := placement[kind]
			size := s.DeclaredSize[kind]
			if size == 0 {
				size = s.ObservedSize[kind]
			}
			b.WriteString(sectionLine(kind.String(), pos, size))
		}

		if len(s.Xrefs) > 0 {
			b.WriteString("-------------------------- xref --------------------------\n")
			for _, x := range s.Xrefs {
				owner, ok := owners[x.Name]
				if !ok {
					owner = "<unknown>"
				}
				fmt.Fprintf(&b, "%-24s : in %s\n", x.Name, owner)
			}
		}

		if len(s.Defined) > 0 {
			b.WriteString("-------------------------- xdef --------------------------\n")
			syms := append([]resolve.Symbol(nil), s.Defined...)
			sort.Slice(syms, func(i, j int) bool {
				if syms[i].Name != syms[j].Name {
					return syms[i].Name < syms[j].Name
				}
				return syms[i].Value < syms[j].Value
			})
			for _, sym := range syms {
				b.WriteString(symbolLine(sym.Name, sym.Value, sym.Section.String()))
			}
		}
	}

	return strings.ReplaceAll(b.String(), "\n", "\r\n")
}
