// Package object turns a raw HAS/HLK byte stream into a typed command
// sequence. It is a ready collaborator for the resolver, layout planner,
// and writer: it owns no linking semantics of its own.
package object

import "fmt"

// SectionKind is the closed enumeration derived from an 8-bit section tag.
type SectionKind uint8

const (
	Abs SectionKind = 0x00

	Text  SectionKind = 0x01
	Data  SectionKind = 0x02
	Bss   SectionKind = 0x03
	Stack SectionKind = 0x04

	RData  SectionKind = 0x05
	RBss   SectionKind = 0x06
	RStack SectionKind = 0x07

	RLData  SectionKind = 0x08
	RLBss   SectionKind = 0x09
	RLStack SectionKind = 0x0a

	RLCommon SectionKind = 0xfc
	RCommon  SectionKind = 0xfd
	Common   SectionKind = 0xfe
	Xref     SectionKind = 0xff
)

// String names the section for diagnostics and the map-file emitter.
func (s SectionKind) String() string {
	switch s {
	case Abs:
		return "abs"
	case Text:
		return "text"
	case Data:
		return "data"
	case Bss:
		return "bss"
	case Stack:
		return "stack"
	case RData:
		return "rdata"
	case RBss:
		return "rbss"
	case RStack:
		return "rstack"
	case RLData:
		return "rldata"
	case RLBss:
		return "rlbss"
	case RLStack:
		return "rlstack"
	case RLCommon:
		return "rlcommon"
	case RCommon:
		return "rcommon"
	case Common:
		return "common"
	case Xref:
		return "xref"
	default:
		return fmt.Sprintf("unknown(0x%02x)", uint8(s))
	}
}

// IsBase reports whether s is one of the four directly addressable,
// writable base sections (text/data/bss/stack).
func (s SectionKind) IsBase() bool {
	switch s {
	case Text, Data, Bss, Stack:
		return true
	default:
		return false
	}
}

// IsInitialized reports whether s carries program bytes rather than
// reservation-only space.
func (s SectionKind) IsInitialized() bool {
	switch s {
	case Text, Data, RData, RLData:
		return true
	default:
		return false
	}
}

// IsCommonLike reports whether s is one of the three tentative-definition
// pseudo-sections merged by the layout planner.
func (s SectionKind) IsCommonLike() bool {
	switch s {
	case Common, RCommon, RLCommon:
		return true
	default:
		return false
	}
}

// SectionOrder is the fixed iteration order the layout planner walks base
// sections in.
var SectionOrder = []SectionKind{
	Text, Data, RData, RLData, Bss, Stack, RBss, RStack, RLBss, RLStack,
}
