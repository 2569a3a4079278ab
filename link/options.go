// Package link is the writer: expression/opcode validation, initialized-
// section linking, the opaque patch pass, relocation and symbol table
// construction, ctor/dtor synthesis, SCD rebasing, and format-specific
// image assembly.
package link

// Format selects the output image shape.
type Format int

const (
	FormatX Format = iota
	FormatR
	FormatMcs
)

// RelocationCheck controls whether R/MCS reject the presence of
// relocations or a nonzero exec address.
type RelocationCheck int

const (
	RelocationStrict RelocationCheck = iota
	RelocationSkip
)

// BssPolicy controls whether R/MCS append bss+common+stack zero bytes.
type BssPolicy int

const (
	BssInclude BssPolicy = iota
	BssOmit
)

// SymbolTablePolicy controls whether X keeps or strips the symbol table.
type SymbolTablePolicy int

const (
	SymbolTableKeep SymbolTablePolicy = iota
	SymbolTableCut
)

// Options is the option surface required from the shell (spec.md §6).
type Options struct {
	Format           Format
	RelocationCheck  RelocationCheck
	BssPolicy        BssPolicy
	SymbolTable      SymbolTablePolicy
	BaseAddress      uint32
	LoadMode         uint8
	SectionInfo      bool
	G2LKMode         bool
	Verbose          bool
}
