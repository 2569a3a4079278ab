// Package resolve reduces one parsed object into an ObjectSummary: the
// resolver's single forward walk over the command stream.
package resolve

import "github.com/xyproto/haslink/object"

// Symbol is one name defined by an object, with the section it lives in
// (Abs for absolute constants) and its value (an offset within that
// section, or the constant itself for Abs).
type Symbol struct {
	Name    string
	Section object.SectionKind
	Value   uint32
}

// Xref is an external reference: a label number standing in for a name
// resolved against some other object's defined symbols.
type Xref struct {
	Name  string
	Label uint32
}

// StartAddress is the optional program entry point an object may declare.
type StartAddress struct {
	Section object.SectionKind
	Offset  uint32
}

// ObjectSummary is the resolver's output for one object.
type ObjectSummary struct {
	ObjectAlign uint32

	DeclaredSize map[object.SectionKind]uint32
	ObservedSize map[object.SectionKind]uint32

	Defined []Symbol
	Xrefs   []Xref

	LibraryRequests []string

	Start    *StartAddress
	SCDTail  []byte
}

// Resolve runs the resolver's forward walk over a parsed object.
func Resolve(obj *object.Object) *ObjectSummary {
	s := &ObjectSummary{
		ObjectAlign:  2,
		DeclaredSize: make(map[object.SectionKind]uint32),
		ObservedSize: make(map[object.SectionKind]uint32),
		SCDTail:      obj.ScdTail,
	}

	current := object.Text

	for _, cmd := range obj.Commands {
		switch cmd.Kind {
		case object.Header:
			s.DeclaredSize[cmd.Section] += cmd.Size

		case object.ChangeSection:
			current = cmd.Section

		case object.RawData:
			s.ObservedSize[current] += uint32(len(cmd.Data))

		case object.DefineSpace:
			s.ObservedSize[current] += cmd.Size

		case object.DefineSymbol:
			if cmd.Section == object.Xref {
				s.Xrefs = append(s.Xrefs, Xref{Name: cmd.Name, Label: cmd.Value})
				continue
			}
			if len(cmd.Name) > 0 && cmd.Name[0] == '*' {
				shift := cmd.Value
				if shift < 32 {
					size := uint32(1) << shift
					if size >= 2 && size <= 256 {
						s.ObjectAlign = size
					}
				}
			}
			s.Defined = append(s.Defined, Symbol{Name: cmd.Name, Section: cmd.Section, Value: cmd.Value})

		case object.Request:
			s.LibraryRequests = append(s.LibraryRequests, cmd.Name)

		case object.StartAddress:
			addr := StartAddress{Section: cmd.Section, Offset: cmd.Addr}
			s.Start = &addr

		case object.SourceFile, object.Opaque, object.End:
			// no resolver-visible effect

		}
	}

	return s
}

// EffectiveSize is align_even(max(declared, observed)) for one section.
func (s *ObjectSummary) EffectiveSize(kind object.SectionKind) uint32 {
	d := s.DeclaredSize[kind]
	o := s.ObservedSize[kind]
	n := d
	if o > n {
		n = o
	}
	if n%2 != 0 {
		n++
	}
	return n
}
