package resolve

import (
	"testing"

	"github.com/xyproto/haslink/object"
)

func TestResolveBasic(t *testing.T) {
	obj := &object.Object{Commands: []object.Command{
		{Kind: object.Header, Section: object.Text, Size: 2},
		{Kind: object.RawData, Data: []byte{0x01, 0x02}},
		{Kind: object.ChangeSection, Section: object.Data},
		{Kind: object.Header, Section: object.Data, Size: 2},
		{Kind: object.RawData, Data: []byte{0x11, 0x22}},
		{Kind: object.DefineSymbol, Section: object.Text, Value: 1, Name: "_label"},
		{Kind: object.StartAddress, Section: object.Data, Addr: 1},
		{Kind: object.End},
	}}

	s := Resolve(obj)

	if s.DeclaredSize[object.Text] != 2 || s.DeclaredSize[object.Data] != 2 {
		t.Fatalf("declared sizes = %+v", s.DeclaredSize)
	}
	if s.ObservedSize[object.Text] != 2 || s.ObservedSize[object.Data] != 2 {
		t.Fatalf("observed sizes = %+v", s.ObservedSize)
	}
	if len(s.Defined) != 1 || s.Defined[0].Name != "_label" {
		t.Fatalf("defined = %+v", s.Defined)
	}
	if s.Start == nil || s.Start.Section != object.Data || s.Start.Offset != 1 {
		t.Fatalf("start = %+v", s.Start)
	}
	if s.ObjectAlign != 2 {
		t.Fatalf("object align = %d, want default 2", s.ObjectAlign)
	}
}

func TestResolveAlignSymbol(t *testing.T) {
	obj := &object.Object{Commands: []object.Command{
		{Kind: object.DefineSymbol, Section: object.Text, Value: 2, Name: "*align"}, // 1<<2 = 4
		{Kind: object.End},
	}}
	s := Resolve(obj)
	if s.ObjectAlign != 4 {
		t.Fatalf("object align = %d, want 4", s.ObjectAlign)
	}
	// the align symbol itself is still visible to the map-file emitter
	if len(s.Defined) != 1 || s.Defined[0].Name != "*align" {
		t.Fatalf("defined = %+v", s.Defined)
	}
}

func TestResolveXref(t *testing.T) {
	obj := &object.Object{Commands: []object.Command{
		{Kind: object.DefineSymbol, Section: object.Xref, Value: 7, Name: "_external"},
		{Kind: object.End},
	}}
	s := Resolve(obj)
	if len(s.Xrefs) != 1 || s.Xrefs[0].Label != 7 || s.Xrefs[0].Name != "_external" {
		t.Fatalf("xrefs = %+v", s.Xrefs)
	}
	if len(s.Defined) != 0 {
		t.Fatalf("defined should be empty for xref symbol, got %+v", s.Defined)
	}
}

func TestEffectiveSize(t *testing.T) {
	s := &ObjectSummary{
		DeclaredSize: map[object.SectionKind]uint32{object.Text: 3},
		ObservedSize: map[object.SectionKind]uint32{object.Text: 5},
	}
	if got := s.EffectiveSize(object.Text); got != 6 {
		t.Fatalf("EffectiveSize = %d, want 6 (align_even(max(3,5)))", got)
	}
}
