package link

import (
	"bytes"
	"testing"

	"github.com/xyproto/haslink/expr"
	"github.com/xyproto/haslink/layout"
	"github.com/xyproto/haslink/object"
	"github.com/xyproto/haslink/resolve"
)

func plan(t *testing.T, objs []*object.Object) ([]*resolve.ObjectSummary, *layout.Plan) {
	t.Helper()
	summaries := make([]*resolve.ObjectSummary, len(objs))
	for i, o := range objs {
		summaries[i] = resolve.Resolve(o)
	}
	return summaries, layout.PlanLayout(summaries)
}

func TestWriteMinimalXImage(t *testing.T) {
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

	summaries, p := plan(t, []*object.Object{obj})
	image, err := Write([]*object.Object{obj}, summaries, p, Options{Format: FormatX, SymbolTable: SymbolTableKeep})
	if err != nil {
		t.Fatalf("Write: %v", err)
	}

	if image[0] != 'H' || image[1] != 'U' {
		t.Fatalf("magic = %q", image[0:2])
	}
	exec := uint32(image[8])<<24 | uint32(image[9])<<16 | uint32(image[10])<<8 | uint32(image[11])
	if exec != 3 {
		t.Fatalf("exec = %d, want 3", exec)
	}
	textSize := uint32(image[12])<<24 | uint32(image[13])<<16 | uint32(image[14])<<8 | uint32(image[15])
	if textSize != 2 {
		t.Fatalf("text size = %d, want 2", textSize)
	}
	dataSize := uint32(image[16])<<24 | uint32(image[17])<<16 | uint32(image[18])<<8 | uint32(image[19])
	if dataSize != 2 {
		t.Fatalf("data size = %d, want 2", dataSize)
	}
	if !bytes.Equal(image[64:68], []byte{0x01, 0x02, 0x11, 0x22}) {
		t.Fatalf("body = % x, want 01 02 11 22", image[64:68])
	}
}

func TestWriteRPayloadTwoObjects(t *testing.T) {
	objA := &object.Object{Commands: []object.Command{
		{Kind: object.Header, Section: object.Text, Size: 2},
		{Kind: object.RawData, Data: []byte{0xaa, 0xbb}},
		{Kind: object.End},
	}}
	objB := &object.Object{Commands: []object.Command{
		{Kind: object.DefineSymbol, Section: object.Text, Value: 2, Name: "*align"}, // 1<<2 = 4
		{Kind: object.Header, Section: object.Text, Size: 2},
		{Kind: object.RawData, Data: []byte{0xcc, 0xdd}},
		{Kind: object.ChangeSection, Section: object.Data},
		{Kind: object.Header, Section: object.Data, Size: 2},
		{Kind: object.RawData, Data: []byte{0x11, 0x22}},
		{Kind: object.End},
	}}

	objs := []*object.Object{objA, objB}
	summaries, p := plan(t, objs)
	payload, err := Write(objs, summaries, p, Options{Format: FormatR, BssPolicy: BssOmit, RelocationCheck: RelocationSkip})
	if err != nil {
		t.Fatalf("Write: %v", err)
	}

	want := []byte{0xaa, 0xbb, 0x00, 0x00, 0xcc, 0xdd, 0x11, 0x22}
	if !bytes.Equal(payload, want) {
		t.Fatalf("payload = % x, want % x", payload, want)
	}
}

func TestWriteLongRelocationEmission(t *testing.T) {
	obj := &object.Object{Commands: []object.Command{
		{Kind: object.Header, Section: object.Text, Size: 14},
		{Kind: object.ChangeSection, Section: object.Text},
		{Kind: object.Opaque, Code: 0x4201, Payload: []byte{0, 0, 0, 0}},
		{Kind: object.RawData, Data: []byte{0xaa, 0xbb}},
		{Kind: object.Opaque, Code: 0x6a01, Payload: []byte{0, 0, 0, 2, 0, 1}},
		{Kind: object.Opaque, Code: 0x9a00},
		{Kind: object.End},
	}}

	summaries, p := plan(t, []*object.Object{obj})
	image, err := Write([]*object.Object{obj}, summaries, p, Options{Format: FormatX, SymbolTable: SymbolTableCut})
	if err != nil {
		t.Fatalf("Write: %v", err)
	}

	relocSize := uint32(image[24])<<24 | uint32(image[25])<<16 | uint32(image[26])<<8 | uint32(image[27])
	if relocSize != 4 {
		t.Fatalf("reloc size = %d, want 4", relocSize)
	}
	relocPos := 64 + 14
	if !bytes.Equal(image[relocPos:relocPos+4], []byte{0x00, 0x00, 0x00, 0x06}) {
		t.Fatalf("reloc table = % x, want 00 00 00 06", image[relocPos:relocPos+4])
	}
}

func TestWriteXrefLongPatchInPlace(t *testing.T) {
	mainObj := &object.Object{Commands: []object.Command{
		{Kind: object.Header, Section: object.Text, Size: 8},
		{Kind: object.DefineSymbol, Section: object.Xref, Value: 1, Name: "_func"},
		{Kind: object.DefineSymbol, Section: object.Text, Value: 0, Name: "_start"},
		{Kind: object.ChangeSection, Section: object.Text},
		{Kind: object.RawData, Data: []byte{0x4e, 0xb9}}, // jsr abs.l
		{Kind: object.Opaque, Code: 0x42ff, Payload: []byte{0, 1}},
		{Kind: object.RawData, Data: []byte{0x4e, 0x75}}, // rts
		{Kind: object.End},
	}}
	subObj := &object.Object{Commands: []object.Command{
		{Kind: object.Header, Section: object.Text, Size: 2},
		{Kind: object.DefineSymbol, Section: object.Text, Value: 0, Name: "_func"},
		{Kind: object.ChangeSection, Section: object.Text},
		{Kind: object.RawData, Data: []byte{0x4e, 0x75}},
		{Kind: object.End},
	}}

	objs := []*object.Object{mainObj, subObj}
	summaries, p := plan(t, objs)
	image, err := Write(objs, summaries, p, Options{Format: FormatX, SymbolTable: SymbolTableCut})
	if err != nil {
		t.Fatalf("Write: %v", err)
	}

	want := []byte{0x4e, 0xb9, 0x00, 0x00, 0x00, 0x08, 0x4e, 0x75, 0x4e, 0x75}
	if !bytes.Equal(image[64:74], want) {
		t.Fatalf("text body = % x, want % x", image[64:74], want)
	}
	relocSize := uint32(image[24])<<24 | uint32(image[25])<<16 | uint32(image[26])<<8 | uint32(image[27])
	if relocSize != 2 {
		t.Fatalf("reloc size = %d, want 2", relocSize)
	}
	if !bytes.Equal(image[74:76], []byte{0x00, 0x02}) {
		t.Fatalf("reloc table = % x, want 00 02", image[74:76])
	}
}

func TestWriteCtorDtorSynthesis(t *testing.T) {
	// sys defines the tables; app (placed after it in text) contributes
	// the ctor/dtor entries, so its text placement offsets the payloads.
	sys := &object.Object{Commands: []object.Command{
		{Kind: object.Header, Section: object.Text, Size: 2},
		{Kind: object.Header, Section: object.Data, Size: 32},
		{Kind: object.ChangeSection, Section: object.Text},
		{Kind: object.RawData, Data: []byte{0x4e, 0x75}},
		{Kind: object.ChangeSection, Section: object.Data},
		{Kind: object.RawData, Data: make([]byte, 32)},
		{Kind: object.DefineSymbol, Section: object.Data, Value: 4, Name: "___CTOR_LIST__"},
		{Kind: object.DefineSymbol, Section: object.Data, Value: 16, Name: "___DTOR_LIST__"},
		{Kind: object.End},
	}}
	app := &object.Object{Commands: []object.Command{
		{Kind: object.Header, Section: object.Text, Size: 6},
		{Kind: object.Opaque, Code: object.OpDoCtor},
		{Kind: object.Opaque, Code: object.OpDoDtor},
		{Kind: object.Opaque, Code: object.OpCtorEntry, Payload: []byte{0, 0, 0, 2}},
		{Kind: object.Opaque, Code: object.OpDtorEntry, Payload: []byte{0, 0, 0, 4}},
		{Kind: object.End},
	}}

	objs := []*object.Object{sys, app}
	summaries, p := plan(t, objs)
	image, err := Write(objs, summaries, p, Options{Format: FormatX, G2LKMode: true, SymbolTable: SymbolTableCut})
	if err != nil {
		t.Fatalf("Write: %v", err)
	}

	dataPos := 64 + 8 // text total = 2 (sys) + 6 (app) = 8
	if !bytes.Equal(image[dataPos+4:dataPos+16], []byte{0xff, 0xff, 0xff, 0xff, 0x00, 0x00, 0x00, 0x04, 0x00, 0x00, 0x00, 0x00}) {
		t.Fatalf("ctor table = % x", image[dataPos+4:dataPos+16])
	}
	if !bytes.Equal(image[dataPos+16:dataPos+28], []byte{0xff, 0xff, 0xff, 0xff, 0x00, 0x00, 0x00, 0x06, 0x00, 0x00, 0x00, 0x00}) {
		t.Fatalf("dtor table = % x", image[dataPos+16:dataPos+28])
	}
}

func TestWriteCtorDtorSynthesisMissingSymbol(t *testing.T) {
	// Neither ___CTOR_LIST__ nor ___DTOR_LIST__ is defined anywhere, so
	// both must be synthesized into data. The declared Header 0x0c/0x0d
	// size (4, i.e. 4*1 entries) must drive an 8+4=12-byte table each,
	// not 8+4*4.
	app := &object.Object{Commands: []object.Command{
		{Kind: object.Header, Section: object.Text, Size: 2},
		{Kind: object.ChangeSection, Section: object.Text},
		{Kind: object.RawData, Data: []byte{0x4e, 0x75}},
		{Kind: object.Header, Section: 0x0c, Size: 4},
		{Kind: object.Header, Section: 0x0d, Size: 4},
		{Kind: object.Opaque, Code: object.OpDoCtor},
		{Kind: object.Opaque, Code: object.OpDoDtor},
		{Kind: object.Opaque, Code: object.OpCtorEntry, Payload: []byte{0, 0, 0, 0}},
		{Kind: object.Opaque, Code: object.OpDtorEntry, Payload: []byte{0, 0, 0, 0}},
		{Kind: object.End},
	}}

	objs := []*object.Object{app}
	summaries, p := plan(t, objs)
	image, err := Write(objs, summaries, p, Options{Format: FormatX, G2LKMode: true, SymbolTable: SymbolTableCut})
	if err != nil {
		t.Fatalf("Write: %v", err)
	}

	dataSize := uint32(image[16])<<24 | uint32(image[17])<<16 | uint32(image[18])<<8 | uint32(image[19])
	if dataSize != 24 {
		t.Fatalf("data size = %d, want 24 (two 12-byte synthesized tables)", dataSize)
	}

	dataPos := 64 + 2 // text total = 2
	want := []byte{
		0xff, 0xff, 0xff, 0xff, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, // ctor
		0xff, 0xff, 0xff, 0xff, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, // dtor
	}
	if !bytes.Equal(image[dataPos:dataPos+24], want) {
		t.Fatalf("synthesized tables = % x, want % x", image[dataPos:dataPos+24], want)
	}
}

func TestPatchMcsSize(t *testing.T) {
	payload := append([]byte("MACSDATA"), 0x01, 0x00, 0x00, 0x00, 0x00, 0x00)
	payload = append(payload, []byte("MORE")...)
	if len(payload) != 18 {
		t.Fatalf("fixture length = %d, want 18", len(payload))
	}
	if err := patchMcsSize(payload, 6); err != nil {
		t.Fatalf("patchMcsSize: %v", err)
	}
	if !bytes.Equal(payload[10:14], []byte{0x00, 0x00, 0x00, 0x18}) {
		t.Fatalf("size field = % x, want 00 00 00 18", payload[10:14])
	}
}

func TestWriteDirectByteRangeDiagnostic(t *testing.T) {
	obj := &object.Object{Commands: []object.Command{
		{Kind: object.Header, Section: object.Text, Size: 1},
		{Kind: object.ChangeSection, Section: object.Text},
		{Kind: object.Opaque, Code: 0x4300, Payload: []byte{0, 0, 0x03, 0xe8}}, // abs.b write of 1000
		{Kind: object.End},
	}}

	summaries, p := plan(t, []*object.Object{obj})
	_, err := Write([]*object.Object{obj}, summaries, p, Options{Format: FormatX})
	diagErr, ok := err.(*DiagnosticError)
	if !ok {
		t.Fatalf("expected *DiagnosticError, got %v", err)
	}
	if len(diagErr.Diagnostics) != 1 || diagErr.Diagnostics[0].Message != expr.MsgByteRange {
		t.Fatalf("diagnostics = %+v, want one %s", diagErr.Diagnostics, expr.MsgByteRange)
	}
}

func TestWriteDisp32AddressAttributeDiagnostic(t *testing.T) {
	mainObj := &object.Object{Commands: []object.Command{
		{Kind: object.Header, Section: object.Text, Size: 4},
		{Kind: object.DefineSymbol, Section: object.Xref, Value: 1, Name: "_const"},
		{Kind: object.ChangeSection, Section: object.Text},
		{Kind: object.Opaque, Code: 0x6afc, Payload: []byte{0, 0, 0, 0, 0, 1}},
		{Kind: object.End},
	}}
	subObj := &object.Object{Commands: []object.Command{
		{Kind: object.DefineSymbol, Section: object.Abs, Value: 42, Name: "_const"},
		{Kind: object.End},
	}}

	objs := []*object.Object{mainObj, subObj}
	summaries, p := plan(t, objs)
	_, err := Write(objs, summaries, p, Options{Format: FormatX})
	diagErr, ok := err.(*DiagnosticError)
	if !ok {
		t.Fatalf("expected *DiagnosticError, got %v", err)
	}
	if len(diagErr.Diagnostics) != 1 || diagErr.Diagnostics[0].Message != expr.MsgAddrAsDisp32 {
		t.Fatalf("diagnostics = %+v, want one %s", diagErr.Diagnostics, expr.MsgAddrAsDisp32)
	}
}

func TestWriteRMcsStrictRejectsRelocations(t *testing.T) {
	obj := &object.Object{Commands: []object.Command{
		{Kind: object.Header, Section: object.Text, Size: 4},
		{Kind: object.ChangeSection, Section: object.Text},
		{Kind: object.Opaque, Code: 0x4201, Payload: []byte{0, 0, 0, 0}},
		{Kind: object.End},
	}}
	summaries, p := plan(t, []*object.Object{obj})
	_, err := Write([]*object.Object{obj}, summaries, p, Options{Format: FormatR, RelocationCheck: RelocationStrict})
	if err == nil {
		t.Fatalf("expected ErrNotRConvertible for a relocatable R image")
	}
}
