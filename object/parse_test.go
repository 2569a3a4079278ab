package object

import "testing"

func TestParseMinimal(t *testing.T) {
	// Header(text,2) RawData text=[01 02] ChangeSection(data) Header(data,2)
	// RawData data=[11 22] DefineSymbol(text,1,"_label") StartAddress(data,1) End
	var data []byte
	data = append(data, 0xc0, 0x01, 0, 0, 0, 2, 't', 0) // Header text size=2 name "t\0" (even)
	data = append(data, 0x10, 0x01, 0x01, 0x02)         // RawData len=2: 01 02
	data = append(data, 0x20, 0x02, 0, 0, 0, 0)         // ChangeSection data
	data = append(data, 0xc0, 0x02, 0, 0, 0, 2, 'd', 0) // Header data size=2 name "d\0"
	data = append(data, 0x10, 0x01, 0x11, 0x22)              // RawData len=2: 11 22
	data = append(data, 0xb2, 0x01, 0, 0, 0, 1, '_', 'l', 'a', 'b', 'e', 'l', 0, 0) // DefineSymbol text value=1 "_label\0" padded even
	data = append(data, 0xe0, 0x00, 0x00, 0x02, 0, 0, 0, 1)                      // StartAddress data,1
	data = append(data, 0x00, 0x00)                                             // End

	obj, err := Parse(data)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(obj.Commands) != 8 {
		t.Fatalf("got %d commands, want 8: %+v", len(obj.Commands), obj.Commands)
	}
	if obj.Commands[0].Kind != Header || obj.Commands[0].Section != Text || obj.Commands[0].Size != 2 {
		t.Fatalf("command 0 = %+v", obj.Commands[0])
	}
	if obj.Commands[1].Kind != RawData || len(obj.Commands[1].Data) != 2 {
		t.Fatalf("command 1 = %+v", obj.Commands[1])
	}
	last := obj.Commands[len(obj.Commands)-1]
	if last.Kind != End {
		t.Fatalf("last command = %+v, want End", last)
	}
}

func TestParseUnsupportedCommand(t *testing.T) {
	data := []byte{0xff, 0xfe} // not a recognized code and not in opcode table
	if _, err := Parse(data); err == nil {
		t.Fatalf("expected error for unsupported command")
	}
}

func TestParseUnexpectedEOF(t *testing.T) {
	data := []byte{0x30, 0x00, 0, 0} // DefineSpace truncated (needs 4 byte payload, only 2 given)
	if _, err := Parse(data); err == nil {
		t.Fatalf("expected EOF error")
	}
}

func TestParseScdTail(t *testing.T) {
	data := []byte{0x00, 0x00, 'x', 'y', 'z'}
	obj, err := Parse(data)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if string(obj.ScdTail) != "xyz" {
		t.Fatalf("ScdTail = %q, want %q", obj.ScdTail, "xyz")
	}
}

func TestPayloadLenDirectFamilies(t *testing.T) {
	cases := []struct {
		code uint16
		want int
	}{
		{0x4000, 4}, // abs.w, absolute lo
		{0x42fc, 2}, // abs.l, xref lo
		{0x4201, 4}, // abs.l, section lo
		{0x4500, 2}, // xref.w always 2
		{0x4600, 8}, // add.l 4B+4B
		{0x5201, 8}, // abs.l with offset: 4+4
		{0x53fc, 6}, // abs.b with offset, xref lo: 2+4
		{0x6500, 6}, // word displacement
	}
	for _, c := range cases {
		got, ok := PayloadLen(c.code)
		if !ok {
			t.Fatalf("PayloadLen(0x%04x): not ok", c.code)
		}
		if got != c.want {
			t.Errorf("PayloadLen(0x%04x) = %d, want %d", c.code, got, c.want)
		}
	}
}
