package mapfile

import (
	"strings"
	"testing"

	"github.com/xyproto/haslink/layout"
	"github.com/xyproto/haslink/object"
	"github.com/xyproto/haslink/resolve"
)

func TestBuildMapTextWithSymbolAddresses(t *testing.T) {
	s0 := &resolve.ObjectSummary{
		ObjectAlign:  2,
		DeclaredSize: map[object.SectionKind]uint32{object.Text: 2},
		ObservedSize: map[object.SectionKind]uint32{},
		Defined:      []resolve.Symbol{{Name: "_text0", Section: object.Text, Value: 0}},
	}
	s1 := &resolve.ObjectSummary{
		ObjectAlign:  2,
		DeclaredSize: map[object.SectionKind]uint32{object.Text: 2, object.Data: 2},
		ObservedSize: map[object.SectionKind]uint32{},
		Defined:      []resolve.Symbol{{Name: "_data0", Section: object.Data, Value: 1}},
	}

	plan := layout.PlanLayout([]*resolve.ObjectSummary{s0, s1})
	text := Build("a.x", []*resolve.ObjectSummary{s0, s1}, plan, nil)

	checks := []string{
		"==========================================================",
		"A:a.x",
		"exec\t\t\t : 00000000",
		"text\t\t\t : 00000000 - 00000003 (00000004)",
		"data\t\t\t : 00000004 - 00000005 (00000002)",
		"-------------------------- xdef --------------------------",
		"_text0\t\t\t : 00000000 (text   )",
		"_data0\t\t\t : 00000001 (data   )",
		"obj0",
		"align\t\t\t : 00000002",
	}
	for _, want := range checks {
		if !strings.Contains(text, want) {
			t.Fatalf("map text missing %q\nfull text:\n%s", want, text)
		}
	}
}

func TestBuildMapTextXrefOwnership(t *testing.T) {
	main := &resolve.ObjectSummary{
		ObjectAlign: 2,
		Xrefs:       []resolve.Xref{{Name: "_func", Label: 1}},
	}
	lib := &resolve.ObjectSummary{
		ObjectAlign: 2,
		Defined:     []resolve.Symbol{{Name: "_func", Section: object.Text, Value: 0}},
	}

	plan := layout.PlanLayout([]*resolve.ObjectSummary{main, lib})
	text := Build("a.x", []*resolve.ObjectSummary{main, lib}, plan, []string{"main.o", "lib.o"})

	if !strings.Contains(text, "-------------------------- xref --------------------------") {
		t.Fatalf("missing xref section header")
	}
	if !strings.Contains(text, "_func                    : in lib.o") {
		t.Fatalf("xref owner not resolved to lib.o:\n%s", text)
	}
	if !strings.Contains(text, "main.o") {
		t.Fatalf("missing object display name")
	}
}

func TestBuildMapTextIsCRLF(t *testing.T) {
	plan := layout.PlanLayout(nil)
	text := Build("a.x", nil, plan, nil)
	if strings.Contains(text, "\n") && !strings.Contains(text, "\r\n") {
		t.Fatalf("map text is not CRLF-normalized")
	}
}
