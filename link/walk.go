package link

import "github.com/xyproto/haslink/object"

// walker tracks the current section and a per-section cursor across a
// forward pass over a command stream. It is the stateful forward-walk
// abstraction the initialized-section linker and the opaque patch pass
// (which also collects relocation offsets and expression diagnostics)
// share instead of each re-deriving cursor/section bookkeeping; the
// resolver in package resolve keeps its own section tracking.
type walker struct {
	section object.SectionKind
	cursor  map[object.SectionKind]uint32
}

func newWalker() *walker {
	return &walker{section: object.Text, cursor: make(map[object.SectionKind]uint32)}
}

func (w *walker) step(cmd object.Command) {
	switch cmd.Kind {
	case object.ChangeSection:
		w.section = cmd.Section
	case object.RawData:
		w.cursor[w.section] += uint32(len(cmd.Data))
	case object.DefineSpace:
		w.cursor[w.section] += cmd.Size
	case object.Opaque:
		if n, ok := object.WriteSize(cmd.Code); ok {
			w.cursor[w.section] += uint32(n)
		}
	}
}

// walkCommands delivers each command together with the section/cursor it
// is positioned at, then invariantly advances the walker's state.
func walkCommands(cmds []object.Command, fn func(cmd object.Command, section object.SectionKind, cursor uint32)) {
	w := newWalker()
	for _, cmd := range cmds {
		fn(cmd, w.section, w.cursor[w.section])
		w.step(cmd)
	}
}
