package link

import (
	"fmt"

	"github.com/xyproto/haslink/layout"
	"github.com/xyproto/haslink/object"
	"github.com/xyproto/haslink/resolve"
)

// initializedKinds are the only sections that carry program bytes.
var initializedKinds = []object.SectionKind{object.Text, object.Data, object.RData, object.RLData}

// linkInitializedSections walks every object's command stream once,
// building one local buffer per initialized section, then copies each
// object's buffer into the global section buffers at its planned
// placement.
func linkInitializedSections(objects []*object.Object, summaries []*resolve.ObjectSummary, plan *layout.Plan) (map[object.SectionKind][]byte, error) {
	global := make(map[object.SectionKind][]byte)
	for _, kind := range initializedKinds {
		global[kind] = make([]byte, plan.Totals[kind])
	}

	for i, obj := range objects {
		local := buildObjectSections(obj, summaries[i])

		for _, kind := range initializedKinds {
			buf := local[kind]
			base := int(plan.Placements[i][kind])
			dst := global[kind]
			if base+len(buf) > len(dst) {
				return nil, fmt.Errorf("link: object %d section %s placement out of range (base=%d len=%d total=%d)",
					i, kind, base, len(buf), len(dst))
			}
			copy(dst[base:base+len(buf)], buf)
		}
	}

	return global, nil
}

// buildObjectSections links one object's initialized sections into
// local, per-section byte buffers trimmed/padded to align_even(max(
// declared, observed)).
func buildObjectSections(obj *object.Object, summary *resolve.ObjectSummary) map[object.SectionKind][]byte {
	local := make(map[object.SectionKind][]byte)
	for _, kind := range initializedKinds {
		local[kind] = make([]byte, summary.EffectiveSize(kind))
	}

	walkCommands(obj.Commands, func(cmd object.Command, section object.SectionKind, cursor uint32) {
		if cmd.Kind != object.RawData || !section.IsInitialized() {
			return
		}
		buf := local[section]
		end := int(cursor) + len(cmd.Data)
		if end > len(buf) {
			grown := make([]byte, end)
			copy(grown, buf)
			buf = grown
			local[section] = buf
		}
		copy(buf[cursor:end], cmd.Data)
	})

	for _, kind := range initializedKinds {
		want := int(summary.EffectiveSize(kind))
		buf := local[kind]
		if len(buf) < want {
			padded := make([]byte, want)
			copy(padded, buf)
			local[kind] = padded
		} else if len(buf) > want {
			local[kind] = buf[:want]
		}
	}

	return local
}
