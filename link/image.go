package link

import (
	"encoding/binary"
	"fmt"

	"github.com/xyproto/haslink/layout"
	"github.com/xyproto/haslink/object"
	"github.com/xyproto/haslink/resolve"
)

const xHeaderSize = 64

// xHeaderFields is the set of sizes buildXHeader needs; exec is
// resolved separately since it depends on the start-address scan.
type xHeaderFields struct {
	textSize, dataSize, bssSize uint32
	relocSize, symbolSize       uint32
	scdLineSize, scdInfoSize    uint32
	scdNameSize                 uint32
	exec                        uint32
}

// buildXHeader lays out the 64-byte HU header: magic at 0, load_mode at
// 3 (left zero here; the base-address post-patch fills it in), and the
// nine big-endian u32 size/exec fields.
func buildXHeader(f xHeaderFields) []byte {
	h := make([]byte, xHeaderSize)
	h[0], h[1] = 'H', 'U'
	binary.BigEndian.PutUint32(h[8:12], f.exec)
	binary.BigEndian.PutUint32(h[12:16], f.textSize)
	binary.BigEndian.PutUint32(h[16:20], f.dataSize)
	binary.BigEndian.PutUint32(h[20:24], f.bssSize)
	binary.BigEndian.PutUint32(h[24:28], f.relocSize)
	binary.BigEndian.PutUint32(h[28:32], f.symbolSize)
	binary.BigEndian.PutUint32(h[32:36], f.scdLineSize)
	binary.BigEndian.PutUint32(h[36:40], f.scdInfoSize)
	binary.BigEndian.PutUint32(h[40:44], f.scdNameSize)
	return h
}

// resolveExecAddress reports the single start address, if any, resolved
// to an absolute file offset: section 0x02 (Data) bases from text_size,
// section 0x03 (Bss) bases from text_size+data_size, anything else is
// taken as already absolute.
func resolveExecAddress(summaries []*resolve.ObjectSummary, textSize, dataSize uint32) (uint32, error) {
	var starts []resolve.StartAddress
	for _, s := range summaries {
		if s.Start != nil {
			starts = append(starts, *s.Start)
		}
	}
	if len(starts) > 1 {
		return 0, ErrMultipleStartAddresses
	}
	if len(starts) == 0 {
		return 0, nil
	}
	start := starts[0]
	var base uint32
	switch start.Section {
	case object.Data:
		base = textSize
	case object.Bss:
		base = textSize + dataSize
	}
	return base + start.Offset, nil
}

// applyXHeaderOptions writes load_mode at offset 3 and, if base_address
// is nonzero, rewrites the reserved base field at offset 4 and rebases
// the exec field by it.
func applyXHeaderOptions(payload []byte, baseAddress uint32, loadMode uint8) error {
	if len(payload) < xHeaderSize || payload[0] != 'H' || payload[1] != 'U' {
		return fmt.Errorf("link: invalid X-format payload while applying header options")
	}
	payload[3] = loadMode
	if baseAddress == 0 {
		return nil
	}
	execOff := binary.BigEndian.Uint32(payload[8:12])
	binary.BigEndian.PutUint32(payload[4:8], baseAddress)
	binary.BigEndian.PutUint32(payload[8:12], baseAddress+execOff)
	return nil
}

// bssCommonStackTotal is the zero-fill region size R/MCS append (or X
// records as its "bss" header field): bss + common + stack.
func bssCommonStackTotal(plan *layout.Plan) uint32 {
	return plan.Totals[object.Bss] + plan.Totals[object.Common] + plan.Totals[object.Stack]
}

// buildRPayload concatenates Text, Data, RData, RLData in that order,
// then optionally appends bss+common+stack zero bytes.
func buildRPayload(buffers map[object.SectionKind][]byte, plan *layout.Plan, omitBss bool) []byte {
	var payload []byte
	for _, kind := range []object.SectionKind{object.Text, object.Data, object.RData, object.RLData} {
		payload = append(payload, buffers[kind]...)
	}
	if !omitBss {
		payload = append(payload, make([]byte, bssCommonStackTotal(plan))...)
	}
	return payload
}

// patchMcsSize validates the MACSDATA magic and writes the big-endian
// total-size field at offset 10.
func patchMcsSize(payload []byte, bssExtra uint32) error {
	if len(payload) < 14 {
		return ErrMcsMagicMismatch
	}
	if string(payload[0:4]) != "MACS" || string(payload[4:8]) != "DATA" {
		return ErrMcsMagicMismatch
	}
	total := uint32(len(payload)) + bssExtra
	binary.BigEndian.PutUint32(payload[10:14], total)
	return nil
}

// patchSectionSizeInfo overwrites the 14-field ___size_info block when
// present: per-section totals (in the canonical order) plus the
// relocation-table size, as u32 big-endian, starting at the symbol's
// address (file-relative + 64 in X-mode, data-relative in R/MCS mode).
func patchSectionSizeInfo(payload []byte, rFormat bool, plan *layout.Plan, globals *GlobalSymbols, relocSize uint32) error {
	kind, ok := globals.KindOf("___size_info")
	if !ok {
		return fmt.Errorf("%w: ___size_info", ErrMissingSymbol)
	}
	if kind != object.Data {
		return fmt.Errorf("%w: ___size_info", ErrSymbolWrongSection)
	}
	entry, _ := globals.Lookup("___size_info")

	values := []uint32{
		plan.Totals[object.Text], plan.Totals[object.Data], plan.Totals[object.Bss],
		plan.Totals[object.Common], plan.Totals[object.Stack],
		plan.Totals[object.RData], plan.Totals[object.RBss], plan.Totals[object.RCommon],
		plan.Totals[object.RStack], plan.Totals[object.RLData], plan.Totals[object.RLBss],
		plan.Totals[object.RLCommon], plan.Totals[object.RLStack],
		relocSize,
	}

	writePos := int(entry.Value)
	if !rFormat {
		writePos += xHeaderSize
	}
	need := writePos + len(values)*4
	if writePos < 0 || need > len(payload) {
		return fmt.Errorf("link: section info region overflows output payload")
	}
	p := writePos
	for _, v := range values {
		binary.BigEndian.PutUint32(payload[p:p+4], v)
		p += 4
	}
	return nil
}
