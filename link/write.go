package link

import (
	"fmt"

	"github.com/xyproto/haslink/layout"
	"github.com/xyproto/haslink/object"
	"github.com/xyproto/haslink/resolve"
)

// Write runs the full back end over already-parsed objects and their
// resolved summaries/layout plan, and returns the final, byte-exact
// output image for opts.Format.
func Write(objects []*object.Object, summaries []*resolve.ObjectSummary, plan *layout.Plan, opts Options) ([]byte, error) {
	if len(objects) != len(summaries) || len(objects) != len(plan.Placements) {
		return nil, fmt.Errorf("link: internal mismatch: objects/summaries/placements length differs")
	}

	buffers, err := linkInitializedSections(objects, summaries, plan)
	if err != nil {
		return nil, err
	}

	scan := scanCtorDtor(objects, plan)
	scan.validateMode(opts.G2LKMode)
	if err := scan.validateHeaderSizes(); err != nil {
		return nil, err
	}

	globals := buildGlobalSymbols(summaries, plan.Placements, plan)

	var synthNames []string
	if opts.G2LKMode {
		dataEnd := uint32(len(buffers[object.Data]))
		plans, grown := planCtorDtorSynthesis(scan, globals, dataEnd)
		if grown > 0 {
			buffers[object.Data] = append(buffers[object.Data], make([]byte, grown)...)
			plan.Totals[object.Data] += grown
			// Extending data shifts every region placed after it;
			// rebuild the address table against the grown total before
			// injecting the synthesized addresses.
			globals = buildGlobalSymbols(summaries, plan.Placements, plan)
		}
		dataBase := regionBases(plan)[object.Data]
		for _, p := range plans {
			globals.InjectSynthetic(p.name, int32(dataBase+p.offset))
			synthNames = append(synthNames, p.name)
		}
	}

	var allDiags []ExprDiagnostic
	var results []patchResult
	for i, obj := range objects {
		objName := fmt.Sprintf("object%d", i)
		ctx := newObjectContext(globals, plan.Placements[i], summaries[i].Xrefs)
		res, diags := patchObject(obj, objName, ctx, buffers)
		results = append(results, res...)
		allDiags = append(allDiags, diags...)
	}
	for _, msg := range scan.diags {
		allDiags = append(allDiags, ExprDiagnostic{Message: msg})
	}
	if len(allDiags) > 0 {
		return nil, &DiagnosticError{Diagnostics: allDiags}
	}

	bases := regionBases(plan)
	if err := patchCtorDtorTables(scan, globals, bases, buffers); err != nil {
		return nil, err
	}

	relocBytes, err := buildRelocationTable(results)
	if err != nil {
		return nil, err
	}

	var payload []byte
	switch opts.Format {
	case FormatX:
		payload, err = buildXOutput(buffers, summaries, globals, plan, objects, opts, relocBytes, synthNames)
	default:
		payload, err = buildRMcsOutput(summaries, buffers, plan, opts, relocBytes)
	}
	if err != nil {
		return nil, err
	}

	if opts.SectionInfo {
		if err := patchSectionSizeInfo(payload, opts.Format != FormatX, plan, globals, uint32(len(relocBytes))); err != nil {
			return nil, err
		}
	}

	if opts.Format == FormatMcs {
		bssExtra := uint32(0)
		if opts.BssPolicy == BssInclude {
			bssExtra = bssCommonStackTotal(plan)
		}
		if err := patchMcsSize(payload, bssExtra); err != nil {
			return nil, err
		}
	}

	return payload, nil
}

func buildXOutput(buffers map[object.SectionKind][]byte, summaries []*resolve.ObjectSummary, globals *GlobalSymbols, plan *layout.Plan, objects []*object.Object, opts Options, relocBytes []byte, synthNames []string) ([]byte, error) {
	textSize := uint32(len(buffers[object.Text]))
	dataSize := uint32(len(buffers[object.Data]))
	bssSize := bssCommonStackTotal(plan)

	var symbolData []byte
	if opts.SymbolTable == SymbolTableKeep {
		symbolData = buildSymbolTable(summaries, globals, synthNames)
	}

	lineTable, infoTable, nameTable, err := buildScdPassthrough(objects, summaries, plan)
	if err != nil {
		return nil, err
	}

	exec, err := resolveExecAddress(summaries, textSize, dataSize)
	if err != nil {
		return nil, err
	}

	header := buildXHeader(xHeaderFields{
		textSize: textSize, dataSize: dataSize, bssSize: bssSize,
		relocSize: uint32(len(relocBytes)), symbolSize: uint32(len(symbolData)),
		scdLineSize: uint32(len(lineTable)), scdInfoSize: uint32(len(infoTable)), scdNameSize: uint32(len(nameTable)),
		exec: exec,
	})

	image := append([]byte{}, header...)
	image = append(image, buffers[object.Text]...)
	image = append(image, buffers[object.Data]...)
	image = append(image, relocBytes...)
	image = append(image, symbolData...)
	image = append(image, lineTable...)
	image = append(image, infoTable...)
	image = append(image, nameTable...)

	if opts.BaseAddress != 0 || opts.LoadMode != 0 {
		if err := applyXHeaderOptions(image, opts.BaseAddress, opts.LoadMode); err != nil {
			return nil, err
		}
	}
	return image, nil
}

func buildRMcsOutput(summaries []*resolve.ObjectSummary, buffers map[object.SectionKind][]byte, plan *layout.Plan, opts Options, relocBytes []byte) ([]byte, error) {
	if opts.RelocationCheck == RelocationStrict {
		if len(relocBytes) > 0 {
			return nil, fmt.Errorf("%w: %s", ErrNotRConvertible, MsgRelocationUsed)
		}
		textSize := uint32(len(buffers[object.Text]))
		dataSize := uint32(len(buffers[object.Data]))
		exec, err := resolveExecAddress(summaries, textSize, dataSize)
		if err != nil {
			return nil, err
		}
		if exec != 0 {
			return nil, fmt.Errorf("%w: %s", ErrNotRConvertible, MsgExecNotAtStart)
		}
	}
	return buildRPayload(buffers, plan, opts.BssPolicy == BssOmit), nil
}
