// Command haslink links Human68K HAS/HLK object files into an X-format,
// R-format, or MCS executable image, with an optional map-file report.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"

	"github.com/xyproto/haslink/layout"
	"github.com/xyproto/haslink/link"
	"github.com/xyproto/haslink/mapfile"
	"github.com/xyproto/haslink/object"
	"github.com/xyproto/haslink/resolve"
)

const versionString = "haslink 1.0.0"

// VerboseMode gates the stderr progress trace; set from -v.
var VerboseMode bool

func verbosef(format string, args ...any) {
	if VerboseMode {
		fmt.Fprintf(os.Stderr, format+"\n", args...)
	}
}

func main() {
	var outputFlag = flag.String("o", "a.x", "output image filename")
	var formatFlag = flag.String("f", "x", "output format: x, r, or mcs")
	var relocSkip = flag.Bool("z", false, "skip the relocation/exec-address check for R/MCS output")
	var bssOmit = flag.Bool("b", false, "omit bss/common/stack from R/MCS output")
	var cutSymbols = flag.Bool("s", false, "strip the symbol table from X output")
	var baseAddress = flag.String("base", "0", "base address patched into the X header (hex or decimal)")
	var loadMode = flag.Int("load", 0, "X header load-mode byte")
	var sectionInfo = flag.Bool("i", false, "patch section-size info into the image")
	var g2lkMode = flag.Bool("1", false, "enable G2LK ctor/dtor synthesis mode")
	var mapPath = flag.String("m", "", "write a map-file report to this path")
	var verbose = flag.Bool("v", false, "verbose mode (show linking progress)")
	var version = flag.Bool("version", false, "print version information and exit")

	flag.Parse()

	if *version {
		fmt.Println(versionString)
		os.Exit(0)
	}
	VerboseMode = *verbose

	inputPaths := flag.Args()
	if len(inputPaths) == 0 {
		log.Fatalln("usage: haslink [options] file.has [file2.has ...]")
	}

	opts, err := buildOptions(*formatFlag, *relocSkip, *bssOmit, *cutSymbols, *baseAddress, *loadMode, *sectionInfo, *g2lkMode)
	if err != nil {
		log.Fatalln(err)
	}
	opts.Verbose = VerboseMode

	objects := make([]*object.Object, len(inputPaths))
	summaries := make([]*resolve.ObjectSummary, len(inputPaths))
	for i, path := range inputPaths {
		verbosef("reading %s", path)
		data, err := os.ReadFile(path)
		if err != nil {
			log.Fatalln(err)
		}
		obj, err := object.Parse(data)
		if err != nil {
			log.Fatalf("%s: %v", path, err)
		}
		objects[i] = obj
		summaries[i] = resolve.Resolve(obj)
	}

	plan := layout.PlanLayout(summaries)
	verbosef("text=%d data=%d bss=%d", plan.Totals[object.Text], plan.Totals[object.Data], plan.Totals[object.Bss])

	image, err := link.Write(objects, summaries, plan, opts)
	if err != nil {
		log.Fatalln(err)
	}

	if err := os.WriteFile(*outputFlag, image, 0o644); err != nil {
		log.Fatalln(err)
	}
	verbosef("wrote %s (%d bytes)", *outputFlag, len(image))

	if *mapPath != "" {
		report := mapfile.Build(*outputFlag, summaries, plan, inputPaths)
		if err := os.WriteFile(*mapPath, []byte(report), 0o644); err != nil {
			log.Fatalln(err)
		}
		verbosef("wrote %s", *mapPath)
	}
}

func buildOptions(formatFlag string, relocSkip, bssOmit, cutSymbols bool, baseAddress string, loadMode int, sectionInfo, g2lkMode bool) (link.Options, error) {
	var opts link.Options

	switch strings.ToLower(formatFlag) {
	case "x":
		opts.Format = link.FormatX
	case "r":
		opts.Format = link.FormatR
	case "mcs":
		opts.Format = link.FormatMcs
	default:
		return opts, fmt.Errorf("unsupported -f value %q (expected x, r, or mcs)", formatFlag)
	}

	if relocSkip {
		opts.RelocationCheck = link.RelocationSkip
	} else {
		opts.RelocationCheck = link.RelocationStrict
	}

	if bssOmit {
		opts.BssPolicy = link.BssOmit
	} else {
		opts.BssPolicy = link.BssInclude
	}

	if cutSymbols {
		opts.SymbolTable = link.SymbolTableCut
	} else {
		opts.SymbolTable = link.SymbolTableKeep
	}

	base, err := strconv.ParseUint(baseAddress, 0, 32)
	if err != nil {
		return opts, fmt.Errorf("invalid -base value %q: %w", baseAddress, err)
	}
	opts.BaseAddress = uint32(base)

	if loadMode < 0 || loadMode > 0xff {
		return opts, fmt.Errorf("invalid -load value %d (expected 0-255)", loadMode)
	}
	opts.LoadMode = uint8(loadMode)

	opts.SectionInfo = sectionInfo
	opts.G2LKMode = g2lkMode

	return opts, nil
}
