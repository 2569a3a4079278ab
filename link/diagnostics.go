package link

import (
	"errors"
	"strings"
)

// Link-time diagnostics, carried verbatim per the external interface.
const (
	MsgOddRelocation   = "再配置対象が奇数アドレスにあります"
	MsgRelocationUsed  = "再配置テーブルが使われています"
	MsgExecNotAtStart  = "実行開始アドレスがファイル先頭ではありません"
	MsgNotMacsFormat   = "MACS形式ファイルではありません"
	MsgCtorWithoutDoc  = ".doctor なしで .ctor が使われています"
	MsgDtorWithoutDod  = ".dodtor なしで .dtor が使われています"
	MsgCtorNeedsG2LK   = "(do)ctor/dtor には -1 オプションの指定が必要です。"
)

// Sentinel link errors (spec.md §7 "Link errors").
var (
	ErrMultipleStartAddresses = errors.New("link: multiple start addresses")
	ErrMissingSymbol          = errors.New("link: missing required symbol")
	ErrSymbolWrongSection     = errors.New("link: symbol in wrong section")
	ErrCtorDtorSizeMismatch   = errors.New("link: ctor/dtor header size mismatch")
	ErrNotRConvertible        = errors.New("link: not convertible to R/MCS")
	ErrOddRelocation          = errors.New(MsgOddRelocation)
	ErrMcsMagicMismatch       = errors.New(MsgNotMacsFormat)
	ErrUnsupportedSCDSection  = errors.New("link: unsupported SCD section code")
)

// toHuman68KPath renders a user-visible path the way Human68K diagnostics
// do: "A:" prefix, backslashes instead of forward slashes.
func toHuman68KPath(path string) string {
	return "A:" + strings.ReplaceAll(path, "/", "\\")
}

// ExprDiagnostic is one accumulated expression-evaluator diagnostic.
type ExprDiagnostic struct {
	ObjectName string
	Cursor     uint32
	Section    string
	Message    string
}

// DiagnosticError joins every accumulated per-object expression
// diagnostic into a single failure, per spec.md §7's propagation rule.
type DiagnosticError struct {
	Diagnostics []ExprDiagnostic
}

func (e *DiagnosticError) Error() string {
	var b strings.Builder
	for i, d := range e.Diagnostics {
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(d.ObjectName)
		b.WriteString(": ")
		b.WriteString(d.Message)
	}
	return b.String()
}
