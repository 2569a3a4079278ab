// Package expr implements the stack-based expression evaluator: the
// calc-stack algebra behind opaque push/arithmetic/stack-write opcodes,
// used by the opaque patch pass, which both materializes final bytes and
// collects the expression diagnostics.
package expr

import (
	"errors"
	"fmt"

	"github.com/xyproto/haslink/object"
)

// Diagnostic messages, carried verbatim per the external interface.
const (
	MsgStackOverflow  = "計算用スタックが溢れました"
	MsgStackUnderflow = "計算用スタックに値がありません"
	MsgBadExpression  = "不正な式"
	MsgDivByZero      = "ゼロ除算"
	MsgByteRange      = "バイトサイズ(-$80〜$ff)で表現できない値"
	MsgWordRangeWide  = "ワードサイズ(-$8000〜$ffff)で表現できない値"
	MsgWordRangeStrict = "ワードサイズ(-$8000〜$7fff)で表現できない値"
	MsgAddrAsByte     = "アドレス属性シンボルの値をバイトサイズで出力"
	MsgAddrAsWord     = "アドレス属性シンボルの値をワードサイズで出力"
	MsgAddrAsDisp32   = "32ビットディスプレースメントにアドレス属性シンボルの値を出力"
)

const stackLimit = 1024

// Stat values, the attribute tag on an evaluator value.
const (
	StatAbsolute    int16 = 0
	StatBaseSection int16 = 1
	StatOther       int16 = 2
	StatPoisoned    int16 = -1
)

// Entry is one calc-stack value: a tagged (stat, value) pair.
type Entry struct {
	Stat  int16
	Value int32
}

var ErrOverflow = errors.New(MsgStackOverflow)
var ErrUnderflow = errors.New(MsgStackUnderflow)

// Context supplies the link-time facts the evaluator needs but does not
// own: section base addresses for the current object's placement, and
// xref-label resolution against the global symbol table.
type Context interface {
	// SectionBase returns the placed base address of kind within the
	// current object, and the stat that addresses in kind carry.
	SectionBase(kind object.SectionKind) (value uint32, stat int16)
	// ResolveXref resolves an xref label number to its target entry. ok
	// is false if the label has no matching symbol, in which case the
	// push is silently skipped (open question in the source spec; the
	// reference implementation is tolerant).
	ResolveXref(label uint32) (Entry, bool)
}

// Stack is the evaluator's bounded calc stack.
type Stack struct {
	entries []Entry
	diags   []string
}

// NewStack returns an empty evaluator stack.
func NewStack() *Stack { return &Stack{} }

// Diagnostics returns the diagnostic messages accumulated so far.
func (s *Stack) Diagnostics() []string { return s.diags }

func (s *Stack) push(e Entry) error {
	if len(s.entries) >= stackLimit {
		s.diags = append(s.diags, MsgStackOverflow)
		return ErrOverflow
	}
	s.entries = append(s.entries, e)
	return nil
}

func (s *Stack) pop() (Entry, error) {
	if len(s.entries) == 0 {
		s.diags = append(s.diags, MsgStackUnderflow)
		return Entry{}, ErrUnderflow
	}
	e := s.entries[len(s.entries)-1]
	s.entries = s.entries[:len(s.entries)-1]
	return e, nil
}

// popBinary pops right then left (right is the top of stack); on
// underflow of the second pop, the first value is pushed back so the
// stack stays sane for any caller that keeps walking.
func (s *Stack) popBinary() (left, right Entry, err error) {
	right, err = s.pop()
	if err != nil {
		return Entry{}, Entry{}, err
	}
	left, err = s.pop()
	if err != nil {
		_ = s.push(right)
		return Entry{}, Entry{}, err
	}
	return left, right, nil
}

// Push evaluates a hi=0x80 push opcode. lo selects the source; payload
// is the raw 4-byte value read from the command stream (unused for the
// xref case, where label carries the xref label number instead).
func (s *Stack) Push(ctx Context, lo byte, payload uint32, label uint32) error {
	switch {
	case lo == 0x00:
		return s.push(Entry{Stat: StatAbsolute, Value: int32(payload)})
	case lo >= 0x01 && lo <= 0x0a:
		base, stat := ctx.SectionBase(object.SectionKind(lo))
		return s.push(Entry{Stat: stat, Value: int32(payload + base)})
	case lo >= 0xfc:
		e, ok := ctx.ResolveXref(label)
		if !ok {
			return nil // silently skipped, per the tolerant reference behavior
		}
		return s.push(e)
	}
	return fmt.Errorf("expr: unsupported push selector 0x%02x", lo)
}

// Dup duplicates the top of stack (calc lo=0x02).
func (s *Stack) Dup() error {
	if len(s.entries) == 0 {
		s.diags = append(s.diags, MsgStackUnderflow)
		return ErrUnderflow
	}
	top := s.entries[len(s.entries)-1]
	return s.push(top)
}

// Unary applies one of the unary calc opcodes (lo=0x01,0x03..0x07).
func (s *Stack) Unary(lo byte) error {
	e, err := s.pop()
	if err != nil {
		return err
	}
	switch lo {
	case 0x01: // neg
		e.Value = -e.Value
	case 0x03: // logical not
		if e.Value == 0 {
			e.Value = -1
		} else {
			e.Value = 0
		}
		e.Stat = StatAbsolute
	case 0x04: // low byte
		e.Value = int32(uint8(e.Value))
		e.Stat = StatAbsolute
	case 0x05: // low word
		e.Value = int32(uint16(e.Value))
		e.Stat = StatAbsolute
	case 0x06, 0x07: // further byte/word extraction variants
		e.Value = int32(uint16(e.Value))
		e.Stat = StatAbsolute
	}
	return s.push(e)
}

// Add applies the attribute rules for add (calc lo=0x10).
func (s *Stack) Add() error {
	left, right, err := s.popBinary()
	if err != nil {
		return err
	}
	result := Entry{Value: left.Value + right.Value}
	switch {
	case right.Stat == StatAbsolute:
		result.Stat = left.Stat ^ right.Stat
	case right.Stat < 0:
		result.Stat = StatPoisoned
	case left.Stat == StatAbsolute:
		result.Stat = left.Stat ^ right.Stat
	default:
		result.Stat = StatPoisoned
		if left.Stat >= 0 {
			s.diags = append(s.diags, MsgBadExpression)
		}
	}
	return s.push(result)
}

// Sub applies the attribute rules for sub (calc lo=0x0f).
func (s *Stack) Sub() error {
	left, right, err := s.popBinary()
	if err != nil {
		return err
	}
	result := Entry{Value: left.Value - right.Value}
	switch {
	case right.Stat == StatAbsolute:
		result.Stat = left.Stat ^ right.Stat
	case left.Stat < 0 || right.Stat < 0:
		result.Stat = StatPoisoned
	case left.Stat != right.Stat:
		result.Stat = StatPoisoned
		s.diags = append(s.diags, MsgBadExpression)
	default:
		result.Stat = left.Stat ^ right.Stat
	}
	return s.push(result)
}

// binaryValue is the shared path for every other binary op: both
// operands must be absolute or the result is poisoned.
func (s *Stack) binaryValue(f func(l, r int32) int32) error {
	left, right, err := s.popBinary()
	if err != nil {
		return err
	}
	if left.Stat != StatAbsolute || right.Stat != StatAbsolute {
		if left.Stat > 0 || right.Stat > 0 {
			s.diags = append(s.diags, MsgBadExpression)
		}
		return s.push(Entry{Stat: StatPoisoned})
	}
	return s.push(Entry{Stat: StatAbsolute, Value: f(left.Value, right.Value)})
}

// Mul, Div, Mod, shifts, comparisons, and bitwise ops (calc lo=0x09..0x1d).
func (s *Stack) Mul() error { return s.binaryValue(func(l, r int32) int32 { return l * r }) }

func (s *Stack) Div() error {
	left, right, err := s.popBinary()
	if err != nil {
		return err
	}
	if left.Stat != StatAbsolute || right.Stat != StatAbsolute {
		if left.Stat > 0 || right.Stat > 0 {
			s.diags = append(s.diags, MsgBadExpression)
		}
		return s.push(Entry{Stat: StatPoisoned})
	}
	if right.Value == 0 {
		s.diags = append(s.diags, MsgDivByZero)
		return s.push(Entry{Stat: StatPoisoned})
	}
	return s.push(Entry{Stat: StatAbsolute, Value: left.Value / right.Value})
}

func (s *Stack) Mod() error {
	left, right, err := s.popBinary()
	if err != nil {
		return err
	}
	if left.Stat != StatAbsolute || right.Stat != StatAbsolute {
		if left.Stat > 0 || right.Stat > 0 {
			s.diags = append(s.diags, MsgBadExpression)
		}
		return s.push(Entry{Stat: StatPoisoned})
	}
	if right.Value == 0 {
		s.diags = append(s.diags, MsgDivByZero)
		return s.push(Entry{Stat: StatPoisoned})
	}
	rem := left.Value % right.Value
	if rem < 0 {
		rem = -rem
	}
	return s.push(Entry{Stat: StatAbsolute, Value: rem})
}

func (s *Stack) Shift(lo byte) error {
	return s.binaryValue(func(l, r int32) int32 {
		amount := uint(r) & 63
		switch lo {
		case 0x0c: // logical right
			return int32(uint32(l) >> amount)
		case 0x0d: // left
			return l << amount
		case 0x0e: // arithmetic right
			return l >> amount
		}
		return l
	})
}

func (s *Stack) Compare(lo byte) error {
	return s.binaryValue(func(l, r int32) int32 {
		truth := false
		switch lo {
		case 0x11:
			truth = l == r
		case 0x12:
			truth = l != r
		case 0x13:
			truth = l < r
		case 0x14:
			truth = l <= r
		case 0x15:
			truth = l > r
		case 0x16:
			truth = l >= r
		default:
			truth = l == r
		}
		if truth {
			return -1
		}
		return 0
	})
}

func (s *Stack) Bitwise(lo byte) error {
	return s.binaryValue(func(l, r int32) int32 {
		switch lo {
		case 0x1b:
			return l & r
		case 0x1c:
			return l ^ r
		case 0x1d:
			return l | r
		}
		return l
	})
}

// PopForWrite pops the top value for a stack-write opcode (hi in the
// 0x90 family) and range-checks it per the write size and section kind.
// strictWord forces the signed -0x8000..0x7fff range for word writes (the
// 0x99 variant); otherwise word writes accept -0x8000..0xffff. The returned
// stat lets the caller decide relocation eligibility for long writes.
func (s *Stack) PopForWrite(writeSize int, strictWord, isBaseSection bool) (value int32, stat int16, err error) {
	e, err := s.pop()
	if err != nil {
		return 0, StatPoisoned, err
	}
	if msg := ValidateSizeFit(e.Value, e.Stat, writeSize, strictWord, isBaseSection); msg != "" {
		s.diags = append(s.diags, msg)
	}
	return e.Value, e.Stat, nil
}

// ValidateSizeFit applies the byte/word range and address-attribute
// diagnostics shared by every site that materializes a final value at a
// fixed write size: the stack-write family (via PopForWrite) and the
// direct/displacement opcode family (materialized without a calc-stack
// pop at all) alike. Returns "" when the value fits cleanly.
func ValidateSizeFit(value int32, stat int16, writeSize int, strictWord, isBaseSection bool) string {
	if stat < 0 {
		return "" // poisoned values propagate silently
	}
	switch writeSize {
	case 1:
		if stat == StatAbsolute && !fitsByte(value) {
			return MsgByteRange
		} else if stat != StatAbsolute && isBaseSection {
			return MsgAddrAsByte
		}
	case 2:
		if strictWord {
			if !fitsWordStrict(value) {
				return MsgWordRangeStrict
			}
		} else if stat == StatAbsolute && !fitsWordWide(value) {
			return MsgWordRangeWide
		} else if stat != StatAbsolute && isBaseSection && !fitsWordStrict(value) {
			return MsgAddrAsWord
		}
	}
	return ""
}

func fitsByte(v int32) bool       { return v >= -0x80 && v <= 0xff }
func fitsWordWide(v int32) bool   { return v >= -0x8000 && v <= 0xffff }
func fitsWordStrict(v int32) bool { return v >= -0x8000 && v <= 0x7fff }
