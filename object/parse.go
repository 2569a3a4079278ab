package object

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// Format errors, matching the taxonomy's "unsupported opcode, unexpected
// EOF, unterminated string" trio.
var (
	ErrUnexpectedEOF      = errors.New("object: unexpected end of file")
	ErrUnterminatedStr    = errors.New("object: unterminated string")
	ErrUnsupportedCommand = errors.New("object: unsupported command")
)

// Object is one parsed input: the command stream plus the trailing SCD
// debug-table bytes that follow the terminal End command.
type Object struct {
	Commands []Command
	ScdTail  []byte
}

type reader struct {
	buf []byte
	pos int
}

func (r *reader) remaining() int { return len(r.buf) - r.pos }

func (r *reader) readBytes(n int) ([]byte, error) {
	if n < 0 || r.remaining() < n {
		return nil, ErrUnexpectedEOF
	}
	b := r.buf[r.pos : r.pos+n]
	r.pos += n
	return b, nil
}

func (r *reader) readU16() (uint16, error) {
	b, err := r.readBytes(2)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint16(b), nil
}

func (r *reader) readU32() (uint32, error) {
	b, err := r.readBytes(4)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(b), nil
}

func (r *reader) alignEven() {
	if r.pos%2 != 0 && r.pos < len(r.buf) {
		r.pos++
	}
}

// readCStringEven reads a NUL-terminated string and consumes one extra
// pad byte if the terminator lands on an odd total (name+NUL) length.
func (r *reader) readCStringEven() (string, error) {
	start := r.pos
	for {
		if r.pos >= len(r.buf) {
			return "", ErrUnterminatedStr
		}
		if r.buf[r.pos] == 0 {
			break
		}
		r.pos++
	}
	name := string(r.buf[start:r.pos])
	r.pos++ // consume the NUL
	if (r.pos-start)%2 != 0 {
		if r.pos >= len(r.buf) {
			return "", ErrUnterminatedStr
		}
		r.pos++
	}
	return name, nil
}

// Parse decodes one HAS/HLK object byte stream. It stops at the first
// End command (code 0x0000); every following byte becomes ScdTail.
func Parse(data []byte) (*Object, error) {
	r := &reader{buf: data}
	var cmds []Command

	for {
		code, err := r.readU16()
		if err != nil {
			return nil, fmt.Errorf("reading command code at offset %d: %w", r.pos, err)
		}

		if code == 0x0000 {
			cmds = append(cmds, Command{Kind: End})
			break
		}

		hi := byte(code >> 8)
		lo := byte(code)

		switch {
		case code == 0x3000:
			size, err := r.readU32()
			if err != nil {
				return nil, err
			}
			cmds = append(cmds, Command{Kind: DefineSpace, Size: size})

		case code == 0xd000:
			size, err := r.readU32()
			if err != nil {
				return nil, err
			}
			name, err := r.readCStringEven()
			if err != nil {
				return nil, err
			}
			cmds = append(cmds, Command{Kind: SourceFile, Size: size, Name: name})

		case code == 0xe000:
			sec, err := r.readU16()
			if err != nil {
				return nil, err
			}
			addr, err := r.readU32()
			if err != nil {
				return nil, err
			}
			cmds = append(cmds, Command{Kind: StartAddress, Section: SectionKind(sec), Addr: addr})

		case code == 0xe001:
			name, err := r.readCStringEven()
			if err != nil {
				return nil, err
			}
			cmds = append(cmds, Command{Kind: Request, Name: name})

		case code == OpDoCtor || code == OpDoDtor:
			cmds = append(cmds, Command{Kind: Opaque, Code: code})

		case hi == 0x10:
			n := int(lo) + 1
			payload, err := r.readBytes(n)
			if err != nil {
				return nil, err
			}
			cp := make([]byte, len(payload))
			copy(cp, payload)
			cmds = append(cmds, Command{Kind: RawData, Data: cp})
			r.alignEven()

		case hi == 0x20:
			if _, err := r.readU32(); err != nil { // reserved, discarded
				return nil, err
			}
			cmds = append(cmds, Command{Kind: ChangeSection, Section: SectionKind(lo)})

		case hi == 0xc0:
			size, err := r.readU32()
			if err != nil {
				return nil, err
			}
			name, err := r.readCStringEven()
			if err != nil {
				return nil, err
			}
			cmds = append(cmds, Command{Kind: Header, Section: SectionKind(lo), Size: size, Name: name})

		case hi == 0xb2:
			value, err := r.readU32()
			if err != nil {
				return nil, err
			}
			name, err := r.readCStringEven()
			if err != nil {
				return nil, err
			}
			cmds = append(cmds, Command{Kind: DefineSymbol, Section: SectionKind(lo), Value: value, Name: name})

		case code == 0xb0ff:
			value, err := r.readU32()
			if err != nil {
				return nil, err
			}
			name, err := r.readCStringEven()
			if err != nil {
				return nil, err
			}
			cmds = append(cmds, Command{Kind: DefineSymbol, Section: Xref, Value: value, Name: name})

		default:
			n, ok := PayloadLen(code)
			if !ok {
				return nil, fmt.Errorf("command code 0x%04x at offset %d: %w", code, r.pos-2, ErrUnsupportedCommand)
			}
			payload, err := r.readBytes(n)
			if err != nil {
				return nil, err
			}
			cp := make([]byte, len(payload))
			copy(cp, payload)
			cmds = append(cmds, Command{Kind: Opaque, Code: code, Payload: cp})
		}
	}

	tail := make([]byte, r.remaining())
	copy(tail, r.buf[r.pos:])
	return &Object{Commands: cmds, ScdTail: tail}, nil
}
