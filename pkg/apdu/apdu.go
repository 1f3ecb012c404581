// Package apdu implements ISO/IEC 7816-4 Application Protocol Data Unit
// framing: encoding a Command into its short- or extended-length wire form,
// and decoding a Response's trailing status word from the bytes a card
// returns. It also carries the richer CLA/INS/SW decodings (Class,
// Instruction, StatusWord) and the T=0 GET RESPONSE/wrong-length retry
// logic (Client) that a full ISO/IEC 7816 stack needs.
package apdu

import (
	"bytes"
	"fmt"
)

// APDU Limits and Constants according to ISO 7816-3.
const (
	// MaxShortLc is the maximum data length (Nc) encodable in Short Length mode (1 byte).
	MaxShortLc = 255

	// MaxShortLe is the maximum expected response length (Ne) encodable in Short Length mode.
	// In Short mode, 0x00 encodes 256.
	MaxShortLe = 256

	// MaxExtendedLc is the theoretical limit for Lc in Extended mode (16-bit unsigned).
	MaxExtendedLc = 65535

	// MaxExtendedLe is the maximum Ne encodable in Extended Length mode.
	// In Extended mode, 0x0000 encodes 65536.
	MaxExtendedLe = 65536
)

// Command represents a command APDU (C-APDU): the mandatory header
// (cla, ins, p1, p2), an optional data payload, and an optional expected
// response length (Le). A Le of 0 means "no response expected"; requesting
// 256 (short) or 65536 (extended) bytes back is spelled out explicitly,
// never as 0, per ISO/IEC 7816-3.
type Command struct {
	Class       Class
	Instruction Instruction
	P1, P2      byte
	Data        []byte
	Le          int
}

// NewCommand builds a Command from its parts.
func NewCommand(cla Class, ins Instruction, p1, p2 byte, data []byte, le int) *Command {
	return &Command{
		Class:       cla,
		Instruction: ins,
		P1:          p1,
		P2:          p2,
		Data:        data,
		Le:          le,
	}
}

// Bytes encodes the Command into its wire form, selecting between the
// short and extended encodings per ISO/IEC 7816-3:
//
//	Case 1:   no data, no Le             -> CLA INS P1 P2
//	Case 2S:  no data, Le<=256           -> CLA INS P1 P2 Le
//	Case 3S:  data<=255, no Le           -> CLA INS P1 P2 Lc data
//	Case 4S:  data<=255, Le<=256         -> CLA INS P1 P2 Lc data Le
//	Extended: data>255 or Le>256         -> CLA INS P1 P2 00 LcHi LcLo data [LeHi LeLo]
func (c *Command) Bytes() ([]byte, error) {
	buf := new(bytes.Buffer)

	class, err := c.Class.Encode()
	if err != nil {
		return nil, fmt.Errorf("failed to encode Class: %w", err)
	}
	buf.WriteByte(class)
	buf.WriteByte(byte(c.Instruction.Raw))
	buf.WriteByte(c.P1)
	buf.WriteByte(c.P2)

	nc := len(c.Data)
	ne := c.Le

	isExtended := nc > MaxShortLc || ne > MaxShortLe

	if nc > 0 {
		if !isExtended {
			buf.WriteByte(byte(nc))
		} else {
			buf.WriteByte(0x00)
			buf.WriteByte(byte(nc >> 8))
			buf.WriteByte(byte(nc))
		}
		buf.Write(c.Data)
	}

	if ne > 0 {
		if !isExtended {
			if ne == MaxShortLe {
				buf.WriteByte(0x00) // 0x00 represents 256
			} else {
				buf.WriteByte(byte(ne))
			}
		} else {
			// If Lc was absent, a leading 00 distinguishes Le from Lc.
			if nc == 0 {
				buf.WriteByte(0x00)
			}

			if ne == MaxExtendedLe {
				buf.WriteByte(0x00)
				buf.WriteByte(0x00)
			} else {
				buf.WriteByte(byte(ne >> 8))
				buf.WriteByte(byte(ne))
			}
		}
	}

	return buf.Bytes(), nil
}

// DecodeCommand inverts Bytes(): it recovers (cla, ins, p1, p2, data, le)
// from a command APDU's wire form, selecting the same short/extended case
// Bytes would have used to produce raw. A leading 0x00 immediately after
// P1/P2 is unambiguous as the extended-mode marker, since short-mode Lc is
// never zero (a zero-length data field never writes an Lc byte at all).
func DecodeCommand(raw []byte) (*Command, error) {
	if len(raw) < 4 {
		return nil, fmt.Errorf("command too short: length %d", len(raw))
	}

	class, err := NewClass(raw[0])
	if err != nil {
		return nil, fmt.Errorf("failed to decode CLA: %w", err)
	}
	ins, err := NewInstruction(InsCode(raw[1]))
	if err != nil {
		return nil, fmt.Errorf("failed to decode INS: %w", err)
	}
	p1, p2 := raw[2], raw[3]
	tail := raw[4:]

	switch {
	case len(tail) == 0:
		// Case 1: no data, no Le.
		return &Command{Class: class, Instruction: ins, P1: p1, P2: p2}, nil

	case len(tail) == 1:
		// Case 2S: no data, short Le.
		return &Command{Class: class, Instruction: ins, P1: p1, P2: p2, Le: decodeShortLe(tail[0])}, nil

	case tail[0] == 0x00:
		// Extended encoding (or the nc==0, extended-Le-only case).
		if len(tail) < 3 {
			return nil, fmt.Errorf("malformed extended command: length %d", len(tail))
		}
		if len(tail) == 3 {
			return &Command{
				Class: class, Instruction: ins, P1: p1, P2: p2,
				Le: decodeExtendedLe(tail[1], tail[2]),
			}, nil
		}

		nc := int(tail[1])<<8 | int(tail[2])
		dataStart := 3
		dataEnd := dataStart + nc
		if dataEnd > len(tail) {
			return nil, fmt.Errorf("malformed extended command: Lc %d exceeds remaining %d bytes", nc, len(tail)-dataStart)
		}
		data := tail[dataStart:dataEnd]
		rest := tail[dataEnd:]

		cmd := &Command{Class: class, Instruction: ins, P1: p1, P2: p2, Data: data}
		switch len(rest) {
		case 0:
			// Le absent.
		case 2:
			cmd.Le = decodeExtendedLe(rest[0], rest[1])
		default:
			return nil, fmt.Errorf("malformed extended command: %d trailing bytes after data", len(rest))
		}
		return cmd, nil

	default:
		// Case 3S/4S: short Lc, data, optional short Le.
		nc := int(tail[0])
		dataStart := 1
		dataEnd := dataStart + nc
		if dataEnd > len(tail) {
			return nil, fmt.Errorf("malformed short command: Lc %d exceeds remaining %d bytes", nc, len(tail)-dataStart)
		}
		data := tail[dataStart:dataEnd]
		rest := tail[dataEnd:]

		cmd := &Command{Class: class, Instruction: ins, P1: p1, P2: p2, Data: data}
		switch len(rest) {
		case 0:
			// Le absent.
		case 1:
			cmd.Le = decodeShortLe(rest[0])
		default:
			return nil, fmt.Errorf("malformed short command: %d trailing bytes after data", len(rest))
		}
		return cmd, nil
	}
}

// decodeShortLe inverts the short-mode Le encoding, where 0x00 means 256.
func decodeShortLe(b byte) int {
	if b == 0 {
		return MaxShortLe
	}
	return int(b)
}

// decodeExtendedLe inverts the extended-mode 2-byte Le encoding, where
// 0x0000 means 65536.
func decodeExtendedLe(hi, lo byte) int {
	if hi == 0 && lo == 0 {
		return MaxExtendedLe
	}
	return int(hi)<<8 | int(lo)
}

// String returns a readable one-line representation of the command header.
func (c *Command) String() string {
	return fmt.Sprintf("%s | P1: %02X, P2: %02X | Lc: %d | Le: %d",
		c.Instruction.Verbose(), c.P1, c.P2, len(c.Data), c.Le)
}

// Response represents the reply from the card (R-APDU): a data payload
// followed by two trailing status bytes.
type Response struct {
	Data   []byte
	Status StatusWord
}

// ParseResponse splits raw bytes received from the card into data and the
// trailing SW1/SW2. Inputs shorter than 2 bytes are rejected.
func ParseResponse(raw []byte) (*Response, error) {
	if len(raw) < 2 {
		return nil, fmt.Errorf("response too short: length %d", len(raw))
	}

	indexSW1 := len(raw) - 2
	data := raw[:indexSW1]
	sw1 := raw[indexSW1]
	sw2 := raw[indexSW1+1]

	return &Response{
		Data:   data,
		Status: NewStatusWord(sw1, sw2),
	}, nil
}

// String returns a readable representation of the response.
func (r *Response) String() string {
	return fmt.Sprintf("Data (%d bytes) | Status: %s", len(r.Data), r.Status.Verbose())
}
