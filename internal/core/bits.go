package core

import (
	"fmt"
	"strings"
)

const (
	extendedIDFlag = 1 << 31
	extendedIDMask = 0x1FFFFFFF
	standardIDMask = 0x7FF
)

// Extract reads an unsigned bit field from a frame payload.
//
// Little-endian (Intel) fields count bits upward from startBit, bit 0 being
// the least significant bit of byte 0. Big-endian (Motorola) fields name
// their most significant bit with startBit and continue towards the least
// significant bit of the following bytes, bit numbering inside a byte
// running from 7 (MSB) to 0.
//
// The bytes touched by the field must lie inside data, otherwise
// ErrOutOfRange is returned.
func Extract(data []byte, startBit, length uint, order ByteOrder) (uint64, error) {
	if length == 0 || length > 64 {
		return 0, fmt.Errorf("%w: length %d", ErrOutOfRange, length)
	}

	startByte := startBit / 8
	var endByte uint
	if order == BigEndian {
		invertedStart := startByte*8 + (7 - startBit%8)
		endBit := invertedStart + length - 1
		endByte = endBit/8 + 1
	} else {
		endByte = (startBit + length + 7) / 8
	}
	if endByte > uint(len(data)) {
		return 0, fmt.Errorf("%w: bits %d+%d need %d bytes, have %d",
			ErrOutOfRange, startBit, length, endByte, len(data))
	}

	var v uint64
	if order == BigEndian {
		// Walk the bytes MSB first from the start bit.
		pos := startByte*8 + (7 - startBit%8)
		for i := uint(0); i < length; i++ {
			p := pos + i
			bit := (data[p/8] >> (7 - p%8)) & 1
			v = v<<1 | uint64(bit)
		}
		return v, nil
	}

	for i := uint(0); i < length; i++ {
		p := startBit + i
		bit := (data[p/8] >> (p % 8)) & 1
		v |= uint64(bit) << i
	}
	return v, nil
}

// SignExtend reinterprets the low length bits of v as a two's complement number.
func SignExtend(v uint64, length uint) int64 {
	if length == 0 || length >= 64 {
		return int64(v)
	}
	signBit := uint64(1) << (length - 1)
	return int64(v&(signBit-1)) - int64(v&signBit)
}

// FormatMessageID splits a raw database or BLF identifier into its id value,
// extended flag and canonical hex form. Bit 31 marks extended ids.
func FormatMessageID(raw uint32) (uint32, bool, string) {
	if raw&extendedIDFlag != 0 {
		id := raw & extendedIDMask
		return id, true, fmt.Sprintf("0x%08X", id)
	}
	return raw, false, fmt.Sprintf("0x%03X", raw)
}

// HexID formats an id the way FormatMessageID does for a known extended flag.
func HexID(id uint32, extended bool) string {
	if extended {
		return fmt.Sprintf("0x%08X", id&extendedIDMask)
	}
	return fmt.Sprintf("0x%03X", id)
}

// MaskID re-masks an id to 29 bits for extended or 11 bits for standard frames.
func MaskID(id uint32, extended bool) uint32 {
	if extended {
		return id & extendedIDMask
	}
	return id & standardIDMask
}

// SanitizeUnits keeps printable ASCII plus the degree, ohm and micro signs.
func SanitizeUnits(units string) string {
	var b strings.Builder
	b.Grow(len(units))
	for _, r := range units {
		switch {
		case r >= 0x20 && r <= 0x7E:
			b.WriteRune(r)
		case r == '°', r == 'Ω', r == 'µ', r == 'μ':
			b.WriteRune(r)
		}
	}
	return b.String()
}

// fdLengths maps CAN FD length codes to payload sizes.
var fdLengths = [16]int{0, 1, 2, 3, 4, 5, 6, 7, 8, 12, 16, 20, 24, 32, 48, 64}

// DLCToLength maps a DLC code to its payload length, following the CAN FD table.
func DLCToLength(dlc uint8) int {
	if int(dlc) >= len(fdLengths) {
		return 64
	}
	return fdLengths[dlc]
}

// LengthToDLC returns the smallest DLC code able to carry n bytes.
func LengthToDLC(n int) uint8 {
	for code, l := range fdLengths {
		if n <= l {
			return uint8(code)
		}
	}
	return 15
}
