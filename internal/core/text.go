package core

// text.go normalises text inputs (DBC, SYM, ASC, TRC) before tokenising.
//
// Vendor tools write these files either as UTF-8 (sometimes with a BOM) or
// as Windows-1252, which is where unit strings such as "°C" come from.
// NormalizeText returns UTF-8 in both cases.

import (
	"bytes"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// NormalizeText strips a UTF-8 BOM and decodes non-UTF-8 input as Windows-1252.
func NormalizeText(data []byte) string {
	data = bytes.TrimPrefix(data, utf8BOM)
	if utf8.Valid(data) {
		return string(data)
	}
	decoded, err := charmap.Windows1252.NewDecoder().Bytes(data)
	if err != nil {
		// Windows-1252 maps every byte, so this only guards future charmaps.
		return strings.ToValidUTF8(string(data), "?")
	}
	return string(decoded)
}

// Lines splits normalised text into lines without their line terminators.
func Lines(data []byte) []string {
	text := NormalizeText(data)
	lines := strings.Split(text, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimSuffix(line, "\r")
	}
	return lines
}
