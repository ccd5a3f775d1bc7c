package formats

import (
	"strconv"
	"strings"
)

// parseUint parses an unsigned token in the given base, accepting an
// optional 0x prefix for hex.
func parseUint(tok string, base int) (uint64, bool) {
	if base == 16 {
		tok = strings.TrimPrefix(strings.TrimPrefix(tok, "0x"), "0X")
	}
	v, err := strconv.ParseUint(tok, base, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

// parseBytes reads up to n payload bytes from toks. Parsing stops at the
// first token that is not a byte.
func parseBytes(toks []string, n, base int) []byte {
	if n > len(toks) {
		n = len(toks)
	}
	out := make([]byte, 0, n)
	for _, tok := range toks[:n] {
		v, err := strconv.ParseUint(tok, base, 8)
		if err != nil {
			break
		}
		out = append(out, byte(v))
	}
	return out
}

func parseFloat(tok string) (float64, bool) {
	v, err := strconv.ParseFloat(tok, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}
