package central

import (
	"bytes"
	"encoding/json"
	"unicode/utf8"

	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// DecodePayload interprets a notification value as UTF-8 text holding one
// JSON document. Each ill-formed UTF-8 sequence is replaced with U+FFFD
// before parsing. A top-level object keeps its key order.
func DecodePayload(data []byte) (any, error) {
	text := toValidUTF8(data)

	if trimmed := bytes.TrimSpace(text); len(trimmed) > 0 && trimmed[0] == '{' {
		om := orderedmap.New[string, any]()
		if err := json.Unmarshal(trimmed, om); err != nil {
			return nil, err
		}
		return om, nil
	}

	var v any
	if err := json.Unmarshal(text, &v); err != nil {
		return nil, err
	}
	return v, nil
}

// toValidUTF8 substitutes one U+FFFD per maximal ill-formed subpart, so
// "\xff\xfe" yields two replacements while a truncated "\xe2\x82" yields one.
func toValidUTF8(b []byte) []byte {
	if utf8.Valid(b) {
		return b
	}
	out := make([]byte, 0, len(b)+utf8.UTFMax)
	for len(b) > 0 {
		r, size := utf8.DecodeRune(b)
		if r == utf8.RuneError && size == 1 {
			out = utf8.AppendRune(out, utf8.RuneError)
			b = b[maximalSubpart(b):]
			continue
		}
		out = append(out, b[:size]...)
		b = b[size:]
	}
	return out
}

// maximalSubpart returns the length of the longest prefix of b that starts a
// well-formed sequence, or 1 when b[0] cannot start one.
func maximalSubpart(b []byte) int {
	lo, hi := byte(0x80), byte(0xBF)
	var need int
	switch c := b[0]; {
	case c >= 0xC2 && c <= 0xDF:
		need = 1
	case c == 0xE0:
		need, lo = 2, 0xA0
	case c == 0xED:
		need, hi = 2, 0x9F
	case c >= 0xE1 && c <= 0xEF:
		need = 2
	case c == 0xF0:
		need, lo = 3, 0x90
	case c == 0xF4:
		need, hi = 3, 0x8F
	case c >= 0xF1 && c <= 0xF3:
		need = 3
	default:
		return 1
	}

	n := 1
	for n <= need && n < len(b) && b[n] >= lo && b[n] <= hi {
		lo, hi = 0x80, 0xBF
		n++
	}
	return n
}
