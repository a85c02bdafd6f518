package mapper

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"

	"go.lsp.dev/protocol"
)

// utf16RuneLen mirrors unicode/utf16.RuneLen, which requires Go 1.23+.
func utf16RuneLen(r rune) int {
	switch {
	case 0 <= r && r < 0xD800, 0xE000 <= r && r < 0x10000:
		return 1
	case 0x10000 <= r && r <= unicode.MaxRune:
		return 2
	default:
		return -1
	}
}

// PositionToOffset converts a protocol (UTF-16 column) position into a byte
// offset within text. Positions addressing the line just past the final
// newline resolve to end of text, matching client behavior for appends.
func PositionToOffset(text string, p protocol.Position) (int, error) {
	offset := 0
	rest := text
	for line := uint32(0); line < p.Line; line++ {
		idx := strings.IndexByte(rest, '\n')
		if idx < 0 {
			if p.Character == 0 {
				return len(text), nil
			}
			return 0, fmt.Errorf("line %d out of range", p.Line)
		}
		offset += idx + 1
		rest = rest[idx+1:]
	}

	col16 := int(p.Character)
	for col16 > 0 {
		if len(rest) == 0 {
			return offset, nil
		}
		r, sz := utf8.DecodeRuneInString(rest)
		if r == '\n' {
			return 0, fmt.Errorf("column %d is beyond end of line", p.Character)
		}
		col16 -= utf16RuneLen(r)
		offset += sz
		rest = rest[sz:]
	}
	return offset, nil
}

// OffsetToPosition converts a byte offset within text into a protocol
// (UTF-16 column) position.
func OffsetToPosition(text string, offset int) (protocol.Position, error) {
	if offset < 0 || offset > len(text) {
		return protocol.Position{}, fmt.Errorf("offset %d out of range 0-%d", offset, len(text))
	}

	before := text[:offset]
	line := strings.Count(before, "\n")
	lineStart := strings.LastIndexByte(before, '\n') + 1

	col16 := 0
	for _, r := range before[lineStart:] {
		col16 += utf16RuneLen(r)
	}
	return protocol.Position{Line: uint32(line), Character: uint32(col16)}, nil
}
