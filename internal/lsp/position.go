package lsp

import (
	"strings"
	"unicode/utf16"
	"unicode/utf8"

	protocol "github.com/tliron/glsp/protocol_3_16"

	"github.com/samvidmistry/Armls"
)

// line returns row n of text without its newline, or "" past the end.
func line(text string, n uint32) string {
	for i := uint32(0); i < n; i++ {
		idx := strings.IndexByte(text, '\n')
		if idx < 0 {
			return ""
		}
		text = text[idx+1:]
	}
	if idx := strings.IndexByte(text, '\n'); idx >= 0 {
		return text[:idx]
	}
	return text
}

// toPoint converts an editor position (UTF-16 code units) into a tree
// position (bytes). Characters past the end of the line clamp to it.
func toPoint(text string, pos protocol.Position) armls.Point {
	l := line(text, pos.Line)
	var units uint32
	col := 0
	for col < len(l) && units < pos.Character {
		r, size := utf8.DecodeRuneInString(l[col:])
		units += unitLen(r)
		col += size
	}
	return armls.Point{Row: pos.Line, Column: uint32(col)}
}

// toPosition converts a tree position (bytes) into an editor position
// (UTF-16 code units).
func toPosition(text string, p armls.Point) protocol.Position {
	l := line(text, p.Row)
	end := min(int(p.Column), len(l))
	var units uint32
	for _, r := range l[:end] {
		units += unitLen(r)
	}
	// Columns past the line (a trailing newline) stay as reported.
	if int(p.Column) > len(l) {
		units += p.Column - uint32(len(l))
	}
	return protocol.Position{Line: p.Row, Character: units}
}

// unitLen is the UTF-16 length of r; invalid bytes count as one unit.
func unitLen(r rune) uint32 {
	if n := utf16.RuneLen(r); n > 0 {
		return uint32(n)
	}
	return 1
}

func toRange(text string, r armls.Range) protocol.Range {
	return protocol.Range{Start: toPosition(text, r.Start), End: toPosition(text, r.End)}
}
