// Package gcodeline scans G-code lines into words and synthesizes the
// small set of outgoing lines the engine needs to emit (G0/G1 moves,
// G10 offset sets, G28.2/G28.3 homing). It is a generalization of the
// teacher firmware's standalone/gcode/parser.go character-by-character
// scanner: that parser recognized a single leading G/M/T command plus
// trailing letter/value parameters for a 3D-printer VM; this one treats
// every letter/value pair uniformly (a G-code line may carry several
// G-words, e.g. "G90 G0 X10 Y5"), which the modal "don't overwrite"
// rule in the machine package needs.
package gcodeline

import (
	"strconv"
	"strings"
)

// Word is one letter/value pair out of a G-code line, e.g. X10.5 or G1.
type Word struct {
	Letter byte // always uppercase
	Value  float64
}

// Line is a scanned G-code line.
type Line struct {
	Words   []Word
	Comment string
}

// HasLetter reports whether the line contains a word with the given
// uppercase letter.
func (l *Line) HasLetter(letter byte) bool {
	for _, w := range l.Words {
		if w.Letter == letter {
			return true
		}
	}
	return false
}

// Value returns the value of the first word with the given letter and
// whether it was present.
func (l *Line) Value(letter byte) (float64, bool) {
	for _, w := range l.Words {
		if w.Letter == letter {
			return w.Value, true
		}
	}
	return 0, false
}

// GWords returns every "G<number>" value present on the line, in
// order, as parsed from consecutive G letter/value pairs.
func (l *Line) GWords() []float64 {
	var out []float64
	for _, w := range l.Words {
		if w.Letter == 'G' {
			out = append(out, w.Value)
		}
	}
	return out
}

// MWords returns every "M<number>" value present on the line.
func (l *Line) MWords() []float64 {
	var out []float64
	for _, w := range l.Words {
		if w.Letter == 'M' {
			out = append(out, w.Value)
		}
	}
	return out
}

// ParseLine scans one line of G-code text into letter/value words,
// skipping whitespace and treating ';' or '(' as the start of a
// trailing comment, exactly as the teacher scanner does.
func ParseLine(line string) *Line {
	l := &Line{}
	i := 0
	n := len(line)

	for i < n {
		for i < n && (line[i] == ' ' || line[i] == '\t') {
			i++
		}
		if i >= n {
			break
		}
		if line[i] == ';' || line[i] == '(' {
			l.Comment = line[i:]
			break
		}
		if !isLetter(line[i]) {
			i++
			continue
		}
		letter := toUpper(line[i])
		i++
		value, newPos := parseFloat(line, i)
		if newPos > i {
			l.Words = append(l.Words, Word{Letter: letter, Value: value})
			i = newPos
		}
	}

	return l
}

func isLetter(c byte) bool {
	return (c >= 'A' && c <= 'Z') || (c >= 'a' && c <= 'z')
}

func toUpper(c byte) byte {
	if c >= 'a' && c <= 'z' {
		return c - ('a' - 'A')
	}
	return c
}

// parseFloat parses a floating-point number (with optional leading
// sign) from s starting at pos, returning the value and the position
// just past it. If no digits are found, newPos == pos.
func parseFloat(s string, pos int) (float64, int) {
	if pos >= len(s) {
		return 0, pos
	}

	origPos := pos
	negative := false
	if s[pos] == '-' {
		negative = true
		pos++
	} else if s[pos] == '+' {
		pos++
	}

	start := pos
	intPart := 0.0
	fracPart := 0.0
	fracDigits := 0

	for pos < len(s) && s[pos] >= '0' && s[pos] <= '9' {
		intPart = intPart*10 + float64(s[pos]-'0')
		pos++
	}

	if pos < len(s) && s[pos] == '.' {
		pos++
		fracStart := pos
		for pos < len(s) && s[pos] >= '0' && s[pos] <= '9' {
			fracPart = fracPart*10.0 + float64(s[pos]-'0')
			pos++
		}
		fracDigits = pos - fracStart
	}

	if pos == start {
		return 0, origPos
	}

	value := intPart
	if fracDigits > 0 {
		divisor := 1.0
		for i := 0; i < fracDigits; i++ {
			divisor *= 10.0
		}
		value += fracPart / divisor
	}
	if negative {
		value = -value
	}

	return value, pos
}

// AxisWord pairs an axis letter with a commanded value, used by the
// Format* helpers below to build outgoing move/home lines.
type AxisWord struct {
	Axis  byte
	Value float64
}

// FormatMove synthesizes a "G0"/"G1" line moving the given axes,
// optionally with a feed rate. rapid selects G0 (no feed word) over G1.
func FormatMove(axes []AxisWord, feed float64, rapid bool) string {
	var b strings.Builder
	if rapid {
		b.WriteString("G0")
	} else {
		b.WriteString("G1")
	}
	for _, a := range axes {
		b.WriteByte(' ')
		b.WriteByte(a.Axis)
		b.WriteString(formatNumber(a.Value))
	}
	if !rapid && feed > 0 {
		b.WriteString(" F")
		b.WriteString(formatNumber(feed))
	}
	return b.String()
}

// FormatHomeGRBL synthesizes GRBL's "$H" homing command. GRBL homes
// all configured axes at once; a nil/empty axes argument is the only
// supported form.
func FormatHomeGRBL() string {
	return "$H"
}

// FormatHomeTinyG synthesizes TinyG's "G28.2" homing command for the
// given axes.
func FormatHomeTinyG(axisLetters []byte) string {
	var b strings.Builder
	b.WriteString("G28.2")
	for _, a := range axisLetters {
		b.WriteByte(' ')
		b.WriteByte(a)
		b.WriteByte('0')
	}
	return b.String()
}

// FormatProbe synthesizes a "G38.2" probe-toward command.
func FormatProbe(axis byte, target, feed float64) string {
	var b strings.Builder
	b.WriteString("G38.2 ")
	b.WriteByte(axis)
	b.WriteString(formatNumber(target))
	b.WriteString(" F")
	b.WriteString(formatNumber(feed))
	return b.String()
}

// FormatOffsetSet synthesizes a "G10 L2 P<n>" (or TinyG's "G10 L20
// P<n>") coordinate-system offset set for the given axes.
func FormatOffsetSet(l int, coordSys int, axes []AxisWord) string {
	var b strings.Builder
	b.WriteString("G10 L")
	b.WriteString(formatNumber(float64(l)))
	b.WriteString(" P")
	b.WriteString(formatNumber(float64(coordSys)))
	for _, a := range axes {
		b.WriteByte(' ')
		b.WriteByte(a.Axis)
		b.WriteString(formatNumber(a.Value))
	}
	return b.String()
}

// formatNumber trims trailing zeros the way the controller expects on
// the wire, same convention as codec's TinyG float formatting.
func formatNumber(v float64) string {
	s := strconv.FormatFloat(v, 'f', 4, 64)
	if strings.Contains(s, ".") {
		s = strings.TrimRight(s, "0")
		s = strings.TrimSuffix(s, ".")
	}
	if s == "" || s == "-" {
		return "0"
	}
	return s
}
