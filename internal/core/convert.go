package core

// convert.go turns published cell text into typed values.
//
// Published sheets are inconsistent about full-width characters: digits,
// commas and parentheses appear in both widths depending on round and
// dosage form. Everything is folded to half-width before parsing.

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"

	"golang.org/x/text/width"
)

// numericRegex validates that a string is a valid numeric format after cleanup.
// Matches integers, decimals, and scientific notation.
var numericRegex = regexp.MustCompile(`^[+-]?(\d+(\.\d*)?|\.\d+)([eE][+-]?\d+)?$`)

// HeaderIndex maps folded header text to column position.
type HeaderIndex map[string]int

// ParseNumber parses numeric text such as "1,234.5" or "１２３４".
func ParseNumber(s string) (float64, error) {
	s = width.Fold.String(CleanCell(s))
	s = strings.ReplaceAll(s, ",", "")
	s = strings.TrimSpace(s)

	if !numericRegex.MatchString(s) {
		return 0, fmt.Errorf("invalid number %q", s)
	}

	v, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsInf(v, 0) || math.IsNaN(v) {
		return 0, fmt.Errorf("invalid number %q", s)
	}
	return v, nil
}

// CellFloat returns the numeric value of a number cell or numeric text.
func CellFloat(c Cell) (float64, error) {
	switch c.Kind {
	case CellNumber:
		if math.IsInf(c.Number, 0) || math.IsNaN(c.Number) {
			return 0, fmt.Errorf("invalid number %v", c.Number)
		}
		return c.Number, nil
	case CellText:
		return ParseNumber(c.Text)
	default:
		return 0, fmt.Errorf("empty cell")
	}
}

// CellCode renders a code cell as text. Numeric codes keep their digits;
// text codes are folded to half-width.
func CellCode(c Cell) string {
	if c.Kind == CellText {
		return width.Fold.String(CleanCell(c.Text))
	}
	return c.String()
}

// MakeHeaderIndex creates a HeaderIndex from a header row.
// Keys are folded with FoldKey so width and spacing differences match.
func MakeHeaderIndex(header []string) HeaderIndex {
	idx := make(HeaderIndex, len(header))
	for i, h := range header {
		key := FoldKey(CleanCell(h))
		if _, dup := idx[key]; !dup {
			idx[key] = i
		}
	}
	return idx
}

// CleanCell removes common spreadsheet artifacts from a cell value:
// - Trims whitespace (including the ideographic space)
// - Removes Excel formula prefix (="...")
// - Removes surrounding quotes
func CleanCell(s string) string {
	s = strings.TrimSpace(s)

	if strings.HasPrefix(s, "=\"") && strings.HasSuffix(s, "\"") {
		s = s[2 : len(s)-1]
	} else if strings.HasPrefix(s, "=") {
		s = s[1:]
	}

	return strings.Trim(s, `"'`)
}
