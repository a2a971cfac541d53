package core

import (
	"strconv"
	"strings"
)

// CellKind discriminates the value held by a Cell.
type CellKind uint8

const (
	CellEmpty CellKind = iota
	CellNumber
	CellText
)

// Cell is one value of a source sheet.
type Cell struct {
	Kind   CellKind
	Number float64
	Text   string
}

// NumberCell returns a numeric cell.
func NumberCell(v float64) Cell {
	return Cell{Kind: CellNumber, Number: v}
}

// TextCell returns a text cell, or an empty cell for "".
func TextCell(s string) Cell {
	if s == "" {
		return Cell{}
	}
	return Cell{Kind: CellText, Text: s}
}

// IsBlank reports whether the cell is empty or whitespace-only text.
func (c Cell) IsBlank() bool {
	switch c.Kind {
	case CellEmpty:
		return true
	case CellText:
		return strings.TrimSpace(c.Text) == ""
	default:
		return false
	}
}

// String renders the cell as trimmed text. Whole numbers print without a
// fractional part so that numeric codes keep their published form.
func (c Cell) String() string {
	switch c.Kind {
	case CellNumber:
		return strconv.FormatFloat(c.Number, 'f', -1, 64)
	case CellText:
		return strings.TrimSpace(c.Text)
	default:
		return ""
	}
}

// CellGrid is a rectangular view of one sheet. The first HeaderRows rows
// are headers; everything after is data. Name identifies the sheet in errors.
//
// Data rows are laid out as
//
//	[fixed columns][total column][identifier, quantity][identifier, quantity]...
type CellGrid struct {
	Name       string
	HeaderRows int
	Rows       [][]Cell
}

// Width returns the widest row length.
func (g CellGrid) Width() int {
	w := 0
	for _, row := range g.Rows {
		if len(row) > w {
			w = len(row)
		}
	}
	return w
}

// DataRows returns the rows after the header.
func (g CellGrid) DataRows() [][]Cell {
	if g.HeaderRows >= len(g.Rows) {
		return nil
	}
	return g.Rows[g.HeaderRows:]
}

// At returns the cell at (row, col) counted from the first data row.
// Ragged rows read as Empty past their end.
func (g CellGrid) At(row, col int) Cell {
	rows := g.DataRows()
	if row < 0 || row >= len(rows) || col < 0 || col >= len(rows[row]) {
		return Cell{}
	}
	return rows[row][col]
}
