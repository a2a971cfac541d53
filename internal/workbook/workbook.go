// Package workbook turns published NDB spreadsheets into core.CellGrid values.
//
// Published sheets carry a title block, then two header rows: the first
// holds the fixed column labels, 総計 and the upper category level (sex,
// or prefecture code), the second holds the lower level (age bracket, or
// prefecture name). Each category is a single quantity column. Read folds
// every category column into the identifier+quantity pair the transformer
// expects, with the identifier text built from both header levels:
//
//	薬効分類 ... 後発品区分 | 総計 | 男性 0～4歳 | 4757.2 | 男性 5～9歳 | - | ...
package workbook

import (
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"github.com/JonMunkholm/ndbmedicine/internal/core"
	"github.com/xuri/excelize/v2"
)

// Sheet is one data sheet of a workbook.
type Sheet struct {
	Name string

	// CareSetting is read from the sheet name, e.g. "外来 (院内)". It is
	// CareSettingUnknown when the name does not carry one.
	CareSetting core.CareSetting

	Grid core.CellGrid
}

// headerSearchRows bounds how far down the header row is looked for.
const headerSearchRows = 10

// Column headers of the folded block pair.
const (
	IdentifierHeader = "集計単位"
	QuantityHeader   = "処方数量"
)

// Read parses every sheet of an xlsx workbook. Sheets without a header row
// and without a care setting in their name (notes, cover sheets) are
// skipped. name identifies the workbook in errors.
func Read(r io.Reader, name string) ([]Sheet, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, core.Mismatch(name, -1, -1, "open workbook: %v", err)
	}
	defer f.Close()

	var sheets []Sheet
	for _, sheetName := range f.GetSheetList() {
		raw, err := f.GetRows(sheetName, excelize.Options{RawCellValue: true})
		if err != nil {
			return nil, core.Mismatch(name, -1, -1, "read sheet %s: %v", sheetName, err)
		}
		merges, err := f.GetMergeCells(sheetName)
		if err != nil {
			return nil, core.Mismatch(name, -1, -1, "read merged cells of %s: %v", sheetName, err)
		}

		sheet, ok, err := buildSheet(name, sheetName, raw, func(h int) error {
			return applyMerges(raw, merges, h, h+1)
		})
		if err != nil {
			return nil, err
		}
		if ok {
			sheets = append(sheets, sheet)
		}
	}

	if len(sheets) == 0 {
		return nil, core.Mismatch(name, -1, -1, "no data sheets")
	}
	return sheets, nil
}

// buildSheet locates the header of one sheet and folds it. prepare runs
// once the header row is known.
func buildSheet(book, sheetName string, raw [][]string, prepare func(header int) error) (Sheet, bool, error) {
	source := book
	if sheetName != "" {
		source = book + "/" + sheetName
	}
	care := core.FindCareSetting(sheetName)

	h := findHeader(raw)
	if h < 0 {
		if care != core.CareSettingUnknown {
			return Sheet{}, false, core.Mismatch(source, -1, -1, "header row %q not found in the first %d rows",
				core.ColClassCode.Label(), headerSearchRows)
		}
		return Sheet{}, false, nil
	}
	if prepare != nil {
		if err := prepare(h); err != nil {
			return Sheet{}, false, core.Mismatch(source, -1, -1, "%v", err)
		}
	}

	grid, err := fold(source, raw, h)
	if err != nil {
		return Sheet{}, false, err
	}
	return Sheet{Name: sheetName, CareSetting: care, Grid: grid}, true, nil
}

func findHeader(raw [][]string) int {
	anchor := core.FoldKey(core.ColClassCode.Label())
	for i := 0; i < len(raw) && i < headerSearchRows; i++ {
		for _, v := range raw[i] {
			if core.FoldKey(v) == anchor {
				return i
			}
		}
	}
	return -1
}

// applyMerges copies the value of each merged range into every cell it
// covers, limited to rows first..last (zero-based).
func applyMerges(raw [][]string, merges []excelize.MergeCell, first, last int) error {
	for _, m := range merges {
		c0, r0, err := excelize.CellNameToCoordinates(m.GetStartAxis())
		if err != nil {
			return err
		}
		c1, r1, err := excelize.CellNameToCoordinates(m.GetEndAxis())
		if err != nil {
			return err
		}
		value := m.GetCellValue()
		for r := max(r0-1, first); r <= min(r1-1, last) && r < len(raw); r++ {
			for c := c0 - 1; c <= c1-1; c++ {
				for len(raw[r]) <= c {
					raw[r] = append(raw[r], "")
				}
				if strings.TrimSpace(raw[r][c]) == "" {
					raw[r][c] = value
				}
			}
		}
	}
	return nil
}

// fold builds the canonical grid from the two header rows starting at h.
func fold(source string, raw [][]string, h int) (core.CellGrid, error) {
	upper, lower := rowAt(raw, h), rowAt(raw, h+1)
	width := max(lastNonBlank(upper), lastNonBlank(lower)) + 1

	label := func(j int) string {
		if v := strings.TrimSpace(at(upper, j)); v != "" {
			return v
		}
		return strings.TrimSpace(at(lower, j))
	}

	total := -1
	for j := 0; j < width; j++ {
		if core.FoldKey(label(j)) == core.TotalLabel {
			total = j
			break
		}
	}
	if total < 0 {
		return core.CellGrid{}, core.Mismatch(source, -1, -1, "no %s column in the header", core.TotalLabel)
	}

	header := make([]core.Cell, 0, total+1+2*(width-total-1))
	for j := 0; j <= total; j++ {
		header = append(header, core.TextCell(label(j)))
	}

	ids := make([]core.Cell, width)
	var carry string
	for j := total + 1; j < width; j++ {
		if v := strings.TrimSpace(at(upper, j)); v != "" {
			carry = v
		}
		id := strings.TrimSpace(strings.Join([]string{carry, strings.TrimSpace(at(lower, j))}, " "))
		if id == "" {
			return core.CellGrid{}, core.Mismatch(source, -1, j, "category column without a header")
		}
		ids[j] = core.TextCell(id)
		header = append(header, core.TextCell(IdentifierHeader), core.TextCell(QuantityHeader))
	}

	rows := [][]core.Cell{header}
	for i := h + 2; i < len(raw); i++ {
		src := raw[i]
		if j := lastNonBlank(src); j >= width {
			return core.CellGrid{}, core.Mismatch(source, i-h-2, j, "value beyond the last header column")
		}
		if lastNonBlank(src) < 0 {
			rows = append(rows, nil)
			continue
		}

		row := make([]core.Cell, 0, len(header))
		for j := 0; j <= total; j++ {
			row = append(row, ParseCell(at(src, j)))
		}
		for j := total + 1; j < width; j++ {
			row = append(row, ids[j], ParseCell(at(src, j)))
		}
		rows = append(rows, row)
	}

	return core.CellGrid{Name: source, HeaderRows: 1, Rows: rows}, nil
}

// ParseCell types a raw cell value. Numeric text becomes a number unless it
// has a leading zero, which marks a code.
func ParseCell(s string) core.Cell {
	s = strings.TrimSpace(s)
	if s == "" {
		return core.Cell{}
	}
	if len(s) > 1 && s[0] == '0' && s[1] != '.' {
		return core.TextCell(s)
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsInf(v, 0) || math.IsNaN(v) {
		return core.TextCell(s)
	}
	return core.NumberCell(v)
}

func rowAt(raw [][]string, i int) []string {
	if i < len(raw) {
		return raw[i]
	}
	return nil
}

func at(row []string, j int) string {
	if j < len(row) {
		return row[j]
	}
	return ""
}

func lastNonBlank(row []string) int {
	for j := len(row) - 1; j >= 0; j-- {
		if strings.TrimSpace(row[j]) != "" {
			return j
		}
	}
	return -1
}

// SheetFor returns the sheet holding care, falling back to fallback for
// sheets whose name carries no care setting.
func SheetFor(sheets []Sheet, care, fallback core.CareSetting) (Sheet, error) {
	for _, s := range sheets {
		got := s.CareSetting
		if got == core.CareSettingUnknown {
			got = fallback
		}
		if got == care {
			return s, nil
		}
	}
	return Sheet{}, fmt.Errorf("no sheet for %s", care)
}
