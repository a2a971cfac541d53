package codec

import (
	"fmt"
	"io"

	"github.com/JonMunkholm/ndbmedicine/internal/core"
	"github.com/xuri/excelize/v2"
)

// EncodeXLSX writes a single-sheet workbook named after the layout.
// Quantities, prices and flags are numeric cells.
func EncodeXLSX(w io.Writer, layout core.LayoutKind, records []core.CanonicalRecord) error {
	def, err := batchLayout(layout, records)
	if err != nil {
		return err
	}
	withUnit := needsUnit(records)

	f := excelize.NewFile()
	defer f.Close()

	sheet := def.Kind.Label()
	if err := f.SetSheetName(f.GetSheetName(0), sheet); err != nil {
		return fmt.Errorf("name sheet: %w", err)
	}
	sw, err := f.NewStreamWriter(sheet)
	if err != nil {
		return fmt.Errorf("open stream writer: %w", err)
	}

	cols := Columns(def, withUnit)
	header := make([]any, len(cols))
	for i, c := range cols {
		header[i] = c
	}
	if err := sw.SetRow("A1", header); err != nil {
		return fmt.Errorf("write header: %w", err)
	}

	for i, r := range records {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		if err := sw.SetRow(cell, values(def, withUnit, r)); err != nil {
			return fmt.Errorf("write row %d: %w", i+2, err)
		}
	}

	if err := sw.Flush(); err != nil {
		return fmt.Errorf("flush sheet: %w", err)
	}
	return f.Write(w)
}

// DecodeXLSX reads the first sheet of a workbook written by EncodeXLSX.
func DecodeXLSX(r io.Reader) ([]core.CanonicalRecord, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("open workbook: %w", err)
	}
	defer f.Close()

	rows, err := f.GetRows(f.GetSheetName(0), excelize.Options{RawCellValue: true})
	if err != nil {
		return nil, fmt.Errorf("read rows: %w", err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("workbook has no header row")
	}

	tr, err := newTableReader(rows[0])
	if err != nil {
		return nil, err
	}

	var out []core.CanonicalRecord
	for i, row := range rows[1:] {
		if blankRow(row) {
			continue
		}
		rec, err := tr.record(i+2, row)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}
