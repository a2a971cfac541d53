package codec

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/JonMunkholm/ndbmedicine/internal/core"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// EncodeCSV writes UTF-8 CSV with a BOM so spreadsheet applications pick
// the right encoding for the Japanese headers.
func EncodeCSV(w io.Writer, layout core.LayoutKind, records []core.CanonicalRecord) error {
	def, err := batchLayout(layout, records)
	if err != nil {
		return err
	}
	withUnit := needsUnit(records)

	bw := transform.NewWriter(w, unicode.UTF8BOM.NewEncoder())
	cw := csv.NewWriter(bw)
	if err := cw.Write(Columns(def, withUnit)); err != nil {
		return fmt.Errorf("write csv header: %w", err)
	}

	line := make([]string, 0, len(Columns(def, withUnit)))
	for _, r := range records {
		line = line[:0]
		for _, v := range values(def, withUnit, r) {
			line = append(line, formatValue(v))
		}
		if err := cw.Write(line); err != nil {
			return fmt.Errorf("write csv row: %w", err)
		}
	}

	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("flush csv: %w", err)
	}
	return bw.Close()
}

// DecodeCSV reads CSV written by EncodeCSV. A BOM is optional.
func DecodeCSV(r io.Reader) ([]core.CanonicalRecord, error) {
	cr := csv.NewReader(transform.NewReader(r, unicode.UTF8BOM.NewDecoder()))
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("read csv header: %w", err)
	}
	tr, err := newTableReader(header)
	if err != nil {
		return nil, err
	}

	var out []core.CanonicalRecord
	for line := 2; ; line++ {
		row, err := cr.Read()
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return nil, fmt.Errorf("read csv line %d: %w", line, err)
		}
		if blankRow(row) {
			continue
		}
		rec, err := tr.record(line, row)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
}

func blankRow(row []string) bool {
	for _, v := range row {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}
