// Package codec persists canonical records as xlsx, csv or parquet and
// reads them back.
//
// Spreadsheet formats use one header row with Japanese column names in a
// fixed order; 単位 is present only when some record is from round 3 or
// later. Every batch holds records of a single layout.
package codec

import (
	"errors"
	"fmt"
	"io"
	"slices"
	"strconv"
	"strings"

	"github.com/JonMunkholm/ndbmedicine/internal/core"
)

var (
	ErrUnsupportedFormat = errors.New("unsupported format")
	ErrMixedLayouts      = errors.New("mixed layouts in one batch")
)

// Format is a persisted record encoding.
type Format int

const (
	FormatXLSX Format = iota + 1
	FormatCSV
	FormatParquet
)

var formats = []struct {
	format      Format
	name        string
	contentType string
}{
	{FormatXLSX, "xlsx", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"},
	{FormatCSV, "csv", "text/csv; charset=utf-8"},
	{FormatParquet, "parquet", "application/vnd.apache.parquet"},
}

// ParseFormat accepts "xlsx", "csv" or "parquet", with or without a dot.
func ParseFormat(s string) (Format, error) {
	s = strings.TrimPrefix(strings.ToLower(strings.TrimSpace(s)), ".")
	for _, f := range formats {
		if f.name == s {
			return f.format, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnsupportedFormat, s)
}

func (f Format) String() string {
	for _, e := range formats {
		if e.format == f {
			return e.name
		}
	}
	return "unknown"
}

// Ext returns the file extension including the dot.
func (f Format) Ext() string { return "." + f.String() }

// ContentType returns the MIME type of the format.
func (f Format) ContentType() string {
	for _, e := range formats {
		if e.format == f {
			return e.contentType
		}
	}
	return "application/octet-stream"
}

// Persisted column headers.
const (
	ColRound          = "実施回"
	ColYear           = "年度"
	ColDosageForm     = "剤形"
	ColCareSetting    = "診療区分"
	ColQuantity       = "処方数量"
	ColBelowThreshold = "最小集計単位未満"
)

// Encode writes records of one layout to w in format. An empty batch
// produces a header-only table.
func Encode(w io.Writer, format Format, layout core.LayoutKind, records []core.CanonicalRecord) error {
	switch format {
	case FormatXLSX:
		return EncodeXLSX(w, layout, records)
	case FormatCSV:
		return EncodeCSV(w, layout, records)
	case FormatParquet:
		return EncodeParquet(w, layout, records)
	}
	return fmt.Errorf("%w: %d", ErrUnsupportedFormat, int(format))
}

// Decode reads records written by Encode.
func Decode(r io.Reader, format Format) ([]core.CanonicalRecord, error) {
	switch format {
	case FormatXLSX:
		return DecodeXLSX(r)
	case FormatCSV:
		return DecodeCSV(r)
	case FormatParquet:
		return DecodeParquet(r)
	}
	return nil, fmt.Errorf("%w: %d", ErrUnsupportedFormat, int(format))
}

// batchLayout checks that every record has the given layout.
func batchLayout(kind core.LayoutKind, records []core.CanonicalRecord) (core.LayoutDefinition, error) {
	def, ok := core.Lookup(kind)
	if !ok {
		return core.LayoutDefinition{}, fmt.Errorf("%w: %s", core.ErrUnsupportedLayout, kind)
	}
	for _, r := range records {
		if r.Layout != kind {
			return core.LayoutDefinition{}, fmt.Errorf("%w: %s and %s", ErrMixedLayouts, kind, r.Layout)
		}
	}
	return def, nil
}

// Columns returns the persisted header for a layout.
func Columns(def core.LayoutDefinition, withUnit bool) []string {
	cols := []string{ColRound, ColYear, ColDosageForm, ColCareSetting}
	for _, c := range core.FixedColumnsFor(core.UnitColumnSince) {
		if c == core.ColUnit && !withUnit {
			continue
		}
		cols = append(cols, c.Label())
	}
	cols = append(cols, def.CategoryColumns...)
	return append(cols, ColQuantity, ColBelowThreshold)
}

func needsUnit(records []core.CanonicalRecord) bool {
	return slices.ContainsFunc(records, func(r core.CanonicalRecord) bool {
		return r.Round >= core.UnitColumnSince
	})
}

// values renders a record in Columns order. Numbers are float64 or int so
// that the xlsx encoder can store them as numeric cells.
func values(def core.LayoutDefinition, withUnit bool, r core.CanonicalRecord) []any {
	row := []any{int(r.Round), r.Year, r.DosageForm.Label(), r.CareSetting.Label(),
		r.ClassCode, r.ClassName, r.DrugCode, r.DrugName}
	if withUnit {
		row = append(row, r.UnitOrEmpty())
	}
	row = append(row, r.PriceListCode, r.Price, r.GenericFlag)
	for _, v := range def.CategoryValues(r.Category) {
		row = append(row, v)
	}
	flag := 0
	if r.BelowThreshold {
		flag = 1
	}
	return append(row, r.Quantity, flag)
}

func formatValue(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case int:
		return strconv.Itoa(x)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	}
	return fmt.Sprint(v)
}

// tableReader maps a decoded header onto record fields.
type tableReader struct {
	def      core.LayoutDefinition
	withUnit bool
	index    map[string]int
}

func newTableReader(header []string) (*tableReader, error) {
	index := make(map[string]int, len(header))
	for i, h := range header {
		h = strings.TrimSpace(strings.TrimPrefix(h, "\ufeff"))
		if _, dup := index[h]; !dup {
			index[h] = i
		}
	}
	_, withUnit := index[core.ColUnit.Label()]

	for _, def := range core.Layouts() {
		want := Columns(def, withUnit)
		if len(want) != len(header) {
			continue
		}
		match := true
		for i, col := range want {
			if strings.TrimSpace(strings.TrimPrefix(header[i], "\ufeff")) != col {
				match = false
				break
			}
		}
		if match {
			return &tableReader{def: def, withUnit: withUnit, index: index}, nil
		}
	}
	return nil, fmt.Errorf("header %v matches no layout", header)
}

func (t *tableReader) record(line int, row []string) (core.CanonicalRecord, error) {
	get := func(col string) string {
		if i, ok := t.index[col]; ok && i < len(row) {
			return strings.TrimSpace(row[i])
		}
		return ""
	}
	fail := func(col string, err error) (core.CanonicalRecord, error) {
		return core.CanonicalRecord{}, fmt.Errorf("line %d column %s: %w", line, col, err)
	}

	var r core.CanonicalRecord
	r.Layout = t.def.Kind

	round, err := strconv.Atoi(get(ColRound))
	if err != nil {
		return fail(ColRound, err)
	}
	r.Round = core.Round(round)
	if r.Year, err = strconv.Atoi(get(ColYear)); err != nil {
		return fail(ColYear, err)
	}
	if r.DosageForm, err = core.ParseDosageForm(get(ColDosageForm)); err != nil {
		return fail(ColDosageForm, err)
	}
	if r.CareSetting, err = core.ParseCareSetting(get(ColCareSetting)); err != nil {
		return fail(ColCareSetting, err)
	}

	r.ClassCode = get(core.ColClassCode.Label())
	r.ClassName = get(core.ColClassName.Label())
	r.DrugCode = get(core.ColDrugCode.Label())
	r.DrugName = get(core.ColDrugName.Label())
	if t.withUnit && r.Round >= core.UnitColumnSince {
		unit := get(core.ColUnit.Label())
		r.Unit = &unit
	}
	r.PriceListCode = get(core.ColPriceListCode.Label())
	if r.Price, err = strconv.ParseFloat(get(core.ColPrice.Label()), 64); err != nil {
		return fail(core.ColPrice.Label(), err)
	}
	if r.GenericFlag, err = strconv.Atoi(get(core.ColGenericFlag.Label())); err != nil {
		return fail(core.ColGenericFlag.Label(), err)
	}

	cat := make([]string, len(t.def.CategoryColumns))
	for i, col := range t.def.CategoryColumns {
		cat[i] = get(col)
	}
	if r.Category, err = t.def.ParseCategoryValues(cat); err != nil {
		return fail(strings.Join(t.def.CategoryColumns, "/"), err)
	}

	if r.Quantity, err = strconv.ParseFloat(get(ColQuantity), 64); err != nil {
		return fail(ColQuantity, err)
	}
	switch get(ColBelowThreshold) {
	case "0":
	case "1":
		r.BelowThreshold = true
	default:
		return fail(ColBelowThreshold, fmt.Errorf("want 0 or 1, got %q", get(ColBelowThreshold)))
	}
	return r, nil
}
