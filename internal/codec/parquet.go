package codec

import (
	"bytes"
	"fmt"
	"io"

	"github.com/JonMunkholm/ndbmedicine/internal/core"
	"github.com/parquet-go/parquet-go"
)

// parquetRow is the parquet schema. Category fields of both layouts share
// one flat row; the layout column says which of them are meaningful.
type parquetRow struct {
	Layout         string  `parquet:"layout"`
	Round          int32   `parquet:"round"`
	Year           int32   `parquet:"year"`
	DosageForm     string  `parquet:"dosage_form"`
	CareSetting    string  `parquet:"care_setting"`
	ClassCode      string  `parquet:"class_code"`
	ClassName      string  `parquet:"class_name"`
	DrugCode       string  `parquet:"drug_code"`
	DrugName       string  `parquet:"drug_name"`
	Unit           *string `parquet:"unit,optional"`
	PriceListCode  string  `parquet:"price_list_code"`
	Price          float64 `parquet:"price"`
	GenericFlag    int32   `parquet:"generic_flag"`
	Sex            string  `parquet:"sex"`
	Age            int32   `parquet:"age"`
	Code           string  `parquet:"code"`
	Label          string  `parquet:"label"`
	Quantity       float64 `parquet:"quantity"`
	BelowThreshold bool    `parquet:"below_threshold"`
}

// EncodeParquet writes a snappy-compressed parquet file.
func EncodeParquet(w io.Writer, layout core.LayoutKind, records []core.CanonicalRecord) error {
	if _, err := batchLayout(layout, records); err != nil {
		return err
	}

	pw := parquet.NewGenericWriter[parquetRow](w, parquet.Compression(&parquet.Snappy))
	rows := make([]parquetRow, 0, min(len(records), parquetBatch))
	for _, r := range records {
		rows = append(rows, toParquet(r))
		if len(rows) == parquetBatch {
			if _, err := pw.Write(rows); err != nil {
				return fmt.Errorf("write parquet rows: %w", err)
			}
			rows = rows[:0]
		}
	}
	if len(rows) > 0 {
		if _, err := pw.Write(rows); err != nil {
			return fmt.Errorf("write parquet rows: %w", err)
		}
	}
	if err := pw.Close(); err != nil {
		return fmt.Errorf("close parquet writer: %w", err)
	}
	return nil
}

const parquetBatch = 4096

// DecodeParquet reads a file written by EncodeParquet.
func DecodeParquet(r io.Reader) ([]core.CanonicalRecord, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read parquet: %w", err)
	}
	rows, err := parquet.Read[parquetRow](bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("read parquet: %w", err)
	}

	out := make([]core.CanonicalRecord, 0, len(rows))
	for i, row := range rows {
		rec, err := fromParquet(row)
		if err != nil {
			return nil, fmt.Errorf("parquet row %d: %w", i, err)
		}
		out = append(out, rec)
	}
	return out, nil
}

func toParquet(r core.CanonicalRecord) parquetRow {
	return parquetRow{
		Layout:         r.Layout.String(),
		Round:          int32(r.Round),
		Year:           int32(r.Year),
		DosageForm:     r.DosageForm.String(),
		CareSetting:    r.CareSetting.String(),
		ClassCode:      r.ClassCode,
		ClassName:      r.ClassName,
		DrugCode:       r.DrugCode,
		DrugName:       r.DrugName,
		Unit:           r.Unit,
		PriceListCode:  r.PriceListCode,
		Price:          r.Price,
		GenericFlag:    int32(r.GenericFlag),
		Sex:            r.Sex,
		Age:            int32(r.Age),
		Code:           r.Code,
		Label:          r.Label,
		Quantity:       r.Quantity,
		BelowThreshold: r.BelowThreshold,
	}
}

func fromParquet(row parquetRow) (core.CanonicalRecord, error) {
	var (
		r   core.CanonicalRecord
		err error
	)
	if r.Layout, err = core.ParseLayoutKind(row.Layout); err != nil {
		return r, err
	}
	if r.DosageForm, err = core.ParseDosageForm(row.DosageForm); err != nil {
		return r, err
	}
	if r.CareSetting, err = core.ParseCareSetting(row.CareSetting); err != nil {
		return r, err
	}
	r.Round = core.Round(row.Round)
	r.Year = int(row.Year)
	r.DrugAttributes = core.DrugAttributes{
		ClassCode:     row.ClassCode,
		ClassName:     row.ClassName,
		DrugCode:      row.DrugCode,
		DrugName:      row.DrugName,
		Unit:          row.Unit,
		PriceListCode: row.PriceListCode,
		Price:         row.Price,
		GenericFlag:   int(row.GenericFlag),
	}
	r.Category = core.Category{Sex: row.Sex, Age: int(row.Age), Code: row.Code, Label: row.Label}
	r.Quantity = row.Quantity
	r.BelowThreshold = row.BelowThreshold
	return r, nil
}
