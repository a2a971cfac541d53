package core

import (
	"iter"
	"math"
)

// Transform converts one wide-format grid into long-format records.
//
// The whole grid is checked before anything is returned. When the grid
// does not fit the schema the error is a *StructuralMismatchError and the
// sequence is nil, so a failing grid never contributes partial output.
//
// The returned sequence is lazy and may be ranged more than once. For each
// data row it yields one record per block in column order, followed by the
// row total when includeTotal is set.
func Transform(grid CellGrid, schema SchemaDescriptor, id SourceIdentity, includeTotal bool) (iter.Seq[CanonicalRecord], error) {
	t := &transformer{
		grid:         grid,
		schema:       schema,
		id:           id,
		includeTotal: includeTotal,
		categories:   make(map[string]Category),
	}
	if err := t.prepare(); err != nil {
		return nil, err
	}
	// First pass validates only; the sequence repeats the walk lazily.
	if err := t.walk(nil); err != nil {
		return nil, err
	}
	return func(yield func(CanonicalRecord) bool) {
		_ = t.walk(yield)
	}, nil
}

// Collect materializes a record sequence.
func Collect(seq iter.Seq[CanonicalRecord]) []CanonicalRecord {
	var out []CanonicalRecord
	if seq == nil {
		return out
	}
	for rec := range seq {
		out = append(out, rec)
	}
	return out
}

type transformer struct {
	grid         CellGrid
	schema       SchemaDescriptor
	id           SourceIdentity
	includeTotal bool

	width  int
	blocks int

	// categories caches parsed block identifiers. It is only written
	// during the validating walk.
	categories map[string]Category
}

func (t *transformer) mismatch(row, col int, format string, args ...any) error {
	return Mismatch(t.grid.Name, row, col, format, args...)
}

func (t *transformer) prepare() error {
	if t.id.Round != t.schema.Round {
		return t.mismatch(-1, -1, "grid is round %d but schema describes round %d", int(t.id.Round), int(t.schema.Round))
	}
	if !t.id.CareSetting.Valid() {
		return t.mismatch(-1, -1, "care setting could not be determined")
	}
	if t.id.Year == 0 {
		t.id.Year = t.id.Round.FiscalYear()
	}

	if n := t.grid.HeaderRows; n < 0 || n > len(t.grid.Rows) {
		return t.mismatch(-1, -1, "grid declares %d header rows but has %d rows", n, len(t.grid.Rows))
	}

	t.width = t.grid.Width()
	if err := t.schema.Expect(t.width); err != nil {
		sm := err.(*StructuralMismatchError)
		sm.Source = t.grid.Name
		return sm
	}
	t.blocks = t.schema.BlockCount(t.width)

	if t.grid.HeaderRows > 0 {
		header := t.grid.Rows[t.grid.HeaderRows-1]
		for i, want := range t.schema.HeaderLabels() {
			if i >= len(header) || header[i].IsBlank() {
				continue
			}
			if got := header[i].String(); FoldKey(got) != FoldKey(want) {
				return t.mismatch(-1, i, "header %q, want %q", got, want)
			}
		}
	}
	return nil
}

// walk visits every data row. With a nil yield it only validates.
func (t *transformer) walk(yield func(CanonicalRecord) bool) error {
	var classCode, className string

	for r, row := range t.grid.DataRows() {
		cell := func(col int) Cell {
			if col >= 0 && col < len(row) {
				return row[col]
			}
			return Cell{}
		}

		attrs, skip, err := t.attributes(r, cell, &classCode, &className)
		if err != nil {
			return err
		}
		if skip {
			continue
		}

		for b := 0; b < t.blocks; b++ {
			base := t.schema.BlockStart + b*t.schema.Block.Width
			idCol := base + t.schema.Block.IdentifierOffset
			qCol := base + t.schema.Block.QuantityOffset

			cat, err := t.category(r, idCol, cell(idCol))
			if err != nil {
				return err
			}
			q, err := ApplyMask(cell(qCol))
			if err != nil {
				return t.mismatch(r, qCol, "%v", err)
			}
			if yield != nil && !yield(t.record(attrs, cat, q)) {
				return nil
			}
		}

		total, err := ApplyMask(cell(t.schema.TotalColumn))
		if err != nil {
			return t.mismatch(r, t.schema.TotalColumn, "total: %v", err)
		}
		if t.includeTotal && yield != nil && !yield(t.record(attrs, t.schema.Sentinel, total)) {
			return nil
		}
	}
	return nil
}

func (t *transformer) record(attrs DrugAttributes, cat Category, q Quantity) CanonicalRecord {
	return CanonicalRecord{
		SourceIdentity: t.id,
		Layout:         t.schema.Layout,
		DrugAttributes: attrs,
		Category:       cat,
		Quantity:       q.Value,
		BelowThreshold: q.BelowThreshold,
	}
}

// attributes reads the fixed columns of a row. Rows without a drug are
// skipped only when nothing but a note in the class code column and block
// identifiers is filled in (notes, spacer rows).
func (t *transformer) attributes(r int, cell func(int) Cell, classCode, className *string) (DrugAttributes, bool, error) {
	s := t.schema
	at := func(col FixedColumn) (int, Cell) {
		i := s.FixedIndex(col)
		return i, cell(i)
	}

	_, code := at(ColDrugCode)
	_, name := at(ColDrugName)
	if code.IsBlank() && name.IsBlank() {
		for _, fc := range s.FixedColumns {
			if fc == ColClassCode {
				continue
			}
			if i, c := at(fc); !c.IsBlank() {
				return DrugAttributes{}, false, t.mismatch(r, i, "%s on a row without a drug", fc.Label())
			}
		}
		for col := s.TotalColumn; col < t.width; col++ {
			if col >= s.BlockStart && (col-s.BlockStart)%s.Block.Width == s.Block.IdentifierOffset {
				continue
			}
			if !cell(col).IsBlank() {
				return DrugAttributes{}, false, t.mismatch(r, col, "quantities on a row without a drug")
			}
		}
		return DrugAttributes{}, true, nil
	}
	if code.IsBlank() {
		i, _ := at(ColDrugCode)
		return DrugAttributes{}, false, t.mismatch(r, i, "missing drug code")
	}

	// Class columns are merged vertically in the published sheets.
	if _, c := at(ColClassCode); !c.IsBlank() {
		*classCode = CellCode(c)
		_, n := at(ColClassName)
		*className = n.String()
	} else if _, n := at(ColClassName); !n.IsBlank() {
		*className = n.String()
	}

	attrs := DrugAttributes{
		ClassCode: *classCode,
		ClassName: *className,
		DrugCode:  CellCode(code),
		DrugName:  name.String(),
	}
	if s.HasUnit() {
		_, u := at(ColUnit)
		unit := u.String()
		attrs.Unit = &unit
	}
	_, plc := at(ColPriceListCode)
	attrs.PriceListCode = CellCode(plc)

	pi, price := at(ColPrice)
	p, err := CellFloat(price)
	if err != nil {
		return DrugAttributes{}, false, t.mismatch(r, pi, "price: %v", err)
	}
	attrs.Price = p

	gi, flag := at(ColGenericFlag)
	g, err := CellFloat(flag)
	if err != nil || g < 0 || g != math.Trunc(g) {
		return DrugAttributes{}, false, t.mismatch(r, gi, "generic flag %q is not a non-negative integer", flag.String())
	}
	attrs.GenericFlag = int(g)

	return attrs, false, nil
}

func (t *transformer) category(r, col int, c Cell) (Category, error) {
	text := c.String()
	if cat, ok := t.categories[text]; ok {
		return cat, nil
	}
	if c.IsBlank() {
		return Category{}, t.mismatch(r, col, "missing block identifier")
	}

	cat, err := t.schema.ParseIdentifier(text)
	if err != nil {
		return Category{}, t.mismatch(r, col, "identifier %q: %v", text, err)
	}
	if t.isSentinel(cat) {
		return Category{}, t.mismatch(r, col, "identifier %q collides with the total sentinel", text)
	}
	t.categories[text] = cat
	return cat, nil
}

func (t *transformer) isSentinel(cat Category) bool {
	if cat.Label == TotalLabel {
		return true
	}
	if t.schema.Layout == LayoutGeographic {
		return cat.Code == t.schema.Sentinel.Code
	}
	return cat.Age == t.schema.Sentinel.Age
}
