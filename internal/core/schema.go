package core

// FixedColumn names one of the per-row drug attribute columns.
type FixedColumn int

const (
	ColClassCode FixedColumn = iota
	ColClassName
	ColDrugCode
	ColDrugName
	ColUnit
	ColPriceListCode
	ColPrice
	ColGenericFlag
)

var fixedColumnLabels = [...]string{
	ColClassCode:     "薬効分類",
	ColClassName:     "薬効分類名称",
	ColDrugCode:      "医薬品コード",
	ColDrugName:      "医薬品名",
	ColUnit:          "単位",
	ColPriceListCode: "薬価基準収載医薬品コード",
	ColPrice:         "薬価",
	ColGenericFlag:   "後発品区分",
}

// Label returns the published Japanese column header.
func (c FixedColumn) Label() string {
	if c < 0 || int(c) >= len(fixedColumnLabels) {
		return ""
	}
	return fixedColumnLabels[c]
}

// UnitColumnSince is the first round that publishes the unit column.
const UnitColumnSince Round = 3

// FixedColumnsFor returns the fixed columns published in a round.
func FixedColumnsFor(round Round) []FixedColumn {
	cols := []FixedColumn{ColClassCode, ColClassName, ColDrugCode, ColDrugName}
	if round >= UnitColumnSince {
		cols = append(cols, ColUnit)
	}
	return append(cols, ColPriceListCode, ColPrice, ColGenericFlag)
}

// Block describes one repeated column group of a wide sheet.
type Block struct {
	Width            int
	IdentifierOffset int
	QuantityOffset   int
}

// pairBlock is the identifier+quantity pair used by every layout.
var pairBlock = Block{Width: 2, IdentifierOffset: 0, QuantityOffset: 1}

// SchemaDescriptor tells the transformer how to read a grid of a given
// layout and round.
type SchemaDescriptor struct {
	Layout       LayoutKind
	Round        Round
	FixedColumns []FixedColumn
	TotalColumn  int
	BlockStart   int
	Block        Block
	Sentinel     Category

	def LayoutDefinition
}

// Describe returns the schema for a layout in a given round.
// Fails with ErrUnsupportedLayout for unregistered kinds or a non-positive round.
func Describe(kind LayoutKind, round Round) (SchemaDescriptor, error) {
	def, ok := Lookup(kind)
	if !ok || round < 1 {
		return SchemaDescriptor{}, UnsupportedLayout(kind, round)
	}

	fixed := FixedColumnsFor(round)
	return SchemaDescriptor{
		Layout:       kind,
		Round:        round,
		FixedColumns: fixed,
		TotalColumn:  len(fixed),
		BlockStart:   len(fixed) + 1,
		Block:        pairBlock,
		Sentinel:     def.Sentinel,
		def:          def,
	}, nil
}

// HasUnit reports whether the fixed columns include the unit.
func (s SchemaDescriptor) HasUnit() bool {
	return s.Round >= UnitColumnSince
}

// FixedIndex returns the position of a fixed column, or -1 when the round
// does not publish it.
func (s SchemaDescriptor) FixedIndex(col FixedColumn) int {
	for i, c := range s.FixedColumns {
		if c == col {
			return i
		}
	}
	return -1
}

// HeaderLabels returns the published headers of the fixed and total columns.
func (s SchemaDescriptor) HeaderLabels() []string {
	labels := make([]string, 0, s.BlockStart)
	for _, c := range s.FixedColumns {
		labels = append(labels, c.Label())
	}
	return append(labels, TotalLabel)
}

// Expect checks that a grid with the given column count fits the schema.
func (s SchemaDescriptor) Expect(columns int) error {
	if columns <= s.BlockStart {
		return Mismatch("", -1, -1, "%d columns, want more than %d (%s round %d)",
			columns, s.BlockStart, s.Layout, int(s.Round))
	}
	if extra := (columns - s.BlockStart) % s.Block.Width; extra != 0 {
		return Mismatch("", -1, -1, "%d block columns is not a multiple of %d (%s round %d)",
			columns-s.BlockStart, s.Block.Width, s.Layout, int(s.Round))
	}
	return nil
}

// BlockCount returns the number of blocks in a grid of the given width.
func (s SchemaDescriptor) BlockCount(columns int) int {
	if columns <= s.BlockStart {
		return 0
	}
	return (columns - s.BlockStart) / s.Block.Width
}

// ParseIdentifier parses a block identifier using the layout's rules.
func (s SchemaDescriptor) ParseIdentifier(text string) (Category, error) {
	return s.def.ParseIdentifier(text)
}

// Definition returns the registered layout definition.
func (s SchemaDescriptor) Definition() LayoutDefinition {
	return s.def
}
