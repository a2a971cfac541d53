package core

import (
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/text/width"
)

// Round is the NDB open-data publication round (第N回). Rounds start at 1.
type Round int

// firstFiscalYear is the fiscal year covered by round 1.
const firstFiscalYear = 2014

// FiscalYear returns the fiscal year a round covers (round 1 = FY2014).
func (r Round) FiscalYear() int {
	return int(r) + firstFiscalYear - 1
}

// RoundForYear is the inverse of Round.FiscalYear.
func RoundForYear(year int) Round {
	return Round(year - firstFiscalYear + 1)
}

func (r Round) String() string {
	return fmt.Sprintf("%02d", int(r))
}

// DosageForm is the route-of-administration category of a publication file.
type DosageForm int

const (
	DosageOral DosageForm = iota + 1
	DosageTopical
	DosageInjectable
	DosageDental
)

var dosageForms = []enumEntry[DosageForm]{
	{DosageOral, "oral", "内服"},
	{DosageTopical, "topical", "外用"},
	{DosageInjectable, "injectable", "注射"},
	{DosageDental, "dental", "歯科用薬剤"},
}

// DosageForms lists every dosage form in publication order.
func DosageForms() []DosageForm { return values(dosageForms) }

func (d DosageForm) String() string { return slugOf(dosageForms, d) }

// Label returns the Japanese label used in publications and file names.
func (d DosageForm) Label() string { return labelOf(dosageForms, d) }

// Valid reports whether d is a known dosage form.
func (d DosageForm) Valid() bool { return lookup(dosageForms, d) != nil }

// ParseDosageForm accepts either the slug or the Japanese label.
func ParseDosageForm(s string) (DosageForm, error) {
	return parseEnum(dosageForms, "dosage", s)
}

// CareSetting is the medical-care setting (診療区分) a quantity belongs to.
//
// CareSettingUnknown marks catalog entries whose workbook bundles several
// care settings as separate sheets; records never carry it.
type CareSetting int

const (
	CareSettingUnknown CareSetting = iota
	CareOutpatientInHospital
	CareOutpatientExternal
	CareInpatient
)

var careSettings = []enumEntry[CareSetting]{
	{CareOutpatientInHospital, "outpatient-in-hospital", "外来（院内）"},
	{CareOutpatientExternal, "outpatient-external", "外来（院外）"},
	{CareInpatient, "inpatient", "入院"},
}

// CareSettings lists every concrete care setting in publication order.
func CareSettings() []CareSetting { return values(careSettings) }

func (c CareSetting) String() string {
	if c == CareSettingUnknown {
		return "unknown"
	}
	return slugOf(careSettings, c)
}

// Label returns the Japanese label, or "" for CareSettingUnknown.
func (c CareSetting) Label() string { return labelOf(careSettings, c) }

// Valid reports whether c is a concrete care setting.
func (c CareSetting) Valid() bool { return lookup(careSettings, c) != nil }

// ParseCareSetting accepts the slug or the Japanese label. Half-width
// parentheses and surrounding spaces are tolerated.
func ParseCareSetting(s string) (CareSetting, error) {
	return parseEnum(careSettings, "care setting", s)
}

// FindCareSetting returns the care setting whose label occurs in text,
// e.g. a sheet name such as "外来 (院内)". It returns CareSettingUnknown when
// no label is present.
func FindCareSetting(text string) CareSetting {
	key := FoldKey(text)
	for _, e := range careSettings {
		if strings.Contains(key, FoldKey(e.label)) {
			return e.value
		}
	}
	return CareSettingUnknown
}

// LayoutKind identifies the wide-format arrangement of a publication file.
type LayoutKind int

const (
	LayoutDemographic LayoutKind = iota + 1
	LayoutGeographic
)

var layoutKinds = []enumEntry[LayoutKind]{
	{LayoutDemographic, "demographic", "性年齢別"},
	{LayoutGeographic, "geographic", "都道府県別"},
}

// LayoutKinds lists every layout kind.
func LayoutKinds() []LayoutKind { return values(layoutKinds) }

func (k LayoutKind) String() string { return slugOf(layoutKinds, k) }

// Label returns the Japanese label used in publications and file names.
func (k LayoutKind) Label() string { return labelOf(layoutKinds, k) }

// ParseLayoutKind accepts either the slug or the Japanese label.
func ParseLayoutKind(s string) (LayoutKind, error) {
	return parseEnum(layoutKinds, "layout", s)
}

// FindLayoutKind returns the layout whose label occurs in text, or 0.
func FindLayoutKind(text string) LayoutKind {
	key := FoldKey(text)
	for _, e := range layoutKinds {
		if strings.Contains(key, FoldKey(e.label)) {
			return e.value
		}
	}
	return 0
}

// SourceIdentity describes where a grid came from.
type SourceIdentity struct {
	Round       Round
	Year        int
	DosageForm  DosageForm
	CareSetting CareSetting
}

// NewSourceIdentity derives the fiscal year from the round.
func NewSourceIdentity(round Round, dosage DosageForm, care CareSetting) SourceIdentity {
	return SourceIdentity{
		Round:       round,
		Year:        round.FiscalYear(),
		DosageForm:  dosage,
		CareSetting: care,
	}
}

// DrugAttributes are the fixed, per-row columns of a publication sheet.
type DrugAttributes struct {
	ClassCode     string
	ClassName     string
	DrugCode      string
	DrugName      string
	Unit          *string // nil when the round predates the unit column
	PriceListCode string
	Price         float64
	GenericFlag   int
}

// UnitOrEmpty returns the unit or "" when it is absent.
func (a DrugAttributes) UnitOrEmpty() string {
	if a.Unit == nil {
		return ""
	}
	return *a.Unit
}

// Category is the value of a wide-format column block.
//
// Demographic blocks use Sex (optional), Age and Label (the age bracket).
// Geographic blocks use Code (2-digit prefecture code) and Label (prefecture name).
type Category struct {
	Sex   string
	Age   int
	Code  string
	Label string
}

// CanonicalRecord is one long-format row: a drug in a category with its quantity.
type CanonicalRecord struct {
	SourceIdentity
	Layout LayoutKind
	DrugAttributes
	Category
	Quantity       float64
	BelowThreshold bool
}

// CategoryKey returns the age code or prefecture code as text.
func (r CanonicalRecord) CategoryKey() string {
	if r.Layout == LayoutGeographic {
		return r.Code
	}
	return strconv.Itoa(r.Age)
}

// IsTotal reports whether the record carries the layout's total sentinel.
func (r CanonicalRecord) IsTotal() bool {
	if r.Layout == LayoutGeographic {
		return r.Code == GeographicTotalCode
	}
	return r.Age == DemographicTotalAge
}

// Total sentinels stored in the category key of synthesized total records.
const (
	DemographicTotalAge = -1
	GeographicTotalCode = "00"
	TotalLabel          = "総計"
)

// FoldKey normalizes text for label comparison: full-width ASCII is folded
// to half-width and all whitespace is removed.
func FoldKey(s string) string {
	return strings.Join(strings.Fields(width.Fold.String(s)), "")
}

type enumEntry[T comparable] struct {
	value T
	slug  string
	label string
}

func lookup[T comparable](entries []enumEntry[T], v T) *enumEntry[T] {
	for i := range entries {
		if entries[i].value == v {
			return &entries[i]
		}
	}
	return nil
}

func values[T comparable](entries []enumEntry[T]) []T {
	out := make([]T, len(entries))
	for i, e := range entries {
		out[i] = e.value
	}
	return out
}

func slugOf[T comparable](entries []enumEntry[T], v T) string {
	if e := lookup(entries, v); e != nil {
		return e.slug
	}
	return "invalid"
}

func labelOf[T comparable](entries []enumEntry[T], v T) string {
	if e := lookup(entries, v); e != nil {
		return e.label
	}
	return ""
}

func parseEnum[T comparable](entries []enumEntry[T], field, s string) (T, error) {
	key := FoldKey(s)
	for _, e := range entries {
		if strings.EqualFold(key, e.slug) || key == FoldKey(e.label) {
			return e.value, nil
		}
	}
	var zero T
	return zero, ValidationError{Field: field, Value: s, Message: fmt.Sprintf("unknown %s %q", field, s)}
}
