package core

import (
	"fmt"
	"slices"
	"strconv"
	"strings"
)

// ExtractionCriteria selects source grids. Within a field the values are
// alternatives; across fields every non-empty field must match. An empty
// field matches everything.
type ExtractionCriteria struct {
	Rounds       []Round
	Years        []int
	DosageForms  []DosageForm
	CareSettings []CareSetting
	Layouts      []LayoutKind
	IncludeTotal bool
}

// Validate reports every invalid value in one error.
func (c ExtractionCriteria) Validate() error {
	var errs ValidationErrors

	for _, r := range c.Rounds {
		if r < 1 {
			errs = append(errs, ValidationError{Field: "round", Value: strconv.Itoa(int(r)), Message: "round must be positive"})
		}
	}
	for _, y := range c.Years {
		if y < firstFiscalYear {
			errs = append(errs, ValidationError{
				Field:   "year",
				Value:   strconv.Itoa(y),
				Message: fmt.Sprintf("year must be %d or later", firstFiscalYear),
			})
		}
	}
	for _, d := range c.DosageForms {
		if !d.Valid() {
			errs = append(errs, ValidationError{Field: "dosage", Value: strconv.Itoa(int(d)), Message: "unknown dosage form"})
		}
	}
	for _, cs := range c.CareSettings {
		if !cs.Valid() {
			errs = append(errs, ValidationError{Field: "care", Value: strconv.Itoa(int(cs)), Message: "unknown care setting"})
		}
	}
	for _, l := range c.Layouts {
		if _, ok := Lookup(l); !ok {
			errs = append(errs, ValidationError{Field: "layout", Value: strconv.Itoa(int(l)), Message: "unknown layout"})
		}
	}

	return errs.errOrNil()
}

// Matches reports whether a grid identity satisfies the criteria.
func Matches(id SourceIdentity, c ExtractionCriteria) bool {
	return matchAny(c.Rounds, id.Round) &&
		matchAny(c.Years, id.Year) &&
		matchAny(c.DosageForms, id.DosageForm) &&
		matchAny(c.CareSettings, id.CareSetting)
}

// MatchesFile is Matches for catalog entries, which also carry a layout.
// A file whose care setting is unknown bundles several care settings and
// matches any care-setting filter; its sheets are checked with Matches.
func MatchesFile(id SourceIdentity, layout LayoutKind, c ExtractionCriteria) bool {
	if id.CareSetting == CareSettingUnknown {
		c.CareSettings = nil
	}
	if id.Year == 0 {
		id.Year = id.Round.FiscalYear()
	}
	return Matches(id, c) && matchAny(c.Layouts, layout)
}

func matchAny[T comparable](want []T, got T) bool {
	return len(want) == 0 || slices.Contains(want, got)
}

// Criteria parameter names accepted by ParseCriteria.
const (
	ParamRound  = "round"
	ParamYear   = "year"
	ParamDosage = "dosage"
	ParamCare   = "care"
	ParamLayout = "layout"
	ParamTotal  = "total"
)

// ParseCriteria builds criteria from query or flag values. Each key may be
// repeated and each value may hold a comma-separated list.
func ParseCriteria(values map[string][]string) (ExtractionCriteria, error) {
	var c ExtractionCriteria
	var errs ValidationErrors

	for _, v := range splitValues(values[ParamRound]) {
		n, err := strconv.Atoi(v)
		if err != nil {
			errs = append(errs, ValidationError{Field: ParamRound, Value: v, Message: "round must be an integer"})
			continue
		}
		c.Rounds = append(c.Rounds, Round(n))
	}
	for _, v := range splitValues(values[ParamYear]) {
		n, err := strconv.Atoi(strings.TrimPrefix(strings.ToUpper(v), "FY"))
		if err != nil {
			errs = append(errs, ValidationError{Field: ParamYear, Value: v, Message: "year must be an integer"})
			continue
		}
		c.Years = append(c.Years, n)
	}
	for _, v := range splitValues(values[ParamDosage]) {
		d, err := ParseDosageForm(v)
		if err != nil {
			errs = append(errs, err.(ValidationError))
			continue
		}
		c.DosageForms = append(c.DosageForms, d)
	}
	for _, v := range splitValues(values[ParamCare]) {
		cs, err := ParseCareSetting(v)
		if err != nil {
			errs = append(errs, err.(ValidationError))
			continue
		}
		c.CareSettings = append(c.CareSettings, cs)
	}
	for _, v := range splitValues(values[ParamLayout]) {
		l, err := ParseLayoutKind(v)
		if err != nil {
			errs = append(errs, err.(ValidationError))
			continue
		}
		c.Layouts = append(c.Layouts, l)
	}
	if total := values[ParamTotal]; len(total) > 0 {
		b, err := strconv.ParseBool(total[len(total)-1])
		if err != nil {
			errs = append(errs, ValidationError{Field: ParamTotal, Value: total[len(total)-1], Message: "total must be a boolean"})
		} else {
			c.IncludeTotal = b
		}
	}

	if err := errs.errOrNil(); err != nil {
		return ExtractionCriteria{}, err
	}
	return c, c.Validate()
}

func splitValues(raw []string) []string {
	var out []string
	for _, r := range raw {
		for _, p := range strings.Split(r, ",") {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
	}
	return out
}

// Values is the inverse of ParseCriteria. Empty fields are omitted.
func (c ExtractionCriteria) Values() map[string][]string {
	out := make(map[string][]string)
	add := func(key string, vals []string) {
		if len(vals) > 0 {
			out[key] = vals
		}
	}
	add(ParamRound, mapStrings(c.Rounds, func(r Round) string { return strconv.Itoa(int(r)) }))
	add(ParamYear, mapStrings(c.Years, strconv.Itoa))
	add(ParamDosage, mapStrings(c.DosageForms, DosageForm.String))
	add(ParamCare, mapStrings(c.CareSettings, CareSetting.String))
	add(ParamLayout, mapStrings(c.Layouts, LayoutKind.String))
	if c.IncludeTotal {
		out[ParamTotal] = []string{"true"}
	}
	return out
}

func mapStrings[T any](in []T, f func(T) string) []string {
	out := make([]string, 0, len(in))
	for _, v := range in {
		out = append(out, f(v))
	}
	return out
}
