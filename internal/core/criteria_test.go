package core_test

import (
	"errors"
	"reflect"
	"testing"

	"github.com/JonMunkholm/ndbmedicine/internal/core"
)

func TestMatches(t *testing.T) {
	oralOrTopical := core.ExtractionCriteria{DosageForms: []core.DosageForm{core.DosageOral, core.DosageTopical}}

	for _, d := range core.DosageForms() {
		id := core.NewSourceIdentity(4, d, core.CareInpatient)
		want := d == core.DosageOral || d == core.DosageTopical
		if got := core.Matches(id, oralOrTopical); got != want {
			t.Errorf("Matches(%s) = %v, want %v", d, got, want)
		}
	}

	both := oralOrTopical
	both.CareSettings = []core.CareSetting{core.CareOutpatientExternal}
	tests := []struct {
		name string
		id   core.SourceIdentity
		want bool
	}{
		{"both admit", core.NewSourceIdentity(4, core.DosageTopical, core.CareOutpatientExternal), true},
		{"dosage rejects", core.NewSourceIdentity(4, core.DosageInjectable, core.CareOutpatientExternal), false},
		{"care rejects", core.NewSourceIdentity(4, core.DosageOral, core.CareInpatient), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := core.Matches(tt.id, both); got != tt.want {
				t.Errorf("Matches() = %v, want %v", got, tt.want)
			}
		})
	}

	if !core.Matches(core.NewSourceIdentity(1, core.DosageDental, core.CareInpatient), core.ExtractionCriteria{}) {
		t.Error("empty criteria should match everything")
	}

	byYear := core.ExtractionCriteria{Years: []int{2016}, Rounds: []core.Round{3, 4}}
	if !core.Matches(core.NewSourceIdentity(3, core.DosageOral, core.CareInpatient), byYear) {
		t.Error("round 3 is FY2016 and should match")
	}
	if core.Matches(core.NewSourceIdentity(4, core.DosageOral, core.CareInpatient), byYear) {
		t.Error("round 4 is FY2017 and should not match year 2016")
	}
}

func TestMatchesFile_UnknownCareSettingIsWildcard(t *testing.T) {
	c := core.ExtractionCriteria{
		CareSettings: []core.CareSetting{core.CareInpatient},
		Layouts:      []core.LayoutKind{core.LayoutDemographic},
	}
	bundled := core.SourceIdentity{Round: 1, DosageForm: core.DosageOral}

	if !core.MatchesFile(bundled, core.LayoutDemographic, c) {
		t.Error("bundled file should match any care setting")
	}
	if core.MatchesFile(bundled, core.LayoutGeographic, c) {
		t.Error("layout filter should still apply")
	}
	single := core.NewSourceIdentity(1, core.DosageOral, core.CareOutpatientInHospital)
	if core.MatchesFile(single, core.LayoutDemographic, c) {
		t.Error("single care setting file should be filtered")
	}
}

func TestParseCriteria(t *testing.T) {
	c, err := core.ParseCriteria(map[string][]string{
		"round":  {"3,4", "5"},
		"year":   {"FY2019"},
		"dosage": {"内服", "injectable"},
		"care":   {"入院"},
		"layout": {"geographic"},
		"total":  {"true"},
	})
	if err != nil {
		t.Fatalf("ParseCriteria() error = %v", err)
	}
	if len(c.Rounds) != 3 || c.Rounds[2] != 5 {
		t.Errorf("Rounds = %v", c.Rounds)
	}
	if len(c.Years) != 1 || c.Years[0] != 2019 {
		t.Errorf("Years = %v", c.Years)
	}
	if len(c.DosageForms) != 2 || c.DosageForms[1] != core.DosageInjectable {
		t.Errorf("DosageForms = %v", c.DosageForms)
	}
	if len(c.CareSettings) != 1 || c.CareSettings[0] != core.CareInpatient {
		t.Errorf("CareSettings = %v", c.CareSettings)
	}
	if len(c.Layouts) != 1 || c.Layouts[0] != core.LayoutGeographic {
		t.Errorf("Layouts = %v", c.Layouts)
	}
	if !c.IncludeTotal {
		t.Error("IncludeTotal = false")
	}
}

func TestParseCriteria_Invalid(t *testing.T) {
	tests := []struct {
		name   string
		values map[string][]string
	}{
		{"non-numeric round", map[string][]string{"round": {"x"}}},
		{"zero round", map[string][]string{"round": {"0"}}},
		{"year before first round", map[string][]string{"year": {"2010"}}},
		{"unknown dosage", map[string][]string{"dosage": {"坐剤"}}},
		{"unknown care", map[string][]string{"care": {"在宅"}}},
		{"bad total", map[string][]string{"total": {"maybe"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := core.ParseCriteria(tt.values)
			if !errors.Is(err, core.ErrValidation) {
				t.Errorf("ParseCriteria() error = %v, want validation error", err)
			}
		})
	}
}

func TestValidate_AggregatesErrors(t *testing.T) {
	c := core.ExtractionCriteria{Rounds: []core.Round{0}, Years: []int{2000}, DosageForms: []core.DosageForm{42}}
	err := c.Validate()
	var errs core.ValidationErrors
	if !errors.As(err, &errs) || len(errs) != 3 {
		t.Fatalf("Validate() = %v, want 3 aggregated errors", err)
	}
}

func TestCriteriaValues_RoundTrip(t *testing.T) {
	want := core.ExtractionCriteria{
		Rounds:       []core.Round{2, 7},
		DosageForms:  []core.DosageForm{core.DosageDental},
		CareSettings: []core.CareSetting{core.CareOutpatientExternal},
		IncludeTotal: true,
	}
	values := want.Values()
	if _, ok := values["year"]; ok {
		t.Errorf("empty field present: %v", values)
	}
	got, err := core.ParseCriteria(values)
	if err != nil {
		t.Fatalf("ParseCriteria() error = %v", err)
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("round trip = %+v, want %+v", got, want)
	}
}
