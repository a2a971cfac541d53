package core

import (
	"errors"
	"testing"
)

func TestRoundFiscalYear(t *testing.T) {
	for _, tt := range []struct {
		round Round
		year  int
	}{{1, 2014}, {3, 2016}, {10, 2023}} {
		if got := tt.round.FiscalYear(); got != tt.year {
			t.Errorf("Round(%d).FiscalYear() = %d, want %d", tt.round, got, tt.year)
		}
		if got := RoundForYear(tt.year); got != tt.round {
			t.Errorf("RoundForYear(%d) = %d, want %d", tt.year, got, tt.round)
		}
	}
}

func TestParseEnums(t *testing.T) {
	if d, err := ParseDosageForm("注射"); err != nil || d != DosageInjectable {
		t.Errorf("ParseDosageForm(注射) = %v, %v", d, err)
	}
	if d, err := ParseDosageForm("Oral"); err != nil || d != DosageOral {
		t.Errorf("ParseDosageForm(Oral) = %v, %v", d, err)
	}
	if c, err := ParseCareSetting("外来 (院外)"); err != nil || c != CareOutpatientExternal {
		t.Errorf("ParseCareSetting(外来 (院外)) = %v, %v", c, err)
	}
	if l, err := ParseLayoutKind("都道府県別"); err != nil || l != LayoutGeographic {
		t.Errorf("ParseLayoutKind(都道府県別) = %v, %v", l, err)
	}

	_, err := ParseDosageForm("坐剤")
	if !errors.Is(err, ErrValidation) {
		t.Errorf("ParseDosageForm(坐剤) error = %v, want validation error", err)
	}
}

func TestFindCareSetting(t *testing.T) {
	tests := []struct {
		sheet string
		want  CareSetting
	}{
		{"外来（院内）", CareOutpatientInHospital},
		{"外来 (院外)", CareOutpatientExternal},
		{"入院", CareInpatient},
		{"内服_入院_性年齢別", CareInpatient},
		{"注意事項", CareSettingUnknown},
	}
	for _, tt := range tests {
		if got := FindCareSetting(tt.sheet); got != tt.want {
			t.Errorf("FindCareSetting(%q) = %v, want %v", tt.sheet, got, tt.want)
		}
	}
}

func TestLabels(t *testing.T) {
	if DosageDental.Label() != "歯科用薬剤" {
		t.Errorf("DosageDental.Label() = %q", DosageDental.Label())
	}
	if CareSettingUnknown.Label() != "" || CareSettingUnknown.String() != "unknown" {
		t.Errorf("CareSettingUnknown = %q/%q", CareSettingUnknown.Label(), CareSettingUnknown.String())
	}
	if DosageForm(99).String() != "invalid" {
		t.Errorf("DosageForm(99).String() = %q", DosageForm(99).String())
	}
}
