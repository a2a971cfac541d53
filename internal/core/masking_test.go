package core

import "testing"

func TestResolveThreshold(t *testing.T) {
	tests := []struct {
		dosage DosageForm
		round  Round
		want   int
	}{
		{DosageInjectable, 1, 1000},
		{DosageInjectable, 2, 1000},
		{DosageInjectable, 3, 400},
		{DosageInjectable, 9, 400},
		{DosageOral, 1, 1000},
		{DosageOral, 3, 1000},
		{DosageOral, 10, 1000},
		{DosageTopical, 5, 1000},
		{DosageDental, 5, 1000},
	}

	for _, tt := range tests {
		got := ResolveThreshold(tt.dosage, tt.round)
		if got.Value != tt.want {
			t.Errorf("ResolveThreshold(%s, %d) = %d, want %d", tt.dosage, tt.round, got.Value, tt.want)
		}
	}
}

func TestApplyMask(t *testing.T) {
	tests := []struct {
		name       string
		cell       Cell
		wantValue  float64
		wantMasked bool
		wantErr    bool
	}{
		{"hyphen marker", TextCell("-"), 0, true, false},
		{"full-width hyphen", TextCell("－"), 0, true, false},
		{"hyphen variant", TextCell("‐"), 0, true, false},
		{"minus sign", TextCell("−"), 0, true, false},
		{"horizontal bar", TextCell("―"), 0, true, false},
		{"padded marker", TextCell(" - "), 0, true, false},
		{"long vowel mark is not a marker", TextCell("ー"), 0, false, true},
		{"empty cell", Cell{}, 0, true, false},
		{"whitespace text", TextCell("  "), 0, true, false},
		{"number below threshold stays unmasked", NumberCell(12), 12, false, false},
		{"zero stays unmasked", NumberCell(0), 0, false, false},
		{"large number", NumberCell(4757.2), 4757.2, false, false},
		{"numeric text with comma", TextCell("46,466"), 46466, false, false},
		{"full-width digits", TextCell("１２３．５"), 123.5, false, false},
		{"negative number", NumberCell(-3), 0, false, true},
		{"negative text", TextCell("-3"), 0, false, true},
		{"other text", TextCell("秘匿"), 0, false, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ApplyMask(tt.cell)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ApplyMask() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil {
				return
			}
			if got.Value != tt.wantValue || got.BelowThreshold != tt.wantMasked {
				t.Errorf("ApplyMask() = %+v, want {Value:%v BelowThreshold:%v}", got, tt.wantValue, tt.wantMasked)
			}
		})
	}
}
