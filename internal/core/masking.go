package core

import (
	"fmt"
	"strings"
)

// MaskingThreshold is the minimum aggregation unit (最小集計単位) below
// which the publisher replaces a quantity with a marker.
type MaskingThreshold struct {
	DosageForm DosageForm
	Round      Round
	Value      int
}

const (
	defaultThreshold    = 1000
	injectableThreshold = 400

	// injectableThresholdSince is the first round that masks injectables at 400.
	injectableThresholdSince Round = 3
)

// ResolveThreshold returns the masking threshold for a dosage form and round.
func ResolveThreshold(dosage DosageForm, round Round) MaskingThreshold {
	v := defaultThreshold
	if dosage == DosageInjectable && round >= injectableThresholdSince {
		v = injectableThreshold
	}
	return MaskingThreshold{DosageForm: dosage, Round: round, Value: v}
}

// Quantity is a masked or unmasked prescription amount.
type Quantity struct {
	Value          float64
	BelowThreshold bool
}

// maskMarkers are the placeholders used for suppressed cells. Publications
// use the hyphen-minus; the rest are width and dash variants seen in
// hand-edited exports.
var maskMarkers = []string{"-", "－", "‐", "−", "―"}

// IsMaskMarker reports whether text is a suppression placeholder.
func IsMaskMarker(text string) bool {
	t := strings.TrimSpace(text)
	for _, m := range maskMarkers {
		if t == m {
			return true
		}
	}
	return false
}

// ApplyMask interprets a quantity cell. Markers and empty cells become
// zero with BelowThreshold set; numbers pass through unchanged. The
// threshold is never consulted: masking is decided by the publisher.
func ApplyMask(c Cell) (Quantity, error) {
	if c.IsBlank() {
		return Quantity{BelowThreshold: true}, nil
	}
	if c.Kind == CellText && IsMaskMarker(c.Text) {
		return Quantity{BelowThreshold: true}, nil
	}

	v, err := CellFloat(c)
	if err != nil {
		return Quantity{}, fmt.Errorf("quantity: %w", err)
	}
	if v < 0 {
		return Quantity{}, fmt.Errorf("quantity: negative value %v", v)
	}
	return Quantity{Value: v}, nil
}
