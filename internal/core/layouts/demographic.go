package layouts

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/JonMunkholm/ndbmedicine/internal/core"
	"golang.org/x/text/width"
)

func init() {
	registerDemographic()
}

func registerDemographic() {
	core.Register(core.LayoutDefinition{
		Kind:            core.LayoutDemographic,
		Sentinel:        core.Category{Age: core.DemographicTotalAge, Label: core.TotalLabel},
		CategoryColumns: []string{"性別", "年齢", "年齢区間"},
		ParseIdentifier: parseAgeIdentifier,
		CategoryValues: func(c core.Category) []string {
			return []string{c.Sex, strconv.Itoa(c.Age), c.Label}
		},
		ParseCategoryValues: func(v []string) (core.Category, error) {
			if len(v) != 3 {
				return core.Category{}, fmt.Errorf("demographic category: %d values, want 3", len(v))
			}
			age, err := strconv.Atoi(strings.TrimSpace(v[1]))
			if err != nil {
				return core.Category{}, fmt.Errorf("demographic category: age %q: %w", v[1], err)
			}
			return core.Category{Sex: v[0], Age: age, Label: v[2]}, nil
		},
	})
}

// parseAgeIdentifier reads "[性別 ]年齢区間", e.g. "男性 75～79歳" or "0～4歳".
func parseAgeIdentifier(text string) (core.Category, error) {
	fields := strings.Fields(width.Fold.String(text))
	var sex, bracket string
	switch len(fields) {
	case 1:
		bracket = fields[0]
	case 2:
		sex, bracket = NormalizeSex(fields[0]), fields[1]
	default:
		return core.Category{}, fmt.Errorf("want \"[sex ]age bracket\"")
	}

	age, err := LeadingInt(bracket)
	if err != nil {
		return core.Category{}, err
	}

	// Keep the bracket as published apart from the sex prefix.
	label := strings.TrimSpace(text)
	if sex != "" {
		label = lastField(label)
	}
	return core.Category{Sex: sex, Age: age, Label: label}, nil
}

func lastField(s string) string {
	f := strings.FieldsFunc(s, func(r rune) bool { return r == ' ' || r == '　' || r == '\t' })
	return f[len(f)-1]
}
