package layouts

import (
	"fmt"
	"strings"

	"github.com/JonMunkholm/ndbmedicine/internal/core"
)

func init() {
	registerGeographic()
}

func registerGeographic() {
	core.Register(core.LayoutDefinition{
		Kind:            core.LayoutGeographic,
		Sentinel:        core.Category{Code: core.GeographicTotalCode, Label: core.TotalLabel},
		CategoryColumns: []string{"都道府県コード", "都道府県名"},
		ParseIdentifier: parsePrefectureIdentifier,
		CategoryValues: func(c core.Category) []string {
			return []string{c.Code, c.Label}
		},
		ParseCategoryValues: func(v []string) (core.Category, error) {
			if len(v) != 2 {
				return core.Category{}, fmt.Errorf("geographic category: %d values, want 2", len(v))
			}
			code := strings.TrimSpace(v[0])
			if code != core.GeographicTotalCode {
				var err error
				if code, err = NormalizePrefectureCode(code); err != nil {
					return core.Category{}, fmt.Errorf("geographic category: %w", err)
				}
			}
			return core.Category{Code: code, Label: v[1]}, nil
		},
	})
}

// parsePrefectureIdentifier reads "CC[ 名称]", e.g. "01 北海道", "1" or a
// bare prefecture name.
func parsePrefectureIdentifier(text string) (core.Category, error) {
	fields := strings.FieldsFunc(strings.TrimSpace(text), func(r rune) bool {
		return r == ' ' || r == '　' || r == '\t'
	})
	if len(fields) == 0 || len(fields) > 2 {
		return core.Category{}, fmt.Errorf("want \"code[ name]\"")
	}

	code, err := NormalizePrefectureCode(fields[0])
	if err != nil {
		// Some sheets carry only the name.
		if len(fields) == 1 {
			if c, ok := PrefectureCode(fields[0]); ok {
				return core.Category{Code: c, Label: Prefectures[c]}, nil
			}
		}
		return core.Category{}, err
	}

	name := Prefectures[code]
	if len(fields) == 2 {
		name = fields[1]
	}
	return core.Category{Code: code, Label: name}, nil
}
