package layouts

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"

	"golang.org/x/text/width"
)

// Prefectures lists the JIS X 0401 prefecture names by code.
var Prefectures = map[string]string{
	"01": "北海道",
	"02": "青森県",
	"03": "岩手県",
	"04": "宮城県",
	"05": "秋田県",
	"06": "山形県",
	"07": "福島県",
	"08": "茨城県",
	"09": "栃木県",
	"10": "群馬県",
	"11": "埼玉県",
	"12": "千葉県",
	"13": "東京都",
	"14": "神奈川県",
	"15": "新潟県",
	"16": "富山県",
	"17": "石川県",
	"18": "福井県",
	"19": "山梨県",
	"20": "長野県",
	"21": "岐阜県",
	"22": "静岡県",
	"23": "愛知県",
	"24": "三重県",
	"25": "滋賀県",
	"26": "京都府",
	"27": "大阪府",
	"28": "兵庫県",
	"29": "奈良県",
	"30": "和歌山県",
	"31": "鳥取県",
	"32": "島根県",
	"33": "岡山県",
	"34": "広島県",
	"35": "山口県",
	"36": "徳島県",
	"37": "香川県",
	"38": "愛媛県",
	"39": "高知県",
	"40": "福岡県",
	"41": "佐賀県",
	"42": "長崎県",
	"43": "熊本県",
	"44": "大分県",
	"45": "宮崎県",
	"46": "鹿児島県",
	"47": "沖縄県",
}

var prefectureCodes = func() map[string]string {
	m := make(map[string]string, len(Prefectures))
	for code, name := range Prefectures {
		m[name] = code
	}
	return m
}()

// PrefectureCode looks up the code for a prefecture name. The suffix
// (都, 府, 県) may be omitted.
func PrefectureCode(name string) (string, bool) {
	name = strings.TrimSpace(name)
	if code, ok := prefectureCodes[name]; ok {
		return code, true
	}
	for _, suffix := range []string{"都", "府", "県"} {
		if code, ok := prefectureCodes[name+suffix]; ok {
			return code, true
		}
	}
	return "", false
}

// NormalizePrefectureCode zero-pads a 1 or 2 digit code and checks its range.
func NormalizePrefectureCode(s string) (string, error) {
	s = strings.TrimSpace(width.Fold.String(s))
	n, err := strconv.Atoi(s)
	if err != nil || n < 1 || n > len(Prefectures) {
		return "", fmt.Errorf("invalid prefecture code %q", s)
	}
	return fmt.Sprintf("%02d", n), nil
}

// NormalizeSex shortens the published sex header (男性, 女性) to 男 or 女.
func NormalizeSex(s string) string {
	return strings.ReplaceAll(strings.TrimSpace(s), "性", "")
}

// LeadingInt returns the integer prefix of an age bracket such as
// "75～79歳" or "１００歳以上".
func LeadingInt(s string) (int, error) {
	s = strings.TrimSpace(width.Fold.String(s))
	end := strings.IndexFunc(s, func(r rune) bool { return !unicode.IsDigit(r) })
	if end == -1 {
		end = len(s)
	}
	if end == 0 {
		return 0, fmt.Errorf("no leading number in %q", s)
	}
	return strconv.Atoi(s[:end])
}
