package workbook

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"strings"
	"unicode/utf8"

	"github.com/JonMunkholm/ndbmedicine/internal/core"
	"golang.org/x/text/encoding/japanese"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// Encoding is the character encoding of a CSV export.
type Encoding int

const (
	// EncodingAuto picks UTF-8 when the input starts with a BOM or its
	// first block is valid UTF-8, and Shift_JIS otherwise.
	EncodingAuto Encoding = iota
	EncodingUTF8
	EncodingShiftJIS
)

func (e Encoding) String() string {
	switch e {
	case EncodingUTF8:
		return "utf-8"
	case EncodingShiftJIS:
		return "shift_jis"
	default:
		return "auto"
	}
}

// ParseEncoding accepts "auto", "utf-8"/"utf8" and "shift_jis"/"sjis"/"cp932".
func ParseEncoding(s string) (Encoding, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "auto":
		return EncodingAuto, nil
	case "utf-8", "utf8":
		return EncodingUTF8, nil
	case "shift_jis", "shift-jis", "sjis", "cp932":
		return EncodingShiftJIS, nil
	}
	return EncodingAuto, fmt.Errorf("unknown encoding %q", s)
}

const sniffBytes = 4096

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// Decode returns a UTF-8 reader over r. A UTF-8 BOM is dropped and invalid
// UTF-8 sequences become U+FFFD.
func Decode(r io.Reader, enc Encoding) io.Reader {
	br := bufio.NewReaderSize(r, sniffBytes)
	if enc == EncodingAuto {
		enc = sniff(br)
	}
	if enc == EncodingShiftJIS {
		return transform.NewReader(br, japanese.ShiftJIS.NewDecoder())
	}
	return transform.NewReader(br, unicode.UTF8BOM.NewDecoder())
}

func sniff(br *bufio.Reader) Encoding {
	head, err := br.Peek(sniffBytes)
	if bytes.HasPrefix(head, utf8BOM) {
		return EncodingUTF8
	}
	// A full peek may end inside a multi-byte sequence.
	cut := 0
	if err == nil {
		cut = utf8.UTFMax - 1
	}
	for i := 0; i <= cut && i <= len(head); i++ {
		if utf8.Valid(head[:len(head)-i]) {
			return EncodingUTF8
		}
	}
	return EncodingShiftJIS
}

// ReadCSV parses a single-sheet CSV export laid out like a published sheet.
// The care setting is taken from name when present.
func ReadCSV(r io.Reader, name string, enc Encoding) ([]Sheet, error) {
	cr := csv.NewReader(Decode(r, enc))
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true

	raw, err := cr.ReadAll()
	if err != nil {
		return nil, core.Mismatch(name, -1, -1, "read csv: %v", err)
	}

	sheet, ok, err := buildSheet(name, "", raw, nil)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, core.Mismatch(name, -1, -1, "header row %q not found in the first %d rows",
			core.ColClassCode.Label(), headerSearchRows)
	}
	sheet.CareSetting = core.FindCareSetting(name)
	return []Sheet{sheet}, nil
}
