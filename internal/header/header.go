// Package header normalizes loosely formatted spreadsheet headers and
// resolves column positions from candidate names.
package header

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var (
	nonKeyChars  = regexp.MustCompile(`[^a-z0-9\-]+`)
	zeroWidth    = strings.NewReplacer("\u00a0", " ", "\u200b", "", "\u200c", "", "\u200d", "")
	stripMarks   = runes.Remove(runes.In(unicode.Mn))
	categoryID   = regexp.MustCompile(`^\s*\d+\s*-\s*(.+)$`)
	rawSheetID   = regexp.MustCompile(`^[A-Za-z0-9\-_]{25,}$`)
	sheetURLPart = regexp.MustCompile(`/spreadsheets/d/([A-Za-z0-9\-_]+)`)
	hexColor     = regexp.MustCompile(`^[0-9A-F]{6}$`)
)

// Norm trims and lower-cases s, folding non-breaking spaces and dropping
// zero-width characters.
func Norm(s string) string {
	return zeroWidth.Replace(strings.ToLower(strings.TrimSpace(s)))
}

// Key reduces a header to its comparison form: diacritics removed and only
// [a-z0-9-] kept.
func Key(s string) string {
	n := Norm(s)
	t := transform.Chain(norm.NFD, stripMarks, norm.NFC)
	if folded, _, err := transform.String(t, n); err == nil {
		n = folded
	}
	return nonKeyChars.ReplaceAllString(n, "")
}

// Keys applies Key to every header cell.
func Keys(row []string) []string {
	out := make([]string, len(row))
	for i, h := range row {
		out[i] = Key(h)
	}
	return out
}

// PickIndex finds the column in a raw header row that best matches one of
// the candidates. Exact matches win over partial ones, and earlier
// candidates win over later ones. Returns -1 when nothing matches.
func PickIndex(row []string, candidates ...string) int {
	keys := Keys(row)
	for _, c := range candidates {
		ck := Key(c)
		for i, k := range keys {
			if k == ck {
				return i
			}
		}
	}
	for _, c := range candidates {
		ck := Key(c)
		if ck == "" {
			continue
		}
		for i, k := range keys {
			if strings.Contains(k, ck) {
				return i
			}
		}
	}
	return -1
}

// FindColumn looks up name (or any alias) in an already keyed header row.
// Columns are scanned left to right, exact matches first.
func FindColumn(keys []string, name string, aliases ...string) int {
	want := make([]string, 0, len(aliases)+1)
	for _, a := range aliases {
		want = append(want, Key(a))
	}
	want = append(want, Key(name))

	for i, k := range keys {
		for _, w := range want {
			if k == w {
				return i
			}
		}
	}
	for i, k := range keys {
		for _, w := range want {
			if w != "" && strings.Contains(k, w) {
				return i
			}
		}
	}
	return -1
}

// StripCategoryID removes a leading numeric id: "101814 - Home & Living/Bath"
// becomes "Home & Living/Bath".
func StripCategoryID(cat string) string {
	if m := categoryID.FindStringSubmatch(cat); m != nil {
		return m[1]
	}
	return cat
}

// TopOfCategory returns the lower-cased first segment of a category path.
func TopOfCategory(cat string) string {
	tail := StripCategoryID(cat)
	for _, sep := range []string{"/", ">", "|", "\\"} {
		if i := strings.Index(tail, sep); i >= 0 {
			tail = tail[:i]
			break
		}
	}
	return strings.ToLower(strings.TrimSpace(tail))
}

// ExtractSheetID accepts a bare spreadsheet id or a spreadsheet URL.
func ExtractSheetID(s string) string {
	s = strings.TrimSpace(s)
	if rawSheetID.MatchString(s) {
		return s
	}
	if m := sheetURLPart.FindStringSubmatch(s); m != nil {
		return m[1]
	}
	return ""
}

// HexColor normalizes "#RRGGBB" to "RRGGBB". Malformed input falls back
// to a light yellow.
func HexColor(hex string) string {
	h := strings.ToUpper(strings.TrimPrefix(strings.TrimSpace(hex), "#"))
	if !hexColor.MatchString(h) {
		return "FFFFB3"
	}
	return h
}

// Cell returns row[i] trimmed, or "" when i is out of range.
func Cell(row []string, i int) string {
	if i < 0 || i >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[i])
}
