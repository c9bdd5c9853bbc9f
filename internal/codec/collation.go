package codec

import (
	"strings"

	"golang.org/x/text/collate"
	"golang.org/x/text/language"
)

// Collation identifies how TagText cells compare and hash for indexing
// (spec §4.11: "binary / case-insensitive / RTrim / Unicode / locale-aware").
type Collation int

const (
	CollationBinary Collation = iota
	CollationCaseInsensitive
	CollationRTrim
	CollationUnicode
	CollationLocale
)

// ParseCollation parses the configuration string (spec §6: collation
// names are case-sensitive identifiers, "Locale:<BCP-47 tag>" for
// CollationLocale).
func ParseCollation(s string) (Collation, language.Tag, error) {
	switch {
	case s == "" || s == "Binary":
		return CollationBinary, language.Und, nil
	case s == "CaseInsensitive":
		return CollationCaseInsensitive, language.Und, nil
	case s == "RTrim":
		return CollationRTrim, language.Und, nil
	case s == "Unicode":
		return CollationUnicode, language.Und, nil
	case strings.HasPrefix(s, "Locale:"):
		tag, err := language.Parse(strings.TrimPrefix(s, "Locale:"))
		if err != nil {
			return CollationBinary, language.Und, err
		}
		return CollationLocale, tag, nil
	default:
		return CollationBinary, language.Und, nil
	}
}

// Comparer compares text cells under one collation.
//
// Grounded on golang.org/x/text/collate, already a direct dependency of
// the teacher's go.mod (used there for locale-aware ORDER BY); repurposed
// here as the index/heap layer's key comparison function so B-tree and
// hash index ordering honors the same collation the teacher's query
// engine uses for sorting.
type Comparer struct {
	kind Collation
	col  *collate.Collator
}

// NewComparer builds a Comparer for the given collation/locale.
func NewComparer(kind Collation, tag language.Tag) *Comparer {
	c := &Comparer{kind: kind}
	if kind == CollationUnicode || kind == CollationLocale {
		t := tag
		if t == language.Und {
			t = language.Und
		}
		c.col = collate.New(t)
	}
	return c
}

// Compare returns -1, 0, or 1 comparing a and b under the collation.
func (c *Comparer) Compare(a, b string) int {
	switch c.kind {
	case CollationCaseInsensitive:
		la, lb := strings.ToLower(a), strings.ToLower(b)
		return strings.Compare(la, lb)
	case CollationRTrim:
		ra, rb := strings.TrimRight(a, " "), strings.TrimRight(b, " ")
		return strings.Compare(ra, rb)
	case CollationUnicode, CollationLocale:
		return c.col.CompareString(a, b)
	default: // CollationBinary
		return strings.Compare(a, b)
	}
}

// Equal reports whether a and b compare equal under the collation.
func (c *Comparer) Equal(a, b string) bool { return c.Compare(a, b) == 0 }

// Key returns a normalized representation of s suitable for hashing under
// the collation (so that Equal(a,b) implies Key(a) == Key(b)).
func (c *Comparer) Key(s string) string {
	switch c.kind {
	case CollationCaseInsensitive:
		return strings.ToLower(s)
	case CollationRTrim:
		return strings.TrimRight(s, " ")
	case CollationUnicode, CollationLocale:
		var cb collate.Buffer
		return string(c.col.Key(&cb, []byte(s)))
	default:
		return s
	}
}
