package codec

import (
	"testing"

	"golang.org/x/text/language"
)

func TestComparerBinary(t *testing.T) {
	c := NewComparer(CollationBinary, language.Und)
	if c.Compare("abc", "abd") >= 0 {
		t.Fatal("expected abc < abd under binary collation")
	}
	if !c.Equal("abc", "abc") {
		t.Fatal("expected equal strings to compare equal")
	}
}

func TestComparerCaseInsensitive(t *testing.T) {
	c := NewComparer(CollationCaseInsensitive, language.Und)
	if !c.Equal("Hello", "hello") {
		t.Fatal("expected case-insensitive equality")
	}
	if c.Key("ABC") != c.Key("abc") {
		t.Fatal("expected equal keys for case-insensitive collation")
	}
}

func TestComparerRTrim(t *testing.T) {
	c := NewComparer(CollationRTrim, language.Und)
	if !c.Equal("abc  ", "abc") {
		t.Fatal("expected trailing whitespace to be ignored")
	}
	if c.Equal(" abc", "abc") {
		t.Fatal("expected leading whitespace to still matter")
	}
}

func TestParseCollation(t *testing.T) {
	kind, _, err := ParseCollation("CaseInsensitive")
	if err != nil || kind != CollationCaseInsensitive {
		t.Fatalf("got (%v, %v), want CollationCaseInsensitive", kind, err)
	}
	if _, _, err := ParseCollation("Locale:en-US"); err != nil {
		t.Fatalf("unexpected error parsing locale collation: %v", err)
	}
}
