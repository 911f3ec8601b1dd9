package tenant

import "testing"

func TestParseID_Valid(t *testing.T) {
	cases := map[string]ID{
		"westside":          "westside",
		"Westside":          "westside",
		"  metro_youth  ":   "metro_youth",
		"east-bay":          "east_bay", // subdomain label form
		"league42":          "league42",
		"_internal":         "_internal",
	}
	for in, want := range cases {
		got, err := ParseID(in)
		if err != nil {
			t.Fatalf("ParseID(%q): %v", in, err)
		}
		if got != want {
			t.Fatalf("ParseID(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestParseID_Invalid(t *testing.T) {
	long := make([]byte, 64)
	for i := range long {
		long[i] = 'a'
	}
	cases := []string{
		"",
		"   ",
		"42league",          // leading digit
		"west side",         // space
		"league;drop table", // injection shape
		"liga/año",          // non-ascii
		string(long),        // over identifier limit
	}
	for _, in := range cases {
		if _, err := ParseID(in); err == nil {
			t.Fatalf("ParseID(%q): expected error", in)
		}
	}
}

func TestSchemaNameIsQuotedAndPrefixed(t *testing.T) {
	id, err := ParseID("westside")
	if err != nil {
		t.Fatal(err)
	}
	if got := id.schemaName(); got != `"t_westside"` {
		t.Fatalf("schemaName = %s", got)
	}
}
