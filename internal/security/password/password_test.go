package password

import (
	"strings"
	"testing"
)

// fast params so tests don't burn CPU on the production cost factor
var testParams = Params{Memory: 8 * 1024, Time: 1, Parallelism: 1, KeyLen: 32}

func TestHashVerify_RoundTrip(t *testing.T) {
	phc, err := Hash(testParams, "correct horse battery staple")
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	if !strings.HasPrefix(phc, "$argon2id$v=19$") {
		t.Fatalf("unexpected PHC prefix: %q", phc)
	}
	if !Verify("correct horse battery staple", phc) {
		t.Fatal("expected verify true for matching password")
	}
	if Verify("correct horse battery stapler", phc) {
		t.Fatal("expected verify false for wrong password")
	}
}

func TestHash_SaltsDiffer(t *testing.T) {
	a, err := Hash(testParams, "same-input")
	if err != nil {
		t.Fatal(err)
	}
	b, err := Hash(testParams, "same-input")
	if err != nil {
		t.Fatal(err)
	}
	if a == b {
		t.Fatal("two hashes of the same password must not be equal")
	}
}

func TestVerify_Malformed(t *testing.T) {
	bad := []string{
		"",
		"$argon2id$v=19$m=8192,t=1,p=1$onlyonesegment",
		"$bcrypt$v=19$m=8192,t=1,p=1$c2FsdA$ZGs",
		"$argon2id$v=18$m=8192,t=1,p=1$c2FsdA$ZGs",
		"$argon2id$v=19$m=0,t=0,p=0$c2FsdA$ZGs",
		"$argon2id$v=19$m=8192,t=1,p=1$!!notb64!!$ZGs",
	}
	for _, phc := range bad {
		if Verify("anything", phc) {
			t.Fatalf("expected verify false for malformed hash %q", phc)
		}
	}
}

func TestHash_EmptyPassword(t *testing.T) {
	if _, err := Hash(testParams, ""); err == nil {
		t.Fatal("expected error for empty password")
	}
}

func TestPolicy_Check(t *testing.T) {
	p := Policy{MinLength: 10, RequireUpper: true, RequireDigit: true}

	ok, _ := p.Check("Aa1aaaaaaa")
	if !ok {
		t.Fatal("expected compliant password to pass")
	}

	cases := map[string][]string{
		"Aa1":        {"too_short"},
		"aaaaaaaaa1": {"missing_upper"},
		"Aaaaaaaaaa": {"missing_digit"},
		"short":      {"too_short", "missing_upper", "missing_digit"},
	}
	for pw, want := range cases {
		ok, reasons := p.Check(pw)
		if ok {
			t.Fatalf("expected %q to fail", pw)
		}
		if len(reasons) != len(want) {
			t.Fatalf("%q: got reasons %v, want %v", pw, reasons, want)
		}
		for i := range want {
			if reasons[i] != want[i] {
				t.Fatalf("%q: got reasons %v, want %v", pw, reasons, want)
			}
		}
	}
}
