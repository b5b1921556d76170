package policy

import (
	"strings"
	"testing"
)

func TestRedactPII(t *testing.T) {
	input := "Escribeme a ana@example.com o al +34 (612) 345-678 y paga con 4242 4242 4242 4242."
	out, found := RedactPII(input)
	if len(found) != 3 {
		t.Fatalf("categories = %v, want email, card and phone", found)
	}
	for _, marker := range []string{"[REDACTED_EMAIL]", "[REDACTED_PHONE]", "[REDACTED_CARD]"} {
		if !strings.Contains(out, marker) {
			t.Fatalf("output missing marker %q: %q", marker, out)
		}
	}
}

func TestRedactPIINationalID(t *testing.T) {
	out, found := RedactPII("mi DNI es 12345678Z y el NIE X1234567L")
	if len(found) != 1 || found[0] != CategoryNationID {
		t.Fatalf("categories = %v, want [%s]", found, CategoryNationID)
	}
	if strings.Contains(out, "12345678Z") || strings.Contains(out, "X1234567L") {
		t.Fatalf("national ids not redacted: %q", out)
	}
}

func TestRedactPIIPlainTextUnchanged(t *testing.T) {
	in := "hola, que tal el dia"
	out, found := RedactPII(in)
	if out != in || len(found) != 0 {
		t.Fatalf("RedactPII(%q) = %q %v, want unchanged", in, out, found)
	}
}
