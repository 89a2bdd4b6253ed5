package quote

import (
	"strings"
	"testing"
)

func TestEnsureIDTrustsAssignedIdentifiers(t *testing.T) {
	got := EnsureID("row_42", "Ravi", "2024-01-05", "Q-1")
	if got != "row_42" {
		t.Fatalf("expected assigned id to survive, got %q", got)
	}
}

func TestEnsureIDGeneratesForPlaceholders(t *testing.T) {
	for _, raw := range []string{"", "  ", "undefined", "null", "NULL", "Undefined"} {
		got := EnsureID(raw, "Ravi", "2024-01-05", "Q-1")
		if !strings.HasPrefix(got, GeneratedIDPrefix) {
			t.Fatalf("placeholder %q: expected generated prefix, got %q", raw, got)
		}
	}
}

func TestEnsureIDIsDeterministic(t *testing.T) {
	first := EnsureID("", "Ravi", "2024-01-05", "Q-1")
	second := EnsureID("undefined", "RAVI", "2024-01-05", "q-1")
	if first != second {
		t.Fatalf("same content triple produced different ids: %q vs %q", first, second)
	}
}

func TestEnsureIDDistinguishesContentTriples(t *testing.T) {
	ids := map[string]string{}
	triples := [][3]string{
		{"Ravi", "2024-01-05", "Q-1"},
		{"Ravi", "2024-01-05", "Q-2"},
		{"Ravi", "2024-01-06", "Q-1"},
		{"Priya", "2024-01-05", "Q-1"},
	}
	for _, triple := range triples {
		id := EnsureID("", triple[0], triple[1], triple[2])
		if prev, clash := ids[id]; clash {
			t.Fatalf("triple %v collided with %s", triple, prev)
		}
		ids[id] = triple[0] + "/" + triple[1] + "/" + triple[2]
	}
}

func TestFingerprintNormalization(t *testing.T) {
	got := Fingerprint("2024-01-05", "  Ravi   Kumar ", "Q-1")
	want := "2024-01-05_ravi kumar_q-1"
	if got != want {
		t.Fatalf("expected %q, got %q", want, got)
	}
}

func TestNormalizeKeyIsIdempotent(t *testing.T) {
	inputs := []string{"  Ravi   Kumar ", "Q-1", "2024-01-05", "MIXED  Case\tTabs"}
	for _, input := range inputs {
		once := normalizeKey(input)
		twice := normalizeKey(once)
		if once != twice {
			t.Fatalf("normalizeKey not idempotent for %q: %q vs %q", input, once, twice)
		}
	}
}
