package quote

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestLedgerRecordMatchesAnyIdentity(t *testing.T) {
	kv := NewMemoryStore()
	ledger := NewLedger(kv, nil)

	q := Quotation{ID: "row_1", QuoteNumber: "Q-1", Date: "2024-01-05", CustomerName: "Ravi"}
	ledger.Record(q)

	if !ledger.Contains(Quotation{ID: "row_1"}) {
		t.Fatalf("expected match on id")
	}
	if !ledger.Contains(Quotation{ID: "other", QuoteNumber: "q-1"}) {
		t.Fatalf("expected match on normalized quote number")
	}
	if !ledger.Contains(Quotation{ID: "other", QuoteNumber: "Q-1", Date: "2024-01-05", CustomerName: " RAVI "}) {
		t.Fatalf("expected match on fingerprint")
	}
	if ledger.Contains(Quotation{ID: "unrelated", QuoteNumber: "Q-9", Date: "2024-02-01", CustomerName: "Priya"}) {
		t.Fatalf("unrelated quote must not match")
	}
}

func TestLedgerSurvivesReload(t *testing.T) {
	kv := NewMemoryStore()
	NewLedger(kv, nil).Record(Quotation{ID: "row_1", QuoteNumber: "Q-1", Date: "2024-01-05", CustomerName: "Ravi"})

	reloaded := NewLedger(kv, nil)
	if !reloaded.Contains(Quotation{ID: "row_1"}) {
		t.Fatalf("expected tombstone to survive reload")
	}
}

func TestLedgerResurrectClearsAllSets(t *testing.T) {
	kv := NewMemoryStore()
	ledger := NewLedger(kv, nil)
	q := Quotation{ID: "row_1", QuoteNumber: "Q-1", Date: "2024-01-05", CustomerName: "Ravi"}
	ledger.Record(q)
	ledger.Resurrect(q)

	if ledger.Contains(Quotation{ID: "row_1"}) {
		t.Fatalf("id tombstone not cleared")
	}
	if ledger.Contains(Quotation{ID: "x", QuoteNumber: "Q-1"}) {
		t.Fatalf("number tombstone not cleared")
	}
	if ledger.Contains(Quotation{ID: "x", QuoteNumber: "y", Date: "2024-01-05", CustomerName: "Ravi"}) {
		t.Fatalf("fingerprint tombstone not cleared")
	}
}

func TestLedgerMigratesLegacySingleList(t *testing.T) {
	kv := NewMemoryStore()
	legacy, _ := json.Marshal([]string{"old_1", " OLD_2 "})
	if err := kv.Set(legacyLedgerStorageKey, string(legacy)); err != nil {
		t.Fatalf("seed legacy ledger failed: %v", err)
	}

	ledger := NewLedger(kv, nil)
	if !ledger.Contains(Quotation{ID: "old_1"}) {
		t.Fatalf("legacy id not migrated")
	}
	if !ledger.Contains(Quotation{ID: "old_2"}) {
		t.Fatalf("legacy id not normalized during migration")
	}
	if _, ok, _ := kv.Get(legacyLedgerStorageKey); !ok {
		t.Fatalf("legacy key must stay in place for older builds")
	}
}

// brokenKV fails every write, simulating unavailable storage.
type brokenKV struct{}

func (brokenKV) Get(string) (string, bool, error) { return "", false, nil }
func (brokenKV) Set(string, string) error         { return errors.New("storage unavailable") }
func (brokenKV) Close() error                     { return nil }

func TestLedgerDegradesToMemoryWhenStorageFails(t *testing.T) {
	ledger := NewLedger(brokenKV{}, nil)
	q := Quotation{ID: "row_1", QuoteNumber: "Q-1", Date: "2024-01-05", CustomerName: "Ravi"}

	ledger.Record(q)
	if !ledger.Contains(Quotation{ID: "row_1"}) {
		t.Fatalf("in-memory ledger must still work when persistence fails")
	}
}
