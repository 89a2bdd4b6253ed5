package quote

import (
	"encoding/json"
	"sort"
	"sync"
)

const (
	ledgerStorageKey       = "tombstone_ledger"
	legacyLedgerStorageKey = "deleted_quote_ids"
)

type ledgerSnapshot struct {
	IDs          []string `json:"ids"`
	Numbers      []string `json:"numbers"`
	Fingerprints []string `json:"fingerprints"`
}

// Ledger is the persisted tombstone set. A record is considered deleted
// when ANY of its identifier, quote number, or content fingerprint is
// present — deliberately over-broad, preferring to hide too much over
// resurrecting deleted data.
type Ledger struct {
	kv     KVStore
	logger Logger

	mu           sync.Mutex
	ids          map[string]struct{}
	numbers      map[string]struct{}
	fingerprints map[string]struct{}
	memoryOnly   bool
}

func NewLedger(kv KVStore, logger Logger) *Ledger {
	l := &Ledger{
		kv:           kv,
		logger:       logger,
		ids:          map[string]struct{}{},
		numbers:      map[string]struct{}{},
		fingerprints: map[string]struct{}{},
	}
	l.load()
	return l
}

// Record tombstones the quotation's identifier, number and fingerprint.
// Persists before returning; callers issue the network delete only after
// this succeeds or degrades.
func (l *Ledger) Record(q Quotation) {
	l.mu.Lock()
	defer l.mu.Unlock()
	addNormalized(l.ids, q.ID)
	addNormalized(l.numbers, q.QuoteNumber)
	addNormalized(l.fingerprints, Fingerprint(q.Date, q.CustomerName, q.QuoteNumber))
	l.persistLocked()
}

// Resurrect removes the quotation from all three sets so a re-saved
// identity may reappear from the next sync.
func (l *Ledger) Resurrect(q Quotation) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.ids, normalizeKey(q.ID))
	delete(l.numbers, normalizeKey(q.QuoteNumber))
	delete(l.fingerprints, Fingerprint(q.Date, q.CustomerName, q.QuoteNumber))
	l.persistLocked()
}

// Contains reports whether the quotation matches any tombstone set.
func (l *Ledger) Contains(q Quotation) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.ids[normalizeKey(q.ID)]; ok {
		return true
	}
	if number := normalizeKey(q.QuoteNumber); number != "" {
		if _, ok := l.numbers[number]; ok {
			return true
		}
	}
	_, ok := l.fingerprints[Fingerprint(q.Date, q.CustomerName, q.QuoteNumber)]
	return ok
}

// Merge folds externally supplied tombstones (e.g. from a restored backup)
// into the ledger.
func (l *Ledger) Merge(ids, numbers []string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, id := range ids {
		addNormalized(l.ids, id)
	}
	for _, number := range numbers {
		addNormalized(l.numbers, number)
	}
	l.persistLocked()
}

// Snapshot returns sorted copies of the id and number sets for export.
func (l *Ledger) Snapshot() (ids, numbers []string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return sortedKeys(l.ids), sortedKeys(l.numbers)
}

func (l *Ledger) load() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.kv == nil {
		l.memoryOnly = true
		l.logf("ledger storage unavailable; tombstones are in-memory for this session")
		return
	}
	raw, ok, err := l.kv.Get(ledgerStorageKey)
	if err != nil {
		l.memoryOnly = true
		l.logf("ledger load failed: %v; tombstones are in-memory for this session", err)
		return
	}
	if ok {
		var snapshot ledgerSnapshot
		if err := json.Unmarshal([]byte(raw), &snapshot); err != nil {
			l.logf("ledger snapshot unparsable: %v; starting empty", err)
		} else {
			for _, id := range snapshot.IDs {
				addNormalized(l.ids, id)
			}
			for _, number := range snapshot.Numbers {
				addNormalized(l.numbers, number)
			}
			for _, fp := range snapshot.Fingerprints {
				addNormalized(l.fingerprints, fp)
			}
		}
	}
	l.migrateLegacyLocked()
}

// migrateLegacyLocked folds the old single-list id ledger into the id set.
// The legacy key stays in place so older builds reading the same store
// keep working.
func (l *Ledger) migrateLegacyLocked() {
	raw, ok, err := l.kv.Get(legacyLedgerStorageKey)
	if err != nil || !ok {
		return
	}
	var legacy []string
	if err := json.Unmarshal([]byte(raw), &legacy); err != nil {
		l.logf("legacy ledger unparsable: %v; ignoring", err)
		return
	}
	merged := false
	for _, id := range legacy {
		key := normalizeKey(id)
		if key == "" {
			continue
		}
		if _, exists := l.ids[key]; !exists {
			l.ids[key] = struct{}{}
			merged = true
		}
	}
	if merged {
		l.persistLocked()
	}
}

func (l *Ledger) persistLocked() {
	if l.memoryOnly || l.kv == nil {
		return
	}
	snapshot := ledgerSnapshot{
		IDs:          sortedKeys(l.ids),
		Numbers:      sortedKeys(l.numbers),
		Fingerprints: sortedKeys(l.fingerprints),
	}
	data, err := json.Marshal(snapshot)
	if err != nil {
		l.logf("ledger marshal failed: %v", err)
		return
	}
	if err := l.kv.Set(ledgerStorageKey, string(data)); err != nil {
		l.memoryOnly = true
		l.logf("ledger persist failed: %v; tombstones are in-memory for this session", err)
	}
}

func (l *Ledger) logf(format string, args ...any) {
	if l.logger != nil {
		l.logger.Printf(format, args...)
	}
}

func addNormalized(set map[string]struct{}, raw string) {
	key := normalizeKey(raw)
	if key == "" {
		return
	}
	set[key] = struct{}{}
}

func sortedKeys(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for key := range set {
		out = append(out, key)
	}
	sort.Strings(out)
	return out
}
