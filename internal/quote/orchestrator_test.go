package quote

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"
)

// fakeRemote is an in-memory stand-in for the sheet endpoint.
type fakeRemote struct {
	mu          sync.Mutex
	records     []Quotation
	fetchErr    error
	fetchGate   chan struct{}
	saveErr     error
	saved       []Quotation
	deleted     []Quotation
	fetchCalls  int
	deleteCalls int
}

func (f *fakeRemote) Fetch(ctx context.Context) ([]Quotation, error) {
	f.mu.Lock()
	f.fetchCalls++
	gate := f.fetchGate
	err := f.fetchErr
	records := copyQuotes(f.records)
	f.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}
	return records, nil
}

func (f *fakeRemote) Save(ctx context.Context, q Quotation) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.saveErr != nil {
		return f.saveErr
	}
	f.saved = append(f.saved, q)
	return nil
}

func (f *fakeRemote) Delete(ctx context.Context, q Quotation) DeleteOutcome {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleteCalls++
	f.deleted = append(f.deleted, q)
	return DeleteOutcome{Soft: OutcomeSent, Hard: OutcomeFailedIgnored}
}

func newTestOrchestrator(remote *fakeRemote) *Orchestrator {
	return NewOrchestrator(OrchestratorOptions{
		Remote:         remote,
		KV:             NewMemoryStore(),
		DeleteCooldown: 20 * time.Millisecond,
	})
}

func TestRefreshPopulatesCanonicalList(t *testing.T) {
	remote := &fakeRemote{records: []Quotation{
		{ID: "row_1", QuoteNumber: "Q-1", Date: "2024-01-05", CustomerName: "Ravi"},
	}}
	orch := newTestOrchestrator(remote)
	defer orch.Close()

	if err := orch.Refresh(context.Background()); err != nil {
		t.Fatalf("refresh failed: %v", err)
	}
	quotes := orch.Snapshot()
	if len(quotes) != 1 || quotes[0].ID != "row_1" {
		t.Fatalf("unexpected snapshot: %+v", quotes)
	}
	if status := orch.Status(); status.LastError != "" {
		t.Fatalf("expected clean error slot, got %q", status.LastError)
	}
}

func TestDeleteThenBackgroundRefreshNeverResurrects(t *testing.T) {
	q := Quotation{ID: "row_1", QuoteNumber: "Q-1", Date: "2024-01-05", CustomerName: "Ravi"}
	remote := &fakeRemote{records: []Quotation{q}}
	orch := newTestOrchestrator(remote)
	defer orch.Close()

	if err := orch.Refresh(context.Background()); err != nil {
		t.Fatalf("refresh failed: %v", err)
	}
	if err := orch.Delete(context.Background(), "row_1"); err != nil {
		t.Fatalf("delete failed: %v", err)
	}

	// The remote still returns the record; the tombstone plus the pause
	// flag must keep it out of the visible list.
	orch.BackgroundRefresh(context.Background())
	if quotes := orch.Snapshot(); len(quotes) != 0 {
		t.Fatalf("deleted quote resurrected by background refresh: %+v", quotes)
	}
	if remote.deleteCalls != 1 {
		t.Fatalf("expected one remote delete, got %d", remote.deleteCalls)
	}
}

func TestBackgroundRefreshSkippedWhilePaused(t *testing.T) {
	remote := &fakeRemote{records: []Quotation{
		{ID: "row_1", QuoteNumber: "Q-1", Date: "2024-01-05", CustomerName: "Ravi"},
	}}
	orch := newTestOrchestrator(remote)
	defer orch.Close()
	if err := orch.Refresh(context.Background()); err != nil {
		t.Fatalf("refresh failed: %v", err)
	}
	fetchesBefore := remote.fetchCalls

	if err := orch.Delete(context.Background(), "row_1"); err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	orch.BackgroundRefresh(context.Background())
	if remote.fetchCalls != fetchesBefore {
		t.Fatalf("background refresh must not fetch while paused")
	}
	if status := orch.Status(); status.State != SyncPaused {
		t.Fatalf("expected paused state, got %q", status.State)
	}
}

func TestInFlightFetchDiscardedWhenPausedMidFlight(t *testing.T) {
	q := Quotation{ID: "row_1", QuoteNumber: "Q-1", Date: "2024-01-05", CustomerName: "Ravi"}
	gate := make(chan struct{})
	remote := &fakeRemote{records: []Quotation{q}, fetchGate: gate}
	orch := newTestOrchestrator(remote)
	defer orch.Close()

	// Seed the local list without the network: create locally, then
	// delete mid-flight.
	seeded, err := orch.CreateOrUpdate(context.Background(), q)
	if err != nil {
		t.Fatalf("seed failed: %v", err)
	}

	done := make(chan struct{})
	go func() {
		orch.BackgroundRefresh(context.Background())
		close(done)
	}()

	waitFor(t, func() bool {
		remote.mu.Lock()
		defer remote.mu.Unlock()
		return remote.fetchCalls > 0
	})

	if err := orch.Delete(context.Background(), seeded.ID); err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	close(gate)
	<-done

	if quotes := orch.Snapshot(); len(quotes) != 0 {
		t.Fatalf("in-flight fetch result applied despite pause: %+v", quotes)
	}
}

func TestDeletePauseResumesAfterCooldown(t *testing.T) {
	q := Quotation{ID: "row_1", QuoteNumber: "Q-1", Date: "2024-01-05", CustomerName: "Ravi"}
	remote := &fakeRemote{records: []Quotation{q}}
	orch := newTestOrchestrator(remote)
	defer orch.Close()
	if err := orch.Refresh(context.Background()); err != nil {
		t.Fatalf("refresh failed: %v", err)
	}
	if err := orch.Delete(context.Background(), "row_1"); err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	if status := orch.Status(); status.State != SyncPaused {
		t.Fatalf("expected paused immediately after delete, got %q", status.State)
	}
	waitFor(t, func() bool { return orch.Status().State == SyncIdle })
}

func TestExplicitRefreshClearsPause(t *testing.T) {
	q := Quotation{ID: "row_1", QuoteNumber: "Q-1", Date: "2024-01-05", CustomerName: "Ravi"}
	remote := &fakeRemote{records: []Quotation{q}}
	orch := newTestOrchestrator(remote)
	defer orch.Close()
	if err := orch.Refresh(context.Background()); err != nil {
		t.Fatalf("refresh failed: %v", err)
	}
	if err := orch.Delete(context.Background(), "row_1"); err != nil {
		t.Fatalf("delete failed: %v", err)
	}

	if err := orch.Refresh(context.Background()); err != nil {
		t.Fatalf("explicit refresh failed: %v", err)
	}
	if status := orch.Status(); status.State != SyncIdle {
		t.Fatalf("expected idle after explicit refresh, got %q", status.State)
	}
	// The tombstone still filters the deleted record even though the
	// pause was cleared.
	if quotes := orch.Snapshot(); len(quotes) != 0 {
		t.Fatalf("tombstoned quote came back: %+v", quotes)
	}
}

func TestResaveResurrectsTombstonedIdentity(t *testing.T) {
	q := Quotation{ID: "row_1", QuoteNumber: "Q-1", Date: "2024-01-05", CustomerName: "Ravi"}
	remote := &fakeRemote{records: []Quotation{q}}
	orch := newTestOrchestrator(remote)
	defer orch.Close()
	if err := orch.Refresh(context.Background()); err != nil {
		t.Fatalf("refresh failed: %v", err)
	}
	if err := orch.Delete(context.Background(), "row_1"); err != nil {
		t.Fatalf("delete failed: %v", err)
	}

	if _, err := orch.CreateOrUpdate(context.Background(), q); err != nil {
		t.Fatalf("re-save failed: %v", err)
	}
	if err := orch.Refresh(context.Background()); err != nil {
		t.Fatalf("refresh failed: %v", err)
	}
	quotes := orch.Snapshot()
	if len(quotes) != 1 || quotes[0].ID != "row_1" {
		t.Fatalf("expected resurrected quote after refresh, got %+v", quotes)
	}
}

func TestForegroundErrorSurfacesBackgroundErrorDoesNot(t *testing.T) {
	remote := &fakeRemote{fetchErr: &ProtocolError{Message: "endpoint returned HTML"}}
	orch := newTestOrchestrator(remote)
	defer orch.Close()

	err := orch.Refresh(context.Background())
	if !errors.Is(err, ErrProtocol) {
		t.Fatalf("expected protocol error, got %v", err)
	}
	if status := orch.Status(); !strings.Contains(status.LastError, "HTML") {
		t.Fatalf("expected visible error slot, got %q", status.LastError)
	}

	// A later successful foreground sync clears the slot; a failing
	// background sync must not repopulate it.
	remote.mu.Lock()
	remote.fetchErr = nil
	remote.mu.Unlock()
	if err := orch.Refresh(context.Background()); err != nil {
		t.Fatalf("refresh failed: %v", err)
	}
	remote.mu.Lock()
	remote.fetchErr = &NetworkError{Op: "fetch", Err: errors.New("blip")}
	remote.mu.Unlock()
	orch.BackgroundRefresh(context.Background())
	if status := orch.Status(); status.LastError != "" {
		t.Fatalf("background failure leaked into error slot: %q", status.LastError)
	}
}

func TestBackgroundFailureLeavesListUnchanged(t *testing.T) {
	q := Quotation{ID: "row_1", QuoteNumber: "Q-1", Date: "2024-01-05", CustomerName: "Ravi"}
	remote := &fakeRemote{records: []Quotation{q}}
	orch := newTestOrchestrator(remote)
	defer orch.Close()
	if err := orch.Refresh(context.Background()); err != nil {
		t.Fatalf("refresh failed: %v", err)
	}

	remote.mu.Lock()
	remote.fetchErr = &ProtocolError{Message: "endpoint returned HTML"}
	remote.mu.Unlock()
	orch.BackgroundRefresh(context.Background())

	if quotes := orch.Snapshot(); len(quotes) != 1 {
		t.Fatalf("existing list must survive a failed background sync: %+v", quotes)
	}
}

func TestCreateOrUpdateAssignsIDAndPersistsBeforePush(t *testing.T) {
	remote := &fakeRemote{saveErr: errors.New("upload failed")}
	kv := NewMemoryStore()
	orch := NewOrchestrator(OrchestratorOptions{Remote: remote, KV: kv, DeleteCooldown: time.Millisecond})
	defer orch.Close()

	saved, err := orch.CreateOrUpdate(context.Background(), Quotation{
		QuoteNumber:  "Q-7",
		CustomerName: "Priya",
	})
	if err == nil {
		t.Fatalf("expected remote save failure to surface")
	}
	if IsPlaceholderID(saved.ID) {
		t.Fatalf("expected a real id to be assigned, got %q", saved.ID)
	}
	if saved.Status != StatusDraft {
		t.Fatalf("expected default Draft status, got %q", saved.Status)
	}

	// Local durability wins: the quote is in the cache despite the
	// failed upload.
	raw, ok, _ := kv.Get(quoteCacheStorageKey)
	if !ok || !strings.Contains(raw, "Q-7") {
		t.Fatalf("expected quote persisted locally before push, got %q", raw)
	}
}

func TestRefreshRejectsConcurrentForegroundSync(t *testing.T) {
	gate := make(chan struct{})
	remote := &fakeRemote{fetchGate: gate}
	orch := newTestOrchestrator(remote)
	defer orch.Close()

	done := make(chan error, 1)
	go func() { done <- orch.Refresh(context.Background()) }()
	waitFor(t, func() bool {
		remote.mu.Lock()
		defer remote.mu.Unlock()
		return remote.fetchCalls > 0
	})

	if err := orch.Refresh(context.Background()); !errors.Is(err, ErrSyncInProgress) {
		t.Fatalf("expected ErrSyncInProgress, got %v", err)
	}
	close(gate)
	if err := <-done; err != nil {
		t.Fatalf("first refresh failed: %v", err)
	}
}

func TestSubscribersReceiveUpdates(t *testing.T) {
	remote := &fakeRemote{records: []Quotation{
		{ID: "row_1", QuoteNumber: "Q-1", Date: "2024-01-05", CustomerName: "Ravi"},
	}}
	orch := newTestOrchestrator(remote)
	defer orch.Close()

	updates := orch.Subscribe()
	defer orch.Unsubscribe(updates)

	if err := orch.Refresh(context.Background()); err != nil {
		t.Fatalf("refresh failed: %v", err)
	}
	select {
	case quotes := <-updates:
		if len(quotes) != 1 || quotes[0].ID != "row_1" {
			t.Fatalf("unexpected update payload: %+v", quotes)
		}
	case <-time.After(time.Second):
		t.Fatalf("no update delivered")
	}
}

func TestCacheSurvivesRestart(t *testing.T) {
	kv := NewMemoryStore()
	remote := &fakeRemote{records: []Quotation{
		{ID: "row_1", QuoteNumber: "Q-1", Date: "2024-01-05", CustomerName: "Ravi"},
	}}
	first := NewOrchestrator(OrchestratorOptions{Remote: remote, KV: kv})
	if err := first.Refresh(context.Background()); err != nil {
		t.Fatalf("refresh failed: %v", err)
	}
	first.Close()

	second := NewOrchestrator(OrchestratorOptions{Remote: remote, KV: kv})
	defer second.Close()
	if quotes := second.Snapshot(); len(quotes) != 1 || quotes[0].ID != "row_1" {
		t.Fatalf("expected cached quotes on restart, got %+v", quotes)
	}
}

func waitFor(t *testing.T, condition func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if condition() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met within deadline")
}
