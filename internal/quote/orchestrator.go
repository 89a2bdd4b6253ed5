package quote

import (
	"context"
	"encoding/json"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	quoteCacheStorageKey = "quotes"
	settingsStorageKey   = "company_details"

	defaultDeleteCooldown = 8 * time.Second
)

// SyncState is the orchestrator's externally visible state.
type SyncState string

const (
	SyncIdle    SyncState = "idle"
	SyncSyncing SyncState = "syncing"
	SyncPaused  SyncState = "paused"
)

// SyncStatus is what the UI renders next to the list.
type SyncStatus struct {
	State     SyncState `json:"state"`
	LastError string    `json:"lastError,omitempty"`
	LastSync  string    `json:"lastSync,omitempty"`
}

type OrchestratorOptions struct {
	Remote         RemoteStore
	KV             KVStore
	Logger         Logger
	DeleteCooldown time.Duration
}

// Orchestrator owns the canonical local quotation set and coordinates it
// against the remote store. Local truth wins: every mutation is durable
// locally before any network call, and the pause flag keeps an in-flight
// background fetch from resurrecting a record the user just deleted.
type Orchestrator struct {
	remote         RemoteStore
	kv             KVStore
	ledger         *Ledger
	logger         Logger
	deleteCooldown time.Duration

	mu          sync.Mutex
	quotes      []Quotation
	syncing     bool
	paused      bool
	lastError   string
	lastSync    time.Time
	resumeTimer *time.Timer
	subscribers map[chan []Quotation]struct{}
}

func NewOrchestrator(opts OrchestratorOptions) *Orchestrator {
	cooldown := opts.DeleteCooldown
	if cooldown <= 0 {
		cooldown = defaultDeleteCooldown
	}
	o := &Orchestrator{
		remote:         opts.Remote,
		kv:             opts.KV,
		ledger:         NewLedger(opts.KV, opts.Logger),
		logger:         opts.Logger,
		deleteCooldown: cooldown,
		subscribers:    map[chan []Quotation]struct{}{},
	}
	o.loadCache()
	return o
}

// Ledger exposes the tombstone ledger for backup export/restore.
func (o *Orchestrator) Ledger() *Ledger {
	return o.ledger
}

// Snapshot returns a copy of the canonical quotation list, newest date
// first.
func (o *Orchestrator) Snapshot() []Quotation {
	o.mu.Lock()
	defer o.mu.Unlock()
	return copyQuotes(o.quotes)
}

func (o *Orchestrator) Status() SyncStatus {
	o.mu.Lock()
	defer o.mu.Unlock()
	status := SyncStatus{State: SyncIdle, LastError: o.lastError}
	if o.paused {
		status.State = SyncPaused
	}
	if o.syncing {
		status.State = SyncSyncing
	}
	if !o.lastSync.IsZero() {
		status.LastSync = o.lastSync.UTC().Format(time.RFC3339)
	}
	return status
}

// Refresh is the foreground sync: triggered by explicit user action or app
// start. Only one may run at a time; an explicit refresh clears any delete
// pause. Errors land in the user-visible error slot and are returned.
func (o *Orchestrator) Refresh(ctx context.Context) error {
	o.mu.Lock()
	if o.syncing {
		o.mu.Unlock()
		return ErrSyncInProgress
	}
	o.syncing = true
	o.paused = false
	o.cancelResumeTimerLocked()
	o.mu.Unlock()

	err := o.fetchAndApply(ctx, false)

	o.mu.Lock()
	o.syncing = false
	if err != nil {
		o.lastError = err.Error()
	} else {
		o.lastError = ""
		o.lastSync = time.Now()
	}
	o.mu.Unlock()
	return err
}

// BackgroundRefresh runs on the periodic schedule. It is skipped entirely
// while a foreground sync is running or while paused, and its failures are
// logged only — transient blips never reach the error slot.
func (o *Orchestrator) BackgroundRefresh(ctx context.Context) {
	o.mu.Lock()
	if o.syncing || o.paused {
		o.mu.Unlock()
		return
	}
	o.syncing = true
	o.mu.Unlock()

	err := o.fetchAndApply(ctx, true)

	o.mu.Lock()
	o.syncing = false
	if err == nil {
		o.lastSync = time.Now()
	}
	o.mu.Unlock()
	if err != nil {
		o.logf("background refresh failed: %v", err)
	}
}

// fetchAndApply performs the fetch and, if still permitted, applies the
// result. The pause flag is re-checked after the fetch resolves: a delete
// may have started while the request was in flight, and its results must
// then be discarded rather than applied.
func (o *Orchestrator) fetchAndApply(ctx context.Context, discardWhenPaused bool) error {
	fetched, err := o.remote.Fetch(ctx)
	if err != nil {
		return err
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	if discardWhenPaused && o.paused {
		o.logf("discarding fetch results: paused during flight")
		return nil
	}
	visible := make([]Quotation, 0, len(fetched))
	for _, q := range fetched {
		if o.ledger.Contains(q) {
			continue
		}
		visible = append(visible, q)
	}
	sortQuotes(visible)
	o.quotes = visible
	o.persistCacheLocked()
	o.notifyLocked()
	return nil
}

// CreateOrUpdate persists the quotation locally first, resurrects any
// matching tombstones, then pushes to the remote store. A failed upload
// leaves the remote stale but never loses local data.
func (o *Orchestrator) CreateOrUpdate(ctx context.Context, q Quotation) (Quotation, error) {
	if IsPlaceholderID(q.ID) {
		q.ID = uuid.NewString()
	}
	q.ID = strings.TrimSpace(q.ID)
	q.Date = normalizeDate(q.Date, time.Now())
	if q.Status == "" {
		q.Status = StatusDraft
	}
	if q.TaxRate == 0 {
		q.TaxRate = 18
	}

	o.ledger.Resurrect(q)

	o.mu.Lock()
	replaced := false
	for i := range o.quotes {
		if o.quotes[i].ID == q.ID {
			o.quotes[i] = q
			replaced = true
			break
		}
	}
	if !replaced {
		o.quotes = append(o.quotes, q)
	}
	sortQuotes(o.quotes)
	o.persistCacheLocked()
	o.notifyLocked()
	o.mu.Unlock()

	if err := o.remote.Save(ctx, q); err != nil {
		o.mu.Lock()
		o.lastError = err.Error()
		o.mu.Unlock()
		return q, err
	}
	return q, nil
}

// Delete tombstones and removes the quotation locally, then issues the
// best-effort remote delete. Ordering is load-bearing: pause first, then
// ledger write, then local removal, and only then the network call.
// Background syncing resumes after a cooldown so the backend has time to
// converge before its next read is trusted.
func (o *Orchestrator) Delete(ctx context.Context, id string) error {
	o.mu.Lock()
	var target *Quotation
	for i := range o.quotes {
		if o.quotes[i].ID == id {
			q := o.quotes[i]
			target = &q
			break
		}
	}
	if target == nil {
		o.mu.Unlock()
		return ErrNotFound
	}
	o.paused = true
	o.cancelResumeTimerLocked()
	o.mu.Unlock()

	o.ledger.Record(*target)

	o.mu.Lock()
	kept := o.quotes[:0]
	for _, q := range o.quotes {
		if q.ID != id {
			kept = append(kept, q)
		}
	}
	o.quotes = kept
	o.persistCacheLocked()
	o.notifyLocked()
	o.mu.Unlock()

	outcome := o.remote.Delete(ctx, *target)
	o.logf("remote delete for %s: soft=%s hard=%s", id, outcome.Soft, outcome.Hard)

	o.mu.Lock()
	o.cancelResumeTimerLocked()
	o.resumeTimer = time.AfterFunc(o.deleteCooldown, o.resumeAfterCooldown)
	o.mu.Unlock()
	return nil
}

func (o *Orchestrator) resumeAfterCooldown() {
	o.mu.Lock()
	o.paused = false
	o.resumeTimer = nil
	o.mu.Unlock()
}

// Subscribe registers a channel that receives the canonical list after
// every change. The channel is never closed by the orchestrator; callers
// must Unsubscribe.
func (o *Orchestrator) Subscribe() chan []Quotation {
	ch := make(chan []Quotation, 4)
	o.mu.Lock()
	o.subscribers[ch] = struct{}{}
	o.mu.Unlock()
	return ch
}

func (o *Orchestrator) Unsubscribe(ch chan []Quotation) {
	o.mu.Lock()
	delete(o.subscribers, ch)
	o.mu.Unlock()
}

// Settings returns the stored company details used by the UI and backups.
func (o *Orchestrator) Settings() map[string]string {
	details := map[string]string{}
	if o.kv == nil {
		return details
	}
	raw, ok, err := o.kv.Get(settingsStorageKey)
	if err != nil || !ok {
		return details
	}
	if err := json.Unmarshal([]byte(raw), &details); err != nil {
		o.logf("settings unparsable: %v", err)
		return map[string]string{}
	}
	return details
}

func (o *Orchestrator) SaveSettings(details map[string]string) error {
	if o.kv == nil {
		return nil
	}
	data, err := json.Marshal(details)
	if err != nil {
		return err
	}
	return o.kv.Set(settingsStorageKey, string(data))
}

// Close stops the pending resume timer, if any.
func (o *Orchestrator) Close() {
	o.mu.Lock()
	o.cancelResumeTimerLocked()
	o.mu.Unlock()
}

func (o *Orchestrator) cancelResumeTimerLocked() {
	if o.resumeTimer != nil {
		o.resumeTimer.Stop()
		o.resumeTimer = nil
	}
}

func (o *Orchestrator) loadCache() {
	if o.kv == nil {
		return
	}
	raw, ok, err := o.kv.Get(quoteCacheStorageKey)
	if err != nil {
		o.logf("quote cache load failed: %v; starting empty", err)
		return
	}
	if !ok {
		return
	}
	var cached []Quotation
	if err := json.Unmarshal([]byte(raw), &cached); err != nil {
		o.logf("quote cache unparsable: %v; starting empty", err)
		return
	}
	sortQuotes(cached)
	o.quotes = cached
}

func (o *Orchestrator) persistCacheLocked() {
	if o.kv == nil {
		return
	}
	data, err := json.Marshal(o.quotes)
	if err != nil {
		o.logf("quote cache marshal failed: %v", err)
		return
	}
	if err := o.kv.Set(quoteCacheStorageKey, string(data)); err != nil {
		o.logf("quote cache persist failed: %v", err)
	}
}

func (o *Orchestrator) notifyLocked() {
	snapshot := copyQuotes(o.quotes)
	for ch := range o.subscribers {
		select {
		case ch <- snapshot:
		default:
		}
	}
}

func (o *Orchestrator) logf(format string, args ...any) {
	if o.logger != nil {
		o.logger.Printf(format, args...)
	}
}

func copyQuotes(in []Quotation) []Quotation {
	out := make([]Quotation, len(in))
	copy(out, in)
	return out
}

func sortQuotes(quotes []Quotation) {
	sort.SliceStable(quotes, func(i, j int) bool {
		if quotes[i].Date != quotes[j].Date {
			return quotes[i].Date > quotes[j].Date
		}
		return quotes[i].QuoteNumber > quotes[j].QuoteNumber
	})
}
