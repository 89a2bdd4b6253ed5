package quote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// BestEffortOutcome records what happened to a network call whose failure
// is deliberately tolerated, so callers and tests can still observe it.
type BestEffortOutcome string

const (
	OutcomeSent          BestEffortOutcome = "sent"
	OutcomeFailedIgnored BestEffortOutcome = "failed_ignored"
	OutcomeSkipped       BestEffortOutcome = "skipped"
)

// DeleteOutcome reports both halves of the two-phase delete: the soft
// delete (status flip, primary) and the hard delete (best-effort removal).
type DeleteOutcome struct {
	Soft BestEffortOutcome
	Hard BestEffortOutcome
}

// RemoteStore is the adapter surface consumed by the orchestrator.
type RemoteStore interface {
	Fetch(ctx context.Context) ([]Quotation, error)
	Save(ctx context.Context, q Quotation) error
	Delete(ctx context.Context, q Quotation) DeleteOutcome
}

type SheetClientOptions struct {
	EndpointURL string
	HTTPClient  *http.Client
	MaxRetries  int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Logger      Logger
	Now         func() time.Time
}

// SheetClient talks to the spreadsheet web-app endpoint. The endpoint has
// no transactional guarantees and answers with HTML when misconfigured, so
// every response is treated as suspect until parsed.
type SheetClient struct {
	endpointURL string
	httpClient  *http.Client
	maxRetries  int
	baseDelay   time.Duration
	maxDelay    time.Duration
	logger      Logger
	now         func() time.Time
}

func NewSheetClient(opts SheetClientOptions) (*SheetClient, error) {
	endpoint := strings.TrimSpace(opts.EndpointURL)
	if endpoint == "" {
		return nil, fmt.Errorf("endpoint url is required: %w", ErrInvalidInput)
	}
	if _, err := url.Parse(endpoint); err != nil {
		return nil, fmt.Errorf("invalid endpoint url: %w", err)
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 20 * time.Second}
	}
	maxRetries := opts.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 3
	}
	baseDelay := opts.BaseDelay
	if baseDelay <= 0 {
		baseDelay = 100 * time.Millisecond
	}
	maxDelay := opts.MaxDelay
	if maxDelay <= 0 {
		maxDelay = 2 * time.Second
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &SheetClient{
		endpointURL: endpoint,
		httpClient:  httpClient,
		maxRetries:  maxRetries,
		baseDelay:   baseDelay,
		maxDelay:    maxDelay,
		logger:      opts.Logger,
		now:         now,
	}, nil
}

// Fetch reads every record from the sheet. The cachebuster defeats the
// endpoint's aggressive edge caching. Retries apply to transport failures
// and 429/5xx only; protocol anomalies fail fast.
func (c *SheetClient) Fetch(ctx context.Context) ([]Quotation, error) {
	requestURL := c.actionURL("read")
	requestURL += "&t=" + strconv.FormatInt(c.now().UnixNano(), 10)

	var body []byte
	for attempt := 0; ; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, requestURL, nil)
		if err != nil {
			return nil, err
		}
		resp, err := c.httpClient.Do(req)
		if err != nil {
			if attempt < c.maxRetries {
				if waitErr := sleepContext(ctx, c.retryDelay(attempt+1, "")); waitErr != nil {
					return nil, waitErr
				}
				continue
			}
			return nil, &NetworkError{Op: "fetch", Err: err}
		}
		payload, readErr := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		if readErr != nil {
			return nil, &NetworkError{Op: "fetch", Err: readErr}
		}
		if (resp.StatusCode == http.StatusTooManyRequests || (resp.StatusCode >= 500 && resp.StatusCode <= 599)) && attempt < c.maxRetries {
			if waitErr := sleepContext(ctx, c.retryDelay(attempt+1, resp.Header.Get("Retry-After"))); waitErr != nil {
				return nil, waitErr
			}
			continue
		}
		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			return nil, &HTTPError{StatusCode: resp.StatusCode, Body: bodySnippet(payload)}
		}
		body = payload
		break
	}

	records, err := decodeEnvelope(body)
	if err != nil {
		return nil, err
	}
	now := c.now()
	quotes := make([]Quotation, 0, len(records))
	for _, rec := range records {
		q := NormalizeRecord(rec, now)
		// The sheet itself may carry soft-deleted rows; they are dropped
		// here independently of any local tombstone filtering.
		if q.Status == StatusDeleted {
			continue
		}
		quotes = append(quotes, q)
	}
	return quotes, nil
}

// Save uploads one quotation. Success is inferred optimistically: the
// endpoint routinely answers saves with HTML or free-form text, so only a
// transport-level failure is surfaced.
func (c *SheetClient) Save(ctx context.Context, q Quotation) error {
	payload := map[string]any{
		"action": "save",
		"quote":  serializeQuote(q),
	}
	resp, err := c.postJSON(ctx, c.actionURL("save"), payload)
	if err != nil {
		return &NetworkError{Op: "save", Err: err}
	}
	if resp.statusCode < 200 || resp.statusCode > 299 {
		c.logf("save returned status %d; assuming eventual write", resp.statusCode)
		return nil
	}
	trimmed := strings.TrimSpace(string(resp.body))
	if strings.HasPrefix(trimmed, "<") {
		c.logf("save returned HTML body; assuming eventual write")
		return nil
	}
	if trimmed != "" && !json.Valid(resp.body) {
		c.logf("save returned unparsable body; assuming eventual write")
	}
	return nil
}

// Delete soft-deletes the record (primary) and then fires a best-effort
// hard delete. If even the soft delete cannot be transported, the hard
// delete is attempted as a last resort. Nothing here blocks the caller:
// deletion is always honored locally regardless of the backend outcome.
func (c *SheetClient) Delete(ctx context.Context, q Quotation) DeleteOutcome {
	outcome := DeleteOutcome{Soft: OutcomeSkipped, Hard: OutcomeSkipped}

	softCopy := q
	softCopy.Status = StatusDeleted
	softPayload := map[string]any{
		"action": "save",
		"quote":  serializeQuote(softCopy),
	}
	if _, err := c.postJSON(ctx, c.actionURL("save"), softPayload); err != nil {
		c.logf("soft delete for %s failed: %v; falling back to hard delete", q.ID, err)
		outcome.Soft = OutcomeFailedIgnored
		outcome.Hard = c.hardDelete(ctx, q)
		return outcome
	}
	outcome.Soft = OutcomeSent
	outcome.Hard = c.hardDelete(ctx, q)
	return outcome
}

func (c *SheetClient) hardDelete(ctx context.Context, q Quotation) BestEffortOutcome {
	payload := map[string]any{
		"action":       "delete",
		"id":           q.ID,
		"Id":           q.ID,
		"ID":           q.ID,
		"quote_number": q.QuoteNumber,
		"quoteNumber":  q.QuoteNumber,
	}
	resp, err := c.postJSON(ctx, c.actionURL("delete"), payload)
	if err != nil {
		c.logf("hard delete for %s failed: %v", q.ID, err)
		return OutcomeFailedIgnored
	}
	if resp.statusCode < 200 || resp.statusCode > 299 {
		c.logf("hard delete for %s returned status %d", q.ID, resp.statusCode)
		return OutcomeFailedIgnored
	}
	return OutcomeSent
}

// serializeQuote duplicates the identifier under every key spelling the
// backend has been seen to match rows on.
func serializeQuote(q Quotation) map[string]any {
	id := strings.TrimSpace(q.ID)
	return map[string]any{
		"id":              id,
		"Id":              id,
		"ID":              id,
		"quoteNumber":     q.QuoteNumber,
		"quote_number":    q.QuoteNumber,
		"date":            q.Date,
		"customerName":    q.CustomerName,
		"customerPhone":   q.CustomerPhone,
		"customerEmail":   q.CustomerEmail,
		"customerAddress": q.CustomerAddress,
		"vehicleMake":     q.VehicleMake,
		"vehicleModel":    q.VehicleModel,
		"vehicleNumber":   q.VehicleNumber,
		"lineItems":       q.Items,
		"discount":        q.Discount,
		"taxRate":         q.TaxRate,
		"notes":           q.Notes,
		"status":          string(q.Status),
		"optionQuote":     q.OptionQuote,
	}
}

type sheetResponse struct {
	statusCode int
	body       []byte
}

func (c *SheetClient) postJSON(ctx context.Context, requestURL string, payload any) (sheetResponse, error) {
	bodyBytes, err := json.Marshal(payload)
	if err != nil {
		return sheetResponse{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, requestURL, bytes.NewReader(bodyBytes))
	if err != nil {
		return sheetResponse{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return sheetResponse{}, err
	}
	respBody, readErr := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if readErr != nil {
		return sheetResponse{}, readErr
	}
	return sheetResponse{statusCode: resp.StatusCode, body: respBody}, nil
}

// decodeEnvelope accepts the three success shapes the endpoint has shipped
// over time: {"status":...,"data":[...]}, a bare array, and {"data":[...]}.
func decodeEnvelope(body []byte) ([]map[string]any, error) {
	trimmed := strings.TrimSpace(string(body))
	if strings.HasPrefix(trimmed, "<") {
		return nil, &ProtocolError{Message: "endpoint returned HTML; check the web-app deployment URL"}
	}
	var parsed any
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, &ProtocolError{Message: "endpoint returned unparsable body: " + bodySnippet(body)}
	}
	var rawRecords []any
	switch typed := parsed.(type) {
	case []any:
		rawRecords = typed
	case map[string]any:
		data, ok := typed["data"].([]any)
		if !ok {
			return nil, &ProtocolError{Message: "endpoint response has no data array"}
		}
		rawRecords = data
	default:
		return nil, &ProtocolError{Message: "unexpected endpoint response shape"}
	}
	records := make([]map[string]any, 0, len(rawRecords))
	for _, entry := range rawRecords {
		if rec, ok := entry.(map[string]any); ok {
			records = append(records, rec)
		}
	}
	return records, nil
}

func (c *SheetClient) actionURL(action string) string {
	separator := "?"
	if strings.Contains(c.endpointURL, "?") {
		separator = "&"
	}
	return c.endpointURL + separator + "action=" + url.QueryEscape(action)
}

func (c *SheetClient) retryDelay(attempt int, retryAfterHeader string) time.Duration {
	if retryAfter := parseRetryAfterSeconds(retryAfterHeader); retryAfter > 0 {
		if retryAfter > c.maxDelay {
			return c.maxDelay
		}
		return retryAfter
	}
	delay := c.baseDelay
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= c.maxDelay {
			return c.maxDelay
		}
	}
	if delay > c.maxDelay {
		return c.maxDelay
	}
	return delay
}

func (c *SheetClient) logf(format string, args ...any) {
	if c.logger != nil {
		c.logger.Printf(format, args...)
	}
}

func parseRetryAfterSeconds(header string) time.Duration {
	header = strings.TrimSpace(header)
	if header == "" {
		return 0
	}
	seconds, err := strconv.Atoi(header)
	if err != nil || seconds < 0 {
		return 0
	}
	return time.Duration(seconds) * time.Second
}

func sleepContext(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func bodySnippet(body []byte) string {
	snippet := strings.TrimSpace(string(body))
	if len(snippet) > 120 {
		snippet = snippet[:120]
	}
	return snippet
}
