package quote

import (
	"bytes"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

const backupVersion = 2

// Backup is the downloadable export shape. Restore accepts the same shape
// and requires at least a quotes array.
type Backup struct {
	Version            int               `json:"version"`
	Timestamp          string            `json:"timestamp"`
	CompanyDetails     map[string]string `json:"companyDetails,omitempty"`
	Quotes             []Quotation       `json:"quotes"`
	BlacklistedIds     []string          `json:"blacklistedIds"`
	BlacklistedNumbers []string          `json:"blacklistedNumbers"`
}

const backupSchemaJSON = `{
	"$schema": "https://json-schema.org/draft/2020-12/schema",
	"type": "object",
	"required": ["quotes"],
	"properties": {
		"version": {"type": "integer"},
		"timestamp": {"type": "string"},
		"companyDetails": {"type": "object"},
		"quotes": {
			"type": "array",
			"items": {"type": "object"}
		},
		"blacklistedIds": {"type": "array", "items": {"type": "string"}},
		"blacklistedNumbers": {"type": "array", "items": {"type": "string"}}
	}
}`

var (
	backupSchemaOnce sync.Once
	backupSchema     *jsonschema.Schema
	backupSchemaErr  error
)

func compiledBackupSchema() (*jsonschema.Schema, error) {
	backupSchemaOnce.Do(func() {
		doc, err := jsonschema.UnmarshalJSON(strings.NewReader(backupSchemaJSON))
		if err != nil {
			backupSchemaErr = err
			return
		}
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource("backup.schema.json", doc); err != nil {
			backupSchemaErr = err
			return
		}
		backupSchema, backupSchemaErr = compiler.Compile("backup.schema.json")
	})
	return backupSchema, backupSchemaErr
}

// Export assembles the full downloadable backup.
func (o *Orchestrator) Export() Backup {
	ids, numbers := o.ledger.Snapshot()
	return Backup{
		Version:            backupVersion,
		Timestamp:          time.Now().UTC().Format(time.RFC3339),
		CompanyDetails:     o.Settings(),
		Quotes:             o.Snapshot(),
		BlacklistedIds:     ids,
		BlacklistedNumbers: numbers,
	}
}

// Restore validates raw against the backup schema, replaces the local
// quotation cache and merges the blacklists into the ledger. No remote
// calls are made; the next sync reconciles.
func (o *Orchestrator) Restore(raw []byte) error {
	schema, err := compiledBackupSchema()
	if err != nil {
		return err
	}
	inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return &ValidationError{Message: "backup file is not valid JSON"}
	}
	if err := schema.Validate(inst); err != nil {
		return &ValidationError{Message: "backup file rejected: " + err.Error()}
	}

	var backup Backup
	if err := json.Unmarshal(raw, &backup); err != nil {
		return &ValidationError{Message: "backup file has unexpected field types"}
	}

	now := time.Now()
	restored := make([]Quotation, 0, len(backup.Quotes))
	for _, q := range backup.Quotes {
		q.ID = EnsureID(q.ID, q.CustomerName, q.Date, q.QuoteNumber)
		q.Date = normalizeDate(q.Date, now)
		if q.Status == "" {
			q.Status = StatusDraft
		}
		if q.Status == StatusDeleted {
			continue
		}
		restored = append(restored, q)
	}
	sortQuotes(restored)

	o.ledger.Merge(backup.BlacklistedIds, backup.BlacklistedNumbers)
	if len(backup.CompanyDetails) > 0 {
		if err := o.SaveSettings(backup.CompanyDetails); err != nil {
			o.logf("restore: settings persist failed: %v", err)
		}
	}

	o.mu.Lock()
	o.quotes = restored
	o.persistCacheLocked()
	o.notifyLocked()
	o.mu.Unlock()
	return nil
}
