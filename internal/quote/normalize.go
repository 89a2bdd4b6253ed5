package quote

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"
)

// NormalizeRecord converts one loosely-typed remote record into the
// canonical Quotation shape. The remote store has grown several key
// spellings over time, so every field is resolved against both camelCase
// and snake_case names. The loose map never leaks past this function.
func NormalizeRecord(rec map[string]any, now time.Time) Quotation {
	quoteNumber := strings.TrimSpace(pickString(rec, "quoteNumber", "quote_number", "QuoteNumber", "number"))
	date := normalizeDate(pickString(rec, "date", "Date", "quote_date", "quoteDate"), now)
	customerName := strings.TrimSpace(pickString(rec, "customerName", "customer_name", "CustomerName", "name"))

	q := Quotation{
		ID:              EnsureID(pickString(rec, "id", "Id", "ID", "quote_id", "quoteId"), customerName, date, quoteNumber),
		QuoteNumber:     quoteNumber,
		Date:            date,
		CustomerName:    customerName,
		CustomerPhone:   strings.TrimSpace(pickString(rec, "customerPhone", "customer_phone", "phone")),
		CustomerEmail:   strings.TrimSpace(pickString(rec, "customerEmail", "customer_email", "email")),
		CustomerAddress: strings.TrimSpace(pickString(rec, "customerAddress", "customer_address", "address")),
		VehicleMake:     strings.TrimSpace(pickString(rec, "vehicleMake", "vehicle_make")),
		VehicleModel:    strings.TrimSpace(pickString(rec, "vehicleModel", "vehicle_model")),
		VehicleNumber:   strings.TrimSpace(pickString(rec, "vehicleNumber", "vehicle_number", "registration")),
		Items:           normalizeLineItems(pick(rec, "lineItems", "line_items", "items")),
		Discount:        toFloat(pick(rec, "discount", "Discount", "discount_amount")),
		TaxRate:         18,
		Notes:           strings.TrimSpace(pickString(rec, "notes", "Notes", "note")),
		Status:          normalizeStatus(pickString(rec, "status", "Status")),
		OptionQuote:     toBool(pick(rec, "optionQuote", "option_quote", "isOption", "is_option")),
	}
	if raw, ok := firstPresent(rec, "taxRate", "tax_rate", "TaxRate"); ok {
		q.TaxRate = toFloat(raw)
	}
	return q
}

// normalizeLineItems accepts either a structured list or, for rows written
// by older sheet revisions, the list serialized into a single JSON string
// cell.
func normalizeLineItems(v any) []LineItem {
	switch typed := v.(type) {
	case string:
		trimmed := strings.TrimSpace(typed)
		if trimmed == "" {
			return nil
		}
		var raw []map[string]any
		if err := json.Unmarshal([]byte(trimmed), &raw); err != nil {
			return nil
		}
		items := make([]LineItem, 0, len(raw))
		for _, entry := range raw {
			items = append(items, normalizeLineItem(entry))
		}
		return items
	case []any:
		items := make([]LineItem, 0, len(typed))
		for _, entry := range typed {
			rec, ok := entry.(map[string]any)
			if !ok {
				continue
			}
			items = append(items, normalizeLineItem(rec))
		}
		return items
	default:
		return nil
	}
}

func normalizeLineItem(rec map[string]any) LineItem {
	return LineItem{
		ID:          strings.TrimSpace(pickString(rec, "id", "Id", "ID")),
		Description: strings.TrimSpace(pickString(rec, "description", "Description", "desc")),
		Quantity:    toFloat(pick(rec, "quantity", "Quantity", "qty")),
		UnitAmount:  toFloat(pick(rec, "unitAmount", "unit_amount", "UnitAmount", "price", "unitPrice", "unit_price")),
	}
}

func normalizeStatus(raw string) Status {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "sent":
		return StatusSent
	case "accepted":
		return StatusAccepted
	case "rejected":
		return StatusRejected
	case "deleted":
		return StatusDeleted
	default:
		return StatusDraft
	}
}

// normalizeDate reduces any recognizable timestamp to YYYY-MM-DD; an
// unparsable or missing date falls back to the current day.
func normalizeDate(raw string, now time.Time) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return now.Format("2006-01-02")
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02", "2006-01-02 15:04:05", "02/01/2006"} {
		if ts, err := time.Parse(layout, raw); err == nil {
			return ts.Format("2006-01-02")
		}
	}
	if len(raw) >= 10 {
		if _, err := time.Parse("2006-01-02", raw[:10]); err == nil {
			return raw[:10]
		}
	}
	return now.Format("2006-01-02")
}

func pick(rec map[string]any, keys ...string) any {
	v, _ := firstPresent(rec, keys...)
	return v
}

func firstPresent(rec map[string]any, keys ...string) (any, bool) {
	for _, key := range keys {
		if v, ok := rec[key]; ok && v != nil {
			return v, true
		}
	}
	return nil, false
}

func pickString(rec map[string]any, keys ...string) string {
	return toString(pick(rec, keys...))
}

func toString(v any) string {
	switch typed := v.(type) {
	case string:
		return typed
	case float64:
		return strconv.FormatFloat(typed, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(typed)
	case json.Number:
		return typed.String()
	default:
		return ""
	}
}

func toFloat(v any) float64 {
	switch typed := v.(type) {
	case float64:
		return typed
	case int:
		return float64(typed)
	case json.Number:
		f, _ := typed.Float64()
		return f
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(typed), 64)
		if err != nil {
			return 0
		}
		return f
	default:
		return 0
	}
}

func toBool(v any) bool {
	switch typed := v.(type) {
	case bool:
		return typed
	case string:
		parsed, err := strconv.ParseBool(strings.TrimSpace(typed))
		if err != nil {
			return false
		}
		return parsed
	case float64:
		return typed != 0
	default:
		return false
	}
}
