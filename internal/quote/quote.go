package quote

import (
	"errors"
	"fmt"
	"math"
)

var (
	ErrInvalidInput   = errors.New("invalid input")
	ErrSyncInProgress = errors.New("sync already in progress")
	ErrNotFound       = errors.New("not found")
	ErrNetwork        = errors.New("network failure")
	ErrProtocol       = errors.New("protocol failure")
	ErrValidation     = errors.New("validation failure")
)

type Status string

const (
	StatusDraft    Status = "Draft"
	StatusSent     Status = "Sent"
	StatusAccepted Status = "Accepted"
	StatusRejected Status = "Rejected"
	StatusDeleted  Status = "Deleted"
)

type LineItem struct {
	ID          string  `json:"id"`
	Description string  `json:"description"`
	Quantity    float64 `json:"quantity"`
	UnitAmount  float64 `json:"unitAmount"`
}

// Subtotal is the tax-inclusive amount for this line.
func (li LineItem) Subtotal() float64 {
	return li.Quantity * li.UnitAmount
}

type Quotation struct {
	ID              string     `json:"id"`
	QuoteNumber     string     `json:"quoteNumber"`
	Date            string     `json:"date"`
	CustomerName    string     `json:"customerName"`
	CustomerPhone   string     `json:"customerPhone,omitempty"`
	CustomerEmail   string     `json:"customerEmail,omitempty"`
	CustomerAddress string     `json:"customerAddress,omitempty"`
	VehicleMake     string     `json:"vehicleMake,omitempty"`
	VehicleModel    string     `json:"vehicleModel,omitempty"`
	VehicleNumber   string     `json:"vehicleNumber,omitempty"`
	Items           []LineItem `json:"lineItems"`
	Discount        float64    `json:"discount"`
	TaxRate         float64    `json:"taxRate"`
	Notes           string     `json:"notes,omitempty"`
	Status          Status     `json:"status"`
	OptionQuote     bool       `json:"optionQuote,omitempty"`
}

// GrandTotal returns the displayed total: unit amounts are tax inclusive,
// so the total is the item sum minus the fixed discount, rounded to the
// nearest unit. Option quotes present line alternatives that must not be
// summed; for those ok is false and the value is meaningless.
func (q Quotation) GrandTotal() (total float64, ok bool) {
	if q.OptionQuote {
		return 0, false
	}
	sum := 0.0
	for _, item := range q.Items {
		sum += item.Subtotal()
	}
	return math.Round(sum - q.Discount), true
}

// Logger is the minimal logging surface used across the package. A nil
// Logger silences output.
type Logger interface {
	Printf(format string, args ...any)
}

type HTTPError struct {
	StatusCode int
	Body       string
}

func (e *HTTPError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("http %d", e.StatusCode)
	}
	return fmt.Sprintf("http %d: %s", e.StatusCode, e.Body)
}

type ProtocolError struct {
	Message string
}

func (e *ProtocolError) Error() string {
	return "protocol error: " + e.Message
}

func (e *ProtocolError) Is(target error) bool {
	return target == ErrProtocol
}

type NetworkError struct {
	Op  string
	Err error
}

func (e *NetworkError) Error() string {
	return "network error during " + e.Op + ": " + e.Err.Error()
}

func (e *NetworkError) Is(target error) bool {
	return target == ErrNetwork
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	return "validation error: " + e.Message
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}
