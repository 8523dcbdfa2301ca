package extraction

import (
	"errors"
	"fmt"
)

// DocumentKind identifies which extraction grammar the model matched.
type DocumentKind string

const (
	KindInvoice      DocumentKind = "invoice"
	KindLedger       DocumentKind = "ledger"
	KindUnstructured DocumentKind = "unstructured"
)

var (
	// ErrEmptyResponse means the model returned no content at all.
	ErrEmptyResponse = errors.New("empty response from model")

	// ErrMalformed means the response contained no parseable JSON object.
	ErrMalformed = errors.New("malformed extraction response")
)

// UpstreamError wraps transport, auth and model-side failures.
type UpstreamError struct {
	Err error
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("upstream model error: %v", e.Err)
}

func (e *UpstreamError) Unwrap() error {
	return e.Err
}

// LineItem is one invoice table row. Monetary fields are kept as whatever
// the model returned; coercion is the bill model's job, not the adapter's.
type LineItem struct {
	Name      string `json:"name"`
	Quantity  any    `json:"quantity"`
	UnitPrice any    `json:"unit_price"`
	Amount    any    `json:"amount"`
}

// Invoice is the typed payload for the invoice/bill grammar.
type Invoice struct {
	PartyName string     `json:"party_name"`
	BillNo    string     `json:"bill_no"`
	BillDate  string     `json:"bill_date"` // verbatim, ambiguous format preserved
	Items     []LineItem `json:"items"`
	Total     any        `json:"total"`
	Discount  any        `json:"discount"`
	NetTotal  any        `json:"net_total"`
}

// LedgerRow is one ledger statement row, in document order.
type LedgerRow struct {
	Date        string `json:"date"`
	Particulars string `json:"particulars"`
	Debit       any    `json:"debit"`
	Credit      any    `json:"credit"`
	Balance     any    `json:"balance"`
}

// Ledger is the typed payload for the ledger/account-statement grammar.
type Ledger struct {
	PartyName    string      `json:"party_name"`
	Transactions []LedgerRow `json:"transactions"`
	NetTotal     any         `json:"net_total"`
}

// Result is the tagged extraction outcome. Exactly one of Invoice/Ledger is
// set for the recognized grammars; Fields always carries the full raw
// mapping, including keys the grammars don't know about.
type Result struct {
	Kind    DocumentKind   `json:"kind"`
	Invoice *Invoice       `json:"invoice,omitempty"`
	Ledger  *Ledger        `json:"ledger,omitempty"`
	Fields  map[string]any `json:"fields"`
}

// Extractor analyzes a bill photograph and extracts structured data from it.
type Extractor interface {
	// Extract sends the image to a vision model and parses the result.
	// A single call per invocation; retry policy belongs to the caller.
	Extract(imageData []byte, contentType string) (*Result, error)

	// Close releases provider resources.
	Close() error
}
