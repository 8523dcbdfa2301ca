package bill

import (
	"regexp"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/wexel/wexel/internal/extraction"
)

// billNoPattern matches the first run of optional '#' followed by digits in
// a ledger particulars string ("Bill #035" -> "035").
var billNoPattern = regexp.MustCompile(`#?(\d+)`)

// Canonicalize derives the single monetary figure used for aggregation and
// display. It is pure and total: invalid or missing data degrades to zero
// rather than erroring, because partial bill data is still useful to a
// human reviewer.
//
// Invoice:      netTotal, else total, else 0.
// Ledger:       netTotal, else the bill transaction's debit, else 0.
// Unstructured: the total field if numeric, else 0.
func Canonicalize(res *extraction.Result) decimal.Decimal {
	if res == nil {
		return decimal.Zero
	}

	switch res.Kind {
	case extraction.KindInvoice:
		if res.Invoice == nil {
			return decimal.Zero
		}
		if d, ok := toDecimal(res.Invoice.NetTotal); ok {
			return d
		}
		if d, ok := toDecimal(res.Invoice.Total); ok {
			return d
		}
		return decimal.Zero

	case extraction.KindLedger:
		if res.Ledger == nil {
			return decimal.Zero
		}
		if d, ok := toDecimal(res.Ledger.NetTotal); ok {
			return d
		}
		if line, ok := LedgerBillLine(res.Ledger); ok {
			return line.Debit
		}
		return decimal.Zero

	default:
		if d, ok := toDecimal(res.Fields["total"]); ok {
			return d
		}
		return decimal.Zero
	}
}

// LedgerBillView is the bill transaction surfaced from a ledger document:
// the row that represents the billed amount, as opposed to payments and
// receipts.
type LedgerBillView struct {
	BillNo   string
	BillDate string
	Debit    decimal.Decimal
}

// LedgerBillLine scans the transaction list exactly once and returns the
// first row whose particulars contain "bill" (case-insensitive) with a
// strictly positive debit. First match wins under document row order, so
// the result is deterministic for a given list.
func LedgerBillLine(l *extraction.Ledger) (LedgerBillView, bool) {
	if l == nil {
		return LedgerBillView{}, false
	}
	for _, txn := range l.Transactions {
		if !strings.Contains(strings.ToLower(txn.Particulars), "bill") {
			continue
		}
		debit, ok := toDecimal(txn.Debit)
		if !ok || !debit.IsPositive() {
			continue
		}
		view := LedgerBillView{
			BillDate: txn.Date,
			Debit:    debit,
		}
		if m := billNoPattern.FindStringSubmatch(txn.Particulars); m != nil {
			view.BillNo = m[1]
		}
		return view, true
	}
	return LedgerBillView{}, false
}

// RowView is the fixed invoice-shaped row every bill renders to, regardless
// of document kind. Ledger bills populate it from their bill transaction;
// bills with neither invoice nor ledger data render blank/zero.
type RowView struct {
	PartyName string          `json:"party_name"`
	BillNo    string          `json:"bill_no"`
	BillDate  string          `json:"bill_date"`
	Total     decimal.Decimal `json:"total"`
	Discount  decimal.Decimal `json:"discount"`
	NetTotal  decimal.Decimal `json:"net_total"`
}

// ViewOf builds the canonicalized row view for a stored record.
func ViewOf(r *Record) RowView {
	res := extraction.Classify(r.Fields)

	switch res.Kind {
	case extraction.KindLedger:
		view := RowView{
			PartyName: res.Ledger.PartyName,
			Total:     r.CanonicalTotal,
			NetTotal:  r.CanonicalTotal,
		}
		if line, ok := LedgerBillLine(res.Ledger); ok {
			view.BillNo = line.BillNo
			view.BillDate = line.BillDate
		}
		return view

	case extraction.KindInvoice:
		view := RowView{
			PartyName: res.Invoice.PartyName,
			BillNo:    res.Invoice.BillNo,
			BillDate:  res.Invoice.BillDate,
			NetTotal:  r.CanonicalTotal,
		}
		if d, ok := toDecimal(res.Invoice.Total); ok {
			view.Total = d
		}
		if d, ok := toDecimal(res.Invoice.Discount); ok {
			view.Discount = d
		}
		return view

	default:
		return RowView{NetTotal: r.CanonicalTotal, Total: r.CanonicalTotal}
	}
}

// toDecimal attempts numeric coercion of a raw extracted value. The adapter
// passes monetary fields through untouched, so anything can show up here:
// JSON numbers, stringified amounts with thousands separators, or garbage.
func toDecimal(v any) (decimal.Decimal, bool) {
	switch n := v.(type) {
	case nil:
		return decimal.Zero, false
	case float64:
		return decimal.NewFromFloat(n), true
	case float32:
		return decimal.NewFromFloat32(n), true
	case int:
		return decimal.NewFromInt(int64(n)), true
	case int64:
		return decimal.NewFromInt(n), true
	case decimal.Decimal:
		return n, true
	case string:
		s := strings.TrimSpace(strings.ReplaceAll(n, ",", ""))
		if s == "" {
			return decimal.Zero, false
		}
		d, err := decimal.NewFromString(s)
		if err != nil {
			return decimal.Zero, false
		}
		return d, true
	default:
		return decimal.Zero, false
	}
}
