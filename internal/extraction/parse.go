package extraction

import (
	"encoding/json"
	"fmt"
	"strings"
)

// parsePayload turns the model's free-text response into a classified Result.
// The response is expected to contain exactly one JSON object; we take the
// first top-level brace-delimited span and parse that. This is the single
// place model output is interpreted, so the brittleness stays contained here.
func parsePayload(text string) (*Result, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, ErrEmptyResponse
	}

	// Remove markdown code fences if present
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(strings.TrimSpace(text), "```")
	text = strings.TrimSpace(text)

	startIdx := strings.Index(text, "{")
	if startIdx == -1 {
		return nil, fmt.Errorf("%w: no JSON object found", ErrMalformed)
	}
	endIdx := strings.LastIndex(text, "}")
	if endIdx == -1 || endIdx < startIdx {
		return nil, fmt.Errorf("%w: unterminated JSON object", ErrMalformed)
	}

	var payload map[string]any
	if err := json.Unmarshal([]byte(text[startIdx:endIdx+1]), &payload); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	return Classify(payload), nil
}

// Classify builds the tagged Result for a raw extracted mapping. It is also
// used to re-derive the typed view after a field edit, so shape logic lives
// in exactly one place. Values are carried over as-is; no numeric coercion
// happens here.
func Classify(payload map[string]any) *Result {
	res := &Result{Fields: payload}

	switch str(payload, "documentType") {
	case "invoice":
		res.Kind = KindInvoice
		res.Invoice = classifyInvoice(payload)
	case "ledger":
		res.Kind = KindLedger
		res.Ledger = classifyLedger(payload)
	default:
		res.Kind = KindUnstructured
	}

	return res
}

func classifyInvoice(payload map[string]any) *Invoice {
	inv := &Invoice{
		PartyName: str(payload, "partyName", "supplierName"),
		BillNo:    str(payload, "billNo"),
		BillDate:  str(payload, "billDate"),
		Total:     payload["total"],
		Discount:  payload["discount"],
		NetTotal:  payload["netTotal"],
	}

	// items may be missing or malformed; anything that is not a list of
	// objects is left out of the typed view but survives in Fields
	for _, entry := range list(payload, "items") {
		row, ok := entry.(map[string]any)
		if !ok {
			continue
		}
		inv.Items = append(inv.Items, LineItem{
			Name:      str(row, "item", "name"),
			Quantity:  firstOf(row, "qty", "quantity"),
			UnitPrice: firstOf(row, "unitPrice", "price"),
			Amount:    row["amount"],
		})
	}

	return inv
}

func classifyLedger(payload map[string]any) *Ledger {
	led := &Ledger{
		PartyName: str(payload, "partyName"),
		NetTotal:  payload["netTotal"],
	}

	for _, entry := range list(payload, "transactions") {
		row, ok := entry.(map[string]any)
		if !ok {
			continue
		}
		led.Transactions = append(led.Transactions, LedgerRow{
			Date:        str(row, "date"),
			Particulars: str(row, "particulars"),
			Debit:       row["debit"],
			Credit:      row["credit"],
			Balance:     row["balance"],
		})
	}

	return led
}

// str returns the first of the named keys that holds a string.
func str(m map[string]any, keys ...string) string {
	for _, k := range keys {
		if s, ok := m[k].(string); ok {
			return s
		}
	}
	return ""
}

// firstOf returns the first of the named keys that is present.
func firstOf(m map[string]any, keys ...string) any {
	for _, k := range keys {
		if v, ok := m[k]; ok {
			return v
		}
	}
	return nil
}

func list(m map[string]any, key string) []any {
	l, _ := m[key].([]any)
	return l
}
