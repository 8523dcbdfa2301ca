// Package sheet renders a day's bill records into an xlsx workbook. Build is
// a pure function of its inputs: the same bills in the same order produce the
// same sheets, modulo the workbook's generation timestamp.
package sheet

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"

	"github.com/wexel/wexel/internal/bill"
	"github.com/wexel/wexel/internal/extraction"
)

const (
	billsSheet   = "Bills"
	itemsSheet   = "Items"
	ledgerSheet  = "Ledger"
	summarySheet = "Summary"

	headerFillColor = "4472C4"
	totalsFillColor = "E2EFDA"
)

// Build renders the Bills, Items (if any bill has line items), Ledger (if
// any ledger documents exist) and Summary sheets, and returns the workbook
// bytes. A malformed bill never aborts the export: its item rows are simply
// skipped.
func Build(bills []*bill.Record, date time.Time) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	headerStyle, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true, Color: "FFFFFF"},
		Fill: excelize.Fill{Type: "pattern", Pattern: 1, Color: []string{headerFillColor}},
	})
	if err != nil {
		return nil, fmt.Errorf("creating header style: %w", err)
	}
	totalsStyle, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{Type: "pattern", Pattern: 1, Color: []string{totalsFillColor}},
	})
	if err != nil {
		return nil, fmt.Errorf("creating totals style: %w", err)
	}

	// Classify each record once; the typed views drive every sheet
	views := make([]bill.RowView, len(bills))
	results := make([]*extraction.Result, len(bills))
	for i, b := range bills {
		views[i] = bill.ViewOf(b)
		results[i] = extraction.Classify(b.Fields)
	}

	if err := writeBillsSheet(f, bills, views, headerStyle, totalsStyle); err != nil {
		return nil, err
	}
	if err := writeItemsSheet(f, results, headerStyle); err != nil {
		return nil, err
	}
	if err := writeLedgerSheet(f, results, headerStyle); err != nil {
		return nil, err
	}
	if err := writeSummarySheet(f, bills, views, date, headerStyle); err != nil {
		return nil, err
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("writing workbook: %w", err)
	}
	return buf.Bytes(), nil
}

func writeBillsSheet(f *excelize.File, bills []*bill.Record, views []bill.RowView, headerStyle, totalsStyle int) error {
	if err := f.SetSheetName("Sheet1", billsSheet); err != nil {
		return fmt.Errorf("naming bills sheet: %w", err)
	}

	if err := setHeaders(f, billsSheet, headerStyle,
		[]string{"Party Name", "Bill No", "Bill Date", "Total", "Discount", "Net Total"},
		[]float64{25, 12, 12, 15, 12, 15},
	); err != nil {
		return err
	}

	netSum := decimal.Zero
	discountSum := decimal.Zero
	for i, v := range views {
		row := i + 2
		setRow(f, billsSheet, row, []any{
			v.PartyName,
			v.BillNo,
			v.BillDate,
			v.Total.InexactFloat64(),
			v.Discount.InexactFloat64(),
			v.NetTotal.InexactFloat64(),
		})
		// gross sales and the totals row both follow the canonical total
		netSum = netSum.Add(bills[i].CanonicalTotal)
		discountSum = discountSum.Add(v.Discount)
	}

	totalsRow := len(views) + 2
	setRow(f, billsSheet, totalsRow, []any{
		"TOTAL", "", "", "",
		discountSum.InexactFloat64(),
		netSum.InexactFloat64(),
	})
	start, _ := excelize.CoordinatesToCellName(1, totalsRow)
	end, _ := excelize.CoordinatesToCellName(6, totalsRow)
	if err := f.SetCellStyle(billsSheet, start, end, totalsStyle); err != nil {
		return fmt.Errorf("styling totals row: %w", err)
	}
	return nil
}

func writeItemsSheet(f *excelize.File, results []*extraction.Result, headerStyle int) error {
	hasItems := false
	for _, res := range results {
		if res.Invoice != nil && len(res.Invoice.Items) > 0 {
			hasItems = true
			break
		}
	}
	if !hasItems {
		return nil
	}

	if _, err := f.NewSheet(itemsSheet); err != nil {
		return fmt.Errorf("creating items sheet: %w", err)
	}
	if err := setHeaders(f, itemsSheet, headerStyle,
		[]string{"Party Name", "Bill No", "Item", "Qty", "Unit Price", "Amount"},
		[]float64{25, 12, 30, 10, 15, 15},
	); err != nil {
		return err
	}

	row := 2
	for _, res := range results {
		if res.Invoice == nil {
			continue
		}
		for _, item := range res.Invoice.Items {
			setRow(f, itemsSheet, row, []any{
				res.Invoice.PartyName,
				res.Invoice.BillNo,
				item.Name,
				numberCell(item.Quantity),
				numberCell(item.UnitPrice),
				numberCell(item.Amount),
			})
			row++
		}
	}
	return nil
}

func writeLedgerSheet(f *excelize.File, results []*extraction.Result, headerStyle int) error {
	hasLedgers := false
	for _, res := range results {
		if res.Kind == extraction.KindLedger {
			hasLedgers = true
			break
		}
	}
	if !hasLedgers {
		return nil
	}

	if _, err := f.NewSheet(ledgerSheet); err != nil {
		return fmt.Errorf("creating ledger sheet: %w", err)
	}
	if err := setHeaders(f, ledgerSheet, headerStyle,
		[]string{"Party Name", "Date", "Particulars", "Debit (Rs)", "Credit (Rs)", "Balance (Rs)"},
		[]float64{25, 12, 25, 15, 15, 15},
	); err != nil {
		return err
	}

	row := 2
	for _, res := range results {
		if res.Ledger == nil {
			continue
		}
		// original document row order
		for _, txn := range res.Ledger.Transactions {
			setRow(f, ledgerSheet, row, []any{
				res.Ledger.PartyName,
				txn.Date,
				txn.Particulars,
				numberCell(txn.Debit),
				numberCell(txn.Credit),
				numberCell(txn.Balance),
			})
			row++
		}
	}
	return nil
}

func writeSummarySheet(f *excelize.File, bills []*bill.Record, views []bill.RowView, date time.Time, headerStyle int) error {
	if _, err := f.NewSheet(summarySheet); err != nil {
		return fmt.Errorf("creating summary sheet: %w", err)
	}
	if err := setHeaders(f, summarySheet, headerStyle,
		[]string{"Metric", "Value"},
		[]float64{30, 20},
	); err != nil {
		return err
	}

	ledgerCount := 0
	grossSales := decimal.Zero
	discountSum := decimal.Zero
	for i, b := range bills {
		if b.Kind == extraction.KindLedger {
			ledgerCount++
		}
		grossSales = grossSales.Add(b.CanonicalTotal)
		discountSum = discountSum.Add(views[i].Discount)
	}

	rows := []struct {
		metric string
		value  any
	}{
		{"Date", bill.DateKey(date)},
		{"Total Documents", len(bills)},
		{"Invoice Documents", len(bills) - ledgerCount},
		{"Ledger Documents", ledgerCount},
		{"Total Discount", discountSum.InexactFloat64()},
		{"Gross Sales (Net Total)", grossSales.InexactFloat64()},
	}
	for i, r := range rows {
		setRow(f, summarySheet, i+2, []any{r.metric, r.value})
	}
	return nil
}

func setHeaders(f *excelize.File, sheet string, style int, headers []string, widths []float64) error {
	for i, h := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		if err := f.SetCellValue(sheet, cell, h); err != nil {
			return fmt.Errorf("writing header: %w", err)
		}
		col, _ := excelize.ColumnNumberToName(i + 1)
		if err := f.SetColWidth(sheet, col, col, widths[i]); err != nil {
			return fmt.Errorf("sizing column: %w", err)
		}
	}
	start, _ := excelize.CoordinatesToCellName(1, 1)
	end, _ := excelize.CoordinatesToCellName(len(headers), 1)
	if err := f.SetCellStyle(sheet, start, end, style); err != nil {
		return fmt.Errorf("styling header: %w", err)
	}
	return nil
}

func setRow(f *excelize.File, sheet string, row int, values []any) {
	for i, v := range values {
		cell, _ := excelize.CoordinatesToCellName(i+1, row)
		f.SetCellValue(sheet, cell, v)
	}
}

// numberCell renders a raw extracted value as a spreadsheet number,
// defaulting to zero when it will not coerce.
func numberCell(v any) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case int:
		return float64(n)
	case int64:
		return float64(n)
	default:
		return 0
	}
}
