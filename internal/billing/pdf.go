package billing

import (
	"bytes"
	"context"
	"html/template"
	"time"

	"golang.org/x/text/currency"

	"github.com/lexledger/lexledger/internal/ledger"
	"github.com/lexledger/lexledger/internal/shared"
)

var invoiceTemplate = template.Must(template.New("invoice").Funcs(template.FuncMap{
	"date": func(t time.Time) string { return t.Format(dateLayout) },
}).Parse(`<!DOCTYPE html>
<html><head><meta charset="utf-8"><title>{{.Invoice.Number}}</title>
<style>
body { font-family: sans-serif; font-size: 12px; }
table { width: 100%; border-collapse: collapse; }
th, td { border-bottom: 1px solid #ddd; padding: 4px; text-align: left; }
td.num, th.num { text-align: right; }
</style></head>
<body>
<h1>Invoice {{.Invoice.Number}}</h1>
<p>Client: {{.Invoice.ClientName}}<br>
Issued: {{date .Invoice.CreatedAt}}<br>
Due: {{date .Invoice.DueDate}}<br>
Status: {{.Status}}</p>
<table>
<thead><tr><th>Description</th><th class="num">Qty</th><th class="num">Rate</th><th class="num">Amount</th></tr></thead>
<tbody>
{{range .Lines}}<tr><td>{{.Description}}</td><td class="num">{{.Quantity}}</td><td class="num">{{.Rate}}</td><td class="num">{{.Amount}}</td></tr>
{{end}}</tbody>
</table>
<p>Subtotal: {{.Subtotal}}<br>
Tax ({{.Invoice.TaxRatePercent}}%): {{.Tax}}<br>
Discount: {{.Discount}}<br>
<strong>Total: {{.Total}}</strong><br>
Paid: {{.Paid}}<br>
<strong>Balance due: {{.Remaining}}</strong></p>
{{with .Invoice.Terms}}<p>Terms: {{.}}</p>{{end}}
{{with .Invoice.Notes}}<p>{{.}}</p>{{end}}
</body></html>`))

type pdfLine struct {
	Description string
	Quantity    string
	Rate        string
	Amount      string
}

type pdfView struct {
	Invoice   Invoice
	Status    DisplayStatus
	Lines     []pdfLine
	Subtotal  string
	Tax       string
	Discount  string
	Total     string
	Paid      string
	Remaining string
}

// RenderInvoiceHTML produces the printable invoice document.
func RenderInvoiceHTML(inv Invoice, unit currency.Unit, status DisplayStatus) (string, error) {
	format := func(m ledger.Money) string { return ledger.Format(m, unit) }
	view := pdfView{
		Invoice:   inv,
		Status:    status,
		Lines:     make([]pdfLine, 0, len(inv.LineItems)),
		Subtotal:  format(inv.Subtotal),
		Tax:       format(inv.Tax),
		Discount:  format(inv.Discount),
		Total:     format(inv.Amount),
		Paid:      format(inv.TotalPaid()),
		Remaining: format(inv.RemainingBalance()),
	}
	for _, item := range inv.LineItems {
		view.Lines = append(view.Lines, pdfLine{
			Description: item.Description,
			Quantity:    item.Quantity.String(),
			Rate:        format(item.Rate),
			Amount:      format(item.Amount),
		})
	}
	var buf bytes.Buffer
	if err := invoiceTemplate.Execute(&buf, view); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// InvoicePDF renders an invoice through the configured PDF renderer.
func (s *Service) InvoicePDF(ctx context.Context, id int64) (Invoice, []byte, error) {
	if s.cfg.Renderer == nil {
		return Invoice{}, nil, shared.Wrap(shared.ErrNotFound, "pdf rendering is not configured")
	}
	inv, err := s.repo.GetInvoice(ctx, id)
	if err != nil {
		return Invoice{}, nil, err
	}
	unit, err := ledger.ParseCurrency(s.cfg.Currency)
	if err != nil {
		return Invoice{}, nil, err
	}
	html, err := RenderInvoiceHTML(inv, unit, inv.DisplayStatus(s.now()))
	if err != nil {
		return Invoice{}, nil, err
	}
	pdf, err := s.cfg.Renderer.RenderHTML(ctx, html)
	if err != nil {
		return Invoice{}, nil, err
	}
	return inv, pdf, nil
}
