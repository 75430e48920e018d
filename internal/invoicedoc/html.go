package invoicedoc

import (
	"bytes"
	"html/template"

	"maktabshop/backend/internal/domain"
)

var invoiceHTMLTmpl = template.Must(template.New("invoice").Parse(`<!doctype html>
<html>
<head>
  <meta charset="utf-8" />
  <title>Invoice {{.ID}}</title>
  <style>
    body { font-family: sans-serif; padding: 40px; color: #333; }
    .header { text-align: center; margin-bottom: 40px; border-bottom: 2px solid #4f46e5; padding-bottom: 20px; }
    .header h1 { color: #4f46e5; margin: 0; }
    .details { display: flex; justify-content: space-between; margin-bottom: 30px; }
    table { width: 100%; border-collapse: collapse; margin-top: 20px; }
    th { background: #f9fafb; padding: 12px; text-align: left; border-bottom: 2px solid #eee; }
    td { padding: 12px; text-align: left; border-bottom: 1px solid #eee; }
    .totals { margin-top: 30px; text-align: right; }
    .discount { color: #ef4444; }
    .grand-total { font-size: 1.5rem; font-weight: bold; color: #4f46e5; margin-top: 10px; border-top: 2px solid #eee; padding-top: 10px; }
  </style>
</head>
<body>
  <div class="header">
    <h1>{{.Shop.Name}}</h1>
    {{if .Shop.Tagline}}<p>{{.Shop.Tagline}}</p>{{end}}
    <p><strong>Invoice ID: {{.ID}}</strong></p>
  </div>
  <div class="details">
    <div>
      <strong>BILL TO:</strong><br>
      {{.CustomerName}}<br>
      Contact: {{.CustomerContact}}
    </div>
    <div>
      <strong>Date:</strong> {{.Date}}<br>
      <strong>Status:</strong> PAID
    </div>
  </div>
  <table>
    <thead><tr><th>Item Description</th><th>Qty</th><th>Unit Price</th><th>Discount</th><th>Total</th></tr></thead>
    <tbody>{{range .Lines}}<tr><td>{{.Title}}</td><td>{{.Quantity}}</td><td>{{.UnitPrice}}</td><td>{{.Discount}}</td><td>{{.Total}}</td></tr>{{end}}</tbody>
  </table>
  <div class="totals">
    <div>Subtotal: {{.Subtotal}}</div>
    <div class="discount">Total Discount: -{{.TotalDiscount}}</div>
    <div class="grand-total">Grand Total: {{.GrandTotal}}</div>
  </div>
  <p style="margin-top:60px; text-align:center; color:#888;">Thank you for your business!<br>Visit again at {{.Shop.Name}}</p>
</body>
</html>
`))

// view is the invoice with every amount already formatted for display.
type view struct {
	Shop            Shop
	ID              string
	Date            string
	CustomerName    string
	CustomerContact string
	Lines           []lineView
	Subtotal        string
	TotalDiscount   string
	GrandTotal      string
}

type lineView struct {
	Title     string
	Quantity  int
	UnitPrice string
	Discount  string
	Total     string
}

func (r *Renderer) view(inv domain.Invoice) view {
	v := view{
		Shop:            r.shop,
		ID:              inv.ID,
		Date:            inv.CreatedAt.Format("02 Jan 2006"),
		CustomerName:    inv.CustomerName,
		CustomerContact: inv.CustomerContact,
		Subtotal:        r.format.Money(inv.Subtotal),
		TotalDiscount:   r.format.Money(inv.TotalDiscount),
		GrandTotal:      r.format.Money(inv.Total),
		Lines:           make([]lineView, 0, len(inv.Lines)),
	}
	for _, line := range inv.Lines {
		v.Lines = append(v.Lines, lineView{
			Title:     line.Title,
			Quantity:  line.Quantity,
			UnitPrice: r.format.Money(line.UnitPrice),
			Discount:  r.format.Discount(line.Discount, line.DiscountKind),
			Total:     r.format.Money(line.LineTotal),
		})
	}
	return v
}

// HTML renders a printable page. Customer-supplied text is escaped by
// html/template.
func (r *Renderer) HTML(inv domain.Invoice) ([]byte, error) {
	var buf bytes.Buffer
	if err := invoiceHTMLTmpl.Execute(&buf, r.view(inv)); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
