package invoicedoc

import (
	"bytes"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"maktabshop/backend/internal/domain"
)

func sampleInvoice() domain.Invoice {
	return domain.Invoice{
		ID:              "inv_42",
		CreatedAt:       time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC),
		CustomerName:    "Aisha <b>Khan</b>",
		CustomerContact: "+92 300-1234567",
		Subtotal:        decimal.RequireFromString("11400"),
		TotalDiscount:   decimal.RequireFromString("1240"),
		Total:           decimal.RequireFromString("10160"),
		Lines: []domain.InvoiceLine{
			{
				ItemID: "item_1", Title: "Premium Notebook", Quantity: 2,
				UnitPrice: decimal.RequireFromString("1200"), Discount: decimal.RequireFromString("10"),
				DiscountKind: domain.DiscountPercent, LineTotal: decimal.RequireFromString("2160"),
			},
			{
				ItemID: "item_2", Title: "Tafseer Ibn Kathir", Quantity: 2,
				UnitPrice: decimal.RequireFromString("4500"), Discount: decimal.RequireFromString("500"),
				DiscountKind: domain.DiscountFixed, LineTotal: decimal.RequireFromString("8000"),
			},
		},
	}
}

func TestFormatterMoney(t *testing.T) {
	f := NewFormatter("PKR")
	assert.Equal(t, "PKR 1,200.00", f.Money(decimal.NewFromInt(1200)))
	assert.Equal(t, "PKR 0.10", f.Money(decimal.RequireFromString("0.1")))
	assert.Equal(t, "10%", f.Discount(decimal.NewFromInt(10), domain.DiscountPercent))
	assert.Equal(t, "PKR 200.00", f.Discount(decimal.NewFromInt(200), domain.DiscountFixed))
}

func TestHTMLEscapesCustomerText(t *testing.T) {
	r := NewRenderer(Shop{Name: "MAKTAB SHOP", Tagline: "Premium Islamic Books & Stationery", Currency: "PKR"})

	page, err := r.HTML(sampleInvoice())
	require.NoError(t, err)
	html := string(page)

	assert.Contains(t, html, "Invoice ID: inv_42")
	assert.Contains(t, html, "Aisha &lt;b&gt;Khan&lt;/b&gt;")
	assert.NotContains(t, html, "<b>Khan</b>")
	assert.Contains(t, html, "<td>10%</td>")
	assert.Contains(t, html, "Grand Total: PKR 10,160.00")
	assert.Contains(t, html, "Total Discount: -PKR 1,240.00")
	assert.Contains(t, html, "14 Mar 2026")
}

func TestPDFProducesDocument(t *testing.T) {
	r := NewRenderer(Shop{})

	doc, err := r.PDF(sampleInvoice())
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(doc, []byte("%PDF")), "missing PDF header")
}

func TestShareLink(t *testing.T) {
	r := NewRenderer(Shop{Name: "MAKTAB SHOP", Currency: "PKR"})

	link := r.Share(sampleInvoice())
	assert.Equal(t, "inv_42", link.InvoiceID)
	require.True(t, strings.HasPrefix(link.URL, "https://wa.me/923001234567?text="), link.URL)
	assert.NotContains(t, link.URL, "+")

	u, err := url.Parse(link.URL)
	require.NoError(t, err)
	assert.Equal(t, link.Text, u.Query().Get("text"))
	assert.Contains(t, link.Text, "*Invoice from MAKTAB SHOP*")
	assert.Contains(t, link.Text, "Total: PKR 10,160.00")
	assert.Contains(t, link.Text, "- Tafseer Ibn Kathir x 2")
}

func TestShareLinkWithoutPhone(t *testing.T) {
	inv := sampleInvoice()
	inv.CustomerContact = domain.NoContact

	link := NewRenderer(Shop{}).Share(inv)
	assert.True(t, strings.HasPrefix(link.URL, "https://wa.me/?text="), link.URL)
}
