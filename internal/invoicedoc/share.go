package invoicedoc

import (
	"fmt"
	"net/url"
	"strings"

	"maktabshop/backend/internal/domain"
)

// Share builds a WhatsApp link addressed to the digits of the customer
// contact. A contact without digits leaves the recipient open.
func (r *Renderer) Share(inv domain.Invoice) domain.ShareLink {
	var b strings.Builder
	fmt.Fprintf(&b, "*Invoice from %s*\n", r.shop.Name)
	fmt.Fprintf(&b, "Customer: %s\n", inv.CustomerName)
	fmt.Fprintf(&b, "Total: %s\n", r.format.Money(inv.Total))
	b.WriteString("Items:")
	for _, line := range inv.Lines {
		fmt.Fprintf(&b, "\n- %s x %d", line.Title, line.Quantity)
	}
	text := b.String()

	phone := strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' {
			return r
		}
		return -1
	}, inv.CustomerContact)

	escaped := strings.ReplaceAll(url.QueryEscape(text), "+", "%20")
	return domain.ShareLink{
		InvoiceID: inv.ID,
		URL:       "https://wa.me/" + phone + "?text=" + escaped,
		Text:      text,
	}
}
