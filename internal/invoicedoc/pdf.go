package invoicedoc

import (
	"fmt"

	"github.com/johnfercher/maroto/v2"
	"github.com/johnfercher/maroto/v2/pkg/components/col"
	"github.com/johnfercher/maroto/v2/pkg/components/text"
	"github.com/johnfercher/maroto/v2/pkg/config"
	"github.com/johnfercher/maroto/v2/pkg/consts/align"
	"github.com/johnfercher/maroto/v2/pkg/consts/fontstyle"
	"github.com/johnfercher/maroto/v2/pkg/props"

	"maktabshop/backend/internal/domain"
)

func (r *Renderer) PDF(inv domain.Invoice) ([]byte, error) {
	v := r.view(inv)

	cfg := config.NewBuilder().
		WithPageNumber(props.PageNumber{
			Pattern: "Page {current} of {total}",
			Place:   props.RightBottom,
		}).
		Build()

	m := maroto.New(cfg)

	m.AddRow(12,
		text.NewCol(12, v.Shop.Name, props.Text{
			Size:  20,
			Style: fontstyle.Bold,
			Align: align.Center,
		}),
	)
	if v.Shop.Tagline != "" {
		m.AddRow(8, text.NewCol(12, v.Shop.Tagline, props.Text{Size: 10, Align: align.Center}))
	}
	m.AddRow(10, text.NewCol(12, "Invoice ID: "+v.ID, props.Text{Size: 10, Style: fontstyle.Bold, Align: align.Center}))

	m.AddRow(20,
		col.New(6).Add(
			text.New("Bill to", props.Text{Style: fontstyle.Bold}),
			text.New(v.CustomerName, props.Text{Top: 5}),
			text.New("Contact: "+v.CustomerContact, props.Text{Top: 10}),
		),
		col.New(6).Add(
			text.New("Date: "+v.Date, props.Text{Align: align.Right}),
			text.New("Status: PAID", props.Text{Top: 5, Align: align.Right}),
		),
	)

	m.AddRow(10,
		text.NewCol(4, "Item Description", props.Text{Style: fontstyle.Bold, Size: 9}),
		text.NewCol(1, "Qty", props.Text{Style: fontstyle.Bold, Size: 9, Align: align.Right}),
		text.NewCol(2, "Unit Price", props.Text{Style: fontstyle.Bold, Size: 9, Align: align.Right}),
		text.NewCol(2, "Discount", props.Text{Style: fontstyle.Bold, Size: 9, Align: align.Right}),
		text.NewCol(3, "Total", props.Text{Style: fontstyle.Bold, Size: 9, Align: align.Right}),
	)
	for _, line := range v.Lines {
		m.AddRow(8,
			text.NewCol(4, line.Title, props.Text{Size: 9}),
			text.NewCol(1, fmt.Sprintf("%d", line.Quantity), props.Text{Size: 9, Align: align.Right}),
			text.NewCol(2, line.UnitPrice, props.Text{Size: 9, Align: align.Right}),
			text.NewCol(2, line.Discount, props.Text{Size: 9, Align: align.Right}),
			text.NewCol(3, line.Total, props.Text{Size: 9, Align: align.Right}),
		)
	}

	m.AddRow(8,
		col.New(7),
		text.NewCol(2, "Subtotal", props.Text{Size: 9}),
		text.NewCol(3, v.Subtotal, props.Text{Size: 9, Align: align.Right}),
	)
	m.AddRow(8,
		col.New(7),
		text.NewCol(2, "Total Discount", props.Text{Size: 9}),
		text.NewCol(3, "-"+v.TotalDiscount, props.Text{Size: 9, Align: align.Right}),
	)
	m.AddRow(10,
		col.New(7),
		text.NewCol(2, "Grand Total", props.Text{Style: fontstyle.Bold, Size: 10}),
		text.NewCol(3, v.GrandTotal, props.Text{Style: fontstyle.Bold, Size: 10, Align: align.Right}),
	)
	m.AddRow(20, text.NewCol(12, "Thank you for your business!", props.Text{Top: 10, Size: 9, Align: align.Center}))

	doc, err := m.Generate()
	if err != nil {
		return nil, err
	}
	return doc.GetBytes(), nil
}
