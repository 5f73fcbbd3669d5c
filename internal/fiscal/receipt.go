package fiscal

import (
	"errors"
	"strconv"

	"paygate-be/internal/config"
	"paygate-be/internal/order"

	"github.com/shopspring/decimal"
)

// modeItems prints item lines.
const modeItems = 2

var errNoItems = errors.New("order has no items")

// BuildRequest maps a paid order to a print request. The sequence number is
// set by the caller after allocation.
func BuildRequest(cfg config.FiscalConfig, o *order.Order, items []order.OrderItem) (*ReceiptRequest, error) {
	if len(items) == 0 {
		return nil, errNoItems
	}

	req := &ReceiptRequest{
		CRN:       cfg.CRN,
		CashierID: cfg.CashierID,
		Mode:      modeItems,
		Items:     make([]ReceiptItem, 0, len(items)+1),
		UseExtPOS: true,
	}

	for _, it := range items {
		dep := it.Department
		if dep <= 0 {
			dep = cfg.DepartmentID
		}
		req.Items = append(req.Items, ReceiptItem{
			Dep:         dep,
			Qty:         it.Quantity.InexactFloat64(),
			Price:       UnitPrice(it.LineTotal, it.Quantity).InexactFloat64(),
			ProductCode: strconv.FormatInt(it.ProductID, 10),
			ProductName: it.Name,
			AdgCode:     it.AdgCode,
			Unit:        it.Unit,
		})
	}

	if o.Shipping.Fee.IsPositive() {
		req.Items = append(req.Items, ReceiptItem{
			Dep:         cfg.DepartmentID,
			Qty:         1,
			Price:       o.Shipping.Fee.Round(2).InexactFloat64(),
			ProductCode: cfg.ShippingProductCode,
			ProductName: "Shipping",
			AdgCode:     cfg.ShippingAdgCode,
			Unit:        "service",
		})
	}

	req.PaidAmountCard = o.TotalAmount.Round(2).InexactFloat64()
	return req, nil
}

// UnitPrice derives the per-unit price from the line total so the printed
// lines add up to what the customer paid.
func UnitPrice(lineTotal, qty decimal.Decimal) decimal.Decimal {
	if !qty.IsPositive() {
		return lineTotal.Round(2)
	}
	return lineTotal.Div(qty).Round(2)
}
