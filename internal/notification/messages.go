package notification

import (
	"fmt"
	"sort"
	"strings"

	"github.com/example/ec-fulfillment/internal/domain/order"
)

// Content is a rendered subject and plain-text body.
type Content struct {
	Subject string
	Body    string
}

// LowStockItem is one product at or under its threshold.
type LowStockItem struct {
	ProductID string `json:"product_id"`
	Name      string `json:"name"`
	Category  string `json:"category,omitempty"`
	Stock     int    `json:"stock"`
	Threshold int    `json:"threshold"`
}

func OrderConfirmation(o *order.Order) Content {
	var b strings.Builder
	fmt.Fprintf(&b, "Thank you for your order %s.\n\n", o.OrderNumber)
	for _, item := range o.Items {
		name := item.Name
		if name == "" {
			name = item.ProductID
		}
		fmt.Fprintf(&b, "  %d x %s  %s %s\n", item.Quantity, name, item.LineTotal().StringFixed(2), o.Currency)
	}
	fmt.Fprintf(&b, "\nSubtotal: %s %s\n", o.Subtotal.StringFixed(2), o.Currency)
	fmt.Fprintf(&b, "Shipping: %s %s\n", o.ShippingCost.StringFixed(2), o.Currency)
	fmt.Fprintf(&b, "Total:    %s %s\n", o.Total.StringFixed(2), o.Currency)
	return Content{
		Subject: fmt.Sprintf("Order confirmation %s", o.OrderNumber),
		Body:    b.String(),
	}
}

func StatusChange(o *order.Order, from order.Status, note string) Content {
	body := fmt.Sprintf("Your order %s changed from %s to %s.\n", o.OrderNumber, humanStatus(from), humanStatus(o.Status))
	if note != "" {
		body += "\n" + note + "\n"
	}
	return Content{
		Subject: fmt.Sprintf("Order %s is now %s", o.OrderNumber, humanStatus(o.Status)),
		Body:    body,
	}
}

func Dispatched(o *order.Order) Content {
	var b strings.Builder
	fmt.Fprintf(&b, "Your order %s is on its way.\n\n", o.OrderNumber)
	if o.Carrier != "" {
		fmt.Fprintf(&b, "Carrier:  %s\n", o.Carrier)
	}
	fmt.Fprintf(&b, "Tracking: %s\n", o.TrackingNumber)
	if o.TrackingURL != "" {
		fmt.Fprintf(&b, "Track at: %s\n", o.TrackingURL)
	}
	if o.EstimatedDelivery != nil {
		fmt.Fprintf(&b, "Expected: %s\n", o.EstimatedDelivery.Format("Mon, 02 Jan 2006"))
	}
	return Content{
		Subject: fmt.Sprintf("Order %s dispatched", o.OrderNumber),
		Body:    b.String(),
	}
}

// SMSText shortens content for SMS and WhatsApp.
func SMSText(c Content) string {
	return c.Subject
}

func LowStock(item LowStockItem) Content {
	return Content{
		Subject: fmt.Sprintf("Low stock: %s", displayName(item)),
		Body: fmt.Sprintf("%s (%s) has %d units left; threshold is %d.\n",
			displayName(item), item.ProductID, item.Stock, item.Threshold),
	}
}

// LowStockDigest lists every low item, lowest stock first.
func LowStockDigest(items []LowStockItem, date string) Content {
	sorted := append([]LowStockItem(nil), items...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Stock < sorted[j].Stock })

	var b strings.Builder
	fmt.Fprintf(&b, "%d products are at or below their low-stock threshold on %s:\n\n", len(sorted), date)
	for _, item := range sorted {
		fmt.Fprintf(&b, "  %-30s %5d (threshold %d)\n", displayName(item), item.Stock, item.Threshold)
	}
	return Content{
		Subject: fmt.Sprintf("Low stock digest %s: %d products", date, len(sorted)),
		Body:    b.String(),
	}
}

func displayName(item LowStockItem) string {
	if item.Name != "" {
		return item.Name
	}
	return item.ProductID
}

func humanStatus(s order.Status) string {
	return strings.ToLower(strings.ReplaceAll(string(s), "_", " "))
}
