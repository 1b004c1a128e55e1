package cart

import (
	"time"

	"github.com/shopspring/decimal"
)

// Item is one cart line. Price is the unit price when the line was last
// touched; checkout reprices from the catalog.
type Item struct {
	ID       string          `json:"id"`
	Name     string          `json:"name"`
	Price    decimal.Decimal `json:"price"`
	Quantity int             `json:"quantity"`
	MaxStock int             `json:"maxStock"`
}

// Cart is the persisted state of one browser session.
type Cart struct {
	SessionID string    `json:"session_id"`
	Items     []Item    `json:"items"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TotalItems is the sum of the line quantities.
func (c *Cart) TotalItems() int {
	n := 0
	for _, it := range c.Items {
		n += it.Quantity
	}
	return n
}

// TotalPrice is the sum of price × quantity over the lines.
func (c *Cart) TotalPrice() decimal.Decimal {
	total := decimal.Zero
	for _, it := range c.Items {
		total = total.Add(it.Price.Mul(decimal.NewFromInt(int64(it.Quantity))))
	}
	return total
}

// Empty reports whether the cart has no lines.
func (c *Cart) Empty() bool { return len(c.Items) == 0 }

func (c *Cart) find(productID string) int {
	for i := range c.Items {
		if c.Items[i].ID == productID {
			return i
		}
	}
	return -1
}

// add merges qty units of item into the cart, never exceeding item.MaxStock.
func (c *Cart) add(item Item, qty int) {
	if i := c.find(item.ID); i >= 0 {
		item.Quantity = c.Items[i].Quantity + qty
		c.Items[i] = item
		c.Items[i].Quantity = clamp(item.Quantity, item.MaxStock)
		return
	}
	item.Quantity = clamp(qty, item.MaxStock)
	c.Items = append(c.Items, item)
}

// setQuantity sets the quantity of a line. qty ≤ 0 removes it. It reports
// whether the line existed.
func (c *Cart) setQuantity(productID string, qty int) bool {
	i := c.find(productID)
	if i < 0 {
		return false
	}
	if qty <= 0 {
		c.Items = append(c.Items[:i], c.Items[i+1:]...)
		return true
	}
	c.Items[i].Quantity = clamp(qty, c.Items[i].MaxStock)
	return true
}

func (c *Cart) remove(productID string) bool {
	return c.setQuantity(productID, 0)
}

func clamp(qty, max int) int {
	if qty > max {
		qty = max
	}
	if qty < 0 {
		qty = 0
	}
	return qty
}

// View is the cart as returned to clients, with its derived totals.
type View struct {
	SessionID  string          `json:"session_id"`
	Items      []Item          `json:"items"`
	TotalItems int             `json:"total_items"`
	TotalPrice decimal.Decimal `json:"total_price"`
}

// View returns the client representation of c.
func (c *Cart) View() View {
	items := c.Items
	if items == nil {
		items = []Item{}
	}
	return View{
		SessionID:  c.SessionID,
		Items:      items,
		TotalItems: c.TotalItems(),
		TotalPrice: c.TotalPrice(),
	}
}
