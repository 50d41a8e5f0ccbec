package domain

import (
	"time"

	"github.com/gofrs/uuid"
)

// Modifier is a named price adjustment attached to a line item.
type Modifier struct {
	Name  string  `json:"name"`
	Price float64 `json:"price"`
}

// LineItem is one item-and-quantity entry with the price captured at add
// time. It is never re-priced from the catalog without an explicit
// recompute call.
type LineItem struct {
	LineID        string     `json:"line_id"`
	ItemRef       string     `json:"item_ref"`
	Name          string     `json:"name"`
	Quantity      int        `json:"quantity"`
	UnitPrice     float64    `json:"unit_price"`
	Modifiers     []Modifier `json:"modifiers,omitempty"`
	TaxRef        string     `json:"tax_ref,omitempty"` // item-level tax reference
	KitchenStatus string     `json:"kitchen_status,omitempty"`
	PaidAmount    float64    `json:"paid_amount"` // split payment bookkeeping
}

// LineTotal is (unit price + modifier prices) x quantity.
func (li LineItem) LineTotal() float64 {
	unit := li.UnitPrice
	for _, m := range li.Modifiers {
		unit += m.Price
	}
	return unit * float64(li.Quantity)
}

// TaxLine is one computed tax charge against a tax definition.
type TaxLine struct {
	Ref    string  `json:"ref"`
	Name   string  `json:"name,omitempty"`
	Charge float64 `json:"charge"`
}

// DiscountLine is one computed discount. Ref is empty for manual/loyalty
// entries, whose amounts are pre-computed and carried as-is.
type DiscountLine struct {
	Ref    string  `json:"ref,omitempty"`
	Label  string  `json:"label,omitempty"`
	Amount float64 `json:"amount"`
}

// Payment is a single recorded payment attempt. A negative amount is a
// refund.
type Payment struct {
	Method string    `json:"method"`
	Amount float64   `json:"amount"`
	Status string    `json:"status"`
	At     time.Time `json:"at"`
	Actor  string    `json:"actor"`
}

// HistoryEntry is an immutable audit record of one status change.
type HistoryEntry struct {
	Status OrderStatus `json:"status"`
	At     time.Time   `json:"at"`
	Actor  string      `json:"actor"`
}

// Order is the central aggregate. All monetary fields are recomputed by the
// pricing engine; Version backs the optimistic compare-and-swap on save.
type Order struct {
	ID           uuid.UUID `json:"id"`
	Number       string    `json:"number"`
	Tenant       string    `json:"tenant"`
	Type         OrderType `json:"type"`
	CustomerName string    `json:"customer_name,omitempty"`
	TableNumber  *string   `json:"table_number,omitempty"`
	GroupSession *string   `json:"group_session,omitempty"`

	Items []LineItem `json:"items"`

	TaxRefs       []string       `json:"tax_refs,omitempty"` // order-level tax references
	Taxes         []TaxLine      `json:"taxes,omitempty"`
	TaxTotal      float64        `json:"tax_total"`
	Discounts     []DiscountLine `json:"discounts,omitempty"`
	DiscountTotal float64        `json:"discount_total"`

	Subtotal       float64 `json:"subtotal"`
	Tip            float64 `json:"tip"`
	DeliveryCharge float64 `json:"delivery_charge"`
	FinalCharge    float64 `json:"final_charge"`

	Payments      []Payment     `json:"payments,omitempty"`
	TotalPaid     float64       `json:"total_paid"`
	BalanceDue    float64       `json:"balance_due"`
	PaymentStatus PaymentStatus `json:"payment_status"`

	Status    OrderStatus    `json:"status"`
	KDSStatus string         `json:"kds_status,omitempty"`
	History   []HistoryEntry `json:"history"`

	Scheduled            bool            `json:"scheduled"`
	ScheduledTime        *time.Time      `json:"scheduled_time,omitempty"`
	ScheduledStatus      ScheduledStatus `json:"scheduled_status,omitempty"`
	PreparationStartedAt *time.Time      `json:"preparation_started_at,omitempty"`

	Version   int64     `json:"version"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ItemCount is the total quantity across line items.
func (o *Order) ItemCount() int {
	n := 0
	for _, li := range o.Items {
		n += li.Quantity
	}
	return n
}

// Line returns the line item with the given id.
func (o *Order) Line(lineID string) (*LineItem, bool) {
	for i := range o.Items {
		if o.Items[i].LineID == lineID {
			return &o.Items[i], true
		}
	}
	return nil, false
}

// AppendHistory records a status change in the append-only audit log.
func (o *Order) AppendHistory(status OrderStatus, actor string, at time.Time) {
	o.History = append(o.History, HistoryEntry{Status: status, At: at, Actor: actor})
}
