package service

import "time"

// ItemInput adds one line to an order. UnitPrice overrides the catalog
// price when set; otherwise the catalog price is captured at add time.
type ItemInput struct {
	ItemRef   string          `json:"item_ref"`
	Name      string          `json:"name,omitempty"`
	Quantity  int             `json:"quantity"`
	UnitPrice *float64        `json:"unit_price,omitempty"`
	Modifiers []ModifierInput `json:"modifiers,omitempty"`
	TaxRef    string          `json:"tax_ref,omitempty"`
}

type ModifierInput struct {
	Name  string  `json:"name"`
	Price float64 `json:"price"`
}

// PaymentInput records a payment attempt. A negative amount is a refund.
type PaymentInput struct {
	Method string  `json:"method"`
	Amount float64 `json:"amount"`
	Actor  string  `json:"actor"`
}

// DiscountInput applies either a catalog-linked discount (Ref) or a
// manual/loyalty entry with a pre-computed amount.
type DiscountInput struct {
	Ref    string  `json:"ref,omitempty"`
	Label  string  `json:"label,omitempty"`
	Amount float64 `json:"amount,omitempty"`
}

// CreateOrderRequest opens a new order, optionally with initial items and
// an up-front payment.
type CreateOrderRequest struct {
	OrderType    string          `json:"order_type"`
	CustomerName string          `json:"customer_name,omitempty"`
	TableNumber  *string         `json:"table_number,omitempty"`
	GroupSession *string         `json:"group_session,omitempty"`
	Items        []ItemInput     `json:"items,omitempty"`
	TaxRefs      []string        `json:"tax_refs,omitempty"`
	Discounts    []DiscountInput `json:"discounts,omitempty"`
	Tip          float64         `json:"tip,omitempty"`
	Delivery     float64         `json:"delivery_charge,omitempty"`
	Payment      *PaymentInput   `json:"payment,omitempty"`
	ScheduledAt  *time.Time      `json:"scheduled_at,omitempty"`
	Actor        string          `json:"actor,omitempty"`
}
