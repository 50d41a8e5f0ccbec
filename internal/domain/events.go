package domain

import "time"

// Change-feed operations observed from the tenant's order collection.
const (
	ChangeInsert = "insert"
	ChangeUpdate = "update"
	ChangeDelete = "delete"
)

// ChangeEvent is the compact payload carried on the change feed itself.
// The broadcaster loads the full order for everything except deletes.
type ChangeEvent struct {
	Op          string `json:"op"`
	Tenant      string `json:"tenant"`
	OrderID     string `json:"order_id"`
	TableNumber string `json:"table_number,omitempty"`
}

// GridPayload is the compact status-grid entry published on the
// tenant-wide topic. Field names are part of the subscriber contract.
type GridPayload struct {
	TableNumber  string    `json:"tableNumber,omitempty"`
	Status       string    `json:"status"`
	OrderID      string    `json:"orderId"`
	Amount       float64   `json:"amount"`
	ItemCount    int       `json:"itemCount"`
	CustomerName string    `json:"customerName,omitempty"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// GroupCartItem is the customer-facing view of one line item.
type GroupCartItem struct {
	Name      string  `json:"name"`
	Quantity  int     `json:"quantity"`
	Price     float64 `json:"price"`
	LineTotal float64 `json:"lineTotal"`
}

// GroupCartPayload is published on the group-session topic.
type GroupCartPayload struct {
	OrderID     string          `json:"orderId"`
	TableNumber string          `json:"tableNumber,omitempty"`
	Items       []GroupCartItem `json:"items"`
	Subtotal    float64         `json:"subtotal"`
	UpdatedAt   time.Time       `json:"updatedAt"`
}

// RemovedPayload marks a deletion; it carries only the identifier.
type RemovedPayload struct {
	OrderID string `json:"orderId"`
	Removed bool   `json:"removed"`
}

// KitchenDispatchItem mirrors a line item on the kitchen queue message.
type KitchenDispatchItem struct {
	Name     string  `json:"name"`
	Quantity int     `json:"quantity"`
	Price    float64 `json:"price"`
	Status   string  `json:"status,omitempty"`
}

// KitchenDispatch is the message published to the kitchen topic exchange
// when an order enters the active pipeline.
type KitchenDispatch struct {
	OrderNumber  string                `json:"order_number"`
	Tenant       string                `json:"tenant"`
	OrderType    OrderType             `json:"order_type"`
	TableNumber  *string               `json:"table_number,omitempty"`
	CustomerName string                `json:"customer_name,omitempty"`
	Items        []KitchenDispatchItem `json:"items"`
	TotalAmount  float64               `json:"total_amount"`
	Priority     int                   `json:"priority"`
}

// DispatchPriority maps the order amount to a queue priority.
func DispatchPriority(total float64) int {
	switch {
	case total >= 100:
		return 10
	case total >= 50:
		return 5
	default:
		return 1
	}
}

// NewKitchenDispatch projects an order onto the kitchen queue message.
func NewKitchenDispatch(o *Order) KitchenDispatch {
	items := make([]KitchenDispatchItem, 0, len(o.Items))
	for _, li := range o.Items {
		items = append(items, KitchenDispatchItem{
			Name:     li.Name,
			Quantity: li.Quantity,
			Price:    li.UnitPrice,
			Status:   li.KitchenStatus,
		})
	}
	return KitchenDispatch{
		OrderNumber:  o.Number,
		Tenant:       o.Tenant,
		OrderType:    o.Type,
		TableNumber:  o.TableNumber,
		CustomerName: o.CustomerName,
		Items:        items,
		TotalAmount:  o.FinalCharge,
		Priority:     DispatchPriority(o.FinalCharge),
	}
}

// NewGridPayload projects an order onto the tenant-wide status grid.
func NewGridPayload(o *Order) GridPayload {
	p := GridPayload{
		Status:       string(o.Status),
		OrderID:      o.Number,
		Amount:       o.FinalCharge,
		ItemCount:    o.ItemCount(),
		CustomerName: o.CustomerName,
		UpdatedAt:    o.UpdatedAt,
	}
	if o.TableNumber != nil {
		p.TableNumber = *o.TableNumber
	}
	return p
}

// NewGroupCartPayload projects an order onto the customer-facing group view.
func NewGroupCartPayload(o *Order) GroupCartPayload {
	items := make([]GroupCartItem, 0, len(o.Items))
	for _, li := range o.Items {
		items = append(items, GroupCartItem{
			Name:      li.Name,
			Quantity:  li.Quantity,
			Price:     li.UnitPrice,
			LineTotal: li.LineTotal(),
		})
	}
	p := GroupCartPayload{
		OrderID:   o.Number,
		Items:     items,
		Subtotal:  o.Subtotal,
		UpdatedAt: o.UpdatedAt,
	}
	if o.TableNumber != nil {
		p.TableNumber = *o.TableNumber
	}
	return p
}
