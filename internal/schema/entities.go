package schema

import (
	"encoding/json"
	"fmt"
	"time"
)

// Product represents an inventory item.
// Prices and costs are stored in minor currency units.
type Product struct {
	ID       string   `json:"id"`
	Name     string   `json:"name"`
	SKU      string   `json:"sku,omitempty"`
	Barcode  string   `json:"barcode,omitempty"`
	Category string   `json:"category,omitempty"`
	Price    int64    `json:"price"`
	Cost     int64    `json:"cost,omitempty"`
	Stock    int      `json:"stock"`
	Unit     string   `json:"unit,omitempty"`
	Tags     []string `json:"tags,omitempty"`
}

// Validate checks if the Product has valid field values.
func (p *Product) Validate() error {
	if p.Name == "" {
		return fmt.Errorf("name is required")
	}
	if len(p.Name) > 500 {
		return fmt.Errorf("name must be 500 characters or less (got %d)", len(p.Name))
	}
	if p.Price < 0 {
		return fmt.Errorf("price cannot be negative (got %d)", p.Price)
	}
	if p.Cost < 0 {
		return fmt.Errorf("cost cannot be negative (got %d)", p.Cost)
	}
	return nil
}

// OrderItem is one line of an order.
type OrderItem struct {
	ProductID string `json:"product_id"`
	Name      string `json:"name,omitempty"`
	Quantity  int    `json:"quantity"`
	UnitPrice int64  `json:"unit_price"`
}

// Order represents a customer order.
type Order struct {
	ID         string      `json:"id"`
	CustomerID string      `json:"customer_id,omitempty"`
	Status     string      `json:"status"` // pending, paid, fulfilled, cancelled
	Items      []OrderItem `json:"items"`
	Note       string      `json:"note,omitempty"`
	PlacedAt   time.Time   `json:"placed_at"`
}

// Total returns the order total in minor currency units.
func (o *Order) Total() int64 {
	var total int64
	for _, item := range o.Items {
		total += int64(item.Quantity) * item.UnitPrice
	}
	return total
}

// Validate checks if the Order has valid field values.
func (o *Order) Validate() error {
	switch o.Status {
	case "pending", "paid", "fulfilled", "cancelled":
	default:
		return fmt.Errorf("invalid order status %q", o.Status)
	}
	if len(o.Items) == 0 {
		return fmt.Errorf("order must have at least one item")
	}
	for i, item := range o.Items {
		if item.ProductID == "" {
			return fmt.Errorf("item %d: product_id is required", i)
		}
		if item.Quantity <= 0 {
			return fmt.Errorf("item %d: quantity must be positive (got %d)", i, item.Quantity)
		}
	}
	return nil
}

// Customer represents a storefront customer.
type Customer struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email,omitempty"`
	Phone string `json:"phone,omitempty"`
	Notes string `json:"notes,omitempty"`
}

// Validate checks if the Customer has valid field values.
func (c *Customer) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("name is required")
	}
	return nil
}

// Expense represents a business expense.
type Expense struct {
	ID       string    `json:"id"`
	Label    string    `json:"label"`
	Amount   int64     `json:"amount"`
	Category string    `json:"category,omitempty"`
	SpentAt  time.Time `json:"spent_at"`
}

// Validate checks if the Expense has valid field values.
func (e *Expense) Validate() error {
	if e.Label == "" {
		return fmt.Errorf("label is required")
	}
	if e.Amount <= 0 {
		return fmt.Errorf("amount must be positive (got %d)", e.Amount)
	}
	return nil
}

// Setting is a single key/value business setting.
type Setting struct {
	ID    string          `json:"id"`
	Value json.RawMessage `json:"value"`
}

// Validator is implemented by entities that can check their own fields.
type Validator interface {
	Validate() error
}

// Encode converts an entity into a Record. The entity must marshal to a JSON
// object with a non-empty "id" field. UpdatedAt is left zero for the store to stamp.
func Encode(v any) (Record, error) {
	if val, ok := v.(Validator); ok {
		if err := val.Validate(); err != nil {
			return Record{}, fmt.Errorf("invalid entity: %w", err)
		}
	}

	data, err := json.Marshal(v)
	if err != nil {
		return Record{}, fmt.Errorf("failed to marshal entity: %w", err)
	}

	id, err := PayloadID(data)
	if err != nil {
		return Record{}, err
	}

	rec := Record{ID: id, Data: data}
	if err := rec.Validate(); err != nil {
		return Record{}, err
	}
	return rec, nil
}

// Decode unmarshals the record payload into v.
func Decode(rec Record, v any) error {
	if err := json.Unmarshal(rec.Data, v); err != nil {
		return fmt.Errorf("failed to decode record %s: %w", rec.ID, err)
	}
	return nil
}

// PayloadID extracts the "id" field of a JSON object. A missing id returns "".
func PayloadID(data json.RawMessage) (string, error) {
	var probe struct {
		ID *string `json:"id"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return "", fmt.Errorf("failed to read payload id: %w", err)
	}
	if probe.ID == nil {
		return "", nil
	}
	return *probe.ID, nil
}

// WithID returns data with its "id" field set to id.
func WithID(data json.RawMessage, id string) (json.RawMessage, error) {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(data, &obj); err != nil {
		return nil, fmt.Errorf("payload must be a JSON object: %w", err)
	}
	if obj == nil {
		obj = make(map[string]json.RawMessage)
	}
	rawID, err := json.Marshal(id)
	if err != nil {
		return nil, err
	}
	obj["id"] = rawID
	out, err := json.Marshal(obj)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal payload: %w", err)
	}
	return out, nil
}
