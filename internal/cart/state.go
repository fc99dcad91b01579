package cart

import "slices"

// Item is one cart line. Amounts are minor units (paise).
type Item struct {
	ID              string `json:"id"`
	ProductID       string `json:"productId"`
	Name            string `json:"name"`
	UnitPrice       int64  `json:"unitPrice"`
	Quantity        int    `json:"quantity"`
	Image           string `json:"image,omitempty"`
	ShippingCharges int64  `json:"shippingCharges"`
}

// State is a cart snapshot. TotalItems and TotalAmount are derived from Items on
// every mutation and are never set independently.
type State struct {
	Items       []Item `json:"items"`
	TotalItems  int    `json:"totalItems"`
	TotalAmount int64  `json:"totalAmount"`
}

// AddItem increments the quantity of an existing line by exactly one, or appends
// item with the supplied id and a quantity of at least one.
func AddItem(state State, item Item, id string) State {
	items := slices.Clone(state.Items)
	if idx := indexOf(items, item.ProductID); idx >= 0 {
		items[idx].Quantity++
		return withTotals(items)
	}

	item.ID = id
	if item.Quantity < 1 {
		item.Quantity = 1
	}
	return withTotals(append(items, item))
}

// RemoveItem drops the line for productID.
func RemoveItem(state State, productID string) State {
	items := slices.DeleteFunc(slices.Clone(state.Items), func(item Item) bool {
		return item.ProductID == productID
	})
	return withTotals(items)
}

// UpdateQuantity sets the quantity for productID. Values at or below zero remove the line.
func UpdateQuantity(state State, productID string, quantity int) State {
	quantity = max(0, quantity)
	items := make([]Item, 0, len(state.Items))
	for _, item := range state.Items {
		if item.ProductID == productID {
			item.Quantity = quantity
		}
		if item.Quantity > 0 {
			items = append(items, item)
		}
	}
	return withTotals(items)
}

// Clear empties the cart.
func Clear(State) State {
	return State{Items: []Item{}}
}

// Subtract removes the quantities held in paid from state. Lines that reach zero are
// dropped; lines or quantities added after paid was taken stay.
func Subtract(state, paid State) State {
	owed := make(map[string]int, len(paid.Items))
	for _, item := range paid.Items {
		owed[item.ProductID] += item.Quantity
	}
	items := make([]Item, 0, len(state.Items))
	for _, item := range state.Items {
		item.Quantity -= owed[item.ProductID]
		if item.Quantity > 0 {
			items = append(items, item)
		}
	}
	return withTotals(items)
}

// Equal reports whether two snapshots hold the same lines.
func Equal(a, b State) bool {
	return slices.Equal(a.Items, b.Items)
}

// IsEmpty reports whether the cart has no lines.
func (s State) IsEmpty() bool {
	return len(s.Items) == 0
}

// Item returns the line for productID.
func (s State) Item(productID string) (Item, bool) {
	if idx := indexOf(s.Items, productID); idx >= 0 {
		return s.Items[idx], true
	}
	return Item{}, false
}

func indexOf(items []Item, productID string) int {
	return slices.IndexFunc(items, func(item Item) bool {
		return item.ProductID == productID
	})
}

func withTotals(items []Item) State {
	if items == nil {
		items = []Item{}
	}
	state := State{Items: items}
	for _, item := range items {
		state.TotalItems += item.Quantity
		state.TotalAmount += item.UnitPrice * int64(item.Quantity)
	}
	return state
}
