package domain

import "time"

// Offer is a time-bounded percentage discount attached to a product.
type Offer struct {
	IsActive           bool       `json:"isActive"`
	DiscountPercentage float64    `json:"discountPercentage"`
	EndDate            *time.Time `json:"endDate,omitempty"`
	Description        string     `json:"description,omitempty"`
}

// ActiveAt reports whether the offer applies at now. A passed endDate disables it.
func (o *Offer) ActiveAt(now time.Time) bool {
	if o == nil || !o.IsActive || o.DiscountPercentage <= 0 {
		return false
	}
	if o.EndDate != nil && !o.EndDate.IsZero() && !now.Before(*o.EndDate) {
		return false
	}
	return true
}

// Product is a catalogue document. Amounts are major units (rupees) as stored.
type Product struct {
	ID              string            `json:"id"`
	Name            string            `json:"name"`
	Description     string            `json:"description,omitempty"`
	Category        string            `json:"category,omitempty"`
	Price           float64           `json:"price"`
	Stock           int               `json:"stock"`
	Rating          float64           `json:"rating,omitempty"`
	Tax             float64           `json:"tax,omitempty"`
	ShippingCharges float64           `json:"shippingCharges,omitempty"`
	Image           string            `json:"image,omitempty"`
	Images          []string          `json:"images,omitempty"`
	Offer           *Offer            `json:"offer,omitempty"`
	Specifications  map[string]string `json:"specifications,omitempty"`
	Policies        []string          `json:"policies,omitempty"`
	Sales           int               `json:"sales,omitempty"`
	CreatedAt       *time.Time        `json:"createdAt,omitempty"`
}

// PrimaryImage returns the first image reference the product carries.
func (p Product) PrimaryImage() string {
	if p.Image != "" {
		return p.Image
	}
	if len(p.Images) > 0 {
		return p.Images[0]
	}
	return ""
}
