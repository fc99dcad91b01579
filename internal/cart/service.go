package cart

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/hanko-field/storefront/internal/domain"
)

var (
	errStoreRequired = errors.New("cart service: store is required")

	// ErrInvalidInput indicates the caller supplied an unusable line.
	ErrInvalidInput = errors.New("cart service: invalid input")
)

// ProductFinder resolves the authoritative product before it enters a cart.
type ProductFinder interface {
	Get(ctx context.Context, productID string) (domain.Product, error)
}

// AddRequest is what the shopper submits when adding a product. Price is in
// major units and is only used when the product lookup fails.
type AddRequest struct {
	ProductID string  `json:"productId"`
	Name      string  `json:"name"`
	Price     float64 `json:"price"`
	Image     string  `json:"image,omitempty"`
}

// Deps wires the cart service.
type Deps struct {
	Store       *Store
	Products    ProductFinder
	Clock       func() time.Time
	IDGenerator func() string
	Logger      func(context.Context, string, map[string]any)
}

// Service applies reducer operations to session carts.
type Service struct {
	store    *Store
	products ProductFinder
	now      func() time.Time
	newID    func() string
	logger   func(context.Context, string, map[string]any)
}

// NewService constructs a cart Service.
func NewService(deps Deps) (*Service, error) {
	if deps.Store == nil {
		return nil, errStoreRequired
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string { return ulid.Make().String() }
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &Service{
		store:    deps.Store,
		products: deps.Products,
		now:      func() time.Time { return clock().UTC() },
		newID:    idGen,
		logger:   logger,
	}, nil
}

// Get returns the session cart.
func (s *Service) Get(sessionID string) State {
	return s.store.Snapshot(sessionID)
}

// Add resolves the product and inserts it. When the lookup fails the caller's
// price is kept and shipping is zero.
func (s *Service) Add(ctx context.Context, sessionID string, req AddRequest) (State, error) {
	productID := strings.TrimSpace(req.ProductID)
	if productID == "" {
		return State{}, fmt.Errorf("%w: productId is required", ErrInvalidInput)
	}

	item := Item{
		ProductID: productID,
		Name:      strings.TrimSpace(req.Name),
		UnitPrice: domain.ToMinorUnits(req.Price),
		Quantity:  1,
		Image:     strings.TrimSpace(req.Image),
	}

	if s.products != nil {
		product, err := s.products.Get(ctx, productID)
		if err != nil {
			s.logger(ctx, "cart.resolve_failed", map[string]any{
				"productId": productID,
				"error":     err.Error(),
			})
		} else {
			item.UnitPrice = OfferPrice(product, s.now())
			item.ShippingCharges = domain.ToMinorUnits(product.ShippingCharges)
			if item.Name == "" {
				item.Name = product.Name
			}
			if item.Image == "" {
				item.Image = product.PrimaryImage()
			}
		}
	}
	if item.UnitPrice < 0 {
		return State{}, fmt.Errorf("%w: price must not be negative", ErrInvalidInput)
	}

	id := s.newID()
	return s.store.Apply(sessionID, func(state State) State {
		return AddItem(state, item, id)
	}), nil
}

// Remove drops a product line.
func (s *Service) Remove(sessionID, productID string) State {
	return s.store.Apply(sessionID, func(state State) State {
		return RemoveItem(state, productID)
	})
}

// UpdateQuantity sets a line quantity; zero or less removes it.
func (s *Service) UpdateQuantity(sessionID, productID string, quantity int) State {
	return s.store.Apply(sessionID, func(state State) State {
		return UpdateQuantity(state, productID, quantity)
	})
}

// Clear empties the session cart.
func (s *Service) Clear(sessionID string) State {
	return s.store.Apply(sessionID, Clear)
}
