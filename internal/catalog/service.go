package catalog

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/hanko-field/storefront/internal/cart"
	"github.com/hanko-field/storefront/internal/documents"
	"github.com/hanko-field/storefront/internal/domain"
	"github.com/hanko-field/storefront/internal/platform/textutil"
)

const defaultRating = 4.5

var (
	errDocumentsRequired = errors.New("catalog service: documents client is required")

	// ErrInvalidProduct indicates an admin submitted an unusable product.
	ErrInvalidProduct = errors.New("catalog service: invalid product")
)

// Documents is the facade surface the catalog needs.
type Documents interface {
	GetDocument(ctx context.Context, collection, id string, dst any) error
	ListDocuments(ctx context.Context, collection string, filters url.Values, dst any) error
	CreateDocument(ctx context.Context, collection string, doc any) (string, error)
	UpdateDocument(ctx context.Context, collection, id string, fields any) error
	DeleteDocument(ctx context.Context, collection, id string) error
}

// Listing is a product with its effective price at listing time.
type Listing struct {
	domain.Product
	EffectivePrice float64 `json:"effectivePrice"`
	OfferActive    bool    `json:"offerActive"`
	InStock        bool    `json:"inStock"`
}

// ProductInput is the admin payload for creating or replacing a product.
type ProductInput struct {
	Name            string            `json:"name"`
	Category        string            `json:"category"`
	Price           float64           `json:"price"`
	Stock           int               `json:"stock"`
	Rating          float64           `json:"rating"`
	Image           string            `json:"image"`
	Images          []string          `json:"images"`
	Description     string            `json:"description"`
	Tax             float64           `json:"tax"`
	ShippingCharges float64           `json:"shippingCharges"`
	Offer           *domain.Offer     `json:"offer"`
	Specifications  map[string]string `json:"specifications"`
	Policies        []string          `json:"policies"`
}

// Deps wires the catalog service.
type Deps struct {
	Documents Documents
	Clock     func() time.Time
	Logger    func(context.Context, string, map[string]any)
}

// Service reads and maintains the product catalogue through the facade.
type Service struct {
	docs   Documents
	now    func() time.Time
	logger func(context.Context, string, map[string]any)
}

// NewService constructs a catalog Service.
func NewService(deps Deps) (*Service, error) {
	if deps.Documents == nil {
		return nil, errDocumentsRequired
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &Service{
		docs:   deps.Documents,
		now:    func() time.Time { return clock().UTC() },
		logger: logger,
	}, nil
}

// List returns the products matching filter. A failed fetch degrades to an empty list.
func (s *Service) List(ctx context.Context, filter Filter) []Listing {
	products := s.all(ctx)
	now := s.now()
	listings := make([]Listing, 0, len(products))
	for _, product := range products {
		if !filter.Match(product) {
			continue
		}
		listings = append(listings, s.listing(product, now))
	}
	return listings
}

// Categories returns the distinct categories in catalogue order.
func (s *Service) Categories(ctx context.Context) []string {
	var categories []string
	for _, product := range s.all(ctx) {
		if product.Category != "" && !slices.Contains(categories, product.Category) {
			categories = append(categories, product.Category)
		}
	}
	return categories
}

// Get loads a single product.
func (s *Service) Get(ctx context.Context, id string) (domain.Product, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return domain.Product{}, fmt.Errorf("%w: product id is required", domain.ErrDocumentNotFound)
	}
	var product domain.Product
	if err := s.docs.GetDocument(ctx, documents.CollectionProducts, id, &product); err != nil {
		return domain.Product{}, err
	}
	if product.ID == "" {
		product.ID = id
	}
	return product, nil
}

// Listing loads one product with its effective price.
func (s *Service) Listing(ctx context.Context, id string) (Listing, error) {
	product, err := s.Get(ctx, id)
	if err != nil {
		return Listing{}, err
	}
	return s.listing(product, s.now()), nil
}

// Create stores a new product and returns its id.
func (s *Service) Create(ctx context.Context, input ProductInput) (string, error) {
	fields, err := s.normalise(input)
	if err != nil {
		return "", err
	}
	fields["sales"] = 0
	fields["createdAt"] = s.now()

	id, err := s.docs.CreateDocument(ctx, documents.CollectionProducts, fields)
	if err != nil {
		return "", err
	}
	s.logger(ctx, "catalog.product_created", map[string]any{"productId": id})
	return id, nil
}

// Update replaces the editable fields of a product.
func (s *Service) Update(ctx context.Context, id string, input ProductInput) error {
	fields, err := s.normalise(input)
	if err != nil {
		return err
	}
	fields["updatedAt"] = s.now()
	if err := s.docs.UpdateDocument(ctx, documents.CollectionProducts, id, fields); err != nil {
		return err
	}
	s.logger(ctx, "catalog.product_updated", map[string]any{"productId": id})
	return nil
}

// Delete removes a product.
func (s *Service) Delete(ctx context.Context, id string) error {
	if err := s.docs.DeleteDocument(ctx, documents.CollectionProducts, id); err != nil {
		return err
	}
	s.logger(ctx, "catalog.product_deleted", map[string]any{"productId": id})
	return nil
}

func (s *Service) all(ctx context.Context) []domain.Product {
	var products []domain.Product
	if err := s.docs.ListDocuments(ctx, documents.CollectionProducts, nil, &products); err != nil {
		s.logger(ctx, "catalog.list_failed", map[string]any{"error": err.Error()})
		return []domain.Product{}
	}
	return products
}

func (s *Service) listing(product domain.Product, now time.Time) Listing {
	return Listing{
		Product:        product,
		EffectivePrice: domain.FromMinorUnits(cart.OfferPrice(product, now)),
		OfferActive:    product.Offer.ActiveAt(now),
		InStock:        product.Stock > 0,
	}
}

func (s *Service) normalise(input ProductInput) (map[string]any, error) {
	name := textutil.PlainText(input.Name)
	if name == "" {
		return nil, fmt.Errorf("%w: name is required", ErrInvalidProduct)
	}
	if input.Price < 0 || input.Stock < 0 || input.Tax < 0 || input.ShippingCharges < 0 {
		return nil, fmt.Errorf("%w: amounts must not be negative", ErrInvalidProduct)
	}
	rating := input.Rating
	if rating <= 0 {
		rating = defaultRating
	}

	fields := map[string]any{
		"name":            name,
		"category":        textutil.PlainText(input.Category),
		"price":           input.Price,
		"stock":           input.Stock,
		"rating":          rating,
		"image":           strings.TrimSpace(input.Image),
		"description":     textutil.RichText(input.Description),
		"tax":             input.Tax,
		"shippingCharges": input.ShippingCharges,
		"offer":           normaliseOffer(input.Offer),
	}
	if images := trimAll(input.Images, strings.TrimSpace); len(images) > 0 {
		fields["images"] = images
	}
	if specs := textutil.NormalizeStringMap(input.Specifications); specs != nil {
		fields["specifications"] = specs
	}
	if policies := trimAll(input.Policies, textutil.PlainText); len(policies) > 0 {
		fields["policies"] = policies
	}
	return fields, nil
}

func normaliseOffer(offer *domain.Offer) domain.Offer {
	if offer == nil {
		return domain.Offer{}
	}
	out := *offer
	out.DiscountPercentage = min(max(out.DiscountPercentage, 0), 100)
	out.Description = textutil.PlainText(out.Description)
	return out
}

func trimAll(values []string, clean func(string) string) []string {
	var out []string
	for _, value := range values {
		if value = clean(value); value != "" {
			out = append(out, value)
		}
	}
	return out
}
