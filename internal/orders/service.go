package orders

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/hanko-field/storefront/internal/documents"
	"github.com/hanko-field/storefront/internal/domain"
)

var errDocumentsRequired = errors.New("order service: documents client is required")

// Documents is the facade surface the order service needs.
type Documents interface {
	GetDocument(ctx context.Context, collection, id string, dst any) error
	ListDocuments(ctx context.Context, collection string, filters url.Values, dst any) error
	UpdateDocument(ctx context.Context, collection, id string, fields any) error
}

// Viewer is the signed-in principal acting on orders.
type Viewer struct {
	UID  string
	Role domain.Role
}

// Deps wires the order service.
type Deps struct {
	Documents Documents
	Events    Publisher
	Clock     func() time.Time
	Logger    func(context.Context, string, map[string]any)
}

// Service reads orders and advances their status timeline.
type Service struct {
	docs   Documents
	events Publisher
	now    func() time.Time
	logger func(context.Context, string, map[string]any)
}

// NewService constructs an order Service.
func NewService(deps Deps) (*Service, error) {
	if deps.Documents == nil {
		return nil, errDocumentsRequired
	}
	events := deps.Events
	if events == nil {
		events = NopPublisher{}
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
		events: events,
		now: func() time.Time {
			return clock().UTC()
		},
		logger: logger,
	}, nil
}

// Get loads one order. Shoppers only see their own orders and delivery agents only
// see orders in a delivery status.
func (s *Service) Get(ctx context.Context, viewer Viewer, id string) (domain.Order, error) {
	order, err := s.load(ctx, id)
	if err != nil {
		return domain.Order{}, err
	}
	if !canView(viewer, order) {
		return domain.Order{}, fmt.Errorf("%w: order %s", domain.ErrNotAuthorized, id)
	}
	return order, nil
}

// ListForUser returns the shopper's orders, newest first.
func (s *Service) ListForUser(ctx context.Context, uid string) []domain.Order {
	uid = strings.TrimSpace(uid)
	if uid == "" {
		return []domain.Order{}
	}
	return s.list(ctx, url.Values{"userId": {uid}})
}

// ListForDelivery returns orders in a delivery status, newest first.
func (s *Service) ListForDelivery(ctx context.Context) []domain.Order {
	all := s.list(ctx, nil)
	out := make([]domain.Order, 0, len(all))
	for _, order := range all {
		if slices.Contains(DeliveryStatuses, order.CurrentStatus()) {
			out = append(out, order)
		}
	}
	return out
}

// ListAll returns every order, newest first.
func (s *Service) ListAll(ctx context.Context) []domain.Order {
	return s.list(ctx, nil)
}

// UpdateStatus advances the order and persists only orderStatus and statusTimeline.
func (s *Service) UpdateStatus(ctx context.Context, viewer Viewer, id string, status domain.OrderStatus) (domain.Order, error) {
	switch viewer.Role {
	case domain.RoleAdmin, domain.RoleDelivery:
	case domain.RoleUser:
		return domain.Order{}, fmt.Errorf("%w: shoppers cannot change order status", domain.ErrNotAuthorized)
	default:
		return domain.Order{}, domain.ErrNotAuthorized
	}

	order, err := s.load(ctx, id)
	if err != nil {
		return domain.Order{}, err
	}
	previous := order.CurrentStatus()
	now := s.now()
	next, err := Advance(order, status, now, viewer.Role)
	if err != nil {
		return domain.Order{}, err
	}

	if err := s.docs.UpdateDocument(ctx, documents.CollectionOrders, order.ID, map[string]any{
		"orderStatus":    next.OrderStatus,
		"statusTimeline": next.StatusTimeline,
	}); err != nil {
		return domain.Order{}, err
	}

	s.logger(ctx, "orders.status.changed", map[string]any{
		"orderId":  order.ID,
		"from":     previous,
		"to":       next.OrderStatus,
		"actor":    viewer.UID,
		"role":     viewer.Role,
		"timeline": len(next.StatusTimeline),
	})
	if err := s.events.Publish(ctx, Event{
		Type:       EventOrderStatusChanged,
		OrderID:    order.ID,
		UserID:     order.UserID,
		Status:     next.OrderStatus,
		Previous:   previous,
		Actor:      viewer.UID,
		ActorRole:  viewer.Role,
		OccurredAt: now,
	}); err != nil {
		s.logger(ctx, "orders.event_publish_failed", map[string]any{
			"orderId": order.ID,
			"error":   err.Error(),
		})
	}
	return next, nil
}

func (s *Service) load(ctx context.Context, id string) (domain.Order, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return domain.Order{}, fmt.Errorf("%w: order id is required", domain.ErrDocumentNotFound)
	}
	var order domain.Order
	if err := s.docs.GetDocument(ctx, documents.CollectionOrders, id, &order); err != nil {
		return domain.Order{}, err
	}
	if order.ID == "" {
		order.ID = id
	}
	return order, nil
}

func (s *Service) list(ctx context.Context, filters url.Values) []domain.Order {
	var out []domain.Order
	if err := s.docs.ListDocuments(ctx, documents.CollectionOrders, filters, &out); err != nil {
		s.logger(ctx, "orders.list_failed", map[string]any{
			"filters": filters.Encode(),
			"error":   err.Error(),
		})
		return []domain.Order{}
	}
	slices.SortStableFunc(out, func(a, b domain.Order) int {
		return b.CreatedAt.Compare(a.CreatedAt)
	})
	if out == nil {
		out = []domain.Order{}
	}
	return out
}

func canView(viewer Viewer, order domain.Order) bool {
	switch viewer.Role {
	case domain.RoleAdmin:
		return true
	case domain.RoleDelivery:
		return slices.Contains(DeliveryStatuses, order.CurrentStatus())
	case domain.RoleUser:
		return viewer.UID != "" && order.UserID == viewer.UID
	default:
		return false
	}
}
