package orders

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/pubsub/pstest"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/hanko-field/storefront/internal/documents"
	"github.com/hanko-field/storefront/internal/domain"
	"github.com/hanko-field/storefront/internal/facade"
)

var now = time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)

func placedOrder() domain.Order {
	return domain.Order{
		ID:             "o1",
		UserID:         "u1",
		OrderStatus:    domain.OrderStatusShipped,
		PaymentStatus:  domain.PaymentStatusPaid,
		StatusTimeline: []domain.StatusEntry{{Status: domain.OrderStatusPlaced, Timestamp: now.Add(-48 * time.Hour)}, {Status: domain.OrderStatusShipped, Timestamp: now.Add(-time.Hour)}},
	}
}

func TestAdvanceShippedToDelivered(t *testing.T) {
	order := placedOrder()
	next, err := Advance(order, domain.OrderStatusDelivered, now, domain.RoleAdmin)
	if err != nil {
		t.Fatalf("advance: %v", err)
	}
	if got := len(next.StatusTimeline) - len(order.StatusTimeline); got != 1 {
		t.Fatalf("expected exactly one new entry, got %d", got)
	}
	last := next.StatusTimeline[len(next.StatusTimeline)-1]
	if last.Status != domain.OrderStatusDelivered || !last.Timestamp.Equal(now) {
		t.Fatalf("unexpected last entry %+v", last)
	}
	if next.OrderStatus != domain.OrderStatusDelivered {
		t.Fatalf("expected status DELIVERED, got %q", next.OrderStatus)
	}
	if len(order.StatusTimeline) != 2 {
		t.Fatalf("expected input timeline to be untouched")
	}
}

func TestTransitionTable(t *testing.T) {
	tests := []struct {
		from, to domain.OrderStatus
		allowed  bool
	}{
		{domain.OrderStatusPlaced, domain.OrderStatusConfirmed, true},
		{domain.OrderStatusPlaced, domain.OrderStatusShipped, true},
		{domain.OrderStatusPacked, domain.OrderStatusConfirmed, false},
		{domain.OrderStatusShipped, domain.OrderStatusShipped, false},
		{domain.OrderStatusDelivered, domain.OrderStatusOutForDelivery, true},
		{domain.OrderStatusDelivered, domain.OrderStatusShipped, false},
		{domain.OrderStatusOutForDelivery, domain.OrderStatusShipped, false},
	}
	for _, tc := range tests {
		if got := CanTransition(tc.from, tc.to); got != tc.allowed {
			t.Fatalf("%s -> %s: expected %v, got %v", tc.from, tc.to, tc.allowed, got)
		}
	}

	order := placedOrder()
	order.OrderStatus = domain.OrderStatusDelivered
	if _, err := Advance(order, domain.OrderStatusShipped, now, domain.RoleAdmin); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
	if _, err := Advance(order, "LOST", now, domain.RoleAdmin); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition for unknown status, got %v", err)
	}
}

func TestDeliveryRoleScope(t *testing.T) {
	order := placedOrder()
	order.OrderStatus = domain.OrderStatusPacked
	if _, err := Advance(order, domain.OrderStatusShipped, now, domain.RoleDelivery); !errors.Is(err, domain.ErrNotAuthorized) {
		t.Fatalf("expected delivery to be refused on PACKED orders, got %v", err)
	}

	order.OrderStatus = domain.OrderStatusShipped
	if _, err := Advance(order, domain.OrderStatusOutForDelivery, now, domain.RoleDelivery); err != nil {
		t.Fatalf("expected delivery to move SHIPPED -> OUT_FOR_DELIVERY: %v", err)
	}
	if _, err := Advance(order, domain.OrderStatusOutForDelivery, now, domain.RoleUser); !errors.Is(err, domain.ErrNotAuthorized) {
		t.Fatalf("expected shoppers to be refused, got %v", err)
	}

	next := NextStatuses(domain.OrderStatusShipped, domain.RoleDelivery)
	if len(next) != 2 {
		t.Fatalf("expected two delivery targets, got %v", next)
	}
}

func newService(t *testing.T, publisher Publisher) (*Service, *documents.MemoryStore) {
	t.Helper()
	store := documents.NewMemoryStore()
	svc, err := NewService(Deps{
		Documents: facade.NewLocalDocuments(store),
		Events:    publisher,
		Clock:     func() time.Time { return now },
	})
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	return svc, store
}

func seedOrder(store *documents.MemoryStore, id, uid string, status domain.OrderStatus, created time.Time, total float64, lines ...map[string]any) {
	products := make([]any, 0, len(lines))
	for _, l := range lines {
		products = append(products, l)
	}
	store.Seed(documents.CollectionOrders, id, documents.Document{
		"userId":         uid,
		"orderStatus":    string(status),
		"paymentStatus":  "PAID",
		"totalAmount":    total,
		"products":       products,
		"createdAt":      created.Format(time.RFC3339),
		"statusTimeline": []any{map[string]any{"status": "ORDER_PLACED", "timestamp": created.Format(time.RFC3339)}},
	})
}

func TestServiceListsAndScopesViews(t *testing.T) {
	svc, store := newService(t, nil)
	ctx := context.Background()
	seedOrder(store, "o1", "u1", domain.OrderStatusPlaced, now.Add(-72*time.Hour), 100)
	seedOrder(store, "o2", "u1", domain.OrderStatusShipped, now.Add(-time.Hour), 200)
	seedOrder(store, "o3", "u2", domain.OrderStatusDelivered, now.Add(-2*time.Hour), 300)

	mine := svc.ListForUser(ctx, "u1")
	if len(mine) != 2 || mine[0].ID != "o2" || mine[1].ID != "o1" {
		t.Fatalf("expected u1 orders newest first, got %+v", mine)
	}
	delivery := svc.ListForDelivery(ctx)
	if len(delivery) != 2 {
		t.Fatalf("expected two delivery orders, got %d", len(delivery))
	}

	if _, err := svc.Get(ctx, Viewer{UID: "u2", Role: domain.RoleUser}, "o1"); !errors.Is(err, domain.ErrNotAuthorized) {
		t.Fatalf("expected ownership check, got %v", err)
	}
	if _, err := svc.Get(ctx, Viewer{UID: "d1", Role: domain.RoleDelivery}, "o1"); !errors.Is(err, domain.ErrNotAuthorized) {
		t.Fatalf("expected delivery to be refused a placed order, got %v", err)
	}
	if _, err := svc.Get(ctx, Viewer{UID: "a1", Role: domain.RoleAdmin}, "missing"); !errors.Is(err, domain.ErrDocumentNotFound) {
		t.Fatalf("expected ErrDocumentNotFound, got %v", err)
	}
}

type recorder struct {
	events []Event
}

func (r *recorder) Publish(_ context.Context, event Event) error {
	r.events = append(r.events, event)
	return nil
}

func TestUpdateStatusPersistsTimelineAndPublishes(t *testing.T) {
	events := &recorder{}
	svc, store := newService(t, events)
	ctx := context.Background()
	seedOrder(store, "o1", "u1", domain.OrderStatusShipped, now.Add(-time.Hour), 100)

	updated, err := svc.UpdateStatus(ctx, Viewer{UID: "d1", Role: domain.RoleDelivery}, "o1", domain.OrderStatusDelivered)
	if err != nil {
		t.Fatalf("update status: %v", err)
	}
	if len(updated.StatusTimeline) != 2 {
		t.Fatalf("expected two timeline entries, got %d", len(updated.StatusTimeline))
	}

	doc, err := store.Get(ctx, documents.CollectionOrders, "o1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if doc["orderStatus"] != "DELIVERED" {
		t.Fatalf("expected persisted status DELIVERED, got %v", doc["orderStatus"])
	}
	if timeline, ok := doc["statusTimeline"].([]any); !ok || len(timeline) != 2 {
		t.Fatalf("expected persisted timeline of 2, got %v", doc["statusTimeline"])
	}
	if doc["totalAmount"] != float64(100) {
		t.Fatalf("expected other fields untouched, got %v", doc["totalAmount"])
	}
	if len(events.events) != 1 || events.events[0].Previous != domain.OrderStatusShipped {
		t.Fatalf("expected status event, got %+v", events.events)
	}

	if _, err := svc.UpdateStatus(ctx, Viewer{UID: "u1", Role: domain.RoleUser}, "o1", domain.OrderStatusOutForDelivery); !errors.Is(err, domain.ErrNotAuthorized) {
		t.Fatalf("expected shoppers to be refused, got %v", err)
	}
}

func TestBuildReport(t *testing.T) {
	products := []domain.Product{{ID: "p1", Category: "Boards"}, {ID: "p2", Category: "Sensors"}}
	orders := []domain.Order{
		{
			PaymentStatus: domain.PaymentStatusPaid,
			TotalAmount:   250,
			CreatedAt:     now.Add(-time.Hour),
			Products: []domain.OrderLine{
				{ProductID: "p1", Price: 100, Quantity: 2},
			},
		},
		{
			PaymentStatus: domain.PaymentStatusPaid,
			TotalAmount:   99.99,
			CreatedAt:     time.Date(2026, 1, 20, 9, 0, 0, 0, time.UTC),
			Products: []domain.OrderLine{
				{ProductID: "p2", Price: 49.99, Quantity: 1},
				{ProductID: "gone", Price: 50, Quantity: 1},
			},
		},
		{
			PaymentStatus: domain.PaymentStatusPending,
			TotalAmount:   1000,
			CreatedAt:     now,
		},
	}

	report := BuildReport(orders, products, now)
	if report.Summary.PaidOrders != 2 || report.Summary.TotalRevenue != 349.99 {
		t.Fatalf("unexpected summary %+v", report.Summary)
	}
	if report.Summary.TodayRevenue != 250 || report.Summary.MonthRevenue != 250 {
		t.Fatalf("unexpected today/month revenue %+v", report.Summary)
	}
	if len(report.SalesByDate) != 2 || report.SalesByDate[0].Date != "2026-01-20" {
		t.Fatalf("unexpected sales by date %+v", report.SalesByDate)
	}
	if len(report.MonthlyRevenue) != 2 || report.MonthlyRevenue[0].Month != "Jan 2026" || report.MonthlyRevenue[1].Month != "Mar 2026" {
		t.Fatalf("unexpected monthly revenue %+v", report.MonthlyRevenue)
	}
	if report.RevenueByCategory[0].Category != "Boards" || report.RevenueByCategory[0].Revenue != 200 {
		t.Fatalf("unexpected category revenue %+v", report.RevenueByCategory)
	}
	foundUnknown := false
	for _, c := range report.RevenueByCategory {
		if c.Category == "Unknown" && c.Revenue == 50 {
			foundUnknown = true
		}
	}
	if !foundUnknown {
		t.Fatalf("expected Unknown category for missing product, got %+v", report.RevenueByCategory)
	}
}

func TestCustomerFigures(t *testing.T) {
	users := []domain.User{{UID: "u1", Name: "Asha"}, {UID: "u2", Name: "Ravi"}}
	orders := []domain.Order{
		{UserID: "u1", PaymentStatus: domain.PaymentStatusPaid, TotalAmount: 100.10},
		{UserID: "u1", PaymentStatus: domain.PaymentStatusPaid, TotalAmount: 50.20},
		{UserID: "u1", PaymentStatus: domain.PaymentStatusPending, TotalAmount: 999},
	}
	stats := CustomerFigures(users, orders)
	if stats[0].CalculatedOrders != 2 || stats[0].CalculatedSpent != 150.3 {
		t.Fatalf("unexpected stats %+v", stats[0])
	}
	if stats[1].CalculatedOrders != 0 {
		t.Fatalf("expected no orders for u2, got %+v", stats[1])
	}
}

func TestPubSubPublisherPublishesEvent(t *testing.T) {
	ctx := context.Background()
	srv := pstest.NewServer()
	defer srv.Close()

	client, err := pubsub.NewClient(ctx, "test-project",
		option.WithEndpoint(srv.Addr),
		option.WithoutAuthentication(),
		option.WithGRPCDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())),
	)
	if err != nil {
		t.Fatalf("pubsub.NewClient: %v", err)
	}
	defer func() {
		_ = client.Close()
	}()

	topic, err := client.CreateTopic(ctx, "order-events")
	if err != nil {
		t.Fatalf("CreateTopic: %v", err)
	}
	publisher, err := NewPubSubPublisher(topic)
	if err != nil {
		t.Fatalf("NewPubSubPublisher: %v", err)
	}

	event := Event{
		Type:       EventOrderStatusChanged,
		OrderID:    "o1",
		Status:     domain.OrderStatusDelivered,
		Previous:   domain.OrderStatusShipped,
		ActorRole:  domain.RoleDelivery,
		OccurredAt: now,
	}
	if err := publisher.Publish(ctx, event); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	messages := srv.Messages()
	if len(messages) != 1 {
		t.Fatalf("expected 1 message, got %d", len(messages))
	}
	var payload Event
	if err := json.Unmarshal(messages[0].Data, &payload); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	if payload.OrderID != "o1" || payload.Status != domain.OrderStatusDelivered {
		t.Fatalf("unexpected payload %#v", payload)
	}
	if attr := messages[0].Attributes["type"]; attr != EventOrderStatusChanged {
		t.Fatalf("expected type attribute, got %q", attr)
	}
	if _, ok := messages[0].Attributes["userId"]; ok {
		t.Fatalf("userId attribute should not be present")
	}
}
