package checkout

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/hanko-field/storefront/internal/cart"
	"github.com/hanko-field/storefront/internal/documents"
	"github.com/hanko-field/storefront/internal/domain"
	"github.com/hanko-field/storefront/internal/facade"
	"github.com/hanko-field/storefront/internal/orders"
)

type fakePayments struct {
	mu          sync.Mutex
	createCalls int
	verifyCalls int
	createErr   error
	verifyErr   error
	intent      facade.PaymentIntent
	lastCreate  facade.PaymentOrderRequest
	lastKey     string
	lastVerify  facade.VerifyRequest
}

func (f *fakePayments) CreatePaymentOrder(_ context.Context, req facade.PaymentOrderRequest, key string) (facade.PaymentIntent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.createCalls++
	f.lastCreate = req
	f.lastKey = key
	if f.createErr != nil {
		return facade.PaymentIntent{}, f.createErr
	}
	intent := f.intent
	if intent.OrderID == "" {
		intent = facade.PaymentIntent{OrderID: "order_test", Amount: req.Amount, Currency: req.Currency}
	}
	return intent, nil
}

func (f *fakePayments) VerifyPayment(_ context.Context, req facade.VerifyRequest) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.verifyCalls++
	f.lastVerify = req
	return f.verifyErr
}

func (f *fakePayments) calls() (int, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.createCalls, f.verifyCalls
}

type stubCollector struct {
	completion Completion
	err        error
}

func (s stubCollector) Collect(context.Context, Intent) (Completion, error) {
	return s.completion, s.err
}

type stubWidget struct {
	err   error
	calls int
}

func (w *stubWidget) Ensure(context.Context) error {
	w.calls++
	return w.err
}

func (w *stubWidget) Script() WidgetScript {
	return WidgetScript{ID: DefaultWidgetScriptID, URL: "https://checkout.example/v1/checkout.js"}
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []orders.Event
}

func (p *recordingPublisher) Publish(_ context.Context, event orders.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return nil
}

type fixture struct {
	svc       *Service
	carts     *cart.Store
	payments  *fakePayments
	widget    *stubWidget
	store     *documents.MemoryStore
	events    *recordingPublisher
	collector PaymentCollector
}

var fixedNow = time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)

func newFixture(t *testing.T, collector PaymentCollector) *fixture {
	t.Helper()
	f := &fixture{
		carts:     cart.NewStore(),
		payments:  &fakePayments{},
		widget:    &stubWidget{},
		store:     documents.NewMemoryStore(),
		events:    &recordingPublisher{},
		collector: collector,
	}
	svc, err := NewService(Deps{
		Carts:          f.carts,
		Widget:         f.widget,
		Payments:       f.payments,
		Collector:      collector,
		Orders:         facade.NewLocalDocuments(f.store),
		Events:         f.events,
		KeyID:          "rzp_test_key",
		MerchantName:   "ElectroMart",
		CollectTimeout: time.Second,
		Clock:          func() time.Time { return fixedNow },
		IDGenerator:    func() string { return "01HXCHECKOUT" },
	})
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	f.svc = svc
	return f
}

func (f *fixture) seedCart(sessionID string) cart.State {
	return f.carts.Apply(sessionID, func(state cart.State) cart.State {
		return cart.AddItem(state, cart.Item{
			ProductID:       "p1",
			Name:            "Arduino Uno",
			UnitPrice:       10000,
			Quantity:        2,
			ShippingCharges: 5000,
		}, "line-1")
	})
}

func (f *fixture) storedOrders(t *testing.T) []documents.Document {
	t.Helper()
	docs, err := f.store.List(context.Background(), documents.CollectionOrders, documents.Query{})
	if err != nil {
		t.Fatalf("list orders: %v", err)
	}
	return docs
}

func validCompletion() Completion {
	return Completion{OrderRef: "order_test", PaymentRef: "pay_1", Signature: "sig"}
}

func request(sessionID string) Request {
	return Request{
		SessionID:       sessionID,
		UserID:          "uid-1",
		DeliveryAddress: domain.DeliveryAddress{Name: "<b>Asha</b>", Line1: "12 MG Road", City: "Pune"},
		Customer:        domain.CustomerInfo{Name: "Asha", Email: "asha@example.com", Phone: "9999999999"},
	}
}

func TestCheckoutEmptyCartIssuesNoRemoteCalls(t *testing.T) {
	f := newFixture(t, stubCollector{completion: validCompletion()})

	order, err := f.svc.Checkout(context.Background(), request("s1"))
	if err != nil || order != nil {
		t.Fatalf("expected (nil, nil), got (%v, %v)", order, err)
	}
	if creates, verifies := f.payments.calls(); creates != 0 || verifies != 0 {
		t.Fatalf("expected no payment calls, got %d/%d", creates, verifies)
	}
	if f.widget.calls != 0 {
		t.Fatalf("expected widget not to load for an empty cart")
	}
}

func TestCheckoutRequiresUser(t *testing.T) {
	f := newFixture(t, stubCollector{completion: validCompletion()})
	f.seedCart("s1")
	req := request("s1")
	req.UserID = ""

	if _, err := f.svc.Checkout(context.Background(), req); !errors.Is(err, domain.ErrNotAuthenticated) {
		t.Fatalf("expected ErrNotAuthenticated, got %v", err)
	}
}

func TestCheckoutPersistsPaidOrderAndClearsCart(t *testing.T) {
	f := newFixture(t, stubCollector{completion: validCompletion()})
	f.seedCart("s1")

	order, err := f.svc.Checkout(context.Background(), request("s1"))
	if err != nil {
		t.Fatalf("checkout: %v", err)
	}
	if order == nil || order.ID == "" {
		t.Fatalf("expected persisted order, got %+v", order)
	}

	if f.payments.lastCreate.Amount != 25000 || f.payments.lastCreate.Currency != "INR" {
		t.Fatalf("expected 25000 paise INR, got %+v", f.payments.lastCreate)
	}
	if f.payments.lastKey != "01HXCHECKOUT" {
		t.Fatalf("expected idempotency key to be forwarded, got %q", f.payments.lastKey)
	}
	if order.TotalAmount != 250 || order.ShippingCharges != 50 {
		t.Fatalf("expected totals 250/50, got %v/%v", order.TotalAmount, order.ShippingCharges)
	}
	if order.PaymentStatus != domain.PaymentStatusPaid || order.OrderStatus != domain.OrderStatusPlaced {
		t.Fatalf("unexpected statuses %q/%q", order.PaymentStatus, order.OrderStatus)
	}
	if len(order.StatusTimeline) != 1 || !order.StatusTimeline[0].Timestamp.Equal(fixedNow) {
		t.Fatalf("unexpected timeline %+v", order.StatusTimeline)
	}
	if order.DeliveryAddress.Name != "Asha" {
		t.Fatalf("expected sanitised address, got %q", order.DeliveryAddress.Name)
	}
	if order.PaymentID != "pay_1" {
		t.Fatalf("expected payment id pay_1, got %q", order.PaymentID)
	}

	docs := f.storedOrders(t)
	if len(docs) != 1 || docs[0]["paymentStatus"] != "PAID" {
		t.Fatalf("expected one PAID order document, got %v", docs)
	}
	if !f.carts.Snapshot("s1").IsEmpty() {
		t.Fatalf("expected cart to be cleared")
	}
	if len(f.events.events) != 1 || f.events.events[0].Type != orders.EventOrderPlaced {
		t.Fatalf("expected order.placed event, got %+v", f.events.events)
	}
}

func TestCheckoutCreateOrderFailureLeavesCart(t *testing.T) {
	f := newFixture(t, stubCollector{completion: validCompletion()})
	before := f.seedCart("s1")
	f.payments.createErr = &facade.Error{Status: 200, Code: "create_failed", Message: "success=false"}

	_, err := f.svc.Checkout(context.Background(), request("s1"))
	if !errors.Is(err, domain.ErrPaymentIntentCreationFailed) {
		t.Fatalf("expected ErrPaymentIntentCreationFailed, got %v", err)
	}
	if docs := f.storedOrders(t); len(docs) != 0 {
		t.Fatalf("expected no order documents, got %d", len(docs))
	}
	if !cart.Equal(f.carts.Snapshot("s1"), before) {
		t.Fatalf("expected cart to be unchanged")
	}
}

func TestCheckoutEmptyGatewayOrderID(t *testing.T) {
	f := newFixture(t, stubCollector{completion: validCompletion()})
	f.seedCart("s1")
	f.svc.payments = emptyIntentPayments{f.payments}

	if _, err := f.svc.Checkout(context.Background(), request("s1")); !errors.Is(err, domain.ErrPaymentIntentCreationFailed) {
		t.Fatalf("expected ErrPaymentIntentCreationFailed, got %v", err)
	}
}

type emptyIntentPayments struct{ *fakePayments }

func (emptyIntentPayments) CreatePaymentOrder(context.Context, facade.PaymentOrderRequest, string) (facade.PaymentIntent, error) {
	return facade.PaymentIntent{Amount: 100, Currency: "INR"}, nil
}

func TestCheckoutVerificationFailureLeavesCart(t *testing.T) {
	f := newFixture(t, stubCollector{completion: validCompletion()})
	before := f.seedCart("s1")
	f.payments.verifyErr = &facade.Error{Status: 400, Code: "verification_failed"}

	_, err := f.svc.Checkout(context.Background(), request("s1"))
	if !errors.Is(err, domain.ErrPaymentVerificationFailed) {
		t.Fatalf("expected ErrPaymentVerificationFailed, got %v", err)
	}
	if docs := f.storedOrders(t); len(docs) != 0 {
		t.Fatalf("expected no order without verification")
	}
	after := f.carts.Snapshot("s1")
	if after.IsEmpty() || !cart.Equal(after, before) {
		t.Fatalf("expected cart to be unchanged, got %+v", after)
	}
}

func TestCheckoutMalformedCompletion(t *testing.T) {
	f := newFixture(t, stubCollector{completion: Completion{OrderRef: "order_test", PaymentRef: "pay_1"}})
	f.seedCart("s1")

	if _, err := f.svc.Checkout(context.Background(), request("s1")); !errors.Is(err, domain.ErrMalformedGatewayResponse) {
		t.Fatalf("expected ErrMalformedGatewayResponse, got %v", err)
	}
	if _, verifies := f.payments.calls(); verifies != 0 {
		t.Fatalf("expected verify not to be called")
	}
}

func TestCheckoutMissingOrderRefFallsBackToIntent(t *testing.T) {
	f := newFixture(t, stubCollector{completion: Completion{PaymentRef: "pay_1", Signature: "sig"}})
	f.seedCart("s1")

	if _, err := f.svc.Checkout(context.Background(), request("s1")); err != nil {
		t.Fatalf("checkout: %v", err)
	}
	if f.payments.lastVerify.GatewayOrderID != "order_test" {
		t.Fatalf("expected intent order id fallback, got %q", f.payments.lastVerify.GatewayOrderID)
	}
}

func TestCheckoutWidgetUnavailable(t *testing.T) {
	f := newFixture(t, stubCollector{completion: validCompletion()})
	f.seedCart("s1")
	f.widget.err = fmt.Errorf("%w: offline", domain.ErrWidgetUnavailable)

	if _, err := f.svc.Checkout(context.Background(), request("s1")); !errors.Is(err, domain.ErrWidgetUnavailable) {
		t.Fatalf("expected ErrWidgetUnavailable, got %v", err)
	}
	if creates, _ := f.payments.calls(); creates != 0 {
		t.Fatalf("expected no create-order call")
	}
}

func TestCheckoutInvalidAmount(t *testing.T) {
	f := newFixture(t, stubCollector{completion: validCompletion()})
	f.carts.Apply("s1", func(state cart.State) cart.State {
		return cart.AddItem(state, cart.Item{ProductID: "free", UnitPrice: 0}, "line-free")
	})

	if _, err := f.svc.Checkout(context.Background(), request("s1")); !errors.Is(err, domain.ErrInvalidAmount) {
		t.Fatalf("expected ErrInvalidAmount, got %v", err)
	}
}

func TestCheckoutSettlesPaidLinesAndKeepsLaterEdits(t *testing.T) {
	f := newFixture(t, stubCollector{})
	f.seedCart("s1")
	f.svc.collector = collectorFunc(func(ctx context.Context, intent Intent) (Completion, error) {
		f.carts.Apply("s1", func(state cart.State) cart.State {
			return cart.AddItem(state, cart.Item{ProductID: "p2", UnitPrice: 500}, "line-2")
		})
		return validCompletion(), nil
	})

	order, err := f.svc.Checkout(context.Background(), request("s1"))
	if err != nil {
		t.Fatalf("checkout: %v", err)
	}
	if len(order.Products) != 1 || order.Products[0].ProductID != "p1" || order.Products[0].Quantity != 2 {
		t.Fatalf("expected order for the snapshot only, got %+v", order.Products)
	}
	after := f.carts.Snapshot("s1")
	if _, ok := after.Item("p1"); ok {
		t.Fatalf("expected paid line p1 to be removed, got %+v", after.Items)
	}
	if _, ok := after.Item("p2"); !ok || after.TotalItems != 1 || after.TotalAmount != 500 {
		t.Fatalf("expected p2 added during payment to remain, got %+v", after)
	}
}

type failingOrders struct{ err error }

func (f failingOrders) CreateDocument(context.Context, string, any) (string, error) {
	return "", f.err
}

func TestCheckoutPersistFailureLeavesCart(t *testing.T) {
	f := newFixture(t, stubCollector{completion: validCompletion()})
	before := f.seedCart("s1")
	f.svc.orders = failingOrders{err: &facade.Error{Status: 503, Code: "unavailable", Message: "firestore down"}}

	_, err := f.svc.Checkout(context.Background(), request("s1"))
	if !errors.Is(err, domain.ErrRemoteFetchFailed) {
		t.Fatalf("expected ErrRemoteFetchFailed, got %v", err)
	}
	if _, verifies := f.payments.calls(); verifies != 1 {
		t.Fatalf("expected payment to be verified before persisting, got %d", verifies)
	}
	if !cart.Equal(f.carts.Snapshot("s1"), before) {
		t.Fatalf("expected cart to be unchanged")
	}
	if len(f.events.events) != 0 {
		t.Fatalf("expected no order.placed event, got %+v", f.events.events)
	}
}

type collectorFunc func(context.Context, Intent) (Completion, error)

func (fn collectorFunc) Collect(ctx context.Context, intent Intent) (Completion, error) {
	return fn(ctx, intent)
}

func TestBridgeDismissCancelsPayment(t *testing.T) {
	bridge := NewBridge()
	f := newFixture(t, bridge)
	before := f.seedCart("s1")

	req := request("s1")
	req.OnIntent = func(intent Intent) {
		if err := bridge.Dismiss(intent.OrderID); err != nil {
			t.Errorf("dismiss: %v", err)
		}
	}

	_, err := f.svc.Checkout(context.Background(), req)
	if !errors.Is(err, domain.ErrPaymentCancelled) {
		t.Fatalf("expected ErrPaymentCancelled, got %v", err)
	}
	if !cart.Equal(f.carts.Snapshot("s1"), before) {
		t.Fatalf("expected cart to be unchanged")
	}
}

func TestBridgeFailureCarriesDescription(t *testing.T) {
	bridge := NewBridge()
	f := newFixture(t, bridge)
	before := f.seedCart("s1")

	req := request("s1")
	req.OnIntent = func(intent Intent) {
		_ = bridge.Fail(intent.OrderID, "Card declined")
	}

	_, err := f.svc.Checkout(context.Background(), req)
	if !errors.Is(err, domain.ErrPaymentFailed) {
		t.Fatalf("expected ErrPaymentFailed, got %v", err)
	}
	if got := err.Error(); got != "payment failed: Card declined" {
		t.Fatalf("unexpected message %q", got)
	}
	if !cart.Equal(f.carts.Snapshot("s1"), before) {
		t.Fatalf("expected cart to be unchanged")
	}
	if docs := f.storedOrders(t); len(docs) != 0 {
		t.Fatalf("expected no order after a gateway failure")
	}
}

func TestBridgeCollectTimeoutCancels(t *testing.T) {
	bridge := NewBridge()
	f := newFixture(t, bridge)
	f.svc.collectTimeout = 10 * time.Millisecond
	f.seedCart("s1")

	if _, err := f.svc.Checkout(context.Background(), request("s1")); !errors.Is(err, domain.ErrPaymentCancelled) {
		t.Fatalf("expected ErrPaymentCancelled on timeout, got %v", err)
	}
	if bridge.Pending("order_test") {
		t.Fatalf("expected slot to be released")
	}
}

func TestBridgeRejectsUnknownAndRepeatedOutcomes(t *testing.T) {
	bridge := NewBridge()
	if err := bridge.Complete("order_missing", validCompletion()); !errors.Is(err, ErrUnknownPayment) {
		t.Fatalf("expected ErrUnknownPayment, got %v", err)
	}
	bridge.Expect("order_1")
	if err := bridge.Dismiss("order_1"); err != nil {
		t.Fatalf("dismiss: %v", err)
	}
	if err := bridge.Complete("order_1", validCompletion()); !errors.Is(err, ErrUnknownPayment) {
		t.Fatalf("expected second outcome to be rejected, got %v", err)
	}
}

func TestRunnerDrivesCheckoutThroughBridge(t *testing.T) {
	bridge := NewBridge()
	f := newFixture(t, bridge)
	f.seedCart("s1")
	runner := NewRunner(context.Background(), f.svc)
	ctx := context.Background()

	intent, err := runner.Start(ctx, request("s1"))
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if intent.OrderID != "order_test" || intent.Amount != 25000 || intent.KeyID != "rzp_test_key" {
		t.Fatalf("unexpected intent %+v", intent)
	}
	if intent.Prefill.Email != "asha@example.com" || intent.Script.ID != DefaultWidgetScriptID {
		t.Fatalf("expected prefill and script descriptor, got %+v", intent)
	}

	if _, err := runner.Start(ctx, request("s1")); !errors.Is(err, ErrCheckoutInProgress) {
		t.Fatalf("expected ErrCheckoutInProgress, got %v", err)
	}
	if _, err := runner.Status("other-session", intent.OrderID); !errors.Is(err, ErrRunNotFound) {
		t.Fatalf("expected other sessions not to see the run, got %v", err)
	}

	if err := bridge.Complete(intent.OrderID, validCompletion()); err != nil {
		t.Fatalf("complete: %v", err)
	}
	waitCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	status, err := runner.Wait(waitCtx, "s1", intent.OrderID)
	if err != nil {
		t.Fatalf("wait: %v", err)
	}
	if status.State != RunCompleted || status.Order == nil {
		t.Fatalf("expected completed run, got %+v", status)
	}
	if !f.carts.Snapshot("s1").IsEmpty() {
		t.Fatalf("expected cart cleared after completion")
	}
}

type stalledPayments struct{ *fakePayments }

func (stalledPayments) CreatePaymentOrder(ctx context.Context, _ facade.PaymentOrderRequest, _ string) (facade.PaymentIntent, error) {
	<-ctx.Done()
	return facade.PaymentIntent{}, ctx.Err()
}

func TestRunnerCancelsRunWhenCallerGivesUp(t *testing.T) {
	bridge := NewBridge()
	f := newFixture(t, bridge)
	before := f.seedCart("s1")
	f.svc.payments = stalledPayments{f.payments}
	runner := NewRunner(context.Background(), f.svc)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := runner.Start(ctx, request("s1")); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected the caller's deadline, got %v", err)
	}
	if !cart.Equal(f.carts.Snapshot("s1"), before) {
		t.Fatalf("expected cart to be unchanged")
	}

	f.svc.payments = f.payments
	intent, err := runner.Start(context.Background(), request("s1"))
	if err != nil {
		t.Fatalf("expected a fresh checkout to start, got %v", err)
	}
	if err := bridge.Dismiss(intent.OrderID); err != nil {
		t.Fatalf("dismiss: %v", err)
	}
}

func TestRunnerReturnsEarlyFailure(t *testing.T) {
	f := newFixture(t, NewBridge())
	f.seedCart("s1")
	f.payments.createErr = errors.New("boom")
	runner := NewRunner(context.Background(), f.svc)

	if _, err := runner.Start(context.Background(), request("s1")); !errors.Is(err, domain.ErrPaymentIntentCreationFailed) {
		t.Fatalf("expected ErrPaymentIntentCreationFailed, got %v", err)
	}
	if _, err := runner.Start(context.Background(), request("empty")); !errors.Is(err, ErrEmptyCart) {
		t.Fatalf("expected ErrEmptyCart, got %v", err)
	}
}

func TestWidgetLoaderLoadsOnce(t *testing.T) {
	calls := 0
	loader := NewWidgetLoader(WidgetScript{URL: "https://checkout.example/v1/checkout.js"}, func(context.Context, string) error {
		calls++
		return nil
	})
	for i := 0; i < 3; i++ {
		if err := loader.Ensure(context.Background()); err != nil {
			t.Fatalf("ensure: %v", err)
		}
	}
	if calls != 1 {
		t.Fatalf("expected one reachability check, got %d", calls)
	}
	if loader.Script().ID != DefaultWidgetScriptID {
		t.Fatalf("expected default script id, got %q", loader.Script().ID)
	}

	failing := NewWidgetLoader(WidgetScript{URL: "https://checkout.example/v1/checkout.js"}, func(context.Context, string) error {
		return errors.New("dns")
	})
	if err := failing.Ensure(context.Background()); !errors.Is(err, domain.ErrWidgetUnavailable) {
		t.Fatalf("expected ErrWidgetUnavailable, got %v", err)
	}
}
