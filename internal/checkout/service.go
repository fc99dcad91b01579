package checkout

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/hanko-field/storefront/internal/cart"
	"github.com/hanko-field/storefront/internal/documents"
	"github.com/hanko-field/storefront/internal/domain"
	"github.com/hanko-field/storefront/internal/facade"
	"github.com/hanko-field/storefront/internal/orders"
	"github.com/hanko-field/storefront/internal/platform/textutil"
)

const (
	defaultCurrency       = "INR"
	defaultCallTimeout    = 10 * time.Second
	defaultCollectTimeout = 15 * time.Minute
)

var (
	errCartsRequired     = errors.New("checkout service: cart store is required")
	errPaymentsRequired  = errors.New("checkout service: payment api is required")
	errCollectorRequired = errors.New("checkout service: payment collector is required")
	errOrdersRequired    = errors.New("checkout service: order store is required")
	errWidgetRequired    = errors.New("checkout service: widget loader is required")
)

// PaymentAPI is the payment half of the facade.
type PaymentAPI interface {
	CreatePaymentOrder(ctx context.Context, req facade.PaymentOrderRequest, idempotencyKey string) (facade.PaymentIntent, error)
	VerifyPayment(ctx context.Context, req facade.VerifyRequest) error
}

// OrderStore persists completed orders.
type OrderStore interface {
	CreateDocument(ctx context.Context, collection string, doc any) (string, error)
}

// PaymentCollector waits for the shopper to finish the hosted widget.
type PaymentCollector interface {
	Collect(ctx context.Context, intent Intent) (Completion, error)
}

// Widget ensures the hosted checkout script is available.
type Widget interface {
	Ensure(ctx context.Context) error
	Script() WidgetScript
}

// Prefill is shown in the widget form.
type Prefill struct {
	Name    string `json:"name,omitempty"`
	Email   string `json:"email,omitempty"`
	Contact string `json:"contact,omitempty"`
}

// Intent is everything the browser needs to open the widget.
type Intent struct {
	OrderID     string       `json:"orderId"`
	Amount      int64        `json:"amount"`
	Currency    string       `json:"currency"`
	KeyID       string       `json:"key,omitempty"`
	Name        string       `json:"name,omitempty"`
	Description string       `json:"description,omitempty"`
	Receipt     string       `json:"receipt,omitempty"`
	Prefill     Prefill      `json:"prefill"`
	Script      WidgetScript `json:"script"`
}

// Request starts a checkout for one session.
type Request struct {
	SessionID       string
	UserID          string
	DeliveryAddress domain.DeliveryAddress
	Customer        domain.CustomerInfo
	// OnIntent is called once the gateway order exists and the collector is listening.
	OnIntent func(Intent)
}

// Deps wires the checkout service.
type Deps struct {
	Carts          *cart.Store
	Widget         Widget
	Payments       PaymentAPI
	Collector      PaymentCollector
	Orders         OrderStore
	Events         orders.Publisher
	KeyID          string
	MerchantName   string
	Currency       string
	CallTimeout    time.Duration
	CollectTimeout time.Duration
	Clock          func() time.Time
	IDGenerator    func() string
	Logger         func(context.Context, string, map[string]any)
}

// Service runs the checkout pipeline.
type Service struct {
	carts          *cart.Store
	widget         Widget
	payments       PaymentAPI
	collector      PaymentCollector
	orders         OrderStore
	events         orders.Publisher
	keyID          string
	merchant       string
	currency       string
	callTimeout    time.Duration
	collectTimeout time.Duration
	now            func() time.Time
	newID          func() string
	logger         func(context.Context, string, map[string]any)
}

// NewService constructs a checkout Service validating required dependencies.
func NewService(deps Deps) (*Service, error) {
	switch {
	case deps.Carts == nil:
		return nil, errCartsRequired
	case deps.Widget == nil:
		return nil, errWidgetRequired
	case deps.Payments == nil:
		return nil, errPaymentsRequired
	case deps.Collector == nil:
		return nil, errCollectorRequired
	case deps.Orders == nil:
		return nil, errOrdersRequired
	}

	events := deps.Events
	if events == nil {
		events = orders.NopPublisher{}
	}
	currency := strings.ToUpper(strings.TrimSpace(deps.Currency))
	if currency == "" {
		currency = defaultCurrency
	}
	callTimeout := deps.CallTimeout
	if callTimeout <= 0 {
		callTimeout = defaultCallTimeout
	}
	collectTimeout := deps.CollectTimeout
	if collectTimeout <= 0 {
		collectTimeout = defaultCollectTimeout
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
		carts:          deps.Carts,
		widget:         deps.Widget,
		payments:       deps.Payments,
		collector:      deps.Collector,
		orders:         deps.Orders,
		events:         events,
		keyID:          strings.TrimSpace(deps.KeyID),
		merchant:       strings.TrimSpace(deps.MerchantName),
		currency:       currency,
		callTimeout:    callTimeout,
		collectTimeout: collectTimeout,
		now: func() time.Time {
			return clock().UTC()
		},
		newID:  idGen,
		logger: logger,
	}, nil
}

// attempt carries values between pipeline steps.
type attempt struct {
	req        Request
	snapshot   cart.State
	shipping   int64
	grand      int64
	key        string
	intent     Intent
	completion Completion
	order      domain.Order
}

type step struct {
	name string
	run  func(context.Context, *attempt) error
}

// Checkout pays for the session cart and persists the order. An empty cart returns
// (nil, nil) without touching any remote service. On failure the cart is untouched.
func (s *Service) Checkout(ctx context.Context, req Request) (*domain.Order, error) {
	if strings.TrimSpace(req.UserID) == "" {
		return nil, domain.ErrNotAuthenticated
	}
	a := &attempt{
		req:      req,
		snapshot: s.carts.Snapshot(req.SessionID),
		key:      s.newID(),
	}
	if a.snapshot.IsEmpty() {
		return nil, nil
	}

	steps := []step{
		{name: "widget", run: s.loadWidget},
		{name: "amount", run: s.computeAmount},
		{name: "create_order", run: s.createIntent},
		{name: "collect", run: s.collect},
		{name: "persist", run: s.persist},
		{name: "clear_cart", run: s.clearCart},
	}
	for _, st := range steps {
		if err := st.run(ctx, a); err != nil {
			s.logger(ctx, "checkout.failed", map[string]any{
				"step":           st.name,
				"sessionId":      req.SessionID,
				"userId":         req.UserID,
				"gatewayOrderId": a.intent.OrderID,
				"error":          err.Error(),
			})
			return nil, err
		}
	}

	s.logger(ctx, "checkout.completed", map[string]any{
		"orderId":        a.order.ID,
		"userId":         req.UserID,
		"gatewayOrderId": a.intent.OrderID,
		"totalAmount":    a.order.TotalAmount,
	})
	order := a.order
	return &order, nil
}

func (s *Service) loadWidget(ctx context.Context, _ *attempt) error {
	callCtx, cancel := context.WithTimeout(ctx, s.callTimeout)
	defer cancel()
	return s.widget.Ensure(callCtx)
}

func (s *Service) computeAmount(_ context.Context, a *attempt) error {
	a.shipping = cart.ShippingTotal(a.snapshot)
	a.grand = cart.FinalTotal(a.snapshot)
	if a.grand <= 0 {
		return fmt.Errorf("%w: order amount must be greater than zero", domain.ErrInvalidAmount)
	}
	return nil
}

func (s *Service) createIntent(ctx context.Context, a *attempt) error {
	callCtx, cancel := context.WithTimeout(ctx, s.callTimeout)
	defer cancel()

	receipt := "rcpt_" + a.key
	created, err := s.payments.CreatePaymentOrder(callCtx, facade.PaymentOrderRequest{
		Amount:   a.grand,
		Currency: s.currency,
		Receipt:  receipt,
	}, a.key)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrPaymentIntentCreationFailed, err)
	}
	if strings.TrimSpace(created.OrderID) == "" {
		return fmt.Errorf("%w: gateway returned no order id", domain.ErrPaymentIntentCreationFailed)
	}

	amount := created.Amount
	if amount <= 0 {
		amount = a.grand
	}
	currency := created.Currency
	if currency == "" {
		currency = s.currency
	}
	a.intent = Intent{
		OrderID:     created.OrderID,
		Amount:      amount,
		Currency:    currency,
		KeyID:       s.keyID,
		Name:        s.merchant,
		Description: fmt.Sprintf("Order for %d items", a.snapshot.TotalItems),
		Receipt:     receipt,
		Prefill: Prefill{
			Name:    a.req.Customer.Name,
			Email:   a.req.Customer.Email,
			Contact: a.req.Customer.Phone,
		},
		Script: s.widget.Script(),
	}
	return nil
}

// expecter is implemented by collectors that must register an order before the
// shopper can report an outcome.
type expecter interface {
	Expect(orderID string)
}

func (s *Service) collect(ctx context.Context, a *attempt) error {
	if e, ok := s.collector.(expecter); ok {
		e.Expect(a.intent.OrderID)
	}
	if a.req.OnIntent != nil {
		a.req.OnIntent(a.intent)
	}

	collectCtx, cancel := context.WithTimeout(ctx, s.collectTimeout)
	completion, err := s.collector.Collect(collectCtx, a.intent)
	cancel()
	if err != nil {
		return err
	}

	if strings.TrimSpace(completion.OrderRef) == "" {
		completion.OrderRef = a.intent.OrderID
	}
	if strings.TrimSpace(completion.PaymentRef) == "" || strings.TrimSpace(completion.Signature) == "" {
		return fmt.Errorf("%w: missing required fields for payment verification", domain.ErrMalformedGatewayResponse)
	}

	callCtx, cancelVerify := context.WithTimeout(ctx, s.callTimeout)
	defer cancelVerify()
	if err := s.payments.VerifyPayment(callCtx, facade.VerifyRequest{
		GatewayOrderID:   completion.OrderRef,
		GatewayPaymentID: completion.PaymentRef,
		Signature:        completion.Signature,
	}); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrPaymentVerificationFailed, err)
	}
	a.completion = completion
	return nil
}

func (s *Service) persist(ctx context.Context, a *attempt) error {
	now := s.now()
	lines := make([]domain.OrderLine, 0, len(a.snapshot.Items))
	for _, item := range a.snapshot.Items {
		lines = append(lines, domain.OrderLine{
			ProductID: item.ProductID,
			Name:      item.Name,
			Price:     domain.FromMinorUnits(item.UnitPrice),
			Quantity:  item.Quantity,
			Image:     item.Image,
		})
	}
	customer := sanitiseCustomer(a.req.Customer)
	order := domain.Order{
		UserID:          a.req.UserID,
		Products:        lines,
		TotalAmount:     domain.FromMinorUnits(a.grand),
		ShippingCharges: domain.FromMinorUnits(a.shipping),
		PaymentID:       a.completion.PaymentRef,
		GatewayOrderID:  a.completion.OrderRef,
		PaymentStatus:   domain.PaymentStatusPaid,
		DeliveryAddress: sanitiseAddress(a.req.DeliveryAddress),
		CustomerInfo:    &customer,
		OrderStatus:     domain.OrderStatusPlaced,
		StatusTimeline:  []domain.StatusEntry{{Status: domain.OrderStatusPlaced, Timestamp: now}},
		CreatedAt:       now,
	}

	callCtx, cancel := context.WithTimeout(ctx, s.callTimeout)
	defer cancel()
	id, err := s.orders.CreateDocument(callCtx, documents.CollectionOrders, order)
	if err != nil {
		s.logger(ctx, "checkout.persist_failed_after_payment", map[string]any{
			"gatewayOrderId": a.completion.OrderRef,
			"paymentId":      a.completion.PaymentRef,
			"error":          err.Error(),
		})
		if errors.Is(err, domain.ErrRemoteFetchFailed) {
			return err
		}
		return fmt.Errorf("%w: create order: %v", domain.ErrRemoteFetchFailed, err)
	}
	order.ID = id
	a.order = order

	if err := s.events.Publish(ctx, orders.Event{
		Type:        orders.EventOrderPlaced,
		OrderID:     id,
		UserID:      order.UserID,
		Status:      order.OrderStatus,
		ActorRole:   domain.RoleUser,
		Actor:       order.UserID,
		TotalAmount: order.TotalAmount,
		OccurredAt:  now,
	}); err != nil {
		s.logger(ctx, "checkout.event_publish_failed", map[string]any{
			"orderId": id,
			"error":   err.Error(),
		})
	}
	return nil
}

func (s *Service) clearCart(ctx context.Context, a *attempt) error {
	left := s.carts.Settle(a.req.SessionID, a.snapshot)
	if !left.IsEmpty() {
		s.logger(ctx, "checkout.cart_changed", map[string]any{
			"sessionId": a.req.SessionID,
			"orderId":   a.order.ID,
			"remaining": left.TotalItems,
		})
	}
	return nil
}

func sanitiseAddress(addr domain.DeliveryAddress) domain.DeliveryAddress {
	return domain.DeliveryAddress{
		Name:       textutil.PlainText(addr.Name),
		Phone:      textutil.PlainText(addr.Phone),
		Line1:      textutil.PlainText(addr.Line1),
		Line2:      textutil.PlainText(addr.Line2),
		City:       textutil.PlainText(addr.City),
		State:      textutil.PlainText(addr.State),
		PostalCode: textutil.PlainText(addr.PostalCode),
	}
}

func sanitiseCustomer(info domain.CustomerInfo) domain.CustomerInfo {
	return domain.CustomerInfo{
		Name:  textutil.PlainText(info.Name),
		Email: textutil.PlainText(info.Email),
		Phone: textutil.PlainText(info.Phone),
	}
}
