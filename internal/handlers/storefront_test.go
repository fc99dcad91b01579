package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/hanko-field/storefront/internal/cart"
	"github.com/hanko-field/storefront/internal/catalog"
	"github.com/hanko-field/storefront/internal/checkout"
	"github.com/hanko-field/storefront/internal/documents"
	"github.com/hanko-field/storefront/internal/facade"
	"github.com/hanko-field/storefront/internal/orders"
	"github.com/hanko-field/storefront/internal/platform/auth"
	"github.com/hanko-field/storefront/internal/session"
)

type tokenIdentifier map[string]*auth.Identity

func (t tokenIdentifier) Identify(_ context.Context, token string) (*auth.Identity, error) {
	if token == "" {
		return nil, auth.ErrTokenMissing
	}
	identity, ok := t[token]
	if !ok {
		return nil, auth.ErrTokenInvalid
	}
	return identity, nil
}

type fakePaymentAPI struct {
	mu       sync.Mutex
	verifyOK bool
	creates  int
}

func (f *fakePaymentAPI) CreatePaymentOrder(_ context.Context, req facade.PaymentOrderRequest, _ string) (facade.PaymentIntent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.creates++
	return facade.PaymentIntent{OrderID: "order_e2e", Amount: req.Amount, Currency: req.Currency}, nil
}

func (f *fakePaymentAPI) VerifyPayment(context.Context, facade.VerifyRequest) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.verifyOK {
		return &facade.Error{Status: http.StatusBadRequest, Code: "verification_failed"}
	}
	return nil
}

type readyWidget struct{}

func (readyWidget) Ensure(context.Context) error { return nil }

func (readyWidget) Script() checkout.WidgetScript {
	return checkout.WidgetScript{ID: checkout.DefaultWidgetScriptID, URL: "https://checkout.example/v1/checkout.js"}
}

type fakeAccounts struct {
	created []auth.NewAccount
}

func (f *fakeAccounts) CreateUser(_ context.Context, account auth.NewAccount) (string, error) {
	f.created = append(f.created, account)
	return "courier-uid", nil
}

type storefrontFixture struct {
	server   *httptest.Server
	store    *documents.MemoryStore
	payments *fakePaymentAPI
	accounts *fakeAccounts
}

func newStorefrontFixture(t *testing.T) *storefrontFixture {
	t.Helper()
	store := documents.NewMemoryStore()
	store.Seed("products", "p1", documents.Document{
		"name": "Arduino Uno", "category": "Boards", "price": 100.0, "shippingCharges": 50.0, "stock": 10.0,
	})
	store.Seed("users", "admin-uid", documents.Document{"email": "admin@example.com", "name": "Admin", "role": "admin"})
	docs := facade.NewLocalDocuments(store)

	manager, err := session.NewManager(session.Config{
		CookieName: "sf_test",
		HashKey:    []byte("12345678901234567890123456789012"),
		BlockKey:   []byte("abcdefghijklmnopqrstuv0123456789"),
	})
	if err != nil {
		t.Fatalf("session manager: %v", err)
	}

	catalogSvc, err := catalog.NewService(catalog.Deps{Documents: docs})
	if err != nil {
		t.Fatalf("catalog: %v", err)
	}
	cartStore := cart.NewStore()
	cartSvc, err := cart.NewService(cart.Deps{Store: cartStore, Products: catalogSvc})
	if err != nil {
		t.Fatalf("cart: %v", err)
	}
	payments := &fakePaymentAPI{verifyOK: true}
	bridge := checkout.NewBridge()
	checkoutSvc, err := checkout.NewService(checkout.Deps{
		Carts:          cartStore,
		Widget:         readyWidget{},
		Payments:       payments,
		Collector:      bridge,
		Orders:         docs,
		KeyID:          "key_test",
		MerchantName:   "ElectroMart",
		CollectTimeout: 5 * time.Second,
	})
	if err != nil {
		t.Fatalf("checkout: %v", err)
	}
	ordersSvc, err := orders.NewService(orders.Deps{Documents: docs})
	if err != nil {
		t.Fatalf("orders: %v", err)
	}
	profiles := session.NewProfileLoader(docs)
	accounts := &fakeAccounts{}

	identities := tokenIdentifier{
		"shopper-token": {UID: "shopper-uid", Email: "asha@example.com", Name: "Asha"},
		"admin-token":   {UID: "admin-uid", Email: "admin@example.com"},
		"courier-token": {UID: "courier-uid", Email: "courier@example.com"},
	}
	front := Storefront{
		Sessions: manager,
		Session:  NewSessionHandlers(identities, profiles, cartStore),
		Catalog:  NewCatalogHandlers(catalogSvc),
		Cart:     NewCartHandlers(cartSvc, "INR"),
		Checkout: NewCheckoutHandlers(checkout.NewRunner(context.Background(), checkoutSvc), bridge, WithCheckoutRateLimit(30)),
		Orders:   NewOrderHandlers(ordersSvc),
		Admin:    NewAdminHandlers(catalogSvc, ordersSvc, accounts, profiles),
	}
	srv := httptest.NewServer(NewRouter(front.Options()...))
	t.Cleanup(srv.Close)
	return &storefrontFixture{server: srv, store: store, payments: payments, accounts: accounts}
}

func (f *storefrontFixture) newBrowser(t *testing.T) *http.Client {
	t.Helper()
	jar, err := cookiejar.New(nil)
	if err != nil {
		t.Fatalf("cookie jar: %v", err)
	}
	return &http.Client{
		Jar: jar,
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
}

type apiResponse struct {
	status   int
	location string
	body     map[string]any
}

func (r apiResponse) data() map[string]any {
	data, _ := r.body["data"].(map[string]any)
	return data
}

func (f *storefrontFixture) call(t *testing.T, client *http.Client, method, path string, payload any, jsonClient bool) apiResponse {
	t.Helper()
	var reader io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			t.Fatalf("encode payload: %v", err)
		}
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, f.server.URL+path, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if jsonClient {
		req.Header.Set("Accept", "application/json")
	}
	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	out := apiResponse{status: resp.StatusCode, location: resp.Header.Get("Location")}
	raw, _ := io.ReadAll(resp.Body)
	if len(bytes.TrimSpace(raw)) > 0 {
		_ = json.Unmarshal(raw, &out.body)
	}
	return out
}

func (f *storefrontFixture) signIn(t *testing.T, client *http.Client, token string) map[string]any {
	t.Helper()
	resp := f.call(t, client, http.MethodPost, "/session", map[string]string{"idToken": token}, true)
	if resp.status != http.StatusOK {
		t.Fatalf("sign in %s: status %d body %v", token, resp.status, resp.body)
	}
	user, _ := resp.data()["user"].(map[string]any)
	return user
}

func TestSignInCreatesProfileAndPersistsCookie(t *testing.T) {
	f := newStorefrontFixture(t)
	browser := f.newBrowser(t)

	user := f.signIn(t, browser, "shopper-token")
	if user["role"] != "user" || user["uid"] != "shopper-uid" {
		t.Fatalf("unexpected user %+v", user)
	}
	doc, err := f.store.Get(context.Background(), "users", "shopper-uid")
	if err != nil {
		t.Fatalf("expected profile to be created: %v", err)
	}
	if doc["role"] != "user" || doc["email"] != "asha@example.com" {
		t.Fatalf("unexpected profile %+v", doc)
	}

	current := f.call(t, browser, http.MethodGet, "/session", nil, true)
	if u, _ := current.data()["user"].(map[string]any); u["uid"] != "shopper-uid" {
		t.Fatalf("expected cookie session to carry the user, got %+v", current.body)
	}

	bad := f.call(t, f.newBrowser(t), http.MethodPost, "/session", map[string]string{"idToken": "forged"}, true)
	if bad.status != http.StatusUnauthorized {
		t.Fatalf("expected 401 for an invalid token, got %d", bad.status)
	}
}

func TestShopperOnAdminRouteRedirectsHome(t *testing.T) {
	f := newStorefrontFixture(t)
	browser := f.newBrowser(t)

	anon := f.call(t, browser, http.MethodGet, "/admin/analytics", nil, false)
	if anon.status != http.StatusSeeOther || anon.location != "/admin-login" {
		t.Fatalf("expected redirect to admin login, got %d %q", anon.status, anon.location)
	}

	f.signIn(t, browser, "shopper-token")
	page := f.call(t, browser, http.MethodGet, "/admin/analytics", nil, false)
	if page.status != http.StatusSeeOther || page.location != "/" {
		t.Fatalf("expected redirect home, got %d %q", page.status, page.location)
	}
	api := f.call(t, browser, http.MethodGet, "/admin/analytics", nil, true)
	if api.status != http.StatusForbidden {
		t.Fatalf("expected 403 for JSON clients, got %d", api.status)
	}
	delivery := f.call(t, browser, http.MethodGet, "/delivery/orders", nil, false)
	if delivery.status != http.StatusSeeOther || delivery.location != "/delivery-login" {
		t.Fatalf("expected redirect to delivery login, got %d %q", delivery.status, delivery.location)
	}
}

func TestCartTotalsThroughHTTP(t *testing.T) {
	f := newStorefrontFixture(t)
	browser := f.newBrowser(t)

	f.call(t, browser, http.MethodPost, "/cart/items", map[string]any{"productId": "p1"}, true)
	resp := f.call(t, browser, http.MethodPost, "/cart/items", map[string]any{"productId": "p1"}, true)
	data := resp.data()
	if data["totalItems"] != 2.0 || data["totalAmount"] != 20000.0 || data["finalTotal"] != 25000.0 {
		t.Fatalf("unexpected cart %+v", data)
	}

	resp = f.call(t, browser, http.MethodPatch, "/cart/items/p1", map[string]any{"quantity": 0}, true)
	if resp.data()["totalItems"] != 0.0 {
		t.Fatalf("expected quantity 0 to remove the line, got %+v", resp.data())
	}

	other := f.call(t, f.newBrowser(t), http.MethodGet, "/cart", nil, true)
	if other.data()["totalItems"] != 0.0 {
		t.Fatalf("carts must not leak between sessions")
	}
}

func TestCheckoutEndToEnd(t *testing.T) {
	f := newStorefrontFixture(t)
	browser := f.newBrowser(t)

	blocked := f.call(t, browser, http.MethodPost, "/checkout", map[string]any{}, true)
	if blocked.status != http.StatusUnauthorized {
		t.Fatalf("expected anonymous checkout to be refused, got %d", blocked.status)
	}

	f.signIn(t, browser, "shopper-token")
	f.call(t, browser, http.MethodPost, "/cart/items", map[string]any{"productId": "p1"}, true)
	f.call(t, browser, http.MethodPost, "/cart/items", map[string]any{"productId": "p1"}, true)

	started := f.call(t, browser, http.MethodPost, "/checkout", map[string]any{
		"deliveryAddress": map[string]any{"name": "Asha", "line1": "12 MG Road", "city": "Pune"},
	}, true)
	if started.status != http.StatusAccepted {
		t.Fatalf("expected 202, got %d %v", started.status, started.body)
	}
	intent := started.data()
	if intent["orderId"] != "order_e2e" || intent["amount"] != 25000.0 || intent["key"] != "key_test" {
		t.Fatalf("unexpected intent %+v", intent)
	}

	again := f.call(t, browser, http.MethodPost, "/checkout", map[string]any{}, true)
	if again.status != http.StatusConflict || again.body["error"] != "checkout_in_progress" {
		t.Fatalf("expected checkout_in_progress, got %d %v", again.status, again.body)
	}

	stranger := f.newBrowser(t)
	f.signIn(t, stranger, "admin-token")
	foreign := f.call(t, stranger, http.MethodPost, "/checkout/order_e2e/complete", map[string]any{"gatewayPaymentId": "pay_1", "signature": "sig"}, true)
	if foreign.status != http.StatusNotFound {
		t.Fatalf("expected other sessions to be refused, got %d", foreign.status)
	}

	done := f.call(t, browser, http.MethodPost, "/checkout/order_e2e/complete", map[string]any{
		"gatewayOrderId": "order_e2e", "gatewayPaymentId": "pay_1", "signature": "sig",
	}, true)
	if done.status != http.StatusAccepted {
		t.Fatalf("expected 202 from complete, got %d %v", done.status, done.body)
	}

	status := f.call(t, browser, http.MethodGet, "/checkout/order_e2e?wait=true", nil, true)
	if status.data()["state"] != string(checkout.RunCompleted) {
		t.Fatalf("expected completed run, got %+v", status.body)
	}

	history := f.call(t, browser, http.MethodGet, "/orders", nil, true)
	list, _ := history.body["data"].([]any)
	if len(list) != 1 {
		t.Fatalf("expected one order, got %+v", history.body)
	}
	order := list[0].(map[string]any)
	if order["paymentStatus"] != "PAID" || order["orderStatus"] != "ORDER_PLACED" || order["totalAmount"] != 250.0 {
		t.Fatalf("unexpected order %+v", order)
	}

	cartView := f.call(t, browser, http.MethodGet, "/cart", nil, true)
	if cartView.data()["totalItems"] != 0.0 {
		t.Fatalf("expected cart cleared after payment")
	}
}

func TestCheckoutDismissReportsCancellation(t *testing.T) {
	f := newStorefrontFixture(t)
	browser := f.newBrowser(t)
	f.signIn(t, browser, "shopper-token")
	f.call(t, browser, http.MethodPost, "/cart/items", map[string]any{"productId": "p1"}, true)

	started := f.call(t, browser, http.MethodPost, "/checkout", map[string]any{}, true)
	if started.status != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", started.status)
	}
	f.call(t, browser, http.MethodPost, "/checkout/order_e2e/dismiss", nil, true)

	status := f.call(t, browser, http.MethodGet, "/checkout/order_e2e?wait=true", nil, true)
	data := status.data()
	if data["state"] != string(checkout.RunFailed) || data["error"] != "payment_cancelled" {
		t.Fatalf("expected cancelled run, got %+v", data)
	}
	if f.call(t, browser, http.MethodGet, "/cart", nil, true).data()["totalItems"] != 1.0 {
		t.Fatalf("expected cart to survive a dismissed payment")
	}
}

func TestAdminProvisionsCourierWhoAdvancesOrders(t *testing.T) {
	f := newStorefrontFixture(t)
	f.store.Seed("orders", "o1", documents.Document{
		"userId":         "shopper-uid",
		"orderStatus":    "ORDER_PLACED",
		"paymentStatus":  "PAID",
		"totalAmount":    250.0,
		"statusTimeline": []any{map[string]any{"status": "ORDER_PLACED", "timestamp": "2026-03-01T10:00:00Z"}},
		"createdAt":      "2026-03-01T10:00:00Z",
	})

	admin := f.newBrowser(t)
	f.signIn(t, admin, "admin-token")

	created := f.call(t, admin, http.MethodPost, "/admin/delivery-users", map[string]any{
		"email": "courier@example.com", "password": "secret123", "name": "Ravi",
	}, true)
	if created.status != http.StatusCreated {
		t.Fatalf("expected 201, got %d %v", created.status, created.body)
	}
	profile, err := f.store.Get(context.Background(), "users", "courier-uid")
	if err != nil || profile["role"] != "delivery" {
		t.Fatalf("expected delivery profile, got %+v err=%v", profile, err)
	}

	shipped := f.call(t, admin, http.MethodPatch, "/admin/orders/o1/status", map[string]any{"status": "shipped"}, true)
	if shipped.status != http.StatusOK {
		t.Fatalf("expected admin to ship, got %d %v", shipped.status, shipped.body)
	}

	courier := f.newBrowser(t)
	if user := f.signIn(t, courier, "courier-token"); user["role"] != "delivery" {
		t.Fatalf("expected delivery role, got %+v", user)
	}
	queue := f.call(t, courier, http.MethodGet, "/delivery/orders", nil, true)
	if list, _ := queue.body["data"].([]any); len(list) != 1 {
		t.Fatalf("expected shipped order in delivery queue, got %+v", queue.body)
	}

	backwards := f.call(t, courier, http.MethodPatch, "/delivery/orders/o1/status", map[string]any{"status": "ORDER_PLACED"}, true)
	if backwards.status != http.StatusUnprocessableEntity && backwards.status != http.StatusForbidden {
		t.Fatalf("expected backward move to be refused, got %d", backwards.status)
	}
	delivered := f.call(t, courier, http.MethodPatch, "/delivery/orders/o1/status", map[string]any{"status": "DELIVERED"}, true)
	if delivered.status != http.StatusOK {
		t.Fatalf("expected courier to deliver, got %d %v", delivered.status, delivered.body)
	}
	order, _ := delivered.data()["order"].(map[string]any)
	timeline, _ := order["statusTimeline"].([]any)
	if len(timeline) != 3 {
		t.Fatalf("expected three timeline entries, got %+v", timeline)
	}

	analytics := f.call(t, admin, http.MethodGet, "/admin/analytics", nil, true)
	summary, _ := analytics.data()["summary"].(map[string]any)
	if summary["paidOrders"] != 1.0 {
		t.Fatalf("unexpected analytics %+v", analytics.body)
	}
}

func TestWriteServiceErrorMapsSentinels(t *testing.T) {
	cases := map[error]int{
		checkout.ErrCheckoutInProgress: http.StatusConflict,
		errors.New("unexpected"):       http.StatusInternalServerError,
	}
	for err, want := range cases {
		rr := httptest.NewRecorder()
		writeServiceError(context.Background(), rr, err)
		if rr.Code != want {
			t.Fatalf("%v: expected %d, got %d", err, want, rr.Code)
		}
	}
}

func TestWriteServiceErrorForwardsFacadeFailures(t *testing.T) {
	cases := []struct {
		err      error
		wantCode int
		wantErr  string
	}{
		{&facade.Error{Status: http.StatusOK, Code: "request_failed", Message: "success=false"}, http.StatusBadGateway, "remote_fetch_failed"},
		{&facade.Error{Status: http.StatusBadRequest, Code: "invalid_body", Message: "bad field"}, http.StatusBadRequest, "invalid_body"},
		{fmt.Errorf("update order: %w", &facade.Error{Status: http.StatusConflict, Code: "conflict"}), http.StatusConflict, "conflict"},
		{&facade.Error{Status: http.StatusUnauthorized, Code: "unauthenticated"}, http.StatusBadGateway, "remote_fetch_failed"},
		{&facade.Error{Status: http.StatusNotFound, Code: "document_not_found"}, http.StatusNotFound, "not_found"},
	}
	for _, tc := range cases {
		rr := httptest.NewRecorder()
		writeServiceError(context.Background(), rr, tc.err)
		if rr.Code != tc.wantCode {
			t.Fatalf("%v: expected %d, got %d", tc.err, tc.wantCode, rr.Code)
		}
		var body map[string]any
		if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if body["error"] != tc.wantErr {
			t.Fatalf("%v: expected code %q, got %v", tc.err, tc.wantErr, body["error"])
		}
	}
}
