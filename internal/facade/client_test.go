package facade

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

func newTestClient(t *testing.T, handler http.HandlerFunc, opts ...Option) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	client, err := NewClient(srv.URL, opts...)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	return client
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func TestGetDocumentDecodesData(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/firebase/products/p1" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"success": true,
			"data":    map[string]any{"id": "p1", "name": "Arduino Uno", "price": 650},
		})
	})

	var product struct {
		ID    string  `json:"id"`
		Name  string  `json:"name"`
		Price float64 `json:"price"`
	}
	if err := client.GetDocument(context.Background(), "products", "p1", &product); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if product.ID != "p1" || product.Price != 650 {
		t.Fatalf("unexpected product: %+v", product)
	}
}

func TestNotFoundMapsToSentinel(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusNotFound, map[string]any{"success": false, "error": "document_not_found", "message": "missing"})
	})

	err := client.GetDocument(context.Background(), "users", "u1", &map[string]any{})
	if !errors.Is(err, ErrDocumentNotFound) {
		t.Fatalf("expected ErrDocumentNotFound, got %v", err)
	}
	var ferr *Error
	if !errors.As(err, &ferr) || ferr.Code != "document_not_found" || ferr.Status != http.StatusNotFound {
		t.Fatalf("expected *Error with code, got %#v", err)
	}
	if errors.Is(err, ErrRemoteFetchFailed) {
		t.Fatalf("404 should not count as a remote failure")
	}
}

func TestSuccessFalseIsAnError(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"success": false, "message": "signature mismatch"})
	})

	err := client.VerifyPayment(context.Background(), VerifyRequest{GatewayOrderID: "o", GatewayPaymentID: "p", Signature: "s"})
	var ferr *Error
	if !errors.As(err, &ferr) {
		t.Fatalf("expected *Error, got %v", err)
	}
}

func TestTimeoutMapsToRemoteFetchFailed(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(time.Second):
		}
	}, WithTimeout(20*time.Millisecond))

	err := client.GetDocument(context.Background(), "products", "p1", nil)
	if !errors.Is(err, ErrRemoteFetchFailed) {
		t.Fatalf("expected ErrRemoteFetchFailed, got %v", err)
	}
}

func TestBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	var hits atomic.Int32
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		writeJSON(w, http.StatusBadGateway, map[string]any{"success": false, "error": "upstream"})
	}, WithBreaker(2, time.Minute))

	for i := 0; i < 2; i++ {
		if err := client.GetDocument(context.Background(), "products", "p1", nil); !errors.Is(err, ErrRemoteFetchFailed) {
			t.Fatalf("attempt %d: expected remote failure, got %v", i, err)
		}
	}
	err := client.GetDocument(context.Background(), "products", "p1", nil)
	if !errors.Is(err, ErrRemoteFetchFailed) {
		t.Fatalf("expected open breaker to map to ErrRemoteFetchFailed, got %v", err)
	}
	if hits.Load() != 2 {
		t.Fatalf("open breaker should short-circuit, server saw %d calls", hits.Load())
	}
}

func TestClientErrorsDoNotTripBreaker(t *testing.T) {
	for _, status := range []int{http.StatusBadRequest, http.StatusNotFound, http.StatusConflict} {
		var hits atomic.Int32
		client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			hits.Add(1)
			writeJSON(w, status, map[string]any{"success": false, "error": "rejected"})
		}, WithBreaker(1, time.Minute))

		for i := 0; i < 3; i++ {
			err := client.GetDocument(context.Background(), "products", "p1", nil)
			var remote *Error
			if !errors.As(err, &remote) || remote.Status != status {
				t.Fatalf("status %d: expected *Error carrying the status, got %v", status, err)
			}
		}
		if hits.Load() != 3 {
			t.Fatalf("status %d: expected every call to reach the server, got %d", status, hits.Load())
		}
	}
}

func TestCreatePaymentOrderSendsIdempotencyKey(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/payment/create-order" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.Header.Get("Idempotency-Key") != "attempt-1" {
			t.Errorf("missing idempotency key header")
		}
		var body PaymentOrderRequest
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode: %v", err)
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"success": true,
			"data":    map[string]any{"orderId": "order_1", "amount": body.Amount, "currency": body.Currency},
		})
	})

	intent, err := client.CreatePaymentOrder(context.Background(), PaymentOrderRequest{Amount: 25000, Currency: "INR"}, "attempt-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if intent.OrderID != "order_1" || intent.Amount != 25000 {
		t.Fatalf("unexpected intent: %+v", intent)
	}
}

type headerAuthorizer struct {
	bodies [][]byte
	err    error
}

func (a *headerAuthorizer) Authorize(req *http.Request, body []byte) error {
	if a.err != nil {
		return a.err
	}
	a.bodies = append(a.bodies, body)
	req.Header.Set("Authorization", "Bearer service-token")
	return nil
}

func TestAuthorizerSignsEveryRequest(t *testing.T) {
	authorizer := &headerAuthorizer{}
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer service-token" {
			writeJSON(w, http.StatusUnauthorized, map[string]any{"success": false, "error": "unauthenticated"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"success": true, "data": map[string]any{"orderId": "order_1"}})
	}, WithAuthorizer(authorizer))

	if _, err := client.CreatePaymentOrder(context.Background(), PaymentOrderRequest{Amount: 100, Currency: "INR"}, ""); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(authorizer.bodies) != 1 || !strings.Contains(string(authorizer.bodies[0]), `"amount":100`) {
		t.Fatalf("authorizer did not see the request body: %q", authorizer.bodies)
	}
}

func TestAuthorizerFailureSkipsRequest(t *testing.T) {
	var hits atomic.Int32
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		writeJSON(w, http.StatusOK, map[string]any{"success": true, "data": map[string]any{}})
	}, WithAuthorizer(&headerAuthorizer{err: errors.New("metadata server unreachable")}))

	err := client.GetDocument(context.Background(), "products", "p1", &map[string]any{})
	if !errors.Is(err, ErrRemoteFetchFailed) {
		t.Fatalf("expected ErrRemoteFetchFailed, got %v", err)
	}
	if hits.Load() != 0 {
		t.Fatalf("request should not be sent without credentials")
	}
}

func TestListAndCreateDocuments(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			if r.URL.Query().Get("userId") != "u1" {
				t.Errorf("expected userId filter, got %q", r.URL.RawQuery)
			}
			writeJSON(w, http.StatusOK, map[string]any{"success": true, "data": []map[string]any{{"id": "o1"}, {"id": "o2"}}})
		case http.MethodPost:
			writeJSON(w, http.StatusCreated, map[string]any{"success": true, "data": map[string]any{"id": "o3"}})
		}
	})

	var orders []struct {
		ID string `json:"id"`
	}
	if err := client.ListDocuments(context.Background(), "orders", url.Values{"userId": {"u1"}}, &orders); err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(orders) != 2 {
		t.Fatalf("expected 2 orders, got %d", len(orders))
	}

	id, err := client.CreateDocument(context.Background(), "orders", map[string]any{"userId": "u1"})
	if err != nil || id != "o3" {
		t.Fatalf("create: %q %v", id, err)
	}
}
