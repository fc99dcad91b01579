package checkout

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/hanko-field/storefront/internal/domain"
)

// ErrUnknownPayment is returned when a widget outcome names no pending payment.
var ErrUnknownPayment = errors.New("checkout: unknown or already resolved payment")

// Completion is what the widget hands back when the shopper pays.
type Completion struct {
	OrderRef   string `json:"gatewayOrderId"`
	PaymentRef string `json:"gatewayPaymentId"`
	Signature  string `json:"signature"`
}

type outcomeKind int

const (
	outcomeCompleted outcomeKind = iota
	outcomeDismissed
	outcomeFailed
)

type outcome struct {
	kind        outcomeKind
	completion  Completion
	description string
}

type slot struct {
	ch       chan outcome
	resolved bool
}

// Bridge parks payment collection until the browser reports what the shopper did.
// Slots are keyed by gateway order id.
type Bridge struct {
	mu    sync.Mutex
	slots map[string]*slot
}

// NewBridge constructs an empty Bridge.
func NewBridge() *Bridge {
	return &Bridge{slots: make(map[string]*slot)}
}

// Expect registers orderID so outcomes posted before Collect starts are kept.
func (b *Bridge) Expect(orderID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.slotLocked(orderID)
}

// Collect implements PaymentCollector. It blocks until an outcome arrives or ctx ends;
// an expired context counts as the shopper walking away.
func (b *Bridge) Collect(ctx context.Context, intent Intent) (Completion, error) {
	b.mu.Lock()
	s := b.slotLocked(intent.OrderID)
	b.mu.Unlock()
	defer func() {
		b.mu.Lock()
		delete(b.slots, intent.OrderID)
		b.mu.Unlock()
	}()

	select {
	case <-ctx.Done():
		return Completion{}, fmt.Errorf("%w: payment window closed", domain.ErrPaymentCancelled)
	case out := <-s.ch:
		switch out.kind {
		case outcomeDismissed:
			return Completion{}, fmt.Errorf("%w: Payment cancelled by user", domain.ErrPaymentCancelled)
		case outcomeFailed:
			description := out.description
			if description == "" {
				description = "Payment failed"
			}
			return Completion{}, fmt.Errorf("%w: %s", domain.ErrPaymentFailed, description)
		default:
			return out.completion, nil
		}
	}
}

// Complete resolves orderID with the widget's completion values.
func (b *Bridge) Complete(orderID string, completion Completion) error {
	return b.resolve(orderID, outcome{kind: outcomeCompleted, completion: completion})
}

// Dismiss resolves orderID as cancelled by the shopper.
func (b *Bridge) Dismiss(orderID string) error {
	return b.resolve(orderID, outcome{kind: outcomeDismissed})
}

// Fail resolves orderID with the gateway's failure description.
func (b *Bridge) Fail(orderID, description string) error {
	return b.resolve(orderID, outcome{kind: outcomeFailed, description: strings.TrimSpace(description)})
}

// Pending reports whether orderID awaits an outcome.
func (b *Bridge) Pending(orderID string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	s, ok := b.slots[orderID]
	return ok && !s.resolved
}

func (b *Bridge) resolve(orderID string, out outcome) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	s, ok := b.slots[strings.TrimSpace(orderID)]
	if !ok || s.resolved {
		return ErrUnknownPayment
	}
	s.resolved = true
	s.ch <- out
	return nil
}

func (b *Bridge) slotLocked(orderID string) *slot {
	s, ok := b.slots[orderID]
	if !ok {
		s = &slot{ch: make(chan outcome, 1)}
		b.slots[orderID] = s
	}
	return s
}
