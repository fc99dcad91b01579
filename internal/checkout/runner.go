package checkout

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/hanko-field/storefront/internal/domain"
)

const defaultRunRetention = 30 * time.Minute

var (
	// ErrCheckoutInProgress is returned when the session already has a checkout in flight.
	ErrCheckoutInProgress = errors.New("checkout: already in progress")
	// ErrRunNotFound is returned when no checkout run matches the order id for the session.
	ErrRunNotFound = errors.New("checkout: run not found")
	// ErrEmptyCart is returned by Start when there is nothing to pay for.
	ErrEmptyCart = errors.New("checkout: cart is empty")
)

// RunState describes how far an asynchronous checkout got.
type RunState string

const (
	RunAwaitingPayment RunState = "awaiting_payment"
	RunCompleted       RunState = "completed"
	RunFailed          RunState = "failed"
)

// RunStatus is the externally visible state of a checkout run.
type RunStatus struct {
	OrderID string        `json:"gatewayOrderId"`
	State   RunState      `json:"state"`
	Intent  Intent        `json:"intent"`
	Order   *domain.Order `json:"order,omitempty"`
	Err     error         `json:"-"`
}

type run struct {
	sessionID  string
	intent     Intent
	state      RunState
	order      *domain.Order
	err        error
	finishedAt time.Time
	done       chan struct{}
}

// Runner executes checkouts in the background so the browser can drive the widget
// while the pipeline waits. Runs are bound to root, not to the starting request.
type Runner struct {
	root      context.Context
	service   *Service
	retention time.Duration
	now       func() time.Time

	mu        sync.Mutex
	inFlight  map[string]struct{}
	byOrderID map[string]*run
}

// NewRunner constructs a Runner. Cancelling root cancels every pending run.
func NewRunner(root context.Context, service *Service) *Runner {
	return &Runner{
		root:      root,
		service:   service,
		retention: defaultRunRetention,
		now:       service.now,
		inFlight:  make(map[string]struct{}),
		byOrderID: make(map[string]*run),
	}
}

// Start launches the pipeline and returns once the gateway order exists. If the
// pipeline ends before that, its error is returned instead. When ctx ends first the
// run is cancelled and the session is free to start again.
func (r *Runner) Start(ctx context.Context, req Request) (Intent, error) {
	r.mu.Lock()
	if _, busy := r.inFlight[req.SessionID]; busy {
		r.mu.Unlock()
		return Intent{}, ErrCheckoutInProgress
	}
	r.inFlight[req.SessionID] = struct{}{}
	r.pruneLocked()
	r.mu.Unlock()

	current := &run{
		sessionID: req.SessionID,
		state:     RunAwaitingPayment,
		done:      make(chan struct{}),
	}
	announced := make(chan Intent, 1)
	req.OnIntent = func(intent Intent) {
		r.mu.Lock()
		current.intent = intent
		r.byOrderID[intent.OrderID] = current
		r.mu.Unlock()
		announced <- intent
	}

	runCtx, cancel := context.WithCancel(r.root)
	go func() {
		defer cancel()
		order, err := r.service.Checkout(runCtx, req)
		r.mu.Lock()
		defer r.mu.Unlock()
		delete(r.inFlight, req.SessionID)
		current.order = order
		current.err = err
		current.finishedAt = r.now()
		if err != nil {
			current.state = RunFailed
		} else {
			current.state = RunCompleted
		}
		close(current.done)
	}()

	select {
	case intent := <-announced:
		return intent, nil
	case <-current.done:
		if current.err != nil {
			return Intent{}, current.err
		}
		return Intent{}, ErrEmptyCart
	case <-ctx.Done():
		// The caller never learns the order id, so nobody could finish this run.
		cancel()
		<-current.done
		return Intent{}, ctx.Err()
	}
}

// Status reports the run for orderID when it belongs to sessionID.
func (r *Runner) Status(sessionID, orderID string) (RunStatus, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	current, ok := r.byOrderID[orderID]
	if !ok || current.sessionID != sessionID {
		return RunStatus{}, ErrRunNotFound
	}
	return RunStatus{
		OrderID: orderID,
		State:   current.state,
		Intent:  current.intent,
		Order:   current.order,
		Err:     current.err,
	}, nil
}

// Wait blocks until the run for orderID finishes or ctx ends.
func (r *Runner) Wait(ctx context.Context, sessionID, orderID string) (RunStatus, error) {
	r.mu.Lock()
	current, ok := r.byOrderID[orderID]
	r.mu.Unlock()
	if !ok || current.sessionID != sessionID {
		return RunStatus{}, ErrRunNotFound
	}
	select {
	case <-current.done:
	case <-ctx.Done():
		return RunStatus{}, ctx.Err()
	}
	return r.Status(sessionID, orderID)
}

// Owns reports whether orderID was started by sessionID.
func (r *Runner) Owns(sessionID, orderID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	current, ok := r.byOrderID[orderID]
	return ok && current.sessionID == sessionID
}

func (r *Runner) pruneLocked() {
	cutoff := r.now().Add(-r.retention)
	for id, current := range r.byOrderID {
		if current.state != RunAwaitingPayment && current.finishedAt.Before(cutoff) {
			delete(r.byOrderID, id)
		}
	}
}
