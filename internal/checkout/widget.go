package checkout

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"github.com/hanko-field/storefront/internal/domain"
)

// DefaultWidgetScriptID is the DOM id the hosted widget script is injected under.
const DefaultWidgetScriptID = "razorpay-checkout-js"

// WidgetScript describes the hosted checkout script the browser must load.
type WidgetScript struct {
	ID  string `json:"id"`
	URL string `json:"src"`
}

// ScriptCheck checks that the widget script is reachable.
type ScriptCheck func(ctx context.Context, url string) error

// WidgetLoader makes sure the hosted widget is available before a payment is
// started. A successful load is remembered; a failed one is retried on the next call.
type WidgetLoader struct {
	script WidgetScript
	check  ScriptCheck

	mu     sync.Mutex
	loaded bool
}

// NewWidgetLoader constructs a loader. A nil check only validates the descriptor.
func NewWidgetLoader(script WidgetScript, check ScriptCheck) *WidgetLoader {
	if strings.TrimSpace(script.ID) == "" {
		script.ID = DefaultWidgetScriptID
	}
	return &WidgetLoader{script: script, check: check}
}

// Script returns the descriptor handed to the browser.
func (l *WidgetLoader) Script() WidgetScript {
	return l.script
}

// Ensure loads the widget once. Repeated calls after a success are no-ops.
func (l *WidgetLoader) Ensure(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.loaded {
		return nil
	}
	if strings.TrimSpace(l.script.URL) == "" {
		return fmt.Errorf("%w: script url is not configured", domain.ErrWidgetUnavailable)
	}
	if l.check != nil {
		if err := l.check(ctx, l.script.URL); err != nil {
			return fmt.Errorf("%w: %v", domain.ErrWidgetUnavailable, err)
		}
	}
	l.loaded = true
	return nil
}

// HTTPScriptCheck issues a HEAD request against the script url.
func HTTPScriptCheck(client *http.Client) ScriptCheck {
	if client == nil {
		client = http.DefaultClient
	}
	return func(ctx context.Context, url string) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodHead, url, nil)
		if err != nil {
			return err
		}
		resp, err := client.Do(req)
		if err != nil {
			return err
		}
		resp.Body.Close()
		if resp.StatusCode >= http.StatusBadRequest {
			return fmt.Errorf("script responded with status %d", resp.StatusCode)
		}
		return nil
	}
}
