package tenant

import (
	"context"
	"sync"
)

// Tracker scopes tenant Contexts to requests and counts in-flight requests per tenant.
// Every Enter must be paired with the returned release; releasing twice is a no-op.
type Tracker struct {
	mu     sync.Mutex
	active map[string]int
}

// NewTracker returns an empty Tracker.
func NewTracker() *Tracker {
	return &Tracker{active: make(map[string]int)}
}

// Enter installs tc into ctx and records the request. The release func must run on every
// exit path, typically via defer, including panics.
func (t *Tracker) Enter(ctx context.Context, tc *Context) (context.Context, func()) {
	t.mu.Lock()
	t.active[tc.TenantID]++
	t.mu.Unlock()

	var once sync.Once
	release := func() {
		once.Do(func() {
			t.mu.Lock()
			defer t.mu.Unlock()
			if t.active[tc.TenantID] <= 1 {
				delete(t.active, tc.TenantID)
				return
			}
			t.active[tc.TenantID]--
		})
	}
	return WithContext(ctx, tc), release
}

// Active returns the number of in-flight requests for tenantID.
func (t *Tracker) Active(tenantID string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.active[tenantID]
}

// Tenants returns the number of tenants with in-flight requests.
func (t *Tracker) Tenants() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.active)
}
