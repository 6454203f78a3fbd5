// Package clients provides the email-client registry: the catalog of
// renderable target environments and their capabilities.
package clients

import (
	"context"
	"fmt"
	"sync"

	"github.com/mailcanary/renderq/pkg/core"
	"github.com/mailcanary/renderq/pkg/security"
)

// Registry is the injectable catalog of supported email clients. Reads hit an
// in-memory cache refreshed from storage; writes go through storage first.
type Registry struct {
	storage core.Storage

	mu    sync.RWMutex
	cache map[string]*core.EmailClient
}

// NewRegistry creates a client registry backed by the given storage.
func NewRegistry(storage core.Storage) *Registry {
	return &Registry{
		storage: storage,
		cache:   make(map[string]*core.EmailClient),
	}
}

// DefaultCatalog is the built-in set of email-client targets.
var DefaultCatalog = []*core.EmailClient{
	{ID: "gmail-web", Vendor: "Google", Engine: "blink", Platform: "web", SupportsDarkMode: true, SupportsResponsive: true, Active: true},
	{ID: "gmail-android", Vendor: "Google", Engine: "blink", Platform: "android", SupportsDarkMode: true, SupportsResponsive: true, Active: true},
	{ID: "outlook-web", Vendor: "Microsoft", Engine: "blink", Platform: "web", SupportsDarkMode: true, SupportsResponsive: true, Active: true},
	{ID: "outlook-desktop", Vendor: "Microsoft", Engine: "word", Platform: "desktop", SupportsDarkMode: false, SupportsResponsive: false, Active: true},
	{ID: "apple-mail", Vendor: "Apple", Engine: "webkit", Platform: "desktop", SupportsDarkMode: true, SupportsResponsive: true, Active: true},
	{ID: "apple-mail-ios", Vendor: "Apple", Engine: "webkit", Platform: "ios", SupportsDarkMode: true, SupportsResponsive: true, Active: true},
	{ID: "yahoo-mail", Vendor: "Yahoo", Engine: "blink", Platform: "web", SupportsDarkMode: false, SupportsResponsive: true, Active: true},
	{ID: "thunderbird", Vendor: "Mozilla", Engine: "gecko", Platform: "desktop", SupportsDarkMode: true, SupportsResponsive: true, Active: true},
}

// Seed persists the default catalog and primes the cache. Existing entries
// are updated in place, so Seed is safe to call on every startup.
func (r *Registry) Seed(ctx context.Context) error {
	for _, client := range DefaultCatalog {
		if err := r.storage.UpsertClient(ctx, client); err != nil {
			return fmt.Errorf("seed client %s: %w", client.ID, err)
		}
	}
	return r.Refresh(ctx)
}

// Refresh reloads the cache from storage.
func (r *Registry) Refresh(ctx context.Context) error {
	active, err := r.storage.ActiveClients(ctx)
	if err != nil {
		return err
	}

	cache := make(map[string]*core.EmailClient, len(active))
	for _, client := range active {
		cache[client.ID] = client
	}

	r.mu.Lock()
	r.cache = cache
	r.mu.Unlock()
	return nil
}

// Upsert adds or updates a client and refreshes the cache entry.
func (r *Registry) Upsert(ctx context.Context, client *core.EmailClient) error {
	if err := security.ValidateClientID(client.ID); err != nil {
		return err
	}
	if err := r.storage.UpsertClient(ctx, client); err != nil {
		return err
	}

	r.mu.Lock()
	if client.Active {
		r.cache[client.ID] = client
	} else {
		delete(r.cache, client.ID)
	}
	r.mu.Unlock()
	return nil
}

// Deactivate removes a client from the active catalog. Jobs already targeting
// it keep their screenshots; new submissions referencing it are rejected.
func (r *Registry) Deactivate(ctx context.Context, clientID string) error {
	client, err := r.storage.GetClient(ctx, clientID)
	if err != nil {
		return err
	}
	client.Active = false
	return r.Upsert(ctx, client)
}

// Get returns a client from the active catalog.
func (r *Registry) Get(clientID string) (*core.EmailClient, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	client, ok := r.cache[clientID]
	return client, ok
}

// Active returns the active catalog, unordered.
func (r *Registry) Active() []*core.EmailClient {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*core.EmailClient, 0, len(r.cache))
	for _, client := range r.cache {
		out = append(out, client)
	}
	return out
}

// ValidateTargets checks that every ID names an active client.
func (r *Registry) ValidateTargets(ids core.ClientList) error {
	if len(ids) == 0 {
		return core.ErrNoTargetClients
	}
	if len(ids) > security.MaxTargetClients {
		return core.ErrTooManyTargets
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, id := range ids {
		if err := security.ValidateClientID(id); err != nil {
			return fmt.Errorf("%w: %q", core.ErrInvalidClientID, id)
		}
		if _, ok := r.cache[id]; !ok {
			return fmt.Errorf("%w: %q", core.ErrUnknownClient, id)
		}
	}
	return nil
}
