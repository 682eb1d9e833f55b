package session

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/arrdeck/arrdeck/internal/constants"
	"github.com/arrdeck/arrdeck/internal/document"
	"github.com/arrdeck/arrdeck/internal/fetcher"
)

// Routes maps scopes to backend paths.
type Routes struct {
	Load  func(scope string) string
	Save  func(scope string) string
	Apply func(scope string) string
}

// DefaultRoutes serves /api/settings/{scope}.
func DefaultRoutes() Routes {
	settings := func(scope string) string { return "/api/settings/" + url.PathEscape(scope) }
	return Routes{
		Load:  settings,
		Save:  settings,
		Apply: func(scope string) string { return settings(scope) + "/apply" },
	}
}

// CacheKey is the fetcher cache key of a scope's settings document.
func CacheKey(scope string) string {
	return "settings:" + scope
}

// HTTPBackend loads and saves documents through the fetcher.
type HTTPBackend struct {
	fetcher *fetcher.Fetcher
	routes  Routes
	ttl     time.Duration
}

// BackendOption customises an HTTPBackend.
type BackendOption func(*HTTPBackend)

// WithRoutes overrides the backend paths.
func WithRoutes(routes Routes) BackendOption {
	return func(b *HTTPBackend) {
		def := DefaultRoutes()
		if routes.Load == nil {
			routes.Load = def.Load
		}
		if routes.Save == nil {
			routes.Save = def.Save
		}
		if routes.Apply == nil {
			routes.Apply = def.Apply
		}
		b.routes = routes
	}
}

// WithCacheTTL sets how long a loaded document is reused.
func WithCacheTTL(ttl time.Duration) BackendOption {
	return func(b *HTTPBackend) {
		if ttl > 0 {
			b.ttl = ttl
		}
	}
}

// NewHTTPBackend returns a backend over f.
func NewHTTPBackend(f *fetcher.Fetcher, opts ...BackendOption) *HTTPBackend {
	b := &HTTPBackend{
		fetcher: f,
		routes:  DefaultRoutes(),
		ttl:     constants.DocumentCacheTTL,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Load reads the document through the cache. A stale fallback is a load
// failure: edits must start from what the backend holds now.
func (b *HTTPBackend) Load(ctx context.Context, scope string) (*document.Document, error) {
	schema, ok := document.Lookup(scope)
	if !ok {
		return nil, fmt.Errorf("session: unknown scope %q", scope)
	}
	res, err := b.fetcher.Read(ctx, CacheKey(scope), b.routes.Load(scope), b.ttl)
	if err != nil {
		return nil, err
	}
	if res.Stale {
		return nil, res.Err
	}
	doc, err := document.Decode(schema, res.Value)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", fetcher.ErrMalformedResponse, err)
	}
	return doc, nil
}

// Save posts doc and returns the stored document. A reply that carries no
// settings is followed by a fresh read. The cache entry is replaced with the
// result.
func (b *HTTPBackend) Save(ctx context.Context, doc *document.Document) (*document.Document, error) {
	schema, ok := document.Lookup(doc.Scope)
	if !ok {
		return nil, fmt.Errorf("session: unknown scope %q", doc.Scope)
	}
	body, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("session: encode %s: %w", doc.Scope, err)
	}

	var reply json.RawMessage
	if err := b.fetcher.Write(ctx, http.MethodPost, b.routes.Save(doc.Scope), json.RawMessage(body), &reply); err != nil {
		return nil, err
	}

	if !carriesDocument(reply) {
		// A bare acknowledgement; the stored document is read back.
		b.fetcher.Invalidate(ctx, CacheKey(doc.Scope))
		stored, err := b.Load(ctx, doc.Scope)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrReadBack, err)
		}
		return stored, nil
	}
	stored, err := document.Decode(schema, reply)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", fetcher.ErrMalformedResponse, err)
	}

	if encoded, err := json.Marshal(stored); err == nil {
		b.fetcher.Store(ctx, CacheKey(doc.Scope), encoded, b.ttl)
	}
	return stored, nil
}

// Apply pushes a single field and drops the cached document.
func (b *HTTPBackend) Apply(ctx context.Context, scope, field string, value any) error {
	if err := b.fetcher.Write(ctx, http.MethodPost, b.routes.Apply(scope), map[string]any{field: value}, nil); err != nil {
		return err
	}
	b.fetcher.Invalidate(ctx, CacheKey(scope))
	return nil
}

// Invalidate drops the cached document for scope.
func (b *HTTPBackend) Invalidate(ctx context.Context, scope string) {
	b.fetcher.Invalidate(ctx, CacheKey(scope))
}

// carriesDocument reports whether a save reply has keys besides the
// success envelope.
func carriesDocument(reply json.RawMessage) bool {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(reply, &fields); err != nil {
		return false
	}
	for key := range fields {
		switch key {
		case "success", "error", "message":
			continue
		}
		return true
	}
	return false
}
