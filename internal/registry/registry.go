package registry

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/singleflight"

	"omniacore/internal/logging"
	"omniacore/internal/types"
)

// Registry resolves the active extractor for a (kind, locale) pair, caching
// results. The cache is read-mostly: entries are immutable once inserted and
// invalidation is a full-cache swap, so readers never observe a
// partially-updated entry. NotFound is a quiet outcome, not an error to log
// loudly; callers treat it as "no extraction available" and re-prompt.
type Registry struct {
	store          Store
	fallbackLocale string
	cacheSize      int

	mu    sync.RWMutex
	cache *lru.Cache[string, *Extractor]

	group singleflight.Group
}

// Option configures a Registry.
type Option func(*Registry)

// WithFallbackLocale sets the last resort of the locale fallback chain.
func WithFallbackLocale(locale string) Option {
	return func(r *Registry) { r.fallbackLocale = locale }
}

// New creates a registry over the given store. cacheSize bounds the
// resolved-extractor cache.
func New(store Store, cacheSize int, opts ...Option) (*Registry, error) {
	if cacheSize <= 0 {
		cacheSize = 256
	}
	cache, err := lru.New[string, *Extractor](cacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create registry cache: %w", err)
	}
	r := &Registry{store: store, cache: cache, cacheSize: cacheSize, fallbackLocale: "en"}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

func cacheKey(kind types.Kind, locale string) string {
	return string(kind) + "|" + locale
}

// Resolve returns the active extractor for (kind, locale), walking the
// locale fallback chain: exact locale, then language-only ("it-IT" -> "it"),
// then the configured fallback. Concurrent resolves for the same key are
// deduplicated.
func (r *Registry) Resolve(ctx context.Context, kind types.Kind, locale string) (*Extractor, error) {
	if !kind.IsValid() {
		return nil, fmt.Errorf("kind %q: %w", kind, types.ErrExtractorNotFound)
	}

	key := cacheKey(kind, locale)
	r.mu.RLock()
	cache := r.cache
	r.mu.RUnlock()
	if e, ok := cache.Get(key); ok {
		return e, nil
	}

	v, err, _ := r.group.Do(key, func() (interface{}, error) {
		for _, loc := range r.localeChain(locale) {
			e, err := r.store.ActiveExtractor(kind, loc)
			if err == nil {
				return e, nil
			}
			if !isNotFound(err) {
				return nil, err
			}
		}
		return nil, types.ErrExtractorNotFound
	})
	if err != nil {
		if isNotFound(err) {
			logging.RegistryDebug("no extractor for %s/%s", kind, locale)
		}
		return nil, err
	}

	e := v.(*Extractor)
	cache.Add(key, e)
	return e, ctx.Err()
}

// Reload swaps the cache for a fresh one at the configured capacity. Readers
// holding the old snapshot keep consistent (stale) entries; new resolves hit
// the store.
func (r *Registry) Reload() error {
	fresh, err := lru.New[string, *Extractor](r.cacheSize)
	if err != nil {
		return fmt.Errorf("failed to rebuild registry cache: %w", err)
	}
	r.mu.Lock()
	r.cache = fresh
	r.mu.Unlock()
	logging.Registry("registry cache reloaded")
	return nil
}

func (r *Registry) localeChain(locale string) []string {
	chain := []string{}
	locale = strings.TrimSpace(locale)
	if locale != "" {
		chain = append(chain, locale)
		if i := strings.IndexAny(locale, "-_"); i > 0 {
			chain = append(chain, locale[:i])
		}
	}
	if r.fallbackLocale != "" && (len(chain) == 0 || chain[len(chain)-1] != r.fallbackLocale) {
		chain = append(chain, r.fallbackLocale)
	}
	return chain
}

func isNotFound(err error) bool {
	return errors.Is(err, types.ErrExtractorNotFound)
}
