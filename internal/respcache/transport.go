// Package respcache implements a cache-first HTTP transport. Every response
// fetched successfully is kept, so anything seen once stays available when
// the network is gone.
package respcache

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultExclude matches development-tooling traffic that is never cached.
var DefaultExclude = []string{"chrome-extension://", "browser-sync"}

// ShellResources are precached on Install so the application shell loads on
// first run without a prior visit.
var ShellResources = []string{
	"/manifest.json",
	"/index.html",
	"/restaurant.html",
	"/css/main.css",
	"/css/restaurant.css",
}

type Options struct {
	// Name is the current cache generation, e.g. "restaurant-review-v3".
	Name string
	// Prefix identifies generations owned by this application; Activate
	// deletes every other generation that carries it.
	Prefix string
	// Exclude lists URL substrings that bypass the cache entirely.
	Exclude []string
	// MemoryEntries bounds the in-memory front of the cache.
	MemoryEntries int
	Logger        *slog.Logger
}

type Transport struct {
	base    http.RoundTripper
	store   *Store
	name    string
	prefix  string
	exclude []string
	mem     *lru.Cache[string, *Entry]
	logger  *slog.Logger
	now     func() time.Time
}

// New wraps base (http.DefaultTransport when nil) with a cache backed by store.
func New(base http.RoundTripper, store *Store, opts Options) (*Transport, error) {
	if opts.Name == "" {
		return nil, errors.New("cache name is required")
	}
	if base == nil {
		base = http.DefaultTransport
	}
	if opts.MemoryEntries <= 0 {
		opts.MemoryEntries = 256
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Exclude == nil {
		opts.Exclude = DefaultExclude
	}

	mem, err := lru.New[string, *Entry](opts.MemoryEntries)
	if err != nil {
		return nil, fmt.Errorf("failed to create memory cache: %w", err)
	}

	return &Transport{
		base:    base,
		store:   store,
		name:    opts.Name,
		prefix:  opts.Prefix,
		exclude: opts.Exclude,
		mem:     mem,
		logger:  opts.Logger,
		now:     time.Now,
	}, nil
}

// Key identifies a request in the cache: method plus full URL.
func Key(req *http.Request) string {
	return req.Method + " " + req.URL.String()
}

func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	if !t.cacheable(req) {
		return t.base.RoundTrip(req)
	}

	key := Key(req)
	if e, ok := t.lookup(req.Context(), key); ok {
		t.logger.Debug("response cache hit", "key", key)
		return e.response(req), nil
	}

	t.logger.Debug("response cache miss", "key", key)
	return t.fetch(req, key)
}

// cacheable reports whether req goes through the cache. Only safe methods
// are cached: answering a PUT or POST from a stored copy would drop the write.
func (t *Transport) cacheable(req *http.Request) bool {
	if req.Method != http.MethodGet && req.Method != http.MethodHead {
		return false
	}
	url := req.URL.String()
	for _, pattern := range t.exclude {
		if pattern != "" && strings.Contains(url, pattern) {
			return false
		}
	}
	return true
}

func (t *Transport) lookup(ctx context.Context, key string) (*Entry, bool) {
	if e, ok := t.mem.Get(key); ok {
		return e, true
	}
	e, err := t.store.Get(ctx, t.name, key)
	if err != nil {
		if !errors.Is(err, ErrMiss) {
			t.logger.Warn("response cache read failed", "key", key, "error", err)
		}
		return nil, false
	}
	t.mem.Add(key, e)
	return e, true
}

func (t *Transport) fetch(req *http.Request, key string) (*http.Response, error) {
	resp, err := t.base.RoundTrip(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return resp, nil
	}

	body, err := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	e := &Entry{
		Status:   resp.StatusCode,
		Header:   resp.Header.Clone(),
		Body:     body,
		StoredAt: t.now().UTC(),
	}
	t.save(req.Context(), key, e)

	resp.Body = io.NopCloser(bytes.NewReader(body))
	resp.ContentLength = int64(len(body))
	return resp, nil
}

// save stores e. A failed write only costs future offline availability, so
// it is logged rather than returned.
func (t *Transport) save(ctx context.Context, key string, e *Entry) {
	t.mem.Add(key, e)
	if err := t.store.Put(ctx, t.name, key, e); err != nil {
		t.logger.Warn("response cache write failed", "key", key, "error", err)
	}
}

// Install fetches every path under origin and stores the responses. It fails
// without storing anything if any resource cannot be fetched.
func (t *Transport) Install(ctx context.Context, origin string, paths []string) error {
	origin = strings.TrimRight(origin, "/")

	type fetched struct {
		key   string
		entry *Entry
	}
	results := make([]fetched, 0, len(paths))

	for _, p := range paths {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, origin+p, nil)
		if err != nil {
			return fmt.Errorf("failed to create request for %s: %w", p, err)
		}
		resp, err := t.base.RoundTrip(req)
		if err != nil {
			return fmt.Errorf("failed to fetch %s: %w", p, err)
		}
		body, err := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		if err != nil {
			return fmt.Errorf("failed to read %s: %w", p, err)
		}
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("failed to fetch %s: status %d", p, resp.StatusCode)
		}
		results = append(results, fetched{
			key: Key(req),
			entry: &Entry{
				Status:   resp.StatusCode,
				Header:   resp.Header.Clone(),
				Body:     body,
				StoredAt: t.now().UTC(),
			},
		})
	}

	for _, r := range results {
		t.mem.Add(r.key, r.entry)
		if err := t.store.Put(ctx, t.name, r.key, r.entry); err != nil {
			return fmt.Errorf("failed to precache %s: %w", r.key, err)
		}
	}

	t.logger.Info("shell precached", "cache", t.name, "resources", len(results))
	return nil
}

// Activate deletes every previous generation carrying the prefix, empties the
// memory front and returns the names it removed.
func (t *Transport) Activate(ctx context.Context) ([]string, error) {
	t.mem.Purge()

	names, err := t.store.Names(ctx)
	if err != nil {
		return nil, err
	}

	var deleted []string
	for _, name := range names {
		if name == t.name || t.prefix == "" || !strings.HasPrefix(name, t.prefix) {
			continue
		}
		n, err := t.store.DeleteCache(ctx, name)
		if err != nil {
			return deleted, err
		}
		t.logger.Info("deleted stale cache generation", "cache", name, "entries", n)
		deleted = append(deleted, name)
	}
	return deleted, nil
}

func (e *Entry) response(req *http.Request) *http.Response {
	return &http.Response{
		Status:        fmt.Sprintf("%d %s", e.Status, http.StatusText(e.Status)),
		StatusCode:    e.Status,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        e.Header.Clone(),
		Body:          io.NopCloser(bytes.NewReader(e.Body)),
		ContentLength: int64(len(e.Body)),
		Request:       req,
	}
}
