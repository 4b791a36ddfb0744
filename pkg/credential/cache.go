// Package credential implements the per-account access-token cache from
// §4.B: keyed by an opaque tuple, TTL-bounded, invalidation-on-401 aware.
package credential

import (
	"context"
	"sync"
	"time"
)

const safetyMargin = 5 * time.Minute

// AccessToken is the {token, expiresAt} pair cached per key.
type AccessToken struct {
	Token     string
	ExpiresAt time.Time
}

// Valid reports whether now < ExpiresAt, the cache-return invariant from §8.
func (t AccessToken) Valid(now time.Time) bool {
	return now.Before(t.ExpiresAt)
}

// IssueFunc fetches a fresh token from the platform's gettoken-style
// endpoint and reports the platform TTL in seconds.
type IssueFunc func(ctx context.Context) (token string, ttlSeconds int, err error)

// Cache is a process-wide in-memory access-token cache keyed by any
// comparable tuple (callers typically use a struct{CorpID, AgentID string}).
// Concurrent misses for the same key are serialized by a per-key mutex in
// Fetch, so only one issue call runs per key at a time. The forced re-issue
// in FetchWithRetry does not take that mutex; the last write wins there.
type Cache[K comparable] struct {
	mu     sync.RWMutex
	tokens map[K]AccessToken
	locks  map[K]*sync.Mutex
	lockMu sync.Mutex
}

func NewCache[K comparable]() *Cache[K] {
	return &Cache[K]{
		tokens: make(map[K]AccessToken),
		locks:  make(map[K]*sync.Mutex),
	}
}

func (c *Cache[K]) keyLock(key K) *sync.Mutex {
	c.lockMu.Lock()
	defer c.lockMu.Unlock()
	l, ok := c.locks[key]
	if !ok {
		l = &sync.Mutex{}
		c.locks[key] = l
	}
	return l
}

// Fetch returns a valid cached token or issues a new one via issue,
// single-flighting concurrent issuance for the same key.
func (c *Cache[K]) Fetch(ctx context.Context, key K, issue IssueFunc) (AccessToken, error) {
	c.mu.RLock()
	tok, ok := c.tokens[key]
	c.mu.RUnlock()
	if ok && tok.Valid(time.Now()) {
		return tok, nil
	}

	lock := c.keyLock(key)
	lock.Lock()
	defer lock.Unlock()

	c.mu.RLock()
	tok, ok = c.tokens[key]
	c.mu.RUnlock()
	if ok && tok.Valid(time.Now()) {
		return tok, nil
	}

	return c.issueAndStore(ctx, key, issue)
}

func (c *Cache[K]) issueAndStore(ctx context.Context, key K, issue IssueFunc) (AccessToken, error) {
	token, ttlSeconds, err := issue(ctx)
	if err != nil {
		return AccessToken{}, err
	}
	ttl := time.Duration(ttlSeconds) * time.Second
	if ttl <= safetyMargin {
		ttl = safetyMargin + time.Second
	}
	tok := AccessToken{Token: token, ExpiresAt: time.Now().Add(ttl - safetyMargin)}

	c.mu.Lock()
	c.tokens[key] = tok
	c.mu.Unlock()
	return tok, nil
}

// Invalidate evicts a cached token on a platform 401/40014-style error so
// the next Fetch re-issues. Per §4.B this happens at most once per call.
func (c *Cache[K]) Invalidate(key K) {
	c.mu.Lock()
	delete(c.tokens, key)
	c.mu.Unlock()
}

// FetchWithRetry fetches a token and, if the caller-supplied probe reports
// the token was rejected by the platform, invalidates and retries once
// inline (TokenExpired handling per §7).
func (c *Cache[K]) FetchWithRetry(ctx context.Context, key K, issue IssueFunc, rejected func(AccessToken) bool) (AccessToken, error) {
	tok, err := c.Fetch(ctx, key, issue)
	if err != nil {
		return AccessToken{}, err
	}
	if rejected == nil || !rejected(tok) {
		return tok, nil
	}
	c.Invalidate(key)
	return c.issueAndStore(ctx, key, issue)
}
