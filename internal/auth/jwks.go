package auth

import (
	"context"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/big"
	"net/http"
	"sync"

	"golang.org/x/sync/singleflight"
)

type jwksDocument struct {
	Keys []struct {
		Kid string `json:"kid"`
		Kty string `json:"kty"`
		Use string `json:"use"`
		N   string `json:"n"`
		E   string `json:"e"`
	} `json:"keys"`
}

// keyCache holds the identity provider's RSA public keys by kid. The set is
// fetched lazily on first use and refreshed only on a kid miss, which is how
// providers signal rotation: the new token names a key the cache has never
// seen. Known keys are never proactively invalidated.
type keyCache struct {
	url    string
	client *http.Client
	logger *slog.Logger

	mu   sync.RWMutex
	keys map[string]*rsa.PublicKey

	// group coalesces concurrent refreshes so a burst of requests after a
	// rotation produces one upstream fetch, not one per request.
	group singleflight.Group
}

func newKeyCache(url string, client *http.Client, logger *slog.Logger) *keyCache {
	if client == nil {
		client = http.DefaultClient
	}
	return &keyCache{
		url:    url,
		client: client,
		logger: logger,
	}
}

func (c *keyCache) lookup(ctx context.Context, kid string) (*rsa.PublicKey, error) {
	c.mu.RLock()
	key, ok := c.keys[kid]
	c.mu.RUnlock()
	if ok {
		return key, nil
	}

	if _, err, _ := c.group.Do("refresh", func() (interface{}, error) {
		// A refresh that completed while this caller queued may already
		// have installed the key.
		c.mu.RLock()
		_, ok := c.keys[kid]
		c.mu.RUnlock()
		if ok {
			return nil, nil
		}
		return nil, c.refresh(ctx)
	}); err != nil {
		return nil, err
	}

	c.mu.RLock()
	key, ok = c.keys[kid]
	c.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("signing key %q not in key set", kid)
	}
	return key, nil
}

func (c *keyCache) refresh(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return fmt.Errorf("build jwks request: %w", err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("fetch jwks: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("fetch jwks: unexpected status %d", resp.StatusCode)
	}

	var doc jwksDocument
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		return fmt.Errorf("decode jwks: %w", err)
	}

	keys := make(map[string]*rsa.PublicKey, len(doc.Keys))
	for _, entry := range doc.Keys {
		if entry.Kty != "RSA" || entry.Kid == "" {
			continue
		}
		key, err := parseRSAKey(entry.N, entry.E)
		if err != nil {
			c.logger.Warn("skipping unparseable jwks entry", slog.String("kid", entry.Kid), slog.Any("error", err))
			continue
		}
		keys[entry.Kid] = key
	}
	if len(keys) == 0 {
		return fmt.Errorf("jwks document contains no usable RSA keys")
	}

	c.mu.Lock()
	c.keys = keys
	c.mu.Unlock()
	c.logger.Debug("jwks refreshed", slog.Int("keys", len(keys)))
	return nil
}

func parseRSAKey(n, e string) (*rsa.PublicKey, error) {
	nb, err := base64.RawURLEncoding.DecodeString(n)
	if err != nil {
		return nil, fmt.Errorf("decode modulus: %w", err)
	}
	eb, err := base64.RawURLEncoding.DecodeString(e)
	if err != nil {
		return nil, fmt.Errorf("decode exponent: %w", err)
	}
	exponent := 0
	for _, b := range eb {
		exponent = exponent<<8 | int(b)
	}
	if exponent == 0 {
		return nil, fmt.Errorf("zero exponent")
	}
	return &rsa.PublicKey{N: new(big.Int).SetBytes(nb), E: exponent}, nil
}
