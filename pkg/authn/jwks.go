package authn

import (
	"context"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

const maxJWKSSize = 1 << 20 // 1MB

// jwk is a single JSON Web Key as served by the identity provider.
type jwk struct {
	Kty string `json:"kty"`
	Kid string `json:"kid"`
	Use string `json:"use"`
	N   string `json:"n"`
	E   string `json:"e"`
}

type jwksDocument struct {
	Keys []jwk `json:"keys"`
}

// keyCache resolves signing keys by key id, backed by a bounded TTL cache.
// A cache miss triggers a full JWKS fetch; concurrent misses may fetch the
// document more than once, which is harmless since entries are overwritten
// idempotently.
type keyCache struct {
	jwksURL string
	client  *http.Client
	cache   *expirable.LRU[string, *rsa.PublicKey]
}

func newKeyCache(jwksURL string, size int, ttl time.Duration, client *http.Client) *keyCache {
	if size <= 0 {
		size = 5
	}
	if ttl <= 0 {
		ttl = 10 * time.Hour
	}
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &keyCache{
		jwksURL: jwksURL,
		client:  client,
		cache:   expirable.NewLRU[string, *rsa.PublicKey](size, nil, ttl),
	}
}

// Key returns the RSA public key for the given key id, fetching the JWKS
// document on a cache miss.
func (c *keyCache) Key(ctx context.Context, kid string) (*rsa.PublicKey, error) {
	if key, ok := c.cache.Get(kid); ok {
		return key, nil
	}

	if err := c.refresh(ctx); err != nil {
		return nil, err
	}

	key, ok := c.cache.Get(kid)
	if !ok {
		return nil, fmt.Errorf("no signing key with kid %q", kid)
	}
	return key, nil
}

// refresh fetches the JWKS document and caches every RSA key in it.
func (c *keyCache) refresh(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.jwksURL, nil)
	if err != nil {
		return fmt.Errorf("failed to build JWKS request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to fetch JWKS: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("JWKS endpoint returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxJWKSSize))
	if err != nil {
		return fmt.Errorf("failed to read JWKS response: %w", err)
	}

	var doc jwksDocument
	if err := json.Unmarshal(body, &doc); err != nil {
		return fmt.Errorf("failed to parse JWKS document: %w", err)
	}

	for _, key := range doc.Keys {
		if key.Kty != "RSA" || key.Kid == "" {
			continue
		}
		pub, err := parseRSAPublicKey(key)
		if err != nil {
			continue
		}
		c.cache.Add(key.Kid, pub)
	}
	return nil
}

func parseRSAPublicKey(key jwk) (*rsa.PublicKey, error) {
	nBytes, err := base64.RawURLEncoding.DecodeString(key.N)
	if err != nil {
		return nil, fmt.Errorf("invalid modulus: %w", err)
	}
	eBytes, err := base64.RawURLEncoding.DecodeString(key.E)
	if err != nil {
		return nil, fmt.Errorf("invalid exponent: %w", err)
	}

	e := new(big.Int).SetBytes(eBytes)
	return &rsa.PublicKey{
		N: new(big.Int).SetBytes(nBytes),
		E: int(e.Int64()),
	}, nil
}
