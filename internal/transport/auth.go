package transport

import (
	"context"
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"github.com/enrollflow/enrollflow/internal/config"
	"github.com/enrollflow/enrollflow/internal/observability"
	"github.com/enrollflow/enrollflow/model"
)

type claimsKey struct{}

// WithClaims stores verified JWT claims in the context.
func WithClaims(ctx context.Context, claims map[string]any) context.Context {
	return context.WithValue(ctx, claimsKey{}, claims)
}

// ClaimsFrom extracts JWT claims from the context.
func ClaimsFrom(ctx context.Context) map[string]any {
	claims, _ := ctx.Value(claimsKey{}).(map[string]any)
	return claims
}

// jwk is the subset of RFC 7517 key fields needed to rebuild RSA and EC
// public keys.
type jwk struct {
	Kid string `json:"kid"`
	Kty string `json:"kty"`
	Crv string `json:"crv"`
	N   string `json:"n"`
	E   string `json:"e"`
	X   string `json:"x"`
	Y   string `json:"y"`
}

func (k jwk) publicKey() (crypto.PublicKey, error) {
	switch k.Kty {
	case "RSA":
		if k.N == "" || k.E == "" {
			return nil, errors.New("missing n or e")
		}
		n, err := b64BigInt(k.N)
		if err != nil {
			return nil, fmt.Errorf("decode n: %w", err)
		}
		e, err := b64BigInt(k.E)
		if err != nil {
			return nil, fmt.Errorf("decode e: %w", err)
		}
		return &rsa.PublicKey{N: n, E: int(e.Int64())}, nil
	case "EC":
		var curve elliptic.Curve
		switch k.Crv {
		case "P-256":
			curve = elliptic.P256()
		case "P-384":
			curve = elliptic.P384()
		case "P-521":
			curve = elliptic.P521()
		default:
			return nil, fmt.Errorf("unsupported curve %q", k.Crv)
		}
		if k.X == "" || k.Y == "" {
			return nil, errors.New("missing x or y")
		}
		x, err := b64BigInt(k.X)
		if err != nil {
			return nil, fmt.Errorf("decode x: %w", err)
		}
		y, err := b64BigInt(k.Y)
		if err != nil {
			return nil, fmt.Errorf("decode y: %w", err)
		}
		return &ecdsa.PublicKey{Curve: curve, X: x, Y: y}, nil
	default:
		return nil, fmt.Errorf("unsupported key type %q", k.Kty)
	}
}

func b64BigInt(s string) (*big.Int, error) {
	b, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return nil, err
	}
	return new(big.Int).SetBytes(b), nil
}

// JWKSClient fetches signing keys from an identity provider's JWKS endpoint
// and caches them by key ID.
type JWKSClient struct {
	mu         sync.RWMutex
	url        string
	cache      map[string]crypto.PublicKey
	fetchedAt  time.Time
	ttl        time.Duration
	minRefresh time.Duration
	httpClient *http.Client
	logger     *zap.Logger
}

// NewJWKSClient creates a client for the given JWKS URL. Keys are cached
// for ttl before the endpoint is consulted again.
func NewJWKSClient(url string, ttl time.Duration, logger *zap.Logger) *JWKSClient {
	return &JWKSClient{
		url:        url,
		cache:      make(map[string]crypto.PublicKey),
		ttl:        ttl,
		minRefresh: 5 * time.Minute,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		logger:     logger,
	}
}

func (c *JWKSClient) lookup(kid string) (crypto.PublicKey, bool, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	key, ok := c.cache[kid]
	return key, ok, time.Since(c.fetchedAt) > c.ttl
}

// GetKey returns the public key for the given key ID, refreshing the cache
// from the endpoint when the key is absent or the cache has gone stale.
func (c *JWKSClient) GetKey(kid string) (crypto.PublicKey, error) {
	key, ok, stale := c.lookup(kid)
	if ok && !stale {
		return key, nil
	}

	if err := c.refresh(); err != nil {
		// Degraded mode: a stale key beats no key.
		if key, ok, _ := c.lookup(kid); ok {
			c.logger.Warn("jwks: refresh failed, using cached key", zap.Error(err))
			return key, nil
		}
		return nil, fmt.Errorf("jwks: fetch failed: %w", err)
	}

	if key, ok, _ := c.lookup(kid); ok {
		return key, nil
	}
	return nil, fmt.Errorf("jwks: unknown signing key %q", kid)
}

func (c *JWKSClient) refresh() error {
	c.mu.RLock()
	tooSoon := time.Since(c.fetchedAt) < c.minRefresh && len(c.cache) > 0
	c.mu.RUnlock()
	if tooSoon {
		return nil
	}

	resp, err := c.httpClient.Get(c.url)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("jwks: unexpected status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return err
	}
	var doc struct {
		Keys []jwk `json:"keys"`
	}
	if err := json.Unmarshal(body, &doc); err != nil {
		return fmt.Errorf("jwks: parse error: %w", err)
	}

	cache := make(map[string]crypto.PublicKey, len(doc.Keys))
	for _, k := range doc.Keys {
		if k.Kid == "" {
			continue
		}
		key, err := k.publicKey()
		if err != nil {
			c.logger.Warn("jwks: skipping key", zap.String("kid", k.Kid), zap.Error(err))
			continue
		}
		cache[k.Kid] = key
	}

	c.mu.Lock()
	c.cache = cache
	c.fetchedAt = time.Now()
	c.mu.Unlock()
	return nil
}

// JWTAuthenticator returns middleware that verifies bearer tokens against
// the JWKS keys and the identity configuration, then stores the verified
// claims in the request context.
func JWTAuthenticator(cfg config.IdentityConfig, jwks *JWKSClient) func(http.Handler) http.Handler {
	keyFor := func(token *jwt.Token) (any, error) {
		kid, _ := token.Header["kid"].(string)
		if kid == "" {
			return nil, errors.New("missing kid in token header")
		}
		return jwks.GetKey(kid)
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			auth := r.Header.Get("Authorization")
			if auth == "" {
				WriteError(w, model.NewUnauthorizedError("Missing authorization header"))
				return
			}
			tokenStr, isBearer := strings.CutPrefix(auth, "Bearer ")
			if !isBearer {
				WriteError(w, model.NewUnauthorizedError("Invalid authorization header format"))
				return
			}

			token, err := jwt.Parse(tokenStr, keyFor,
				jwt.WithValidMethods(cfg.Algorithms),
				jwt.WithIssuer(cfg.Issuer),
				jwt.WithAudience(cfg.Audience),
				jwt.WithLeeway(30*time.Second),
				jwt.WithExpirationRequired(),
			)
			if err != nil {
				WriteError(w, model.NewUnauthorizedError(classifyJWTError(err)))
				return
			}

			claims, ok := token.Claims.(jwt.MapClaims)
			if !ok || !token.Valid {
				WriteError(w, model.NewUnauthorizedError("Invalid token"))
				return
			}
			next.ServeHTTP(w, r.WithContext(WithClaims(r.Context(), map[string]any(claims))))
		})
	}
}

// classifyJWTError maps jwt/v5 sentinel errors to client-facing messages
// that name the failure without leaking verification internals.
func classifyJWTError(err error) string {
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return "Token expired"
	case errors.Is(err, jwt.ErrTokenInvalidIssuer):
		return "Invalid token issuer"
	case errors.Is(err, jwt.ErrTokenInvalidAudience):
		return "Invalid token audience"
	case errors.Is(err, jwt.ErrTokenRequiredClaimMissing):
		return "Token missing required claim"
	case errors.Is(err, jwt.ErrTokenSignatureInvalid):
		if strings.Contains(err.Error(), "signing method") {
			return "Disallowed signing algorithm"
		}
		return "Invalid token signature"
	case errors.Is(err, jwt.ErrTokenUnverifiable):
		return "Unknown signing key"
	default:
		return "Invalid token"
	}
}

// BuildRequestContext returns middleware that assembles a
// model.RequestContext from the verified claims, the correlation ID, and
// the active trace. Claim locations are configurable via claimPaths; dots
// descend into nested claim objects (Keycloak's realm_access.roles, for
// example).
func BuildRequestContext(claimPaths map[string]string) func(http.Handler) http.Handler {
	path := func(field, fallback string) string {
		if p, ok := claimPaths[field]; ok && p != "" {
			return p
		}
		return fallback
	}
	subjectPath := path("subject_id", "sub")
	emailPath := path("email", "email")
	rolesPath := path("roles", "roles")
	permissionsPath := path("permissions", "permissions")

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims := ClaimsFrom(r.Context())
			rctx := &model.RequestContext{
				SubjectID:     claimString(claims, subjectPath),
				Email:         claimString(claims, emailPath),
				Roles:         claimStringSlice(claims, rolesPath),
				Permissions:   model.NewPermissionSet(claimStringSlice(claims, permissionsPath)...),
				Claims:        claims,
				CorrelationID: CorrelationIDFrom(r.Context()),
				TraceID:       observability.TraceIDFromContext(r.Context()),
				SpanID:        observability.SpanIDFromContext(r.Context()),
			}
			ctx := model.WithRequestContext(r.Context(), rctx)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func claimAt(claims map[string]any, path string) any {
	if claims == nil {
		return nil
	}
	var cur any = claims
	for _, p := range strings.Split(path, ".") {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil
		}
		cur = m[p]
	}
	return cur
}

func claimString(claims map[string]any, path string) string {
	v, _ := claimAt(claims, path).(string)
	return v
}

func claimStringSlice(claims map[string]any, path string) []string {
	raw, ok := claimAt(claims, path).([]any)
	if !ok {
		return nil
	}
	result := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok {
			result = append(result, s)
		}
	}
	return result
}
