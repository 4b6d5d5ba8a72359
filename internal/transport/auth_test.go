package transport

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"github.com/enrollflow/enrollflow/internal/config"
)

// --- test helpers ---

func generateRSAKey(t *testing.T) *rsa.PrivateKey {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	return key
}

func generateECKey(t *testing.T) *ecdsa.PrivateKey {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	return key
}

func rsaKeyToJWK(kid string, pub *rsa.PublicKey) map[string]any {
	return map[string]any{
		"kid": kid,
		"kty": "RSA",
		"alg": "RS256",
		"use": "sig",
		"n":   base64.RawURLEncoding.EncodeToString(pub.N.Bytes()),
		"e":   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(pub.E)).Bytes()),
	}
}

func ecKeyToJWK(kid string, pub *ecdsa.PublicKey) map[string]any {
	return map[string]any{
		"kid": kid,
		"kty": "EC",
		"crv": "P-256",
		"use": "sig",
		"x":   base64.RawURLEncoding.EncodeToString(pub.X.Bytes()),
		"y":   base64.RawURLEncoding.EncodeToString(pub.Y.Bytes()),
	}
}

func startJWKSServer(t *testing.T, keys ...map[string]any) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{"keys": keys})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func signJWT(t *testing.T, key any, method jwt.SigningMethod, kid string, claims jwt.MapClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(method, claims)
	token.Header["kid"] = kid
	s, err := token.SignedString(key)
	if err != nil {
		t.Fatalf("SignedString: %v", err)
	}
	return s
}

func testIdentityCfg() config.IdentityConfig {
	return config.IdentityConfig{
		Issuer:     "https://auth.example.edu",
		Audience:   "enrollflow",
		Algorithms: []string{"RS256", "ES256"},
	}
}

func validClaims() jwt.MapClaims {
	return jwt.MapClaims{
		"sub":         "user-1",
		"email":       "user@example.edu",
		"roles":       []string{"reviewer"},
		"permissions": []string{"admissions:review"},
		"iss":         "https://auth.example.edu",
		"aud":         "enrollflow",
		"exp":         jwt.NewNumericDate(time.Now().Add(1 * time.Hour)),
		"iat":         jwt.NewNumericDate(time.Now()),
	}
}

func newTestJWKSClient(url string) *JWKSClient {
	return NewJWKSClient(url, 1*time.Hour, zap.NewNop())
}

// --- JWKSClient tests ---

func TestJWKSClient_GetKey_RSA(t *testing.T) {
	rsaKey := generateRSAKey(t)
	jwks := startJWKSServer(t, rsaKeyToJWK("rsa-key-1", &rsaKey.PublicKey))

	client := newTestJWKSClient(jwks.URL)
	key, err := client.GetKey("rsa-key-1")
	if err != nil {
		t.Fatalf("GetKey: %v", err)
	}
	pubKey, ok := key.(*rsa.PublicKey)
	if !ok {
		t.Fatalf("key type = %T, want *rsa.PublicKey", key)
	}
	if pubKey.N.Cmp(rsaKey.PublicKey.N) != 0 {
		t.Error("RSA modulus mismatch")
	}
}

func TestJWKSClient_GetKey_EC(t *testing.T) {
	ecKey := generateECKey(t)
	jwks := startJWKSServer(t, ecKeyToJWK("ec-key-1", &ecKey.PublicKey))

	client := newTestJWKSClient(jwks.URL)
	key, err := client.GetKey("ec-key-1")
	if err != nil {
		t.Fatalf("GetKey: %v", err)
	}
	pubKey, ok := key.(*ecdsa.PublicKey)
	if !ok {
		t.Fatalf("key type = %T, want *ecdsa.PublicKey", key)
	}
	if pubKey.X.Cmp(ecKey.PublicKey.X) != 0 {
		t.Error("EC X coordinate mismatch")
	}
}

func TestJWKSClient_GetKey_unknown(t *testing.T) {
	jwks := startJWKSServer(t) // empty JWKS
	client := newTestJWKSClient(jwks.URL)
	if _, err := client.GetKey("nonexistent"); err == nil {
		t.Fatal("expected error for unknown key")
	}
}

func TestJWKSClient_caching(t *testing.T) {
	callCount := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		callCount++
		rsaKey := generateRSAKey(t)
		keys := []map[string]any{rsaKeyToJWK("cached-key", &rsaKey.PublicKey)}
		json.NewEncoder(w).Encode(map[string]any{"keys": keys})
	}))
	defer srv.Close()

	client := newTestJWKSClient(srv.URL)
	client.minRefresh = 0 // allow rapid refresh for test

	client.GetKey("cached-key")
	client.GetKey("cached-key")

	if callCount != 1 {
		t.Errorf("JWKS fetched %d times, want 1 (should be cached)", callCount)
	}
}

// --- JWTAuthenticator tests ---

func TestJWTAuthenticator_validToken(t *testing.T) {
	rsaKey := generateRSAKey(t)
	jwksSrv := startJWKSServer(t, rsaKeyToJWK("test-key", &rsaKey.PublicKey))

	cfg := testIdentityCfg()
	handler := JWTAuthenticator(cfg, newTestJWKSClient(jwksSrv.URL))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims := ClaimsFrom(r.Context())
		if claims == nil {
			t.Error("claims should be in context")
		}
		sub, _ := claims["sub"].(string)
		if sub != "user-1" {
			t.Errorf("sub = %q, want user-1", sub)
		}
		w.WriteHeader(200)
	}))

	tokenStr := signJWT(t, rsaKey, jwt.SigningMethodRS256, "test-key", validClaims())
	req := httptest.NewRequest("GET", "/", nil)
	req.Header.Set("Authorization", "Bearer "+tokenStr)

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Code != 200 {
		t.Errorf("status = %d, want 200", w.Code)
	}
}

func TestJWTAuthenticator_validToken_EC(t *testing.T) {
	ecKey := generateECKey(t)
	jwksSrv := startJWKSServer(t, ecKeyToJWK("ec-test", &ecKey.PublicKey))

	handler := JWTAuthenticator(testIdentityCfg(), newTestJWKSClient(jwksSrv.URL))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(200)
	}))

	tokenStr := signJWT(t, ecKey, jwt.SigningMethodES256, "ec-test", validClaims())
	req := httptest.NewRequest("GET", "/", nil)
	req.Header.Set("Authorization", "Bearer "+tokenStr)

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Code != 200 {
		t.Errorf("status = %d, want 200 for ES256 token", w.Code)
	}
}

func TestJWTAuthenticator_missingAuthHeader(t *testing.T) {
	handler := JWTAuthenticator(testIdentityCfg(), newTestJWKSClient("http://unused"))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("handler should not be called")
	}))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest("GET", "/", nil))

	if w.Code != 401 {
		t.Errorf("status = %d, want 401", w.Code)
	}
}

func TestJWTAuthenticator_invalidFormat(t *testing.T) {
	handler := JWTAuthenticator(testIdentityCfg(), newTestJWKSClient("http://unused"))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("handler should not be called")
	}))

	req := httptest.NewRequest("GET", "/", nil)
	req.Header.Set("Authorization", "Basic dXNlcjpwYXNz")

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Code != 401 {
		t.Errorf("status = %d, want 401", w.Code)
	}
}

func TestJWTAuthenticator_expiredToken(t *testing.T) {
	rsaKey := generateRSAKey(t)
	jwksSrv := startJWKSServer(t, rsaKeyToJWK("test-key", &rsaKey.PublicKey))

	handler := JWTAuthenticator(testIdentityCfg(), newTestJWKSClient(jwksSrv.URL))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("handler should not be called for expired token")
	}))

	claims := validClaims()
	claims["exp"] = jwt.NewNumericDate(time.Now().Add(-1 * time.Hour))

	tokenStr := signJWT(t, rsaKey, jwt.SigningMethodRS256, "test-key", claims)
	req := httptest.NewRequest("GET", "/", nil)
	req.Header.Set("Authorization", "Bearer "+tokenStr)

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Code != 401 {
		t.Errorf("status = %d, want 401 for expired token", w.Code)
	}
}

func TestJWTAuthenticator_wrongIssuer(t *testing.T) {
	rsaKey := generateRSAKey(t)
	jwksSrv := startJWKSServer(t, rsaKeyToJWK("test-key", &rsaKey.PublicKey))

	handler := JWTAuthenticator(testIdentityCfg(), newTestJWKSClient(jwksSrv.URL))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("handler should not be called for wrong issuer")
	}))

	claims := validClaims()
	claims["iss"] = "https://evil.example.com"

	tokenStr := signJWT(t, rsaKey, jwt.SigningMethodRS256, "test-key", claims)
	req := httptest.NewRequest("GET", "/", nil)
	req.Header.Set("Authorization", "Bearer "+tokenStr)

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Code != 401 {
		t.Errorf("status = %d, want 401 for wrong issuer", w.Code)
	}
}

func TestJWTAuthenticator_wrongAudience(t *testing.T) {
	rsaKey := generateRSAKey(t)
	jwksSrv := startJWKSServer(t, rsaKeyToJWK("test-key", &rsaKey.PublicKey))

	handler := JWTAuthenticator(testIdentityCfg(), newTestJWKSClient(jwksSrv.URL))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("handler should not be called for wrong audience")
	}))

	claims := validClaims()
	claims["aud"] = "wrong-audience"

	tokenStr := signJWT(t, rsaKey, jwt.SigningMethodRS256, "test-key", claims)
	req := httptest.NewRequest("GET", "/", nil)
	req.Header.Set("Authorization", "Bearer "+tokenStr)

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Code != 401 {
		t.Errorf("status = %d, want 401 for wrong audience", w.Code)
	}
}

func TestJWTAuthenticator_disallowedAlgorithm(t *testing.T) {
	rsaKey := generateRSAKey(t)
	jwksSrv := startJWKSServer(t, rsaKeyToJWK("test-key", &rsaKey.PublicKey))

	cfg := testIdentityCfg()
	cfg.Algorithms = []string{"ES256"} // only allow ES256, not RS256
	handler := JWTAuthenticator(cfg, newTestJWKSClient(jwksSrv.URL))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("handler should not be called for disallowed algorithm")
	}))

	tokenStr := signJWT(t, rsaKey, jwt.SigningMethodRS256, "test-key", validClaims())
	req := httptest.NewRequest("GET", "/", nil)
	req.Header.Set("Authorization", "Bearer "+tokenStr)

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Code != 401 {
		t.Errorf("status = %d, want 401 for disallowed algorithm", w.Code)
	}
}

func TestJWTAuthenticator_unknownKid(t *testing.T) {
	rsaKey := generateRSAKey(t)
	jwksSrv := startJWKSServer(t, rsaKeyToJWK("known-key", &rsaKey.PublicKey))

	client := newTestJWKSClient(jwksSrv.URL)
	client.minRefresh = 0
	handler := JWTAuthenticator(testIdentityCfg(), client)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("handler should not be called for unknown kid")
	}))

	tokenStr := signJWT(t, rsaKey, jwt.SigningMethodRS256, "unknown-key", validClaims())
	req := httptest.NewRequest("GET", "/", nil)
	req.Header.Set("Authorization", "Bearer "+tokenStr)

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Code != 401 {
		t.Errorf("status = %d, want 401 for unknown kid", w.Code)
	}
}

func TestJWTAuthenticator_missingExpClaim(t *testing.T) {
	rsaKey := generateRSAKey(t)
	jwksSrv := startJWKSServer(t, rsaKeyToJWK("test-key", &rsaKey.PublicKey))

	handler := JWTAuthenticator(testIdentityCfg(), newTestJWKSClient(jwksSrv.URL))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("handler should not be called for missing exp")
	}))

	claims := validClaims()
	delete(claims, "exp")

	tokenStr := signJWT(t, rsaKey, jwt.SigningMethodRS256, "test-key", claims)
	req := httptest.NewRequest("GET", "/", nil)
	req.Header.Set("Authorization", "Bearer "+tokenStr)

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Code != 401 {
		t.Errorf("status = %d, want 401 for missing exp claim", w.Code)
	}
}

func TestJWTAuthenticator_clockSkewTolerance(t *testing.T) {
	rsaKey := generateRSAKey(t)
	jwksSrv := startJWKSServer(t, rsaKeyToJWK("test-key", &rsaKey.PublicKey))

	handler := JWTAuthenticator(testIdentityCfg(), newTestJWKSClient(jwksSrv.URL))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(200)
	}))

	// Token expired 15 seconds ago, within the 30s leeway.
	claims := validClaims()
	claims["exp"] = jwt.NewNumericDate(time.Now().Add(-15 * time.Second))

	tokenStr := signJWT(t, rsaKey, jwt.SigningMethodRS256, "test-key", claims)
	req := httptest.NewRequest("GET", "/", nil)
	req.Header.Set("Authorization", "Bearer "+tokenStr)

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Code != 200 {
		t.Errorf("status = %d, want 200 (token within clock skew tolerance)", w.Code)
	}
}

// --- claim helper tests ---

func TestClaimAt_dotNotation(t *testing.T) {
	claims := map[string]any{
		"realm_access": map[string]any{
			"roles": []any{"registrar", "viewer"},
		},
		"sub": "user-1",
	}

	if v := claimString(claims, "sub"); v != "user-1" {
		t.Errorf("sub = %q, want user-1", v)
	}

	roles := claimStringSlice(claims, "realm_access.roles")
	if len(roles) != 2 || roles[0] != "registrar" {
		t.Errorf("realm_access.roles = %v, want [registrar viewer]", roles)
	}

	if v := claimString(claims, "nonexistent.path"); v != "" {
		t.Errorf("nonexistent.path = %q, want empty", v)
	}

	if v := claimString(nil, "sub"); v != "" {
		t.Errorf("nil claims = %q, want empty", v)
	}
}

func TestClassifyJWTError(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want string
	}{
		{"expired", fmt.Errorf("token has invalid claims: %w", jwt.ErrTokenExpired), "Token expired"},
		{"issuer", fmt.Errorf("token has invalid claims: %w", jwt.ErrTokenInvalidIssuer), "Invalid token issuer"},
		{"audience", fmt.Errorf("token has invalid claims: %w", jwt.ErrTokenInvalidAudience), "Invalid token audience"},
		{"missing claim", fmt.Errorf("token has invalid claims: %w", jwt.ErrTokenRequiredClaimMissing), "Token missing required claim"},
		{"bad signature", fmt.Errorf("could not verify: %w", jwt.ErrTokenSignatureInvalid), "Invalid token signature"},
		{"disallowed method", fmt.Errorf("signing method HS256 is invalid: %w", jwt.ErrTokenSignatureInvalid), "Disallowed signing algorithm"},
		{"unknown key", fmt.Errorf("%w: keyfunc failed", jwt.ErrTokenUnverifiable), "Unknown signing key"},
		{"other", errors.New("garbled"), "Invalid token"},
	}
	for _, tc := range cases {
		if got := classifyJWTError(tc.err); got != tc.want {
			t.Errorf("%s: classifyJWTError = %q, want %q", tc.name, got, tc.want)
		}
	}
}
