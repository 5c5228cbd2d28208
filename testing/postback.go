package testing

import (
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
)

// PostbackSigner is a fake marketplace notification source. It runs an HTTP
// server that serves a JWKS at /jwks.json and signs event tokens that
// validate against it, so events.Verifier can be wired without a real
// marketplace.
type PostbackSigner struct {
	server   *httptest.Server
	key      *rsa.PrivateKey
	kid      string
	audience string
}

// NewPostbackSigner creates a signer with a fresh RSA key pair and a JWKS
// endpoint. Call Close when done.
func NewPostbackSigner(audience string) *PostbackSigner {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		panic("failed to generate RSA key: " + err.Error())
	}
	ps := &PostbackSigner{key: key, kid: "marketplace-key-1", audience: audience}

	mux := http.NewServeMux()
	mux.HandleFunc("/jwks.json", ps.handleJWKS)
	ps.server = httptest.NewServer(mux)
	return ps
}

// Issuer returns the issuer URL tokens are signed under.
func (ps *PostbackSigner) Issuer() string { return ps.server.URL }

// JWKSURL returns the URL serving the signer's public key set.
func (ps *PostbackSigner) JWKSURL() string { return ps.server.URL + "/jwks.json" }

// Audience returns the audience claim used on signed tokens.
func (ps *PostbackSigner) Audience() string { return ps.audience }

// Close shuts down the JWKS server.
func (ps *PostbackSigner) Close() { ps.server.Close() }

// SignEvent signs a marketplace notification token for the given event.
func (ps *PostbackSigner) SignEvent(eventType, projectID, entitlementID string) string {
	return ps.SignClaims(jwt.MapClaims{
		"eventType":     eventType,
		"projectId":     projectID,
		"entitlementId": entitlementID,
	})
}

// SignClaims signs a token with the given custom claims merged over the
// standard iss/aud/exp/iat set. Useful for malformed-event tests.
func (ps *PostbackSigner) SignClaims(extra jwt.MapClaims) string {
	now := time.Now()
	claims := jwt.MapClaims{
		"iss": ps.Issuer(),
		"aud": ps.audience,
		"exp": now.Add(time.Hour).Unix(),
		"iat": now.Unix(),
	}
	for k, v := range extra {
		claims[k] = v
	}
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = ps.kid
	signed, err := token.SignedString(ps.key)
	if err != nil {
		panic("failed to sign token: " + err.Error())
	}
	return signed
}

func (ps *PostbackSigner) handleJWKS(w http.ResponseWriter, r *http.Request) {
	pub := &ps.key.PublicKey
	jwk := map[string]string{
		"kty": "RSA",
		"use": "sig",
		"alg": "RS256",
		"kid": ps.kid,
		"n":   base64URLEncode(pub.N),
		"e":   base64URLEncode(big.NewInt(int64(pub.E))),
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"keys": []any{jwk}})
}

func base64URLEncode(i *big.Int) string {
	b := i.Bytes()
	for len(b) > 0 && b[0] == 0x00 {
		b = b[1:]
	}
	return base64.RawURLEncoding.EncodeToString(b)
}
