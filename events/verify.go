// Package events verifies signed marketplace entitlement notifications.
// The marketplace delivers each notification as a JWT signed against its
// published JWKS; nothing in the payload is trusted before verification.
package events

import (
	"context"
	"errors"
	"fmt"

	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/lestrrat-go/jwx/v2/jwt"
)

// Notification event types with engine-side handling. Other types verify
// fine but map to no action.
const (
	TypeCreationRequested = "ENTITLEMENT_CREATION_REQUESTED"
	TypeCancelled         = "ENTITLEMENT_CANCELLED"
)

// Event is one verified marketplace notification.
type Event struct {
	Type          string
	ProjectID     string
	EntitlementID string
}

// Verifier validates notification tokens against issuer, audience and the
// marketplace JWKS.
type Verifier struct {
	issuer   string
	audience string
	jwksURL  string
	cache    *jwk.Cache
}

// NewVerifier builds a verifier. The JWKS is fetched lazily and refreshed by
// the cache; ctx bounds the cache's background refresh.
func NewVerifier(ctx context.Context, issuer, audience, jwksURL string) (*Verifier, error) {
	if issuer == "" || audience == "" || jwksURL == "" {
		return nil, errors.New("events: issuer, audience and jwks URL are required")
	}
	cache := jwk.NewCache(ctx)
	if err := cache.Register(jwksURL); err != nil {
		return nil, fmt.Errorf("register jwks url: %w", err)
	}
	return &Verifier{issuer: issuer, audience: audience, jwksURL: jwksURL, cache: cache}, nil
}

// Verify validates the raw token and extracts the event claims.
func (v *Verifier) Verify(ctx context.Context, raw string) (Event, error) {
	set, err := v.cache.Get(ctx, v.jwksURL)
	if err != nil {
		return Event{}, fmt.Errorf("fetch jwks: %w", err)
	}
	token, err := jwt.ParseString(
		raw,
		jwt.WithKeySet(set),
		jwt.WithValidate(true),
		jwt.WithIssuer(v.issuer),
		jwt.WithAudience(v.audience),
		jwt.WithContext(ctx),
	)
	if err != nil {
		return Event{}, fmt.Errorf("verify notification token: %w", err)
	}
	ev := Event{
		Type:          stringClaim(token, "eventType"),
		ProjectID:     stringClaim(token, "projectId"),
		EntitlementID: stringClaim(token, "entitlementId"),
	}
	if ev.Type == "" || ev.EntitlementID == "" {
		return Event{}, errors.New("events: token missing eventType or entitlementId")
	}
	return ev, nil
}

func stringClaim(token jwt.Token, name string) string {
	raw, ok := token.Get(name)
	if !ok {
		return ""
	}
	s, _ := raw.(string)
	return s
}
