// Package gateway talks to the marketplace procurement API, the external
// authority over entitlement state.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/open-rails/procurekit/procurement"
)

// Config configures the procurement gateway client. TokenURL enables OAuth2
// client-credentials auth; leave it empty to send unauthenticated requests
// (tests, local emulators).
type Config struct {
	BaseURL      string
	TokenURL     string
	ClientID     string
	ClientSecret string
	Scopes       []string
	HTTPClient   *http.Client // optional; the token transport wraps it
}

// Client is a JSON-over-HTTP implementation of procurement.Gateway.
type Client struct {
	base string
	hc   *http.Client
}

func NewClient(cfg Config) (*Client, error) {
	base := strings.TrimRight(cfg.BaseURL, "/")
	if base == "" {
		return nil, errors.New("gateway: base URL is empty")
	}
	hc := cfg.HTTPClient
	if cfg.TokenURL != "" {
		cc := &clientcredentials.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			TokenURL:     cfg.TokenURL,
			Scopes:       cfg.Scopes,
		}
		ctx := context.Background()
		if hc != nil {
			ctx = context.WithValue(ctx, oauth2.HTTPClient, hc)
		}
		hc = cc.Client(ctx)
	}
	if hc == nil {
		hc = http.DefaultClient
	}
	return &Client{base: base, hc: hc}, nil
}

// APIError is a non-2xx response from the procurement gateway.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("gateway: status %d: %s", e.Status, e.Message)
}

// EntitlementName resolves the full resource name from a bare entitlement id.
func (c *Client) EntitlementName(projectID, entitlementID string) string {
	return "providers/" + projectID + "/entitlements/" + entitlementID
}

func (c *Client) ListEntitlements(ctx context.Context, projectID string, filter procurement.Filter) ([]procurement.Entitlement, error) {
	q := url.Values{"filter": {filter.Expression()}}
	var out struct {
		Entitlements []procurement.Entitlement `json:"entitlements"`
	}
	path := "/v1/providers/" + url.PathEscape(projectID) + "/entitlements?" + q.Encode()
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out.Entitlements, nil
}

func (c *Client) GetEntitlement(ctx context.Context, name string) (procurement.Entitlement, error) {
	var out procurement.Entitlement
	if err := c.do(ctx, http.MethodGet, "/v1/"+name, nil, &out); err != nil {
		return procurement.Entitlement{}, err
	}
	return out, nil
}

func (c *Client) ApproveEntitlement(ctx context.Context, name string) error {
	return c.do(ctx, http.MethodPost, "/v1/"+name+":approve", map[string]string{}, nil)
}

func (c *Client) RejectEntitlement(ctx context.Context, name, reason string) error {
	return c.do(ctx, http.MethodPost, "/v1/"+name+":reject", map[string]string{"reason": reason}, nil)
}

func (c *Client) UpdateEntitlementMessage(ctx context.Context, name, message string) error {
	return c.do(ctx, http.MethodPost, "/v1/"+name+":updateMessage", map[string]string{"message": message}, nil)
}

func (c *Client) RejectPlanChange(ctx context.Context, name, pendingPlan, reason string) error {
	body := map[string]string{"pendingPlanName": pendingPlan, "reason": reason}
	return c.do(ctx, http.MethodPost, "/v1/"+name+":rejectPlanChange", body, nil)
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var rdr io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		rdr = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, rdr)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.hc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg := readErrorMessage(resp.Body)
		return &APIError{Status: resp.StatusCode, Message: msg}
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// readErrorMessage pulls a human-readable message out of an error body,
// falling back to the raw body when it is not the usual JSON shape.
func readErrorMessage(r io.Reader) string {
	raw, _ := io.ReadAll(io.LimitReader(r, 4096))
	var e struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(raw, &e); err == nil && e.Error.Message != "" {
		return e.Error.Message
	}
	return strings.TrimSpace(string(raw))
}
