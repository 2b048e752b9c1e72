// Package provider is the gateway to the external SMS-activation API. It
// attaches the bearer credential server-side, validates input before any
// network call and normalizes the upstream's heterogeneous response shapes.
package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/lunovey/simshop/internal/infrastructure/observability"
	"github.com/lunovey/simshop/internal/models"
	pkgerrors "github.com/lunovey/simshop/pkg/errors"
)

type CountryInfo struct {
	ISO    map[string]int `json:"iso,omitempty"`
	Prefix map[string]int `json:"prefix,omitempty"`
	TextEn string         `json:"text_en,omitempty"`
	TextRu string         `json:"text_ru,omitempty"`
}

type OperatorInfo struct {
	Name     string `json:"name,omitempty"`
	Activate int    `json:"activation,omitempty"`
}

// ProductOffer is one operator's offer for a service: price in the provider's
// currency (minor units) and how many numbers are in stock.
type ProductOffer struct {
	Cost  float64 `json:"cost"`
	Count int     `json:"count"`
	Rate  float64 `json:"rate,omitempty"`
}

type Profile struct {
	ID      int64   `json:"id"`
	Email   string  `json:"email"`
	Balance float64 `json:"balance"`
	Rating  float64 `json:"rating"`
}

type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

func NewClient(baseURL, apiKey string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		http:    &http.Client{Timeout: timeout},
	}
}

// ListCountries returns the catalog keyed by country code, whichever of the
// three known upstream shapes the provider chose to answer with.
func (c *Client) ListCountries(ctx context.Context) (map[string]CountryInfo, error) {
	body, err := c.get(ctx, "ListCountries", "/guest/countries", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch countries: %w", err)
	}
	countries, err := normalizeCountries(body)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch countries: %w", err)
	}
	return countries, nil
}

// ListOperators lists the operators for a country, optionally narrowed to one
// service.
func (c *Client) ListOperators(ctx context.Context, country, service string) (map[string]OperatorInfo, error) {
	if country == "" {
		return nil, fmt.Errorf("%w: country is required", pkgerrors.ErrValidation)
	}
	params := url.Values{"country": {country}}
	if service != "" {
		params.Set("service", service)
	}
	body, err := c.get(ctx, "ListOperators", "/guest/operators", params)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch operators for country %s: %w", country, err)
	}
	operators, err := normalizeOperators(body)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch operators for country %s: %w", country, err)
	}
	return operators, nil
}

// ListProducts returns prices keyed by the requested country regardless of how
// the upstream nested the payload.
func (c *Client) ListProducts(ctx context.Context, country string) (map[string]map[string]map[string]ProductOffer, error) {
	if country == "" {
		return nil, fmt.Errorf("%w: country is required", pkgerrors.ErrValidation)
	}
	body, err := c.get(ctx, "ListProducts", "/guest/prices", url.Values{"country": {country}})
	if err != nil {
		return nil, fmt.Errorf("failed to fetch products for country %s: %w", country, err)
	}
	products, err := normalizeProducts(body, country)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch products for country %s: %w", country, err)
	}
	return products, nil
}

// Purchase buys one activation. A success body without a phone number is
// treated as an upstream failure, not a success.
func (c *Client) Purchase(ctx context.Context, country, operator, product string) (*models.Activation, error) {
	if country == "" || operator == "" || product == "" {
		return nil, fmt.Errorf("%w: country, operator and product are required", pkgerrors.ErrValidation)
	}

	path := fmt.Sprintf("/user/buy/activation/%s/%s/%s",
		url.PathEscape(country), url.PathEscape(operator), url.PathEscape(product))
	body, err := c.get(ctx, "Purchase", path, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to purchase activation: %w", err)
	}

	activation, err := decodeActivation(body)
	if err != nil {
		return nil, fmt.Errorf("failed to purchase activation: %w", err)
	}
	if activation.Phone == "" {
		return nil, fmt.Errorf("%w: purchase response missing phone", pkgerrors.ErrUpstream)
	}
	activation.Country = country
	return activation, nil
}

// GetActivation fetches the current state of an activation, SMS list included.
func (c *Client) GetActivation(ctx context.Context, id int64) (*models.Activation, error) {
	if err := validateID(id); err != nil {
		return nil, err
	}
	body, err := c.get(ctx, "GetActivation", fmt.Sprintf("/user/check/%d", id), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to check activation %d: %w", id, err)
	}
	return decodeActivation(body)
}

// Finish, Cancel and Ban are one-way transition requests. The gateway only
// relays; callers pre-check eligibility against the state machine.

func (c *Client) Finish(ctx context.Context, id int64) (*models.Activation, error) {
	return c.transition(ctx, "Finish", "finish", id)
}

func (c *Client) Cancel(ctx context.Context, id int64) (*models.Activation, error) {
	return c.transition(ctx, "Cancel", "cancel", id)
}

func (c *Client) Ban(ctx context.Context, id int64) (*models.Activation, error) {
	return c.transition(ctx, "Ban", "ban", id)
}

func (c *Client) transition(ctx context.Context, op, action string, id int64) (*models.Activation, error) {
	if err := validateID(id); err != nil {
		return nil, err
	}
	body, err := c.get(ctx, op, fmt.Sprintf("/user/%s/%d", action, id), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to %s activation %d: %w", action, id, err)
	}
	return decodeActivation(body)
}

// Profile returns the provider-side account profile (balance, rating).
func (c *Client) Profile(ctx context.Context) (*Profile, error) {
	body, err := c.get(ctx, "Profile", "/user/profile", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch provider profile: %w", err)
	}
	var profile Profile
	if err := json.Unmarshal(unwrapData(body), &profile); err != nil {
		return nil, fmt.Errorf("%w: malformed profile body", pkgerrors.ErrUpstream)
	}
	return &profile, nil
}

// Operational probes upstream reachability through an unauthenticated endpoint.
func (c *Client) Operational(ctx context.Context) bool {
	_, err := c.get(ctx, "Operational", "/guest/countries", nil)
	if err != nil {
		slog.Warn("provider status probe failed", "error", err)
		return false
	}
	return true
}

func validateID(id int64) error {
	if id <= 0 {
		return fmt.Errorf("%w: activation ID must be a positive integer, got %d", pkgerrors.ErrValidation, id)
	}
	return nil
}

func (c *Client) get(ctx context.Context, op, path string, params url.Values) ([]byte, error) {
	start := time.Now()
	body, err := c.doGet(ctx, path, params)

	status := "success"
	if err != nil {
		status = "error"
	}
	observability.ProviderCalls.WithLabelValues(op, status).Inc()
	observability.ProviderDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
	return body, err
}

func (c *Client) doGet(ctx context.Context, path string, params url.Values) ([]byte, error) {
	reqURL := c.baseURL + path
	if len(params) > 0 {
		reqURL += "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", pkgerrors.ErrUpstream, err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", pkgerrors.ErrUpstream, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, fmt.Errorf("%w: reading response: %v", pkgerrors.ErrUpstream, err)
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return nil, pkgerrors.ErrAuthenticationRequired
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		slog.Error("provider returned error",
			"path", path,
			"status_code", resp.StatusCode,
			"body", truncate(body, 256))
		return nil, fmt.Errorf("%w: status %d", pkgerrors.ErrUpstream, resp.StatusCode)
	}
	return body, nil
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
