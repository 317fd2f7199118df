// Package xrefapi is a client for the product cross-reference service that
// maps vendor product codes to internal catalog codes.
package xrefapi

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"

	"github.com/sells-group/order-intake/internal/resilience"
)

// Client looks up cross-reference entries.
type Client interface {
	// Lookup returns the entry for a vendor code. An empty customerTaxID asks
	// for the generic entry. A missing entry is (nil, nil).
	Lookup(ctx context.Context, vendorCode, customerTaxID string) (*Entry, error)
}

// Entry is one cross-reference row as served by the API.
type Entry struct {
	VendorCode          string `json:"vendor_code"`
	CustomerTaxID       string `json:"customer_tax_id,omitempty"`
	InternalCode        string `json:"internal_code"`
	InternalDescription string `json:"internal_description"`
	// ConversionFactor is a decimal string; empty means 1.
	ConversionFactor string `json:"conversion_factor,omitempty"`
}

// Option configures the client.
type Option func(*httpClient)

// WithHTTPClient overrides the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) {
		c.http = hc
	}
}

// WithRateLimit caps requests per second. Zero disables limiting.
func WithRateLimit(rps float64) Option {
	return func(c *httpClient) {
		if rps > 0 {
			c.limiter = rate.NewLimiter(rate.Limit(rps), max(int(rps), 1))
		}
	}
}

type httpClient struct {
	baseURL string
	apiKey  string
	http    *http.Client
	limiter *rate.Limiter
}

// NewClient creates a cross-reference API client.
func NewClient(baseURL, apiKey string, opts ...Option) Client {
	c := &httpClient{
		baseURL: baseURL,
		apiKey:  apiKey,
		http: &http.Client{
			Timeout: 5 * time.Second,
		},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

func (c *httpClient) Lookup(ctx context.Context, vendorCode, customerTaxID string) (*Entry, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, eris.Wrap(err, "xrefapi: rate limit")
		}
	}

	u := c.baseURL + "/v1/cross-references/" + url.PathEscape(vendorCode)
	if customerTaxID != "" {
		u += "?" + url.Values{"customer_tax_id": {customerTaxID}}.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, eris.Wrap(err, "xrefapi: create request")
	}
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, eris.Wrap(err, "xrefapi: send request")
	}
	defer resp.Body.Close() //nolint:errcheck

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, eris.Wrap(err, "xrefapi: read response")
	}

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, nil
	case resp.StatusCode != http.StatusOK:
		return nil, resilience.HTTPStatusError("xrefapi", resp.StatusCode, string(body))
	}

	var entry Entry
	if err := json.Unmarshal(body, &entry); err != nil {
		return nil, eris.Wrap(err, "xrefapi: unmarshal response")
	}
	if entry.InternalCode == "" {
		return nil, nil
	}
	return &entry, nil
}
