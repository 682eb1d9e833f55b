package validator

import (
	"context"
	"fmt"
	"net/url"

	"github.com/arrdeck/arrdeck/internal/fetcher"
)

// HTTPProber asks the backend to test a connection.
type HTTPProber struct {
	fetcher *fetcher.Fetcher
	route   func(scope string) string
}

// NewHTTPProber probes via POST /api/{scope}/test-connection.
func NewHTTPProber(f *fetcher.Fetcher) *HTTPProber {
	return &HTTPProber{fetcher: f, route: TestConnectionPath}
}

// TestConnectionPath is the default test-connection route for scope.
func TestConnectionPath(scope string) string {
	return "/api/" + url.PathEscape(scope) + "/test-connection"
}

type probeRequest struct {
	URL    string `json:"url"`
	APIKey string `json:"api_key"`
}

type probeResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Version string `json:"version"`
}

// Probe implements Prober. A success:false reply surfaces as the
// fetcher's envelope error carrying the server text.
func (p *HTTPProber) Probe(ctx context.Context, c Candidate) (ProbeResult, error) {
	var resp probeResponse
	err := p.fetcher.Probe(ctx, p.route(c.Scope), probeRequest{URL: c.URL, APIKey: c.Credential}, &resp)
	if err != nil {
		return ProbeResult{}, fmt.Errorf("validator: probe %s: %w", c.Scope, err)
	}
	return ProbeResult{Version: resp.Version, Message: resp.Message}, nil
}
