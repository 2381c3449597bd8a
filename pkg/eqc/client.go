// Package eqc is the HTTP client for the enterprise query center, the
// external company-search service behind the P4 enrichment tier. It owns the
// request-per-second ceiling and the bounded retry on transient failures;
// budget accounting belongs to the caller.
package eqc

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"

	"github.com/sells-group/idresolve/internal/resilience"
)

const defaultBaseURL = "https://api.eqc.example.com"

// Match is the top-ranked candidate for a name search. MatchType carries the
// provider's label (exact, fuzzy, phonetic, ...); mapping labels to confidence
// scores is the caller's concern.
type Match struct {
	CompanyID string `json:"company_id"`
	Name      string `json:"name"`
	MatchType string `json:"match_type"`
}

// Client searches companies by name. A nil Match with a nil error means the
// provider had no candidate; that is not a failure.
type Client interface {
	Search(ctx context.Context, name string) (*Match, error)
}

// TokenSource supplies the short-lived bearer token. Obtaining and refreshing
// the token is an out-of-band collaborator's job.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// StaticToken is a TokenSource for a fixed token.
type StaticToken string

func (t StaticToken) Token(context.Context) (string, error) {
	return string(t), nil
}

// Option configures the client.
type Option func(*httpClient)

// WithBaseURL overrides the default API base URL.
func WithBaseURL(u string) Option {
	return func(c *httpClient) {
		c.baseURL = u
	}
}

// WithHTTPClient overrides the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) {
		c.http = hc
	}
}

// WithRateLimit sets the requests-per-second ceiling.
func WithRateLimit(rps float64) Option {
	return func(c *httpClient) {
		burst := int(rps)
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

// WithRetry overrides the transient-failure retry policy.
func WithRetry(cfg resilience.RetryConfig) Option {
	return func(c *httpClient) {
		c.retry = cfg
	}
}

type httpClient struct {
	tokens  TokenSource
	baseURL string
	http    *http.Client
	limiter *rate.Limiter
	retry   resilience.RetryConfig
}

// NewClient creates an EQC API client.
func NewClient(tokens TokenSource, opts ...Option) Client {
	c := &httpClient{
		tokens:  tokens,
		baseURL: defaultBaseURL,
		http: &http.Client{
			Timeout: 15 * time.Second,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		limiter: rate.NewLimiter(5, 5),
		retry:   resilience.DefaultRetryConfig(),
	}
	for _, o := range opts {
		o(c)
	}
	if c.retry.OnRetry == nil {
		c.retry.OnRetry = resilience.RetryLogger("eqc", "search")
	}
	return c
}

type searchResponse struct {
	Results []Match `json:"results"`
}

// Search looks up a company by name and returns the top-ranked candidate.
// Transient failures are retried with bounded backoff and surfaced only after
// exhaustion; auth failures surface immediately as *AuthError.
func (c *httpClient) Search(ctx context.Context, name string) (*Match, error) {
	return resilience.DoVal(ctx, c.retry, func(ctx context.Context) (*Match, error) {
		return c.searchOnce(ctx, name)
	})
}

func (c *httpClient) searchOnce(ctx context.Context, name string) (*Match, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, eris.Wrap(err, "eqc: rate limit wait")
	}

	token, err := c.tokens.Token(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "eqc: obtain token")
	}

	u := c.baseURL + "/v1/companies/search?name=" + url.QueryEscape(name)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, eris.Wrap(err, "eqc: create request")
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, resilience.NewTransientError(eris.Wrap(err, "eqc: send request"), 0)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resilience.NewTransientError(eris.Wrap(err, "eqc: read response"), resp.StatusCode)
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, &AuthError{StatusCode: resp.StatusCode}
	case resilience.IsTransientHTTPStatus(resp.StatusCode):
		return nil, resilience.NewTransientError(
			eris.Errorf("eqc: status %d: %s", resp.StatusCode, string(body)), resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		return nil, eris.Errorf("eqc: unexpected status %d: %s", resp.StatusCode, string(body))
	}

	var result searchResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, eris.Wrap(err, "eqc: unmarshal response")
	}
	if len(result.Results) == 0 {
		return nil, nil
	}

	// Results are ranked by the service; the first candidate is the match.
	top := result.Results[0]
	if top.CompanyID == "" {
		return nil, nil
	}
	return &top, nil
}
