// internal/insurance/client.go
package insurance

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	commonerrors "insurance-journey/internal/common/errors"
	"insurance-journey/internal/common/metrics"
)

// Exchange is one request/response pair mirrored to the Observer after
// every call, successful or not.
type Exchange struct {
	Operation string
	Method    string
	Path      string
	Request   interface{}
	Response  json.RawMessage
	Status    int
	Err       error
	At        time.Time
}

// Observer receives a copy of every exchange. Implementations must not
// influence the call outcome.
type Observer interface {
	Record(ex Exchange)
}

// Client is the typed binding for the insurance resource API. It does
// not retry and does not cache; every non-2xx response is surfaced as a
// *commonerrors.RemoteError carrying the decoded problem details.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	observer   Observer
}

type Option func(*Client)

// WithObserver mirrors every exchange to the given observer.
func WithObserver(o Observer) Option {
	return func(c *Client) { c.observer = o }
}

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

func NewClient(baseURL, apiKey string, opts ...Option) *Client {
	c := &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// do performs one API call: serialize the body, attach the credential
// header, decode the response into out on 2xx, or map the problem
// payload into a RemoteError otherwise.
func (c *Client) do(ctx context.Context, operation, method, path string, body, out interface{}) error {
	var reqBody io.Reader
	if body != nil {
		jsonData, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reqBody = bytes.NewBuffer(jsonData)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-API-Key", c.apiKey)

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	metrics.APICallDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.APICalls.WithLabelValues(operation, "transport_error").Inc()
		c.record(Exchange{Operation: operation, Method: method, Path: path, Request: body, Err: err, At: time.Now().UTC()})
		return fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		metrics.APICalls.WithLabelValues(operation, "read_error").Inc()
		c.record(Exchange{Operation: operation, Method: method, Path: path, Request: body, Status: resp.StatusCode, Err: err, At: time.Now().UTC()})
		return fmt.Errorf("failed to read response body: %w", err)
	}

	metrics.APICalls.WithLabelValues(operation, strconv.Itoa(resp.StatusCode)).Inc()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var problem commonerrors.ProblemDetails
		if err := json.Unmarshal(respBody, &problem); err != nil {
			// Not a problem document; keep the raw body as the detail.
			problem = commonerrors.ProblemDetails{
				Title:  http.StatusText(resp.StatusCode),
				Status: resp.StatusCode,
				Detail: string(respBody),
			}
		}
		remoteErr := commonerrors.NewRemoteError(resp.StatusCode, problem)
		c.record(Exchange{Operation: operation, Method: method, Path: path, Request: body, Response: respBody, Status: resp.StatusCode, Err: remoteErr, At: time.Now().UTC()})
		return remoteErr
	}

	if out != nil {
		if err := json.Unmarshal(respBody, out); err != nil {
			c.record(Exchange{Operation: operation, Method: method, Path: path, Request: body, Response: respBody, Status: resp.StatusCode, Err: err, At: time.Now().UTC()})
			return fmt.Errorf("failed to unmarshal response: %w", err)
		}
	}

	c.record(Exchange{Operation: operation, Method: method, Path: path, Request: body, Response: respBody, Status: resp.StatusCode, At: time.Now().UTC()})
	return nil
}

func (c *Client) record(ex Exchange) {
	if c.observer != nil {
		c.observer.Record(ex)
	}
}

// --- Products ---

func (c *Client) ListProducts(ctx context.Context) ([]Product, error) {
	var out []Product
	if err := c.do(ctx, "products.list", http.MethodGet, "/products", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) GetProduct(ctx context.Context, slug string) (*Product, error) {
	var out Product
	if err := c.do(ctx, "products.get", http.MethodGet, "/products/"+slug, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// --- Quotes ---

func (c *Client) CreateQuote(ctx context.Context, input QuoteInput) (*Quote, error) {
	var out Quote
	if err := c.do(ctx, "quotes.create", http.MethodPost, "/quotes", input, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) GetQuote(ctx context.Context, id string) (*Quote, error) {
	var out Quote
	if err := c.do(ctx, "quotes.get", http.MethodGet, "/quotes/"+id, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// --- Applications ---

func (c *Client) CreateApplication(ctx context.Context, input ApplicationInput) (*Application, error) {
	var out Application
	if err := c.do(ctx, "applications.create", http.MethodPost, "/applications", input, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) GetApplication(ctx context.Context, id string) (*Application, error) {
	var out Application
	if err := c.do(ctx, "applications.get", http.MethodGet, "/applications/"+id, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) PatchApplication(ctx context.Context, id string, patch ApplicationPatch) (*Application, error) {
	var out Application
	if err := c.do(ctx, "applications.patch", http.MethodPatch, "/applications/"+id, patch, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// SubmitApplication is a state-transition verb, not a field update.
func (c *Client) SubmitApplication(ctx context.Context, id string) (*Application, error) {
	var out Application
	if err := c.do(ctx, "applications.submit", http.MethodPost, "/applications/"+id+":submit", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// --- Underwriting ---

func (c *Client) ListUnderwritingCases(ctx context.Context) ([]UnderwritingCase, error) {
	var out []UnderwritingCase
	if err := c.do(ctx, "underwriting.list", http.MethodGet, "/underwriting/cases", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) GetUnderwritingCase(ctx context.Context, id string) (*UnderwritingCase, error) {
	var out UnderwritingCase
	if err := c.do(ctx, "underwriting.get", http.MethodGet, "/underwriting/cases/"+id, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) DecideUnderwritingCase(ctx context.Context, id string, input UWDecisionInput) (*UnderwritingCase, error) {
	var out UnderwritingCase
	if err := c.do(ctx, "underwriting.decide", http.MethodPost, "/underwriting/cases/"+id+":decide", input, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// --- Offers ---

func (c *Client) CreateOffer(ctx context.Context, applicationID string) (*Offer, error) {
	var out Offer
	if err := c.do(ctx, "offers.create", http.MethodPost, "/applications/"+applicationID+"/offers", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) GetOffer(ctx context.Context, id string) (*Offer, error) {
	var out Offer
	if err := c.do(ctx, "offers.get", http.MethodGet, "/offers/"+id, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) AcceptOffer(ctx context.Context, id string) (*Offer, error) {
	var out Offer
	if err := c.do(ctx, "offers.accept", http.MethodPost, "/offers/"+id+":accept", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) DeclineOffer(ctx context.Context, id string) (*Offer, error) {
	var out Offer
	if err := c.do(ctx, "offers.decline", http.MethodPost, "/offers/"+id+":decline", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// --- Policies ---

func (c *Client) ListPolicies(ctx context.Context, filter PolicyFilter) (*PolicyList, error) {
	params := url.Values{}
	if filter.ApplicationID != "" {
		params.Set("application_id", filter.ApplicationID)
	}
	if filter.Status != "" {
		params.Set("status", string(filter.Status))
	}
	if filter.Limit > 0 {
		params.Set("limit", strconv.Itoa(filter.Limit))
	}
	if filter.Offset > 0 {
		params.Set("offset", strconv.Itoa(filter.Offset))
	}

	path := "/policies"
	if query := params.Encode(); query != "" {
		path += "?" + query
	}

	var out PolicyList
	if err := c.do(ctx, "policies.list", http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) GetPolicy(ctx context.Context, number string) (*Policy, error) {
	var out Policy
	if err := c.do(ctx, "policies.get", http.MethodGet, "/policies/"+number, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}
