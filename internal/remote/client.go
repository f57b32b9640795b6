package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

// maxMutationConcurrency bounds the per-conversation mutation fan-out.
const maxMutationConcurrency = 4

// Client is the HTTP implementation of Service. Requests are authenticated
// via an OAuth2 token source and throttled by a token-bucket limiter.
type Client struct {
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     *slog.Logger
}

// NewClient creates a client for the service at baseURL. qps caps the
// request rate; a qps of 5 is the safe default.
func NewClient(baseURL string, ts oauth2.TokenSource, qps int, logger *slog.Logger) *Client {
	if qps <= 0 {
		qps = 5
	}
	if logger == nil {
		logger = slog.Default()
	}
	httpClient := oauth2.NewClient(context.Background(), ts)
	httpClient.Timeout = 30 * time.Second
	return &Client{
		baseURL:    baseURL,
		httpClient: httpClient,
		limiter:    rate.NewLimiter(rate.Limit(qps), qps),
		logger:     logger,
	}
}

// TokenSourceFromFile loads an OAuth2 token from a JSON file. Token
// acquisition itself happens out of band; the engine only consumes tokens.
func TokenSourceFromFile(path string) (oauth2.TokenSource, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read token file: %w", err)
	}
	var tok oauth2.Token
	if err := json.Unmarshal(data, &tok); err != nil {
		return nil, fmt.Errorf("decode token file: %w", err)
	}
	return oauth2.StaticTokenSource(&tok), nil
}

// FetchIncrementalChanges implements Service.
func (c *Client) FetchIncrementalChanges(ctx context.Context, accountID, cursor string) (*Changes, error) {
	path := fmt.Sprintf("/v1/accounts/%s/changes", url.PathEscape(accountID))
	q := url.Values{}
	if cursor != "" {
		q.Set("cursor", cursor)
	}

	var changes Changes
	if err := c.getJSON(ctx, path, q, &changes); err != nil {
		return nil, fmt.Errorf("fetch changes: %w", err)
	}
	return &changes, nil
}

// FetchPage implements Service.
func (c *Client) FetchPage(ctx context.Context, accountID, cardID, query, pageToken string) (*Page, error) {
	path := fmt.Sprintf("/v1/accounts/%s/cards/%s/page", url.PathEscape(accountID), url.PathEscape(cardID))
	q := url.Values{}
	q.Set("query", query)
	if pageToken != "" {
		q.Set("page_token", pageToken)
	}

	var page Page
	if err := c.getJSON(ctx, path, q, &page); err != nil {
		return nil, fmt.Errorf("fetch page: %w", err)
	}
	return &page, nil
}

// ApplyTagMutation implements Service. The service mutates one conversation
// per request, so the call fans out with bounded concurrency and returns
// the first error, if any.
func (c *Client) ApplyTagMutation(ctx context.Context, accountID string, ids, add, remove []string) error {
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(maxMutationConcurrency)

	for _, id := range ids {
		id := id
		g.Go(func() error {
			path := fmt.Sprintf("/v1/accounts/%s/conversations/%s/modify",
				url.PathEscape(accountID), url.PathEscape(id))
			body := map[string][]string{"add": add, "remove": remove}
			if err := c.postJSON(ctx, path, body); err != nil {
				return fmt.Errorf("modify conversation %s: %w", id, err)
			}
			return nil
		})
	}
	return g.Wait()
}

func (c *Client) getJSON(ctx context.Context, path string, q url.Values, out interface{}) error {
	u := c.baseURL + path
	if len(q) > 0 {
		u += "?" + q.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}
	resp, err := c.do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := checkStatus(resp); err != nil {
		return err
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func (c *Client) postJSON(ctx context.Context, path string, body interface{}) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return checkStatus(resp)
}

// do waits for rate limiter clearance, then executes the request.
func (c *Client) do(req *http.Request) (*http.Response, error) {
	if err := c.limiter.Wait(req.Context()); err != nil {
		return nil, err
	}
	return c.httpClient.Do(req)
}

func checkStatus(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	switch resp.StatusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		return &AuthError{Status: resp.StatusCode, Message: string(body)}
	case http.StatusNotFound:
		return &NotFoundError{Path: resp.Request.URL.Path}
	}
	return fmt.Errorf("http %d: %s", resp.StatusCode, string(body))
}

// Ensure Client implements Service.
var _ Service = (*Client)(nil)
