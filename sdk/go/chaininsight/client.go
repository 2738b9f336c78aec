// Package chaininsight provides a typed Go client for the ChainInsight REST API.
package chaininsight

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"time"
)

// DefaultHTTPTimeout defines the timeout used by clients created without a
// custom http.Client. It is intentionally short to avoid hanging network calls.
const DefaultHTTPTimeout = 15 * time.Second

// Client wraps the HTTP interactions with the ChainInsight REST API.
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client
}

// Transaction mirrors one transaction descriptor released by the server.
// Descriptors are ordered; an executor must submit them in slice order.
type Transaction struct {
	Kind        string `json:"kind"`
	Target      string `json:"target"`
	Payload     string `json:"payload"`
	Value       string `json:"value"`
	Description string `json:"description"`
}

// QueryResult is the response to a conversational query.
type QueryResult struct {
	Response         string        `json:"response"`
	SessionID        string        `json:"sessionId"`
	RequiresApproval bool          `json:"requiresApproval"`
	Transactions     []Transaction `json:"transactions,omitempty"`
	Metadata         struct {
		DurationMs       int64 `json:"durationMs"`
		TransactionCount int   `json:"transactionCount"`
	} `json:"metadata"`
}

// ApprovalResult is the response to an approval call. Transactions is only
// populated when Approved is true.
type ApprovalResult struct {
	Approved     bool          `json:"approved"`
	Cancelled    bool          `json:"cancelled"`
	Transactions []Transaction `json:"transactions,omitempty"`
}

// HealthStatus reports backend readiness and the live session count.
type HealthStatus struct {
	Status       string `json:"status"`
	Ready        bool   `json:"ready"`
	SessionCount int64  `json:"sessionCount"`
}

// APIError represents server side validation or internal errors.
type APIError struct {
	StatusCode int
	Code       string `json:"code"`
	Message    string `json:"message"`
}

func (e *APIError) Error() string {
	if e == nil {
		return ""
	}
	if e.Code != "" {
		return fmt.Sprintf("chaininsight api error (%d): %s - %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("chaininsight api error (%d): %s", e.StatusCode, e.Message)
}

// NewClient instantiates a client for the ChainInsight API. When httpClient is
// nil, a default client with a sensible timeout is used.
func NewClient(rawURL string, httpClient *http.Client) (*Client, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base url: %w", err)
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultHTTPTimeout}
	}
	return &Client{baseURL: parsed, httpClient: httpClient}, nil
}

// Query submits a conversational query. sessionID may be empty; the server
// assigns one and returns it in the result.
func (c *Client) Query(ctx context.Context, query, sessionID string) (QueryResult, error) {
	payload := struct {
		Query     string `json:"query"`
		SessionID string `json:"sessionId,omitempty"`
	}{Query: query, SessionID: sessionID}

	var result QueryResult
	if err := c.post(ctx, "/api/v1/query", payload, &result); err != nil {
		return QueryResult{}, err
	}
	return result, nil
}

// Approve resolves a pending approval. Approval is single-use per session: a
// second call fails with ALREADY_RESOLVED regardless of the boolean.
func (c *Client) Approve(ctx context.Context, sessionID string, approved bool) (ApprovalResult, error) {
	payload := struct {
		SessionID string `json:"sessionId"`
		Approved  bool   `json:"approved"`
	}{SessionID: sessionID, Approved: approved}

	var result ApprovalResult
	if err := c.post(ctx, "/api/v1/approve", payload, &result); err != nil {
		return ApprovalResult{}, err
	}
	return result, nil
}

// Report records the on-chain outcome of an approved batch. The server never
// acts on it; the report exists for audit trails only.
func (c *Client) Report(ctx context.Context, sessionID string, success bool, txHashes []string, notes string) error {
	payload := struct {
		SessionID string   `json:"sessionId"`
		Success   bool     `json:"success"`
		TxHashes  []string `json:"txHashes,omitempty"`
		Notes     string   `json:"notes,omitempty"`
	}{SessionID: sessionID, Success: success, TxHashes: txHashes, Notes: notes}

	return c.post(ctx, "/api/v1/report", payload, nil)
}

// Health probes backend readiness.
func (c *Client) Health(ctx context.Context) (HealthStatus, error) {
	var status HealthStatus
	if err := c.get(ctx, "/health", &status); err != nil {
		return HealthStatus{}, err
	}
	return status, nil
}

func (c *Client) post(ctx context.Context, endpoint string, payload any, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	req, err := c.newRequest(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *Client) get(ctx context.Context, endpoint string, out any) error {
	req, err := c.newRequest(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *Client) newRequest(ctx context.Context, method, endpoint string, body io.Reader) (*http.Request, error) {
	rel := &url.URL{Path: path.Join(c.baseURL.Path, endpoint)}
	u := c.baseURL.ResolveReference(rel)
	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	return req, nil
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("perform request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var apiErr APIError
		apiErr.StatusCode = resp.StatusCode
		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("read error response: %w", err)
		}
		if len(data) > 0 {
			if err := json.Unmarshal(data, &struct {
				Error *APIError `json:"error"`
			}{Error: &apiErr}); err != nil {
				_ = json.Unmarshal(data, &apiErr)
			}
		}
		if apiErr.Message == "" {
			apiErr.Message = string(bytes.TrimSpace(data))
		}
		return &apiErr
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
