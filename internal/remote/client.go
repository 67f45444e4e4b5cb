package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// Client is an HTTP client for the fieldsync server.
type Client struct {
	BaseURL  string
	APIKey   string
	DeviceID string
	HTTP     *http.Client
}

var _ Service = (*Client)(nil)

// NewClient creates a client for the given server.
func NewClient(baseURL, apiKey, deviceID string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		BaseURL:  baseURL,
		APIKey:   apiKey,
		DeviceID: deviceID,
		HTTP:     &http.Client{Timeout: timeout},
	}
}

// recordRequest is the body for create and update calls.
type recordRequest struct {
	Payload  json.RawMessage `json:"payload"`
	ClientID string          `json:"client_id"`
	DeviceID string          `json:"device_id"`
}

// listResponse is the response from a list call.
type listResponse struct {
	Records []Record `json:"records"`
}

// healthResponse is the response from GET /healthz.
type healthResponse struct {
	Status string `json:"status"`
}

// CreateRecord inserts a row via POST /v1/tables/{table}/records/{id}.
func (c *Client) CreateRecord(ctx context.Context, table, id string, payload json.RawMessage, clientID string) (*Record, error) {
	body := recordRequest{Payload: payload, ClientID: clientID, DeviceID: c.DeviceID}
	var rec Record
	path := fmt.Sprintf("/v1/tables/%s/records/%s", url.PathEscape(table), url.PathEscape(id))
	if err := c.do(ctx, "POST", path, body, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

// UpdateRecord overwrites a row via PUT /v1/tables/{table}/records/{id}.
func (c *Client) UpdateRecord(ctx context.Context, table, id string, payload json.RawMessage, clientID string) (*Record, error) {
	body := recordRequest{Payload: payload, ClientID: clientID, DeviceID: c.DeviceID}
	var rec Record
	path := fmt.Sprintf("/v1/tables/%s/records/%s", url.PathEscape(table), url.PathEscape(id))
	if err := c.do(ctx, "PUT", path, body, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

// DeleteRecord removes a row via DELETE /v1/tables/{table}/records/{id}.
func (c *Client) DeleteRecord(ctx context.Context, table, id, clientID string) error {
	params := url.Values{}
	params.Set("client_id", clientID)
	path := fmt.Sprintf("/v1/tables/%s/records/%s?%s", url.PathEscape(table), url.PathEscape(id), params.Encode())
	return c.do(ctx, "DELETE", path, nil, nil)
}

// ListRecordsSince fetches rows changed after the cursor, oldest first.
func (c *Client) ListRecordsSince(ctx context.Context, table, since string) ([]Record, error) {
	params := url.Values{}
	if since != "" {
		params.Set("since", since)
	}
	path := fmt.Sprintf("/v1/tables/%s/records", url.PathEscape(table))
	if len(params) > 0 {
		path += "?" + params.Encode()
	}
	var resp listResponse
	if err := c.do(ctx, "GET", path, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Records, nil
}

// Health hits the /healthz endpoint to verify server reachability.
func (c *Client) Health(ctx context.Context) error {
	var resp healthResponse
	if err := c.doNoAuth(ctx, "GET", "/healthz", nil, &resp); err != nil {
		return err
	}
	if resp.Status != "" && resp.Status != "ok" {
		return fmt.Errorf("server unhealthy: %s", resp.Status)
	}
	return nil
}

// --- HTTP helpers ---

// apiError is the standard error body from the server.
type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *apiError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
	return e.Code
}

// do executes an authenticated HTTP request.
func (c *Client) do(ctx context.Context, method, path string, body, result any) error {
	return c.doRequest(ctx, method, path, body, result, true)
}

// doNoAuth executes an unauthenticated HTTP request.
func (c *Client) doNoAuth(ctx context.Context, method, path string, body, result any) error {
	return c.doRequest(ctx, method, path, body, result, false)
}

func (c *Client) doRequest(ctx context.Context, method, path string, body, result any, auth bool) error {
	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, bodyReader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if auth && c.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.APIKey)
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		msg := string(respBody)
		var apiErr apiError
		if json.Unmarshal(respBody, &apiErr) == nil && apiErr.Code != "" {
			msg = apiErr.Message
		}
		switch resp.StatusCode {
		case http.StatusUnauthorized:
			return fmt.Errorf("%w: %s", ErrUnauthorized, msg)
		case http.StatusForbidden:
			return fmt.Errorf("%w: %s", ErrForbidden, msg)
		case http.StatusNotFound:
			return fmt.Errorf("%w: %s", ErrNotFound, msg)
		case http.StatusUnprocessableEntity, http.StatusBadRequest:
			return fmt.Errorf("%w: %s", ErrValidation, msg)
		default:
			if apiErr.Code != "" {
				return &apiErr
			}
			return fmt.Errorf("HTTP %d: %s", resp.StatusCode, msg)
		}
	}

	if result != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, result); err != nil {
			return fmt.Errorf("unmarshal response: %w", err)
		}
	}

	return nil
}
