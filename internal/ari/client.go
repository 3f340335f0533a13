package ari

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const requestTimeout = 10 * time.Second

// Client issues authenticated REST calls against the engine's ARI base URL.
// One pooled HTTP connection is shared across all calls; Start and Close tie
// its lifetime to the worker.
type Client struct {
	baseURL    string
	app        string
	user       string
	pass       string
	httpClient *http.Client
}

// NewClient creates an ARI REST client for the given base URL (e.g.
// "http://asterisk:8088/ari") and stasis application.
func NewClient(baseURL, app, user, pass string) *Client {
	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		app:     app,
		user:    user,
		pass:    pass,
	}
}

// Start establishes the HTTP connection pool. Must be called before any
// REST operation.
func (c *Client) Start() {
	if c.httpClient != nil {
		return
	}
	c.httpClient = &http.Client{
		Timeout: requestTimeout,
		Transport: &http.Transport{
			MaxIdleConns:        10,
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     90 * time.Second,
		},
	}
}

// Close releases the pooled connections.
func (c *Client) Close() {
	if c.httpClient != nil {
		c.httpClient.CloseIdleConnections()
		c.httpClient = nil
	}
}

// OriginateRequest describes the outbound leg to place.
type OriginateRequest struct {
	Endpoint   string // e.g. "PJSIP/1001"
	AppArgs    string // e.g. "callee,1001"
	CallerID   string
	TimeoutSec int
}

// Originate asks the engine to place an outbound channel into the stasis
// app and returns the new channel id.
func (c *Client) Originate(ctx context.Context, req OriginateRequest) (string, error) {
	params := url.Values{}
	params.Set("endpoint", req.Endpoint)
	params.Set("appArgs", req.AppArgs)
	params.Set("callerId", req.CallerID)
	params.Set("timeout", strconv.Itoa(req.TimeoutSec))

	body, err := c.do(ctx, http.MethodPost, "/channels", params)
	if err != nil {
		return "", fmt.Errorf("originating %s: %w", req.Endpoint, err)
	}

	id, err := extractID(body)
	if err != nil {
		return "", &ProtocolError{Op: "originate", Detail: err.Error()}
	}
	return id, nil
}

// CreateBridge creates a bridge of the given type and returns its id.
func (c *Client) CreateBridge(ctx context.Context, name, bridgeType string) (string, error) {
	params := url.Values{}
	params.Set("type", bridgeType)
	params.Set("name", name)

	body, err := c.do(ctx, http.MethodPost, "/bridges", params)
	if err != nil {
		return "", fmt.Errorf("creating bridge %s: %w", name, err)
	}

	id, err := extractID(body)
	if err != nil {
		return "", &ProtocolError{Op: "create bridge", Detail: err.Error()}
	}
	return id, nil
}

// AddChannelToBridge places a channel into a bridge.
func (c *Client) AddChannelToBridge(ctx context.Context, bridgeID, channelID string) error {
	params := url.Values{}
	params.Set("channel", channelID)

	if _, err := c.do(ctx, http.MethodPost, "/bridges/"+bridgeID+"/addChannel", params); err != nil {
		return fmt.Errorf("adding channel %s to bridge %s: %w", channelID, bridgeID, err)
	}
	return nil
}

// HangupChannel hangs up a channel. A channel that is already gone (404) is
// treated as success so teardown stays idempotent.
func (c *Client) HangupChannel(ctx context.Context, channelID string) error {
	if err := c.delete(ctx, "/channels/"+channelID); err != nil {
		return fmt.Errorf("hanging up channel %s: %w", channelID, err)
	}
	return nil
}

// DestroyBridge destroys a bridge, tolerating 404 identically to
// HangupChannel.
func (c *Client) DestroyBridge(ctx context.Context, bridgeID string) error {
	if err := c.delete(ctx, "/bridges/"+bridgeID); err != nil {
		return fmt.Errorf("destroying bridge %s: %w", bridgeID, err)
	}
	return nil
}

// do performs one authenticated request and returns the response body for
// 2xx statuses.
func (c *Client) do(ctx context.Context, method, path string, params url.Values) ([]byte, error) {
	resp, err := c.send(ctx, method, path, params)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &StatusError{Method: method, Path: path, Status: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}
	return body, nil
}

// delete performs a DELETE where 404 counts as success.
func (c *Client) delete(ctx context.Context, path string) error {
	resp, err := c.send(ctx, http.MethodDelete, path, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil
	}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &StatusError{Method: http.MethodDelete, Path: path, Status: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}
	return nil
}

func (c *Client) send(ctx context.Context, method, path string, params url.Values) (*http.Response, error) {
	if c.httpClient == nil {
		return nil, fmt.Errorf("ari: client not started")
	}

	if params == nil {
		params = url.Values{}
	}
	// Every request carries the stasis application name.
	params.Set("app", c.app)

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.SetBasicAuth(c.user, c.pass)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("sending request: %w", err)
	}
	return resp, nil
}

// extractID pulls the id field out of a creation response body.
func extractID(body []byte) (string, error) {
	var out struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return "", fmt.Errorf("decoding response: %v", err)
	}
	if out.ID == "" {
		return "", fmt.Errorf("response carries no id: %s", strings.TrimSpace(string(body)))
	}
	return out.ID, nil
}
