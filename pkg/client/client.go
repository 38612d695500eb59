// Package client is a thin HTTP client for the controller's intake API,
// used by the CLI subcommands that talk to a running instance.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/flocksync/flocksync/pkg/types"
)

// Client talks to one controller over its intake API.
type Client struct {
	baseURL string
	http    *http.Client
}

// New creates a client for the given base URL, e.g. "http://127.0.0.1:8480".
func New(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 30 * time.Second},
	}
}

// TriggerReconcile enqueues a reconciliation task for the group.
func (c *Client) TriggerReconcile(ctx context.Context, group string) error {
	return c.do(ctx, http.MethodPost, "/v1/reconcile/"+group, nil, nil)
}

// SendLifecycle delivers a lifecycle event and waits for it to be handled.
func (c *Client) SendLifecycle(ctx context.Context, event *types.LifecycleEvent) error {
	return c.do(ctx, http.MethodPost, "/v1/lifecycle", event, nil)
}

// DeadLetters lists tasks that exhausted their delivery attempts.
func (c *Client) DeadLetters(ctx context.Context) ([]types.ReconciliationTask, error) {
	var tasks []types.ReconciliationTask
	if err := c.do(ctx, http.MethodGet, "/v1/deadletters", nil, &tasks); err != nil {
		return nil, err
	}
	return tasks, nil
}

// RegisterInstance publishes an instance snapshot into the controller's
// inventory.
func (c *Client) RegisterInstance(ctx context.Context, view *types.InstanceView) error {
	path := fmt.Sprintf("/v1/groups/%s/instances/%s", view.ScalingGroup, view.ID)
	return c.do(ctx, http.MethodPut, path, view, nil)
}

// DeregisterInstance removes an instance from the controller's inventory.
func (c *Client) DeregisterInstance(ctx context.Context, group, id string) error {
	path := fmt.Sprintf("/v1/groups/%s/instances/%s", group, id)
	return c.do(ctx, http.MethodDelete, path, nil, nil)
}

func (c *Client) do(ctx context.Context, method, path string, in, out interface{}) error {
	var body io.Reader
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var apiErr struct {
			Error string `json:"error"`
		}
		if json.NewDecoder(resp.Body).Decode(&apiErr) == nil && apiErr.Error != "" {
			return fmt.Errorf("%s %s: %s", method, path, apiErr.Error)
		}
		return fmt.Errorf("%s %s: unexpected status %d", method, path, resp.StatusCode)
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}
	return nil
}
