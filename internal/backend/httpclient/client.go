// Package httpclient talks to a remote processing service over REST.
package httpclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"go-idea-jobs/internal/backend"
	"go-idea-jobs/internal/storage"
)

// Client implements backend.ProcessingBackend against:
//
//	POST   {base}/jobs             {"url","owner_id","group_id"} -> job
//	POST   {base}/jobs/{id}/retry                                -> job
//	DELETE {base}/jobs/{id}
type Client struct {
	baseURL string
	http    *http.Client
}

// New creates a client. A short timeout avoids long hangs on a stuck service.
func New(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}
}

type startRequest struct {
	URL     string `json:"url"`
	OwnerID string `json:"owner_id"`
	GroupID string `json:"group_id,omitempty"`
}

type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// StartJob implements backend.ProcessingBackend.
func (c *Client) StartJob(ctx context.Context, sourceURL, ownerID, groupID string) (storage.Job, error) {
	body, err := json.Marshal(startRequest{URL: sourceURL, OwnerID: ownerID, GroupID: groupID})
	if err != nil {
		return storage.Job{}, err
	}
	var job storage.Job
	err = c.do(ctx, http.MethodPost, "/jobs", body, &job)
	return job, err
}

// RetryJob implements backend.ProcessingBackend.
func (c *Client) RetryJob(ctx context.Context, jobID string) (storage.Job, error) {
	var job storage.Job
	err := c.do(ctx, http.MethodPost, "/jobs/"+url.PathEscape(jobID)+"/retry", nil, &job)
	return job, err
}

// DeleteJob implements backend.ProcessingBackend.
func (c *Client) DeleteJob(ctx context.Context, jobID string) error {
	return c.do(ctx, http.MethodDelete, "/jobs/"+url.PathEscape(jobID), nil, nil)
}

func (c *Client) do(ctx context.Context, method, path string, body []byte, out any) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return backend.Errorf(err, method+" "+path)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &backend.Error{Message: readError(resp)}
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return backend.Errorf(err, "decode response")
	}
	return nil
}

func readError(resp *http.Response) string {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	var eb errorBody
	if json.Unmarshal(data, &eb) == nil {
		if eb.Message != "" {
			return eb.Message
		}
		if eb.Error != "" {
			return eb.Error
		}
	}
	if msg := strings.TrimSpace(string(data)); msg != "" {
		return fmt.Sprintf("status %d: %s", resp.StatusCode, msg)
	}
	return fmt.Sprintf("status %d", resp.StatusCode)
}
