// Package client talks to a split/merge server over HTTP.
package client

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

	"github.com/local/splitmerge/internal/plan"
	"github.com/local/splitmerge/internal/store"
)

// HTTPError is a non-2xx response from the server.
type HTTPError struct {
	StatusCode int
	Body       string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Body)
}

// Client implements preview.Executor against a remote server.
type Client struct {
	BaseURL string
	HTTP    *http.Client
}

func New(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		HTTP:    &http.Client{Timeout: timeout},
	}
}

// Execute submits req and returns the result identifiers.
func (c *Client) Execute(ctx context.Context, req plan.Request) ([]string, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}
	hreq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/split_merge/", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	hreq.Header.Set("Content-Type", "application/json")
	var ids []string
	if err := c.do(hreq, &ids); err != nil {
		return nil, err
	}
	return ids, nil
}

// PreviewURL is where the server serves a preview result.
func (c *Client) PreviewURL(id string) string {
	return c.BaseURL + "/split_merge/" + url.PathEscape(id) + "/"
}

// Download writes a preview result to w.
func (c *Client) Download(ctx context.Context, id string, w io.Writer) error {
	hreq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.PreviewURL(id), nil)
	if err != nil {
		return err
	}
	resp, err := c.HTTP.Do(hreq)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if err := checkStatus(resp); err != nil {
		return err
	}
	_, err = io.Copy(w, resp.Body)
	return err
}

// JobStatus returns the status of a commit job.
func (c *Client) JobStatus(ctx context.Context, jobID string) (store.Status, error) {
	hreq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+"/split_merge/jobs/"+url.PathEscape(jobID), nil)
	if err != nil {
		return store.Status{}, err
	}
	var st store.Status
	err = c.do(hreq, &st)
	return st, err
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.HTTP.Do(req)
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

func checkStatus(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	return &HTTPError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(b))}
}
