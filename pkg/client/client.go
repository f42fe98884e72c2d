package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/aminenidae/stint/pkg/api"
)

const requestTimeout = 10 * time.Second

// Client talks to the stint HTTP API. It decodes responses into the
// api package's view structs, so client and server share one wire
// vocabulary.
type Client struct {
	base string
	http *http.Client
}

// NewClient creates a client for the given address. A bare host:port
// is assumed to be plain HTTP, matching the daemon's listener.
func NewClient(addr string) *Client {
	if !strings.Contains(addr, "://") {
		addr = "http://" + addr
	}
	return &Client{
		base: strings.TrimRight(addr, "/"),
		http: &http.Client{Timeout: requestTimeout},
	}
}

// Enroll registers a new entity for accounting.
func (c *Client) Enroll(name string) (*api.EntityView, error) {
	var view api.EntityView
	if err := c.do(http.MethodPost, "/v1/entities", api.EnrollRequest{Name: name}, &view); err != nil {
		return nil, err
	}
	return &view, nil
}

// Unenroll archives an entity by ID or name.
func (c *Client) Unenroll(ref string) error {
	return c.do(http.MethodDelete, "/v1/entities/"+ref, nil, nil)
}

// Entities lists enrolled entities with their current totals.
func (c *Client) Entities() ([]api.EntityView, error) {
	var views []api.EntityView
	if err := c.do(http.MethodGet, "/v1/entities", nil, &views); err != nil {
		return nil, err
	}
	return views, nil
}

// Total fetches an entity's open-epoch total by ID or name.
func (c *Client) Total(ref string) (*api.TotalView, error) {
	var view api.TotalView
	if err := c.do(http.MethodGet, "/v1/entities/"+ref+"/total", nil, &view); err != nil {
		return nil, err
	}
	return &view, nil
}

// History fetches an entity's finalized day totals plus the open day.
func (c *Client) History(ref string, days int) (*api.HistoryView, error) {
	path := "/v1/entities/" + ref + "/history"
	if days > 0 {
		path += "?days=" + strconv.Itoa(days)
	}

	var view api.HistoryView
	if err := c.do(http.MethodGet, path, nil, &view); err != nil {
		return nil, err
	}
	return &view, nil
}

// Gaps lists suspected accounting gaps.
func (c *Client) Gaps() ([]api.GapView, error) {
	var views []api.GapView
	if err := c.do(http.MethodGet, "/v1/gaps", nil, &views); err != nil {
		return nil, err
	}
	return views, nil
}

// Counters fetches the diagnostic drop and correction counters.
func (c *Client) Counters() (map[string]uint64, error) {
	counters := make(map[string]uint64)
	if err := c.do(http.MethodGet, "/v1/counters", nil, &counters); err != nil {
		return nil, err
	}
	return counters, nil
}

// Status fetches the daemon's health summary.
func (c *Client) Status() (*api.StatusView, error) {
	var view api.StatusView
	if err := c.do(http.MethodGet, "/v1/status", nil, &view); err != nil {
		return nil, err
	}
	return &view, nil
}

// do runs one request and decodes the response into out when the
// caller wants a body. API errors come back as {"error": "..."} and
// surface as plain Go errors.
func (c *Client) do(method, path string, in, out any) error {
	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	var body io.Reader
	if in != nil {
		buf, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		body = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base+path, body)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("failed to reach %s: %w", c.base, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return apiError(resp)
	}

	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func apiError(resp *http.Response) error {
	var payload struct {
		Error string `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err == nil && payload.Error != "" {
		return fmt.Errorf("%s: %s", resp.Status, payload.Error)
	}
	return fmt.Errorf("request failed: %s", resp.Status)
}
