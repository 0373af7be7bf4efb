// Package comfy talks to the ComfyUI host's introspection API.
package comfy

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// maxObjectInfoBytes bounds the /object_info response; the payload is large
// (multi-megabyte on busy hosts) but not unbounded.
const maxObjectInfoBytes = 256 * 1024 * 1024

// NodeSource enumerates the host's node types and their input specs.
type NodeSource interface {
	ObjectInfo(ctx context.Context) (map[string]NodeInfo, error)
}

// NodeInfo is one node type's description. Only the input section matters
// to the sidecar; everything else in /object_info is dropped at decode time.
type NodeInfo struct {
	Input InputSpec `json:"input"`
}

// InputSpec lists a node's input fields. ComfyUI encodes each field spec as
// loose JSON: a file-selection input is an array whose first element is the
// array of valid choices.
type InputSpec struct {
	Required map[string]json.RawMessage `json:"required"`
	Optional map[string]json.RawMessage `json:"optional"`
}

// Field returns the raw spec for a named input, preferring required over
// optional, or nil if the node has no such input.
func (s InputSpec) Field(name string) json.RawMessage {
	if raw, ok := s.Required[name]; ok {
		return raw
	}
	if raw, ok := s.Optional[name]; ok {
		return raw
	}
	return nil
}

// Choices extracts the list of valid values from a file-selection input
// spec. Returns nil for widget configs, numeric specs, and anything else
// that is not a choice list.
func Choices(raw json.RawMessage) []string {
	if len(raw) == 0 {
		return nil
	}
	var spec []json.RawMessage
	if err := json.Unmarshal(raw, &spec); err != nil || len(spec) == 0 {
		return nil
	}
	var items []any
	if err := json.Unmarshal(spec[0], &items); err != nil {
		return nil
	}
	var out []string
	for _, item := range items {
		s, ok := item.(string)
		if !ok {
			continue
		}
		s = strings.TrimSpace(s)
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}

// Client fetches introspection data over HTTP.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient creates a client for the given ComfyUI base URL.
func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
	}
}

const (
	maxAttempts = 3
	initialWait = 200 * time.Millisecond
)

// ObjectInfo queries GET /object_info. Network errors and 5xx responses are
// retried with exponential backoff; decode errors are not.
func (c *Client) ObjectInfo(ctx context.Context) (map[string]NodeInfo, error) {
	var lastErr error
	wait := initialWait

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if attempt > 1 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(wait):
			}
			wait *= 2
		}

		info, retryable, err := c.fetch(ctx)
		if err == nil {
			return info, nil
		}
		lastErr = err
		if !retryable {
			return nil, err
		}
	}
	return nil, lastErr
}

func (c *Client) fetch(ctx context.Context) (map[string]NodeInfo, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/object_info", nil)
	if err != nil {
		return nil, false, fmt.Errorf("build request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, true, fmt.Errorf("query object_info: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		retryable := resp.StatusCode >= 500
		return nil, retryable, fmt.Errorf("object_info: unexpected status %d", resp.StatusCode)
	}

	var info map[string]NodeInfo
	dec := json.NewDecoder(io.LimitReader(resp.Body, maxObjectInfoBytes))
	if err := dec.Decode(&info); err != nil {
		return nil, false, fmt.Errorf("decode object_info: %w", err)
	}
	return info, false, nil
}
