// Package hub provides a client for the model artifact source.
package hub

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"slices"

	"github.com/ardanlabs/unbg/sdk/errs"
	"github.com/ardanlabs/unbg/sdk/tools/defaults"
	"github.com/hashicorp/go-cleanhttp"
)

// UserAgent is sent with every request.
const UserAgent = "unbg-installer/0.1"

// Client talks to the artifact source.
type Client struct {
	endpoint string
	token    string
	http     *http.Client
}

// Option represents options for configuring a client.
type Option func(*Client)

// WithEndpoint sets the base url of the artifact source.
func WithEndpoint(endpoint string) Option {
	return func(c *Client) {
		c.endpoint = defaults.HubEndpoint(endpoint)
	}
}

// WithToken sets the bearer credential.
func WithToken(token string) Option {
	return func(c *Client) {
		c.token = token
	}
}

// WithHTTPClient sets the http client used for requests.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		c.http = client
	}
}

// New constructs a client for the artifact source.
func New(opts ...Option) *Client {
	c := Client{
		endpoint: defaults.HubEndpoint(""),
		http:     cleanhttp.DefaultPooledClient(),
	}

	for _, opt := range opts {
		opt(&c)
	}

	return &c
}

// HTTPClient returns the http client used for requests.
func (c *Client) HTTPClient() *http.Client {
	return c.http
}

// Header returns the headers every request to the source carries.
func (c *Client) Header() http.Header {
	h := http.Header{}
	h.Set("User-Agent", UserAgent)

	if c.token != "" {
		h.Set("Authorization", "Bearer "+c.token)
	}

	return h
}

type treeEntry struct {
	Type string `json:"type"`
	Path string `json:"path"`
	Size int64  `json:"size"`
}

// ListFiles returns the sorted paths of every file in the revision.
func (c *Client) ListFiles(ctx context.Context, sourceID string, revision string) ([]string, error) {
	u := fmt.Sprintf("%s/api/models/%s/tree/%s?recursive=1", c.endpoint, sourceID, url.PathEscape(revision))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("list-files: unable to create request: %w", err)
	}

	req.Header = c.Header()

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, errs.New(errs.TransientIO, fmt.Errorf("list-files: %s@%s: %w", sourceID, revision, err))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, errs.Newf(errs.TransientIO, "list-files: %s@%s: unexpected status %s: %s", sourceID, revision, resp.Status, body)
	}

	var entries []treeEntry
	if err := json.NewDecoder(resp.Body).Decode(&entries); err != nil {
		return nil, errs.New(errs.TransientIO, fmt.Errorf("list-files: %s@%s: unable to decode listing: %w", sourceID, revision, err))
	}

	var files []string
	for _, e := range entries {
		if e.Type == "file" {
			files = append(files, e.Path)
		}
	}

	slices.Sort(files)

	return files, nil
}

// FileURL returns the download url for a file in the revision.
func (c *Client) FileURL(sourceID string, revision string, path string) string {
	return fmt.Sprintf("%s/%s/resolve/%s/%s", c.endpoint, sourceID, url.PathEscape(revision), path)
}
