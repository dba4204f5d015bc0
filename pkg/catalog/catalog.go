// Package catalog defines the File Catalog collaborator interface stage
// actions use to look up and update the replica records for files inside a
// bundle, plus an HTTP implementation against the File Catalog's own REST
// API (spec.md §1 lists the File Catalog as an external system this
// coordinator never implements, only calls).
package catalog

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
)

// File is the subset of a File Catalog record a stage action needs: its
// identifier, logical path, size, and checksums.
type File struct {
	UUID        string            `json:"uuid"`
	LogicalName string            `json:"logical_name"`
	Size        int64             `json:"file_size"`
	Checksum    map[string]string `json:"checksum"`
	Locations   []Location        `json:"locations,omitempty"`
}

// Location records one physical replica of a File.
type Location struct {
	Site string `json:"site"`
	Path string `json:"path"`
}

// Client queries and updates File Catalog records. Implementations must be
// safe for concurrent use by multiple stage actions.
type Client interface {
	// GetFile fetches the catalog record for uuid.
	GetFile(ctx context.Context, uuid string) (*File, error)
	// FilesForBundle lists every catalog record referenced by a bundle's
	// Metadata side-table (see pkg/types.Metadata).
	FilesForBundle(ctx context.Context, fileCatalogIDs []string) ([]*File, error)
	// FilesUnderPath lists every catalog record whose logical name falls
	// under path, the lookup Picker/Locator drive to expand a
	// TransferRequest's path into concrete files (spec.md §4.4).
	FilesUnderPath(ctx context.Context, path string) ([]*File, error)
	// AddLocation records a new physical replica for uuid.
	AddLocation(ctx context.Context, uuid string, loc Location) error
	// RemoveLocation deletes a physical replica for uuid.
	RemoveLocation(ctx context.Context, uuid string, loc Location) error
}

// HTTPClient implements Client against the File Catalog's REST API.
type HTTPClient struct {
	baseURL string
	token   string
	http    *http.Client
}

// NewHTTPClient builds an HTTPClient against baseURL, authenticating with
// a static bearer token (the File Catalog, unlike the Coordinator, uses a
// long-lived service token rather than OIDC client-credentials).
func NewHTTPClient(baseURL, token string, httpClient *http.Client) *HTTPClient {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &HTTPClient{baseURL: strings.TrimRight(baseURL, "/"), token: token, http: httpClient}
}

func (c *HTTPClient) do(ctx context.Context, method, path string, body, out interface{}) error {
	var bodyReader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("catalog: encode request body: %w", err)
		}
		bodyReader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return fmt.Errorf("catalog: build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("catalog: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("catalog: %s %s: status %d", method, path, resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// GetFile implements Client.
func (c *HTTPClient) GetFile(ctx context.Context, uuid string) (*File, error) {
	var f File
	if err := c.do(ctx, http.MethodGet, "/api/files/"+url.PathEscape(uuid), nil, &f); err != nil {
		return nil, err
	}
	return &f, nil
}

// FilesForBundle implements Client, fetching each record in sequence. The
// File Catalog's own API has no bulk-get endpoint (spec.md §1 treats it as
// an opaque external system), so this fans the requests out serially.
func (c *HTTPClient) FilesForBundle(ctx context.Context, fileCatalogIDs []string) ([]*File, error) {
	files := make([]*File, 0, len(fileCatalogIDs))
	for _, id := range fileCatalogIDs {
		f, err := c.GetFile(ctx, id)
		if err != nil {
			return nil, err
		}
		files = append(files, f)
	}
	return files, nil
}

// FilesUnderPath implements Client, querying the File Catalog's logical-name
// prefix search.
func (c *HTTPClient) FilesUnderPath(ctx context.Context, path string) ([]*File, error) {
	var files []*File
	q := "?path=" + url.QueryEscape(path)
	if err := c.do(ctx, http.MethodGet, "/api/files"+q, nil, &files); err != nil {
		return nil, err
	}
	return files, nil
}

// AddLocation implements Client.
func (c *HTTPClient) AddLocation(ctx context.Context, uuid string, loc Location) error {
	return c.do(ctx, http.MethodPost, "/api/files/"+url.PathEscape(uuid)+"/locations", loc, nil)
}

// RemoveLocation implements Client.
func (c *HTTPClient) RemoveLocation(ctx context.Context, uuid string, loc Location) error {
	return c.do(ctx, http.MethodDelete, "/api/files/"+url.PathEscape(uuid)+"/locations?site="+url.QueryEscape(loc.Site)+"&path="+url.QueryEscape(loc.Path), nil, nil)
}
