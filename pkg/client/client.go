// Package client is a thin REST client over the Coordinator's API, used by
// the worker harness and the ltacmd admin tool. It wraps plain net/http and
// encoding/json rather than a generated SDK, matching spec.md §6's REST
// surface directly.
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

	"github.com/wipac/ltacoord/pkg/types"
)

// TokenSource supplies a bearer token for outgoing requests.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// Client calls the Coordinator's REST API.
type Client struct {
	baseURL string
	http    *http.Client
	tokens  TokenSource
}

// New builds a Client against baseURL, authenticating every request with
// tokens. baseURL should not have a trailing slash.
func New(baseURL string, tokens TokenSource, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{baseURL: strings.TrimRight(baseURL, "/"), http: httpClient, tokens: tokens}
}

// APIError is returned when the Coordinator responds with a non-2xx status.
type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("coordinator: status %d: %s", e.Status, e.Body)
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, claimant string, body, out interface{}) error {
	var reqBody io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("client: encode request body: %w", err)
		}
		reqBody = bytes.NewReader(buf)
	}

	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, method, u, reqBody)
	if err != nil {
		return fmt.Errorf("client: build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if claimant != "" {
		req.Header.Set("X-LTA-Claimant", claimant)
	}

	if c.tokens != nil {
		token, err := c.tokens.Token(ctx)
		if err != nil {
			return fmt.Errorf("client: acquire token: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("client: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		buf, _ := io.ReadAll(resp.Body)
		return &APIError{Status: resp.StatusCode, Body: string(buf)}
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// PopBundlePatch is the partial update applied to a Bundle via PATCH.
// Mirrors pkg/coordinator.BundlePatch's wire shape without importing the
// Coordinator package into worker binaries.
type PopBundlePatch struct {
	Status     *types.BundleStatus `json:"status,omitempty"`
	BundlePath *string             `json:"bundle_path,omitempty"`
	Size       *int64              `json:"size,omitempty"`
	Checksum   types.ChecksumSet   `json:"checksum,omitempty"`
	Verified   *bool               `json:"verified,omitempty"`
	Claimed    *bool               `json:"claimed,omitempty"`
	Claimant   *string             `json:"claimant,omitempty"`
	ClearClaim bool                `json:"clear_claim,omitempty"`
}

// PopBundle claims the next unclaimed Bundle matching source/dest/status,
// or returns nil with no error if no work is available.
func (c *Client) PopBundle(ctx context.Context, source, dest, status, claimant string) (*types.Bundle, error) {
	q := url.Values{"source": {source}, "dest": {dest}, "status": {status}}
	var b types.Bundle
	err := c.do(ctx, http.MethodPost, "/Bundles/actions/pop", q, claimant, nil, &b)
	if err != nil {
		return nil, err
	}
	if b.UUID == "" {
		return nil, nil
	}
	return &b, nil
}

// PatchBundle applies patch to the bundle identified by uuid, fenced by
// claimant (spec.md §4.1 claimant fencing).
func (c *Client) PatchBundle(ctx context.Context, uuid string, patch *PopBundlePatch, claimant string) (*types.Bundle, error) {
	var b types.Bundle
	if err := c.do(ctx, http.MethodPatch, "/Bundles/"+uuid, nil, claimant, patch, &b); err != nil {
		return nil, err
	}
	return &b, nil
}

// QuarantineBundle moves a bundle to the quarantine sink with reason.
func (c *Client) QuarantineBundle(ctx context.Context, uuid, reason, claimant string) (*types.Bundle, error) {
	body := struct {
		Reason string `json:"reason"`
	}{Reason: reason}
	var b types.Bundle
	if err := c.do(ctx, http.MethodPost, "/Bundles/"+uuid+"/actions/quarantine", nil, claimant, body, &b); err != nil {
		return nil, err
	}
	return &b, nil
}

// GetBundle fetches a single bundle by uuid.
func (c *Client) GetBundle(ctx context.Context, uuid string) (*types.Bundle, error) {
	var b types.Bundle
	if err := c.do(ctx, http.MethodGet, "/Bundles/"+uuid, nil, "", nil, &b); err != nil {
		return nil, err
	}
	return &b, nil
}

// ListMetadataByBundle returns every Metadata record attached to bundleUUID.
func (c *Client) ListMetadataByBundle(ctx context.Context, bundleUUID string) ([]*types.Metadata, error) {
	q := url.Values{"bundle_uuid": {bundleUUID}}
	var records []*types.Metadata
	if err := c.do(ctx, http.MethodGet, "/Metadata", q, "", nil, &records); err != nil {
		return nil, err
	}
	return records, nil
}

// Heartbeat upserts a liveness record for a running worker component.
func (c *Client) Heartbeat(ctx context.Context, componentType, componentName string, status map[string]interface{}) error {
	body := struct {
		ComponentName string                 `json:"component_name"`
		Status        map[string]interface{} `json:"status"`
	}{ComponentName: componentName, Status: status}
	return c.do(ctx, http.MethodPatch, "/status/"+componentType, nil, "", body, nil)
}

// CreateRequest submits a new TransferRequest.
func (c *Client) CreateRequest(ctx context.Context, req *types.TransferRequest) (*types.TransferRequest, error) {
	var out types.TransferRequest
	if err := c.do(ctx, http.MethodPost, "/TransferRequests", nil, "", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetRequest fetches a single TransferRequest by uuid.
func (c *Client) GetRequest(ctx context.Context, uuid string) (*types.TransferRequest, error) {
	var out types.TransferRequest
	if err := c.do(ctx, http.MethodGet, "/TransferRequests/"+uuid, nil, "", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ListBundlesByRequest returns every Bundle a TransferRequest expanded into,
// used by the Transfer-Request-Finisher stage action to check that all
// siblings of a bundle have reached a terminal status.
func (c *Client) ListBundlesByRequest(ctx context.Context, requestUUID string) ([]*types.Bundle, error) {
	var bundles []*types.Bundle
	if err := c.do(ctx, http.MethodGet, "/TransferRequests/"+requestUUID+"/Bundles", nil, "", nil, &bundles); err != nil {
		return nil, err
	}
	return bundles, nil
}

// FinishRequest marks a TransferRequest finished once every bundle it
// expanded into has reached a terminal status.
func (c *Client) FinishRequest(ctx context.Context, requestUUID string) error {
	status := types.RequestStatusFinished
	patch := struct {
		Status *types.RequestStatus `json:"status,omitempty"`
	}{Status: &status}
	return c.do(ctx, http.MethodPatch, "/TransferRequests/"+requestUUID, nil, "", patch, nil)
}

// RequestPatch is the partial update applied to a TransferRequest via
// PATCH. Mirrors pkg/coordinator.RequestPatch's wire shape.
type RequestPatch struct {
	Status     *types.RequestStatus `json:"status,omitempty"`
	Claimed    *bool                `json:"claimed,omitempty"`
	Claimant   *string              `json:"claimant,omitempty"`
	ClearClaim bool                 `json:"clear_claim,omitempty"`
}

// PopRequest claims the next unclaimed TransferRequest matching
// source/dest/status, used by the Picker/Locator stage workers to find
// work, or returns nil with no error if none is available.
func (c *Client) PopRequest(ctx context.Context, source, dest, status, claimant string) (*types.TransferRequest, error) {
	q := url.Values{"source": {source}, "dest": {dest}, "status": {status}}
	var req types.TransferRequest
	if err := c.do(ctx, http.MethodPost, "/TransferRequests/actions/pop", q, claimant, nil, &req); err != nil {
		return nil, err
	}
	if req.UUID == "" {
		return nil, nil
	}
	return &req, nil
}

// PatchRequest applies patch to the TransferRequest identified by uuid,
// fenced by claimant.
func (c *Client) PatchRequest(ctx context.Context, uuid string, patch *RequestPatch, claimant string) (*types.TransferRequest, error) {
	var req types.TransferRequest
	if err := c.do(ctx, http.MethodPatch, "/TransferRequests/"+uuid, nil, claimant, patch, &req); err != nil {
		return nil, err
	}
	return &req, nil
}

// QuarantineRequest moves a TransferRequest to the quarantine sink with
// reason, used when a Picker/Locator run cannot expand it.
func (c *Client) QuarantineRequest(ctx context.Context, uuid, reason, claimant string) (*types.TransferRequest, error) {
	body := struct {
		Reason string `json:"reason"`
	}{Reason: reason}
	var req types.TransferRequest
	if err := c.do(ctx, http.MethodPost, "/TransferRequests/"+uuid+"/actions/quarantine", nil, claimant, body, &req); err != nil {
		return nil, err
	}
	return &req, nil
}

// CreateBundles bulk-inserts bundles produced by a single Picker/Locator
// run and returns them with the UUIDs and timestamps the Coordinator
// assigned, in the same order (spec.md §4.1 "Create-bulk").
func (c *Client) CreateBundles(ctx context.Context, bundles []*types.Bundle) ([]*types.Bundle, error) {
	var created []*types.Bundle
	if err := c.do(ctx, http.MethodPost, "/Bundles/actions/bulk_create", nil, "", bundles, &created); err != nil {
		return nil, err
	}
	return created, nil
}

// CreateMetadata bulk-inserts the Metadata side-table records attaching
// File Catalog identifiers to the bundles CreateBundles just created.
func (c *Client) CreateMetadata(ctx context.Context, records []*types.Metadata) error {
	return c.do(ctx, http.MethodPost, "/Metadata/actions/bulk_create", nil, "", records, nil)
}

// BundleStatusCounts reports per-status bundle counts, optionally scoped to
// source/dest, for the ltacmd status command.
func (c *Client) BundleStatusCounts(ctx context.Context, source, dest string) (map[string]int, error) {
	q := url.Values{}
	if source != "" {
		q.Set("source", source)
	}
	if dest != "" {
		q.Set("dest", dest)
	}
	var counts map[string]int
	if err := c.do(ctx, http.MethodGet, "/status", q, "", nil, &counts); err != nil {
		return nil, err
	}
	return counts, nil
}
