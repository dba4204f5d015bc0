// Package storage provides the document-store abstraction backing the
// Coordinator: TransferRequests, Bundles, Metadata, and Heartbeats, plus
// the one primitive that makes the whole system correct under concurrent
// workers — an atomic claim-one (POP) compare-and-set.
package storage

import (
	"errors"
	"time"

	"github.com/wipac/ltacoord/pkg/types"
)

// ErrNotFound is returned when a lookup by UUID finds nothing.
var ErrNotFound = errors.New("storage: not found")

// BundleFilter constrains a Bundle query or POP to a status and, optionally,
// a source/dest site and a verified flag.
type BundleFilter struct {
	Status   types.BundleStatus
	Source   string
	Dest     string
	Verified *bool
}

// RequestFilter constrains a TransferRequest query or POP.
type RequestFilter struct {
	Status types.RequestStatus
	Source string
	Dest   string
}

// Store is the sole authority over TransferRequest, Bundle, Metadata, and
// Heartbeat documents. Implementations must make Pop* atomic: the
// check-then-set on `claimed` must happen inside one exclusive transaction
// (spec.md §4.1 — never read-then-write).
type Store interface {
	CreateRequest(r *types.TransferRequest) error
	GetRequest(uuid string) (*types.TransferRequest, error)
	ListRequests(f RequestFilter) ([]*types.TransferRequest, error)
	UpdateRequest(r *types.TransferRequest) error
	DeleteRequest(uuid string) error

	// PopRequest atomically claims at most one TransferRequest matching f,
	// oldest work_priority_timestamp first, and returns nil (no error) if
	// none match.
	PopRequest(f RequestFilter, claimant string) (*types.TransferRequest, error)

	CreateBundle(b *types.Bundle) error
	CreateBundles(bs []*types.Bundle) error
	GetBundle(uuid string) (*types.Bundle, error)
	ListBundles(f BundleFilter) ([]*types.Bundle, error)
	ListBundlesByRequest(requestUUID string) ([]*types.Bundle, error)
	UpdateBundle(b *types.Bundle) error
	DeleteBundle(uuid string) error

	// PopBundle atomically claims at most one Bundle matching f.
	PopBundle(f BundleFilter, claimant string) (*types.Bundle, error)

	// ReapStaleClaims releases claims older than maxAge on both
	// TransferRequests and Bundles and returns the count released.
	ReapStaleClaims(maxAge time.Duration) (int, error)

	CreateMetadata(m []*types.Metadata) error
	ListMetadataByBundle(bundleUUID string) ([]*types.Metadata, error)
	DeleteMetadataByBundle(bundleUUID string) error

	UpsertHeartbeat(h *types.Heartbeat) error
	GetHeartbeat(componentType, componentName string) (*types.Heartbeat, error)
	ListHeartbeats(componentType string) ([]*types.Heartbeat, error)
	DeleteHeartbeatsOlderThan(age time.Duration) (int, error)

	Close() error
}
