// Package types defines the document model shared by the Coordinator,
// the worker harness, and the stage actions: TransferRequest, Bundle,
// Metadata, and Heartbeat, plus the status enums that drive the pipeline
// state machine.
package types

import "time"

// RequestStatus is the lifecycle state of a TransferRequest.
type RequestStatus string

const (
	RequestStatusUnclaimed   RequestStatus = "unclaimed"
	RequestStatusProcessing  RequestStatus = "processing"
	RequestStatusFinished    RequestStatus = "finished"
	RequestStatusQuarantined RequestStatus = "quarantined"
)

// BundleStatus is the lifecycle state of a Bundle. Values form the
// pipeline graph described in spec.md §4.4.
type BundleStatus string

const (
	BundleStatusSpecified     BundleStatus = "specified"
	BundleStatusCreated       BundleStatus = "created"
	BundleStatusStaged        BundleStatus = "staged"
	BundleStatusTransferring  BundleStatus = "transferring"
	BundleStatusTaping        BundleStatus = "taping"
	BundleStatusVerifying     BundleStatus = "verifying"
	BundleStatusUnpacking     BundleStatus = "unpacking"
	BundleStatusCompleted     BundleStatus = "completed"
	BundleStatusSourceDeleted BundleStatus = "source-deleted"
	BundleStatusDeleted       BundleStatus = "deleted"
	BundleStatusFinished      BundleStatus = "finished"
	BundleStatusLocated       BundleStatus = "located"
	BundleStatusEthereal      BundleStatus = "ethereal"
	BundleStatusQuarantined   BundleStatus = "quarantined"
)

// ChecksumSet holds the checksums recorded for a bundle's archive. Keys are
// algorithm names; spec.md §3 requires at least "sha512" and "adler32".
// Once a key is set on a stored bundle, the Coordinator rejects any PATCH
// that attempts to change it (see pkg/coordinator's immutability check).
type ChecksumSet map[string]string

// TransferRequest is a user-submitted unit of archival or retrieval work
// that expands into one or more Bundles. See spec.md §3.
type TransferRequest struct {
	UUID   string        `json:"uuid"`
	Source string        `json:"source"`
	Dest   string        `json:"dest"`
	Path   string        `json:"path"`
	Status RequestStatus `json:"status"`

	Claimed        bool       `json:"claimed"`
	Claimant       string     `json:"claimant,omitempty"`
	ClaimTimestamp *time.Time `json:"claim_timestamp,omitempty"`

	OriginalStatus RequestStatus `json:"original_status,omitempty"`
	Reason         string        `json:"reason,omitempty"`

	WorkPriorityTimestamp time.Time `json:"work_priority_timestamp"`
	CreateTimestamp       time.Time `json:"create_timestamp"`
	UpdateTimestamp       time.Time `json:"update_timestamp"`
}

// IsClaimed reports whether the request currently holds a live claim,
// consistent across its three claim fields (spec.md §3 invariant).
func (r *TransferRequest) IsClaimed() bool {
	return r.Claimed && r.Claimant != "" && r.ClaimTimestamp != nil
}

// Bundle is a group of source files assembled into one archive for
// transfer or storage. See spec.md §3.
type Bundle struct {
	UUID    string `json:"uuid"`
	Request string `json:"request"`

	Source     string `json:"source"`
	Dest       string `json:"dest"`
	Path       string `json:"path"`
	BundlePath string `json:"bundle_path,omitempty"`

	// Files is deprecated: writers must use the Metadata side-table
	// instead (spec.md §9 open question). Kept only for wire
	// compatibility with old readers; the Coordinator never populates it.
	Files []string `json:"files,omitempty"`

	Size     int64       `json:"size,omitempty"`
	Checksum ChecksumSet `json:"checksum,omitempty"`

	Status   BundleStatus `json:"status"`
	Reason   string       `json:"reason,omitempty"`
	Verified bool         `json:"verified"`

	Claimed        bool       `json:"claimed"`
	Claimant       string     `json:"claimant,omitempty"`
	ClaimTimestamp *time.Time `json:"claim_timestamp,omitempty"`

	OriginalStatus BundleStatus `json:"original_status,omitempty"`

	WorkPriorityTimestamp time.Time `json:"work_priority_timestamp"`
	CreateTimestamp       time.Time `json:"create_timestamp"`
	UpdateTimestamp       time.Time `json:"update_timestamp"`
}

// IsClaimed reports whether the bundle currently holds a live claim.
func (b *Bundle) IsClaimed() bool {
	return b.Claimed && b.Claimant != "" && b.ClaimTimestamp != nil
}

// IsQuarantined reports whether the bundle is sitting in the quarantine sink.
func (b *Bundle) IsQuarantined() bool {
	return b.Status == BundleStatusQuarantined
}

// Metadata associates a single File-Catalog file identifier with the
// bundle it belongs to. See spec.md §3; this is the side-table the spec
// mandates in place of Bundle.Files.
type Metadata struct {
	UUID          string `json:"uuid"`
	Bundle        string `json:"bundle_uuid"`
	FileCatalogID string `json:"file_catalog_id"`
}

// Heartbeat is the liveness record a worker component upserts on a
// configurable interval. Keyed by (ComponentType, ComponentName).
type Heartbeat struct {
	ComponentType string                 `json:"component_type"`
	ComponentName string                 `json:"component_name"`
	Timestamp     time.Time              `json:"timestamp"`
	Status        map[string]interface{} `json:"status,omitempty"`
}

// Key returns the heartbeat's composite identity as used by the store.
func (h *Heartbeat) Key() string {
	return h.ComponentType + "/" + h.ComponentName
}
