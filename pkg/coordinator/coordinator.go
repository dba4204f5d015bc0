// Package coordinator is the sole authority over TransferRequest, Bundle,
// Metadata, and Heartbeat state (spec.md §4.1). It wraps a pkg/storage.Store
// with the CRUD, claim, quarantine, and reaper logic that the REST transport
// in pkg/api exposes verbatim as routes.
package coordinator

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/wipac/ltacoord/pkg/log"
	"github.com/wipac/ltacoord/pkg/metrics"
	"github.com/wipac/ltacoord/pkg/storage"
	"github.com/wipac/ltacoord/pkg/types"
)

// Config holds the settings that govern claim liveness.
type Config struct {
	// MaxClaimAge is the window after which an unrefreshed claim is
	// considered stale and eligible for reaping (spec.md §4.2). Default 12h.
	MaxClaimAge time.Duration
}

// DefaultConfig returns the spec.md §4.2 default claim age.
func DefaultConfig() Config {
	return Config{MaxClaimAge: 12 * time.Hour}
}

// Coordinator is the single authoritative process over one document store.
// Unlike a replicated cluster manager, it needs no consensus layer: spec.md
// §4.1 requires only single-document atomic compare-and-set, which the
// underlying store already guarantees.
type Coordinator struct {
	store storage.Store
	cfg   Config
}

// New creates a Coordinator over an already-opened store.
func New(store storage.Store, cfg Config) *Coordinator {
	return &Coordinator{store: store, cfg: cfg}
}

// --- TransferRequest operations ---

// CreateRequest assigns a uuid and timestamps, and defaults status to
// "unclaimed" per spec.md §4.1 ("any stage may claim" convention).
func (c *Coordinator) CreateRequest(r *types.TransferRequest) error {
	now := time.Now().UTC()
	r.UUID = uuid.NewString()
	r.CreateTimestamp = now
	r.UpdateTimestamp = now
	if r.WorkPriorityTimestamp.IsZero() {
		r.WorkPriorityTimestamp = now
	}
	if r.Status == "" {
		r.Status = types.RequestStatusUnclaimed
	}
	if err := c.store.CreateRequest(r); err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	log.WithRequestID(r.UUID).Info().Str("source", r.Source).Str("dest", r.Dest).Msg("request created")
	return nil
}

func (c *Coordinator) GetRequest(requestUUID string) (*types.TransferRequest, error) {
	r, err := c.store.GetRequest(requestUUID)
	if err == storage.ErrNotFound {
		return nil, ErrNotFound
	}
	return r, err
}

func (c *Coordinator) ListRequests(f storage.RequestFilter) ([]*types.TransferRequest, error) {
	return c.store.ListRequests(f)
}

// PatchRequest applies a partial update to an existing request, enforcing
// claimant fencing when the caller asserts it holds the claim.
func (c *Coordinator) PatchRequest(requestUUID string, patch *RequestPatch, claimant string) (*types.TransferRequest, error) {
	r, err := c.store.GetRequest(requestUUID)
	if err == storage.ErrNotFound {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	if r.IsClaimed() && claimant != "" && r.Claimant != claimant {
		return nil, ErrConflict
	}

	patch.apply(r)
	r.UpdateTimestamp = time.Now().UTC()

	if err := c.store.UpdateRequest(r); err != nil {
		return nil, fmt.Errorf("update request: %w", err)
	}
	return r, nil
}

func (c *Coordinator) DeleteRequest(requestUUID string) error {
	if err := c.store.DeleteRequest(requestUUID); err == storage.ErrNotFound {
		return ErrNotFound
	} else if err != nil {
		return err
	}
	return nil
}

// PopRequest atomically claims the oldest unclaimed request matching f.
func (c *Coordinator) PopRequest(f storage.RequestFilter, claimant string) (*types.TransferRequest, error) {
	timer := metrics.NewTimer()
	defer timer.ObserveDurationVec(metrics.PopDuration, "TransferRequests")

	r, err := c.store.PopRequest(f, claimant)
	if err != nil {
		metrics.PopAttemptsTotal.WithLabelValues("TransferRequests", "error").Inc()
		return nil, fmt.Errorf("pop request: %w", err)
	}
	if r == nil {
		metrics.PopAttemptsTotal.WithLabelValues("TransferRequests", "empty").Inc()
		return nil, nil
	}
	metrics.PopAttemptsTotal.WithLabelValues("TransferRequests", "claimed").Inc()
	log.WithRequestID(r.UUID).Info().Str("claimant", claimant).Msg("request claimed")
	return r, nil
}

// --- Bundle operations ---

func (c *Coordinator) CreateBundle(b *types.Bundle) error {
	now := time.Now().UTC()
	b.UUID = uuid.NewString()
	b.CreateTimestamp = now
	b.UpdateTimestamp = now
	if b.WorkPriorityTimestamp.IsZero() {
		b.WorkPriorityTimestamp = now
	}
	if err := c.store.CreateBundle(b); err != nil {
		return fmt.Errorf("create bundle: %w", err)
	}
	return nil
}

// CreateBundles atomically inserts many bundles from a single Picker/Locator
// run (spec.md §4.1 "Create-bulk").
func (c *Coordinator) CreateBundles(bundles []*types.Bundle) error {
	now := time.Now().UTC()
	for _, b := range bundles {
		b.UUID = uuid.NewString()
		b.CreateTimestamp = now
		b.UpdateTimestamp = now
		if b.WorkPriorityTimestamp.IsZero() {
			b.WorkPriorityTimestamp = now
		}
	}
	if err := c.store.CreateBundles(bundles); err != nil {
		return fmt.Errorf("create bundles: %w", err)
	}
	return nil
}

func (c *Coordinator) GetBundle(bundleUUID string) (*types.Bundle, error) {
	b, err := c.store.GetBundle(bundleUUID)
	if err == storage.ErrNotFound {
		return nil, ErrNotFound
	}
	return b, err
}

func (c *Coordinator) ListBundles(f storage.BundleFilter) ([]*types.Bundle, error) {
	return c.store.ListBundles(f)
}

func (c *Coordinator) ListBundlesByRequest(requestUUID string) ([]*types.Bundle, error) {
	return c.store.ListBundlesByRequest(requestUUID)
}

// PatchBundle applies a partial update, enforcing claimant fencing
// (spec.md §4.1 Failure semantics) and checksum immutability (spec.md §3).
func (c *Coordinator) PatchBundle(bundleUUID string, patch *BundlePatch, claimant string) (*types.Bundle, error) {
	b, err := c.store.GetBundle(bundleUUID)
	if err == storage.ErrNotFound {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	if b.IsClaimed() && claimant != "" && b.Claimant != claimant {
		return nil, ErrConflict
	}

	if err := patch.validate(b); err != nil {
		return nil, err
	}
	patch.apply(b)
	b.UpdateTimestamp = time.Now().UTC()

	if err := c.store.UpdateBundle(b); err != nil {
		return nil, fmt.Errorf("update bundle: %w", err)
	}
	return b, nil
}

func (c *Coordinator) DeleteBundle(bundleUUID string) error {
	if err := c.store.DeleteBundle(bundleUUID); err == storage.ErrNotFound {
		return ErrNotFound
	} else if err != nil {
		return err
	}
	if err := c.store.DeleteMetadataByBundle(bundleUUID); err != nil {
		return fmt.Errorf("delete metadata for bundle: %w", err)
	}
	return nil
}

// PopBundle atomically claims the oldest unclaimed bundle matching f.
func (c *Coordinator) PopBundle(f storage.BundleFilter, claimant string) (*types.Bundle, error) {
	timer := metrics.NewTimer()
	defer timer.ObserveDurationVec(metrics.PopDuration, "Bundles")

	b, err := c.store.PopBundle(f, claimant)
	if err != nil {
		metrics.PopAttemptsTotal.WithLabelValues("Bundles", "error").Inc()
		return nil, fmt.Errorf("pop bundle: %w", err)
	}
	if b == nil {
		metrics.PopAttemptsTotal.WithLabelValues("Bundles", "empty").Inc()
		return nil, nil
	}
	metrics.PopAttemptsTotal.WithLabelValues("Bundles", "claimed").Inc()
	log.WithBundleID(b.UUID).Info().Str("claimant", claimant).Str("status", string(b.Status)).Msg("bundle claimed")
	return b, nil
}

// QuarantineBundle sets status="quarantined", preserves the prior status,
// records reason, and releases the claim (spec.md §4.1 Quarantine).
func (c *Coordinator) QuarantineBundle(bundleUUID, reason, claimant string) (*types.Bundle, error) {
	b, err := c.store.GetBundle(bundleUUID)
	if err == storage.ErrNotFound {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if b.IsClaimed() && claimant != "" && b.Claimant != claimant {
		return nil, ErrConflict
	}
	if b.IsQuarantined() {
		return nil, validationError("bundle already quarantined")
	}

	b.OriginalStatus = b.Status
	b.Status = types.BundleStatusQuarantined
	b.Reason = reason
	b.Claimed = false
	b.Claimant = ""
	b.ClaimTimestamp = nil
	b.UpdateTimestamp = time.Now().UTC()

	if err := c.store.UpdateBundle(b); err != nil {
		return nil, fmt.Errorf("quarantine bundle: %w", err)
	}
	log.WithBundleID(b.UUID).Warn().Str("reason", reason).Msg("bundle quarantined")
	return b, nil
}

// UnquarantineBundle restores status from original_status and clears the
// quarantine fields (spec.md §4.1 Un-quarantine).
func (c *Coordinator) UnquarantineBundle(bundleUUID string) (*types.Bundle, error) {
	b, err := c.store.GetBundle(bundleUUID)
	if err == storage.ErrNotFound {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if !b.IsQuarantined() {
		return nil, validationError("bundle is not quarantined")
	}

	b.Status = b.OriginalStatus
	b.OriginalStatus = ""
	b.Reason = ""
	b.UpdateTimestamp = time.Now().UTC()

	if err := c.store.UpdateBundle(b); err != nil {
		return nil, fmt.Errorf("unquarantine bundle: %w", err)
	}
	log.WithBundleID(b.UUID).Info().Str("status", string(b.Status)).Msg("bundle unquarantined")
	return b, nil
}

// QuarantineRequest is the TransferRequest analogue of QuarantineBundle.
func (c *Coordinator) QuarantineRequest(requestUUID, reason, claimant string) (*types.TransferRequest, error) {
	r, err := c.store.GetRequest(requestUUID)
	if err == storage.ErrNotFound {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if r.IsClaimed() && claimant != "" && r.Claimant != claimant {
		return nil, ErrConflict
	}

	r.OriginalStatus = r.Status
	r.Status = types.RequestStatusQuarantined
	r.Reason = reason
	r.Claimed = false
	r.Claimant = ""
	r.ClaimTimestamp = nil
	r.UpdateTimestamp = time.Now().UTC()

	if err := c.store.UpdateRequest(r); err != nil {
		return nil, fmt.Errorf("quarantine request: %w", err)
	}
	return r, nil
}

// UnquarantineRequest is the TransferRequest analogue of UnquarantineBundle.
func (c *Coordinator) UnquarantineRequest(requestUUID string) (*types.TransferRequest, error) {
	r, err := c.store.GetRequest(requestUUID)
	if err == storage.ErrNotFound {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if r.Status != types.RequestStatusQuarantined {
		return nil, validationError("request is not quarantined")
	}

	r.Status = r.OriginalStatus
	r.OriginalStatus = ""
	r.Reason = ""
	r.UpdateTimestamp = time.Now().UTC()

	if err := c.store.UpdateRequest(r); err != nil {
		return nil, fmt.Errorf("unquarantine request: %w", err)
	}
	return r, nil
}

// --- Metadata operations ---

func (c *Coordinator) CreateMetadata(records []*types.Metadata) error {
	for _, m := range records {
		if m.UUID == "" {
			m.UUID = uuid.NewString()
		}
	}
	return c.store.CreateMetadata(records)
}

func (c *Coordinator) ListMetadataByBundle(bundleUUID string) ([]*types.Metadata, error) {
	return c.store.ListMetadataByBundle(bundleUUID)
}

func (c *Coordinator) DeleteMetadataByBundle(bundleUUID string) error {
	return c.store.DeleteMetadataByBundle(bundleUUID)
}

// --- Heartbeat operations ---

// Heartbeat upserts a component's liveness record (spec.md §4.1 Heartbeat).
func (c *Coordinator) Heartbeat(h *types.Heartbeat) error {
	h.Timestamp = time.Now().UTC()
	if err := c.store.UpsertHeartbeat(h); err != nil {
		return fmt.Errorf("upsert heartbeat: %w", err)
	}
	return nil
}

func (c *Coordinator) ListHeartbeats(componentType string) ([]*types.Heartbeat, error) {
	return c.store.ListHeartbeats(componentType)
}

// CullHeartbeats deletes heartbeat records older than age, for admin tooling
// (spec.md §3 Heartbeat record Lifecycle).
func (c *Coordinator) CullHeartbeats(age time.Duration) (int, error) {
	return c.store.DeleteHeartbeatsOlderThan(age)
}

// --- Reaper ---

// ReapStaleClaims releases claims older than MaxClaimAge on both
// TransferRequests and Bundles (spec.md §4.1 Stale claim reaper).
func (c *Coordinator) ReapStaleClaims() (int, error) {
	n, err := c.store.ReapStaleClaims(c.cfg.MaxClaimAge)
	metrics.ReaperCyclesTotal.Inc()
	if n > 0 {
		metrics.StaleClaimsReapedTotal.WithLabelValues("all").Add(float64(n))
		log.Logger.Info().Int("released", n).Msg("reaper released stale claims")
	}
	return n, err
}

// RunReaper runs ReapStaleClaims on a fixed interval until stop is closed.
func (c *Coordinator) RunReaper(interval time.Duration, stop <-chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if _, err := c.ReapStaleClaims(); err != nil {
				log.Logger.Error().Err(err).Msg("reaper cycle failed")
			}
		case <-stop:
			return
		}
	}
}

// --- Status aggregation ---

// StatusSummary is a dashboard-facing count of bundles by status for one
// component type (spec.md §4.1 Status summaries).
type StatusSummary struct {
	ComponentType string         `json:"component_type"`
	Counts        map[string]int `json:"counts"`
}

// BundleStatusCounts returns bundle counts grouped by status, optionally
// restricted to a source/dest pair.
func (c *Coordinator) BundleStatusCounts(source, dest string) (map[string]int, error) {
	bundles, err := c.store.ListBundles(storage.BundleFilter{Source: source, Dest: dest})
	if err != nil {
		return nil, err
	}
	counts := make(map[string]int)
	for _, b := range bundles {
		counts[string(b.Status)]++
	}
	return counts, nil
}

func (c *Coordinator) Close() error {
	return c.store.Close()
}
