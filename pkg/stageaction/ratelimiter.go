package stageaction

import (
	"context"
	"errors"
	"os"
	"path/filepath"

	"github.com/wipac/ltacoord/pkg/client"
	"github.com/wipac/ltacoord/pkg/mover"
	"github.com/wipac/ltacoord/pkg/types"
)

// ErrSkip signals that an action made no error but has no decision to
// record: the harness should release the claim without advancing status
// or quarantining the bundle. Rate-limiter returns it when its quota is
// exceeded (spec.md §4.4: "if quota exceeded, unclaim without advancing"),
// RequestFinisher while sibling bundles are not yet terminal, and
// NERSCMover/NERSCRetriever while tape is unavailable.
var ErrSkip = errors.New("stageaction: skip, unclaim without advancing")

// RateLimiter moves a bundled archive into a per-destination staging
// directory, subject to a disk-space quota. When the quota is exceeded it
// returns ErrSkip so the harness releases the claim and tries again later,
// rather than quarantining a bundle that did nothing wrong.
type RateLimiter struct {
	// StagingPath roots the per-destination staging directories.
	StagingPath string
	// QuotaBytes is the minimum free space RATE_LIMITER_MIN_FREE_BYTES
	// that must remain available after the move.
	QuotaBytes int64
}

// Name implements Action.
func (rl *RateLimiter) Name() string { return "rate-limiter" }

// InputStatus implements Action.
func (rl *RateLimiter) InputStatus() types.BundleStatus { return types.BundleStatusCreated }

// OutputStatus implements Action.
func (rl *RateLimiter) OutputStatus() types.BundleStatus { return types.BundleStatusStaged }

// Run implements Action.
func (rl *RateLimiter) Run(ctx context.Context, bundle *types.Bundle) (*client.PopBundlePatch, error) {
	if bundle.BundlePath == "" {
		return nil, fail(rl.Name(), "bundle has no archive to stage", nil)
	}

	dest := filepath.Join(rl.StagingPath, bundle.Dest)
	free, err := mover.FreeBytes(dest)
	if err == nil && free-bundle.Size < rl.QuotaBytes {
		return nil, ErrSkip
	}

	stagedPath := filepath.Join(dest, filepath.Base(bundle.BundlePath))
	if err := os.MkdirAll(dest, 0o755); err != nil {
		return nil, fail(rl.Name(), "could not create staging directory", err)
	}
	if err := os.Link(bundle.BundlePath, stagedPath); err != nil {
		if !errors.Is(err, os.ErrExist) {
			return nil, fail(rl.Name(), "could not link archive into staging", err)
		}
	}

	status := rl.OutputStatus()
	released := false
	return &client.PopBundlePatch{
		Status:     &status,
		BundlePath: &stagedPath,
		Claimed:    &released,
		ClearClaim: true,
	}, nil
}
