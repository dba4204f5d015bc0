package stageaction

import (
	"context"
	"path/filepath"

	"github.com/wipac/ltacoord/pkg/checksum"
	"github.com/wipac/ltacoord/pkg/client"
	"github.com/wipac/ltacoord/pkg/mover"
	"github.com/wipac/ltacoord/pkg/types"
)

// Replicator copies a staged archive to its destination site over GridFTP
// or WebDAV, then confirms the transfer actually completed rather than
// trusting the mover's return code alone (spec.md §4.4 Replicator: "Spurious
// non-zero return codes from the mover must be checked against actual
// completion").
type Replicator struct {
	Transfer mover.Transferrer
	// RemotePathPrefix roots the destination path the archive is copied to.
	RemotePathPrefix string
}

// Name implements Action.
func (r *Replicator) Name() string { return "replicator" }

// InputStatus implements Action.
func (r *Replicator) InputStatus() types.BundleStatus { return types.BundleStatusStaged }

// OutputStatus implements Action.
func (r *Replicator) OutputStatus() types.BundleStatus { return types.BundleStatusTransferring }

// Run implements Action.
func (r *Replicator) Run(ctx context.Context, bundle *types.Bundle) (*client.PopBundlePatch, error) {
	if bundle.BundlePath == "" {
		return nil, fail(r.Name(), "bundle has no staged archive to transfer", nil)
	}

	remotePath := filepath.Join(r.RemotePathPrefix, bundle.Dest, filepath.Base(bundle.BundlePath))
	if transferErr := r.Transfer.Transfer(ctx, bundle.BundlePath, remotePath); transferErr != nil {
		// The mover can report a spurious non-zero return code after the
		// file actually landed (spec.md §4.4/§7): before quarantining,
		// check whether the destination already matches the archive's
		// checksum rather than trusting the error alone.
		ok, verifyErr := checksum.Verify(remotePath, bundle.Checksum)
		if verifyErr != nil || !ok {
			return nil, fail(r.Name(), "transfer to destination failed", transferErr)
		}
	}

	status := r.OutputStatus()
	released := false
	return &client.PopBundlePatch{
		Status:     &status,
		BundlePath: &remotePath,
		Claimed:    &released,
		ClearClaim: true,
	}, nil
}
