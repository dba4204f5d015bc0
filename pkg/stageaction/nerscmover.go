package stageaction

import (
	"context"
	"path/filepath"

	"github.com/wipac/ltacoord/pkg/client"
	"github.com/wipac/ltacoord/pkg/mover"
	"github.com/wipac/ltacoord/pkg/types"
)

// NERSCMover stages a received archive onto tape via HPSS, preflighting
// with the hpss_avail check: when tape is unavailable it returns ErrSkip,
// so the harness releases the claim without quarantining the bundle
// (spec.md §4.4 NERSC-Mover).
type NERSCMover struct {
	HPSS *mover.HPSSMover
	// TapePathPrefix roots the HPSS path an archive is put under.
	TapePathPrefix string
}

// Name implements Action.
func (m *NERSCMover) Name() string { return "nersc-mover" }

// InputStatus implements Action.
func (m *NERSCMover) InputStatus() types.BundleStatus { return types.BundleStatusTaping }

// OutputStatus implements Action.
func (m *NERSCMover) OutputStatus() types.BundleStatus { return types.BundleStatusVerifying }

// Run implements Action.
func (m *NERSCMover) Run(ctx context.Context, bundle *types.Bundle) (*client.PopBundlePatch, error) {
	if err := m.HPSS.CheckAvailable(); err != nil {
		return nil, ErrSkip
	}
	if bundle.BundlePath == "" {
		return nil, fail(m.Name(), "bundle has no archive to put on tape", nil)
	}

	hpssPath := filepath.Join(m.TapePathPrefix, bundle.Dest, filepath.Base(bundle.BundlePath))
	if err := m.HPSS.Put(ctx, bundle.BundlePath, hpssPath); err != nil {
		return nil, fail(m.Name(), "hpss put failed", err)
	}

	status := m.OutputStatus()
	released := false
	return &client.PopBundlePatch{
		Status:     &status,
		BundlePath: &hpssPath,
		Claimed:    &released,
		ClearClaim: true,
	}, nil
}

// NERSCRetriever pulls an archive back off tape for a retrieval request,
// with the same hpss_avail preflight as NERSCMover (spec.md §4.4
// NERSC-Retriever).
type NERSCRetriever struct {
	HPSS *mover.HPSSMover
	// LocalStagingPath roots the local path an archive is retrieved into.
	LocalStagingPath string
}

// Name implements Action.
func (r *NERSCRetriever) Name() string { return "nersc-retriever" }

// InputStatus implements Action.
func (r *NERSCRetriever) InputStatus() types.BundleStatus { return types.BundleStatusLocated }

// OutputStatus implements Action.
func (r *NERSCRetriever) OutputStatus() types.BundleStatus { return types.BundleStatusStaged }

// Run implements Action.
func (r *NERSCRetriever) Run(ctx context.Context, bundle *types.Bundle) (*client.PopBundlePatch, error) {
	if err := r.HPSS.CheckAvailable(); err != nil {
		return nil, ErrSkip
	}
	if bundle.BundlePath == "" {
		return nil, fail(r.Name(), "bundle has no tape path to retrieve from", nil)
	}

	localPath := filepath.Join(r.LocalStagingPath, filepath.Base(bundle.BundlePath))
	if err := r.HPSS.Get(ctx, bundle.BundlePath, localPath); err != nil {
		return nil, fail(r.Name(), "hpss get failed", err)
	}

	status := r.OutputStatus()
	released := false
	return &client.PopBundlePatch{
		Status:     &status,
		BundlePath: &localPath,
		Claimed:    &released,
		ClearClaim: true,
	}, nil
}
