package stageaction

import (
	"context"

	"github.com/wipac/ltacoord/pkg/checksum"
	"github.com/wipac/ltacoord/pkg/client"
	"github.com/wipac/ltacoord/pkg/types"
)

// SiteMoveVerifier re-checksums a just-received archive at the destination
// and compares it against the checksum recorded when it was bundled
// (spec.md §4.4 Site-Move-Verifier). Its OutputStatus is configurable
// because the table routes it to "taping" on the archival pipeline and
// "unpacking" on the retrieval pipeline.
type SiteMoveVerifier struct {
	NextStatus types.BundleStatus
}

// Name implements Action.
func (v *SiteMoveVerifier) Name() string { return "site-move-verifier" }

// InputStatus implements Action.
func (v *SiteMoveVerifier) InputStatus() types.BundleStatus { return types.BundleStatusTransferring }

// OutputStatus implements Action.
func (v *SiteMoveVerifier) OutputStatus() types.BundleStatus { return v.NextStatus }

// Run implements Action.
func (v *SiteMoveVerifier) Run(ctx context.Context, bundle *types.Bundle) (*client.PopBundlePatch, error) {
	if bundle.BundlePath == "" {
		return nil, fail(v.Name(), "bundle has no received archive to verify", nil)
	}
	ok, err := checksum.Verify(bundle.BundlePath, bundle.Checksum)
	if err != nil {
		return nil, fail(v.Name(), "could not read received archive", err)
	}
	if !ok {
		return nil, fail(v.Name(), "checksum mismatch on received archive", nil)
	}

	status := v.OutputStatus()
	verified := true
	released := false
	return &client.PopBundlePatch{
		Status:     &status,
		Verified:   &verified,
		Claimed:    &released,
		ClearClaim: true,
	}, nil
}
