package stageaction

import (
	"context"

	"github.com/wipac/ltacoord/pkg/catalog"
	"github.com/wipac/ltacoord/pkg/checksum"
	"github.com/wipac/ltacoord/pkg/client"
	"github.com/wipac/ltacoord/pkg/mover"
	"github.com/wipac/ltacoord/pkg/types"
)

// TapeVerifier re-reads an archived bundle from tape or its destination,
// re-checksums it, and registers a replica in the File Catalog with the
// date it was archived (spec.md §4.4 NERSC-Verifier/Desy-Verifier — the
// two stages share identical contracts and differ only in which site's
// tape/destination they read from, selected by the HPSS field).
type TapeVerifier struct {
	// HPSS is set for the NERSC-facing verifier; nil for Desy, which
	// verifies a plain destination-site copy instead of a tape recall.
	HPSS *mover.HPSSMover
	// LocalStagingPath is where a tape recall is read back into before
	// checksumming.
	LocalStagingPath string
	Catalog          catalog.Client
	// MetadataLister resolves the File Catalog identifiers attached to
	// bundle via the Metadata side-table (pkg/types.Metadata).
	MetadataLister func(ctx context.Context, bundleUUID string) ([]*types.Metadata, error)
	// Site is recorded as the replica's location site.
	Site string
}

// Name implements Action.
func (v *TapeVerifier) Name() string {
	if v.HPSS != nil {
		return "nersc-verifier"
	}
	return "desy-verifier"
}

// InputStatus implements Action.
func (v *TapeVerifier) InputStatus() types.BundleStatus { return types.BundleStatusVerifying }

// OutputStatus implements Action.
func (v *TapeVerifier) OutputStatus() types.BundleStatus { return types.BundleStatusCompleted }

// Run implements Action.
func (v *TapeVerifier) Run(ctx context.Context, bundle *types.Bundle) (*client.PopBundlePatch, error) {
	readPath := bundle.BundlePath
	if v.HPSS != nil {
		if err := v.HPSS.CheckAvailable(); err != nil {
			return nil, fail(v.Name(), "tape system unavailable", err)
		}
		localPath := v.LocalStagingPath + "/" + bundle.UUID + ".tar"
		if err := v.HPSS.Get(ctx, bundle.BundlePath, localPath); err != nil {
			return nil, fail(v.Name(), "hpss get for verification failed", err)
		}
		readPath = localPath
	}

	ok, err := checksum.Verify(readPath, bundle.Checksum)
	if err != nil {
		return nil, fail(v.Name(), "could not read archive for verification", err)
	}
	if !ok {
		return nil, fail(v.Name(), "checksum mismatch on archived copy", nil)
	}

	records, err := v.MetadataLister(ctx, bundle.UUID)
	if err != nil {
		return nil, fail(v.Name(), "could not list bundle metadata", err)
	}
	for _, md := range records {
		loc := catalog.Location{Site: v.Site, Path: bundle.BundlePath}
		if err := v.Catalog.AddLocation(ctx, md.FileCatalogID, loc); err != nil {
			return nil, fail(v.Name(), "could not register replica in file catalog", err)
		}
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
