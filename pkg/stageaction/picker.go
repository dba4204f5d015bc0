package stageaction

import (
	"context"

	"github.com/wipac/ltacoord/pkg/catalog"
	"github.com/wipac/ltacoord/pkg/types"
)

// Picker expands a TransferRequest into one or more Bundles: it queries
// the File Catalog for every file under the request's path, then batches
// them by size and count so no single archive exceeds the configured
// limits (spec.md §4.4 Picker).
type Picker struct {
	Catalog catalog.Client
	// BatchMaxBytes caps the total file size placed in one bundle; zero
	// means unbounded.
	BatchMaxBytes int64
	// BatchMaxFiles caps the number of files placed in one bundle; zero
	// means unbounded.
	BatchMaxFiles int
}

// Name implements RequestAction.
func (p *Picker) Name() string { return "picker" }

// Run implements RequestAction.
func (p *Picker) Run(ctx context.Context, req *types.TransferRequest) ([]BundlePlan, error) {
	if req.Path == "" {
		return nil, fail(p.Name(), "request has no path to expand", nil)
	}

	files, err := p.Catalog.FilesUnderPath(ctx, req.Path)
	if err != nil {
		return nil, fail(p.Name(), "file catalog lookup failed", err)
	}
	if len(files) == 0 {
		return nil, fail(p.Name(), "no files found under path", nil)
	}

	return batchFiles(req, files, types.BundleStatusSpecified, p.BatchMaxBytes, p.BatchMaxFiles), nil
}

// batchFiles groups files into BundlePlans of at most maxBytes/maxFiles
// each, preserving File Catalog order: the first file that would push a
// bundle over a limit starts the next one instead.
func batchFiles(req *types.TransferRequest, files []*catalog.File, status types.BundleStatus, maxBytes int64, maxFiles int) []BundlePlan {
	var plans []BundlePlan
	var ids []string
	var size int64

	flush := func() {
		if len(ids) == 0 {
			return
		}
		plans = append(plans, BundlePlan{
			Bundle: &types.Bundle{
				Request: req.UUID,
				Source:  req.Source,
				Dest:    req.Dest,
				Path:    req.Path,
				Status:  status,
			},
			FileCatalogIDs: ids,
		})
		ids = nil
		size = 0
	}

	for _, f := range files {
		overBytes := maxBytes > 0 && size > 0 && size+f.Size > maxBytes
		overFiles := maxFiles > 0 && len(ids) >= maxFiles
		if overBytes || overFiles {
			flush()
		}
		ids = append(ids, f.UUID)
		size += f.Size
	}
	flush()

	return plans
}
