package stageaction

import (
	"context"

	"github.com/wipac/ltacoord/pkg/catalog"
	"github.com/wipac/ltacoord/pkg/types"
)

// Locator is the retrieval-side counterpart to Picker: it queries the
// File Catalog for files already archived under the requested path and
// groups them back into the Bundles that cover them, ready for the
// NERSC-Retriever/Site-Move-Verifier stages (spec.md §4.4 Locator).
type Locator struct {
	Catalog catalog.Client
}

// Name implements RequestAction.
func (l *Locator) Name() string { return "locator" }

// Run implements RequestAction.
func (l *Locator) Run(ctx context.Context, req *types.TransferRequest) ([]BundlePlan, error) {
	if req.Path == "" {
		return nil, fail(l.Name(), "request has no path to expand", nil)
	}

	files, err := l.Catalog.FilesUnderPath(ctx, req.Path)
	if err != nil {
		return nil, fail(l.Name(), "file catalog lookup failed", err)
	}
	if len(files) == 0 {
		return nil, fail(l.Name(), "no archived files found under path", nil)
	}

	// Every file archived as part of the same bundle shares one replica
	// location at the source site: the bundle's own archive path (see
	// nerscverifier.go, which registers bundle.BundlePath as every covered
	// file's Location). Grouping by that path reassembles the original
	// bundles rather than re-splitting already-archived files.
	type group struct {
		bundlePath string
		ids        []string
	}
	order := make([]string, 0, len(files))
	groups := make(map[string]*group, len(files))
	for _, f := range files {
		var archivedPath string
		for _, loc := range f.Locations {
			if loc.Site == req.Source {
				archivedPath = loc.Path
				break
			}
		}
		if archivedPath == "" {
			continue
		}
		g, ok := groups[archivedPath]
		if !ok {
			g = &group{bundlePath: archivedPath}
			groups[archivedPath] = g
			order = append(order, archivedPath)
		}
		g.ids = append(g.ids, f.UUID)
	}
	if len(groups) == 0 {
		return nil, fail(l.Name(), "no files archived at source site", nil)
	}

	plans := make([]BundlePlan, 0, len(groups))
	for _, archivedPath := range order {
		g := groups[archivedPath]
		plans = append(plans, BundlePlan{
			Bundle: &types.Bundle{
				Request:    req.UUID,
				Source:     req.Source,
				Dest:       req.Dest,
				Path:       req.Path,
				BundlePath: g.bundlePath,
				Status:     types.BundleStatusLocated,
			},
			FileCatalogIDs: g.ids,
		})
	}
	return plans, nil
}
