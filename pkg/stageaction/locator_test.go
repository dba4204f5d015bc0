package stageaction

import (
	"context"
	"testing"

	"github.com/wipac/ltacoord/pkg/catalog"
	"github.com/wipac/ltacoord/pkg/types"
)

func TestLocatorGroupsFilesByArchivedBundlePath(t *testing.T) {
	fc := &fakeCatalog{byPath: map[string][]*catalog.File{
		"/data/exp": {
			{UUID: "f1", LogicalName: "/data/exp/a.hdf5", Locations: []catalog.Location{
				{Site: "NERSC", Path: "/tape/bundle-1.tar"},
			}},
			{UUID: "f2", LogicalName: "/data/exp/b.hdf5", Locations: []catalog.Location{
				{Site: "NERSC", Path: "/tape/bundle-1.tar"},
			}},
			{UUID: "f3", LogicalName: "/data/exp/c.hdf5", Locations: []catalog.Location{
				{Site: "NERSC", Path: "/tape/bundle-2.tar"},
			}},
		},
	}}
	l := &Locator{Catalog: fc}
	req := &types.TransferRequest{UUID: "r1", Source: "NERSC", Dest: "WIPAC", Path: "/data/exp"}

	plans, err := l.Run(context.Background(), req)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(plans) != 2 {
		t.Fatalf("expected 2 reconstructed bundles, got %d", len(plans))
	}

	byPath := map[string]int{}
	for _, p := range plans {
		if p.Bundle.Status != types.BundleStatusLocated {
			t.Errorf("expected located status, got %s", p.Bundle.Status)
		}
		byPath[p.Bundle.BundlePath] = len(p.FileCatalogIDs)
	}
	if byPath["/tape/bundle-1.tar"] != 2 {
		t.Errorf("expected 2 files grouped under bundle-1, got %d", byPath["/tape/bundle-1.tar"])
	}
	if byPath["/tape/bundle-2.tar"] != 1 {
		t.Errorf("expected 1 file grouped under bundle-2, got %d", byPath["/tape/bundle-2.tar"])
	}
}

func TestLocatorIgnoresFilesNotAtSourceSite(t *testing.T) {
	fc := &fakeCatalog{byPath: map[string][]*catalog.File{
		"/data/exp": {
			{UUID: "f1", LogicalName: "/data/exp/a.hdf5", Locations: []catalog.Location{
				{Site: "WIPAC", Path: "/warehouse/a.hdf5"},
			}},
		},
	}}
	l := &Locator{Catalog: fc}
	req := &types.TransferRequest{UUID: "r1", Source: "NERSC", Dest: "WIPAC", Path: "/data/exp"}

	if _, err := l.Run(context.Background(), req); err == nil {
		t.Fatal("expected failure when no files are archived at the source site")
	}
}

func TestLocatorFailsWithoutPath(t *testing.T) {
	l := &Locator{Catalog: &fakeCatalog{}}
	req := &types.TransferRequest{UUID: "r1"}

	if _, err := l.Run(context.Background(), req); err == nil {
		t.Fatal("expected failure for request with no path")
	}
}
