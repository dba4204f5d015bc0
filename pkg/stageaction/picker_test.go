package stageaction

import (
	"context"
	"testing"

	"github.com/wipac/ltacoord/pkg/catalog"
	"github.com/wipac/ltacoord/pkg/types"
)

func TestPickerBatchesByFileCount(t *testing.T) {
	fc := &fakeCatalog{byPath: map[string][]*catalog.File{
		"/data/exp": {
			{UUID: "f1", LogicalName: "/data/exp/a.hdf5", Size: 10},
			{UUID: "f2", LogicalName: "/data/exp/b.hdf5", Size: 10},
			{UUID: "f3", LogicalName: "/data/exp/c.hdf5", Size: 10},
		},
	}}
	p := &Picker{Catalog: fc, BatchMaxFiles: 2}
	req := &types.TransferRequest{UUID: "r1", Source: "WIPAC", Dest: "NERSC", Path: "/data/exp"}

	plans, err := p.Run(context.Background(), req)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(plans) != 2 {
		t.Fatalf("expected 2 bundles, got %d", len(plans))
	}
	if len(plans[0].FileCatalogIDs) != 2 || len(plans[1].FileCatalogIDs) != 1 {
		t.Fatalf("unexpected batching: %+v", plans)
	}
	for _, p := range plans {
		if p.Bundle.Status != types.BundleStatusSpecified {
			t.Errorf("expected specified status, got %s", p.Bundle.Status)
		}
		if p.Bundle.Request != "r1" || p.Bundle.Source != "WIPAC" || p.Bundle.Dest != "NERSC" {
			t.Errorf("bundle not stamped from request: %+v", p.Bundle)
		}
	}
}

func TestPickerBatchesByByteSize(t *testing.T) {
	fc := &fakeCatalog{byPath: map[string][]*catalog.File{
		"/data/exp": {
			{UUID: "f1", LogicalName: "/data/exp/a.hdf5", Size: 60},
			{UUID: "f2", LogicalName: "/data/exp/b.hdf5", Size: 60},
		},
	}}
	p := &Picker{Catalog: fc, BatchMaxBytes: 100}
	req := &types.TransferRequest{UUID: "r1", Source: "WIPAC", Dest: "NERSC", Path: "/data/exp"}

	plans, err := p.Run(context.Background(), req)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(plans) != 2 {
		t.Fatalf("expected the second file to start a new bundle, got %d bundles", len(plans))
	}
}

func TestPickerFailsWithoutPath(t *testing.T) {
	p := &Picker{Catalog: &fakeCatalog{}}
	req := &types.TransferRequest{UUID: "r1"}

	if _, err := p.Run(context.Background(), req); err == nil {
		t.Fatal("expected failure for request with no path")
	}
}

func TestPickerFailsWithNoFiles(t *testing.T) {
	p := &Picker{Catalog: &fakeCatalog{}}
	req := &types.TransferRequest{UUID: "r1", Path: "/data/exp"}

	if _, err := p.Run(context.Background(), req); err == nil {
		t.Fatal("expected failure when no files are found under the path")
	}
}
