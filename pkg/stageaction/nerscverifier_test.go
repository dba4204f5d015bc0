package stageaction

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/wipac/ltacoord/pkg/catalog"
	"github.com/wipac/ltacoord/pkg/checksum"
	"github.com/wipac/ltacoord/pkg/types"
)

func TestTapeVerifierDesyBranchRegistersReplicas(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "archive.tar")
	if err := os.WriteFile(path, []byte("archive bytes"), 0o644); err != nil {
		t.Fatalf("write archive: %v", err)
	}
	sums, err := checksum.File(path)
	if err != nil {
		t.Fatalf("checksum: %v", err)
	}

	fc := &fakeCatalog{}
	v := &TapeVerifier{
		Catalog: fc,
		Site:    "DESY",
		MetadataLister: func(ctx context.Context, bundleUUID string) ([]*types.Metadata, error) {
			return []*types.Metadata{{UUID: "m1", FileCatalogID: "f1"}}, nil
		},
	}
	bundle := &types.Bundle{UUID: "b1", BundlePath: path, Checksum: sums}

	if v.Name() != "desy-verifier" {
		t.Errorf("expected Name desy-verifier when HPSS is nil, got %s", v.Name())
	}

	patch, err := v.Run(context.Background(), bundle)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if *patch.Status != types.BundleStatusCompleted {
		t.Errorf("expected status completed, got %s", *patch.Status)
	}
	if !*patch.Verified {
		t.Error("expected verified true")
	}
	if len(fc.added) != 1 || fc.added[0].Site != "DESY" {
		t.Errorf("expected one replica registered at DESY, got %+v", fc.added)
	}
}

func TestTapeVerifierRejectsTamperedArchive(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "archive.tar")
	if err := os.WriteFile(path, []byte("archive bytes"), 0o644); err != nil {
		t.Fatalf("write archive: %v", err)
	}
	sums, err := checksum.File(path)
	if err != nil {
		t.Fatalf("checksum: %v", err)
	}
	if err := os.WriteFile(path, []byte("tampered"), 0o644); err != nil {
		t.Fatalf("tamper archive: %v", err)
	}

	v := &TapeVerifier{
		Catalog: &fakeCatalog{},
		MetadataLister: func(ctx context.Context, bundleUUID string) ([]*types.Metadata, error) {
			t.Fatal("metadata should not be listed once checksum verification fails")
			return nil, nil
		},
	}
	bundle := &types.Bundle{UUID: "b1", BundlePath: path, Checksum: sums}

	if _, err := v.Run(context.Background(), bundle); err == nil {
		t.Fatal("expected verification to fail against a tampered archive")
	}
}

var _ catalog.Client = (*fakeCatalog)(nil)
