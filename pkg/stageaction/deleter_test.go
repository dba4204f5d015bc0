package stageaction

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/wipac/ltacoord/pkg/types"
)

func TestDeleterRemovesStagingCopy(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "b1.tar")
	if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
		t.Fatalf("write staging copy: %v", err)
	}

	d := &Deleter{
		PathOf: func(b *types.Bundle) string { return b.BundlePath },
		From:   types.BundleStatusCompleted,
		To:     types.BundleStatusSourceDeleted,
	}
	bundle := &types.Bundle{UUID: "b1", BundlePath: path}

	patch, err := d.Run(context.Background(), bundle)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if *patch.Status != types.BundleStatusSourceDeleted {
		t.Errorf("expected status source-deleted, got %s", *patch.Status)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("expected staging copy to be removed")
	}
}

func TestDeleterToleratesAlreadyMissingFile(t *testing.T) {
	d := &Deleter{
		PathOf: func(b *types.Bundle) string { return b.BundlePath },
		From:   types.BundleStatusSourceDeleted,
		To:     types.BundleStatusDeleted,
	}
	bundle := &types.Bundle{UUID: "b1", BundlePath: filepath.Join(t.TempDir(), "already-gone.tar")}

	if _, err := d.Run(context.Background(), bundle); err != nil {
		t.Fatalf("expected no error for an already-missing file, got %v", err)
	}
}

func TestDeleterSkipsRemovalWithEmptyPath(t *testing.T) {
	d := &Deleter{
		PathOf: func(b *types.Bundle) string { return "" },
		From:   types.BundleStatusCompleted,
		To:     types.BundleStatusSourceDeleted,
	}
	patch, err := d.Run(context.Background(), &types.Bundle{UUID: "b1"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if *patch.Status != types.BundleStatusSourceDeleted {
		t.Errorf("expected status to still advance, got %s", *patch.Status)
	}
}
