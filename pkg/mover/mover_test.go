package mover

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

func TestWebDAVMoverTransferIsAtomic(t *testing.T) {
	srcDir := t.TempDir()
	dstDir := t.TempDir()

	src := filepath.Join(srcDir, "archive.tar")
	if err := os.WriteFile(src, []byte("archive bytes"), 0o644); err != nil {
		t.Fatalf("write source: %v", err)
	}

	m := &WebDAVMover{BasePath: dstDir}
	dst := filepath.Join(dstDir, "bundle", "archive.tar")
	if err := m.Transfer(context.Background(), src, dst); err != nil {
		t.Fatalf("Transfer: %v", err)
	}

	got, err := os.ReadFile(dst)
	if err != nil {
		t.Fatalf("read destination: %v", err)
	}
	if string(got) != "archive bytes" {
		t.Errorf("unexpected destination contents: %q", got)
	}
	if _, err := os.Stat(dst + ".partial"); !os.IsNotExist(err) {
		t.Error("expected .partial temp file to be renamed away")
	}
}

func TestWebDAVMoverRelativeDestRootedUnderBasePath(t *testing.T) {
	srcDir := t.TempDir()
	baseDir := t.TempDir()

	src := filepath.Join(srcDir, "archive.tar")
	if err := os.WriteFile(src, []byte("x"), 0o644); err != nil {
		t.Fatalf("write source: %v", err)
	}

	m := &WebDAVMover{BasePath: baseDir}
	if err := m.Transfer(context.Background(), src, "dest/archive.tar"); err != nil {
		t.Fatalf("Transfer: %v", err)
	}
	if _, err := os.Stat(filepath.Join(baseDir, "dest", "archive.tar")); err != nil {
		t.Errorf("expected destination rooted under BasePath: %v", err)
	}
}

func TestFreeBytesReturnsPositiveValueForExistingPath(t *testing.T) {
	free, err := FreeBytes(t.TempDir())
	if err != nil {
		t.Fatalf("FreeBytes: %v", err)
	}
	if free <= 0 {
		t.Errorf("expected positive free space, got %d", free)
	}
}

func TestHPSSMoverCheckAvailableFailsWhenSentinelMissing(t *testing.T) {
	m := &HPSSMover{AvailPath: filepath.Join(t.TempDir(), "does-not-exist")}
	if err := m.CheckAvailable(); err == nil {
		t.Fatal("expected CheckAvailable to fail for a missing sentinel file")
	}
}

func TestHPSSMoverCheckAvailableSucceedsWhenUnset(t *testing.T) {
	m := &HPSSMover{}
	if err := m.CheckAvailable(); err != nil {
		t.Errorf("expected no error when AvailPath is unset, got %v", err)
	}
}
