package stageaction

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/wipac/ltacoord/pkg/checksum"
	"github.com/wipac/ltacoord/pkg/types"
)

type fakeTransferrer struct {
	err       error
	gotSrc    string
	gotDst    string
	callCount int
}

func (f *fakeTransferrer) Transfer(ctx context.Context, src, dst string) error {
	f.callCount++
	f.gotSrc, f.gotDst = src, dst
	return f.err
}

func TestReplicatorTransfersToDestination(t *testing.T) {
	ft := &fakeTransferrer{}
	r := &Replicator{Transfer: ft, RemotePathPrefix: "/remote"}
	bundle := &types.Bundle{UUID: "b1", Dest: "NERSC", BundlePath: "/staging/b1.tar"}

	patch, err := r.Run(context.Background(), bundle)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if *patch.Status != types.BundleStatusTransferring {
		t.Errorf("expected status transferring, got %s", *patch.Status)
	}
	if ft.callCount != 1 {
		t.Fatalf("expected exactly one Transfer call, got %d", ft.callCount)
	}
	if ft.gotDst != "/remote/NERSC/b1.tar" {
		t.Errorf("unexpected destination path: %s", ft.gotDst)
	}
}

func TestReplicatorFailsWhenTransferErrors(t *testing.T) {
	ft := &fakeTransferrer{err: errors.New("connection refused")}
	r := &Replicator{Transfer: ft, RemotePathPrefix: "/remote"}
	bundle := &types.Bundle{UUID: "b1", Dest: "NERSC", BundlePath: "/staging/b1.tar"}

	if _, err := r.Run(context.Background(), bundle); err == nil {
		t.Fatal("expected failure when the transfer errors")
	}
}

func TestReplicatorToleratesSpuriousFailureWhenDestinationMatches(t *testing.T) {
	remoteRoot := t.TempDir()
	content := []byte("archive bytes")

	remotePath := filepath.Join(remoteRoot, "NERSC", "b1.tar")
	if err := os.MkdirAll(filepath.Dir(remotePath), 0o755); err != nil {
		t.Fatalf("setup: %v", err)
	}
	if err := os.WriteFile(remotePath, content, 0o644); err != nil {
		t.Fatalf("setup: %v", err)
	}
	sums, err := checksum.File(remotePath)
	if err != nil {
		t.Fatalf("setup: %v", err)
	}

	ft := &fakeTransferrer{err: errors.New("mover reported a spurious failure")}
	r := &Replicator{Transfer: ft, RemotePathPrefix: remoteRoot}
	bundle := &types.Bundle{UUID: "b1", Dest: "NERSC", BundlePath: "/staging/b1.tar", Checksum: sums}

	patch, err := r.Run(context.Background(), bundle)
	if err != nil {
		t.Fatalf("expected success when the destination already matches the checksum, got: %v", err)
	}
	if *patch.Status != types.BundleStatusTransferring {
		t.Errorf("expected status transferring, got %s", *patch.Status)
	}
}

func TestReplicatorFailsWithoutStagedArchive(t *testing.T) {
	r := &Replicator{Transfer: &fakeTransferrer{}, RemotePathPrefix: "/remote"}
	bundle := &types.Bundle{UUID: "b1"}

	if _, err := r.Run(context.Background(), bundle); err == nil {
		t.Fatal("expected failure for bundle with no staged archive")
	}
}
