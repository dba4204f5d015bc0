package stageaction

import (
	"archive/tar"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/wipac/ltacoord/pkg/checksum"
	"github.com/wipac/ltacoord/pkg/client"
	"github.com/wipac/ltacoord/pkg/types"
)

// BundleFile pairs a file's logical warehouse path, used as the tar entry
// name with any leading slash trimmed (spec.md §6: directory structure must round-trip
// through the archive), with the on-disk path Bundler actually reads bytes
// from, which may be rooted under USE_FULL_BUNDLE_PATH.
type BundleFile struct {
	ArchivePath string
	DiskPath    string
}

// Bundler materialises a bundle: it walks the files recorded for bundle in
// the Metadata side-table, writes them into a single tar archive on the
// outbox disk, and records the archive's path, size, and checksums
// (spec.md §4.4 Bundler).
//
// Partial artifacts from a prior crashed attempt are removed before
// writing begins, so retrying a claim that never PATCHed is idempotent:
// the second run produces byte-identical archive contents.
type Bundler struct {
	// OutboxPath roots every archive this stage writes (BUNDLER_OUTBOX_PATH).
	OutboxPath string
	// Files resolves the files to include for bundle, sourced from the
	// Metadata side-table plus a logical-to-physical mapping the caller
	// owns.
	Files func(ctx context.Context, bundle *types.Bundle) ([]BundleFile, error)
}

// Name implements Action.
func (b *Bundler) Name() string { return "bundler" }

// InputStatus implements Action.
func (b *Bundler) InputStatus() types.BundleStatus { return types.BundleStatusSpecified }

// OutputStatus implements Action.
func (b *Bundler) OutputStatus() types.BundleStatus { return types.BundleStatusCreated }

// Run implements Action.
func (b *Bundler) Run(ctx context.Context, bundle *types.Bundle) (*client.PopBundlePatch, error) {
	files, err := b.Files(ctx, bundle)
	if err != nil {
		return nil, fail(b.Name(), "could not resolve source files", err)
	}
	if len(files) == 0 {
		return nil, fail(b.Name(), "no source files to bundle", nil)
	}

	archivePath := filepath.Join(b.OutboxPath, bundle.UUID+".tar")
	if err := removePartial(archivePath); err != nil {
		return nil, fail(b.Name(), "could not clear partial artifact from a prior attempt", err)
	}

	size, err := writeTar(archivePath, files)
	if err != nil {
		_ = os.Remove(archivePath)
		return nil, fail(b.Name(), "failed writing archive", err)
	}

	sums, err := checksum.File(archivePath)
	if err != nil {
		return nil, fail(b.Name(), "failed checksumming archive", err)
	}

	status := b.OutputStatus()
	released := false
	return &client.PopBundlePatch{
		Status:     &status,
		BundlePath: &archivePath,
		Size:       &size,
		Checksum:   sums,
		Claimed:    &released,
		ClearClaim: true,
	}, nil
}

// removePartial deletes any archive left behind by an earlier, interrupted
// attempt at the same bundle (spec.md §5 Idempotence).
func removePartial(path string) error {
	err := os.Remove(path)
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

func writeTar(archivePath string, files []BundleFile) (int64, error) {
	if err := os.MkdirAll(filepath.Dir(archivePath), 0o755); err != nil {
		return 0, fmt.Errorf("create outbox directory: %w", err)
	}

	out, err := os.Create(archivePath)
	if err != nil {
		return 0, fmt.Errorf("create archive: %w", err)
	}
	defer out.Close()

	tw := tar.NewWriter(out)
	for _, file := range files {
		if err := addFileToTar(tw, file); err != nil {
			tw.Close()
			return 0, err
		}
	}
	if err := tw.Close(); err != nil {
		return 0, fmt.Errorf("finalize archive: %w", err)
	}

	info, err := out.Stat()
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}

func addFileToTar(tw *tar.Writer, file BundleFile) error {
	f, err := os.Open(file.DiskPath)
	if err != nil {
		return fmt.Errorf("open source file %s: %w", file.DiskPath, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("stat source file %s: %w", file.DiskPath, err)
	}

	hdr, err := tar.FileInfoHeader(info, "")
	if err != nil {
		return fmt.Errorf("build tar header for %s: %w", file.DiskPath, err)
	}
	// archive entries are rooted at the warehouse path, not the archive's
	// own root, so strip a leading slash to keep tar a relative layout.
	hdr.Name = strings.TrimPrefix(file.ArchivePath, "/")

	if err := tw.WriteHeader(hdr); err != nil {
		return fmt.Errorf("write tar header for %s: %w", file.DiskPath, err)
	}
	if _, err := io.Copy(tw, f); err != nil {
		return fmt.Errorf("copy %s into archive: %w", file.DiskPath, err)
	}
	return nil
}
