// Package mover defines the byte-movement collaborators stage actions call
// to copy bundle archives between sites and tape: GridFTP for inter-site
// transfer, HPSS (via the `hsi` client) for tape, and local filesystem
// copies for same-host site moves. These are external systems spec.md §1
// treats as out of scope to implement, only to call.
package mover

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"syscall"
	"time"
)

// Transferrer moves one archive from src to dst, both opaque paths or
// URLs whose scheme the implementation understands.
type Transferrer interface {
	Transfer(ctx context.Context, src, dst string) error
}

// GridFTPMover drives globus-url-copy as a subprocess to move bundles
// between LTA sites over GridFTP.
type GridFTPMover struct {
	// BinaryPath is the globus-url-copy executable; defaults to
	// looking it up on PATH when empty.
	BinaryPath string
	Timeout    time.Duration
}

// Transfer implements Transferrer by shelling out to globus-url-copy.
func (m *GridFTPMover) Transfer(ctx context.Context, src, dst string) error {
	bin := m.BinaryPath
	if bin == "" {
		bin = "globus-url-copy"
	}
	timeout := m.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Minute
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, bin, "-vb", src, dst)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("mover: globus-url-copy %s -> %s: %w: %s", src, dst, err, out)
	}
	return nil
}

// HPSSMover drives the `hsi` HPSS client as a subprocess to stage archives
// to and from tape (spec.md §4.4 NERSC-Mover/NERSC-Retriever).
type HPSSMover struct {
	// BinaryPath is the hsi executable; defaults to looking it up on PATH.
	BinaryPath string
	// AvailPath is HPSS_AVAIL_PATH: a sentinel file checked before every
	// transfer to confirm the HPSS system is currently reachable.
	AvailPath string
	Timeout   time.Duration
}

// CheckAvailable reports whether the HPSS availability sentinel is present,
// used by a stage action as a fast precondition before attempting tape I/O.
func (m *HPSSMover) CheckAvailable() error {
	if m.AvailPath == "" {
		return nil
	}
	if _, err := os.Stat(m.AvailPath); err != nil {
		return fmt.Errorf("mover: hpss unavailable: %w", err)
	}
	return nil
}

// Put stages localPath into HPSS at hpssPath.
func (m *HPSSMover) Put(ctx context.Context, localPath, hpssPath string) error {
	return m.run(ctx, "put", localPath, ":", hpssPath)
}

// Get retrieves hpssPath from HPSS into localPath.
func (m *HPSSMover) Get(ctx context.Context, hpssPath, localPath string) error {
	return m.run(ctx, "get", localPath, ":", hpssPath)
}

func (m *HPSSMover) run(ctx context.Context, args ...string) error {
	if err := m.CheckAvailable(); err != nil {
		return err
	}
	bin := m.BinaryPath
	if bin == "" {
		bin = "hsi"
	}
	timeout := m.Timeout
	if timeout <= 0 {
		timeout = time.Hour
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, bin, args...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("mover: hsi %v: %w: %s", args, err, out)
	}
	return nil
}

// WebDAVMover copies archives to/from a WebDAV-mounted RSE path, used by
// the site-move stage when source and destination are both reachable as
// local filesystem paths (spec.md's RSE_BASE_PATH convention).
type WebDAVMover struct {
	// BasePath roots relative destination paths, mirroring RSE_BASE_PATH.
	BasePath string
}

// Transfer implements Transferrer with a plain filesystem copy.
func (m *WebDAVMover) Transfer(ctx context.Context, src, dst string) error {
	if m.BasePath != "" && !filepath.IsAbs(dst) {
		dst = filepath.Join(m.BasePath, dst)
	}

	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("mover: open source %s: %w", src, err)
	}
	defer in.Close()

	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return fmt.Errorf("mover: create destination directory: %w", err)
	}

	tmp := dst + ".partial"
	out, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("mover: create destination %s: %w", dst, err)
	}

	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(tmp)
		return fmt.Errorf("mover: copy %s -> %s: %w", src, dst, err)
	}
	if err := out.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("mover: close destination %s: %w", dst, err)
	}
	if err := os.Rename(tmp, dst); err != nil {
		return fmt.Errorf("mover: finalize %s: %w", dst, err)
	}
	return nil
}

// FreeBytes reports the available space at path's filesystem, used by the
// rate-limiter stage to throttle outbound bundling (spec.md §4.4
// Rate-limiter).
func FreeBytes(path string) (int64, error) {
	var stat syscall.Statfs_t
	if err := syscall.Statfs(path, &stat); err != nil {
		return 0, fmt.Errorf("mover: statfs %s: %w", path, err)
	}
	return int64(stat.Bavail) * int64(stat.Bsize), nil
}
