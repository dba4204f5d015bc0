package stageaction

import (
	"archive/tar"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/wipac/ltacoord/pkg/catalog"
	"github.com/wipac/ltacoord/pkg/client"
	"github.com/wipac/ltacoord/pkg/types"
)

// Unpacker expands a retrieved archive into the warehouse and registers
// each unpacked file's logical path in the File Catalog, applying an
// optional path remap (spec.md §4.4 Unpacker, PATH_MAP_JSON).
type Unpacker struct {
	WarehousePath string
	Catalog       catalog.Client
	// MetadataLister resolves the File Catalog identifiers attached to
	// bundle via the Metadata side-table (pkg/types.Metadata), the same
	// collaborator TapeVerifier uses to find what to register.
	MetadataLister func(ctx context.Context, bundleUUID string) ([]*types.Metadata, error)
	// PathMap rewrites a prefix of an archived file's logical name before
	// it is registered, e.g. {"/data/exp": "/data/archive"}.
	PathMap map[string]string
}

// Name implements Action.
func (u *Unpacker) Name() string { return "unpacker" }

// InputStatus implements Action.
func (u *Unpacker) InputStatus() types.BundleStatus { return types.BundleStatusUnpacking }

// OutputStatus implements Action.
func (u *Unpacker) OutputStatus() types.BundleStatus { return types.BundleStatusCompleted }

// Run implements Action.
func (u *Unpacker) Run(ctx context.Context, bundle *types.Bundle) (*client.PopBundlePatch, error) {
	if bundle.BundlePath == "" {
		return nil, fail(u.Name(), "bundle has no archive to unpack", nil)
	}

	dest := filepath.Join(u.WarehousePath, bundle.UUID)
	extracted, err := extractTar(bundle.BundlePath, dest)
	if err != nil {
		return nil, fail(u.Name(), "failed extracting archive", err)
	}

	records, err := u.MetadataLister(ctx, bundle.UUID)
	if err != nil {
		return nil, fail(u.Name(), "could not list bundle metadata", err)
	}
	ids := make([]string, 0, len(records))
	for _, md := range records {
		ids = append(ids, md.FileCatalogID)
	}
	files, err := u.Catalog.FilesForBundle(ctx, ids)
	if err != nil {
		return nil, fail(u.Name(), "could not resolve bundle files in file catalog", err)
	}
	idByLogicalName := make(map[string]string, len(files))
	for _, f := range files {
		idByLogicalName[f.LogicalName] = f.UUID
	}

	for _, file := range extracted {
		fileCatalogID, ok := idByLogicalName[file.ArchivePath]
		if !ok {
			return nil, fail(u.Name(), fmt.Sprintf("extracted file %s has no matching file catalog record", file.ArchivePath), nil)
		}
		loc := catalog.Location{Site: bundle.Dest, Path: u.remap(file.ArchivePath)}
		if err := u.Catalog.AddLocation(ctx, fileCatalogID, loc); err != nil {
			return nil, fail(u.Name(), "could not register unpacked file", err)
		}
	}

	return statusPatch(u.OutputStatus()), nil
}

func (u *Unpacker) remap(name string) string {
	for from, to := range u.PathMap {
		if len(name) >= len(from) && name[:len(from)] == from {
			return to + name[len(from):]
		}
	}
	return name
}

// extractedFile pairs a tar entry's logical archive path (its File Catalog
// identity) with where Unpacker wrote its bytes on disk.
type extractedFile struct {
	ArchivePath string
	DiskPath    string
}

func extractTar(archivePath, dest string) ([]extractedFile, error) {
	f, err := os.Open(archivePath)
	if err != nil {
		return nil, fmt.Errorf("open archive: %w", err)
	}
	defer f.Close()

	if err := os.MkdirAll(dest, 0o755); err != nil {
		return nil, fmt.Errorf("create warehouse directory: %w", err)
	}

	var extracted []extractedFile
	tr := tar.NewReader(f)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read tar entry: %w", err)
		}
		if hdr.Typeflag != tar.TypeReg {
			continue
		}

		relName := filepath.Clean(hdr.Name)
		if relName == ".." || strings.HasPrefix(relName, "../") || filepath.IsAbs(relName) {
			return nil, fmt.Errorf("tar entry %s escapes extraction directory", hdr.Name)
		}

		outPath := filepath.Join(dest, relName)
		if err := os.MkdirAll(filepath.Dir(outPath), 0o755); err != nil {
			return nil, fmt.Errorf("create extraction directory for %s: %w", outPath, err)
		}
		out, err := os.Create(outPath)
		if err != nil {
			return nil, fmt.Errorf("create extracted file %s: %w", outPath, err)
		}
		if _, err := io.Copy(out, tr); err != nil {
			out.Close()
			return nil, fmt.Errorf("write extracted file %s: %w", outPath, err)
		}
		out.Close()
		extracted = append(extracted, extractedFile{ArchivePath: "/" + relName, DiskPath: outPath})
	}
	return extracted, nil
}

// LoadPathMap reads PATH_MAP_JSON's contents into a prefix map.
func LoadPathMap(raw string) (map[string]string, error) {
	if raw == "" {
		return nil, nil
	}
	var m map[string]string
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		return nil, fmt.Errorf("parse PATH_MAP_JSON: %w", err)
	}
	return m, nil
}
