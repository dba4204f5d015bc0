package stageaction

import (
	"archive/tar"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/wipac/ltacoord/pkg/catalog"
	"github.com/wipac/ltacoord/pkg/types"
)

// fakeCatalog is the shared catalog.Client test double for pkg/stageaction:
// byFileCatalogID backs GetFile/FilesForBundle, byPath backs FilesUnderPath.
type fakeCatalog struct {
	byFileCatalogID map[string]*catalog.File
	byPath          map[string][]*catalog.File
	added           []catalog.Location
}

func (f *fakeCatalog) GetFile(ctx context.Context, uuid string) (*catalog.File, error) {
	if file, ok := f.byFileCatalogID[uuid]; ok {
		return file, nil
	}
	return &catalog.File{UUID: uuid}, nil
}
func (f *fakeCatalog) FilesForBundle(ctx context.Context, ids []string) ([]*catalog.File, error) {
	files := make([]*catalog.File, 0, len(ids))
	for _, id := range ids {
		file, ok := f.byFileCatalogID[id]
		if !ok {
			file = &catalog.File{UUID: id}
		}
		files = append(files, file)
	}
	return files, nil
}
func (f *fakeCatalog) FilesUnderPath(ctx context.Context, path string) ([]*catalog.File, error) {
	return f.byPath[path], nil
}
func (f *fakeCatalog) AddLocation(ctx context.Context, uuid string, loc catalog.Location) error {
	f.added = append(f.added, loc)
	return nil
}
func (f *fakeCatalog) RemoveLocation(ctx context.Context, uuid string, loc catalog.Location) error {
	return nil
}

func writeTestArchive(t *testing.T, path string, files map[string]string) {
	t.Helper()
	out, err := os.Create(path)
	if err != nil {
		t.Fatalf("create archive: %v", err)
	}
	defer out.Close()

	tw := tar.NewWriter(out)
	defer tw.Close()
	for name, content := range files {
		hdr := &tar.Header{Name: name, Size: int64(len(content)), Mode: 0o644}
		if err := tw.WriteHeader(hdr); err != nil {
			t.Fatalf("write header: %v", err)
		}
		if _, err := tw.Write([]byte(content)); err != nil {
			t.Fatalf("write content: %v", err)
		}
	}
}

func TestUnpackerExtractsAndRegistersFiles(t *testing.T) {
	dir := t.TempDir()
	archive := filepath.Join(dir, "b1.tar")
	writeTestArchive(t, archive, map[string]string{
		"data/run1/a.hdf5": "aaa",
		"data/run2/b.hdf5": "bbb",
	})

	fc := &fakeCatalog{
		byFileCatalogID: map[string]*catalog.File{
			"fc-a": {UUID: "fc-a", LogicalName: "/data/run1/a.hdf5"},
			"fc-b": {UUID: "fc-b", LogicalName: "/data/run2/b.hdf5"},
		},
	}
	metadata := []*types.Metadata{
		{UUID: "md-a", Bundle: "b1", FileCatalogID: "fc-a"},
		{UUID: "md-b", Bundle: "b1", FileCatalogID: "fc-b"},
	}
	u := &Unpacker{
		WarehousePath: filepath.Join(dir, "warehouse"),
		Catalog:       fc,
		MetadataLister: func(ctx context.Context, bundleUUID string) ([]*types.Metadata, error) {
			return metadata, nil
		},
	}
	bundle := &types.Bundle{UUID: "b1", Dest: "WIPAC", BundlePath: archive}

	patch, err := u.Run(context.Background(), bundle)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if *patch.Status != types.BundleStatusCompleted {
		t.Errorf("expected status completed, got %s", *patch.Status)
	}
	if len(fc.added) != 2 {
		t.Fatalf("expected 2 registered locations, got %d", len(fc.added))
	}

	// directory structure from the archive must survive onto disk.
	if _, err := os.Stat(filepath.Join(dir, "warehouse", "b1", "data/run1/a.hdf5")); err != nil {
		t.Errorf("expected extracted file to keep its directory structure: %v", err)
	}

	registeredByID := map[string]bool{}
	for i, loc := range fc.added {
		_ = i
		registeredByID[loc.Path] = true
	}
	if !registeredByID["/data/run1/a.hdf5"] || !registeredByID["/data/run2/b.hdf5"] {
		t.Errorf("expected both logical paths registered, got %+v", fc.added)
	}
}

func TestUnpackerFailsWhenExtractedFileHasNoCatalogRecord(t *testing.T) {
	dir := t.TempDir()
	archive := filepath.Join(dir, "b1.tar")
	writeTestArchive(t, archive, map[string]string{"orphan.hdf5": "aaa"})

	fc := &fakeCatalog{}
	u := &Unpacker{
		WarehousePath: filepath.Join(dir, "warehouse"),
		Catalog:       fc,
		MetadataLister: func(ctx context.Context, bundleUUID string) ([]*types.Metadata, error) {
			return nil, nil
		},
	}
	bundle := &types.Bundle{UUID: "b1", Dest: "WIPAC", BundlePath: archive}

	if _, err := u.Run(context.Background(), bundle); err == nil {
		t.Fatal("expected failure when an extracted file has no matching file catalog record")
	}
}

func TestUnpackerAppliesPathMap(t *testing.T) {
	u := &Unpacker{PathMap: map[string]string{"/data/exp": "/data/archive"}}
	got := u.remap("/data/exp/run1/a.hdf5")
	if got != "/data/archive/run1/a.hdf5" {
		t.Errorf("unexpected remapped path: %s", got)
	}
}

func TestLoadPathMapParsesJSON(t *testing.T) {
	m, err := LoadPathMap(`{"/data/exp":"/data/archive"}`)
	if err != nil {
		t.Fatalf("LoadPathMap: %v", err)
	}
	if m["/data/exp"] != "/data/archive" {
		t.Errorf("unexpected map contents: %+v", m)
	}
}

func TestLoadPathMapEmptyIsNil(t *testing.T) {
	m, err := LoadPathMap("")
	if err != nil {
		t.Fatalf("LoadPathMap: %v", err)
	}
	if m != nil {
		t.Errorf("expected nil map for empty input, got %+v", m)
	}
}
