package catalog

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestGetFile(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/files/f1" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer tok" {
			t.Errorf("expected bearer token, got %q", got)
		}
		json.NewEncoder(w).Encode(File{UUID: "f1", LogicalName: "/data/a.hdf5"})
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL, "tok", nil)
	f, err := c.GetFile(context.Background(), "f1")
	if err != nil {
		t.Fatalf("GetFile: %v", err)
	}
	if f.LogicalName != "/data/a.hdf5" {
		t.Errorf("unexpected logical name: %s", f.LogicalName)
	}
}

func TestFilesForBundleFansOutSerially(t *testing.T) {
	seen := map[string]bool{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen[r.URL.Path] = true
		json.NewEncoder(w).Encode(File{UUID: r.URL.Path})
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL, "", nil)
	files, err := c.FilesForBundle(context.Background(), []string{"a", "b", "c"})
	if err != nil {
		t.Fatalf("FilesForBundle: %v", err)
	}
	if len(files) != 3 {
		t.Fatalf("expected 3 files, got %d", len(files))
	}
	for _, id := range []string{"/api/files/a", "/api/files/b", "/api/files/c"} {
		if !seen[id] {
			t.Errorf("expected request to %s", id)
		}
	}
}

func TestFilesUnderPathSendsPathQuery(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/files" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		if got := r.URL.Query().Get("path"); got != "/data/exp" {
			t.Errorf("unexpected path query: %q", got)
		}
		json.NewEncoder(w).Encode([]File{
			{UUID: "f1", LogicalName: "/data/exp/a.hdf5"},
			{UUID: "f2", LogicalName: "/data/exp/b.hdf5"},
		})
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL, "", nil)
	files, err := c.FilesUnderPath(context.Background(), "/data/exp")
	if err != nil {
		t.Fatalf("FilesUnderPath: %v", err)
	}
	if len(files) != 2 {
		t.Fatalf("expected 2 files, got %d", len(files))
	}
}

func TestAddLocationSendsBody(t *testing.T) {
	var got Location
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("expected POST, got %s", r.Method)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Fatalf("decode body: %v", err)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL, "", nil)
	loc := Location{Site: "NERSC", Path: "/tape/bundle1.tar"}
	if err := c.AddLocation(context.Background(), "f1", loc); err != nil {
		t.Fatalf("AddLocation: %v", err)
	}
	if got != loc {
		t.Errorf("expected request body %+v, got %+v", loc, got)
	}
}

func TestDoReturnsErrorOnNonSuccessStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL, "", nil)
	if _, err := c.GetFile(context.Background(), "missing"); err == nil {
		t.Fatal("expected error for 404 response")
	}
}
