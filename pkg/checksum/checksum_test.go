package checksum

import (
	"os"
	"path/filepath"
	"testing"
)

func writeTempFile(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "bundle.tar")
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("write temp file: %v", err)
	}
	return path
}

func TestFileIsDeterministic(t *testing.T) {
	path := writeTempFile(t, "archive contents")

	first, err := File(path)
	if err != nil {
		t.Fatalf("File: %v", err)
	}
	second, err := File(path)
	if err != nil {
		t.Fatalf("File: %v", err)
	}

	for _, algo := range []string{AlgoSHA512, AlgoAdler32} {
		if first[algo] == "" {
			t.Errorf("expected non-empty %s checksum", algo)
		}
		if first[algo] != second[algo] {
			t.Errorf("%s checksum not deterministic: %s != %s", algo, first[algo], second[algo])
		}
	}
}

func TestVerify(t *testing.T) {
	path := writeTempFile(t, "archive contents")

	sums, err := File(path)
	if err != nil {
		t.Fatalf("File: %v", err)
	}

	ok, err := Verify(path, sums)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if !ok {
		t.Error("expected checksums to verify against themselves")
	}

	sums[AlgoSHA512] = "deadbeef"
	ok, err = Verify(path, sums)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if ok {
		t.Error("expected verification to fail against a tampered checksum")
	}
}

func TestVerifyEmptyWant(t *testing.T) {
	path := writeTempFile(t, "archive contents")
	ok, err := Verify(path, nil)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if !ok {
		t.Error("expected empty want to always verify")
	}
}
