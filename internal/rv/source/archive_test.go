package source

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"io"
	"os"
	"path/filepath"
	"testing"
)

func writeTestTarGz(t *testing.T, path string, files map[string]string) {
	t.Helper()
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	gz := gzip.NewWriter(f)
	defer gz.Close()
	tw := tar.NewWriter(gz)
	defer tw.Close()

	for name, content := range files {
		hdr := &tar.Header{Name: "pkg/" + name, Mode: 0o644, Size: int64(len(content))}
		if err := tw.WriteHeader(hdr); err != nil {
			t.Fatal(err)
		}
		if _, err := tw.Write([]byte(content)); err != nil {
			t.Fatal(err)
		}
	}
}

func TestExtractOneFromTarGz(t *testing.T) {
	dir := t.TempDir()
	archivePath := filepath.Join(dir, "pkg_1.0.0.tar.gz")
	writeTestTarGz(t, archivePath, map[string]string{
		"DESCRIPTION": "Package: pkg\nVersion: 1.0.0\n\n",
		"R/pkg.R":     "f <- function() 1\n",
	})

	rc, err := extractOne(archivePath, archiveTarGz, "DESCRIPTION")
	if err != nil {
		t.Fatal(err)
	}
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Contains(data, []byte("Package: pkg")) {
		t.Errorf("unexpected DESCRIPTION contents: %q", data)
	}
}

func TestExtractAllFromTarGz(t *testing.T) {
	dir := t.TempDir()
	archivePath := filepath.Join(dir, "pkg_1.0.0.tar.gz")
	writeTestTarGz(t, archivePath, map[string]string{
		"DESCRIPTION": "Package: pkg\nVersion: 1.0.0\n\n",
		"R/pkg.R":     "f <- function() 1\n",
	})

	dest := filepath.Join(dir, "extracted")
	if err := extractAll(archivePath, archiveTarGz, dest); err != nil {
		t.Fatal(err)
	}

	for _, rel := range []string{"DESCRIPTION", "R/pkg.R"} {
		if _, err := os.Stat(filepath.Join(dest, rel)); err != nil {
			t.Errorf("expected extracted file %s: %v", rel, err)
		}
	}
}

func TestExtractAllRejectsPathTraversal(t *testing.T) {
	dir := t.TempDir()
	archivePath := filepath.Join(dir, "evil_1.0.0.tar.gz")

	f, err := os.Create(archivePath)
	if err != nil {
		t.Fatal(err)
	}
	gz := gzip.NewWriter(f)
	tw := tar.NewWriter(gz)
	content := "Package: evil\n"
	if err := tw.WriteHeader(&tar.Header{Name: "pkg/../../etc/passwd", Mode: 0o644, Size: int64(len(content))}); err != nil {
		t.Fatal(err)
	}
	if _, err := tw.Write([]byte(content)); err != nil {
		t.Fatal(err)
	}
	tw.Close()
	gz.Close()
	f.Close()

	dest := filepath.Join(dir, "extracted")
	if err := extractAll(archivePath, archiveTarGz, dest); err == nil {
		t.Fatal("expected extractAll to reject a path-traversing archive entry")
	}
}

func TestGuessArchiveKind(t *testing.T) {
	if guessArchiveKind("https://example.com/pkg_1.0.0.tar.gz") != archiveTarGz {
		t.Error("expected tar.gz for .tar.gz URL")
	}
	if guessArchiveKind("https://example.com/pkg_1.0.0.zip") != archiveZip {
		t.Error("expected zip for .zip URL")
	}
}
