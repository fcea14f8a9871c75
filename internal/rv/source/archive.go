package source

import (
	"archive/tar"
	"archive/zip"
	"compress/gzip"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
)

// archiveKind is guessed from the download URL's extension; repository
// indexes never carry an explicit content-type, so archive kind is
// always inferred rather than declared.
type archiveKind int

const (
	archiveTarGz archiveKind = iota
	archiveZip
)

func guessArchiveKind(url string) archiveKind {
	if strings.HasSuffix(url, ".zip") {
		return archiveZip
	}
	return archiveTarGz
}

// extractOne reads a single named member out of an archive without
// unpacking the whole tree, the fast path Describe uses to read just the
// DESCRIPTION file.
func extractOne(path string, kind archiveKind, member string) (io.ReadCloser, error) {
	switch kind {
	case archiveZip:
		zr, err := zip.OpenReader(path)
		if err != nil {
			return nil, err
		}
		for _, f := range zr.File {
			if matchesMember(f.Name, member) {
				rc, err := f.Open()
				if err != nil {
					zr.Close()
					return nil, err
				}
				return &closeBoth{rc, zr}, nil
			}
		}
		zr.Close()
		return nil, errors.Errorf("member %s not found in %s", member, path)
	default:
		f, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		gz, err := gzip.NewReader(f)
		if err != nil {
			f.Close()
			return nil, err
		}
		tr := tar.NewReader(gz)
		for {
			hdr, err := tr.Next()
			if err == io.EOF {
				break
			}
			if err != nil {
				f.Close()
				return nil, err
			}
			if matchesMember(hdr.Name, member) {
				return &tarMember{tr: tr, f: f, gz: gz}, nil
			}
		}
		f.Close()
		return nil, errors.Errorf("member %s not found in %s", member, path)
	}
}

// matchesMember compares an archive entry's path against the desired
// member name, ignoring a single leading path component -- R package
// archives are always rooted at "<name>/..." inside the tarball.
func matchesMember(entryPath, member string) bool {
	parts := strings.SplitN(entryPath, "/", 2)
	if len(parts) != 2 {
		return false
	}
	return parts[1] == member
}

type closeBoth struct {
	io.ReadCloser
	zr *zip.ReadCloser
}

func (c *closeBoth) Close() error {
	err := c.ReadCloser.Close()
	c.zr.Close()
	return err
}

type tarMember struct {
	tr *tar.Reader
	f  *os.File
	gz *gzip.Reader
}

func (t *tarMember) Read(p []byte) (int, error) { return t.tr.Read(p) }
func (t *tarMember) Close() error {
	t.gz.Close()
	return t.f.Close()
}

// extractAll unpacks every regular file in the archive under destDir,
// stripping the archive's single root directory component.
func extractAll(path string, kind archiveKind, destDir string) error {
	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return err
	}
	switch kind {
	case archiveZip:
		zr, err := zip.OpenReader(path)
		if err != nil {
			return err
		}
		defer zr.Close()
		for _, f := range zr.File {
			if err := extractZipEntry(f, destDir); err != nil {
				return err
			}
		}
		return nil
	default:
		f, err := os.Open(path)
		if err != nil {
			return err
		}
		defer f.Close()
		gz, err := gzip.NewReader(f)
		if err != nil {
			return err
		}
		defer gz.Close()
		tr := tar.NewReader(gz)
		for {
			hdr, err := tr.Next()
			if err == io.EOF {
				return nil
			}
			if err != nil {
				return err
			}
			if err := extractTarEntry(hdr, tr, destDir); err != nil {
				return err
			}
		}
	}
}

func stripRoot(name string) (string, bool) {
	parts := strings.SplitN(name, "/", 2)
	if len(parts) != 2 || parts[1] == "" {
		return "", false
	}
	return parts[1], true
}

// safeJoin resolves rel under destDir and rejects any entry whose path
// (via ".." segments or an absolute path) would land outside destDir --
// archive entries are adversarial input even when the archive's own
// digest has been verified.
func safeJoin(destDir, rel string) (string, bool) {
	target := filepath.Join(destDir, rel)
	destWithSep := destDir + string(filepath.Separator)
	if target != destDir && !strings.HasPrefix(target, destWithSep) {
		return "", false
	}
	return target, true
}

func extractTarEntry(hdr *tar.Header, tr *tar.Reader, destDir string) error {
	rel, ok := stripRoot(hdr.Name)
	if !ok {
		return nil
	}
	target, ok := safeJoin(destDir, rel)
	if !ok {
		return errors.Errorf("archive entry %q escapes destination", hdr.Name)
	}
	switch hdr.Typeflag {
	case tar.TypeDir:
		return os.MkdirAll(target, 0o755)
	case tar.TypeReg:
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return err
		}
		out, err := os.OpenFile(target, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, os.FileMode(hdr.Mode)&0o777)
		if err != nil {
			return err
		}
		defer out.Close()
		_, err = io.Copy(out, tr)
		return err
	default:
		return nil
	}
}

func extractZipEntry(f *zip.File, destDir string) error {
	rel, ok := stripRoot(f.Name)
	if !ok {
		return nil
	}
	target, ok := safeJoin(destDir, rel)
	if !ok {
		return errors.Errorf("archive entry %q escapes destination", f.Name)
	}
	if f.FileInfo().IsDir() {
		return os.MkdirAll(target, 0o755)
	}
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return err
	}
	rc, err := f.Open()
	if err != nil {
		return err
	}
	defer rc.Close()
	out, err := os.OpenFile(target, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, f.Mode()&0o777)
	if err != nil {
		return err
	}
	defer out.Close()
	_, err = io.Copy(out, rc)
	return err
}
